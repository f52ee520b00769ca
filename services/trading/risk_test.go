package trading

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func f64(v float64) *float64 { return &v }

func TestCheckOrder_ShortCircuits(t *testing.T) {
	limits := RiskLimits{
		AllowedCoins:     []string{"BTCUSD", "ETHUSD"},
		MaxUnitsPerOrder: f64(10),
		MaxNotionalINR:   f64(100000),
	}

	// first check fails: later limits were never evaluated
	res := CheckOrder(OrderRequest{Symbol: "DOGEUSD", Quantity: 1, EstimatedPrice: 100}, limits)
	require.False(t, res.Approved)
	require.Equal(t, []string{LimitAllowedCoins}, res.CheckedLimits)
	require.Contains(t, res.Reason, "DOGEUSD")

	// second check fails
	res = CheckOrder(OrderRequest{Symbol: "BTCUSD", Quantity: 11, EstimatedPrice: 100}, limits)
	require.False(t, res.Approved)
	require.Equal(t, []string{LimitAllowedCoins, LimitMaxUnitsPerOrder}, res.CheckedLimits)

	// third check fails
	res = CheckOrder(OrderRequest{Symbol: "BTCUSD", Quantity: 5, EstimatedPrice: 50000}, limits)
	require.False(t, res.Approved)
	require.Equal(t, []string{LimitAllowedCoins, LimitMaxUnitsPerOrder, LimitMaxNotionalINR}, res.CheckedLimits)

	// all pass
	res = CheckOrder(OrderRequest{Symbol: "ethusd", Quantity: 5, EstimatedPrice: 100}, limits)
	require.True(t, res.Approved)
	require.Empty(t, res.Reason)
	require.Equal(t, []string{LimitAllowedCoins, LimitMaxUnitsPerOrder, LimitMaxNotionalINR}, res.CheckedLimits)
}

func TestCheckOrder_UnconfiguredLimitsNotEvaluated(t *testing.T) {
	res := CheckOrder(OrderRequest{Symbol: "BTCUSD", Quantity: 1000000, EstimatedPrice: 1000000}, RiskLimits{})
	require.True(t, res.Approved)
	require.Empty(t, res.CheckedLimits)

	// only the notional limit configured
	res = CheckOrder(OrderRequest{Symbol: "BTCUSD", Quantity: 2, EstimatedPrice: 100}, RiskLimits{MaxNotionalINR: f64(1000)})
	require.True(t, res.Approved)
	require.Equal(t, []string{LimitMaxNotionalINR}, res.CheckedLimits)
}

func TestCheckOrder_NotionalUsesLimitPriceForLimitOrders(t *testing.T) {
	limits := RiskLimits{MaxNotionalINR: f64(1000)}

	// limit price drives the notional even when an estimate is present
	res := CheckOrder(OrderRequest{
		Symbol: "BTCUSD", OrderType: OrderTypeLimit,
		Quantity: 2, LimitPrice: 600, EstimatedPrice: 100,
	}, limits)
	require.False(t, res.Approved)

	res = CheckOrder(OrderRequest{
		Symbol: "BTCUSD", OrderType: OrderTypeMarket,
		Quantity: 2, EstimatedPrice: 100,
	}, limits)
	require.True(t, res.Approved)
}
