package trading

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"waooaw-plant/services/usageledger"
)

type fakeTradeAPI struct {
	calls    []string
	payloads []any
	resp     map[string]any
	err      error
}

func (f *fakeTradeAPI) ExecuteTrade(_ context.Context, method, path string, payload any) (map[string]any, error) {
	f.calls = append(f.calls, method+" "+path)
	f.payloads = append(f.payloads, payload)
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func validMarketOrder() OrderRequest {
	return OrderRequest{
		Symbol:         "BTCUSD",
		Side:           SideBuy,
		OrderType:      OrderTypeMarket,
		Quantity:       2,
		EstimatedPrice: 100,
		CustomerID:     "cust-1",
		AgentID:        "agent-1",
	}
}

func TestPlaceOrder_Validation(t *testing.T) {
	api := &fakeTradeAPI{resp: map[string]any{}}
	svc := NewOrderService(api, usageledger.NewMemoryLedger())
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*OrderRequest)
	}{
		{"missing symbol", func(r *OrderRequest) { r.Symbol = "" }},
		{"bad side", func(r *OrderRequest) { r.Side = "hold" }},
		{"zero quantity", func(r *OrderRequest) { r.Quantity = 0 }},
		{"negative quantity", func(r *OrderRequest) { r.Quantity = -1 }},
		{"bad order type", func(r *OrderRequest) { r.OrderType = "stop" }},
		{"market without estimate", func(r *OrderRequest) { r.EstimatedPrice = 0 }},
		{"limit without limit price", func(r *OrderRequest) {
			r.OrderType = OrderTypeLimit
			r.LimitPrice = 0
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := validMarketOrder()
			tc.mutate(&req)
			_, err := svc.PlaceOrder(ctx, req, RiskLimits{})
			require.Error(t, err)
		})
	}

	// validation failures never reach the exchange
	require.Empty(t, api.calls)
}

func TestPlaceOrder_RiskRejection(t *testing.T) {
	api := &fakeTradeAPI{resp: map[string]any{}}
	svc := NewOrderService(api, usageledger.NewMemoryLedger())

	req := validMarketOrder()
	req.Symbol = "DOGEUSD"

	_, err := svc.PlaceOrder(context.Background(), req, RiskLimits{AllowedCoins: []string{"BTCUSD"}})

	var rejection *RiskRejectionError
	require.ErrorAs(t, err, &rejection)
	require.False(t, rejection.Result.Approved)
	require.Equal(t, []string{LimitAllowedCoins}, rejection.Result.CheckedLimits)
	require.Empty(t, api.calls)
}

func TestPlaceOrder_OpsOverrideBypassesRisk(t *testing.T) {
	api := &fakeTradeAPI{resp: map[string]any{"result": map[string]any{"id": float64(777)}}}
	svc := NewOrderService(api, usageledger.NewMemoryLedger())

	req := validMarketOrder()
	req.Symbol = "DOGEUSD"
	req.OpsOverride = true
	req.OverrideBy = "ops@waooaw.com"
	req.OverrideReason = "manual unwind approved by desk"

	result, err := svc.PlaceOrder(context.Background(), req, RiskLimits{AllowedCoins: []string{"BTCUSD"}})
	require.NoError(t, err)
	require.Equal(t, "777", result.OrderID)
	require.False(t, result.Risk.Approved)
	require.Equal(t, []string{"POST /v2/orders"}, api.calls)
}

func TestPlaceOrder_CountsTrades(t *testing.T) {
	api := &fakeTradeAPI{resp: map[string]any{"result": map[string]any{"id": "ord-1"}}}
	ledger := usageledger.NewMemoryLedger()
	svc := NewOrderService(api, ledger)
	ctx := context.Background()

	_, err := svc.PlaceOrder(ctx, validMarketOrder(), RiskLimits{})
	require.NoError(t, err)
	_, err = svc.PlaceOrder(ctx, validMarketOrder(), RiskLimits{})
	require.NoError(t, err)

	// a zero-amount increment reads the counter without changing it
	d, err := ledger.IncrementWithLimit(ctx, usageledger.TradesDayKey("cust-1", "agent-1"),
		math.MaxInt64, 24*time.Hour, 0, time.Now())
	require.NoError(t, err)
	require.Equal(t, int64(2), d.Value)
}

func TestPlaceOrder_ExchangeErrorPropagates(t *testing.T) {
	api := &fakeTradeAPI{err: &ExchangeError{Code: CodeRateLimit, HTTPStatus: 429, Message: "slow down"}}
	ledger := usageledger.NewMemoryLedger()
	svc := NewOrderService(api, ledger)
	ctx := context.Background()

	_, err := svc.PlaceOrder(ctx, validMarketOrder(), RiskLimits{})
	var exchErr *ExchangeError
	require.ErrorAs(t, err, &exchErr)
	require.Equal(t, CodeRateLimit, exchErr.Code)

	// failed orders are not counted
	d, err := ledger.IncrementWithLimit(ctx, usageledger.TradesDayKey("cust-1", "agent-1"),
		math.MaxInt64, 24*time.Hour, 0, time.Now())
	require.NoError(t, err)
	require.Equal(t, int64(0), d.Value)
}

func TestClosePosition(t *testing.T) {
	api := &fakeTradeAPI{resp: map[string]any{"success": true}}
	svc := NewOrderService(api, nil)

	_, err := svc.ClosePosition(context.Background(), "")
	require.Error(t, err)
	require.Empty(t, api.calls)

	resp, err := svc.ClosePosition(context.Background(), "BTCUSD")
	require.NoError(t, err)
	require.Equal(t, true, resp["success"])
	require.Equal(t, []string{"POST /v2/positions/close"}, api.calls)
}

func TestExtractOrderID(t *testing.T) {
	require.Equal(t, "42", extractOrderID(map[string]any{"result": map[string]any{"id": float64(42)}}))
	require.Equal(t, "ord-1", extractOrderID(map[string]any{"id": "ord-1"}))
	require.Equal(t, "", extractOrderID(map[string]any{"success": true}))
}
