package trading

import (
	"fmt"
	"strings"
)

// Names of the individual risk checks, reported in CheckedLimits in
// evaluation order.
const (
	LimitAllowedCoins     = "allowed_coins"
	LimitMaxUnitsPerOrder = "max_units_per_order"
	LimitMaxNotionalINR   = "max_notional_inr"
)

// CheckOrder evaluates the configured limits in a fixed order — coin
// allowlist, units per order, notional — and stops at the first violation.
// CheckedLimits records exactly the checks that ran, so a rejection shows
// which limits the order did pass.
func CheckOrder(req OrderRequest, limits RiskLimits) RiskCheckResult {
	result := RiskCheckResult{CheckedLimits: []string{}}

	if len(limits.AllowedCoins) > 0 {
		result.CheckedLimits = append(result.CheckedLimits, LimitAllowedCoins)
		if !coinAllowed(req.Symbol, limits.AllowedCoins) {
			result.Reason = fmt.Sprintf("%s is not in the allowed coin list", req.Symbol)
			return result
		}
	}

	if limits.MaxUnitsPerOrder != nil {
		result.CheckedLimits = append(result.CheckedLimits, LimitMaxUnitsPerOrder)
		if req.Quantity > *limits.MaxUnitsPerOrder {
			result.Reason = fmt.Sprintf("quantity %.4f exceeds max units per order %.4f",
				req.Quantity, *limits.MaxUnitsPerOrder)
			return result
		}
	}

	if limits.MaxNotionalINR != nil {
		result.CheckedLimits = append(result.CheckedLimits, LimitMaxNotionalINR)
		notional := req.Quantity * req.effectivePrice()
		if notional > *limits.MaxNotionalINR {
			result.Reason = fmt.Sprintf("notional %.2f exceeds max notional %.2f",
				notional, *limits.MaxNotionalINR)
			return result
		}
	}

	result.Approved = true
	return result
}

func (r OrderRequest) effectivePrice() float64 {
	if r.OrderType == OrderTypeLimit {
		return r.LimitPrice
	}
	return r.EstimatedPrice
}

func coinAllowed(symbol string, allowed []string) bool {
	for _, coin := range allowed {
		if strings.EqualFold(coin, symbol) {
			return true
		}
	}
	return false
}
