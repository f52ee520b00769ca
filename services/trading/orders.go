package trading

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"time"

	"waooaw-plant/pkg/errutil"
	"waooaw-plant/services/usageledger"

	"go.uber.org/zap"
)

// TradeAPI is the slice of Client that order placement needs.
type TradeAPI interface {
	ExecuteTrade(ctx context.Context, method, path string, payload any) (map[string]any, error)
}

// OrderService validates, risk-checks and places orders, and counts placed
// trades per customer and agent in the usage ledger.
type OrderService struct {
	api    TradeAPI
	ledger usageledger.Ledger
}

func NewOrderService(api TradeAPI, ledger usageledger.Ledger) *OrderService {
	return &OrderService{api: api, ledger: ledger}
}

// OrderResult is a successfully placed order.
type OrderResult struct {
	OrderID string
	Risk    RiskCheckResult
	Raw     map[string]any
}

// PlaceOrder runs the full placement pipeline: input validation, risk
// check, signed exchange call, trade counter. Validation and the endpoint
// allowlist are never bypassable; the risk check is, via ops override.
func (s *OrderService) PlaceOrder(ctx context.Context, req OrderRequest, limits RiskLimits) (*OrderResult, error) {
	if err := validateOrder(req); err != nil {
		return nil, err
	}

	risk := CheckOrder(req, limits)
	if !risk.Approved {
		if !req.OpsOverride {
			return nil, &RiskRejectionError{Result: risk}
		}
		zap.L().Warn("risk check bypassed by ops override",
			zap.String("symbol", req.Symbol),
			zap.String("customer_id", req.CustomerID),
			zap.String("rejection_reason", risk.Reason),
			zap.String("override_by", req.OverrideBy),
			zap.String("override_reason", req.OverrideReason),
		)
	}

	payload := map[string]any{
		"product_symbol": req.Symbol,
		"side":           req.Side,
		"order_type":     req.OrderType,
		"size":           req.Quantity,
	}
	if req.OrderType == OrderTypeLimit {
		payload["limit_price"] = fmt.Sprintf("%v", req.LimitPrice)
	}

	resp, err := s.api.ExecuteTrade(ctx, http.MethodPost, "/v2/orders", payload)
	if err != nil {
		return nil, err
	}

	s.countTrade(ctx, req)

	return &OrderResult{
		OrderID: extractOrderID(resp),
		Risk:    risk,
		Raw:     resp,
	}, nil
}

// ClosePosition closes the open position on a symbol at market.
func (s *OrderService) ClosePosition(ctx context.Context, symbol string) (map[string]any, error) {
	if symbol == "" {
		return nil, errutil.ValidationFailed("symbol is required", nil)
	}
	return s.api.ExecuteTrade(ctx, http.MethodPost, "/v2/positions/close", map[string]any{
		"product_symbol": symbol,
	})
}

func (s *OrderService) countTrade(ctx context.Context, req OrderRequest) {
	if s.ledger == nil || req.CustomerID == "" || req.AgentID == "" {
		return
	}
	key := usageledger.TradesDayKey(req.CustomerID, req.AgentID)
	if _, err := s.ledger.IncrementWithLimit(ctx, key, math.MaxInt64, 24*time.Hour, 1, time.Now()); err != nil {
		// the order is already placed; losing a counter tick is not worth
		// failing the call over
		zap.L().Warn("failed to count trade", zap.Error(err), zap.String("key", key))
	}
}

func validateOrder(req OrderRequest) error {
	if req.Symbol == "" {
		return errutil.ValidationFailed("symbol is required", nil)
	}
	if req.Side != SideBuy && req.Side != SideSell {
		return errutil.ValidationFailed(fmt.Sprintf("invalid side %q", req.Side), nil)
	}
	if req.Quantity <= 0 {
		return errutil.ValidationFailed("quantity must be positive", nil)
	}
	switch req.OrderType {
	case OrderTypeMarket:
		if req.EstimatedPrice <= 0 {
			return errutil.ValidationFailed("market orders require an estimated price", nil)
		}
	case OrderTypeLimit:
		if req.LimitPrice <= 0 {
			return errutil.ValidationFailed("limit orders require a limit price", nil)
		}
	default:
		return errutil.ValidationFailed(fmt.Sprintf("invalid order type %q", req.OrderType), nil)
	}
	return nil
}

// extractOrderID digs the order id out of the exchange response, which
// wraps payloads in a "result" envelope on some endpoints and not others.
func extractOrderID(resp map[string]any) string {
	if inner, ok := resp["result"].(map[string]any); ok {
		resp = inner
	}
	switch id := resp["id"].(type) {
	case string:
		return id
	case float64:
		return fmt.Sprintf("%.0f", id)
	default:
		return ""
	}
}
