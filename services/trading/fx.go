package trading

import (
	"context"

	"waooaw-plant/services/usageledger"

	"go.uber.org/fx"
)

var Module = fx.Module("trading",
	fx.Provide(
		NewClient,
		func(c *Client, ledger usageledger.Ledger) *OrderService {
			return NewOrderService(c, ledger)
		},
		func(c *Client) *Tracker {
			return NewTracker(clientStatusFunc(c), DefaultTrackTimeout)
		},
	),
)

// clientStatusFunc adapts the raw status endpoint to the tracker: it wants
// a state string, not the whole response envelope.
func clientStatusFunc(c *Client) StatusFunc {
	return func(ctx context.Context, orderID string) (string, error) {
		resp, err := c.OrderStatus(ctx, orderID)
		if err != nil {
			return "", err
		}
		return orderState(resp), nil
	}
}

func orderState(resp map[string]any) string {
	if inner, ok := resp["result"].(map[string]any); ok {
		resp = inner
	}
	if state, ok := resp["state"].(string); ok {
		return state
	}
	return OrderStateUnknown
}
