package trading

import "fmt"

const (
	SideBuy  = "buy"
	SideSell = "sell"
)

const (
	OrderTypeMarket = "market_order"
	OrderTypeLimit  = "limit_order"
)

// Terminal order states as the exchange reports them, plus the local
// "UNKNOWN" used when tracking gives up without an answer.
const (
	OrderStateFilled    = "filled"
	OrderStateCancelled = "cancelled"
	OrderStateRejected  = "rejected"
	OrderStateUnknown   = "UNKNOWN"
)

// OrderRequest is one trade a customer's agent wants to place.
type OrderRequest struct {
	Symbol    string
	Side      string
	OrderType string
	Quantity  float64

	// LimitPrice is required for limit orders; EstimatedPrice is required
	// for market orders so notional risk can be evaluated before placement.
	LimitPrice     float64
	EstimatedPrice float64

	CustomerID string
	AgentID    string

	// OpsOverride bypasses the risk engine. The bypass is logged with the
	// operator and reason; it never skips input validation or the endpoint
	// allowlist.
	OpsOverride    bool
	OverrideBy     string
	OverrideReason string
}

// RiskLimits is the per-agent risk configuration. Nil pointer fields mean
// the limit is not configured and is not evaluated.
type RiskLimits struct {
	AllowedCoins     []string
	MaxUnitsPerOrder *float64
	MaxNotionalINR   *float64
}

// RiskCheckResult reports the outcome and, crucially, which limits were
// actually evaluated — a passing check that never ran is not a passing
// check.
type RiskCheckResult struct {
	Approved      bool
	Reason        string
	CheckedLimits []string
}

// RiskRejectionError carries the full check result to the caller.
type RiskRejectionError struct {
	Result RiskCheckResult
}

func (e *RiskRejectionError) Error() string {
	return fmt.Sprintf("risk check rejected order: %s", e.Result.Reason)
}

// Exchange error codes, mapped from HTTP status.
const (
	CodeAuthenticationError = "AUTHENTICATION_ERROR"
	CodePermissionDenied    = "PERMISSION_DENIED"
	CodeInvalidRequest      = "INVALID_REQUEST"
	CodeRateLimit           = "RATE_LIMIT"
	CodeExchangeError       = "EXCHANGE_ERROR"
)

// ExchangeError is any failure talking to the exchange. Message is always
// redacted before it reaches here: credentials never appear in errors or
// logs.
type ExchangeError struct {
	Code       string
	HTTPStatus int
	Message    string
}

func (e *ExchangeError) Error() string {
	if e.HTTPStatus > 0 {
		return fmt.Sprintf("%s (http %d): %s", e.Code, e.HTTPStatus, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func codeForStatus(status int) string {
	switch status {
	case 401:
		return CodeAuthenticationError
	case 403:
		return CodePermissionDenied
	case 400:
		return CodeInvalidRequest
	case 429:
		return CodeRateLimit
	default:
		return CodeExchangeError
	}
}
