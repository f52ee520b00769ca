package trading

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"waooaw-plant/pkg/config"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// tradeEndpoints is the full set of requests ExecuteTrade will sign and
// send. Anything else fails before a single byte leaves the process.
var tradeEndpoints = map[string]bool{
	"POST /v2/orders":          true,
	"POST /v2/positions/close": true,
}

const retryBaseDelay = 50 * time.Millisecond

// Client talks to the Delta Exchange REST API. Write traffic goes through
// ExecuteTrade and is allowlisted; reads have their own methods.
type Client struct {
	http       *resty.Client
	apiKey     string
	apiSecret  string
	maxRetries int

	// injectable for tests
	sleep func(time.Duration)
	now   func() time.Time
}

func NewClient(cfg *config.Config) *Client {
	httpc := resty.New().
		SetBaseURL(cfg.Delta.BaseURL).
		SetTimeout(cfg.Delta.Timeout).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:       httpc,
		apiKey:     cfg.Delta.APIKey,
		apiSecret:  cfg.Delta.APISecret,
		maxRetries: cfg.Delta.MaxRetries,
		sleep:      time.Sleep,
		now:        time.Now,
	}
}

// ExecuteTrade sends one signed write request to the exchange and returns
// the decoded response object.
//
// Transport failures retry up to maxRetries with exponential backoff; an
// HTTP error status never retries — the exchange saw the request, and
// replaying a trade it may have acted on is worse than failing.
func (c *Client) ExecuteTrade(ctx context.Context, method, path string, payload any) (map[string]any, error) {
	if c.apiKey == "" || c.apiSecret == "" {
		return nil, &ExchangeError{Code: CodeAuthenticationError, Message: "exchange credentials not configured"}
	}

	endpoint := fmt.Sprintf("%s %s", strings.ToUpper(method), path)
	if !tradeEndpoints[endpoint] {
		return nil, &ExchangeError{
			Code:    CodeInvalidRequest,
			Message: fmt.Sprintf("endpoint not allowed for trading: %s", endpoint),
		}
	}

	body := ""
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, &ExchangeError{Code: CodeInvalidRequest, Message: fmt.Sprintf("unencodable payload: %v", err)}
		}
		body = string(raw)
	}

	return c.do(ctx, method, path, body)
}

// OrderStatus reads one order. Reads are signed like writes but sit outside
// the trade allowlist.
func (c *Client) OrderStatus(ctx context.Context, orderID string) (map[string]any, error) {
	if c.apiKey == "" || c.apiSecret == "" {
		return nil, &ExchangeError{Code: CodeAuthenticationError, Message: "exchange credentials not configured"}
	}
	return c.do(ctx, http.MethodGet, "/v2/orders/"+orderID, "")
}

func (c *Client) do(ctx context.Context, method, path, body string) (map[string]any, error) {
	var lastErr error

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, &ExchangeError{Code: CodeExchangeError, Message: c.redact(err.Error())}
		}

		ts := strconv.FormatInt(c.now().Unix(), 10)
		req := c.http.R().
			SetContext(ctx).
			SetHeader("api-key", c.apiKey).
			SetHeader("signature", Sign(c.apiSecret, ts, method, path, body)).
			SetHeader("timestamp", ts)
		if body != "" {
			req.SetBody(body)
		}

		resp, err := req.Execute(strings.ToUpper(method), path)
		if err != nil {
			// transport-level failure: the request may never have arrived,
			// so retrying is safe
			lastErr = err
			if attempt < c.maxRetries {
				delay := retryBaseDelay * (1 << attempt)
				zap.L().Warn("exchange request failed, retrying",
					zap.String("endpoint", path),
					zap.Int("attempt", attempt+1),
					zap.Duration("delay", delay),
				)
				c.sleep(delay)
				continue
			}
			return nil, &ExchangeError{Code: CodeExchangeError, Message: c.redact(lastErr.Error())}
		}

		if resp.StatusCode() >= 400 {
			return nil, &ExchangeError{
				Code:       codeForStatus(resp.StatusCode()),
				HTTPStatus: resp.StatusCode(),
				Message:    c.redact(string(resp.Body())),
			}
		}

		var result map[string]any
		if err := json.Unmarshal(resp.Body(), &result); err != nil {
			return nil, &ExchangeError{
				Code:       CodeExchangeError,
				HTTPStatus: resp.StatusCode(),
				Message:    "exchange returned a non-JSON-object response",
			}
		}
		return result, nil
	}
}

// redact strips credentials out of anything headed for an error or a log
// line. Exchange error bodies have been seen echoing request headers back.
func (c *Client) redact(s string) string {
	if c.apiSecret != "" {
		s = strings.ReplaceAll(s, c.apiSecret, "***")
	}
	if c.apiKey != "" {
		s = strings.ReplaceAll(s, c.apiKey, "***")
	}
	return s
}
