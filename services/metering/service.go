package metering

import (
	"context"
	"time"

	"waooaw-plant/pkg/config"
	"waooaw-plant/services/usageledger"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Check is one cost-incurring (or production-writing) call about to execute.
type Check struct {
	CustomerID       string
	PlanID           string
	TrialMode        bool
	IntentAction     string // non-empty means a production write, e.g. "publish"
	EstimatedCostUSD float64
	TokensIn         int64
	TokensOut        int64
	Model            string
	Now              time.Time // zero means time.Now()
}

// Enforcer gates billable work behind trial caps and plan budgets. It is
// allow-or-deny: a request is never partially admitted.
type Enforcer struct {
	ledger  usageledger.Ledger
	pricing Pricing
	budgets BudgetResolver

	dailyTaskCap      int64
	dailyTokenCap     int64
	maxCostPerCallUSD float64
	budgetWindow      time.Duration
}

type Params struct {
	fx.In
	Cfg     *config.Config
	Ledger  usageledger.Ledger
	Budgets BudgetResolver
}

func NewEnforcer(p Params) *Enforcer {
	return &Enforcer{
		ledger:            p.Ledger,
		pricing:           NewPricing(p.Cfg),
		budgets:           p.Budgets,
		dailyTaskCap:      p.Cfg.Trial.DailyTaskCap,
		dailyTokenCap:     p.Cfg.Trial.DailyTokenCap,
		maxCostPerCallUSD: p.Cfg.Trial.MaxCostPerCallUSD,
		budgetWindow:      time.Duration(p.Cfg.Budget.WindowDays) * 24 * time.Hour,
	}
}

// EnforceTrialAndBudget returns nil when the call may proceed, or a typed
// *UsageLimitError naming the violated limit. Denials never mutate counters.
func (e *Enforcer) EnforceTrialAndBudget(ctx context.Context, c Check) error {
	now := c.Now
	if now.IsZero() {
		now = time.Now()
	}

	cost := e.pricing.EffectiveEstimatedCostUSD(c.EstimatedCostUSD, c.TokensIn, c.TokensOut, c.Model)

	if c.TrialMode {
		if err := e.enforceTrial(ctx, c, cost, now); err != nil {
			return err
		}
	}

	if c.PlanID != "" && c.CustomerID != "" && cost > 0 {
		if err := e.enforceMonthlyBudget(ctx, c, cost, now); err != nil {
			return err
		}
	}

	return nil
}

func (e *Enforcer) enforceTrial(ctx context.Context, c Check, cost float64, now time.Time) error {
	if c.CustomerID == "" {
		return deny(ReasonCustomerIDRequired, map[string]any{
			"message": "trial mode requires a customer_id",
		})
	}

	// trials may read and simulate but never write externally
	if c.IntentAction != "" {
		return deny(ReasonTrialProductionWriteBlocked, map[string]any{
			"intent_action": c.IntentAction,
		})
	}

	// per-call ceiling, independent of daily totals
	if cost > e.maxCostPerCallUSD {
		return deny(ReasonTrialHighCostCall, map[string]any{
			"estimated_cost_usd": cost,
			"max_cost_usd":       e.maxCostPerCallUSD,
		})
	}

	day := 24 * time.Hour
	tasks, err := e.ledger.IncrementWithLimit(ctx, usageledger.TrialTasksDayKey(c.CustomerID), e.dailyTaskCap, day, 1, now)
	if err != nil {
		return err
	}
	if !tasks.Allowed {
		return deny(ReasonTrialDailyCap, map[string]any{
			"limit":     e.dailyTaskCap,
			"used":      tasks.Value,
			"resets_at": tasks.ResetsAt,
		})
	}

	tokens := c.TokensIn + c.TokensOut
	if e.dailyTokenCap > 0 && tokens > 0 {
		tok, err := e.ledger.IncrementWithLimit(ctx, usageledger.TrialTokensDayKey(c.CustomerID), e.dailyTokenCap, day, tokens, now)
		if err != nil {
			return err
		}
		if !tok.Allowed {
			return deny(ReasonTrialDailyTokenCap, map[string]any{
				"limit":     e.dailyTokenCap,
				"used":      tok.Value,
				"attempted": tokens,
				"resets_at": tok.ResetsAt,
			})
		}
	}

	return nil
}

func (e *Enforcer) enforceMonthlyBudget(ctx context.Context, c Check, cost float64, now time.Time) error {
	budget, err := e.budgets.MonthlyBudgetUSD(ctx, c.PlanID)
	if err != nil {
		return err
	}
	if budget == nil {
		return nil
	}

	spend, err := e.ledger.AddSpendWithLimit(ctx, usageledger.MonthlySpendKey(c.CustomerID, c.PlanID), *budget, cost, e.budgetWindow, now)
	if err != nil {
		return err
	}
	if !spend.Allowed {
		zap.L().Warn("monthly budget exceeded",
			zap.String("customer_id", c.CustomerID),
			zap.String("plan_id", c.PlanID),
			zap.Float64("attempted_usd", cost),
		)
		return deny(ReasonMonthlyBudgetExceeded, map[string]any{
			"budget_usd":        *budget,
			"current_spend_usd": spend.SpentUSD,
			"attempted_usd":     cost,
			"resets_at":         spend.ResetsAt,
		})
	}

	return nil
}
