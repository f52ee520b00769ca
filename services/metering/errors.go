package metering

import (
	"fmt"

	"waooaw-plant/pkg/errutil"
)

// Reason is the machine-readable denial reason callers branch on.
type Reason string

const (
	ReasonCustomerIDRequired          Reason = "customer_id_required"
	ReasonTrialProductionWriteBlocked Reason = "trial_production_write_blocked"
	ReasonTrialHighCostCall           Reason = "trial_high_cost_call"
	ReasonTrialDailyCap               Reason = "trial_daily_cap"
	ReasonTrialDailyTokenCap          Reason = "trial_daily_token_cap"
	ReasonMonthlyBudgetExceeded       Reason = "monthly_budget_exceeded"
)

// UsageLimitError is an expected, user-facing denial. It is never a bug: the
// caller translates it into a protocol response (HTTP 429 and the like) using
// Reason plus the structured Details.
type UsageLimitError struct {
	Reason  Reason
	Details map[string]any
}

func (e *UsageLimitError) Error() string {
	return fmt.Sprintf("usage limit: %s", e.Reason)
}

func (e *UsageLimitError) Status() errutil.CoreStatus {
	return errutil.StatusTooManyRequests
}

func deny(reason Reason, details map[string]any) error {
	return &UsageLimitError{Reason: reason, Details: details}
}
