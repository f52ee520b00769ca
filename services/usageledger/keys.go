package usageledger

import "fmt"

// Counter key conventions shared across metering and trading.
const (
	TrialTasksDayPrefix  = "trial_tasks_day"
	TrialTokensDayPrefix = "trial_tokens_day"
	MonthlySpendPrefix   = "monthly_spend"
	TradesDayPrefix      = "trades_day"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// TrialTasksDayKey returns "trial_tasks_day:{customerID}"
func TrialTasksDayKey(customerID string) string {
	return NamespaceKey(TrialTasksDayPrefix, customerID)
}

// TrialTokensDayKey returns "trial_tokens_day:{customerID}"
func TrialTokensDayKey(customerID string) string {
	return NamespaceKey(TrialTokensDayPrefix, customerID)
}

// MonthlySpendKey returns "monthly_spend:{customerID}:{planID}"
func MonthlySpendKey(customerID, planID string) string {
	return fmt.Sprintf("%s:%s:%s", MonthlySpendPrefix, customerID, planID)
}

// TradesDayKey returns "trades_day:{customerID}:{agentID}"
func TradesDayKey(customerID, agentID string) string {
	return fmt.Sprintf("%s:%s:%s", TradesDayPrefix, customerID, agentID)
}
