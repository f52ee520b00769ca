package usageledger

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrScript implements the all-or-nothing check-and-update server side so
// two concurrent callers can never both consume the last unit of headroom.
// KEYS[1] counter hash. ARGV: now_ms, window_ms, limit, amount.
// Returns {allowed, value, resets_at_ms}.
var incrScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local amount = tonumber(ARGV[4])

local value = tonumber(redis.call('HGET', KEYS[1], 'value'))
local resets = tonumber(redis.call('HGET', KEYS[1], 'resets_at'))

if (not resets) or (now >= resets) then
  value = 0
  resets = now + window
end

if value + amount > limit then
  redis.call('HSET', KEYS[1], 'value', tostring(value), 'resets_at', tostring(resets))
  redis.call('PEXPIREAT', KEYS[1], resets)
  return {0, tostring(value), tostring(resets)}
end

value = value + amount
redis.call('HSET', KEYS[1], 'value', tostring(value), 'resets_at', tostring(resets))
redis.call('PEXPIREAT', KEYS[1], resets)
return {1, tostring(value), tostring(resets)}
`)

// RedisLedger backs the Ledger contract with an atomic Lua check-and-set,
// for deployments where more than one process shares the counters.
type RedisLedger struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisLedger(rdb *redis.Client) *RedisLedger {
	return &RedisLedger{rdb: rdb, prefix: "usage"}
}

func (l *RedisLedger) run(ctx context.Context, key string, limit, amount float64, windowDur time.Duration, now time.Time) (bool, float64, time.Time, error) {
	res, err := incrScript.Run(ctx, l.rdb,
		[]string{NamespaceKey(l.prefix, key)},
		now.UnixMilli(),
		windowDur.Milliseconds(),
		strconv.FormatFloat(limit, 'f', -1, 64),
		strconv.FormatFloat(amount, 'f', -1, 64),
	).Slice()
	if err != nil {
		return false, 0, time.Time{}, err
	}

	allowed := res[0].(int64) == 1
	value, err := strconv.ParseFloat(res[1].(string), 64)
	if err != nil {
		return false, 0, time.Time{}, err
	}
	resetsMs, err := strconv.ParseFloat(res[2].(string), 64)
	if err != nil {
		return false, 0, time.Time{}, err
	}

	return allowed, value, time.UnixMilli(int64(resetsMs)), nil
}

func (l *RedisLedger) IncrementWithLimit(ctx context.Context, key string, limit int64, windowDur time.Duration, amount int64, now time.Time) (Decision, error) {
	now = orNow(now)

	allowed, value, resetsAt, err := l.run(ctx, key, float64(limit), float64(amount), windowDur, now)
	if err != nil {
		return Decision{}, err
	}
	return Decision{Allowed: allowed, Value: int64(value), ResetsAt: resetsAt}, nil
}

func (l *RedisLedger) AddSpendWithLimit(ctx context.Context, key string, budgetUSD, spendUSD float64, windowDur time.Duration, now time.Time) (SpendDecision, error) {
	now = orNow(now)

	allowed, value, resetsAt, err := l.run(ctx, key, budgetUSD, spendUSD, windowDur, now)
	if err != nil {
		return SpendDecision{}, err
	}
	return SpendDecision{Allowed: allowed, SpentUSD: value, ResetsAt: resetsAt}, nil
}
