package realty

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/zixofranic/property-sync/internal/metrics"
	"go.uber.org/zap"
)

// QuotaExceededError rejects a call before it touches the network.
type QuotaExceededError struct {
	Month string
	Used  int64
	Limit int64
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("realty: monthly quota exhausted (%d/%d in %s)", e.Used, e.Limit, e.Month)
}

// quotaReserve increments usage unless the month is at its limit.
// KEYS[1] month hash, ARGV[1] endpoint field, ARGV[2] limit.
// Returns the new total, or -1 when the limit is hit.
var quotaReserve = redis.NewScript(`
local total = tonumber(redis.call('HGET', KEYS[1], 'total') or '0')
local limit = tonumber(ARGV[2])
if limit > 0 and total >= limit then
  return -1
end
redis.call('HINCRBY', KEYS[1], 'total', 1)
redis.call('HINCRBY', KEYS[1], ARGV[1], 1)
return total + 1
`)

// QuotaManager tracks external API usage in a per-month Redis hash.
// Records are never expired: past months stay for audit. Reservation
// is a single Lua round trip, so concurrent callers cannot slip past
// the limit between a check and an increment.
type QuotaManager struct {
	rdb           *redis.Client
	limit         int64
	countFailures bool
	log           *zap.Logger

	warnMu      sync.Mutex
	warnedMonth string
	warned75    bool
	warned90    bool
}

// NewQuotaManager builds a manager. limit<=0 disables enforcement but
// keeps counting. countFailures=false refunds reservations whose call
// ultimately failed.
func NewQuotaManager(rdb *redis.Client, limit int64, countFailures bool, log *zap.Logger) *QuotaManager {
	if log == nil {
		log = zap.NewNop()
	}
	return &QuotaManager{
		rdb:           rdb,
		limit:         limit,
		countFailures: countFailures,
		log:           log.Named("quota"),
	}
}

func monthKey(now time.Time) string {
	return "quota:" + now.UTC().Format("2006-01")
}

// Reserve consumes one slot for the current month. The returned
// release must be called with the call's final error; under the
// refund policy a failed call hands its slot back.
func (q *QuotaManager) Reserve(ctx context.Context, endpoint string) (func(callErr error), error) {
	now := time.Now()
	key := monthKey(now)

	total, err := quotaReserve.Run(ctx, q.rdb, []string{key}, endpoint, q.limit).Int64()
	if err != nil {
		return nil, fmt.Errorf("quota reserve: %w", err)
	}
	if total < 0 {
		return nil, &QuotaExceededError{Month: key, Used: q.limit, Limit: q.limit}
	}

	metrics.ExternalQuotaUsed.Set(float64(total))
	q.maybeWarn(key, total)

	release := func(callErr error) {
		if callErr == nil || q.countFailures {
			return
		}
		// The call often failed because the request ctx died; the
		// refund has to land anyway.
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		pipe := q.rdb.Pipeline()
		pipe.HIncrBy(rctx, key, "total", -1)
		pipe.HIncrBy(rctx, key, endpoint, -1)
		if _, err := pipe.Exec(rctx); err != nil {
			q.log.Warn("quota refund failed", zap.Error(err))
		}
	}
	return release, nil
}

// Usage is the current month's snapshot for the status endpoint.
type Usage struct {
	Month        string `json:"month"`
	Limit        int64  `json:"limit"`
	Total        int64  `json:"total"`
	Search       int64  `json:"search"`
	Detail       int64  `json:"detail"`
	Autocomplete int64  `json:"autocomplete"`
}

// CurrentUsage reads this month's counters.
func (q *QuotaManager) CurrentUsage(ctx context.Context) (Usage, error) {
	key := monthKey(time.Now())
	fields, err := q.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return Usage{}, fmt.Errorf("quota read: %w", err)
	}
	u := Usage{Month: key, Limit: q.limit}
	parse := func(field string) int64 {
		var v int64
		_, _ = fmt.Sscan(fields[field], &v)
		return v
	}
	u.Total = parse("total")
	u.Search = parse("search")
	u.Detail = parse("detail")
	u.Autocomplete = parse("autocomplete")
	return u, nil
}

// maybeWarn logs each threshold once per month.
func (q *QuotaManager) maybeWarn(month string, total int64) {
	if q.limit <= 0 {
		return
	}
	pct := total * 100 / q.limit

	q.warnMu.Lock()
	defer q.warnMu.Unlock()
	if q.warnedMonth != month {
		q.warnedMonth = month
		q.warned75 = false
		q.warned90 = false
	}
	switch {
	case pct >= 90 && !q.warned90:
		q.warned90 = true
		q.warned75 = true
		q.log.Warn("external quota above 90%",
			zap.String("month", month), zap.Int64("used", total), zap.Int64("limit", q.limit))
	case pct >= 75 && !q.warned75:
		q.warned75 = true
		q.log.Warn("external quota above 75%",
			zap.String("month", month), zap.Int64("used", total), zap.Int64("limit", q.limit))
	}
}
