package realty

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func quotaFixture(t *testing.T, limit int64, countFailures bool) (*QuotaManager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewQuotaManager(rdb, limit, countFailures, nil), mr
}

func TestQuotaRejectsAtLimit(t *testing.T) {
	q, _ := quotaFixture(t, 3, true)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		release, err := q.Reserve(ctx, "search")
		if err != nil {
			t.Fatalf("reserve %d: %v", i, err)
		}
		release(nil)
	}

	_, err := q.Reserve(ctx, "search")
	var qe *QuotaExceededError
	if !errors.As(err, &qe) {
		t.Fatalf("expected QuotaExceededError, got %v", err)
	}
	if qe.Limit != 3 {
		t.Errorf("limit = %d", qe.Limit)
	}
}

func TestQuotaCountsFailedCallsByDefault(t *testing.T) {
	q, _ := quotaFixture(t, 2, true)
	ctx := context.Background()

	release, err := q.Reserve(ctx, "detail")
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	release(errors.New("upstream 503"))

	u, err := q.CurrentUsage(ctx)
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if u.Total != 1 || u.Detail != 1 {
		t.Errorf("failed call not counted: %+v", u)
	}
}

func TestQuotaRefundsFailuresWhenPolicyDisabled(t *testing.T) {
	q, _ := quotaFixture(t, 2, false)
	ctx := context.Background()

	release, err := q.Reserve(ctx, "detail")
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	release(errors.New("upstream 503"))

	u, err := q.CurrentUsage(ctx)
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if u.Total != 0 || u.Detail != 0 {
		t.Errorf("failed call should be refunded: %+v", u)
	}

	// Success still counts.
	release, err = q.Reserve(ctx, "detail")
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	release(nil)
	u, _ = q.CurrentUsage(ctx)
	if u.Total != 1 {
		t.Errorf("successful call must stay counted: %+v", u)
	}
}

func TestQuotaTracksEndpointBreakdown(t *testing.T) {
	q, _ := quotaFixture(t, 10, true)
	ctx := context.Background()

	for _, ep := range []string{"search", "search", "detail", "autocomplete"} {
		release, err := q.Reserve(ctx, ep)
		if err != nil {
			t.Fatalf("reserve %s: %v", ep, err)
		}
		release(nil)
	}

	u, err := q.CurrentUsage(ctx)
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if u.Total != 4 || u.Search != 2 || u.Detail != 1 || u.Autocomplete != 1 {
		t.Errorf("breakdown = %+v", u)
	}
}

func TestQuotaMonthsAreIsolated(t *testing.T) {
	q, mr := quotaFixture(t, 2, true)
	ctx := context.Background()

	// Fill a past month by hand; the current month must be unaffected.
	past := "quota:" + time.Now().UTC().AddDate(0, -1, 0).Format("2006-01")
	mr.HSet(past, "total", "2")

	release, err := q.Reserve(ctx, "search")
	if err != nil {
		t.Fatalf("fresh month should have budget: %v", err)
	}
	release(nil)

	// Past month keeps its audit trail.
	if got := mr.HGet(past, "total"); got != "2" {
		t.Errorf("past month mutated: %s", got)
	}
}

func TestQuotaUnlimitedKeepsCounting(t *testing.T) {
	q, _ := quotaFixture(t, 0, true)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		release, err := q.Reserve(ctx, "search")
		if err != nil {
			t.Fatalf("reserve %d: %v", i, err)
		}
		release(nil)
	}
	u, _ := q.CurrentUsage(ctx)
	if u.Total != 5 {
		t.Errorf("usage should count without a limit: %+v", u)
	}
}

func TestQuotaRefundOutlivesRequestContext(t *testing.T) {
	q, _ := quotaFixture(t, 2, false)

	ctx, cancel := context.WithCancel(context.Background())
	release, err := q.Reserve(ctx, "search")
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	cancel()
	release(context.Canceled)

	u, err := q.CurrentUsage(context.Background())
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if u.Total != 0 || u.Search != 0 {
		t.Errorf("cancelled call must still hand its slot back: %+v", u)
	}
}

func TestQuotaWarnsOnceAtEachThreshold(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	q := NewQuotaManager(rdb, 20, true, zap.New(core))
	ctx := context.Background()

	reserve := func(n int) {
		t.Helper()
		for i := 0; i < n; i++ {
			release, err := q.Reserve(ctx, "search")
			if err != nil {
				t.Fatalf("reserve: %v", err)
			}
			release(nil)
		}
	}

	reserve(14) // 70%
	if logs.Len() != 0 {
		t.Fatalf("no warning expected below 75%%, got %d entries", logs.Len())
	}
	reserve(1) // 75%
	if n := logs.FilterMessage("external quota above 75%").Len(); n != 1 {
		t.Fatalf("75%% warning fired %d times, want 1", n)
	}
	reserve(2) // 85%
	if logs.Len() != 1 {
		t.Fatalf("crossing 75%% once must warn once, got %d entries", logs.Len())
	}
	reserve(1) // 90%
	if n := logs.FilterMessage("external quota above 90%").Len(); n != 1 {
		t.Fatalf("90%% warning fired %d times, want 1", n)
	}
	reserve(1) // 95%
	if logs.Len() != 2 {
		t.Fatalf("each threshold warns once, got %d entries", logs.Len())
	}

	// A new month re-arms both thresholds.
	q.warnMu.Lock()
	q.warnedMonth = "quota:2000-01"
	q.warnMu.Unlock()
	reserve(1) // still above 90% of this month's budget
	if n := logs.FilterMessage("external quota above 90%").Len(); n != 2 {
		t.Fatalf("month change must re-arm the 90%% warning, fired %d times", n)
	}
}
