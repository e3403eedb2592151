package realty

import (
	"sync"
	"testing"
	"time"
)

func TestBreakerOpensOnExactlyTheFifthFailure(t *testing.T) {
	b := newBreaker(5, 2, time.Minute, nil)

	for i := 0; i < 4; i++ {
		if !b.allow() {
			t.Fatalf("closed breaker should allow call %d", i)
		}
		b.recordFailure()
		if b.State() != BreakerClosed {
			t.Fatalf("breaker open after %d failures, want 5", i+1)
		}
	}
	if !b.allow() {
		t.Fatal("fifth call should still be allowed")
	}
	b.recordFailure()
	if b.State() != BreakerOpen {
		t.Fatal("breaker must open on the fifth consecutive failure")
	}
	if b.allow() {
		t.Fatal("open breaker must fail fast")
	}
}

func TestBreakerSuccessResetsFailureStreak(t *testing.T) {
	b := newBreaker(5, 2, time.Minute, nil)

	for i := 0; i < 4; i++ {
		b.allow()
		b.recordFailure()
	}
	b.allow()
	b.recordSuccess()
	for i := 0; i < 4; i++ {
		b.allow()
		b.recordFailure()
	}
	if b.State() != BreakerClosed {
		t.Fatal("streak should have reset; 4 failures after a success must not open")
	}
}

func TestBreakerHalfOpenSingleProbe(t *testing.T) {
	b := newBreaker(2, 2, 25*time.Millisecond, nil)

	b.allow()
	b.recordFailure()
	b.allow()
	b.recordFailure()
	if b.State() != BreakerOpen {
		t.Fatal("expected open")
	}

	time.Sleep(40 * time.Millisecond)

	if !b.allow() {
		t.Fatal("cooldown elapsed: one probe must be admitted")
	}
	if b.State() != BreakerHalfOpen {
		t.Fatalf("expected half-open, got %s", b.State())
	}
	if b.allow() {
		t.Fatal("second caller must not get a probe while one is in flight")
	}

	b.recordSuccess()
	if b.State() != BreakerHalfOpen {
		t.Fatal("one success must not close with successThreshold=2")
	}
	if !b.allow() {
		t.Fatal("after the probe reported, the next probe is admitted")
	}
	b.recordSuccess()
	if b.State() != BreakerClosed {
		t.Fatal("two consecutive successes must close")
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := newBreaker(2, 2, 20*time.Millisecond, nil)

	b.allow()
	b.recordFailure()
	b.allow()
	b.recordFailure()
	time.Sleep(30 * time.Millisecond)

	if !b.allow() {
		t.Fatal("probe expected")
	}
	b.recordFailure()
	if b.State() != BreakerOpen {
		t.Fatal("half-open failure must reopen")
	}
	if b.allow() {
		t.Fatal("fresh cooldown must refuse calls")
	}
}

func TestBreakerAbortedProbeAdmitsAnother(t *testing.T) {
	b := newBreaker(1, 2, 15*time.Millisecond, nil)

	b.allow()
	b.recordFailure()
	if b.State() != BreakerOpen {
		t.Fatal("expected open")
	}
	time.Sleep(25 * time.Millisecond)

	if !b.allow() {
		t.Fatal("probe expected after cooldown")
	}
	b.abortProbe()
	if b.State() != BreakerOpen {
		t.Fatalf("aborted probe must revert to open, got %s", b.State())
	}

	// The failure clock did not move, so the next caller probes at once
	// instead of waiting out another cooldown.
	if !b.allow() {
		t.Fatal("fresh probe must be admitted after an aborted one")
	}
	b.recordSuccess()
	if !b.allow() {
		t.Fatal("second probe expected")
	}
	b.recordSuccess()
	if b.State() != BreakerClosed {
		t.Fatal("two successes after the aborted probe must close")
	}
}

func TestBreakerAbortWhileClosedChangesNothing(t *testing.T) {
	b := newBreaker(2, 2, time.Minute, nil)

	// A cancelled ordinary call reports an abort too; outside a probe
	// it must be a no-op.
	b.allow()
	b.abortProbe()
	if b.State() != BreakerClosed {
		t.Fatalf("state = %s, want closed", b.State())
	}
	b.allow()
	b.recordFailure()
	if b.State() != BreakerClosed {
		t.Fatal("failure streak must be intact after an abort")
	}
	b.allow()
	b.recordFailure()
	if b.State() != BreakerOpen {
		t.Fatal("threshold unchanged: second failure must open")
	}
}

func TestBreakerConcurrentProbeRace(t *testing.T) {
	b := newBreaker(1, 1, 10*time.Millisecond, nil)
	b.allow()
	b.recordFailure()
	time.Sleep(20 * time.Millisecond)

	var admitted int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if b.allow() {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if admitted != 1 {
		t.Fatalf("exactly one probe must win, got %d", admitted)
	}
}

func TestBreakerStateChangeHook(t *testing.T) {
	var moves []string
	b := newBreaker(1, 1, 10*time.Millisecond, func(from, to BreakerState) {
		moves = append(moves, from.String()+">"+to.String())
	})

	b.allow()
	b.recordFailure()
	time.Sleep(20 * time.Millisecond)
	b.allow()
	b.recordSuccess()

	want := []string{"closed>open", "open>half_open", "half_open>closed"}
	if len(moves) != len(want) {
		t.Fatalf("moves = %v", moves)
	}
	for i := range want {
		if moves[i] != want[i] {
			t.Errorf("move %d = %s, want %s", i, moves[i], want[i])
		}
	}
}
