package realty

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the breaker is refusing calls and no
// stale fallback is available.
var ErrCircuitOpen = errors.New("realty: circuit open")

// BreakerState is the classic three-state machine.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	}
	return "unknown"
}

// breaker trips after failureThreshold consecutive failures, refuses
// calls for cooldown, then admits exactly one probe at a time until
// successThreshold consecutive successes close it again. All state
// moves under one mutex; allow and record are read-modify-write.
type breaker struct {
	mu               sync.Mutex
	state            BreakerState
	failures         int
	successes        int
	probeInFlight    bool
	lastFailure      time.Time
	failureThreshold int
	successThreshold int
	cooldown         time.Duration
	onChange         func(from, to BreakerState)
}

func newBreaker(failureThreshold, successThreshold int, cooldown time.Duration, onChange func(from, to BreakerState)) *breaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if successThreshold <= 0 {
		successThreshold = 2
	}
	if cooldown <= 0 {
		cooldown = 60 * time.Second
	}
	return &breaker{
		state:            BreakerClosed,
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		cooldown:         cooldown,
		onChange:         onChange,
	}
}

// allow reports whether a call may go out right now. When the cooldown
// has elapsed the caller that observes it first becomes the half-open
// probe; everyone else keeps failing fast until the probe reports.
func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if time.Since(b.lastFailure) < b.cooldown {
			return false
		}
		b.setState(BreakerHalfOpen)
		b.successes = 0
		b.probeInFlight = true
		return true
	case BreakerHalfOpen:
		if b.probeInFlight {
			return false
		}
		b.probeInFlight = true
		return true
	}
	return false
}

func (b *breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		b.failures = 0
	case BreakerHalfOpen:
		b.probeInFlight = false
		b.successes++
		if b.successes >= b.successThreshold {
			b.setState(BreakerClosed)
			b.failures = 0
			b.successes = 0
		}
	}
}

func (b *breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		b.failures++
		if b.failures >= b.failureThreshold {
			b.setState(BreakerOpen)
			b.lastFailure = time.Now()
		}
	case BreakerHalfOpen:
		b.probeInFlight = false
		b.setState(BreakerOpen)
		b.lastFailure = time.Now()
	case BreakerOpen:
		b.lastFailure = time.Now()
	}
}

// abortProbe hands the probe slot back when the trial ended without a
// verdict, typically because the probing caller was cancelled. The
// breaker reverts to open; lastFailure stays put, so the elapsed
// cooldown admits the next caller as a fresh probe right away.
func (b *breaker) abortProbe() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != BreakerHalfOpen || !b.probeInFlight {
		return
	}
	b.probeInFlight = false
	b.setState(BreakerOpen)
}

// State returns the current state for status surfaces.
func (b *breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// setState runs with b.mu held.
func (b *breaker) setState(to BreakerState) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.onChange != nil {
		b.onChange(from, to)
	}
}
