package parser

import (
	"context"
	"sync/atomic"
	"time"
)

// throttle spaces a parser's outbound requests at least minInterval
// apart. Callers claim the next free slot with a CAS on the slot
// timestamp and then sleep until their slot; two concurrent callers
// land on slots one interval apart instead of both passing a stale
// check.
type throttle struct {
	minInterval time.Duration
	nextSlot    atomic.Int64
}

func newThrottle(minInterval time.Duration) *throttle {
	return &throttle{minInterval: minInterval}
}

// Wait blocks until the caller's claimed slot arrives or ctx is done.
func (t *throttle) Wait(ctx context.Context) error {
	if t.minInterval <= 0 {
		return nil
	}
	for {
		now := time.Now().UnixNano()
		prev := t.nextSlot.Load()
		slot := prev
		if now > slot {
			slot = now
		}
		if !t.nextSlot.CompareAndSwap(prev, slot+int64(t.minInterval)) {
			continue
		}
		wait := time.Duration(slot - now)
		if wait <= 0 {
			return nil
		}
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		}
	}
}
