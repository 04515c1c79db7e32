// Package throttle spaces out download admissions to one provider. It bounds
// how often new downloads may start, not how many run at once: the gate is
// released before the caller's network I/O begins, so admitted downloads
// overlap freely and may complete in any order.
package throttle

import (
	"context"
	"time"
)

// Throttle enforces a minimum interval between admissions. One instance is
// owned by whichever component downloads from a given provider.
type Throttle struct {
	minInterval time.Duration

	// Binary gate. A channel instead of a mutex so a waiting caller can be
	// cancelled and no goroutine is blocked inside a lock during the delay.
	gate chan struct{}
	last time.Time

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// New creates a throttle with the given minimum spacing between admissions.
func New(minInterval time.Duration) *Throttle {
	t := &Throttle{
		minInterval: minInterval,
		gate:        make(chan struct{}, 1),
		now:         time.Now,
		sleep:       sleepCtx,
	}
	t.gate <- struct{}{}
	return t
}

// NewWithClock creates a throttle with an injectable clock and sleeper for
// deterministic tests.
func NewWithClock(minInterval time.Duration, now func() time.Time, sleep func(context.Context, time.Duration) error) *Throttle {
	t := New(minInterval)
	t.now = now
	t.sleep = sleep
	return t
}

// Acquire returns once at least the minimum interval has elapsed since the
// previous admission, and records the new admission timestamp. A cancelled
// Acquire leaves the timestamp untouched, because the download never
// started.
func (t *Throttle) Acquire(ctx context.Context) error {
	select {
	case token := <-t.gate:
		defer func() { t.gate <- token }()
	case <-ctx.Done():
		return ctx.Err()
	}

	elapsed := t.now().Sub(t.last)
	if elapsed < t.minInterval {
		if err := t.sleep(ctx, t.minInterval-elapsed); err != nil {
			return err
		}
	}
	t.last = t.now()
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
