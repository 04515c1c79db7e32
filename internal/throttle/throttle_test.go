package throttle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock drives the throttle deterministically: sleeping advances the
// clock instead of waiting.
type fakeClock struct {
	cur time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{cur: time.Date(2025, 6, 2, 9, 30, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time { return c.cur }

func (c *fakeClock) sleep(ctx context.Context, d time.Duration) error {
	c.cur = c.cur.Add(d)
	return nil
}

func TestAcquireSpacesAdmissions(t *testing.T) {
	clock := newFakeClock()
	th := NewWithClock(50*time.Millisecond, clock.now, clock.sleep)

	var admissions []time.Time
	for i := 0; i < 5; i++ {
		require.NoError(t, th.Acquire(context.Background()))
		admissions = append(admissions, clock.cur)
	}

	for i := 1; i < len(admissions); i++ {
		gap := admissions[i].Sub(admissions[i-1])
		assert.GreaterOrEqual(t, gap, 50*time.Millisecond, "admissions %d and %d", i-1, i)
	}
}

func TestAcquireSkipsDelayAfterQuietPeriod(t *testing.T) {
	clock := newFakeClock()
	var slept time.Duration
	th := NewWithClock(50*time.Millisecond, clock.now, func(ctx context.Context, d time.Duration) error {
		slept += d
		clock.cur = clock.cur.Add(d)
		return nil
	})

	require.NoError(t, th.Acquire(context.Background()))
	clock.cur = clock.cur.Add(time.Second)

	slept = 0
	require.NoError(t, th.Acquire(context.Background()))
	assert.Zero(t, slept, "no delay needed after a quiet second")
}

func TestCancelledAcquireKeepsTimestamp(t *testing.T) {
	clock := newFakeClock()
	var slept []time.Duration
	cancelSleep := false
	th := NewWithClock(50*time.Millisecond, clock.now, func(ctx context.Context, d time.Duration) error {
		if cancelSleep {
			return context.Canceled
		}
		slept = append(slept, d)
		clock.cur = clock.cur.Add(d)
		return nil
	})

	require.NoError(t, th.Acquire(context.Background()))

	// a caller cancelled while waiting out the interval
	cancelSleep = true
	err := th.Acquire(context.Background())
	require.ErrorIs(t, err, context.Canceled)

	// the cancelled attempt must not have refreshed the timestamp: the
	// next caller still waits relative to the first admission only
	cancelSleep = false
	slept = nil
	require.NoError(t, th.Acquire(context.Background()))
	require.Len(t, slept, 1)
	assert.Equal(t, 50*time.Millisecond, slept[0])
}

func TestAcquireCancelledWhileWaitingForGate(t *testing.T) {
	th := New(time.Hour)
	require.NoError(t, th.Acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		// will block on the hour-long delay
		done <- th.Acquire(ctx)
	}()
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Acquire did not return after cancellation")
	}
}
