package ratelimit

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zerodha/logf"
)

func testController(onStable StableRateFunc) *Controller {
	return New(logf.New(logf.Opts{Writer: io.Discard}), onStable)
}

func TestAcquire_ImmediateWithinBurst(t *testing.T) {
	c := testController(nil)
	sender := uuid.New()
	c.Configure(sender, 10)

	start := time.Now()
	for i := 0; i < 10; i++ {
		require.NoError(t, c.Acquire(context.Background(), sender))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond, "burst acquires should not block")
}

func TestAcquire_BlocksWhenExhausted(t *testing.T) {
	c := testController(nil)
	sender := uuid.New()
	c.Configure(sender, 5)

	// Drain the burst
	for i := 0; i < 5; i++ {
		require.NoError(t, c.Acquire(context.Background(), sender))
	}

	start := time.Now()
	require.NoError(t, c.Acquire(context.Background(), sender))
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond, "exhausted bucket should wait for regeneration")
}

func TestAcquire_ContextCancellation(t *testing.T) {
	c := testController(nil)
	sender := uuid.New()
	c.Configure(sender, 1)

	require.NoError(t, c.Acquire(context.Background(), sender))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := c.Acquire(ctx, sender)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAcquire_UnconfiguredSenderRunsAtFloor(t *testing.T) {
	c := testController(nil)
	sender := uuid.New()

	require.NoError(t, c.Acquire(context.Background(), sender))
	assert.Equal(t, 1.0, c.Rate(sender))
}

func TestAcquire_ConcurrentCallersRespectRate(t *testing.T) {
	c := testController(nil)
	sender := uuid.New()
	c.Configure(sender, 20)

	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.Acquire(context.Background(), sender)
		}()
	}
	wg.Wait()

	// 20 burst tokens plus 10 regenerated at 20/s needs at least ~400ms
	assert.GreaterOrEqual(t, time.Since(start), 400*time.Millisecond)
}

func TestObserve_ReducesRateOnFailures(t *testing.T) {
	c := testController(nil)
	sender := uuid.New()
	c.Configure(sender, 100)

	// 20% failures in one window
	for i := 0; i < 80; i++ {
		c.Observe(sender, OutcomeOK)
	}
	for i := 0; i < 20; i++ {
		c.Observe(sender, OutcomeTransientFail)
	}

	assert.InDelta(t, 75.0, c.Rate(sender), 0.01)
}

func TestObserve_RateFloorIsOne(t *testing.T) {
	c := testController(nil)
	sender := uuid.New()
	c.Configure(sender, 1)

	for window := 0; window < 5; window++ {
		for i := 0; i < windowObservations; i++ {
			c.Observe(sender, OutcomeSpamRateLimited)
		}
	}

	assert.Equal(t, 1.0, c.Rate(sender))
}

func TestObserve_IncreasesCleanRateToCeiling(t *testing.T) {
	c := testController(nil)
	sender := uuid.New()
	c.Configure(sender, 100)

	// Knock the rate down first
	for i := 0; i < 50; i++ {
		c.Observe(sender, OutcomeOK)
	}
	for i := 0; i < 50; i++ {
		c.Observe(sender, OutcomeRateLimited)
	}
	reduced := c.Rate(sender)
	require.Less(t, reduced, 100.0)

	// Clean windows climb back, never past the configured maximum
	for window := 0; window < 50; window++ {
		for i := 0; i < windowObservations; i++ {
			c.Observe(sender, OutcomeOK)
		}
	}
	assert.Equal(t, 100.0, c.Rate(sender))
}

func TestObserve_RecordsLastStableRate(t *testing.T) {
	var mu sync.Mutex
	var recorded []float64

	c := testController(func(_ uuid.UUID, rate float64) {
		mu.Lock()
		recorded = append(recorded, rate)
		mu.Unlock()
	})
	sender := uuid.New()
	c.Configure(sender, 50)

	// First window is clean, so the drop in the second window records the
	// pre-reduction rate as last stable.
	for i := 0; i < windowObservations; i++ {
		c.Observe(sender, OutcomeOK)
	}
	for i := 0; i < windowObservations; i++ {
		c.Observe(sender, OutcomeTransientFail)
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, recorded, 1)
	assert.Equal(t, 50.0, recorded[0])
}

func TestObserve_NoStableRecordAfterDirtyWindow(t *testing.T) {
	var mu sync.Mutex
	calls := 0

	c := testController(func(uuid.UUID, float64) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	sender := uuid.New()
	c.Configure(sender, 50)

	// Two consecutive failing windows: only the first records a stable rate
	for window := 0; window < 2; window++ {
		for i := 0; i < windowObservations; i++ {
			c.Observe(sender, OutcomeTransientFail)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}

func TestConfigure_LowersCurrentRateWithMax(t *testing.T) {
	c := testController(nil)
	sender := uuid.New()
	c.Configure(sender, 100)
	c.Configure(sender, 10)
	assert.Equal(t, 10.0, c.Rate(sender))
}
