package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zerodha/logf"
)

// Outcome is the result of a send attempt fed back to the controller
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeTransientFail
	OutcomeRateLimited
	OutcomeSpamRateLimited
)

const (
	// windowObservations triggers an adaptive adjustment after this many outcomes
	windowObservations = 100
	// windowDuration triggers an adjustment when this much time has passed
	windowDuration = time.Minute
	// minRate is the floor for adaptive reduction
	minRate = 1.0
)

// StableRateFunc is called when a sender's last stable rate is recorded,
// so it can be persisted on the sender row.
type StableRateFunc func(senderID uuid.UUID, rate float64)

// Controller is a per-sender adaptive token bucket. It is the sole gate for
// outbound API calls: workers must Acquire before each send and Observe after.
type Controller struct {
	mu           sync.Mutex
	buckets      map[uuid.UUID]*bucket
	log          logf.Logger
	onStableRate StableRateFunc
}

type bucket struct {
	mu      sync.Mutex
	rate    float64 // current tokens per second
	maxRate float64
	tokens  float64
	last    time.Time

	windowStart     time.Time
	okCount         int
	failCount       int
	prevWindowClean bool
}

// New creates a Controller. onStableRate may be nil.
func New(log logf.Logger, onStableRate StableRateFunc) *Controller {
	return &Controller{
		buckets:      make(map[uuid.UUID]*bucket),
		log:          log,
		onStableRate: onStableRate,
	}
}

// Configure registers or updates a sender's maximum send rate. A new sender's
// current rate starts at the maximum; Observe lowers it on failing windows and
// raises it back toward the maximum on clean ones. Lowering the maximum of a
// known sender caps its current rate.
func (c *Controller) Configure(senderID uuid.UUID, maxRatePerSec float64) {
	if maxRatePerSec < minRate {
		maxRatePerSec = minRate
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	b, ok := c.buckets[senderID]
	if !ok {
		now := time.Now()
		c.buckets[senderID] = &bucket{
			rate:            maxRatePerSec,
			maxRate:         maxRatePerSec,
			tokens:          maxRatePerSec,
			last:            now,
			windowStart:     now,
			prevWindowClean: true,
		}
		return
	}

	b.mu.Lock()
	b.maxRate = maxRatePerSec
	if b.rate > maxRatePerSec {
		b.rate = maxRatePerSec
	}
	b.mu.Unlock()
}

// Rate returns the sender's current adapted rate, or 0 if unknown
func (c *Controller) Rate(senderID uuid.UUID) float64 {
	c.mu.Lock()
	b := c.buckets[senderID]
	c.mu.Unlock()
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rate
}

// Acquire blocks until a token is available for the sender or the context is
// cancelled. Tokens regenerate uniformly across one-second windows.
func (c *Controller) Acquire(ctx context.Context, senderID uuid.UUID) error {
	c.mu.Lock()
	b, ok := c.buckets[senderID]
	c.mu.Unlock()
	if !ok {
		// Unconfigured senders run at the floor rate.
		c.Configure(senderID, minRate)
		c.mu.Lock()
		b = c.buckets[senderID]
		c.mu.Unlock()
	}

	for {
		b.mu.Lock()
		now := time.Now()
		elapsed := now.Sub(b.last).Seconds()
		b.tokens += elapsed * b.rate
		if b.tokens > b.rate {
			// Burst is capped at one second's worth of tokens.
			b.tokens = b.rate
		}
		b.last = now

		if b.tokens >= 1 {
			b.tokens--
			b.mu.Unlock()
			return nil
		}

		wait := time.Duration((1 - b.tokens) / b.rate * float64(time.Second))
		b.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Observe feeds a send outcome into the sender's adaptive window. Adjustment
// runs every windowObservations outcomes or once per windowDuration,
// whichever comes first.
func (c *Controller) Observe(senderID uuid.UUID, outcome Outcome) {
	c.mu.Lock()
	b := c.buckets[senderID]
	c.mu.Unlock()
	if b == nil {
		return
	}

	b.mu.Lock()
	if outcome == OutcomeOK {
		b.okCount++
	} else {
		b.failCount++
	}

	total := b.okCount + b.failCount
	if total < windowObservations && time.Since(b.windowStart) < windowDuration {
		b.mu.Unlock()
		return
	}

	failureRate := float64(b.failCount) / float64(total)
	clean := failureRate < 0.01
	oldRate := b.rate

	switch {
	case failureRate > 0.10:
		if b.prevWindowClean && c.onStableRate != nil {
			stable := b.rate
			defer c.onStableRate(senderID, stable)
		}
		b.rate *= 0.75
		if b.rate < minRate {
			b.rate = minRate
		}
	case clean && b.rate < b.maxRate:
		b.rate *= 1.10
		if b.rate > b.maxRate {
			b.rate = b.maxRate
		}
	}

	if b.rate != oldRate {
		c.log.Info("Adjusted sender rate",
			"sender_id", senderID,
			"old_rate", oldRate,
			"new_rate", b.rate,
			"failure_rate", failureRate,
		)
	}

	b.prevWindowClean = clean
	b.okCount = 0
	b.failCount = 0
	b.windowStart = time.Now()
	b.mu.Unlock()
}
