package processor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_ExponentialWithinBounds(t *testing.T) {
	base := 30 * time.Second
	max := 10 * time.Minute

	for retry := 1; retry <= 6; retry++ {
		expected := base << (retry - 1)
		if expected > max {
			expected = max
		}

		for i := 0; i < 50; i++ {
			d := Backoff(retry, base, max)
			assert.GreaterOrEqual(t, d, expected/2, "retry %d below jitter floor", retry)
			assert.LessOrEqual(t, d, expected, "retry %d above cap", retry)
		}
	}
}

func TestBackoff_CapsAtMax(t *testing.T) {
	base := 30 * time.Second
	max := 10 * time.Minute

	for i := 0; i < 50; i++ {
		assert.LessOrEqual(t, Backoff(100, base, max), max)
	}
}

func TestBackoff_ZeroRetryTreatedAsFirst(t *testing.T) {
	base := 30 * time.Second
	max := 10 * time.Minute

	d := Backoff(0, base, max)
	assert.GreaterOrEqual(t, d, base/2)
	assert.LessOrEqual(t, d, base)
}
