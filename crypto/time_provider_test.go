package crypto

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManualTimeProviderAdvance(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewManualTimeProvider(start)

	assert.Equal(t, start, clock.Now())

	clock.Advance(1500 * time.Millisecond)
	assert.Equal(t, start.Add(1500*time.Millisecond), clock.Now())
	assert.Equal(t, 1500*time.Millisecond, clock.Since(start))
}

func TestOrDefault(t *testing.T) {
	assert.IsType(t, DefaultTimeProvider{}, OrDefault(nil))

	clock := NewManualTimeProvider(time.Unix(0, 0))
	assert.Same(t, clock, OrDefault(clock))
}
