package parallel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUnlimited(t *testing.T) {
	rateLimiter := &Unlimited{}
	assert.Zero(t, rateLimiter.Take(1))
}

func TestNewRequestsLimiter(t *testing.T) {
	limiter := NewRequestsLimiter(2)
	assert.Equal(t, time.Duration(0), limiter.Take(1))
	assert.Equal(t, time.Duration(0), limiter.Take(1))
	assert.InDelta(t, 500*time.Millisecond, limiter.Take(1), float64(10*time.Millisecond))

	limiter = NewRequestsLimiter(0)
	assert.IsType(t, &Unlimited{}, limiter)
	assert.Zero(t, limiter.Take(100))
}
