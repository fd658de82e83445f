package backoff

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConstant(t *testing.T) {
	s := Constant(250 * time.Millisecond)
	for attempt := uint(1); attempt < 8; attempt++ {
		assert.Equal(t, 250*time.Millisecond, s(attempt))
	}
}

func TestExponential(t *testing.T) {
	s := Exponential(time.Second, 3)
	assert.Equal(t, time.Second, s(1))
	assert.Equal(t, 3*time.Second, s(2))
	assert.Equal(t, 9*time.Second, s(3))
	assert.Equal(t, 27*time.Second, s(4))
}

func TestBinaryExponential(t *testing.T) {
	s := BinaryExponential(500 * time.Millisecond)
	assert.Equal(t, 500*time.Millisecond, s(1))
	assert.Equal(t, time.Second, s(2))
	assert.Equal(t, 4*time.Second, s(4))

	// Large attempt counts saturate rather than overflow.
	assert.Equal(t, time.Duration(math.MaxInt64), s(200))
}
