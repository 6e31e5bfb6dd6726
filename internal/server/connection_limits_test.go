package server

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionLimits_GlobalCap(t *testing.T) {
	limits := NewConnectionLimits(2, 10, 1000, 1000)

	ok, _ := limits.Acquire("1.1.1.1")
	require.True(t, ok)
	ok, _ = limits.Acquire("2.2.2.2")
	require.True(t, ok)

	ok, reason := limits.Acquire("3.3.3.3")
	assert.False(t, ok)
	assert.Equal(t, LimitReasonGlobal, reason)

	limits.Release("1.1.1.1")
	ok, _ = limits.Acquire("3.3.3.3")
	assert.True(t, ok)
}

func TestConnectionLimits_PerIPCap(t *testing.T) {
	limits := NewConnectionLimits(100, 2, 1000, 1000)

	ok, _ := limits.Acquire("1.1.1.1")
	require.True(t, ok)
	ok, _ = limits.Acquire("1.1.1.1")
	require.True(t, ok)

	ok, reason := limits.Acquire("1.1.1.1")
	assert.False(t, ok)
	assert.Equal(t, LimitReasonPerIP, reason)

	// A refused per-IP attempt must not leak a global slot.
	assert.Equal(t, int64(2), limits.Current())

	// Other IPs are unaffected.
	ok, _ = limits.Acquire("2.2.2.2")
	assert.True(t, ok)
}

func TestConnectionLimits_RateLimit(t *testing.T) {
	limits := NewConnectionLimits(100, 100, 1, 2)

	ok, _ := limits.Acquire("1.1.1.1")
	require.True(t, ok)
	ok, _ = limits.Acquire("1.1.1.1")
	require.True(t, ok)

	ok, reason := limits.Acquire("1.1.1.1")
	assert.False(t, ok)
	assert.Equal(t, LimitReasonRate, reason)

	// Rate limits are tracked per IP.
	ok, _ = limits.Acquire("2.2.2.2")
	assert.True(t, ok)
}

func TestConnectionLimits_ReleaseRestoresSlots(t *testing.T) {
	limits := NewConnectionLimits(100, 1, 1000, 1000)

	ok, _ := limits.Acquire("1.1.1.1")
	require.True(t, ok)
	limits.Release("1.1.1.1")
	assert.Equal(t, int64(0), limits.Current())

	ok, _ = limits.Acquire("1.1.1.1")
	assert.True(t, ok)
}

func TestConnectionLimits_ManyIPs(t *testing.T) {
	limits := NewConnectionLimits(1000, 1, 1000, 1000)

	for i := 0; i < 50; i++ {
		ok, _ := limits.Acquire(fmt.Sprintf("10.0.0.%d", i))
		require.True(t, ok)
	}
	assert.Equal(t, int64(50), limits.Current())
}
