package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingChannelTrySend(t *testing.T) {
	rc := NewRingChannel[int](2)

	assert.True(t, rc.TrySend(1))
	assert.True(t, rc.TrySend(2))
	assert.False(t, rc.TrySend(3), "full buffer rejects TrySend")
	assert.Equal(t, 2, rc.Len())
}

func TestRingChannelForceSendDropsOldest(t *testing.T) {
	rc := NewRingChannel[int](2)

	assert.False(t, rc.ForceSend(1))
	assert.False(t, rc.ForceSend(2))
	assert.True(t, rc.ForceSend(3), "full buffer drops the oldest element")

	v, ok := rc.TryReceive()
	require.True(t, ok)
	assert.Equal(t, 2, v)

	v, ok = rc.TryReceive()
	require.True(t, ok)
	assert.Equal(t, 3, v)

	_, ok = rc.TryReceive()
	assert.False(t, ok)
}

func TestRingChannelCloseEndsRange(t *testing.T) {
	rc := NewRingChannel[string](4)
	rc.ForceSend("a")
	rc.ForceSend("b")
	rc.Close()

	var got []string
	for v := range rc.C() {
		got = append(got, v)
	}
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestRingChannelZeroCapacityPanics(t *testing.T) {
	assert.Panics(t, func() { NewRingChannel[int](0) })
}
