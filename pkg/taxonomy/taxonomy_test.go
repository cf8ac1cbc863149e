package taxonomy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSound(t *testing.T) {
	assert.True(t, Sound(FSRead))
	assert.True(t, Sound(ExecRun))
	assert.False(t, Sound(Kind("fs.teleport")))
	assert.False(t, Sound(Kind("")))
}

func TestTierOf(t *testing.T) {
	assert.Equal(t, T0, TierOf(FSRead))
	assert.Equal(t, T3, TierOf(FSDelete))
	assert.Equal(t, T3, TierOf(SecretsInject))
}

func TestTierOfUnsoundPanics(t *testing.T) {
	assert.Panics(t, func() {
		TierOf(Kind("bogus.kind"))
	})
}

func TestTierTotalOrder(t *testing.T) {
	require.True(t, T0 < T1)
	require.True(t, T1 < T2)
	require.True(t, T2 < T3)
}

func TestKindsAreAllSound(t *testing.T) {
	for _, k := range Kinds() {
		assert.True(t, Sound(k), "kind %q should be sound", k)
	}
}

func TestFamilies(t *testing.T) {
	assert.True(t, IsFSFamily(FSWrite))
	assert.True(t, IsWriteFamily(FSWrite))
	assert.True(t, IsWriteFamily(FSDelete))
	assert.False(t, IsWriteFamily(FSRead))
	assert.True(t, IsNetFamily(NetFetchHTTP))
	assert.True(t, IsExecFamily(ExecRun))
	assert.False(t, IsExecFamily(FSRead))
}

func TestTypedAckTiers(t *testing.T) {
	assert.True(t, TypedAckTiers[T3])
	assert.False(t, TypedAckTiers[T2])
}
