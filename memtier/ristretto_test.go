package memtier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRistrettoPutGet(t *testing.T) {
	r, err := NewRistretto[string](RistrettoConfig{MaxCost: 1 << 20}, lenOf)
	require.NoError(t, err)
	t.Cleanup(r.Close)

	r.Put("k", "first")
	r.Put("k", "second")

	v, ok := r.Get("k")
	require.True(t, ok)
	assert.Equal(t, "first", v)

	r.Remove("k")
	_, ok = r.Get("k")
	assert.False(t, ok)
	assert.Equal(t, int64(1<<20), r.Capacity())
}

func TestRistrettoInvalidConfig(t *testing.T) {
	_, err := NewRistretto[string](RistrettoConfig{}, lenOf)
	assert.Error(t, err)
}
