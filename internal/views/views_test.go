package views

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureIsIdempotent(t *testing.T) {
	r := NewRegistry(0, 0)
	t.Cleanup(func() { _ = r.Close(context.Background()) })

	id := uuid.New()
	a := r.Ensure(id)
	b := r.Ensure(id)
	assert.Same(t, a, b)
	assert.Equal(t, 1, r.Len())

	got, ok := r.Get(id)
	require.True(t, ok)
	assert.Same(t, a.Slot, got.Slot)

	_, ok = r.Get(uuid.New())
	assert.False(t, ok)
}

func TestCleanupPrunesIdleViews(t *testing.T) {
	r := NewRegistry(0, 0)
	t.Cleanup(func() { _ = r.Close(context.Background()) })

	old := r.Create()
	time.Sleep(30 * time.Millisecond)
	fresh := r.Create()

	r.Cleanup(20 * time.Millisecond)

	_, ok := r.Get(old.ID)
	assert.False(t, ok)
	_, ok = r.Get(fresh.ID)
	assert.True(t, ok)
}

func TestSweepLoop(t *testing.T) {
	r := NewRegistry(10*time.Millisecond, 10*time.Millisecond)
	t.Cleanup(func() { _ = r.Close(context.Background()) })

	r.Create()
	require.Eventually(t, func() bool { return r.Len() == 0 }, time.Second, 5*time.Millisecond)
}
