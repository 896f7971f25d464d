package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreate_Idempotent(t *testing.T) {
	reg := NewRegistry()

	a := reg.Create("s1")
	b := reg.Create("s1")

	assert.Same(t, a, b)
	assert.False(t, a.Paused())
	assert.False(t, a.Cancelled())
}

func TestUnknownIDsAreNoOps(t *testing.T) {
	reg := NewRegistry()

	assert.NotPanics(t, func() {
		reg.Pause("ghost")
		reg.Resume("ghost")
		reg.Cancel("ghost")
	})
	assert.False(t, reg.IsCancelled("ghost"))
	assert.False(t, reg.IsPaused("ghost"))
}

func TestAwaitResume_OpenGateReturnsImmediately(t *testing.T) {
	reg := NewRegistry()
	s := reg.Create("s1")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.AwaitResume(ctx))
}

func TestPauseBlocksUntilResume(t *testing.T) {
	reg := NewRegistry()
	s := reg.Create("s1")

	reg.Pause("s1")
	assert.True(t, reg.IsPaused("s1"))

	released := make(chan error, 1)
	go func() {
		released <- s.AwaitResume(context.Background())
	}()

	select {
	case <-released:
		t.Fatal("waiter released while paused")
	case <-time.After(50 * time.Millisecond):
	}

	reg.Resume("s1")

	select {
	case err := <-released:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("waiter not released by resume")
	}
	assert.False(t, reg.IsPaused("s1"))
}

func TestCancelWakesPausedWaiter(t *testing.T) {
	reg := NewRegistry()
	s := reg.Create("s1")

	reg.Pause("s1")

	released := make(chan error, 1)
	go func() {
		released <- s.AwaitResume(context.Background())
	}()

	reg.Cancel("s1")

	select {
	case err := <-released:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("waiter not released by cancel")
	}
	assert.True(t, reg.IsCancelled("s1"))
}

func TestAwaitResume_ContextCancellation(t *testing.T) {
	reg := NewRegistry()
	s := reg.Create("s1")
	reg.Pause("s1")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := s.AwaitResume(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPauseResumeCycles(t *testing.T) {
	reg := NewRegistry()
	s := reg.Create("s1")

	for i := 0; i < 3; i++ {
		reg.Pause("s1")
		reg.Pause("s1") // repeated pause must not replace the gate again
		reg.Resume("s1")
		reg.Resume("s1") // repeated resume must not close twice

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		assert.NoError(t, s.AwaitResume(ctx))
		cancel()
	}
}

func TestCancelTwiceIsSafe(t *testing.T) {
	reg := NewRegistry()
	reg.Create("s1")

	reg.Cancel("s1")
	assert.NotPanics(t, func() { reg.Cancel("s1") })
	assert.True(t, reg.IsCancelled("s1"))
}

func TestList(t *testing.T) {
	reg := NewRegistry()
	reg.Create("a")
	reg.Create("b")

	assert.ElementsMatch(t, []string{"a", "b"}, reg.List())
}
