package reactor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoopPoolZeroThreadsFallsBackToBaseLoop(t *testing.T) {
	base := newTestLoop(t)
	pool := NewLoopPool(base, "pool")

	var initCalled *Loop
	require.NoError(t, pool.Start(func(l *Loop) { initCalled = l }))

	assert.Same(t, base, initCalled)
	assert.Same(t, base, pool.NextLoop())
	assert.Equal(t, []*Loop{base}, pool.AllLoops())
}

func TestLoopPoolRoundRobinsAcrossWorkers(t *testing.T) {
	base := newTestLoop(t)
	pool := NewLoopPool(base, "pool")
	pool.SetThreadNum(3)

	var initialized []*Loop
	require.NoError(t, pool.Start(func(l *Loop) { initialized = append(initialized, l) }))
	t.Cleanup(func() {
		for _, l := range pool.AllLoops() {
			l.Quit()
		}
	})

	require.Len(t, initialized, 3)
	assert.Len(t, pool.AllLoops(), 3)

	seen := make(map[*Loop]int)
	for i := 0; i < 9; i++ {
		seen[pool.NextLoop()]++
	}
	assert.Len(t, seen, 3)
	for _, count := range seen {
		assert.Equal(t, 3, count)
	}
}

func TestLoopPoolSetThreadNumAfterStartPanics(t *testing.T) {
	base := newTestLoop(t)
	pool := NewLoopPool(base, "pool")
	require.NoError(t, pool.Start(nil))

	assert.Panics(t, func() { pool.SetThreadNum(2) })
}

func TestLoopPoolStartIsIdempotent(t *testing.T) {
	base := newTestLoop(t)
	pool := NewLoopPool(base, "pool")
	pool.SetThreadNum(1)

	calls := 0
	require.NoError(t, pool.Start(func(*Loop) { calls++ }))
	require.NoError(t, pool.Start(func(*Loop) { calls++ }))
	t.Cleanup(func() {
		for _, l := range pool.AllLoops() {
			l.Quit()
		}
	})

	assert.Equal(t, 1, calls)
}

func TestLoopPoolWorkerLoopsAreActuallyRunning(t *testing.T) {
	base := newTestLoop(t)
	pool := NewLoopPool(base, "pool")
	pool.SetThreadNum(2)
	require.NoError(t, pool.Start(nil))
	t.Cleanup(func() {
		for _, l := range pool.AllLoops() {
			l.Quit()
		}
	})

	for _, l := range pool.AllLoops() {
		ready := make(chan struct{})
		l.QueueInLoop(func() { close(ready) })
		select {
		case <-ready:
		case <-time.After(2 * time.Second):
			t.Fatalf("worker loop %q did not process a queued task", l.Name())
		}
	}
}
