package concurrency

import (
	"sync/atomic"
	"testing"
	"time"

	"simtrader/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPoolRunsSubmittedTasks(t *testing.T) {
	pool := NewWorkerPool(PoolConfig{Name: "test", MaxWorkers: 4}, logging.NopLogger{})
	defer pool.Stop()

	var counter int64
	for i := 0; i < 20; i++ {
		require.NoError(t, pool.Submit(func() {
			atomic.AddInt64(&counter, 1)
		}))
	}

	assert.Eventually(t, func() bool {
		return atomic.LoadInt64(&counter) == 20
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWorkerPoolSubmitAndWait(t *testing.T) {
	pool := NewWorkerPool(PoolConfig{Name: "test", MaxWorkers: 2}, logging.NopLogger{})
	defer pool.Stop()

	done := false
	pool.SubmitAndWait(func() { done = true })
	assert.True(t, done)
}

func TestWorkerPoolNonBlockingRejectsWhenFull(t *testing.T) {
	pool := NewWorkerPool(PoolConfig{
		Name:        "test",
		MaxWorkers:  1,
		MaxCapacity: 1,
		NonBlocking: true,
	}, logging.NopLogger{})
	defer pool.Stop()

	release := make(chan struct{})
	defer close(release)

	started := make(chan struct{})
	require.NoError(t, pool.Submit(func() {
		close(started)
		<-release
	}))
	<-started

	// Worker is busy; one task fits in the buffer, the next is rejected
	require.NoError(t, pool.Submit(func() { <-release }))
	err := pool.Submit(func() {})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "full")
}

func TestWorkerPoolRecoversFromPanic(t *testing.T) {
	pool := NewWorkerPool(PoolConfig{Name: "test", MaxWorkers: 1}, logging.NopLogger{})
	defer pool.Stop()

	require.NoError(t, pool.Submit(func() { panic("boom") }))

	// Pool keeps serving tasks after a worker panic
	done := make(chan struct{})
	require.NoError(t, pool.Submit(func() { close(done) }))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pool stopped serving tasks after panic")
	}
}

func TestWorkerPoolStats(t *testing.T) {
	pool := NewWorkerPool(PoolConfig{Name: "test", MaxWorkers: 2}, logging.NopLogger{})

	pool.SubmitAndWait(func() {})
	pool.Stop()

	stats := pool.Stats()
	assert.GreaterOrEqual(t, stats["submitted_tasks"].(uint64), uint64(1))
}
