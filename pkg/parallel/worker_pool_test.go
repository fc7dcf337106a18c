package parallel

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunPreservesOrder(t *testing.T) {
	pool := NewWorkerPool[int, int](PoolConfig{MaxWorkers: 4})
	inputs := make([]int, 50)
	for i := range inputs {
		inputs[i] = i
	}

	results := pool.Run(context.Background(), inputs, func(_ context.Context, n int) (int, error) {
		time.Sleep(time.Duration(50-n) * time.Microsecond)
		return n * n, nil
	})

	require.Len(t, results, 50)
	for i, r := range results {
		assert.Equal(t, i, r.Index)
		assert.Equal(t, i, r.Input)
		assert.Equal(t, i*i, r.Result)
		assert.NoError(t, r.Error)
	}
	m := pool.Metrics()
	assert.Equal(t, int64(50), m.TotalTasks)
	assert.Equal(t, int64(50), m.CompletedTasks)
}

func TestRunBoundsConcurrency(t *testing.T) {
	var running, peak atomic.Int32
	pool := NewWorkerPool[int, struct{}](DefaultPoolConfig().WithWorkers(3))

	pool.Run(context.Background(), make([]int, 30), func(context.Context, int) (struct{}, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		running.Add(-1)
		return struct{}{}, nil
	})

	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.GreaterOrEqual(t, peak.Load(), int32(1))
}

func TestRunErrorsAndPanics(t *testing.T) {
	boom := errors.New("boom")
	pool := NewWorkerPool[string, int](PoolConfig{MaxWorkers: 2})

	results := pool.Run(context.Background(), []string{"ok", "fail", "panic"}, func(_ context.Context, s string) (int, error) {
		switch s {
		case "fail":
			return 0, boom
		case "panic":
			panic("bad class")
		}
		return 1, nil
	})

	assert.NoError(t, results[0].Error)
	assert.ErrorIs(t, results[1].Error, boom)
	require.Error(t, results[2].Error)
	assert.Contains(t, results[2].Error.Error(), "bad class")
	assert.Equal(t, int64(2), pool.Metrics().FailedTasks)
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls atomic.Int32
	pool := NewWorkerPool[int, int](PoolConfig{MaxWorkers: 1})
	results := pool.Run(ctx, []int{1, 2, 3}, func(ctx context.Context, n int) (int, error) {
		calls.Add(1)
		return n, ctx.Err()
	})

	require.Len(t, results, 3)
	for _, r := range results {
		assert.ErrorIs(t, r.Error, context.Canceled)
	}
	assert.LessOrEqual(t, calls.Load(), int32(1))
}

func TestRunTaskTimeout(t *testing.T) {
	pool := NewWorkerPool[int, int](DefaultPoolConfig().WithTaskTimeout(10 * time.Millisecond))
	results := pool.Run(context.Background(), []int{1}, func(ctx context.Context, n int) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	assert.ErrorIs(t, results[0].Error, context.DeadlineExceeded)
}

func TestRunProgress(t *testing.T) {
	var last atomic.Int32
	var calls atomic.Int32
	cfg := PoolConfig{MaxWorkers: 2}.WithProgress(func(done, total int) {
		calls.Add(1)
		assert.Equal(t, 5, total)
		if int32(done) > last.Load() {
			last.Store(int32(done))
		}
	})
	NewWorkerPool[int, int](cfg).Run(context.Background(), []int{1, 2, 3, 4, 5}, func(_ context.Context, n int) (int, error) {
		return n, nil
	})
	assert.Equal(t, int32(5), calls.Load())
	assert.Equal(t, int32(5), last.Load())
}

func TestRunEmpty(t *testing.T) {
	pool := NewWorkerPool[int, int](PoolConfig{})
	assert.Nil(t, pool.Run(context.Background(), nil, nil))
}
