// Package parallel runs independent tasks on a bounded set of goroutines.
package parallel

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// PoolConfig configures a WorkerPool.
type PoolConfig struct {
	// MaxWorkers bounds concurrency. Zero selects DefaultPoolConfig's value.
	MaxWorkers int
	// TaskTimeout bounds each task's context. Zero means no limit.
	TaskTimeout time.Duration
	// OnProgress is called after every finished task, possibly concurrently.
	OnProgress func(done, total int)
}

// DefaultPoolConfig uses one worker per CPU, between 2 and 8.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{MaxWorkers: min(max(runtime.NumCPU(), 2), 8)}
}

func (c PoolConfig) WithWorkers(n int) PoolConfig {
	c.MaxWorkers = n
	return c
}

func (c PoolConfig) WithTaskTimeout(d time.Duration) PoolConfig {
	c.TaskTimeout = d
	return c
}

func (c PoolConfig) WithProgress(fn func(done, total int)) PoolConfig {
	c.OnProgress = fn
	return c
}

// PoolMetrics accumulates over every Run of a pool.
type PoolMetrics struct {
	TotalTasks     int64
	CompletedTasks int64
	FailedTasks    int64
	BusyTime       time.Duration
	MaxTaskTime    time.Duration
}

// TaskResult is the outcome of one input. Inputs never started because the context
// ended carry the context error.
type TaskResult[T any, R any] struct {
	Index    int
	Input    T
	Result   R
	Error    error
	Duration time.Duration
}

// WorkerPool maps inputs of type T to results of type R.
type WorkerPool[T any, R any] struct {
	config  PoolConfig
	mu      sync.Mutex
	metrics PoolMetrics
}

// NewWorkerPool creates a pool.
func NewWorkerPool[T any, R any](config PoolConfig) *WorkerPool[T, R] {
	if config.MaxWorkers <= 0 {
		config.MaxWorkers = DefaultPoolConfig().MaxWorkers
	}
	return &WorkerPool[T, R]{config: config}
}

// Run applies fn to every input and returns the results in input order. A panicking
// task is reported as that task's error.
func (p *WorkerPool[T, R]) Run(ctx context.Context, inputs []T, fn func(ctx context.Context, input T) (R, error)) []TaskResult[T, R] {
	if len(inputs) == 0 {
		return nil
	}
	results := make([]TaskResult[T, R], len(inputs))
	for i := range inputs {
		results[i].Index = i
		results[i].Input = inputs[i]
	}

	next := make(chan int)
	var done atomic.Int64
	var wg sync.WaitGroup
	for w := 0; w < min(p.config.MaxWorkers, len(inputs)); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range next {
				p.runOne(ctx, &results[i], fn)
				n := done.Add(1)
				if p.config.OnProgress != nil {
					p.config.OnProgress(int(n), len(inputs))
				}
			}
		}()
	}

feed:
	for i := range inputs {
		select {
		case next <- i:
		case <-ctx.Done():
			for j := i; j < len(inputs); j++ {
				results[j].Error = ctx.Err()
			}
			break feed
		}
	}
	close(next)
	wg.Wait()
	return results
}

func (p *WorkerPool[T, R]) runOne(ctx context.Context, r *TaskResult[T, R], fn func(context.Context, T) (R, error)) {
	if p.config.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.TaskTimeout)
		defer cancel()
	}
	start := time.Now()
	defer func() {
		if v := recover(); v != nil {
			r.Error = fmt.Errorf("task %d panicked: %v", r.Index, v)
		}
		r.Duration = time.Since(start)
		p.record(r.Duration, r.Error)
	}()
	r.Result, r.Error = fn(ctx, r.Input)
}

func (p *WorkerPool[T, R]) record(d time.Duration, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.metrics.TotalTasks++
	if err != nil {
		p.metrics.FailedTasks++
	} else {
		p.metrics.CompletedTasks++
	}
	p.metrics.BusyTime += d
	p.metrics.MaxTaskTime = max(p.metrics.MaxTaskTime, d)
}

// Metrics returns a snapshot of the accumulated metrics.
func (p *WorkerPool[T, R]) Metrics() PoolMetrics {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.metrics
}
