package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/arkui-x/request-task/internal/domain"
	"github.com/sourcegraph/conc/pool"
)

// StoreExecutor runs task store calls on a bounded worker pool. Callers
// block until their call finished, their context ended or the call timeout
// elapsed.
type StoreExecutor struct {
	pool    *pool.Pool
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
}

// NewStoreExecutor creates an executor with size workers
func NewStoreExecutor(size int, timeout time.Duration) *StoreExecutor {
	if size < 1 {
		size = 1
	}
	return &StoreExecutor{
		pool:    pool.New().WithMaxGoroutines(size),
		timeout: timeout,
	}
}

// Do runs fn on the pool and returns its error
func (e *StoreExecutor) Do(ctx context.Context, fn func() error) error {
	_, err := storeCall(ctx, e, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

func (e *StoreExecutor) submit(job func()) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return domain.ErrExecutorShutdown
	}
	e.pool.Go(job)
	return nil
}

// Close waits for running calls and refuses new ones
func (e *StoreExecutor) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	e.pool.Wait()
}

// storeCall runs fn on the executor and hands back its result
func storeCall[T any](ctx context.Context, e *StoreExecutor, fn func() (T, error)) (T, error) {
	type outcome struct {
		value T
		err   error
	}
	result := make(chan outcome, 1)

	err := e.submit(func() {
		defer func() {
			if r := recover(); r != nil {
				result <- outcome{err: fmt.Errorf("store call panicked: %v", r)}
			}
		}()
		v, err := fn()
		result <- outcome{value: v, err: err}
	})
	if err != nil {
		var zero T
		return zero, err
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	select {
	case out := <-result:
		return out.value, out.err
	case <-ctx.Done():
		var zero T
		return zero, fmt.Errorf("store call abandoned: %w", ctx.Err())
	}
}
