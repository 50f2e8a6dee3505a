// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rapidaai/aicc-pipeline/pkg/commons"
)

// DefaultShutdownTimeout bounds how long Shutdown waits before abandoning
// stragglers.
const DefaultShutdownTimeout = 5 * time.Second

// TaskRegistry tracks every long-running goroutine by name, records
// failures, and drains them with a bounded timeout on shutdown. It replaces
// fire-and-forget goroutines whose errors would otherwise vanish.
type TaskRegistry struct {
	logger commons.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
	closed  bool

	failures atomic.Uint64
}

func NewTaskRegistry(logger commons.Logger) *TaskRegistry {
	return &TaskRegistry{
		logger:  logger,
		cancels: make(map[string]context.CancelFunc),
	}
}

// Go runs fn under a named, cancellable task. Context cancellation is a
// normal exit; any other error increments the failure counter.
func (r *TaskRegistry) Go(ctx context.Context, name string, fn func(ctx context.Context) error) {
	taskCtx, cancel := context.WithCancel(ctx)
	key := name + "-" + uuid.NewString()[:8]

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		cancel()
		return
	}
	r.cancels[key] = cancel
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer func() {
			r.mu.Lock()
			delete(r.cancels, key)
			r.mu.Unlock()
			cancel()
			r.wg.Done()
		}()

		if err := fn(taskCtx); err != nil && !errors.Is(err, context.Canceled) {
			r.failures.Add(1)
			r.logger.Errorw("task failed", "task", name, "error", err)
		}
	}()
}

// Failures reports how many tasks returned a non-cancellation error.
func (r *TaskRegistry) Failures() uint64 {
	return r.failures.Load()
}

// Active reports currently running tasks.
func (r *TaskRegistry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cancels)
}

// Shutdown cancels every task and waits up to timeout for them to exit.
// Returns false when stragglers were abandoned.
func (r *TaskRegistry) Shutdown(timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}

	r.mu.Lock()
	r.closed = true
	for _, cancel := range r.cancels {
		cancel()
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		r.logger.Warnw("task shutdown timed out", "remaining", r.Active())
		return false
	}
}
