// File: internal/engine/engine.go

// Package engine schedules tool executions: bounded concurrency for
// generic tools, a deliberately small pool for browser tools, strict
// per-session serialization, and one automatic session restart when a call
// hits a missing session.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/webpilot-ai/webpilot/api/schemas"
	"github.com/webpilot-ai/webpilot/internal/browser"
	"github.com/webpilot-ai/webpilot/internal/config"
)

// Task is one scheduled tool execution.
type Task struct {
	Tool      string
	SessionID string
	// Browser marks tasks that hold a browser session and therefore go
	// through the small browser pool and the per-session lock.
	Browser bool
	Run     func(ctx context.Context) (any, error)
}

// Engine owns the execution pools. Both pools are semaphores rather than
// worker goroutines: callers block on admission, which is the backpressure
// the browser pool exists to provide.
type Engine struct {
	sessions    schemas.SessionProvider
	genericPool *semaphore.Weighted
	browserPool *semaphore.Weighted
	timeout     time.Duration
	logger      *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(sessions schemas.SessionProvider, cfg config.EngineConfig, logger *zap.Logger) *Engine {
	workers := cfg.WorkerConcurrency
	if workers <= 0 {
		workers = 4
	}
	browserSlots := cfg.BrowserConcurrency
	if browserSlots <= 0 {
		browserSlots = 1
	}
	timeout := cfg.ToolTimeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}

	return &Engine{
		sessions:    sessions,
		genericPool: semaphore.NewWeighted(int64(workers)),
		browserPool: semaphore.NewWeighted(int64(browserSlots)),
		timeout:     timeout,
		logger:      logger.Named("engine"),
		locks:       make(map[string]*sync.Mutex),
	}
}

// Do runs a task through its pool with the per-call timeout. A missing
// session triggers exactly one restart-and-retry, except for session start
// itself; a second failure propagates.
func (e *Engine) Do(ctx context.Context, task Task) (any, error) {
	pool := e.genericPool
	if task.Browser {
		pool = e.browserPool
	}
	if err := pool.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for %s pool: %w", poolName(task.Browser), err)
	}
	defer pool.Release(1)

	if task.Browser && task.SessionID != "" {
		lock := e.sessionLock(task.SessionID)
		lock.Lock()
		defer lock.Unlock()
	}

	out, err := e.runWithTimeout(ctx, task)
	if err == nil || !e.retryable(task, err) {
		return out, err
	}

	e.logger.Info("Session missing, restarting and retrying once",
		zap.String("tool", task.Tool),
		zap.String("session_id", task.SessionID))
	if _, startErr := e.sessions.StartSession(ctx, task.SessionID, schemas.SessionConfig{}); startErr != nil {
		return nil, fmt.Errorf("session restart failed: %w", startErr)
	}
	return e.runWithTimeout(ctx, task)
}

func (e *Engine) retryable(task Task, err error) bool {
	return task.Tool != "web_session_start" &&
		task.SessionID != "" &&
		errors.Is(err, browser.ErrNoActiveSession)
}

// runWithTimeout races the task against a timer. The timer is stopped on
// every outcome so a short task does not leave one pending.
func (e *Engine) runWithTimeout(ctx context.Context, task Task) (any, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	timer := time.NewTimer(e.timeout)
	defer timer.Stop()

	type outcome struct {
		out any
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		out, err := task.Run(runCtx)
		done <- outcome{out: out, err: err}
	}()

	select {
	case result := <-done:
		return result.out, result.err
	case <-timer.C:
		cancel()
		return nil, fmt.Errorf("tool %s timed out after %s", task.Tool, e.timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *Engine) sessionLock(sessionID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[sessionID] = lock
	}
	return lock
}

// ForgetSession drops the serialization lock for an ended session.
func (e *Engine) ForgetSession(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.locks, sessionID)
}

func poolName(isBrowser bool) string {
	if isBrowser {
		return "browser"
	}
	return "worker"
}
