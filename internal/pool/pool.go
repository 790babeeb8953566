package pool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Task is a unit of conversion work. Run must honor ctx cancellation;
// an attempt whose ctx expires is counted as a failed attempt.
type Task[T any] struct {
	ID  string
	Run func(ctx context.Context) (T, error)
}

// TaskResult is the outcome for a single task after all attempts.
type TaskResult[T any] struct {
	TaskID  string
	Success bool
	Result  T
	Err     error
	Retries int // attempts beyond the first
}

// Stats is an aggregate snapshot delivered to the progress callback.
type Stats struct {
	Total      int
	Completed  int
	Failed     int
	InProgress int
	Pending    int
}

// ProgressFunc receives a stats snapshot on every task state transition.
type ProgressFunc func(Stats)

// ExhaustedFunc fires exactly once per task, only after every attempt has
// failed. It is the hook for permanently rejecting a source, distinct from
// per-attempt failure.
type ExhaustedFunc func(taskID string, err error)

// Pool executes a batch of independent tasks under a concurrency ceiling,
// retrying each task with exponential backoff and isolating every attempt
// in its own goroutine with a hard timeout.
type Pool[T any] struct {
	logger         *slog.Logger
	maxConcurrency int
	maxRetries     int
	retryDelay     time.Duration
	taskTimeout    time.Duration
	onProgress     ProgressFunc
	onExhausted    ExhaustedFunc

	mu      sync.Mutex
	queue   []Task[T]
	pending int
	running int
	done    int
	failed  int
}

type Option[T any] func(*Pool[T])

func WithMaxConcurrency[T any](n int) Option[T] {
	return func(p *Pool[T]) {
		if n > 0 {
			p.maxConcurrency = n
		}
	}
}

// WithMaxRetries sets how many times a failed task is retried after its
// first attempt.
func WithMaxRetries[T any](n int) Option[T] {
	return func(p *Pool[T]) {
		if n >= 0 {
			p.maxRetries = n
		}
	}
}

func WithRetryDelay[T any](d time.Duration) Option[T] {
	return func(p *Pool[T]) {
		if d > 0 {
			p.retryDelay = d
		}
	}
}

// WithTaskTimeout bounds a single attempt. On expiry the attempt counts as
// failed and its goroutine is abandoned.
func WithTaskTimeout[T any](d time.Duration) Option[T] {
	return func(p *Pool[T]) {
		if d > 0 {
			p.taskTimeout = d
		}
	}
}

func WithProgress[T any](fn ProgressFunc) Option[T] {
	return func(p *Pool[T]) { p.onProgress = fn }
}

func WithExhausted[T any](fn ExhaustedFunc) Option[T] {
	return func(p *Pool[T]) { p.onExhausted = fn }
}

func New[T any](logger *slog.Logger, opts ...Option[T]) *Pool[T] {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool[T]{
		logger:         logger,
		maxConcurrency: 4,
		maxRetries:     3,
		retryDelay:     time.Second,
		taskTimeout:    60 * time.Second,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Add enqueues a single task without starting execution.
func (p *Pool[T]) Add(task Task[T]) {
	p.mu.Lock()
	p.queue = append(p.queue, task)
	p.mu.Unlock()
}

// AddBatch enqueues tasks without starting execution.
func (p *Pool[T]) AddBatch(tasks []Task[T]) {
	p.mu.Lock()
	p.queue = append(p.queue, tasks...)
	p.mu.Unlock()
}

// Stats returns the current aggregate counts.
func (p *Pool[T]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statsLocked()
}

func (p *Pool[T]) statsLocked() Stats {
	pending := len(p.queue) + p.pending
	return Stats{
		Total:      pending + p.running + p.done + p.failed,
		Completed:  p.done,
		Failed:     p.failed,
		InProgress: p.running,
		Pending:    pending,
	}
}

// transition applies a state change under the lock and delivers the
// resulting snapshot to the progress callback after releasing it, so the
// callback may call back into the pool.
func (p *Pool[T]) transition(mutate func()) {
	p.mu.Lock()
	mutate()
	stats := p.statsLocked()
	p.mu.Unlock()
	if p.onProgress != nil {
		p.onProgress(stats)
	}
}

// ProcessAll runs every queued task to completion and returns exactly one
// result per task, in the order the tasks were added. Cancelling ctx stops
// scheduling new attempts; tasks not yet finished are reported as failed.
func (p *Pool[T]) ProcessAll(ctx context.Context) []TaskResult[T] {
	p.mu.Lock()
	tasks := p.queue
	p.queue = nil
	p.pending = len(tasks)
	p.mu.Unlock()

	results := make([]TaskResult[T], len(tasks))
	sem := make(chan struct{}, p.maxConcurrency)
	var wg sync.WaitGroup

	for i, task := range tasks {
		wg.Add(1)
		go func(idx int, t Task[T]) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[idx] = p.executeTask(ctx, t)
		}(i, task)
	}
	wg.Wait()
	return results
}

// executeTask runs one task through its retry budget.
func (p *Pool[T]) executeTask(ctx context.Context, task Task[T]) TaskResult[T] {
	p.transition(func() {
		p.pending--
		p.running++
	})

	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			delay := p.retryDelay * (1 << (attempt - 1))
			p.logger.Debug("pool.task.retry", "task_id", task.ID, "attempt", attempt+1, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				lastErr = ctx.Err()
				return p.finishFailed(task, attempt, lastErr)
			}
		}

		result, err := p.runAttempt(ctx, task)
		if err == nil {
			p.transition(func() {
				p.running--
				p.done++
			})
			return TaskResult[T]{TaskID: task.ID, Success: true, Result: result, Retries: attempt}
		}
		lastErr = err
		if attempt == 0 {
			p.logger.Warn("pool.task.attempt_failed", "task_id", task.ID, "attempt", attempt+1, "error", err)
		}
		if ctx.Err() != nil {
			return p.finishFailed(task, attempt, lastErr)
		}
	}
	return p.finishFailed(task, p.maxRetries, lastErr)
}

func (p *Pool[T]) finishFailed(task Task[T], attempt int, err error) TaskResult[T] {
	p.logger.Error("pool.task.exhausted", "task_id", task.ID, "attempts", attempt+1, "error", err)
	if p.onExhausted != nil {
		p.onExhausted(task.ID, err)
	}
	p.transition(func() {
		p.running--
		p.failed++
	})
	return TaskResult[T]{TaskID: task.ID, Success: false, Err: err, Retries: attempt}
}

// runAttempt isolates one attempt in its own goroutine under the hard
// timeout. On expiry the result is abandoned and the attempt fails; the
// goroutine is left to observe its cancelled context.
func (p *Pool[T]) runAttempt(ctx context.Context, task Task[T]) (T, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, p.taskTimeout)
	defer cancel()

	type outcome struct {
		result T
		err    error
	}
	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				var zero T
				ch <- outcome{result: zero, err: fmt.Errorf("task panic: %v", r)}
			}
		}()
		res, err := task.Run(attemptCtx)
		ch <- outcome{result: res, err: err}
	}()

	select {
	case out := <-ch:
		return out.result, out.err
	case <-attemptCtx.Done():
		var zero T
		return zero, fmt.Errorf("task %s: %w", task.ID, attemptCtx.Err())
	}
}
