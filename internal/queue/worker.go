package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/rmoura-dev/docflow/constants"
	"github.com/rmoura-dev/docflow/internal/entity"
)

// Handler executes one job. A returned error counts as a failed attempt.
type Handler func(ctx context.Context, job *entity.Job) error

// ExhaustedFunc fires once when a job spends its whole attempt budget.
// Handlers use it to record the failure on the owning entity.
type ExhaustedFunc func(ctx context.Context, job *entity.Job, err error)

// WorkerPool drains one job class from the store with a fixed number of
// workers, an optional rate limit, and exponential backoff between attempts.
type WorkerPool struct {
	store        *Store
	jobType      constants.JobType
	handler      Handler
	onExhausted  ExhaustedFunc
	logger       *slog.Logger
	workers      int
	pollInterval time.Duration
	jobTimeout   time.Duration
	backoffBase  time.Duration
	limiter      *rate.Limiter

	wg     sync.WaitGroup
	cancel context.CancelFunc
	once   sync.Once
}

type WorkerOption func(*WorkerPool)

func WithWorkers(n int) WorkerOption {
	return func(w *WorkerPool) {
		if n > 0 {
			w.workers = n
		}
	}
}

func WithPollInterval(d time.Duration) WorkerOption {
	return func(w *WorkerPool) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

func WithJobTimeout(d time.Duration) WorkerOption {
	return func(w *WorkerPool) {
		if d > 0 {
			w.jobTimeout = d
		}
	}
}

func WithBackoffBase(d time.Duration) WorkerOption {
	return func(w *WorkerPool) {
		if d > 0 {
			w.backoffBase = d
		}
	}
}

// WithRateLimit caps job starts across all workers of the pool.
func WithRateLimit(perSecond float64, burst int) WorkerOption {
	return func(w *WorkerPool) {
		if perSecond > 0 {
			w.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

func WithExhausted(fn ExhaustedFunc) WorkerOption {
	return func(w *WorkerPool) { w.onExhausted = fn }
}

func NewWorkerPool(store *Store, jobType constants.JobType, handler Handler, logger *slog.Logger, opts ...WorkerOption) *WorkerPool {
	if logger == nil {
		logger = slog.Default()
	}
	w := &WorkerPool{
		store:        store,
		jobType:      jobType,
		handler:      handler,
		logger:       logger.With("job_type", string(jobType)),
		workers:      1,
		pollInterval: 500 * time.Millisecond,
		jobTimeout:   3 * time.Minute,
		backoffBase:  2 * time.Second,
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Start launches the workers. Idempotent.
func (w *WorkerPool) Start(ctx context.Context) {
	w.once.Do(func() {
		ctx, w.cancel = context.WithCancel(ctx)
		for i := 0; i < w.workers; i++ {
			w.wg.Add(1)
			go func(workerID int) {
				defer w.wg.Done()
				w.logger.Info("worker started", "worker_id", workerID)
				w.loop(ctx, workerID)
				w.logger.Info("worker stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

func (w *WorkerPool) loop(ctx context.Context, workerID int) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		job, err := w.store.Claim(ctx, w.jobType)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue.claim_failed", "worker_id", workerID, "error", err)
		}
		if job == nil {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			continue
		}

		if w.limiter != nil {
			if err := w.limiter.Wait(ctx); err != nil {
				return
			}
		}
		w.runJob(ctx, workerID, job)
	}
}

func (w *WorkerPool) runJob(ctx context.Context, workerID int, job *entity.Job) {
	start := time.Now()
	jobCtx, cancel := context.WithTimeout(ctx, w.jobTimeout)
	err := w.handler(jobCtx, job)
	cancel()

	if err == nil {
		if cErr := w.store.Complete(context.WithoutCancel(ctx), job.ID); cErr != nil {
			w.logger.Error("queue.complete_failed", "job_id", job.ID, "error", cErr)
		}
		w.logger.Info("queue.job_done",
			"worker_id", workerID,
			"job_id", job.ID,
			"attempt", job.Attempts,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return
	}

	exhausted, fErr := w.store.Fail(context.WithoutCancel(ctx), job.ID, err, w.backoffBase)
	if fErr != nil {
		w.logger.Error("queue.fail_update_failed", "job_id", job.ID, "error", fErr)
		return
	}
	if exhausted {
		w.logger.Error("queue.job_exhausted",
			"worker_id", workerID,
			"job_id", job.ID,
			"attempts", job.Attempts,
			"error", err,
		)
		if w.onExhausted != nil {
			w.onExhausted(context.WithoutCancel(ctx), job, err)
		}
		return
	}
	w.logger.Warn("queue.job_retry",
		"worker_id", workerID,
		"job_id", job.ID,
		"attempt", job.Attempts,
		"error", err,
	)
}

// Shutdown stops claiming and waits for in-flight jobs, bounded by ctx.
func (w *WorkerPool) Shutdown(ctx context.Context) {
	if w.cancel != nil {
		w.cancel()
	}
	done := make(chan struct{})
	go func() { defer close(done); w.wg.Wait() }()

	select {
	case <-ctx.Done():
		w.logger.Warn("shutdown interrupted by context")
	case <-done:
		w.logger.Info("queue drained, shutdown complete")
	}
}
