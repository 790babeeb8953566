package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rmoura-dev/docflow/constants"
	"github.com/rmoura-dev/docflow/internal/common"
	"github.com/rmoura-dev/docflow/internal/entity"
)

// Per-class concurrency ceilings.
const (
	WorkflowConcurrency     = 5
	LedgerConcurrency       = 3
	EmbeddingConcurrency    = 2
	NotificationConcurrency = 1

	// the workflow class is additionally rate limited
	WorkflowRatePerSecond = 10

	// claims order priority descending, so notification jobs default below
	// the regular 0 and run behind everything else
	NotificationPriority = -1
)

// Stalled active jobs older than this are requeued on startup.
const stalledThreshold = 10 * time.Minute

// Manager owns the store and one worker pool per job class.
type Manager struct {
	store  *Store
	cfg    common.QueueConfig
	logger *slog.Logger

	mu    sync.Mutex
	pools map[constants.JobType]*WorkerPool

	pruneCancel context.CancelFunc
	pruneDone   chan struct{}
}

func NewManager(store *Store, cfg common.QueueConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:  store,
		cfg:    cfg,
		logger: logger,
		pools:  map[constants.JobType]*WorkerPool{},
	}
}

// Register wires a handler for one job class with its class defaults.
// Must be called before Start.
func (m *Manager) Register(jobType constants.JobType, handler Handler, onExhausted ExhaustedFunc) {
	opts := []WorkerOption{
		WithPollInterval(m.cfg.PollInterval),
		WithExhausted(onExhausted),
	}
	switch jobType {
	case constants.JobTypeWorkflow:
		opts = append(opts,
			WithWorkers(WorkflowConcurrency),
			WithRateLimit(WorkflowRatePerSecond, WorkflowRatePerSecond))
	case constants.JobTypeLedger:
		opts = append(opts, WithWorkers(LedgerConcurrency))
	case constants.JobTypeEmbedding:
		opts = append(opts, WithWorkers(EmbeddingConcurrency))
	case constants.JobTypeNotification:
		opts = append(opts, WithWorkers(NotificationConcurrency))
	}

	m.mu.Lock()
	m.pools[jobType] = NewWorkerPool(m.store, jobType, handler, m.logger, opts...)
	m.mu.Unlock()
}

// Submit enqueues a job. Resubmitting an existing ID is a no-op reported in
// the return value, never an error.
func (m *Manager) Submit(ctx context.Context, job *entity.Job) (bool, error) {
	if job.ID == "" {
		return false, common.NewAppError("INVALID_JOB", "job id is required", common.ErrInvalidInput)
	}
	if job.Type == constants.JobTypeNotification && job.Priority == 0 {
		job.Priority = NotificationPriority
	}
	inserted, err := m.store.Enqueue(ctx, job)
	if err != nil {
		return false, err
	}
	if !inserted {
		m.logger.Info("queue.duplicate_job", "job_id", job.ID, "job_type", string(job.Type))
	}
	return inserted, nil
}

// Start recovers stalled jobs, launches every registered pool, and begins
// the retention prune loop.
func (m *Manager) Start(ctx context.Context) error {
	requeued, err := m.store.RequeueStalled(ctx, stalledThreshold)
	if err != nil {
		return fmt.Errorf("recover stalled jobs: %w", err)
	}
	if requeued > 0 {
		m.logger.Warn("queue.stalled_requeued", "count", requeued)
	}

	m.mu.Lock()
	for _, pool := range m.pools {
		pool.Start(ctx)
	}
	m.mu.Unlock()

	pruneCtx, cancel := context.WithCancel(ctx)
	m.pruneCancel = cancel
	m.pruneDone = make(chan struct{})
	go m.pruneLoop(pruneCtx)
	return nil
}

func (m *Manager) pruneLoop(ctx context.Context) {
	defer close(m.pruneDone)
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := m.store.Prune(ctx, m.cfg.CompletedRetention, m.cfg.FailedRetention)
			if err != nil {
				m.logger.Error("queue.prune_failed", "error", err)
				continue
			}
			if removed > 0 {
				m.logger.Info("queue.pruned", "removed", removed)
			}
		}
	}
}

// Stats returns per-state counts for every job class.
func (m *Manager) Stats(ctx context.Context) (map[constants.JobType]map[constants.JobState]int, error) {
	all := map[constants.JobType]map[constants.JobState]int{}
	for _, jobType := range []constants.JobType{
		constants.JobTypeWorkflow,
		constants.JobTypeLedger,
		constants.JobTypeEmbedding,
		constants.JobTypeNotification,
	} {
		stats, err := m.store.Stats(ctx, jobType)
		if err != nil {
			return nil, err
		}
		all[jobType] = stats
	}
	return all, nil
}

// Shutdown stops the prune loop and drains every pool, bounded by ctx.
func (m *Manager) Shutdown(ctx context.Context) {
	if m.pruneCancel != nil {
		m.pruneCancel()
		<-m.pruneDone
	}
	m.mu.Lock()
	pools := make([]*WorkerPool, 0, len(m.pools))
	for _, p := range m.pools {
		pools = append(pools, p)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, pool := range pools {
		wg.Add(1)
		go func(p *WorkerPool) {
			defer wg.Done()
			p.Shutdown(ctx)
		}(pool)
	}
	wg.Wait()
}
