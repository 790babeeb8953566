package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmoura-dev/docflow/constants"
	"github.com/rmoura-dev/docflow/internal/common"
	"github.com/rmoura-dev/docflow/internal/entity"
)

func TestWorkerPoolCompletesJob(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	var processed atomic.Int32
	pool := NewWorkerPool(store, constants.JobTypeLedger,
		func(ctx context.Context, job *entity.Job) error {
			processed.Add(1)
			return nil
		}, nil,
		WithWorkers(2), WithPollInterval(10*time.Millisecond))

	_, err := store.Enqueue(ctx, ledgerJob("ok-1"))
	require.NoError(t, err)

	pool.Start(ctx)
	defer pool.Shutdown(context.Background())

	assert.Eventually(t, func() bool {
		job, err := store.GetByID(ctx, "ok-1")
		return err == nil && job != nil && job.State == constants.JobStateCompleted
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), processed.Load())
}

func TestWorkerPoolRetriesThenExhausts(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	var attempts atomic.Int32
	var mu sync.Mutex
	var exhaustedJobs []string

	pool := NewWorkerPool(store, constants.JobTypeLedger,
		func(ctx context.Context, job *entity.Job) error {
			attempts.Add(1)
			return errors.New("always fails")
		}, nil,
		WithWorkers(1),
		WithPollInterval(5*time.Millisecond),
		WithBackoffBase(5*time.Millisecond),
		WithExhausted(func(ctx context.Context, job *entity.Job, err error) {
			mu.Lock()
			exhaustedJobs = append(exhaustedJobs, job.ID)
			mu.Unlock()
		}))

	job := ledgerJob("hopeless")
	job.MaxAttempts = 3
	_, err := store.Enqueue(ctx, job)
	require.NoError(t, err)

	pool.Start(ctx)
	defer pool.Shutdown(context.Background())

	assert.Eventually(t, func() bool {
		got, err := store.GetByID(ctx, "hopeless")
		return err == nil && got != nil && got.State == constants.JobStateFailed
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, int32(3), attempts.Load())
	mu.Lock()
	assert.Equal(t, []string{"hopeless"}, exhaustedJobs, "exhaustion callback fires exactly once")
	mu.Unlock()

	got, err := store.GetByID(ctx, "hopeless")
	require.NoError(t, err)
	assert.Equal(t, "always fails", got.LastError)
}

func TestWorkerPoolShutdownStopsClaiming(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	var processed atomic.Int32
	pool := NewWorkerPool(store, constants.JobTypeLedger,
		func(ctx context.Context, job *entity.Job) error {
			processed.Add(1)
			return nil
		}, nil,
		WithWorkers(1), WithPollInterval(5*time.Millisecond))

	pool.Start(ctx)
	pool.Shutdown(context.Background())

	_, err := store.Enqueue(ctx, ledgerJob("after-shutdown"))
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), processed.Load())
}

func TestManagerRegistersAllClasses(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	cfg := common.QueueConfig{
		PollInterval:       5 * time.Millisecond,
		CompletedRetention: 24 * time.Hour,
		FailedRetention:    7 * 24 * time.Hour,
	}
	mgr := NewManager(store, cfg, nil)

	var handled atomic.Int32
	handler := func(ctx context.Context, job *entity.Job) error {
		handled.Add(1)
		return nil
	}
	for _, jobType := range []constants.JobType{
		constants.JobTypeWorkflow,
		constants.JobTypeLedger,
		constants.JobTypeEmbedding,
		constants.JobTypeNotification,
	} {
		mgr.Register(jobType, handler, nil)
	}

	require.NoError(t, mgr.Start(ctx))
	defer mgr.Shutdown(context.Background())

	_, err := mgr.Submit(ctx, &entity.Job{ID: "wf-1", Type: constants.JobTypeWorkflow})
	require.NoError(t, err)
	_, err = mgr.Submit(ctx, &entity.Job{ID: "note-1", Type: constants.JobTypeNotification})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return handled.Load() == 2
	}, 2*time.Second, 10*time.Millisecond)

	stats, err := mgr.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats[constants.JobTypeWorkflow][constants.JobStateCompleted])
	assert.Equal(t, 1, stats[constants.JobTypeNotification][constants.JobStateCompleted])
}

func TestManagerSubmitValidatesAndDefaultsPriority(t *testing.T) {
	store := openTestStore(t)
	mgr := NewManager(store, common.QueueConfig{}, nil)
	ctx := context.Background()

	_, err := mgr.Submit(ctx, &entity.Job{Type: constants.JobTypeLedger})
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrInvalidInput))

	inserted, err := mgr.Submit(ctx, &entity.Job{ID: "note-2", Type: constants.JobTypeNotification})
	require.NoError(t, err)
	assert.True(t, inserted)

	job, err := store.GetByID(ctx, "note-2")
	require.NoError(t, err)
	assert.Equal(t, NotificationPriority, job.Priority)
	// claims order priority descending; the default must sort behind the
	// regular priority 0
	assert.Negative(t, job.Priority)

	// duplicate submit is a reported no-op
	inserted, err = mgr.Submit(ctx, &entity.Job{ID: "note-2", Type: constants.JobTypeNotification})
	require.NoError(t, err)
	assert.False(t, inserted)
}
