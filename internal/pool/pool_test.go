package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessAllReturnsOneResultPerTaskInOrder(t *testing.T) {
	p := New[int](nil,
		WithMaxConcurrency[int](3),
		WithMaxRetries[int](0),
	)

	var tasks []Task[int]
	for i := 0; i < 20; i++ {
		n := i
		tasks = append(tasks, Task[int]{
			ID: fmt.Sprintf("task-%d", n),
			Run: func(ctx context.Context) (int, error) {
				return n * 2, nil
			},
		})
	}
	p.AddBatch(tasks)

	results := p.ProcessAll(context.Background())
	require.Len(t, results, 20)
	for i, r := range results {
		assert.Equal(t, fmt.Sprintf("task-%d", i), r.TaskID)
		assert.True(t, r.Success)
		assert.Equal(t, i*2, r.Result)
	}
}

func TestRetryThenSuccessDoesNotExhaust(t *testing.T) {
	var exhausted atomic.Int32
	var attempts atomic.Int32

	p := New[string](nil,
		WithMaxRetries[string](2), // 3 attempts total
		WithRetryDelay[string](time.Millisecond),
		WithExhausted[string](func(taskID string, err error) {
			exhausted.Add(1)
		}),
	)
	p.Add(Task[string]{
		ID: "flaky",
		Run: func(ctx context.Context) (string, error) {
			if attempts.Add(1) < 3 {
				return "", errors.New("transient")
			}
			return "ok", nil
		},
	})

	results := p.ProcessAll(context.Background())
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
	assert.Equal(t, "ok", results[0].Result)
	assert.Equal(t, 2, results[0].Retries)
	assert.Equal(t, int32(0), exhausted.Load(), "exhaustion hook must not fire on eventual success")
}

func TestExhaustedFiresExactlyOnceAfterLastAttempt(t *testing.T) {
	var mu sync.Mutex
	var calls []string
	var attempts atomic.Int32

	p := New[string](nil,
		WithMaxRetries[string](2),
		WithRetryDelay[string](time.Millisecond),
		WithExhausted[string](func(taskID string, err error) {
			mu.Lock()
			calls = append(calls, taskID)
			mu.Unlock()
			// all attempts must already have run
			assert.Equal(t, int32(3), attempts.Load())
		}),
	)
	p.Add(Task[string]{
		ID: "doomed",
		Run: func(ctx context.Context) (string, error) {
			attempts.Add(1)
			return "", errors.New("corrupt input")
		},
	})

	results := p.ProcessAll(context.Background())
	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.ErrorContains(t, results[0].Err, "corrupt input")
	assert.Equal(t, []string{"doomed"}, calls)
}

func TestMixedBatchScenario(t *testing.T) {
	// 3 tasks: 2 succeed immediately, 1 fails twice then succeeds on
	// attempt 3 (max attempts 3) -> 3 successes, 0 exhaustion calls.
	var exhausted atomic.Int32
	var flakyAttempts atomic.Int32

	p := New[string](nil,
		WithMaxConcurrency[string](2),
		WithMaxRetries[string](2),
		WithRetryDelay[string](time.Millisecond),
		WithExhausted[string](func(string, error) { exhausted.Add(1) }),
	)
	ok := func(ctx context.Context) (string, error) { return "done", nil }
	p.AddBatch([]Task[string]{
		{ID: "a", Run: ok},
		{ID: "b", Run: func(ctx context.Context) (string, error) {
			if flakyAttempts.Add(1) < 3 {
				return "", errors.New("not yet")
			}
			return "done", nil
		}},
		{ID: "c", Run: ok},
	})

	results := p.ProcessAll(context.Background())
	require.Len(t, results, 3)
	for _, r := range results {
		assert.True(t, r.Success, "task %s", r.TaskID)
	}
	assert.Equal(t, int32(0), exhausted.Load())
}

func TestConcurrencyCeilingIsRespected(t *testing.T) {
	var current, peak atomic.Int32

	p := New[struct{}](nil,
		WithMaxConcurrency[struct{}](2),
		WithMaxRetries[struct{}](0),
	)
	var tasks []Task[struct{}]
	for i := 0; i < 10; i++ {
		tasks = append(tasks, Task[struct{}]{
			ID: fmt.Sprintf("t%d", i),
			Run: func(ctx context.Context) (struct{}, error) {
				n := current.Add(1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				current.Add(-1)
				return struct{}{}, nil
			},
		})
	}
	p.AddBatch(tasks)
	p.ProcessAll(context.Background())

	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestAttemptTimeoutCountsAsFailure(t *testing.T) {
	p := New[string](nil,
		WithMaxRetries[string](0),
		WithTaskTimeout[string](20*time.Millisecond),
	)
	p.Add(Task[string]{
		ID: "hang",
		Run: func(ctx context.Context) (string, error) {
			select {
			case <-time.After(time.Second):
				return "too late", nil
			case <-ctx.Done():
				return "", ctx.Err()
			}
		},
	})

	results := p.ProcessAll(context.Background())
	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.ErrorIs(t, results[0].Err, context.DeadlineExceeded)
}

func TestProgressCallbackReportsAggregateCounts(t *testing.T) {
	var mu sync.Mutex
	var snapshots []Stats

	p := New[int](nil,
		WithMaxConcurrency[int](1),
		WithMaxRetries[int](0),
		WithProgress[int](func(s Stats) {
			mu.Lock()
			snapshots = append(snapshots, s)
			mu.Unlock()
		}),
	)
	for i := 0; i < 3; i++ {
		p.Add(Task[int]{ID: fmt.Sprintf("t%d", i), Run: func(ctx context.Context) (int, error) { return 1, nil }})
	}
	p.ProcessAll(context.Background())

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, snapshots)
	last := snapshots[len(snapshots)-1]
	assert.Equal(t, 3, last.Total)
	assert.Equal(t, 3, last.Completed)
	assert.Equal(t, 0, last.Pending)
	assert.Equal(t, 0, last.InProgress)
}

func TestProgressCallbackMayCallBackIntoPool(t *testing.T) {
	var calls atomic.Int32

	var p *Pool[int]
	p = New[int](nil,
		WithMaxConcurrency[int](2),
		WithMaxRetries[int](0),
		WithProgress[int](func(s Stats) {
			// a consumer polling the pool from its own callback must not
			// deadlock
			got := p.Stats()
			if got.Total != s.Total {
				t.Errorf("snapshot total %d, live total %d", s.Total, got.Total)
			}
			calls.Add(1)
		}),
	)
	for i := 0; i < 4; i++ {
		p.Add(Task[int]{ID: fmt.Sprintf("t%d", i), Run: func(ctx context.Context) (int, error) { return 1, nil }})
	}

	done := make(chan struct{})
	go func() {
		p.ProcessAll(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("ProcessAll did not finish; progress callback deadlocked")
	}
	assert.Positive(t, calls.Load())
}

func TestPanicInTaskIsCapturedAsFailure(t *testing.T) {
	p := New[int](nil, WithMaxRetries[int](0))
	p.Add(Task[int]{
		ID:  "boom",
		Run: func(ctx context.Context) (int, error) { panic("malformed input") },
	})

	results := p.ProcessAll(context.Background())
	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.ErrorContains(t, results[0].Err, "task panic")
}
