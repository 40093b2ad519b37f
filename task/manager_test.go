package task

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vidserve/config"
)

// mockProcessor is a Processor whose behavior each test injects.
type mockProcessor struct {
	processFunc func(ctx context.Context, t *Task) error
}

func (m *mockProcessor) Process(ctx context.Context, t *Task) error {
	if m.processFunc != nil {
		return m.processFunc(ctx, t)
	}
	return nil
}

func testConfig(workers int) *config.Config {
	return &config.Config{
		MaxConcurrentJobs: workers,
		DefaultQuality:    "medium",
		ThumbnailTimes:    []string{"00:00:01"},
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestManager_EnqueueAndGet(t *testing.T) {
	mgr := NewManager(testConfig(1), &mockProcessor{}, nil)

	require.NoError(t, mgr.EnqueueProcess(7))

	var found *Task
	mgr.tasks.Range(func(_, v interface{}) bool {
		found = v.(*Task)
		return false
	})
	require.NotNil(t, found)
	assert.NotEmpty(t, found.ID)
	assert.Equal(t, KindProcess, found.Kind)
	assert.Equal(t, uint(7), found.VideoID)
	assert.Equal(t, "medium", found.Options.Quality)

	got, ok := mgr.Get(found.ID)
	require.True(t, ok)
	assert.Equal(t, found.ID, got.ID)
}

func TestManager_ProcessTask(t *testing.T) {
	t.Run("successful processing", func(t *testing.T) {
		proc := &mockProcessor{
			processFunc: func(ctx context.Context, task *Task) error {
				time.Sleep(10 * time.Millisecond)
				return nil
			},
		}
		mgr := NewManager(testConfig(1), proc, nil)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		mgr.Start(ctx)

		task := New(KindProcess, 1, Options{})
		require.NoError(t, mgr.Enqueue(task))

		waitFor(t, time.Second, func() bool {
			status, _ := task.State()
			return status == StatusDone
		})
		_, msg := task.State()
		assert.Empty(t, msg)
		_, finished := task.Times()
		assert.False(t, finished.IsZero())
	})

	t.Run("failed processing", func(t *testing.T) {
		proc := &mockProcessor{
			processFunc: func(ctx context.Context, task *Task) error {
				return errors.New("pipeline exploded")
			},
		}
		mgr := NewManager(testConfig(1), proc, nil)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		mgr.Start(ctx)

		task := New(KindProcess, 1, Options{})
		require.NoError(t, mgr.Enqueue(task))

		waitFor(t, time.Second, func() bool {
			status, _ := task.State()
			return status == StatusFailed
		})
		_, msg := task.State()
		assert.Equal(t, "pipeline exploded", msg)
	})

	t.Run("panicking processor fails the task, not the worker", func(t *testing.T) {
		calls := 0
		var mu sync.Mutex
		proc := &mockProcessor{
			processFunc: func(ctx context.Context, task *Task) error {
				mu.Lock()
				calls++
				first := calls == 1
				mu.Unlock()
				if first {
					panic("boom")
				}
				return nil
			},
		}
		mgr := NewManager(testConfig(1), proc, nil)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		mgr.Start(ctx)

		bad := New(KindProcess, 1, Options{})
		good := New(KindProcess, 2, Options{})
		require.NoError(t, mgr.Enqueue(bad))
		require.NoError(t, mgr.Enqueue(good))

		waitFor(t, time.Second, func() bool {
			status, _ := good.State()
			return status == StatusDone
		})
		badStatus, badMsg := bad.State()
		assert.Equal(t, StatusFailed, badStatus)
		assert.Contains(t, badMsg, "task panicked")
	})
}

func TestManager_PerVideoExclusivity(t *testing.T) {
	var mu sync.Mutex
	running := map[uint]int{}
	overlapped := false

	proc := &mockProcessor{
		processFunc: func(ctx context.Context, task *Task) error {
			mu.Lock()
			running[task.VideoID]++
			if running[task.VideoID] > 1 {
				overlapped = true
			}
			mu.Unlock()

			time.Sleep(20 * time.Millisecond)

			mu.Lock()
			running[task.VideoID]--
			mu.Unlock()
			return nil
		},
	}
	mgr := NewManager(testConfig(3), proc, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mgr.Start(ctx)

	tasks := []*Task{
		New(KindProcess, 1, Options{}),
		New(KindThumbnail, 1, Options{}),
		New(KindProcess, 2, Options{}),
		New(KindCompress, 1, Options{}),
	}
	for _, task := range tasks {
		require.NoError(t, mgr.Enqueue(task))
	}

	waitFor(t, 2*time.Second, func() bool {
		for _, task := range tasks {
			if status, _ := task.State(); status != StatusDone {
				return false
			}
		}
		return true
	})
	assert.False(t, overlapped, "two tasks for the same video ran concurrently")
}

func TestManager_SkipsPastBusyVideo(t *testing.T) {
	release := make(chan struct{})
	order := make(chan uint, 3)

	proc := &mockProcessor{
		processFunc: func(ctx context.Context, task *Task) error {
			order <- task.VideoID
			if task.VideoID == 1 && task.Kind == KindProcess {
				<-release
			}
			return nil
		},
	}
	mgr := NewManager(testConfig(2), proc, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mgr.Start(ctx)

	require.NoError(t, mgr.Enqueue(New(KindProcess, 1, Options{})))
	assert.Equal(t, uint(1), <-order)

	// Video 1 is busy; its second task must not block video 2's.
	require.NoError(t, mgr.Enqueue(New(KindThumbnail, 1, Options{})))
	require.NoError(t, mgr.Enqueue(New(KindProcess, 2, Options{})))

	assert.Equal(t, uint(2), <-order)
	close(release)
	assert.Equal(t, uint(1), <-order)
}

func TestManager_Close(t *testing.T) {
	t.Run("rejects after close", func(t *testing.T) {
		mgr := NewManager(testConfig(1), &mockProcessor{}, nil)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		mgr.Start(ctx)

		require.NoError(t, mgr.Close(time.Second))
		assert.ErrorIs(t, mgr.Enqueue(New(KindProcess, 1, Options{})), ErrQueueClosed)
		assert.ErrorIs(t, mgr.EnqueueProcess(1), ErrQueueClosed)
	})

	t.Run("drains queued tasks", func(t *testing.T) {
		proc := &mockProcessor{
			processFunc: func(ctx context.Context, task *Task) error {
				time.Sleep(10 * time.Millisecond)
				return nil
			},
		}
		mgr := NewManager(testConfig(1), proc, nil)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		mgr.Start(ctx)

		tasks := []*Task{
			New(KindProcess, 1, Options{}),
			New(KindProcess, 2, Options{}),
			New(KindProcess, 3, Options{}),
		}
		for _, task := range tasks {
			require.NoError(t, mgr.Enqueue(task))
		}

		require.NoError(t, mgr.Close(2*time.Second))
		for _, task := range tasks {
			status, _ := task.State()
			assert.Equal(t, StatusDone, status)
		}
	})

	t.Run("drains despite cancelled start context", func(t *testing.T) {
		proc := &mockProcessor{
			processFunc: func(ctx context.Context, task *Task) error {
				time.Sleep(10 * time.Millisecond)
				return ctx.Err()
			},
		}
		mgr := NewManager(testConfig(1), proc, nil)
		ctx, cancel := context.WithCancel(context.Background())
		mgr.Start(ctx)

		tasks := []*Task{
			New(KindProcess, 1, Options{}),
			New(KindProcess, 2, Options{}),
			New(KindProcess, 3, Options{}),
		}
		for _, task := range tasks {
			require.NoError(t, mgr.Enqueue(task))
		}

		// A shutdown signal kills the start context, but queued and
		// in-flight work still runs out inside the grace period.
		cancel()
		require.NoError(t, mgr.Close(2*time.Second))
		for _, task := range tasks {
			status, _ := task.State()
			assert.Equal(t, StatusDone, status)
		}
	})

	t.Run("grace timeout", func(t *testing.T) {
		proc := &mockProcessor{
			processFunc: func(ctx context.Context, task *Task) error {
				<-ctx.Done()
				return ctx.Err()
			},
		}
		mgr := NewManager(testConfig(1), proc, nil)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		mgr.Start(ctx)

		require.NoError(t, mgr.Enqueue(New(KindProcess, 1, Options{})))
		time.Sleep(20 * time.Millisecond)

		err := mgr.Close(50 * time.Millisecond)
		assert.Error(t, err)
	})
}

// stubThrottler reports pressure for a fixed number of checks.
type stubThrottler struct {
	mu     sync.Mutex
	denies int
	checks int
}

func (s *stubThrottler) CheckResources() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks++
	if s.checks <= s.denies {
		return errors.New("host busy")
	}
	return nil
}

func TestManager_ThrottleWait(t *testing.T) {
	throttler := &stubThrottler{denies: 1}
	mgr := NewManager(testConfig(1), &mockProcessor{}, throttler)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mgr.Start(ctx)

	task := New(KindProcess, 1, Options{})
	require.NoError(t, mgr.Enqueue(task))

	// One denial then one pass; the task runs after the backoff.
	waitFor(t, 10*time.Second, func() bool {
		status, _ := task.State()
		return status == StatusDone
	})
	throttler.mu.Lock()
	assert.GreaterOrEqual(t, throttler.checks, 2)
	throttler.mu.Unlock()
}
