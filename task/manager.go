package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"vidserve/config"
	"vidserve/logging"
	"vidserve/metrics"
)

var ErrQueueClosed = errors.New("task queue is closed")

// Processor runs a task to completion. Implemented by the media
// pipeline.
type Processor interface {
	Process(ctx context.Context, t *Task) error
}

// Throttler gates task starts on host resource headroom. Optional.
type Throttler interface {
	CheckResources() error
}

const throttleBackoff = 5 * time.Second

// Manager is a bounded in-process worker pool over a FIFO queue.
// Enqueue never blocks. At most one task per video id runs at a time;
// workers skip past tasks whose video is already in flight, so an
// unrelated task behind a busy one is not held up.
type Manager struct {
	cfg       *config.Config
	processor Processor
	throttler Throttler

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []*Task
	inflight map[uint]bool
	closed   bool
	cancel   context.CancelFunc

	tasks sync.Map // task ID -> *Task
	wg    sync.WaitGroup
}

func NewManager(cfg *config.Config, processor Processor, throttler Throttler) *Manager {
	m := &Manager{
		cfg:       cfg,
		processor: processor,
		throttler: throttler,
		inflight:  map[uint]bool{},
	}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Start launches the worker pool. Workers run on their own context,
// detached from ctx's cancellation, so a shutdown signal does not abort
// in-flight work; Close cancels them once the grace period is spent.
func (m *Manager) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.cancel = cancel
	for i := 0; i < m.cfg.MaxConcurrentJobs; i++ {
		m.wg.Add(1)
		go m.worker(runCtx, i)
	}
	logging.Infof("task manager started with %d workers", m.cfg.MaxConcurrentJobs)
}

// Enqueue appends the task and returns immediately. The queue has no
// upper bound; admission control happens at the HTTP layer.
func (m *Manager) Enqueue(t *Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrQueueClosed
	}
	m.queue = append(m.queue, t)
	m.tasks.Store(t.ID, t)
	metrics.QueueDepth.Set(float64(len(m.queue)))
	m.cond.Broadcast()
	return nil
}

// EnqueueProcess queues a full pipeline run for a video using the
// configured defaults.
func (m *Manager) EnqueueProcess(videoID uint) error {
	t := New(KindProcess, videoID, Options{
		Quality:        m.cfg.DefaultQuality,
		ProducePackage: m.cfg.ProducePackage,
		ThumbnailTimes: m.cfg.ThumbnailTimes,
	})
	if err := m.Enqueue(t); err != nil {
		return err
	}
	logging.Infow("task enqueued", "taskId", t.ID, "kind", t.Kind, "videoId", videoID)
	return nil
}

// Get returns a task by id.
func (m *Manager) Get(id string) (*Task, bool) {
	v, ok := m.tasks.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Task), true
}

// next pops the first queued task whose video is not already running.
// Returns nil when the caller should wait, and done=true when the
// worker should exit.
func (m *Manager) next() (t *Task, done bool) {
	for i, queued := range m.queue {
		if m.inflight[queued.VideoID] {
			continue
		}
		m.queue = append(m.queue[:i], m.queue[i+1:]...)
		m.inflight[queued.VideoID] = true
		metrics.QueueDepth.Set(float64(len(m.queue)))
		return queued, false
	}
	if m.closed && len(m.queue) == 0 {
		return nil, true
	}
	return nil, false
}

func (m *Manager) worker(ctx context.Context, id int) {
	defer m.wg.Done()

	// Wake blocked waits when the context dies.
	stop := context.AfterFunc(ctx, func() {
		m.cond.Broadcast()
	})
	defer stop()

	for {
		m.mu.Lock()
		var t *Task
		for {
			if ctx.Err() != nil {
				m.mu.Unlock()
				return
			}
			var done bool
			t, done = m.next()
			if done {
				m.mu.Unlock()
				return
			}
			if t != nil {
				break
			}
			m.cond.Wait()
		}
		m.mu.Unlock()

		m.throttleWait(ctx)
		m.runTask(ctx, t)

		m.mu.Lock()
		delete(m.inflight, t.VideoID)
		m.cond.Broadcast()
		m.mu.Unlock()
	}
}

// throttleWait blocks until the host has headroom or the context is
// cancelled.
func (m *Manager) throttleWait(ctx context.Context) {
	if m.throttler == nil {
		return
	}
	for {
		err := m.throttler.CheckResources()
		if err == nil {
			return
		}
		logging.Warnf("task start delayed: %v", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(throttleBackoff):
		}
	}
}

func (m *Manager) runTask(ctx context.Context, t *Task) {
	t.markRunning()
	metrics.ActiveJobs.Inc()
	defer metrics.ActiveJobs.Dec()

	err := m.process(ctx, t)
	t.markFinished(err)

	if err != nil {
		metrics.TasksTotal.WithLabelValues(string(t.Kind), "failed").Inc()
		logging.Errorw("task failed", "taskId", t.ID, "kind", t.Kind,
			"videoId", t.VideoID, "error", err)
		return
	}
	started, finished := t.Times()
	metrics.TasksTotal.WithLabelValues(string(t.Kind), "done").Inc()
	logging.Infow("task done", "taskId", t.ID, "kind", t.Kind,
		"videoId", t.VideoID, "elapsed", finished.Sub(started))
}

// process isolates processor panics so one bad task cannot take a
// worker down.
func (m *Manager) process(ctx context.Context, t *Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return m.processor.Process(ctx, t)
}

// Close stops admission and waits up to grace for in-flight and queued
// tasks to drain. Once the grace period is spent the worker context is
// cancelled, aborting whatever is still running.
func (m *Manager) Close(grace time.Duration) error {
	m.mu.Lock()
	m.closed = true
	m.cond.Broadcast()
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(grace):
		if m.cancel != nil {
			m.cancel()
		}
		<-done
		return fmt.Errorf("task manager did not drain within %s", grace)
	}
	if m.cancel != nil {
		m.cancel()
	}
	return nil
}
