package task

import (
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"
)

type Kind string

const (
	KindProcess   Kind = "process"
	KindProbe     Kind = "probe"
	KindCompress  Kind = "compress"
	KindThumbnail Kind = "thumbnail"
	KindPackage   Kind = "package"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Options selects what the pipeline produces for one task.
type Options struct {
	Quality        string
	ProducePackage bool
	ThumbnailTimes []string
}

// Task is one unit of media work bound to a single video record. The
// identity fields are immutable after New; the run state is guarded by
// mu because workers update it while status pollers read it.
type Task struct {
	ID        string
	Kind      Kind
	VideoID   uint
	Options   Options
	CreatedAt time.Time

	mu         sync.Mutex
	status     Status
	errMsg     string
	startedAt  time.Time
	finishedAt time.Time
}

func New(kind Kind, videoID uint, opts Options) *Task {
	return &Task{
		ID:        shortuuid.New(),
		Kind:      kind,
		VideoID:   videoID,
		Options:   opts,
		status:    StatusPending,
		CreatedAt: time.Now(),
	}
}

// State returns the task's current status and failure message.
func (t *Task) State() (Status, string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status, t.errMsg
}

// Times reports when the task started and finished running. Zero
// values mean it has not yet.
func (t *Task) Times() (started, finished time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.startedAt, t.finishedAt
}

func (t *Task) markRunning() {
	t.mu.Lock()
	t.status = StatusRunning
	t.startedAt = time.Now()
	t.mu.Unlock()
}

func (t *Task) markFinished(err error) {
	t.mu.Lock()
	t.finishedAt = time.Now()
	if err != nil {
		t.status = StatusFailed
		t.errMsg = err.Error()
	} else {
		t.status = StatusDone
	}
	t.mu.Unlock()
}
