package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vidserve/config"
	"vidserve/ffmpeg"
	"vidserve/store"
	"vidserve/task"
)

// fakeRunner substitutes the subprocess layer; each func defaults to
// success.
type fakeRunner struct {
	probeFunc     func(ctx context.Context, inputPath string) (*ffmpeg.ProbeResult, error)
	compressFunc  func(ctx context.Context, inputPath, outputPath, quality string) error
	thumbnailFunc func(ctx context.Context, inputPath, outputPath, ts string) error
	packageFunc   func(ctx context.Context, inputPath, playlistPath string) error
}

func (f *fakeRunner) Probe(ctx context.Context, inputPath string) (*ffmpeg.ProbeResult, error) {
	if f.probeFunc != nil {
		return f.probeFunc(ctx, inputPath)
	}
	return &ffmpeg.ProbeResult{
		Duration: 120, Width: 1280, Height: 720,
		Codec: "h264", BitRate: 1_000_000, FormatName: "mov,mp4", FPS: 30,
	}, nil
}

func (f *fakeRunner) Compress(ctx context.Context, inputPath, outputPath, quality string) error {
	if f.compressFunc != nil {
		return f.compressFunc(ctx, inputPath, outputPath, quality)
	}
	return nil
}

func (f *fakeRunner) Thumbnail(ctx context.Context, inputPath, outputPath, ts string) error {
	if f.thumbnailFunc != nil {
		return f.thumbnailFunc(ctx, inputPath, outputPath, ts)
	}
	return nil
}

func (f *fakeRunner) PackageHLS(ctx context.Context, inputPath, playlistPath string) error {
	if f.packageFunc != nil {
		return f.packageFunc(ctx, inputPath, playlistPath)
	}
	return nil
}

// recordingNotifier captures terminal notifications.
type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) Notify(videoID uint, status store.VideoStatus, cause string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, string(status))
}

func (n *recordingNotifier) last(t *testing.T) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.events)
	return n.events[len(n.events)-1]
}

func newTestPipeline(t *testing.T, runner MediaRunner) (*Processor, *store.VideoStore, *recordingNotifier, *config.Config) {
	t.Helper()
	root := t.TempDir()
	cfg := &config.Config{
		DataDir:        filepath.Join(root, "data"),
		UploadDir:      filepath.Join(root, "uploads"),
		DefaultQuality: "medium",
		ThumbnailTimes: []string{"00:00:01", "00:00:05"},
	}
	db, err := store.Open(cfg.DatabasePath())
	require.NoError(t, err)
	videos := store.NewVideoStore(db)
	notifier := &recordingNotifier{}
	return New(cfg, videos, runner, notifier), videos, notifier, cfg
}

func newTestVideo(t *testing.T, videos *store.VideoStore) *store.Video {
	t.Helper()
	v := &store.Video{
		SessionID:  "s1",
		SourcePath: "/uploads/videos/original_s1_movie.mp4",
		Status:     store.StatusProcessing,
	}
	require.NoError(t, videos.Create(v))
	return v
}

func processTask(videoID uint, opts task.Options) *task.Task {
	return task.New(task.KindProcess, videoID, opts)
}

func TestPipeline_FullRun(t *testing.T) {
	p, videos, notifier, _ := newTestPipeline(t, &fakeRunner{})
	v := newTestVideo(t, videos)

	err := p.Process(context.Background(), processTask(v.ID, task.Options{
		Quality:        "high",
		ThumbnailTimes: []string{"00:00:01", "00:00:05"},
	}))
	require.NoError(t, err)

	got, err := videos.Get(v.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusProcessed, got.Status)
	assert.Empty(t, got.Error)
	require.NotNil(t, got.ProcessedAt)

	assert.Contains(t, got.Artifacts, store.ArtifactCompressed)
	assert.Contains(t, got.Artifacts, "thumbnail_0")
	assert.Contains(t, got.Artifacts, "thumbnail_1")
	assert.NotContains(t, got.Artifacts, store.ArtifactPackage)

	assert.Equal(t, float64(120), got.Duration)
	assert.Equal(t, "1280x720", got.Resolution())

	assert.Equal(t, "processed", notifier.last(t))
}

func TestPipeline_ProbeFailureAborts(t *testing.T) {
	compressed := false
	runner := &fakeRunner{
		probeFunc: func(ctx context.Context, inputPath string) (*ffmpeg.ProbeResult, error) {
			return nil, errors.New("moov atom not found")
		},
		compressFunc: func(ctx context.Context, inputPath, outputPath, quality string) error {
			compressed = true
			return nil
		},
	}
	p, videos, notifier, _ := newTestPipeline(t, runner)
	v := newTestVideo(t, videos)

	err := p.Process(context.Background(), processTask(v.ID, task.Options{}))
	require.Error(t, err)

	got, err := videos.Get(v.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusError, got.Status)
	assert.Contains(t, got.Error, "moov atom not found")
	assert.False(t, compressed, "compress must not run after a probe failure")
	assert.Equal(t, "error", notifier.last(t))
}

func TestPipeline_CompressFailureKeepsThumbnails(t *testing.T) {
	runner := &fakeRunner{
		compressFunc: func(ctx context.Context, inputPath, outputPath, quality string) error {
			return errors.New("encoder crashed")
		},
	}
	p, videos, notifier, _ := newTestPipeline(t, runner)
	v := newTestVideo(t, videos)

	err := p.Process(context.Background(), processTask(v.ID, task.Options{
		ThumbnailTimes: []string{"00:00:01"},
	}))
	require.Error(t, err)

	got, err := videos.Get(v.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusError, got.Status)
	assert.Contains(t, got.Error, "encoder crashed")
	// The thumbnail produced alongside the failing compression stays.
	assert.Contains(t, got.Artifacts, "thumbnail_0")
	assert.NotContains(t, got.Artifacts, store.ArtifactCompressed)
	assert.Equal(t, "error", notifier.last(t))
}

func TestPipeline_BadThumbnailTimestampsSkipped(t *testing.T) {
	runner := &fakeRunner{
		thumbnailFunc: func(ctx context.Context, inputPath, outputPath, ts string) error {
			if ts == "00:05:00" {
				return errors.New("timestamp past end of stream")
			}
			return nil
		},
	}
	p, videos, _, _ := newTestPipeline(t, runner)
	v := newTestVideo(t, videos)

	err := p.Process(context.Background(), processTask(v.ID, task.Options{
		ThumbnailTimes: []string{"00:00:01", "00:05:00", "00:00:10"},
	}))
	require.NoError(t, err)

	got, err := videos.Get(v.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusProcessed, got.Status)
	assert.Contains(t, got.Artifacts, "thumbnail_0")
	assert.NotContains(t, got.Artifacts, "thumbnail_1")
	assert.Contains(t, got.Artifacts, "thumbnail_2")
}

func TestPipeline_AllThumbnailsFailingStillSucceeds(t *testing.T) {
	runner := &fakeRunner{
		thumbnailFunc: func(ctx context.Context, inputPath, outputPath, ts string) error {
			return errors.New("no video stream")
		},
	}
	p, videos, _, _ := newTestPipeline(t, runner)
	v := newTestVideo(t, videos)

	err := p.Process(context.Background(), processTask(v.ID, task.Options{
		ThumbnailTimes: []string{"00:00:01"},
	}))
	require.NoError(t, err)

	got, err := videos.Get(v.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusProcessed, got.Status)
}

func TestPipeline_PackageRequested(t *testing.T) {
	t.Run("packages the compressed rendition", func(t *testing.T) {
		var packagedInput string
		runner := &fakeRunner{
			packageFunc: func(ctx context.Context, inputPath, playlistPath string) error {
				packagedInput = inputPath
				return nil
			},
		}
		p, videos, _, cfg := newTestPipeline(t, runner)
		v := newTestVideo(t, videos)

		err := p.Process(context.Background(), processTask(v.ID, task.Options{
			ProducePackage: true,
		}))
		require.NoError(t, err)

		got, err := videos.Get(v.ID)
		require.NoError(t, err)
		assert.Equal(t, store.StatusProcessed, got.Status)
		assert.Contains(t, got.Artifacts, store.ArtifactPackage)
		assert.Equal(t, got.Artifacts[store.ArtifactCompressed], packagedInput)
		assert.Contains(t, got.Artifacts[store.ArtifactPackage], filepath.Join(cfg.PackagesDir(), "1"))
	})

	t.Run("packaging failure is terminal", func(t *testing.T) {
		runner := &fakeRunner{
			packageFunc: func(ctx context.Context, inputPath, playlistPath string) error {
				return errors.New("segmenter died")
			},
		}
		p, videos, notifier, _ := newTestPipeline(t, runner)
		v := newTestVideo(t, videos)

		err := p.Process(context.Background(), processTask(v.ID, task.Options{
			ProducePackage: true,
		}))
		require.Error(t, err)

		got, err := videos.Get(v.ID)
		require.NoError(t, err)
		assert.Equal(t, store.StatusError, got.Status)
		// Earlier artifacts survive the late failure.
		assert.Contains(t, got.Artifacts, store.ArtifactCompressed)
		assert.Equal(t, "error", notifier.last(t))
	})
}

func TestPipeline_GranularKinds(t *testing.T) {
	p, videos, _, _ := newTestPipeline(t, &fakeRunner{})
	v := newTestVideo(t, videos)
	require.NoError(t, videos.MarkProcessed(v.ID))

	// Granular tasks add artifacts without touching the record status.
	err := p.Process(context.Background(), task.New(task.KindThumbnail, v.ID, task.Options{
		ThumbnailTimes: []string{"00:00:01"},
	}))
	require.NoError(t, err)
	err = p.Process(context.Background(), task.New(task.KindCompress, v.ID, task.Options{Quality: "low"}))
	require.NoError(t, err)

	got, err := videos.Get(v.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusProcessed, got.Status)
	assert.Contains(t, got.Artifacts, "thumbnail_0")
	assert.Contains(t, got.Artifacts, store.ArtifactCompressed)
}

func TestPipeline_UnknownVideo(t *testing.T) {
	p, _, _, _ := newTestPipeline(t, &fakeRunner{})
	err := p.Process(context.Background(), processTask(42, task.Options{}))
	assert.ErrorIs(t, err, store.ErrNotFound)
}
