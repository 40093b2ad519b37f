package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"vidserve/config"
	"vidserve/ffmpeg"
	"vidserve/logging"
	"vidserve/metrics"
	"vidserve/store"
	"vidserve/task"
)

// MediaRunner is the subprocess surface the pipeline drives. Satisfied
// by ffmpeg.Runner; tests substitute a fake.
type MediaRunner interface {
	Probe(ctx context.Context, inputPath string) (*ffmpeg.ProbeResult, error)
	Compress(ctx context.Context, inputPath, outputPath, quality string) error
	Thumbnail(ctx context.Context, inputPath, outputPath, ts string) error
	PackageHLS(ctx context.Context, inputPath, playlistPath string) error
}

// Notifier reports a terminal processing outcome. A nil *notify.Webhook
// satisfies it.
type Notifier interface {
	Notify(videoID uint, status store.VideoStatus, cause string)
}

// Processor turns an uploaded original into its derived artifacts and
// drives the record through processing, processed or error.
type Processor struct {
	cfg      *config.Config
	videos   *store.VideoStore
	runner   MediaRunner
	notifier Notifier
}

func New(cfg *config.Config, videos *store.VideoStore, runner MediaRunner, notifier Notifier) *Processor {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &Processor{cfg: cfg, videos: videos, runner: runner, notifier: notifier}
}

type noopNotifier struct{}

func (noopNotifier) Notify(uint, store.VideoStatus, string) {}

// Process dispatches on the task kind. The full pipeline owns the
// record's status transitions; granular kinds only add artifacts and
// metadata, leaving the status alone.
func (p *Processor) Process(ctx context.Context, t *task.Task) error {
	video, err := p.videos.Get(t.VideoID)
	if err != nil {
		return fmt.Errorf("load video %d: %w", t.VideoID, err)
	}

	switch t.Kind {
	case task.KindProcess:
		return p.runFull(ctx, video, t.Options)
	case task.KindProbe:
		_, err := p.probe(ctx, video)
		return err
	case task.KindCompress:
		return p.compress(ctx, video, t.Options.Quality)
	case task.KindThumbnail:
		return p.thumbnails(ctx, video, t.Options.ThumbnailTimes)
	case task.KindPackage:
		return p.packageHLS(ctx, video)
	default:
		return fmt.Errorf("unknown task kind: %s", t.Kind)
	}
}

// runFull executes probe, then compression and thumbnails in parallel,
// then optional HLS packaging. A probe or compression failure ends the
// run in error state; thumbnails produced before a later failure stay
// on the record.
func (p *Processor) runFull(ctx context.Context, video *store.Video, opts task.Options) error {
	if err := p.videos.SetProcessing(video.ID); err != nil {
		return err
	}

	if _, err := p.probe(ctx, video); err != nil {
		return p.fail(video.ID, fmt.Errorf("probe: %w", err))
	}

	g, gctx := errgroup.WithContext(ctx)
	var compressErr error
	g.Go(func() error {
		// Compression failure is handled after thumbnails finish, so it
		// must not cancel the group.
		compressErr = p.compress(gctx, video, opts.Quality)
		return nil
	})
	g.Go(func() error {
		return p.thumbnails(gctx, video, opts.ThumbnailTimes)
	})
	if err := g.Wait(); err != nil {
		return p.fail(video.ID, err)
	}
	if compressErr != nil {
		return p.fail(video.ID, fmt.Errorf("compress: %w", compressErr))
	}

	if opts.ProducePackage {
		if err := p.packageHLS(ctx, video); err != nil {
			return p.fail(video.ID, fmt.Errorf("package: %w", err))
		}
	}

	if err := p.videos.MarkProcessed(video.ID); err != nil {
		return err
	}
	p.notifier.Notify(video.ID, store.StatusProcessed, "")
	logging.Infow("video processed", "videoId", video.ID)
	return nil
}

// fail records the cause on the video and reports it. The returned
// error carries the cause back to the task layer. A shutdown
// cancellation is not a pipeline failure: the record keeps whatever
// partial state it reached so the work can be re-enqueued later.
func (p *Processor) fail(videoID uint, cause error) error {
	if errors.Is(cause, context.Canceled) {
		return cause
	}
	if err := p.videos.SetError(videoID, cause.Error()); err != nil {
		logging.Errorw("record error state failed", "videoId", videoID, "error", err)
	}
	p.notifier.Notify(videoID, store.StatusError, cause.Error())
	return cause
}

func (p *Processor) probe(ctx context.Context, video *store.Video) (*ffmpeg.ProbeResult, error) {
	defer p.observe("probe")()
	res, err := p.runner.Probe(ctx, video.SourcePath)
	if err != nil {
		return nil, err
	}
	if err := p.videos.SetProbeMetadata(video.ID, res.Duration, res.Width, res.Height,
		res.Codec, res.BitRate, res.FormatName, res.FPS); err != nil {
		return nil, err
	}
	return res, nil
}

func (p *Processor) compress(ctx context.Context, video *store.Video, quality string) error {
	defer p.observe("compress")()
	if quality == "" {
		quality = p.cfg.DefaultQuality
	}
	outputPath := filepath.Join(p.cfg.VideosDir(), fmt.Sprintf("compressed_%d.mp4", video.ID))
	if err := p.runner.Compress(ctx, video.SourcePath, outputPath, quality); err != nil {
		return err
	}
	return p.videos.MergeArtifacts(video.ID, store.ArtifactMap{
		store.ArtifactCompressed: outputPath,
	})
}

// thumbnails extracts one frame per configured timestamp from the
// original. A single bad timestamp is skipped; the step only fails when
// the record update does.
func (p *Processor) thumbnails(ctx context.Context, video *store.Video, times []string) error {
	defer p.observe("thumbnail")()
	produced := store.ArtifactMap{}
	for i, ts := range times {
		outputPath := filepath.Join(p.cfg.ThumbnailsDir(), fmt.Sprintf("thumb_%d_%d.jpg", video.ID, i))
		if err := p.runner.Thumbnail(ctx, video.SourcePath, outputPath, ts); err != nil {
			logging.Warnw("thumbnail extraction failed",
				"videoId", video.ID, "timestamp", ts, "error", err)
			continue
		}
		produced[fmt.Sprintf("%s_%d", store.ArtifactThumbnail, i)] = outputPath
	}
	if len(produced) == 0 {
		return nil
	}
	return p.videos.MergeArtifacts(video.ID, produced)
}

// packageHLS segments the compressed rendition when present, falling
// back to the original.
func (p *Processor) packageHLS(ctx context.Context, video *store.Video) error {
	defer p.observe("package")()
	current, err := p.videos.Get(video.ID)
	if err != nil {
		return err
	}
	inputPath := video.SourcePath
	if compressed, ok := current.Artifacts[store.ArtifactCompressed]; ok {
		inputPath = compressed
	}
	playlistPath := filepath.Join(p.cfg.PackagesDir(), fmt.Sprintf("%d", video.ID), "stream.m3u8")
	if err := p.runner.PackageHLS(ctx, inputPath, playlistPath); err != nil {
		return err
	}
	return p.videos.MergeArtifacts(video.ID, store.ArtifactMap{
		store.ArtifactPackage: playlistPath,
	})
}

func (p *Processor) observe(step string) func() {
	start := time.Now()
	return func() {
		metrics.StepDuration.WithLabelValues(step).Observe(time.Since(start).Seconds())
	}
}
