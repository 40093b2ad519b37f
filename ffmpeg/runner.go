package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/shlex"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"vidserve/config"
	"vidserve/logging"
)

// Runner executes ffmpeg and ffprobe as subprocesses. Every invocation
// gets its own deadline derived from FF_TIMEOUT and inherits the extra
// arguments configured via FF_EXTRA_ARGS.
type Runner struct {
	cfg       *config.Config
	extraArgs []string
}

func NewRunner(cfg *config.Config) (*Runner, error) {
	if _, err := exec.LookPath(cfg.FFBin); err != nil {
		return nil, fmt.Errorf("ffmpeg binary not found or not in PATH: %s", cfg.FFBin)
	}
	if _, err := exec.LookPath(cfg.FFProbeBin); err != nil {
		return nil, fmt.Errorf("ffprobe binary not found or not in PATH: %s", cfg.FFProbeBin)
	}

	extra, err := SplitExtraArgs(cfg.FFExtraArgs)
	if err != nil {
		return nil, err
	}

	return &Runner{cfg: cfg, extraArgs: extra}, nil
}

// SplitExtraArgs splits a configured argument string without invoking a
// shell, so quoted arguments survive and metacharacters stay inert.
func SplitExtraArgs(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	args, err := shlex.Split(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid FF_EXTRA_ARGS syntax: %w", err)
	}
	return args, nil
}

// Probe runs ffprobe against the input and parses its JSON report.
func (r *Runner) Probe(ctx context.Context, inputPath string) (*ProbeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.FFTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.cfg.FFProbeBin,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		inputPath,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return ParseProbeOutput(stdout.Bytes())
}

// Compress transcodes the input to H.264/AAC MP4 at the named quality.
func (r *Runner) Compress(ctx context.Context, inputPath, outputPath, quality string) error {
	p, err := PresetFor(quality)
	if err != nil {
		return err
	}
	args := append(compressArgs(inputPath, p), r.extraArgs...)
	return r.run(ctx, append(args, outputPath), outputPath)
}

// Thumbnail extracts one frame at timestamp ts into a JPEG.
func (r *Runner) Thumbnail(ctx context.Context, inputPath, outputPath, ts string) error {
	return r.run(ctx, append(thumbnailArgs(inputPath, ts), outputPath), outputPath)
}

// PackageHLS segments the input into an HLS rendition rooted at
// playlistPath. The playlist directory is created if missing.
func (r *Runner) PackageHLS(ctx context.Context, inputPath, playlistPath string) error {
	if err := os.MkdirAll(filepath.Dir(playlistPath), 0o755); err != nil {
		return err
	}
	args := append(packageArgs(inputPath), r.extraArgs...)
	return r.run(ctx, append(args, playlistPath), playlistPath)
}

func (r *Runner) run(ctx context.Context, args []string, outputPath string) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.FFTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.cfg.FFBin, args...)
	var outputBuf bytes.Buffer
	cmd.Stdout = &outputBuf
	cmd.Stderr = &outputBuf

	logging.Infof("executing: %s %s", r.cfg.FFBin, strings.Join(args, " "))

	if err := cmd.Run(); err != nil {
		// Leave no partial artifact behind.
		os.Remove(outputPath)
		return fmt.Errorf("ffmpeg execution failed: %w: %s", err, tailOf(outputBuf.String(), 512))
	}
	return nil
}

// tailOf keeps error messages bounded; ffmpeg logs are verbose and only
// the end explains the failure.
func tailOf(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// CheckResources verifies the host has enough headroom to start a new
// job. Each probe failure is logged and skipped rather than treated as
// pressure.
func (r *Runner) CheckResources() error {
	p, err := cpu.Percent(time.Second, false)
	if err != nil {
		logging.Warnf("could not get CPU usage: %v", err)
	} else if len(p) > 0 && p[0] > (100.0-r.cfg.ThrottleCPU) {
		return fmt.Errorf("not enough idle CPU. Current usage: %.2f%%, Idle threshold: %.2f%%", p[0], r.cfg.ThrottleCPU)
	}

	vm, err := mem.VirtualMemory()
	if err != nil {
		logging.Warnf("could not get memory usage: %v", err)
	} else if vm.Available < uint64(r.cfg.ThrottleFreeMem) {
		return fmt.Errorf("not enough free memory. Available: %d, Required: %d", vm.Available, r.cfg.ThrottleFreeMem)
	}

	d, err := disk.Usage(r.cfg.UploadDir)
	if err != nil {
		logging.Warnf("could not get disk usage for %s: %v", r.cfg.UploadDir, err)
	} else if d.Free < uint64(r.cfg.ThrottleFreeDisk) {
		return fmt.Errorf("not enough free disk space. Available: %d, Required: %d", d.Free, r.cfg.ThrottleFreeDisk)
	}
	return nil
}
