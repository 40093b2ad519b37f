package ffmpeg

import "fmt"

// QualityPreset maps a named quality level to x264/aac encoder
// settings.
type QualityPreset struct {
	Name         string
	CRF          int
	Speed        string
	AudioBitrate string
}

var presets = map[string]QualityPreset{
	"low":    {Name: "low", CRF: 28, Speed: "fast", AudioBitrate: "96k"},
	"medium": {Name: "medium", CRF: 23, Speed: "medium", AudioBitrate: "128k"},
	"high":   {Name: "high", CRF: 18, Speed: "slow", AudioBitrate: "192k"},
}

// PresetFor returns the preset for a quality name.
func PresetFor(quality string) (QualityPreset, error) {
	p, ok := presets[quality]
	if !ok {
		return QualityPreset{}, fmt.Errorf("unknown quality preset: %q", quality)
	}
	return p, nil
}

// compressArgs builds the transcode argument list for one input/output
// pair. The output path is appended by the caller.
func compressArgs(inputPath string, p QualityPreset) []string {
	return []string{
		"-i", inputPath,
		"-c:v", "libx264",
		"-crf", fmt.Sprintf("%d", p.CRF),
		"-preset", p.Speed,
		"-c:a", "aac",
		"-b:a", p.AudioBitrate,
		"-movflags", "+faststart",
		"-y",
	}
}

// thumbnailArgs extracts a single frame at timestamp ts (seconds or
// hh:mm:ss, as ffmpeg accepts both), scaled to 640px wide. Seeking
// before -i keeps extraction fast on long inputs.
func thumbnailArgs(inputPath string, ts string) []string {
	return []string{
		"-ss", ts,
		"-i", inputPath,
		"-vframes", "1",
		"-vf", "scale=640:-1",
		"-y",
	}
}

// packageArgs builds the HLS segmenting argument list. The playlist
// path is appended by the caller; segments land beside it.
func packageArgs(inputPath string) []string {
	return []string{
		"-i", inputPath,
		"-c:v", "libx264",
		"-profile:v", "baseline",
		"-level", "3.0",
		"-c:a", "aac",
		"-hls_time", "10",
		"-hls_list_size", "0",
		"-f", "hls",
		"-y",
	}
}
