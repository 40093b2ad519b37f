package ffmpeg

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ProbeResult carries the container and first-video-stream metadata
// extracted by ffprobe.
type ProbeResult struct {
	Duration   float64
	Size       int64
	BitRate    int64
	FormatName string
	Width      int
	Height     int
	Codec      string
	FPS        float64
}

// ffprobe prints numeric format fields as JSON strings.
type probeOutput struct {
	Format struct {
		Duration   string `json:"duration"`
		Size       string `json:"size"`
		BitRate    string `json:"bit_rate"`
		FormatName string `json:"format_name"`
	} `json:"format"`
	Streams []struct {
		CodecType    string `json:"codec_type"`
		CodecName    string `json:"codec_name"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		AvgFrameRate string `json:"avg_frame_rate"`
	} `json:"streams"`
}

// ParseProbeOutput decodes the JSON emitted by
// `ffprobe -print_format json -show_format -show_streams`.
func ParseProbeOutput(raw []byte) (*ProbeResult, error) {
	var out probeOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("invalid ffprobe output: %w", err)
	}

	res := &ProbeResult{FormatName: out.Format.FormatName}
	res.Duration, _ = strconv.ParseFloat(out.Format.Duration, 64)
	res.Size, _ = strconv.ParseInt(out.Format.Size, 10, 64)
	res.BitRate, _ = strconv.ParseInt(out.Format.BitRate, 10, 64)

	for _, s := range out.Streams {
		if s.CodecType != "video" {
			continue
		}
		res.Width = s.Width
		res.Height = s.Height
		res.Codec = s.CodecName
		res.FPS = parseFrameRate(s.AvgFrameRate)
		break
	}
	return res, nil
}

// parseFrameRate evaluates ffprobe's fractional rate notation, e.g.
// "30000/1001". Returns 0 for missing or degenerate values.
func parseFrameRate(rate string) float64 {
	num, den, ok := strings.Cut(rate, "/")
	if !ok {
		f, _ := strconv.ParseFloat(rate, 64)
		return f
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}
	return n / d
}
