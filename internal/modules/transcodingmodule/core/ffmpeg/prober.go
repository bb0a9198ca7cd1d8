package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/hashicorp/go-hclog"
)

// probeEntries limits ffprobe output to the fields the engine reads
const probeEntries = "format=duration:stream=codec_type,codec_name,width,height"

// MediaProber reads container duration and stream geometry with ffprobe.
type MediaProber struct {
	logger      hclog.Logger
	runner      CommandRunner
	ffprobePath string
}

// ProbeFormat is the container section of ffprobe's JSON output
type ProbeFormat struct {
	Duration string `json:"duration"`
}

// ProbeStream is one entry of ffprobe's streams array
type ProbeStream struct {
	CodecType string `json:"codec_type"`
	CodecName string `json:"codec_name"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

// ProbeResult is the decoded ffprobe report for one file.
type ProbeResult struct {
	Format  ProbeFormat   `json:"format"`
	Streams []ProbeStream `json:"streams"`
}

func NewMediaProber(logger hclog.Logger, runner CommandRunner, ffprobePath string) *MediaProber {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &MediaProber{logger: logger, runner: runner, ffprobePath: ffprobePath}
}

// Probe runs ffprobe against path. Relative paths resolve against the
// process working directory, not the scratch dir.
func (mp *MediaProber) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	raw, err := mp.runner.Output(ctx, mp.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_entries", probeEntries,
		path,
	)
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}

	result := &ProbeResult{}
	if err := json.Unmarshal(raw, result); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}
	mp.logger.Debug("probed media", "path", path, "duration", result.Duration(), "streams", len(result.Streams))
	return result, nil
}

// Duration is the container duration, zero when ffprobe did not report a
// positive one.
func (r *ProbeResult) Duration() time.Duration {
	if r == nil {
		return 0
	}
	seconds, err := strconv.ParseFloat(r.Format.Duration, 64)
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}

// VideoDimensions reports the size of the first video stream that has one.
func (r *ProbeResult) VideoDimensions() (width, height int, ok bool) {
	if r == nil {
		return 0, 0, false
	}
	for _, stream := range r.Streams {
		if stream.CodecType != "video" || stream.Width <= 0 || stream.Height <= 0 {
			continue
		}
		return stream.Width, stream.Height, true
	}
	return 0, 0, false
}

// HasAudio reports whether ffprobe listed an audio stream
func (r *ProbeResult) HasAudio() bool {
	if r == nil {
		return false
	}
	for _, stream := range r.Streams {
		if stream.CodecType == "audio" {
			return true
		}
	}
	return false
}
