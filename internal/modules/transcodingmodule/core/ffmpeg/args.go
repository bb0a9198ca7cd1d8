// Package ffmpeg wraps the ffmpeg and ffprobe binaries: the fixed HLS encode
// arguments, machine-readable progress parsing, media probing and the codec
// runtime that owns the scratch directory.
//
// The argument builder focuses on:
// - Keyframe alignment so every segment starts on a closed GOP
// - One H.264 High@4.0 video track scaled to 1280 wide and one stereo AAC track
// - Fragmented-MP4 HLS output with a single init segment
//
// Scene-cut detection is always disabled (sc_threshold=0) so GOP boundaries
// land exactly on segment boundaries.
//
// Example usage:
//
//	args := ffmpeg.BuildHLSArgs(abr.Default(), "input.mp4", false)
//	err := runner.Run(ctx, scratchDir, progressWriter, "ffmpeg", args...)
package ffmpeg

import (
	"mime"
	"strconv"
	"strings"

	"github.com/vodforge/vodforge/internal/modules/transcodingmodule/core/abr"
)

// BuildHLSArgs builds the ffmpeg arguments that encode inputName into an fMP4
// HLS variant in the working directory. Output names come from the rung.
// With silentAudio the audio track is generated silence, for sources known to
// have no audio stream, so the variant always carries the AAC track the
// master playlist declares.
func BuildHLSArgs(rung abr.Rung, inputName string, silentAudio bool) []string {
	gop := strconv.Itoa(rung.GOP)

	args := []string{
		"-hide_banner",
		"-y",
		"-nostats",
		"-progress", "pipe:1", // key=value progress on stdout
		"-i", inputName,
	}

	if silentAudio {
		args = append(args,
			"-f", "lavfi",
			"-i", "anullsrc=channel_layout=stereo:sample_rate="+strconv.Itoa(rung.AudioRate),
			"-map", "0:v:0", "-map", "1:a:0",
			"-shortest", // the silence never ends on its own
		)
	} else {
		// First video stream, first audio stream if there is one
		args = append(args, "-map", "0:v:0", "-map", "0:a:0?")
	}

	// Video
	args = append(args,
		"-vf", "scale="+strconv.Itoa(rung.Width)+":-2",
		"-c:v", "libx264",
		"-preset", rung.Preset,
		"-crf", strconv.Itoa(rung.CRF),
		"-profile:v", rung.Profile,
		"-level:v", rung.Level,
		"-pix_fmt", "yuv420p",
		"-g", gop,
		"-keyint_min", gop,
		"-sc_threshold", "0",
		"-flags", "+cgop",
	)

	// Audio
	args = append(args,
		"-c:a", "aac",
		"-b:a", strconv.Itoa(rung.AudioBitrate/1000)+"k",
		"-ac", strconv.Itoa(rung.AudioChans),
		"-ar", strconv.Itoa(rung.AudioRate),
	)

	// HLS muxer
	args = append(args,
		"-f", "hls",
		"-hls_time", strconv.Itoa(rung.SegmentSecs),
		"-hls_playlist_type", "vod",
		"-hls_list_size", "0",
		"-hls_segment_type", "fmp4",
		"-hls_flags", "independent_segments",
		"-hls_fmp4_init_filename", rung.InitSegment(),
		"-hls_segment_filename", rung.SegmentPattern(),
		rung.VariantPlaylist(),
	)

	return args
}

// inputExtensions maps source media types to the extension the scratch input
// is written with, so the demuxer probe has a hint.
var inputExtensions = map[string]string{
	"video/mp4":        "mp4",
	"video/x-m4v":      "mp4",
	"video/webm":       "webm",
	"video/quicktime":  "mov",
	"video/x-matroska": "mkv",
	"video/mpeg":       "mpg",
	"video/mp2t":       "ts",
	"video/x-msvideo":  "avi",
	"video/x-flv":      "flv",
	"audio/mpeg":       "mp3",
}

// DefaultInputExtension is used when the content type is absent or unknown.
const DefaultInputExtension = "mp4"

// InputExtension returns the scratch input file extension for a content-type
// hint such as "video/webm; codecs=vp9".
func InputExtension(contentType string) string {
	contentType = strings.TrimSpace(contentType)
	if contentType == "" {
		return DefaultInputExtension
	}

	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(contentType)
	}
	if ext, ok := inputExtensions[mediaType]; ok {
		return ext
	}
	return DefaultInputExtension
}

// InputName is the scratch file name the source is written to.
func InputName(contentType string) string {
	return "input." + InputExtension(contentType)
}
