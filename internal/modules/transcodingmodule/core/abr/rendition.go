// Package abr holds the rendition policy: the single quality tier every job
// is encoded to, and the arithmetic that derives its output dimensions from
// the source.
//
// Example usage:
//
//	rung := abr.Default()
//	height := rung.ScaledHeight(1920, 1080) // 720
//	bw := rung.Bandwidth()                  // 2628000
package abr

// Rung is one quality level of the output ladder
type Rung struct {
	Label        string // Human-readable label, also the variant file prefix
	Width        int    // Fixed output width
	VideoBitrate int    // bits per second, advertised target
	AudioBitrate int    // bits per second
	Profile      string // H.264 profile
	Level        string // H.264 level
	CRF          int    // Constant Rate Factor
	Preset       string // x264 preset
	GOP          int    // Keyframe interval in frames
	SegmentSecs  int    // Target segment duration
	AudioRate    int    // Sample rate in Hz
	AudioChans   int
}

// Codecs is the RFC 6381 codec string for High@4.0 video with AAC-LC audio.
const Codecs = "avc1.640028,mp4a.40.2"

// DefaultHeight is used when neither the output nor the source dimensions
// could be determined.
const DefaultHeight = 720

// Default returns the fixed 720p policy.
func Default() Rung {
	return Rung{
		Label:        "720p",
		Width:        1280,
		VideoBitrate: 2_500_000,
		AudioBitrate: 128_000,
		Profile:      "high",
		Level:        "4.0",
		CRF:          23,
		Preset:       "fast",
		GOP:          48,
		SegmentSecs:  4,
		AudioRate:    48000,
		AudioChans:   2,
	}
}

// Bandwidth is the peak bandwidth advertised in the master playlist.
func (r Rung) Bandwidth() int {
	return r.VideoBitrate + r.AudioBitrate
}

// ScaledHeight computes the height the encoder picks for a source of
// srcWidth x srcHeight when scaling to r.Width with "-2": aspect preserved,
// rounded to the nearest even number. Unknown source dimensions return
// DefaultHeight.
func (r Rung) ScaledHeight(srcWidth, srcHeight int) int {
	if srcWidth <= 0 || srcHeight <= 0 {
		return DefaultHeight
	}

	height := int(float64(r.Width)*float64(srcHeight)/float64(srcWidth)/2.0+0.5) * 2
	if height < 2 {
		height = 2 // Ensure a valid even dimension
	}
	return height
}

// VariantPlaylist is the variant playlist file name.
func (r Rung) VariantPlaylist() string {
	return r.Label + ".m3u8"
}

// InitSegment is the fMP4 initialization segment file name.
func (r Rung) InitSegment() string {
	return r.Label + "_init.mp4"
}

// SegmentPattern is the printf pattern for media segment file names.
func (r Rung) SegmentPattern() string {
	return r.Label + "_%03d.m4s"
}
