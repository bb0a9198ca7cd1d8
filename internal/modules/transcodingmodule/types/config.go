package types

import "time"

// Config holds configuration for the transcoding module
type Config struct {
	// FFmpegPath and FFprobePath locate the codec binaries
	FFmpegPath  string
	FFprobePath string

	// ScratchDir is the private working area of the codec runtime
	ScratchDir string

	// Workers is the number of jobs processed concurrently
	Workers int

	// QueueSize bounds accepted-but-not-started invocations
	QueueSize int

	// JobTimeout is the maximum duration of one job run
	JobTimeout time.Duration

	// MaxSourceBytes caps source downloads
	MaxSourceBytes int64
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		FFmpegPath:     "ffmpeg",
		FFprobePath:    "ffprobe",
		ScratchDir:     "/tmp/vodforge/scratch",
		Workers:        1,
		QueueSize:      16,
		JobTimeout:     2 * time.Hour,
		MaxSourceBytes: 4 << 30,
	}
}
