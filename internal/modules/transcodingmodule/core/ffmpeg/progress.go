package ffmpeg

import (
	"bytes"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ProgressWriter consumes the key=value stream ffmpeg writes with
// "-progress pipe:1" and reports the encoded fraction of the source duration.
// ffmpeg emits blocks of keys terminated by progress=continue or progress=end.
type ProgressWriter struct {
	duration time.Duration
	report   func(ratio float64)

	mu      sync.Mutex
	partial []byte
	ended   bool
}

// NewProgressWriter creates a writer reporting against the given total
// duration. A zero duration disables ratio reports except the final one.
func NewProgressWriter(duration time.Duration, report func(ratio float64)) *ProgressWriter {
	return &ProgressWriter{duration: duration, report: report}
}

// Write implements io.Writer.
func (w *ProgressWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.partial = append(w.partial, p...)
	for {
		i := bytes.IndexByte(w.partial, '\n')
		if i < 0 {
			break
		}
		w.handleLine(string(w.partial[:i]))
		w.partial = w.partial[i+1:]
	}
	return len(p), nil
}

// Ended reports whether ffmpeg announced progress=end.
func (w *ProgressWriter) Ended() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ended
}

func (w *ProgressWriter) handleLine(line string) {
	key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
	if !ok {
		return
	}

	switch key {
	case "out_time_us", "out_time_ms":
		// out_time_ms is microseconds as well
		us, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil || us < 0 {
			return
		}
		w.emit(time.Duration(us) * time.Microsecond)
	case "out_time":
		if d, ok := ParseClock(value); ok {
			w.emit(d)
		}
	case "progress":
		if strings.TrimSpace(value) == "end" {
			w.ended = true
			if w.report != nil {
				w.report(1)
			}
		}
	}
}

func (w *ProgressWriter) emit(elapsed time.Duration) {
	if w.duration <= 0 || w.report == nil {
		return
	}
	ratio := float64(elapsed) / float64(w.duration)
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}
	w.report(ratio)
}

// ParseClock parses an ffmpeg HH:MM:SS.micro timestamp.
func ParseClock(s string) (time.Duration, bool) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 {
		return 0, false
	}

	hours, err := strconv.Atoi(parts[0])
	if err != nil || hours < 0 {
		return 0, false
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil || minutes < 0 {
		return 0, false
	}
	seconds, err := strconv.ParseFloat(parts[2], 64)
	if err != nil || seconds < 0 {
		return 0, false
	}

	return time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds*float64(time.Second)), true
}
