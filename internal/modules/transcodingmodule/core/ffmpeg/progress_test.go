package ffmpeg

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProgressWriter(t *testing.T) {
	var ratios []float64
	w := NewProgressWriter(10*time.Second, func(r float64) { ratios = append(ratios, r) })

	block := "frame=120\nfps=60.00\nout_time_us=2500000\nout_time_ms=2500000\nout_time=00:00:02.500000\nprogress=continue\n"
	n, err := w.Write([]byte(block))
	assert.NoError(t, err)
	assert.Equal(t, len(block), n)

	assert.Equal(t, []float64{0.25, 0.25, 0.25}, ratios)
	assert.False(t, w.Ended())
}

func TestProgressWriter_SplitWrites(t *testing.T) {
	var ratios []float64
	w := NewProgressWriter(4*time.Second, func(r float64) { ratios = append(ratios, r) })

	_, _ = w.Write([]byte("out_time_us=10"))
	assert.Empty(t, ratios, "partial line must not be parsed")
	_, _ = w.Write([]byte("00000\nprogress=end\n"))

	assert.Equal(t, []float64{0.25, 1}, ratios)
	assert.True(t, w.Ended())
}

func TestProgressWriter_ClampsAndIgnoresGarbage(t *testing.T) {
	var ratios []float64
	w := NewProgressWriter(time.Second, func(r float64) { ratios = append(ratios, r) })

	_, _ = w.Write([]byte("out_time_us=N/A\nout_time=garbage\nbitrate=1000kbits/s\nout_time_us=5000000\n"))
	assert.Equal(t, []float64{1}, ratios)
}

func TestProgressWriter_UnknownDuration(t *testing.T) {
	var ratios []float64
	w := NewProgressWriter(0, func(r float64) { ratios = append(ratios, r) })

	_, _ = w.Write([]byte("out_time_us=5000000\nprogress=end\n"))
	assert.Equal(t, []float64{1}, ratios, "only the end marker is reported without a duration")
}

func TestParseClock(t *testing.T) {
	d, ok := ParseClock("01:02:03.500000")
	assert.True(t, ok)
	assert.Equal(t, time.Hour+2*time.Minute+3*time.Second+500*time.Millisecond, d)

	for _, bad := range []string{"", "12:00", "aa:bb:cc", "-1:00:00"} {
		_, ok := ParseClock(bad)
		assert.False(t, ok, bad)
	}
}
