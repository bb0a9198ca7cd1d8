package abr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefault(t *testing.T) {
	r := Default()

	assert.Equal(t, "720p", r.Label)
	assert.Equal(t, 1280, r.Width)
	assert.Equal(t, 2_628_000, r.Bandwidth())
	assert.Equal(t, "720p.m3u8", r.VariantPlaylist())
	assert.Equal(t, "720p_init.mp4", r.InitSegment())
	assert.Equal(t, "720p_%03d.m4s", r.SegmentPattern())
}

func TestScaledHeight(t *testing.T) {
	r := Default()

	tests := []struct {
		name          string
		width, height int
		want          int
	}{
		{"16:9 1080p", 1920, 1080, 720},
		{"4:3", 640, 480, 960},
		{"portrait", 1080, 1920, 2276},
		{"odd result rounds to even", 1000, 563, 720},
		{"ultrawide", 2560, 1080, 540},
		{"unknown width", 0, 1080, DefaultHeight},
		{"unknown height", 1920, 0, DefaultHeight},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.ScaledHeight(tt.width, tt.height)
			assert.Equal(t, tt.want, got)
			assert.Zero(t, got%2)
		})
	}
}
