package http

import (
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestSetContentHeaders(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name        string
		contentType string
		cors        bool
	}{
		{"master.m3u8", "application/vnd.apple.mpegurl", true},
		{"720p_000.m4s", "video/iso.segment", true},
		{"720p_init.mp4", "video/mp4", true},
		{"clip.mov", "video/quicktime", false},
		{"notes.bin", "application/octet-stream", false},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		SetContentHeaders(c, tt.name)

		assert.Equal(t, tt.contentType, w.Header().Get("Content-Type"), tt.name)
		assert.Equal(t, tt.cors, w.Header().Get("Access-Control-Allow-Origin") == "*", tt.name)
		assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	}
}

func TestSetCacheHeaders(t *testing.T) {
	gin.SetMode(gin.TestMode)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	SetCacheHeaders(c, "720p.m3u8", "")
	assert.Equal(t, "public, max-age=60", w.Header().Get("Cache-Control"))
	assert.Empty(t, w.Header().Get("ETag"))

	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	SetCacheHeaders(c, "720p_003.m4s", "abc")
	assert.Contains(t, w.Header().Get("Cache-Control"), "immutable")
	assert.Equal(t, `"abc"`, w.Header().Get("ETag"))
}
