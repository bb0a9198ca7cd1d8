// Package http provides HTTP header helpers for serving stored artifacts.
package http

import (
	"path"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/vodforge/vodforge/internal/modules/transcodingmodule/core/storage"
)

// SetContentHeaders sets appropriate HTTP headers based on file type.
// Players fetch playlists and segments cross-origin, so both carry CORS
// headers.
func SetContentHeaders(c *gin.Context, fileName string) {
	c.Header("Content-Type", storage.ContentTypeFor(fileName))

	switch strings.ToLower(path.Ext(fileName)) {
	case ".m3u8", ".m4s", ".mp4":
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Range")
	}

	// Add security headers
	c.Header("X-Content-Type-Options", "nosniff")
	c.Header("X-Frame-Options", "DENY")
}

// SetCacheHeaders sets cache headers for a stored object. Artifacts are
// written once, so everything but playlists can be cached forever; playlists
// get a short lifetime so a re-run job is picked up.
func SetCacheHeaders(c *gin.Context, fileName string, etag string) {
	if strings.EqualFold(path.Ext(fileName), ".m3u8") {
		c.Header("Cache-Control", "public, max-age=60")
	} else {
		c.Header("Cache-Control", "public, max-age=31536000, immutable")
	}
	if etag != "" {
		c.Header("ETag", `"`+etag+`"`)
	}
}
