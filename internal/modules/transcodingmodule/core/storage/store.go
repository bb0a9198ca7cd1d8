// Package storage persists job sources and transcoded artifacts and issues
// the public URLs players fetch them from.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"
)

// ErrObjectNotFound is returned by Get for a path that holds nothing.
var ErrObjectNotFound = errors.New("object not found")

// ErrInvalidPath is returned for empty object paths and paths that would
// escape the store.
var ErrInvalidPath = errors.New("invalid object path")

// ObjectStore is the external object storage collaborator.
type ObjectStore interface {
	// Put writes data at objectPath and returns its public URL.
	Put(ctx context.Context, objectPath string, data []byte, contentType string) (string, error)
	// Get reads the object at objectPath.
	Get(ctx context.Context, objectPath string) ([]byte, error)
	// URL returns the public URL of objectPath without touching the store.
	URL(objectPath string) string
	// PathFromURL maps a URL issued by this store back to its object path.
	PathFromURL(rawURL string) (string, bool)
}

// Presigner is implemented by stores that can issue expiring private URLs.
type Presigner interface {
	PresignGet(ctx context.Context, objectPath string, expiry time.Duration) (string, error)
}

var contentTypes = map[string]string{
	".m3u8": "application/vnd.apple.mpegurl",
	".m4s":  "video/iso.segment",
	".mp4":  "video/mp4",
	".m4v":  "video/mp4",
	".mov":  "video/quicktime",
	".webm": "video/webm",
	".mkv":  "video/x-matroska",
	".ts":   "video/mp2t",
	".mpg":  "video/mpeg",
	".mpeg": "video/mpeg",
	".mp3":  "audio/mpeg",
}

// ContentTypeFor infers a content type from the file extension.
func ContentTypeFor(name string) string {
	if ct, ok := contentTypes[strings.ToLower(path.Ext(name))]; ok {
		return ct
	}
	return "application/octet-stream"
}

// SourcePath is where an uploaded source lives.
func SourcePath(ownerID, jobID, filename string) string {
	return path.Join(ownerID, jobID, "source", safeName(filename))
}

// ArtifactPath is where a transcoded artifact lives.
func ArtifactPath(ownerID, jobID, name string) string {
	return path.Join(ownerID, jobID, "hls", name)
}

// IsArtifactPath reports whether objectPath has the ArtifactPath layout,
// <owner>/<job>/hls/<name>. Sources and anything else do not.
func IsArtifactPath(objectPath string) bool {
	clean, err := CleanPath(objectPath)
	if err != nil {
		return false
	}
	parts := strings.SplitN(clean, "/", 4)
	return len(parts) == 4 && parts[2] == "hls" && parts[0] != "" && parts[1] != "" && parts[3] != ""
}

// CleanPath normalises an object path and rejects anything that would
// escape the store root.
func CleanPath(objectPath string) (string, error) {
	p := strings.ReplaceAll(objectPath, "\\", "/")
	for _, segment := range strings.Split(p, "/") {
		if segment == ".." {
			return "", fmt.Errorf("object path %q escapes the store: %w", objectPath, ErrInvalidPath)
		}
	}
	p = strings.TrimPrefix(path.Clean("/"+p), "/")
	if p == "" {
		return "", fmt.Errorf("empty object path: %w", ErrInvalidPath)
	}
	return p, nil
}

func safeName(filename string) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "." || name == "/" || name == ".." || name == "" {
		return "source"
	}
	return name
}

func joinURL(base, objectPath string) string {
	segments := strings.Split(objectPath, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.TrimSuffix(base, "/") + "/" + strings.Join(segments, "/")
}

func pathFromURL(base, rawURL string) (string, bool) {
	prefix := strings.TrimSuffix(base, "/") + "/"
	if !strings.HasPrefix(rawURL, prefix) {
		return "", false
	}
	rest := rawURL[len(prefix):]
	if i := strings.IndexAny(rest, "?#"); i >= 0 {
		rest = rest[:i]
	}
	unescaped, err := url.PathUnescape(rest)
	if err != nil {
		return "", false
	}
	clean, err := CleanPath(unescaped)
	if err != nil {
		return "", false
	}
	return clean, true
}
