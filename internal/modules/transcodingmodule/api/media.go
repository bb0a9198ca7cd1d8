package api

import (
	"errors"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	apierrors "github.com/vodforge/vodforge/internal/errors"
	"github.com/vodforge/vodforge/internal/modules/transcodingmodule/core/storage"
	httputil "github.com/vodforge/vodforge/internal/modules/transcodingmodule/utils/http"
)

// MediaHandler serves the HLS artifacts of the local store without
// authentication. Uploaded sources are never served. It is only mounted when
// the local backend is active; with MinIO players read the bucket directly.
type MediaHandler struct {
	store  *storage.LocalStore
	logger hclog.Logger
}

// NewMediaHandler creates a handler over store
func NewMediaHandler(store *storage.LocalStore, logger hclog.Logger) *MediaHandler {
	return &MediaHandler{store: store, logger: logger.Named("media")}
}

// ServeMedia handles GET /media/*path
func (h *MediaHandler) ServeMedia(c *gin.Context) {
	objectPath := strings.TrimPrefix(c.Param("path"), "/")
	if !storage.IsArtifactPath(objectPath) {
		apierrors.HandleNotFound(c, "object", objectPath)
		return
	}

	file, err := h.store.FilePath(objectPath)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) || errors.Is(err, storage.ErrInvalidPath) {
			apierrors.HandleNotFound(c, "object", objectPath)
			return
		}
		apierrors.HandleInternalError(c, "could not resolve object", err)
		return
	}

	etag := ""
	if info, err := os.Stat(file); err == nil {
		etag = strconv.FormatInt(info.ModTime().UnixNano(), 36) + "-" + strconv.FormatInt(info.Size(), 36)
	}

	name := path.Base(objectPath)
	httputil.SetContentHeaders(c, name)
	httputil.SetCacheHeaders(c, name, etag)
	c.File(file)
}
