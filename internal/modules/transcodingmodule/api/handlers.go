// Package api provides HTTP handlers and routes for the transcoding module:
// job upload and reads, the process-job function endpoint, the change
// stream and artifact serving.
package api

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/vodforge/vodforge/internal/database"
	apierrors "github.com/vodforge/vodforge/internal/errors"
	"github.com/vodforge/vodforge/internal/middleware"
	"github.com/vodforge/vodforge/internal/modules/transcodingmodule/core/dispatch"
	"github.com/vodforge/vodforge/internal/modules/transcodingmodule/core/notify"
	"github.com/vodforge/vodforge/internal/modules/transcodingmodule/core/storage"
	tcerrors "github.com/vodforge/vodforge/internal/modules/transcodingmodule/errors"
)

// maxInvocationBytes bounds the process-job request body
const maxInvocationBytes = 4096

// JobStore is the part of the ledger the handlers read and create through
type JobStore interface {
	Create(ctx context.Context, job *database.Job) error
	Get(ctx context.Context, id string) (*database.Job, error)
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]*database.Job, error)
}

// Options tune the handlers
type Options struct {
	MaxUploadBytes int64
	PresignExpiry  time.Duration
}

// JobHandler serves the job endpoints.
type JobHandler struct {
	jobs    JobStore
	store   storage.ObjectStore
	invoker dispatch.Invoker
	feed    notify.Feed
	opts    Options
	logger  hclog.Logger

	pingPeriod time.Duration
}

// NewJobHandler creates the job endpoints. feed may be nil, in which case
// the watch endpoint reports 503.
func NewJobHandler(jobs JobStore, store storage.ObjectStore, invoker dispatch.Invoker, feed notify.Feed, opts Options, logger hclog.Logger) *JobHandler {
	if opts.PresignExpiry <= 0 {
		opts.PresignExpiry = time.Hour
	}
	return &JobHandler{
		jobs:    jobs,
		store:   store,
		invoker: invoker,
		feed:    feed,
		opts:    opts,
		logger:  logger.Named("api"),

		pingPeriod: pingPeriod,
	}
}

// jobResponse is a job as returned to its owner
type jobResponse struct {
	*database.Job
	SourceURL string `json:"source_url,omitempty"`
}

// CreateJob handles POST /api/v1/jobs
//
// Multipart form:
//
//	file       the source video (required)
//	autostart  "true" to trigger processing right away
//
// The source is stored first and the job is created pending. A failed
// trigger leaves the job pending; the response says so and the caller can
// retry through the process-job endpoint.
func (h *JobHandler) CreateJob(c *gin.Context) {
	owner, ok := middleware.PrincipalFrom(c)
	if !ok {
		apierrors.NewUnauthorizedError("no principal").ToGinResponse(c)
		return
	}

	if h.opts.MaxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.opts.MaxUploadBytes)
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			e := apierrors.NewValidationError("file exceeds the upload limit", "file")
			e.HTTPStatus = http.StatusRequestEntityTooLarge
			e.ToGinResponse(c)
			return
		}
		apierrors.HandleValidationError(c, "file is required", "file")
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		apierrors.HandleInternalError(c, "could not read upload", err)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		apierrors.HandleInternalError(c, "could not read upload", err)
		return
	}
	if len(data) == 0 {
		apierrors.HandleValidationError(c, "file is empty", "file")
		return
	}

	filename := filepath.Base(fileHeader.Filename)
	contentType := uploadContentType(fileHeader.Header.Get("Content-Type"), filename)

	jobID := uuid.NewString()
	sourceURL, err := h.store.Put(c.Request.Context(), storage.SourcePath(owner, jobID, filename), data, contentType)
	if err != nil {
		apierrors.Respond(c, tcerrors.IOError("store_source", err).WithJob(jobID))
		return
	}

	job := &database.Job{
		ID:               jobID,
		OwnerID:          owner,
		OriginalFilename: filename,
		InputFileURL:     sourceURL,
		InputContentType: contentType,
	}
	if err := h.jobs.Create(c.Request.Context(), job); err != nil {
		apierrors.Respond(c, err)
		return
	}

	h.logger.Info("job created", "job_id", jobID, "owner_id", owner, "filename", filename, "size", len(data))

	response := gin.H{"job": job, "triggered": false}
	if autostart, _ := strconv.ParseBool(c.PostForm("autostart")); autostart {
		if err := h.invoker.Trigger(c.Request.Context(), jobID); err != nil {
			h.logger.Warn("failed to trigger new job", "job_id", jobID, "error", err)
			response["trigger_error"] = apierrors.FromTranscodingError(err).Message
		} else {
			response["triggered"] = true
		}
	}

	c.JSON(http.StatusCreated, response)
}

// ListJobs handles GET /api/v1/jobs?limit=N
// Returns the caller's jobs, newest first.
func (h *JobHandler) ListJobs(c *gin.Context) {
	owner, _ := middleware.PrincipalFrom(c)

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			apierrors.HandleValidationError(c, "limit must be a non-negative integer", "limit")
			return
		}
		limit = n
	}

	jobs, err := h.jobs.ListByOwner(c.Request.Context(), owner, limit)
	if err != nil {
		apierrors.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// GetJob handles GET /api/v1/jobs/:jobId
func (h *JobHandler) GetJob(c *gin.Context) {
	job, ok := h.ownedJob(c)
	if !ok {
		return
	}

	response := jobResponse{Job: job}
	if presigner, ok := h.store.(storage.Presigner); ok {
		if objectPath, ok := h.store.PathFromURL(job.InputFileURL); ok {
			url, err := presigner.PresignGet(c.Request.Context(), objectPath, h.opts.PresignExpiry)
			if err != nil {
				h.logger.Warn("failed to presign source", "job_id", job.ID, "error", err)
			} else {
				response.SourceURL = url
			}
		}
	}

	c.JSON(http.StatusOK, response)
}

// ProcessJob handles POST /api/v1/functions/process-job
//
// Request body:
//
//	{"jobId": "uuid"}
//
// The job must belong to the caller; other owners' jobs are reported as not
// found. The job runs detached from this request. 202 means accepted, not
// done.
func (h *JobHandler) ProcessJob(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxInvocationBytes))
	if err != nil {
		apierrors.HandleValidationError(c, "could not read request body", "body")
		return
	}

	jobID, err := dispatch.ParseInvocation(body)
	if err != nil {
		apierrors.NewValidationError("jobId must be a UUID", "jobId").ToGinResponse(c)
		return
	}

	if _, ok := h.loadOwned(c, jobID); !ok {
		return
	}

	if err := h.invoker.Trigger(c.Request.Context(), jobID); err != nil {
		apierrors.Respond(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"jobId":    jobID,
		"accepted": true,
	})
}

// ownedJob loads :jobId and checks it belongs to the caller. Jobs of other
// owners are reported as not found.
func (h *JobHandler) ownedJob(c *gin.Context) (*database.Job, bool) {
	jobID, err := dispatch.ValidateJobID(c.Param("jobId"))
	if err != nil {
		apierrors.HandleValidationError(c, "jobId must be a UUID", "jobId")
		return nil, false
	}
	return h.loadOwned(c, jobID)
}

// loadOwned writes the error response itself when it returns false
func (h *JobHandler) loadOwned(c *gin.Context, jobID string) (*database.Job, bool) {
	owner, _ := middleware.PrincipalFrom(c)

	job, err := h.jobs.Get(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, tcerrors.ErrJobNotFound) {
			apierrors.HandleNotFound(c, "job", jobID)
			return nil, false
		}
		apierrors.Respond(c, err)
		return nil, false
	}
	if job.OwnerID != owner {
		apierrors.HandleNotFound(c, "job", jobID)
		return nil, false
	}
	return job, true
}

// uploadContentType prefers the part's declared type unless it is missing or
// generic, then falls back to the extension.
func uploadContentType(declared, filename string) string {
	if declared != "" {
		if mediaType, _, err := mime.ParseMediaType(declared); err == nil && mediaType != "application/octet-stream" {
			return mediaType
		}
	}
	return storage.ContentTypeFor(filename)
}
