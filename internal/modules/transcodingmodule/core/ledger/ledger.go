// Package ledger persists transcoding jobs and enforces their lifecycle.
//
// Every status change is a single conditional UPDATE whose WHERE clause
// carries the expected current status, so concurrent callers race in the
// database rather than in memory. A write that matches no row did not happen.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/vodforge/vodforge/internal/database"
	"github.com/vodforge/vodforge/internal/modules/transcodingmodule/core/notify"
	tcerrors "github.com/vodforge/vodforge/internal/modules/transcodingmodule/errors"
	"github.com/vodforge/vodforge/internal/modules/transcodingmodule/types"
	"gorm.io/gorm"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	defaultFailure   = "transcoding failed"
)

var timeNow = time.Now

// Ledger is the job store.
type Ledger struct {
	db       *gorm.DB
	notifier notify.Notifier
	logger   hclog.Logger
}

// New creates a ledger over db. A nil notifier drops change notifications.
func New(db *gorm.DB, notifier notify.Notifier, logger hclog.Logger) *Ledger {
	if notifier == nil {
		notifier = notify.Discard
	}
	return &Ledger{
		db:       db,
		notifier: notifier,
		logger:   logger.Named("ledger"),
	}
}

// Create inserts job as pending. A missing ID is generated.
func (l *Ledger) Create(ctx context.Context, job *database.Job) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	} else if _, err := uuid.Parse(job.ID); err != nil {
		return tcerrors.ValidationError("create_job", fmt.Errorf("job id %q is not a UUID", job.ID))
	}
	if strings.TrimSpace(job.OwnerID) == "" {
		return tcerrors.ValidationError("create_job", errors.New("owner id is required"))
	}
	if strings.TrimSpace(job.InputFileURL) == "" {
		return tcerrors.ValidationError("create_job", errors.New("input file url is required"))
	}

	job.Status = types.StatusPending
	job.Progress = 0
	job.OutputFormat = database.OutputFormatHLS
	job.OutputURL = ""
	job.ResolutionVariants = nil
	job.TotalSizeBytes = 0
	job.ErrorMessage = ""
	job.StartedAt = nil
	job.FinishedAt = nil

	if err := l.db.WithContext(ctx).Create(job).Error; err != nil {
		return tcerrors.InternalError("create_job", err).WithJob(job.ID)
	}

	l.logger.Info("job created", "job_id", job.ID, "owner_id", job.OwnerID)
	l.publish(ctx, job)
	return nil
}

// Get returns the job with id or ErrJobNotFound.
func (l *Ledger) Get(ctx context.Context, id string) (*database.Job, error) {
	var job database.Job
	err := l.db.WithContext(ctx).Where("id = ?", id).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("job %s: %w", id, tcerrors.ErrJobNotFound)
	}
	if err != nil {
		return nil, tcerrors.InternalError("get_job", err).WithJob(id)
	}
	return &job, nil
}

// ListByOwner returns the owner's jobs, newest first.
func (l *Ledger) ListByOwner(ctx context.Context, ownerID string, limit int) ([]*database.Job, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	var jobs []*database.Job
	err := l.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, tcerrors.InternalError("list_jobs", err)
	}
	return jobs, nil
}

// StartProcessing moves a pending job to processing. It succeeds for exactly
// one caller; everyone else gets a LedgerConflict.
func (l *Ledger) StartProcessing(ctx context.Context, id string) (*database.Job, error) {
	now := timeNow()
	res := l.db.WithContext(ctx).Model(&database.Job{}).
		Where("id = ?", id).
		Where("status = ?", types.StatusPending).
		Select("status", "progress", "started_at", "updated_at").
		Updates(database.Job{Status: types.StatusProcessing, Progress: 0, StartedAt: &now})
	if res.Error != nil {
		return nil, tcerrors.InternalError("start_processing", res.Error).WithJob(id)
	}

	if res.RowsAffected == 0 {
		current, err := l.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, tcerrors.ConflictError("start_processing", &TransitionError{
			JobID:  id,
			From:   current.Status,
			To:     types.StatusProcessing,
			Reason: "job is not pending",
		}).WithJob(id).WithDetail("status", current.Status.String())
	}

	job, err := l.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	l.logger.Info("job processing", "job_id", id)
	l.publish(ctx, job)
	return job, nil
}

// UpdateProgress records pct for a processing job. It returns false without
// an error when the write was ignored: the job is no longer processing or pct
// is lower than what is stored.
func (l *Ledger) UpdateProgress(ctx context.Context, id string, pct int) (bool, error) {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}

	res := l.db.WithContext(ctx).Model(&database.Job{}).
		Where("id = ?", id).
		Where("status = ?", types.StatusProcessing).
		Where("progress <= ?", pct).
		Select("progress", "updated_at").
		Updates(database.Job{Progress: pct})
	if res.Error != nil {
		return false, tcerrors.InternalError("update_progress", res.Error).WithJob(id)
	}
	if res.RowsAffected == 0 {
		l.logger.Debug("progress write ignored", "job_id", id, "progress", pct)
		return false, nil
	}

	if job, err := l.Get(ctx, id); err == nil {
		l.publish(ctx, job)
	}
	return true, nil
}

// Complete moves a processing job to completed with its outputs.
func (l *Ledger) Complete(ctx context.Context, id string, result types.CompletionResult) (*database.Job, error) {
	if result.OutputURL == "" {
		return nil, tcerrors.ValidationError("complete_job", errors.New("output url is required")).WithJob(id)
	}

	now := timeNow()
	res := l.db.WithContext(ctx).Model(&database.Job{}).
		Where("id = ?", id).
		Where("status = ?", types.StatusProcessing).
		Select("status", "progress", "output_url", "resolution_variants", "total_size_bytes", "error_message", "finished_at", "updated_at").
		Updates(database.Job{
			Status:             types.StatusCompleted,
			Progress:           100,
			OutputURL:          result.OutputURL,
			ResolutionVariants: result.Variants,
			TotalSizeBytes:     result.TotalSizeBytes,
			FinishedAt:         &now,
		})
	if res.Error != nil {
		return nil, tcerrors.InternalError("complete_job", res.Error).WithJob(id)
	}
	if res.RowsAffected == 0 {
		return nil, l.rejected(ctx, id, types.StatusCompleted)
	}

	job, err := l.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	l.logger.Info("job completed", "job_id", id, "output_url", result.OutputURL, "total_size_bytes", result.TotalSizeBytes)
	l.publish(ctx, job)
	return job, nil
}

// Fail moves a processing job to failed. message must be safe to show the
// job's owner.
func (l *Ledger) Fail(ctx context.Context, id string, message string) (*database.Job, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		message = defaultFailure
	}

	now := timeNow()
	res := l.db.WithContext(ctx).Model(&database.Job{}).
		Where("id = ?", id).
		Where("status = ?", types.StatusProcessing).
		Select("status", "error_message", "finished_at", "updated_at").
		Updates(database.Job{Status: types.StatusFailed, ErrorMessage: message, FinishedAt: &now})
	if res.Error != nil {
		return nil, tcerrors.InternalError("fail_job", res.Error).WithJob(id)
	}
	if res.RowsAffected == 0 {
		return nil, l.rejected(ctx, id, types.StatusFailed)
	}

	job, err := l.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	l.logger.Warn("job failed", "job_id", id, "error_message", message)
	l.publish(ctx, job)
	return job, nil
}

// rejected explains why a guarded exit from processing matched no row.
func (l *Ledger) rejected(ctx context.Context, id string, to types.Status) error {
	current, err := l.Get(ctx, id)
	if err != nil {
		return err
	}
	if verr := ValidateTransition(current.Status, to); verr != nil {
		var terr *TransitionError
		if errors.As(verr, &terr) {
			terr.JobID = id
		}
		return verr
	}
	// Another writer changed the row between the update and the read.
	return &TransitionError{JobID: id, From: current.Status, To: to, Reason: "concurrent update"}
}

func (l *Ledger) publish(ctx context.Context, job *database.Job) {
	change := notify.FromJob(job)
	if change.At.IsZero() {
		change.At = timeNow()
	}
	if err := l.notifier.Publish(ctx, change); err != nil {
		l.logger.Warn("failed to publish job change", "job_id", job.ID, "status", job.Status, "error", err)
	}
}
