// Package notify carries job changes from the ledger to whoever is watching:
// the websocket handler in this process, and other server processes when a
// shared backend is configured.
package notify

import (
	"context"
	"time"

	"github.com/vodforge/vodforge/internal/database"
	"github.com/vodforge/vodforge/internal/events"
	"github.com/vodforge/vodforge/internal/modules/transcodingmodule/types"
)

// JobChange is the observable state of a job right after a ledger mutation.
type JobChange struct {
	JobID        string       `json:"jobId"`
	OwnerID      string       `json:"ownerId"`
	Status       types.Status `json:"status"`
	Progress     int          `json:"progress"`
	OutputURL    string       `json:"outputUrl,omitempty"`
	ErrorMessage string       `json:"errorMessage,omitempty"`
	At           time.Time    `json:"at"`
}

// FromJob snapshots job as a change
func FromJob(job *database.Job) JobChange {
	return JobChange{
		JobID:        job.ID,
		OwnerID:      job.OwnerID,
		Status:       job.Status,
		Progress:     job.Progress,
		OutputURL:    job.OutputURL,
		ErrorMessage: job.ErrorMessage,
		At:           job.UpdatedAt,
	}
}

// Terminal reports whether no further changes will follow for the job.
func (c JobChange) Terminal() bool {
	return c.Status.IsTerminal()
}

// EventType classifies the change for the event bus.
func (c JobChange) EventType() events.EventType {
	switch c.Status {
	case types.StatusPending:
		return events.EventJobCreated
	case types.StatusCompleted:
		return events.EventJobCompleted
	case types.StatusFailed:
		return events.EventJobFailed
	}
	if c.Progress == 0 {
		return events.EventJobStarted
	}
	return events.EventJobProgress
}

// Notifier publishes job changes.
type Notifier interface {
	Publish(ctx context.Context, change JobChange) error
}

// Feed streams the changes of one job. The returned channel closes when ctx
// is done or the feed shuts down.
type Feed interface {
	Subscribe(ctx context.Context, jobID string) (<-chan JobChange, error)
}

type discard struct{}

func (discard) Publish(context.Context, JobChange) error { return nil }

// Discard is a Notifier that drops every change.
var Discard Notifier = discard{}
