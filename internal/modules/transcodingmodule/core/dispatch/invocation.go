// Package dispatch turns "process this job" invocations into background job
// runs: payload validation, the in-process queue, and the Kafka trigger used
// when the work runs in a separate worker process.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/uuid"
	tcerrors "github.com/vodforge/vodforge/internal/modules/transcodingmodule/errors"
)

// Invocation is the wire payload of a process-job trigger.
type Invocation struct {
	JobID string `json:"jobId"`
}

// Invoker starts processing of a job without waiting for it.
type Invoker interface {
	Trigger(ctx context.Context, jobID string) error
}

// Handler processes one job to completion.
type Handler func(ctx context.Context, jobID string) error

// ParseInvocation validates a trigger payload and returns the canonical job ID.
func ParseInvocation(body []byte) (string, error) {
	var inv Invocation
	if err := json.Unmarshal(body, &inv); err != nil {
		return "", tcerrors.ValidationError("parse_invocation", err)
	}
	return ValidateJobID(inv.JobID)
}

// ValidateJobID checks that id is a UUID and returns it in canonical form.
func ValidateJobID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", tcerrors.ValidationError("validate_job_id", errors.New("jobId is required"))
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return "", tcerrors.ValidationError("validate_job_id", err).WithDetail("job_id", id)
	}
	return parsed.String(), nil
}

// EncodeInvocation builds the payload ParseInvocation accepts.
func EncodeInvocation(jobID string) ([]byte, error) {
	return json.Marshal(Invocation{JobID: jobID})
}
