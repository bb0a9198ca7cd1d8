package errors

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
)

// defaultHistory is how many reports a reporter keeps before dropping the
// oldest
const defaultHistory = 1000

// ErrorReporter collects failures from fire-and-forget job runs, which have
// no caller left to return an error to.
type ErrorReporter interface {
	ReportError(ctx context.Context, err error)
	ReportPanic(ctx context.Context, recovered interface{}, stack []byte)

	// GetErrors returns the retained reports, oldest first
	GetErrors() []ReportedError
	ClearErrors()
}

// ReportedError is one retained report
type ReportedError struct {
	Error     error
	Type      ErrorType
	Operation string
	JobID     string
	IsPanic   bool
	Stack     string
	At        time.Time
}

// DefaultErrorReporter logs each report and keeps the most recent ones in a
// fixed-size ring.
type DefaultErrorReporter struct {
	logger hclog.Logger

	mu   sync.Mutex
	ring []ReportedError
	next int
	full bool
}

// NewErrorReporter returns a reporter retaining the last 1000 reports.
func NewErrorReporter(logger hclog.Logger) ErrorReporter {
	return newReporter(logger, defaultHistory)
}

func newReporter(logger hclog.Logger, history int) *DefaultErrorReporter {
	return &DefaultErrorReporter{
		logger: logger,
		ring:   make([]ReportedError, max(history, 1)),
	}
}

// ReportError logs err at warn when it is recoverable and at error otherwise.
// A nil err is ignored.
func (r *DefaultErrorReporter) ReportError(ctx context.Context, err error) {
	if err == nil {
		return
	}

	report := ReportedError{
		Error:     err,
		Type:      GetType(err),
		Operation: GetOperation(err),
		JobID:     GetJobID(err),
		At:        time.Now(),
	}

	var tErr *TranscodingError
	recoverable := errors.As(err, &tErr) && tErr.IsRecoverable()
	level := hclog.Error
	if recoverable {
		level = hclog.Warn
	}
	r.logger.Log(level, "background job error",
		"error", err,
		"type", report.Type,
		"operation", report.Operation,
		"job_id", report.JobID,
		"recoverable", recoverable,
	)

	r.push(report)
}

// ReportPanic records a recovered panic value with its stack.
func (r *DefaultErrorReporter) ReportPanic(ctx context.Context, recovered interface{}, stack []byte) {
	r.logger.Error("panic in background job", "panic", recovered, "stack", string(stack))

	r.push(ReportedError{
		Error:     panicError(recovered),
		Type:      ErrorTypeInternal,
		Operation: "panic",
		IsPanic:   true,
		Stack:     string(stack),
		At:        time.Now(),
	})
}

func panicError(recovered interface{}) error {
	if err, ok := recovered.(error); ok {
		return err
	}
	return fmt.Errorf("panic: %v", recovered)
}

func (r *DefaultErrorReporter) push(report ReportedError) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ring[r.next] = report
	r.next = (r.next + 1) % len(r.ring)
	if r.next == 0 {
		r.full = true
	}
}

func (r *DefaultErrorReporter) GetErrors() []ReportedError {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.full {
		return append([]ReportedError(nil), r.ring[:r.next]...)
	}
	out := make([]ReportedError, 0, len(r.ring))
	out = append(out, r.ring[r.next:]...)
	return append(out, r.ring[:r.next]...)
}

func (r *DefaultErrorReporter) ClearErrors() {
	r.mu.Lock()
	defer r.mu.Unlock()

	clear(r.ring)
	r.next, r.full = 0, false
}
