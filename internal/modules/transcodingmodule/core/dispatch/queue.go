package dispatch

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"
	tcerrors "github.com/vodforge/vodforge/internal/modules/transcodingmodule/errors"
	"github.com/vodforge/vodforge/internal/utils"
)

// ErrQueueStopped is the result of tasks that were still queued at Stop.
var ErrQueueStopped = tcerrors.ErrQueueStopped

// Task is the completion future of one accepted invocation.
type Task struct {
	JobID      string
	AcceptedAt time.Time

	done chan struct{}
	err  error
}

func newTask(jobID string) *Task {
	return &Task{JobID: jobID, AcceptedAt: time.Now(), done: make(chan struct{})}
}

// Done is closed when the job run has finished.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Err returns the run's error. Only meaningful after Done is closed.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Wait blocks until the task finishes or ctx is done.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Task) finish(err error) {
	t.err = err
	close(t.done)
}

// QueueConfig sizes the in-process queue
type QueueConfig struct {
	Workers    int
	QueueSize  int
	JobTimeout time.Duration
}

// Queue runs accepted invocations on a worker pool. Job runs are detached
// from the request that submitted them: they use a background context
// bounded only by JobTimeout.
type Queue struct {
	pool     *utils.WorkerPool
	handle   Handler
	reporter tcerrors.ErrorReporter
	timeout  time.Duration
	logger   hclog.Logger

	mu      sync.Mutex
	waiting map[*Task]struct{}
	active  atomic.Int64
}

// NewQueue creates a stopped queue; call Start.
func NewQueue(cfg QueueConfig, handle Handler, reporter tcerrors.ErrorReporter, logger hclog.Logger) *Queue {
	logger = logger.Named("dispatch")
	if reporter == nil {
		reporter = tcerrors.NewErrorReporter(logger)
	}
	return &Queue{
		pool:     utils.NewWorkerPool(cfg.Workers, cfg.QueueSize),
		handle:   handle,
		reporter: reporter,
		timeout:  cfg.JobTimeout,
		logger:   logger,
		waiting:  make(map[*Task]struct{}),
	}
}

// Start launches the workers
func (q *Queue) Start() {
	q.pool.Start()
	q.logger.Info("dispatch queue started", "capacity", q.pool.Capacity())
}

// Stop waits for running jobs and resolves every still-queued task with
// ErrQueueStopped. Their jobs stay pending and can be triggered again.
func (q *Queue) Stop() {
	q.pool.Stop()
	q.pool.Drain()

	q.mu.Lock()
	abandoned := make([]*Task, 0, len(q.waiting))
	for task := range q.waiting {
		abandoned = append(abandoned, task)
	}
	q.waiting = make(map[*Task]struct{})
	q.mu.Unlock()

	for _, task := range abandoned {
		task.finish(ErrQueueStopped)
	}
	q.logger.Info("dispatch queue stopped", "abandoned", len(abandoned))
}

// Submit accepts a job for background processing and returns immediately.
func (q *Queue) Submit(jobID string) (*Task, error) {
	id, err := ValidateJobID(jobID)
	if err != nil {
		return nil, err
	}
	if !q.pool.Running() {
		return nil, ErrQueueStopped
	}

	task := newTask(id)
	q.mu.Lock()
	q.waiting[task] = struct{}{}
	q.mu.Unlock()

	if !q.pool.Submit(func() { q.run(task) }) {
		q.mu.Lock()
		delete(q.waiting, task)
		q.mu.Unlock()
		if !q.pool.Running() {
			return nil, ErrQueueStopped
		}
		q.logger.Warn("dispatch queue full, rejecting job", "job_id", id)
		return nil, tcerrors.ErrQueueFull
	}

	q.logger.Debug("job queued", "job_id", id, "pending", q.pool.Pending())
	return task, nil
}

// Trigger implements Invoker.
func (q *Queue) Trigger(_ context.Context, jobID string) error {
	_, err := q.Submit(jobID)
	return err
}

// Pending returns the number of accepted jobs not yet started
func (q *Queue) Pending() int {
	return q.pool.Pending()
}

// Active returns the number of running jobs
func (q *Queue) Active() int {
	return int(q.active.Load())
}

// Reporter returns the reporter collecting background failures
func (q *Queue) Reporter() tcerrors.ErrorReporter {
	return q.reporter
}

func (q *Queue) run(task *Task) {
	q.mu.Lock()
	delete(q.waiting, task)
	q.mu.Unlock()

	q.active.Add(1)
	defer q.active.Add(-1)

	ctx := context.Background()
	if q.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}

	var err error
	defer func() {
		if r := recover(); r != nil {
			q.reporter.ReportPanic(ctx, r, debug.Stack())
			err = tcerrors.InternalError("process_job", fmt.Errorf("panic: %v", r)).WithJob(task.JobID)
		}
		task.finish(err)
	}()

	start := time.Now()
	err = q.handle(ctx, task.JobID)
	if err != nil {
		q.reporter.ReportError(ctx, err)
		return
	}
	q.logger.Info("job run finished", "job_id", task.JobID, "duration", time.Since(start))
}
