package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcerrors "github.com/vodforge/vodforge/internal/modules/transcodingmodule/errors"
)

func TestParseInvocation(t *testing.T) {
	id := uuid.NewString()

	got, err := ParseInvocation([]byte(`{"jobId":"` + id + `"}`))
	require.NoError(t, err)
	assert.Equal(t, id, got)

	upper, err := ParseInvocation([]byte(`{"jobId":"  ` + "6F9619FF-8B86-D011-B42D-00C04FC964FF" + `  "}`))
	require.NoError(t, err)
	assert.Equal(t, "6f9619ff-8b86-d011-b42d-00c04fc964ff", upper)

	for _, body := range []string{`{}`, `{"jobId":""}`, `{"jobId":"abc"}`, `not json`, `{"jobId":42}`} {
		_, err := ParseInvocation([]byte(body))
		assert.ErrorIs(t, err, tcerrors.ErrInvalidInput, body)
	}
}

func TestEncodeInvocation(t *testing.T) {
	id := uuid.NewString()
	payload, err := EncodeInvocation(id)
	require.NoError(t, err)
	got, err := ParseInvocation(payload)
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestQueue_RunsJobsInBackground(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []string
	)
	q := NewQueue(QueueConfig{Workers: 1, QueueSize: 4}, func(ctx context.Context, jobID string) error {
		mu.Lock()
		seen = append(seen, jobID)
		mu.Unlock()
		return nil
	}, nil, hclog.NewNullLogger())
	q.Start()
	defer q.Stop()

	id := uuid.NewString()
	task, err := q.Submit(id)
	require.NoError(t, err)

	select {
	case <-task.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("task did not finish")
	}
	assert.NoError(t, task.Err())
	assert.Equal(t, []string{id}, seen)
}

func TestQueue_ReportsErrorsAndPanics(t *testing.T) {
	boom := tcerrors.EncodeError("encode", errors.New("exit status 1"))
	q := NewQueue(QueueConfig{Workers: 1, QueueSize: 4}, func(ctx context.Context, jobID string) error {
		if jobID == "00000000-0000-4000-8000-000000000001" {
			panic("codec crashed")
		}
		return boom
	}, nil, hclog.NewNullLogger())
	q.Start()
	defer q.Stop()

	failing, err := q.Submit(uuid.NewString())
	require.NoError(t, err)
	assert.ErrorIs(t, failing.Wait(context.Background()), tcerrors.ErrEncodeFailed)

	panicking, err := q.Submit("00000000-0000-4000-8000-000000000001")
	require.NoError(t, err)
	err = panicking.Wait(context.Background())
	assert.Equal(t, tcerrors.ErrorTypeInternal, tcerrors.GetType(err))

	reported := q.Reporter().GetErrors()
	require.Len(t, reported, 2)
	assert.Equal(t, tcerrors.ErrorTypeEncode, reported[0].Type)
	assert.True(t, reported[1].IsPanic)
}

func TestQueue_FullAndInvalid(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	q := NewQueue(QueueConfig{Workers: 1, QueueSize: 1}, func(ctx context.Context, jobID string) error {
		started <- struct{}{}
		<-release
		return nil
	}, nil, hclog.NewNullLogger())
	q.Start()

	_, err := q.Submit("not-a-uuid")
	assert.ErrorIs(t, err, tcerrors.ErrInvalidInput)

	first, err := q.Submit(uuid.NewString())
	require.NoError(t, err)
	<-started
	assert.Equal(t, 1, q.Active())

	queued, err := q.Submit(uuid.NewString())
	require.NoError(t, err)
	assert.Equal(t, 1, q.Pending())

	_, err = q.Submit(uuid.NewString())
	assert.ErrorIs(t, err, tcerrors.ErrQueueFull)
	assert.ErrorIs(t, q.Trigger(context.Background(), uuid.NewString()), tcerrors.ErrQueueFull)

	// Stop waits for the running job and abandons the queued one
	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()
	q.Stop()

	assert.NoError(t, first.Wait(context.Background()))
	assert.ErrorIs(t, queued.Wait(context.Background()), ErrQueueStopped)

	_, err = q.Submit(uuid.NewString())
	assert.ErrorIs(t, err, ErrQueueStopped)
}

func TestQueue_JobTimeoutBoundsContext(t *testing.T) {
	q := NewQueue(QueueConfig{Workers: 1, QueueSize: 1, JobTimeout: 20 * time.Millisecond}, func(ctx context.Context, jobID string) error {
		<-ctx.Done()
		return ctx.Err()
	}, nil, hclog.NewNullLogger())
	q.Start()
	defer q.Stop()

	task, err := q.Submit(uuid.NewString())
	require.NoError(t, err)
	assert.ErrorIs(t, task.Wait(context.Background()), context.DeadlineExceeded)
}

func TestTask_WaitHonoursContext(t *testing.T) {
	task := newTask("x")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, task.Wait(ctx), context.Canceled)
	assert.NoError(t, task.Err())
}

type fakeWriter struct {
	messages []kafka.Message
	err      error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

type fakeReader struct {
	mu        sync.Mutex
	messages  []kafka.Message
	fetchErrs []error
	committed []int64
	drained   chan struct{}
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.fetchErrs) > 0 {
		err := r.fetchErrs[0]
		r.fetchErrs = r.fetchErrs[1:]
		r.mu.Unlock()
		return kafka.Message{}, err
	}
	if len(r.messages) > 0 {
		msg := r.messages[0]
		r.messages = r.messages[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	if r.drained != nil {
		select {
		case <-r.drained:
		default:
			close(r.drained)
		}
	}
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func TestKafkaInvoker_Trigger(t *testing.T) {
	w := &fakeWriter{}
	k := &KafkaInvoker{writer: w, logger: hclog.NewNullLogger()}

	id := uuid.NewString()
	require.NoError(t, k.Trigger(context.Background(), id))
	require.Len(t, w.messages, 1)
	assert.Equal(t, id, string(w.messages[0].Key))
	got, err := ParseInvocation(w.messages[0].Value)
	require.NoError(t, err)
	assert.Equal(t, id, got)

	assert.ErrorIs(t, k.Trigger(context.Background(), "bad"), tcerrors.ErrInvalidInput)

	w.err = errors.New("broker down")
	assert.Error(t, k.Trigger(context.Background(), id))
}

func TestKafkaConsumer_Run(t *testing.T) {
	good := uuid.NewString()
	retried := uuid.NewString()
	reader := &fakeReader{
		fetchErrs: []error{errors.New("leader not available")},
		messages: []kafka.Message{
			{Offset: 1, Value: []byte(`{"jobId":"` + good + `"}`)},
			{Offset: 2, Value: []byte(`garbage`)},
			{Offset: 3, Value: []byte(`{"jobId":"` + retried + `"}`)},
		},
		drained: make(chan struct{}),
	}
	c := newKafkaConsumer(reader, time.Millisecond, hclog.NewNullLogger())

	var (
		mu       sync.Mutex
		handled  []string
		attempts int
	)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- c.Run(ctx, func(_ context.Context, jobID string) error {
			mu.Lock()
			defer mu.Unlock()
			if jobID == retried {
				attempts++
				if attempts < 3 {
					return tcerrors.ErrQueueFull
				}
			}
			handled = append(handled, jobID)
			return nil
		})
	}()

	select {
	case <-reader.drained:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not drain messages")
	}
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	assert.Equal(t, []string{good, retried}, handled)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []int64{1, 2, 3}, reader.committed)
}

func TestSplitBrokers(t *testing.T) {
	assert.Equal(t, []string{"a:9092", "b:9092"}, SplitBrokers(" a:9092, ,b:9092 "))
	assert.Empty(t, SplitBrokers(""))
}
