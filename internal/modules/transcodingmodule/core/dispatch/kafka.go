package dispatch

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/segmentio/kafka-go"
	tcerrors "github.com/vodforge/vodforge/internal/modules/transcodingmodule/errors"
)

// KafkaConfig configures the trigger topic
type KafkaConfig struct {
	Brokers         []string
	Topic           string
	GroupID         string
	MaxAttempts     int
	BackoffInterval time.Duration
}

// SplitBrokers parses a comma separated broker list
func SplitBrokers(list string) []string {
	var brokers []string
	for _, b := range strings.Split(list, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaInvoker publishes invocations to the trigger topic for a worker
// process to pick up.
type KafkaInvoker struct {
	writer messageWriter
	logger hclog.Logger
}

// NewKafkaInvoker creates a producer for cfg.Topic
func NewKafkaInvoker(cfg KafkaConfig, logger hclog.Logger) *KafkaInvoker {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		MaxAttempts:            maxAttempts,
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
	return &KafkaInvoker{writer: writer, logger: logger.Named("kafka-invoker")}
}

// Trigger validates jobID and writes it keyed by job, so repeated triggers
// for one job land on one partition in order.
func (k *KafkaInvoker) Trigger(ctx context.Context, jobID string) error {
	id, err := ValidateJobID(jobID)
	if err != nil {
		return err
	}
	payload, err := EncodeInvocation(id)
	if err != nil {
		return tcerrors.InternalError("encode_invocation", err).WithJob(id)
	}
	if err := k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(id),
		Value: payload,
		Time:  time.Now(),
	}); err != nil {
		return tcerrors.InternalError("publish_invocation", err).WithJob(id)
	}
	k.logger.Debug("invocation published", "job_id", id)
	return nil
}

// Close flushes and closes the producer
func (k *KafkaInvoker) Close() error {
	return k.writer.Close()
}

// KafkaConsumer reads invocations from the trigger topic.
type KafkaConsumer struct {
	reader  messageReader
	backoff time.Duration
	logger  hclog.Logger
}

// NewKafkaConsumer joins cfg.GroupID on cfg.Topic
func NewKafkaConsumer(cfg KafkaConfig, logger hclog.Logger) *KafkaConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  time.Second,
	})
	return newKafkaConsumer(reader, cfg.BackoffInterval, logger)
}

func newKafkaConsumer(reader messageReader, backoff time.Duration, logger hclog.Logger) *KafkaConsumer {
	if backoff <= 0 {
		backoff = 5 * time.Second
	}
	return &KafkaConsumer{reader: reader, backoff: backoff, logger: logger.Named("kafka-consumer")}
}

// Run hands every valid invocation to handle until ctx is done.
// Malformed payloads are logged and committed. When handle reports a full
// queue the same message is retried after a backoff; other handler errors
// are logged and the message is committed.
func (c *KafkaConsumer) Run(ctx context.Context, handle func(ctx context.Context, jobID string) error) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("failed to read invocation", "error", err)
			if !c.sleep(ctx) {
				return ctx.Err()
			}
			continue
		}

		jobID, err := ParseInvocation(msg.Value)
		if err != nil {
			c.logger.Warn("discarding malformed invocation", "partition", msg.Partition, "offset", msg.Offset, "error", err)
		} else if !c.deliver(ctx, jobID, handle) {
			return ctx.Err()
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("failed to commit invocation", "offset", msg.Offset, "error", err)
		}
	}
}

// Close leaves the consumer group
func (c *KafkaConsumer) Close() error {
	return c.reader.Close()
}

func (c *KafkaConsumer) deliver(ctx context.Context, jobID string, handle func(ctx context.Context, jobID string) error) bool {
	for {
		err := handle(ctx, jobID)
		if err == nil {
			return true
		}
		if !errors.Is(err, tcerrors.ErrQueueFull) {
			c.logger.Warn("invocation rejected", "job_id", jobID, "error", err)
			return true
		}
		c.logger.Debug("queue full, retrying invocation", "job_id", jobID)
		if !c.sleep(ctx) {
			return false
		}
	}
}

func (c *KafkaConsumer) sleep(ctx context.Context) bool {
	timer := time.NewTimer(c.backoff)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
