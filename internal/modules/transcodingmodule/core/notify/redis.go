package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/redis/go-redis/v9"
)

// RedisNotifier publishes changes as JSON on a per-job Redis channel,
// "<prefix>:<jobId>", so every server process behind the same Redis sees them.
type RedisNotifier struct {
	client *redis.Client
	prefix string
	logger hclog.Logger
}

// RedisOptions configures NewRedisNotifier
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// NewRedisNotifier connects to Redis and verifies the connection.
func NewRedisNotifier(ctx context.Context, opts RedisOptions, logger hclog.Logger) (*RedisNotifier, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.Addr, err)
	}
	return newRedisNotifier(client, opts.Prefix, logger), nil
}

func newRedisNotifier(client *redis.Client, prefix string, logger hclog.Logger) *RedisNotifier {
	if prefix == "" {
		prefix = "vodforge:jobs"
	}
	return &RedisNotifier{
		client: client,
		prefix: strings.TrimSuffix(prefix, ":"),
		logger: logger.Named("notify-redis"),
	}
}

// Publish sends change to the job's channel.
func (n *RedisNotifier) Publish(ctx context.Context, change JobChange) error {
	payload, err := encodeChange(change)
	if err != nil {
		return err
	}
	return n.client.Publish(ctx, n.channel(change.JobID), payload).Err()
}

// Subscribe streams the changes of jobID straight from Redis.
func (n *RedisNotifier) Subscribe(ctx context.Context, jobID string) (<-chan JobChange, error) {
	pubsub := n.client.Subscribe(ctx, n.channel(jobID))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, err
	}
	out := make(chan JobChange, 32)
	go n.forward(ctx, pubsub, func(change JobChange) bool {
		select {
		case out <- change:
			return true
		case <-ctx.Done():
			return false
		}
	}, func() { close(out) })
	return out, nil
}

// Relay pattern-subscribes to every job channel and republishes what arrives
// into local, so websocket watchers on this process see changes made by any
// process. It blocks until ctx is done.
func (n *RedisNotifier) Relay(ctx context.Context, local Notifier) error {
	pubsub := n.client.PSubscribe(ctx, n.prefix+":*")
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("failed to subscribe to %s:*: %w", n.prefix, err)
	}
	n.logger.Info("relaying job changes", "pattern", n.prefix+":*")

	done := make(chan struct{})
	n.forward(ctx, pubsub, func(change JobChange) bool {
		if err := local.Publish(ctx, change); err != nil && ctx.Err() == nil {
			n.logger.Warn("failed to relay job change", "job_id", change.JobID, "error", err)
		}
		return true
	}, func() { close(done) })
	<-done
	return ctx.Err()
}

// Close releases the Redis client
func (n *RedisNotifier) Close() error {
	return n.client.Close()
}

func (n *RedisNotifier) forward(ctx context.Context, pubsub *redis.PubSub, deliver func(JobChange) bool, finish func()) {
	defer finish()
	defer pubsub.Close()

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			change, err := decodeChange(msg.Payload)
			if err != nil {
				n.logger.Warn("discarding malformed job change", "channel", msg.Channel, "error", err)
				continue
			}
			if !deliver(change) {
				return
			}
		}
	}
}

func (n *RedisNotifier) channel(jobID string) string {
	return n.prefix + ":" + jobID
}

func encodeChange(change JobChange) (string, error) {
	data, err := json.Marshal(change)
	if err != nil {
		return "", fmt.Errorf("failed to encode job change: %w", err)
	}
	return string(data), nil
}

func decodeChange(payload string) (JobChange, error) {
	var change JobChange
	if err := json.Unmarshal([]byte(payload), &change); err != nil {
		return JobChange{}, err
	}
	if change.JobID == "" {
		return JobChange{}, fmt.Errorf("job change without job id")
	}
	return change, nil
}
