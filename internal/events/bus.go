package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
)

// ErrBusStopped is returned by Publish and Subscribe after Stop.
var ErrBusStopped = errors.New("event bus is stopped")

const defaultSubscriptionBuffer = 16

// Subscription is one subscriber's ordered view of matching events.
type Subscription struct {
	ID      string
	Filter  EventFilter
	Created time.Time

	ch  chan Event
	bus *Bus
}

// Events returns the delivery channel. It is closed by Close or Stop.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Close removes the subscription from its bus.
func (s *Subscription) Close() {
	s.bus.Unsubscribe(s.ID)
}

// Bus fans events out to subscribers. Delivery never blocks the publisher:
// a subscriber whose buffer is full misses the event, unless the event is
// final, in which case the oldest queued events make room for it.
type Bus struct {
	logger hclog.Logger

	mu            sync.RWMutex
	subscriptions map[string]*Subscription
	stopped       bool

	published atomic.Int64
	dropped   atomic.Int64
}

// NewBus creates a running event bus
func NewBus(logger hclog.Logger) *Bus {
	return &Bus{
		logger:        logger.Named("events"),
		subscriptions: make(map[string]*Subscription),
	}
}

// Publish delivers event to every matching subscription.
func (b *Bus) Publish(ctx context.Context, event Event) error {
	if event.Type == "" {
		return fmt.Errorf("invalid event: event type is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	// Sends happen under the read lock so Unsubscribe cannot close a channel
	// mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.stopped {
		return ErrBusStopped
	}

	b.published.Add(1)
	for _, sub := range b.subscriptions {
		if !MatchesFilter(event, sub.Filter) {
			continue
		}
		select {
		case sub.ch <- event:
			continue
		default:
		}
		if event.Type.Final() {
			b.evictAndSend(sub, event)
			continue
		}
		b.dropped.Add(1)
		b.logger.Warn("subscriber buffer full, dropping event",
			"subscription_id", sub.ID, "event_type", event.Type, "target", event.Target)
	}
	return nil
}

// evictAndSend makes room for a final event by discarding the oldest queued
// ones. Callers hold the read lock.
func (b *Bus) evictAndSend(sub *Subscription, event Event) {
	for {
		select {
		case sub.ch <- event:
			return
		default:
		}
		select {
		case old := <-sub.ch:
			b.dropped.Add(1)
			b.logger.Warn("subscriber buffer full, evicted event for a final one",
				"subscription_id", sub.ID, "evicted_type", old.Type, "target", event.Target)
		default:
		}
	}
}

// Subscribe registers a new subscription. buffer <= 0 uses a default size.
func (b *Bus) Subscribe(filter EventFilter, buffer int) (*Subscription, error) {
	if buffer <= 0 {
		buffer = defaultSubscriptionBuffer
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return nil, ErrBusStopped
	}

	sub := &Subscription{
		ID:      "sub-" + uuid.NewString(),
		Filter:  filter,
		Created: time.Now(),
		ch:      make(chan Event, buffer),
		bus:     b,
	}
	b.subscriptions[sub.ID] = sub
	b.logger.Debug("subscription added", "subscription_id", sub.ID, "targets", filter.Targets)
	return sub, nil
}

// Unsubscribe removes a subscription and closes its channel. Unknown IDs are
// ignored so Close can be called more than once.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subscriptions[id]
	if !ok {
		return
	}
	delete(b.subscriptions, id)
	close(sub.ch)
}

// SubscriberCount returns the number of live subscriptions
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscriptions)
}

// Dropped returns how many deliveries were skipped because a buffer was full
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Published returns how many events were accepted
func (b *Bus) Published() int64 {
	return b.published.Load()
}

// Stop closes every subscription. Later calls are no-ops.
func (b *Bus) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}
	b.stopped = true
	for id, sub := range b.subscriptions {
		delete(b.subscriptions, id)
		close(sub.ch)
	}
	b.logger.Info("event bus stopped")
}
