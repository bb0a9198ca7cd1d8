package notify

import (
	"context"

	"github.com/vodforge/vodforge/internal/events"
)

const changeKey = "change"

// LocalNotifier publishes changes on the in-process event bus and serves
// them back as a Feed.
type LocalNotifier struct {
	bus    *events.Bus
	source string
	buffer int
}

// NewLocalNotifier wraps bus. source tags published events.
func NewLocalNotifier(bus *events.Bus, source string) *LocalNotifier {
	if source == "" {
		source = "ledger"
	}
	return &LocalNotifier{bus: bus, source: source, buffer: 32}
}

// Publish puts change on the bus.
func (n *LocalNotifier) Publish(ctx context.Context, change JobChange) error {
	return n.bus.Publish(ctx, toEvent(change, n.source))
}

// Subscribe streams the changes of jobID until ctx is done.
func (n *LocalNotifier) Subscribe(ctx context.Context, jobID string) (<-chan JobChange, error) {
	sub, err := n.bus.Subscribe(events.EventFilter{Targets: []string{jobID}}, n.buffer)
	if err != nil {
		return nil, err
	}

	out := make(chan JobChange, n.buffer)
	go func() {
		defer close(out)
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-sub.Events():
				if !ok {
					return
				}
				change, ok := fromEvent(event)
				if !ok {
					continue
				}
				select {
				case out <- change:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func toEvent(change JobChange, source string) events.Event {
	return events.Event{
		Type:      change.EventType(),
		Source:    source,
		Target:    change.JobID,
		Data:      map[string]interface{}{changeKey: change},
		Timestamp: change.At,
	}
}

func fromEvent(event events.Event) (JobChange, bool) {
	change, ok := event.Data[changeKey].(JobChange)
	return change, ok
}
