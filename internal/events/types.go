// Package events provides the in-process event bus that carries job changes
// from the ledger to live watchers.
package events

import (
	"time"
)

// EventType represents the type of event
type EventType string

// Job lifecycle event types
const (
	EventJobCreated   EventType = "job.created"
	EventJobStarted   EventType = "job.started"
	EventJobProgress  EventType = "job.progress"
	EventJobCompleted EventType = "job.completed"
	EventJobFailed    EventType = "job.failed"
)

// Final reports whether no further events follow for the event's target
func (t EventType) Final() bool {
	return t == EventJobCompleted || t == EventJobFailed
}

// Event represents a system event
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Source    string                 `json:"source"` // ledger, relay:<backend>, ...
	Target    string                 `json:"target"` // job ID the event is about
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
}

// EventFilter represents filters for event subscriptions.
// Empty fields match everything.
type EventFilter struct {
	Types   []EventType `json:"types,omitempty"`
	Targets []string    `json:"targets,omitempty"`
}

// MatchesFilter checks if an event matches the given filter
func MatchesFilter(event Event, filter EventFilter) bool {
	if len(filter.Types) > 0 {
		found := false
		for _, t := range filter.Types {
			if t == event.Type {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if len(filter.Targets) > 0 {
		found := false
		for _, target := range filter.Targets {
			if target == event.Target {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	return true
}
