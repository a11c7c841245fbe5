// Package streaming provides pub/sub fan-out of scenario events to live
// subscribers: the presentation panel's SSE endpoint and the state-sync
// bridge both consume it.
package streaming

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pulsekit/pulseboard/internal/store"
)

// StreamEvent is a real-time event emitted during scenario execution.
type StreamEvent struct {
	ScenarioID string    `json:"scenario_id"`
	TaskID     string    `json:"task_id,omitempty"`
	EventType  string    `json:"event_type"`
	Payload    any       `json:"payload,omitempty"`
	Timestamp  time.Time `json:"timestamp,omitzero"`
}

// EventFilter specifies which events a subscriber wants to receive.
// Replay, when positive and ScenarioID is set, asks the hub to seed the
// subscription with up to that many recent events of the scenario.
type EventFilter struct {
	ScenarioID string   `json:"scenario_id,omitempty"`
	EventTypes []string `json:"event_types,omitempty"`
	Replay     int      `json:"replay,omitempty"`
}

// EventHub provides pub/sub for real-time scenario events.
type EventHub interface {
	Publish(ctx context.Context, event StreamEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error)
}

// FromStoreEvent converts a persisted event into its streaming form.
func FromStoreEvent(e *store.Event) StreamEvent {
	out := StreamEvent{
		ScenarioID: e.ScenarioID,
		TaskID:     e.TaskID,
		EventType:  e.Type,
		Timestamp:  e.Timestamp,
	}
	if len(e.Payload) > 0 {
		var payload any
		if err := json.Unmarshal(e.Payload, &payload); err == nil {
			out.Payload = payload
		}
	}
	return out
}

// StoreSink adapts an EventHub to the orchestrator's event sink: every
// persisted event is republished to live subscribers.
type StoreSink struct {
	Hub EventHub
}

// Emit publishes the event, dropping it if the hub rejects it. Persistence
// already happened; live fan-out is best effort.
func (s *StoreSink) Emit(event *store.Event) {
	if s.Hub == nil || event == nil {
		return
	}
	_ = s.Hub.Publish(context.Background(), FromStoreEvent(event))
}
