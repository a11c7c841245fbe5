package streaming

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
)

const (
	defaultChannelBuffer = 64

	// replayDepth bounds the per-scenario ring of recent events kept for
	// late subscribers.
	replayDepth = 32
)

// subscriber holds a channel and filter for a single subscriber.
type subscriber struct {
	ch     chan StreamEvent
	filter EventFilter
}

// MemoryHub is an in-memory EventHub. Beyond plain fan-out it keeps a
// bounded ring of recent events per scenario, so a subscriber arriving
// mid-run can ask for the tail it missed (EventFilter.Replay).
type MemoryHub struct {
	mu     sync.RWMutex
	subs   map[uint64]*subscriber
	recent map[string][]StreamEvent // per scenario, oldest first
	seq    atomic.Uint64
}

// NewMemoryHub creates a new MemoryHub.
func NewMemoryHub() *MemoryHub {
	return &MemoryHub{
		subs:   make(map[uint64]*subscriber),
		recent: make(map[string][]StreamEvent),
	}
}

// Publish records the event in the scenario's replay ring and fans it out
// to all matching subscribers. Non-blocking: if a subscriber's channel is
// full the event is dropped.
func (h *MemoryHub) Publish(ctx context.Context, event StreamEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if event.ScenarioID != "" {
		ring := append(h.recent[event.ScenarioID], event)
		if len(ring) > replayDepth {
			ring = ring[len(ring)-replayDepth:]
		}
		h.recent[event.ScenarioID] = ring
	}

	for _, sub := range h.subs {
		if !sub.filter.matches(event) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			// backpressure: drop event for slow subscriber
		}
	}
	return nil
}

// Subscribe creates a new subscription filtered by the given EventFilter.
// When the filter names a scenario and asks for replay, the channel is
// seeded with up to Replay recent matching events ahead of any live ones;
// seeding and registration happen under the same lock, so no publish can
// slip between the replayed tail and the live stream.
func (h *MemoryHub) Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	id := h.seq.Add(1)
	buffer := defaultChannelBuffer
	if filter.Replay > buffer {
		buffer = filter.Replay
	}
	ch := make(chan StreamEvent, buffer)

	h.mu.Lock()
	if filter.Replay > 0 && filter.ScenarioID != "" {
		for _, e := range h.tailLocked(filter) {
			ch <- e
		}
	}
	h.subs[id] = &subscriber{ch: ch, filter: filter}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}

	return ch, cancel, nil
}

// tailLocked returns the last Replay events of the filter's scenario that
// pass the filter, oldest first. Caller holds h.mu.
func (h *MemoryHub) tailLocked(filter EventFilter) []StreamEvent {
	var tail []StreamEvent
	for _, e := range h.recent[filter.ScenarioID] {
		if filter.matches(e) {
			tail = append(tail, e)
		}
	}
	if len(tail) > filter.Replay {
		tail = tail[len(tail)-filter.Replay:]
	}
	return tail
}

// matches reports whether the event passes the filter criteria.
func (f EventFilter) matches(e StreamEvent) bool {
	if f.ScenarioID != "" && f.ScenarioID != e.ScenarioID {
		return false
	}
	if len(f.EventTypes) > 0 && !slices.Contains(f.EventTypes, e.EventType) {
		return false
	}
	return true
}
