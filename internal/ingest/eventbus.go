package ingest

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/snarg/transcript-sync/internal/api"
	"github.com/snarg/transcript-sync/internal/metrics"
	"github.com/snarg/transcript-sync/internal/session"
)

// EventBus provides pub-sub event distribution for SSE and WebSocket
// subscribers. It keeps a ring buffer for replay on reconnect.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[uint64]subscriber
	nextID      uint64
	seq         atomic.Uint64
	dropped     atomic.Int64
	now         func() time.Time

	ring     []api.SSEEvent
	ringSize int
	ringHead int
	ringMu   sync.RWMutex
}

type subscriber struct {
	ch     chan api.SSEEvent
	filter api.EventFilter
}

// NewEventBus creates an event bus with the given ring buffer size.
func NewEventBus(ringSize int) *EventBus {
	if ringSize < 1 {
		ringSize = 1
	}
	return &EventBus{
		subscribers: make(map[uint64]subscriber),
		ring:        make([]api.SSEEvent, ringSize),
		ringSize:    ringSize,
		now:         time.Now,
	}
}

// Subscribe registers a new subscriber and returns a channel and cancel function.
func (eb *EventBus) Subscribe(filter api.EventFilter) (<-chan api.SSEEvent, func()) {
	eb.mu.Lock()
	id := eb.nextID
	eb.nextID++
	ch := make(chan api.SSEEvent, 64)
	eb.subscribers[id] = subscriber{ch: ch, filter: filter}
	eb.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			eb.mu.Lock()
			delete(eb.subscribers, id)
			close(ch)
			eb.mu.Unlock()
		})
	}
	return ch, cancel
}

// SubscriberCount returns the number of live subscribers.
func (eb *EventBus) SubscriberCount() int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.subscribers)
}

// Dropped returns how many deliveries were skipped because a subscriber
// was not keeping up.
func (eb *EventBus) Dropped() int64 { return eb.dropped.Load() }

// ReplaySince returns buffered events since the given event ID.
func (eb *EventBus) ReplaySince(lastEventID string, filter api.EventFilter) []api.SSEEvent {
	eb.ringMu.RLock()
	defer eb.ringMu.RUnlock()

	var events []api.SSEEvent
	found := lastEventID == ""

	for i := 0; i < eb.ringSize; i++ {
		idx := (eb.ringHead + i) % eb.ringSize
		e := eb.ring[idx]
		if e.ID == "" {
			continue
		}
		if !found {
			if e.ID == lastEventID {
				found = true
			}
			continue
		}
		if matchesFilter(e, filter) {
			events = append(events, e)
		}
	}
	return events
}

// EventData holds all fields needed to publish an event.
type EventData struct {
	Type        string
	SessionID   string
	RecordingID string
	Payload     any
}

// Publish sends an event to all matching subscribers and adds it to the ring buffer.
func (eb *EventBus) Publish(e EventData) {
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return
	}

	now := eb.now()
	seq := eb.seq.Add(1)
	event := api.SSEEvent{
		ID:          fmt.Sprintf("%d-%d", now.UnixMilli(), seq),
		Type:        e.Type,
		Timestamp:   now.UTC().Format(time.RFC3339Nano),
		SessionID:   e.SessionID,
		RecordingID: e.RecordingID,
		Data:        data,
	}

	metrics.EventsPublishedTotal.WithLabelValues(e.Type).Inc()

	eb.ringMu.Lock()
	eb.ring[eb.ringHead] = event
	eb.ringHead = (eb.ringHead + 1) % eb.ringSize
	eb.ringMu.Unlock()

	eb.mu.RLock()
	for _, sub := range eb.subscribers {
		if matchesFilter(event, sub.filter) {
			select {
			case sub.ch <- event:
			default:
				eb.dropped.Add(1)
			}
		}
	}
	eb.mu.RUnlock()
}

// SessionPublisher adapts the bus to the session event sink.
func (eb *EventBus) SessionPublisher() session.Publisher {
	return session.PublisherFunc(func(ev session.Event) {
		eb.Publish(EventData{
			Type:        ev.Type,
			SessionID:   ev.SessionID,
			RecordingID: ev.RecordingID,
			Payload:     ev,
		})
	})
}

func matchesFilter(e api.SSEEvent, f api.EventFilter) bool {
	if len(f.Types) > 0 && !slices.ContainsFunc(f.Types, func(t string) bool {
		return strings.TrimSpace(t) == e.Type
	}) {
		return false
	}
	if len(f.Sessions) > 0 && e.SessionID != "" && !slices.Contains(f.Sessions, e.SessionID) {
		return false
	}
	if len(f.Recordings) > 0 && e.RecordingID != "" && !slices.Contains(f.Recordings, e.RecordingID) {
		return false
	}
	return true
}
