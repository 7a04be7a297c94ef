package ingest

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/snarg/transcript-sync/internal/api"
	"github.com/snarg/transcript-sync/internal/session"
)

// ── EventBus Publish/Subscribe ────────────────────────────────────────

func TestEventBusPublishSubscribe(t *testing.T) {
	t.Run("subscriber_receives_published_event", func(t *testing.T) {
		eb := NewEventBus(64)
		ch, cancel := eb.Subscribe(api.EventFilter{})
		defer cancel()

		eb.Publish(EventData{
			Type:        "highlight",
			SessionID:   "s1",
			RecordingID: "rec-1",
			Payload:     map[string]string{"word": "hello"},
		})

		select {
		case evt := <-ch:
			if evt.Type != "highlight" {
				t.Errorf("Type = %q, want highlight", evt.Type)
			}
			if evt.SessionID != "s1" {
				t.Errorf("SessionID = %q, want s1", evt.SessionID)
			}
			if evt.RecordingID != "rec-1" {
				t.Errorf("RecordingID = %q, want rec-1", evt.RecordingID)
			}
			if evt.ID == "" {
				t.Error("expected non-empty event ID")
			}
			var payload map[string]string
			if err := json.Unmarshal(evt.Data, &payload); err != nil {
				t.Fatalf("Data is not valid JSON: %v", err)
			}
			if payload["word"] != "hello" {
				t.Errorf("payload word = %q, want hello", payload["word"])
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	})

	t.Run("filtered_subscriber_misses_non_matching", func(t *testing.T) {
		eb := NewEventBus(64)
		ch, cancel := eb.Subscribe(api.EventFilter{Types: []string{"seek"}})
		defer cancel()

		eb.Publish(EventData{Type: "highlight", Payload: "x"})

		select {
		case evt := <-ch:
			t.Fatalf("should not receive event, got %+v", evt)
		case <-time.After(50 * time.Millisecond):
		}
	})

	t.Run("cancel_closes_channel", func(t *testing.T) {
		eb := NewEventBus(64)
		ch, cancel := eb.Subscribe(api.EventFilter{})
		cancel()
		cancel()

		eb.Publish(EventData{Type: "highlight", Payload: "x"})

		select {
		case _, ok := <-ch:
			if ok {
				t.Fatal("should not receive event after cancel")
			}
		case <-time.After(time.Second):
			t.Fatal("channel not closed after cancel")
		}
		if n := eb.SubscriberCount(); n != 0 {
			t.Errorf("SubscriberCount = %d, want 0", n)
		}
	})

	t.Run("multiple_subscribers", func(t *testing.T) {
		eb := NewEventBus(64)
		ch1, cancel1 := eb.Subscribe(api.EventFilter{})
		defer cancel1()
		ch2, cancel2 := eb.Subscribe(api.EventFilter{})
		defer cancel2()

		eb.Publish(EventData{Type: "highlight", Payload: "x"})

		for i, ch := range []<-chan api.SSEEvent{ch1, ch2} {
			select {
			case evt := <-ch:
				if evt.Type != "highlight" {
					t.Errorf("subscriber %d: Type = %q, want highlight", i, evt.Type)
				}
			case <-time.After(time.Second):
				t.Fatalf("subscriber %d: timed out", i)
			}
		}
	})

	t.Run("slow_subscriber_drops", func(t *testing.T) {
		eb := NewEventBus(256)
		_, cancel := eb.Subscribe(api.EventFilter{})
		defer cancel()

		for i := 0; i < 100; i++ {
			eb.Publish(EventData{Type: "highlight", Payload: i})
		}
		if got := eb.Dropped(); got != 36 {
			t.Errorf("Dropped = %d, want 36", got)
		}
	})
}

func TestSessionPublisher(t *testing.T) {
	eb := NewEventBus(16)
	ch, cancel := eb.Subscribe(api.EventFilter{Sessions: []string{"s1"}})
	defer cancel()

	pub := eb.SessionPublisher()
	pub.Publish(session.Event{Type: session.EventHighlight, SessionID: "s2", RecordingID: "r", Index: 1})
	pub.Publish(session.Event{Type: session.EventHighlight, SessionID: "s1", RecordingID: "r", Index: 4, Word: "four", StartMs: 1200, EndMs: 1450})

	select {
	case evt := <-ch:
		var got session.Event
		if err := json.Unmarshal(evt.Data, &got); err != nil {
			t.Fatal(err)
		}
		if got.Index != 4 || got.Word != "four" || got.StartMs != 1200 {
			t.Errorf("payload = %+v", got)
		}
		if evt.Type != session.EventHighlight {
			t.Errorf("Type = %q", evt.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

// ── EventBus ReplaySince ─────────────────────────────────────────────

func TestEventBusReplaySince(t *testing.T) {
	t.Run("replay_all_when_empty_lastID", func(t *testing.T) {
		eb := NewEventBus(64)
		eb.Publish(EventData{Type: "highlight", Payload: "a"})
		eb.Publish(EventData{Type: "seek", Payload: "b"})

		events := eb.ReplaySince("", api.EventFilter{})
		if len(events) != 2 {
			t.Fatalf("got %d events, want 2", len(events))
		}
	})

	t.Run("replay_after_specific_id", func(t *testing.T) {
		eb := NewEventBus(64)
		eb.Publish(EventData{Type: "highlight", Payload: "a"})

		allEvents := eb.ReplaySince("", api.EventFilter{})
		if len(allEvents) != 1 {
			t.Fatalf("expected 1 event, got %d", len(allEvents))
		}
		firstID := allEvents[0].ID

		eb.Publish(EventData{Type: "seek", Payload: "b"})

		events := eb.ReplaySince(firstID, api.EventFilter{})
		if len(events) != 1 {
			t.Fatalf("got %d events, want 1 (after first)", len(events))
		}
		if events[0].Type != "seek" {
			t.Errorf("Type = %q, want seek", events[0].Type)
		}
	})

	t.Run("replay_with_filter", func(t *testing.T) {
		eb := NewEventBus(64)
		eb.Publish(EventData{Type: "highlight", RecordingID: "a", Payload: "a"})
		eb.Publish(EventData{Type: "highlight", RecordingID: "b", Payload: "b"})

		events := eb.ReplaySince("", api.EventFilter{Recordings: []string{"b"}})
		if len(events) != 1 {
			t.Fatalf("got %d events, want 1 (filtered)", len(events))
		}
		if events[0].RecordingID != "b" {
			t.Errorf("RecordingID = %q, want b", events[0].RecordingID)
		}
	})

	t.Run("ring_wraps", func(t *testing.T) {
		eb := NewEventBus(3)
		for i := 0; i < 5; i++ {
			eb.Publish(EventData{Type: "highlight", Payload: i})
		}
		events := eb.ReplaySince("", api.EventFilter{})
		if len(events) != 3 {
			t.Fatalf("got %d events, want 3", len(events))
		}
		if string(events[0].Data) != "2" || string(events[2].Data) != "4" {
			t.Errorf("replayed %s..%s, want 2..4", events[0].Data, events[2].Data)
		}
	})

	t.Run("unknown_lastID_replays_nothing", func(t *testing.T) {
		eb := NewEventBus(64)
		eb.Publish(EventData{Type: "highlight", Payload: "a"})

		events := eb.ReplaySince("nonexistent-id", api.EventFilter{})
		if len(events) != 0 {
			t.Fatalf("got %d events, want 0", len(events))
		}
	})
}

func TestMatchesFilter(t *testing.T) {
	tests := []struct {
		name   string
		event  api.SSEEvent
		filter api.EventFilter
		want   bool
	}{
		{
			name:   "empty_filter_matches_all",
			event:  api.SSEEvent{Type: "highlight", SessionID: "s1", RecordingID: "r1"},
			filter: api.EventFilter{},
			want:   true,
		},
		{
			name:   "type_match",
			event:  api.SSEEvent{Type: "highlight"},
			filter: api.EventFilter{Types: []string{"highlight"}},
			want:   true,
		},
		{
			name:   "type_no_match",
			event:  api.SSEEvent{Type: "highlight"},
			filter: api.EventFilter{Types: []string{"seek"}},
			want:   false,
		},
		{
			name:   "type_whitespace_trimmed",
			event:  api.SSEEvent{Type: "seek"},
			filter: api.EventFilter{Types: []string{"highlight", " seek"}},
			want:   true,
		},
		{
			name:   "session_match",
			event:  api.SSEEvent{Type: "highlight", SessionID: "s1"},
			filter: api.EventFilter{Sessions: []string{"s1", "s2"}},
			want:   true,
		},
		{
			name:   "session_no_match",
			event:  api.SSEEvent{Type: "highlight", SessionID: "s3"},
			filter: api.EventFilter{Sessions: []string{"s1", "s2"}},
			want:   false,
		},
		{
			name:   "sessionless_event_passes_through",
			event:  api.SSEEvent{Type: "transcript_updated", RecordingID: "r1"},
			filter: api.EventFilter{Sessions: []string{"s1"}},
			want:   true,
		},
		{
			name:   "recording_no_match",
			event:  api.SSEEvent{Type: "highlight", RecordingID: "r2"},
			filter: api.EventFilter{Recordings: []string{"r1"}},
			want:   false,
		},
		{
			name:   "multi_one_fails",
			event:  api.SSEEvent{Type: "highlight", SessionID: "s1", RecordingID: "r2"},
			filter: api.EventFilter{Types: []string{"highlight"}, Sessions: []string{"s1"}, Recordings: []string{"r1"}},
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := matchesFilter(tt.event, tt.filter)
			if got != tt.want {
				t.Errorf("matchesFilter(%+v, %+v) = %v, want %v", tt.event, tt.filter, got, tt.want)
			}
		})
	}
}
