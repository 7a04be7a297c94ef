package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"
)

type EventsHandler struct {
	live EventSource
}

func NewEventsHandler(live EventSource) *EventsHandler {
	return &EventsHandler{live: live}
}

// filterFromQuery reads ?types=&sessions=&recordings= lists.
func filterFromQuery(r *http.Request) EventFilter {
	return EventFilter{
		Types:      QueryStringList(r, "types"),
		Sessions:   QueryStringList(r, "sessions"),
		Recordings: QueryStringList(r, "recordings"),
	}
}

// StreamEvents opens an SSE connection and pushes filtered events.
func (h *EventsHandler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	if h.live == nil {
		WriteError(w, http.StatusServiceUnavailable, "event streaming not available")
		return
	}

	rc := http.NewResponseController(w)
	filter := filterFromQuery(r)

	// Streams outlive the server's write timeout.
	_ = rc.SetWriteDeadline(time.Time{})

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	// Subscribe before replaying so nothing falls between the two.
	ch, cancel := h.live.Subscribe(filter)
	defer cancel()

	// Replay missed events if Last-Event-ID is provided
	seen := make(map[string]bool)
	if lastEventID := r.Header.Get("Last-Event-ID"); lastEventID != "" {
		for _, e := range h.live.ReplaySince(lastEventID, filter) {
			seen[e.ID] = true
			writeSSE(w, e)
		}
	}
	if err := rc.Flush(); err != nil {
		return
	}

	// Keepalive ticker
	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	log := hlog.FromRequest(r)
	log.Info().Msg("SSE client connected")

	for {
		select {
		case <-r.Context().Done():
			log.Info().Msg("SSE client disconnected")
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			if seen[event.ID] {
				delete(seen, event.ID)
				continue
			}
			writeSSE(w, event)
			rc.Flush()
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			rc.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, e SSEEvent) {
	fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", e.ID, e.Type, e.Data)
}

// Routes registers event routes on the given router.
func (h *EventsHandler) Routes(r chi.Router) {
	r.Get("/events/stream", h.StreamEvents)
}
