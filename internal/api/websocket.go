package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/snarg/transcript-sync/internal/metrics"
	"github.com/snarg/transcript-sync/internal/session"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
	wsMaxMessage = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Origin checks are left to CORS_ORIGINS and the bearer token.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsMessage is the envelope for both directions.
//
// Client → server types: position, seek, click, scroll, play, pause, view.
// Server → client types: every bus event type, view, error.
type wsMessage struct {
	Type string `json:"type"`

	// client fields
	PositionMs *int64  `json:"position_ms,omitempty"`
	Playing    bool    `json:"playing,omitempty"`
	TimeMs     *int64  `json:"time_ms,omitempty"`
	WordIndex  *int    `json:"word_index,omitempty"`
	Index      *int    `json:"index,omitempty"`
	Offset     float64 `json:"offset,omitempty"`
	Viewport   float64 `json:"viewport,omitempty"`

	// server fields
	ID    string          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

// WebSocket streams a session's events and accepts control messages on the
// same connection.
func (h *SessionsHandler) WebSocket(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if h.events == nil {
		WriteError(w, http.StatusServiceUnavailable, "event streaming not available")
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		return
	}
	log := hlog.FromRequest(r).With().Str("session_id", s.ID).Logger()
	metrics.WebSocketConnections.Inc()
	defer metrics.WebSocketConnections.Dec()

	events, cancel := h.events.Subscribe(EventFilter{
		Sessions:   []string{s.ID},
		Recordings: []string{s.RecordingID},
	})
	defer cancel()

	out := make(chan wsMessage, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		wsReadLoop(conn, s, out, log)
	}()

	log.Info().Msg("websocket client connected")
	wsWriteLoop(conn, events, out, done, log)
	conn.Close()
	<-done
	log.Info().Msg("websocket client disconnected")
}

// wsWriteLoop is the connection's only writer. It returns when the client
// goes away, the session closes, or a write fails.
func wsWriteLoop(conn *websocket.Conn, events <-chan SSEEvent, out <-chan wsMessage, done <-chan struct{}, log zerolog.Logger) {
	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	write := func(m wsMessage) bool {
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(m); err != nil {
			log.Debug().Err(err).Msg("websocket write failed")
			return false
		}
		return true
	}

	for {
		select {
		case <-done:
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if !write(wsMessage{Type: e.Type, ID: e.ID, Data: e.Data}) {
				return
			}
			if e.Type == session.EventClosed {
				conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"))
				return
			}
		case m := <-out:
			if !write(m) {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func wsReadLoop(conn *websocket.Conn, s *session.Session, out chan<- wsMessage, log zerolog.Logger) {
	conn.SetReadLimit(wsMaxMessage)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		var m wsMessage
		if err := conn.ReadJSON(&m); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Msg("websocket read failed")
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		if reply, ok := handleWSMessage(s, m); ok {
			select {
			case out <- reply:
			default:
				// Writer is backed up; drop the reply rather than stall reads.
			}
		}
	}
}

// handleWSMessage applies one client message and returns a reply, if any.
func handleWSMessage(s *session.Session, m wsMessage) (wsMessage, bool) {
	fail := func(msg string) (wsMessage, bool) {
		return wsMessage{Type: "error", Error: msg}, true
	}
	switch m.Type {
	case "position":
		if m.PositionMs == nil {
			metrics.PositionReportsTotal.WithLabelValues("websocket", "malformed").Inc()
			return fail("position_ms is required")
		}
		if err := s.Report(*m.PositionMs, m.Playing); err != nil {
			metrics.PositionReportsTotal.WithLabelValues("websocket", "rejected").Inc()
			return fail(err.Error())
		}
		metrics.PositionReportsTotal.WithLabelValues("websocket", "ok").Inc()
		return wsMessage{}, false
	case "seek":
		switch {
		case m.TimeMs != nil && m.WordIndex == nil:
			s.SeekTime(*m.TimeMs)
		case m.WordIndex != nil && m.TimeMs == nil:
			s.SeekSegment(*m.WordIndex)
		default:
			return fail("exactly one of time_ms or word_index is required")
		}
		return wsMessage{}, false
	case "click":
		if m.Index == nil {
			return fail("index is required")
		}
		s.Click(*m.Index)
		return wsMessage{}, false
	case "scroll":
		s.Scroll(m.Offset, m.Viewport)
		return viewMessage(s), true
	case "play":
		if err := s.Play(); err != nil {
			return fail(err.Error())
		}
		return wsMessage{}, false
	case "pause":
		if err := s.Pause(); err != nil {
			return fail(err.Error())
		}
		return wsMessage{}, false
	case "view":
		return viewMessage(s), true
	}
	return fail("unknown message type " + m.Type)
}

func viewMessage(s *session.Session) wsMessage {
	data, err := json.Marshal(s.View())
	if err != nil {
		return wsMessage{Type: "error", Error: err.Error()}
	}
	return wsMessage{Type: "view", Data: data}
}
