package session

// Event types published by sessions.
const (
	EventHighlight = "highlight"
	EventSeek      = "seek"
	EventClosed    = "session_closed"
)

// Event is a session notification. Index is -1 for events that do not
// concern a segment.
type Event struct {
	Type        string `json:"type"`
	SessionID   string `json:"session_id"`
	RecordingID string `json:"recording_id"`
	Index       int    `json:"index"`
	Word        string `json:"word,omitempty"`
	StartMs     int64  `json:"start_ms"`
	EndMs       int64  `json:"end_ms"`
	PositionMs  int64  `json:"position_ms,omitempty"`
}

// Publisher receives session events. Publish is called on the engine's
// notification path and must not block.
type Publisher interface {
	Publish(Event)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(Event)

func (f PublisherFunc) Publish(e Event) { f(e) }

type fanout []Publisher

func (f fanout) Publish(e Event) {
	for _, p := range f {
		p.Publish(e)
	}
}
