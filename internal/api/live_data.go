package api

// EventSource is the live event feed behind the SSE and WebSocket endpoints.
type EventSource interface {
	// Subscribe returns a channel that receives events matching the filter,
	// and a cancel function to unsubscribe.
	Subscribe(filter EventFilter) (<-chan SSEEvent, func())

	// ReplaySince returns buffered events since the given event ID (for Last-Event-ID recovery).
	ReplaySince(lastEventID string, filter EventFilter) []SSEEvent
}

// WatcherStatusData represents the status of the transcript directory watcher.
type WatcherStatusData struct {
	Status         string `json:"status"` // "starting", "backfilling", "watching", "stopped"
	WatchDir       string `json:"watch_dir"`
	FilesProcessed int64  `json:"files_processed"`
	FilesSkipped   int64  `json:"files_skipped"`
	FilesFailed    int64  `json:"files_failed"`
}

// EventFilter specifies which events a subscriber wants to receive.
// Empty lists match everything.
type EventFilter struct {
	Types      []string
	Sessions   []string
	Recordings []string
}

// SSEEvent represents a server-sent event ready for transmission.
type SSEEvent struct {
	ID          string `json:"event_id"`
	Type        string `json:"event_type"`
	Timestamp   string `json:"timestamp"`
	SessionID   string `json:"session_id,omitempty"`
	RecordingID string `json:"recording_id,omitempty"`
	Data        []byte `json:"-"` // pre-serialized JSON payload
}
