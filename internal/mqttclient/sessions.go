package mqttclient

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/rs/zerolog"
	"github.com/snarg/transcript-sync/internal/metrics"
	"github.com/snarg/transcript-sync/internal/session"
)

// Topic layout under the prefix:
//
//	{prefix}/sessions/{id}/position   client → server  {"position_ms":1234,"playing":true}
//	{prefix}/sessions/{id}/{event}    server → client  session.Event JSON
const sessionsLevel = "sessions"

// PositionFilter is the subscription filter for position reports.
func PositionFilter(prefix string) string {
	return join(prefix, sessionsLevel, "+", "position")
}

// EventTopic is where events of the given type for session id are published.
func EventTopic(prefix, id, eventType string) string {
	return join(prefix, sessionsLevel, id, eventType)
}

func join(parts ...string) string {
	if parts[0] == "" {
		parts = parts[1:]
	}
	return strings.Join(parts, "/")
}

// sessionFromPositionTopic extracts the session id from a position topic.
func sessionFromPositionTopic(prefix, topic string) (string, bool) {
	if prefix != "" {
		rest, ok := strings.CutPrefix(topic, prefix+"/")
		if !ok {
			return "", false
		}
		topic = rest
	}
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != sessionsLevel || parts[2] != "position" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// PositionReport is the payload of a position message.
type PositionReport struct {
	PositionMs *int64 `json:"position_ms"`
	Playing    bool   `json:"playing"`
}

// Reporter receives position reports for a session.
type Reporter interface {
	Report(sessionID string, positionMs int64, playing bool) error
}

// PositionHandler decodes position messages and forwards them to r.
func PositionHandler(prefix string, r Reporter, log zerolog.Logger) MessageHandler {
	return func(topic string, payload []byte) {
		id, ok := sessionFromPositionTopic(prefix, topic)
		if !ok {
			log.Debug().Str("topic", topic).Msg("ignoring unexpected topic")
			return
		}
		var rep PositionReport
		if err := json.Unmarshal(payload, &rep); err != nil || rep.PositionMs == nil {
			metrics.PositionReportsTotal.WithLabelValues("mqtt", "malformed").Inc()
			log.Warn().Str("topic", topic).Msg("malformed position report")
			return
		}
		if err := r.Report(id, *rep.PositionMs, rep.Playing); err != nil {
			metrics.PositionReportsTotal.WithLabelValues("mqtt", "rejected").Inc()
			lvl := log.Warn()
			if errors.Is(err, session.ErrNotFound) {
				lvl = log.Debug()
			}
			lvl.Err(err).Str("session_id", id).Msg("position report rejected")
			return
		}
		metrics.PositionReportsTotal.WithLabelValues("mqtt", "ok").Inc()
	}
}

// HandlePositions routes incoming position reports to r.
func (c *Client) HandlePositions(r Reporter) {
	c.SetMessageHandler(PositionHandler(c.prefix, r, c.log))
}

// EventPublisher publishes session events as JSON through publish.
func EventPublisher(prefix string, publish func(topic string, payload []byte) error, log zerolog.Logger) session.Publisher {
	return session.PublisherFunc(func(ev session.Event) {
		data, err := json.Marshal(ev)
		if err != nil {
			return
		}
		if err := publish(EventTopic(prefix, ev.SessionID, ev.Type), data); err != nil {
			log.Debug().Err(err).Str("session_id", ev.SessionID).Str("type", ev.Type).Msg("mqtt event not published")
		}
	})
}

// SessionPublisher publishes session events on this client.
func (c *Client) SessionPublisher() session.Publisher {
	return EventPublisher(c.prefix, c.Publish, c.log)
}
