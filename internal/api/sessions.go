package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"
	"github.com/snarg/transcript-sync/internal/metrics"
	"github.com/snarg/transcript-sync/internal/session"
	"github.com/snarg/transcript-sync/internal/storage"
)

type SessionsHandler struct {
	sessions *session.Manager
	events   EventSource
}

func NewSessionsHandler(opts ServerOptions) *SessionsHandler {
	return &SessionsHandler{sessions: opts.Sessions, events: opts.Events}
}

func writeSessionError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		WriteError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, session.ErrInvalidMode):
		WriteError(w, http.StatusBadRequest, "clock must be \"simulated\" or \"reported\"")
	case errors.Is(err, session.ErrClockMode):
		WriteError(w, http.StatusConflict, err.Error())
	default:
		writeStoreError(w, r, err)
	}
}

// session resolves {id} or writes a 404.
func (h *SessionsHandler) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	s, err := h.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeSessionError(w, r, err)
		return nil, false
	}
	return s, true
}

type createSessionRequest struct {
	RecordingID string `json:"recording_id"`
	Clock       string `json:"clock"`
}

func (h *SessionsHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if !storage.ValidID(req.RecordingID) {
		WriteError(w, http.StatusBadRequest, "recording_id is required")
		return
	}
	mode, err := session.ParseClockMode(req.Clock)
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	s, err := h.sessions.Create(r.Context(), req.RecordingID, mode)
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	hlog.FromRequest(r).Info().Str("session_id", s.ID).Str("recording_id", s.RecordingID).Msg("session created")
	WriteJSON(w, http.StatusCreated, s.State())
}

func (h *SessionsHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	list := h.sessions.List()
	if rec, ok := QueryString(r, "recording_id"); ok {
		filtered := list[:0]
		for _, st := range list {
			if st.RecordingID == rec {
				filtered = append(filtered, st)
			}
		}
		list = filtered
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"sessions": list,
		"total":    len(list),
	})
}

func (h *SessionsHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, s.State())
}

func (h *SessionsHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Close(chi.URLParam(r, "id")); err != nil {
		writeSessionError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// control wraps a session operation that may fail with ErrClockMode.
func (h *SessionsHandler) control(op func(*session.Session) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := h.session(w, r)
		if !ok {
			return
		}
		if err := op(s); err != nil {
			writeSessionError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, s.State())
	}
}

type rateRequest struct {
	Rate float64 `json:"rate"`
}

func (h *SessionsHandler) SetRate(w http.ResponseWriter, r *http.Request) {
	var req rateRequest
	if err := DecodeJSON(r, &req); err != nil || req.Rate <= 0 {
		WriteError(w, http.StatusBadRequest, "rate must be a positive number")
		return
	}
	h.control(func(s *session.Session) error { return s.SetRate(req.Rate) })(w, r)
}

type seekRequest struct {
	TimeMs    *int64 `json:"time_ms"`
	WordIndex *int   `json:"word_index"`
}

// Seek takes exactly one of time_ms or word_index. Out-of-range word
// indices are ignored by the engine, not rejected.
func (h *SessionsHandler) Seek(w http.ResponseWriter, r *http.Request) {
	var req seekRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if (req.TimeMs == nil) == (req.WordIndex == nil) {
		WriteError(w, http.StatusBadRequest, "exactly one of time_ms or word_index is required")
		return
	}
	h.control(func(s *session.Session) error {
		if req.TimeMs != nil {
			s.SeekTime(*req.TimeMs)
		} else {
			s.SeekSegment(*req.WordIndex)
		}
		return nil
	})(w, r)
}

func (h *SessionsHandler) Click(w http.ResponseWriter, r *http.Request) {
	index, err := PathInt(r, "index")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid word index")
		return
	}
	h.control(func(s *session.Session) error {
		s.Click(index)
		return nil
	})(w, r)
}

type scrollRequest struct {
	Offset   float64 `json:"offset"`
	Viewport float64 `json:"viewport"`
}

func (h *SessionsHandler) Scroll(w http.ResponseWriter, r *http.Request) {
	var req scrollRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	s.Scroll(req.Offset, req.Viewport)
	WriteJSON(w, http.StatusOK, s.View())
}

type positionRequest struct {
	PositionMs *int64 `json:"position_ms"`
	Playing    bool   `json:"playing"`
}

func (h *SessionsHandler) Position(w http.ResponseWriter, r *http.Request) {
	var req positionRequest
	if err := DecodeJSON(r, &req); err != nil || req.PositionMs == nil {
		metrics.PositionReportsTotal.WithLabelValues("http", "malformed").Inc()
		WriteError(w, http.StatusBadRequest, "position_ms is required")
		return
	}
	h.control(func(s *session.Session) error {
		if err := s.Report(*req.PositionMs, req.Playing); err != nil {
			metrics.PositionReportsTotal.WithLabelValues("http", "rejected").Inc()
			return err
		}
		metrics.PositionReportsTotal.WithLabelValues("http", "ok").Inc()
		return nil
	})(w, r)
}

func (h *SessionsHandler) View(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, s.View())
}

// GetSegment returns one word of the session's current transcript.
func (h *SessionsHandler) GetSegment(w http.ResponseWriter, r *http.Request) {
	index, err := PathInt(r, "index")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid word index")
		return
	}
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	seg, ok := s.Segment(index)
	if !ok {
		WriteError(w, http.StatusNotFound, "word index out of range")
		return
	}
	WriteJSON(w, http.StatusOK, seg)
}

func (h *SessionsHandler) Routes(r chi.Router, limit func(http.Handler) http.Handler) {
	r.Get("/sessions", h.ListSessions)
	r.Get("/sessions/{id}", h.GetSession)
	r.Get("/sessions/{id}/view", h.View)
	r.Get("/sessions/{id}/words/{index}", h.GetSegment)
	r.Get("/sessions/{id}/ws", h.WebSocket)

	r.Group(func(r chi.Router) {
		r.Use(limit)
		r.Post("/sessions", h.CreateSession)
		r.Delete("/sessions/{id}", h.DeleteSession)
		r.Post("/sessions/{id}/play", h.control((*session.Session).Play))
		r.Post("/sessions/{id}/pause", h.control((*session.Session).Pause))
		r.Post("/sessions/{id}/rate", h.SetRate)
		r.Post("/sessions/{id}/seek", h.Seek)
		r.Post("/sessions/{id}/words/{index}/click", h.Click)
		r.Post("/sessions/{id}/scroll", h.Scroll)
		r.Post("/sessions/{id}/position", h.Position)
	})
}
