package api

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"
	"github.com/snarg/transcript-sync/internal/config"
	"github.com/snarg/transcript-sync/internal/database"
	"github.com/snarg/transcript-sync/internal/segment"
	"github.com/snarg/transcript-sync/internal/storage"
	"github.com/snarg/transcript-sync/internal/syncengine"
	"github.com/snarg/transcript-sync/internal/virtualize"
)

// RecordingCatalog is the PostgreSQL recording index.
type RecordingCatalog interface {
	ListRecordings(ctx context.Context, f database.RecordingFilter) ([]database.Recording, int, error)
	GetRecording(ctx context.Context, recordingID string) (*database.Recording, error)
	DeleteRecording(ctx context.Context, recordingID string) error
}

// DocumentApplier pushes an uploaded document to the Segment Store and to
// live sessions. Implemented by the transcript watcher.
type DocumentApplier interface {
	Apply(ctx context.Context, doc *segment.Document, source string) (int, error)
}

// CacheInvalidator drops cached segments for a recording.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, recordingID string) error
}

const maxDocumentBytes = 32 << 20

type RecordingsHandler struct {
	segments segment.Store
	docs     storage.DocumentStore
	applier  DocumentApplier
	catalog  RecordingCatalog
	cache    CacheInvalidator
	cfg      *config.Config
}

func NewRecordingsHandler(opts ServerOptions) *RecordingsHandler {
	return &RecordingsHandler{
		segments: opts.Segments,
		docs:     opts.Documents,
		applier:  opts.Applier,
		catalog:  opts.Catalog,
		cache:    opts.Cache,
		cfg:      opts.Config,
	}
}

// writeStoreError maps Segment Store errors to HTTP statuses.
func writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, segment.ErrNotFound):
		WriteError(w, http.StatusNotFound, "recording not found")
	case errors.Is(err, segment.ErrInvalid):
		WriteErrorDetail(w, http.StatusUnprocessableEntity, "invalid transcript", err.Error())
	default:
		hlog.FromRequest(r).Error().Err(err).Msg("segment store error")
		WriteError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *RecordingsHandler) load(w http.ResponseWriter, r *http.Request) (string, []segment.Segment, bool) {
	id := chi.URLParam(r, "id")
	if !storage.ValidID(id) {
		WriteError(w, http.StatusBadRequest, "invalid recording id")
		return "", nil, false
	}
	segs, err := h.segments.Segments(r.Context(), id)
	if err != nil {
		writeStoreError(w, r, err)
		return "", nil, false
	}
	return id, segs, true
}

type recordingSummary struct {
	RecordingID  string              `json:"recording_id"`
	SegmentCount int                 `json:"segment_count"`
	DurationMs   int64               `json:"duration_ms"`
	Recording    *database.Recording `json:"recording,omitempty"`
}

// ListRecordings needs the database catalog.
func (h *RecordingsHandler) ListRecordings(w http.ResponseWriter, r *http.Request) {
	if h.catalog == nil {
		WriteError(w, http.StatusNotImplemented, "recording listing requires DATABASE_URL")
		return
	}
	p := ParsePagination(r)
	search, _ := QueryString(r, "search")
	recs, total, err := h.catalog.ListRecordings(r.Context(), database.RecordingFilter{
		Search: search, Limit: p.Limit, Offset: p.Offset,
	})
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("failed to list recordings")
		WriteError(w, http.StatusInternalServerError, "failed to list recordings")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"recordings": recs,
		"total":      total,
		"limit":      p.Limit,
		"offset":     p.Offset,
	})
}

func (h *RecordingsHandler) GetRecording(w http.ResponseWriter, r *http.Request) {
	id, segs, ok := h.load(w, r)
	if !ok {
		return
	}
	sum := recordingSummary{RecordingID: id, SegmentCount: len(segs)}
	if len(segs) > 0 {
		sum.DurationMs = segs[len(segs)-1].End
	}
	if h.catalog != nil {
		if rec, err := h.catalog.GetRecording(r.Context(), id); err == nil {
			sum.Recording = rec
			if rec.DurationMs > sum.DurationMs {
				sum.DurationMs = rec.DurationMs
			}
		}
	}
	WriteJSON(w, http.StatusOK, sum)
}

func (h *RecordingsHandler) GetSegments(w http.ResponseWriter, r *http.Request) {
	id, segs, ok := h.load(w, r)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"recording_id": id,
		"segments":     segs,
		"total":        len(segs),
	})
}

func (h *RecordingsHandler) GetText(w http.ResponseWriter, r *http.Request) {
	_, segs, ok := h.load(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, segment.Text(segs))
}

type resolveResponse struct {
	TimeMs   int64            `json:"time_ms"`
	Index    int              `json:"index"`
	Contains bool             `json:"contains"`
	Segment  *segment.Segment `json:"segment"`
}

// Resolve maps ?t= (ms) to a segment index. ?hint= is the previous index.
func (h *RecordingsHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	t, ok := QueryInt64(r, "t")
	if !ok {
		WriteError(w, http.StatusBadRequest, "t (milliseconds) is required")
		return
	}
	hint := -1
	if v, ok := QueryInt(r, "hint"); ok {
		hint = v
	}
	_, segs, ok := h.load(w, r)
	if !ok {
		return
	}
	idx := syncengine.ResolveIndex(segs, t, hint)
	resp := resolveResponse{TimeMs: t, Index: idx, Contains: syncengine.Contains(segs, idx, t)}
	if idx >= 0 {
		resp.Segment = &segs[idx]
	}
	WriteJSON(w, http.StatusOK, resp)
}

type windowResponse struct {
	Count       int                      `json:"count"`
	TotalHeight float64                  `json:"total_height"`
	Offset      float64                  `json:"offset"`
	Viewport    float64                  `json:"viewport"`
	Overscan    int                      `json:"overscan"`
	Rows        []virtualize.RenderedRow `json:"rows"`
}

// Window computes the rows to mount for a scroll position over fixed-height
// rows. Parameters default to the server's viewport configuration.
func (h *RecordingsHandler) Window(w http.ResponseWriter, r *http.Request) {
	rowHeight, viewport, overscan := h.cfg.RowHeight, h.cfg.ViewportHeight, h.cfg.Overscan
	offset := 0.0
	if v, ok := QueryFloat(r, "offset"); ok {
		offset = max(v, 0)
	}
	if v, ok := QueryFloat(r, "viewport"); ok {
		viewport = v
	}
	if v, ok := QueryFloat(r, "row_height"); ok {
		rowHeight = v
	}
	if v, ok := QueryInt(r, "overscan"); ok {
		overscan = v
	}
	if viewport <= 0 || rowHeight <= 0 || overscan < 0 {
		WriteError(w, http.StatusBadRequest, "viewport and row_height must be positive, overscan must not be negative")
		return
	}
	_, segs, ok := h.load(w, r)
	if !ok {
		return
	}

	rows := virtualize.FixedWindow(len(segs), rowHeight, offset, viewport, overscan)
	resp := windowResponse{
		Count:       len(segs),
		TotalHeight: float64(len(segs)) * rowHeight,
		Offset:      offset,
		Viewport:    viewport,
		Overscan:    overscan,
		Rows:        make([]virtualize.RenderedRow, len(rows)),
	}
	for i, row := range rows {
		seg := segs[row.Index]
		resp.Rows[i] = virtualize.RenderedRow{
			Index: row.Index, Offset: row.Offset, Height: row.Height,
			ID: seg.ID, Word: seg.Word, Speaker: seg.Speaker, Start: seg.Start, End: seg.End,
		}
	}
	WriteJSON(w, http.StatusOK, resp)
}

// PutDocument stores an uploaded transcript document and applies it to
// live sessions.
func (h *RecordingsHandler) PutDocument(w http.ResponseWriter, r *http.Request) {
	if h.docs == nil || h.applier == nil {
		WriteError(w, http.StatusNotImplemented, "document uploads are not enabled")
		return
	}
	id := chi.URLParam(r, "id")
	if !storage.ValidID(id) {
		WriteError(w, http.StatusBadRequest, "invalid recording id")
		return
	}
	doc, err := segment.DecodeDocument(io.LimitReader(r.Body, maxDocumentBytes))
	if err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid transcript document", err.Error())
		return
	}
	if doc.RecordingID != id {
		WriteErrorDetail(w, http.StatusBadRequest, "recording_id mismatch",
			"document recording_id "+doc.RecordingID+" does not match path "+id)
		return
	}
	if err := h.docs.Save(r.Context(), doc); err != nil {
		writeStoreError(w, r, err)
		return
	}
	sessions, err := h.applier.Apply(r.Context(), doc, "api")
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"recording_id":  id,
		"segment_count": len(doc.Segments),
		"duration_ms":   doc.DurationMs,
		"sessions":      sessions,
	})
}

// DeleteRecording removes a recording from the database catalog. The
// source document is left in place.
func (h *RecordingsHandler) DeleteRecording(w http.ResponseWriter, r *http.Request) {
	if h.catalog == nil {
		WriteError(w, http.StatusNotImplemented, "recording deletion requires DATABASE_URL")
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.catalog.DeleteRecording(r.Context(), id); err != nil {
		writeStoreError(w, r, err)
		return
	}
	if h.cache != nil {
		if err := h.cache.Invalidate(r.Context(), id); err != nil {
			hlog.FromRequest(r).Warn().Err(err).Str("recording_id", id).Msg("cache invalidation failed")
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *RecordingsHandler) Routes(r chi.Router, limit func(http.Handler) http.Handler) {
	r.Get("/recordings", h.ListRecordings)
	r.Get("/recordings/{id}", h.GetRecording)
	r.Get("/recordings/{id}/segments", h.GetSegments)
	r.Get("/recordings/{id}/text", h.GetText)
	r.Get("/recordings/{id}/resolve", h.Resolve)
	r.Get("/recordings/{id}/window", h.Window)
	r.With(limit).Put("/recordings/{id}", h.PutDocument)
	r.With(limit, RequireAuth(h.cfg.AuthToken)).Delete("/recordings/{id}", h.DeleteRecording)
}
