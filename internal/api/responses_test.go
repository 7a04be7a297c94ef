package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePaginationFallsBackToDefaults(t *testing.T) {
	tests := []struct {
		query      string
		wantLimit  int
		wantOffset int
	}{
		{"", 50, 0},
		{"limit=25&offset=10", 25, 10},
		{"limit=1000", 1000, 0},
		{"limit=1001", 50, 0},
		{"limit=0&offset=-5", 50, 0},
		{"limit=ten&offset=2", 50, 2},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			p := ParsePagination(httptest.NewRequest("GET", "/recordings?"+tt.query, nil))
			assert.Equal(t, Pagination{Limit: tt.wantLimit, Offset: tt.wantOffset}, p)
		})
	}
}

func TestQueryParams(t *testing.T) {
	req := httptest.NewRequest("GET",
		"/resolve?t=9999999999&hint=3&offset=12.5&viewport=NaN&row_height=Inf&search=intro&bad=x1", nil)

	ms, ok := QueryInt64(req, "t")
	assert.True(t, ok)
	assert.Equal(t, int64(9999999999), ms)

	hint, ok := QueryInt(req, "hint")
	assert.True(t, ok)
	assert.Equal(t, 3, hint)

	_, ok = QueryInt(req, "bad")
	assert.False(t, ok)
	_, ok = QueryInt64(req, "missing")
	assert.False(t, ok)

	offset, ok := QueryFloat(req, "offset")
	assert.True(t, ok)
	assert.Equal(t, 12.5, offset)
	_, ok = QueryFloat(req, "viewport")
	assert.False(t, ok, "NaN is rejected")
	_, ok = QueryFloat(req, "row_height")
	assert.False(t, ok, "Inf is rejected")

	search, ok := QueryString(req, "search")
	assert.True(t, ok)
	assert.Equal(t, "intro", search)
	_, ok = QueryString(req, "missing")
	assert.False(t, ok)
}

func TestQueryStringListDropsBlanks(t *testing.T) {
	req := httptest.NewRequest("GET", "/events/stream?types=highlight,%20seek,,&sessions=", nil)
	assert.Equal(t, []string{"highlight", "seek"}, QueryStringList(req, "types"))
	assert.Nil(t, QueryStringList(req, "sessions"))
	assert.Nil(t, QueryStringList(req, "recordings"))
}

func TestPathInt(t *testing.T) {
	withIndex := func(v string) *http.Request {
		rctx := chi.NewRouteContext()
		if v != "" {
			rctx.URLParams.Add("index", v)
		}
		req := httptest.NewRequest("GET", "/", nil)
		return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	}

	n, err := PathInt(withIndex("17"), "index")
	require.NoError(t, err)
	assert.Equal(t, 17, n)

	_, err = PathInt(withIndex(""), "index")
	assert.ErrorContains(t, err, "missing")
	_, err = PathInt(withIndex("seven"), "index")
	assert.ErrorContains(t, err, `"index"`)
}

func TestErrorResponses(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteErrorDetail(rec, http.StatusUnprocessableEntity, "invalid transcript", "segment 3: start after end")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error":"invalid transcript","detail":"segment 3: start after end"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	WriteError(rec, http.StatusNotFound, "session not found")
	assert.JSONEq(t, `{"error":"session not found"}`, rec.Body.String())
}

func TestDecodeJSON(t *testing.T) {
	newReq := func(body string) *http.Request {
		if body == "" {
			return httptest.NewRequest("POST", "/sessions", nil)
		}
		return httptest.NewRequest("POST", "/sessions", strings.NewReader(body))
	}

	var seek seekRequest
	require.NoError(t, DecodeJSON(newReq(`{"word_index":4}`), &seek))
	require.NotNil(t, seek.WordIndex)
	assert.Equal(t, 4, *seek.WordIndex)
	assert.Nil(t, seek.TimeMs)

	tests := []struct {
		name string
		body string
	}{
		{"no_body", ""},
		{"unknown_field", `{"word_idx":4}`},
		{"malformed", `{"word_index":`},
		{"wrong_type", `{"word_index":"four"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var dst seekRequest
			assert.Error(t, DecodeJSON(newReq(tt.body), &dst))
		})
	}

	nilBody := newReq("")
	nilBody.Body = nil
	assert.ErrorIs(t, DecodeJSON(nilBody, &seek), errNoBody)
}

func TestDecodeJSONCapsBodySize(t *testing.T) {
	huge := `{"recording_id":"` + strings.Repeat("x", maxRequestBody) + `"}`
	var req createSessionRequest
	err := DecodeJSON(httptest.NewRequest("POST", "/sessions", strings.NewReader(huge)), &req)
	assert.Error(t, err)
	assert.Empty(t, req.RecordingID)
}
