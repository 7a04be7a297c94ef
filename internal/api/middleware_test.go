package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/snarg/transcript-sync/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

// send issues a request from remote through the router, optionally
// with a bearer token.
func (e *testEnv) send(t *testing.T, method, path, token, remote, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if remote != "" {
		req.RemoteAddr = remote
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func TestSessionRoutesRequireToken(t *testing.T) {
	env := newTestEnv(t, "s3cret")
	create := `{"recording_id":"rec-1","clock":"simulated"}`

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"no_token", "/api/v1/sessions", "", http.StatusUnauthorized},
		{"wrong_token", "/api/v1/sessions", "nope", http.StatusUnauthorized},
		{"bearer_header", "/api/v1/sessions", "s3cret", http.StatusCreated},
		{"query_token", "/api/v1/sessions?token=s3cret", "", http.StatusCreated},
		{"wrong_query_token", "/api/v1/sessions?token=s3cre", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.send(t, "POST", tt.path, tt.header, "", create)
			require.Equal(t, tt.want, rec.Code, rec.Body.String())
			if tt.want == http.StatusUnauthorized {
				assert.JSONEq(t, `{"error":"unauthorized"}`, rec.Body.String())
			}
		})
	}

	t.Run("reads_need_token_too", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, env.send(t, "GET", "/api/v1/sessions", "", "", "").Code)
		assert.Equal(t, http.StatusOK, env.send(t, "GET", "/api/v1/sessions", "s3cret", "", "").Code)
	})

	t.Run("health_is_open", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, env.send(t, "GET", "/api/v1/health", "", "", "").Code)
	})
}

func TestDeleteRecordingNeedsConfiguredToken(t *testing.T) {
	env := newTestEnv(t, "")
	rec := env.send(t, "DELETE", "/api/v1/recordings/rec-1", "", "", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "AUTH_TOKEN")

	// With a token configured the request reaches the handler, which has
	// no catalog in this environment.
	env = newTestEnv(t, "s3cret")
	rec = env.send(t, "DELETE", "/api/v1/recordings/rec-1", "s3cret", "", "")
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestSeekIsRateLimitedPerClient(t *testing.T) {
	env := newTestEnv(t, "", func(c *config.Config) {
		c.RateLimitRPS = 0.001
		c.RateLimitBurst = 3
	})
	const client = "203.0.113.7:5000"

	rec := env.send(t, "POST", "/api/v1/sessions", "", client, `{"recording_id":"rec-1","clock":"simulated"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := decode[struct {
		ID string `json:"id"`
	}](t, rec).ID
	seek := "/api/v1/sessions/" + id + "/seek"

	// Creation spent one token of the burst.
	for i := 0; i < 2; i++ {
		rec = env.send(t, "POST", seek, "", client, `{"time_ms":600}`)
		require.Equal(t, http.StatusOK, rec.Code, "seek %d: %s", i, rec.Body.String())
	}
	rec = env.send(t, "POST", seek, "", client, `{"time_ms":900}`)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"rate limit exceeded"}`, rec.Body.String())

	t.Run("reads_not_limited", func(t *testing.T) {
		for i := 0; i < 5; i++ {
			assert.Equal(t, http.StatusOK, env.send(t, "GET", "/api/v1/sessions/"+id, "", client, "").Code)
		}
	})

	t.Run("other_clients_have_own_bucket", func(t *testing.T) {
		rec := env.send(t, "POST", seek, "", "198.51.100.2:6000", `{"time_ms":900}`)
		assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	})
}

func TestRateLimiterDisabled(t *testing.T) {
	calls := 0
	handler := RateLimiter(0, 0)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	for i := 0; i < 50; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("POST", "/api/v1/sessions", nil))
	}
	assert.Equal(t, 50, calls)
}

func TestIPLimiterSweepsIdleEntries(t *testing.T) {
	l := &ipLimiter{limiters: make(map[string]*limiterEntry), limit: rate.Limit(1), burst: 1}
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.allow("a", start)
	l.allow("b", start.Add(limiterIdle))
	require.Len(t, l.limiters, 2)

	l.allow("c", start.Add(limiterIdle+5*time.Minute))
	assert.NotContains(t, l.limiters, "a")
	assert.Contains(t, l.limiters, "b")
	assert.Contains(t, l.limiters, "c")
}

func TestCORSThroughRouter(t *testing.T) {
	restricted := newTestEnv(t, "", func(c *config.Config) {
		c.CORSOrigins = "https://player.example, https://admin.example"
	})
	open := newTestEnv(t, "")

	preflight := func(env *testEnv, origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("OPTIONS", "/api/v1/sessions", nil)
		req.Header.Set("Origin", origin)
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, req)
		return rec
	}

	rec := preflight(restricted, "https://admin.example")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://admin.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "Origin", rec.Header().Get("Vary"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "Last-Event-ID")

	rec = preflight(restricted, "https://evil.example")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	rec = preflight(open, "https://anywhere.example")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	// A disallowed origin on a simple GET still reaches the handler but
	// gets no allow header.
	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	get := httptest.NewRecorder()
	restricted.handler.ServeHTTP(get, req)
	assert.Equal(t, http.StatusOK, get.Code)
	assert.Empty(t, get.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequestIDHeader(t *testing.T) {
	env := newTestEnv(t, "")

	rec := env.send(t, "GET", "/api/v1/health", "", "", "")
	assert.Regexp(t, `^[0-9a-f]{16}$`, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest("GET", "/api/v1/sessions", nil)
	req.Header.Set("X-Request-ID", "player-42")
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, "player-42", rec.Header().Get("X-Request-ID"))
}

func TestRecovererWritesJSON500(t *testing.T) {
	handler := RequestID(Recoverer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("segment index out of range")
	})))
	rec := httptest.NewRecorder()
	assert.NotPanics(t, func() {
		handler.ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/sessions/x/seek", nil))
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
