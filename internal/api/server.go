package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/snarg/transcript-sync/internal/config"
	"github.com/snarg/transcript-sync/internal/metrics"
	"github.com/snarg/transcript-sync/internal/segment"
	"github.com/snarg/transcript-sync/internal/session"
	"github.com/snarg/transcript-sync/internal/storage"
)

// ServerOptions wires the HTTP surface. Optional dependencies may be left
// nil; the routes that need them answer 501.
type ServerOptions struct {
	Config    *config.Config
	Sessions  *session.Manager
	Segments  segment.Store
	Documents storage.DocumentStore // optional
	Applier   DocumentApplier       // optional
	Catalog   RecordingCatalog      // optional, needs DATABASE_URL
	Cache     CacheInvalidator      // optional
	Events    EventSource           // optional
	DB        HealthChecker         // optional
	MQTT      ConnChecker           // optional
	Watcher   WatcherStatusSource   // optional
	Version   string
	StartTime time.Time
	Log       zerolog.Logger
}

type Server struct {
	http *http.Server
	log  zerolog.Logger
}

// NewRouter builds the chi router. Exposed for tests.
func NewRouter(opts ServerOptions) http.Handler {
	cfg := opts.Config
	r := chi.NewRouter()

	// Global middleware
	r.Use(RequestID)
	r.Use(Recoverer)
	r.Use(Logger(opts.Log))
	r.Use(CORSWithOrigins(cfg.CORSOriginList()))
	r.Use(metrics.InstrumentHandler)

	// Health and metrics, no auth
	health := NewHealthHandler(opts)
	r.Get("/api/v1/health", health.ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())

	limit := RateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(BearerAuth(cfg.AuthToken))

		NewRecordingsHandler(opts).Routes(r, limit)
		NewSessionsHandler(opts).Routes(r, limit)
		NewEventsHandler(opts.Events).Routes(r)
	})
	return r
}

func NewServer(opts ServerOptions) *Server {
	cfg := opts.Config
	return &Server{
		http: &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      NewRouter(opts),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		log: opts.Log,
	}
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}
