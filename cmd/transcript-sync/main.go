package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/snarg/transcript-sync/internal/api"
	"github.com/snarg/transcript-sync/internal/config"
	"github.com/snarg/transcript-sync/internal/database"
	"github.com/snarg/transcript-sync/internal/ingest"
	"github.com/snarg/transcript-sync/internal/metrics"
	"github.com/snarg/transcript-sync/internal/mqttclient"
	"github.com/snarg/transcript-sync/internal/segment"
	"github.com/snarg/transcript-sync/internal/session"
	"github.com/snarg/transcript-sync/internal/storage"
	"github.com/snarg/transcript-sync/internal/virtualize"
)

var version = "dev"

func main() {
	startTime := time.Now()

	var overrides config.Overrides
	flag.StringVar(&overrides.EnvFile, "env-file", "", "path to .env file (default .env)")
	flag.StringVar(&overrides.HTTPAddr, "listen", "", "HTTP listen address")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "log level (debug, info, warn, error)")
	flag.StringVar(&overrides.DatabaseURL, "database-url", "", "PostgreSQL connection URL")
	flag.StringVar(&overrides.MQTTBrokerURL, "mqtt-url", "", "MQTT broker URL")
	flag.StringVar(&overrides.TranscriptDir, "transcript-dir", "", "directory of transcript documents")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	// Config
	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	// Logger
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().Str("version", version).Msg("transcript-sync starting")

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Database (optional)
	var db *database.DB
	if cfg.DatabaseURL != "" {
		dbLog := log.With().Str("component", "database").Logger()
		db, err = database.Connect(ctx, cfg.DatabaseURL, database.PoolOptions{
			MaxConns: cfg.DBMaxConns,
			MinConns: cfg.DBMinConns,
		}, dbLog)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer db.Close()
		if err := db.InitSchema(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to initialize schema")
		}
		if err := db.Migrate(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to run migrations")
		}
	}

	// Document storage
	docs, services, err := storage.New(cfg.S3, cfg.TranscriptDir, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize document storage")
	}
	var uploader *storage.AsyncUploader
	for _, svc := range services {
		if u, ok := svc.(*storage.AsyncUploader); ok {
			uploader = u
		}
		svc.Start()
	}
	defer func() {
		for _, svc := range services {
			svc.Stop()
		}
	}()

	// Segment Store: PostgreSQL when configured, documents otherwise,
	// optionally fronted by Redis.
	var segments segment.Store = storage.NewDocumentSegments(docs)
	if db != nil {
		segments = db
	}
	var cache *storage.CachedStore
	if cfg.RedisURL != "" {
		rdb, err := storage.ConnectRedis(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer rdb.Close()
		cache = storage.NewCachedStore(segments, rdb, cfg.CacheTTL, log)
		segments = cache
	}

	// Event bus and sessions
	bus := ingest.NewEventBus(cfg.EventRingSize)
	mgr := session.NewManager(segments, session.Options{
		FrameInterval: cfg.FrameInterval,
		Viewport: virtualize.Options{
			RowHeight: cfg.RowHeight,
			Height:    cfg.ViewportHeight,
			Overscan:  cfg.Overscan,
			Smoothing: cfg.ScrollSmoothing,
		},
		IdleTimeout: cfg.SessionIdleTimeout,
		MaxDrift:    cfg.ReportedMaxDrift,
		PauseIdle:   cfg.PauseIdle,
		Publishers:  []session.Publisher{bus.SessionPublisher()},
		Log:         log.With().Str("component", "session").Logger(),
	})
	mgrDone := make(chan struct{})
	go func() {
		defer close(mgrDone)
		mgr.Run(ctx)
	}()

	// MQTT (optional)
	var mqtt *mqttclient.Client
	if cfg.MQTTBrokerURL != "" {
		mqtt, err = mqttclient.Connect(mqttclient.Options{
			BrokerURL:   cfg.MQTTBrokerURL,
			ClientID:    cfg.MQTTClientID,
			TopicPrefix: cfg.MQTTTopicPrefix,
			Username:    cfg.MQTTUsername,
			Password:    cfg.MQTTPassword,
			Log:         log,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to mqtt broker")
		}
		defer mqtt.Close()
		mqtt.HandlePositions(mgr)
		mgr.AddPublisher(mqtt.SessionPublisher())
	}

	// Transcript watcher. Always built so uploads go through Apply; only
	// started when watching is enabled.
	wopts := ingest.WatcherOptions{
		Dir:      cfg.TranscriptDir,
		Sessions: mgr,
		Bus:      bus,
		Backfill: db != nil,
		Log:      log,
	}
	if db != nil {
		wopts.Importer = db
	}
	if cache != nil {
		wopts.Cache = cache
	}
	watcher := ingest.NewWatcher(wopts)
	if cfg.WatchTranscripts {
		if err := watcher.Start(ctx); err != nil {
			log.Fatal().Err(err).Str("dir", cfg.TranscriptDir).Msg("failed to start transcript watcher")
		}
		defer watcher.Stop()
	}

	// Metrics
	src := metrics.Sources{Sessions: mgr, Events: bus}
	if db != nil {
		src.Pool = db
	}
	if cache != nil {
		src.Cache = cache
	}
	if uploader != nil {
		src.Uploader = uploader
	}
	prometheus.MustRegister(metrics.NewCollector(src))

	// HTTP Server
	opts := api.ServerOptions{
		Config:    cfg,
		Sessions:  mgr,
		Segments:  segments,
		Documents: docs,
		Applier:   watcher,
		Events:    bus,
		Version:   version,
		StartTime: startTime,
		Log:       log.With().Str("component", "http").Logger(),
	}
	if db != nil {
		opts.Catalog = db
		opts.DB = db
	}
	if cache != nil {
		opts.Cache = cache
	}
	if mqtt != nil {
		opts.MQTT = mqtt
	}
	if cfg.WatchTranscripts {
		opts.Watcher = watcher
	}
	srv := api.NewServer(opts)

	// Start HTTP server in background
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// Wait for shutdown signal or server error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
		stop()
	}

	// Graceful shutdown with 10s timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}
	<-mgrDone

	log.Info().
		Int64("sessions_created", mgr.Totals().Created).
		Int64("events_dropped", bus.Dropped()).
		Msg("transcript-sync stopped")
}
