package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	// Segment Store. With DATABASE_URL set, segments are served from
	// PostgreSQL and watched documents are imported into it. Without it,
	// segments are read straight from the document store.
	DatabaseURL string `env:"DATABASE_URL"`
	DBMaxConns  int32  `env:"DB_MAX_CONNS" envDefault:"10"`
	DBMinConns  int32  `env:"DB_MIN_CONNS" envDefault:"2"`

	TranscriptDir    string `env:"TRANSCRIPT_DIR" envDefault:"./transcripts"`
	WatchTranscripts bool   `env:"WATCH_TRANSCRIPTS" envDefault:"true"`

	S3 S3Config `envPrefix:"S3_"`

	RedisURL string        `env:"REDIS_URL"`
	CacheTTL time.Duration `env:"CACHE_TTL" envDefault:"10m"`

	MQTTBrokerURL   string `env:"MQTT_BROKER_URL"`
	MQTTClientID    string `env:"MQTT_CLIENT_ID" envDefault:"transcript-sync"`
	MQTTTopicPrefix string `env:"MQTT_TOPIC_PREFIX" envDefault:"transcript-sync"`
	MQTTUsername    string `env:"MQTT_USERNAME"`
	MQTTPassword    string `env:"MQTT_PASSWORD"`

	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`

	AuthToken      string  `env:"AUTH_TOKEN"`
	CORSOrigins    string  `env:"CORS_ORIGINS"`
	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS" envDefault:"20"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST" envDefault:"40"`
	LogLevel       string  `env:"LOG_LEVEL" envDefault:"info"`

	FrameInterval      time.Duration `env:"FRAME_INTERVAL" envDefault:"16ms"`
	PauseIdle          bool          `env:"PAUSE_IDLE" envDefault:"false"`
	Overscan           int           `env:"OVERSCAN" envDefault:"10"`
	RowHeight          float64       `env:"ROW_HEIGHT" envDefault:"28"`
	ViewportHeight     float64       `env:"VIEWPORT_HEIGHT" envDefault:"560"`
	ScrollSmoothing    float64       `env:"SCROLL_SMOOTHING" envDefault:"0.25"`
	ReportedMaxDrift   time.Duration `env:"REPORTED_MAX_DRIFT" envDefault:"2s"`
	SessionIdleTimeout time.Duration `env:"SESSION_IDLE_TIMEOUT" envDefault:"30m"`
	EventRingSize      int           `env:"EVENT_RING_SIZE" envDefault:"4096"`
}

// S3Config configures the S3 document backend. An empty bucket disables it.
type S3Config struct {
	Bucket     string `env:"BUCKET"`
	Endpoint   string `env:"ENDPOINT"`
	Region     string `env:"REGION" envDefault:"us-east-1"`
	AccessKey  string `env:"ACCESS_KEY"`
	SecretKey  string `env:"SECRET_KEY"`
	Prefix     string `env:"PREFIX"`
	LocalCache bool   `env:"LOCAL_CACHE" envDefault:"true"`
}

func (c S3Config) Enabled() bool { return c.Bucket != "" }

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile       string
	HTTPAddr      string
	LogLevel      string
	DatabaseURL   string
	MQTTBrokerURL string
	TranscriptDir string
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.DatabaseURL != "" {
		cfg.DatabaseURL = overrides.DatabaseURL
	}
	if overrides.MQTTBrokerURL != "" {
		cfg.MQTTBrokerURL = overrides.MQTTBrokerURL
	}
	if overrides.TranscriptDir != "" {
		cfg.TranscriptDir = overrides.TranscriptDir
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the engine and viewport cannot work with.
func (c *Config) Validate() error {
	var errs []error
	if c.FrameInterval <= 0 {
		errs = append(errs, fmt.Errorf("FRAME_INTERVAL must be positive, got %s", c.FrameInterval))
	}
	if c.Overscan < 0 {
		errs = append(errs, fmt.Errorf("OVERSCAN must not be negative, got %d", c.Overscan))
	}
	if c.RowHeight <= 0 {
		errs = append(errs, fmt.Errorf("ROW_HEIGHT must be positive, got %v", c.RowHeight))
	}
	if c.ViewportHeight <= 0 {
		errs = append(errs, fmt.Errorf("VIEWPORT_HEIGHT must be positive, got %v", c.ViewportHeight))
	}
	if c.ScrollSmoothing <= 0 || c.ScrollSmoothing > 1 {
		errs = append(errs, fmt.Errorf("SCROLL_SMOOTHING must be in (0,1], got %v", c.ScrollSmoothing))
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		errs = append(errs, errors.New("RATE_LIMIT_RPS and RATE_LIMIT_BURST must not be negative"))
	}
	if c.EventRingSize <= 0 {
		errs = append(errs, fmt.Errorf("EVENT_RING_SIZE must be positive, got %d", c.EventRingSize))
	}
	if c.TranscriptDir == "" && !c.S3.Enabled() && c.DatabaseURL == "" {
		errs = append(errs, errors.New("no segment store configured: set TRANSCRIPT_DIR, S3_BUCKET or DATABASE_URL"))
	}
	return errors.Join(errs...)
}

// CORSOriginList splits CORS_ORIGINS on commas. Empty means any origin.
func (c *Config) CORSOriginList() []string {
	var out []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
