package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/snarg/transcript-sync/internal/database"
	"github.com/snarg/transcript-sync/internal/session"
)

// SessionStats provides the collector with session and engine totals.
type SessionStats interface {
	Totals() session.Totals
}

// EventStats provides the collector with event bus state.
type EventStats interface {
	SubscriberCount() int
	Dropped() int64
}

// PoolStats provides the collector with database pool state.
type PoolStats interface {
	PoolStat() database.PoolStat
}

// HitCounter is implemented by the segment cache and the S3 uploader.
type HitCounter interface {
	Counts() (int64, int64)
}

// Sources are the components read at scrape time. Any may be nil.
type Sources struct {
	Sessions SessionStats
	Events   EventStats
	Pool     PoolStats
	Cache    HitCounter // hits, misses
	Uploader HitCounter // uploaded, failed
}

// Collector implements prometheus.Collector to read live gauges at scrape time.
type Collector struct {
	src Sources

	activeSessions  *prometheus.Desc
	sessionsCreated *prometheus.Desc
	sessionsClosed  *prometheus.Desc
	ticks           *prometheus.Desc
	changes         *prometheus.Desc
	skippedTicks    *prometheus.Desc
	fallbacks       *prometheus.Desc
	sseSubscribers  *prometheus.Desc
	eventsDropped   *prometheus.Desc
	dbTotalConns    *prometheus.Desc
	dbAcquiredConns *prometheus.Desc
	dbIdleConns     *prometheus.Desc
	cacheRequests   *prometheus.Desc
	s3Uploads       *prometheus.Desc
}

func desc(subsystem, name, help string, labels ...string) *prometheus.Desc {
	return prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, name), help, labels, nil)
}

// NewCollector creates a collector that reads live state at scrape time.
func NewCollector(src Sources) *Collector {
	return &Collector{
		src:             src,
		activeSessions:  desc("", "sessions_active", "Current number of playback sessions."),
		sessionsCreated: desc("", "sessions_created_total", "Playback sessions created."),
		sessionsClosed:  desc("", "sessions_closed_total", "Playback sessions closed or reaped."),
		ticks:           desc("sync", "ticks_total", "Sync engine frames evaluated."),
		changes:         desc("sync", "highlight_changes_total", "Highlight changes emitted."),
		skippedTicks:    desc("sync", "skipped_ticks_total", "Frames skipped because the clock had no position."),
		fallbacks:       desc("sync", "resolve_fallbacks_total", "Positions resolved inside a gap between segments."),
		sseSubscribers:  desc("", "sse_subscribers_active", "Current number of event subscribers."),
		eventsDropped:   desc("", "events_dropped_total", "Event deliveries dropped for slow subscribers."),
		dbTotalConns:    desc("db_pool", "total_conns", "Total database pool connections."),
		dbAcquiredConns: desc("db_pool", "acquired_conns", "Database pool connections currently in use."),
		dbIdleConns:     desc("db_pool", "idle_conns", "Database pool idle connections."),
		cacheRequests:   desc("cache", "requests_total", "Segment cache lookups.", "result"),
		s3Uploads:       desc("s3", "uploads_total", "Background S3 document uploads.", "result"),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.activeSessions
	ch <- c.sessionsCreated
	ch <- c.sessionsClosed
	ch <- c.ticks
	ch <- c.changes
	ch <- c.skippedTicks
	ch <- c.fallbacks
	ch <- c.sseSubscribers
	ch <- c.eventsDropped
	ch <- c.dbTotalConns
	ch <- c.dbAcquiredConns
	ch <- c.dbIdleConns
	ch <- c.cacheRequests
	ch <- c.s3Uploads
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}
	counter := func(d *prometheus.Desc, v int64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}

	var t session.Totals
	if c.src.Sessions != nil {
		t = c.src.Sessions.Totals()
	}
	gauge(c.activeSessions, float64(t.Active))
	counter(c.sessionsCreated, t.Created)
	counter(c.sessionsClosed, t.Closed)
	counter(c.ticks, t.Engine.Ticks)
	counter(c.changes, t.Engine.Changes)
	counter(c.skippedTicks, t.Engine.SkippedTicks)
	counter(c.fallbacks, t.Engine.Fallbacks)

	if c.src.Events != nil {
		gauge(c.sseSubscribers, float64(c.src.Events.SubscriberCount()))
		counter(c.eventsDropped, c.src.Events.Dropped())
	} else {
		gauge(c.sseSubscribers, 0)
		counter(c.eventsDropped, 0)
	}

	// Database pool stats
	var ps database.PoolStat
	if c.src.Pool != nil {
		ps = c.src.Pool.PoolStat()
	}
	gauge(c.dbTotalConns, float64(ps.Total))
	gauge(c.dbAcquiredConns, float64(ps.Acquired))
	gauge(c.dbIdleConns, float64(ps.Idle))

	if c.src.Cache != nil {
		hits, misses := c.src.Cache.Counts()
		counter(c.cacheRequests, hits, "hit")
		counter(c.cacheRequests, misses, "miss")
	}
	if c.src.Uploader != nil {
		ok, failed := c.src.Uploader.Counts()
		counter(c.s3Uploads, ok, "ok")
		counter(c.s3Uploads, failed, "failed")
	}
}
