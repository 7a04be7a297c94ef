package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/snarg/transcript-sync/internal/segment"
)

const cacheKeyPrefix = "transcript-sync:segments:"

// CachedStore is a Redis read-through cache in front of a segment.Store.
// Unknown recordings are not cached. Redis failures fall through to the
// underlying store.
type CachedStore struct {
	next segment.Store
	rdb  redis.UniversalClient
	ttl  time.Duration
	log  zerolog.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

func NewCachedStore(next segment.Store, rdb redis.UniversalClient, ttl time.Duration, log zerolog.Logger) *CachedStore {
	return &CachedStore{
		next: next,
		rdb:  rdb,
		ttl:  ttl,
		log:  log.With().Str("component", "segment-cache").Logger(),
	}
}

// ConnectRedis parses a redis:// URL and pings the server.
func ConnectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

func (c *CachedStore) Segments(ctx context.Context, recordingID string) ([]segment.Segment, error) {
	key := cacheKeyPrefix + recordingID
	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var segs []segment.Segment
		if jsonErr := json.Unmarshal(raw, &segs); jsonErr == nil {
			c.hits.Add(1)
			return segs, nil
		}
		c.log.Warn().Str("recording_id", recordingID).Msg("corrupt cache entry, reloading")
	case !errors.Is(err, redis.Nil):
		c.log.Warn().Err(err).Str("recording_id", recordingID).Msg("cache read failed")
	}

	c.misses.Add(1)
	segs, err := c.next.Segments(ctx, recordingID)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(segs); err == nil {
		if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
			c.log.Warn().Err(err).Str("recording_id", recordingID).Msg("cache write failed")
		}
	}
	return segs, nil
}

// Invalidate drops the cached copy so the next read reloads it.
func (c *CachedStore) Invalidate(ctx context.Context, recordingID string) error {
	return c.rdb.Del(ctx, cacheKeyPrefix+recordingID).Err()
}

// Counts returns cache hits and misses.
func (c *CachedStore) Counts() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}
