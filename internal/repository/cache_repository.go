package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	appErrors "github.com/noah-isme/ise-timetable-api/pkg/errors"
)

const (
	scanBatch   = 200
	unlinkBatch = 100
)

// CacheRepository stores JSON encoded timetable views in Redis.
type CacheRepository struct {
	client redis.UniversalClient
	logger *zap.Logger
}

// NewCacheRepository constructs a cache repository.
func NewCacheRepository(client redis.UniversalClient, logger *zap.Logger) *CacheRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheRepository{client: client, logger: logger}
}

// Get decodes the value under key into dest; a missing key yields ErrCacheMiss.
func (r *CacheRepository) Get(ctx context.Context, key string, dest interface{}) error {
	if r.client == nil {
		return appErrors.ErrCacheMiss
	}
	raw, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return appErrors.ErrCacheMiss
	}
	if err != nil {
		return appErrors.Internal(err, "redis get "+key)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		// A payload from an older release is treated as absent and overwritten on the next Set.
		r.logger.Debug("discarding undecodable cache entry", zap.String("key", key), zap.Error(err))
		return appErrors.ErrCacheMiss
	}
	return nil
}

// Set stores value under key for ttl.
func (r *CacheRepository) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if r.client == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return appErrors.Internal(err, "encode cache entry "+key)
	}
	if err := r.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		return appErrors.Internal(err, "redis set "+key)
	}
	return nil
}

// DeleteByPattern scans for keys matching pattern and unlinks them in pipelined batches.
func (r *CacheRepository) DeleteByPattern(ctx context.Context, pattern string) error {
	if r.client == nil {
		return nil
	}
	batch := make([]string, 0, unlinkBatch)
	removed := 0
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		pipe := r.client.Pipeline()
		pipe.Unlink(ctx, batch...)
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
		removed += len(batch)
		batch = batch[:0]
		return nil
	}

	iter := r.client.Scan(ctx, 0, pattern, scanBatch).Iterator()
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == unlinkBatch {
			if err := flush(); err != nil {
				return appErrors.Internal(err, "redis unlink "+pattern)
			}
		}
	}
	if err := iter.Err(); err != nil {
		return appErrors.Internal(err, "redis scan "+pattern)
	}
	if err := flush(); err != nil {
		return appErrors.Internal(err, "redis unlink "+pattern)
	}
	r.logger.Debug("cache entries removed", zap.String("pattern", pattern), zap.Int("count", removed))
	return nil
}

// PingContext reports whether Redis answers; used by the readiness check.
func (r *CacheRepository) PingContext(ctx context.Context) error {
	if r.client == nil {
		return errors.New("redis client not configured")
	}
	return r.client.Ping(ctx).Err()
}

// Close releases the underlying Redis connection if present.
func (r *CacheRepository) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}
