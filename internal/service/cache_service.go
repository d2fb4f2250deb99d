package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/ise-timetable-api/internal/models"
	appErrors "github.com/noah-isme/ise-timetable-api/pkg/errors"
)

const cacheNamespace = "ise-timetable"

// CacheRepository abstracts persistence for cached payloads.
type CacheRepository interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// CacheService keeps rendered timetable views and scope listings warm between edits.
// A nil *CacheService behaves as a disabled cache.
type CacheService struct {
	repo       CacheRepository
	metrics    *MetricsService
	defaultTTL time.Duration
	logger     *zap.Logger
	enabled    bool
}

// NewCacheService constructs a cache service.
func NewCacheService(repo CacheRepository, metrics *MetricsService, defaultTTL time.Duration, logger *zap.Logger, enabled bool) *CacheService {
	if defaultTTL <= 0 {
		defaultTTL = 10 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheService{repo: repo, metrics: metrics, defaultTTL: defaultTTL, logger: logger, enabled: enabled}
}

// Enabled indicates whether caching is active.
func (s *CacheService) Enabled() bool {
	return s != nil && s.enabled && s.repo != nil
}

// Key builds a namespaced cache key.
func (s *CacheService) Key(parts ...string) string {
	return cacheNamespace + ":" + strings.Join(parts, ":")
}

// TimetableKey addresses a single timetable view.
func (s *CacheService) TimetableKey(id string) string {
	return s.Key("timetable", id)
}

// ScopeKey addresses the listing of one academic year and semester type.
func (s *CacheService) ScopeKey(academicYear string, semesterType models.SemesterType) string {
	return s.Key("timetables", academicYear, strings.ToLower(string(semesterType)))
}

// Get attempts to retrieve a cached entry. It returns true when the cache was hit.
func (s *CacheService) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	if !s.Enabled() {
		return false, nil
	}
	start := time.Now()
	err := s.repo.Get(ctx, key, dest)
	hit := err == nil
	if s.metrics != nil {
		s.metrics.RecordCacheOperation(hit, time.Since(start))
	}
	switch {
	case hit:
		return true, nil
	case errors.Is(err, appErrors.ErrCacheMiss):
		return false, nil
	default:
		s.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		return false, err
	}
}

// Set stores the value in cache; ttl <= 0 uses the configured default.
func (s *CacheService) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if !s.Enabled() {
		return nil
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	start := time.Now()
	err := s.repo.Set(ctx, key, value, ttl)
	if s.metrics != nil {
		s.metrics.ObserveCacheWrite(time.Since(start))
	}
	if err != nil {
		s.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
	return err
}

// InvalidateTimetables drops every cached timetable view and scope listing.
// Generation, bulk clear and editor saves call it after committing and log a failure.
func (s *CacheService) InvalidateTimetables(ctx context.Context) error {
	if !s.Enabled() {
		return nil
	}
	pattern := s.Key("timetable*")
	if err := s.repo.DeleteByPattern(ctx, pattern); err != nil {
		return fmt.Errorf("invalidate %s: %w", pattern, err)
	}
	return nil
}
