package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/ise-timetable-api/internal/repository"
)

var _ repository.QueryObserver = (*MetricsService)(nil)

func TestMetricsServiceObserveDBQuery(t *testing.T) {
	m := NewMetricsService()
	m.ObserveDBQuery("timetable.find_by_id", 10*time.Millisecond)
	m.ObserveDBQuery("timetable.list_by_scope", 30*time.Millisecond)

	snap := m.Snapshot()
	assert.EqualValues(t, 2, snap.DBQueryCount)
	assert.InDelta(t, 20.0, snap.AverageDBQueryDurationMs, 0.001)
}

func TestMetricsServiceNilIsNoop(t *testing.T) {
	var m *MetricsService
	assert.NotPanics(t, func() {
		m.ObserveDBQuery("timetable.insert", time.Millisecond)
		m.RecordCacheOperation(true, time.Millisecond)
	})
	assert.Zero(t, m.Snapshot().DBQueryCount)
}
