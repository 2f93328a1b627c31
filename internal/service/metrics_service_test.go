package service

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsServiceSnapshot(t *testing.T) {
	m := NewMetricsService()
	m.RecordCacheOperation(true, time.Millisecond)
	m.RecordCacheOperation(false, time.Millisecond)
	m.RecordBlockMutation("move", "all")
	m.RecordBlockMutation("move", "")
	m.RecordBlockMutation("create", "")
	m.RecordOccurrences(3)
	m.RecordEvent(true)
	m.RecordEvent(false)

	snap := m.Snapshot()
	assert.InDelta(t, 0.5, snap.CacheHitRatio, 0.0001)
	assert.Equal(t, uint64(2), snap.BlockMutations["move"])
	assert.Equal(t, uint64(1), snap.BlockMutations["create"])
	assert.Equal(t, uint64(3), snap.OccurrencesMaterialized)
	assert.Equal(t, uint64(1), snap.EventsPublished)

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `planner_block_mutations_total{action="move",scope="all"} 1`)
	assert.Contains(t, w.Body.String(), "planner_occurrences_materialized_total 3")
}

func TestNilMetricsServiceIsSafe(t *testing.T) {
	var m *MetricsService
	m.RecordBlockMutation("delete", "this")
	m.RecordOccurrences(1)
	m.RecordEvent(true)
	assert.Zero(t, m.Snapshot().RequestsTotal)

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
