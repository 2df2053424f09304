package main

import (
	"testing"
	"time"

	"github.com/nadmax/searcheval/internal/logger"
	"github.com/nadmax/searcheval/internal/metrics"
	"github.com/nadmax/searcheval/internal/poller"
	"github.com/nadmax/searcheval/internal/progress"
	"github.com/nadmax/searcheval/internal/task"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trackedValue(t *testing.T, state, kind string) float64 {
	metric := &dto.Metric{}
	g, err := metrics.TrackedTasks.GetMetricWithLabelValues(state, kind)
	require.NoError(t, err)
	require.NoError(t, g.Write(metric))
	return metric.GetGauge().GetValue()
}

func TestUpdateTrackedMetrics(t *testing.T) {
	store := progress.NewMemory()
	now := time.Now()
	store.Observe(poller.Snapshot{View: "a", Kind: task.KindLLMEvaluation, State: poller.StatePolling, UpdatedAt: now})
	store.Observe(poller.Snapshot{View: "b", Kind: task.KindLLMEvaluation, State: poller.StatePolling, UpdatedAt: now})
	store.Observe(poller.Snapshot{View: "a", Kind: task.KindQueryGeneration, State: poller.StateFailed, UpdatedAt: now})

	updateTrackedMetrics(store, logger.Discard())

	assert.Equal(t, 2.0, trackedValue(t, "polling", "LLM_EVALUATION"))
	assert.Equal(t, 1.0, trackedValue(t, "failed", "QUERY_GENERATION"))
}

func TestOpenSnapshotStore_FallsBackToMemory(t *testing.T) {
	cfg := testConfig(t)

	store, closeStore, err := openSnapshotStore(cfg, logger.Discard())

	require.NoError(t, err)
	defer closeStore()
	_, ok := store.(*progress.Memory)
	assert.True(t, ok)
}

func TestBuildNotifier(t *testing.T) {
	cfg := testConfig(t)

	n, err := buildNotifier(cfg, logger.Discard())
	require.NoError(t, err)
	assert.Len(t, n, 1)

	cfg.Notify.SendGridAPIKey = "SG.test"
	cfg.Notify.FromAddress = "evals@example.com"
	cfg.Notify.Recipients = []string{"team@example.com"}

	n, err = buildNotifier(cfg, logger.Discard())
	require.NoError(t, err)
	assert.Len(t, n, 2)
}
