package main

import (
	"context"
	"time"

	"github.com/nadmax/searcheval/internal/logger"
	"github.com/nadmax/searcheval/internal/metrics"
	"github.com/nadmax/searcheval/internal/progress"
)

func startMetricsCollector(ctx context.Context, store progress.Reader, log *logger.Logger) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateTrackedMetrics(store, log)
		}
	}
}

func updateTrackedMetrics(store progress.Reader, log *logger.Logger) {
	counts, err := store.Counts()
	if err != nil {
		log.WithError(err).Warn("failed to count job snapshots for metrics")
		return
	}

	byState := make(map[string]map[string]int)
	for state, kinds := range counts {
		byState[string(state)] = make(map[string]int)
		for kind, n := range kinds {
			byState[string(state)][kind.String()] = n
		}
	}

	metrics.UpdateTrackedTasks(byState)
}

func startSnapshotPruner(ctx context.Context, store snapshotStore, retention time.Duration, log *logger.Logger) {
	if retention <= 0 {
		return
	}

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := store.Prune(time.Now().Add(-retention))
			if err != nil {
				log.WithError(err).Warn("failed to prune job snapshots")
				continue
			}
			if removed > 0 {
				log.Debug("pruned job snapshots", "count", removed)
			}
		}
	}
}
