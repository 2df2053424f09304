// Package dashboard implements the monitoring endpoints over tracked job snapshots.
package dashboard

import (
	"net/http"
	"sort"
	"time"

	"github.com/nadmax/searcheval/internal/httputil"
	"github.com/nadmax/searcheval/internal/poller"
	"github.com/nadmax/searcheval/internal/task"
)

const historyWindow = 24 * time.Hour

// Source lists the latest snapshot of every tracked job.
type Source interface {
	List() ([]poller.Snapshot, error)
}

type Dashboard struct {
	source Source
	now    func() time.Time
}

type Stats struct {
	TotalJobs       int                   `json:"total_jobs"`
	PollingJobs     int                   `json:"polling_jobs"`
	CompletedJobs   int                   `json:"completed_jobs"`
	FailedJobs      int                   `json:"failed_jobs"`
	TimedOutJobs    int                   `json:"timed_out_jobs"`
	CancelledJobs   int                   `json:"cancelled_jobs"`
	JobsByKind      map[task.TaskKind]int `json:"jobs_by_kind"`
	Views           int                   `json:"views"`
	AverageDuration string                `json:"average_duration"`
	LastUpdated     time.Time             `json:"last_updated"`
}

type JobHistory struct {
	TaskID     int64         `json:"task_id"`
	Kind       task.TaskKind `json:"kind"`
	View       string        `json:"view"`
	State      poller.State  `json:"state"`
	Error      string        `json:"error,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   string        `json:"duration"`
}

func NewDashboard(source Source) *Dashboard {
	return &Dashboard{source: source, now: time.Now}
}

// Compute aggregates the snapshots into dashboard stats.
func (d *Dashboard) Compute() (Stats, error) {
	snapshots, err := d.source.List()
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{
		TotalJobs:   len(snapshots),
		JobsByKind:  make(map[task.TaskKind]int),
		LastUpdated: d.now(),
	}

	views := make(map[string]struct{})
	var total time.Duration
	finished := 0

	for _, snap := range snapshots {
		switch snap.State {
		case poller.StatePolling:
			stats.PollingJobs++
		case poller.StateCompleted:
			stats.CompletedJobs++
		case poller.StateFailed:
			stats.FailedJobs++
		case poller.StateTimedOut:
			stats.TimedOutJobs++
		case poller.StateCancelled:
			stats.CancelledJobs++
		}

		stats.JobsByKind[snap.Kind]++
		views[snap.View] = struct{}{}

		if snap.State.IsTerminal() && !snap.StartedAt.IsZero() {
			total += snap.UpdatedAt.Sub(snap.StartedAt)
			finished++
		}
	}
	stats.Views = len(views)

	if finished > 0 {
		avg := total / time.Duration(finished)
		stats.AverageDuration = avg.Round(time.Millisecond).String()
	} else {
		stats.AverageDuration = "N/A"
	}

	return stats, nil
}

// History returns the jobs that finished within the last 24 hours, newest first.
func (d *Dashboard) History() ([]JobHistory, error) {
	snapshots, err := d.source.List()
	if err != nil {
		return nil, err
	}

	cutoff := d.now().Add(-historyWindow)
	history := []JobHistory{}

	for _, snap := range snapshots {
		if !snap.State.IsTerminal() {
			continue
		}
		if snap.UpdatedAt.Before(cutoff) {
			continue
		}

		var duration string
		if !snap.StartedAt.IsZero() {
			duration = snap.UpdatedAt.Sub(snap.StartedAt).Round(time.Millisecond).String()
		}

		history = append(history, JobHistory{
			TaskID:     snap.TaskID,
			Kind:       snap.Kind,
			View:       snap.View,
			State:      snap.State,
			Error:      snap.Error,
			StartedAt:  snap.StartedAt,
			FinishedAt: snap.UpdatedAt,
			Duration:   duration,
		})
	}

	sort.SliceStable(history, func(i, j int) bool {
		return history[i].FinishedAt.After(history[j].FinishedAt)
	})
	return history, nil
}

func (d *Dashboard) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := d.Compute()
	if err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	httputil.WriteJSON(w, stats, http.StatusOK)
}

func (d *Dashboard) GetRecentJobs(w http.ResponseWriter, r *http.Request) {
	history, err := d.History()
	if err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	httputil.WriteJSON(w, history, http.StatusOK)
}
