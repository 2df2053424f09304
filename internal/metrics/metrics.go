// Package metrics provides Prometheus metrics for job orchestration and evaluation reports.
package metrics

import (
	"time"

	"github.com/nadmax/searcheval/internal/task"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TasksLaunched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "searcheval_tasks_launched_total",
			Help: "Total number of evaluation jobs launched",
		},
		[]string{"kind"},
	)
	LaunchFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "searcheval_launch_failures_total",
			Help: "Total number of job launches rejected before a task existed",
		},
		[]string{"kind"},
	)
	TasksCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "searcheval_tasks_completed_total",
			Help: "Total number of tracked jobs that completed",
		},
		[]string{"kind"},
	)
	TasksFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "searcheval_tasks_failed_total",
			Help: "Total number of tracked jobs that failed, by cause",
		},
		[]string{"kind", "cause"},
	)
	TasksCancelled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "searcheval_tasks_cancelled_total",
			Help: "Total number of pollers cancelled before a terminal state",
		},
		[]string{"kind"},
	)
	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "searcheval_task_duration_seconds",
			Help:    "Time from poller start to terminal state",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200, 1800, 3600},
		},
		[]string{"kind", "state"},
	)
	PollRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "searcheval_poll_requests_total",
			Help: "Total number of task status fetches",
		},
		[]string{"kind", "outcome"},
	)
	PollDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "searcheval_poll_duration_seconds",
			Help:    "Task status fetch latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)
	ActivePollers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "searcheval_active_pollers",
			Help: "Number of pollers currently tracking a job",
		},
		[]string{"kind"},
	)
	TrackedTasks = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "searcheval_tracked_tasks",
			Help: "Task snapshots in the progress store by state and kind",
		},
		[]string{"state", "kind"},
	)
	JudgmentUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "searcheval_judgment_updates_total",
			Help: "Total number of candidate relevance updates",
		},
		[]string{"outcome"},
	)
	ReportParseFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "searcheval_report_parse_failures_total",
			Help: "Total number of report detail blobs that could not be parsed",
		},
	)
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "searcheval_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "searcheval_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)
)

func RecordTaskLaunched(kind task.TaskKind) {
	TasksLaunched.WithLabelValues(kind.String()).Inc()
}

func RecordLaunchFailure(kind task.TaskKind) {
	LaunchFailures.WithLabelValues(kind.String()).Inc()
}

func RecordTaskCompleted(kind task.TaskKind, duration time.Duration) {
	TasksCompleted.WithLabelValues(kind.String()).Inc()
	TaskDuration.WithLabelValues(kind.String(), "completed").Observe(duration.Seconds())
}

// RecordTaskFailed counts a failed job. cause is one of "failed", "poll_error" or
// "timed_out".
func RecordTaskFailed(kind task.TaskKind, cause string, duration time.Duration) {
	TasksFailed.WithLabelValues(kind.String(), cause).Inc()
	TaskDuration.WithLabelValues(kind.String(), cause).Observe(duration.Seconds())
}

func RecordTaskCancelled(kind task.TaskKind) {
	TasksCancelled.WithLabelValues(kind.String()).Inc()
}

func RecordPoll(kind task.TaskKind, outcome string, duration time.Duration) {
	PollRequests.WithLabelValues(kind.String(), outcome).Inc()
	PollDuration.WithLabelValues(kind.String()).Observe(duration.Seconds())
}

func PollerStarted(kind task.TaskKind) {
	ActivePollers.WithLabelValues(kind.String()).Inc()
}

func PollerStopped(kind task.TaskKind) {
	ActivePollers.WithLabelValues(kind.String()).Dec()
}

func UpdateTrackedTasks(byState map[string]map[string]int) {
	TrackedTasks.Reset()
	for state, kinds := range byState {
		for kind, count := range kinds {
			TrackedTasks.WithLabelValues(state, kind).Set(float64(count))
		}
	}
}

func RecordJudgmentUpdate(outcome string) {
	JudgmentUpdates.WithLabelValues(outcome).Inc()
}

func RecordReportParseFailure() {
	ReportParseFailures.Inc()
}

func RecordHTTPRequest(method, endpoint, status string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}
