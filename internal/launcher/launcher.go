// Package launcher starts backend evaluation jobs and tracks each one with a poller.
//
// Every asynchronous launch posts to the backend, hands the returned task id to a fresh
// poller and runs kind-specific post-processing when the job completes. A launch that
// the backend rejects never creates a poller. At most one job per kind is tracked for a
// view; launching another cancels the previous poller first.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/nadmax/searcheval/internal/client"
	"github.com/nadmax/searcheval/internal/clock"
	"github.com/nadmax/searcheval/internal/judgment"
	"github.com/nadmax/searcheval/internal/logger"
	"github.com/nadmax/searcheval/internal/metrics"
	"github.com/nadmax/searcheval/internal/notify"
	"github.com/nadmax/searcheval/internal/poller"
	"github.com/nadmax/searcheval/internal/task"
	"golang.org/x/sync/errgroup"
)

// KindEvaluationRun labels the synchronous full evaluation run in errors and metrics.
const KindEvaluationRun task.TaskKind = "EVALUATION_RUN"

var ErrNoQueriesSelected = errors.New("no queries selected")

// LaunchError reports a job the backend refused to start.
type LaunchError struct {
	Kind task.TaskKind
	Err  error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("failed to launch %s: %v", e.Kind, e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// Backend is the part of the evaluation API the launcher drives.
type Backend interface {
	poller.Fetcher
	GenerateQueries(ctx context.Context, req client.QueryGenerationRequest) (*client.LaunchResponse, error)
	GenerateCandidates(ctx context.Context, queryIDs []int64) (*client.LaunchResponse, error)
	EvaluateLLM(ctx context.Context, queryIDs []int64) (*client.LaunchResponse, error)
	Evaluate(ctx context.Context, req client.EvaluateRequest) (*client.EvaluateResponse, error)
	RunningTasks(ctx context.Context) ([]task.Task, error)
	ListQueries(ctx context.Context) ([]judgment.Query, error)
	GetQuery(ctx context.Context, id int64) (*judgment.Query, error)
}

type QueryGenerationParams struct {
	Count         int    `json:"count" validate:"gt=0,lte=1000"`
	Category      string `json:"category,omitempty" validate:"max=200"`
	MinCandidates *int   `json:"minCandidates,omitempty" validate:"omitempty,gt=0"`
	MaxCandidates *int   `json:"maxCandidates,omitempty" validate:"omitempty,gt=0"`
}

type EvaluationRunParams struct {
	ReportName    string `json:"reportName" validate:"required,max=255"`
	RetrievalSize *int   `json:"retrievalSize,omitempty" validate:"omitempty,gt=0,lte=1000"`
}

type Config struct {
	Interval  time.Duration
	Timeout   time.Duration
	Clock     clock.Clock
	Logger    *logger.Logger
	Observers []poller.Observer
	Notifier  notify.Notifier
	// OnFinish receives every outcome after post-processing and notification.
	OnFinish func(o Outcome)
}

type Launcher struct {
	backend  Backend
	cfg      Config
	log      *logger.Logger
	registry *Registry
	validate *validator.Validate

	ctx    context.Context
	cancel context.CancelFunc
}

func New(backend Backend, cfg Config) *Launcher {
	if cfg.Logger == nil {
		cfg.Logger = logger.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Launcher{
		backend:  backend,
		cfg:      cfg,
		log:      cfg.Logger,
		registry: NewRegistry(),
		validate: validator.New(),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (l *Launcher) Registry() *Registry {
	return l.registry
}

// Close cancels every tracked job.
func (l *Launcher) Close() {
	l.registry.CancelAll()
	l.cancel()
}

// GenerateQueries launches query generation in the default view.
func (l *Launcher) GenerateQueries(ctx context.Context, params QueryGenerationParams) (*Job, error) {
	return l.GenerateQueriesIn(ctx, DefaultView, params)
}

func (l *Launcher) GenerateCandidates(ctx context.Context, queryIDs []int64) (*Job, error) {
	return l.GenerateCandidatesIn(ctx, DefaultView, queryIDs)
}

func (l *Launcher) EvaluateLLM(ctx context.Context, queryIDs []int64) (*Job, error) {
	return l.EvaluateLLMIn(ctx, DefaultView, queryIDs)
}

func (l *Launcher) GenerateQueriesIn(ctx context.Context, view string, params QueryGenerationParams) (*Job, error) {
	kind := task.KindQueryGeneration
	if err := l.validateQueryGeneration(params); err != nil {
		return nil, err
	}

	resp, err := l.backend.GenerateQueries(ctx, client.QueryGenerationRequest{
		Count:         params.Count,
		Category:      params.Category,
		MinCandidates: params.MinCandidates,
		MaxCandidates: params.MaxCandidates,
	})
	if err != nil {
		return nil, l.launchFailed(kind, err)
	}

	metrics.RecordTaskLaunched(kind)
	return l.track(view, kind, resp.TaskID, resp.Message, nil), nil
}

func (l *Launcher) GenerateCandidatesIn(ctx context.Context, view string, queryIDs []int64) (*Job, error) {
	kind := task.KindCandidateGeneration
	if len(queryIDs) == 0 {
		return nil, ErrNoQueriesSelected
	}

	resp, err := l.backend.GenerateCandidates(ctx, queryIDs)
	if err != nil {
		return nil, l.launchFailed(kind, err)
	}

	metrics.RecordTaskLaunched(kind)
	return l.track(view, kind, resp.TaskID, resp.Message, queryIDs), nil
}

func (l *Launcher) EvaluateLLMIn(ctx context.Context, view string, queryIDs []int64) (*Job, error) {
	kind := task.KindLLMEvaluation
	if len(queryIDs) == 0 {
		return nil, ErrNoQueriesSelected
	}

	resp, err := l.backend.EvaluateLLM(ctx, queryIDs)
	if err != nil {
		return nil, l.launchFailed(kind, err)
	}

	metrics.RecordTaskLaunched(kind)
	return l.track(view, kind, resp.TaskID, resp.Message, queryIDs), nil
}

// RunEvaluation runs a full evaluation. The backend answers with the aggregates once the
// report exists, so no poller is involved.
func (l *Launcher) RunEvaluation(ctx context.Context, params EvaluationRunParams) (*client.EvaluateResponse, error) {
	if err := l.validate.Struct(params); err != nil {
		return nil, fmt.Errorf("invalid evaluation run: %w", err)
	}

	resp, err := l.backend.Evaluate(ctx, client.EvaluateRequest{
		ReportName:    params.ReportName,
		RetrievalSize: params.RetrievalSize,
	})
	if err != nil {
		return nil, l.launchFailed(KindEvaluationRun, err)
	}

	metrics.RecordTaskLaunched(KindEvaluationRun)
	l.log.Info("evaluation run finished", "report_id", resp.ReportID, "queries", resp.TotalQueries)
	l.notify(notify.Event{
		Kind:    KindEvaluationRun,
		TaskID:  resp.ReportID,
		Success: true,
		Message: fmt.Sprintf("Report %q created (id %d) over %d queries", params.ReportName, resp.ReportID, resp.TotalQueries),
	})
	return resp, nil
}

// Resume attaches pollers to jobs the backend still runs, for kinds that have no
// tracked job in view yet. When several tasks of one kind are running, the newest is
// tracked.
func (l *Launcher) Resume(ctx context.Context, view string) ([]*Job, error) {
	running, err := l.backend.RunningTasks(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list running tasks: %w", err)
	}

	newest := make(map[task.TaskKind]task.Task)
	for _, t := range running {
		if t.Status.IsTerminal() {
			continue
		}
		if current, ok := newest[t.Kind]; !ok || t.ID > current.ID {
			newest[t.Kind] = t
		}
	}

	kinds := make([]task.TaskKind, 0, len(newest))
	for kind := range newest {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	var resumed []*Job
	for _, kind := range kinds {
		if _, tracked := l.registry.Get(view, kind); tracked {
			continue
		}
		t := newest[kind]
		resumed = append(resumed, l.track(view, kind, t.ID, t.Message, nil))
	}

	if len(resumed) > 0 {
		l.log.WithView(view).Info("resumed tracking of running tasks", "count", len(resumed))
	}
	return resumed, nil
}

func (l *Launcher) validateQueryGeneration(params QueryGenerationParams) error {
	if err := l.validate.Struct(params); err != nil {
		return fmt.Errorf("invalid query generation params: %w", err)
	}
	if params.MinCandidates != nil && params.MaxCandidates != nil && *params.MinCandidates > *params.MaxCandidates {
		return fmt.Errorf("invalid query generation params: minCandidates %d exceeds maxCandidates %d",
			*params.MinCandidates, *params.MaxCandidates)
	}
	return nil
}

func (l *Launcher) launchFailed(kind task.TaskKind, err error) error {
	metrics.RecordLaunchFailure(kind)
	l.log.WithError(err).Warn("job launch rejected", "task_kind", string(kind))
	return &LaunchError{Kind: kind, Err: err}
}

func (l *Launcher) track(view string, kind task.TaskKind, taskID int64, message string, queryIDs []int64) *Job {
	if view == "" {
		view = DefaultView
	}

	j := &Job{
		WatchID:  uuid.NewString(),
		TaskID:   taskID,
		Kind:     kind,
		View:     view,
		Message:  message,
		queryIDs: queryIDs,
		done:     make(chan struct{}),
	}

	j.poller = poller.New(l.backend, poller.Config{
		Kind:       kind,
		View:       view,
		Interval:   l.cfg.Interval,
		Timeout:    l.cfg.Timeout,
		Clock:      l.cfg.Clock,
		Logger:     l.log.WithView(view),
		Observers:  l.cfg.Observers,
		OnComplete: func(t *task.Task) { l.completed(j, t) },
		OnError:    func(err error) { l.failed(j, err) },
	})

	if previous := l.registry.track(j); previous != nil {
		l.log.WithView(view).Info("replacing tracked job", "task_kind", string(kind),
			"previous_task_id", previous.TaskID, "task_id", taskID)
		previous.Cancel()
	}

	if err := j.poller.Start(l.ctx, taskID); err != nil {
		l.failed(j, err)
		return j
	}

	go l.watchCancel(j)
	return j
}

// watchCancel settles jobs whose poller was cancelled, since no callback fires for them.
func (l *Launcher) watchCancel(j *Job) {
	<-j.poller.Done()
	if j.poller.State() != poller.StateCancelled {
		return
	}

	l.registry.release(j)
	o := j.baseOutcome()
	o.Err = ErrCancelled
	if j.finish(o) && l.cfg.OnFinish != nil {
		l.cfg.OnFinish(o)
	}
}

func (l *Launcher) completed(j *Job, t *task.Task) {
	o := j.baseOutcome()
	o.Task = t

	queries, err := l.refresh(j)
	if err != nil {
		l.log.WithError(err).Warn("failed to refresh queries after job", "task_kind", string(j.Kind), "task_id", j.TaskID)
	}
	o.Queries = queries

	l.settle(j, o, notify.Event{
		Kind:    j.Kind,
		View:    j.View,
		TaskID:  j.TaskID,
		Success: true,
		Message: completionMessage(j.Kind, t),
	})
}

func (l *Launcher) failed(j *Job, err error) {
	o := j.baseOutcome()
	o.Err = err

	l.settle(j, o, notify.Event{
		Kind:    j.Kind,
		View:    j.View,
		TaskID:  j.TaskID,
		Success: false,
		Message: err.Error(),
	})
}

func (l *Launcher) settle(j *Job, o Outcome, e notify.Event) {
	l.registry.release(j)
	l.notify(e)
	if j.finish(o) && l.cfg.OnFinish != nil {
		l.cfg.OnFinish(o)
	}
}

func (l *Launcher) notify(e notify.Event) {
	if l.cfg.Notifier == nil {
		return
	}
	if err := l.cfg.Notifier.Notify(l.ctx, e); err != nil {
		l.log.WithError(err).Warn("failed to send notification", "task_kind", string(e.Kind), "task_id", e.TaskID)
	}
}

// refresh reloads the query read model a completed job changed. Query generation
// reloads the whole list; candidate generation and LLM evaluation reload the selected
// queries' counters, or the whole list when the selection is unknown.
func (l *Launcher) refresh(j *Job) ([]judgment.Query, error) {
	switch j.Kind {
	case task.KindQueryGeneration:
		return l.backend.ListQueries(l.ctx)
	case task.KindCandidateGeneration, task.KindLLMEvaluation:
		if len(j.queryIDs) == 0 {
			return l.backend.ListQueries(l.ctx)
		}
		return l.refetchQueries(j.queryIDs)
	default:
		return nil, nil
	}
}

func (l *Launcher) refetchQueries(ids []int64) ([]judgment.Query, error) {
	queries := make([]judgment.Query, len(ids))

	g, ctx := errgroup.WithContext(l.ctx)
	g.SetLimit(8)
	for i, id := range ids {
		g.Go(func() error {
			q, err := l.backend.GetQuery(ctx, id)
			if err != nil {
				return fmt.Errorf("failed to refetch query %d: %w", id, err)
			}
			queries[i] = *q
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return queries, nil
}

func completionMessage(kind task.TaskKind, t *task.Task) string {
	if n, ok := t.DocumentCount(); ok {
		return fmt.Sprintf("%s completed: %d documents", kind, n)
	}
	if t.Message != "" {
		return t.Message
	}
	return fmt.Sprintf("%s completed", kind)
}
