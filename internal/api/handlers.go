// Package api exposes the evaluation console over HTTP: job launch and tracking,
// report details, candidate judgments and the monitoring dashboard.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/nadmax/searcheval/internal/client"
	"github.com/nadmax/searcheval/internal/dashboard"
	"github.com/nadmax/searcheval/internal/httputil"
	"github.com/nadmax/searcheval/internal/judgment"
	"github.com/nadmax/searcheval/internal/launcher"
	"github.com/nadmax/searcheval/internal/logger"
	"github.com/nadmax/searcheval/internal/poller"
	"github.com/nadmax/searcheval/internal/progress"
	"github.com/nadmax/searcheval/internal/report"
	"github.com/nadmax/searcheval/internal/task"
)

// ViewHeader names the console view a request acts on. Requests without it act on
// launcher.DefaultView.
const ViewHeader = "X-View-ID"

const maxBodyBytes = 1 << 20

// JobLauncher starts and tracks backend jobs.
type JobLauncher interface {
	GenerateQueriesIn(ctx context.Context, view string, params launcher.QueryGenerationParams) (*launcher.Job, error)
	GenerateCandidatesIn(ctx context.Context, view string, queryIDs []int64) (*launcher.Job, error)
	EvaluateLLMIn(ctx context.Context, view string, queryIDs []int64) (*launcher.Job, error)
	RunEvaluation(ctx context.Context, params launcher.EvaluationRunParams) (*client.EvaluateResponse, error)
	Resume(ctx context.Context, view string) ([]*launcher.Job, error)
	Registry() *launcher.Registry
}

// Reports reads evaluation reports.
type Reports interface {
	GetReport(ctx context.Context, id int64) (*report.Report, error)
	GetReports(ctx context.Context, ids ...int64) ([]*report.Report, error)
}

// Judgments mutates candidate judgments.
type Judgments interface {
	Update(ctx context.Context, candidateID int64, j judgment.Judgment) (*judgment.UpdateResult, error)
	ReviewQueue(ctx context.Context, queryID int64) ([]judgment.Candidate, error)
}

type Deps struct {
	Launcher  JobLauncher
	Reports   Reports
	Judgments Judgments
	Snapshots progress.Reader
	Logger    *logger.Logger
}

type API struct {
	launcher  JobLauncher
	reports   Reports
	judgments Judgments
	snapshots progress.Reader
	log       *logger.Logger
	mux       *http.ServeMux
}

// LaunchRequest is the body of POST /api/jobs/{kind}. Query generation reads the
// generation parameters; the other kinds read QueryIDs.
type LaunchRequest struct {
	launcher.QueryGenerationParams
	QueryIDs []int64 `json:"queryIds"`
}

type JobResponse struct {
	WatchID  string          `json:"watch_id"`
	TaskID   int64           `json:"task_id"`
	Kind     task.TaskKind   `json:"kind"`
	View     string          `json:"view"`
	Message  string          `json:"message,omitempty"`
	Snapshot poller.Snapshot `json:"snapshot"`
}

// JudgmentRequest is the body of PUT /api/candidates/{id}. Confidence defaults to 1.
type JudgmentRequest struct {
	RelevanceScore   *int     `json:"relevanceScore"`
	EvaluationReason string   `json:"evaluationReason"`
	Confidence       *float64 `json:"confidence"`
}

type JudgmentResponse struct {
	Candidate *judgment.Candidate `json:"candidate"`
	Query     *judgment.Query     `json:"query,omitempty"`
	Warning   string              `json:"warning,omitempty"`
}

type ReportDetailsResponse struct {
	ReportID    int64    `json:"report_id"`
	ReportName  string   `json:"report_name"`
	AverageNDCG *float64 `json:"average_ndcg,omitempty"`
	report.ParseResult
}

func NewAPI(deps Deps) *API {
	log := deps.Logger
	if log == nil {
		log = logger.Default()
	}

	api := &API{
		launcher:  deps.Launcher,
		reports:   deps.Reports,
		judgments: deps.Judgments,
		snapshots: deps.Snapshots,
		log:       log,
		mux:       http.NewServeMux(),
	}

	api.setupRoutes()
	return api
}

func (a *API) setupRoutes() {
	a.mux.HandleFunc("GET /health", a.health)
	a.mux.HandleFunc("POST /api/views", a.createView)

	a.mux.HandleFunc("GET /api/jobs", a.listJobs)
	a.mux.HandleFunc("DELETE /api/jobs", a.cancelView)
	a.mux.HandleFunc("POST /api/jobs/resume", a.resumeJobs)
	a.mux.HandleFunc("POST /api/jobs/{kind}", a.launchJob)
	a.mux.HandleFunc("DELETE /api/jobs/{kind}", a.cancelJob)
	a.mux.HandleFunc("POST /api/evaluations", a.runEvaluation)

	a.mux.HandleFunc("GET /api/reports/compare", a.compareReports)
	a.mux.HandleFunc("GET /api/reports/{id}/details", a.reportDetails)
	a.mux.HandleFunc("GET /api/queries/{id}/review", a.reviewQueue)
	a.mux.HandleFunc("PUT /api/candidates/{id}", a.updateCandidate)

	dash := dashboard.NewDashboard(a.snapshots)
	a.mux.HandleFunc("GET /api/dashboard/stats", dash.GetStats)
	a.mux.HandleFunc("GET /api/dashboard/history", dash.GetRecentJobs)
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mux.ServeHTTP(w, r)
}

func (a *API) health(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}

func (a *API) createView(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, map[string]string{"view_id": uuid.NewString()}, http.StatusCreated)
}

func (a *API) listJobs(w http.ResponseWriter, r *http.Request) {
	var (
		snapshots []poller.Snapshot
		err       error
	)
	if r.URL.Query().Get("all") == "true" {
		snapshots, err = a.snapshots.List()
	} else {
		snapshots, err = a.snapshots.ListView(viewOf(r))
	}
	if err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	httputil.WriteJSON(w, snapshots, http.StatusOK)
}

// cancelView stops every job tracked for the view, as when its page is closed.
func (a *API) cancelView(w http.ResponseWriter, r *http.Request) {
	view := viewOf(r)
	n := a.launcher.Registry().CancelView(view)

	a.log.WithView(view).Info("cancelled view jobs", "count", n)
	httputil.WriteJSON(w, map[string]int{"cancelled": n}, http.StatusOK)
}

func (a *API) resumeJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := a.launcher.Resume(r.Context(), viewOf(r))
	if err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusBadGateway)
		return
	}

	resp := make([]JobResponse, 0, len(jobs))
	for _, j := range jobs {
		resp = append(resp, jobResponse(j))
	}
	httputil.WriteJSON(w, resp, http.StatusOK)
}

func (a *API) launchJob(w http.ResponseWriter, r *http.Request) {
	kind, err := task.ParseKind(r.PathValue("kind"))
	if err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusNotFound)
		return
	}

	var req LaunchRequest
	if err := decodeBody(r, &req); err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	view := viewOf(r)
	var job *launcher.Job
	switch kind {
	case task.KindQueryGeneration:
		job, err = a.launcher.GenerateQueriesIn(r.Context(), view, req.QueryGenerationParams)
	case task.KindCandidateGeneration:
		job, err = a.launcher.GenerateCandidatesIn(r.Context(), view, req.QueryIDs)
	case task.KindLLMEvaluation:
		job, err = a.launcher.EvaluateLLMIn(r.Context(), view, req.QueryIDs)
	default:
		httputil.WriteJSONError(w, kind.String()+" jobs cannot be launched from the console", http.StatusBadRequest)
		return
	}
	if err != nil {
		a.writeLaunchError(w, err)
		return
	}

	httputil.WriteJSON(w, jobResponse(job), http.StatusAccepted)
}

func (a *API) cancelJob(w http.ResponseWriter, r *http.Request) {
	kind, err := task.ParseKind(r.PathValue("kind"))
	if err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusNotFound)
		return
	}

	if !a.launcher.Registry().Cancel(viewOf(r), kind) {
		httputil.WriteJSONError(w, "no tracked job", http.StatusNotFound)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (a *API) runEvaluation(w http.ResponseWriter, r *http.Request) {
	var params launcher.EvaluationRunParams
	if err := decodeBody(r, &params); err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	resp, err := a.launcher.RunEvaluation(r.Context(), params)
	if err != nil {
		a.writeLaunchError(w, err)
		return
	}

	httputil.WriteJSON(w, resp, http.StatusOK)
}

// reportDetails answers 200 even when the stored details cannot be parsed: the body then
// has success false and the raw payload.
func (a *API) reportDetails(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	key, err := report.ParseSortKey(q.Get("sort"))
	if err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	order, err := report.ParseOrder(q.Get("order"))
	if err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	rep, err := a.reports.GetReport(r.Context(), id)
	if err != nil {
		writeBackendError(w, err)
		return
	}

	result := report.ParseDetails(rep)
	if result.Success {
		details := result.Details
		if q.Get("issues") == "true" {
			details = report.FilterWithIssues(details)
		}
		result.Details = report.Sort(details, key, order)
	} else {
		a.log.Warn("report details could not be parsed", "report_id", id, "error", result.Error)
	}

	resp := ReportDetailsResponse{
		ReportID:    rep.ID,
		ReportName:  rep.ReportName,
		ParseResult: result,
	}
	if avg, ok := report.AverageNDCG(rep); ok {
		resp.AverageNDCG = &avg
	}
	httputil.WriteJSON(w, resp, http.StatusOK)
}

func (a *API) compareReports(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	base, err := strconv.ParseInt(q.Get("base"), 10, 64)
	if err != nil {
		httputil.WriteJSONError(w, "invalid base report id", http.StatusBadRequest)
		return
	}
	target, err := strconv.ParseInt(q.Get("target"), 10, 64)
	if err != nil {
		httputil.WriteJSONError(w, "invalid target report id", http.StatusBadRequest)
		return
	}

	reports, err := a.reports.GetReports(r.Context(), base, target)
	if err != nil {
		writeBackendError(w, err)
		return
	}

	httputil.WriteJSON(w, report.Compare(reports[0], reports[1]), http.StatusOK)
}

func (a *API) reviewQueue(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	candidates, err := a.judgments.ReviewQueue(r.Context(), id)
	if err != nil {
		writeBackendError(w, err)
		return
	}

	httputil.WriteJSON(w, candidates, http.StatusOK)
}

func (a *API) updateCandidate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req JudgmentRequest
	if err := decodeBody(r, &req); err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.RelevanceScore == nil {
		httputil.WriteJSONError(w, "relevanceScore is required", http.StatusBadRequest)
		return
	}

	j := judgment.Manual(*req.RelevanceScore, req.EvaluationReason)
	if req.Confidence != nil {
		j.Confidence = *req.Confidence
	}

	result, err := a.judgments.Update(r.Context(), id, j)

	var refreshErr *judgment.RefreshError
	switch {
	case errors.As(err, &refreshErr):
		httputil.WriteJSON(w, JudgmentResponse{
			Candidate: result.Candidate,
			Warning:   refreshErr.Error(),
		}, http.StatusOK)
	case errors.Is(err, judgment.ErrInvalidJudgment):
		httputil.WriteJSONError(w, err.Error(), http.StatusBadRequest)
	case err != nil:
		writeBackendError(w, err)
	default:
		httputil.WriteJSON(w, JudgmentResponse{
			Candidate: result.Candidate,
			Query:     result.Query,
		}, http.StatusOK)
	}
}

// writeLaunchError maps a rejected launch: the backend refusing gives 502, anything
// caught before the backend was called gives 400.
func (a *API) writeLaunchError(w http.ResponseWriter, err error) {
	var launchErr *launcher.LaunchError
	if errors.As(err, &launchErr) {
		writeBackendError(w, err)
		return
	}

	httputil.WriteJSONError(w, err.Error(), http.StatusBadRequest)
}

func writeBackendError(w http.ResponseWriter, err error) {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		httputil.WriteJSONError(w, err.Error(), http.StatusNotFound)
		return
	}

	httputil.WriteJSONError(w, err.Error(), http.StatusBadGateway)
}

func jobResponse(j *launcher.Job) JobResponse {
	return JobResponse{
		WatchID:  j.WatchID,
		TaskID:   j.TaskID,
		Kind:     j.Kind,
		View:     j.View,
		Message:  j.Message,
		Snapshot: j.Snapshot(),
	}
}

func viewOf(r *http.Request) string {
	if view := strings.TrimSpace(r.Header.Get(ViewHeader)); view != "" {
		return view
	}
	return launcher.DefaultView
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		httputil.WriteJSONError(w, "invalid id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func decodeBody(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return errors.New("failed to read request body")
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return errors.New("invalid JSON")
	}
	return nil
}
