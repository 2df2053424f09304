package client

import (
	"context"
	"fmt"

	"github.com/nadmax/searcheval/internal/evaluation"
	"github.com/nadmax/searcheval/internal/judgment"
	"github.com/nadmax/searcheval/internal/report"
	"github.com/nadmax/searcheval/internal/task"
	"golang.org/x/sync/errgroup"
)

// QueryGenerationRequest asks the backend to generate evaluation queries.
type QueryGenerationRequest struct {
	Count         int    `json:"count"`
	Category      string `json:"category,omitempty"`
	MinCandidates *int   `json:"minCandidates,omitempty"`
	MaxCandidates *int   `json:"maxCandidates,omitempty"`
}

// QuerySelection names the queries a candidate generation or LLM evaluation job works on.
type QuerySelection struct {
	QueryIDs []int64 `json:"queryIds"`
}

// LaunchResponse is returned by every asynchronous job endpoint.
type LaunchResponse struct {
	TaskID  int64  `json:"taskId"`
	Message string `json:"message"`
}

// EvaluateRequest starts a full evaluation run.
type EvaluateRequest struct {
	ReportName    string `json:"reportName"`
	RetrievalSize *int   `json:"retrievalSize,omitempty"`
}

// EvaluateResponse carries the aggregates of a finished evaluation run and the id of the
// report it created.
type EvaluateResponse struct {
	ReportID int64  `json:"reportId"`
	Message  string `json:"message,omitempty"`
	evaluation.Summary
}

func (c *Client) GenerateQueries(ctx context.Context, req QueryGenerationRequest) (*LaunchResponse, error) {
	var resp LaunchResponse
	if err := c.post(ctx, "/evaluation/queries/generate-async", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) GenerateCandidates(ctx context.Context, queryIDs []int64) (*LaunchResponse, error) {
	var resp LaunchResponse
	if err := c.post(ctx, "/evaluation/candidates/generate-async", QuerySelection{QueryIDs: queryIDs}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) EvaluateLLM(ctx context.Context, queryIDs []int64) (*LaunchResponse, error) {
	var resp LaunchResponse
	if err := c.post(ctx, "/evaluation/candidates/evaluate-llm-async", QuerySelection{QueryIDs: queryIDs}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Evaluate runs a full evaluation. The backend answers once the report exists.
func (c *Client) Evaluate(ctx context.Context, req EvaluateRequest) (*EvaluateResponse, error) {
	var resp EvaluateResponse
	if err := c.post(ctx, "/evaluation/evaluate", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetTask fetches the current status of a job. It satisfies poller.Fetcher.
func (c *Client) GetTask(ctx context.Context, id int64) (*task.Task, error) {
	var t task.Task
	if err := c.get(ctx, fmt.Sprintf("/evaluation/tasks/%d", id), &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// RunningTasks lists the jobs the backend still considers in flight.
func (c *Client) RunningTasks(ctx context.Context) ([]task.Task, error) {
	var tasks []task.Task
	if err := c.get(ctx, "/evaluation/tasks/running", &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

func (c *Client) ListQueries(ctx context.Context) ([]judgment.Query, error) {
	var queries []judgment.Query
	if err := c.get(ctx, "/evaluation/queries", &queries); err != nil {
		return nil, err
	}
	return queries, nil
}

func (c *Client) GetQuery(ctx context.Context, id int64) (*judgment.Query, error) {
	var q judgment.Query
	if err := c.get(ctx, fmt.Sprintf("/evaluation/queries/%d", id), &q); err != nil {
		return nil, err
	}
	return &q, nil
}

func (c *Client) ListCandidates(ctx context.Context, queryID int64) ([]judgment.Candidate, error) {
	var candidates []judgment.Candidate
	if err := c.get(ctx, fmt.Sprintf("/evaluation/queries/%d/candidates", queryID), &candidates); err != nil {
		return nil, err
	}
	return candidates, nil
}

// UpdateCandidate saves one judgment and returns the candidate as stored.
func (c *Client) UpdateCandidate(ctx context.Context, id int64, j judgment.Judgment) (*judgment.Candidate, error) {
	var candidate judgment.Candidate
	if err := c.put(ctx, fmt.Sprintf("/evaluation/candidates/%d", id), j, &candidate); err != nil {
		return nil, err
	}
	return &candidate, nil
}

func (c *Client) ListReports(ctx context.Context) ([]report.Report, error) {
	var reports []report.Report
	if err := c.get(ctx, "/evaluation/reports", &reports); err != nil {
		return nil, err
	}
	return reports, nil
}

func (c *Client) GetReport(ctx context.Context, id int64) (*report.Report, error) {
	var r report.Report
	if err := c.get(ctx, fmt.Sprintf("/evaluation/reports/%d", id), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// GetReports fetches several reports concurrently. The result keeps the order of ids;
// the first failure cancels the remaining fetches.
func (c *Client) GetReports(ctx context.Context, ids ...int64) ([]*report.Report, error) {
	reports := make([]*report.Report, len(ids))

	g, ctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		g.Go(func() error {
			r, err := c.GetReport(ctx, id)
			if err != nil {
				return fmt.Errorf("failed to get report %d: %w", id, err)
			}
			reports[i] = r
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}

func (c *Client) DeleteReport(ctx context.Context, id int64) error {
	return c.delete(ctx, fmt.Sprintf("/evaluation/reports/%d", id))
}
