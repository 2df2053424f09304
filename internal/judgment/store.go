package judgment

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/go-playground/validator/v10"
	"github.com/nadmax/searcheval/internal/logger"
	"github.com/nadmax/searcheval/internal/metrics"
)

var (
	ErrInvalidJudgment = errors.New("invalid judgment")
	ErrEmptyResponse   = errors.New("backend returned no candidate")
)

// UpdateError reports a failed mutation of a single candidate. It never affects other
// candidates.
type UpdateError struct {
	CandidateID int64
	Err         error
}

func (e *UpdateError) Error() string {
	return fmt.Sprintf("failed to update candidate %d: %v", e.CandidateID, e.Err)
}

func (e *UpdateError) Unwrap() error {
	return e.Err
}

// RefreshError reports that a judgment was saved but the query counters could not be
// reloaded afterwards.
type RefreshError struct {
	QueryID int64
	Err     error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("failed to refresh counters for query %d: %v", e.QueryID, e.Err)
}

func (e *RefreshError) Unwrap() error {
	return e.Err
}

// Backend is the subset of the evaluation API the store relies on.
type Backend interface {
	UpdateCandidate(ctx context.Context, id int64, j Judgment) (*Candidate, error)
	GetQuery(ctx context.Context, id int64) (*Query, error)
	ListCandidates(ctx context.Context, queryID int64) ([]Candidate, error)
}

type Store struct {
	backend  Backend
	validate *validator.Validate
	log      *logger.Logger
}

// UpdateResult is the outcome of a single judgment update: the candidate as saved by
// the backend and the query counters reloaded after the save.
type UpdateResult struct {
	Candidate *Candidate
	Query     *Query
}

// BatchResult collects the outcome of applying many judgments.
type BatchResult struct {
	Updated []Candidate
	Failed  []*UpdateError
	Queries map[int64]*Query
	Refresh []*RefreshError
}

func NewStore(backend Backend, log *logger.Logger) *Store {
	if log == nil {
		log = logger.Default()
	}

	return &Store{
		backend:  backend,
		validate: validator.New(),
		log:      log,
	}
}

// Update saves one judgment and then reloads the owning query's counters from the
// backend. Counters are never patched locally. When the save succeeds but the reload
// fails, the result carries the saved candidate together with a *RefreshError.
func (s *Store) Update(ctx context.Context, candidateID int64, j Judgment) (*UpdateResult, error) {
	updated, err := s.save(ctx, candidateID, j)
	if err != nil {
		return nil, err
	}

	result := &UpdateResult{Candidate: updated}
	q, err := s.backend.GetQuery(ctx, updated.QueryID)
	if err != nil {
		return result, &RefreshError{QueryID: updated.QueryID, Err: err}
	}

	result.Query = q
	return result, nil
}

// ApplyBatch applies judgments one candidate at a time through the same contract as
// Update. A failing candidate does not stop the others. Every query touched by a
// successful update is reloaded once at the end.
func (s *Store) ApplyBatch(ctx context.Context, judgments map[int64]Judgment) *BatchResult {
	result := &BatchResult{Queries: make(map[int64]*Query)}

	ids := make([]int64, 0, len(judgments))
	for id := range judgments {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	touched := make(map[int64]bool)
	for _, id := range ids {
		if ctx.Err() != nil {
			result.Failed = append(result.Failed, &UpdateError{CandidateID: id, Err: ctx.Err()})
			continue
		}

		updated, err := s.save(ctx, id, judgments[id])
		if err != nil {
			var updateErr *UpdateError
			if errors.As(err, &updateErr) {
				result.Failed = append(result.Failed, updateErr)
			}
			continue
		}

		result.Updated = append(result.Updated, *updated)
		touched[updated.QueryID] = true
	}

	queryIDs := make([]int64, 0, len(touched))
	for id := range touched {
		queryIDs = append(queryIDs, id)
	}
	sort.Slice(queryIDs, func(i, j int) bool { return queryIDs[i] < queryIDs[j] })

	for _, qid := range queryIDs {
		q, err := s.backend.GetQuery(ctx, qid)
		if err != nil {
			result.Refresh = append(result.Refresh, &RefreshError{QueryID: qid, Err: err})
			continue
		}
		result.Queries[qid] = q
	}

	s.log.Info("applied judgment batch",
		"updated", len(result.Updated),
		"failed", len(result.Failed),
		"queries_refreshed", len(result.Queries))

	return result
}

// Candidates loads the current judgments for a query.
func (s *Store) Candidates(ctx context.Context, queryID int64) ([]Candidate, error) {
	candidates, err := s.backend.ListCandidates(ctx, queryID)
	if err != nil {
		return nil, fmt.Errorf("failed to list candidates for query %d: %w", queryID, err)
	}
	return candidates, nil
}

// ReviewQueue loads the candidates of a query that need human review.
func (s *Store) ReviewQueue(ctx context.Context, queryID int64) ([]Candidate, error) {
	candidates, err := s.Candidates(ctx, queryID)
	if err != nil {
		return nil, err
	}
	return FilterNeedsReview(candidates), nil
}

func (s *Store) save(ctx context.Context, candidateID int64, j Judgment) (*Candidate, error) {
	if err := s.validate.Struct(j); err != nil {
		metrics.RecordJudgmentUpdate("invalid")
		return nil, &UpdateError{CandidateID: candidateID, Err: fmt.Errorf("%w: %v", ErrInvalidJudgment, err)}
	}

	updated, err := s.backend.UpdateCandidate(ctx, candidateID, j)
	if err == nil && updated == nil {
		err = ErrEmptyResponse
	}
	if err != nil {
		metrics.RecordJudgmentUpdate("error")
		s.log.WithError(err).Warn("judgment update failed", "candidate_id", candidateID)
		return nil, &UpdateError{CandidateID: candidateID, Err: err}
	}

	metrics.RecordJudgmentUpdate("ok")
	return updated, nil
}
