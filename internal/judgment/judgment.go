// Package judgment holds the relevance judgment model for evaluation candidates and the
// store that mutates judgments one candidate at a time.
package judgment

import (
	"github.com/nadmax/searcheval/internal/evaluation"
)

const (
	GradeNeedsReview    = -1
	GradeIrrelevant     = 0
	GradeRelevant       = 1
	GradeHighlyRelevant = 2
)

const (
	DefaultConfidence   = 1.0
	ReviewConfidenceBar = 0.8
)

// Query is the server-owned read model of an evaluation query. Its counters are
// snapshots and are never recomputed locally.
type Query struct {
	ID               int64  `json:"id"`
	Text             string `json:"query"`
	DocumentCount    int    `json:"documentCount"`
	CorrectCount     int    `json:"correctCount"`
	IncorrectCount   int    `json:"incorrectCount"`
	UnevaluatedCount int    `json:"unevaluatedCount"`
}

// Candidate is one (query, product) pair under judgment.
type Candidate struct {
	ID               int64    `json:"id"`
	QueryID          int64    `json:"queryId"`
	ProductID        string   `json:"productId"`
	ProductName      string   `json:"productName,omitempty"`
	ProductSpecs     string   `json:"productSpecs,omitempty"`
	RelevanceScore   *int     `json:"relevanceScore"`
	Confidence       *float64 `json:"confidence,omitempty"`
	EvaluationReason string   `json:"evaluationReason,omitempty"`
}

// Judgment is the update contract shared by manual review and LLM batch judgment.
type Judgment struct {
	RelevanceScore   int     `json:"relevanceScore" validate:"oneof=-1 0 1 2"`
	EvaluationReason string  `json:"evaluationReason" validate:"max=2000"`
	Confidence       float64 `json:"confidence" validate:"gte=0,lte=1"`
}

// Manual builds a judgment made by a human reviewer, which is fully confident.
func Manual(score int, reason string) Judgment {
	return Judgment{
		RelevanceScore:   score,
		EvaluationReason: reason,
		Confidence:       DefaultConfidence,
	}
}

func (c Candidate) IsGraded() bool {
	return c.RelevanceScore != nil
}

// ConfidenceValue returns the judgment confidence, 1.0 when the backend sent none.
func (c Candidate) ConfidenceValue() float64 {
	if c.Confidence == nil {
		return DefaultConfidence
	}
	return *c.Confidence
}

// NeedsReview is true exactly when the candidate is graded -1 with confidence at or
// below 0.8.
func (c Candidate) NeedsReview() bool {
	return IsNeedsReview(c.RelevanceScore, c.ConfidenceValue())
}

func IsNeedsReview(score *int, confidence float64) bool {
	return score != nil && *score == GradeNeedsReview && confidence <= ReviewConfidenceBar
}

// Document returns the candidate's reference: structured when the candidate carries a
// name or specs, a bare identifier otherwise.
func (c Candidate) Document() evaluation.DocumentRef {
	if c.ProductName == "" && c.ProductSpecs == "" {
		return evaluation.Identifier(c.ProductID)
	}
	return evaluation.Detailed(evaluation.DetailedDocument{
		ProductID:    c.ProductID,
		ProductName:  c.ProductName,
		ProductSpecs: c.ProductSpecs,
	})
}

// Judged converts the candidate into metrics engine input.
func (c Candidate) Judged() evaluation.Judged {
	return evaluation.Judged{Document: c.Document(), Grade: c.RelevanceScore}
}

// FilterNeedsReview returns the candidates flagged for human review, in input order.
func FilterNeedsReview(candidates []Candidate) []Candidate {
	out := make([]Candidate, 0)
	for _, c := range candidates {
		if c.NeedsReview() {
			out = append(out, c)
		}
	}
	return out
}

// ToJudged converts a candidate list into metrics engine input.
func ToJudged(candidates []Candidate) []evaluation.Judged {
	out := make([]evaluation.Judged, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, c.Judged())
	}
	return out
}
