// Package report assembles evaluation reports from per-query details and reads them back
// defensively. Reports are immutable once created.
package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nadmax/searcheval/internal/evaluation"
	"github.com/nadmax/searcheval/internal/metrics"
)

var ErrNoDetails = errors.New("report has no detailed results")

// Report is an immutable evaluation report. DetailedResults holds the serialized
// per-query details and is only decoded by ParseDetails.
type Report struct {
	ID         int64     `json:"id"`
	ReportName string    `json:"reportName"`
	CreatedAt  Timestamp `json:"createdAt"`
	evaluation.Summary
	DetailedResults RawDetails `json:"detailedResults"`
}

// RawDetails is the opaque detailedResults payload. The API sends a JSON-encoded string;
// any other JSON value is kept verbatim so the report itself still decodes.
type RawDetails string

func (r *RawDetails) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*r = ""
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*r = RawDetails(s)
		return nil
	}

	*r = RawDetails(data)
	return nil
}

// Options tunes Assemble.
type Options struct {
	ID        int64
	CreatedAt time.Time
}

// ParseResult is the outcome of reading a report's detailed results. A failed parse is
// reported here, never as a panic or a returned error.
type ParseResult struct {
	Success bool                     `json:"success"`
	Details []evaluation.QueryDetail `json:"details"`
	Error   string                   `json:"error,omitempty"`
	Raw     string                   `json:"raw,omitempty"`
}

// Assemble builds a report from per-query details, computing the aggregates and
// serializing the details.
func Assemble(name string, details []evaluation.QueryDetail, opts Options) (*Report, error) {
	if details == nil {
		details = []evaluation.QueryDetail{}
	}

	data, err := json.Marshal(details)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize detailed results: %w", err)
	}

	createdAt := opts.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	return &Report{
		ID:              opts.ID,
		ReportName:      name,
		CreatedAt:       NewTimestamp(createdAt),
		Summary:         evaluation.Aggregate(details),
		DetailedResults: RawDetails(data),
	}, nil
}

// ParseDetails decodes the report's detailed results. Absent or malformed payloads give
// an unsuccessful result carrying the raw text.
func ParseDetails(r *Report) ParseResult {
	if r == nil {
		return failed(ErrNoDetails, "")
	}

	raw := string(r.DetailedResults)
	if strings.TrimSpace(raw) == "" {
		return failed(ErrNoDetails, raw)
	}

	var details []evaluation.QueryDetail
	if err := json.Unmarshal([]byte(raw), &details); err != nil {
		return failed(fmt.Errorf("malformed detailed results: %w", err), raw)
	}
	if details == nil {
		// A JSON null carries no breakdown, same as an absent payload.
		return failed(ErrNoDetails, raw)
	}

	return ParseResult{Success: true, Details: details}
}

func failed(err error, raw string) ParseResult {
	metrics.RecordReportParseFailure()
	return ParseResult{
		Success: false,
		Details: []evaluation.QueryDetail{},
		Error:   err.Error(),
		Raw:     raw,
	}
}

// AverageNDCG returns the report's nDCG@20 average when present and the uncut average
// otherwise.
func AverageNDCG(r *Report) (float64, bool) {
	if r == nil {
		return 0, false
	}
	if r.AverageNDCG20 != nil {
		return *r.AverageNDCG20, true
	}
	if r.AverageNDCG != nil {
		return *r.AverageNDCG, true
	}
	return 0, false
}
