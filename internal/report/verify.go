package report

import (
	"fmt"
	"math"
)

// DefaultTolerance absorbs the rounding the backend applies to stored averages.
const DefaultTolerance = 0.001

// Verification is the outcome of recomputing a report's aggregates from its details.
type Verification struct {
	ReportID   int64   `json:"reportId"`
	ReportName string  `json:"reportName"`
	Mismatches []Delta `json:"mismatches"`
}

func (v Verification) OK() bool {
	return len(v.Mismatches) == 0
}

// Verify rebuilds r from its detailed results and lists the metrics whose stored value
// differs from the recomputed one by more than tolerance. Change is recomputed minus
// stored. Unreadable details are an error since there is nothing to check against.
func Verify(r *Report, tolerance float64) (Verification, error) {
	result := ParseDetails(r)
	if !result.Success {
		return Verification{}, fmt.Errorf("cannot verify report: %s", result.Error)
	}

	rebuilt, err := Assemble(r.ReportName, result.Details, Options{ID: r.ID, CreatedAt: r.CreatedAt.Time})
	if err != nil {
		return Verification{}, err
	}

	v := Verification{ReportID: r.ID, ReportName: r.ReportName, Mismatches: []Delta{}}
	for _, d := range Compare(r, rebuilt).Deltas {
		if math.Abs(d.Change) > tolerance {
			v.Mismatches = append(v.Mismatches, d)
		}
	}
	return v, nil
}
