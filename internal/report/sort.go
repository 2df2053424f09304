package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/nadmax/searcheval/internal/evaluation"
)

type SortKey string

const (
	SortByF1             SortKey = "f1"
	SortByPrecision      SortKey = "precision"
	SortByRecall         SortKey = "recall"
	SortByCorrectCount   SortKey = "correctCount"
	SortByRetrievedCount SortKey = "retrievedCount"
)

type Order string

const (
	Ascending  Order = "asc"
	Descending Order = "desc"
)

func ParseSortKey(s string) (SortKey, error) {
	switch strings.ToLower(s) {
	case "", "f1", "f1score":
		return SortByF1, nil
	case "precision":
		return SortByPrecision, nil
	case "recall":
		return SortByRecall, nil
	case "correctcount", "correct":
		return SortByCorrectCount, nil
	case "retrievedcount", "retrieved":
		return SortByRetrievedCount, nil
	default:
		return "", fmt.Errorf("unknown sort key %q", s)
	}
}

func ParseOrder(s string) (Order, error) {
	switch strings.ToLower(s) {
	case "", "desc":
		return Descending, nil
	case "asc":
		return Ascending, nil
	default:
		return "", fmt.Errorf("unknown sort order %q", s)
	}
}

// Sort returns a copy of details ordered by key. Ties keep their input order.
func Sort(details []evaluation.QueryDetail, key SortKey, order Order) []evaluation.QueryDetail {
	out := make([]evaluation.QueryDetail, len(details))
	copy(out, details)

	value := sortValue(key)
	sort.SliceStable(out, func(i, j int) bool {
		if order == Ascending {
			return value(out[i]) < value(out[j])
		}
		return value(out[i]) > value(out[j])
	})

	return out
}

func sortValue(key SortKey) func(evaluation.QueryDetail) float64 {
	switch key {
	case SortByPrecision:
		return func(d evaluation.QueryDetail) float64 { return d.Precision }
	case SortByRecall:
		return func(d evaluation.QueryDetail) float64 { return d.Recall }
	case SortByCorrectCount:
		return func(d evaluation.QueryDetail) float64 { return float64(d.CorrectCount) }
	case SortByRetrievedCount:
		return func(d evaluation.QueryDetail) float64 { return float64(d.RetrievedCount) }
	default:
		return func(d evaluation.QueryDetail) float64 { return d.F1Score }
	}
}

// FilterWithIssues returns the details that have missing or wrong documents.
func FilterWithIssues(details []evaluation.QueryDetail) []evaluation.QueryDetail {
	out := make([]evaluation.QueryDetail, 0)
	for _, d := range details {
		if d.HasIssues() {
			out = append(out, d)
		}
	}
	return out
}
