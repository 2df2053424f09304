// Package evaluation computes retrieval quality metrics from graded relevance
// judgments: per-query precision, recall, F1 and nDCG, and report-level aggregates.
package evaluation

import (
	"math"
	"sort"
)

// RelevantThreshold is the lowest grade that counts as relevant for precision and
// recall.
const RelevantThreshold = 1

// NDCGCutoff is the rank cutoff of the nDCG@20 variant.
const NDCGCutoff = 20

// IsRelevant applies the strict relevance predicate used by precision and recall.
// Ungraded and needs-review documents are not relevant.
func IsRelevant(grade *int) bool {
	return grade != nil && *grade >= RelevantThreshold
}

// Ratio divides and returns 0 for a zero denominator.
func Ratio(numerator, denominator int) float64 {
	if denominator == 0 {
		return 0
	}
	return float64(numerator) / float64(denominator)
}

// F1 returns the harmonic mean of precision and recall, 0 when both are 0.
func F1(precision, recall float64) float64 {
	if precision+recall == 0 {
		return 0
	}
	return 2 * precision * recall / (precision + recall)
}

// EvaluateQuery scores one query.
//
// relevantCount counts judged-relevant documents whether or not they were retrieved,
// retrievedCount counts distinct retrieved identifiers, and correctCount counts the
// retrieved documents that are judged relevant. Missing documents are relevant but not
// retrieved; wrong documents are retrieved and judged but not relevant. Both keep the
// reference shape of the judgment they came from.
func EvaluateQuery(in QueryInput) QueryDetail {
	judged := make(map[string]Judged, len(in.Judgments))
	order := make([]string, 0, len(in.Judgments))
	for _, j := range in.Judgments {
		id := j.Document.ID()
		if _, seen := judged[id]; !seen {
			order = append(order, id)
		}
		judged[id] = j
	}

	retrieved := dedupe(in.Retrieved)
	retrievedSet := make(map[string]bool, len(retrieved))
	for _, id := range retrieved {
		retrievedSet[id] = true
	}

	detail := QueryDetail{
		Query:            in.Query,
		RetrievedCount:   len(retrieved),
		MissingDocuments: []DocumentRef{},
		WrongDocuments:   []DocumentRef{},
	}

	for _, id := range order {
		j := judged[id]
		if !IsRelevant(j.Grade) {
			continue
		}
		detail.RelevantCount++
		if retrievedSet[id] {
			detail.CorrectCount++
		} else {
			detail.MissingDocuments = append(detail.MissingDocuments, j.Document)
		}
	}

	grades := make([]int, 0, len(retrieved))
	for _, id := range retrieved {
		j, ok := judged[id]
		grades = append(grades, rankingGrade(j.Grade))
		if ok && j.Grade != nil && !IsRelevant(j.Grade) {
			detail.WrongDocuments = append(detail.WrongDocuments, j.Document)
		}
	}

	detail.Precision = Ratio(detail.CorrectCount, detail.RetrievedCount)
	detail.Recall = Ratio(detail.CorrectCount, detail.RelevantCount)
	detail.F1Score = F1(detail.Precision, detail.Recall)

	ndcg := NDCG(grades, 0)
	ndcg20 := NDCG(grades, NDCGCutoff)
	detail.NDCG = &ndcg
	detail.NDCG20 = &ndcg20

	return detail
}

// Aggregate folds per-query details into report totals. Averages are arithmetic means
// over every query, including queries with nothing relevant and nothing retrieved.
// Counts are sums. nDCG averages are present only if at least one query carries nDCG;
// queries without it contribute 0.
func Aggregate(details []QueryDetail) Summary {
	summary := Summary{TotalQueries: len(details)}
	if len(details) == 0 {
		return summary
	}

	var ndcgSum, ndcg20Sum float64
	var hasNDCG, hasNDCG20 bool

	for _, d := range details {
		summary.AveragePrecision += d.Precision
		summary.AverageRecall += d.Recall
		summary.AverageF1Score += d.F1Score
		summary.TotalRelevantDocuments += d.RelevantCount
		summary.TotalRetrievedDocuments += d.RetrievedCount
		summary.TotalCorrectDocuments += d.CorrectCount

		if d.NDCG != nil {
			hasNDCG = true
			ndcgSum += *d.NDCG
		}
		if d.NDCG20 != nil {
			hasNDCG20 = true
			ndcg20Sum += *d.NDCG20
		}
	}

	n := float64(len(details))
	summary.AveragePrecision /= n
	summary.AverageRecall /= n
	summary.AverageF1Score /= n

	if hasNDCG {
		avg := ndcgSum / n
		summary.AverageNDCG = &avg
	}
	if hasNDCG20 {
		avg := ndcg20Sum / n
		summary.AverageNDCG20 = &avg
	}

	return summary
}

// NDCG calculates normalized discounted cumulative gain over grades given in rank
// order. The gain at rank r (1-based) is discounted by log2(r+1). k limits the ranking
// to its top k entries; k <= 0 uses the whole ranking. The ideal ranking is the same
// grades sorted descending and truncated the same way.
func NDCG(grades []int, k int) float64 {
	if k <= 0 || k > len(grades) {
		k = len(grades)
	}
	if k == 0 {
		return 0
	}

	ranked := make([]int, len(grades))
	for i, g := range grades {
		ranked[i] = clampGrade(g)
	}

	ideal := make([]int, len(ranked))
	copy(ideal, ranked)
	sort.Sort(sort.Reverse(sort.IntSlice(ideal)))

	idcg := dcg(ideal[:k])
	if idcg == 0 {
		return 0
	}
	return dcg(ranked[:k]) / idcg
}

func dcg(grades []int) float64 {
	var sum float64
	for i, g := range grades {
		sum += float64(g) / math.Log2(float64(i+2))
	}
	return sum
}

// rankingGrade maps a judgment onto the 0..2 gain scale. Needs-review and ungraded
// documents count as 0 for ranking only.
func rankingGrade(grade *int) int {
	if grade == nil {
		return 0
	}
	return clampGrade(*grade)
}

func clampGrade(g int) int {
	if g < 0 {
		return 0
	}
	return g
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
