package report

// Delta is the change of one metric between a base and a target report.
type Delta struct {
	Metric string  `json:"metric"`
	Base   float64 `json:"base"`
	Target float64 `json:"target"`
	Change float64 `json:"change"`
}

type Comparison struct {
	BaseID   int64   `json:"baseId"`
	BaseName string  `json:"baseName"`
	TargetID int64   `json:"targetId"`
	Target   string  `json:"targetName"`
	Deltas   []Delta `json:"deltas"`
}

// Compare lists per-metric changes from base to target. nDCG is included only when
// both reports carry it.
func Compare(base, target *Report) Comparison {
	c := Comparison{
		BaseID:   base.ID,
		BaseName: base.ReportName,
		TargetID: target.ID,
		Target:   target.ReportName,
	}

	add := func(metric string, b, t float64) {
		c.Deltas = append(c.Deltas, Delta{Metric: metric, Base: b, Target: t, Change: t - b})
	}

	add("averagePrecision", base.AveragePrecision, target.AveragePrecision)
	add("averageRecall", base.AverageRecall, target.AverageRecall)
	add("averageF1Score", base.AverageF1Score, target.AverageF1Score)

	if b, ok := AverageNDCG(base); ok {
		if t, ok := AverageNDCG(target); ok {
			add("averageNdcg", b, t)
		}
	}

	add("totalQueries", float64(base.TotalQueries), float64(target.TotalQueries))
	add("totalRelevantDocuments", float64(base.TotalRelevantDocuments), float64(target.TotalRelevantDocuments))
	add("totalRetrievedDocuments", float64(base.TotalRetrievedDocuments), float64(target.TotalRetrievedDocuments))
	add("totalCorrectDocuments", float64(base.TotalCorrectDocuments), float64(target.TotalCorrectDocuments))

	return c
}
