package evaluation

// Judged is one graded document for a query. A nil Grade means the document has not
// been judged yet.
type Judged struct {
	Document DocumentRef
	Grade    *int
}

// QueryInput is everything needed to score one query: its judgments and the ranked
// identifiers the search system returned for it.
type QueryInput struct {
	Query     string
	Judgments []Judged
	Retrieved []string
}

// QueryDetail contains metrics for a single query. It is also the element type of a
// report's serialized detailedResults.
type QueryDetail struct {
	Query            string        `json:"query"`
	Precision        float64       `json:"precision"`
	Recall           float64       `json:"recall"`
	F1Score          float64       `json:"f1Score"`
	NDCG             *float64      `json:"ndcg,omitempty"`
	NDCG20           *float64      `json:"ndcg@20,omitempty"`
	RelevantCount    int           `json:"relevantCount"`
	RetrievedCount   int           `json:"retrievedCount"`
	CorrectCount     int           `json:"correctCount"`
	MissingDocuments []DocumentRef `json:"missingDocuments"`
	WrongDocuments   []DocumentRef `json:"wrongDocuments"`
}

// HasIssues reports whether the query has missing or wrong documents.
func (d QueryDetail) HasIssues() bool {
	return len(d.MissingDocuments) > 0 || len(d.WrongDocuments) > 0
}

// Summary aggregates metrics across queries.
type Summary struct {
	TotalQueries            int      `json:"totalQueries"`
	AveragePrecision        float64  `json:"averagePrecision"`
	AverageRecall           float64  `json:"averageRecall"`
	AverageF1Score          float64  `json:"averageF1Score"`
	AverageNDCG             *float64 `json:"averageNdcg,omitempty"`
	AverageNDCG20           *float64 `json:"averageNdcg@20,omitempty"`
	TotalRelevantDocuments  int      `json:"totalRelevantDocuments"`
	TotalRetrievedDocuments int      `json:"totalRetrievedDocuments"`
	TotalCorrectDocuments   int      `json:"totalCorrectDocuments"`
}
