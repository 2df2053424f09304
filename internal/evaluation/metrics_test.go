package evaluation

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func grade(g int) *int {
	return &g
}

func bare(id string, g *int) Judged {
	return Judged{Document: Identifier(id), Grade: g}
}

func TestRatio(t *testing.T) {
	assert.Equal(t, 0.0, Ratio(0, 0))
	assert.Equal(t, 0.0, Ratio(3, 0))
	assert.Equal(t, 0.75, Ratio(3, 4))
}

func TestF1(t *testing.T) {
	assert.Equal(t, 0.0, F1(0, 0))
	assert.Equal(t, 1.0, F1(1, 1))
	assert.InDelta(t, 2.0/3.0, F1(0.75, 0.6), 1e-9)
}

func TestIsRelevant(t *testing.T) {
	assert.False(t, IsRelevant(nil))
	assert.False(t, IsRelevant(grade(-1)))
	assert.False(t, IsRelevant(grade(0)))
	assert.True(t, IsRelevant(grade(1)))
	assert.True(t, IsRelevant(grade(2)))
}

func TestEvaluateQuery_Scenario(t *testing.T) {
	in := QueryInput{
		Query: "wireless earbuds",
		Judgments: []Judged{
			bare("p1", grade(2)),
			bare("p2", grade(1)),
			bare("p3", grade(1)),
			Judged{Document: Detailed(DetailedDocument{ProductID: "p4", ProductName: "Buds Pro", ProductSpecs: "ANC"}), Grade: grade(2)},
			bare("p5", grade(1)),
			Judged{Document: Detailed(DetailedDocument{ProductID: "p6", ProductName: "Wired Headset"}), Grade: grade(0)},
		},
		Retrieved: []string{"p1", "p2", "p6", "p3"},
	}

	d := EvaluateQuery(in)

	assert.Equal(t, "wireless earbuds", d.Query)
	assert.Equal(t, 5, d.RelevantCount)
	assert.Equal(t, 4, d.RetrievedCount)
	assert.Equal(t, 3, d.CorrectCount)
	assert.Equal(t, 0.75, d.Precision)
	assert.InDelta(t, 0.6, d.Recall, 1e-9)
	assert.InDelta(t, 0.667, d.F1Score, 1e-3)

	require.Len(t, d.MissingDocuments, 2)
	assert.Equal(t, "p4", d.MissingDocuments[0].ID())
	assert.True(t, d.MissingDocuments[0].IsDetailed(), "structured shape is preserved")
	assert.Equal(t, "p5", d.MissingDocuments[1].ID())
	assert.False(t, d.MissingDocuments[1].IsDetailed(), "bare shape is preserved")

	require.Len(t, d.WrongDocuments, 1)
	doc, ok := d.WrongDocuments[0].Detailed()
	require.True(t, ok)
	assert.Equal(t, "Wired Headset", doc.ProductName)
	assert.True(t, d.HasIssues())
}

func TestEvaluateQuery_ZeroDenominators(t *testing.T) {
	tests := []struct {
		name string
		in   QueryInput
	}{
		{
			name: "nothing retrieved",
			in: QueryInput{
				Judgments: []Judged{bare("a", grade(2))},
			},
		},
		{
			name: "nothing relevant",
			in: QueryInput{
				Judgments: []Judged{bare("a", grade(0))},
				Retrieved: []string{"a"},
			},
		},
		{
			name: "nothing at all",
			in:   QueryInput{Query: "empty"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := EvaluateQuery(tt.in)

			assert.False(t, math.IsNaN(d.Precision))
			assert.False(t, math.IsNaN(d.Recall))
			assert.False(t, math.IsNaN(d.F1Score))
			if d.RetrievedCount == 0 {
				assert.Equal(t, 0.0, d.Precision)
			}
			if d.RelevantCount == 0 {
				assert.Equal(t, 0.0, d.Recall)
			}
			assert.Equal(t, 0.0, d.F1Score)
			require.NotNil(t, d.NDCG)
			assert.False(t, math.IsNaN(*d.NDCG))
		})
	}
}

func TestEvaluateQuery_PerfectRetrieval(t *testing.T) {
	for k := 1; k <= 5; k++ {
		t.Run(fmt.Sprintf("k=%d", k), func(t *testing.T) {
			in := QueryInput{}
			for i := 0; i < k; i++ {
				id := fmt.Sprintf("doc-%d", i)
				in.Judgments = append(in.Judgments, bare(id, grade(1)))
				in.Retrieved = append(in.Retrieved, id)
			}

			d := EvaluateQuery(in)

			assert.Equal(t, 1.0, d.Precision)
			assert.Equal(t, 1.0, d.Recall)
			assert.Equal(t, 1.0, d.F1Score)
			assert.False(t, d.HasIssues())
		})
	}
}

func TestEvaluateQuery_UnjudgedAndNeedsReview(t *testing.T) {
	in := QueryInput{
		Judgments: []Judged{
			bare("review", grade(-1)),
			bare("pending", nil),
			bare("good", grade(2)),
		},
		Retrieved: []string{"review", "pending", "unknown", "good"},
	}

	d := EvaluateQuery(in)

	assert.Equal(t, 1, d.RelevantCount)
	assert.Equal(t, 4, d.RetrievedCount)
	assert.Equal(t, 1, d.CorrectCount)
	assert.Equal(t, 0.25, d.Precision)
	assert.Equal(t, 1.0, d.Recall)

	require.Len(t, d.WrongDocuments, 1, "only judged documents can be wrong")
	assert.Equal(t, "review", d.WrongDocuments[0].ID())
	assert.Empty(t, d.MissingDocuments)
}

func TestEvaluateQuery_DuplicateRetrievedIDs(t *testing.T) {
	in := QueryInput{
		Judgments: []Judged{bare("a", grade(1))},
		Retrieved: []string{"a", "a", "b"},
	}

	d := EvaluateQuery(in)

	assert.Equal(t, 2, d.RetrievedCount)
	assert.Equal(t, 1, d.CorrectCount)
}

func TestNDCG(t *testing.T) {
	tests := []struct {
		name     string
		grades   []int
		k        int
		expected float64
	}{
		{name: "empty", grades: nil, k: 0, expected: 0},
		{name: "ideal order", grades: []int{2, 1, 0}, k: 0, expected: 1},
		{name: "all zero", grades: []int{0, 0, 0}, k: 0, expected: 0},
		{
			name:     "reversed order",
			grades:   []int{0, 1, 2},
			k:        0,
			expected: (1/math.Log2(3) + 2/math.Log2(4)) / (2 + 1/math.Log2(3)),
		},
		{
			name:     "needs review counts as zero",
			grades:   []int{-1, 2},
			k:        0,
			expected: (2 / math.Log2(3)) / 2,
		},
		{name: "cutoff larger than list", grades: []int{2, 1}, k: 20, expected: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, NDCG(tt.grades, tt.k), 1e-9)
		})
	}
}

func TestNDCG_CutoffTruncatesRanking(t *testing.T) {
	grades := make([]int, 25)
	grades[20] = 1

	assert.Equal(t, 0.0, NDCG(grades, NDCGCutoff))
	assert.InDelta(t, 1/math.Log2(22), NDCG(grades, 0), 1e-9)
}

func TestNDCG_DoesNotMutateInput(t *testing.T) {
	grades := []int{0, 2, -1, 1}
	NDCG(grades, 0)

	assert.Equal(t, []int{0, 2, -1, 1}, grades)
}

func TestAggregate(t *testing.T) {
	ndcgA, ndcgB := 0.8, 0.4
	details := []QueryDetail{
		{Precision: 0.75, Recall: 0.6, F1Score: 2.0 / 3.0, RelevantCount: 5, RetrievedCount: 4, CorrectCount: 3, NDCG: &ndcgA},
		{Precision: 0.5, Recall: 1, F1Score: 2.0 / 3.0, RelevantCount: 1, RetrievedCount: 2, CorrectCount: 1, NDCG: &ndcgB},
		{},
	}

	s := Aggregate(details)

	assert.Equal(t, 3, s.TotalQueries)
	assert.InDelta(t, 1.25/3, s.AveragePrecision, 1e-9)
	assert.InDelta(t, 1.6/3, s.AverageRecall, 1e-9)
	assert.InDelta(t, (4.0/3.0)/3, s.AverageF1Score, 1e-9)
	assert.Equal(t, 6, s.TotalRelevantDocuments)
	assert.Equal(t, 6, s.TotalRetrievedDocuments)
	assert.Equal(t, 4, s.TotalCorrectDocuments)

	require.NotNil(t, s.AverageNDCG)
	assert.InDelta(t, 1.2/3, *s.AverageNDCG, 1e-9, "zero-zero query still counts in the denominator")
	assert.Nil(t, s.AverageNDCG20)
}

func TestAggregate_Empty(t *testing.T) {
	s := Aggregate(nil)

	assert.Equal(t, 0, s.TotalQueries)
	assert.Equal(t, 0.0, s.AveragePrecision)
	assert.Nil(t, s.AverageNDCG)
}
