package report

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/nadmax/searcheval/internal/evaluation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDetails() []evaluation.QueryDetail {
	return []evaluation.QueryDetail{
		evaluation.EvaluateQuery(evaluation.QueryInput{
			Query: "desk lamp",
			Judgments: []evaluation.Judged{
				{Document: evaluation.Identifier("a"), Grade: intPtr(2)},
				{Document: evaluation.Detailed(evaluation.DetailedDocument{ProductID: "b", ProductName: "Floor Lamp"}), Grade: intPtr(1)},
				{Document: evaluation.Identifier("c"), Grade: intPtr(0)},
			},
			Retrieved: []string{"a", "c"},
		}),
		evaluation.EvaluateQuery(evaluation.QueryInput{
			Query:     "office chair",
			Judgments: []evaluation.Judged{{Document: evaluation.Identifier("x"), Grade: intPtr(1)}},
			Retrieved: []string{"x"},
		}),
	}
}

func intPtr(v int) *int {
	return &v
}

func TestAssemble_ParseRoundTrip(t *testing.T) {
	details := sampleDetails()
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	r, err := Assemble("baseline", details, Options{ID: 7, CreatedAt: created})
	require.NoError(t, err)

	assert.Equal(t, "baseline", r.ReportName)
	assert.Equal(t, 2, r.TotalQueries)
	assert.Equal(t, 3, r.TotalRelevantDocuments)
	assert.True(t, r.CreatedAt.Equal(created))

	result := ParseDetails(r)
	require.True(t, result.Success, result.Error)
	assert.Equal(t, details, result.Details)

	wrong := result.Details[0].WrongDocuments
	require.Len(t, wrong, 1)
	assert.False(t, wrong[0].IsDetailed())

	missing := result.Details[0].MissingDocuments
	require.Len(t, missing, 1)
	doc, ok := missing[0].Detailed()
	require.True(t, ok, "structured documents survive serialization")
	assert.Equal(t, "Floor Lamp", doc.ProductName)
}

func TestReport_JSONRoundTrip(t *testing.T) {
	r, err := Assemble("nightly", sampleDetails(), Options{ID: 3})
	require.NoError(t, err)

	data, err := json.Marshal(r)
	require.NoError(t, err)

	var decoded Report
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, r.ReportName, decoded.ReportName)
	assert.Equal(t, r.Summary.TotalCorrectDocuments, decoded.TotalCorrectDocuments)
	assert.Equal(t, ParseDetails(r).Details, ParseDetails(&decoded).Details)
}

func TestParseDetails_Malformed(t *testing.T) {
	tests := []struct {
		name string
		raw  RawDetails
	}{
		{name: "absent", raw: ""},
		{name: "whitespace", raw: "   "},
		{name: "truncated", raw: `[{"query":"a","precision":`},
		{name: "not an array", raw: `{"query":"a"}`},
		{name: "garbage", raw: "not json"},
		{name: "null literal", raw: "null"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var result ParseResult
			require.NotPanics(t, func() {
				result = ParseDetails(&Report{DetailedResults: tt.raw})
			})

			assert.False(t, result.Success)
			assert.NotEmpty(t, result.Error)
			assert.NotNil(t, result.Details)
			assert.Empty(t, result.Details)
			assert.Equal(t, string(tt.raw), result.Raw)
		})
	}
}

func TestParseDetails_NilReport(t *testing.T) {
	result := ParseDetails(nil)

	assert.False(t, result.Success)
	assert.Equal(t, ErrNoDetails.Error(), result.Error)
}

func TestReport_UnmarshalFromAPI(t *testing.T) {
	payload := `{
		"id": 12,
		"reportName": "v2 ranking",
		"createdAt": "2026-02-14T09:30:00",
		"averagePrecision": 0.5,
		"averageRecall": 0.25,
		"averageF1Score": 0.33,
		"averageNdcg": 0.6,
		"totalQueries": 4,
		"totalRelevantDocuments": 8,
		"totalRetrievedDocuments": 6,
		"totalCorrectDocuments": 3,
		"detailedResults": "[{\"query\":\"q\",\"precision\":1,\"recall\":1,\"f1Score\":1,\"relevantCount\":1,\"retrievedCount\":1,\"correctCount\":1,\"missingDocuments\":[],\"wrongDocuments\":[{\"productId\":\"p\",\"productName\":\"Pen\"}]}]"
	}`

	var r Report
	require.NoError(t, json.Unmarshal([]byte(payload), &r))

	assert.Equal(t, int64(12), r.ID)
	assert.Equal(t, time.Date(2026, 2, 14, 9, 30, 0, 0, time.UTC), r.CreatedAt.Time)
	assert.Equal(t, 4, r.TotalQueries)

	result := ParseDetails(&r)
	require.True(t, result.Success, result.Error)
	require.Len(t, result.Details, 1)
	assert.True(t, result.Details[0].WrongDocuments[0].IsDetailed())
}

func TestReport_UnmarshalNonStringDetails(t *testing.T) {
	var r Report
	require.NoError(t, json.Unmarshal([]byte(`{"id":1,"detailedResults":[{"query":"inline"}]}`), &r))

	result := ParseDetails(&r)
	require.True(t, result.Success)
	assert.Equal(t, "inline", result.Details[0].Query)
}

func TestAverageNDCG(t *testing.T) {
	plain, cut := 0.4, 0.7

	v, ok := AverageNDCG(&Report{Summary: evaluation.Summary{AverageNDCG: &plain, AverageNDCG20: &cut}})
	assert.True(t, ok)
	assert.Equal(t, 0.7, v)

	v, ok = AverageNDCG(&Report{Summary: evaluation.Summary{AverageNDCG: &plain}})
	assert.True(t, ok)
	assert.Equal(t, 0.4, v)

	_, ok = AverageNDCG(&Report{})
	assert.False(t, ok)
}

func TestParseDetails_NullIsAbsent(t *testing.T) {
	result := ParseDetails(&Report{DetailedResults: "null"})

	assert.False(t, result.Success)
	assert.Equal(t, ErrNoDetails.Error(), result.Error)
	assert.Equal(t, "null", result.Raw)

	empty := ParseDetails(&Report{DetailedResults: "[]"})
	assert.True(t, empty.Success)
	assert.Empty(t, empty.Details)
}
