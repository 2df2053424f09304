package report

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerify_Consistent(t *testing.T) {
	r, err := Assemble("baseline", sampleDetails(), Options{ID: 3, CreatedAt: time.Now()})
	require.NoError(t, err)

	v, err := Verify(r, DefaultTolerance)

	require.NoError(t, err)
	assert.True(t, v.OK())
	assert.Equal(t, int64(3), v.ReportID)
	assert.NotNil(t, v.Mismatches)
}

func TestVerify_ReportsDrift(t *testing.T) {
	r, err := Assemble("baseline", sampleDetails(), Options{ID: 3})
	require.NoError(t, err)
	stored := r.AverageF1Score
	r.AverageF1Score += 0.1
	r.TotalQueries = 5

	v, err := Verify(r, DefaultTolerance)

	require.NoError(t, err)
	assert.False(t, v.OK())
	require.Len(t, v.Mismatches, 2)
	assert.Equal(t, "averageF1Score", v.Mismatches[0].Metric)
	assert.InDelta(t, stored, v.Mismatches[0].Target, 1e-9)
	assert.InDelta(t, -0.1, v.Mismatches[0].Change, 1e-9)
	assert.Equal(t, "totalQueries", v.Mismatches[1].Metric)
	assert.Equal(t, 2.0, v.Mismatches[1].Target)
}

func TestVerify_WithinTolerance(t *testing.T) {
	r, err := Assemble("baseline", sampleDetails(), Options{ID: 3})
	require.NoError(t, err)
	r.AveragePrecision += 0.0004

	v, err := Verify(r, DefaultTolerance)

	require.NoError(t, err)
	assert.True(t, v.OK())
}

func TestVerify_UnreadableDetails(t *testing.T) {
	_, err := Verify(&Report{ID: 4, DetailedResults: "not json"}, DefaultTolerance)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed detailed results")

	_, err = Verify(nil, DefaultTolerance)
	assert.ErrorContains(t, err, ErrNoDetails.Error())
}
