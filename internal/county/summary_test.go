package county

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/agrc/broadband-speedtest-skid/internal/model"
)

func testsIn(county string, n int) []model.SpeedRecord {
	records := make([]model.SpeedRecord, n)
	for i := range records {
		records[i] = model.SpeedRecord{ID: int64(i), County: county}
	}
	return records
}

func TestSummarize(t *testing.T) {
	reference := []model.HouseholdRow{
		{Name: "Weber County", FIPS: "49057", TotalHouseholds: "10"},
		{Name: "Utah County", FIPS: "49049", TotalHouseholds: "20"},
	}
	records := append(testsIn("Weber County", 2), testsIn("Utah County", 2)...)

	summaries, err := Summarize(reference, records, zap.NewNop())
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	assert.Equal(t, "Weber County", summaries[0].Name)
	assert.Equal(t, 2, summaries[0].Tests)
	assert.Equal(t, 10, summaries[0].TotalHouseholds)
	assert.InDelta(t, 0.2, summaries[0].PercentResponse, 1e-12)

	assert.Equal(t, "Utah County", summaries[1].Name)
	assert.Equal(t, 2, summaries[1].Tests)
	assert.InDelta(t, 0.1, summaries[1].PercentResponse, 1e-12)
}

func TestSummarizeInnerJoin(t *testing.T) {
	reference := []model.HouseholdRow{
		{Name: "Weber County", TotalHouseholds: "10"},
		{Name: "Kane County", TotalHouseholds: "5000"}, // zero tests
	}
	// Daggett has tests but no reference row.
	records := append(testsIn("Weber County", 3), testsIn("Daggett County", 1)...)

	summaries, err := Summarize(reference, records, zap.NewNop())
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, "Weber County", summaries[0].Name)
	assert.Equal(t, 3, summaries[0].Tests)
}

func TestSummarizeCountsEveryRecord(t *testing.T) {
	// Duplicate ids are not deduplicated here; that happens upstream
	// against the live layer.
	reference := []model.HouseholdRow{{Name: "Weber County", TotalHouseholds: "10"}}
	records := []model.SpeedRecord{
		{ID: 7, County: "Weber County"},
		{ID: 7, County: "Weber County"},
		{ID: 0, County: ""}, // unattributed, ignored
	}

	summaries, err := Summarize(reference, records, zap.NewNop())
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, 2, summaries[0].Tests)
}

func TestSummarizeZeroHouseholds(t *testing.T) {
	reference := []model.HouseholdRow{{Name: "Daggett County", TotalHouseholds: "0"}}
	records := testsIn("Daggett County", 4)

	summaries, err := Summarize(reference, records, zap.NewNop())
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.True(t, math.IsInf(summaries[0].PercentResponse, 1))
}

func TestSummarizeBadHouseholdCount(t *testing.T) {
	reference := []model.HouseholdRow{{Name: "Weber County", TotalHouseholds: "N/A"}}
	records := testsIn("Weber County", 1)

	_, err := Summarize(reference, records, zap.NewNop())
	assert.Error(t, err)
}

func TestMergeLive(t *testing.T) {
	live := []model.LiveCounty{
		{ObjectID: 1, Name: "Weber County", Tests: 5, TotalHouseholds: 87000, PercentResponse: 0.001},
		{ObjectID: 2, Name: "Utah County", Tests: 9},
		{ObjectID: 3, Name: "Kane County", Tests: 1},
	}
	summaries := []model.CountySummary{
		{Name: "Weber County", Tests: 12, TotalHouseholds: 87802, PercentResponse: 12.0 / 87802},
		{Name: "Iron County", Tests: 3}, // no live row, dropped
	}

	merged := MergeLive(live, summaries)
	require.Len(t, merged, 1)

	assert.Equal(t, int64(1), merged[0].ObjectID)
	assert.Equal(t, 12, merged[0].Tests)
	assert.Equal(t, 87802, merged[0].TotalHouseholds)
	assert.InDelta(t, 12.0/87802, merged[0].PercentResponse, 1e-12)
}
