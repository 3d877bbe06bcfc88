package county

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/agrc/broadband-speedtest-skid/internal/model"
)

// Summarize counts records per county attribution and inner-joins the
// counts against the household reference by exact name. Counties present on
// only one side produce no row: a reference county with zero tests is
// omitted rather than reported as zero. Records are counted as-is; dedup
// against already-uploaded data happens upstream.
//
// percent_response is tests/households as a plain float ratio. A zero
// household count yields +Inf, which is logged and passed through rather
// than coerced. An unparseable household count fails the whole run.
func Summarize(reference []model.HouseholdRow, records []model.SpeedRecord, logger *zap.Logger) ([]model.CountySummary, error) {
	counts := make(map[string]int)
	for _, r := range records {
		if r.County == "" {
			continue
		}
		counts[r.County]++
	}

	var summaries []model.CountySummary
	for _, ref := range reference {
		tests, ok := counts[ref.Name]
		if !ok {
			continue
		}

		households, err := strconv.Atoi(strings.TrimSpace(ref.TotalHouseholds))
		if err != nil {
			return nil, eris.Wrapf(err, "county: household count %q for %s is not an integer", ref.TotalHouseholds, ref.Name)
		}

		percent := float64(tests) / float64(households)
		if households == 0 {
			logger.Warn("county: zero household count, response rate is not finite",
				zap.String("county", ref.Name),
				zap.Int("tests", tests),
			)
		}

		summaries = append(summaries, model.CountySummary{
			Name:            ref.Name,
			Tests:           tests,
			TotalHouseholds: households,
			PercentResponse: percent,
		})
	}
	return summaries, nil
}

// MergeLive applies new summaries onto the live county rows by exact name
// match and returns only the rows that had a matching summary, ready for
// an attribute-only update. Live rows without a new summary are untouched;
// summaries without a live row are dropped.
func MergeLive(live []model.LiveCounty, summaries []model.CountySummary) []model.LiveCounty {
	byName := make(map[string]model.CountySummary, len(summaries))
	for _, s := range summaries {
		byName[s.Name] = s
	}

	var merged []model.LiveCounty
	for _, row := range live {
		s, ok := byName[row.Name]
		if !ok {
			continue
		}
		row.Tests = s.Tests
		row.TotalHouseholds = s.TotalHouseholds
		row.PercentResponse = s.PercentResponse
		merged = append(merged, row)
	}
	return merged
}
