// Package classify tags speedtest records with a bandwidth tier.
package classify

import (
	"github.com/agrc/broadband-speedtest-skid/internal/model"
)

// Tier returns the bandwidth tier for a download/upload speed pair in Mbps.
// The rules overlap, so they are evaluated in order and the first match
// wins:
//
//  1. above-100-20: dl >= 100 and ul >= 20
//  2. between-100-20-and-25-3: dl >= 100 with 3 <= ul < 20, or
//     ul >= 3 with 20 <= dl < 100
//  3. under-25-3: dl < 25 or ul < 3
//
// Anything else, including NaN speeds from missing or malformed source
// values, is not-applicable. NaN compares false against every threshold,
// so no special casing is needed.
func Tier(dl, ul float64) string {
	switch {
	case dl >= 100 && ul >= 20:
		return model.TierAbove100_20
	case (dl >= 100 && ul < 20 && ul >= 3) || (ul >= 3 && dl < 100 && dl >= 20):
		return model.TierBetween
	case dl < 25 || ul < 3:
		return model.TierUnder25_3
	default:
		return model.TierNotApplicable
	}
}

// Records sets the Classification tag on every record in place. Each record
// is classified independently; the batch result matches per-record calls.
func Records(records []model.SpeedRecord) {
	for i := range records {
		records[i].Classification = Tier(records[i].Download, records[i].Upload)
	}
}
