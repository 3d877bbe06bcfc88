package model

import (
	"github.com/twpayne/go-geom"
)

// Bandwidth tier tags attached to each speedtest record. Exactly one tag
// applies per record; see internal/classify for the precedence rules.
const (
	TierAbove100_20   = "above-100-20"
	TierBetween       = "between-100-20-and-25-3"
	TierUnder25_3     = "under-25-3"
	TierNotApplicable = "not-applicable"
)

// SpeedRecord is one submitted speedtest. Download and Upload are NaN when
// the source omitted or mangled the value; NaN fails every threshold
// comparison, so such records classify as not-applicable.
type SpeedRecord struct {
	ID        int64
	Download  float64
	Upload    float64
	Shape     *geom.Point // SRID tracks the current CRS
	ISPInfo   string
	County    string
	Timestamp string

	Classification string
	H3Keys         map[int]string

	// Submitter-identifying fields from the source feed. Never uploaded.
	Email    string
	IP       string
	Cost     string
	ASN      string
	Coop     string
	Tribal   string
	WouldPay string

	// Numeric census/carrier columns, kept as reported and uploaded as
	// floats.
	BlockID string
	MNC     string
	MCC     string
	Repeats string
}

// HouseholdRow is one normalized county row from the Census reference data.
// TotalHouseholds stays as reported; the aggregator parses it and fails the
// run if it isn't an integer.
type HouseholdRow struct {
	Name            string
	FIPS            string
	TotalHouseholds string
}

// CountySummary is the per-county response-rate aggregate. PercentResponse
// is tests/households with no rounding or clamping; a zero household count
// produces +Inf, which is passed through deliberately.
type CountySummary struct {
	Name            string
	Tests           int
	TotalHouseholds int
	PercentResponse float64
}

// LiveCounty is one row of the hosted county summary layer.
type LiveCounty struct {
	ObjectID        int64
	Name            string
	Tests           int
	TotalHouseholds int
	PercentResponse float64
}
