// Package county normalizes Census household reference data and computes
// per-county response-rate summaries.
package county

import (
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/agrc/broadband-speedtest-skid/internal/model"
)

// householdsColumn is the ACS variable holding total household counts.
const householdsColumn = "DP02_0001E"

// nameToFIPS maps Utah's 29 counties to their 5-digit state+county FIPS
// codes. Static reference data, keyed the way the speedtest feed spells
// county names (upper case, no suffix).
var nameToFIPS = map[string]string{
	"BEAVER":     "49001",
	"BOX ELDER":  "49003",
	"CACHE":      "49005",
	"CARBON":     "49007",
	"DAGGETT":    "49009",
	"DAVIS":      "49011",
	"DUCHESNE":   "49013",
	"EMERY":      "49015",
	"GARFIELD":   "49017",
	"GRAND":      "49019",
	"IRON":       "49021",
	"JUAB":       "49023",
	"KANE":       "49025",
	"MILLARD":    "49027",
	"MORGAN":     "49029",
	"PIUTE":      "49031",
	"RICH":       "49033",
	"SALT LAKE":  "49035",
	"SAN JUAN":   "49037",
	"SANPETE":    "49039",
	"SEVIER":     "49041",
	"SUMMIT":     "49043",
	"TOOELE":     "49045",
	"UINTAH":     "49047",
	"UTAH":       "49049",
	"WASATCH":    "49051",
	"WASHINGTON": "49053",
	"WAYNE":      "49055",
	"WEBER":      "49057",
}

var titleCaser = cases.Title(language.AmericanEnglish)

// NormalizeReference converts a raw Census payload (row 0 is the header)
// into household reference rows. The zero-padded state and county codes are
// concatenated into a 5-digit FIPS key and matched against the fixed county
// table; rows for unknown FIPS codes are dropped. County names come out
// title-cased with a " County" suffix, matching the live layer's naming.
func NormalizeReference(raw [][]string) ([]model.HouseholdRow, error) {
	if len(raw) < 2 {
		return nil, eris.Errorf("county: census payload has %d rows, need a header and data", len(raw))
	}

	header := raw[0]
	householdsIdx, stateIdx, countyIdx := -1, -1, -1
	for i, col := range header {
		switch col {
		case householdsColumn:
			householdsIdx = i
		case "state":
			stateIdx = i
		case "county":
			countyIdx = i
		}
	}
	if householdsIdx < 0 || stateIdx < 0 || countyIdx < 0 {
		return nil, eris.Errorf("county: census header missing required columns: %v", header)
	}

	fipsToName := make(map[string]string, len(nameToFIPS))
	for name, fips := range nameToFIPS {
		fipsToName[fips] = name
	}

	var rows []model.HouseholdRow
	for _, record := range raw[1:] {
		if len(record) <= householdsIdx || len(record) <= stateIdx || len(record) <= countyIdx {
			return nil, eris.Errorf("county: census row shorter than header: %v", record)
		}

		fips := record[stateIdx] + record[countyIdx]
		name, ok := fipsToName[fips]
		if !ok {
			continue
		}

		rows = append(rows, model.HouseholdRow{
			Name:            titleCaser.String(strings.ToLower(name)) + " County",
			FIPS:            fips,
			TotalHouseholds: record[householdsIdx],
		})
	}
	return rows, nil
}
