// Package bucket maps point locations to spatial index keys and groups
// records that share a key.
package bucket

import (
	"github.com/uber/h3-go/v4"

	"github.com/agrc/broadband-speedtest-skid/internal/model"
)

// Resolutions attached to each record. GroupResolution approximates
// "same building": H3 level 12 cells are roughly 300 square meters.
var (
	DefaultResolutions = []int{5, 6, 7, 8, 9, 12}
)

// GroupResolution is the fine resolution used to gather co-located records
// before jittering.
const GroupResolution = 12

// Keyer maps a geographic point to a bucket key at a given resolution.
type Keyer interface {
	Key(lon, lat float64, res int) string
}

// H3Keyer keys points by H3 cell index.
type H3Keyer struct{}

// Key returns the H3 cell index string for the point at the resolution.
func (H3Keyer) Key(lon, lat float64, res int) string {
	return h3.LatLngToCell(h3.NewLatLng(lat, lon), res).String()
}

// AssignKeys sets H3Keys on each record at every resolution. Records must
// carry geographic (lon/lat) geometry.
func AssignKeys(records []model.SpeedRecord, keyer Keyer, resolutions []int) {
	for i := range records {
		if records[i].Shape == nil {
			continue
		}
		keys := make(map[int]string, len(resolutions))
		for _, res := range resolutions {
			keys[res] = keyer.Key(records[i].Shape.X(), records[i].Shape.Y(), res)
		}
		records[i].H3Keys = keys
	}
}

// Group is the set of record indexes sharing one bucket key.
type Group struct {
	Key     string
	Indexes []int
}

// GroupByKey buckets records by their key at the given resolution, in
// first-seen order. Records without a key at that resolution form their own
// single-member group so none are dropped.
func GroupByKey(records []model.SpeedRecord, res int) []Group {
	order := make(map[string]int)
	var groups []Group

	for i := range records {
		key, ok := records[i].H3Keys[res]
		if !ok {
			groups = append(groups, Group{Indexes: []int{i}})
			continue
		}
		if at, seen := order[key]; seen {
			groups[at].Indexes = append(groups[at].Indexes, i)
			continue
		}
		order[key] = len(groups)
		groups = append(groups, Group{Key: key, Indexes: []int{i}})
	}
	return groups
}
