// Package projection reprojects point geometry between geographic WGS84
// and a linear-unit projected CRS. Jitter distances are specified in
// meters, so points must round-trip through here around the jitter step.
package projection

import (
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/wroge/wgs84"
)

// SRIDs handled by the transformer.
const (
	GeographicSRID = 4326
	ProjectedSRID  = 32612 // UTM zone 12N, meters; covers Utah
)

// Transformer reprojects points between the geographic and projected CRS.
type Transformer interface {
	ToProjected(p *geom.Point) (*geom.Point, error)
	ToGeographic(p *geom.Point) (*geom.Point, error)
}

// UTMZone12 transforms between WGS84 lon/lat and UTM zone 12N.
type UTMZone12 struct {
	forward wgs84.Func
	inverse wgs84.Func
}

// NewUTMZone12 builds the forward and inverse transform functions once.
func NewUTMZone12() *UTMZone12 {
	return &UTMZone12{
		forward: wgs84.LonLat().To(wgs84.UTM(12, true)),
		inverse: wgs84.UTM(12, true).To(wgs84.LonLat()),
	}
}

// ToProjected reprojects a geographic point to UTM zone 12N. The input must
// carry SRID 4326.
func (t *UTMZone12) ToProjected(p *geom.Point) (*geom.Point, error) {
	if p.SRID() != GeographicSRID {
		return nil, eris.Errorf("projection: expected SRID %d, got %d", GeographicSRID, p.SRID())
	}
	east, north, _ := t.forward(p.X(), p.Y(), 0)
	return geom.NewPointFlat(geom.XY, []float64{east, north}).SetSRID(ProjectedSRID), nil
}

// ToGeographic reprojects a UTM zone 12N point back to lon/lat. The input
// must carry SRID 32612.
func (t *UTMZone12) ToGeographic(p *geom.Point) (*geom.Point, error) {
	if p.SRID() != ProjectedSRID {
		return nil, eris.Errorf("projection: expected SRID %d, got %d", ProjectedSRID, p.SRID())
	}
	lon, lat, _ := t.inverse(p.X(), p.Y(), 0)
	return geom.NewPointFlat(geom.XY, []float64{lon, lat}).SetSRID(GeographicSRID), nil
}
