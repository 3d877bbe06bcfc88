// Package jitter perturbs point locations so that submitters cannot be
// re-identified from the published data, while keeping points near their
// true position.
package jitter

import (
	"math/rand/v2"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
)

// Range bounds a random integer offset, inclusive on both ends.
type Range struct {
	Min int
	Max int
}

// Engine draws positional offsets from an injected random source. The
// production wiring passes a nil source and gets a time-seeded PCG, so
// results are intentionally not reproducible across runs; tests inject a
// seeded source.
type Engine struct {
	rng *rand.Rand
}

// New creates an Engine. A nil source yields a time-seeded generator.
func New(src rand.Source) *Engine {
	if src == nil {
		now := uint64(time.Now().UnixNano())
		src = rand.NewPCG(now, now>>32)
	}
	return &Engine{rng: rand.New(src)}
}

func (e *Engine) intIn(r Range) int {
	return r.Min + e.rng.IntN(r.Max-r.Min+1)
}

// JitterGroup shifts a group of points by one shared random offset plus an
// independent per-point offset, per axis. The group should hold points that
// are effectively co-located (records sharing a fine-resolution spatial
// key); randomizing the origin the per-point noise starts from keeps an
// observer from averaging a cluster back to its true center.
//
// The returned slice is one-to-one and order-preserving with the input, and
// the input points are never mutated. Offsets are drawn uniformly and
// inclusively from the given ranges, so every output coordinate lands
// within group.Min+individual.Min and group.Max+individual.Max of the
// original on each axis.
//
// Ranges are in the units of the points' CRS. Callers must reproject to a
// linear-unit CRS first; meter or foot ranges are meaningless in degrees.
func (e *Engine) JitterGroup(points []*geom.Point, group, individual Range) ([]*geom.Point, error) {
	if group.Min > group.Max || individual.Min > individual.Max {
		return nil, eris.Errorf("jitter: inverted range (group %+v, individual %+v)", group, individual)
	}

	groupX := e.intIn(group)
	groupY := e.intIn(group)

	out := make([]*geom.Point, len(points))
	for i, p := range points {
		individualX := e.intIn(individual)
		individualY := e.intIn(individual)

		shifted := geom.NewPointFlat(geom.XY, []float64{
			p.X() + float64(groupX+individualX),
			p.Y() + float64(groupY+individualY),
		}).SetSRID(p.SRID())
		out[i] = shifted
	}
	return out, nil
}
