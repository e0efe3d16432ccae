package grid

import (
	"math"
	"sort"
)

// ResolutionPolicy selects the cell resolutions a tile should carry.
// Policies see the tile's current membership, so density- and
// depth-derived selections adapt as points come and go.
type ResolutionPolicy interface {
	Name() string
	Resolutions(t *Tile) []float64
}

// FixedResolution grids every tile at one resolution.
type FixedResolution struct {
	Meters float64
}

func (p FixedResolution) Name() string { return "fixed" }

func (p FixedResolution) Resolutions(*Tile) []float64 {
	return []float64{p.Meters}
}

// DepthResolution derives the resolution from the tile's mean depth using
// the standard survey depth bands: deeper water supports coarser cells.
type DepthResolution struct{}

func (DepthResolution) Name() string { return "depth" }

// depthBands maps an upper depth bound to a cell resolution in meters.
var depthBands = []struct {
	maxDepth   float64
	resolution float64
}{
	{20, 0.5},
	{40, 1.0},
	{80, 2.0},
	{160, 4.0},
	{320, 8.0},
	{640, 16.0},
	{math.Inf(1), 32.0},
}

func (DepthResolution) Resolutions(t *Tile) []float64 {
	var sum float64
	n := 0
	for _, s := range t.membership {
		if s.Flag.Accepted() {
			sum += s.Depth
			n++
		}
	}
	if n == 0 {
		return nil
	}
	mean := sum / float64(n)
	for _, band := range depthBands {
		if mean <= band.maxDepth {
			return []float64{band.resolution}
		}
	}
	return []float64{depthBands[len(depthBands)-1].resolution}
}

// DensityResolution picks the finest resolution whose cells would still
// average at least MinPerCell soundings, bounded by the allowed set.
type DensityResolution struct {
	// MinPerCell is the minimum mean sounding count per populated cell.
	MinPerCell int
	// Allowed resolutions, ascending. Defaults to the depth band set.
	Allowed []float64
}

func (DensityResolution) Name() string { return "density" }

func (p DensityResolution) Resolutions(t *Tile) []float64 {
	minPer := p.MinPerCell
	if minPer <= 0 {
		minPer = 5
	}
	allowed := p.Allowed
	if len(allowed) == 0 {
		allowed = []float64{0.5, 1.0, 2.0, 4.0, 8.0, 16.0, 32.0}
	}
	sort.Float64s(allowed)

	accepted := 0
	for _, s := range t.membership {
		if s.Flag.Accepted() {
			accepted++
		}
	}
	if accepted == 0 {
		return nil
	}

	for _, res := range allowed {
		cellsPerEdge := t.tileSize / res
		cells := cellsPerEdge * cellsPerEdge
		if float64(accepted)/cells >= float64(minPer) {
			return []float64{res}
		}
	}
	return []float64{allowed[len(allowed)-1]}
}
