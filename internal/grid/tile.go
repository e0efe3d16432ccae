// Package grid implements the tiled, incrementally updatable terrain
// surface: sparse tiles holding one or more gridded resolutions, updated
// tile-by-tile from sounding deltas without touching unaffected regions.
package grid

import (
	"fmt"
	"math"
	"time"

	"github.com/coastwise/swath/pkg/core"
)

// TileID addresses a tile on the fixed lattice of the grid's tile size.
type TileID struct {
	X int64 // easting index
	Y int64 // northing index
}

func (id TileID) String() string {
	return fmt.Sprintf("t_%d_%d", id.X, id.Y)
}

// tileIDFor maps a projected position to its tile.
func tileIDFor(p core.ProjectedPosition, tileSize float64) TileID {
	return TileID{
		X: int64(math.Floor(p.Easting / tileSize)),
		Y: int64(math.Floor(p.Northing / tileSize)),
	}
}

// TileBounds is the projected footprint of a tile.
type TileBounds struct {
	MinEasting, MinNorthing float64
	MaxEasting, MaxNorthing float64
}

func boundsFor(id TileID, tileSize float64) TileBounds {
	return TileBounds{
		MinEasting:  float64(id.X) * tileSize,
		MinNorthing: float64(id.Y) * tileSize,
		MaxEasting:  float64(id.X+1) * tileSize,
		MaxNorthing: float64(id.Y+1) * tileSize,
	}
}

// CellKey addresses one cell within a tile at a given resolution.
type CellKey struct {
	Row, Col int32
}

// Cell holds the aggregated statistics of one grid cell.
type Cell struct {
	Count       int     `json:"count"`
	Depth       float64 `json:"depth"`       // mean of contributing depths
	MinDepth    float64 `json:"min_depth"`   //
	MaxDepth    float64 `json:"max_depth"`   //
	Uncertainty float64 `json:"uncertainty"` // mean TVU
}

// Layer is the cell raster of one resolution within a tile. Cells are
// sparse: only populated cells exist.
type Layer struct {
	Resolution float64           `json:"resolution"`
	Cells      map[CellKey]*Cell `json:"cells"`
}

// Tile is one fixed-footprint spatial cell of the grid. A tile owns its
// membership (references to soundings, keyed by id) and the per-resolution
// layers computed from it. Writers must hold the grid's per-tile lock.
type Tile struct {
	ID     TileID
	Bounds TileBounds

	// Version increases monotonically on every membership change; the
	// engine recomputes layers only when it observes a version change.
	Version   uint64
	UpdatedAt time.Time

	tileSize   float64
	membership map[core.SoundingID]core.Sounding
	layers     map[float64]*Layer
}

func newTile(id TileID, tileSize float64) *Tile {
	return &Tile{
		ID:         id,
		Bounds:     boundsFor(id, tileSize),
		tileSize:   tileSize,
		membership: make(map[core.SoundingID]core.Sounding),
		layers:     make(map[float64]*Layer),
	}
}

// Len returns the number of member soundings.
func (t *Tile) Len() int { return len(t.membership) }

// Layers returns the resolutions present on the tile.
func (t *Tile) Layers() map[float64]*Layer { return t.layers }

// Members returns the tile's sounding membership.
func (t *Tile) Members() map[core.SoundingID]core.Sounding { return t.membership }

// clone deep-copies the tile so a delta can be applied all-or-nothing and
// swapped in only on success.
func (t *Tile) clone() *Tile {
	c := &Tile{
		ID:         t.ID,
		Bounds:     t.Bounds,
		Version:    t.Version,
		UpdatedAt:  t.UpdatedAt,
		tileSize:   t.tileSize,
		membership: make(map[core.SoundingID]core.Sounding, len(t.membership)),
		layers:     make(map[float64]*Layer, len(t.layers)),
	}
	for id, s := range t.membership {
		c.membership[id] = s
	}
	for res, l := range t.layers {
		nl := &Layer{Resolution: res, Cells: make(map[CellKey]*Cell, len(l.Cells))}
		for k, cell := range l.Cells {
			cp := *cell
			nl.Cells[k] = &cp
		}
		c.layers[res] = nl
	}
	return c
}

// cellFor maps a member position to its cell at a resolution.
func (t *Tile) cellFor(p core.ProjectedPosition, resolution float64) CellKey {
	return CellKey{
		Col: int32(math.Floor((p.Easting - t.Bounds.MinEasting) / resolution)),
		Row: int32(math.Floor((p.Northing - t.Bounds.MinNorthing) / resolution)),
	}
}

// recompute rebuilds the layers the policy selects, recomputing only the
// given cells from the tile's full current membership. A cell straddles old
// and new points, so statistics always derive from membership, never from
// the delta alone. A nil affected set rebuilds everything.
func (t *Tile) recompute(policy ResolutionPolicy, affected map[float64]map[CellKey]bool) int {
	resolutions := policy.Resolutions(t)

	keep := make(map[float64]bool, len(resolutions))
	for _, r := range resolutions {
		keep[r] = true
	}
	// Drop layers the policy no longer selects, build missing ones fresh.
	for res := range t.layers {
		if !keep[res] {
			delete(t.layers, res)
		}
	}

	recomputed := 0
	for _, res := range resolutions {
		layer, exists := t.layers[res]
		full := !exists || affected == nil
		if !exists {
			layer = &Layer{Resolution: res, Cells: make(map[CellKey]*Cell)}
			t.layers[res] = layer
		}

		var cells map[CellKey]bool
		if !full {
			cells = affected[res]
			if len(cells) == 0 {
				continue
			}
			for k := range cells {
				delete(layer.Cells, k)
			}
		} else {
			layer.Cells = make(map[CellKey]*Cell)
		}

		for _, s := range t.membership {
			if !s.Flag.Accepted() {
				continue
			}
			k := t.cellFor(s.Proj, res)
			if !full && !cells[k] {
				continue
			}
			cell, ok := layer.Cells[k]
			if !ok {
				cell = &Cell{MinDepth: s.Depth, MaxDepth: s.Depth}
				layer.Cells[k] = cell
				recomputed++
			}
			cell.Depth = (cell.Depth*float64(cell.Count) + s.Depth) / float64(cell.Count+1)
			cell.Uncertainty = (cell.Uncertainty*float64(cell.Count) + s.TVU) / float64(cell.Count+1)
			cell.Count++
			if s.Depth < cell.MinDepth {
				cell.MinDepth = s.Depth
			}
			if s.Depth > cell.MaxDepth {
				cell.MaxDepth = s.Depth
			}
		}
	}
	return recomputed
}

// extremes returns the min and max accepted depth on the tile, and false
// when the tile has no accepted members.
func (t *Tile) extremes() (minDepth, maxDepth float64, ok bool) {
	for _, s := range t.membership {
		if !s.Flag.Accepted() {
			continue
		}
		if !ok {
			minDepth, maxDepth, ok = s.Depth, s.Depth, true
			continue
		}
		if s.Depth < minDepth {
			minDepth = s.Depth
		}
		if s.Depth > maxDepth {
			maxDepth = s.Depth
		}
	}
	return minDepth, maxDepth, ok
}
