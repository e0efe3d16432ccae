package grid

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ExportFormat selects the on-disk representation of exported cells.
type ExportFormat string

const (
	FormatXYZ     ExportFormat = "xyz"
	FormatGeoJSON ExportFormat = "geojson"
)

// ParseExportFormat validates a format name from configuration or flags.
func ParseExportFormat(s string) (ExportFormat, error) {
	switch ExportFormat(strings.ToLower(s)) {
	case FormatXYZ:
		return FormatXYZ, nil
	case FormatGeoJSON:
		return FormatGeoJSON, nil
	default:
		return "", fmt.Errorf("unknown export format %q (want xyz or geojson)", s)
	}
}

// ExportOptions controls an export run.
type ExportOptions struct {
	// Resolution restricts the export to one layer; zero exports every
	// resolution present.
	Resolution float64
	// Bounds restricts the export to tiles intersecting the box; a zero
	// box exports everything.
	Bounds TileBounds
	Format ExportFormat
	Dir    string
}

type exportCell struct {
	easting, northing float64
	cell              Cell
}

// Export writes the gridded cells to one file per resolution and returns
// the paths written. Cell positions are cell centers in projected
// coordinates.
func (g *Grid) Export(ctx context.Context, opts ExportOptions) ([]string, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("export directory is required")
	}
	if opts.Format == "" {
		opts.Format = FormatXYZ
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}

	ids, err := g.exportTileIDs(ctx, opts.Bounds)
	if err != nil {
		return nil, err
	}

	byRes := make(map[float64][]exportCell)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		lk := g.lockFor(id)
		lk.Lock()
		t, err := g.loadTile(ctx, id)
		if err != nil {
			lk.Unlock()
			return nil, err
		}
		if t == nil {
			lk.Unlock()
			continue
		}
		for res, layer := range t.layers {
			if opts.Resolution != 0 && res != opts.Resolution {
				continue
			}
			for k, c := range layer.Cells {
				byRes[res] = append(byRes[res], exportCell{
					easting:  t.Bounds.MinEasting + (float64(k.Col)+0.5)*res,
					northing: t.Bounds.MinNorthing + (float64(k.Row)+0.5)*res,
					cell:     *c,
				})
			}
		}
		lk.Unlock()
	}

	resolutions := make([]float64, 0, len(byRes))
	for res := range byRes {
		resolutions = append(resolutions, res)
	}
	sort.Float64s(resolutions)

	var paths []string
	for _, res := range resolutions {
		cells := byRes[res]
		sort.Slice(cells, func(i, j int) bool {
			if cells[i].northing != cells[j].northing {
				return cells[i].northing < cells[j].northing
			}
			return cells[i].easting < cells[j].easting
		})

		path := filepath.Join(opts.Dir, fmt.Sprintf("surface_%gm.%s", res, opts.Format))
		var data []byte
		switch opts.Format {
		case FormatXYZ:
			data = encodeXYZ(cells)
		case FormatGeoJSON:
			data, err = encodeGeoJSON(cells, res, g.crs)
			if err != nil {
				return nil, fmt.Errorf("encode %gm layer: %w", res, err)
			}
		default:
			return nil, fmt.Errorf("unknown export format %q", opts.Format)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return nil, fmt.Errorf("write %s: %w", path, err)
		}
		paths = append(paths, path)
		g.logger.Info("layer exported", "resolution", res, "cells", len(cells), "path", path)
	}
	return paths, nil
}

// exportTileIDs collects the ids to walk: every in-memory tile plus any
// flushed tile, filtered to the requested bounds.
func (g *Grid) exportTileIDs(ctx context.Context, bounds TileBounds) ([]TileID, error) {
	set := make(map[TileID]bool)
	g.mu.Lock()
	for id := range g.tiles {
		set[id] = true
	}
	g.mu.Unlock()
	if g.store != nil {
		stored, err := g.store.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("list tile store: %w", err)
		}
		for _, id := range stored {
			set[id] = true
		}
	}

	unbounded := bounds == TileBounds{}
	var out []TileID
	for id := range set {
		if unbounded || tileBoundsIntersect(boundsFor(id, g.tileSize), bounds) {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return lessTileID(out[i], out[j]) })
	return out, nil
}

func tileBoundsIntersect(a, b TileBounds) bool {
	return a.MinEasting < b.MaxEasting && b.MinEasting < a.MaxEasting &&
		a.MinNorthing < b.MaxNorthing && b.MinNorthing < a.MaxNorthing
}

func encodeXYZ(cells []exportCell) []byte {
	var sb strings.Builder
	for _, c := range cells {
		fmt.Fprintf(&sb, "%.3f %.3f %.3f\n", c.easting, c.northing, c.cell.Depth)
	}
	return []byte(sb.String())
}

type geoJSONFeature struct {
	Type       string         `json:"type"`
	Geometry   geoJSONPoint   `json:"geometry"`
	Properties map[string]any `json:"properties"`
}

type geoJSONPoint struct {
	Type        string     `json:"type"`
	Coordinates [2]float64 `json:"coordinates"`
}

func encodeGeoJSON(cells []exportCell, resolution float64, crs string) ([]byte, error) {
	features := make([]geoJSONFeature, 0, len(cells))
	for _, c := range cells {
		features = append(features, geoJSONFeature{
			Type: "Feature",
			Geometry: geoJSONPoint{
				Type:        "Point",
				Coordinates: [2]float64{c.easting, c.northing},
			},
			Properties: map[string]any{
				"depth":       c.cell.Depth,
				"min_depth":   c.cell.MinDepth,
				"max_depth":   c.cell.MaxDepth,
				"uncertainty": c.cell.Uncertainty,
				"count":       c.cell.Count,
			},
		})
	}
	doc := map[string]any{
		"type":     "FeatureCollection",
		"features": features,
		"properties": map[string]any{
			"resolution": resolution,
			"crs":        crs,
		},
	}
	return json.MarshalIndent(doc, "", "  ")
}
