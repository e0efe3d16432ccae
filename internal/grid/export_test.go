package grid

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coastwise/swath/pkg/core"
)

func TestExport_XYZ(t *testing.T) {
	g := testGrid(t, nil)
	_, err := g.ApplyDelta(context.Background(), []core.Sounding{
		snd("line1", 1, 10, 10, 22),
		snd("line1", 2, 150, 30, 31),
	}, nil, FixedResolution{Meters: 10})
	require.NoError(t, err)

	dir := t.TempDir()
	paths, err := g.Export(context.Background(), ExportOptions{Format: FormatXYZ, Dir: dir})
	require.NoError(t, err)
	require.Len(t, paths, 1)
	assert.Equal(t, filepath.Join(dir, "surface_10m.xyz"), paths[0])

	data, err := os.ReadFile(paths[0])
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	// Sorted south to north: the 22m cell at northing 15 comes first.
	assert.Equal(t, "15.000 15.000 22.000", lines[0])
	assert.Equal(t, "155.000 35.000 31.000", lines[1])
}

func TestExport_GeoJSON(t *testing.T) {
	g := testGrid(t, nil)
	_, err := g.ApplyDelta(context.Background(), []core.Sounding{
		snd("line1", 1, 10, 10, 22),
	}, nil, FixedResolution{Meters: 10})
	require.NoError(t, err)

	paths, err := g.Export(context.Background(), ExportOptions{Format: FormatGeoJSON, Dir: t.TempDir()})
	require.NoError(t, err)
	require.Len(t, paths, 1)

	data, err := os.ReadFile(paths[0])
	require.NoError(t, err)
	var doc struct {
		Type     string `json:"type"`
		Features []struct {
			Geometry struct {
				Coordinates [2]float64 `json:"coordinates"`
			} `json:"geometry"`
			Properties map[string]any `json:"properties"`
		} `json:"features"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "FeatureCollection", doc.Type)
	require.Len(t, doc.Features, 1)
	assert.InDelta(t, 15.0, doc.Features[0].Geometry.Coordinates[0], 1e-9)
	assert.InDelta(t, 22.0, doc.Features[0].Properties["depth"].(float64), 1e-9)
}

func TestExport_BoundsFilter(t *testing.T) {
	g := testGrid(t, nil)
	_, err := g.ApplyDelta(context.Background(), []core.Sounding{
		snd("line1", 1, 10, 10, 22),
		snd("line1", 2, 550, 10, 40),
	}, nil, FixedResolution{Meters: 10})
	require.NoError(t, err)

	dir := t.TempDir()
	paths, err := g.Export(context.Background(), ExportOptions{
		Format: FormatXYZ,
		Dir:    dir,
		Bounds: TileBounds{MinEasting: 0, MinNorthing: 0, MaxEasting: 100, MaxNorthing: 100},
	})
	require.NoError(t, err)
	require.Len(t, paths, 1)

	data, err := os.ReadFile(paths[0])
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(data), "\n"))
	assert.Contains(t, string(data), "22.000")
}

func TestParseExportFormat(t *testing.T) {
	got, err := ParseExportFormat("GeoJSON")
	require.NoError(t, err)
	assert.Equal(t, FormatGeoJSON, got)
	_, err = ParseExportFormat("tiff")
	assert.Error(t, err)
}
