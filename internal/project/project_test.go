package project

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coastwise/swath/internal/container"
	"github.com/coastwise/swath/internal/grid"
	"github.com/coastwise/swath/internal/testutil"
	"github.com/coastwise/swath/pkg/core"
)

func testProject(t *testing.T, dir string) *Project {
	t.Helper()
	return New(Config{
		Name:        "harbor_survey",
		Path:        filepath.Join(dir, "swath.json"),
		CRS:         "EPSG:32610",
		VerticalRef: "MLLW",
		Logger:      testutil.NewTestLogger(t),
	})
}

// lineContainer builds a container whose soundings run along a parallel at
// the given latitude.
func lineContainer(t *testing.T, p *Project, id, serial string, lat float64, start time.Time) *container.Container {
	t.Helper()
	c := container.New(id, serial, p.GeohashPrecision())

	var pings []core.PingRecord
	var soundings []core.Sounding
	for i := 0; i < 10; i++ {
		ts := start.Add(time.Duration(i) * time.Second)
		pings = append(pings, core.PingRecord{Time: ts, SerialNumber: serial, BeamCount: 256})
		soundings = append(soundings, core.Sounding{
			ID:    core.SoundingID{Line: id, Seq: uint64(i)},
			Time:  ts,
			Pos:   core.Position{Lat: lat, Lon: -122.45 + float64(i)*0.001},
			Depth: 20 + float64(i),
			Flag:  core.FlagAccepted,
		})
	}
	c.SetPings(pings)
	c.SetSoundings(soundings)
	return c
}

type countingObserver struct {
	added, removed []string
}

func (o *countingObserver) ContainerAdded(id string)   { o.added = append(o.added, id) }
func (o *countingObserver) ContainerRemoved(id string) { o.removed = append(o.removed, id) }

func TestAddRemoveContainerNotifiesObservers(t *testing.T) {
	dir := t.TempDir()
	p := testProject(t, dir)
	obs := &countingObserver{}
	p.Subscribe(obs)

	c := lineContainer(t, p, "line1", "em2040_40", 47.15, time.Now().UTC())
	require.NoError(t, p.AddContainer(c, filepath.Join(dir, "line1")))
	assert.Error(t, p.AddContainer(c, ""), "duplicate id rejected")

	require.NoError(t, p.RemoveContainer("line1"))
	assert.Error(t, p.RemoveContainer("line1"))

	assert.Equal(t, []string{"line1"}, obs.added)
	assert.Equal(t, []string{"line1"}, obs.removed)
}

func TestPopulateVesselFile(t *testing.T) {
	dir := t.TempDir()
	p := testProject(t, dir)

	vesselPath := filepath.Join(dir, "vessel.yaml")
	require.NoError(t, os.WriteFile(vesselPath, []byte(`
vessel: "RV Coastwise"
sensors:
  em2040_40:
    - valid_from: 2026-01-01T00:00:00Z
      offsets: {x: 1.2, y: 0.4, z: -0.8}
`), 0o644))
	require.NoError(t, p.AttachVesselFile(vesselPath))

	start := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, p.AddContainer(lineContainer(t, p, "line1", "em2040_40", 47.15, start), ""))
	require.NoError(t, p.AddContainer(lineContainer(t, p, "line2", "em304_12", 47.16, start), ""))

	require.NoError(t, p.PopulateVesselFile())

	// The new serial got a placeholder calibration and registry coverage.
	e, ok := p.Registry().ActiveAt(core.SourceVessel, "em304_12", start.Add(time.Hour))
	require.True(t, ok)
	assert.Contains(t, e.Identifier, "em304_12")

	// Re-running with no new serials is a no-op.
	require.NoError(t, p.PopulateVesselFile())
}

func TestSortedLinesAndOwner(t *testing.T) {
	dir := t.TempDir()
	p := testProject(t, dir)
	now := time.Now().UTC()

	require.NoError(t, p.AddContainer(lineContainer(t, p, "b_line", "s1", 47.15, now), ""))
	require.NoError(t, p.AddContainer(lineContainer(t, p, "a_line", "s1", 47.16, now), ""))

	assert.Equal(t, []string{"a_line", "b_line"}, p.SortedLines())

	owner, ok := p.LineOwner("a_line")
	require.True(t, ok)
	assert.Equal(t, "a_line", owner.ID)
}

func TestContainerBySerial(t *testing.T) {
	dir := t.TempDir()
	p := testProject(t, dir)
	day1 := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 3, 11, 8, 0, 0, 0, time.UTC)

	require.NoError(t, p.AddContainer(lineContainer(t, p, "line1", "em2040_40", 47.15, day1), ""))
	require.NoError(t, p.AddContainer(lineContainer(t, p, "line2", "em2040_40", 47.16, day2), ""))
	require.NoError(t, p.AddContainer(lineContainer(t, p, "line3", "em712_07", 47.17, day1), ""))

	c, ok := p.ContainerBySerial("em2040_40", day2.Add(5*time.Second))
	require.True(t, ok)
	assert.Equal(t, "line2", c.ID)

	_, ok = p.ContainerBySerial("em2040_40", day2.Add(24*time.Hour))
	assert.False(t, ok)

	assert.Len(t, p.ContainersBySerial("em2040_40"), 2)
}

func TestQueryPointsBox(t *testing.T) {
	dir := t.TempDir()
	p := testProject(t, dir)
	now := time.Now().UTC()

	require.NoError(t, p.AddContainer(lineContainer(t, p, "line1", "s1", 47.15, now), ""))
	require.NoError(t, p.AddContainer(lineContainer(t, p, "line2", "s1", 47.55, now), ""))

	region := core.Region{Box: &core.Box{MinLat: 47.10, MaxLat: 47.20, MinLon: -122.5, MaxLon: -122.4}}
	got := p.QueryPoints(region, Filters{})
	require.Len(t, got, 10)
	for _, s := range got {
		assert.Equal(t, "line1", s.ID.Line)
	}
}

func TestQueryPointsFilters(t *testing.T) {
	dir := t.TempDir()
	p := testProject(t, dir)
	now := time.Now().UTC()

	c1 := lineContainer(t, p, "line1", "s1", 47.15, now)
	c2 := lineContainer(t, p, "line2", "s1", 47.151, now)
	require.NoError(t, p.AddContainer(c1, ""))
	require.NoError(t, p.AddContainer(c2, ""))
	require.True(t, c1.SetFlag(core.SoundingID{Line: "line1", Seq: 3}, core.FlagRejected))

	region := core.Region{Box: &core.Box{MinLat: 47.10, MaxLat: 47.20, MinLon: -122.5, MaxLon: -122.4}}

	got := p.QueryPoints(region, Filters{Lines: []string{"line1"}})
	assert.Len(t, got, 10)

	got = p.QueryPoints(region, Filters{Lines: []string{"line1"}, AcceptedOnly: true})
	assert.Len(t, got, 9)
}

func TestSoundingsInPolygon(t *testing.T) {
	dir := t.TempDir()
	p := testProject(t, dir)
	now := time.Now().UTC()
	require.NoError(t, p.AddContainer(lineContainer(t, p, "line1", "s1", 47.15, now), ""))

	// Triangle covering the west half of the line.
	poly := []core.Position{
		{Lat: 47.10, Lon: -122.46},
		{Lat: 47.20, Lon: -122.46},
		{Lat: 47.15, Lon: -122.4455},
	}
	got := p.SoundingsInPolygon(poly)
	assert.NotEmpty(t, got)
	assert.Less(t, len(got), 10, "polygon excludes the east end of the line")
}

func TestLinesInBox(t *testing.T) {
	dir := t.TempDir()
	p := testProject(t, dir)
	now := time.Now().UTC()

	require.NoError(t, p.AddContainer(lineContainer(t, p, "line1", "s1", 47.15, now), ""))
	require.NoError(t, p.AddContainer(lineContainer(t, p, "line2", "s1", 47.55, now), ""))

	got := p.LinesInBox(core.Box{MinLat: 47.1, MaxLat: 47.2, MinLon: -123, MaxLon: -122})
	assert.Equal(t, []string{"line1"}, got)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	p := testProject(t, dir)
	now := time.Now().UTC()

	// Container data paths must exist for Load to keep them.
	line1Dir := filepath.Join(dir, "line1_data")
	require.NoError(t, os.MkdirAll(line1Dir, 0o755))
	require.NoError(t, p.AddContainer(lineContainer(t, p, "line1", "s1", 47.15, now), line1Dir))
	require.NoError(t, p.AddContainer(lineContainer(t, p, "gone", "s1", 47.16, now), filepath.Join(dir, "missing")))

	g, err := grid.New(grid.Config{TileSize: 128, CRS: "EPSG:32610", VerticalRef: "MLLW"})
	require.NoError(t, err)
	surfDir := filepath.Join(dir, "surfaces", "main")
	require.NoError(t, os.MkdirAll(surfDir, 0o755))
	require.NoError(t, p.AddSurface("main", g, surfDir))

	p.SetSettings(map[string]any{"parallel_write": true})
	require.NoError(t, p.Save())

	loaded, err := Load(filepath.Join(dir, "swath.json"), nil, testutil.NewTestLogger(t))
	require.NoError(t, err)
	assert.Equal(t, "harbor_survey", loaded.Name())
	assert.Equal(t, "EPSG:32610", loaded.CRS())
	assert.Equal(t, []string{"line1"}, loaded.SortedLines(), "missing container data skipped")

	v, ok := loaded.Setting("parallel_write")
	require.True(t, ok)
	assert.Equal(t, true, v)
}

func TestSaveMergesUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "swath.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"operator_note": "keep me", "name": "old"}`), 0o644))

	p := testProject(t, dir)
	require.NoError(t, p.Save())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "keep me")
	assert.Contains(t, string(data), "harbor_survey")
}
