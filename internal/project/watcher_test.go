package project

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coastwise/swath/pkg/core"
)

const watchedCastYAML = `
casts:
  - name: cast_001
    time: 2026-03-10T08:00:00Z
    position: {lat: 47.15, lon: -122.45}
    samples:
      - {depth: 0, velocity: 1490.0}
      - {depth: 50, velocity: 1485.0}
`

const watchedVesselYAML = `
vessel: "RV Coastwise"
sensors:
  em2040_40:
    - valid_from: 2026-01-01T00:00:00Z
      offsets: {x: 1.2, y: 0.4, z: -0.8}
      angles: {roll: 0.1, pitch: 0.0, yaw: 0.0}
      waterline: 0.55
`

func TestWatcherImportsNewCastFile(t *testing.T) {
	dir := t.TempDir()
	p := testProject(t, dir)
	castDir := filepath.Join(dir, "casts")
	require.NoError(t, os.MkdirAll(castDir, 0o755))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, p.WatchSources(ctx, castDir))
	defer p.Close()

	require.NoError(t, os.WriteFile(filepath.Join(castDir, "cast_001.yaml"), []byte(watchedCastYAML), 0o644))

	require.Eventually(t, func() bool {
		_, ok := p.Registry().ActiveAt(core.SourceSVP, "",
			time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
		return ok
	}, 5*time.Second, 20*time.Millisecond, "cast file should be imported by the watcher")
}

func TestWatcherReimportsVesselFile(t *testing.T) {
	dir := t.TempDir()
	p := testProject(t, dir)

	vesselPath := filepath.Join(dir, "vessel.yaml")
	require.NoError(t, os.WriteFile(vesselPath, []byte(watchedVesselYAML), 0o644))
	require.NoError(t, p.AttachVesselFile(vesselPath))
	before := p.Registry().Len()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, p.WatchSources(ctx, ""))
	defer p.Close()

	// Touch the file with identical content: superseding re-import, no
	// conflict.
	require.NoError(t, os.WriteFile(vesselPath, []byte(watchedVesselYAML), 0o644))

	require.Eventually(t, func() bool {
		return p.Registry().Len() > before
	}, 5*time.Second, 20*time.Millisecond, "vessel file should be re-imported by the watcher")

	mid := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	e, ok := p.Registry().ActiveAt(core.SourceVessel, "em2040_40", mid)
	require.True(t, ok)
	assert.False(t, e.Superseded)
}

func TestWatcherIgnoresUnrelatedFiles(t *testing.T) {
	dir := t.TempDir()
	p := testProject(t, dir)
	castDir := filepath.Join(dir, "casts")
	require.NoError(t, os.MkdirAll(castDir, 0o755))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, p.WatchSources(ctx, castDir))
	defer p.Close()

	require.NoError(t, os.WriteFile(filepath.Join(castDir, "notes.txt"), []byte("not a cast"), 0o644))

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 0, p.Registry().Len())
}
