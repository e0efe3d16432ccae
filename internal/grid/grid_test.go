package grid

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coastwise/swath/internal/testutil"
	"github.com/coastwise/swath/pkg/core"
)

func testGrid(t *testing.T, store TileStore) *Grid {
	t.Helper()
	g, err := New(Config{
		TileSize:    100,
		VerticalRef: "MLLW",
		CRS:         "EPSG:32610",
		Store:       store,
		Logger:      testutil.NewTestLogger(t),
	})
	require.NoError(t, err)
	return g
}

func snd(line string, seq uint64, easting, northing, depth float64) core.Sounding {
	return core.Sounding{
		ID:    core.SoundingID{Line: line, Seq: seq},
		Time:  time.Date(2026, 5, 12, 9, 0, 0, 0, time.UTC),
		Proj:  core.ProjectedPosition{Easting: easting, Northing: northing},
		Depth: depth,
		TVU:   0.3,
		Flag:  core.FlagAccepted,
	}
}

func TestApplyDelta_CreatesTiles(t *testing.T) {
	g := testGrid(t, nil)

	res, err := g.ApplyDelta(context.Background(), []core.Sounding{
		snd("line1", 1, 10, 10, 22),
		snd("line1", 2, 15, 15, 24),
		snd("line1", 3, 150, 10, 30),
	}, nil, FixedResolution{Meters: 10})
	require.NoError(t, err)

	assert.Len(t, res.Created, 2)
	assert.Empty(t, res.Updated)
	assert.Equal(t, 2, g.TileCount())

	tile := g.Tile(TileID{X: 0, Y: 0})
	require.NotNil(t, tile)
	assert.Equal(t, 2, tile.Len())
	assert.Equal(t, uint64(1), tile.Version)

	layer := tile.Layers()[10.0]
	require.NotNil(t, layer)
	cell := layer.Cells[CellKey{Row: 1, Col: 1}]
	require.NotNil(t, cell)
	assert.Equal(t, 2, cell.Count)
	assert.InDelta(t, 23.0, cell.Depth, 1e-9)
	assert.InDelta(t, 22.0, cell.MinDepth, 1e-9)
	assert.InDelta(t, 24.0, cell.MaxDepth, 1e-9)
}

// A delta touching two tiles must leave every other tile byte-for-byte
// alone: same version, same cells.
func TestApplyDelta_UntouchedTileNotRecomputed(t *testing.T) {
	g := testGrid(t, nil)
	ctx := context.Background()
	policy := FixedResolution{Meters: 10}

	_, err := g.ApplyDelta(ctx, []core.Sounding{
		snd("line1", 1, 10, 10, 20),  // tile (0,0)
		snd("line1", 2, 150, 10, 25), // tile (1,0)
		snd("line1", 3, 250, 10, 30), // tile (2,0)
	}, nil, policy)
	require.NoError(t, err)

	untouched := g.Tile(TileID{X: 2, Y: 0})
	versionBefore := untouched.Version

	res, err := g.ApplyDelta(ctx,
		[]core.Sounding{snd("line2", 1, 20, 20, 21)},
		[]core.SoundingID{{Line: "line1", Seq: 2}},
		policy)
	require.NoError(t, err)

	// Tile (1,0) emptied out, tile (0,0) updated, tile (2,0) untouched.
	assert.Equal(t, []TileID{{X: 0, Y: 0}}, res.Updated)
	assert.Equal(t, []TileID{{X: 1, Y: 0}}, res.Deleted)
	assert.Same(t, untouched, g.Tile(TileID{X: 2, Y: 0}))
	assert.Equal(t, versionBefore, g.Tile(TileID{X: 2, Y: 0}).Version)
	assert.Nil(t, g.Tile(TileID{X: 1, Y: 0}))
}

func TestApplyDelta_RecomputesFromMembershipNotDelta(t *testing.T) {
	g := testGrid(t, nil)
	ctx := context.Background()
	policy := FixedResolution{Meters: 10}

	_, err := g.ApplyDelta(ctx, []core.Sounding{
		snd("line1", 1, 12, 12, 20),
		snd("line1", 2, 14, 14, 40),
	}, nil, policy)
	require.NoError(t, err)

	// Removing one point must leave the cell mean equal to the surviving
	// member, which only works if the cell is rebuilt from membership.
	_, err = g.ApplyDelta(ctx, nil, []core.SoundingID{{Line: "line1", Seq: 2}}, policy)
	require.NoError(t, err)

	cell := g.Tile(TileID{X: 0, Y: 0}).Layers()[10.0].Cells[CellKey{Row: 1, Col: 1}]
	require.NotNil(t, cell)
	assert.Equal(t, 1, cell.Count)
	assert.InDelta(t, 20.0, cell.Depth, 1e-9)
}

func TestApplyDelta_RejectedSoundingsExcluded(t *testing.T) {
	g := testGrid(t, nil)

	rejected := snd("line1", 2, 16, 16, 99)
	rejected.Flag = core.FlagRejected

	_, err := g.ApplyDelta(context.Background(), []core.Sounding{
		snd("line1", 1, 12, 12, 20),
		rejected,
	}, nil, FixedResolution{Meters: 10})
	require.NoError(t, err)

	tile := g.Tile(TileID{X: 0, Y: 0})
	assert.Equal(t, 2, tile.Len(), "rejected points stay in membership")
	cell := tile.Layers()[10.0].Cells[CellKey{Row: 1, Col: 1}]
	assert.Equal(t, 1, cell.Count, "rejected points never contribute to cells")

	_, maxDepth, ok := g.Extremes()
	require.True(t, ok)
	assert.InDelta(t, 20.0, maxDepth, 1e-9)
}

// Removing the sounding holding the global maximum must trigger the
// flagged full rescan and surface the true second-deepest value, never a
// stale one.
func TestApplyDelta_ExtremeRemovalForcesRescan(t *testing.T) {
	g := testGrid(t, nil)
	ctx := context.Background()
	policy := FixedResolution{Meters: 10}

	_, err := g.ApplyDelta(ctx, []core.Sounding{
		snd("line1", 1, 10, 10, 52.5), // global max, tile (0,0)
		snd("line1", 2, 150, 10, 41),  // second deepest, tile (1,0)
		snd("line1", 3, 250, 10, 12),  // shallowest, tile (2,0)
	}, nil, policy)
	require.NoError(t, err)

	minDepth, maxDepth, ok := g.Extremes()
	require.True(t, ok)
	assert.InDelta(t, 12.0, minDepth, 1e-9)
	assert.InDelta(t, 52.5, maxDepth, 1e-9)

	res, err := g.ApplyDelta(ctx, nil, []core.SoundingID{{Line: "line1", Seq: 1}}, policy)
	require.NoError(t, err)
	assert.True(t, res.FullRescan, "removing the extreme holder must flag a rescan")

	minDepth, maxDepth, ok = g.Extremes()
	require.True(t, ok)
	assert.InDelta(t, 12.0, minDepth, 1e-9)
	assert.InDelta(t, 41.0, maxDepth, 1e-9)
}

func TestApplyDelta_ExtremeGrowthIsIncremental(t *testing.T) {
	g := testGrid(t, nil)
	ctx := context.Background()
	policy := FixedResolution{Meters: 10}

	_, err := g.ApplyDelta(ctx, []core.Sounding{snd("line1", 1, 10, 10, 30)}, nil, policy)
	require.NoError(t, err)

	res, err := g.ApplyDelta(ctx, []core.Sounding{snd("line1", 2, 150, 10, 45)}, nil, policy)
	require.NoError(t, err)
	assert.False(t, res.FullRescan)

	_, maxDepth, ok := g.Extremes()
	require.True(t, ok)
	assert.InDelta(t, 45.0, maxDepth, 1e-9)
}

// A failure while applying a delta must leave the tile in its pre-delta
// state: updates are clone-and-swap, never in place.
func TestApplyDelta_FailedTileKeepsPriorState(t *testing.T) {
	g := testGrid(t, nil)
	ctx := context.Background()
	policy := FixedResolution{Meters: 10}

	_, err := g.ApplyDelta(ctx, []core.Sounding{snd("line1", 1, 10, 10, 20)}, nil, policy)
	require.NoError(t, err)

	before := g.Tile(TileID{X: 0, Y: 0})
	versionBefore := before.Version
	boom := errors.New("simulated tile failure")
	g.failTile = func(TileID) error { return boom }

	_, err = g.ApplyDelta(ctx, []core.Sounding{snd("line2", 1, 20, 20, 33)}, nil, policy)
	require.ErrorIs(t, err, boom)

	after := g.Tile(TileID{X: 0, Y: 0})
	assert.Same(t, before, after, "failed application must not swap the tile")
	assert.Equal(t, versionBefore, after.Version)
	assert.Equal(t, 1, after.Len())

	// The failed addition must not be routable for removal either.
	g.failTile = nil
	res, err := g.ApplyDelta(ctx, nil, []core.SoundingID{{Line: "line2", Seq: 1}}, policy)
	require.NoError(t, err)
	assert.Empty(t, res.Updated)
	assert.Empty(t, res.Deleted)
}

func TestRegrid_SkipsUnchangedTiles(t *testing.T) {
	g := testGrid(t, nil)
	ctx := context.Background()
	policy := FixedResolution{Meters: 10}

	soundings := []core.Sounding{snd("line1", 1, 10, 10, 20)}
	_, err := g.ApplyDelta(ctx, soundings, nil, policy)
	require.NoError(t, err)

	// Data last changed before the tile was gridded: nothing to do.
	lastChange := time.Now().UTC().Add(-time.Hour)
	res, err := g.Regrid(ctx, soundings, lastChange, policy, false)
	require.NoError(t, err)
	assert.Empty(t, res.Recomputed)
	assert.Equal(t, []TileID{{X: 0, Y: 0}}, res.UpToDate)

	// Force wins over the skip rule.
	res, err = g.Regrid(ctx, soundings, lastChange, policy, true)
	require.NoError(t, err)
	assert.Equal(t, []TileID{{X: 0, Y: 0}}, res.Recomputed)
	assert.Empty(t, res.UpToDate)

	// Data changed after the last gridding: recompute without force.
	res, err = g.Regrid(ctx, soundings, time.Now().UTC().Add(time.Hour), policy, false)
	require.NoError(t, err)
	assert.Equal(t, []TileID{{X: 0, Y: 0}}, res.Recomputed)
}

func TestAggregate_FlushesAndReloads(t *testing.T) {
	store := NewMemoryTileStore()
	g := testGrid(t, store)
	ctx := context.Background()
	policy := FixedResolution{Meters: 10}

	// 5 tiles, batches of 2: peak memory is one batch.
	var added []core.Sounding
	for i := 0; i < 5; i++ {
		added = append(added, snd("line1", uint64(i+1), float64(i*100)+10, 10, 20+float64(i)))
	}
	res, err := g.Aggregate(ctx, added, policy, 2)
	require.NoError(t, err)
	assert.Len(t, res.Created, 5)
	assert.Equal(t, 0, g.TileCount(), "all batches evicted after flush")

	stored, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, stored, 5)

	// A later delta reloads the flushed tile transparently.
	dres, err := g.ApplyDelta(ctx, []core.Sounding{snd("line2", 1, 15, 15, 28)}, nil, policy)
	require.NoError(t, err)
	assert.Equal(t, []TileID{{X: 0, Y: 0}}, dres.Updated)
	assert.Equal(t, 2, g.Tile(TileID{X: 0, Y: 0}).Len())
	assert.Equal(t, uint64(2), g.Tile(TileID{X: 0, Y: 0}).Version)
}

func TestAggregate_RequiresStore(t *testing.T) {
	g := testGrid(t, nil)
	_, err := g.Aggregate(context.Background(), []core.Sounding{snd("l", 1, 0, 0, 1)}, FixedResolution{Meters: 10}, 2)
	assert.Error(t, err)
}

func TestTileSnapshotRoundTrip(t *testing.T) {
	g := testGrid(t, nil)
	_, err := g.ApplyDelta(context.Background(), []core.Sounding{
		snd("line1", 1, 10, 10, 22),
		snd("line1", 2, 55, 80, 31),
	}, nil, FixedResolution{Meters: 10})
	require.NoError(t, err)

	orig := g.Tile(TileID{X: 0, Y: 0})
	got := restore(orig.snapshot())

	assert.Equal(t, orig.ID, got.ID)
	assert.Equal(t, orig.Version, got.Version)
	assert.Equal(t, orig.Len(), got.Len())
	require.Contains(t, got.Layers(), 10.0)
	assert.Equal(t, orig.Layers()[10.0].Cells, got.Layers()[10.0].Cells)
}

func TestFileTileStore(t *testing.T) {
	store, err := NewFileTileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	tile := newTile(TileID{X: -3, Y: 7}, 100)
	s := snd("line1", 1, -290, 710, 18)
	tile.membership[s.ID] = s
	tile.Version = 4
	tile.recompute(FixedResolution{Meters: 10}, nil)

	require.NoError(t, store.Put(ctx, tile.snapshot()))

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []TileID{{X: -3, Y: 7}}, ids)

	got, err := store.Get(ctx, TileID{X: -3, Y: 7})
	require.NoError(t, err)
	restored := restore(got)
	assert.Equal(t, uint64(4), restored.Version)
	assert.Equal(t, 1, restored.Len())

	require.NoError(t, store.Delete(ctx, TileID{X: -3, Y: 7}))
	_, err = store.Get(ctx, TileID{X: -3, Y: 7})
	assert.ErrorIs(t, err, ErrTileNotFound)
}

func TestDepthResolutionBands(t *testing.T) {
	tile := newTile(TileID{}, 100)
	for i, depth := range []float64{15, 15, 15} {
		s := snd("l", uint64(i+1), 10, 10, depth)
		tile.membership[s.ID] = s
	}
	assert.Equal(t, []float64{0.5}, DepthResolution{}.Resolutions(tile))

	tile = newTile(TileID{}, 100)
	s := snd("l", 1, 10, 10, 500)
	tile.membership[s.ID] = s
	assert.Equal(t, []float64{16.0}, DepthResolution{}.Resolutions(tile))

	assert.Nil(t, DepthResolution{}.Resolutions(newTile(TileID{}, 100)))
}

func TestDensityResolutionPicksFinestViable(t *testing.T) {
	tile := newTile(TileID{}, 100)
	for i := 0; i < 600; i++ {
		s := snd("l", uint64(i+1), 10, 10, 20)
		tile.membership[s.ID] = s
	}
	// 600 points over a 100m tile: 8m cells average ~3.8 each, 4m cells ~1.
	got := DensityResolution{MinPerCell: 3}.Resolutions(tile)
	assert.Equal(t, []float64{8.0}, got)
}

func TestPolicyChangeDropsStaleLayers(t *testing.T) {
	g := testGrid(t, nil)
	ctx := context.Background()

	_, err := g.ApplyDelta(ctx, []core.Sounding{snd("line1", 1, 10, 10, 20)}, nil, FixedResolution{Meters: 10})
	require.NoError(t, err)

	_, err = g.ApplyDelta(ctx, []core.Sounding{snd("line1", 2, 12, 12, 21)}, nil, FixedResolution{Meters: 5})
	require.NoError(t, err)

	layers := g.Tile(TileID{X: 0, Y: 0}).Layers()
	assert.NotContains(t, layers, 10.0)
	assert.Contains(t, layers, 5.0)
}
