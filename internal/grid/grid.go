package grid

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/coastwise/swath/internal/metrics"
	"github.com/coastwise/swath/pkg/core"
)

// Grid is the tiled terrain surface. Tiles are created lazily when a
// sounding first lands in their bounds and destroyed when a removal
// empties them. Updates to distinct tiles may run concurrently; updates to
// the same tile are serialized through a per-tile lock table.
type Grid struct {
	tileSize    float64
	verticalRef string
	crs         string

	store   TileStore
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu    sync.Mutex
	tiles map[TileID]*Tile
	locks map[TileID]*sync.Mutex
	// index maps every member sounding to its tile so removals route
	// without scanning.
	index map[core.SoundingID]TileID
	// extremeCache holds per-tile accepted depth extremes so a forced
	// rescan walks tiles, not points.
	extremeCache map[TileID][2]float64

	minDepth, maxDepth   float64
	minHolder, maxHolder TileID
	hasExtremes          bool

	// failTile injects a failure mid-application in tests to verify
	// per-tile atomicity.
	failTile func(TileID) error
}

// Config holds grid construction parameters.
type Config struct {
	// TileSize is the tile edge length in meters (e.g. 128).
	TileSize    float64
	VerticalRef string
	CRS         string
	Store       TileStore
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
}

// New creates an empty grid.
func New(cfg Config) (*Grid, error) {
	if cfg.TileSize <= 0 {
		return nil, fmt.Errorf("tile size must be positive, got %v", cfg.TileSize)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.NewNop()
	}
	return &Grid{
		tileSize:     cfg.TileSize,
		verticalRef:  cfg.VerticalRef,
		crs:          cfg.CRS,
		store:        cfg.Store,
		logger:       logger,
		metrics:      m,
		tiles:        make(map[TileID]*Tile),
		locks:        make(map[TileID]*sync.Mutex),
		index:        make(map[core.SoundingID]TileID),
		extremeCache: make(map[TileID][2]float64),
	}, nil
}

// TileSize returns the tile edge length in meters.
func (g *Grid) TileSize() float64 { return g.tileSize }

// VerticalRef returns the grid's vertical reference.
func (g *Grid) VerticalRef() string { return g.verticalRef }

// CRS returns the grid's coordinate system identifier.
func (g *Grid) CRS() string { return g.crs }

// TileCount returns the number of live tiles.
func (g *Grid) TileCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.tiles)
}

// Tile returns the in-memory tile for an id, or nil.
func (g *Grid) Tile(id TileID) *Tile {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.tiles[id]
}

// SoundingIDsForLine returns the ids of every gridded sounding belonging
// to a survey line. Used to clear a line's contribution before re-gridding
// it.
func (g *Grid) SoundingIDsForLine(line string) []core.SoundingID {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []core.SoundingID
	for id := range g.index {
		if id.Line == line {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// Extremes returns the global min and max accepted depth over all tiles.
func (g *Grid) Extremes() (minDepth, maxDepth float64, ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.minDepth, g.maxDepth, g.hasExtremes
}

// DeltaResult reports what one ApplyDelta call touched.
type DeltaResult struct {
	Created []TileID
	Updated []TileID
	Deleted []TileID
	// UpToDate lists tiles a regrid request skipped as unchanged.
	UpToDate        []TileID
	CellsRecomputed int
	// FullRescan is set when removing a global extreme forced a scan of
	// every remaining tile. This is the only O(tiles) path and is always
	// flagged, never silent.
	FullRescan bool
}

func (g *Grid) lockFor(id TileID) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	lk, ok := g.locks[id]
	if !ok {
		lk = &sync.Mutex{}
		g.locks[id] = lk
	}
	return lk
}

// ApplyDelta routes added and removed soundings to the tiles they touch and
// recomputes only the affected cells of those tiles. Per tile the
// application is atomic: the tile is cloned, mutated, and swapped in only
// on success, so a failure leaves the pre-delta state. Unaffected tiles are
// never recomputed.
func (g *Grid) ApplyDelta(ctx context.Context, added []core.Sounding, removed []core.SoundingID, policy ResolutionPolicy) (*DeltaResult, error) {
	result := &DeltaResult{}

	adds := make(map[TileID][]core.Sounding)
	for _, s := range added {
		id := tileIDFor(s.Proj, g.tileSize)
		adds[id] = append(adds[id], s)
	}

	rems := make(map[TileID][]core.SoundingID)
	g.mu.Lock()
	for _, rid := range removed {
		tid, ok := g.index[rid]
		if !ok {
			g.logger.Debug("removal for unknown sounding ignored", "sounding", rid.String())
			continue
		}
		rems[tid] = append(rems[tid], rid)
	}
	g.mu.Unlock()

	touched := make(map[TileID]bool, len(adds)+len(rems))
	for id := range adds {
		touched[id] = true
	}
	for id := range rems {
		touched[id] = true
	}
	order := sortedTileIDs(touched)

	for _, id := range order {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if err := g.applyTile(ctx, id, adds[id], rems[id], policy, result); err != nil {
			return result, fmt.Errorf("apply delta to tile %s: %w", id, err)
		}
	}

	g.settleExtremes(result)
	return result, nil
}

// applyTile performs the atomic clone-mutate-swap for one tile.
func (g *Grid) applyTile(ctx context.Context, id TileID, adds []core.Sounding, rems []core.SoundingID, policy ResolutionPolicy, result *DeltaResult) error {
	lk := g.lockFor(id)
	lk.Lock()
	defer lk.Unlock()

	cur, err := g.loadTile(ctx, id)
	if err != nil {
		return err
	}

	created := false
	var work *Tile
	switch {
	case cur == nil && len(adds) == 0:
		// Removals against a tile that no longer exists.
		return nil
	case cur == nil:
		work = newTile(id, g.tileSize)
		created = true
	default:
		work = cur.clone()
	}

	// Affected cells per existing layer, from both sides of the delta.
	affected := make(map[float64]map[CellKey]bool, len(work.layers))
	for res := range work.layers {
		affected[res] = make(map[CellKey]bool)
	}
	mark := func(p core.ProjectedPosition) {
		for res, cells := range affected {
			cells[work.cellFor(p, res)] = true
		}
	}

	for _, rid := range rems {
		if s, ok := work.membership[rid]; ok {
			mark(s.Proj)
			delete(work.membership, rid)
		}
	}
	for _, s := range adds {
		work.membership[s.ID] = s
		mark(s.Proj)
	}

	work.Version++
	work.UpdatedAt = time.Now().UTC()

	var scope map[float64]map[CellKey]bool
	if !created {
		scope = affected
	}
	recomputed := work.recompute(policy, scope)

	if g.failTile != nil {
		if err := g.failTile(id); err != nil {
			return err
		}
	}

	// Commit.
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, rid := range rems {
		delete(g.index, rid)
	}

	if work.Len() == 0 {
		delete(g.tiles, id)
		delete(g.extremeCache, id)
		result.Deleted = append(result.Deleted, id)
		if g.store != nil {
			if err := g.store.Delete(ctx, id); err != nil {
				g.logger.Warn("failed to delete flushed tile", "tile", id.String(), "error", err)
			}
		}
		g.logger.Debug("tile deleted", "tile", id.String())
		return nil
	}

	g.tiles[id] = work
	for _, s := range adds {
		g.index[s.ID] = id
	}
	if tmin, tmax, ok := work.extremes(); ok {
		g.extremeCache[id] = [2]float64{tmin, tmax}
	} else {
		delete(g.extremeCache, id)
	}

	if created {
		result.Created = append(result.Created, id)
	} else {
		result.Updated = append(result.Updated, id)
	}
	result.CellsRecomputed += recomputed
	g.metrics.TilesRecomputed.Inc()
	return nil
}

// loadTile returns the in-memory tile, falling back to the store for tiles
// evicted after a batch flush. Callers hold the tile lock.
func (g *Grid) loadTile(ctx context.Context, id TileID) (*Tile, error) {
	g.mu.Lock()
	t := g.tiles[id]
	g.mu.Unlock()
	if t != nil || g.store == nil {
		return t, nil
	}
	s, err := g.store.Get(ctx, id)
	if errors.Is(err, ErrTileNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t = restore(s)
	g.mu.Lock()
	g.tiles[id] = t
	g.mu.Unlock()
	return t, nil
}

// settleExtremes updates the running global extremes after a delta. Growth
// is incremental; shrink at a holder tile forces the flagged full rescan
// over the per-tile extreme cache.
func (g *Grid) settleExtremes(result *DeltaResult) {
	g.mu.Lock()
	defer g.mu.Unlock()

	needRescan := false
	if g.hasExtremes {
		check := func(id TileID) {
			ext, ok := g.extremeCache[id]
			if id == g.minHolder && (!ok || ext[0] > g.minDepth) {
				needRescan = true
			}
			if id == g.maxHolder && (!ok || ext[1] < g.maxDepth) {
				needRescan = true
			}
		}
		for _, id := range result.Deleted {
			check(id)
		}
		for _, id := range result.Updated {
			check(id)
		}
	}

	if needRescan || !g.hasExtremes {
		g.rescanExtremesLocked()
		if needRescan {
			result.FullRescan = true
			g.metrics.ExtremeRescans.Inc()
			g.logger.Warn("global extreme removed, full tile rescan performed",
				"tiles", len(g.extremeCache))
		}
		return
	}

	// Incremental growth from created and updated tiles.
	for _, ids := range [][]TileID{result.Created, result.Updated} {
		for _, id := range ids {
			ext, ok := g.extremeCache[id]
			if !ok {
				continue
			}
			if ext[0] < g.minDepth {
				g.minDepth = ext[0]
				g.minHolder = id
			}
			if ext[1] > g.maxDepth {
				g.maxDepth = ext[1]
				g.maxHolder = id
			}
		}
	}
}

func (g *Grid) rescanExtremesLocked() {
	g.hasExtremes = false
	for id, ext := range g.extremeCache {
		if !g.hasExtremes {
			g.minDepth, g.maxDepth = ext[0], ext[1]
			g.minHolder, g.maxHolder = id, id
			g.hasExtremes = true
			continue
		}
		if ext[0] < g.minDepth {
			g.minDepth = ext[0]
			g.minHolder = id
		}
		if ext[1] > g.maxDepth {
			g.maxDepth = ext[1]
			g.maxHolder = id
		}
	}
	if !g.hasExtremes {
		g.minDepth, g.maxDepth = 0, 0
	}
}

// RegridResult reports the outcome of a regrid request per tile.
type RegridResult struct {
	Recomputed []TileID
	UpToDate   []TileID
}

// Regrid recomputes the tiles a container's soundings fall into. When the
// tile was updated after the container's last data change and force is
// false, the tile is skipped and reported as up to date. The force flag
// comes from configuration and wins over the skip rule.
func (g *Grid) Regrid(ctx context.Context, soundings []core.Sounding, lastDataChange time.Time, policy ResolutionPolicy, force bool) (*RegridResult, error) {
	result := &RegridResult{}

	touched := make(map[TileID]bool)
	for _, s := range soundings {
		touched[tileIDFor(s.Proj, g.tileSize)] = true
	}

	for _, id := range sortedTileIDs(touched) {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		lk := g.lockFor(id)
		lk.Lock()

		cur, err := g.loadTile(ctx, id)
		if err != nil {
			lk.Unlock()
			return result, err
		}
		if cur == nil {
			lk.Unlock()
			continue
		}
		if !force && cur.UpdatedAt.After(lastDataChange) {
			result.UpToDate = append(result.UpToDate, id)
			g.metrics.TilesSkipped.Inc()
			lk.Unlock()
			continue
		}

		work := cur.clone()
		work.Version++
		work.UpdatedAt = time.Now().UTC()
		work.recompute(policy, nil)

		g.mu.Lock()
		g.tiles[id] = work
		if tmin, tmax, ok := work.extremes(); ok {
			g.extremeCache[id] = [2]float64{tmin, tmax}
		}
		g.mu.Unlock()
		lk.Unlock()

		result.Recomputed = append(result.Recomputed, id)
		g.metrics.TilesRecomputed.Inc()
	}
	return result, nil
}

// Aggregate grids a large set of soundings in tile batches sized to a
// memory budget: each batch's tiles are computed in parallel, flushed to
// the tile store, and evicted before the next batch starts, bounding peak
// memory to one batch regardless of survey size. Requires a store.
func (g *Grid) Aggregate(ctx context.Context, added []core.Sounding, policy ResolutionPolicy, batchTiles int) (*DeltaResult, error) {
	if g.store == nil {
		return nil, fmt.Errorf("aggregate requires a tile store")
	}
	if batchTiles < 1 {
		batchTiles = 16
	}

	adds := make(map[TileID][]core.Sounding)
	for _, s := range added {
		id := tileIDFor(s.Proj, g.tileSize)
		adds[id] = append(adds[id], s)
	}
	order := make([]TileID, 0, len(adds))
	for id := range adds {
		order = append(order, id)
	}
	sort.Slice(order, func(i, j int) bool { return lessTileID(order[i], order[j]) })

	total := &DeltaResult{}
	var resultMu sync.Mutex

	for start := 0; start < len(order); start += batchTiles {
		end := start + batchTiles
		if end > len(order) {
			end = len(order)
		}
		batch := order[start:end]

		eg, egCtx := errgroup.WithContext(ctx)
		for _, id := range batch {
			id := id
			eg.Go(func() error {
				partial := &DeltaResult{}
				if err := g.applyTile(egCtx, id, adds[id], nil, policy, partial); err != nil {
					return err
				}
				resultMu.Lock()
				total.Created = append(total.Created, partial.Created...)
				total.Updated = append(total.Updated, partial.Updated...)
				total.CellsRecomputed += partial.CellsRecomputed
				resultMu.Unlock()
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			return total, fmt.Errorf("aggregate batch: %w", err)
		}

		// Flush, then evict the batch before computing the next one.
		for _, id := range batch {
			g.mu.Lock()
			t := g.tiles[id]
			g.mu.Unlock()
			if t == nil {
				continue
			}
			if err := g.store.Put(ctx, t.snapshot()); err != nil {
				return total, fmt.Errorf("flush tile %s: %w", id, err)
			}
			g.mu.Lock()
			delete(g.tiles, id)
			g.mu.Unlock()
		}
		g.metrics.BatchFlushes.Inc()
		g.logger.Debug("aggregation batch flushed", "tiles", len(batch))
	}

	g.settleExtremes(total)
	return total, nil
}

func sortedTileIDs(set map[TileID]bool) []TileID {
	out := make([]TileID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return lessTileID(out[i], out[j]) })
	return out
}

func lessTileID(a, b TileID) bool {
	if a.X != b.X {
		return a.X < b.X
	}
	return a.Y < b.Y
}
