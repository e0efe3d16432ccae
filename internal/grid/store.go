package grid

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/coastwise/swath/pkg/core"
)

// ErrTileNotFound is returned by Get for tiles never flushed.
var ErrTileNotFound = errors.New("tile not found")

// TileSnapshot is the persistent form of a tile.
type TileSnapshot struct {
	ID         TileID          `json:"id"`
	TileSize   float64         `json:"tile_size"`
	Version    uint64          `json:"version"`
	UpdatedAt  time.Time       `json:"updated_at"`
	Membership []core.Sounding `json:"membership"`
	Layers     []LayerSnapshot `json:"layers"`
}

// LayerSnapshot is the persistent form of one resolution layer.
type LayerSnapshot struct {
	Resolution float64        `json:"resolution"`
	Cells      []CellSnapshot `json:"cells"`
}

// CellSnapshot is one populated cell.
type CellSnapshot struct {
	Row  int32 `json:"row"`
	Col  int32 `json:"col"`
	Cell Cell  `json:"cell"`
}

// snapshot converts a tile for persistence.
func (t *Tile) snapshot() *TileSnapshot {
	s := &TileSnapshot{
		ID:        t.ID,
		TileSize:  t.tileSize,
		Version:   t.Version,
		UpdatedAt: t.UpdatedAt,
	}
	for _, m := range t.membership {
		s.Membership = append(s.Membership, m)
	}
	for res, l := range t.layers {
		ls := LayerSnapshot{Resolution: res}
		for k, c := range l.Cells {
			ls.Cells = append(ls.Cells, CellSnapshot{Row: k.Row, Col: k.Col, Cell: *c})
		}
		s.Layers = append(s.Layers, ls)
	}
	return s
}

// restore rebuilds a tile from its snapshot.
func restore(s *TileSnapshot) *Tile {
	t := newTile(s.ID, s.TileSize)
	t.Version = s.Version
	t.UpdatedAt = s.UpdatedAt
	for _, m := range s.Membership {
		t.membership[m.ID] = m
	}
	for _, ls := range s.Layers {
		layer := &Layer{Resolution: ls.Resolution, Cells: make(map[CellKey]*Cell, len(ls.Cells))}
		for _, cs := range ls.Cells {
			c := cs.Cell
			layer.Cells[CellKey{Row: cs.Row, Col: cs.Col}] = &c
		}
		t.layers[ls.Resolution] = layer
	}
	return t
}

// TileStore persists tile snapshots between aggregation batches and across
// sessions.
type TileStore interface {
	Put(ctx context.Context, s *TileSnapshot) error
	Get(ctx context.Context, id TileID) (*TileSnapshot, error)
	Delete(ctx context.Context, id TileID) error
	List(ctx context.Context) ([]TileID, error)
}

// MemoryTileStore keeps snapshots in memory. Used in tests and for
// ephemeral grids.
type MemoryTileStore struct {
	mu    sync.RWMutex
	tiles map[TileID]*TileSnapshot
}

// NewMemoryTileStore creates an empty in-memory store.
func NewMemoryTileStore() *MemoryTileStore {
	return &MemoryTileStore{tiles: make(map[TileID]*TileSnapshot)}
}

func (m *MemoryTileStore) Put(_ context.Context, s *TileSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tiles[s.ID] = s
	return nil
}

func (m *MemoryTileStore) Get(_ context.Context, id TileID) (*TileSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.tiles[id]
	if !ok {
		return nil, ErrTileNotFound
	}
	return s, nil
}

func (m *MemoryTileStore) Delete(_ context.Context, id TileID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tiles, id)
	return nil
}

func (m *MemoryTileStore) List(_ context.Context) ([]TileID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]TileID, 0, len(m.tiles))
	for id := range m.tiles {
		out = append(out, id)
	}
	return out, nil
}

// FileTileStore persists one JSON file per tile under a directory.
type FileTileStore struct {
	dir string
}

// NewFileTileStore creates the directory if needed.
func NewFileTileStore(dir string) (*FileTileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create tile store dir: %w", err)
	}
	return &FileTileStore{dir: dir}, nil
}

func (f *FileTileStore) path(id TileID) string {
	return filepath.Join(f.dir, id.String()+".json")
}

func (f *FileTileStore) Put(_ context.Context, s *TileSnapshot) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode tile %s: %w", s.ID, err)
	}
	tmp := f.path(s.ID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("%w: %v", core.ErrStorageWrite, err)
	}
	if err := os.Rename(tmp, f.path(s.ID)); err != nil {
		return fmt.Errorf("%w: %v", core.ErrStorageWrite, err)
	}
	return nil
}

func (f *FileTileStore) Get(_ context.Context, id TileID) (*TileSnapshot, error) {
	data, err := os.ReadFile(f.path(id))
	if os.IsNotExist(err) {
		return nil, ErrTileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read tile %s: %w", id, err)
	}
	var s TileSnapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode tile %s: %w", id, err)
	}
	return &s, nil
}

func (f *FileTileStore) Delete(_ context.Context, id TileID) error {
	err := os.Remove(f.path(id))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (f *FileTileStore) List(_ context.Context) ([]TileID, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, err
	}
	var out []TileID
	for _, e := range entries {
		var id TileID
		if _, err := fmt.Sscanf(e.Name(), "t_%d_%d.json", &id.X, &id.Y); err == nil {
			out = append(out, id)
		}
	}
	return out, nil
}
