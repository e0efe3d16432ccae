// Package config provides configuration management for the swath CLI:
// koanf-backed loading from file, environment, and flags, plus validation.
package config

import (
	"github.com/coastwise/swath/internal/storage"
)

// GridConfig holds grid surface settings.
type GridConfig struct {
	// TileSize is the tile edge length in meters.
	TileSize float64 `koanf:"tile_size"`
	// Policy selects the resolution policy: fixed, depth, or density.
	Policy string `koanf:"policy"`
	// Resolution is the cell size for the fixed policy.
	Resolution float64 `koanf:"resolution"`
	// ForceRegrid recomputes tiles even when the skip rule says they are
	// current.
	ForceRegrid bool `koanf:"force_regrid"`
	// BatchTiles bounds how many tiles an aggregation batch holds in
	// memory at once.
	BatchTiles int `koanf:"batch_tiles"`
	// TileDir is where flushed tiles live; empty keeps tiles in memory.
	TileDir string `koanf:"tile_dir"`
}

// TransformConfig holds coordinate system settings.
type TransformConfig struct {
	// UTMZone pins the projection zone; 0 picks it from the first
	// navigation fix.
	UTMZone int `koanf:"utm_zone"`
	// NorthernHemisphere selects the UTM band when UTMZone is pinned.
	NorthernHemisphere bool   `koanf:"northern_hemisphere"`
	VerticalRef        string `koanf:"vertical_ref"`
}

// WatchConfig holds dependency source watching settings.
type WatchConfig struct {
	// CastDir is watched for new sound velocity cast files.
	CastDir string `koanf:"cast_dir"`
}

// Config holds all CLI configuration options.
type Config struct {
	ProjectFile string          `koanf:"project_file"`
	StatePath   string          `koanf:"state_path"`
	Workers     int             `koanf:"workers"`
	Verbose     bool            `koanf:"verbose"`
	Grid        GridConfig      `koanf:"grid"`
	Transform   TransformConfig `koanf:"transform"`
	Storage     storage.Config  `koanf:"storage"`
	Watch       WatchConfig     `koanf:"watch"`

	// ProjectRoot is the directory configuration was anchored to.
	ProjectRoot string `koanf:"-"`
}

// Default configuration values.
const (
	DefaultProjectFile = "swath.json"
	DefaultStateFile   = ".swath/state.db"
	DefaultWorkers     = 4
	DefaultTileSize    = 128.0
	DefaultPolicy      = "depth"
	DefaultBatchTiles  = 64
	DefaultVerticalRef = "MLLW"
	DefaultStorageType = "sqlite"
	DefaultStoragePath = ".swath/records.db"
)
