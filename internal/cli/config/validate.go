package config

import (
	"fmt"

	"github.com/coastwise/swath/internal/transform"
)

var validPolicies = map[string]bool{
	"fixed":   true,
	"depth":   true,
	"density": true,
}

// Validate checks a loaded configuration and returns a helpful error for
// the first problem found.
func Validate(cfg *Config) error {
	if cfg.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", cfg.Workers)
	}
	if cfg.Grid.TileSize <= 0 {
		return fmt.Errorf("grid.tile_size must be positive, got %v", cfg.Grid.TileSize)
	}
	if !validPolicies[cfg.Grid.Policy] {
		return fmt.Errorf("grid.policy must be one of fixed, depth, density; got %q", cfg.Grid.Policy)
	}
	if cfg.Grid.Policy == "fixed" && cfg.Grid.Resolution <= 0 {
		return fmt.Errorf("grid.resolution must be positive for the fixed policy, got %v", cfg.Grid.Resolution)
	}
	if cfg.Grid.BatchTiles < 1 {
		return fmt.Errorf("grid.batch_tiles must be at least 1, got %d", cfg.Grid.BatchTiles)
	}
	if !transform.SupportedVerticalRef(cfg.Transform.VerticalRef) {
		return fmt.Errorf("transform.vertical_ref %q is not a supported vertical datum", cfg.Transform.VerticalRef)
	}
	if cfg.Transform.UTMZone < 0 || cfg.Transform.UTMZone > 60 {
		return fmt.Errorf("transform.utm_zone must be in [0, 60], got %d", cfg.Transform.UTMZone)
	}
	if cfg.Storage.Type == "" {
		return fmt.Errorf("storage.type must be set")
	}
	return nil
}
