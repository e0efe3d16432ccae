// Package commands implements the swath subcommands.
package commands

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/coastwise/swath/internal/cli/config"
	"github.com/coastwise/swath/internal/container"
	"github.com/coastwise/swath/internal/grid"
	"github.com/coastwise/swath/internal/process"
	"github.com/coastwise/swath/internal/project"
	"github.com/coastwise/swath/internal/registry"
	"github.com/coastwise/swath/internal/state"
	"github.com/coastwise/swath/internal/storage"
	"github.com/coastwise/swath/pkg/core"
)

// session bundles the stores and project a command operates on.
type session struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *state.SQLiteStore
	reg    *registry.Registry
	proj   *project.Project
}

// openSession opens the state database, replays the persisted registry, and
// loads the project file.
func openSession(cmd *cobra.Command) (*session, error) {
	cfg := config.GetCurrentConfig()
	if cfg == nil {
		return nil, fmt.Errorf("no configuration loaded")
	}
	logger := config.GetLogger(cmd.Context())

	store, err := openState(cfg)
	if err != nil {
		return nil, err
	}

	reg := registry.New(logger)
	if err := replayRegistry(store, reg); err != nil {
		_ = store.Close()
		return nil, err
	}

	proj, err := project.Load(cfg.ProjectFile, reg, logger)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("load project %s: %w", cfg.ProjectFile, err)
	}

	s := &session{cfg: cfg, logger: logger, store: store, reg: reg, proj: proj}
	if err := s.hydrateContainers(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *session) Close() {
	if s.proj != nil {
		_ = s.proj.Close()
	}
	if s.store != nil {
		_ = s.store.Close()
	}
}

// openState opens or creates the state database.
func openState(cfg *config.Config) (*state.SQLiteStore, error) {
	stateDir := filepath.Dir(cfg.StatePath)
	if stateDir != "." && stateDir != "" {
		if err := os.MkdirAll(stateDir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create state directory: %w", err)
		}
	}

	store := state.NewSQLiteStore()
	if err := store.Open(cfg.StatePath); err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}
	if err := store.Migrate(); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to migrate state database: %w", err)
	}
	return store, nil
}

// replayRegistry rebuilds the in-memory registry from the persisted log.
// Entries replay in creation order, so supersession resolves the same way
// it did originally.
func replayRegistry(store state.Store, reg *registry.Registry) error {
	recs, err := store.LoadRegistryEntries()
	if err != nil {
		return fmt.Errorf("load registry entries: %w", err)
	}
	for _, r := range recs {
		_, err := reg.Add(registry.Entry{
			ID:          r.ID,
			Kind:        r.Kind,
			Serial:      r.Serial,
			Identifier:  r.Identifier,
			Interval:    r.Interval,
			Fingerprint: r.Fingerprint,
			CreatedAt:   r.CreatedAt,
			Superseded:  r.Superseded,
		})
		if err != nil {
			return fmt.Errorf("replay registry entry %s: %w", r.ID, err)
		}
	}
	return nil
}

// saveRegistry persists the full registry log, superseded entries included.
func (s *session) saveRegistry() error {
	entries := s.reg.All()
	recs := make([]state.RegistryEntryRecord, 0, len(entries))
	for _, e := range entries {
		recs = append(recs, state.RegistryEntryRecord{
			ID:          e.ID,
			Kind:        e.Kind,
			Serial:      e.Serial,
			Identifier:  e.Identifier,
			Interval:    e.Interval,
			Fingerprint: e.Fingerprint,
			CreatedAt:   e.CreatedAt,
			Superseded:  e.Superseded,
		})
	}
	return s.store.SaveRegistryEntries(recs)
}

// hydrateContainers restores persisted stage state and time coverage onto
// the freshly loaded containers so staleness evaluates correctly without
// re-reading the raw data.
func (s *session) hydrateContainers() error {
	for _, c := range s.proj.Containers() {
		rec, err := s.store.GetContainer(c.ID)
		if err != nil {
			return fmt.Errorf("load container %s: %w", c.ID, err)
		}
		if rec != nil {
			// The project file does not carry the serial; the state store does.
			c.SerialNumber = rec.SerialNumber
			c.Restore(rec.TimeRange, rec.Extent, rec.LastDataChange)
		}

		for _, stage := range core.Pipeline() {
			run, err := s.store.LatestStageRun(c.ID, stage)
			if err != nil {
				return fmt.Errorf("load stage runs for %s: %w", c.ID, err)
			}
			if run == nil {
				continue
			}
			sr := container.StageRecord{
				Status:      run.Status,
				Fingerprint: run.Fingerprint,
				LastRun:     run.StartedAt,
				Error:       run.Error,
			}
			if run.CompletedAt != nil {
				sr.LastRun = *run.CompletedAt
			}
			c.RestoreStage(stage, sr)
		}
	}
	return nil
}

// persistContainer writes a container's summary back to the state store.
func (s *session) persistContainer(c *container.Container) error {
	extent, _ := c.Extent()
	return s.store.SaveContainer(state.ContainerRecord{
		ID:             c.ID,
		SerialNumber:   c.SerialNumber,
		TimeRange:      c.TimeRange(),
		LastDataChange: c.LastDataChange(),
		Extent:         extent,
	})
}

// openBackend opens the configured record storage backend wrapped with
// transient-failure retries.
func (s *session) openBackend() (storage.Backend, error) {
	storageDir := filepath.Dir(s.cfg.Storage.Path)
	if s.cfg.Storage.Path != ":memory:" && storageDir != "." && storageDir != "" {
		if err := os.MkdirAll(storageDir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create storage directory: %w", err)
		}
	}
	b, err := storage.New(s.cfg.Storage, s.logger)
	if err != nil {
		return nil, err
	}
	return storage.WithRetry(b, s.logger), nil
}

// tileDir returns the grid tile store directory.
func (s *session) tileDir() string {
	if s.cfg.Grid.TileDir != "" {
		return s.cfg.Grid.TileDir
	}
	return filepath.Join(s.cfg.ProjectRoot, ".swath", "tiles")
}

// openSurface opens the project's working surface over the file tile store.
func (s *session) openSurface() (*grid.Grid, error) {
	tiles, err := grid.NewFileTileStore(s.tileDir())
	if err != nil {
		return nil, err
	}
	return grid.New(grid.Config{
		TileSize:    s.cfg.Grid.TileSize,
		VerticalRef: s.cfg.Transform.VerticalRef,
		CRS:         s.proj.CRS(),
		Store:       tiles,
		Logger:      s.logger,
	})
}

// resolutionPolicy builds the configured grid resolution policy.
func resolutionPolicy(cfg *config.Config) grid.ResolutionPolicy {
	switch cfg.Grid.Policy {
	case "fixed":
		return grid.FixedResolution{Meters: cfg.Grid.Resolution}
	case "density":
		return grid.DensityResolution{}
	default:
		return grid.DepthResolution{}
	}
}

// newProcessor wires the stage executors for this session.
func (s *session) newProcessor(surface *grid.Grid) (*process.Processor, storage.Backend, error) {
	backend, err := s.openBackend()
	if err != nil {
		return nil, nil, err
	}
	proc, err := process.New(process.Config{
		Backend:            backend,
		Registry:           s.reg,
		Surface:            surface,
		Policy:             resolutionPolicy(s.cfg),
		UTMZone:            s.cfg.Transform.UTMZone,
		NorthernHemisphere: s.cfg.Transform.NorthernHemisphere,
		VerticalRef:        s.cfg.Transform.VerticalRef,
		ForceRegrid:        s.cfg.Grid.ForceRegrid,
		Logger:             s.logger,
	})
	if err != nil {
		return nil, nil, err
	}
	return proc, backend, nil
}

// selectContainers filters project containers by line name; empty selects
// all, sorted by id.
func (s *session) selectContainers(lines []string) ([]*container.Container, error) {
	if len(lines) == 0 {
		return s.proj.Containers(), nil
	}
	out := make([]*container.Container, 0, len(lines))
	for _, line := range lines {
		c, ok := s.proj.Container(line)
		if !ok {
			return nil, fmt.Errorf("unknown line %q", line)
		}
		out = append(out, c)
	}
	return out, nil
}
