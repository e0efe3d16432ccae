package project

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/coastwise/swath/internal/registry"
	"github.com/coastwise/swath/internal/svp"
	"github.com/coastwise/swath/internal/vessel"
)

// Watcher re-imports dependency source files into the registry when they
// change on disk: the vessel file and sound velocity cast files. Import
// errors (including dependency conflicts) are logged, never fatal to the
// watch loop.
type Watcher struct {
	fsw    *fsnotify.Watcher
	reg    *registry.Registry
	logger *slog.Logger

	mu          sync.Mutex
	vesselFiles map[string]bool
	castDirs    map[string]bool
}

// NewWatcher creates a stopped watcher. Call WatchVesselFile / WatchCastDir
// then Run.
func NewWatcher(reg *registry.Registry, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create source watcher: %w", err)
	}
	return &Watcher{
		fsw:         fsw,
		reg:         reg,
		logger:      logger,
		vesselFiles: make(map[string]bool),
		castDirs:    make(map[string]bool),
	}, nil
}

// WatchVesselFile watches one vessel configuration file. The containing
// directory is watched because editors replace files on save.
func (w *Watcher) WatchVesselFile(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.vesselFiles[abs] = true
	w.mu.Unlock()
	return w.fsw.Add(filepath.Dir(abs))
}

// WatchCastDir watches a directory for new or changed cast files (.yaml).
func (w *Watcher) WatchCastDir(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.castDirs[abs] = true
	w.mu.Unlock()
	return w.fsw.Add(abs)
}

// Run processes events until the context is canceled or the watcher is
// closed.
func (w *Watcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.handle(event.Name)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("source watcher error", "error", err)
		}
	}
}

func (w *Watcher) handle(path string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return
	}
	w.mu.Lock()
	isVessel := w.vesselFiles[abs]
	inCastDir := w.castDirs[filepath.Dir(abs)]
	w.mu.Unlock()

	switch {
	case isVessel:
		if _, err := vessel.Import(w.reg, abs, w.logger); err != nil {
			w.logger.Error("vessel file re-import failed", "path", abs, "error", err)
			return
		}
		w.logger.Info("vessel file re-imported", "path", abs)
	case inCastDir && isYAML(abs):
		if _, err := svp.Import(w.reg, abs, w.logger); err != nil {
			w.logger.Error("cast file import failed", "path", abs, "error", err)
			return
		}
		w.logger.Info("cast file imported", "path", abs)
	}
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// Close stops the watcher and releases its OS resources.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

// WatchSources starts the project's source watcher over the attached vessel
// file and a cast directory (either may be empty) and runs it until ctx is
// canceled.
func (p *Project) WatchSources(ctx context.Context, castDir string) error {
	w, err := NewWatcher(p.reg, p.logger)
	if err != nil {
		return err
	}
	if vf := p.VesselFile(); vf != "" {
		if err := w.WatchVesselFile(vf); err != nil {
			w.Close()
			return fmt.Errorf("watch vessel file: %w", err)
		}
	}
	if castDir != "" {
		if err := w.WatchCastDir(castDir); err != nil {
			w.Close()
			return fmt.Errorf("watch cast dir: %w", err)
		}
	}
	p.mu.Lock()
	p.watcher = w
	p.mu.Unlock()
	go w.Run(ctx)
	return nil
}
