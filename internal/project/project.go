// Package project holds the top-level aggregate: the set of survey line
// containers, grid surfaces, the dependency source registry, project
// settings, and the project file on disk. Spatial line queries run through
// the geohash index with an exact geometry confirmation pass.
package project

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/coastwise/swath/internal/container"
	"github.com/coastwise/swath/internal/geohash"
	"github.com/coastwise/swath/internal/grid"
	"github.com/coastwise/swath/internal/registry"
	"github.com/coastwise/swath/internal/spatial"
	"github.com/coastwise/swath/internal/vessel"
	"github.com/coastwise/swath/pkg/core"
)

// DefaultGeohashPrecision gives cells of roughly 150m, a good prune
// granularity for survey lines.
const DefaultGeohashPrecision = 7

// Observer is notified when containers come and go.
type Observer interface {
	ContainerAdded(id string)
	ContainerRemoved(id string)
}

// Config parameterizes a new project.
type Config struct {
	Name        string
	Path        string // project file path (swath.json)
	CRS         string
	VerticalRef string
	// GeohashPrecision is fixed for the life of the project.
	GeohashPrecision int
	Registry         *registry.Registry
	Logger           *slog.Logger
}

// Project is the aggregate root.
type Project struct {
	mu sync.RWMutex

	name        string
	path        string
	crs         string
	verticalRef string
	precision   int

	containers     map[string]*container.Container
	containerPaths map[string]string
	surfaces       map[string]*grid.Grid
	surfacePaths   map[string]string
	vesselFile     string
	settings       map[string]any

	reg       *registry.Registry
	logger    *slog.Logger
	observers []Observer
	watcher   *Watcher
}

// New creates an empty project.
func New(cfg Config) *Project {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	precision := cfg.GeohashPrecision
	if precision <= 0 {
		precision = DefaultGeohashPrecision
	}
	reg := cfg.Registry
	if reg == nil {
		reg = registry.New(logger)
	}
	return &Project{
		name:           cfg.Name,
		path:           cfg.Path,
		crs:            cfg.CRS,
		verticalRef:    cfg.VerticalRef,
		precision:      precision,
		containers:     make(map[string]*container.Container),
		containerPaths: make(map[string]string),
		surfaces:       make(map[string]*grid.Grid),
		surfacePaths:   make(map[string]string),
		settings:       make(map[string]any),
		reg:            reg,
		logger:         logger,
	}
}

func (p *Project) Name() string                 { return p.name }
func (p *Project) CRS() string                  { return p.crs }
func (p *Project) VerticalRef() string          { return p.verticalRef }
func (p *Project) GeohashPrecision() int        { return p.precision }
func (p *Project) Registry() *registry.Registry { return p.reg }

// Subscribe registers an observer for container membership changes.
func (p *Project) Subscribe(o Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers = append(p.observers, o)
}

// AddContainer registers a survey line container. The data path is the
// container's record store location, kept relative to the project file on
// save.
func (p *Project) AddContainer(c *container.Container, dataPath string) error {
	p.mu.Lock()
	if _, exists := p.containers[c.ID]; exists {
		p.mu.Unlock()
		return fmt.Errorf("container %s already in project", c.ID)
	}
	p.containers[c.ID] = c
	p.containerPaths[c.ID] = dataPath
	observers := append([]Observer(nil), p.observers...)
	p.mu.Unlock()

	p.logger.Info("container added", "container", c.ID, "serial", c.SerialNumber)
	for _, o := range observers {
		o.ContainerAdded(c.ID)
	}
	return nil
}

// RemoveContainer drops a container from the project. Its data on disk is
// left alone.
func (p *Project) RemoveContainer(id string) error {
	p.mu.Lock()
	if _, exists := p.containers[id]; !exists {
		p.mu.Unlock()
		return fmt.Errorf("container %s not in project", id)
	}
	delete(p.containers, id)
	delete(p.containerPaths, id)
	observers := append([]Observer(nil), p.observers...)
	p.mu.Unlock()

	p.logger.Info("container removed", "container", id)
	for _, o := range observers {
		o.ContainerRemoved(id)
	}
	return nil
}

// Container returns a container by id.
func (p *Project) Container(id string) (*container.Container, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.containers[id]
	return c, ok
}

// Containers returns all containers sorted by id.
func (p *Project) Containers() []*container.Container {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*container.Container, 0, len(p.containers))
	for _, c := range p.containers {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SortedLines returns the survey line names in order.
func (p *Project) SortedLines() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.containers))
	for id := range p.containers {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// LineOwner returns the container owning a survey line.
func (p *Project) LineOwner(line string) (*container.Container, bool) {
	return p.Container(line)
}

// ContainersBySerial returns the containers recorded by a sonar serial
// number, sorted by id.
func (p *Project) ContainersBySerial(serial string) []*container.Container {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []*container.Container
	for _, c := range p.containers {
		if c.SerialNumber == serial {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ContainerBySerial returns the container recorded by a serial number whose
// coverage contains the instant t.
func (p *Project) ContainerBySerial(serial string, t time.Time) (*container.Container, bool) {
	for _, c := range p.ContainersBySerial(serial) {
		if c.TimeRange().Contains(t) {
			return c, true
		}
	}
	return nil, false
}

// AddSurface registers a grid surface under a name.
func (p *Project) AddSurface(name string, g *grid.Grid, dataPath string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.surfaces[name]; exists {
		return fmt.Errorf("surface %s already in project", name)
	}
	p.surfaces[name] = g
	p.surfacePaths[name] = dataPath
	p.logger.Info("surface added", "surface", name, "tile_size", g.TileSize())
	return nil
}

// RemoveSurface drops a surface from the project.
func (p *Project) RemoveSurface(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.surfaces[name]; !exists {
		return fmt.Errorf("surface %s not in project", name)
	}
	delete(p.surfaces, name)
	delete(p.surfacePaths, name)
	p.logger.Info("surface removed", "surface", name)
	return nil
}

// Surface returns a surface by name.
func (p *Project) Surface(name string) (*grid.Grid, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	g, ok := p.surfaces[name]
	return g, ok
}

// Surfaces returns the surface names in order.
func (p *Project) Surfaces() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.surfaces))
	for name := range p.surfaces {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// AttachVesselFile records the vessel file and imports its calibrations
// into the registry.
func (p *Project) AttachVesselFile(path string) error {
	if _, err := vessel.Import(p.reg, path, p.logger); err != nil {
		return fmt.Errorf("attach vessel file: %w", err)
	}
	p.mu.Lock()
	p.vesselFile = path
	p.mu.Unlock()
	return nil
}

// PopulateVesselFile adds placeholder calibration blocks to the attached
// vessel file for any line serial it does not cover yet, then re-imports.
// New lines become processable without hand-editing the vessel file first.
func (p *Project) PopulateVesselFile() error {
	p.mu.RLock()
	path := p.vesselFile
	name := p.name
	serials := make(map[string]time.Time)
	for _, c := range p.containers {
		if c.SerialNumber == "" {
			continue
		}
		first, ok := serials[c.SerialNumber]
		tr := c.TimeRange()
		if tr.Start.IsZero() {
			continue
		}
		if !ok || tr.Start.Before(first) {
			serials[c.SerialNumber] = tr.Start
		}
	}
	p.mu.RUnlock()

	if path == "" {
		return fmt.Errorf("no vessel file attached")
	}
	changed, err := vessel.Populate(path, name, serials)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	p.logger.Info("vessel file populated with new serials", "file", path)
	if _, err := vessel.Import(p.reg, path, p.logger); err != nil {
		return fmt.Errorf("reimport vessel file: %w", err)
	}
	return nil
}

// VesselFile returns the attached vessel file path, if any.
func (p *Project) VesselFile() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.vesselFile
}

// SetSettings merges settings into the project.
func (p *Project) SetSettings(s map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k, v := range s {
		p.settings[k] = v
	}
}

// Setting returns one setting value.
func (p *Project) Setting(key string) (any, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.settings[key]
	return v, ok
}

// Close stops the source watcher if one is running.
func (p *Project) Close() error {
	p.mu.Lock()
	w := p.watcher
	p.watcher = nil
	p.mu.Unlock()
	if w != nil {
		return w.Close()
	}
	return nil
}

// Filters narrow a point query.
type Filters struct {
	// AcceptedOnly excludes rejected soundings.
	AcceptedOnly bool
	// Lines restricts the query to the named survey lines; empty means all.
	Lines []string
}

// QueryPoints returns the soundings inside a region. Candidate cells come
// from the geohash cover; interior cells are taken wholesale, boundary
// cells get the exact geometry check. An empty cover for a region that
// demonstrably intersects line extents is an index inconsistency: it is
// logged and answered with an exact full scan instead of a wrong empty
// result.
func (p *Project) QueryPoints(region core.Region, f Filters) []core.Sounding {
	cands := geohash.CoverKeys(region, p.precision)

	allKeys := make(map[string]bool, len(cands))
	boundary := make(map[string]bool)
	for key, cand := range cands {
		allKeys[key] = true
		if cand.Boundary {
			boundary[key] = true
		}
	}

	lineFilter := make(map[string]bool, len(f.Lines))
	for _, l := range f.Lines {
		lineFilter[l] = true
	}

	var out []core.Sounding
	scanned := false
	for _, c := range p.Containers() {
		if len(lineFilter) > 0 && !lineFilter[c.ID] {
			continue
		}
		extent, ok := c.Extent()
		if !ok || !spatial.BoxIntersectsRegion(extent, region) {
			continue
		}
		scanned = true

		if len(allKeys) == 0 {
			continue
		}
		for _, s := range c.SoundingsInCells(allKeys) {
			if f.AcceptedOnly && !s.Flag.Accepted() {
				continue
			}
			if boundary[s.GeohashID] && !spatial.PointInRegion(s.Pos, region) {
				continue
			}
			out = append(out, s)
		}
	}

	if len(allKeys) == 0 && scanned {
		p.logger.Warn("empty geohash cover for populated region, falling back to full scan",
			"error", core.ErrIndexInconsistency)
		return p.fullScan(region, f, lineFilter)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].ID.Line != out[j].ID.Line {
			return out[i].ID.Line < out[j].ID.Line
		}
		return out[i].ID.Seq < out[j].ID.Seq
	})
	return out
}

// fullScan is the exact fallback when the index cannot be trusted.
func (p *Project) fullScan(region core.Region, f Filters, lineFilter map[string]bool) []core.Sounding {
	var out []core.Sounding
	for _, c := range p.Containers() {
		if len(lineFilter) > 0 && !lineFilter[c.ID] {
			continue
		}
		for _, s := range c.Soundings() {
			if f.AcceptedOnly && !s.Flag.Accepted() {
				continue
			}
			if spatial.PointInRegion(s.Pos, region) {
				out = append(out, s)
			}
		}
	}
	return out
}

// SoundingsInPolygon returns the accepted soundings inside a polygon.
func (p *Project) SoundingsInPolygon(poly []core.Position) []core.Sounding {
	return p.QueryPoints(core.Region{Polygon: poly}, Filters{AcceptedOnly: true})
}

// LinesInBox returns the survey lines whose extent intersects a box.
func (p *Project) LinesInBox(b core.Box) []string {
	var out []string
	for _, c := range p.Containers() {
		extent, ok := c.Extent()
		if ok && extent.Intersects(b) {
			out = append(out, c.ID)
		}
	}
	return out
}

// --- project file ---

// fileDoc is the on-disk project file shape. Paths are relative to the
// project file's directory.
type fileDoc struct {
	Name             string            `json:"name"`
	CRS              string            `json:"coordinate_system"`
	VerticalRef      string            `json:"vertical_reference"`
	GeohashPrecision int               `json:"geohash_precision"`
	VesselFile       string            `json:"vessel_file,omitempty"`
	Containers       map[string]string `json:"containers"`
	Surfaces         map[string]string `json:"surfaces"`
	Settings         map[string]any    `json:"settings,omitempty"`
}

// Save writes the project file, merging over any unknown keys an older
// version or another tool left in it.
func (p *Project) Save() error {
	p.mu.RLock()
	path := p.path
	if path == "" {
		p.mu.RUnlock()
		return fmt.Errorf("project has no file path")
	}
	dir := filepath.Dir(path)

	doc := fileDoc{
		Name:             p.name,
		CRS:              p.crs,
		VerticalRef:      p.verticalRef,
		GeohashPrecision: p.precision,
		VesselFile:       relativeTo(dir, p.vesselFile),
		Containers:       make(map[string]string, len(p.containerPaths)),
		Surfaces:         make(map[string]string, len(p.surfacePaths)),
		Settings:         p.settings,
	}
	for id, cp := range p.containerPaths {
		doc.Containers[id] = relativeTo(dir, cp)
	}
	for name, sp := range p.surfacePaths {
		doc.Surfaces[name] = relativeTo(dir, sp)
	}
	p.mu.RUnlock()

	merged := make(map[string]any)
	if existing, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(existing, &merged); err != nil {
			p.logger.Warn("existing project file unreadable, overwriting", "path", path, "error", err)
			merged = make(map[string]any)
		}
	}
	ours, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode project: %w", err)
	}
	var oursMap map[string]any
	if err := json.Unmarshal(ours, &oursMap); err != nil {
		return err
	}
	for k, v := range oursMap {
		merged[k] = v
	}

	data, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return fmt.Errorf("encode project: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write project file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("write project file: %w", err)
	}
	p.logger.Info("project saved", "path", path)
	return nil
}

// Load reads a project file. Container and surface paths that no longer
// exist on disk are skipped with a warning; the caller reloads the
// surviving containers' data through the record store.
func Load(path string, reg *registry.Registry, logger *slog.Logger) (*Project, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read project file: %w", err)
	}
	var doc fileDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse project file %s: %w", path, err)
	}

	p := New(Config{
		Name:             doc.Name,
		Path:             path,
		CRS:              doc.CRS,
		VerticalRef:      doc.VerticalRef,
		GeohashPrecision: doc.GeohashPrecision,
		Registry:         reg,
		Logger:           logger,
	})
	if doc.Settings != nil {
		p.settings = doc.Settings
	}

	dir := filepath.Dir(path)
	for id, rel := range doc.Containers {
		abs := filepath.Join(dir, rel)
		if _, err := os.Stat(abs); err != nil {
			logger.Warn("container data missing, skipping", "container", id, "path", abs)
			continue
		}
		p.containers[id] = container.New(id, "", p.precision)
		p.containerPaths[id] = abs
	}
	for name, rel := range doc.Surfaces {
		abs := filepath.Join(dir, rel)
		if _, err := os.Stat(abs); err != nil {
			logger.Warn("surface data missing, skipping", "surface", name, "path", abs)
			continue
		}
		p.surfacePaths[name] = abs
	}

	if doc.VesselFile != "" {
		abs := filepath.Join(dir, doc.VesselFile)
		if err := p.AttachVesselFile(abs); err != nil {
			logger.Warn("vessel file could not be attached", "path", abs, "error", err)
		}
	}
	logger.Info("project loaded", "path", path,
		"containers", len(p.containers), "surfaces", len(p.surfacePaths))
	return p, nil
}

func relativeTo(dir, path string) string {
	if path == "" {
		return ""
	}
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return path
	}
	return rel
}
