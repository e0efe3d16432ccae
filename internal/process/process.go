// Package process implements the pipeline stage executors: the code the
// scheduler dispatches to when a stage must run for a container. Stages
// read converted records from the chunked store, validate their dependency
// inputs against the registry, georeference through the transform service,
// and fold soundings into the grid surface.
package process

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coastwise/swath/internal/container"
	"github.com/coastwise/swath/internal/grid"
	"github.com/coastwise/swath/internal/intel"
	"github.com/coastwise/swath/internal/registry"
	"github.com/coastwise/swath/internal/storage"
	"github.com/coastwise/swath/internal/transform"
	"github.com/coastwise/swath/pkg/core"
)

// Record store key suffixes per container.
const (
	pingStream     = "/pings"
	soundingStream = "/soundings"
)

// wideRange covers any survey the store can hold.
var wideRange = core.TimeRange{
	Start: time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC),
	End:   time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC),
}

// RawSounding is a converted but not yet georeferenced depth measurement,
// as written to the record store by conversion.
type RawSounding struct {
	Time  time.Time     `json:"time"`
	Pos   core.Position `json:"pos"`
	Depth float64       `json:"depth"`
	TVU   float64       `json:"tvu"`
	THU   float64       `json:"thu"`
}

// Config holds processor construction parameters.
type Config struct {
	Backend  storage.Backend
	Registry *registry.Registry
	Surface  *grid.Grid
	Policy   grid.ResolutionPolicy
	// UTMZone pins the projection; 0 derives it from the first position.
	UTMZone            int
	NorthernHemisphere bool
	VerticalRef        string
	// ForceRegrid recomputes grid tiles even when the tile was updated
	// after the line's last data change.
	ForceRegrid bool
	Logger      *slog.Logger
}

// Processor owns the stage executors for one project.
type Processor struct {
	backend storage.Backend
	reg     *registry.Registry
	surface *grid.Grid
	policy  grid.ResolutionPolicy
	logger  *slog.Logger

	zone        int
	north       bool
	verticalRef string
	forceRegrid bool

	mu  sync.Mutex
	svc transform.Service
}

// New creates a processor.
func New(cfg Config) (*Processor, error) {
	if cfg.Backend == nil {
		return nil, fmt.Errorf("processor requires a storage backend")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("processor requires a registry")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	policy := cfg.Policy
	if policy == nil {
		policy = grid.DepthResolution{}
	}
	return &Processor{
		backend:     cfg.Backend,
		reg:         cfg.Registry,
		surface:     cfg.Surface,
		policy:      policy,
		logger:      logger,
		zone:        cfg.UTMZone,
		north:       cfg.NorthernHemisphere,
		verticalRef: cfg.VerticalRef,
		forceRegrid: cfg.ForceRegrid,
	}, nil
}

// Executors returns the stage executor map for the scheduler.
func (p *Processor) Executors() map[core.Stage]intel.Executor {
	return map[core.Stage]intel.Executor{
		core.StageConvert:       intel.ExecutorFunc(p.convert),
		core.StageOrientation:   intel.ExecutorFunc(p.orientation),
		core.StageSoundVelocity: intel.ExecutorFunc(p.soundVelocity),
		core.StageGeoreference:  intel.ExecutorFunc(p.georeference),
		core.StageGrid:          intel.ExecutorFunc(p.gridStage),
	}
}

// convert loads the converted ping records for the line from the record
// store. A line with no records is unavailable input, not an empty success.
func (p *Processor) convert(ctx context.Context, c *container.Container, _ intel.Action) error {
	recs, err := p.backend.Read(ctx, c.ID+pingStream, wideRange)
	if err != nil {
		return fmt.Errorf("read ping records for %s: %w", c.ID, err)
	}
	if len(recs) == 0 {
		return fmt.Errorf("%w: no converted ping records for line %s", core.ErrInputUnavailable, c.ID)
	}

	pings := make([]core.PingRecord, 0, len(recs))
	for _, r := range recs {
		var ping core.PingRecord
		if err := json.Unmarshal(r.Payload, &ping); err != nil {
			return fmt.Errorf("decode ping record %s/%d: %w", c.ID, r.Seq, err)
		}
		pings = append(pings, ping)
	}
	c.SetPings(pings)
	p.logger.Debug("pings loaded", "container", c.ID, "pings", len(pings))
	return nil
}

// orientation verifies a vessel calibration covers the line.
func (p *Processor) orientation(_ context.Context, c *container.Container, _ intel.Action) error {
	entries := p.activeEntries(c, core.SourceVessel)
	if len(entries) == 0 {
		return fmt.Errorf("%w: no vessel calibration covers line %s (serial %s, %s)",
			core.ErrInputUnavailable, c.ID, c.SerialNumber, c.TimeRange())
	}
	p.logger.Debug("orientation applied", "container", c.ID, "calibrations", len(entries))
	return nil
}

// soundVelocity verifies a cast covers the line.
func (p *Processor) soundVelocity(_ context.Context, c *container.Container, _ intel.Action) error {
	entries := p.activeEntries(c, core.SourceSVP)
	if len(entries) == 0 {
		return fmt.Errorf("%w: no sound velocity cast covers line %s (%s)",
			core.ErrInputUnavailable, c.ID, c.TimeRange())
	}
	p.logger.Debug("sound velocity applied", "container", c.ID, "casts", len(entries))
	return nil
}

// georeference reads the raw soundings, projects them into the project
// coordinate system, and installs them on the container.
func (p *Processor) georeference(ctx context.Context, c *container.Container, _ intel.Action) error {
	recs, err := p.backend.Read(ctx, c.ID+soundingStream, wideRange)
	if err != nil {
		return fmt.Errorf("read sounding records for %s: %w", c.ID, err)
	}
	if len(recs) == 0 {
		return fmt.Errorf("%w: no sounding records for line %s", core.ErrInputUnavailable, c.ID)
	}

	soundings := make([]core.Sounding, 0, len(recs))
	for _, r := range recs {
		var raw RawSounding
		if err := json.Unmarshal(r.Payload, &raw); err != nil {
			return fmt.Errorf("decode sounding record %s/%d: %w", c.ID, r.Seq, err)
		}

		svc, err := p.service(raw.Pos)
		if err != nil {
			return err
		}
		proj, err := svc.Forward(raw.Pos)
		if err != nil {
			return fmt.Errorf("georeference %s/%d: %w", c.ID, r.Seq, err)
		}
		soundings = append(soundings, core.Sounding{
			ID:    core.SoundingID{Line: c.ID, Seq: r.Seq},
			Time:  raw.Time,
			Pos:   raw.Pos,
			Proj:  proj,
			Depth: raw.Depth,
			TVU:   raw.TVU,
			THU:   raw.THU,
			Flag:  core.FlagAccepted,
		})
	}
	c.SetSoundings(soundings)
	p.logger.Debug("soundings georeferenced", "container", c.ID, "soundings", len(soundings))
	return nil
}

// gridStage replaces the line's contribution to the surface: the previous
// membership comes out, the current soundings go in, in one delta.
func (p *Processor) gridStage(ctx context.Context, c *container.Container, _ intel.Action) error {
	if p.surface == nil {
		return fmt.Errorf("no grid surface attached")
	}
	removed := p.surface.SoundingIDsForLine(c.ID)
	current := c.Soundings()

	// Unchanged membership takes the regrid path so untouched tiles can be
	// skipped; anything else is a delta.
	if len(removed) > 0 && len(removed) == len(current) {
		res, err := p.surface.Regrid(ctx, current, c.LastDataChange(), p.policy, p.forceRegrid)
		if err != nil {
			return fmt.Errorf("regrid line %s: %w", c.ID, err)
		}
		p.logger.Debug("line regridded", "container", c.ID,
			"recomputed", len(res.Recomputed), "up_to_date", len(res.UpToDate))
		return nil
	}

	res, err := p.surface.ApplyDelta(ctx, current, removed, p.policy)
	if err != nil {
		return fmt.Errorf("grid line %s: %w", c.ID, err)
	}
	p.logger.Debug("line gridded", "container", c.ID,
		"created", len(res.Created), "updated", len(res.Updated), "deleted", len(res.Deleted))
	return nil
}

// Hydrate reconstructs a container's in-memory pings and soundings from the
// record store without touching stage state. Query commands use it to answer
// spatial queries in a fresh session.
func (p *Processor) Hydrate(ctx context.Context, c *container.Container) error {
	if err := p.convert(ctx, c, intel.Action{}); err != nil {
		return err
	}
	return p.georeference(ctx, c, intel.Action{})
}

// service returns the transform service, constructing it on first use from
// the pinned zone or the given representative position.
func (p *Processor) service(at core.Position) (transform.Service, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.svc != nil {
		return p.svc, nil
	}
	var (
		svc *transform.UTM
		err error
	)
	if p.zone > 0 {
		svc, err = transform.NewUTM(p.zone, p.north, p.verticalRef)
	} else {
		svc, err = transform.NewUTMFor(at, p.verticalRef)
	}
	if err != nil {
		return nil, err
	}
	p.svc = svc
	p.logger.Info("projection selected", "crs", svc.TargetCRS(), "vertical_ref", p.verticalRef)
	return p.svc, nil
}

func (p *Processor) activeEntries(c *container.Container, kind core.SourceKind) []registry.Entry {
	var out []registry.Entry
	for _, e := range p.reg.Matching(c.SerialNumber, c.TimeRange()) {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// WritePings stores converted ping records for a line.
func WritePings(ctx context.Context, b storage.Backend, line string, pings []core.PingRecord) error {
	recs := make([]storage.Record, 0, len(pings))
	for i, ping := range pings {
		payload, err := json.Marshal(ping)
		if err != nil {
			return fmt.Errorf("encode ping %d: %w", i, err)
		}
		recs = append(recs, storage.Record{Time: ping.Time, Seq: uint64(i), Payload: payload})
	}
	return b.Write(ctx, line+pingStream, recs)
}

// WriteRawSoundings stores converted raw soundings for a line.
func WriteRawSoundings(ctx context.Context, b storage.Backend, line string, raws []RawSounding) error {
	recs := make([]storage.Record, 0, len(raws))
	for i, raw := range raws {
		payload, err := json.Marshal(raw)
		if err != nil {
			return fmt.Errorf("encode sounding %d: %w", i, err)
		}
		recs = append(recs, storage.Record{Time: raw.Time, Seq: uint64(i), Payload: payload})
	}
	return b.Write(ctx, line+soundingStream, recs)
}
