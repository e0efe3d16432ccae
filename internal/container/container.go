// Package container holds the processing unit for one converted survey
// line: its time-ordered ping records, georeferenced soundings, and the
// per-stage processing state the scheduler reads and updates.
package container

import (
	"time"

	"github.com/coastwise/swath/internal/geohash"
	"github.com/coastwise/swath/pkg/core"
)

// StageRecord is the processing state of one pipeline stage for a container.
type StageRecord struct {
	Status core.StageStatus
	// Fingerprint is the hash of the dependency inputs the last successful
	// run used. Empty until the stage completes once.
	Fingerprint string
	LastRun     time.Time
	Error       string
}

// Container is one converted survey line. It is owned by the project and,
// during execution, mutated only by the stage action running for it; the
// scheduler and evaluator are the only other writers.
type Container struct {
	ID           string
	SerialNumber string

	stages    map[core.Stage]*StageRecord
	pings     []core.PingRecord
	soundings []core.Sounding
	byCell    map[string][]int // geohash key -> sounding indices

	timeRange      core.TimeRange
	extent         core.Box
	hasExtent      bool
	lastDataChange time.Time

	// precision is fixed for the life of the project; changing it would
	// require a full reindex of every sounding key.
	precision int
}

// New creates an empty container for a survey line.
func New(id, serialNumber string, geohashPrecision int) *Container {
	c := &Container{
		ID:           id,
		SerialNumber: serialNumber,
		stages:       make(map[core.Stage]*StageRecord),
		byCell:       make(map[string][]int),
		precision:    geohashPrecision,
	}
	for _, s := range core.Pipeline() {
		c.stages[s] = &StageRecord{Status: core.StageNotRun}
	}
	return c
}

// Precision returns the fixed geohash key length for this container.
func (c *Container) Precision() int { return c.precision }

// SetPings replaces the converted ping records and updates the time range.
func (c *Container) SetPings(records []core.PingRecord) {
	c.pings = records
	if len(records) > 0 {
		c.timeRange = core.TimeRange{
			Start: records[0].Time,
			End:   records[len(records)-1].Time.Add(time.Nanosecond),
		}
	} else {
		c.timeRange = core.TimeRange{}
	}
	c.lastDataChange = time.Now().UTC()
}

// Pings returns the converted ping records.
func (c *Container) Pings() []core.PingRecord { return c.pings }

// SetSoundings replaces the georeferenced soundings, rebuilding the geohash
// cell index and the spatial extent.
func (c *Container) SetSoundings(ss []core.Sounding) {
	c.soundings = ss
	c.byCell = make(map[string][]int, len(ss)/8+1)
	c.extent = core.Box{}
	c.hasExtent = false
	for i := range c.soundings {
		s := &c.soundings[i]
		if s.GeohashID == "" {
			s.GeohashID = geohash.Encode(s.Pos.Lat, s.Pos.Lon, c.precision)
		}
		c.byCell[s.GeohashID] = append(c.byCell[s.GeohashID], i)
		if !c.hasExtent {
			c.extent = core.Box{MinLat: s.Pos.Lat, MaxLat: s.Pos.Lat, MinLon: s.Pos.Lon, MaxLon: s.Pos.Lon}
			c.hasExtent = true
		} else {
			c.extent.Extend(s.Pos)
		}
	}
	c.lastDataChange = time.Now().UTC()
}

// Soundings returns all soundings of the line.
func (c *Container) Soundings() []core.Sounding { return c.soundings }

// SoundingsInCells returns the soundings whose geohash key is in the
// candidate set. This is the coarse prune; callers still run the exact
// geometry check for boundary cells.
func (c *Container) SoundingsInCells(keys map[string]bool) []core.Sounding {
	var out []core.Sounding
	for key, idxs := range c.byCell {
		if !keys[key] {
			continue
		}
		for _, i := range idxs {
			out = append(out, c.soundings[i])
		}
	}
	return out
}

// SetFlag re-flags one sounding by id and reports whether it was found.
// Re-flagging counts as a data change so dependent grids regrid.
func (c *Container) SetFlag(id core.SoundingID, flag core.SoundingFlag) bool {
	for i := range c.soundings {
		if c.soundings[i].ID == id {
			c.soundings[i].Flag = flag
			c.lastDataChange = time.Now().UTC()
			return true
		}
	}
	return false
}

// Stage returns a copy of the record for one stage.
func (c *Container) Stage(s core.Stage) StageRecord {
	if rec, ok := c.stages[s]; ok {
		return *rec
	}
	return StageRecord{Status: core.StageNotRun}
}

// SetStageStatus updates only the status of a stage.
func (c *Container) SetStageStatus(s core.Stage, status core.StageStatus) {
	if rec, ok := c.stages[s]; ok {
		rec.Status = status
	}
}

// CompleteStage marks a stage complete with the fingerprint of the inputs
// the run used.
func (c *Container) CompleteStage(s core.Stage, fingerprint string) {
	if rec, ok := c.stages[s]; ok {
		rec.Status = core.StageComplete
		rec.Fingerprint = fingerprint
		rec.LastRun = time.Now().UTC()
		rec.Error = ""
	}
}

// FailStage marks a stage failed. The fingerprint is left untouched so the
// stage stays stale against the same inputs.
func (c *Container) FailStage(s core.Stage, errMsg string) {
	if rec, ok := c.stages[s]; ok {
		rec.Status = core.StageFailed
		rec.LastRun = time.Now().UTC()
		rec.Error = errMsg
	}
}

// MarkStale flags a stage as stale without touching its fingerprint.
func (c *Container) MarkStale(s core.Stage) {
	if rec, ok := c.stages[s]; ok {
		rec.Status = core.StageStale
	}
}

// RestoreStage reinstates a persisted stage record. Used when a project is
// loaded from the state store; execution goes through CompleteStage and
// FailStage instead.
func (c *Container) RestoreStage(s core.Stage, rec StageRecord) {
	if _, ok := c.stages[s]; ok {
		r := rec
		c.stages[s] = &r
	}
}

// Restore reinstates persisted time coverage and extent so staleness can be
// evaluated without re-reading the raw data.
func (c *Container) Restore(tr core.TimeRange, extent core.Box, lastChange time.Time) {
	c.timeRange = tr
	if extent != (core.Box{}) {
		c.extent = extent
		c.hasExtent = true
	}
	c.lastDataChange = lastChange
}

// TimeRange returns the ping time coverage of the line.
func (c *Container) TimeRange() core.TimeRange { return c.timeRange }

// Extent returns the georeferenced bounding box and whether one exists yet.
// Before the georeference stage runs there is no extent.
func (c *Container) Extent() (core.Box, bool) { return c.extent, c.hasExtent }

// LastDataChange returns when pings or soundings last changed. The grid
// engine compares this against tile update times to skip regrids.
func (c *Container) LastDataChange() time.Time { return c.lastDataChange }
