// Package core defines the shared domain types for the swath processing
// engine: pipeline stages, survey containers, soundings, and spatial regions.
package core

import (
	"fmt"
	"time"
)

// Position is a geographic coordinate in WGS84 decimal degrees.
type Position struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// ProjectedPosition is a position in the project's projected coordinate
// system (easting/northing in meters).
type ProjectedPosition struct {
	Easting  float64 `json:"easting"`
	Northing float64 `json:"northing"`
}

// TimeRange is a half-open interval [Start, End).
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls inside the interval.
func (r TimeRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && t.Before(r.End)
}

// Overlaps reports whether two half-open intervals intersect.
func (r TimeRange) Overlaps(o TimeRange) bool {
	return r.Start.Before(o.End) && o.Start.Before(r.End)
}

func (r TimeRange) String() string {
	return fmt.Sprintf("[%s, %s)", r.Start.Format(time.RFC3339), r.End.Format(time.RFC3339))
}

// SoundingFlag marks the acceptance state of a sounding.
type SoundingFlag uint8

const (
	FlagAccepted SoundingFlag = iota
	FlagRejected
	// FlagReAccepted is a manual override of an automatic rejection.
	FlagReAccepted
)

// Accepted reports whether the sounding contributes to grids and queries.
func (f SoundingFlag) Accepted() bool {
	return f == FlagAccepted || f == FlagReAccepted
}

func (f SoundingFlag) String() string {
	switch f {
	case FlagAccepted:
		return "accepted"
	case FlagRejected:
		return "rejected"
	case FlagReAccepted:
		return "re-accepted"
	default:
		return fmt.Sprintf("flag(%d)", uint8(f))
	}
}

// SoundingID uniquely identifies a sounding within a project.
type SoundingID struct {
	Line string `json:"line"` // owning container (survey line) id
	Seq  uint64 `json:"seq"`  // sequence within the line
}

func (id SoundingID) String() string {
	return fmt.Sprintf("%s/%d", id.Line, id.Seq)
}

// Sounding is a single georeferenced depth measurement.
type Sounding struct {
	ID        SoundingID        `json:"id"`
	Time      time.Time         `json:"time"`
	Pos       Position          `json:"pos"`
	Proj      ProjectedPosition `json:"proj"`
	Depth     float64           `json:"depth"` // positive down, meters
	TVU       float64           `json:"tvu"`   // total vertical uncertainty
	THU       float64           `json:"thu"`   // total horizontal uncertainty
	Flag      SoundingFlag      `json:"flag"`
	GeohashID string            `json:"geohash"`
}

// PingRecord is one converted sonar ping before georeferencing.
type PingRecord struct {
	Time         time.Time `json:"time"`
	SerialNumber string    `json:"serial_number"`
	BeamCount    int       `json:"beam_count"`
	// Pos is populated by the georeference stage and nil before it runs.
	Pos *Position `json:"pos,omitempty"`
}

// Box is an axis-aligned geographic bounding box.
type Box struct {
	MinLat, MaxLat float64
	MinLon, MaxLon float64
}

// Contains reports whether p falls inside the box (inclusive).
func (b Box) Contains(p Position) bool {
	return p.Lat >= b.MinLat && p.Lat <= b.MaxLat &&
		p.Lon >= b.MinLon && p.Lon <= b.MaxLon
}

// Intersects reports whether two boxes overlap.
func (b Box) Intersects(o Box) bool {
	return b.MinLat <= o.MaxLat && o.MinLat <= b.MaxLat &&
		b.MinLon <= o.MaxLon && o.MinLon <= b.MaxLon
}

// Extend grows the box to include p. The zero box adopts p.
func (b *Box) Extend(p Position) {
	if b.MinLat == 0 && b.MaxLat == 0 && b.MinLon == 0 && b.MaxLon == 0 {
		b.MinLat, b.MaxLat, b.MinLon, b.MaxLon = p.Lat, p.Lat, p.Lon, p.Lon
		return
	}
	if p.Lat < b.MinLat {
		b.MinLat = p.Lat
	}
	if p.Lat > b.MaxLat {
		b.MaxLat = p.Lat
	}
	if p.Lon < b.MinLon {
		b.MinLon = p.Lon
	}
	if p.Lon > b.MaxLon {
		b.MaxLon = p.Lon
	}
}

// Region is a spatial query region: either a box or a polygon.
// Exactly one of the two is set.
type Region struct {
	Box     *Box
	Polygon []Position // closed implicitly; at least 3 vertices
}

// Bounds returns the bounding box of the region.
func (r Region) Bounds() Box {
	if r.Box != nil {
		return *r.Box
	}
	var b Box
	for _, p := range r.Polygon {
		b.Extend(p)
	}
	return b
}
