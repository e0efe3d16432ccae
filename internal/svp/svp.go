// Package svp reads sound velocity profile cast files: timed, positioned
// depth/velocity sample series. Imported casts feed the dependency source
// registry so a new cast marks overlapping lines for reprocessing.
package svp

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/coastwise/swath/internal/registry"
	"github.com/coastwise/swath/pkg/core"
)

// DefaultCastValidity bounds the last cast of a file when nothing newer
// follows it.
const DefaultCastValidity = 24 * time.Hour

// Sample is one depth/velocity pair of a cast.
type Sample struct {
	Depth    float64 `yaml:"depth"`    // meters, positive down
	Velocity float64 `yaml:"velocity"` // meters per second
}

// Cast is one sound velocity profile measurement.
type Cast struct {
	Name string    `yaml:"name"`
	Time time.Time `yaml:"time"`
	// Serial restricts the cast to one sonar; empty applies to all.
	Serial   string        `yaml:"serial,omitempty"`
	Position core.Position `yaml:"position"`
	Samples  []Sample      `yaml:"samples"`
}

// File is a cast file holding one or more casts.
type File struct {
	Casts []Cast `yaml:"casts"`
}

// Load reads and validates a cast file. Samples must be strictly
// descending through the water column.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: cast file %s: %v", core.ErrInputUnavailable, path, err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse cast file %s: %w", path, err)
	}
	if len(f.Casts) == 0 {
		return nil, fmt.Errorf("cast file %s holds no casts", path)
	}
	for i, c := range f.Casts {
		if c.Name == "" {
			return nil, fmt.Errorf("cast file %s: cast %d missing name", path, i)
		}
		if c.Time.IsZero() {
			return nil, fmt.Errorf("cast file %s: cast %q missing time", path, c.Name)
		}
		if len(c.Samples) < 2 {
			return nil, fmt.Errorf("cast file %s: cast %q needs at least 2 samples", path, c.Name)
		}
		for j := 1; j < len(c.Samples); j++ {
			if c.Samples[j].Depth <= c.Samples[j-1].Depth {
				return nil, fmt.Errorf("cast file %s: cast %q samples not descending at index %d", path, c.Name, j)
			}
		}
	}
	return &f, nil
}

// VelocityAt interpolates the sound velocity at a depth, clamping outside
// the sampled column.
func (c Cast) VelocityAt(depth float64) float64 {
	s := c.Samples
	if depth <= s[0].Depth {
		return s[0].Velocity
	}
	for i := 1; i < len(s); i++ {
		if depth <= s[i].Depth {
			frac := (depth - s[i-1].Depth) / (s[i].Depth - s[i-1].Depth)
			return s[i-1].Velocity + frac*(s[i].Velocity-s[i-1].Velocity)
		}
	}
	return s[len(s)-1].Velocity
}

// Import loads a cast file and registers one entry per cast. A cast is
// valid from its time until the next cast in the file, or for
// DefaultCastValidity after the last one.
func Import(reg *registry.Registry, path string, logger *slog.Logger) ([]registry.Entry, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	f, err := Load(path)
	if err != nil {
		return nil, err
	}

	casts := make([]Cast, len(f.Casts))
	copy(casts, f.Casts)
	sort.Slice(casts, func(i, j int) bool { return casts[i].Time.Before(casts[j].Time) })

	var added []registry.Entry
	for i, c := range casts {
		end := c.Time.Add(DefaultCastValidity)
		if i+1 < len(casts) && casts[i+1].Time.Before(end) {
			end = casts[i+1].Time
		}
		content, err := yaml.Marshal(c)
		if err != nil {
			return nil, fmt.Errorf("fingerprint cast %q: %w", c.Name, err)
		}
		e, err := reg.Add(registry.Entry{
			Kind:        core.SourceSVP,
			Serial:      c.Serial,
			Identifier:  fmt.Sprintf("%s#%s", path, c.Name),
			Interval:    core.TimeRange{Start: c.Time, End: end},
			Fingerprint: registry.Fingerprint(content),
		})
		if err != nil {
			return added, fmt.Errorf("register cast %q: %w", c.Name, err)
		}
		added = append(added, e)
	}
	logger.Info("sound velocity casts imported", "file", path, "casts", len(added))
	return added, nil
}
