// Package vessel reads vessel configuration files: per-sonar calibration
// entries (lever arms, mounting angles, waterline) with validity
// timestamps. Imported entries feed the dependency source registry so a
// calibration change marks the affected lines for reprocessing.
package vessel

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

// Offsets are sensor lever arms in meters, positive forward/starboard/down.
type Offsets struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
	Z float64 `yaml:"z"`
}

// Angles are sensor mounting angles in degrees.
type Angles struct {
	Roll  float64 `yaml:"roll"`
	Pitch float64 `yaml:"pitch"`
	Yaw   float64 `yaml:"yaw"`
}

// Calibration is one validity-bounded calibration record for a sonar head.
type Calibration struct {
	ValidFrom time.Time `yaml:"valid_from"`
	// ValidTo is optional; a zero value means open-ended.
	ValidTo   time.Time `yaml:"valid_to,omitempty"`
	Offsets   Offsets   `yaml:"offsets"`
	Angles    Angles    `yaml:"angles"`
	Waterline float64   `yaml:"waterline"`
}

// File is a vessel configuration file.
type File struct {
	Vessel string `yaml:"vessel"`
	// Sensors maps sonar serial number to its calibration history.
	Sensors map[string][]Calibration `yaml:"sensors"`
}

// openEnd caps open-ended calibrations far enough out to cover any survey.
var openEnd = time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC)

// Load reads and validates a vessel file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: vessel file %s: %v", core.ErrInputUnavailable, path, err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse vessel file %s: %w", path, err)
	}
	if len(f.Sensors) == 0 {
		return nil, fmt.Errorf("vessel file %s defines no sensors", path)
	}
	for serial, cals := range f.Sensors {
		for i, c := range cals {
			if c.ValidFrom.IsZero() {
				return nil, fmt.Errorf("vessel file %s: sensor %s entry %d missing valid_from", path, serial, i)
			}
			if !c.ValidTo.IsZero() && !c.ValidFrom.Before(c.ValidTo) {
				return nil, fmt.Errorf("vessel file %s: sensor %s entry %d has empty validity", path, serial, i)
			}
		}
	}
	return &f, nil
}

// Populate adds default calibration blocks for serial numbers the file does
// not cover yet, creating the file if it does not exist. Existing sensors
// are left untouched. Reports whether the file changed.
func Populate(path, vesselName string, serials map[string]time.Time) (bool, error) {
	f := &File{Vessel: vesselName, Sensors: make(map[string][]Calibration)}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, f); err != nil {
			return false, fmt.Errorf("parse vessel file %s: %w", path, err)
		}
		if f.Sensors == nil {
			f.Sensors = make(map[string][]Calibration)
		}
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("read vessel file %s: %w", path, err)
	}

	changed := false
	for serial, firstSeen := range serials {
		if serial == "" {
			continue
		}
		if _, ok := f.Sensors[serial]; ok {
			continue
		}
		// Zero offsets are a placeholder the surveyor fills in; the validity
		// start anchors at the serial's earliest line.
		f.Sensors[serial] = []Calibration{{ValidFrom: firstSeen.UTC().Truncate(time.Second)}}
		changed = true
	}
	if !changed {
		return false, nil
	}

	data, err := yaml.Marshal(f)
	if err != nil {
		return false, fmt.Errorf("encode vessel file: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return false, fmt.Errorf("write vessel file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return false, fmt.Errorf("replace vessel file: %w", err)
	}
	return true, nil
}

// Import loads a vessel file and registers one entry per calibration
// record. The fingerprint covers only the calibration content, so touching
// the file without changing values does not mark anything stale.
func Import(reg *registry.Registry, path string, logger *slog.Logger) ([]registry.Entry, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	f, err := Load(path)
	if err != nil {
		return nil, err
	}

	serials := make([]string, 0, len(f.Sensors))
	for serial := range f.Sensors {
		serials = append(serials, serial)
	}
	sort.Strings(serials)

	var added []registry.Entry
	for _, serial := range serials {
		cals := f.Sensors[serial]
		sort.Slice(cals, func(i, j int) bool { return cals[i].ValidFrom.Before(cals[j].ValidFrom) })

		for i, c := range cals {
			end := c.ValidTo
			if end.IsZero() {
				// Open-ended entries run until the next calibration record.
				if i+1 < len(cals) {
					end = cals[i+1].ValidFrom
				} else {
					end = openEnd
				}
			}
			content, err := yaml.Marshal(c)
			if err != nil {
				return nil, fmt.Errorf("fingerprint calibration %s/%d: %w", serial, i, err)
			}
			e, err := reg.Add(registry.Entry{
				Kind:        core.SourceVessel,
				Serial:      serial,
				Identifier:  fmt.Sprintf("%s#%s/%d", path, serial, i),
				Interval:    core.TimeRange{Start: c.ValidFrom, End: end},
				Fingerprint: registry.Fingerprint(content),
			})
			if err != nil {
				return added, fmt.Errorf("register calibration %s/%d: %w", serial, i, err)
			}
			added = append(added, e)
		}
		logger.Info("vessel calibrations imported", "file", path, "serial", serial, "entries", len(cals))
	}
	return added, nil
}
