// Package registry tracks the external dependency inputs of the processing
// pipeline: vessel calibration entries, navigation overwrites, sound
// velocity casts, and the coordinate system setting. The registry is an
// append-only versioned log keyed by validity interval; newer imports of
// the same source supersede older ones but never delete them.
package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/coastwise/swath/pkg/core"
)

// Entry is one imported dependency input with a validity interval and a
// content fingerprint.
type Entry struct {
	ID   string
	Kind core.SourceKind
	// Serial is the sonar serial number the entry applies to. Empty matches
	// every container (navigation and coordinate system settings).
	Serial string
	// Identifier names the source (file path, cast name, setting key).
	// Re-importing the same identifier supersedes the previous entry;
	// overlapping entries from different identifiers conflict.
	Identifier  string
	Interval    core.TimeRange
	Fingerprint string
	CreatedAt   time.Time
	Superseded  bool
}

// appliesTo reports whether the entry matches a container's serial number
// and time coverage.
func (e Entry) appliesTo(serial string, tr core.TimeRange) bool {
	if e.Serial != "" && serial != "" && e.Serial != serial {
		return false
	}
	return e.Interval.Overlaps(tr)
}

// Registry is the project-wide dependency source log. Only the evaluator
// goroutine mutates it during scheduling; imports may happen from the
// watcher, hence the lock.
type Registry struct {
	mu      sync.RWMutex
	entries []Entry
	logger  *slog.Logger
}

// New creates an empty registry.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Registry{logger: logger}
}

// Fingerprint hashes raw source content into an entry fingerprint.
func Fingerprint(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Add appends an entry to the log. An entry from the same identifier that
// overlaps an existing one supersedes it (the old entry is kept for audit).
// An overlapping active entry from a different identifier with a different
// fingerprint is a conflict: the registry is left untouched and a
// *core.ConflictError is returned.
func (r *Registry) Add(e Entry) (Entry, error) {
	if e.Kind == "" {
		return Entry{}, fmt.Errorf("registry entry missing source kind")
	}
	if !e.Interval.Start.Before(e.Interval.End) {
		return Entry{}, fmt.Errorf("registry entry has empty validity interval %s", e.Interval)
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Conflict check before any mutation.
	for i := range r.entries {
		old := &r.entries[i]
		if old.Superseded || old.Kind != e.Kind {
			continue
		}
		if !serialsClash(old.Serial, e.Serial) || !old.Interval.Overlaps(e.Interval) {
			continue
		}
		if old.Identifier != e.Identifier && old.Fingerprint != e.Fingerprint {
			return Entry{}, &core.ConflictError{
				Kind:     e.Kind,
				Serial:   firstNonEmpty(old.Serial, e.Serial),
				EntryA:   old.ID,
				EntryB:   e.ID,
				Interval: e.Interval,
			}
		}
	}

	for i := range r.entries {
		old := &r.entries[i]
		if old.Superseded || old.Kind != e.Kind || old.Identifier != e.Identifier {
			continue
		}
		if serialsClash(old.Serial, e.Serial) && old.Interval.Overlaps(e.Interval) {
			old.Superseded = true
			r.logger.Debug("registry entry superseded",
				"kind", old.Kind, "identifier", old.Identifier, "old", old.ID, "new", e.ID)
		}
	}

	r.entries = append(r.entries, e)
	r.logger.Debug("registry entry added",
		"kind", e.Kind, "serial", e.Serial, "identifier", e.Identifier, "interval", e.Interval.String())
	return e, nil
}

// ActiveAt returns the active entry of a kind covering instant t for the
// given serial: the most recently created non-superseded entry.
func (r *Registry) ActiveAt(kind core.SourceKind, serial string, t time.Time) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best Entry
	found := false
	for _, e := range r.entries {
		if e.Superseded || e.Kind != kind || !e.Interval.Contains(t) {
			continue
		}
		if e.Serial != "" && serial != "" && e.Serial != serial {
			continue
		}
		if !found || e.CreatedAt.After(best.CreatedAt) {
			best = e
			found = true
		}
	}
	return best, found
}

// Matching returns the active entries that apply to a container with the
// given serial number and time coverage, sorted by id for deterministic
// fingerprinting.
func (r *Registry) Matching(serial string, tr core.TimeRange) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Entry
	for _, e := range r.entries {
		if e.Superseded {
			continue
		}
		if e.appliesTo(serial, tr) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// All returns every entry in creation order, superseded included, for
// auditing.
func (r *Registry) All() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Len returns the number of entries in the log, superseded included.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// serialsClash reports whether two serial selectors can apply to the same
// container. Empty matches everything.
func serialsClash(a, b string) bool {
	return a == "" || b == "" || a == b
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
