// Package storage provides chunked time-series record storage for converted
// ping and sounding data. Records are bucketed into fixed-duration chunks so
// time-range reads touch only the chunks they overlap. Backends register
// themselves by name; the memory and sqlite backends ship built in.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/coastwise/swath/pkg/core"
)

// DefaultChunkSpan is the chunk duration containers start with.
const DefaultChunkSpan = 5 * time.Minute

// Record is one stored time-series row. Records are unique per container on
// (Time, Seq); rewriting the same key replaces the payload.
type Record struct {
	Time    time.Time
	Seq     uint64
	Payload []byte
}

// Backend is a chunked record store. Write merges records into the
// container's existing data in ascending time order, replacing duplicates of
// the same (Time, Seq) key. Read returns records inside the half-open range
// sorted ascending by (Time, Seq).
type Backend interface {
	Write(ctx context.Context, container string, recs []Record) error
	Read(ctx context.Context, container string, tr core.TimeRange) ([]Record, error)
	// Resize rebuckets a container's records into chunks of the given span.
	Resize(ctx context.Context, container string, span time.Duration) error
	Close() error
}

// Config selects and parameterizes a backend.
type Config struct {
	// Type is a registered backend name: "memory" or "sqlite".
	Type string `koanf:"type"`
	// Path is the database file for file-backed backends; ":memory:" works
	// for sqlite.
	Path string `koanf:"path"`
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]func(Config, *slog.Logger) (Backend, error))
)

// Register adds a backend factory. Called by backend implementations in
// their init() functions.
func Register(name string, factory func(Config, *slog.Logger) (Backend, error)) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// ListBackends returns all registered backend names (sorted).
func ListBackends() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// UnknownBackendError is returned when an unregistered backend is requested.
type UnknownBackendError struct {
	Type      string
	Available []string
}

func (e *UnknownBackendError) Error() string {
	return fmt.Sprintf("unknown storage backend %q\nAvailable backends: %v\nHint: check storage.type in swath.yaml", e.Type, e.Available)
}

// New creates a backend from config. A nil logger uses the discard handler.
func New(cfg Config, logger *slog.Logger) (Backend, error) {
	if cfg.Type == "" {
		return nil, fmt.Errorf("storage backend type not specified")
	}
	registryMu.RLock()
	factory, ok := registry[cfg.Type]
	registryMu.RUnlock()
	if !ok {
		return nil, &UnknownBackendError{Type: cfg.Type, Available: ListBackends()}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return factory(cfg, logger)
}

// chunkKey buckets a timestamp for a chunk span.
func chunkKey(t time.Time, span time.Duration) int64 {
	return t.UnixNano() / int64(span)
}

// mergeRecords merges incoming records into existing ones, ascending by
// (Time, Seq), with incoming records replacing existing duplicates.
func mergeRecords(existing, incoming []Record) []Record {
	type key struct {
		ns  int64
		seq uint64
	}
	seen := make(map[key]int, len(existing)+len(incoming))
	out := make([]Record, 0, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.Time.UnixNano(), r.Seq}] = len(out)
		out = append(out, r)
	}
	for _, r := range incoming {
		k := key{r.Time.UnixNano(), r.Seq}
		if i, ok := seen[k]; ok {
			out[i] = r
			continue
		}
		seen[k] = len(out)
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Time.Equal(out[j].Time) {
			return out[i].Time.Before(out[j].Time)
		}
		return out[i].Seq < out[j].Seq
	})
	return out
}

// Retry policy for transient write failures.
const (
	maxWriteAttempts = 4
	baseBackoff      = 50 * time.Millisecond
)

// RetryingBackend wraps a backend with bounded exponential-backoff retries
// on Write. A write still failing after the last attempt is surfaced as
// ErrStorageWrite.
type RetryingBackend struct {
	Backend
	logger *slog.Logger
	// sleep is swappable in tests.
	sleep func(time.Duration)
}

// WithRetry wraps a backend in the retry policy.
func WithRetry(b Backend, logger *slog.Logger) *RetryingBackend {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &RetryingBackend{Backend: b, logger: logger, sleep: time.Sleep}
}

func (r *RetryingBackend) Write(ctx context.Context, container string, recs []Record) error {
	var err error
	backoff := baseBackoff
	for attempt := 1; attempt <= maxWriteAttempts; attempt++ {
		err = r.Backend.Write(ctx, container, recs)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt < maxWriteAttempts {
			r.logger.Warn("storage write failed, retrying",
				"container", container, "attempt", attempt, "backoff", backoff, "error", err)
			r.sleep(backoff)
			backoff *= 2
		}
	}
	return fmt.Errorf("%w: container %s after %d attempts: %v",
		core.ErrStorageWrite, container, maxWriteAttempts, err)
}
