package storage

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/coastwise/swath/pkg/core"
)

func init() {
	Register("memory", func(_ Config, logger *slog.Logger) (Backend, error) {
		return NewMemory(logger), nil
	})
}

// Memory is the in-memory backend, used in tests and for ephemeral runs.
type Memory struct {
	mu     sync.RWMutex
	chunks map[string]map[int64][]Record
	spans  map[string]time.Duration
	logger *slog.Logger
}

// NewMemory creates an empty in-memory backend.
func NewMemory(logger *slog.Logger) *Memory {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Memory{
		chunks: make(map[string]map[int64][]Record),
		spans:  make(map[string]time.Duration),
		logger: logger,
	}
}

func (m *Memory) span(container string) time.Duration {
	if s, ok := m.spans[container]; ok {
		return s
	}
	return DefaultChunkSpan
}

func (m *Memory) Write(_ context.Context, container string, recs []Record) error {
	if len(recs) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	span := m.span(container)
	buckets, ok := m.chunks[container]
	if !ok {
		buckets = make(map[int64][]Record)
		m.chunks[container] = buckets
	}

	byChunk := make(map[int64][]Record)
	for _, r := range recs {
		k := chunkKey(r.Time, span)
		byChunk[k] = append(byChunk[k], r)
	}
	for k, incoming := range byChunk {
		buckets[k] = mergeRecords(buckets[k], incoming)
	}
	return nil
}

func (m *Memory) Read(_ context.Context, container string, tr core.TimeRange) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	buckets := m.chunks[container]
	if buckets == nil {
		return nil, nil
	}
	span := m.span(container)
	first := chunkKey(tr.Start, span)
	last := chunkKey(tr.End, span)

	var out []Record
	for k := first; k <= last; k++ {
		for _, r := range buckets[k] {
			if tr.Contains(r.Time) {
				out = append(out, r)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Time.Equal(out[j].Time) {
			return out[i].Time.Before(out[j].Time)
		}
		return out[i].Seq < out[j].Seq
	})
	return out, nil
}

func (m *Memory) Resize(_ context.Context, container string, span time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	old := m.chunks[container]
	m.spans[container] = span
	if old == nil {
		return nil
	}
	rebucketed := make(map[int64][]Record)
	for _, recs := range old {
		for _, r := range recs {
			k := chunkKey(r.Time, span)
			rebucketed[k] = mergeRecords(rebucketed[k], []Record{r})
		}
	}
	m.chunks[container] = rebucketed
	m.logger.Debug("container rechunked", "container", container, "span", span, "chunks", len(rebucketed))
	return nil
}

func (m *Memory) Close() error { return nil }

// ChunkCount returns the number of chunks a container occupies.
func (m *Memory) ChunkCount(container string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.chunks[container])
}
