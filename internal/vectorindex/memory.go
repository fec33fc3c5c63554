package vectorindex

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	appErr "github.com/xxxsen/libragent/internal/pkg/errors"
)

type memoryConfig struct {
	Collection string `json:"collection"`
}

type memoryEntry struct {
	vector   []float32
	content  string
	metadata map[string]interface{}
}

// MemoryIndex keeps vectors in process. Results tie-break by insertion order.
type MemoryIndex struct {
	name    string
	mu      sync.RWMutex
	order   []string
	entries map[string]*memoryEntry
}

func NewMemoryIndex(name string) *MemoryIndex {
	if name == "" {
		name = DefaultCollection
	}
	return &MemoryIndex{name: name, entries: make(map[string]*memoryEntry)}
}

func (m *MemoryIndex) Name() string {
	return m.name
}

func (m *MemoryIndex) EnsureCollection(ctx context.Context) (string, error) {
	return m.name, nil
}

func (m *MemoryIndex) Upsert(ctx context.Context, ids []string, vectors [][]float32, texts []string, metadatas []map[string]interface{}) error {
	if err := checkUpsertArgs(ids, vectors, texts, metadatas); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, id := range ids {
		entry := &memoryEntry{
			vector:  append([]float32(nil), vectors[i]...),
			content: texts[i],
		}
		if metadatas != nil {
			entry.metadata = copyMetadata(metadatas[i])
		}
		if _, ok := m.entries[id]; !ok {
			m.order = append(m.order, id)
		}
		m.entries[id] = entry
	}
	return nil
}

func (m *MemoryIndex) Query(ctx context.Context, vector []float32, topN int, filter *Filter) ([]SearchResult, error) {
	if topN <= 0 {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	results := make([]SearchResult, 0, len(m.order))
	for _, id := range m.order {
		entry := m.entries[id]
		if !filter.Match(entry.metadata) {
			continue
		}
		dist, err := l2Distance(vector, entry.vector)
		if err != nil {
			return nil, err
		}
		results = append(results, SearchResult{
			ID:       id,
			Content:  entry.content,
			Metadata: copyMetadata(entry.metadata),
			Distance: dist,
			Score:    Score(dist),
		})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Distance < results[j].Distance
	})
	if len(results) > topN {
		results = results[:topN]
	}
	return results, nil
}

func (m *MemoryIndex) DeleteByIDs(ctx context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	m.removeLocked(func(id string, _ *memoryEntry) bool {
		_, ok := drop[id]
		return ok
	})
	return nil
}

func (m *MemoryIndex) DeleteByFilter(ctx context.Context, filter *Filter) error {
	if filter.IsEmpty() {
		return fmt.Errorf("delete by filter requires a filter: %w", appErr.ErrInvalid)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(func(_ string, e *memoryEntry) bool {
		return filter.Match(e.metadata)
	})
	return nil
}

func (m *MemoryIndex) removeLocked(match func(id string, e *memoryEntry) bool) {
	kept := m.order[:0]
	for _, id := range m.order {
		if match(id, m.entries[id]) {
			delete(m.entries, id)
			continue
		}
		kept = append(kept, id)
	}
	m.order = kept
}

func (m *MemoryIndex) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.order), nil
}

func (m *MemoryIndex) HealthCheck(ctx context.Context) error {
	return nil
}

func l2Distance(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vector dimension mismatch: %d != %d: %w", len(a), len(b), appErr.ErrInvalid)
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum), nil
}

func copyMetadata(src map[string]interface{}) map[string]interface{} {
	if src == nil {
		return nil
	}
	dst := make(map[string]interface{}, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func createMemoryFactory(args interface{}) (Index, error) {
	cfg := &memoryConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	return NewMemoryIndex(cfg.Collection), nil
}

func init() {
	Register("memory", createMemoryFactory)
}
