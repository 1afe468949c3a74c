package services

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// InMemoryAppData implements AppDataService with in-process maps.
// Used in development mode and in tests; production deployments use the
// GORM-backed store.
type InMemoryAppData struct {
	mu      sync.RWMutex
	values  map[string]any
	updated map[string]time.Time
}

// NewInMemoryAppData creates an empty in-memory app data store.
func NewInMemoryAppData() *InMemoryAppData {
	return &InMemoryAppData{
		values:  make(map[string]any),
		updated: make(map[string]time.Time),
	}
}

func (s *InMemoryAppData) Store(_ context.Context, key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	s.updated[key] = time.Now().UTC()
	return nil
}

func (s *InMemoryAppData) Load(_ context.Context, key string) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values[key], nil
}

func (s *InMemoryAppData) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	delete(s.updated, key)
	return nil
}

func (s *InMemoryAppData) List(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *InMemoryAppData) Query(ctx context.Context, prefix string, opts QueryOptions) ([]Entry, error) {
	keys, err := s.List(ctx, prefix)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	entries := make([]Entry, 0, len(keys))
	for _, k := range keys {
		at := s.updated[k]
		entries = append(entries, Entry{Key: k, Value: s.values[k], UpdatedAt: &at})
	}
	s.mu.RUnlock()

	return ApplyQuery(entries, opts), nil
}

func (s *InMemoryAppData) BatchStore(ctx context.Context, entries map[string]any) error {
	for k, v := range entries {
		if err := s.Store(ctx, k, v); err != nil {
			return err
		}
	}
	return nil
}

func (s *InMemoryAppData) BatchLoad(_ context.Context, keys []string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		if v, ok := s.values[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (s *InMemoryAppData) BatchRemove(ctx context.Context, keys []string) error {
	for _, k := range keys {
		if err := s.Remove(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

// ApplyQuery filters, sorts, and paginates entries in memory. Shared by
// every AppDataService backend so query semantics do not depend on the
// storage driver.
func ApplyQuery(entries []Entry, opts QueryOptions) []Entry {
	if len(opts.Filter) > 0 {
		kept := entries[:0]
		for _, e := range entries {
			if matchesFilter(e.Value, opts.Filter) {
				kept = append(kept, e)
			}
		}
		entries = kept
	}
	sortEntries(entries, opts.Sort)
	return paginate(entries, opts.Limit, opts.Offset)
}

// matchesFilter applies exact-match filters against top-level object fields.
func matchesFilter(v any, filter map[string]any) bool {
	if len(filter) == 0 {
		return true
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return false
	}
	for k, want := range filter {
		if obj[k] != want {
			return false
		}
	}
	return true
}

// sortEntries orders by a top-level value field; "-" prefix reverses.
func sortEntries(entries []Entry, field string) {
	if field == "" {
		return
	}
	desc := strings.HasPrefix(field, "-")
	field = strings.TrimPrefix(field, "-")
	sort.SliceStable(entries, func(i, j int) bool {
		less := compareField(entries[i].Value, entries[j].Value, field)
		if desc {
			return !less
		}
		return less
	})
}

func compareField(a, b any, field string) bool {
	av := fieldValue(a, field)
	bv := fieldValue(b, field)
	af, aNum := numericValue(av)
	bf, bNum := numericValue(bv)
	if aNum && bNum {
		return af < bf
	}
	return toString(av) < toString(bv)
}

func fieldValue(v any, field string) any {
	if obj, ok := v.(map[string]any); ok {
		return obj[field]
	}
	return nil
}

func numericValue(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func paginate(entries []Entry, limit, offset int) []Entry {
	if offset > 0 {
		if offset >= len(entries) {
			return []Entry{}
		}
		entries = entries[offset:]
	}
	if limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}
	return entries
}

// InMemoryMemory implements MemoryService with an in-process map.
type InMemoryMemory struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewInMemoryMemory creates an empty in-memory memory service.
func NewInMemoryMemory() *InMemoryMemory {
	return &InMemoryMemory{values: make(map[string]any)}
}

func (m *InMemoryMemory) Remember(_ context.Context, key string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *InMemoryMemory) Recall(_ context.Context, key string) (any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.values[key], nil
}
