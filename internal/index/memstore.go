package index

import (
	"context"
	"sync"
	"time"

	"piiindex/internal/apperr"
)

type memEntry struct {
	refs      map[string]struct{}
	fieldTag  string
	createdAt time.Time
	expiresAt time.Time
}

// MemStore is the in-memory set-store backend. Read latency
// is a single map probe; Intersect runs in native Go map-intersection
// time, O(min(|S_i|)) by iterating the smallest posting list first.
//
// A single RWMutex guards the whole table rather than per-key sharding:
// CommitBatch's all-or-nothing visibility requirement spans an arbitrary number of keys per value, and
// a coarse lock is the simplest construction that satisfies it exactly.
// Lookup/Intersect take the read lock and never block each other.
type MemStore struct {
	mu      sync.RWMutex
	entries map[string]*memEntry
}

// NewMemStore builds an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{entries: make(map[string]*memEntry)}
}

func (m *MemStore) CommitBatch(ctx context.Context, ops []AddOp) error {
	if err := ctx.Err(); err != nil {
		return apperr.Wrap(apperr.DeadlineExceeded, "commit batch", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for _, op := range ops {
		e, ok := m.entries[op.Key]
		if !ok {
			e = &memEntry{
				refs:      make(map[string]struct{}),
				fieldTag:  op.FieldTag,
				createdAt: now,
				expiresAt: op.ExpiresAt,
			}
			m.entries[op.Key] = e
		}
		e.refs[op.Ref] = struct{}{}
		if op.ExpiresAt.After(e.expiresAt) {
			e.expiresAt = op.ExpiresAt
		}
	}
	return nil
}

func (m *MemStore) Remove(ctx context.Context, key, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil
	}
	delete(e.refs, ref)
	if len(e.refs) == 0 {
		delete(m.entries, key)
	}
	return nil
}

func (m *MemStore) Lookup(ctx context.Context, key string) (map[string]struct{}, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lookupLocked(key), nil
}

func (m *MemStore) lookupLocked(key string) map[string]struct{} {
	e, ok := m.entries[key]
	if !ok || isExpired(e, time.Now()) {
		return map[string]struct{}{}
	}
	out := make(map[string]struct{}, len(e.refs))
	for ref := range e.refs {
		out[ref] = struct{}{}
	}
	return out
}

func (m *MemStore) Intersect(ctx context.Context, keys []string) (map[string]struct{}, error) {
	if len(keys) == 0 {
		return map[string]struct{}{}, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now()
	sets := make([]map[string]struct{}, 0, len(keys))
	for _, k := range keys {
		e, ok := m.entries[k]
		if !ok || isExpired(e, now) {
			return map[string]struct{}{}, nil // any missing key empties the intersection
		}
		sets = append(sets, e.refs)
	}
	// Iterate the smallest set to minimize probe count.
	smallest := sets[0]
	for _, s := range sets[1:] {
		if len(s) < len(smallest) {
			smallest = s
		}
	}
	out := make(map[string]struct{})
	for ref := range smallest {
		inAll := true
		for _, s := range sets {
			if _, ok := s[ref]; !ok {
				inAll = false
				break
			}
		}
		if inAll {
			out[ref] = struct{}{}
		}
	}
	return out, nil
}

func (m *MemStore) ExpireSweep(ctx context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for k, e := range m.entries {
		if isExpired(e, now) {
			delete(m.entries, k)
			count++
		}
	}
	return count, nil
}

func (m *MemStore) Stats(ctx context.Context) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := Stats{PerTagCounts: make(map[string]int)}
	now := time.Now()
	for k, e := range m.entries {
		s.TotalKeys++
		s.PerTagCounts[tagOf(k)]++
		if s.Oldest.IsZero() || e.createdAt.Before(s.Oldest) {
			s.Oldest = e.createdAt
		}
		if e.createdAt.After(s.Newest) {
			s.Newest = e.createdAt
		}
		if isExpired(e, now) {
			s.ExpiredPending++
		}
	}
	return s, nil
}

func (m *MemStore) Close(ctx context.Context) error { return nil }

// isExpired reports whether e has a set expiry that has been reached or
// passed: expires_at <= now.
func isExpired(e *memEntry, now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// tagOf extracts the operator tag segment from a well-formed
// "idx:<alias>:<tag>:<hash>" key, used only for Stats' PerTagCounts.
func tagOf(key string) string {
	// idx : alias : tag : hash -- split on ':' and take index 2.
	depth := 0
	start := 0
	for i := 0; i < len(key); i++ {
		if key[i] == ':' {
			depth++
			if depth == 2 {
				start = i + 1
			}
			if depth == 3 {
				return key[start:i]
			}
		}
	}
	return ""
}
