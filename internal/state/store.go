package state

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Fields maps a telemetry field name to its latest scalar value. Values are
// float64, string or int (integer-coded enums).
type Fields map[string]any

// Clone returns a shallow copy. Values are scalars, so the copy is independent.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Keys returns the field names in sorted order.
func (f Fields) Keys() []string {
	out := make([]string, 0, len(f))
	for k := range f {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Store holds the latest known value per vehicle telemetry field.
//
// Merge is an upsert: keys are never removed and the last writer per field
// wins. A snapshot may interleave fields from different sentence arrivals.
type Store struct {
	mu      sync.RWMutex
	fields  Fields
	version uint64
	updated time.Time
	changed chan struct{}
}

func NewStore() *Store {
	return &Store{
		fields:  make(Fields),
		changed: make(chan struct{}),
	}
}

// Merge upserts every field in upd. An empty update is a no-op and does not
// wake waiters.
func (s *Store) Merge(upd map[string]any) {
	if s == nil || len(upd) == 0 {
		return
	}
	s.mu.Lock()
	for k, v := range upd {
		s.fields[k] = v
	}
	s.version++
	s.updated = time.Now().UTC()
	close(s.changed)
	s.changed = make(chan struct{})
	s.mu.Unlock()
}

// Snapshot returns an immutable copy of all fields seen so far.
func (s *Store) Snapshot() Fields {
	if s == nil {
		return Fields{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fields.Clone()
}

// Changed returns a channel that is closed on the next successful Merge.
func (s *Store) Changed() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.changed
}

// Version increments once per merge.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// LastUpdate is the wall-clock time of the most recent merge (zero if none).
func (s *Store) LastUpdate() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updated
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.fields)
}

func (s *Store) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.fields[key]
	return v, ok
}

// Float returns a numeric field as float64. Integer fields are widened.
func (s *Store) Float(key string) (float64, bool) {
	v, ok := s.Get(key)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

func (s *Store) Int(key string) (int, bool) {
	v, ok := s.Get(key)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func (s *Store) String(key string) (string, bool) {
	v, ok := s.Get(key)
	if !ok {
		return "", false
	}
	str, ok := v.(string)
	return str, ok
}

// WaitFor blocks until pred holds for the current snapshot or ctx is done.
// It re-checks after every merge, so callers keep polling semantics without
// spinning.
func (s *Store) WaitFor(ctx context.Context, pred func(Fields) bool) error {
	for {
		ch := s.Changed()
		if pred(s.Snapshot()) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}
