package ratelimit

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Entry is the fixed-window state for one key.
type Entry struct {
	Key          string     `json:"key"`
	Count        int        `json:"count"`
	WindowStart  time.Time  `json:"window_start"`
	WindowEnd    time.Time  `json:"window_end"`
	BlockedUntil *time.Time `json:"blocked_until,omitempty"`
	FirstRequest time.Time  `json:"first_request"`
	LastRequest  time.Time  `json:"last_request"`
	Violations   int        `json:"violations,omitempty"`
}

// Blocked reports whether the entry is in cooldown at now.
func (e *Entry) Blocked(now time.Time) bool {
	return e != nil && e.BlockedUntil != nil && now.Before(*e.BlockedUntil)
}

// expiresAt is the latest instant the entry still matters for admission.
func (e *Entry) expiresAt() time.Time {
	t := e.WindowEnd
	if e.BlockedUntil != nil && e.BlockedUntil.After(t) {
		t = *e.BlockedUntil
	}
	return t
}

// UpdateFunc computes the next entry from the current one (nil when absent).
// Returning a nil entry deletes the key. It may be called more than once
// when a store retries under contention.
type UpdateFunc func(cur *Entry) (*Entry, error)

// EntryStore persists entries. Apply must run fn and write its result
// atomically with respect to other Apply calls on the same key.
type EntryStore interface {
	Apply(ctx context.Context, key string, fn UpdateFunc) (*Entry, error)
	Get(ctx context.Context, key string) (*Entry, error)
	Delete(ctx context.Context, key string) error
	// Sweep removes entries that expired before cutoff and returns how many.
	Sweep(ctx context.Context, cutoff time.Time) (int, error)
	// List returns entries whose key starts with prefix.
	List(ctx context.Context, prefix string) ([]Entry, error)
}

// MemoryStore is the in-process EntryStore.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*Entry)}
}

// Apply implements EntryStore.
func (s *MemoryStore) Apply(_ context.Context, key string, fn UpdateFunc) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cur *Entry
	if e, ok := s.entries[key]; ok {
		c := *e
		cur = &c
	}
	next, err := fn(cur)
	if err != nil {
		return nil, err
	}
	if next == nil {
		delete(s.entries, key)
		return nil, nil
	}
	stored := *next
	s.entries[key] = &stored
	out := stored
	return &out, nil
}

// Get implements EntryStore.
func (s *MemoryStore) Get(_ context.Context, key string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, nil
	}
	c := *e
	return &c, nil
}

// Delete implements EntryStore.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

// Sweep implements EntryStore.
func (s *MemoryStore) Sweep(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for k, e := range s.entries {
		if e.expiresAt().Before(cutoff) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed, nil
}

// List implements EntryStore.
func (s *MemoryStore) List(_ context.Context, prefix string) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.entries))
	for k, e := range s.entries {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Len returns the number of tracked keys.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
