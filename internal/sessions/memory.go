package sessions

import (
	"context"
	"sync"
)

// MemoryStore keeps profiles in process memory. Entries live until Clear or
// process exit.
//
// The mutex only keeps the map itself consistent; it does not serialize
// read-modify-write sequences, so two requests updating one key still race
// and the later Put wins.
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[Key]Profile
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{profiles: map[Key]Profile{}}
}

func (m *MemoryStore) Get(ctx context.Context, key Key) (*Profile, bool, error) {
	if !key.Valid() {
		return nil, false, ErrInvalidKey
	}
	m.mu.RLock()
	profile, ok := m.profiles[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	return &profile, true, nil
}

func (m *MemoryStore) Put(ctx context.Context, key Key, profile *Profile) error {
	if !key.Valid() {
		return ErrInvalidKey
	}
	if profile == nil {
		return m.Clear(ctx, key)
	}
	m.mu.Lock()
	m.profiles[key] = *profile
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Clear(ctx context.Context, key Key) error {
	if !key.Valid() {
		return ErrInvalidKey
	}
	m.mu.Lock()
	delete(m.profiles, key)
	m.mu.Unlock()
	return nil
}

// Has reports whether key has a stored profile.
func (m *MemoryStore) Has(key Key) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.profiles[key]
	return ok
}

// Len returns the number of stored profiles.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.profiles)
}
