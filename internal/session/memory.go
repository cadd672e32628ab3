package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store for single-replica development and
// tests. Records are deep-copied in and out so callers never share state.
type MemoryStore struct {
	mu      sync.Mutex
	data    map[string]Data
	expires map[string]time.Time
	now     func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data:    make(map[string]Data),
		expires: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (m *MemoryStore) Create(_ context.Context, data *Data, ttl time.Duration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.New().String()
	if data.CreatedAt == 0 {
		data.CreatedAt = m.now().Unix()
	}
	m.data[id] = clone(data)
	m.expires[id] = m.now().Add(ttl)
	return id, nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Data, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.data[id]
	if !ok {
		return nil, nil
	}
	if exp, exists := m.expires[id]; exists && m.now().After(exp) {
		delete(m.data, id)
		delete(m.expires, id)
		return nil, nil
	}
	out := clone(&d)
	return &out, nil
}

func (m *MemoryStore) Update(_ context.Context, id string, data *Data, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data[id] = clone(data)
	m.expires[id] = m.now().Add(ttl)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data, id)
	delete(m.expires, id)
	return nil
}

func (m *MemoryStore) Touch(_ context.Context, id string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.data[id]; ok {
		m.expires[id] = m.now().Add(ttl)
	}
	return nil
}

// Put stores data under a caller-chosen ID.
func (m *MemoryStore) Put(id string, data *Data, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data[id] = clone(data)
	m.expires[id] = m.now().Add(ttl)
}

func clone(d *Data) Data {
	out := *d
	out.Credentials.Roles = append([]string(nil), d.Credentials.Roles...)
	if d.Credentials.Error != nil {
		e := *d.Credentials.Error
		out.Credentials.Error = &e
	}
	return out
}
