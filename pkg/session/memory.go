package session

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// MemoryStore keeps sessions in process memory. It is used by tests and by
// single-instance deployments without Redis. The store is unbounded; idle
// sessions are reaped in the background once their TTL passes.
type MemoryStore struct {
	// mu guards the value maps held by sessions
	mu       sync.Mutex
	sessions *lru.LRU[string, map[string]string]
}

// NewMemoryStore creates an in-memory session store. A ttl of zero keeps
// sessions until they are destroyed.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{sessions: lru.NewLRU[string, map[string]string](0, nil, ttl)}
}

// New creates an empty session
func (s *MemoryStore) New(ctx context.Context) (Session, error) {
	id, err := GenerateID()
	if err != nil {
		return nil, err
	}
	s.sessions.Add(id, map[string]string{})
	return &memorySession{store: s, id: id}, nil
}

// Load returns an existing, unexpired session
func (s *MemoryStore) Load(ctx context.Context, id string) (Session, error) {
	if _, ok := s.sessions.Peek(id); !ok {
		return nil, ErrSessionNotFound
	}
	return &memorySession{store: s, id: id}, nil
}

// Len reports how many sessions are held, including expired ones the
// reaper has not reached yet
func (s *MemoryStore) Len() int {
	return s.sessions.Len()
}

type memorySession struct {
	store *MemoryStore
	id    string
}

func (m *memorySession) ID() string {
	return m.id
}

func (m *memorySession) Get(ctx context.Context, key string) (string, bool, error) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()

	values, ok := m.store.sessions.Peek(m.id)
	if !ok {
		return "", false, nil
	}
	v, ok := values[key]
	return v, ok, nil
}

func (m *memorySession) Set(ctx context.Context, key, value string) error {
	return m.Update(ctx, map[string]string{key: value})
}

func (m *memorySession) Delete(ctx context.Context, keys ...string) error {
	return m.Update(ctx, nil, keys...)
}

// Update applies the changes and restarts the session's TTL
func (m *memorySession) Update(ctx context.Context, set map[string]string, del ...string) error {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()

	values, ok := m.store.sessions.Peek(m.id)
	if !ok {
		return ErrSessionNotFound
	}
	for k, v := range set {
		values[k] = v
	}
	for _, k := range del {
		delete(values, k)
	}
	m.store.sessions.Add(m.id, values)
	return nil
}

func (m *memorySession) Destroy(ctx context.Context) error {
	m.store.sessions.Remove(m.id)
	return nil
}
