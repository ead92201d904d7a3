package memory

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/TP-Master1-GL/TERRABIA/pkg/errors"
)

type entry struct {
	value     string
	expiresAt time.Time
}

// SessionStore implements repository.SessionStore in process memory. It is
// meant for development and tests; data does not survive a restart.
type SessionStore struct {
	mu      sync.RWMutex
	data    map[string]map[string]entry
	ttl     time.Duration
	nowFunc func() time.Time
}

// NewSessionStore creates an in-memory session store. A zero ttl keeps
// entries forever.
func NewSessionStore(ttl time.Duration) *SessionStore {
	return &SessionStore{
		data:    make(map[string]map[string]entry),
		ttl:     ttl,
		nowFunc: time.Now,
	}
}

// Get returns the value under key, or a not-found error when absent or expired.
func (s *SessionStore) Get(_ context.Context, namespace, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.data[namespace][key]
	if !ok || (!e.expiresAt.IsZero() && !s.nowFunc().Before(e.expiresAt)) {
		return "", apperrors.NotFound("session key", key)
	}
	return e.value, nil
}

// Set stores value under key.
func (s *SessionStore) Set(_ context.Context, namespace, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ns, ok := s.data[namespace]
	if !ok {
		ns = make(map[string]entry)
		s.data[namespace] = ns
	}

	e := entry{value: value}
	if s.ttl > 0 {
		e.expiresAt = s.nowFunc().Add(s.ttl)
	}
	ns[key] = e
	return nil
}

// Delete removes keys under a single lock.
func (s *SessionStore) Delete(_ context.Context, namespace string, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ns, ok := s.data[namespace]
	if !ok {
		return nil
	}
	for _, k := range keys {
		delete(ns, k)
	}
	if len(ns) == 0 {
		delete(s.data, namespace)
	}
	return nil
}

// Ping always succeeds.
func (s *SessionStore) Ping(context.Context) error {
	return nil
}

// namespaces returns the number of namespaces holding data.
func (s *SessionStore) namespaces() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
