package statestore

import (
	"context"
	"sync"
)

// Scope selects where a setting lives: the shared world or one client
type Scope string

// World is shared by every client and only written by the authority
const World Scope = "world"

// Client returns the scope private to one client
func Client(clientID string) Scope {
	return Scope("client:" + clientID)
}

// Settings is persisted key/value storage. Get returns nil without an
// error when the key was never written.
type Settings interface {
	Get(ctx context.Context, scope Scope, key string) ([]byte, error)
	Set(ctx context.Context, scope Scope, key string, value []byte) error
}

// MemorySettings keeps settings in process
type MemorySettings struct {
	mu     sync.RWMutex
	values map[string][]byte
}

// NewMemorySettings creates empty settings storage
func NewMemorySettings() *MemorySettings {
	return &MemorySettings{values: make(map[string][]byte)}
}

func (m *MemorySettings) Get(_ context.Context, scope Scope, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[string(scope)+"/"+key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

func (m *MemorySettings) Set(_ context.Context, scope Scope, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[string(scope)+"/"+key] = append([]byte(nil), value...)
	return nil
}
