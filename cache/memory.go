package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/warp/rental-engine/rental"
)

// Memory is an in-process rental.Cache. Values are stored as JSON so callers
// observe the same copy semantics as with Redis.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	data    []byte
	expires time.Time // zero = never
}

var _ rental.Cache = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]map[string]memoryEntry),
		now:     time.Now,
	}
}

func (m *Memory) Get(_ context.Context, namespace, key string, dest any) (bool, error) {
	m.mu.RLock()
	entry, ok := m.entries[namespace][key]
	m.mu.RUnlock()

	if !ok || (!entry.expires.IsZero() && !m.now().Before(entry.expires)) {
		return false, nil
	}
	if err := json.Unmarshal(entry.data, dest); err != nil {
		return false, fmt.Errorf("cache.Get: %w", err)
	}
	return true, nil
}

func (m *Memory) Set(_ context.Context, namespace, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache.Set: %w", err)
	}
	entry := memoryEntry{data: data}
	if ttl > 0 {
		entry.expires = m.now().Add(ttl)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	ns, ok := m.entries[namespace]
	if !ok {
		ns = make(map[string]memoryEntry)
		m.entries[namespace] = ns
	}
	ns[key] = entry
	return nil
}

func (m *Memory) InvalidateNamespace(_ context.Context, namespace string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, namespace)
	return nil
}

// Len returns the number of live and expired entries of a namespace.
func (m *Memory) Len(namespace string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries[namespace])
}
