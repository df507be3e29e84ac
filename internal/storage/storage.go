// Package storage provides the string key-value store the event cache
// persists into. Every driver is synchronous and may fail; callers treat
// failures as non-fatal.
package storage

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"panelcal/internal/config"
)

var (
	// ErrNotFound is returned by Get for a missing key.
	ErrNotFound = errors.New("storage: key not found")
	// ErrQuota is returned by Set when the store is full.
	ErrQuota = errors.New("storage: quota exceeded")
)

// KV is a flat string key-value store.
type KV interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Remove(key string) error
	// Keys lists keys starting with prefix, in no particular order.
	Keys(prefix string) ([]string, error)
	Close() error
}

// Open builds the driver selected by cfg.
func Open(cfg config.StorageConfig) (KV, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemory(cfg.Capacity), nil
	case "sqlite":
		return NewSQLite(cfg.Path)
	case "redis":
		return NewRedis(cfg.Addr, cfg.Password, cfg.DB)
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", cfg.Driver)
	}
}

// Memory is an in-process KV with a byte capacity, counted over keys and
// values.
type Memory struct {
	mu       sync.Mutex
	data     map[string]string
	used     int
	capacity int
}

// NewMemory returns a Memory store. capacity <= 0 means unbounded.
func NewMemory(capacity int) *Memory {
	return &Memory{data: make(map[string]string), capacity: capacity}
}

func (m *Memory) Get(key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *Memory) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	used := m.used
	if old, ok := m.data[key]; ok {
		used -= len(key) + len(old)
	}
	used += len(key) + len(value)
	if m.capacity > 0 && used > m.capacity {
		return ErrQuota
	}
	m.data[key] = value
	m.used = used
	return nil
}

func (m *Memory) Remove(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.data[key]; ok {
		m.used -= len(key) + len(old)
		delete(m.data, key)
	}
	return nil
}

func (m *Memory) Keys(prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *Memory) Close() error { return nil }
