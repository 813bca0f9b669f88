package cache

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Memory is the in-process backend, used in development and tests.
type Memory struct {
	prefix string
	c      *gocache.Cache
	// takeMu serialises Take so a key is handed out once.
	takeMu sync.Mutex
}

func NewMemory(prefix string, defaultTTL time.Duration) *Memory {
	return &Memory{prefix: prefix, c: gocache.New(defaultTTL, time.Minute)}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	v, ok := m.c.Get(prefixed(m.prefix, key))
	if !ok {
		return nil, ErrNotFound
	}
	b, _ := v.([]byte)
	return b, nil
}

// Set stores value; ttl <= 0 means no expiry.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	m.c.Set(prefixed(m.prefix, key), cp, ttl)
	return nil
}

func (m *Memory) Take(_ context.Context, key string) ([]byte, error) {
	k := prefixed(m.prefix, key)
	m.takeMu.Lock()
	defer m.takeMu.Unlock()
	v, ok := m.c.Get(k)
	if !ok {
		return nil, ErrNotFound
	}
	m.c.Delete(k)
	b, _ := v.([]byte)
	return b, nil
}

func (m *Memory) Delete(_ context.Context, keys ...string) error {
	for _, k := range keys {
		m.c.Delete(prefixed(m.prefix, k))
	}
	return nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error {
	m.c.Flush()
	return nil
}
