package cache

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"time"
)

const shardCount = 16

// DefaultSweepInterval is a reasonable background sweep cadence for
// long-lived processes.
const DefaultSweepInterval = time.Minute

type entry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !e.expiresAt.After(now)
}

type shard struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// Memory is an in-process sharded TTL cache. Reads take a per-shard RLock so
// the hot path never serializes on a global lock.
type Memory struct {
	shards [shardCount]*shard
	stop   chan struct{}
	once   sync.Once
}

// NewMemory creates a memory cache and starts a background sweep that drops
// expired entries every sweepInterval. Close stops the sweep.
func NewMemory(sweepInterval time.Duration) *Memory {
	m := &Memory{stop: make(chan struct{})}
	for i := range m.shards {
		m.shards[i] = &shard{entries: make(map[string]entry)}
	}
	if sweepInterval > 0 {
		go m.sweep(sweepInterval)
	}
	return m
}

func (m *Memory) shardFor(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return m.shards[h.Sum32()%shardCount]
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	s := m.shardFor(key)
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok || e.expired(time.Now()) {
		return nil, false, nil
	}
	return e.value, true, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	s := m.shardFor(key)
	s.mu.Lock()
	s.entries[key] = e
	s.mu.Unlock()
	return nil
}

func (m *Memory) Delete(_ context.Context, keys ...string) error {
	for _, key := range keys {
		s := m.shardFor(key)
		s.mu.Lock()
		delete(s.entries, key)
		s.mu.Unlock()
	}
	return nil
}

func (m *Memory) DeletePrefix(_ context.Context, prefix string) error {
	for _, s := range m.shards {
		s.mu.Lock()
		for key := range s.entries {
			if strings.HasPrefix(key, prefix) {
				delete(s.entries, key)
			}
		}
		s.mu.Unlock()
	}
	return nil
}

// Close stops the background sweep.
func (m *Memory) Close() {
	m.once.Do(func() { close(m.stop) })
}

func (m *Memory) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case now := <-ticker.C:
			for _, s := range m.shards {
				s.mu.Lock()
				for key, e := range s.entries {
					if e.expired(now) {
						delete(s.entries, key)
					}
				}
				s.mu.Unlock()
			}
		}
	}
}
