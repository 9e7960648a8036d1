package store

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// memoryStore backs Store with an in-process go-cache instance. Suitable for
// single-instance deployments and tests.
type memoryStore struct {
	cache *gocache.Cache
	// go-cache increments are not atomic across Get/Set for absent keys, so
	// counter creation is guarded here.
	mu sync.Mutex
}

// NewMemory returns an in-memory store. cleanupInterval controls how often
// expired entries are purged.
func NewMemory(cleanupInterval time.Duration) Store {
	return &memoryStore{
		cache: gocache.New(gocache.NoExpiration, cleanupInterval),
	}
}

func (s *memoryStore) Get(_ context.Context, key string) ([]byte, error) {
	v, ok := s.cache.Get(key)
	if !ok {
		return nil, ErrNotFound
	}
	b, ok := v.([]byte)
	if !ok {
		return nil, ErrNotFound
	}
	return b, nil
}

func (s *memoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	s.cache.Set(key, value, ttl)
	return nil
}

func (s *memoryStore) Increment(_ context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.cache.Get(key); !ok {
		if ttl <= 0 {
			ttl = gocache.NoExpiration
		}
		s.cache.Set(key, int64(1), ttl)
		return 1, nil
	}
	return s.cache.IncrementInt64(key, 1)
}

func (s *memoryStore) Delete(_ context.Context, key string) error {
	s.cache.Delete(key)
	return nil
}

func (s *memoryStore) Close() error {
	s.cache.Flush()
	return nil
}
