package finanzgw

import (
	"context"
	"sync"
)

// MemoryStorage keeps buckets in process memory. Nothing survives a restart.
type MemoryStorage struct {
	mu      sync.Mutex
	buckets map[string]*memoryBucket
	active  string
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{buckets: map[string]*memoryBucket{}}
}

func (s *MemoryStorage) Open(_ context.Context, name string) (Bucket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buckets[name]
	if !ok {
		b = &memoryBucket{name: name, entries: map[string]CachedResponse{}}
		s.buckets[name] = b
	}
	return b, nil
}

func (s *MemoryStorage) Lookup(_ context.Context, name string) (Bucket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buckets[name]
	if !ok {
		return nil, ErrBucketNotFound
	}
	return b, nil
}

func (s *MemoryStorage) Names(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.buckets), nil
}

func (s *MemoryStorage) Delete(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.buckets[name]
	delete(s.buckets, name)
	return ok, nil
}

func (s *MemoryStorage) ActiveVersion(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active, nil
}

func (s *MemoryStorage) SetActiveVersion(_ context.Context, version string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = version
	return nil
}

func (s *MemoryStorage) Close() error { return nil }

type memoryBucket struct {
	name string

	mu      sync.RWMutex
	entries map[string]CachedResponse
}

func (b *memoryBucket) Name() string { return b.name }

func (b *memoryBucket) Match(_ context.Context, key string) (CachedResponse, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ent, ok := b.entries[key]
	return ent, ok, nil
}

func (b *memoryBucket) PutAll(_ context.Context, entries map[string]CachedResponse) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for k, ent := range entries {
		b.entries[k] = ent
	}
	return nil
}

func (b *memoryBucket) Keys(context.Context) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return sortedKeys(b.entries), nil
}
