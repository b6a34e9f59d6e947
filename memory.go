package rkv

import "sync"

// MemoryStore keeps every pair in a map guarded by a RWMutex. Clones share
// the map and Shutdown is a no-op, so the data lives as long as the process.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]string
}

var _ KvsEngine = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]string),
	}
}

func (s *MemoryStore) Set(key string, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = value
	return nil
}

func (s *MemoryStore) Get(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	val, ok := s.data[key]
	return val, ok, nil
}

func (s *MemoryStore) Remove(key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.data[key]
	delete(s.data, key)
	return ok, nil
}

func (s *MemoryStore) Keys() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	return keys, nil
}

func (s *MemoryStore) Clone() KvsEngine {
	return s
}

func (s *MemoryStore) Shutdown() error {
	return nil
}
