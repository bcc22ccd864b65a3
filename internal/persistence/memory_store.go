package persistence

import (
	"strconv"
	"sync"
)

// MemoryStore is an in-memory Store used by tests and dry-run mode
type MemoryStore struct {
	mu   sync.Mutex
	data map[string]string
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]string)}
}

func (s *MemoryStore) SetString(accountID, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[accountID+"/"+key] = value
	return nil
}

func (s *MemoryStore) GetString(accountID, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[accountID+"/"+key]
	return v, ok, nil
}

func (s *MemoryStore) SetInt64(accountID, key string, value int64) error {
	return s.SetString(accountID, key, strconv.FormatInt(value, 10))
}

func (s *MemoryStore) GetInt64(accountID, key string) (int64, bool, error) {
	raw, ok, err := s.GetString(accountID, key)
	if err != nil || !ok {
		return 0, ok, err
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

func (s *MemoryStore) SetFloat64(accountID, key string, value float64) error {
	return s.SetString(accountID, key, strconv.FormatFloat(value, 'g', -1, 64))
}

func (s *MemoryStore) GetFloat64(accountID, key string) (float64, bool, error) {
	raw, ok, err := s.GetString(accountID, key)
	if err != nil || !ok {
		return 0, ok, err
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

func (s *MemoryStore) Close() error { return nil }
