package persistence

import (
	"errors"
	"strconv"

	"github.com/dgraph-io/badger/v3"
)

// badgerStore is the BadgerDB implementation of Store
type badgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens (or creates) a BadgerDB database at dbPath
func NewBadgerStore(dbPath string) (Store, error) {
	opts := badger.DefaultOptions(dbPath)
	// Badger's own logging would drown ours; errors still come back from
	// every operation.
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &badgerStore{db: db}, nil
}

func storeKey(accountID, key string) []byte {
	return []byte(accountID + "/" + key)
}

func (s *badgerStore) set(accountID, key string, value []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(storeKey(accountID, key), value)
	})
}

func (s *badgerStore) get(accountID, key string) ([]byte, bool, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(storeKey(accountID, key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			out = append([]byte(nil), val...)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

func (s *badgerStore) SetString(accountID, key, value string) error {
	return s.set(accountID, key, []byte(value))
}

func (s *badgerStore) GetString(accountID, key string) (string, bool, error) {
	raw, ok, err := s.get(accountID, key)
	if err != nil || !ok {
		return "", ok, err
	}
	return string(raw), true, nil
}

func (s *badgerStore) SetInt64(accountID, key string, value int64) error {
	return s.set(accountID, key, []byte(strconv.FormatInt(value, 10)))
}

func (s *badgerStore) GetInt64(accountID, key string) (int64, bool, error) {
	raw, ok, err := s.get(accountID, key)
	if err != nil || !ok {
		return 0, ok, err
	}
	v, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

func (s *badgerStore) SetFloat64(accountID, key string, value float64) error {
	return s.set(accountID, key, []byte(strconv.FormatFloat(value, 'g', -1, 64)))
}

func (s *badgerStore) GetFloat64(accountID, key string) (float64, bool, error) {
	raw, ok, err := s.get(accountID, key)
	if err != nil || !ok {
		return 0, ok, err
	}
	v, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

func (s *badgerStore) Close() error {
	return s.db.Close()
}
