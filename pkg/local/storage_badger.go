package local

import (
	"fmt"

	"github.com/dgraph-io/badger"
)

type badgerStorage struct {
	db *badger.DB
}

// NewBadgerStorage returns a local storage using badger
func NewBadgerStorage(dir string) (Storage, error) {
	opts := badger.DefaultOptions
	opts.Dir = dir
	opts.ValueDir = dir
	opts.ValueLogFileSize = 1024 * 1024 * 10
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	return &badgerStorage{db: db}, nil
}

func (s *badgerStorage) Set(key, value []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

func (s *badgerStorage) BatchSet(pairs ...[]byte) error {
	if len(pairs)%2 != 0 {
		return fmt.Errorf("invalid pairs len: %d", len(pairs))
	}

	return s.db.Update(func(txn *badger.Txn) error {
		for i := 0; i < len(pairs); i += 2 {
			if err := txn.Set(pairs[i], pairs[i+1]); err != nil {
				return err
			}
		}

		return nil
	})
}

func (s *badgerStorage) Get(key []byte) ([]byte, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return nil
			}

			return err
		}

		v, err := item.Value()
		if err != nil {
			return err
		}

		value = append(value, v...)
		return nil
	})

	if err != nil {
		return nil, err
	}

	return value, nil
}

func (s *badgerStorage) Remove(key []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

func (s *badgerStorage) BatchRemove(keys ...[]byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		for _, key := range keys {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}

		return nil
	})
}

func (s *badgerStorage) Range(prefix []byte, limit uint64, fn func([]byte, []byte) bool) error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		c := uint64(0)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			k := item.Key()
			v, err := item.Value()
			if err != nil {
				return err
			}

			if !fn(k, v) {
				break
			}
			c++
			if limit > 0 && c >= limit {
				break
			}
		}
		return nil
	})
}

func (s *badgerStorage) SizeEstimate(prefix []byte) (uint64, error) {
	total := uint64(0)
	err := s.Range(prefix, 0, func(key, value []byte) bool {
		total += uint64(len(key) + len(value))
		return true
	})
	if err != nil {
		return 0, err
	}

	return total, nil
}

func (s *badgerStorage) Close() error {
	return s.db.Close()
}
