package local

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/google/btree"
)

type memItem struct {
	key   []byte
	value []byte
}

// Less less
func (item *memItem) Less(other btree.Item) bool {
	return bytes.Compare(item.key, other.(*memItem).key) < 0
}

type memStorage struct {
	sync.RWMutex
	tree *btree.BTree
}

// NewMemStorage returns a local storage backed by a in-memory btree,
// used by tests and by stores that do not need durability
func NewMemStorage() Storage {
	return &memStorage{
		tree: btree.New(64),
	}
}

func (s *memStorage) Set(key, value []byte) error {
	s.Lock()
	s.tree.ReplaceOrInsert(newMemItem(key, value))
	s.Unlock()
	return nil
}

func (s *memStorage) BatchSet(pairs ...[]byte) error {
	if len(pairs)%2 != 0 {
		return fmt.Errorf("invalid pairs len: %d", len(pairs))
	}

	s.Lock()
	for i := 0; i < len(pairs); i += 2 {
		s.tree.ReplaceOrInsert(newMemItem(pairs[i], pairs[i+1]))
	}
	s.Unlock()
	return nil
}

func (s *memStorage) Get(key []byte) ([]byte, error) {
	s.RLock()
	defer s.RUnlock()

	item := s.tree.Get(&memItem{key: key})
	if item == nil {
		return nil, nil
	}

	value := item.(*memItem).value
	return append([]byte(nil), value...), nil
}

func (s *memStorage) Remove(key []byte) error {
	s.Lock()
	s.tree.Delete(&memItem{key: key})
	s.Unlock()
	return nil
}

func (s *memStorage) BatchRemove(keys ...[]byte) error {
	s.Lock()
	for _, key := range keys {
		s.tree.Delete(&memItem{key: key})
	}
	s.Unlock()
	return nil
}

func (s *memStorage) Range(prefix []byte, limit uint64, fn func([]byte, []byte) bool) error {
	s.RLock()
	defer s.RUnlock()

	c := uint64(0)
	s.tree.AscendGreaterOrEqual(&memItem{key: prefix}, func(i btree.Item) bool {
		item := i.(*memItem)
		if !bytes.HasPrefix(item.key, prefix) {
			return false
		}

		if !fn(item.key, item.value) {
			return false
		}
		c++
		return limit == 0 || c < limit
	})
	return nil
}

func (s *memStorage) SizeEstimate(prefix []byte) (uint64, error) {
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

func (s *memStorage) Close() error {
	return nil
}

func newMemItem(key, value []byte) *memItem {
	return &memItem{
		key:   append([]byte(nil), key...),
		value: append([]byte(nil), value...),
	}
}
