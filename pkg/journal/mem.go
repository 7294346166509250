package journal

import (
	"fmt"
	"sync"

	"github.com/infinivision/sluice/pkg/meta"
)

type memStore struct {
	sync.RWMutex
	journals map[string][][]byte
	fences   map[string]uint64
}

// NewMemStore returns a store holding journals in memory, just for
// test and single node runs
func NewMemStore() Store {
	return &memStore{
		journals: make(map[string][][]byte),
		fences:   make(map[string]uint64),
	}
}

func (s *memStore) Append(journal string, docs ...[]byte) (int64, error) {
	s.Lock()
	defer s.Unlock()

	return s.doAppend(journal, docs), nil
}

func (s *memStore) AppendFenced(journal string, token uint64, docs ...[]byte) (int64, error) {
	s.Lock()
	defer s.Unlock()

	if token < s.fences[journal] {
		return 0, meta.ErrStaleToken
	}
	s.fences[journal] = token

	return s.doAppend(journal, docs), nil
}

func (s *memStore) Fence(journal string, token uint64) error {
	s.Lock()
	defer s.Unlock()

	if token > s.fences[journal] {
		s.fences[journal] = token
	}

	return nil
}

func (s *memStore) doAppend(journal string, docs [][]byte) int64 {
	log := s.journals[journal]
	for _, doc := range docs {
		log = append(log, append([]byte(nil), doc...))
	}
	s.journals[journal] = log

	return int64(len(log))
}

func (s *memStore) Read(journal string, offset int64, limit int) ([][]byte, int64, error) {
	if offset < 0 {
		return nil, 0, fmt.Errorf("invalid offset %d", offset)
	}

	s.RLock()
	defer s.RUnlock()

	log := s.journals[journal]
	if offset >= int64(len(log)) {
		return nil, offset, nil
	}

	end := offset + int64(limit)
	if limit <= 0 || end > int64(len(log)) {
		end = int64(len(log))
	}

	return log[offset:end], end, nil
}

func (s *memStore) Size(journal string) (int64, error) {
	s.RLock()
	defer s.RUnlock()

	return int64(len(s.journals[journal])), nil
}

func (s *memStore) Close() error {
	return nil
}
