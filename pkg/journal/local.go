package journal

import (
	"fmt"
	"net/url"
	"sync"

	"github.com/fagongzi/goetty"
	"github.com/infinivision/sluice/pkg/local"
	"github.com/infinivision/sluice/pkg/meta"
)

// journal data is in (0x03, 0x04); journal names cannot hold a zero
// byte, so it separates the name from the suffix
var (
	journalPrefix byte = 0x03
	headSuffix         = []byte{0x00, 0x01}
	docSuffix          = []byte{0x00, 0x02}
	fenceSuffix        = []byte{0x00, 0x03}
)

type localStore struct {
	sync.Mutex

	local local.Storage
	owned bool
}

// NewLocalStore returns a store persisting journals in the local
// storage, the caller keeps the ownership of the storage
func NewLocalStore(ls local.Storage) Store {
	return &localStore{local: ls}
}

func createLocalStore(u *url.URL) (Store, error) {
	ls, err := local.NewBadgerStorage(u.Path)
	if err != nil {
		return nil, err
	}

	return &localStore{local: ls, owned: true}, nil
}

func (s *localStore) Append(journal string, docs ...[]byte) (int64, error) {
	s.Lock()
	defer s.Unlock()

	return s.doAppend(journal, docs, nil)
}

func (s *localStore) AppendFenced(journal string, token uint64, docs ...[]byte) (int64, error) {
	s.Lock()
	defer s.Unlock()

	fence, err := s.fence(journal)
	if err != nil {
		return 0, err
	}
	if token < fence {
		return 0, meta.ErrStaleToken
	}

	// the fence advances in the same batch as the documents
	return s.doAppend(journal, docs, [][]byte{
		getFenceKey(journal), goetty.Uint64ToBytes(token),
	})
}

func (s *localStore) Fence(journal string, token uint64) error {
	s.Lock()
	defer s.Unlock()

	fence, err := s.fence(journal)
	if err != nil {
		return err
	}
	if token <= fence {
		return nil
	}

	return s.local.BatchSet(getFenceKey(journal), goetty.Uint64ToBytes(token))
}

func (s *localStore) doAppend(journal string, docs [][]byte, extra [][]byte) (int64, error) {
	head, err := s.head(journal)
	if err != nil {
		return 0, err
	}

	pairs := make([][]byte, 0, 2*len(docs)+2+len(extra))
	for i, doc := range docs {
		pairs = append(pairs, getDocKey(journal, head+int64(i)), doc)
	}
	next := head + int64(len(docs))
	pairs = append(pairs, getHeadKey(journal), goetty.Uint64ToBytes(uint64(next)))
	pairs = append(pairs, extra...)

	if err := s.local.BatchSet(pairs...); err != nil {
		return 0, err
	}

	return next, nil
}

func (s *localStore) Read(journal string, offset int64, limit int) ([][]byte, int64, error) {
	if offset < 0 {
		return nil, 0, fmt.Errorf("invalid offset %d", offset)
	}

	head, err := s.head(journal)
	if err != nil {
		return nil, 0, err
	}
	if offset >= head {
		return nil, offset, nil
	}

	end := offset + int64(limit)
	if limit <= 0 || end > head {
		end = head
	}

	docs := make([][]byte, 0, end-offset)
	for i := offset; i < end; i++ {
		doc, err := s.local.Get(getDocKey(journal, i))
		if err != nil {
			return nil, 0, err
		}
		if len(doc) == 0 {
			return nil, 0, fmt.Errorf("journal %s missing document at offset %d", journal, i)
		}

		docs = append(docs, doc)
	}

	return docs, end, nil
}

func (s *localStore) Size(journal string) (int64, error) {
	return s.head(journal)
}

func (s *localStore) Close() error {
	if s.owned {
		return s.local.Close()
	}

	return nil
}

func (s *localStore) head(journal string) (int64, error) {
	value, err := s.local.Get(getHeadKey(journal))
	if err != nil {
		return 0, err
	}
	if len(value) == 0 {
		return 0, nil
	}

	return int64(goetty.Byte2UInt64(value)), nil
}

func (s *localStore) fence(journal string) (uint64, error) {
	value, err := s.local.Get(getFenceKey(journal))
	if err != nil {
		return 0, err
	}
	if len(value) == 0 {
		return 0, nil
	}

	return goetty.Byte2UInt64(value), nil
}

func getHeadKey(journal string) []byte {
	key := make([]byte, 0, len(journal)+3)
	key = append(key, journalPrefix)
	key = append(key, journal...)
	return append(key, headSuffix...)
}

func getFenceKey(journal string) []byte {
	key := make([]byte, 0, len(journal)+3)
	key = append(key, journalPrefix)
	key = append(key, journal...)
	return append(key, fenceSuffix...)
}

func getDocKey(journal string, offset int64) []byte {
	key := make([]byte, 0, len(journal)+11)
	key = append(key, journalPrefix)
	key = append(key, journal...)
	key = append(key, docSuffix...)
	return append(key, goetty.Uint64ToBytes(uint64(offset))...)
}
