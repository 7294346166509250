package sharding

import (
	"github.com/fagongzi/util/json"
	"github.com/infinivision/sluice/pkg/local"
	"github.com/infinivision/sluice/pkg/meta"
)

type storage interface {
	get(key []byte) ([]byte, error)
	set(key, value []byte) error

	countShards() (int, error)
	loadShards(handleFunc func(value []byte) (uint64, error)) error
	putShard(shard meta.Shard) error
	removeShard(id uint64) error
}

type defaultStorage struct {
	local local.Storage
}

func newStorage(s local.Storage) *defaultStorage {
	return &defaultStorage{
		local: s,
	}
}

func (s *defaultStorage) loadShards(handleFunc func(value []byte) (uint64, error)) error {
	return s.local.Range(shardsPrefix, 0, func(key, value []byte) bool {
		handleFunc(value)
		return true
	})
}

func (s *defaultStorage) countShards() (int, error) {
	c := 0
	err := s.local.Range(shardsPrefix, 0, func(key, value []byte) bool {
		c++
		return true
	})
	if err != nil {
		return 0, err
	}

	return c, nil
}

func (s *defaultStorage) putShard(shard meta.Shard) error {
	return s.set(getShardKey(shard.ID), json.MustMarshal(&shard))
}

func (s *defaultStorage) removeShard(id uint64) error {
	return s.local.Remove(getShardKey(id))
}

func (s *defaultStorage) set(key, value []byte) error {
	return s.local.Set(key, value)
}

func (s *defaultStorage) get(key []byte) ([]byte, error) {
	return s.local.Get(key)
}

// just for test
type emptyStorage struct {
}

func (s *emptyStorage) get(key []byte) ([]byte, error) { return nil, nil }
func (s *emptyStorage) set(key, value []byte) error    { return nil }
func (s *emptyStorage) countShards() (int, error)      { return 0, nil }
func (s *emptyStorage) loadShards(handleFunc func(value []byte) (uint64, error)) error {
	return nil
}
func (s *emptyStorage) putShard(shard meta.Shard) error { return nil }
func (s *emptyStorage) removeShard(id uint64) error     { return nil }
