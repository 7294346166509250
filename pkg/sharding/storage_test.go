package sharding

import (
	"testing"

	"github.com/fagongzi/util/json"
	"github.com/infinivision/sluice/pkg/local"
	"github.com/infinivision/sluice/pkg/meta"
	"github.com/stretchr/testify/assert"
)

func TestStoragePutAndLoadShards(t *testing.T) {
	s := newStorage(local.NewMemStorage())

	err := s.putShard(meta.Shard{ID: 1, Derivation: "balances"})
	assert.Nilf(t, err, "put shard failed with %+v", err)

	err = s.putShard(meta.Shard{ID: 2, Derivation: "balances", Index: 1})
	assert.Nilf(t, err, "put shard failed with %+v", err)

	c, err := s.countShards()
	assert.Nilf(t, err, "count shards failed with %+v", err)
	assert.Equal(t, 2, c, "check shard count")

	var loaded []meta.Shard
	err = s.loadShards(func(value []byte) (uint64, error) {
		shard := meta.Shard{}
		json.MustUnmarshal(&shard, value)
		loaded = append(loaded, shard)
		return shard.ID, nil
	})
	assert.Nilf(t, err, "load shards failed with %+v", err)
	assert.Equal(t, 2, len(loaded), "check loaded count")
	assert.Equal(t, "balances", loaded[0].Derivation, "check loaded shard")

	err = s.removeShard(1)
	assert.Nilf(t, err, "remove shard failed with %+v", err)

	c, err = s.countShards()
	assert.Nilf(t, err, "count shards failed with %+v", err)
	assert.Equal(t, 1, c, "check shard count after remove")
}

func TestStorageStoreKey(t *testing.T) {
	s := newStorage(local.NewMemStorage())

	err := s.set(storeKey, []byte("value"))
	assert.Nilf(t, err, "set failed with %+v", err)

	value, err := s.get(storeKey)
	assert.Nilf(t, err, "get failed with %+v", err)
	assert.Equal(t, []byte("value"), value, "check store key value")
}
