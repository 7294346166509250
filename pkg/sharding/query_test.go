package sharding

import (
	"testing"

	"github.com/infinivision/prophet"
	"github.com/infinivision/sluice/pkg/derive"
	"github.com/infinivision/sluice/pkg/meta"
	"github.com/stretchr/testify/assert"
)

func addTestShard(s Store, id uint64, derivation string) {
	m := &meta.HBMsg{}
	m.Shard.ID = id
	m.Shard.Derivation = derivation
	m.Shard.Version = 1
	m.Shard.Peers = append(m.Shard.Peers, prophet.Peer{
		ID:          id + 100,
		ContainerID: 10001,
	})
	s.HandleShardingMsg(m)
}

func TestStates(t *testing.T) {
	worker := newTestWorker()
	worker.state = derive.DerivationState{Derivation: "balances", Shard: 1}

	cfg := Cfg{}
	cfg.storeID = 10001
	cfg.worker = worker
	cfg.storage = newTestStorage()
	s := NewStore(cfg)

	addTestShard(s, 1, "balances")
	addTestShard(s, 2, "totals")

	states, err := s.States("balances")
	assert.Nilf(t, err, "states failed with %+v", err)
	assert.Equal(t, 1, len(states), "check states count failed")
	assert.Equal(t, "balances", states[0].Derivation, "check states derivation failed")

	states, err = s.States("missing")
	assert.Nilf(t, err, "states failed with %+v", err)
	assert.Equal(t, 0, len(states), "check missing derivation states failed")
}

func TestManual(t *testing.T) {
	worker := newTestWorker()
	worker.leader = true

	cfg := Cfg{}
	cfg.storeID = 10001
	cfg.worker = worker
	cfg.storage = newTestStorage()
	s := NewStore(cfg)

	addTestShard(s, 1, "balances")

	manual := meta.Manual{
		Derivation: "balances",
		Transform:  "fromMovements",
		Action:     meta.ManualResume,
	}
	err := s.Manual(manual)
	assert.Nilf(t, err, "manual failed with %+v", err)
	assert.Equal(t, 1, len(worker.manuals), "check manual applied failed")

	manual.Derivation = "missing"
	err = s.Manual(manual)
	assert.NotNil(t, err, "check manual without leader failed")
}

func TestShards(t *testing.T) {
	cfg := Cfg{}
	cfg.storeID = 10001
	cfg.worker = newTestWorker()
	cfg.storage = newTestStorage()
	s := NewStore(cfg)

	addTestShard(s, 2, "totals")
	addTestShard(s, 1, "balances")

	shards := s.Shards()
	assert.Equal(t, 2, len(shards), "check shards count failed")
	assert.Equal(t, uint64(1), shards[0].ID, "check shards sorted failed")
	assert.Equal(t, "balances", shards[0].Derivation, "check shard derivation failed")
}
