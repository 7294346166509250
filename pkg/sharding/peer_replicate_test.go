package sharding

import (
	"testing"

	"github.com/infinivision/prophet"
	"github.com/infinivision/sluice/pkg/meta"
	"github.com/stretchr/testify/assert"
)

func newTestPR(s *testStore, worker *testWorker) *PeerReplicate {
	s.cfg.worker = worker

	shard := meta.Shard{
		ID:         1,
		Derivation: "balances",
		Version:    1,
		Peers: []prophet.Peer{
			{ID: 2, ContainerID: s.meta.ID},
		},
	}

	return newPeerReplicate(s, shard, shard.Peers[0])
}

func TestAddAndRemovePeer(t *testing.T) {
	s := newTestStore()
	s.meta.ID = 10001
	pr := newTestPR(s, newTestWorker())

	peer := prophet.Peer{ID: 3, ContainerID: 10002}
	pr.addPeer(peer)
	assert.Equal(t, 2, len(pr.shard.Peers), "check add peer failed")
	assert.Equal(t, 1, len(pr.pendingPeers), "check pending peer failed")
	assert.Equal(t, uint64(2), pr.shard.Version, "check version bump failed")

	// adding the same store again is a no-op
	pr.addPeer(prophet.Peer{ID: 4, ContainerID: 10002})
	assert.Equal(t, 2, len(pr.shard.Peers), "check duplicated add peer failed")

	pr.removePendingPeer(peer)
	assert.Equal(t, 0, len(pr.pendingPeers), "check remove pending peer failed")

	pr.removePeer(peer)
	assert.Equal(t, 1, len(pr.shard.Peers), "check remove peer failed")
	assert.Equal(t, uint64(3), pr.shard.Version, "check version bump failed")
}

func TestDoHB(t *testing.T) {
	s := newTestStore()
	s.meta.ID = 10001
	s.sharding = newTestShardingTransport()
	pr := newTestPR(s, newTestWorker())
	pr.addPeer(prophet.Peer{ID: 3, ContainerID: 10002})

	pr.doHB()

	trans := s.sharding.(*testShardingTransport)
	assert.Equal(t, 1, trans.count, "check hb sent failed")
	msg, ok := trans.m[10002].(*meta.HBMsg)
	assert.True(t, ok, "check hb msg failed")
	assert.Equal(t, pr.shard.ID, msg.Shard.ID, "check hb shard failed")
}

func TestDoSplitCheckBelowCapacity(t *testing.T) {
	s := newTestStore()
	s.meta.ID = 10001
	s.cfg.ShardCapacityBytes = 1024

	worker := newTestWorker()
	worker.leader = true
	worker.regSize = 512
	pr := newTestPR(s, worker)

	pr.doSplitCheck()
	assert.Equal(t, uint64(0), worker.splitTarget, "check no split failed")
	assert.Equal(t, 0, len(s.shards), "check no shard created failed")
}

func TestDoSplitCheck(t *testing.T) {
	s := newTestStore()
	s.meta.ID = 10001
	s.cfg.ShardCapacityBytes = 1024
	s.seq = 100
	s.ring = meta.Ring{
		Name:    "balances",
		Members: []meta.Member{{}},
	}
	s.ringShards = []uint64{1}

	worker := newTestWorker()
	worker.leader = true
	worker.regCount = 10
	worker.regSize = 2048
	worker.splitMoved = 4
	pr := newTestPR(s, worker)

	pr.doSplitCheck()

	assert.Equal(t, uint64(100), worker.splitTarget, "check split target failed")
	assert.Equal(t, uint32(1<<31), worker.splitAt, "check split point failed")

	// this shard narrowed to the lower half of the span
	assert.Equal(t, uint32(0), pr.shard.Begin, "check narrowed begin failed")
	assert.Equal(t, uint32(1<<31), pr.shard.End, "check narrowed end failed")
	assert.Equal(t, uint64(2), pr.shard.Version, "check version bump failed")

	// the new shard took the upper half as the next ring member
	newShard := s.shards[100]
	assert.Equal(t, uint32(1), newShard.Index, "check new shard index failed")
	assert.Equal(t, uint32(1<<31), newShard.Begin, "check new shard begin failed")
	assert.Equal(t, uint32(0), newShard.End, "check new shard end failed")
	assert.Equal(t, 1, s.prCount, "check new replica added failed")
	assert.Equal(t, 1, worker.refreshed, "check topology refresh failed")
	assert.False(t, pr.splitting, "check splitting reset failed")
}

func TestDoSplitCheckRefused(t *testing.T) {
	s := newTestStore()
	s.meta.ID = 10001
	s.cfg.ShardCapacityBytes = 1024
	s.seq = 100
	s.ring = meta.Ring{
		Name:    "balances",
		Members: []meta.Member{{}},
	}
	s.ringShards = []uint64{1}

	worker := newTestWorker()
	worker.leader = true
	worker.regSize = 2048
	worker.splitErr = meta.ErrNotLeader
	pr := newTestPR(s, worker)

	pr.doSplitCheck()

	assert.Equal(t, []uint64{100}, s.removed, "check refused shard removed failed")
	assert.Equal(t, 0, s.prCount, "check no replica added failed")
	assert.Equal(t, uint32(0), pr.shard.End, "check span unchanged failed")
	assert.False(t, pr.splitting, "check splitting reset failed")
}
