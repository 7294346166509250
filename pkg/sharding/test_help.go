package sharding

import (
	"errors"
	"sync"

	"github.com/infinivision/prophet"
	"github.com/infinivision/sluice/pkg/derive"
	"github.com/infinivision/sluice/pkg/meta"
)

type testWorker struct {
	sync.Mutex

	leader     bool
	leaderPeer uint64
	stopped    bool
	refreshed  int

	subs    []meta.ShuffleRequest
	batches []*meta.DocumentBatch
	faults  []string
	manuals []meta.Manual

	regCount int
	regSize  uint64
	statsErr error

	splitTarget uint64
	splitAt     uint32
	splitMoved  int
	splitErr    error

	state derive.DerivationState
}

func newTestWorker() *testWorker {
	return &testWorker{}
}

func (w *testWorker) Stop() {
	w.stopped = true
}

func (w *testWorker) IsLeader() bool {
	return w.leader
}

func (w *testWorker) CurrentLeader() (uint64, error) {
	return w.leaderPeer, nil
}

func (w *testWorker) ChangeLeaderTo(id uint64) {
	w.leaderPeer = id
}

func (w *testWorker) OnSubscribe(req meta.ShuffleRequest) {
	w.Lock()
	w.subs = append(w.subs, req)
	w.Unlock()
}

func (w *testWorker) OnBatch(batch *meta.DocumentBatch) {
	w.Lock()
	w.batches = append(w.batches, batch)
	w.Unlock()
}

func (w *testWorker) OnFault(transform string, err string) {
	w.Lock()
	w.faults = append(w.faults, transform)
	w.Unlock()
}

func (w *testWorker) Manual(m meta.Manual, cb func(error)) {
	w.Lock()
	w.manuals = append(w.manuals, m)
	w.Unlock()
	cb(nil)
}

func (w *testWorker) SplitTo(target uint64, at uint32, cb func(int, error)) {
	w.splitTarget = target
	w.splitAt = at
	cb(w.splitMoved, w.splitErr)
}

func (w *testWorker) State(cb func(derive.DerivationState, error)) {
	cb(w.state, nil)
}

func (w *testWorker) RefreshTopology() {
	w.refreshed++
}

func (w *testWorker) RegisterStats() (int, uint64, error) {
	return w.regCount, w.regSize, w.statsErr
}

type testStore struct {
	emptyStore

	seq      uint64
	meta     meta.StoreMeta
	cfg      Cfg
	sharding Transport
	prs      map[uint64]*PeerReplicate
	prCount  int
	shards   map[uint64]meta.Shard
	removed  []uint64
	lastMsg  interface{}
	rspMsg   interface{}
	addrs    map[uint64]string
	addrErr  error

	ring       meta.Ring
	ringShards []uint64
}

func newTestStore() *testStore {
	return &testStore{
		prs:    make(map[uint64]*PeerReplicate),
		shards: make(map[uint64]meta.Shard),
		addrs:  make(map[uint64]string),
	}
}

func (s *testStore) next() uint64 {
	value := s.seq
	s.seq++
	return value
}

func (s *testStore) CreateShard(derivation string, index, begin, end uint32) meta.Shard {
	shard := meta.Shard{
		ID:         s.next(),
		Derivation: derivation,
		Index:      index,
		Begin:      begin,
		End:        end,
		Peers: []prophet.Peer{
			{ID: s.next(), ContainerID: s.meta.ID},
		},
	}

	s.shards[shard.ID] = shard
	return shard
}

func (s *testStore) MustUpdateShard(shard meta.Shard) {
	s.shards[shard.ID] = shard
}

func (s *testStore) MustRemoveShard(id uint64) {
	delete(s.shards, id)
	s.removed = append(s.removed, id)
}

func (s *testStore) AddReplicate(pr *PeerReplicate) {
	s.prs[pr.shard.ID] = pr
	s.prCount++
}

func (s *testStore) AddPeer(id uint64, peer prophet.Peer) {
	pr := s.GetShard(id, true)
	if pr != nil {
		pr.addPeer(peer)
	}
}

func (s *testStore) RemovePeer(id uint64, peer prophet.Peer) {
	pr := s.GetShard(id, true)
	if pr != nil {
		pr.removePeer(peer)
	}
}

func (s *testStore) Cfg() Cfg {
	return s.cfg
}

func (s *testStore) Meta() meta.StoreMeta {
	return s.meta
}

func (s *testStore) ShardingTransport() Transport {
	return s.sharding
}

func (s *testStore) GetShard(id uint64, leader bool) *PeerReplicate {
	pr, ok := s.prs[id]
	if !ok {
		return nil
	}

	if leader && !pr.isLeader() {
		return nil
	}

	return pr
}

func (s *testStore) ForeachReplicate(f func(*PeerReplicate) bool) {
	for _, pr := range s.prs {
		if !f(pr) {
			break
		}
	}
}

func (s *testStore) HandleShardingMsg(msg interface{}) interface{} {
	s.lastMsg = msg
	return s.rspMsg
}

func (s *testStore) GetStoreAddr(storeID uint64) (string, error) {
	if s.addrErr != nil {
		return "", s.addrErr
	}

	if value, ok := s.addrs[storeID]; ok {
		return value, nil
	}

	return "", errors.New("not found")
}

func (s *testStore) Topology(derivation string) (meta.Ring, []uint64, error) {
	return s.ring, s.ringShards, nil
}

type testShardingTransport struct {
	count int
	m     map[uint64]interface{}
}

func newTestShardingTransport() *testShardingTransport {
	return &testShardingTransport{m: make(map[uint64]interface{})}
}

func (t *testShardingTransport) Start() {}
func (t *testShardingTransport) Stop()  {}
func (t *testShardingTransport) Send(to uint64, data interface{}) {
	t.m[to] = data
	t.count++
}

type testStorage struct {
	emptyStorage

	kv     map[string][]byte
	shards []meta.Shard
}

func newTestStorage() *testStorage {
	return &testStorage{
		kv: make(map[string][]byte),
	}
}

func (s *testStorage) putShard(shard meta.Shard) error {
	s.shards = append(s.shards, shard)
	return nil
}

func (s *testStorage) get(key []byte) ([]byte, error) {
	return s.kv[string(key)], nil
}

func (s *testStorage) set(key, value []byte) error {
	s.kv[string(key)] = value
	return nil
}
