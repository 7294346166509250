package sharding

import (
	"sync"

	"github.com/fagongzi/log"
	"github.com/fagongzi/util/json"
	"github.com/fagongzi/util/task"
	"github.com/infinivision/prophet"
	"github.com/infinivision/sluice/pkg/derive"
	"github.com/infinivision/sluice/pkg/election"
	"github.com/infinivision/sluice/pkg/meta"
	"github.com/infinivision/sluice/pkg/shuffle"
)

// Store is a container of shards, which maintains a set of derivation
// ring members and their replicas
type Store interface {
	// Meta returns the current store's metadata
	Meta() meta.StoreMeta
	// Cfg returns the configuration
	Cfg() Cfg
	// Start start all shards managed by the store
	Start()
	// Stop stop the store
	Stop()

	// GetStoreAddr returns the store address
	GetStoreAddr(storeID uint64) (string, error)
	// LeaderPeer returns the shard's leader peer
	LeaderPeer(id uint64) (prophet.Peer, error)

	// CreateShard create a new ring member shard and save it to the local data
	CreateShard(derivation string, index, begin, end uint32) meta.Shard
	// MustUpdateShard update the shard metadata
	MustUpdateShard(shard meta.Shard)
	// MustRemoveShard remove the shard metadata
	MustRemoveShard(id uint64)
	// GetShard returns a shard replicatation from the store,
	// when `leader` is true, only return the leader replicatation
	GetShard(id uint64, leader bool) *PeerReplicate

	// ForeachReplicate do something on every `replicatations`, break if the funcation return false
	ForeachReplicate(func(*PeerReplicate) bool)
	// AddReplicate add a replicatation
	AddReplicate(*PeerReplicate)
	// AddPeer add a peer to the exist shard
	AddPeer(id uint64, peer prophet.Peer)
	// RemovePeer remove the peer from the exist shard
	RemovePeer(uint64, prophet.Peer)

	// ShardingTransport returns the sharding message transport
	ShardingTransport() Transport
	// HandleShardingMsg handle the sharding message, maybe returns a response.
	HandleShardingMsg(data interface{}) interface{}

	// Topology returns the ring of the derivation and the shard of
	// every ring member
	Topology(derivation string) (meta.Ring, []uint64, error)
	// SendToShard send the message to the store serving the shard leader
	SendToShard(shard uint64, msg interface{})

	// States returns the state of every member of the derivation served here
	States(derivation string) ([]derive.DerivationState, error)
	// Manual applies an operator action to a halted transform
	Manual(manual meta.Manual) error
	// Shards returns the shards served here
	Shards() []meta.Shard
}

type store struct {
	sync.RWMutex

	cfg        Cfg
	meta       meta.StoreMeta
	replicates *sync.Map
	pd         *prophet.Prophet
	bootOnce   *sync.Once
	pdStartedC chan struct{}
	runner     *task.Runner

	storage  storage
	trans    Transport
	resolver *shuffle.Resolver
	elector  election.Elector

	// last observed ring sizes, used to spot topology changes
	ringSizes map[string]int
}

// NewStore returns store with cfg
func NewStore(cfg Cfg) Store {
	s := new(store)
	s.cfg = cfg
	s.cfg.Adjust()
	s.meta = meta.StoreMeta{
		Addr:       cfg.Addr,
		ClientAddr: cfg.ClientAddr,
		Labels:     cfg.Labels,
	}

	s.replicates = &sync.Map{}
	s.bootOnce = &sync.Once{}
	s.ringSizes = make(map[string]int)

	s.runner = task.NewRunner()

	if s.cfg.storeID != 0 {
		s.meta.ID = s.cfg.storeID
	}

	if s.cfg.storage != nil {
		s.storage = s.cfg.storage
	}

	if cfg.shardingTrans != nil {
		s.trans = cfg.shardingTrans
	} else {
		s.trans = newShardingTransport(s)
	}

	return s
}

func (s *store) Meta() meta.StoreMeta {
	return s.meta
}

func (s *store) Cfg() Cfg {
	return s.cfg
}

func (s *store) LeaderPeer(id uint64) (prophet.Peer, error) {
	pr := s.GetShard(id, false)
	if pr == nil {
		return prophet.Peer{}, nil
	}

	leader, err := pr.worker.CurrentLeader()
	if err != nil {
		return prophet.Peer{}, err
	}

	var storeID uint64
	for _, p := range pr.shard.Peers {
		if p.ID == leader {
			storeID = p.ContainerID
			break
		}
	}

	return prophet.Peer{ID: leader, ContainerID: storeID}, nil
}

func (s *store) GetStoreAddr(storeID uint64) (string, error) {
	if s.resolver != nil {
		if addr, err := s.resolver.StoreAddr(storeID); err == nil {
			return addr, nil
		}
	}

	c, err := s.pd.GetStore().GetContainer(storeID)
	if err != nil {
		return "", err
	}

	return c.(*ContainerAdapter).meta.Addr, nil
}

func (s *store) ForeachReplicate(fn func(*PeerReplicate) bool) {
	s.replicates.Range(func(key, value interface{}) bool {
		return fn(value.(*PeerReplicate))
	})
}

func (s *store) ShardingTransport() Transport {
	return s.trans
}

func (s *store) Start() {
	s.startProphet()
	log.Infof("begin to start store %d", s.meta.ID)

	s.resolver = shuffle.NewResolver(s.prophetAddrs()...)
	s.resolver.Start()
	log.Infof("resolver started")

	s.trans.Start()
	log.Infof("peer transport start at %s", s.cfg.Addr)

	s.startShards()
	log.Infof("shards started")

	_, err := s.runner.RunCancelableTask(s.runHBTask)
	if err != nil {
		log.Fatalf("run hb task failed with %+v", err)
	}

	_, err = s.runner.RunCancelableTask(s.runSplitCheckTask)
	if err != nil {
		log.Fatalf("run split check task failed with %+v", err)
	}

	_, err = s.runner.RunCancelableTask(s.runTopologyTask)
	if err != nil {
		log.Fatalf("run topology task failed with %+v", err)
	}
}

func (s *store) Stop() {
	s.runner.Stop()
	s.ForeachReplicate(func(pr *PeerReplicate) bool {
		pr.destroy()
		return true
	})
	s.trans.Stop()
	log.Infof("store %d stopped", s.meta.ID)
}

func (s *store) prophetAddrs() []string {
	if len(s.cfg.ProphetAddrs) > 0 {
		return s.cfg.ProphetAddrs
	}

	return []string{s.cfg.ProphetAddr}
}

func (s *store) startShards() {
	err := s.storage.loadShards(func(value []byte) (uint64, error) {
		shard := meta.Shard{}
		json.MustUnmarshal(&shard, value)

		pr, err := createPeerReplicate(s, shard)
		if err != nil {
			return 0, err
		}

		s.AddReplicate(pr)
		return shard.ID, nil
	})
	if err != nil {
		log.Fatalf("load shards failed with %+v", err)
	}
}

func (s *store) AddReplicate(pr *PeerReplicate) {
	s.replicates.Store(pr.id, pr)
}

func (s *store) doRemovePR(id uint64) {
	s.replicates.Delete(id)
}

func (s *store) GetShard(id uint64, leader bool) *PeerReplicate {
	if pr, ok := s.replicates.Load(id); ok {
		p := pr.(*PeerReplicate)
		if !leader ||
			(leader && p.isLeader()) {
			return p
		}

		return nil
	}

	return nil
}

func (s *store) AddPeer(id uint64, peer prophet.Peer) {
	pr := s.GetShard(id, true)
	if nil == pr {
		return
	}

	pr.Lock()
	defer pr.Unlock()

	pr.addPeer(peer)
	s.MustUpdateShard(pr.shard)

	log.Infof("%s new peer %+v added",
		pr.tag,
		peer)
}

func (s *store) RemovePeer(id uint64, peer prophet.Peer) {
	pr := s.GetShard(id, true)
	if nil == pr {
		return
	}

	pr.Lock()
	defer pr.Unlock()

	pr.removePeer(peer)
	s.MustUpdateShard(pr.shard)

	s.trans.Send(peer.ContainerID, &meta.RemoveMsg{
		ID: id,
	})

	log.Infof("%s peer %+v removed",
		pr.tag,
		peer)
}

func (s *store) CreateShard(derivation string, index, begin, end uint32) meta.Shard {
	shard := meta.Shard{
		ID:         s.allocID(),
		Derivation: derivation,
		Index:      index,
		Begin:      begin,
		End:        end,
	}
	shard.Peers = append(shard.Peers, prophet.Peer{
		ID:          s.allocID(),
		ContainerID: s.meta.ID,
	})

	s.MustUpdateShard(shard)
	return shard
}

func (s *store) MustUpdateShard(shard meta.Shard) {
	err := s.storage.putShard(shard)
	if err != nil {
		log.Fatalf("update shard %+v failed with %+v",
			shard,
			err)
	}
}

func (s *store) MustRemoveShard(id uint64) {
	err := s.storage.removeShard(id)
	if err != nil {
		log.Fatalf("remove shard %d failed with %+v",
			id,
			err)
	}
}

func (s *store) Topology(derivation string) (meta.Ring, []uint64, error) {
	if s.cfg.topology != nil {
		return s.cfg.topology(derivation)
	}

	return s.resolver.Topology(derivation)
}

// SendToShard ships the message to the store serving the shard's
// leader. A local leader takes the message directly.
func (s *store) SendToShard(shard uint64, msg interface{}) {
	if pr := s.GetShard(shard, true); pr != nil {
		s.HandleShardingMsg(msg)
		return
	}

	storeID, err := s.leaderStore(shard)
	if err != nil {
		log.Errorf("[shard-%d]: resolve leader store failed with %+v, message dropped",
			shard,
			err)
		if msg, ok := msg.(*meta.BatchMsg); ok {
			meta.ReleaseBatch(msg.Batch)
		}
		return
	}

	s.trans.Send(storeID, msg)
}

func (s *store) leaderStore(shard uint64) (uint64, error) {
	if s.cfg.leaderStore != nil {
		return s.cfg.leaderStore(shard)
	}

	return s.resolver.LeaderStore(shard)
}

// just for test
type emptyStore struct {
}

func (s *emptyStore) Meta() meta.StoreMeta                        { return meta.StoreMeta{} }
func (s *emptyStore) Cfg() Cfg                                    { return Cfg{} }
func (s *emptyStore) Start()                                      {}
func (s *emptyStore) Stop()                                       {}
func (s *emptyStore) GetStoreAddr(storeID uint64) (string, error) { return "", nil }
func (s *emptyStore) LeaderPeer(id uint64) (prophet.Peer, error)  { return prophet.Peer{}, nil }
func (s *emptyStore) CreateShard(derivation string, index, begin, end uint32) meta.Shard {
	return meta.Shard{}
}
func (s *emptyStore) MustUpdateShard(shard meta.Shard)               {}
func (s *emptyStore) MustRemoveShard(id uint64)                      {}
func (s *emptyStore) GetShard(id uint64, leader bool) *PeerReplicate { return nil }
func (s *emptyStore) ForeachReplicate(func(*PeerReplicate) bool)     {}
func (s *emptyStore) AddReplicate(*PeerReplicate)                    {}
func (s *emptyStore) AddPeer(id uint64, peer prophet.Peer)           {}
func (s *emptyStore) RemovePeer(uint64, prophet.Peer)                {}
func (s *emptyStore) ShardingTransport() Transport                   { return nil }
func (s *emptyStore) HandleShardingMsg(data interface{}) interface{} { return nil }
func (s *emptyStore) Topology(derivation string) (meta.Ring, []uint64, error) {
	return meta.Ring{}, nil, nil
}
func (s *emptyStore) SendToShard(shard uint64, msg interface{}) {}
func (s *emptyStore) States(derivation string) ([]derive.DerivationState, error) {
	return nil, nil
}
func (s *emptyStore) Manual(manual meta.Manual) error { return nil }
func (s *emptyStore) Shards() []meta.Shard            { return nil }
