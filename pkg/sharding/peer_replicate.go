package sharding

import (
	"fmt"
	"sync"
	"time"

	"github.com/fagongzi/log"
	"github.com/infinivision/prophet"
	"github.com/infinivision/sluice/pkg/derive"
	"github.com/infinivision/sluice/pkg/meta"
	"github.com/infinivision/sluice/pkg/metrics"
)

// Worker is the derivation runtime hosted by a shard replica. The
// store routes shuffle traffic and operator actions to it and reads
// its register stats to drive splits.
type Worker interface {
	Stop()
	IsLeader() bool
	CurrentLeader() (uint64, error)
	ChangeLeaderTo(id uint64)
	OnSubscribe(req meta.ShuffleRequest)
	OnBatch(batch *meta.DocumentBatch)
	OnFault(transform string, err string)
	Manual(m meta.Manual, cb func(error))
	SplitTo(target uint64, at uint32, cb func(int, error))
	State(cb func(derive.DerivationState, error))
	RefreshTopology()
	RegisterStats() (int, uint64, error)
}

// PeerReplicate is the shard peer replicatation.
// Every Shard has N replicatation in N stores.
type PeerReplicate struct {
	sync.RWMutex

	tag           string
	id            uint64
	store         Store
	peer          prophet.Peer
	shard         meta.Shard
	pendingPeers  []prophet.Peer
	heartbeatsMap *sync.Map
	worker        Worker

	splitting bool
}

func createPeerReplicate(store Store, shard meta.Shard) (*PeerReplicate, error) {
	peer, ok := shard.GetPeer(store.Meta().ID)
	if !ok {
		return nil, fmt.Errorf("find no peer for store %d in shard %v",
			store.Meta().ID,
			shard)
	}

	return newPeerReplicate(store, shard, peer), nil
}

func newPeerReplicate(store Store, shard meta.Shard, peer prophet.Peer) *PeerReplicate {
	tag := fmt.Sprintf("[shard-%d]:", shard.ID)
	if peer.ID == 0 {
		log.Fatalf("%s invalid peer id 0",
			tag)
	}

	pr := new(PeerReplicate)
	pr.tag = tag
	pr.id = shard.ID
	pr.shard = shard
	pr.peer = peer
	pr.store = store
	pr.heartbeatsMap = &sync.Map{}

	if store.Cfg().worker != nil {
		pr.worker = store.Cfg().worker
	} else {
		opts := append(store.Cfg().DeriveOptions,
			derive.WithTopology(store.Topology),
			derive.WithSend(store.SendToShard))
		worker, err := derive.NewWorker(shard, peer.ID, store.Cfg().Catalog, opts...)
		if err != nil {
			log.Fatalf("%s init failed with %+v",
				pr.tag,
				err)
		}
		pr.worker = worker
	}

	log.Infof("%s created with %+v",
		pr.tag,
		pr.shard)
	return pr
}

// ID returns the shard id
func (pr *PeerReplicate) ID() uint64 {
	return pr.id
}

// ShardMeta returns a copy of the shard metadata
func (pr *PeerReplicate) ShardMeta() meta.Shard {
	pr.RLock()
	defer pr.RUnlock()

	return pr.shard.Clone()
}

// Worker returns the hosted derivation worker
func (pr *PeerReplicate) Worker() Worker {
	return pr.worker
}

func (pr *PeerReplicate) isLeader() bool {
	return pr.worker.IsLeader()
}

// IsLeader returns true if this replica serves the shard
func (pr *PeerReplicate) IsLeader() bool {
	return pr.isLeader()
}

func (pr *PeerReplicate) addPeer(peer prophet.Peer) {
	_, ok := pr.shard.GetPeer(peer.ContainerID)
	if ok {
		return
	}

	pr.heartbeatsMap.Store(peer.ID, time.Now())
	pr.shard.Peers = append(pr.shard.Peers, peer)
	pr.pendingPeers = append(pr.pendingPeers, peer)
	pr.shard.Version++
}

func (pr *PeerReplicate) removePeer(peer prophet.Peer) {
	removed := false
	var values []prophet.Peer
	for _, p := range pr.shard.Peers {
		if p.ID != peer.ID {
			values = append(values, p)
		} else {
			removed = true
		}
	}

	if removed {
		pr.shard.Peers = values
		pr.heartbeatsMap.Delete(peer.ID)
		pr.shard.Version++
	}
}

func (pr *PeerReplicate) removePendingPeer(peer prophet.Peer) {
	var values []prophet.Peer
	for _, p := range pr.pendingPeers {
		if p.ID != peer.ID {
			values = append(values, p)
		}
	}

	pr.pendingPeers = values
}

func (pr *PeerReplicate) destroy() {
	pr.worker.Stop()
}

func (pr *PeerReplicate) collectPendingPeers() []*prophet.Peer {
	var values []*prophet.Peer
	for _, peer := range pr.pendingPeers {
		p := peer
		values = append(values, &p)
	}
	return values
}

func (pr *PeerReplicate) collectDownPeers(maxDuration time.Duration) []*prophet.PeerStats {
	now := time.Now()
	var downPeers []*prophet.PeerStats
	for _, p := range pr.shard.Peers {
		if p.ID == pr.peer.ID {
			continue
		}

		if last, ok := pr.heartbeatsMap.Load(p.ID); ok {
			missing := now.Sub(last.(time.Time))
			if missing >= maxDuration {
				state := &prophet.PeerStats{}
				state.Peer = &p
				state.DownSeconds = uint64(missing.Seconds())
				downPeers = append(downPeers, state)
			}
		}
	}
	return downPeers
}

func (pr *PeerReplicate) doHB() {
	pr.RLock()
	defer pr.RUnlock()

	for _, p := range pr.shard.Peers {
		if p.ContainerID != pr.store.Meta().ID {
			pr.store.ShardingTransport().Send(p.ContainerID, &meta.HBMsg{
				Shard: pr.shard,
			})
		}
	}
}

// doSplitCheck splits the shard once its registers outgrow the
// configured capacity: a new shard takes the upper half of the key
// hash span as a new ring member, the registers at or above the split
// point move to it together with the checkpoint.
func (pr *PeerReplicate) doSplitCheck() {
	if pr.shard.DisableSplit {
		log.Debugf("%s disable split", pr.tag)
		return
	}

	count, size, err := pr.worker.RegisterStats()
	if err != nil {
		log.Errorf("%s fetch register stats failed with %+v",
			pr.tag,
			err)
		return
	}

	metrics.RegistersGauge.WithLabelValues(fmt.Sprintf("%d", pr.id)).Set(float64(count))

	if size < pr.store.Cfg().ShardCapacityBytes {
		return
	}

	pr.Lock()

	if pr.splitting {
		pr.Unlock()
		return
	}

	begin, end := pr.shard.Begin, pr.shard.End
	upper := uint64(end)
	if end == 0 {
		upper = 1 << 32
	}
	at := uint32((uint64(begin) + upper) / 2)
	if at == begin {
		log.Warnf("%s span [%d, %d) cannot split further",
			pr.tag,
			begin,
			end)
		pr.Unlock()
		return
	}

	ring, _, err := pr.store.Topology(pr.shard.Derivation)
	if err != nil {
		log.Errorf("%s resolve topology failed with %+v",
			pr.tag,
			err)
		pr.Unlock()
		return
	}

	newShard := pr.store.CreateShard(pr.shard.Derivation,
		uint32(len(ring.Members)),
		at,
		end)

	log.Infof("%s split at hash %d to shard %d, %d registers of %d bytes",
		pr.tag,
		at,
		newShard.ID,
		count,
		size)

	pr.splitting = true
	pr.Unlock()

	pr.worker.SplitTo(newShard.ID, at, func(moved int, err error) {
		pr.onSplitDone(newShard, at, moved, err)
	})
}

func (pr *PeerReplicate) onSplitDone(newShard meta.Shard, at uint32, moved int, err error) {
	pr.Lock()
	defer pr.Unlock()

	pr.splitting = false

	if err != nil {
		log.Warnf("%s split to shard %d refused with %+v, retry on next check",
			pr.tag,
			newShard.ID,
			err)
		pr.store.MustRemoveShard(newShard.ID)
		return
	}

	pr.shard.End = at
	pr.shard.Version++
	pr.store.MustUpdateShard(pr.shard)

	newPR, err := createPeerReplicate(pr.store, newShard)
	if err != nil {
		log.Fatalf("%s new pr on split failed with %+v",
			pr.tag,
			err)
	}
	pr.store.AddReplicate(newPR)

	metrics.SplitCounter.WithLabelValues(pr.shard.Derivation).Inc()
	log.Infof("%s split complete, %d registers moved to shard %d",
		pr.tag,
		moved,
		newShard.ID)

	pr.worker.RefreshTopology()
}
