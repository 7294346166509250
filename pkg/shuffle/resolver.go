package shuffle

import (
	"fmt"
	"sort"
	"sync"

	"github.com/fagongzi/log"
	"github.com/fagongzi/util/json"
	"github.com/infinivision/prophet"
	"github.com/infinivision/sluice/pkg/meta"
)

// Resolver follows the placement events of the cluster and answers
// where every derivation ring member lives: the ring layout for
// routing, and the leader store of every shard for shipping.
type Resolver struct {
	sync.RWMutex

	watcher *prophet.Watcher
	stores  map[uint64]*meta.StoreMeta
	shards  map[uint64]*meta.Shard
	leaders map[uint64]uint64 // shard id -> peer id
	initC   chan struct{}
}

// NewResolver creates a resolver over the scheduler addresses
func NewResolver(addrs ...string) *Resolver {
	return &Resolver{
		watcher: prophet.NewWatcher(addrs...),
		stores:  make(map[uint64]*meta.StoreMeta),
		shards:  make(map[uint64]*meta.Shard),
		leaders: make(map[uint64]uint64),
		initC:   make(chan struct{}, 1),
	}
}

// Start starts the watch loop, blocking until the init snapshot is
// received.
func (r *Resolver) Start() {
	go func() {
		c := r.watcher.Watch(prophet.EventFlagAll)
		for {
			evt, ok := <-c
			if !ok {
				return
			}

			switch evt.Event {
			case prophet.EventInit:
				r.updateAll(evt)
				log.Infof("resolver init complete")
				r.initC <- struct{}{}
			case prophet.EventResourceCreated:
				r.addShard(parseShard(evt.Value), true)
			case prophet.EventResourceChaned:
				r.updateShard(parseShard(evt.Value))
			case prophet.EventResourceLeaderChanged:
				shard, newLeader := evt.ReadLeaderChangerValue()
				r.updateLeader(shard, newLeader)
			case prophet.EventContainerCreated:
				r.addStore(parseStore(evt.Value), true)
			case prophet.EventContainerChanged:
				r.updateStore(parseStore(evt.Value))
			}
		}
	}()

	<-r.initC
}

// Topology returns the derivation's ring and the shard owning each
// member slot, ordered by ring index.
func (r *Resolver) Topology(derivation string) (meta.Ring, []uint64, error) {
	r.RLock()
	defer r.RUnlock()

	var members []*meta.Shard
	for _, shard := range r.shards {
		if shard.Derivation == derivation {
			members = append(members, shard)
		}
	}

	if len(members) == 0 {
		return meta.Ring{}, nil, fmt.Errorf("no shards of derivation %s",
			derivation)
	}

	sort.Slice(members, func(i, j int) bool {
		return members[i].Index < members[j].Index
	})

	ring := meta.Ring{Name: derivation}
	var ids []uint64
	for i, shard := range members {
		if shard.Index != uint32(i) {
			return meta.Ring{}, nil, fmt.Errorf("derivation %s misses ring member %d",
				derivation,
				i)
		}

		ring.Members = append(ring.Members, meta.Member{
			SpanBegin: shard.Begin,
			SpanEnd:   shard.End,
		})
		ids = append(ids, shard.ID)
	}

	return ring, ids, nil
}

// LeaderStore returns the store serving the shard's leader peer
func (r *Resolver) LeaderStore(shard uint64) (uint64, error) {
	r.RLock()
	defer r.RUnlock()

	value, ok := r.shards[shard]
	if !ok {
		return 0, fmt.Errorf("shard %d not found", shard)
	}

	leader := r.leaders[shard]
	for _, p := range value.Peers {
		if p.ID == leader {
			return p.ContainerID, nil
		}
	}

	// no leader reported yet, fall back to the first peer
	if len(value.Peers) > 0 {
		return value.Peers[0].ContainerID, nil
	}

	return 0, fmt.Errorf("shard %d has no peers", shard)
}

// StoreAddr returns the peer transport address of the store
func (r *Resolver) StoreAddr(storeID uint64) (string, error) {
	r.RLock()
	defer r.RUnlock()

	store, ok := r.stores[storeID]
	if !ok {
		return "", fmt.Errorf("store %d not found", storeID)
	}

	return store.Addr, nil
}

// StoreClientAddr returns the client address of the store
func (r *Resolver) StoreClientAddr(storeID uint64) (string, error) {
	r.RLock()
	defer r.RUnlock()

	store, ok := r.stores[storeID]
	if !ok {
		return "", fmt.Errorf("store %d not found", storeID)
	}

	return store.ClientAddr, nil
}

// ForeachShard calls fn with every known shard until it returns false
func (r *Resolver) ForeachShard(fn func(meta.Shard, uint64) bool) {
	r.RLock()
	defer r.RUnlock()

	for _, shard := range r.shards {
		if !fn(*shard, r.leaders[shard.ID]) {
			return
		}
	}
}

func (r *Resolver) updateAll(evt *prophet.EventNotify) {
	r.Lock()
	r.stores = make(map[uint64]*meta.StoreMeta)
	r.shards = make(map[uint64]*meta.Shard)

	doShardFunc := func(data []byte, leader uint64) {
		shard := parseShard(data)
		r.addShard(shard, false)

		if leader > 0 {
			r.leaders[shard.ID] = leader
		}
	}

	doStoreFunc := func(data []byte) {
		r.addStore(parseStore(data), false)
	}
	evt.ReadInitEventValues(doShardFunc, doStoreFunc)
	r.Unlock()
}

func (r *Resolver) addShard(shard *meta.Shard, lock bool) {
	if lock {
		r.Lock()
	}

	r.shards[shard.ID] = shard
	log.Infof("[shard-%d]: %+v added to resolver",
		shard.ID,
		shard)

	if lock {
		r.Unlock()
	}
}

func (r *Resolver) updateShard(shard *meta.Shard) {
	r.Lock()
	r.shards[shard.ID] = shard
	log.Debugf("[shard-%d]: %+v changed",
		shard.ID,
		shard)
	r.Unlock()
}

func (r *Resolver) updateLeader(shard, leader uint64) {
	r.Lock()
	r.leaders[shard] = leader
	log.Infof("[shard-%d]: leader change to peer %d",
		shard,
		leader)
	r.Unlock()
}

func (r *Resolver) addStore(store *meta.StoreMeta, lock bool) {
	if lock {
		r.Lock()
	}

	r.stores[store.ID] = store
	log.Infof("[store-%d]: %+v added to resolver",
		store.ID,
		store)

	if lock {
		r.Unlock()
	}
}

func (r *Resolver) updateStore(store *meta.StoreMeta) {
	r.Lock()
	r.stores[store.ID] = store
	r.Unlock()
}

func parseShard(data []byte) *meta.Shard {
	value := &meta.Shard{}
	json.MustUnmarshal(value, data)
	return value
}

func parseStore(data []byte) *meta.StoreMeta {
	value := &meta.StoreMeta{}
	json.MustUnmarshal(value, data)
	return value
}
