package sharding

import (
	"github.com/fagongzi/goetty"
	"github.com/fagongzi/log"
	"github.com/infinivision/prophet"
	"github.com/infinivision/sluice/pkg/derive"
	"github.com/infinivision/sluice/pkg/election"
	"github.com/infinivision/sluice/pkg/local"
	"github.com/infinivision/sluice/pkg/meta"
)

func (s *store) startProphet() {
	log.Infof("start prophet")

	if s.storage == nil {
		ls, err := local.NewBadgerStorage(s.cfg.DataPath)
		if err != nil {
			log.Fatalf("create badger failed with %+v", err)
		}
		s.storage = newStorage(ls)
	}

	adapter := &ProphetAdapter{store: s}
	s.pdStartedC = make(chan struct{})
	s.cfg.ProphetOptions = append(s.cfg.ProphetOptions, prophet.WithRoleChangeHandler(s))
	s.pd = prophet.NewProphet(s.cfg.ProphetName, s.cfg.ProphetAddr, adapter, s.cfg.ProphetOptions...)
	s.pd.Start()
	<-s.pdStartedC

	elector, err := election.NewElector(election.WithEtcd(s.pd.GetEtcdClient()))
	if err != nil {
		log.Fatalf("create elector failed with %+v", err)
	}
	s.elector = elector
	s.cfg.DeriveOptions = append(s.cfg.DeriveOptions, derive.WithElector(s.elector))
}

// BecomeLeader this node is become prophet leader
func (s *store) BecomeLeader() {
	log.Infof("*********BecomeLeader prophet*********")
	s.bootOnce.Do(func() {
		s.doBootstrapCluster()
		s.pdStartedC <- struct{}{}
	})
	log.Infof("*********BecomeLeader prophet complete*********")
}

// BecomeFollower this node is become prophet follower
func (s *store) BecomeFollower() {
	log.Infof("*********BecomeFollower prophet*********")
	s.bootOnce.Do(func() {
		s.doBootstrapCluster()
		s.pdStartedC <- struct{}{}
	})
	log.Infof("*********BecomeFollower prophet complete*********")
}

func (s *store) doBootstrapCluster() {
	data, err := s.storage.get(storeKey)
	if err != nil {
		log.Fatalf("load current store meta failed, errors:%+v", err)
	}

	if len(data) > 0 {
		s.meta.ID = goetty.Byte2UInt64(data)
		if s.meta.ID > 0 {
			log.Infof("load from local, store is %d", s.meta.ID)
			return
		}
	}

	s.meta.ID = s.allocID()
	log.Infof("init store with id: %d", s.meta.ID)

	count, err := s.storage.countShards()
	if err != nil {
		log.Fatalf("bootstrap store failed, errors:\n %+v", err)
	}
	if count > 0 {
		log.Fatal("store is not empty and has already had data")
	}

	err = s.storage.set(storeKey, goetty.Uint64ToBytes(s.meta.ID))
	if err != nil {
		log.Fatal("save current store id failed, errors:%+v", err)
	}

	derivations := s.catalogDerivations()
	if len(derivations) == 0 {
		log.Fatal("bootstrap with a catalog without derivations")
	}

	first := s.CreateShard(derivations[0].Name, 0, 0, 0)
	ok, err := s.pd.GetStore().PutBootstrapped(&ContainerAdapter{meta: s.meta},
		&ResourceAdapter{meta: first})
	if err != nil {
		s.MustRemoveShard(first.ID)

		log.Fatal("bootstrap cluster failed, errors:%+v", err)
	}
	if !ok {
		log.Info("the cluster is already bootstrapped")

		s.MustRemoveShard(first.ID)
		log.Info("the first shard is already removed from store")
	} else {
		s.createInitShards(derivations)
	}

	s.pd.GetRPC().TiggerContainerHeartbeat()
}

// createInitShards creates the remaining ring members of every
// derivation of the catalog, the first member of the first derivation
// bootstrapped the cluster.
func (s *store) createInitShards(derivations []meta.CollectionSpec) {
	for i, spec := range derivations {
		size := spec.Derivation.RingSize()
		begin := 0
		if i == 0 {
			begin = 1
		}

		for index := begin; index < size; index++ {
			s.CreateShard(spec.Name, uint32(index), 0, 0)
		}
	}
}

func (s *store) catalogDerivations() []meta.CollectionSpec {
	var values []meta.CollectionSpec
	for _, spec := range s.cfg.Catalog.Collections {
		if spec.Derivation != nil {
			values = append(values, spec)
		}
	}
	return values
}

func (s *store) allocID() uint64 {
	id, err := s.pd.GetRPC().AllocID()
	if err != nil {
		log.Fatalf("alloc id failed, errors:%+v", err)
	}
	return id
}
