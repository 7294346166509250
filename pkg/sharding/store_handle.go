package sharding

import (
	"time"

	"github.com/fagongzi/log"
	"github.com/infinivision/sluice/pkg/meta"
)

func (s *store) HandleShardingMsg(data interface{}) interface{} {
	switch msg := data.(type) {
	case *meta.HBMsg:
		return s.handleHB(msg)
	case *meta.HBACKMsg:
		return s.handleHBACK(msg)
	case *meta.RemoveMsg:
		return s.handleRemovePR(msg)
	case *meta.SubscribeMsg:
		return s.handleSubscribeMsg(msg)
	case *meta.BatchMsg:
		return s.handleBatchMsg(msg)
	case *meta.FaultMsg:
		return s.handleFaultMsg(msg)
	}

	log.Fatalf("not support msg %T: %+v",
		data,
		data)
	return nil
}

func (s *store) handleHB(msg *meta.HBMsg) interface{} {
	pr := s.GetShard(msg.Shard.ID, false)
	if pr == nil {
		pr, err := createPeerReplicate(s, msg.Shard)
		if err != nil {
			log.Fatalf("create shard %+v failed with %+v",
				msg.Shard,
				err)
			return nil
		}

		s.MustUpdateShard(msg.Shard)
		s.AddReplicate(pr)
		return nil
	}

	pr.Lock()
	defer pr.Unlock()

	// stale peer, remove
	if pr.shard.Version > msg.Shard.Version {
		return &meta.RemoveMsg{
			ID: pr.shard.ID,
		}
	}

	update := pr.shard.Version < msg.Shard.Version
	pr.shard = msg.Shard
	if update {
		s.MustUpdateShard(pr.shard)
	}

	return &meta.HBACKMsg{
		ID:      pr.shard.ID,
		Version: pr.shard.Version,
		Peer:    pr.peer,
	}
}

func (s *store) handleHBACK(msg *meta.HBACKMsg) interface{} {
	pr := s.GetShard(msg.ID, true)
	if pr == nil {
		return nil
	}

	pr.Lock()
	defer pr.Unlock()

	// stale peer, remove
	if pr.shard.Version > msg.Version {
		s.trans.Send(msg.Peer.ContainerID, &meta.RemoveMsg{
			ID: pr.shard.ID,
		})
		return nil
	}

	pr.removePendingPeer(msg.Peer)
	pr.heartbeatsMap.Store(msg.Peer.ID, time.Now())
	return nil
}

func (s *store) handleRemovePR(msg *meta.RemoveMsg) interface{} {
	pr := s.GetShard(msg.ID, false)
	if pr == nil {
		return nil
	}

	pr.Lock()
	defer pr.Unlock()

	pr.destroy()
	s.doRemovePR(pr.shard.ID)
	s.MustRemoveShard(pr.shard.ID)
	log.Infof("%s destroy complete",
		pr.tag)
	return nil
}

func (s *store) handleSubscribeMsg(msg *meta.SubscribeMsg) interface{} {
	pr := s.GetShard(msg.To, true)
	if pr == nil {
		log.Warnf("[shard-%d]: subscription of %s but shard is not served here",
			msg.To,
			msg.Request.Transform)
		return nil
	}

	pr.worker.OnSubscribe(msg.Request)
	return nil
}

func (s *store) handleBatchMsg(msg *meta.BatchMsg) interface{} {
	pr := s.GetShard(msg.To, true)
	if pr == nil {
		log.Warnf("[shard-%d]: batch of %s dropped, shard is not served here",
			msg.To,
			msg.Batch.Transform)
		meta.ReleaseBatch(msg.Batch)
		return nil
	}

	pr.worker.OnBatch(msg.Batch)
	return nil
}

func (s *store) handleFaultMsg(msg *meta.FaultMsg) interface{} {
	pr := s.GetShard(msg.To, true)
	if pr == nil {
		return nil
	}

	pr.worker.OnFault(msg.Transform, msg.Err)
	return nil
}
