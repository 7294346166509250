package sharding

import (
	"context"
	"time"

	"github.com/fagongzi/log"
)

func (s *store) runHBTask(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.MaxPeerDownDuration / 5)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Infof("hb task exit")
			return
		case <-ticker.C:
			s.doHB()
		}
	}
}

func (s *store) runSplitCheckTask(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SplitCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Infof("split check task exit")
			return
		case <-ticker.C:
			s.doSplitCheck()
		}
	}
}

func (s *store) runTopologyTask(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.ShardHBInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Infof("topology task exit")
			return
		case <-ticker.C:
			s.doCheckTopology()
		}
	}
}

func (s *store) doHB() {
	s.ForeachReplicate(func(pr *PeerReplicate) bool {
		if pr.isLeader() {
			pr.doHB()
		}
		return true
	})
}

func (s *store) doSplitCheck() {
	s.ForeachReplicate(func(pr *PeerReplicate) bool {
		if pr.isLeader() {
			pr.doSplitCheck()
		}
		return true
	})
}

// doCheckTopology spots derivation rings that grew or shrank and
// re-subscribes the local leaders, so every member routes over the
// same ring after a split.
func (s *store) doCheckTopology() {
	changed := make(map[string]bool)

	s.ForeachReplicate(func(pr *PeerReplicate) bool {
		derivation := pr.shard.Derivation
		if _, ok := changed[derivation]; ok {
			return true
		}

		ring, _, err := s.Topology(derivation)
		if err != nil {
			log.Debugf("check topology of %s failed with %+v",
				derivation,
				err)
			return true
		}

		s.Lock()
		last := s.ringSizes[derivation]
		s.ringSizes[derivation] = len(ring.Members)
		s.Unlock()

		changed[derivation] = last != 0 && last != len(ring.Members)
		return true
	})

	s.ForeachReplicate(func(pr *PeerReplicate) bool {
		if changed[pr.shard.Derivation] && pr.isLeader() {
			log.Infof("%s ring of %s changed, refresh topology",
				pr.tag,
				pr.shard.Derivation)
			pr.worker.RefreshTopology()
		}
		return true
	})
}
