package election

import (
	"context"
	"time"

	"github.com/coreos/etcd/clientv3"

	"github.com/fagongzi/log"
)

var (
	loopInterval = 200 * time.Millisecond
)

// Elector elects the single serving peer of every shard. Register
// ownership follows the elected leader, a shard applies documents
// only while its peer holds the lease.
type Elector interface {
	// Stop stop the shard's election
	Stop(shard uint64)

	// CurrentLeader returns the shard's current leader peer
	CurrentLeader(shard uint64) (uint64, error)

	// ElectionLoop run the shard's leader election loop
	ElectionLoop(ctx context.Context, shard, currentPeerID uint64, nodeChecker func(uint64) bool, becomeLeader, becomeFollower func())

	// ChangeLeaderTo hand the shard off to another peer
	ChangeLeaderTo(shard uint64, oldLeader, newLeader uint64) error
}

type elector struct {
	opts  options
	store *store
}

// NewElector create a elector by options
func NewElector(opts ...Option) (Elector, error) {
	e := &elector{}
	for _, opt := range opts {
		opt(&e.opts)
	}

	err := e.opts.adjust()
	if err != nil {
		return nil, err
	}

	e.store = &store{
		opts:          e.opts,
		client:        e.opts.client,
		leasors:       make(map[uint64]clientv3.Lease),
		watcheCancels: make(map[uint64]context.CancelFunc),
		watchers:      make(map[uint64]clientv3.Watcher),
	}
	return e, nil
}

func (e *elector) Stop(shard uint64) {
	e.store.closeWatcher(shard)
	e.store.closeLessor(shard)
}

func (e *elector) CurrentLeader(shard uint64) (uint64, error) {
	return e.store.currentLeader(shard)
}

func (e *elector) ChangeLeaderTo(shard uint64, oldLeader, newLeader uint64) error {
	err := e.store.addExpectLeader(shard, oldLeader, newLeader)
	if err != nil {
		return err
	}
	e.store.closeLessor(shard)
	return nil
}

func (e *elector) ElectionLoop(ctx context.Context, shard, currentPeerID uint64, nodeChecker func(uint64) bool, becomeLeader, becomeFollower func()) {
	for {
		select {
		case <-ctx.Done():
			log.Infof("[shard-%d]: exit the leader election loop", shard)
			return
		default:
			log.Infof("[shard-%d]: ready to fetch leader peer", shard)
			leaderPeerID, err := e.store.currentLeader(shard)
			if err != nil {
				log.Errorf("get current leader peer failure, errors:\n %+v",
					err)
				time.Sleep(loopInterval)
				continue
			}
			log.Infof("[shard-%d]: fetch leader peer: %d",
				shard,
				leaderPeerID)

			if leaderPeerID > 0 {
				if nodeChecker(leaderPeerID) {
					// oh, we are already leader, we may meet something wrong
					// in previous campaignLeader. we can resign and campaign again.
					log.Warnf("[shard-%d]: leader is matched, resign and campaign again, leader peer %d",
						shard,
						leaderPeerID)
					if err = e.store.resignLeader(shard, currentPeerID); err != nil {
						log.Warnf("[shard-%d]: resign leader failure, leader peer %d, errors:\n %+v",
							shard,
							leaderPeerID,
							err)
						time.Sleep(loopInterval)
						continue
					}
				} else {
					log.Infof("[shard-%d]: leader peer changed to %d, start start watch",
						shard,
						leaderPeerID)
					becomeFollower()
					e.store.watchLeader(shard)
					log.Infof("[shard-%d]: leader peer %d out",
						shard,
						leaderPeerID)
				}
			}

			log.Infof("[shard-%d]: begin to campaign leader peer %d",
				shard,
				currentPeerID)
			if err = e.store.campaignLeader(shard, currentPeerID, becomeLeader, becomeFollower); err != nil {
				log.Errorf("[shard-%d]: campaign leader failure, errors:\n %+v",
					shard,
					err)
				time.Sleep(time.Second * time.Duration(e.opts.leaseSec))
			}
		}
	}
}
