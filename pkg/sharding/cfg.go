package sharding

import (
	"time"

	"github.com/infinivision/prophet"
	"github.com/infinivision/sluice/pkg/derive"
	"github.com/infinivision/sluice/pkg/meta"
)

// Cfg store configuration
type Cfg struct {
	Addr                string
	ClientAddr          string
	DataPath            string
	Labels              map[string]string
	ProphetName         string
	ProphetAddr         string
	ProphetAddrs        []string
	ProphetOptions      []prophet.Option
	ShardHBInterval     time.Duration
	StoreHBInterval     time.Duration
	MaxPeerDownDuration time.Duration
	SplitCheckInterval  time.Duration
	ShardCapacityBytes  uint64
	Catalog             meta.CatalogSpec
	DeriveOptions       []derive.Option

	// just for test
	worker        Worker
	storeID       uint64
	storage       storage
	shardingTrans Transport
	topology      derive.Topology
	leaderStore   func(shard uint64) (uint64, error)
}

// Adjust adjust
func (c *Cfg) Adjust() {
	if c.ShardHBInterval == 0 {
		c.ShardHBInterval = time.Second * 10
	}

	if c.StoreHBInterval == 0 {
		c.StoreHBInterval = time.Second * 30
	}

	if c.MaxPeerDownDuration == 0 {
		c.MaxPeerDownDuration = time.Minute * 5
	}

	if c.SplitCheckInterval == 0 {
		c.SplitCheckInterval = time.Second * 30
	}

	if c.ShardCapacityBytes == 0 {
		c.ShardCapacityBytes = 96 * 1024 * 1024
	}
}
