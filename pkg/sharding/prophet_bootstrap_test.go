package sharding

import (
	"testing"

	"github.com/fagongzi/goetty"
	"github.com/stretchr/testify/assert"
)

func TestDoBootstrapClusterWithLocalStore(t *testing.T) {
	st := newTestStorage()
	cfg := Cfg{}
	cfg.worker = newTestWorker()
	cfg.storage = st
	s := NewStore(cfg).(*store)

	st.set(storeKey, goetty.Uint64ToBytes(10002))
	s.doBootstrapCluster()
	assert.Equal(t, uint64(10002), s.meta.ID, "check do bootstrap failed")
	assert.Equal(t, 0, len(st.shards), "check no shard created failed")
}
