package sharding

import (
	"github.com/fagongzi/goetty"
)

// local is in (0x01, 0x02);
var (
	localPrefix byte = 0x01
)

// store
var (
	storeKey     = []byte{localPrefix, 0x01}
	shardsPrefix = []byte{localPrefix, 0x02}
)

func getShardKey(id uint64) []byte {
	return append(append([]byte(nil), shardsPrefix...), goetty.Uint64ToBytes(id)...)
}
