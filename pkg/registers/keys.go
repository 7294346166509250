package registers

import (
	"github.com/fagongzi/goetty"
)

// registers data is in (0x02, 0x03);
var (
	registersPrefix byte = 0x02
)

// suffixes under one shard prefix
var (
	checkpointSuffix byte = 0x01
	registerSuffix   byte = 0x02
)

func getShardPrefix(sid uint64) []byte {
	key := make([]byte, 0, 9)
	key = append(key, registersPrefix)
	return append(key, goetty.Uint64ToBytes(sid)...)
}

func getCheckpointKey(sid uint64) []byte {
	return append(getShardPrefix(sid), checkpointSuffix)
}

func getRegisterPrefix(sid uint64) []byte {
	return append(getShardPrefix(sid), registerSuffix)
}

func getRegisterKey(sid uint64, key []byte) []byte {
	return append(getRegisterPrefix(sid), key...)
}
