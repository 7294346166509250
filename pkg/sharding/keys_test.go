package sharding

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetShardKey(t *testing.T) {
	data := getShardKey(1)
	assert.Equal(t, []byte{0x01, 0x02, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01}, data, "check shard key")
}
