package meta

import (
	"testing"

	"github.com/fagongzi/goetty"
	"github.com/infinivision/prophet"
	"github.com/stretchr/testify/assert"
)

func TestShardCodecHB(t *testing.T) {
	buf := goetty.NewByteBuf(256)
	c := &shardingCodec{}

	msg := &HBMsg{
		Shard: Shard{
			ID:         7,
			Derivation: "balances",
			Index:      2,
			End:        1 << 31,
			Version:    9,
			Peers: []prophet.Peer{
				{ID: 1, ContainerID: 100},
				{ID: 2, ContainerID: 200},
			},
		},
	}

	err := c.Encode(msg, buf)
	if err != nil {
		t.Errorf("encode hb failed with %+v", err)
		return
	}

	ok, decoded, err := c.Decode(buf)
	if err != nil {
		t.Errorf("decode hb failed with %+v", err)
		return
	}

	assert.True(t, ok, "check decoded")
	assert.Equal(t, msg.Shard, decoded.(*HBMsg).Shard, "check shard")
}

func TestShardCodecBatch(t *testing.T) {
	buf := goetty.NewByteBuf(256)
	c := &shardingCodec{}

	batch := AcquireBatch()
	batch.Journal = "a/journal"
	batch.Transform = "fromMovements"
	batch.Stage(42,
		UUIDParts{ProducerAndFlags: 0x0806070503090000, Clock: 0x1122},
		[]byte(`{"amount":50}`),
		[]byte("alice"),
		0xcafe)

	msg := &BatchMsg{To: 3, Batch: batch}
	err := c.Encode(msg, buf)
	if err != nil {
		t.Errorf("encode batch failed with %+v", err)
		return
	}

	ok, decoded, err := c.Decode(buf)
	if err != nil {
		t.Errorf("decode batch failed with %+v", err)
		return
	}

	assert.True(t, ok, "check decoded")
	value := decoded.(*BatchMsg)
	assert.Equal(t, uint64(3), value.To, "check target")
	assert.Equal(t, "a/journal", value.Batch.Journal, "check journal")
	assert.Equal(t, 1, len(value.Batch.Documents), "check documents")

	doc := value.Batch.Documents[0]
	assert.Equal(t, int64(42), doc.Offset, "check offset")
	assert.Equal(t, `{"amount":50}`, string(value.Batch.Arena.Bytes(doc.Content)), "check content")
	assert.Equal(t, "alice", string(value.Batch.Arena.Bytes(doc.Key)), "check key")
	assert.Equal(t, uint32(0xcafe), doc.KeyHash, "check key hash")
}

func TestShardCodecSubscribe(t *testing.T) {
	buf := goetty.NewByteBuf(512)
	c := &shardingCodec{}

	msg := &SubscribeMsg{
		To: 11,
		Request: ShuffleRequest{
			Config:    validConfig(),
			Transform: "fromMovements",
			RingIndex: 1,
			Offset:    64,
		},
	}

	err := c.Encode(msg, buf)
	if err != nil {
		t.Errorf("encode subscribe failed with %+v", err)
		return
	}

	ok, decoded, err := c.Decode(buf)
	if err != nil {
		t.Errorf("decode subscribe failed with %+v", err)
		return
	}

	assert.True(t, ok, "check decoded")
	value := decoded.(*SubscribeMsg)
	assert.Equal(t, uint64(11), value.To, "check target")
	assert.Equal(t, msg.Request.Config.Journal, value.Request.Config.Journal, "check journal")
	assert.Equal(t, uint32(1), value.Request.RingIndex, "check ring index")
	assert.Equal(t, int64(64), value.Request.Offset, "check offset")
}
