package meta

import (
	"fmt"

	"github.com/fagongzi/goetty"
	"github.com/fagongzi/log"
	"github.com/fagongzi/util/json"
	"github.com/infinivision/prophet"
)

const (
	hb        byte = 0
	hbACK     byte = 1
	remove    byte = 2
	subscribe byte = 3
	batch     byte = 4
	fault     byte = 5
)

var (
	// ShardingEncoder sharding encoder
	ShardingEncoder = goetty.NewIntLengthFieldBasedEncoder(&shardingCodec{})
	// ShardingDecoder sharding decoder
	ShardingDecoder = goetty.NewIntLengthFieldBasedDecoder(&shardingCodec{})
)

// HBMsg is a shard replica heartbeat between stores
type HBMsg struct {
	Shard Shard
}

// HBACKMsg acknowledges a heartbeat
type HBACKMsg struct {
	ID      uint64
	Version uint64
	Peer    prophet.Peer
}

// RemoveMsg asks the peer store to remove its replica of the shard
type RemoveMsg struct {
	ID uint64
}

// SubscribeMsg subscribes a ring member to the shuffled documents of
// the coordinating shard.
type SubscribeMsg struct {
	To      uint64
	Request ShuffleRequest
}

// BatchMsg carries shuffled documents to their assigned member
type BatchMsg struct {
	To    uint64
	Batch *DocumentBatch
}

// FaultMsg reports a shuffle read failure to a subscribed member
type FaultMsg struct {
	To        uint64
	Transform string
	Err       string
}

type shardingCodec struct {
}

func (c *shardingCodec) Decode(in *goetty.ByteBuf) (bool, interface{}, error) {
	t, _ := in.ReadByte()
	switch t {
	case hb:
		msg := &HBMsg{}
		msg.Shard = ReadShard(in)
		return true, msg, nil
	case hbACK:
		return true, &HBACKMsg{
			ID:      ReadUInt64(in),
			Version: ReadUInt64(in),
			Peer:    ReadPeer(in),
		}, nil
	case remove:
		return true, &RemoveMsg{
			ID: ReadUInt64(in),
		}, nil
	case subscribe:
		msg := &SubscribeMsg{}
		msg.To = ReadUInt64(in)
		json.MustUnmarshal(&msg.Request, ReadBigBytes(in))
		return true, msg, nil
	case batch:
		return true, &BatchMsg{
			To:    ReadUInt64(in),
			Batch: ReadBatch(in),
		}, nil
	case fault:
		return true, &FaultMsg{
			To:        ReadUInt64(in),
			Transform: ReadString(in),
			Err:       ReadString(in),
		}, nil
	}

	return false, nil, fmt.Errorf("%d not support", t)
}

func (c *shardingCodec) Encode(data interface{}, out *goetty.ByteBuf) error {
	if msg, ok := data.(*HBMsg); ok {
		out.WriteByte(hb)
		WriteShard(msg.Shard, out)
	} else if msg, ok := data.(*HBACKMsg); ok {
		out.WriteByte(hbACK)
		out.WriteUInt64(msg.ID)
		out.WriteUInt64(msg.Version)
		WritePeer(msg.Peer, out)
	} else if msg, ok := data.(*RemoveMsg); ok {
		out.WriteByte(remove)
		out.WriteUInt64(msg.ID)
	} else if msg, ok := data.(*SubscribeMsg); ok {
		out.WriteByte(subscribe)
		out.WriteUInt64(msg.To)
		WriteBigBytes(json.MustMarshal(&msg.Request), out)
	} else if msg, ok := data.(*BatchMsg); ok {
		out.WriteByte(batch)
		out.WriteUInt64(msg.To)
		WriteBatch(msg.Batch, out)
	} else if msg, ok := data.(*FaultMsg); ok {
		out.WriteByte(fault)
		out.WriteUInt64(msg.To)
		WriteString(msg.Transform, out)
		WriteString(msg.Err, out)
	} else {
		log.Fatalf("not support msg %T %+v",
			data,
			data)
	}

	return nil
}
