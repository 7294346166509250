package meta

import (
	"github.com/fagongzi/goetty"
	"github.com/fagongzi/util/hack"
	"github.com/infinivision/prophet"
)

// WriteString write string value
func WriteString(value string, buf *goetty.ByteBuf) {
	if value != "" {
		buf.WriteUInt16(uint16(len(value)))
		buf.WriteString(value)
	} else {
		buf.WriteUInt16(0)
	}
}

// ReadString read string value
func ReadString(buf *goetty.ByteBuf) string {
	size := ReadUInt16(buf)
	if size == 0 {
		return ""
	}

	_, value, _ := buf.ReadBytes(int(size))
	return hack.SliceToString(value)
}

// WriteBigBytes write a length-prefixed byte payload
func WriteBigBytes(value []byte, buf *goetty.ByteBuf) {
	buf.WriteInt(len(value))
	if len(value) > 0 {
		buf.Write(value)
	}
}

// ReadBigBytes read a length-prefixed byte payload
func ReadBigBytes(buf *goetty.ByteBuf) []byte {
	size := ReadInt(buf)
	if size == 0 {
		return nil
	}

	_, value, _ := buf.ReadBytes(size)
	return value
}

// ReadUInt64 read uint64 value
func ReadUInt64(buf *goetty.ByteBuf) uint64 {
	value, _ := buf.ReadUInt64()
	return value
}

// ReadUInt16 read uint16 value
func ReadUInt16(buf *goetty.ByteBuf) uint16 {
	value, _ := buf.ReadUInt16()
	return value
}

// ReadInt read int value
func ReadInt(buf *goetty.ByteBuf) int {
	value, _ := buf.ReadInt()
	return value
}

// ReadByte read byte value
func ReadByte(buf *goetty.ByteBuf) byte {
	value, _ := buf.ReadByte()
	return value
}

// WriteBool write bool value
func WriteBool(value bool, out *goetty.ByteBuf) {
	if value {
		out.WriteByte(1)
	} else {
		out.WriteByte(0)
	}
}

// ReadBool read bool
func ReadBool(in *goetty.ByteBuf) bool {
	value, _ := in.ReadByte()
	return value == 1
}

// WritePeers write peers
func WritePeers(peers []prophet.Peer, out *goetty.ByteBuf) {
	out.WriteInt(len(peers))
	for _, peer := range peers {
		WritePeer(peer, out)
	}
}

// WritePeer write peer
func WritePeer(peer prophet.Peer, out *goetty.ByteBuf) {
	out.WriteUInt64(peer.ID)
	out.WriteUInt64(peer.ContainerID)
}

// ReadPeers read peers
func ReadPeers(in *goetty.ByteBuf) []prophet.Peer {
	var peers []prophet.Peer
	c, _ := in.ReadInt()
	for i := 0; i < c; i++ {
		peers = append(peers, ReadPeer(in))
	}

	return peers
}

// ReadPeer read peer
func ReadPeer(in *goetty.ByteBuf) prophet.Peer {
	peerID, _ := in.ReadUInt64()
	storeID, _ := in.ReadUInt64()
	return prophet.Peer{
		ID:          peerID,
		ContainerID: storeID,
	}
}

// WriteShard write shard value
func WriteShard(value Shard, out *goetty.ByteBuf) {
	out.WriteUInt64(value.ID)
	WriteString(value.Derivation, out)
	out.WriteUInt64(uint64(value.Index))
	out.WriteUInt64(uint64(value.Begin))
	out.WriteUInt64(uint64(value.End))
	out.WriteUInt64(value.Version)
	WritePeers(value.Peers, out)
	WriteBool(value.DisableSplit, out)
}

// ReadShard read shard value
func ReadShard(in *goetty.ByteBuf) Shard {
	value := Shard{}
	value.ID = ReadUInt64(in)
	value.Derivation = ReadString(in)
	value.Index = uint32(ReadUInt64(in))
	value.Begin = uint32(ReadUInt64(in))
	value.End = uint32(ReadUInt64(in))
	value.Version = ReadUInt64(in)
	value.Peers = ReadPeers(in)
	value.DisableSplit = ReadBool(in)
	return value
}

// WriteUUIDParts write uuid parts value
func WriteUUIDParts(value UUIDParts, out *goetty.ByteBuf) {
	out.WriteUInt64(value.ProducerAndFlags)
	out.WriteUInt64(value.Clock)
}

// ReadUUIDParts read uuid parts value
func ReadUUIDParts(in *goetty.ByteBuf) UUIDParts {
	return UUIDParts{
		ProducerAndFlags: ReadUInt64(in),
		Clock:            ReadUInt64(in),
	}
}

// WriteArenaSlice write slice value
func WriteArenaSlice(value Slice, out *goetty.ByteBuf) {
	out.WriteUInt64(uint64(value.Begin))
	out.WriteUInt64(uint64(value.End))
}

// ReadArenaSlice read slice value
func ReadArenaSlice(in *goetty.ByteBuf) Slice {
	return Slice{
		Begin: uint32(ReadUInt64(in)),
		End:   uint32(ReadUInt64(in)),
	}
}

// WriteDocument write document value
func WriteDocument(value Document, out *goetty.ByteBuf) {
	out.WriteUInt64(uint64(value.Offset))
	WriteUUIDParts(value.UUID, out)
	WriteArenaSlice(value.Content, out)
	WriteArenaSlice(value.Key, out)
	out.WriteUInt64(uint64(value.KeyHash))
}

// ReadDocument read document value
func ReadDocument(in *goetty.ByteBuf) Document {
	value := Document{}
	value.Offset = int64(ReadUInt64(in))
	value.UUID = ReadUUIDParts(in)
	value.Content = ReadArenaSlice(in)
	value.Key = ReadArenaSlice(in)
	value.KeyHash = uint32(ReadUInt64(in))
	return value
}

// WriteBatch write batch value
func WriteBatch(value *DocumentBatch, out *goetty.ByteBuf) {
	WriteString(value.Journal, out)
	WriteString(value.Transform, out)
	out.WriteUInt64(uint64(value.NextOffset))
	WriteBigBytes(value.Arena, out)
	out.WriteInt(len(value.Documents))
	for _, doc := range value.Documents {
		WriteDocument(doc, out)
	}
}

// ReadBatch read batch value
func ReadBatch(in *goetty.ByteBuf) *DocumentBatch {
	value := AcquireBatch()
	value.Journal = ReadString(in)
	value.Transform = ReadString(in)
	value.NextOffset = int64(ReadUInt64(in))
	value.Arena = ReadBigBytes(in)
	c := ReadInt(in)
	for i := 0; i < c; i++ {
		value.Documents = append(value.Documents, ReadDocument(in))
	}

	return value
}
