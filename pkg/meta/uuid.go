package meta

import (
	"crypto/rand"
	"time"

	"github.com/google/uuid"
)

// Flags of a document identity. They ride in the low 10 bits of the
// UUID clock-sequence field.
const (
	// FlagOutsideTxn marks a document that is not part of a transaction
	FlagOutsideTxn uint16 = 0x0
	// FlagContinueTxn marks a document of a still-open transaction
	FlagContinueTxn uint16 = 0x1
	// FlagAckTxn marks a synthetic acknowledgment of a closed
	// transaction. ACK documents fence the stream and are never given
	// to transformation lambdas.
	FlagAckTxn uint16 = 0x2

	maxFlags uint16 = 0x3ff
)

// 100ns ticks between the Gregorian epoch 1582-10-15 and the Unix
// epoch 1970-01-01, per RFC 4122.
const g1582ns100 = 122192928000000000

// ProducerID is the 48-bit node identifier of a document producer
type ProducerID [6]byte

// NewProducerID returns a random producer identifier. As with MAC
// addresses, the multicast bit is cleared and the locally-administered
// bit is set.
func NewProducerID() ProducerID {
	var id ProducerID
	if _, err := rand.Read(id[:]); err != nil {
		panic(err)
	}

	id[0] = id[0]&0xfe | 0x02
	return id
}

// UUIDParts is the decomposed semantic content of a document identity:
// who produced the document, a monotonic clock ordering it, and its
// transaction flags.
type UUIDParts struct {
	// ProducerAndFlags packs the 48-bit producer in the high bits and
	// the 10 flag bits in the low 16
	ProducerAndFlags uint64 `json:"producerAndFlags"`
	// Clock is a 60-bit UUID v1 timestamp (100ns ticks since the
	// Gregorian epoch) shifted left four bits, with the low four bits
	// holding a sequence counter for tie-breaking
	Clock uint64 `json:"clock"`
}

// Producer returns the producer identifier
func (p UUIDParts) Producer() ProducerID {
	var id ProducerID
	for i := 0; i < 6; i++ {
		id[i] = byte(p.ProducerAndFlags >> (56 - 8*uint(i)))
	}

	return id
}

// Flags returns the flag bits
func (p UUIDParts) Flags() uint16 {
	return uint16(p.ProducerAndFlags) & maxFlags
}

// UUID re-assembles the parts into a RFC 4122 v1 UUID
func (p UUIDParts) UUID() uuid.UUID {
	return BuildUUID(p.Producer(), p.Clock, p.Flags())
}

// NewClock maps a wall time into a clock value with a zero sequence
func NewClock(t time.Time) uint64 {
	return uint64(t.UnixNano()/100+g1582ns100) << 4
}

// ClockTime maps a clock value back to its wall time, dropping the
// sequence bits.
func ClockTime(clock uint64) time.Time {
	return time.Unix(0, int64(clock>>4-g1582ns100)*100)
}

// TickClock returns the next clock value: the sequence is incremented,
// carrying into the timestamp on overflow so clocks stay strictly
// monotonic for a producer.
func TickClock(clock uint64) uint64 {
	return clock + 1
}

// BuildUUID builds a v1 UUID from a producer, clock and flags.
// Flags beyond the low 10 bits are a programmer error.
func BuildUUID(producer ProducerID, clock uint64, flags uint16) uuid.UUID {
	if flags > maxFlags {
		panic("flags out of range (max 10 bits)")
	}

	var (
		id       uuid.UUID
		timeLow  = uint32(clock >> 4)
		timeMid  = uint16(clock >> 36)
		timeHigh = uint16(clock>>52)&0x0fff | 0x1000 // version 1
		seqHigh  = 0x80 | byte(clock&0xf)<<2 | byte(flags>>8)&0x03
		seqLow   = byte(flags)
	)

	id[0] = byte(timeLow >> 24)
	id[1] = byte(timeLow >> 16)
	id[2] = byte(timeLow >> 8)
	id[3] = byte(timeLow)
	id[4] = byte(timeMid >> 8)
	id[5] = byte(timeMid)
	id[6] = byte(timeHigh >> 8)
	id[7] = byte(timeHigh)
	id[8] = seqHigh
	id[9] = seqLow
	copy(id[10:], producer[:])

	return id
}

// DecomposeUUID splits a v1 UUID into its semantic parts. The second
// return is false for UUIDs of any other version, whose fields carry
// no producer/clock meaning.
func DecomposeUUID(id uuid.UUID) (UUIDParts, bool) {
	if id.Version() != 1 {
		return UUIDParts{}, false
	}

	var (
		timeLow  = uint64(id[0])<<24 | uint64(id[1])<<16 | uint64(id[2])<<8 | uint64(id[3])
		timeMid  = uint64(id[4])<<8 | uint64(id[5])
		timeHigh = uint64(id[6]&0x0f)<<8 | uint64(id[7])
		clockSeq = uint64(id[8]&0x3f)<<8 | uint64(id[9])
	)

	parts := UUIDParts{
		Clock: timeLow<<4 | timeMid<<36 | timeHigh<<52 | uint64(id[8]>>2)&0xf,
	}
	for i := 0; i < 6; i++ {
		parts.ProducerAndFlags |= uint64(id[10+i]) << (56 - 8*uint(i))
	}
	parts.ProducerAndFlags |= clockSeq & uint64(maxFlags)

	return parts, true
}

// NewUUIDParts composes parts directly from a producer, clock and flags
func NewUUIDParts(producer ProducerID, clock uint64, flags uint16) UUIDParts {
	var p UUIDParts
	for i := 0; i < 6; i++ {
		p.ProducerAndFlags |= uint64(producer[i]) << (56 - 8*uint(i))
	}
	p.ProducerAndFlags |= uint64(flags)
	p.Clock = clock

	return p
}
