package meta

import (
	"fmt"
)

// Member is one processing slot of a ring. Optional clock bounds
// restrict which document identities the member is responsible for,
// used to keep hot-standby members consistent during fail-over. Optional
// key-hash span bounds restrict the member to a part of the key space
// after a store split; a zero SpanEnd means the full space.
type Member struct {
	MinMsgClock uint64 `json:"minMsgClock,omitempty"`
	MaxMsgClock uint64 `json:"maxMsgClock,omitempty"`
	SpanBegin   uint32 `json:"spanBegin,omitempty"`
	SpanEnd     uint32 `json:"spanEnd,omitempty"`
}

// Validate validate
func (m Member) Validate() error {
	if m.MinMsgClock != 0 && m.MaxMsgClock != 0 && m.MinMsgClock > m.MaxMsgClock {
		return NewValidationError("invalid min/max clocks (min clock %d > max %d)",
			m.MinMsgClock,
			m.MaxMsgClock)
	}

	if m.SpanEnd != 0 && m.SpanBegin > m.SpanEnd {
		return NewValidationError("invalid key-hash span (begin %d > end %d)",
			m.SpanBegin,
			m.SpanEnd)
	}

	return nil
}

// AdmitsClock returns true if the member's clock bounds admit the clock
func (m Member) AdmitsClock(clock uint64) bool {
	if m.MinMsgClock != 0 && clock < m.MinMsgClock {
		return false
	}

	if m.MaxMsgClock != 0 && clock > m.MaxMsgClock {
		return false
	}

	return true
}

// AdmitsHash returns true if the member's key-hash span admits the
// hash. A zero SpanEnd is an open upper bound, the span of the top
// member after a split.
func (m Member) AdmitsHash(hash uint32) bool {
	if hash < m.SpanBegin {
		return false
	}

	return m.SpanEnd == 0 || hash < m.SpanEnd
}

// Ring is the named, ordered topology of members that jointly process
// a shuffled stream. Rings are built from the derivation's catalog
// spec, are immutable within a processing generation, and are replaced
// wholesale on redeployment or rescale.
type Ring struct {
	Name    string   `json:"name"`
	Members []Member `json:"members,omitempty"`
}

// Validate validate
func (r Ring) Validate() error {
	if err := ValidateToken(r.Name, minTokenLen, maxTokenLen); err != nil {
		return ExtendContext(err, "Name")
	}

	if len(r.Members) == 0 {
		return NewValidationError("expected at least one Member")
	}

	for i, m := range r.Members {
		if err := m.Validate(); err != nil {
			return ExtendContext(err, "Members[%d]", i)
		}
	}

	return nil
}

// ShardID returns the shard identifier of the indexed member
func (r Ring) ShardID(index int) string {
	return fmt.Sprintf("%s-%03x", r.Name, index)
}

// Shuffle is the per-transform routing policy: the composite key is
// extracted at ShuffleKeyPtrs, and the document goes to exactly one of
// ChooseFrom members, or to every one of BroadcastTo members.
type Shuffle struct {
	ShuffleKeyPtrs []string `json:"shuffleKeyPtrs,omitempty"`
	ChooseFrom     uint32   `json:"chooseFrom,omitempty"`
	BroadcastTo    uint32   `json:"broadcastTo,omitempty"`
}

// Validate validate
func (s Shuffle) Validate() error {
	if len(s.ShuffleKeyPtrs) == 0 {
		return NewValidationError("expected at least one ShuffleKeyPtr")
	}

	if (s.ChooseFrom == 0) == (s.BroadcastTo == 0) {
		return NewValidationError("expected one of ChooseFrom or BroadcastTo")
	}

	return nil
}

// IsBroadcast returns true if the shuffle delivers to every member
func (s Shuffle) IsBroadcast() bool {
	return s.BroadcastTo != 0
}

// Fan returns the count of ring members the shuffle routes across
func (s Shuffle) Fan() uint32 {
	if s.BroadcastTo != 0 {
		return s.BroadcastTo
	}

	return s.ChooseFrom
}

// ShuffleConfig configures the shuffled reads of one source journal
// across a ring. The coordinator member reads the journal once and
// fans documents out to their assigned members.
type ShuffleConfig struct {
	Journal     string    `json:"journal"`
	Ring        Ring      `json:"ring"`
	Coordinator uint32    `json:"coordinator"`
	Shuffles    []Shuffle `json:"shuffles,omitempty"`
}

// Validate validate
func (c ShuffleConfig) Validate() error {
	if err := ValidateToken(c.Journal, minTokenLen, maxTokenLen); err != nil {
		return ExtendContext(err, "Journal")
	}

	if err := c.Ring.Validate(); err != nil {
		return ExtendContext(err, "Ring")
	}

	if int(c.Coordinator) >= len(c.Ring.Members) {
		return NewValidationError("invalid Coordinator (expected Coordinator < len(Members); got %d vs %d)",
			c.Coordinator,
			len(c.Ring.Members))
	}

	if len(c.Shuffles) == 0 {
		return NewValidationError("expected at least one Shuffle")
	}

	for i, s := range c.Shuffles {
		if err := s.Validate(); err != nil {
			return ExtendContext(err, "Shuffles[%d]", i)
		}

		if fan := int(s.Fan()); fan > len(c.Ring.Members) {
			return ExtendContext(
				NewValidationError("invalid fan (%d; expected <= %d members)",
					fan,
					len(c.Ring.Members)),
				"Shuffles[%d]", i)
		}
	}

	return nil
}

// CoordinatorShard returns the shard identifier of the coordinator
func (c ShuffleConfig) CoordinatorShard() string {
	return c.Ring.ShardID(int(c.Coordinator))
}

// JournalShuffle pairs one journal with one shuffle, coordinated by a
// named shard. It is the unit a member subscribes to.
type JournalShuffle struct {
	Journal     string  `json:"journal"`
	Coordinator string  `json:"coordinator"`
	Shuffle     Shuffle `json:"shuffle"`
	Hash        Hash    `json:"hash,omitempty"`
}

// Validate validate
func (m JournalShuffle) Validate() error {
	if err := ValidateToken(m.Journal, minTokenLen, maxTokenLen); err != nil {
		return ExtendContext(err, "Journal")
	}

	if err := ValidateToken(m.Coordinator, minTokenLen, maxTokenLen); err != nil {
		return ExtendContext(err, "Coordinator")
	}

	if err := m.Shuffle.Validate(); err != nil {
		return ExtendContext(err, "Shuffle")
	}

	if m.Hash.Name() == "" {
		return NewValidationError("unknown Hash (%d)", m.Hash)
	}

	return nil
}

// ShuffleRequest is a member's subscription to the shuffled documents
// of a journal, beginning at Offset. A zero EndOffset reads without
// bound. Transform names the transform the subscription reads for,
// read progress is tracked under it.
type ShuffleRequest struct {
	Config    ShuffleConfig `json:"config"`
	Transform string        `json:"transform"`
	RingIndex uint32        `json:"ringIndex"`
	Offset    int64         `json:"offset"`
	EndOffset int64         `json:"endOffset,omitempty"`
	// DropOnError logs and skips a document whose shuffle key cannot
	// be extracted instead of faulting the subscription
	DropOnError bool `json:"dropOnError,omitempty"`
}

// Validate validate
func (r ShuffleRequest) Validate() error {
	if err := r.Config.Validate(); err != nil {
		return ExtendContext(err, "Config")
	}

	if err := ValidateToken(r.Transform, minTokenLen, maxTokenLen); err != nil {
		return ExtendContext(err, "Transform")
	}

	if int(r.RingIndex) >= len(r.Config.Ring.Members) {
		return NewValidationError("invalid RingIndex (expected RingIndex < len(Members); got %d vs %d)",
			r.RingIndex,
			len(r.Config.Ring.Members))
	}

	if r.Offset < 0 {
		return NewValidationError("invalid Offset (%d; expected 0 <= Offset)", r.Offset)
	}

	if r.EndOffset != 0 && r.EndOffset < r.Offset {
		return NewValidationError("invalid EndOffset (%d; expected 0 or Offset <= EndOffset)",
			r.EndOffset)
	}

	return nil
}
