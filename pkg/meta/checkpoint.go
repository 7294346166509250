package meta

// Checkpoint couples a derivation shard's read progress with its
// register writes. It is persisted in the same atomic batch as the
// registers it covers, so recovery never re-applies or skips an
// update. Token is strictly monotonic across the shard's commits and
// rides with appended output documents for sink-side fencing.
type Checkpoint struct {
	// Offsets maps source journal -> next offset to read, per transform
	Offsets map[string]int64 `json:"offsets,omitempty"`
	Token   uint64           `json:"token"`
}

// NewCheckpoint returns an empty checkpoint
func NewCheckpoint() Checkpoint {
	return Checkpoint{
		Offsets: make(map[string]int64),
	}
}

// ProgressKey names the read progress of one transform on one journal.
// A renamed transform therefore starts over: its progress is keyed by
// the old name.
func ProgressKey(transform, journal string) string {
	return transform + "@" + journal
}

// Clone returns a deep copy of the checkpoint
func (c Checkpoint) Clone() Checkpoint {
	value := Checkpoint{
		Offsets: make(map[string]int64, len(c.Offsets)),
		Token:   c.Token,
	}
	for k, v := range c.Offsets {
		value.Offsets[k] = v
	}

	return value
}
