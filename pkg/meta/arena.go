package meta

import (
	"fmt"
)

// Arena is a packed, append-only byte buffer. Documents staged into a
// batch share one arena so that the batch moves across process and
// network boundaries as a single allocation.
type Arena []byte

// Slice addresses a byte range of the arena that produced it. A slice
// is meaningless relative to any other arena.
type Slice struct {
	Begin uint32 `json:"begin"`
	End   uint32 `json:"end"`
}

// Len returns the number of bytes addressed by the slice
func (s Slice) Len() int {
	return int(s.End - s.Begin)
}

// Add appends the bytes to the arena and returns its slice
func (a *Arena) Add(value []byte) Slice {
	begin := len(*a)
	*a = append(*a, value...)
	return Slice{
		Begin: uint32(begin),
		End:   uint32(len(*a)),
	}
}

// AddAll appends every value to the arena, preserving input order
func (a *Arena) AddAll(values ...[]byte) []Slice {
	slices := make([]Slice, 0, len(values))
	for _, value := range values {
		slices = append(slices, a.Add(value))
	}

	return slices
}

// Bytes returns a view of the slice without copying. The slice must
// address the arena's current extent.
func (a Arena) Bytes(s Slice) []byte {
	if int(s.End) > len(a) || s.Begin > s.End {
		panic(fmt.Sprintf("slice [%d, %d) is out of arena extent %d",
			s.Begin,
			s.End,
			len(a)))
	}

	return a[s.Begin:s.End]
}

// AllBytes returns views of every slice
func (a Arena) AllBytes(slices ...Slice) [][]byte {
	values := make([][]byte, 0, len(slices))
	for _, s := range slices {
		values = append(values, a.Bytes(s))
	}

	return values
}
