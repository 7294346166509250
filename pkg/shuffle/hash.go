package shuffle

import (
	"crypto/sha1"
	"encoding/binary"

	"github.com/fagongzi/util/hack"
)

// HashBytes returns the stable 32 bit hash of the value, the first 4
// bytes of its SHA-1 digest read in little endian. Every router of a
// ring must hash identically or keys would route to different members.
func HashBytes(value []byte) uint32 {
	sum := sha1.Sum(value)
	return binary.LittleEndian.Uint32(sum[0:4])
}

// HashString returns the stable 32 bit hash of the value
func HashString(value string) uint32 {
	return HashBytes(hack.StringToSlice(value))
}
