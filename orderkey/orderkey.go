// Package orderkey implements the LSEQ/Logoot-style variable-length sibling
// ordering key: allocateBetween picks a position between two neighbors
// (or an open boundary) without coordination, deterministically for a given
// seed, with bounded growth near a clustered insertion frontier.
package orderkey

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
)

// digitLow and digitHigh are the implicit boundary digits used when a
// neighbor is absent: -∞ reads as all-zero digits, +∞ reads as all-0xFFFF
// digits at every depth.
const (
	digitLow  uint16 = 0x0000
	digitHigh uint16 = 0xFFFF
	// maxWindow bounds how many candidate digits allocateBetween considers
	// near a gap, keeping keys compact under clustered inserts.
	maxWindow = 10
)

const seedDomain = "treecrdt/order_key/v0"

// Key is a sibling ordering key: a sequence of big-endian u16 digits,
// compared lexicographically on the digit sequence. The zero value is not a
// valid key produced by allocation, but decodes to an empty digit sequence
// (useful as a sentinel in tests).
type Key []uint16

// Compare returns -1, 0, or 1 as k is lexicographically less than, equal
// to, or greater than other, reading an absent digit past the end of the
// shorter key as lower than any explicit digit (so "1" < "1.5").
func (k Key) Compare(other Key) int {
	n := len(k)
	if len(other) < n {
		n = len(other)
	}
	for i := 0; i < n; i++ {
		if k[i] != other[i] {
			if k[i] < other[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(k) < len(other):
		return -1
	case len(k) > len(other):
		return 1
	default:
		return 0
	}
}

// Less reports whether k sorts strictly before other.
func (k Key) Less(other Key) bool { return k.Compare(other) < 0 }

// Equal reports whether k and other are the same digit sequence.
func (k Key) Equal(other Key) bool { return k.Compare(other) == 0 }

// String renders the key as dot-separated decimal digits for debug logging
// (treeDump output); it is never used for comparison or wire encoding.
func (k Key) Clone() Key {
	out := make(Key, len(k))
	copy(out, k)
	return out
}

func (k Key) String() string {
	s := ""
	for i, d := range k {
		if i > 0 {
			s += "."
		}
		s += fmt.Sprintf("%d", d)
	}
	return s
}

// Encode serializes k as a sequence of big-endian u16 digits, with a u32be
// length prefix, matching the canonical op encoder's `orderKey` field shape.
func (k Key) Encode() []byte {
	out := make([]byte, 4+2*len(k))
	binary.BigEndian.PutUint32(out[0:4], uint32(len(k)))
	for i, d := range k {
		binary.BigEndian.PutUint16(out[4+2*i:6+2*i], d)
	}
	return out
}

// Decode parses the Encode form back into a Key, returning the number of
// bytes consumed.
func Decode(b []byte) (Key, int, error) {
	if len(b) < 4 {
		return nil, 0, fmt.Errorf("orderkey: truncated length prefix")
	}
	n := binary.BigEndian.Uint32(b[0:4])
	need := 4 + 2*int(n)
	if len(b) < need {
		return nil, 0, fmt.Errorf("orderkey: truncated digits: need %d bytes, have %d", need, len(b))
	}
	out := make(Key, n)
	for i := range out {
		out[i] = binary.BigEndian.Uint16(b[4+2*i : 6+2*i])
	}
	return out, need, nil
}

// digitAt reads the digit at depth d for a key that may be absent (nil,
// meaning -∞) or shorter than d+1 (implicitly 0 on the left boundary, or
// 0xFFFF on the right boundary past its explicit digits).
func digitAt(k Key, d int, boundary uint16) uint16 {
	if d < len(k) {
		return k[d]
	}
	return boundary
}

// fnvSeedHash computes the 64-bit FNV-1a hash of seed domain-separated by
// depth, used to pick a pseudo-random side within the allocation window.
func fnvSeedHash(seed []byte, depth int) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(seedDomain))
	_, _ = h.Write(seed)
	var depthBuf [8]byte
	binary.BigEndian.PutUint64(depthBuf[:], uint64(depth))
	_, _ = h.Write(depthBuf[:])
	return h.Sum64()
}

// AllocateBetween picks a Key k such that left < k < right, where a nil
// left reads as -∞ and a nil right reads as +∞. The same (left, right,
// seed) always yields the same result on every replica; seed should be
// `replica ‖ u64be(counter)` so concurrent inserts between the same
// neighbors by different replicas land on different, stably ordered keys.
func AllocateBetween(left, right Key, seed []byte) (Key, error) {
	var out Key
	for depth := 0; ; depth++ {
		ld := digitAt(left, depth, digitLow)
		rd := digitAt(right, depth, digitHigh)

		if rd < ld {
			return nil, fmt.Errorf("orderkey: invalid neighbors at depth %d: left digit %d > right digit %d", depth, ld, rd)
		}

		if rd > ld+1 {
			gap := rd - ld - 1
			window := uint16(maxWindow)
			if gap < window {
				window = gap
			}
			choice := uint16(fnvSeedHash(seed, depth) % uint64(window))
			out = append(out, ld+1+choice)
			return out, nil
		}

		// rd == ld or rd == ld+1 with no room: descend, carrying the shared
		// digit, and continue at the next depth.
		out = append(out, ld)
	}
}
