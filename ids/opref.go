package ids

import (
	"encoding/binary"

	"github.com/zeebo/blake3"
)

const opRefDomain = "treecrdt/opref/v0"

// DeriveOpRef computes the 16-byte content identifier for an operation from
// (docID, replica, counter):
//
//	blake3("treecrdt/opref/v0" ‖ utf8(docID) ‖ u32be(len(replica)) ‖ replica ‖ u64be(counter))[0..16]
//
// OpRef derivation is the one cross-language compatibility anchor in this
// system: every byte of this function is part of the wire contract.
func DeriveOpRef(docID string, replica ReplicaId, counter uint64) OpRef {
	h := blake3.New()
	_, _ = h.Write([]byte(opRefDomain))
	_, _ = h.Write([]byte(docID))

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(ReplicaIDLen))
	_, _ = h.Write(lenBuf[:])
	_, _ = h.Write(replica[:])

	var counterBuf [8]byte
	binary.BigEndian.PutUint64(counterBuf[:], counter)
	_, _ = h.Write(counterBuf[:])

	digest := h.Sum(nil)
	var ref OpRef
	copy(ref[:], digest[:OpRefLen])
	return ref
}
