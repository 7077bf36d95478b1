// Package ids defines the identifier types shared by every component of
// the tree CRDT: replica keys, node identifiers, per-replica operation
// counters, Lamport clocks, and the content-addressed OpRef.
package ids

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
)

const (
	// ReplicaIDLen is the length of a ReplicaId: an Ed25519 public key.
	ReplicaIDLen = 32
	// NodeIDLen is the length of a NodeId.
	NodeIDLen = 16
	// OpRefLen is the length of an OpRef content hash.
	OpRefLen = 16
)

// ReplicaId identifies a writer. It is the writer's Ed25519 public key.
type ReplicaId [ReplicaIDLen]byte

// String renders the replica id as base58, matching the corpus convention
// of base58-encoding node/validator identifiers for logs and CLI output.
func (r ReplicaId) String() string {
	return base58.Encode(r[:])
}

// IsZero reports whether r is the all-zero replica id (never a valid key).
func (r ReplicaId) IsZero() bool {
	return r == ReplicaId{}
}

// Less defines the canonical bytewise ordering used to break ties between
// operations with equal Lamport timestamps.
func (r ReplicaId) Less(other ReplicaId) bool {
	for i := range r {
		if r[i] != other[i] {
			return r[i] < other[i]
		}
	}
	return false
}

// ReplicaFromBytes copies b into a ReplicaId, failing if the length is wrong.
func ReplicaFromBytes(b []byte) (ReplicaId, error) {
	var r ReplicaId
	if len(b) != ReplicaIDLen {
		return r, fmt.Errorf("ids: replica id must be %d bytes, got %d", ReplicaIDLen, len(b))
	}
	copy(r[:], b)
	return r, nil
}

// NodeId is a 128-bit node identifier, canonically 32 lowercase hex chars.
type NodeId [NodeIDLen]byte

// Root and Trash are reserved chain terminators: they are never children of
// any node and never tombstoned.
var (
	Root  = NodeId{}
	Trash = NodeId{
		0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
		0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	}
)

// IsRoot reports whether n is the reserved ROOT node.
func (n NodeId) IsRoot() bool { return n == Root }

// IsTrash reports whether n is the reserved TRASH node.
func (n NodeId) IsTrash() bool { return n == Trash }

// String renders the node id as 32 lowercase hex characters.
func (n NodeId) String() string {
	return hex.EncodeToString(n[:])
}

// Less gives the lexicographic tiebreaker order used when sorting siblings
// that share an OrderKey.
func (n NodeId) Less(other NodeId) bool {
	for i := range n {
		if n[i] != other[i] {
			return n[i] < other[i]
		}
	}
	return false
}

// NodeFromHex parses the canonical 32-char hex form of a NodeId.
func NodeFromHex(s string) (NodeId, error) {
	var n NodeId
	if len(s) != NodeIDLen*2 {
		return n, fmt.Errorf("ids: node id hex must be %d chars, got %d", NodeIDLen*2, len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return n, fmt.Errorf("ids: decode node id: %w", err)
	}
	copy(n[:], b)
	return n, nil
}

// OpId identifies an operation by its minting replica and that replica's
// monotonically increasing per-replica counter.
type OpId struct {
	Replica ReplicaId
	Counter uint64
}

// Lamport is a Lamport logical clock value.
type Lamport uint64

// OpRef is the 16-byte content identifier derived from (docId, replica,
// counter). See Derive.
type OpRef [OpRefLen]byte

// ErrOpRefLen is returned when constructing an OpRef from a short slice.
var ErrOpRefLen = errors.New("ids: opref must be 16 bytes")

// OpRefFromBytes copies b into an OpRef.
func OpRefFromBytes(b []byte) (OpRef, error) {
	var r OpRef
	if len(b) != OpRefLen {
		return r, ErrOpRefLen
	}
	copy(r[:], b)
	return r, nil
}

// String renders the opref as base58, mirroring ReplicaId's display form.
func (r OpRef) String() string {
	return base58.Encode(r[:])
}

// Less gives the canonical bytewise order over OpRefs, used by RIBLT to
// order codeword symbols deterministically.
func (r OpRef) Less(other OpRef) bool {
	for i := range r {
		if r[i] != other[i] {
			return r[i] < other[i]
		}
	}
	return false
}

// MarshalText renders r as base58, so OpRef round-trips through JSON/CBOR
// debug dumps as a readable string rather than a byte array.
func (r OpRef) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText is MarshalText's inverse.
func (r *OpRef) UnmarshalText(text []byte) error {
	b, err := base58.Decode(string(text))
	if err != nil {
		return fmt.Errorf("ids: decode opref: %w", err)
	}
	decoded, err := OpRefFromBytes(b)
	if err != nil {
		return err
	}
	*r = decoded
	return nil
}
