// Package op defines the tagged-variant Operation type and its canonical,
// bit-exact byte encoding used for signing and verification (C3).
package op

import (
	"github.com/cybersemics/treecrdt-sub003/ids"
	"github.com/cybersemics/treecrdt-sub003/orderkey"
)

// Kind discriminates the five operation variants.
type Kind uint8

const (
	KindInsert Kind = iota + 1
	KindMove
	KindDelete
	KindTombstone
	KindPayload
)

func (k Kind) String() string {
	switch k {
	case KindInsert:
		return "insert"
	case KindMove:
		return "move"
	case KindDelete:
		return "delete"
	case KindTombstone:
		return "tombstone"
	case KindPayload:
		return "payload"
	default:
		return "unknown"
	}
}

// Meta carries the fields common to every operation kind.
type Meta struct {
	ID      ids.OpId
	Lamport ids.Lamport
	// KnownState is only meaningful on Delete; carried here because the
	// encoder treats it as part of the common envelope for simplicity.
	KnownState []byte
}

// Insert creates a node under Parent at OrderKey, optionally setting an
// initial payload.
type Insert struct {
	Meta
	Parent   ids.NodeId
	Node     ids.NodeId
	Key      orderkey.Key
	Payload  []byte
	HasPayload bool
}

// Move reparents Node under NewParent, changing its sibling key.
type Move struct {
	Meta
	Node      ids.NodeId
	NewParent ids.NodeId
	Key       orderkey.Key
}

// Delete marks Node as defensively deleted relative to KnownState (in Meta).
type Delete struct {
	Meta
	Node ids.NodeId
}

// Tombstone marks Node as unconditionally, permanently dead.
type Tombstone struct {
	Meta
	Node ids.NodeId
}

// Payload replaces Node's opaque payload (last-writer-wins). A nil Value
// with HasValue true represents an explicit clear to null, distinct from a
// zero-length non-nil byte slice.
type Payload struct {
	Meta
	Node     ids.NodeId
	Value    []byte
	HasValue bool
}

// Op is the sum type over the five operation kinds. Exactly one of the
// typed fields is non-nil; Kind() reports which.
type Op struct {
	Insert    *Insert
	Move      *Move
	Delete    *Delete
	Tombstone *Tombstone
	Payload   *Payload
}

// Kind reports which variant is populated.
func (o Op) Kind() Kind {
	switch {
	case o.Insert != nil:
		return KindInsert
	case o.Move != nil:
		return KindMove
	case o.Delete != nil:
		return KindDelete
	case o.Tombstone != nil:
		return KindTombstone
	case o.Payload != nil:
		return KindPayload
	default:
		return 0
	}
}

// Meta returns the common envelope fields for whichever variant is set. It
// panics if no variant is set, mirroring the exhaustive-match discipline
// exhaustive switches use elsewhere in this package.
func (o Op) Meta() Meta {
	switch o.Kind() {
	case KindInsert:
		return o.Insert.Meta
	case KindMove:
		return o.Move.Meta
	case KindDelete:
		return o.Delete.Meta
	case KindTombstone:
		return o.Tombstone.Meta
	case KindPayload:
		return o.Payload.Meta
	default:
		panic("op: zero-value Op has no kind")
	}
}

// Node returns the node this operation targets or creates.
func (o Op) Node() ids.NodeId {
	switch o.Kind() {
	case KindInsert:
		return o.Insert.Node
	case KindMove:
		return o.Move.Node
	case KindDelete:
		return o.Delete.Node
	case KindTombstone:
		return o.Tombstone.Node
	case KindPayload:
		return o.Payload.Node
	default:
		panic("op: zero-value Op has no kind")
	}
}
