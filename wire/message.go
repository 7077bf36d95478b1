// Package wire implements the two SyncMessage codecs C6 speaks: a
// hand-written, bit-exact "Protobuf v0" encoding built directly on
// google.golang.org/protobuf/encoding/protowire (tag/varint/length-delimited
// primitives, no generated .pb.go code) and a JSON codec for debugging and
// for peers that prefer a human-readable wire format.
package wire

import "github.com/cybersemics/treecrdt-sub003/ids"

// MessageKind discriminates the SyncMessage variants (spec §6).
type MessageKind uint8

const (
	KindHello MessageKind = iota + 1
	KindHelloAck
	KindCodeword
	KindOpsBatch
	KindSubscribe
	KindUnsubscribe
	KindError
)

// Hello opens a sync session: the sender's replica identity and the set of
// filters it wants to reconcile.
type Hello struct {
	Replica     ids.ReplicaId
	DocID       string
	Filters     []FilterWire
	HeadLamport ids.Lamport
}

// HelloAck acknowledges a Hello, optionally with an error that aborts the
// session (e.g. docId unknown, incompatible protocol version).
type HelloAck struct {
	Replica     ids.ReplicaId
	HeadLamport ids.Lamport
	Err         string
}

// FilterWire is the wire form of engine.Filter: either {all} or
// {children: parentHex}.
type FilterWire struct {
	All      bool
	Children ids.NodeId
	HasChildren bool
}

// Codeword carries one RIBLT coded symbol for a filter's reconciliation
// stream, plus the filter it belongs to (a peer may reconcile several
// filters concurrently, spec §6).
type Codeword struct {
	FilterIndex uint32
	Index       uint64
	SumID       ids.OpRef
	SumChecksum uint64
	Count       int64
}

// OpsBatch carries a batch of fully-formed log entries: opRef, canonical
// op bytes (already C3-encoded), signature, and optional proofRef.
type OpsBatch struct {
	FilterIndex uint32
	Entries     []OpEntry
	// Compressed reports whether Entries' combined canonical bytes were
	// zstd-compressed before framing (spec §6: payloads over
	// maxPayloadBytes may be compressed).
	Compressed bool
}

// OpEntry is one op as carried over the wire.
type OpEntry struct {
	Ref       ids.OpRef
	DocID     string
	OpBytes   []byte
	Signature []byte
	ProofRef  *ids.OpRef
}

// Subscribe asks the peer to push future ops matching filter as they're
// minted, without a further reconciliation round per op.
type Subscribe struct {
	FilterIndex uint32
	Filter      FilterWire
}

// Unsubscribe cancels a prior Subscribe.
type Unsubscribe struct {
	FilterIndex uint32
}

// Error reports a protocol-level failure (spec §6's error taxonomy):
// malformed message, unknown filter index, docId mismatch, etc.
type Error struct {
	Code    string
	Message string
}

// SyncMessage is the envelope: exactly one of the typed fields is set,
// mirroring op.Op's sum-type convention.
type SyncMessage struct {
	Hello       *Hello
	HelloAck    *HelloAck
	Codeword    *Codeword
	OpsBatch    *OpsBatch
	Subscribe   *Subscribe
	Unsubscribe *Unsubscribe
	Error       *Error
}

// Kind reports which variant is populated.
func (m SyncMessage) Kind() MessageKind {
	switch {
	case m.Hello != nil:
		return KindHello
	case m.HelloAck != nil:
		return KindHelloAck
	case m.Codeword != nil:
		return KindCodeword
	case m.OpsBatch != nil:
		return KindOpsBatch
	case m.Subscribe != nil:
		return KindSubscribe
	case m.Unsubscribe != nil:
		return KindUnsubscribe
	case m.Error != nil:
		return KindError
	default:
		return 0
	}
}
