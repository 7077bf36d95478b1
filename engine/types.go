// Package engine implements the append-only, deduplicated operation log and
// the eagerly maintained materialized tree view derived from it (C5).
package engine

import (
	"github.com/cybersemics/treecrdt-sub003/ids"
	"github.com/cybersemics/treecrdt-sub003/op"
	"github.com/cybersemics/treecrdt-sub003/orderkey"
)

// StoredOp is a log entry: the operation itself plus its derived opRef and
// the signature bytes carried in its auth envelope.
type StoredOp struct {
	Ref       ids.OpRef
	Op        op.Op
	Signature []byte
	ProofRef  *ids.OpRef
}

// priority is the (lamport, replica, counter) tuple used to break ties
// between concurrent writes to the same register.
type priority struct {
	lamport ids.Lamport
	replica ids.ReplicaId
	counter uint64
}

// higher reports whether p is strictly preferred over other under the
// canonical tie-break: highest lamport first, then replica bytewise, then
// counter.
func (p priority) higher(other priority) bool {
	if p.lamport != other.lamport {
		return p.lamport > other.lamport
	}
	if p.replica != other.replica {
		return !p.replica.Less(other.replica)
	}
	return p.counter > other.counter
}

func priorityOf(m op.Meta) priority {
	return priority{lamport: m.Lamport, replica: m.ID.Replica, counter: m.ID.Counter}
}

// MaterializedNode is the derived, non-authoritative view of one node.
type MaterializedNode struct {
	Node ids.NodeId

	HasParent bool
	ParentID  ids.NodeId
	Key       orderkey.Key

	ChildrenCountCached int

	// SoftDeleted reflects a Delete op currently winning over the node's
	// parent-setting register; a later, higher-priority Insert/Move clears
	// it (spec §3: "later moves may reactivate").
	SoftDeleted bool
	// Tombstoned is absorbing: once true it is never cleared.
	Tombstoned bool

	HasPayload             bool
	Payload                []byte
	LastPayloadWriterOpRef ids.OpRef
}

// Deleted reports whether the node should be hidden from tree traversal:
// either soft-deleted or tombstoned.
func (n MaterializedNode) Deleted() bool {
	return n.SoftDeleted || n.Tombstoned
}

// Filter selects a subset of opRefs from the log. Exactly one of the two
// fields is meaningful: a zero-value Filter (All true) selects everything.
type Filter struct {
	All      bool
	Children ids.NodeId
}

// AllFilter is the {all} filter.
func AllFilter() Filter { return Filter{All: true} }

// ChildrenFilter is the {children: parent} filter.
func ChildrenFilter(parent ids.NodeId) Filter { return Filter{Children: parent} }

// ApplyStatus reports the per-op outcome of an ApplyOps batch.
type ApplyStatus int

const (
	StatusApplied ApplyStatus = iota
	StatusDuplicate
	StatusMalformed
	StatusPending
)

// ApplyResult reports one op's outcome within a batch.
type ApplyResult struct {
	Ref    ids.OpRef
	Status ApplyStatus
	Err    error
}

// Placement describes where a locally minted insert/move lands among its
// new siblings.
type Placement struct {
	First bool
	Last  bool
	After *ids.NodeId
}

// ChildRow is one entry in a children listing, used by both TreeChildren
// and the keyset-paginated TreeChildrenPage.
type ChildRow struct {
	Node ids.NodeId
	Key  orderkey.Key
}

// Cursor is the keyset pagination cursor: (orderKey, nodeId).
type Cursor struct {
	Key  orderkey.Key
	Node ids.NodeId
}
