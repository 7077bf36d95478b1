package engine

import "github.com/cybersemics/treecrdt-sub003/ids"

// OpStore persists the op-log, keyed by opRef, plus the pending-ops
// sidecar. Two implementations ship with this module: memstore (the
// default, map-backed) and pebblestore (an optional on-disk backend built
// on cockroachdb/pebble). Both satisfy the abstract persisted tables in
// spec §6.
type OpStore interface {
	// Put inserts a log entry. Returns (true, nil) if the entry already
	// existed (append is idempotent); callers must not treat this as an
	// error.
	Put(entry StoredOp) (existed bool, err error)
	Get(ref ids.OpRef) (StoredOp, bool, error)
	// AllRefs returns every opRef currently stored, in no particular order.
	AllRefs() ([]ids.OpRef, error)
	Count() (int, error)

	// PutPending upserts a pending-ops sidecar row.
	PutPending(row PendingRow) error
	GetPending(ref ids.OpRef) (PendingRow, bool, error)
	AllPending() ([]PendingRow, error)
	DeletePending(ref ids.OpRef) error

	Close() error
}

// PendingRow is one pending-ops sidecar entry: an operation whose
// authorization status is currently unknown.
type PendingRow struct {
	Ref     ids.OpRef
	Op      StoredOp
	Reason  string
	Message string
}

// TreeStore persists the materialized tree table (parent, orderKey,
// tombstone) and the payload table (lastWriterReplica, lastWriterCounter,
// payload) from spec §6. It holds derived state: every field here must be
// reconstructible from OpStore alone, so implementations are free to treat
// it as a cache and rebuild it on startup.
type TreeStore interface {
	GetNode(node ids.NodeId) (MaterializedNode, bool, error)
	PutNode(node MaterializedNode) error
	// AllNodes returns every node with a materialized record, in no
	// particular order.
	AllNodes() ([]MaterializedNode, error)
	Count() (int, error)
	Close() error
}

