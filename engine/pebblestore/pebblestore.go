// Package pebblestore is an optional on-disk engine.OpStore/engine.TreeStore
// backend built on cockroachdb/pebble, implementing the persisted tables
// described in spec §6 (op-log by opRef, materialized tree by node, pending
// sidecar by opRef) as distinct key prefixes in one LSM. The in-memory
// memstore backend remains the default; this backend is a Config choice,
// never a code-path branch inside engine logic.
package pebblestore

import (
	"bytes"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/fxamacker/cbor/v2"

	"github.com/cybersemics/treecrdt-sub003/engine"
	"github.com/cybersemics/treecrdt-sub003/ids"
)

var (
	prefixOp      = []byte("o:")
	prefixPending = []byte("p:")
	prefixNode    = []byte("n:")
)

func opKey(ref ids.OpRef) []byte {
	return append(append([]byte{}, prefixOp...), ref[:]...)
}

func pendingKey(ref ids.OpRef) []byte {
	return append(append([]byte{}, prefixPending...), ref[:]...)
}

func nodeKey(n ids.NodeId) []byte {
	return append(append([]byte{}, prefixNode...), n[:]...)
}

// Store is a single pebble database shared by OpStore and TreeStore; both
// views are opened over the same *pebble.DB so a single on-disk directory
// backs one document's engine.
type Store struct {
	db *pebble.DB
}

// Open opens (creating if absent) a pebble database at dir.
func Open(dir string) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("pebblestore: open %s: %w", dir, err)
	}
	return &Store{db: db}, nil
}

// OpStore returns the engine.OpStore view over this database.
func (s *Store) OpStore() engine.OpStore { return opStore{s.db} }

// TreeStore returns the engine.TreeStore view over this database.
func (s *Store) TreeStore() engine.TreeStore { return treeStore{s.db} }

// Close closes the underlying database. Closing either view's Close method
// also closes the shared database; call this once, not once per view.
func (s *Store) Close() error { return s.db.Close() }

type opStore struct{ db *pebble.DB }

func (o opStore) Put(entry engine.StoredOp) (bool, error) {
	key := opKey(entry.Ref)
	if _, closer, err := o.db.Get(key); err == nil {
		_ = closer.Close()
		return true, nil
	} else if err != pebble.ErrNotFound {
		return false, fmt.Errorf("pebblestore: get %x: %w", key, err)
	}

	val, err := cbor.Marshal(entry)
	if err != nil {
		return false, fmt.Errorf("pebblestore: encode op: %w", err)
	}
	if err := o.db.Set(key, val, pebble.Sync); err != nil {
		return false, fmt.Errorf("pebblestore: put %x: %w", key, err)
	}
	return false, nil
}

func (o opStore) Get(ref ids.OpRef) (engine.StoredOp, bool, error) {
	val, closer, err := o.db.Get(opKey(ref))
	if err == pebble.ErrNotFound {
		return engine.StoredOp{}, false, nil
	}
	if err != nil {
		return engine.StoredOp{}, false, fmt.Errorf("pebblestore: get op: %w", err)
	}
	defer closer.Close()

	var entry engine.StoredOp
	if err := cbor.Unmarshal(val, &entry); err != nil {
		return engine.StoredOp{}, false, fmt.Errorf("pebblestore: decode op: %w", err)
	}
	return entry, true, nil
}

func (o opStore) AllRefs() ([]ids.OpRef, error) {
	iter, err := o.db.NewIter(&pebble.IterOptions{
		LowerBound: prefixOp,
		UpperBound: prefixUpperBound(prefixOp),
	})
	if err != nil {
		return nil, fmt.Errorf("pebblestore: iterate ops: %w", err)
	}
	defer iter.Close()

	var out []ids.OpRef
	for valid := iter.First(); valid; valid = iter.Next() {
		ref, err := ids.OpRefFromBytes(bytes.TrimPrefix(iter.Key(), prefixOp))
		if err != nil {
			return nil, err
		}
		out = append(out, ref)
	}
	return out, iter.Error()
}

func (o opStore) Count() (int, error) {
	refs, err := o.AllRefs()
	if err != nil {
		return 0, err
	}
	return len(refs), nil
}

func (o opStore) PutPending(row engine.PendingRow) error {
	val, err := cbor.Marshal(row)
	if err != nil {
		return fmt.Errorf("pebblestore: encode pending row: %w", err)
	}
	return o.db.Set(pendingKey(row.Ref), val, pebble.Sync)
}

func (o opStore) GetPending(ref ids.OpRef) (engine.PendingRow, bool, error) {
	val, closer, err := o.db.Get(pendingKey(ref))
	if err == pebble.ErrNotFound {
		return engine.PendingRow{}, false, nil
	}
	if err != nil {
		return engine.PendingRow{}, false, fmt.Errorf("pebblestore: get pending: %w", err)
	}
	defer closer.Close()

	var row engine.PendingRow
	if err := cbor.Unmarshal(val, &row); err != nil {
		return engine.PendingRow{}, false, fmt.Errorf("pebblestore: decode pending: %w", err)
	}
	return row, true, nil
}

func (o opStore) AllPending() ([]engine.PendingRow, error) {
	iter, err := o.db.NewIter(&pebble.IterOptions{
		LowerBound: prefixPending,
		UpperBound: prefixUpperBound(prefixPending),
	})
	if err != nil {
		return nil, fmt.Errorf("pebblestore: iterate pending: %w", err)
	}
	defer iter.Close()

	var out []engine.PendingRow
	for valid := iter.First(); valid; valid = iter.Next() {
		var row engine.PendingRow
		if err := cbor.Unmarshal(iter.Value(), &row); err != nil {
			return nil, fmt.Errorf("pebblestore: decode pending: %w", err)
		}
		out = append(out, row)
	}
	return out, iter.Error()
}

func (o opStore) DeletePending(ref ids.OpRef) error {
	return o.db.Delete(pendingKey(ref), pebble.Sync)
}

// Close is a no-op: opStore and treeStore share one *pebble.DB owned by
// Store, and engine.Engine.Close calls both views' Close on shutdown. Only
// Store.Close actually closes the database, so the shared db survives the
// engine's two-view teardown; callers that opened via Open must Close the
// Store themselves once the engine is done with it.
func (o opStore) Close() error { return nil }

type treeStore struct{ db *pebble.DB }

func (t treeStore) GetNode(n ids.NodeId) (engine.MaterializedNode, bool, error) {
	val, closer, err := t.db.Get(nodeKey(n))
	if err == pebble.ErrNotFound {
		return engine.MaterializedNode{}, false, nil
	}
	if err != nil {
		return engine.MaterializedNode{}, false, fmt.Errorf("pebblestore: get node: %w", err)
	}
	defer closer.Close()

	var node engine.MaterializedNode
	if err := cbor.Unmarshal(val, &node); err != nil {
		return engine.MaterializedNode{}, false, fmt.Errorf("pebblestore: decode node: %w", err)
	}
	return node, true, nil
}

func (t treeStore) PutNode(node engine.MaterializedNode) error {
	val, err := cbor.Marshal(node)
	if err != nil {
		return fmt.Errorf("pebblestore: encode node: %w", err)
	}
	return t.db.Set(nodeKey(node.Node), val, pebble.Sync)
}

func (t treeStore) AllNodes() ([]engine.MaterializedNode, error) {
	iter, err := t.db.NewIter(&pebble.IterOptions{
		LowerBound: prefixNode,
		UpperBound: prefixUpperBound(prefixNode),
	})
	if err != nil {
		return nil, fmt.Errorf("pebblestore: iterate nodes: %w", err)
	}
	defer iter.Close()

	var out []engine.MaterializedNode
	for valid := iter.First(); valid; valid = iter.Next() {
		var node engine.MaterializedNode
		if err := cbor.Unmarshal(iter.Value(), &node); err != nil {
			return nil, fmt.Errorf("pebblestore: decode node: %w", err)
		}
		out = append(out, node)
	}
	return out, iter.Error()
}

func (t treeStore) Count() (int, error) {
	nodes, err := t.AllNodes()
	if err != nil {
		return 0, err
	}
	return len(nodes), nil
}

// Close is a no-op; see opStore.Close.
func (t treeStore) Close() error { return nil }

// prefixUpperBound returns the smallest key greater than every key with the
// given prefix, for use as a pebble.IterOptions.UpperBound.
func prefixUpperBound(prefix []byte) []byte {
	upper := append([]byte{}, prefix...)
	for i := len(upper) - 1; i >= 0; i-- {
		upper[i]++
		if upper[i] != 0 {
			return upper[:i+1]
		}
	}
	return nil // prefix was all 0xff; unbounded above
}
