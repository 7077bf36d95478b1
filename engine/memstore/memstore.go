// Package memstore is the default, in-memory OpStore/TreeStore backend
// used by every engine unless a persistent backend is configured. It is
// the backend exercised by all of this module's unit tests.
package memstore

import (
	"sync"

	"github.com/cybersemics/treecrdt-sub003/engine"
	"github.com/cybersemics/treecrdt-sub003/ids"
)

// OpStore is a mutex-guarded map-backed engine.OpStore.
type OpStore struct {
	mu      sync.RWMutex
	log     map[ids.OpRef]engine.StoredOp
	pending map[ids.OpRef]engine.PendingRow
}

// NewOpStore returns an empty in-memory OpStore.
func NewOpStore() *OpStore {
	return &OpStore{
		log:     make(map[ids.OpRef]engine.StoredOp),
		pending: make(map[ids.OpRef]engine.PendingRow),
	}
}

func (s *OpStore) Put(entry engine.StoredOp) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, existed := s.log[entry.Ref]
	if !existed {
		s.log[entry.Ref] = entry
	}
	return existed, nil
}

func (s *OpStore) Get(ref ids.OpRef) (engine.StoredOp, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.log[ref]
	return e, ok, nil
}

func (s *OpStore) AllRefs() ([]ids.OpRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ids.OpRef, 0, len(s.log))
	for ref := range s.log {
		out = append(out, ref)
	}
	return out, nil
}

func (s *OpStore) Count() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.log), nil
}

func (s *OpStore) PutPending(row engine.PendingRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[row.Ref] = row
	return nil
}

func (s *OpStore) GetPending(ref ids.OpRef) (engine.PendingRow, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.pending[ref]
	return row, ok, nil
}

func (s *OpStore) AllPending() ([]engine.PendingRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]engine.PendingRow, 0, len(s.pending))
	for _, row := range s.pending {
		out = append(out, row)
	}
	return out, nil
}

func (s *OpStore) DeletePending(ref ids.OpRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, ref)
	return nil
}

func (s *OpStore) Close() error { return nil }

// TreeStore is a mutex-guarded map-backed engine.TreeStore.
type TreeStore struct {
	mu    sync.RWMutex
	nodes map[ids.NodeId]engine.MaterializedNode
}

// NewTreeStore returns an empty in-memory TreeStore.
func NewTreeStore() *TreeStore {
	return &TreeStore{nodes: make(map[ids.NodeId]engine.MaterializedNode)}
}

func (t *TreeStore) GetNode(node ids.NodeId) (engine.MaterializedNode, bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.nodes[node]
	return n, ok, nil
}

func (t *TreeStore) PutNode(node engine.MaterializedNode) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nodes[node.Node] = node
	return nil
}

func (t *TreeStore) AllNodes() ([]engine.MaterializedNode, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]engine.MaterializedNode, 0, len(t.nodes))
	for _, n := range t.nodes {
		out = append(out, n)
	}
	return out, nil
}

func (t *TreeStore) Count() (int, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.nodes), nil
}

func (t *TreeStore) Close() error { return nil }
