package engine_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cybersemics/treecrdt-sub003/engine"
	"github.com/cybersemics/treecrdt-sub003/engine/memstore"
	"github.com/cybersemics/treecrdt-sub003/ids"
	"github.com/cybersemics/treecrdt-sub003/op"
	"github.com/cybersemics/treecrdt-sub003/orderkey"
)

// fakeSigner stands in for the real auth.Signer in engine-only tests.
type fakeSigner struct{}

func (fakeSigner) Sign(docID string, o op.Op) ([]byte, *ids.OpRef, error) {
	return []byte("sig"), nil, nil
}

func newTestEngine(t *testing.T, docID string, replica ids.ReplicaId) *engine.Engine {
	t.Helper()
	e, err := engine.New(docID, replica, memstore.NewOpStore(), memstore.NewTreeStore(), engine.WithSigner(fakeSigner{}))
	require.NoError(t, err)
	return e
}

func replicaOf(b byte) ids.ReplicaId {
	var r ids.ReplicaId
	r[0] = b
	return r
}

func nodeOf(b byte) ids.NodeId {
	var n ids.NodeId
	n[0] = b
	return n
}

func TestLocalInsertAppearsAsChild(t *testing.T) {
	replica := replicaOf(1)
	e := newTestEngine(t, "doc1", replica)

	child := nodeOf(2)
	key, err := orderkey.AllocateBetween(nil, nil, []byte{1})
	require.NoError(t, err)

	_, err = e.LocalInsert(context.Background(), child, ids.Root, key, []byte("hello"), true)
	require.NoError(t, err)

	rows, err := e.TreeChildren(ids.Root)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, child, rows[0].Node)

	node, ok, err := e.GetNode(child)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, node.HasPayload)
	require.Equal(t, []byte("hello"), node.Payload)
	require.False(t, node.Deleted())
}

func TestApplyOpsIsIdempotent(t *testing.T) {
	replica := replicaOf(1)
	e := newTestEngine(t, "doc1", replica)

	child := nodeOf(2)
	key, err := orderkey.AllocateBetween(nil, nil, []byte{1})
	require.NoError(t, err)

	meta := op.Meta{ID: ids.OpId{Replica: replica, Counter: 1}, Lamport: 1}
	o := op.Op{Insert: &op.Insert{Meta: meta, Parent: ids.Root, Node: child, Key: key}}
	ref := ids.DeriveOpRef("doc1", replica, 1)

	r1 := e.Append(ref, o, []byte("sig"), nil)
	require.Equal(t, engine.StatusApplied, r1.Status)

	r2 := e.Append(ref, o, []byte("sig"), nil)
	require.Equal(t, engine.StatusDuplicate, r2.Status)

	count, err := e.TreeNodeCount()
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestPermutationIndependentMaterialization(t *testing.T) {
	child := nodeOf(3)
	keyA, err := orderkey.AllocateBetween(nil, nil, []byte{1})
	require.NoError(t, err)
	keyB, err := orderkey.AllocateBetween(nil, nil, []byte{2})
	require.NoError(t, err)

	replicaA := replicaOf(1)
	replicaB := replicaOf(2)

	insertA := op.Op{Insert: &op.Insert{
		Meta:   op.Meta{ID: ids.OpId{Replica: replicaA, Counter: 1}, Lamport: 1},
		Parent: ids.Root, Node: child, Key: keyA,
	}}
	moveB := op.Op{Move: &op.Move{
		Meta:      op.Meta{ID: ids.OpId{Replica: replicaB, Counter: 1}, Lamport: 2},
		Node:      child,
		NewParent: nodeOf(9),
		Key:       keyB,
	}}
	refInsert := ids.DeriveOpRef("doc1", replicaA, 1)
	refMove := ids.DeriveOpRef("doc1", replicaB, 1)

	// Order 1: insert then move.
	e1, err := engine.New("doc1", replicaA, memstore.NewOpStore(), memstore.NewTreeStore())
	require.NoError(t, err)
	e1.Append(refInsert, insertA, nil, nil)
	e1.Append(refMove, moveB, nil, nil)
	n1, ok, err := e1.GetNode(child)
	require.NoError(t, err)
	require.True(t, ok)

	// Order 2: move then insert.
	e2, err := engine.New("doc1", replicaA, memstore.NewOpStore(), memstore.NewTreeStore())
	require.NoError(t, err)
	e2.Append(refMove, moveB, nil, nil)
	e2.Append(refInsert, insertA, nil, nil)
	n2, ok, err := e2.GetNode(child)
	require.NoError(t, err)
	require.True(t, ok)

	require.Equal(t, n1.ParentID, n2.ParentID)
	require.Equal(t, nodeOf(9), n1.ParentID)
}

func TestConcurrentMutualMovesBreakCycleAtLowerPriority(t *testing.T) {
	nodeA := nodeOf(6)
	nodeB := nodeOf(7)
	keyA, err := orderkey.AllocateBetween(nil, nil, []byte{1})
	require.NoError(t, err)
	keyB, err := orderkey.AllocateBetween(nil, nil, []byte{2})
	require.NoError(t, err)

	replicaA := replicaOf(1)
	replicaB := replicaOf(2)

	// Both nodes start out as root children so each has a well-defined
	// prior position before the conflicting moves land.
	insertA := op.Op{Insert: &op.Insert{
		Meta:   op.Meta{ID: ids.OpId{Replica: replicaA, Counter: 1}, Lamport: 1},
		Parent: ids.Root, Node: nodeA, Key: keyA,
	}}
	insertB := op.Op{Insert: &op.Insert{
		Meta:   op.Meta{ID: ids.OpId{Replica: replicaB, Counter: 1}, Lamport: 1},
		Parent: ids.Root, Node: nodeB, Key: keyB,
	}}

	// Concurrent moves pointing at each other: A -> B at lamport 2, B -> A
	// at lamport 3. B's move has strictly higher priority, so A's move is
	// the one that loses the cycle tie-break and materializes under ROOT.
	moveAToB := op.Op{Move: &op.Move{
		Meta:      op.Meta{ID: ids.OpId{Replica: replicaA, Counter: 2}, Lamport: 2},
		Node:      nodeA, NewParent: nodeB, Key: keyA,
	}}
	moveBToA := op.Op{Move: &op.Move{
		Meta:      op.Meta{ID: ids.OpId{Replica: replicaB, Counter: 2}, Lamport: 3},
		Node:      nodeB, NewParent: nodeA, Key: keyB,
	}}

	refs := []struct {
		ref ids.OpRef
		o   op.Op
	}{
		{ids.DeriveOpRef("doc1", replicaA, 1), insertA},
		{ids.DeriveOpRef("doc1", replicaB, 1), insertB},
		{ids.DeriveOpRef("doc1", replicaA, 2), moveAToB},
		{ids.DeriveOpRef("doc1", replicaB, 2), moveBToA},
	}

	// The result must not depend on which order the two moves arrive in.
	orders := [][]int{{0, 1, 2, 3}, {0, 1, 3, 2}, {1, 0, 3, 2}}
	for _, order := range orders {
		e, err := engine.New("doc1", replicaA, memstore.NewOpStore(), memstore.NewTreeStore())
		require.NoError(t, err)
		for _, i := range order {
			e.Append(refs[i].ref, refs[i].o, nil, nil)
		}

		a, ok, err := e.GetNode(nodeA)
		require.NoError(t, err)
		require.True(t, ok)
		require.False(t, a.HasParent, "lower-priority move must lose the cycle and materialize under ROOT, order=%v", order)

		b, ok, err := e.GetNode(nodeB)
		require.NoError(t, err)
		require.True(t, ok)
		require.True(t, b.HasParent)
		require.Equal(t, nodeA, b.ParentID, "higher-priority move keeps its target parent, order=%v", order)
	}
}

func TestDeleteThenLaterMoveReactivates(t *testing.T) {
	e, err := engine.New("doc1", replicaOf(1), memstore.NewOpStore(), memstore.NewTreeStore())
	require.NoError(t, err)

	child := nodeOf(4)
	key, err := orderkey.AllocateBetween(nil, nil, []byte{1})
	require.NoError(t, err)

	replica := replicaOf(1)
	insert := op.Op{Insert: &op.Insert{
		Meta:   op.Meta{ID: ids.OpId{Replica: replica, Counter: 1}, Lamport: 1},
		Parent: ids.Root, Node: child, Key: key,
	}}
	del := op.Op{Delete: &op.Delete{
		Meta: op.Meta{ID: ids.OpId{Replica: replica, Counter: 2}, Lamport: 2},
		Node: child,
	}}
	moveOp := op.Op{Move: &op.Move{
		Meta:      op.Meta{ID: ids.OpId{Replica: replica, Counter: 3}, Lamport: 3},
		Node:      child,
		NewParent: ids.Root,
		Key:       key,
	}}

	e.Append(ids.DeriveOpRef("doc1", replica, 1), insert, nil, nil)
	e.Append(ids.DeriveOpRef("doc1", replica, 2), del, nil, nil)

	node, _, err := e.GetNode(child)
	require.NoError(t, err)
	require.True(t, node.SoftDeleted)

	e.Append(ids.DeriveOpRef("doc1", replica, 3), moveOp, nil, nil)
	node, _, err = e.GetNode(child)
	require.NoError(t, err)
	require.False(t, node.SoftDeleted, "a later, higher-priority move should reactivate a soft-deleted node")
}

func TestChildrenFilterListsRelevantOps(t *testing.T) {
	e, err := engine.New("doc1", replicaOf(1), memstore.NewOpStore(), memstore.NewTreeStore())
	require.NoError(t, err)

	child := nodeOf(5)
	key, err := orderkey.AllocateBetween(nil, nil, []byte{1})
	require.NoError(t, err)
	replica := replicaOf(1)

	insertRef := ids.DeriveOpRef("doc1", replica, 1)
	e.Append(insertRef, op.Op{Insert: &op.Insert{
		Meta:   op.Meta{ID: ids.OpId{Replica: replica, Counter: 1}, Lamport: 1},
		Parent: ids.Root, Node: child, Key: key,
	}}, nil, nil)

	payloadRef := ids.DeriveOpRef("doc1", replica, 2)
	e.Append(payloadRef, op.Op{Payload: &op.Payload{
		Meta:     op.Meta{ID: ids.OpId{Replica: replica, Counter: 2}, Lamport: 2},
		Node:     child,
		Value:    []byte("v"),
		HasValue: true,
	}}, nil, nil)

	refs, err := e.ListOpRefs(engine.ChildrenFilter(ids.Root))
	require.NoError(t, err)
	require.Contains(t, refs, insertRef)
	require.Contains(t, refs, payloadRef)
}
