package syncpeer_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cybersemics/treecrdt-sub003/config"
	"github.com/cybersemics/treecrdt-sub003/engine"
	"github.com/cybersemics/treecrdt-sub003/engine/memstore"
	"github.com/cybersemics/treecrdt-sub003/ids"
	"github.com/cybersemics/treecrdt-sub003/op"
	"github.com/cybersemics/treecrdt-sub003/orderkey"
	"github.com/cybersemics/treecrdt-sub003/syncpeer"
	"github.com/cybersemics/treecrdt-sub003/wire"
)

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

func TestPeerReconciliationConvergesDisjointOps(t *testing.T) {
	docID := "doc1"
	replicaA := replicaOf(1)
	replicaB := replicaOf(2)

	engA, err := engine.New(docID, replicaA, memstore.NewOpStore(), memstore.NewTreeStore())
	require.NoError(t, err)
	engB, err := engine.New(docID, replicaB, memstore.NewOpStore(), memstore.NewTreeStore())
	require.NoError(t, err)

	keyA, err := orderkey.AllocateBetween(nil, nil, []byte{1})
	require.NoError(t, err)
	nodeA := nodeOf(10)
	refA := ids.DeriveOpRef(docID, replicaA, 1)
	engA.Append(refA, op.Op{Insert: &op.Insert{
		Meta:   op.Meta{ID: ids.OpId{Replica: replicaA, Counter: 1}, Lamport: 1},
		Parent: ids.Root, Node: nodeA, Key: keyA,
	}}, []byte("sigA"), nil)

	keyB, err := orderkey.AllocateBetween(nil, nil, []byte{2})
	require.NoError(t, err)
	nodeB := nodeOf(11)
	refB := ids.DeriveOpRef(docID, replicaB, 1)
	engB.Append(refB, op.Op{Insert: &op.Insert{
		Meta:   op.Meta{ID: ids.OpId{Replica: replicaB, Counter: 1}, Lamport: 1},
		Parent: ids.Root, Node: nodeB, Key: keyB,
	}}, []byte("sigB"), nil)

	transA, transB := syncpeer.NewMemTransportPair()
	filters := []syncpeer.FilterSubscription{{Filter: engine.AllFilter()}}
	cfg := config.Default.Peer

	peerA := syncpeer.NewPeer(transA, wire.JSONCodec{}, engA, replicaA, docID, filters, cfg, nil, nil)
	peerB := syncpeer.NewPeer(transB, wire.JSONCodec{}, engB, replicaB, docID, filters, cfg, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	errCh := make(chan error, 2)
	go func() { errCh <- peerA.Run(ctx) }()
	go func() { errCh <- peerB.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()
	<-errCh
	<-errCh

	_, ok, err := engA.GetNode(nodeB)
	require.NoError(t, err)
	require.True(t, ok, "peer A should have learned peer B's insert via reconciliation")

	_, ok, err = engB.GetNode(nodeA)
	require.NoError(t, err)
	require.True(t, ok, "peer B should have learned peer A's insert via reconciliation")
}

func TestPeerHandshakeRejectsDocMismatch(t *testing.T) {
	engA, err := engine.New("doc1", replicaOf(1), memstore.NewOpStore(), memstore.NewTreeStore())
	require.NoError(t, err)
	engB, err := engine.New("doc2", replicaOf(2), memstore.NewOpStore(), memstore.NewTreeStore())
	require.NoError(t, err)

	transA, transB := syncpeer.NewMemTransportPair()
	cfg := config.Default.Peer

	peerA := syncpeer.NewPeer(transA, wire.JSONCodec{}, engA, replicaOf(1), "doc1", nil, cfg, nil, nil)
	peerB := syncpeer.NewPeer(transB, wire.JSONCodec{}, engB, replicaOf(2), "doc2", nil, cfg, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- peerB.Run(ctx) }()

	err = peerA.Run(ctx)
	require.Error(t, err)
	<-errCh
}
