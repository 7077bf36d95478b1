package session_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cybersemics/treecrdt-sub003/config"
	"github.com/cybersemics/treecrdt-sub003/engine"
	"github.com/cybersemics/treecrdt-sub003/engine/memstore"
	"github.com/cybersemics/treecrdt-sub003/ids"
	"github.com/cybersemics/treecrdt-sub003/op"
	"github.com/cybersemics/treecrdt-sub003/orderkey"
	"github.com/cybersemics/treecrdt-sub003/session"
	"github.com/cybersemics/treecrdt-sub003/syncpeer"
)

type fakeSigner struct{}

func (fakeSigner) Sign(docID string, o op.Op) ([]byte, *ids.OpRef, error) {
	return []byte("sig"), nil, nil
}

func memFactory() session.EngineFactory {
	return func(docID string) (*engine.Engine, io.Closer, error) {
		e, err := engine.New(docID, replicaOf(1), memstore.NewOpStore(), memstore.NewTreeStore(), engine.WithSigner(fakeSigner{}))
		return e, nil, err
	}
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

func TestOpenCoalescesOnSameDoc(t *testing.T) {
	mgr, err := session.NewManager(config.SessionConfig{IdleClose: time.Minute}, memFactory(), nil, nil)
	require.NoError(t, err)

	ctx := context.Background()
	s1, err := mgr.Open(ctx, "doc1")
	require.NoError(t, err)
	s2, err := mgr.Open(ctx, "doc1")
	require.NoError(t, err)

	require.Same(t, s1.Engine(), s2.Engine())

	s1.Release()
	s2.Release()
}

func TestIdleCloseAfterBothRelease(t *testing.T) {
	mgr, err := session.NewManager(config.SessionConfig{IdleClose: 20 * time.Millisecond}, memFactory(), nil, nil)
	require.NoError(t, err)

	ctx := context.Background()
	s1, err := mgr.Open(ctx, "doc1")
	require.NoError(t, err)
	s2, err := mgr.Open(ctx, "doc1")
	require.NoError(t, err)

	s1.Release()
	s2.Release()

	time.Sleep(80 * time.Millisecond)

	s3, err := mgr.Open(ctx, "doc1")
	require.NoError(t, err)
	require.NotSame(t, s1.Engine(), s3.Engine(), "idle-close should have torn down the old engine and Open should create a fresh one")
	s3.Release()
}

func TestReopenBeforeIdleTimerCancelsClose(t *testing.T) {
	mgr, err := session.NewManager(config.SessionConfig{IdleClose: 50 * time.Millisecond}, memFactory(), nil, nil)
	require.NoError(t, err)

	ctx := context.Background()
	s1, err := mgr.Open(ctx, "doc1")
	require.NoError(t, err)
	s1.Release()

	s2, err := mgr.Open(ctx, "doc1")
	require.NoError(t, err)
	require.Same(t, s1.Engine(), s2.Engine())

	time.Sleep(80 * time.Millisecond)
	node, ok, err := s2.Engine().GetNode(ids.Root)
	_ = node
	_ = ok
	require.NoError(t, err, "engine must still be usable past the original idle deadline since it was reopened")

	s2.Release()
}

func TestReleaseIsIdempotent(t *testing.T) {
	mgr, err := session.NewManager(config.SessionConfig{}, memFactory(), nil, nil)
	require.NoError(t, err)

	s, err := mgr.Open(context.Background(), "doc1")
	require.NoError(t, err)
	s.Release()
	require.NotPanics(t, func() { s.Release() })
}

// fakePeer is a lightweight session.Peer used to exercise NotifyLocalUpdate
// without a real transport.
type fakePeer struct {
	docID   string
	filters []syncpeer.FilterSubscription
	got     []engine.StoredOp
}

func (f *fakePeer) DocID() string                               { return f.docID }
func (f *fakePeer) Filters() []syncpeer.FilterSubscription       { return f.filters }
func (f *fakePeer) NotifyOps(_ context.Context, _ uint32, stored []engine.StoredOp) error {
	f.got = append(f.got, stored...)
	return nil
}

func TestNotifyLocalUpdateFansOutToSubscribedPeers(t *testing.T) {
	mgr, err := session.NewManager(config.SessionConfig{}, memFactory(), nil, nil)
	require.NoError(t, err)

	s, err := mgr.Open(context.Background(), "doc1")
	require.NoError(t, err)
	defer s.Release()

	peer := &fakePeer{
		docID:   "doc1",
		filters: []syncpeer.FilterSubscription{{Filter: engine.AllFilter(), Subscribe: true}},
	}
	s.AttachPeer(peer)

	key, err := orderkey.AllocateBetween(nil, nil, []byte{1})
	require.NoError(t, err)
	ref, err := s.Engine().LocalInsert(context.Background(), nodeOf(2), ids.Root, key, nil, false)
	require.NoError(t, err)

	s.NotifyLocalUpdate(context.Background(), []engine.ApplyResult{{Ref: ref, Status: engine.StatusApplied}})

	require.Len(t, peer.got, 1)
	require.Equal(t, ref, peer.got[0].Ref)

	s.DetachPeer(peer)
	peer.got = nil
	ref2, err := s.Engine().LocalInsert(context.Background(), nodeOf(3), ids.Root, key, nil, false)
	require.NoError(t, err)
	s.NotifyLocalUpdate(context.Background(), []engine.ApplyResult{{Ref: ref2, Status: engine.StatusApplied}})
	require.Empty(t, peer.got, "detached peer must not be notified")
}
