package wire_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cybersemics/treecrdt-sub003/ids"
	"github.com/cybersemics/treecrdt-sub003/wire"
)

func TestProtobufV0RoundTripHello(t *testing.T) {
	var replica ids.ReplicaId
	replica[0] = 7
	var child ids.NodeId
	child[1] = 2

	msg := wire.SyncMessage{Hello: &wire.Hello{
		Replica: replica,
		DocID:   "doc1",
		Filters: []wire.FilterWire{
			{All: true},
			{HasChildren: true, Children: child},
		},
		HeadLamport: 42,
	}}

	data, err := wire.EncodeProtobufV0(msg)
	require.NoError(t, err)

	decoded, err := wire.DecodeProtobufV0(data)
	require.NoError(t, err)
	require.Equal(t, wire.KindHello, decoded.Kind())
	require.Equal(t, replica, decoded.Hello.Replica)
	require.Equal(t, "doc1", decoded.Hello.DocID)
	require.Equal(t, ids.Lamport(42), decoded.Hello.HeadLamport)
	require.Len(t, decoded.Hello.Filters, 2)
	require.True(t, decoded.Hello.Filters[0].All)
	require.Equal(t, child, decoded.Hello.Filters[1].Children)
}

func TestProtobufV0RoundTripOpsBatch(t *testing.T) {
	var ref ids.OpRef
	ref[0] = 9

	msg := wire.SyncMessage{OpsBatch: &wire.OpsBatch{
		FilterIndex: 1,
		Entries: []wire.OpEntry{
			{Ref: ref, DocID: "doc1", OpBytes: []byte{1, 2, 3}, Signature: []byte{4, 5}},
		},
	}}

	data, err := wire.EncodeProtobufV0(msg)
	require.NoError(t, err)

	decoded, err := wire.DecodeProtobufV0(data)
	require.NoError(t, err)
	require.Equal(t, wire.KindOpsBatch, decoded.Kind())
	require.Len(t, decoded.OpsBatch.Entries, 1)
	require.Equal(t, []byte{1, 2, 3}, decoded.OpsBatch.Entries[0].OpBytes)
	require.Nil(t, decoded.OpsBatch.Entries[0].ProofRef)
}

func TestJSONRoundTripError(t *testing.T) {
	msg := wire.SyncMessage{Error: &wire.Error{Code: "bad_filter", Message: "unknown filter index"}}
	data, err := wire.EncodeJSON(msg)
	require.NoError(t, err)

	decoded, err := wire.DecodeJSON(data)
	require.NoError(t, err)
	require.Equal(t, wire.KindError, decoded.Kind())
	require.Equal(t, "bad_filter", decoded.Error.Code)
}
