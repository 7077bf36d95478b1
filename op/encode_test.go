package op_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cybersemics/treecrdt-sub003/ids"
	"github.com/cybersemics/treecrdt-sub003/op"
	"github.com/cybersemics/treecrdt-sub003/orderkey"
)

func testMeta() op.Meta {
	return op.Meta{
		ID:      ids.OpId{Replica: ids.ReplicaId{0x01, 0x02}, Counter: 5},
		Lamport: 9,
	}
}

func TestEncodeDecodeRoundTripAllKinds(t *testing.T) {
	node := ids.NodeId{0xaa}
	parent := ids.NodeId{0xbb}
	key := orderkey.Key{1, 2}

	cases := map[string]op.Op{
		"insert-no-payload": {Insert: &op.Insert{Meta: testMeta(), Parent: parent, Node: node, Key: key}},
		"insert-payload":    {Insert: &op.Insert{Meta: testMeta(), Parent: parent, Node: node, Key: key, HasPayload: true, Payload: []byte("hi")}},
		"move":              {Move: &op.Move{Meta: testMeta(), Node: node, NewParent: parent, Key: key}},
		"delete": {Delete: &op.Delete{Meta: func() op.Meta {
			m := testMeta()
			m.KnownState = []byte{1, 2, 3}
			return m
		}(), Node: node}},
		"tombstone":     {Tombstone: &op.Tombstone{Meta: testMeta(), Node: node}},
		"payload-set":   {Payload: &op.Payload{Meta: testMeta(), Node: node, HasValue: true, Value: []byte{0x61}}},
		"payload-clear": {Payload: &op.Payload{Meta: testMeta(), Node: node, HasValue: true, Value: nil}},
	}

	for name, o := range cases {
		t.Run(name, func(t *testing.T) {
			encoded, err := op.Encode("doc-1", o)
			require.NoError(t, err)

			docID, decoded, err := op.Decode(encoded)
			require.NoError(t, err)
			assert.Equal(t, "doc-1", docID)
			assert.Equal(t, o.Kind(), decoded.Kind())

			reencoded, err := op.Encode(docID, decoded)
			require.NoError(t, err)
			assert.Equal(t, encoded, reencoded, "decode(encode(op)) must re-encode byte-for-byte")
		})
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	o := op.Op{Insert: &op.Insert{Meta: testMeta(), Parent: ids.Root, Node: ids.NodeId{0x01}, Key: orderkey.Key{5}}}
	a, err := op.Encode("doc", o)
	require.NoError(t, err)
	b, err := op.Encode("doc", o)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestDecodeRejectsTruncatedInput(t *testing.T) {
	_, _, err := op.Decode([]byte("too short"))
	assert.Error(t, err)
}

func TestDecodeRejectsTrailingBytes(t *testing.T) {
	o := op.Op{Tombstone: &op.Tombstone{Meta: testMeta(), Node: ids.NodeId{0x01}}}
	encoded, err := op.Encode("doc", o)
	require.NoError(t, err)

	_, _, err = op.Decode(append(encoded, 0xff))
	assert.Error(t, err)
}
