package ids_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cybersemics/treecrdt-sub003/ids"
)

func TestDeriveOpRefDeterministic(t *testing.T) {
	replica := ids.ReplicaId{0x01, 0x02, 0x03}

	a := ids.DeriveOpRef("doc-1", replica, 7)
	b := ids.DeriveOpRef("doc-1", replica, 7)
	assert.Equal(t, a, b, "derive must be deterministic for identical inputs")
}

func TestDeriveOpRefInjective(t *testing.T) {
	replicaA := ids.ReplicaId{0xaa}
	replicaB := ids.ReplicaId{0xbb}

	seen := map[ids.OpRef]struct{}{}
	inputs := []ids.OpRef{
		ids.DeriveOpRef("doc-1", replicaA, 1),
		ids.DeriveOpRef("doc-1", replicaA, 2),
		ids.DeriveOpRef("doc-2", replicaA, 1),
		ids.DeriveOpRef("doc-1", replicaB, 1),
	}
	for _, ref := range inputs {
		_, dup := seen[ref]
		require.False(t, dup, "opref collision across distinct (doc,replica,counter) inputs")
		seen[ref] = struct{}{}
	}
}

func TestOpRefFromBytesRejectsWrongLength(t *testing.T) {
	_, err := ids.OpRefFromBytes(make([]byte, 15))
	assert.ErrorIs(t, err, ids.ErrOpRefLen)
}

func TestNodeIdReservedValues(t *testing.T) {
	assert.True(t, ids.Root.IsRoot())
	assert.True(t, ids.Trash.IsTrash())
	assert.False(t, ids.Root.IsTrash())
}

func TestReplicaIdLess(t *testing.T) {
	a := ids.ReplicaId{0x01}
	b := ids.ReplicaId{0x02}
	assert.True(t, a.Less(b))
	assert.False(t, b.Less(a))
}
