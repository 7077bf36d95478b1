package riblt_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cybersemics/treecrdt-sub003/ids"
	"github.com/cybersemics/treecrdt-sub003/riblt"
)

func mkSymbol(b byte) riblt.Symbol {
	var id ids.OpRef
	id[0] = b
	return riblt.Symbol{ID: id, Checksum: riblt.Checksum(id)}
}

func reconcile(t *testing.T, local, remote []riblt.Symbol, maxCodewords int) *riblt.Decoder {
	t.Helper()
	encRemote := riblt.NewEncoder(remote)
	dec := riblt.NewDecoder(local)

	for i := 0; i < maxCodewords; i++ {
		dec.AddCodedSymbol(encRemote.Next())
		if dec.Decoded() {
			break
		}
	}
	return dec
}

func TestRIBLTReconcilesDisjointSets(t *testing.T) {
	local := []riblt.Symbol{mkSymbol(1), mkSymbol(2)}
	remote := []riblt.Symbol{mkSymbol(1), mkSymbol(3)}

	dec := reconcile(t, local, remote, 64)
	require.True(t, dec.Decoded())
	require.ElementsMatch(t, []ids.OpRef{{2}}, dec.LocalOnly)
	require.ElementsMatch(t, []ids.OpRef{{3}}, dec.RemoteOnly)
}

func TestRIBLTIdenticalSetsConverge(t *testing.T) {
	set := []riblt.Symbol{mkSymbol(1), mkSymbol(2), mkSymbol(3)}
	dec := reconcile(t, set, set, 16)
	require.True(t, dec.Decoded())
	require.Empty(t, dec.LocalOnly)
	require.Empty(t, dec.RemoteOnly)
}
