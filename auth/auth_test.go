package auth_test

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cybersemics/treecrdt-sub003/auth"
	"github.com/cybersemics/treecrdt-sub003/ids"
	"github.com/cybersemics/treecrdt-sub003/op"
	"github.com/cybersemics/treecrdt-sub003/orderkey"
)

func mustReplica(t *testing.T, pub ed25519.PublicKey) ids.ReplicaId {
	t.Helper()
	var r ids.ReplicaId
	copy(r[:], pub)
	return r
}

func TestIssueAndParseCapabilityToken(t *testing.T) {
	issuerPub, issuerPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	issuerReplica := mustReplica(t, issuerPub)

	subjectPub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	subjectReplica := mustReplica(t, subjectPub)

	trust := auth.NewTrustSet()
	trust.AddTrustedIssuer(issuerReplica, issuerPub)

	caps := []auth.Capability{{
		Res:     auth.Scope{DocID: "doc1", Root: ids.Root},
		Actions: []auth.Action{auth.ActionWriteStructure, auth.ActionWritePayload},
	}}

	tokenBytes, err := auth.IssueCapabilityToken(issuerPriv, issuerReplica.String(), "doc1", subjectReplica, caps, 1000, 2000)
	require.NoError(t, err)

	token, err := auth.ParseCapabilityToken(tokenBytes, trust, issuerReplica)
	require.NoError(t, err)
	require.Equal(t, subjectReplica, token.ConfirmationKey)
	require.Len(t, token.Caps, 1)
	require.True(t, token.Caps[0].Allows(auth.ActionWriteStructure))
	require.False(t, token.Caps[0].Allows(auth.ActionDelete))
}

func TestParseCapabilityTokenRejectsUntrustedIssuer(t *testing.T) {
	issuerPub, issuerPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	issuerReplica := mustReplica(t, issuerPub)

	trust := auth.NewTrustSet() // issuer never added

	tokenBytes, err := auth.IssueCapabilityToken(issuerPriv, issuerReplica.String(), "doc1", issuerReplica, nil, 0, 0)
	require.NoError(t, err)

	_, err = auth.ParseCapabilityToken(tokenBytes, trust, issuerReplica)
	require.ErrorIs(t, err, auth.ErrUntrustedIssuer)
}

func alwaysWithin(root, node ids.NodeId) (uint32, bool) { return 0, true }

func TestEvaluateTriValued(t *testing.T) {
	node := ids.NodeId{9}
	required := []auth.Action{auth.ActionWriteStructure}

	require.Equal(t, auth.VerdictUnknown, auth.Evaluate(nil, "doc1", node, required, alwaysWithin))

	grant := &auth.CapabilityToken{Caps: []auth.Capability{{
		Res:     auth.Scope{DocID: "doc1", Root: ids.Root},
		Actions: []auth.Action{auth.ActionWriteStructure},
	}}}
	require.Equal(t, auth.VerdictAllow, auth.Evaluate(grant, "doc1", node, required, alwaysWithin))

	denyToken := &auth.CapabilityToken{Caps: []auth.Capability{{
		Res:     auth.Scope{DocID: "doc1", Root: ids.Root},
		Actions: []auth.Action{auth.ActionReadStructure},
	}}}
	require.Equal(t, auth.VerdictDeny, auth.Evaluate(denyToken, "doc1", node, required, alwaysWithin))
}

func TestEvaluateOpDeniesMoveScopedOnlyToSource(t *testing.T) {
	issuerPub, issuerPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	issuerReplica := mustReplica(t, issuerPub)

	trust := auth.NewTrustSet()
	trust.AddTrustedIssuer(issuerReplica, issuerPub)

	source := ids.NodeId{1}
	dest := ids.NodeId{2}
	key, err := orderkey.AllocateBetween(nil, nil, []byte{1})
	require.NoError(t, err)

	moveOp := op.Op{Move: &op.Move{
		Meta:      op.Meta{ID: ids.OpId{Replica: issuerReplica, Counter: 1}, Lamport: 1},
		Node:      source,
		NewParent: dest,
		Key:       key,
	}}

	// Token only grants write_structure rooted at source, never reaching
	// dest: a token holder should not be able to move a node they can
	// write into a location they have no authority over.
	caps := []auth.Capability{{
		Res:     auth.Scope{DocID: "doc1", Root: source},
		Actions: []auth.Action{auth.ActionWriteStructure},
	}}
	tokenBytes, err := auth.IssueCapabilityToken(issuerPriv, issuerReplica.String(), "doc1", issuerReplica, caps, 0, 0)
	require.NoError(t, err)

	depthOf := func(root, node ids.NodeId) (uint32, bool) {
		if node == source && root == source {
			return 0, true
		}
		return 0, false
	}

	evalr := &auth.Evaluator{Trust: trust, DepthOf: depthOf}
	verdict := evalr.EvaluateOp("doc1", moveOp, issuerReplica, nil, tokenBytes)
	require.Equal(t, auth.VerdictUnknown, verdict, "destination scope can't be confirmed, so the move must not be allowed outright")
}

func TestLocalSignerRoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	signer := auth.LocalSigner{Private: priv}
	replica := mustReplica(t, pub)
	key, err := orderkey.AllocateBetween(nil, nil, []byte{1})
	require.NoError(t, err)

	o := op.Op{Insert: &op.Insert{
		Meta:   op.Meta{ID: ids.OpId{Replica: replica, Counter: 1}, Lamport: 1},
		Parent: ids.Root,
		Node:   ids.NodeId{7},
		Key:    key,
	}}

	sig, proofRef, err := signer.Sign("doc1", o)
	require.NoError(t, err)
	require.Nil(t, proofRef)
	require.True(t, auth.VerifyOpSignature("doc1", o, pub, sig))
	require.False(t, auth.VerifyOpSignature("doc1", o, pub, append([]byte{}, sig[:len(sig)-1]...)))
}
