package auth

import (
	"crypto/ed25519"
	"fmt"

	"github.com/cybersemics/treecrdt-sub003/ids"
	"github.com/cybersemics/treecrdt-sub003/op"
)

// LocalSigner signs locally minted ops with an Ed25519 private key and
// attaches the caller's currently active capability proofRef (if any). It
// satisfies engine.Signer structurally without engine needing to import
// this package.
type LocalSigner struct {
	Private        ed25519.PrivateKey
	ActiveProofRef *ids.OpRef
}

// Sign encodes o canonically (C3) and signs the result.
func (s LocalSigner) Sign(docID string, o op.Op) ([]byte, *ids.OpRef, error) {
	if len(s.Private) != ed25519.PrivateKeySize {
		return nil, nil, fmt.Errorf("auth: local signer has no private key configured")
	}
	canonical, err := op.Encode(docID, o)
	if err != nil {
		return nil, nil, fmt.Errorf("auth: encode op for signing: %w", err)
	}
	sig := ed25519.Sign(s.Private, canonical)
	return sig, s.ActiveProofRef, nil
}

// VerifyOpSignature checks sig against o's canonical encoding under pub —
// used by Append's caller before admitting an op into the log (ops are
// authenticated independently of capability-token authorization).
func VerifyOpSignature(docID string, o op.Op, pub ed25519.PublicKey, sig []byte) bool {
	canonical, err := op.Encode(docID, o)
	if err != nil {
		return false
	}
	return ed25519.Verify(pub, canonical, sig)
}
