package auth

import (
	"crypto/ed25519"
	"sync"

	"github.com/cybersemics/treecrdt-sub003/ids"
)

// TrustSet is the local, in-memory set of issuer public keys this replica
// trusts to sign capability tokens. There is no network fetch of trust
// material (out of scope per spec §1's "external collaborator" non-goal);
// callers populate it out of band (config file, pairing flow, etc).
type TrustSet struct {
	mu      sync.RWMutex
	issuers map[ids.ReplicaId]ed25519.PublicKey
}

// NewTrustSet returns an empty trust set.
func NewTrustSet() *TrustSet {
	return &TrustSet{issuers: make(map[ids.ReplicaId]ed25519.PublicKey)}
}

// AddTrustedIssuer registers replica as a trusted token issuer.
func (t *TrustSet) AddTrustedIssuer(replica ids.ReplicaId, pub ed25519.PublicKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.issuers[replica] = pub
}

// RemoveTrustedIssuer revokes trust in replica; tokens it issued are no
// longer verifiable and any cached verdicts derived from them should be
// treated as stale by the caller.
func (t *TrustSet) RemoveTrustedIssuer(replica ids.ReplicaId) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.issuers, replica)
}

// IsTrusted reports whether replica is a currently trusted issuer.
func (t *TrustSet) IsTrusted(replica ids.ReplicaId) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.issuers[replica]
	return ok
}

// PublicKey returns the public key for a trusted issuer, if any.
func (t *TrustSet) PublicKey(replica ids.ReplicaId) (ed25519.PublicKey, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	pub, ok := t.issuers[replica]
	return pub, ok
}
