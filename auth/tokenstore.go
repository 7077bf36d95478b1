package auth

import (
	"sync"

	"github.com/cybersemics/treecrdt-sub003/ids"
)

// TokenStore resolves a proofRef to a parsed, already-verified capability
// token. Used in proofRef mode (AuthConfig.RequireProofRef) so ops carry a
// 16-byte reference instead of repeating the full token on every op.
type TokenStore interface {
	Put(ref ids.OpRef, token *CapabilityToken)
	Get(ref ids.OpRef) (*CapabilityToken, bool)
}

// MemTokenStore is a mutex-guarded map-backed TokenStore, the default used
// by a single session/process.
type MemTokenStore struct {
	mu     sync.RWMutex
	tokens map[ids.OpRef]*CapabilityToken
}

// NewMemTokenStore returns an empty in-memory TokenStore.
func NewMemTokenStore() *MemTokenStore {
	return &MemTokenStore{tokens: make(map[ids.OpRef]*CapabilityToken)}
}

func (s *MemTokenStore) Put(ref ids.OpRef, token *CapabilityToken) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[ref] = token
}

func (s *MemTokenStore) Get(ref ids.OpRef) (*CapabilityToken, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tokens[ref]
	return t, ok
}
