// Package auth implements the capability-token authorization layer (C4):
// Ed25519-signed COSE_Sign1 envelopes carrying CWT claims, a tri-valued
// (allow/deny/unknown) scope evaluator, and the pending-ops sidecar
// integration that re-evaluates ops once their authorizing token arrives.
package auth

import "github.com/cybersemics/treecrdt-sub003/ids"

// Action is one of the closed set of permissions a Capability can grant.
type Action string

const (
	ActionReadStructure  Action = "read_structure"
	ActionReadPayload    Action = "read_payload"
	ActionWriteStructure Action = "write_structure"
	ActionWritePayload   Action = "write_payload"
	ActionDelete         Action = "delete"
	ActionTombstone      Action = "tombstone"
	ActionGrant          Action = "grant"
)

// Scope bounds a Capability to a subtree: every node at or under Root, no
// deeper than MaxDepth (nil means unbounded), excluding any node listed in
// Exclude (and everything under it).
type Scope struct {
	DocID    string
	Root     ids.NodeId
	MaxDepth *uint32
	Exclude  []ids.NodeId
}

// Capability is one (scope, actions) grant inside a token.
type Capability struct {
	Res     Scope
	Actions []Action
}

// Allows reports whether this capability grants action anywhere within its
// scope; callers still need to check scope containment separately.
func (c Capability) Allows(action Action) bool {
	for _, a := range c.Actions {
		if a == action {
			return true
		}
	}
	return false
}

// CapabilityToken is the decoded, signature-verified form of a capability
// token: a CWT whose claims carry a confirmation key and one or more
// Capability grants.
type CapabilityToken struct {
	Audience        string
	ConfirmationKey ids.ReplicaId
	Caps            []Capability
	ExpiresAt       int64 // unix seconds, 0 means no expiry
	IssuedAt        int64
	raw             []byte
}

// Verdict is the tri-valued outcome of evaluating an op against the trust
// set: allow, deny, or unknown (hold in the pending sidecar pending more
// information — an un-arrived token, not a revoked or absent one).
type Verdict int

const (
	VerdictAllow Verdict = iota
	VerdictDeny
	VerdictUnknown
)

func (v Verdict) String() string {
	switch v {
	case VerdictAllow:
		return "allow"
	case VerdictDeny:
		return "deny"
	default:
		return "unknown"
	}
}
