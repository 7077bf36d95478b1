package auth

import (
	"github.com/cybersemics/treecrdt-sub003/ids"
	"github.com/cybersemics/treecrdt-sub003/internal/xset"
	"github.com/cybersemics/treecrdt-sub003/op"
)

// RequiredActions returns the set of Actions an op must be granted to be
// accepted. Insert additionally requires write_payload when it carries an
// initial payload. For Move this is the action required at the source node;
// see RequiredChecks for the full set of (node, actions) pairs a Move must
// satisfy.
func RequiredActions(o op.Op) []Action {
	switch o.Kind() {
	case op.KindInsert:
		actions := []Action{ActionWriteStructure}
		if o.Insert.HasPayload {
			actions = append(actions, ActionWritePayload)
		}
		return actions
	case op.KindMove:
		return []Action{ActionWriteStructure}
	case op.KindDelete:
		return []Action{ActionDelete}
	case op.KindTombstone:
		return []Action{ActionTombstone}
	case op.KindPayload:
		return []Action{ActionWritePayload}
	default:
		return nil
	}
}

// RequiredCheck pairs a node with the Actions a token must grant at that
// node for an op to be accepted.
type RequiredCheck struct {
	Node    ids.NodeId
	Actions []Action
}

// RequiredChecks returns every (node, actions) pair an op must satisfy.
// Every kind but Move has exactly one, at o.Node(). Move has two: spec
// §4.4 requires write_structure at both the source node and the
// destination parent, since a move is a structural write at both ends.
func RequiredChecks(o op.Op) []RequiredCheck {
	if o.Kind() == op.KindMove {
		return []RequiredCheck{
			{Node: o.Move.Node, Actions: []Action{ActionWriteStructure}},
			{Node: o.Move.NewParent, Actions: []Action{ActionWriteStructure}},
		}
	}
	if actions := RequiredActions(o); actions != nil {
		return []RequiredCheck{{Node: o.Node(), Actions: actions}}
	}
	return nil
}

// inScope reports whether node lies within cap's scope: at or under Root,
// no deeper than MaxDepth, and not within Exclude. depth is the caller's
// count of ancestor hops from Root to node (0 if node == Root).
func inScope(scope Scope, node ids.NodeId, depth uint32) bool {
	if scope.MaxDepth != nil && depth > *scope.MaxDepth {
		return false
	}
	for _, excluded := range scope.Exclude {
		if excluded == node {
			return false
		}
	}
	return true
}

// AncestorDepth is supplied by the engine/tree layer: the number of hops
// from scope.Root down to node, or (0, false) if node is not a descendant
// of scope.Root at all.
type AncestorDepth func(root, node ids.NodeId) (depth uint32, within bool)

// Evaluate is the tri-valued scope evaluator (spec §4.4): it reports
// VerdictAllow if some in-scope capability in token grants every required
// action, VerdictDeny if the token is present and trusted but grants none
// of them, and VerdictUnknown if token is nil (not yet arrived) or its
// scope can't yet be checked against node (depth lookup unavailable).
func Evaluate(token *CapabilityToken, docID string, node ids.NodeId, required []Action, depthOf AncestorDepth) Verdict {
	if token == nil {
		return VerdictUnknown
	}

	for _, grant := range token.Caps {
		if grant.Res.DocID != docID {
			continue
		}
		depth, within := depthOf(grant.Res.Root, node)
		if !within {
			continue
		}
		if !inScope(grant.Res, node, depth) {
			continue
		}
		grantsAll := true
		for _, action := range required {
			if !grant.Allows(action) {
				grantsAll = false
				break
			}
		}
		if grantsAll {
			return VerdictAllow
		}
	}
	return VerdictDeny
}

// PendingOp bundles what the sidecar needs to re-evaluate an op later: the
// op itself plus the proofRef (or raw token bytes) that was attached to it.
type PendingOp struct {
	Ref             ids.OpRef
	Op              op.Op
	ProofRef        *ids.OpRef
	IssuerReplica   ids.ReplicaId
	RequiredActions []Action
}

// Evaluator wires TrustSet + TokenStore + AncestorDepth together and
// implements the pending-sidecar re-evaluation trigger: after a batch of
// newly-reachable nodes is applied, only pending ops whose scope touches
// one of them are re-checked, bounded by MaxPendingReevaluationsPerBatch.
type Evaluator struct {
	Trust          *TrustSet
	Tokens         TokenStore
	DepthOf        AncestorDepth
	RequireProofRef bool
	MaxPendingReevaluationsPerBatch int
}

// EvaluateOp resolves token in one of two modes: inline token bytes, or (if
// cfg.RequireProofRef) a proofRef resolved against the TokenStore. A
// TokenStore miss is VerdictUnknown, not VerdictDeny — the token may simply
// not have arrived yet.
func (e *Evaluator) EvaluateOp(docID string, o op.Op, issuer ids.ReplicaId, proofRef *ids.OpRef, inlineToken []byte) Verdict {
	var token *CapabilityToken
	switch {
	case e.RequireProofRef:
		if proofRef == nil {
			return VerdictUnknown
		}
		t, ok := e.Tokens.Get(*proofRef)
		if !ok {
			return VerdictUnknown
		}
		token = t
	case inlineToken != nil:
		parsed, err := ParseCapabilityToken(inlineToken, e.Trust, issuer)
		if err != nil {
			return VerdictDeny
		}
		token = parsed
	default:
		return VerdictUnknown
	}

	return evaluateChecks(token, docID, RequiredChecks(o), e.DepthOf)
}

// evaluateChecks evaluates every check independently via Evaluate and ANDs
// the per-check verdicts per spec §4.4's combiner: Allow only if every
// check allows; Deny if any check denies (denial always wins); otherwise
// Unknown, since at least one check's scope can't yet be confirmed.
func evaluateChecks(token *CapabilityToken, docID string, checks []RequiredCheck, depthOf AncestorDepth) Verdict {
	combined := VerdictAllow
	for _, c := range checks {
		switch Evaluate(token, docID, c.Node, c.Actions, depthOf) {
		case VerdictDeny:
			return VerdictDeny
		case VerdictUnknown:
			combined = VerdictUnknown
		}
	}
	return combined
}

// ReevaluatePending re-checks every row in pending whose op touches one of
// newlyReachable, returning the subset whose verdict is no longer Unknown
// (callers then Append the Allow rows and drop the Deny rows from the
// sidecar). Rows beyond MaxPendingReevaluationsPerBatch are left untouched
// and will be picked up on a later call.
func (e *Evaluator) ReevaluatePending(docID string, pending []PendingOp, newlyReachable xset.Set[ids.NodeId]) []struct {
	Ref     ids.OpRef
	Verdict Verdict
} {
	var resolved []struct {
		Ref     ids.OpRef
		Verdict Verdict
	}
	checked := 0
	for _, row := range pending {
		if checked >= e.MaxPendingReevaluationsPerBatch {
			break
		}
		if !newlyReachable.Contains(row.Op.Node()) {
			continue
		}
		checked++

		v := e.EvaluateOp(docID, row.Op, row.IssuerReplica, row.ProofRef, nil)
		if v != VerdictUnknown {
			resolved = append(resolved, struct {
				Ref     ids.OpRef
				Verdict Verdict
			}{Ref: row.Ref, Verdict: v})
		}
	}
	return resolved
}
