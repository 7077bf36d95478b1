package engine

import (
	"sort"

	"go.uber.org/zap"

	"github.com/cybersemics/treecrdt-sub003/ids"
	"github.com/cybersemics/treecrdt-sub003/op"
	"github.com/cybersemics/treecrdt-sub003/orderkey"
)

// parentCandidate is one Insert or Move op competing to set a node's
// materialized parent. Candidates are kept sorted ascending by priority so
// the last entry is always the current winner and, for any candidate other
// than the lowest-priority one, its immediate predecessor in the sort order
// is well-defined purely as a function of the final candidate set — this
// keeps "moves to or from this parent" (spec §4.5) a pure function of the
// op set rather than of arrival order.
type parentCandidate struct {
	pr     priority
	ref    ids.OpRef
	isMove bool
	target ids.NodeId
	key    orderkey.Key
}

// nodeRegister is the in-memory bookkeeping Engine keeps per node to
// support incremental, order-independent materialization. It is rebuilt
// from the op log at startup and updated incrementally thereafter; it is
// never itself persisted.
type nodeRegister struct {
	parentCandidates []parentCandidate

	hasDelete      bool
	bestDeletePr   priority
	deleteRef      ids.OpRef
	deleteKnownSet map[ids.ReplicaId]uint64

	tombstoned bool

	hasPayload   bool
	bestPayloadPr priority
	payloadHasValue bool
	payloadValue    []byte
	payloadRef      ids.OpRef

	// opsTouching indexes every op (by ref) whose Node() is this node,
	// regardless of kind — used to satisfy the children filter's
	// "payload/delete/tombstone on a node whose current parent is this
	// one" clause.
	opsTouching []ids.OpRef
}

// insertParentCandidate adds c and re-establishes ascending-priority order.
// Candidate counts per node are small in practice (concurrent writers to
// one node), so a full re-sort on each insert keeps this simple and correct
// rather than maintaining insertion-point bookkeeping.
func (r *nodeRegister) insertParentCandidate(c parentCandidate) {
	r.parentCandidates = append(r.parentCandidates, c)
	sort.Slice(r.parentCandidates, func(i, j int) bool {
		return r.parentCandidates[j].pr.higher(r.parentCandidates[i].pr)
	})
}

func (r *nodeRegister) winner() (parentCandidate, bool) {
	if len(r.parentCandidates) == 0 {
		return parentCandidate{}, false
	}
	return r.parentCandidates[len(r.parentCandidates)-1], true
}

// predecessorTarget returns the target of the candidate immediately below c
// in priority order — the "prior parent" a Move candidate is considered to
// have moved the node away from.
func (r *nodeRegister) predecessorTarget(ref ids.OpRef) (ids.NodeId, bool) {
	for i, c := range r.parentCandidates {
		if c.ref == ref && i > 0 {
			return r.parentCandidates[i-1].target, true
		}
	}
	return ids.NodeId{}, false
}

// recomputeMaterialized derives the current MaterializedNode for a node
// from its register.
func (e *Engine) recomputeMaterialized(node ids.NodeId, reg *nodeRegister) MaterializedNode {
	m := MaterializedNode{Node: node}

	w, hasWinner := reg.winner()
	if hasWinner {
		if target, hasParent := e.resolveParent(node); hasParent {
			m.HasParent = true
			m.ParentID = target
			m.Key = w.key
		}
		// else: node's winning move lost the cycle tie-break and
		// materializes under ROOT (spec §3) — m.HasParent stays false.
	}

	if reg.hasDelete && !(hasWinner && w.pr.higher(reg.bestDeletePr)) {
		m.SoftDeleted = true
	}
	m.Tombstoned = reg.tombstoned

	if reg.hasPayload {
		m.LastPayloadWriterOpRef = reg.payloadRef
		if reg.payloadHasValue {
			m.HasPayload = true
			m.Payload = reg.payloadValue
		}
	}

	return m
}

// naiveParent returns node's winning parent candidate without regard to
// cycles: the target and priority of reg.winner(), or ok=false if node has
// no parent candidate at all.
func (e *Engine) naiveParent(node ids.NodeId) (target ids.NodeId, pr priority, ok bool) {
	reg, exists := e.registers[node]
	if !exists {
		return ids.NodeId{}, priority{}, false
	}
	w, hasWinner := reg.winner()
	if !hasWinner {
		return ids.NodeId{}, priority{}, false
	}
	return w.target, w.pr, true
}

// chainReaches reports whether walking naiveParent from start eventually
// lands on target, bounded by the number of registered nodes so a bug
// elsewhere can't spin this forever.
func (e *Engine) chainReaches(start, target ids.NodeId) bool {
	cur := start
	for i := 0; i <= len(e.registers); i++ {
		if cur == target {
			return true
		}
		next, _, ok := e.naiveParent(cur)
		if !ok {
			return false
		}
		cur = next
	}
	return false
}

func weakerPriority(a, b priority) priority {
	if a.higher(b) {
		return b
	}
	return a
}

// resolveParent computes node's materialized parent from the naive
// winner-parent graph, breaking any cycle the winning move(s) would
// otherwise form. A cycle is broken by the tie-break rule of spec §3: among
// every edge on the cycle, the one with the lowest (lamport, replica,
// counter) priority loses, and that edge's source materializes under ROOT
// instead of its naive target. Every node on the cycle runs this same walk
// over the same edge set, so the loser is picked consistently regardless of
// which node's refresh happens to run it.
func (e *Engine) resolveParent(node ids.NodeId) (ids.NodeId, bool) {
	target, pr, ok := e.naiveParent(node)
	if !ok {
		return ids.NodeId{}, false
	}
	if target == node {
		return ids.NodeId{}, false
	}
	if !e.chainReaches(target, node) {
		return target, true
	}

	weakest := pr
	cur := target
	for i := 0; i <= len(e.registers) && cur != node; i++ {
		_, curPr, curOk := e.naiveParent(cur)
		if !curOk {
			break
		}
		weakest = weakerPriority(weakest, curPr)
		cur, _, _ = e.naiveParent(cur)
	}
	if weakest == pr {
		return ids.NodeId{}, false
	}
	return target, true
}

// incorporateOp folds one accepted op into the node register(s) it touches
// and refreshes derived index structures. It is the sole mutation path for
// materialization and is safe to call in any order across a set of ops: the
// result after incorporating a set is independent of the order ops arrive
// in, by construction (every register update is a commutative "track the
// max priority candidate" reduction).
func (e *Engine) incorporateOp(ref ids.OpRef, o op.Op) {
	switch o.Kind() {
	case op.KindInsert:
		in := o.Insert
		pr := priorityOf(in.Meta)
		reg := e.registerFor(in.Node)
		reg.insertParentCandidate(parentCandidate{pr: pr, ref: ref, isMove: false, target: in.Parent, key: in.Key})
		reg.opsTouching = append(reg.opsTouching, ref)
		if in.HasPayload {
			e.considerPayload(reg, pr, ref, true, in.Payload)
		}
		e.indexInsertParent(in.Parent, ref)
		e.refreshNode(in.Node)

	case op.KindMove:
		mv := o.Move
		pr := priorityOf(mv.Meta)
		reg := e.registerFor(mv.Node)
		reg.insertParentCandidate(parentCandidate{pr: pr, ref: ref, isMove: true, target: mv.NewParent, key: mv.Key})
		reg.opsTouching = append(reg.opsTouching, ref)
		e.indexMoveToParent(mv.NewParent, ref)
		e.refreshNode(mv.Node)
		e.refreshMovesFrom(mv.Node)

	case op.KindDelete:
		del := o.Delete
		pr := priorityOf(del.Meta)
		reg := e.registerFor(del.Node)
		reg.opsTouching = append(reg.opsTouching, ref)
		if !reg.hasDelete || pr.higher(reg.bestDeletePr) {
			reg.hasDelete = true
			reg.bestDeletePr = pr
			reg.deleteRef = ref
			reg.deleteKnownSet = decodeKnownState(del.Meta.KnownState)
		}
		if e.hasUnknownConcurrentWrite(del.Node, reg.deleteKnownSet) {
			reg.tombstoned = true
		}
		e.refreshNode(del.Node)

	case op.KindTombstone:
		ts := o.Tombstone
		reg := e.registerFor(ts.Node)
		reg.tombstoned = true
		reg.opsTouching = append(reg.opsTouching, ref)
		e.refreshNode(ts.Node)

	case op.KindPayload:
		pl := o.Payload
		pr := priorityOf(pl.Meta)
		reg := e.registerFor(pl.Node)
		reg.opsTouching = append(reg.opsTouching, ref)
		e.considerPayload(reg, pr, ref, pl.HasValue, pl.Value)
		e.refreshNode(pl.Node)
	}
}

func (e *Engine) considerPayload(reg *nodeRegister, pr priority, ref ids.OpRef, hasValue bool, value []byte) {
	if !reg.hasPayload || pr.higher(reg.bestPayloadPr) {
		reg.hasPayload = true
		reg.bestPayloadPr = pr
		reg.payloadHasValue = hasValue
		reg.payloadValue = value
		reg.payloadRef = ref
	}
}

// registerFor returns (creating if absent) the nodeRegister for a node.
func (e *Engine) registerFor(n ids.NodeId) *nodeRegister {
	reg, ok := e.registers[n]
	if !ok {
		reg = &nodeRegister{}
		e.registers[n] = reg
	}
	return reg
}

// refreshNode recomputes and persists the MaterializedNode for n, keeping
// childrenByParent in sync with the winning parent.
func (e *Engine) refreshNode(n ids.NodeId) {
	reg := e.registerFor(n)
	prevNode, existed, _ := e.treeStore.GetNode(n)

	m := e.recomputeMaterialized(n, reg)
	if existed && prevNode.HasParent && (!m.HasParent || prevNode.ParentID != m.ParentID) {
		e.removeFromChildrenIndex(prevNode.ParentID, n)
	}
	if m.HasParent {
		e.addToChildrenIndex(m.ParentID, n)
	}

	if err := e.treeStore.PutNode(m); err != nil {
		e.log.Error("engine: persist materialized node failed", zap.String("node", n.String()), zap.Error(err))
	}
}

// refreshMovesFrom recomputes the "moves away from parent P" index
// contribution for every Move candidate on n, since inserting a new
// candidate can change any existing candidate's predecessor.
func (e *Engine) refreshMovesFrom(n ids.NodeId) {
	reg := e.registerFor(n)
	// Clear this node's prior contributions.
	for parent, refs := range e.movesFromParent {
		filtered := refs[:0]
		for _, r := range refs {
			if _, belongs := e.moveRefNode[r]; !belongs || e.moveRefNode[r] != n {
				filtered = append(filtered, r)
			}
		}
		e.movesFromParent[parent] = filtered
	}
	for _, c := range reg.parentCandidates {
		if !c.isMove {
			continue
		}
		e.moveRefNode[c.ref] = n
		if prior, ok := reg.predecessorTarget(c.ref); ok {
			e.movesFromParent[prior] = append(e.movesFromParent[prior], c.ref)
		}
	}
}

func (e *Engine) indexInsertParent(parent ids.NodeId, ref ids.OpRef) {
	e.insertsByParent[parent] = append(e.insertsByParent[parent], ref)
}

func (e *Engine) indexMoveToParent(parent ids.NodeId, ref ids.OpRef) {
	e.movesToParent[parent] = append(e.movesToParent[parent], ref)
}

func (e *Engine) addToChildrenIndex(parent, child ids.NodeId) {
	set := e.childrenByParent[parent]
	if set == nil {
		set = make(map[ids.NodeId]struct{})
		e.childrenByParent[parent] = set
	}
	set[child] = struct{}{}
}

func (e *Engine) removeFromChildrenIndex(parent, child ids.NodeId) {
	if set, ok := e.childrenByParent[parent]; ok {
		delete(set, child)
	}
}

// decodeKnownState parses the version-vector byte layout used by Delete's
// KnownState: a sequence of (replica[32] ‖ u64be(counter)) pairs sorted by
// replica ascending (spec §9 open question, resolved in SPEC_FULL.md).
func decodeKnownState(b []byte) map[ids.ReplicaId]uint64 {
	out := make(map[ids.ReplicaId]uint64)
	const entryLen = ids.ReplicaIDLen + 8
	for off := 0; off+entryLen <= len(b); off += entryLen {
		var r ids.ReplicaId
		copy(r[:], b[off:off+ids.ReplicaIDLen])
		counter := beUint64(b[off+ids.ReplicaIDLen : off+entryLen])
		out[r] = counter
	}
	return out
}

// EncodeKnownState is the inverse of decodeKnownState, exposed so callers
// minting Delete ops can build a well-formed KnownState blob.
func EncodeKnownState(vector map[ids.ReplicaId]uint64) []byte {
	replicas := make([]ids.ReplicaId, 0, len(vector))
	for r := range vector {
		replicas = append(replicas, r)
	}
	sort.Slice(replicas, func(i, j int) bool { return replicas[i].Less(replicas[j]) })

	out := make([]byte, 0, len(replicas)*(ids.ReplicaIDLen+8))
	for _, r := range replicas {
		out = append(out, r[:]...)
		out = append(out, beBytes(vector[r])...)
	}
	return out
}

func beUint64(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

func beBytes(v uint64) []byte {
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}

// hasUnknownConcurrentWrite reports whether any op touching node or a
// structural descendant of node (by current winning parent, ignoring
// delete/tombstone status to avoid circularity) comes from a replica/counter
// pair not covered by knownSet.
func (e *Engine) hasUnknownConcurrentWrite(node ids.NodeId, knownSet map[ids.ReplicaId]uint64) bool {
	for _, n := range e.subtreeNodes(node) {
		reg, ok := e.registers[n]
		if !ok {
			continue
		}
		for _, c := range reg.parentCandidates {
			if exceedsKnown(c.pr, knownSet) {
				return true
			}
		}
		if reg.hasPayload && exceedsKnown(reg.bestPayloadPr, knownSet) {
			return true
		}
	}
	return false
}

func exceedsKnown(pr priority, knownSet map[ids.ReplicaId]uint64) bool {
	seen, ok := knownSet[pr.replica]
	if !ok {
		return true
	}
	return pr.counter > seen
}

// subtreeNodes returns node and every descendant reachable via the current
// winning parent pointers (childrenByParent), breadth-first.
func (e *Engine) subtreeNodes(node ids.NodeId) []ids.NodeId {
	out := []ids.NodeId{node}
	queue := []ids.NodeId{node}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for child := range e.childrenByParent[cur] {
			out = append(out, child)
			queue = append(queue, child)
		}
	}
	return out
}
