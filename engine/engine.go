package engine

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/cybersemics/treecrdt-sub003/ids"
	"github.com/cybersemics/treecrdt-sub003/metrics"
	"github.com/cybersemics/treecrdt-sub003/obslog"
	"github.com/cybersemics/treecrdt-sub003/op"
	"github.com/cybersemics/treecrdt-sub003/orderkey"
)

// Signer abstracts C4's signing surface so engine can mint locally authored
// ops without importing auth directly (auth imports engine for StoredOp,
// so the dependency must run this direction to avoid a cycle).
type Signer interface {
	Sign(docID string, o op.Op) (sig []byte, proofRef *ids.OpRef, err error)
}

// Engine is the per-document op-log and materialized tree (C5). All
// mutation — whether a locally minted op or an incoming batch from sync —
// goes through Append/ApplyOps, which serialize on mu: the spec's "one
// apply queue per document" (spec §5).
type Engine struct {
	DocID string

	ops       OpStore
	treeStore TreeStore
	signer    Signer
	log       obslog.Logger
	metrics   *metrics.Engine

	replica ids.ReplicaId

	mu                sync.Mutex
	headLamport       ids.Lamport
	replicaMaxCounter map[ids.ReplicaId]uint64

	registers        map[ids.NodeId]*nodeRegister
	childrenByParent map[ids.NodeId]map[ids.NodeId]struct{}
	insertsByParent  map[ids.NodeId][]ids.OpRef
	movesToParent    map[ids.NodeId][]ids.OpRef
	movesFromParent  map[ids.NodeId][]ids.OpRef
	moveRefNode      map[ids.OpRef]ids.NodeId
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithLogger overrides the no-op default logger.
func WithLogger(l obslog.Logger) Option { return func(e *Engine) { e.log = l } }

// WithMetrics attaches a metrics bundle.
func WithMetrics(m *metrics.Engine) Option { return func(e *Engine) { e.metrics = m } }

// WithSigner attaches the local minting signer (required before any
// local.* call succeeds; sync-only engines may omit it).
func WithSigner(s Signer) Option { return func(e *Engine) { e.signer = s } }

// New constructs an Engine over the given document, backend stores, and
// local replica identity, then replays the existing op log (if any) to
// rebuild in-memory materialization state. This makes the materialized
// view fully derivable from OpStore alone, regardless of backend.
func New(docID string, replica ids.ReplicaId, ops OpStore, tree TreeStore, opts ...Option) (*Engine, error) {
	e := &Engine{
		DocID:             docID,
		ops:               ops,
		treeStore:         tree,
		replica:           replica,
		log:               obslog.NoOp{},
		replicaMaxCounter: make(map[ids.ReplicaId]uint64),
		registers:         make(map[ids.NodeId]*nodeRegister),
		childrenByParent:  make(map[ids.NodeId]map[ids.NodeId]struct{}),
		insertsByParent:   make(map[ids.NodeId][]ids.OpRef),
		movesToParent:     make(map[ids.NodeId][]ids.OpRef),
		movesFromParent:   make(map[ids.NodeId][]ids.OpRef),
		moveRefNode:       make(map[ids.OpRef]ids.NodeId),
	}
	for _, opt := range opts {
		opt(e)
	}

	refs, err := ops.AllRefs()
	if err != nil {
		return nil, fmt.Errorf("engine: replay: list refs: %w", err)
	}
	for _, ref := range refs {
		entry, ok, err := ops.Get(ref)
		if err != nil {
			return nil, fmt.Errorf("engine: replay: get %s: %w", ref, err)
		}
		if !ok {
			continue
		}
		e.observeCounters(entry.Op)
		e.incorporateOp(entry.Ref, entry.Op)
	}
	e.log.Debug("engine: replayed op log", zap.Int("op_count", len(refs)), zap.String("doc_id", docID))
	return e, nil
}

func (e *Engine) observeCounters(o op.Op) {
	meta := o.Meta()
	if meta.Lamport > e.headLamport {
		e.headLamport = meta.Lamport
	}
	if meta.ID.Counter > e.replicaMaxCounter[meta.ID.Replica] {
		e.replicaMaxCounter[meta.ID.Replica] = meta.ID.Counter
	}
}

// HeadLamport returns the highest Lamport value observed so far.
func (e *Engine) HeadLamport() ids.Lamport {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.headLamport
}

// nextLamport advances and returns the Lamport clock for a locally minted
// op: max(headLamport, externally observed) + 1. Callers hold mu.
func (e *Engine) nextLamport() ids.Lamport {
	e.headLamport++
	return e.headLamport
}

// nextCounter returns the next per-replica counter for the local replica.
// Callers hold mu.
func (e *Engine) nextCounter() uint64 {
	e.replicaMaxCounter[e.replica]++
	return e.replicaMaxCounter[e.replica]
}

// Append validates, deduplicates, and incorporates one already-signed op
// (typically arriving from sync). It is idempotent: re-appending a known
// opRef reports StatusDuplicate rather than erroring.
func (e *Engine) Append(ref ids.OpRef, o op.Op, signature []byte, proofRef *ids.OpRef) ApplyResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	want := ids.DeriveOpRef(e.DocID, o.Meta().ID.Replica, o.Meta().ID.Counter)
	if want != ref {
		if e.metrics != nil {
			e.metrics.MalformedOps.Inc()
		}
		return ApplyResult{Ref: ref, Status: StatusMalformed, Err: fmt.Errorf("engine: opRef mismatch for replica %s counter %d", o.Meta().ID.Replica, o.Meta().ID.Counter)}
	}

	existed, err := e.ops.Put(StoredOp{Ref: ref, Op: o, Signature: signature, ProofRef: proofRef})
	if err != nil {
		if e.metrics != nil {
			e.metrics.MalformedOps.Inc()
		}
		return ApplyResult{Ref: ref, Status: StatusMalformed, Err: err}
	}
	if existed {
		if e.metrics != nil {
			e.metrics.DuplicateOps.Inc()
		}
		return ApplyResult{Ref: ref, Status: StatusDuplicate}
	}

	e.observeCounters(o)
	e.incorporateOp(ref, o)
	if e.metrics != nil {
		e.metrics.AppliedOps.Inc()
	}
	return ApplyResult{Ref: ref, Status: StatusApplied}
}

// ApplyOps appends a batch, in the order given, reporting one ApplyResult
// per op. The order within a batch does not affect the resulting
// materialized tree (spec §5's permutation independence), only the
// opportunity for later ops in the same batch to build on earlier ones'
// index updates.
func (e *Engine) ApplyOps(refs []ids.OpRef, ops []op.Op, sigs [][]byte, proofRefs []*ids.OpRef) []ApplyResult {
	out := make([]ApplyResult, len(ops))
	for i := range ops {
		out[i] = e.Append(refs[i], ops[i], sigs[i], proofRefs[i])
	}
	return out
}

// GetOpsByOpRefs looks up a batch of opRefs, skipping any not present.
func (e *Engine) GetOpsByOpRefs(refs []ids.OpRef) ([]StoredOp, error) {
	out := make([]StoredOp, 0, len(refs))
	for _, ref := range refs {
		entry, ok, err := e.ops.Get(ref)
		if err != nil {
			return nil, fmt.Errorf("engine: get %s: %w", ref, err)
		}
		if ok {
			out = append(out, entry)
		}
	}
	return out, nil
}

// ListOpRefs implements the two filter shapes from spec §4.5: {all} and
// {children: parent}.
func (e *Engine) ListOpRefs(filter Filter) ([]ids.OpRef, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if filter.All {
		return e.ops.AllRefs()
	}
	return e.childrenOpRefs(filter.Children), nil
}

func (e *Engine) childrenOpRefs(parent ids.NodeId) []ids.OpRef {
	seen := make(map[ids.OpRef]struct{})
	var out []ids.OpRef
	add := func(refs []ids.OpRef) {
		for _, r := range refs {
			if _, dup := seen[r]; !dup {
				seen[r] = struct{}{}
				out = append(out, r)
			}
		}
	}

	add(e.insertsByParent[parent])
	add(e.movesToParent[parent])
	add(e.movesFromParent[parent])

	for child := range e.childrenByParent[parent] {
		if reg, ok := e.registers[child]; ok {
			add(reg.opsTouching)
		}
	}
	if reg, ok := e.registers[parent]; ok && reg.hasPayload {
		add([]ids.OpRef{reg.payloadRef})
	}

	return out
}

// OpsSince returns every stored op whose Lamport exceeds since, used by
// sync to serve a coarse catch-up batch outside full RIBLT reconciliation.
func (e *Engine) OpsSince(since ids.Lamport) ([]StoredOp, error) {
	refs, err := e.ops.AllRefs()
	if err != nil {
		return nil, err
	}
	var out []StoredOp
	for _, ref := range refs {
		entry, ok, err := e.ops.Get(ref)
		if err != nil {
			return nil, err
		}
		if ok && entry.Op.Meta().Lamport > since {
			out = append(out, entry)
		}
	}
	return out, nil
}

// mintLocal assigns (lamport, counter), signs via e.signer, stores, and
// incorporates o. Callers hold mu and have already populated o's
// Node/Parent/Key/etc fields; this fills in Meta and the opRef.
func (e *Engine) mintLocal(build func(meta op.Meta) op.Op) (ids.OpRef, StoredOp, error) {
	if e.signer == nil {
		return ids.OpRef{}, StoredOp{}, fmt.Errorf("engine: no signer configured, cannot mint local ops")
	}

	counter := e.nextCounter()
	lamport := e.nextLamport()
	meta := op.Meta{ID: ids.OpId{Replica: e.replica, Counter: counter}, Lamport: lamport}
	o := build(meta)

	ref := ids.DeriveOpRef(e.DocID, e.replica, counter)
	sig, proofRef, err := e.signer.Sign(e.DocID, o)
	if err != nil {
		return ids.OpRef{}, StoredOp{}, fmt.Errorf("engine: sign local op: %w", err)
	}

	entry := StoredOp{Ref: ref, Op: o, Signature: sig, ProofRef: proofRef}
	if _, err := e.ops.Put(entry); err != nil {
		return ids.OpRef{}, StoredOp{}, fmt.Errorf("engine: store local op: %w", err)
	}
	e.observeCounters(o)
	e.incorporateOp(ref, o)
	if e.metrics != nil {
		e.metrics.AppliedOps.Inc()
	}
	return ref, entry, nil
}

// LocalInsert mints an Insert op creating node under parent at key, with an
// optional initial payload.
func (e *Engine) LocalInsert(ctx context.Context, node, parent ids.NodeId, key orderkey.Key, payload []byte, hasPayload bool) (ids.OpRef, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ref, _, err := e.mintLocal(func(meta op.Meta) op.Op {
		return op.Op{Insert: &op.Insert{Meta: meta, Parent: parent, Node: node, Key: key, Payload: payload, HasPayload: hasPayload}}
	})
	return ref, err
}

// LocalMove mints a Move op reparenting node under newParent at key.
func (e *Engine) LocalMove(ctx context.Context, node, newParent ids.NodeId, key orderkey.Key) (ids.OpRef, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ref, _, err := e.mintLocal(func(meta op.Meta) op.Op {
		return op.Op{Move: &op.Move{Meta: meta, Node: node, NewParent: newParent, Key: key}}
	})
	return ref, err
}

// LocalDelete mints a Delete op for node relative to knownState.
func (e *Engine) LocalDelete(ctx context.Context, node ids.NodeId, knownState map[ids.ReplicaId]uint64) (ids.OpRef, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	encoded := EncodeKnownState(knownState)
	ref, _, err := e.mintLocal(func(meta op.Meta) op.Op {
		meta.KnownState = encoded
		return op.Op{Delete: &op.Delete{Meta: meta, Node: node}}
	})
	return ref, err
}

// LocalTombstone mints a Tombstone op for node.
func (e *Engine) LocalTombstone(ctx context.Context, node ids.NodeId) (ids.OpRef, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ref, _, err := e.mintLocal(func(meta op.Meta) op.Op {
		return op.Op{Tombstone: &op.Tombstone{Meta: meta, Node: node}}
	})
	return ref, err
}

// LocalPayload mints a Payload op replacing node's payload.
func (e *Engine) LocalPayload(ctx context.Context, node ids.NodeId, value []byte, hasValue bool) (ids.OpRef, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ref, _, err := e.mintLocal(func(meta op.Meta) op.Op {
		return op.Op{Payload: &op.Payload{Meta: meta, Node: node, Value: value, HasValue: hasValue}}
	})
	return ref, err
}

// GetNode returns the current materialized view of a node.
func (e *Engine) GetNode(node ids.NodeId) (MaterializedNode, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.treeStore.GetNode(node)
}

// Close releases the underlying stores.
func (e *Engine) Close() error {
	if err := e.ops.Close(); err != nil {
		return err
	}
	return e.treeStore.Close()
}
