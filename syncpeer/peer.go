package syncpeer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/cybersemics/treecrdt-sub003/config"
	"github.com/cybersemics/treecrdt-sub003/engine"
	"github.com/cybersemics/treecrdt-sub003/ids"
	"github.com/cybersemics/treecrdt-sub003/metrics"
	"github.com/cybersemics/treecrdt-sub003/obslog"
	"github.com/cybersemics/treecrdt-sub003/op"
	"github.com/cybersemics/treecrdt-sub003/wire"
)

// State is the peer connection's state machine position, also exported as
// the PeerState gauge's value.
type State int

const (
	StateConnecting State = iota
	StateAwaitingAck
	StateReconciling
	StateStreaming
	StateClosed
	StateErrored
)

var (
	ErrUnknownFilterIndex = errors.New("syncpeer: unknown filter index")
	ErrDocMismatch        = errors.New("syncpeer: docId mismatch")
)

// FilterSubscription is one filter this peer reconciles and, after the
// initial reconciliation, optionally keeps live via Subscribe.
type FilterSubscription struct {
	Filter    engine.Filter
	Subscribe bool
}

// Peer runs the sync state machine for one connection: a Hello/HelloAck
// handshake, per-filter RIBLT reconciliation with a full-exchange
// fallback, and (for subscribed filters) streaming newly minted ops.
type Peer struct {
	transport Transport
	codec     wire.Codec
	eng       *engine.Engine
	cfg       config.PeerConfig
	log       obslog.Logger
	metrics   *metrics.Sync

	replica ids.ReplicaId
	docID   string

	mu      sync.Mutex
	state   State
	filters []FilterSubscription
}

// NewPeer constructs a Peer. filters is the set this peer will reconcile,
// in index order; index position is the wire FilterIndex.
func NewPeer(transport Transport, codec wire.Codec, eng *engine.Engine, replica ids.ReplicaId, docID string, filters []FilterSubscription, cfg config.PeerConfig, log obslog.Logger, m *metrics.Sync) *Peer {
	if log == nil {
		log = obslog.New()
	}
	return &Peer{
		transport: transport,
		codec:     codec,
		eng:       eng,
		cfg:       cfg,
		log:       log,
		metrics:   m,
		replica:   replica,
		docID:     docID,
		filters:   filters,
		state:     StateConnecting,
	}
}

func (p *Peer) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
	if p.metrics != nil {
		p.metrics.PeerState.Set(float64(s))
	}
}

// State reports the peer's current state machine position.
func (p *Peer) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// DocID reports the docId this peer is attached to, used by the session
// layer to route notifyLocalUpdate fan-out to the right peers.
func (p *Peer) DocID() string { return p.docID }

// Filters returns the peer's filter subscriptions in wire index order, used
// by the session layer to decide which newly applied ops to push via
// NotifyOps.
func (p *Peer) Filters() []FilterSubscription {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]FilterSubscription, len(p.filters))
	copy(out, p.filters)
	return out
}

func (p *Peer) send(ctx context.Context, m wire.SyncMessage) error {
	data, err := p.codec.Encode(m)
	if err != nil {
		return fmt.Errorf("syncpeer: encode message: %w", err)
	}
	return p.transport.Send(ctx, data)
}

func (p *Peer) recv(ctx context.Context) (wire.SyncMessage, error) {
	data, err := p.transport.Recv(ctx)
	if err != nil {
		return wire.SyncMessage{}, err
	}
	m, err := p.codec.Decode(data)
	if err != nil {
		return wire.SyncMessage{}, fmt.Errorf("syncpeer: decode message: %w", err)
	}
	return m, nil
}

func filterToWire(f engine.Filter) wire.FilterWire {
	if f.All {
		return wire.FilterWire{All: true}
	}
	return wire.FilterWire{HasChildren: true, Children: f.Children}
}

func filterFromWire(f wire.FilterWire) engine.Filter {
	if f.All {
		return engine.AllFilter()
	}
	return engine.ChildrenFilter(f.Children)
}

// Run drives the full peer lifecycle: handshake, reconcile every
// configured filter, then block forwarding inbound messages (opsBatch,
// codeword, subscribe/unsubscribe) until ctx is cancelled or the
// transport closes.
func (p *Peer) Run(ctx context.Context) error {
	p.setState(StateConnecting)

	filterWires := make([]wire.FilterWire, len(p.filters))
	for i, f := range p.filters {
		filterWires[i] = filterToWire(f.Filter)
	}
	hello := wire.SyncMessage{Hello: &wire.Hello{
		Replica:     p.replica,
		DocID:       p.docID,
		Filters:     filterWires,
		HeadLamport: p.eng.HeadLamport(),
	}}
	if err := p.send(ctx, hello); err != nil {
		p.setState(StateErrored)
		return fmt.Errorf("syncpeer: send hello: %w", err)
	}

	p.setState(StateAwaitingAck)
	// Both sides open with a Hello, so the first inbound message may be
	// the peer's own Hello rather than our ack (simultaneous open); answer
	// it with handleHello and keep waiting for our ack.
	for {
		msg, err := p.recv(ctx)
		if err != nil {
			p.setState(StateErrored)
			return fmt.Errorf("syncpeer: await hello ack: %w", err)
		}
		if msg.Kind() == wire.KindHello {
			if err := p.handleHello(ctx, msg.Hello); err != nil {
				p.setState(StateErrored)
				return err
			}
			continue
		}
		if msg.Kind() != wire.KindHelloAck {
			p.setState(StateErrored)
			return fmt.Errorf("syncpeer: expected helloAck, got kind %d", msg.Kind())
		}
		if msg.HelloAck.Err != "" {
			p.setState(StateErrored)
			return fmt.Errorf("syncpeer: peer rejected hello: %s", msg.HelloAck.Err)
		}
		break
	}

	p.setState(StateReconciling)
	for i, f := range p.filters {
		if err := p.reconcileFilter(ctx, uint32(i), f.Filter); err != nil {
			p.log.Warn("syncpeer: filter reconciliation failed", zap.Int("filter_index", i), zap.Error(err))
			if p.metrics != nil {
				p.metrics.ReconcileFailures.Inc()
			}
		}
	}

	p.setState(StateStreaming)
	for i, f := range p.filters {
		if !f.Subscribe {
			continue
		}
		sub := wire.SyncMessage{Subscribe: &wire.Subscribe{FilterIndex: uint32(i), Filter: filterToWire(f.Filter)}}
		if err := p.send(ctx, sub); err != nil {
			return fmt.Errorf("syncpeer: send subscribe: %w", err)
		}
	}

	return p.pump(ctx)
}

// pump services inbound messages until ctx is done or the transport
// closes; it is the post-handshake steady state for both sides of a
// subscription.
func (p *Peer) pump(ctx context.Context) error {
	for {
		msg, err := p.recv(ctx)
		if err != nil {
			if errors.Is(err, ErrTransportClosed) || errors.Is(err, context.Canceled) {
				p.setState(StateClosed)
				return nil
			}
			p.setState(StateErrored)
			return err
		}
		if err := p.handleMessage(ctx, msg); err != nil {
			p.log.Warn("syncpeer: handling inbound message failed", zap.Error(err))
		}
	}
}

func (p *Peer) handleMessage(ctx context.Context, msg wire.SyncMessage) error {
	switch msg.Kind() {
	case wire.KindHello:
		return p.handleHello(ctx, msg.Hello)
	case wire.KindOpsBatch:
		return p.handleOpsBatch(msg.OpsBatch)
	case wire.KindCodeword:
		return p.handleCodeword(msg.Codeword)
	case wire.KindSubscribe:
		return p.handleSubscribe(msg.Subscribe)
	case wire.KindUnsubscribe:
		return nil
	case wire.KindError:
		return fmt.Errorf("syncpeer: peer error %s: %s", msg.Error.Code, msg.Error.Message)
	default:
		return fmt.Errorf("syncpeer: unhandled message kind %d", msg.Kind())
	}
}

// handleHello answers an inbound Hello (this peer is the server side of
// the handshake) with a HelloAck, rejecting a docId mismatch.
func (p *Peer) handleHello(ctx context.Context, h *wire.Hello) error {
	if h.DocID != p.docID {
		ack := wire.SyncMessage{HelloAck: &wire.HelloAck{Replica: p.replica, Err: ErrDocMismatch.Error()}}
		_ = p.send(ctx, ack)
		return ErrDocMismatch
	}
	ack := wire.SyncMessage{HelloAck: &wire.HelloAck{Replica: p.replica, HeadLamport: p.eng.HeadLamport()}}
	return p.send(ctx, ack)
}

// handleSubscribe is a no-op acknowledgement path; the actual push of
// newly minted ops to subscribed peers is the caller's (session layer's)
// responsibility via NotifyOps, since only it observes every local mint.
func (p *Peer) handleSubscribe(*wire.Subscribe) error { return nil }

func (p *Peer) filterAt(idx uint32) (engine.Filter, error) {
	if int(idx) >= len(p.filters) {
		return engine.Filter{}, ErrUnknownFilterIndex
	}
	return p.filters[idx].Filter, nil
}

// handleOpsBatch decompresses (if needed), decodes every canonical op
// entry, and applies the batch to the engine.
func (p *Peer) handleOpsBatch(batch *wire.OpsBatch) error {
	entries, err := decompressEntries(batch.Entries, batch.Compressed)
	if err != nil {
		return err
	}

	refs := make([]ids.OpRef, len(entries))
	ops := make([]op.Op, len(entries))
	sigs := make([][]byte, len(entries))
	proofRefs := make([]*ids.OpRef, len(entries))
	for i, e := range entries {
		_, decoded, err := op.Decode(e.OpBytes)
		if err != nil {
			return fmt.Errorf("syncpeer: decode op entry %d: %w", i, err)
		}
		refs[i] = e.Ref
		ops[i] = decoded
		sigs[i] = e.Signature
		proofRefs[i] = e.ProofRef
	}

	results := p.eng.ApplyOps(refs, ops, sigs, proofRefs)
	if p.metrics != nil {
		p.metrics.OpsReceived.Add(float64(len(results)))
	}
	return nil
}

// handleCodeword is left for a future incremental-reconciliation mode;
// the current reconcileFilter drives the exchange synchronously from the
// initiating side instead of reacting to individual inbound codewords.
func (p *Peer) handleCodeword(*wire.Codeword) error { return nil }

// NotifyOps pushes freshly minted local ops to this peer if filter idx is
// subscribed, building and sending an OpsBatch. Called by the session
// layer's notifyLocalUpdate fan-out.
func (p *Peer) NotifyOps(ctx context.Context, filterIdx uint32, stored []engine.StoredOp) error {
	p.mu.Lock()
	sub := int(filterIdx) < len(p.filters) && p.filters[filterIdx].Subscribe
	p.mu.Unlock()
	if !sub || len(stored) == 0 {
		return nil
	}
	return p.sendOpsBatch(ctx, filterIdx, stored)
}

func (p *Peer) sendOpsBatch(ctx context.Context, filterIdx uint32, stored []engine.StoredOp) error {
	entries := make([]wire.OpEntry, len(stored))
	for i, s := range stored {
		opBytes, err := op.Encode(p.docID, s.Op)
		if err != nil {
			return fmt.Errorf("syncpeer: encode op for batch: %w", err)
		}
		entries[i] = wire.OpEntry{Ref: s.Ref, DocID: p.docID, OpBytes: opBytes, Signature: s.Signature, ProofRef: s.ProofRef}
	}

	entries, compressed := compressEntries(entries, p.cfg.CompressionThresholdBytes)
	batch := wire.SyncMessage{OpsBatch: &wire.OpsBatch{FilterIndex: filterIdx, Entries: entries, Compressed: compressed}}
	if err := p.send(ctx, batch); err != nil {
		return err
	}
	if p.metrics != nil {
		p.metrics.OpsSent.Add(float64(len(entries)))
	}
	return nil
}
