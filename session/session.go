// Package session implements the document session layer (C7): one engine
// instance per docId shared by every attached sync peer, reference
// counted, with an idle-close timer that tears the engine down once no
// peer holds it open. It is the sole owner of engine lifecycles, matching
// the teacher's networking/router convention of guarding a refcount and
// its associated timer with the same lock.
package session

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/cybersemics/treecrdt-sub003/config"
	"github.com/cybersemics/treecrdt-sub003/engine"
	"github.com/cybersemics/treecrdt-sub003/ids"
	"github.com/cybersemics/treecrdt-sub003/metrics"
	"github.com/cybersemics/treecrdt-sub003/obslog"
	"github.com/cybersemics/treecrdt-sub003/syncpeer"
)

// EngineFactory builds a fresh Engine for docID, wiring whatever storage
// backend, signer, and per-doc metrics the deployment wants. The returned
// io.Closer (nil for backends with nothing extra to release, such as
// memstore) is closed once after the engine itself has been closed; the
// Manager calls the factory at most once per doc between idle-closes. See
// NewEngineFactory for the stock implementation built on this module's own
// stores.
type EngineFactory func(docID string) (*engine.Engine, io.Closer, error)

// Peer is the subset of *syncpeer.Peer the session layer needs to fan out
// NotifyLocalUpdate. Declared here (rather than imported as *syncpeer.Peer
// directly) so tests can attach lightweight fakes.
type Peer interface {
	DocID() string
	Filters() []syncpeer.FilterSubscription
	NotifyOps(ctx context.Context, filterIdx uint32, stored []engine.StoredOp) error
}

// docEntry is the per-docId shared state: the engine, its refcount, the
// idle-close timer, and the peers currently attached for notification.
type docEntry struct {
	mu       sync.Mutex
	eng      *engine.Engine
	backend  io.Closer
	refCount int
	timer    *time.Timer
	peers    map[Peer]struct{}
}

// Manager multiplexes Sessions onto per-docId engines (C7). Concurrent
// Opens for the same docId coalesce onto one engine instance.
type Manager struct {
	cfg     config.SessionConfig
	factory EngineFactory
	metrics *metrics.Session
	log     obslog.Logger

	mu   sync.Mutex
	docs map[string]*docEntry
}

// NewManager constructs a Manager. reg may be nil to skip metrics
// registration (tests typically pass nil or a fresh prometheus.Registry
// per case to avoid collector collisions).
func NewManager(cfg config.SessionConfig, factory EngineFactory, reg prometheus.Registerer, log obslog.Logger) (*Manager, error) {
	if log == nil {
		log = obslog.New()
	}
	var m *metrics.Session
	if reg != nil {
		var err error
		m, err = metrics.NewSession(reg)
		if err != nil {
			return nil, fmt.Errorf("session: register metrics: %w", err)
		}
	}
	return &Manager{cfg: cfg, factory: factory, metrics: m, log: log, docs: make(map[string]*docEntry)}, nil
}

// Session is a held reference to one doc's shared engine. Release must be
// called exactly once the caller is done with it; calling it again is a
// no-op logged at debug, matching the teacher's idempotent-release idiom.
type Session struct {
	mgr   *Manager
	docID string
	entry *docEntry

	mu       sync.Mutex
	released bool
}

// Open attaches a reference to docID's shared engine, creating it via the
// Manager's EngineFactory if this is the first open. Concurrent Opens for
// the same docId coalesce onto the same engine instance (spec §4.7).
func (m *Manager) Open(ctx context.Context, docID string) (*Session, error) {
	m.mu.Lock()
	entry, ok := m.docs[docID]
	if !ok {
		eng, backend, err := m.factory(docID)
		if err != nil {
			m.mu.Unlock()
			return nil, fmt.Errorf("session: open engine for doc %q: %w", docID, err)
		}
		entry = &docEntry{eng: eng, backend: backend, peers: make(map[Peer]struct{})}
		m.docs[docID] = entry
		if m.metrics != nil {
			m.metrics.OpenSessions.Inc()
		}
	}
	m.mu.Unlock()

	entry.mu.Lock()
	entry.refCount++
	refCount := entry.refCount
	if entry.timer != nil {
		entry.timer.Stop()
		entry.timer = nil
	}
	entry.mu.Unlock()

	if m.metrics != nil {
		m.metrics.RefCount.Inc()
	}
	m.log.Debug("session: opened", zap.String("doc_id", docID), zap.Int("ref_count", refCount))
	return &Session{mgr: m, docID: docID, entry: entry}, nil
}

// Engine returns the shared engine backing this session.
func (s *Session) Engine() *engine.Engine { return s.entry.eng }

// DocID returns the docId this session is attached to.
func (s *Session) DocID() string { return s.docID }

// AttachPeer registers p to receive NotifyLocalUpdate fan-out for ops
// applied to this doc's engine while p remains attached.
func (s *Session) AttachPeer(p Peer) {
	s.entry.mu.Lock()
	s.entry.peers[p] = struct{}{}
	s.entry.mu.Unlock()
}

// DetachPeer unregisters p. Detaching a peer not currently attached is a
// no-op.
func (s *Session) DetachPeer(p Peer) {
	s.entry.mu.Lock()
	delete(s.entry.peers, p)
	s.entry.mu.Unlock()
}

// NotifyLocalUpdate fans applied ops from results out to every attached
// peer whose subscribed filters match, the per-doc half of C6's NotifyOps
// contract (spec §4.7: "peers attached to the same doc share it and are
// notified after each apply"). Only ops reported StatusApplied are
// eligible; duplicates, malformed, and pending ops are never re-announced.
func (s *Session) NotifyLocalUpdate(ctx context.Context, results []engine.ApplyResult) {
	applied := make(map[ids.OpRef]struct{}, len(results))
	for _, r := range results {
		if r.Status == engine.StatusApplied {
			applied[r.Ref] = struct{}{}
		}
	}
	if len(applied) == 0 {
		return
	}

	s.entry.mu.Lock()
	peers := make([]Peer, 0, len(s.entry.peers))
	for p := range s.entry.peers {
		peers = append(peers, p)
	}
	s.entry.mu.Unlock()

	for _, p := range peers {
		for idx, sub := range p.Filters() {
			if !sub.Subscribe {
				continue
			}
			s.notifyPeerFilter(ctx, p, uint32(idx), sub, applied)
		}
	}
}

func (s *Session) notifyPeerFilter(ctx context.Context, p Peer, idx uint32, sub syncpeer.FilterSubscription, applied map[ids.OpRef]struct{}) {
	refs, err := s.entry.eng.ListOpRefs(sub.Filter)
	if err != nil {
		s.mgr.log.Warn("session: list refs for notify", zap.String("doc_id", s.docID), zap.Error(err))
		return
	}
	var matched []ids.OpRef
	for _, r := range refs {
		if _, ok := applied[r]; ok {
			matched = append(matched, r)
		}
	}
	if len(matched) == 0 {
		return
	}
	stored, err := s.entry.eng.GetOpsByOpRefs(matched)
	if err != nil {
		s.mgr.log.Warn("session: load ops for notify", zap.String("doc_id", s.docID), zap.Error(err))
		return
	}
	if err := p.NotifyOps(ctx, idx, stored); err != nil {
		s.mgr.log.Warn("session: notify peer failed", zap.String("doc_id", s.docID), zap.Error(err))
	}
}

// Release decrements the refcount. Once it reaches zero, an idle-close
// timer of Manager.cfg.IdleClose starts; if the count is still zero when
// it fires, the engine is closed and removed. A zero IdleClose collapses
// this to an immediate close. Calling Release more than once is a no-op.
func (s *Session) Release() {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		s.mgr.log.Debug("session: release on already-released session", zap.String("doc_id", s.docID))
		return
	}
	s.released = true
	s.mu.Unlock()

	m := s.mgr
	entry := s.entry

	entry.mu.Lock()
	entry.refCount--
	refCount := entry.refCount
	if refCount <= 0 && m.cfg.IdleClose > 0 {
		entry.timer = time.AfterFunc(m.cfg.IdleClose, func() { m.closeIfIdle(s.docID) })
	}
	entry.mu.Unlock()

	if m.metrics != nil {
		m.metrics.RefCount.Dec()
	}
	m.log.Debug("session: released", zap.String("doc_id", s.docID), zap.Int("ref_count", refCount))

	if refCount <= 0 && m.cfg.IdleClose <= 0 {
		m.closeIfIdle(s.docID)
	}
}

// closeIfIdle closes and forgets docID's engine if its refcount is still
// zero, guarding against a race where Open reattached between Release
// scheduling this and the timer (or the synchronous zero-IdleClose path)
// firing.
func (m *Manager) closeIfIdle(docID string) {
	m.mu.Lock()
	entry, ok := m.docs[docID]
	if !ok {
		m.mu.Unlock()
		return
	}
	entry.mu.Lock()
	if entry.refCount > 0 {
		entry.mu.Unlock()
		m.mu.Unlock()
		return
	}
	delete(m.docs, docID)
	entry.mu.Unlock()
	m.mu.Unlock()

	if err := entry.eng.Close(); err != nil {
		m.log.Warn("session: idle-close engine", zap.String("doc_id", docID), zap.Error(err))
	}
	if entry.backend != nil {
		if err := entry.backend.Close(); err != nil {
			m.log.Warn("session: idle-close backend", zap.String("doc_id", docID), zap.Error(err))
		}
	}
	if m.metrics != nil {
		m.metrics.OpenSessions.Dec()
		m.metrics.IdleCloseTotal.Inc()
	}
	m.log.Info("session: idle-closed", zap.String("doc_id", docID))
}
