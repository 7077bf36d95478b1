// Package metrics wraps the Prometheus collectors this module exposes
// behind small named accessor types, following the teacher's
// metrics/metric.go convention of hiding raw prometheus.New... calls
// behind a constructor per concern instead of scattering them through
// business logic.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Engine holds the per-docId engine metrics.
type Engine struct {
	AppliedOps      prometheus.Counter
	DuplicateOps    prometheus.Counter
	MalformedOps    prometheus.Counter
	PendingOps      prometheus.Gauge
	ApplyLatencySec prometheus.Histogram
	TreeNodeCount   prometheus.Gauge
}

// NewEngine registers and returns the engine metrics for one docId-scoped
// engine instance. The caller supplies a Registerer, typically a
// prometheus.Registry created per session so metrics don't collide across
// concurrently open documents in tests.
func NewEngine(reg prometheus.Registerer, docID string) (*Engine, error) {
	constLabels := prometheus.Labels{"doc_id": docID}

	e := &Engine{
		AppliedOps: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "treecrdt_engine_applied_ops_total",
			Help:        "Total number of operations successfully applied.",
			ConstLabels: constLabels,
		}),
		DuplicateOps: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "treecrdt_engine_duplicate_ops_total",
			Help:        "Total number of operations rejected as duplicates.",
			ConstLabels: constLabels,
		}),
		MalformedOps: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "treecrdt_engine_malformed_ops_total",
			Help:        "Total number of malformed operations rejected synchronously.",
			ConstLabels: constLabels,
		}),
		PendingOps: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "treecrdt_engine_pending_ops",
			Help:        "Current size of the pending-ops sidecar.",
			ConstLabels: constLabels,
		}),
		ApplyLatencySec: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "treecrdt_engine_apply_latency_seconds",
			Help:        "Latency of ApplyOps batches.",
			ConstLabels: constLabels,
			Buckets:     prometheus.DefBuckets,
		}),
		TreeNodeCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "treecrdt_engine_tree_node_count",
			Help:        "Current number of live nodes in the materialized tree.",
			ConstLabels: constLabels,
		}),
	}

	collectors := []prometheus.Collector{
		e.AppliedOps, e.DuplicateOps, e.MalformedOps,
		e.PendingOps, e.ApplyLatencySec, e.TreeNodeCount,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Sync holds the per-peer sync metrics.
type Sync struct {
	CodewordsSent     prometheus.Counter
	CodewordsReceived prometheus.Counter
	OpsSent           prometheus.Counter
	OpsReceived       prometheus.Counter
	ReconcileFailures prometheus.Counter
	PeerState         prometheus.Gauge
}

// NewSync registers and returns the sync-peer metrics for one peer.
func NewSync(reg prometheus.Registerer, peerLabel string) (*Sync, error) {
	constLabels := prometheus.Labels{"peer": peerLabel}

	s := &Sync{
		CodewordsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "treecrdt_sync_codewords_sent_total",
			Help:        "Total RIBLT codewords sent.",
			ConstLabels: constLabels,
		}),
		CodewordsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "treecrdt_sync_codewords_received_total",
			Help:        "Total RIBLT codewords received.",
			ConstLabels: constLabels,
		}),
		OpsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "treecrdt_sync_ops_sent_total",
			Help:        "Total operations sent in opsBatch messages.",
			ConstLabels: constLabels,
		}),
		OpsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "treecrdt_sync_ops_received_total",
			Help:        "Total operations received in opsBatch messages.",
			ConstLabels: constLabels,
		}),
		ReconcileFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "treecrdt_sync_reconcile_failures_total",
			Help:        "Total RIBLT reconciliations that exceeded maxCodewords and fell back to full-set exchange.",
			ConstLabels: constLabels,
		}),
		PeerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "treecrdt_sync_peer_state",
			Help:        "Current peer state machine state, as its ordinal.",
			ConstLabels: constLabels,
		}),
	}

	collectors := []prometheus.Collector{
		s.CodewordsSent, s.CodewordsReceived, s.OpsSent, s.OpsReceived,
		s.ReconcileFailures, s.PeerState,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Session holds the per-docId session metrics shared across all its peers.
type Session struct {
	OpenSessions   prometheus.Gauge
	RefCount       prometheus.Gauge
	IdleCloseTotal prometheus.Counter
}

// NewSession registers and returns the session metrics. Unlike Engine and
// Sync, this is typically registered once per process (not per docId)
// since it tracks the whole SessionManager.
func NewSession(reg prometheus.Registerer) (*Session, error) {
	s := &Session{
		OpenSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "treecrdt_session_open_total",
			Help: "Current number of open document sessions.",
		}),
		RefCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "treecrdt_session_refcount",
			Help: "Sum of reference counts across all open sessions.",
		}),
		IdleCloseTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "treecrdt_session_idle_close_total",
			Help: "Total number of engines closed by the idle-close timer.",
		}),
	}

	collectors := []prometheus.Collector{s.OpenSessions, s.RefCount, s.IdleCloseTotal}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return s, nil
}
