package session

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cybersemics/treecrdt-sub003/config"
	"github.com/cybersemics/treecrdt-sub003/engine"
	"github.com/cybersemics/treecrdt-sub003/engine/memstore"
	"github.com/cybersemics/treecrdt-sub003/engine/pebblestore"
	"github.com/cybersemics/treecrdt-sub003/ids"
	"github.com/cybersemics/treecrdt-sub003/metrics"
	"github.com/cybersemics/treecrdt-sub003/obslog"
)

// NewEngineFactory builds the stock EngineFactory used by cmd/treecrdtd:
// memstore for config.StoreMemory (no extra closer), a pebblestore
// database under storeCfg.Dir/<docID> for config.StorePebble (returned as
// the EngineFactory's io.Closer, since the engine's own Close is a no-op
// over pebblestore's shared-db views). signer may be nil for sync-only
// deployments that never mint local ops. reg may be nil to skip per-engine
// metrics registration.
func NewEngineFactory(storeCfg config.StoreConfig, replica ids.ReplicaId, signer engine.Signer, log obslog.Logger, reg prometheus.Registerer) EngineFactory {
	return func(docID string) (*engine.Engine, io.Closer, error) {
		var ops engine.OpStore
		var tree engine.TreeStore
		var backend io.Closer

		switch storeCfg.Backend {
		case config.StorePebble:
			dir := filepath.Join(storeCfg.Dir, docID)
			store, err := pebblestore.Open(dir)
			if err != nil {
				return nil, nil, fmt.Errorf("session: open pebble backend for doc %q: %w", docID, err)
			}
			ops = store.OpStore()
			tree = store.TreeStore()
			backend = store
		default:
			ops = memstore.NewOpStore()
			tree = memstore.NewTreeStore()
		}

		var opts []engine.Option
		if log != nil {
			opts = append(opts, engine.WithLogger(log))
		}
		if signer != nil {
			opts = append(opts, engine.WithSigner(signer))
		}
		if reg != nil {
			em, err := metrics.NewEngine(reg, docID)
			if err != nil {
				if backend != nil {
					_ = backend.Close()
				}
				return nil, nil, fmt.Errorf("session: register engine metrics for doc %q: %w", docID, err)
			}
			opts = append(opts, engine.WithMetrics(em))
		}

		eng, err := engine.New(docID, replica, ops, tree, opts...)
		if err != nil {
			if backend != nil {
				_ = backend.Close()
			}
			return nil, nil, fmt.Errorf("session: new engine for doc %q: %w", docID, err)
		}
		return eng, backend, nil
	}
}
