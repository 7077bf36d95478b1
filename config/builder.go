package config

import (
	"fmt"
	"time"
)

// Preset names a built-in Config to start a Builder from.
type Preset string

const (
	PresetDefault    Preset = "default"
	PresetProduction Preset = "production"
)

// Builder provides a fluent interface for constructing a Config,
// mirroring the teacher's consensus config builder: each With* method
// short-circuits once an error has been recorded, and Build surfaces it.
type Builder struct {
	cfg *Config
	err error
}

// NewBuilder starts from Default.
func NewBuilder() *Builder {
	cfg := Default
	return &Builder{cfg: &cfg}
}

// FromPreset resets the builder to a named built-in Config, discarding any
// overrides applied before the call.
func (b *Builder) FromPreset(preset Preset) *Builder {
	if b.err != nil {
		return b
	}
	switch preset {
	case PresetDefault:
		cfg := Default
		b.cfg = &cfg
	case PresetProduction:
		cfg := Production
		b.cfg = &cfg
	default:
		b.err = fmt.Errorf("config: unknown preset %q", preset)
	}
	return b
}

// WithAuthProofRef toggles proofRef-only token resolution.
func (b *Builder) WithAuthProofRef(required bool) *Builder {
	if b.err != nil {
		return b
	}
	b.cfg.Auth.RequireProofRef = required
	return b
}

// WithMaxPendingReevaluationsPerBatch bounds the auth sidecar's per-batch
// re-check work.
func (b *Builder) WithMaxPendingReevaluationsPerBatch(n int) *Builder {
	if b.err != nil {
		return b
	}
	if n < 1 {
		b.err = ErrInvalidPendingBatch
		return b
	}
	b.cfg.Auth.MaxPendingReevaluationsPerBatch = n
	return b
}

// WithMaxCodewords bounds RIBLT reconciliation before a full fallback.
func (b *Builder) WithMaxCodewords(n int) *Builder {
	if b.err != nil {
		return b
	}
	if n < 1 {
		b.err = ErrInvalidMaxCodewords
		return b
	}
	b.cfg.Peer.MaxCodewords = n
	return b
}

// WithMaxPayloadBytes sets the largest single opsBatch payload a peer will
// send, and auto-raises CompressionThresholdBytes below it if needed so
// the two stay consistent.
func (b *Builder) WithMaxPayloadBytes(n int) *Builder {
	if b.err != nil {
		return b
	}
	if n < 1 {
		b.err = ErrInvalidMaxPayloadBytes
		return b
	}
	b.cfg.Peer.MaxPayloadBytes = n
	if b.cfg.Peer.CompressionThresholdBytes > n {
		b.cfg.Peer.CompressionThresholdBytes = n
	}
	return b
}

// WithCompressionThreshold sets the pre-codec opsBatch size above which
// zstd compression is applied.
func (b *Builder) WithCompressionThreshold(n int) *Builder {
	if b.err != nil {
		return b
	}
	b.cfg.Peer.CompressionThresholdBytes = n
	return b
}

// WithReconnectBackoff sets the transport's reconnect backoff bounds.
func (b *Builder) WithReconnectBackoff(min, max time.Duration) *Builder {
	if b.err != nil {
		return b
	}
	if max < min {
		b.err = ErrReconnectBackoffOrder
		return b
	}
	b.cfg.Peer.ReconnectBackoffMin = min
	b.cfg.Peer.ReconnectBackoffMax = max
	return b
}

// WithIdleClose sets how long an idle (refcount-zero) session survives
// before its engine is released. Zero disables idle-close.
func (b *Builder) WithIdleClose(d time.Duration) *Builder {
	if b.err != nil {
		return b
	}
	if d < 0 {
		b.err = ErrInvalidIdleClose
		return b
	}
	b.cfg.Session.IdleClose = d
	return b
}

// WithStore selects the storage backend and, for StorePebble, its
// database directory.
func (b *Builder) WithStore(backend StoreBackend, dir string) *Builder {
	if b.err != nil {
		return b
	}
	b.cfg.Store.Backend = backend
	b.cfg.Store.Dir = dir
	return b
}

// WithBindAddr sets the CLI surface's listen host and port.
func (b *Builder) WithBindAddr(host string, port int) *Builder {
	if b.err != nil {
		return b
	}
	b.cfg.Server.BindHost = host
	b.cfg.Server.BindPort = port
	return b
}

// Build validates the accumulated Config and returns it, or the first
// error recorded by any With* call.
func (b *Builder) Build() (*Config, error) {
	if b.err != nil {
		return nil, b.err
	}
	if err := Validate(b.cfg); err != nil {
		return nil, err
	}
	return b.cfg, nil
}
