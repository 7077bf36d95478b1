// Package config assembles the tunables for the engine's ambient
// collaborators (auth re-evaluation, sync peer backpressure, session
// idle-close, storage backend, CLI bind address) behind one fluent
// Builder, the way the teacher's consensus package builds a Config from
// named presets plus targeted overrides.
package config

import "time"

// StoreBackend selects the OpStore/TreeStore implementation.
type StoreBackend string

const (
	// StoreMemory is the default in-process backend used by tests and
	// single-process deployments; nothing is persisted across restarts.
	StoreMemory StoreBackend = "memory"
	// StorePebble persists the op log, materialized tree, payload table,
	// and pending sidecar to an on-disk pebble database.
	StorePebble StoreBackend = "pebble"
)

// AuthConfig tunes the capability-token evaluation layer (C4).
type AuthConfig struct {
	// RequireProofRef, when true, resolves capability tokens only via a
	// proofRef looked up in the TokenStore; inline token bytes on an op
	// are ignored. When false, inline tokens are parsed directly.
	RequireProofRef bool
	// MaxPendingReevaluationsPerBatch bounds how many sidecar rows a
	// single ApplyOps batch's newly-reachable-node callback re-checks.
	MaxPendingReevaluationsPerBatch int
}

// PeerConfig tunes a sync peer's reconciliation and transport behavior (C6).
type PeerConfig struct {
	// MaxCodewords bounds how many RIBLT codewords a peer sends before
	// falling back to a full opsSince exchange for a filter.
	MaxCodewords int
	// MaxPayloadBytes is the largest opsBatch payload a peer will send
	// before the caller must split it across multiple messages.
	MaxPayloadBytes int
	// CompressionThresholdBytes is the pre-codec opsBatch size above
	// which the payload is zstd-compressed.
	CompressionThresholdBytes int
	// ReconnectBackoffMin/Max bound the transport's reconnect backoff.
	ReconnectBackoffMin time.Duration
	ReconnectBackoffMax time.Duration
}

// SessionConfig tunes document session lifecycle (C7).
type SessionConfig struct {
	// IdleClose is how long a session's refcount must stay at zero
	// before its engine and storage handles are released. Zero disables
	// idle-close (sessions live until process exit).
	IdleClose time.Duration
}

// StoreConfig selects and configures the storage backend (C5).
type StoreConfig struct {
	Backend StoreBackend
	// Dir is the pebble database directory. Ignored for StoreMemory.
	Dir string
}

// ServerConfig tunes the cmd/treecrdtd CLI surface.
type ServerConfig struct {
	BindHost string
	BindPort int
}

// Config is the fully assembled, validated configuration for one
// treecrdtd process.
type Config struct {
	Auth    AuthConfig    `json:"auth"`
	Peer    PeerConfig    `json:"peer"`
	Session SessionConfig `json:"session"`
	Store   StoreConfig   `json:"store"`
	Server  ServerConfig  `json:"server"`
}

// Default is the preset used when no overrides are given: in-memory
// storage, proofRef-free inline tokens, generous but bounded peer limits.
var Default = Config{
	Auth: AuthConfig{
		RequireProofRef:                 false,
		MaxPendingReevaluationsPerBatch: 256,
	},
	Peer: PeerConfig{
		MaxCodewords:              4096,
		MaxPayloadBytes:           1 << 20,
		CompressionThresholdBytes: 64 << 10,
		ReconnectBackoffMin:       250 * time.Millisecond,
		ReconnectBackoffMax:       30 * time.Second,
	},
	Session: SessionConfig{
		IdleClose: 5 * time.Minute,
	},
	Store: StoreConfig{
		Backend: StoreMemory,
	},
	Server: ServerConfig{
		BindHost: "0.0.0.0",
		BindPort: 8443,
	},
}

// Production hardens Default for a multi-tenant deployment: proofRef-only
// tokens (no inline bytes trusted off the wire), a persistent store, and a
// shorter idle-close to bound memory held by quiet documents.
var Production = Config{
	Auth: AuthConfig{
		RequireProofRef:                 true,
		MaxPendingReevaluationsPerBatch: 64,
	},
	Peer: PeerConfig{
		MaxCodewords:              2048,
		MaxPayloadBytes:           512 << 10,
		CompressionThresholdBytes: 16 << 10,
		ReconnectBackoffMin:       500 * time.Millisecond,
		ReconnectBackoffMax:       time.Minute,
	},
	Session: SessionConfig{
		IdleClose: time.Minute,
	},
	Store: StoreConfig{
		Backend: StorePebble,
		Dir:     "./treecrdt-data",
	},
	Server: ServerConfig{
		BindHost: "0.0.0.0",
		BindPort: 8443,
	},
}
