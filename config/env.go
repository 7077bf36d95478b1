package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// FromEnv builds a Config from Default overridden by the CLI surface's
// named environment variables, for cmd/treecrdtd's startup path.
func FromEnv() (*Config, error) {
	b := NewBuilder()

	host := os.Getenv("TREECRDT_BIND_HOST")
	if host == "" {
		host = Default.Server.BindHost
	}
	port := Default.Server.BindPort
	if v := os.Getenv("TREECRDT_BIND_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("config: TREECRDT_BIND_PORT: %w", err)
		}
		port = p
	}
	b.WithBindAddr(host, port)

	if v := os.Getenv("TREECRDT_IDLE_CLOSE"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("config: TREECRDT_IDLE_CLOSE: %w", err)
		}
		b.WithIdleClose(d)
	}

	if v := os.Getenv("TREECRDT_MAX_PAYLOAD_BYTES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("config: TREECRDT_MAX_PAYLOAD_BYTES: %w", err)
		}
		b.WithMaxPayloadBytes(n)
	}

	if dir := os.Getenv("TREECRDT_STORE_DIR"); dir != "" {
		b.WithStore(StorePebble, dir)
	}

	return b.Build()
}
