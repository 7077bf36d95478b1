package config

import "errors"

var (
	ErrInvalidMaxCodewords    = errors.New("config: maxCodewords must be >= 1")
	ErrInvalidMaxPayloadBytes = errors.New("config: maxPayloadBytes must be >= 1")
	ErrInvalidIdleClose       = errors.New("config: idleClose must be >= 0")
	ErrInvalidPendingBatch    = errors.New("config: maxPendingReevaluationsPerBatch must be >= 1")
	ErrReconnectBackoffOrder  = errors.New("config: reconnectBackoffMax must be >= reconnectBackoffMin")
	ErrPebbleDirRequired      = errors.New("config: store.dir is required for the pebble backend")
)
