package syncpeer

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/cybersemics/treecrdt-sub003/wire"
)

var (
	encOnce sync.Once
	enc     *zstd.Encoder
	decOnce sync.Once
	dec     *zstd.Decoder
)

func encoder() *zstd.Encoder {
	encOnce.Do(func() {
		enc, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	})
	return enc
}

func decoder() *zstd.Decoder {
	decOnce.Do(func() {
		dec, _ = zstd.NewReader(nil)
	})
	return dec
}

// compressEntries zstd-compresses each entry's OpBytes when their combined
// size exceeds threshold, returning a new slice and whether compression
// was applied. Signatures and proofRefs are left untouched.
func compressEntries(entries []wire.OpEntry, threshold int) ([]wire.OpEntry, bool) {
	total := 0
	for _, e := range entries {
		total += len(e.OpBytes)
	}
	if threshold <= 0 || total <= threshold {
		return entries, false
	}

	out := make([]wire.OpEntry, len(entries))
	for i, e := range entries {
		out[i] = e
		out[i].OpBytes = encoder().EncodeAll(e.OpBytes, nil)
	}
	return out, true
}

// decompressEntries reverses compressEntries when the batch's Compressed
// flag is set.
func decompressEntries(entries []wire.OpEntry, compressed bool) ([]wire.OpEntry, error) {
	if !compressed {
		return entries, nil
	}
	out := make([]wire.OpEntry, len(entries))
	for i, e := range entries {
		plain, err := decoder().DecodeAll(e.OpBytes, nil)
		if err != nil {
			return nil, fmt.Errorf("syncpeer: decompress op entry: %w", err)
		}
		out[i] = e
		out[i].OpBytes = plain
	}
	return out, nil
}
