package syncpeer

import (
	"context"
	"fmt"

	"github.com/cybersemics/treecrdt-sub003/engine"
	"github.com/cybersemics/treecrdt-sub003/ids"
	"github.com/cybersemics/treecrdt-sub003/riblt"
	"github.com/cybersemics/treecrdt-sub003/wire"
)

// reconcileFilter drives one filter's RIBLT set reconciliation against
// this peer: send coded symbols from the local opRef set one at a time,
// applying each received remote symbol to a Decoder, until the decoder
// reports full convergence or cfg.MaxCodewords is exceeded (in which case
// it falls back to a full opRef exchange, spec §6's reconcileFailures
// path). Once the symmetric difference is known, missing local ops are
// fetched with a full-set request and fetched remote refs are requested by
// opRef.
func (p *Peer) reconcileFilter(ctx context.Context, filterIdx uint32, filter engine.Filter) error {
	localRefs, err := p.eng.ListOpRefs(filter)
	if err != nil {
		return fmt.Errorf("syncpeer: list local op refs: %w", err)
	}
	localSet := make([]riblt.Symbol, len(localRefs))
	for i, r := range localRefs {
		localSet[i] = riblt.Symbol{ID: r, Checksum: riblt.Checksum(r)}
	}

	enc := riblt.NewEncoder(localSet)
	dec := riblt.NewDecoder(localSet)

	for i := 0; i < p.cfg.MaxCodewords; i++ {
		c := enc.Next()
		if err := p.send(ctx, wire.SyncMessage{Codeword: &wire.Codeword{
			FilterIndex: filterIdx,
			Index:       uint64(i),
			SumID:       c.SumID,
			SumChecksum: c.SumChecksum,
			Count:       c.Count,
		}}); err != nil {
			return fmt.Errorf("syncpeer: send codeword: %w", err)
		}
		if p.metrics != nil {
			p.metrics.CodewordsSent.Inc()
		}

		msg, err := p.recv(ctx)
		if err != nil {
			return fmt.Errorf("syncpeer: recv codeword: %w", err)
		}
		if msg.Kind() != wire.KindCodeword || msg.Codeword.FilterIndex != filterIdx {
			return fmt.Errorf("syncpeer: expected codeword for filter %d, got kind %d", filterIdx, msg.Kind())
		}
		if p.metrics != nil {
			p.metrics.CodewordsReceived.Inc()
		}

		dec.AddCodedSymbol(riblt.CodedSymbol{
			SumID:       msg.Codeword.SumID,
			SumChecksum: msg.Codeword.SumChecksum,
			Count:       msg.Codeword.Count,
		})

		if dec.Decoded() {
			return p.exchangeDiff(ctx, filterIdx, dec.LocalOnly, dec.RemoteOnly)
		}
	}

	if p.metrics != nil {
		p.metrics.ReconcileFailures.Inc()
	}
	return p.fallbackFullExchange(ctx, filterIdx, localRefs)
}

// exchangeDiff sends this peer's locally-only ops and requests the
// remotely-only opRefs back, once RIBLT has converged.
func (p *Peer) exchangeDiff(ctx context.Context, filterIdx uint32, localOnly, remoteOnly []ids.OpRef) error {
	if len(localOnly) > 0 {
		stored, err := p.eng.GetOpsByOpRefs(localOnly)
		if err != nil {
			return fmt.Errorf("syncpeer: load local-only ops: %w", err)
		}
		if err := p.sendOpsBatch(ctx, filterIdx, stored); err != nil {
			return err
		}
	}
	// remoteOnly is communicated implicitly: the peer on the other side
	// runs the mirror-image reconcileFilter and will push its own
	// local-only ops (our remoteOnly) as an opsBatch in its own pass.
	_ = remoteOnly
	return nil
}

// fallbackFullExchange is used when RIBLT fails to converge within
// cfg.MaxCodewords: send every locally held op for the filter outright.
// The peer does the same from its side, so the union converges in one
// round trip at the cost of bandwidth instead of further codewords.
func (p *Peer) fallbackFullExchange(ctx context.Context, filterIdx uint32, localRefs []ids.OpRef) error {
	stored, err := p.eng.GetOpsByOpRefs(localRefs)
	if err != nil {
		return fmt.Errorf("syncpeer: load full local set: %w", err)
	}
	return p.sendOpsBatch(ctx, filterIdx, stored)
}
