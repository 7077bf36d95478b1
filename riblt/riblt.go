// Package riblt implements Rateless Invertible Bloom Lookup Table set
// reconciliation: two peers holding overlapping sets of 16-byte IDs (here,
// ids.OpRef) discover their symmetric difference by exchanging a stream of
// coded symbols, without either side enumerating its full set up front
// (spec §5's sync reconciliation). No ecosystem RIBLT implementation exists
// in the retrieved corpus; this is built from the algorithm's published
// description (Yang, Wang, Ji 2023) using only stdlib primitives.
package riblt

import (
	"container/heap"
	"math/bits"

	"github.com/cybersemics/treecrdt-sub003/ids"
)

// Symbol is one element of a reconciled set.
type Symbol struct {
	ID       ids.OpRef
	Checksum uint64
}

// Checksum computes the checksum callers must set on Symbol.Checksum when
// constructing a Symbol from a bare ids.OpRef — both encoder and decoder
// assume this exact function produced it.
func Checksum(id ids.OpRef) uint64 { return symbolChecksum(id) }

func symbolChecksum(id ids.OpRef) uint64 {
	// splitmix64 finalizer over the id bytes, domain-separated from the
	// random-mapping PRNG below so the two don't correlate.
	var x uint64
	for i, b := range id {
		x ^= uint64(b) << (8 * uint(i%8))
	}
	x += 0x9E3779B97F4A7C15
	x = (x ^ (x >> 30)) * 0xBF58476D1CE4E5B9
	x = (x ^ (x >> 27)) * 0x94D049BB133111EB
	return x ^ (x >> 31)
}

// randMapping generates the strictly increasing sequence of codeword
// indices one symbol contributes to: index 0 always, then each subsequent
// gap drawn from a geometric(1/2) distribution (via leading-zero-count on a
// splitmix64 stream), matching RIBLT's per-symbol random mapping.
type randMapping struct {
	state    uint64
	lastIdx  uint64
	started  bool
}

func newRandMapping(id ids.OpRef) *randMapping {
	var seed uint64
	for i, b := range id {
		seed ^= uint64(b) << (8 * uint(i%8))
	}
	seed ^= 0xD6E8FEB86659FD93
	return &randMapping{state: seed}
}

func (r *randMapping) next() uint64 {
	if !r.started {
		r.started = true
		r.lastIdx = 0
		return 0
	}
	r.state = r.state*6364136223846793005 + 1442695040888963407
	gap := uint64(bits.LeadingZeros64(r.state)) + 1
	r.lastIdx += gap
	return r.lastIdx
}

// CodedSymbol is one transmitted unit: the XOR of contributing IDs, the XOR
// of their checksums, and a signed count (positive if the local encoder's
// contributions outnumber what's been cancelled out, as seen from the
// decoding side after subtracting its own local contributions).
type CodedSymbol struct {
	SumID       ids.OpRef
	SumChecksum uint64
	Count       int64
}

func (c *CodedSymbol) applySymbol(s Symbol, sign int64) {
	for i := range c.SumID {
		c.SumID[i] ^= s.ID[i]
	}
	c.SumChecksum ^= s.Checksum
	c.Count += sign
}

// isPure reports whether c decodes to exactly one symbol (Count == ±1 and
// the checksum is consistent with SumID), the peeling precondition.
func (c CodedSymbol) isPure() bool {
	if c.Count != 1 && c.Count != -1 {
		return false
	}
	return symbolChecksum(c.SumID) == c.SumChecksum
}

// heap item pairs a symbol with the next codeword index it contributes to.
type mappingItem struct {
	sym     Symbol
	mapping *randMapping
	nextIdx uint64
}

type mappingHeap []*mappingItem

func (h mappingHeap) Len() int            { return len(h) }
func (h mappingHeap) Less(i, j int) bool  { return h[i].nextIdx < h[j].nextIdx }
func (h mappingHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *mappingHeap) Push(x interface{}) { *h = append(*h, x.(*mappingItem)) }
func (h *mappingHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Encoder produces an unbounded stream of coded symbols for a fixed local
// set, one Next() call per codeword index.
type Encoder struct {
	heap  mappingHeap
	index uint64
}

// NewEncoder builds an Encoder over the given local set.
func NewEncoder(set []Symbol) *Encoder {
	e := &Encoder{}
	for _, s := range set {
		m := newRandMapping(s.ID)
		idx := m.next()
		heap.Push(&e.heap, &mappingItem{sym: s, mapping: m, nextIdx: idx})
	}
	return e
}

// Next returns the coded symbol for the current index and advances.
func (e *Encoder) Next() CodedSymbol {
	var c CodedSymbol
	for len(e.heap) > 0 && e.heap[0].nextIdx == e.index {
		item := heap.Pop(&e.heap).(*mappingItem)
		c.applySymbol(item.sym, 1)
		item.nextIdx = item.mapping.next()
		heap.Push(&e.heap, item)
	}
	e.index++
	return c
}

// Decoder reconciles a local set against a stream of remote coded symbols,
// discovering which IDs are local-only and which are remote-only.
type Decoder struct {
	heap       mappingHeap
	index      uint64
	cells      []CodedSymbol // difference cells received so far
	peeledRemote []Symbol    // already-discovered remote-only symbols
	peeledLocal  []Symbol    // already-discovered local-only symbols
	LocalOnly  []ids.OpRef
	RemoteOnly []ids.OpRef
}

// NewDecoder builds a Decoder over the local set this peer already holds.
func NewDecoder(localSet []Symbol) *Decoder {
	d := &Decoder{}
	for _, s := range localSet {
		m := newRandMapping(s.ID)
		idx := m.next()
		heap.Push(&d.heap, &mappingItem{sym: s, mapping: m, nextIdx: idx})
	}
	return d
}

// AddCodedSymbol ingests one remote coded symbol, subtracts this decoder's
// own local contribution at the same index, and attempts to peel.
// maxCodewords bounds how many symbols a caller should request before
// giving up and falling back to a full-set exchange (spec §6's
// reconcileFailures path); callers compare len(cells) against that bound
// themselves.
func (d *Decoder) AddCodedSymbol(remote CodedSymbol) {
	local := CodedSymbol{}
	for len(d.heap) > 0 && d.heap[0].nextIdx == d.index {
		item := heap.Pop(&d.heap).(*mappingItem)
		local.applySymbol(item.sym, 1)
		item.nextIdx = item.mapping.next()
		heap.Push(&d.heap, item)
	}

	diff := CodedSymbol{
		SumChecksum: remote.SumChecksum ^ local.SumChecksum,
		Count:       remote.Count - local.Count,
	}
	for i := range diff.SumID {
		diff.SumID[i] = remote.SumID[i] ^ local.SumID[i]
	}

	newIdx := len(d.cells)
	d.cells = append(d.cells, diff)
	d.index++

	// A previously peeled symbol's random mapping may visit this new
	// index; cancel its contribution here before attempting to peel.
	for _, sym := range d.peeledRemote {
		d.cancelSymbolAt(sym, newIdx, -1)
	}
	for _, sym := range d.peeledLocal {
		d.cancelSymbolAt(sym, newIdx, 1)
	}

	d.peel()
}

// cancelSymbolAt subtracts sym's contribution (with the given sign) from
// cell idx, if idx is among the codeword indices sym's random mapping
// visits.
func (d *Decoder) cancelSymbolAt(sym Symbol, idx int, sign int64) {
	m := newRandMapping(sym.ID)
	for {
		mapped := m.next()
		if mapped > uint64(idx) {
			return
		}
		if mapped == uint64(idx) {
			d.cells[idx].applySymbol(sym, sign)
			return
		}
	}
}

// cancelSymbol subtracts sym's contribution (with the given sign) from
// every cell received so far that its random mapping visits.
func (d *Decoder) cancelSymbol(sym Symbol, sign int64) {
	m := newRandMapping(sym.ID)
	for {
		idx := m.next()
		if idx >= uint64(len(d.cells)) {
			return
		}
		d.cells[idx].applySymbol(sym, sign)
	}
}

// peel repeatedly removes pure cells: Count==1 means remote has an ID we
// don't (RemoteOnly), Count==-1 means we have one remote doesn't
// (LocalOnly). Each discovery is cancelled out of every cell its random
// mapping visits so resolving one symbol can reveal others.
func (d *Decoder) peel() {
	progress := true
	for progress {
		progress = false
		for i := range d.cells {
			c := &d.cells[i]
			if c.Count == 0 || !c.isPure() {
				continue
			}
			sym := Symbol{ID: c.SumID, Checksum: c.SumChecksum}
			if c.Count == 1 {
				d.RemoteOnly = append(d.RemoteOnly, sym.ID)
				d.peeledRemote = append(d.peeledRemote, sym)
				d.cancelSymbol(sym, -1)
			} else {
				d.LocalOnly = append(d.LocalOnly, sym.ID)
				d.peeledLocal = append(d.peeledLocal, sym)
				d.cancelSymbol(sym, 1)
			}
			progress = true
		}
	}
}

// Decoded reports whether every cell ingested so far has been fully peeled
// (Count == 0 and zero SumID), meaning the decoder has no more information
// to extract until another coded symbol arrives.
func (d *Decoder) Decoded() bool {
	for _, c := range d.cells {
		if c.Count != 0 {
			return false
		}
	}
	return true
}
