package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/cybersemics/treecrdt-sub003/ids"
)

// Field numbers for the SyncMessage envelope. Exactly one is present per
// message, matching SyncMessage's Go-side sum type.
const (
	fieldEnvelopeHello       protowire.Number = 1
	fieldEnvelopeHelloAck    protowire.Number = 2
	fieldEnvelopeCodeword    protowire.Number = 3
	fieldEnvelopeOpsBatch    protowire.Number = 4
	fieldEnvelopeSubscribe   protowire.Number = 5
	fieldEnvelopeUnsubscribe protowire.Number = 6
	fieldEnvelopeError       protowire.Number = 7
)

// EncodeProtobufV0 serializes m using the hand-written "Protobuf v0"
// tag/varint/length-delimited encoding: a bit-exact, dependency-free (of
// generated code) wire form built directly on protowire's primitives.
func EncodeProtobufV0(m SyncMessage) ([]byte, error) {
	var field protowire.Number
	var body []byte
	var err error

	switch m.Kind() {
	case KindHello:
		field, body = fieldEnvelopeHello, encodeHello(m.Hello)
	case KindHelloAck:
		field, body = fieldEnvelopeHelloAck, encodeHelloAck(m.HelloAck)
	case KindCodeword:
		field, body = fieldEnvelopeCodeword, encodeCodeword(m.Codeword)
	case KindOpsBatch:
		field, body, err = encodeOpsBatchTagged(m.OpsBatch)
	case KindSubscribe:
		field, body = fieldEnvelopeSubscribe, encodeSubscribe(m.Subscribe)
	case KindUnsubscribe:
		field, body = fieldEnvelopeUnsubscribe, encodeUnsubscribe(m.Unsubscribe)
	case KindError:
		field, body = fieldEnvelopeError, encodeError(m.Error)
	default:
		return nil, fmt.Errorf("wire: empty SyncMessage has no kind to encode")
	}
	if err != nil {
		return nil, err
	}

	var out []byte
	out = protowire.AppendTag(out, field, protowire.BytesType)
	out = protowire.AppendBytes(out, body)
	return out, nil
}

func encodeOpsBatchTagged(b *OpsBatch) (protowire.Number, []byte, error) {
	body, err := encodeOpsBatch(b)
	return fieldEnvelopeOpsBatch, body, err
}

// DecodeProtobufV0 is EncodeProtobufV0's inverse.
func DecodeProtobufV0(data []byte) (SyncMessage, error) {
	field, wireType, n := protowire.ConsumeTag(data)
	if n < 0 {
		return SyncMessage{}, fmt.Errorf("wire: consume envelope tag: %w", protowire.ParseError(n))
	}
	if wireType != protowire.BytesType {
		return SyncMessage{}, fmt.Errorf("wire: envelope field %d has unexpected wire type %d", field, wireType)
	}
	body, m := protowire.ConsumeBytes(data[n:])
	if m < 0 {
		return SyncMessage{}, fmt.Errorf("wire: consume envelope body: %w", protowire.ParseError(m))
	}
	if n+m != len(data) {
		return SyncMessage{}, fmt.Errorf("wire: %d trailing bytes after envelope", len(data)-n-m)
	}

	switch field {
	case fieldEnvelopeHello:
		h, err := decodeHello(body)
		return SyncMessage{Hello: h}, err
	case fieldEnvelopeHelloAck:
		h, err := decodeHelloAck(body)
		return SyncMessage{HelloAck: h}, err
	case fieldEnvelopeCodeword:
		c, err := decodeCodeword(body)
		return SyncMessage{Codeword: c}, err
	case fieldEnvelopeOpsBatch:
		b, err := decodeOpsBatch(body)
		return SyncMessage{OpsBatch: b}, err
	case fieldEnvelopeSubscribe:
		s, err := decodeSubscribe(body)
		return SyncMessage{Subscribe: s}, err
	case fieldEnvelopeUnsubscribe:
		u, err := decodeUnsubscribe(body)
		return SyncMessage{Unsubscribe: u}, err
	case fieldEnvelopeError:
		e, err := decodeErrorMsg(body)
		return SyncMessage{Error: e}, err
	default:
		return SyncMessage{}, fmt.Errorf("wire: unknown envelope field %d", field)
	}
}

// --- Hello: 1=replica(bytes) 2=docId(string) 3=filters(repeated bytes) 4=headLamport(varint)

func encodeHello(h *Hello) []byte {
	var out []byte
	out = protowire.AppendTag(out, 1, protowire.BytesType)
	out = protowire.AppendBytes(out, h.Replica[:])
	out = protowire.AppendTag(out, 2, protowire.BytesType)
	out = protowire.AppendString(out, h.DocID)
	for _, f := range h.Filters {
		out = protowire.AppendTag(out, 3, protowire.BytesType)
		out = protowire.AppendBytes(out, encodeFilter(f))
	}
	out = protowire.AppendTag(out, 4, protowire.VarintType)
	out = protowire.AppendVarint(out, uint64(h.HeadLamport))
	return out
}

func decodeHello(data []byte) (*Hello, error) {
	h := &Hello{}
	for len(data) > 0 {
		field, wt, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("wire: hello: consume tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch field {
		case 1:
			b, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return nil, fmt.Errorf("wire: hello.replica: %w", protowire.ParseError(m))
			}
			if len(b) != ids.ReplicaIDLen {
				return nil, fmt.Errorf("wire: hello.replica: want %d bytes, got %d", ids.ReplicaIDLen, len(b))
			}
			copy(h.Replica[:], b)
			data = data[m:]
		case 2:
			s, m := protowire.ConsumeString(data)
			if m < 0 {
				return nil, fmt.Errorf("wire: hello.docId: %w", protowire.ParseError(m))
			}
			h.DocID = s
			data = data[m:]
		case 3:
			b, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return nil, fmt.Errorf("wire: hello.filters: %w", protowire.ParseError(m))
			}
			f, err := decodeFilter(b)
			if err != nil {
				return nil, err
			}
			h.Filters = append(h.Filters, f)
			data = data[m:]
		case 4:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return nil, fmt.Errorf("wire: hello.headLamport: %w", protowire.ParseError(m))
			}
			h.HeadLamport = ids.Lamport(v)
			data = data[m:]
		default:
			m := consumeUnknown(data, wt)
			if m < 0 {
				return nil, fmt.Errorf("wire: hello: skip unknown field %d", field)
			}
			data = data[m:]
		}
	}
	return h, nil
}

// --- HelloAck: 1=replica(bytes) 2=headLamport(varint) 3=err(string, omitted if empty)

func encodeHelloAck(h *HelloAck) []byte {
	var out []byte
	out = protowire.AppendTag(out, 1, protowire.BytesType)
	out = protowire.AppendBytes(out, h.Replica[:])
	out = protowire.AppendTag(out, 2, protowire.VarintType)
	out = protowire.AppendVarint(out, uint64(h.HeadLamport))
	if h.Err != "" {
		out = protowire.AppendTag(out, 3, protowire.BytesType)
		out = protowire.AppendString(out, h.Err)
	}
	return out
}

func decodeHelloAck(data []byte) (*HelloAck, error) {
	h := &HelloAck{}
	for len(data) > 0 {
		field, wt, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("wire: helloAck: consume tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch field {
		case 1:
			b, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return nil, fmt.Errorf("wire: helloAck.replica: %w", protowire.ParseError(m))
			}
			copy(h.Replica[:], b)
			data = data[m:]
		case 2:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return nil, fmt.Errorf("wire: helloAck.headLamport: %w", protowire.ParseError(m))
			}
			h.HeadLamport = ids.Lamport(v)
			data = data[m:]
		case 3:
			s, m := protowire.ConsumeString(data)
			if m < 0 {
				return nil, fmt.Errorf("wire: helloAck.err: %w", protowire.ParseError(m))
			}
			h.Err = s
			data = data[m:]
		default:
			m := consumeUnknown(data, wt)
			if m < 0 {
				return nil, fmt.Errorf("wire: helloAck: skip unknown field %d", field)
			}
			data = data[m:]
		}
	}
	return h, nil
}

// --- FilterWire: 1=all(varint bool) 2=hasChildren(varint bool) 3=children(bytes)

func encodeFilter(f FilterWire) []byte {
	var out []byte
	out = protowire.AppendTag(out, 1, protowire.VarintType)
	out = protowire.AppendVarint(out, boolVarint(f.All))
	out = protowire.AppendTag(out, 2, protowire.VarintType)
	out = protowire.AppendVarint(out, boolVarint(f.HasChildren))
	if f.HasChildren {
		out = protowire.AppendTag(out, 3, protowire.BytesType)
		out = protowire.AppendBytes(out, f.Children[:])
	}
	return out
}

func decodeFilter(data []byte) (FilterWire, error) {
	var f FilterWire
	for len(data) > 0 {
		field, wt, n := protowire.ConsumeTag(data)
		if n < 0 {
			return f, fmt.Errorf("wire: filter: consume tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch field {
		case 1:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return f, fmt.Errorf("wire: filter.all: %w", protowire.ParseError(m))
			}
			f.All = v != 0
			data = data[m:]
		case 2:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return f, fmt.Errorf("wire: filter.hasChildren: %w", protowire.ParseError(m))
			}
			f.HasChildren = v != 0
			data = data[m:]
		case 3:
			b, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return f, fmt.Errorf("wire: filter.children: %w", protowire.ParseError(m))
			}
			copy(f.Children[:], b)
			data = data[m:]
		default:
			m := consumeUnknown(data, wt)
			if m < 0 {
				return f, fmt.Errorf("wire: filter: skip unknown field %d", field)
			}
			data = data[m:]
		}
	}
	return f, nil
}

// --- Codeword: 1=filterIndex(varint) 2=index(varint) 3=sumId(bytes) 4=sumChecksum(fixed64) 5=count(zigzag varint)

func encodeCodeword(c *Codeword) []byte {
	var out []byte
	out = protowire.AppendTag(out, 1, protowire.VarintType)
	out = protowire.AppendVarint(out, uint64(c.FilterIndex))
	out = protowire.AppendTag(out, 2, protowire.VarintType)
	out = protowire.AppendVarint(out, c.Index)
	out = protowire.AppendTag(out, 3, protowire.BytesType)
	out = protowire.AppendBytes(out, c.SumID[:])
	out = protowire.AppendTag(out, 4, protowire.Fixed64Type)
	out = protowire.AppendFixed64(out, c.SumChecksum)
	out = protowire.AppendTag(out, 5, protowire.VarintType)
	out = protowire.AppendVarint(out, protowire.EncodeZigZag(c.Count))
	return out
}

func decodeCodeword(data []byte) (*Codeword, error) {
	c := &Codeword{}
	for len(data) > 0 {
		field, wt, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("wire: codeword: consume tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch field {
		case 1:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return nil, fmt.Errorf("wire: codeword.filterIndex: %w", protowire.ParseError(m))
			}
			c.FilterIndex = uint32(v)
			data = data[m:]
		case 2:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return nil, fmt.Errorf("wire: codeword.index: %w", protowire.ParseError(m))
			}
			c.Index = v
			data = data[m:]
		case 3:
			b, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return nil, fmt.Errorf("wire: codeword.sumId: %w", protowire.ParseError(m))
			}
			copy(c.SumID[:], b)
			data = data[m:]
		case 4:
			v, m := protowire.ConsumeFixed64(data)
			if m < 0 {
				return nil, fmt.Errorf("wire: codeword.sumChecksum: %w", protowire.ParseError(m))
			}
			c.SumChecksum = v
			data = data[m:]
		case 5:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return nil, fmt.Errorf("wire: codeword.count: %w", protowire.ParseError(m))
			}
			c.Count = protowire.DecodeZigZag(v)
			data = data[m:]
		default:
			m := consumeUnknown(data, wt)
			if m < 0 {
				return nil, fmt.Errorf("wire: codeword: skip unknown field %d", field)
			}
			data = data[m:]
		}
	}
	return c, nil
}

// --- OpsBatch: 1=filterIndex(varint) 2=entries(repeated bytes) 3=compressed(varint bool)

func encodeOpsBatch(b *OpsBatch) ([]byte, error) {
	var out []byte
	out = protowire.AppendTag(out, 1, protowire.VarintType)
	out = protowire.AppendVarint(out, uint64(b.FilterIndex))
	for _, e := range b.Entries {
		entryBytes, err := encodeOpEntry(e)
		if err != nil {
			return nil, err
		}
		out = protowire.AppendTag(out, 2, protowire.BytesType)
		out = protowire.AppendBytes(out, entryBytes)
	}
	out = protowire.AppendTag(out, 3, protowire.VarintType)
	out = protowire.AppendVarint(out, boolVarint(b.Compressed))
	return out, nil
}

func decodeOpsBatch(data []byte) (*OpsBatch, error) {
	b := &OpsBatch{}
	for len(data) > 0 {
		field, wt, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("wire: opsBatch: consume tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch field {
		case 1:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return nil, fmt.Errorf("wire: opsBatch.filterIndex: %w", protowire.ParseError(m))
			}
			b.FilterIndex = uint32(v)
			data = data[m:]
		case 2:
			eb, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return nil, fmt.Errorf("wire: opsBatch.entries: %w", protowire.ParseError(m))
			}
			entry, err := decodeOpEntry(eb)
			if err != nil {
				return nil, err
			}
			b.Entries = append(b.Entries, entry)
			data = data[m:]
		case 3:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return nil, fmt.Errorf("wire: opsBatch.compressed: %w", protowire.ParseError(m))
			}
			b.Compressed = v != 0
			data = data[m:]
		default:
			m := consumeUnknown(data, wt)
			if m < 0 {
				return nil, fmt.Errorf("wire: opsBatch: skip unknown field %d", field)
			}
			data = data[m:]
		}
	}
	return b, nil
}

// --- OpEntry: 1=ref(bytes) 2=docId(string) 3=opBytes(bytes) 4=signature(bytes) 5=proofRef(bytes, optional)

func encodeOpEntry(e OpEntry) ([]byte, error) {
	var out []byte
	out = protowire.AppendTag(out, 1, protowire.BytesType)
	out = protowire.AppendBytes(out, e.Ref[:])
	out = protowire.AppendTag(out, 2, protowire.BytesType)
	out = protowire.AppendString(out, e.DocID)
	out = protowire.AppendTag(out, 3, protowire.BytesType)
	out = protowire.AppendBytes(out, e.OpBytes)
	out = protowire.AppendTag(out, 4, protowire.BytesType)
	out = protowire.AppendBytes(out, e.Signature)
	if e.ProofRef != nil {
		out = protowire.AppendTag(out, 5, protowire.BytesType)
		out = protowire.AppendBytes(out, e.ProofRef[:])
	}
	return out, nil
}

func decodeOpEntry(data []byte) (OpEntry, error) {
	var e OpEntry
	for len(data) > 0 {
		field, wt, n := protowire.ConsumeTag(data)
		if n < 0 {
			return e, fmt.Errorf("wire: opEntry: consume tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch field {
		case 1:
			b, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return e, fmt.Errorf("wire: opEntry.ref: %w", protowire.ParseError(m))
			}
			copy(e.Ref[:], b)
			data = data[m:]
		case 2:
			s, m := protowire.ConsumeString(data)
			if m < 0 {
				return e, fmt.Errorf("wire: opEntry.docId: %w", protowire.ParseError(m))
			}
			e.DocID = s
			data = data[m:]
		case 3:
			b, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return e, fmt.Errorf("wire: opEntry.opBytes: %w", protowire.ParseError(m))
			}
			e.OpBytes = append([]byte{}, b...)
			data = data[m:]
		case 4:
			b, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return e, fmt.Errorf("wire: opEntry.signature: %w", protowire.ParseError(m))
			}
			e.Signature = append([]byte{}, b...)
			data = data[m:]
		case 5:
			b, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return e, fmt.Errorf("wire: opEntry.proofRef: %w", protowire.ParseError(m))
			}
			var ref ids.OpRef
			copy(ref[:], b)
			e.ProofRef = &ref
			data = data[m:]
		default:
			m := consumeUnknown(data, wt)
			if m < 0 {
				return e, fmt.Errorf("wire: opEntry: skip unknown field %d", field)
			}
			data = data[m:]
		}
	}
	return e, nil
}

// --- Subscribe / Unsubscribe / Error

func encodeSubscribe(s *Subscribe) []byte {
	var out []byte
	out = protowire.AppendTag(out, 1, protowire.VarintType)
	out = protowire.AppendVarint(out, uint64(s.FilterIndex))
	out = protowire.AppendTag(out, 2, protowire.BytesType)
	out = protowire.AppendBytes(out, encodeFilter(s.Filter))
	return out
}

func decodeSubscribe(data []byte) (*Subscribe, error) {
	s := &Subscribe{}
	for len(data) > 0 {
		field, wt, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("wire: subscribe: consume tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch field {
		case 1:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return nil, fmt.Errorf("wire: subscribe.filterIndex: %w", protowire.ParseError(m))
			}
			s.FilterIndex = uint32(v)
			data = data[m:]
		case 2:
			b, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return nil, fmt.Errorf("wire: subscribe.filter: %w", protowire.ParseError(m))
			}
			f, err := decodeFilter(b)
			if err != nil {
				return nil, err
			}
			s.Filter = f
			data = data[m:]
		default:
			m := consumeUnknown(data, wt)
			if m < 0 {
				return nil, fmt.Errorf("wire: subscribe: skip unknown field %d", field)
			}
			data = data[m:]
		}
	}
	return s, nil
}

func encodeUnsubscribe(u *Unsubscribe) []byte {
	var out []byte
	out = protowire.AppendTag(out, 1, protowire.VarintType)
	out = protowire.AppendVarint(out, uint64(u.FilterIndex))
	return out
}

func decodeUnsubscribe(data []byte) (*Unsubscribe, error) {
	u := &Unsubscribe{}
	for len(data) > 0 {
		field, wt, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("wire: unsubscribe: consume tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch field {
		case 1:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return nil, fmt.Errorf("wire: unsubscribe.filterIndex: %w", protowire.ParseError(m))
			}
			u.FilterIndex = uint32(v)
			data = data[m:]
		default:
			m := consumeUnknown(data, wt)
			if m < 0 {
				return nil, fmt.Errorf("wire: unsubscribe: skip unknown field %d", field)
			}
			data = data[m:]
		}
	}
	return u, nil
}

func encodeError(e *Error) []byte {
	var out []byte
	out = protowire.AppendTag(out, 1, protowire.BytesType)
	out = protowire.AppendString(out, e.Code)
	out = protowire.AppendTag(out, 2, protowire.BytesType)
	out = protowire.AppendString(out, e.Message)
	return out
}

func decodeErrorMsg(data []byte) (*Error, error) {
	e := &Error{}
	for len(data) > 0 {
		field, wt, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("wire: error: consume tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch field {
		case 1:
			s, m := protowire.ConsumeString(data)
			if m < 0 {
				return nil, fmt.Errorf("wire: error.code: %w", protowire.ParseError(m))
			}
			e.Code = s
			data = data[m:]
		case 2:
			s, m := protowire.ConsumeString(data)
			if m < 0 {
				return nil, fmt.Errorf("wire: error.message: %w", protowire.ParseError(m))
			}
			e.Message = s
			data = data[m:]
		default:
			m := consumeUnknown(data, wt)
			if m < 0 {
				return nil, fmt.Errorf("wire: error: skip unknown field %d", field)
			}
			data = data[m:]
		}
	}
	return e, nil
}

func boolVarint(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// consumeUnknown skips one field's value of the given wire type, for
// forward compatibility with messages carrying fields this version doesn't
// know about.
func consumeUnknown(data []byte, wt protowire.Type) int {
	switch wt {
	case protowire.VarintType:
		_, n := protowire.ConsumeVarint(data)
		return n
	case protowire.Fixed32Type:
		_, n := protowire.ConsumeFixed32(data)
		return n
	case protowire.Fixed64Type:
		_, n := protowire.ConsumeFixed64(data)
		return n
	case protowire.BytesType:
		_, n := protowire.ConsumeBytes(data)
		return n
	default:
		return -1
	}
}
