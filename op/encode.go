package op

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/cybersemics/treecrdt-sub003/ids"
	"github.com/cybersemics/treecrdt-sub003/orderkey"
)

const (
	encodeDomain  = "treecrdt/op-sig/v1"
	encodeVersion = 0
)

func kindTag(k Kind) byte {
	switch k {
	case KindInsert:
		return 1
	case KindMove:
		return 2
	case KindDelete:
		return 3
	case KindTombstone:
		return 4
	case KindPayload:
		return 5
	default:
		panic(fmt.Sprintf("op: unknown kind %d", k))
	}
}

func kindFromTag(tag byte) (Kind, error) {
	switch tag {
	case 1:
		return KindInsert, nil
	case 2:
		return KindMove, nil
	case 3:
		return KindDelete, nil
	case 4:
		return KindTombstone, nil
	case 5:
		return KindPayload, nil
	default:
		return 0, fmt.Errorf("op: unknown kind tag %d", tag)
	}
}

func writeLenPrefixed(buf *bytes.Buffer, b []byte) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	buf.Write(lenBuf[:])
	buf.Write(b)
}

func writeNode(buf *bytes.Buffer, n ids.NodeId) {
	buf.Write(n[:])
}

func writeOptionalPayload(buf *bytes.Buffer, present bool, payload []byte) {
	if present {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	buf.Write(lenBuf[:])
	buf.Write(payload)
}

// Encode produces the canonical byte string for op, used as the message
// signed by C4:
//
//	"treecrdt/op-sig/v1" ‖ u8(0)
//	‖ u32be(len(docID)) ‖ utf8(docID)
//	‖ u32be(len(replica)) ‖ replica
//	‖ u64be(counter) ‖ u64be(lamport)
//	‖ u8(kindTag) ‖ kindFields
func Encode(docID string, o Op) ([]byte, error) {
	meta := o.Meta()

	var buf bytes.Buffer
	buf.WriteString(encodeDomain)
	buf.WriteByte(encodeVersion)

	writeLenPrefixed(&buf, []byte(docID))
	writeLenPrefixed(&buf, meta.ID.Replica[:])

	var counterBuf, lamportBuf [8]byte
	binary.BigEndian.PutUint64(counterBuf[:], meta.ID.Counter)
	buf.Write(counterBuf[:])
	binary.BigEndian.PutUint64(lamportBuf[:], uint64(meta.Lamport))
	buf.Write(lamportBuf[:])

	buf.WriteByte(kindTag(o.Kind()))

	switch o.Kind() {
	case KindInsert:
		in := o.Insert
		writeNode(&buf, in.Parent)
		writeNode(&buf, in.Node)
		buf.Write(in.Key.Encode())
		writeOptionalPayload(&buf, in.HasPayload, in.Payload)
	case KindMove:
		mv := o.Move
		writeNode(&buf, mv.Node)
		writeNode(&buf, mv.NewParent)
		buf.Write(mv.Key.Encode())
	case KindDelete:
		del := o.Delete
		writeNode(&buf, del.Node)
		writeLenPrefixed(&buf, meta.KnownState)
	case KindTombstone:
		ts := o.Tombstone
		writeNode(&buf, ts.Node)
	case KindPayload:
		pl := o.Payload
		writeNode(&buf, pl.Node)
		writeOptionalPayload(&buf, pl.HasValue, pl.Value)
	default:
		return nil, fmt.Errorf("op: cannot encode zero-value operation")
	}

	return buf.Bytes(), nil
}

type reader struct {
	b   []byte
	pos int
}

func (r *reader) need(n int) error {
	if r.pos+n > len(r.b) {
		return fmt.Errorf("op: truncated encoding at offset %d, need %d more bytes", r.pos, n)
	}
	return nil
}

func (r *reader) byte() (byte, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.b[r.pos]
	r.pos++
	return v, nil
}

func (r *reader) u32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(r.b[r.pos : r.pos+4])
	r.pos += 4
	return v, nil
}

func (r *reader) u64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(r.b[r.pos : r.pos+8])
	r.pos += 8
	return v, nil
}

func (r *reader) bytes(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	v := make([]byte, n)
	copy(v, r.b[r.pos:r.pos+n])
	r.pos += n
	return v, nil
}

func (r *reader) lenPrefixed() ([]byte, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	return r.bytes(int(n))
}

func (r *reader) node() (ids.NodeId, error) {
	b, err := r.bytes(ids.NodeIDLen)
	if err != nil {
		return ids.NodeId{}, err
	}
	var n ids.NodeId
	copy(n[:], b)
	return n, nil
}

func (r *reader) optionalPayload() (bool, []byte, error) {
	present, err := r.byte()
	if err != nil {
		return false, nil, err
	}
	n, err := r.u32()
	if err != nil {
		return false, nil, err
	}
	b, err := r.bytes(int(n))
	if err != nil {
		return false, nil, err
	}
	return present != 0, b, nil
}

func (r *reader) orderKey() (orderkey.Key, error) {
	if err := r.need(4); err != nil {
		return nil, err
	}
	k, n, err := orderkey.Decode(r.b[r.pos:])
	if err != nil {
		return nil, err
	}
	r.pos += n
	return k, nil
}

// Decode parses the canonical encoding back into (docID, Op). It is the
// exact inverse of Encode: Decode(Encode(docID, op)) == (docID, op).
func Decode(data []byte) (string, Op, error) {
	r := &reader{b: data}

	domain, err := r.bytes(len(encodeDomain))
	if err != nil {
		return "", Op{}, err
	}
	if string(domain) != encodeDomain {
		return "", Op{}, fmt.Errorf("op: unexpected domain prefix %q", domain)
	}
	version, err := r.byte()
	if err != nil {
		return "", Op{}, err
	}
	if version != encodeVersion {
		return "", Op{}, fmt.Errorf("op: unsupported encoding version %d", version)
	}

	docIDBytes, err := r.lenPrefixed()
	if err != nil {
		return "", Op{}, err
	}
	replicaBytes, err := r.lenPrefixed()
	if err != nil {
		return "", Op{}, err
	}
	replica, err := ids.ReplicaFromBytes(replicaBytes)
	if err != nil {
		return "", Op{}, err
	}
	counter, err := r.u64()
	if err != nil {
		return "", Op{}, err
	}
	lamport, err := r.u64()
	if err != nil {
		return "", Op{}, err
	}

	meta := Meta{
		ID:      ids.OpId{Replica: replica, Counter: counter},
		Lamport: ids.Lamport(lamport),
	}

	tagByte, err := r.byte()
	if err != nil {
		return "", Op{}, err
	}
	kind, err := kindFromTag(tagByte)
	if err != nil {
		return "", Op{}, err
	}

	var result Op
	switch kind {
	case KindInsert:
		parent, err := r.node()
		if err != nil {
			return "", Op{}, err
		}
		node, err := r.node()
		if err != nil {
			return "", Op{}, err
		}
		key, err := r.orderKey()
		if err != nil {
			return "", Op{}, err
		}
		has, payload, err := r.optionalPayload()
		if err != nil {
			return "", Op{}, err
		}
		result.Insert = &Insert{Meta: meta, Parent: parent, Node: node, Key: key, HasPayload: has, Payload: payload}
	case KindMove:
		node, err := r.node()
		if err != nil {
			return "", Op{}, err
		}
		newParent, err := r.node()
		if err != nil {
			return "", Op{}, err
		}
		key, err := r.orderKey()
		if err != nil {
			return "", Op{}, err
		}
		result.Move = &Move{Meta: meta, Node: node, NewParent: newParent, Key: key}
	case KindDelete:
		node, err := r.node()
		if err != nil {
			return "", Op{}, err
		}
		knownState, err := r.lenPrefixed()
		if err != nil {
			return "", Op{}, err
		}
		meta.KnownState = knownState
		result.Delete = &Delete{Meta: meta, Node: node}
	case KindTombstone:
		node, err := r.node()
		if err != nil {
			return "", Op{}, err
		}
		result.Tombstone = &Tombstone{Meta: meta, Node: node}
	case KindPayload:
		node, err := r.node()
		if err != nil {
			return "", Op{}, err
		}
		has, value, err := r.optionalPayload()
		if err != nil {
			return "", Op{}, err
		}
		result.Payload = &Payload{Meta: meta, Node: node, HasValue: has, Value: value}
	}

	if r.pos != len(r.b) {
		return "", Op{}, fmt.Errorf("op: %d trailing bytes after decode", len(r.b)-r.pos)
	}

	return string(docIDBytes), result, nil
}
