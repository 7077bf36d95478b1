package wire

// Codec converts between SyncMessage and its wire bytes. Two
// implementations satisfy it: ProtobufV0Codec (the canonical
// length-delimited binary encoding, used by cmd/treecrdtd) and JSONCodec
// (for in-memory/test transports and debugging).
type Codec interface {
	Encode(m SyncMessage) ([]byte, error)
	Decode(data []byte) (SyncMessage, error)
}

// ProtobufV0Codec wraps EncodeProtobufV0/DecodeProtobufV0 behind Codec.
type ProtobufV0Codec struct{}

func (ProtobufV0Codec) Encode(m SyncMessage) ([]byte, error) { return EncodeProtobufV0(m) }
func (ProtobufV0Codec) Decode(data []byte) (SyncMessage, error) { return DecodeProtobufV0(data) }

// JSONCodec wraps EncodeJSON/DecodeJSON behind Codec.
type JSONCodec struct{}

func (JSONCodec) Encode(m SyncMessage) ([]byte, error)    { return EncodeJSON(m) }
func (JSONCodec) Decode(data []byte) (SyncMessage, error) { return DecodeJSON(data) }
