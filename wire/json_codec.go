package wire

import "encoding/json"

// EncodeJSON renders m as JSON, for debugging and for peers that prefer a
// human-readable wire format over "Protobuf v0" (spec §6 names both as
// acceptable codecs, negotiated at Hello time).
func EncodeJSON(m SyncMessage) ([]byte, error) {
	return json.Marshal(m)
}

// DecodeJSON is EncodeJSON's inverse.
func DecodeJSON(data []byte) (SyncMessage, error) {
	var m SyncMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return SyncMessage{}, err
	}
	return m, nil
}
