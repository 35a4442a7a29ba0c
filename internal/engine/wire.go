package engine

import "encoding/binary"

// EncodeWire runs Encode and assembles the full stored-value wire
// format from spec §6: a 2-byte big-endian dict_id followed by the
// frame (or the raw value bytes when dict_id is RawDictID). This is a
// convenience for collaborators that want one call instead of
// separately tracking (frame, dict_id) pairs; the core Encode/Decode
// pair above is what the spec actually names as C7's operations.
func (e *Engine) EncodeWire(key string, value []byte) ([]byte, error) {
	frame, did, err := e.Encode(key, value)
	if err != nil {
		return nil, err
	}
	if did == RawDictID {
		out := make([]byte, 2+len(value))
		binary.BigEndian.PutUint16(out, RawDictID)
		copy(out[2:], value)
		return out, nil
	}
	out := make([]byte, 2+len(frame))
	binary.BigEndian.PutUint16(out, did)
	copy(out[2:], frame)
	return out, nil
}

// DecodeWire is the inverse of EncodeWire: it splits the 2-byte dict_id
// prefix off a stored value and calls Decode (or, for the raw
// sentinel, returns the remainder unchanged).
func (e *Engine) DecodeWire(stored []byte, maxOut int) ([]byte, error) {
	if len(stored) < 2 {
		return nil, ErrInvalidInput
	}
	did := binary.BigEndian.Uint16(stored[:2])
	return e.Decode(stored[2:], did, maxOut)
}
