package protocol

import "encoding/binary"

// Decode parses one envelope. The payload is copied out of b.
func Decode(b []byte) (Envelope, error) {
	if len(b) < HeaderSize {
		return Envelope{}, ErrTruncated
	}
	if binary.BigEndian.Uint16(b[0:2]) != Magic {
		return Envelope{}, ErrInvalidMagic
	}
	if b[2] != Version {
		return Envelope{}, ErrUnsupportedVersion
	}
	kind := Kind(b[3])
	if !kind.valid() {
		return Envelope{}, ErrUnknownKind
	}
	seq := binary.BigEndian.Uint64(b[4:12])
	payloadLen := binary.BigEndian.Uint32(b[12:16])
	if payloadLen > MaxPayloadBytes {
		return Envelope{}, ErrPayloadTooLarge
	}
	if uint64(len(b)-HeaderSize) != uint64(payloadLen) {
		return Envelope{}, ErrInvalidLength
	}
	if kind == KindAck && payloadLen > 0 {
		return Envelope{}, ErrAckPayload
	}

	env := Envelope{Sequence: seq, Kind: kind}
	if payloadLen > 0 {
		env.Payload = make([]byte, payloadLen)
		copy(env.Payload, b[HeaderSize:])
	}
	return env, nil
}
