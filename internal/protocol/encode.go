package protocol

import "encoding/binary"

// Encode serializes env into a single datagram-sized byte slice.
func Encode(env Envelope) ([]byte, error) {
	if !env.Kind.valid() {
		return nil, ErrUnknownKind
	}
	if env.Kind == KindAck && len(env.Payload) > 0 {
		return nil, ErrAckPayload
	}
	if len(env.Payload) > MaxPayloadBytes {
		return nil, ErrPayloadTooLarge
	}

	buf := make([]byte, HeaderSize+len(env.Payload))
	encodeHeader(buf[:HeaderSize], env.Kind, env.Sequence, uint32(len(env.Payload)))
	copy(buf[HeaderSize:], env.Payload)
	return buf, nil
}

func encodeHeader(buf []byte, kind Kind, seq uint64, payloadLen uint32) {
	binary.BigEndian.PutUint16(buf[0:2], Magic)
	buf[2] = Version
	buf[3] = byte(kind)
	binary.BigEndian.PutUint64(buf[4:12], seq)
	binary.BigEndian.PutUint32(buf[12:16], payloadLen)
}
