package frame

import (
	"encoding/binary"
	"errors"
	"io"
)

// PrefixLen is the size of the big-endian length prefix on every frame.
const PrefixLen = 4

var (
	ErrShortPrefix     = errors.New("frame: short length prefix")
	ErrShortPayload    = errors.New("frame: short payload")
	ErrPayloadTooLarge = errors.New("frame: payload too large")
)

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxPayloadBytes uint32
}

func DefaultLimits() Limits {
	return Limits{
		MaxPayloadBytes: 64 * 1024,
	}
}

// ReadFrame reads one length-prefixed frame. A clean EOF before any prefix
// byte is returned as io.EOF so callers can tell an orderly close apart.
func ReadFrame(r io.Reader, limits Limits) ([]byte, error) {
	var prefix [PrefixLen]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrShortPrefix
		}
		return nil, err
	}

	n := binary.BigEndian.Uint32(prefix[:])
	if n > limits.MaxPayloadBytes {
		return nil, ErrPayloadTooLarge
	}

	payload := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, ErrShortPayload
			}
			return nil, err
		}
	}
	return payload, nil
}

// WriteFrame writes payload with its length prefix in a single Write call.
func WriteFrame(w io.Writer, payload []byte, limits Limits) error {
	if uint64(len(payload)) > uint64(limits.MaxPayloadBytes) {
		return ErrPayloadTooLarge
	}
	buf := make([]byte, PrefixLen+len(payload))
	binary.BigEndian.PutUint32(buf[:PrefixLen], uint32(len(payload)))
	copy(buf[PrefixLen:], payload)
	_, err := w.Write(buf)
	return err
}
