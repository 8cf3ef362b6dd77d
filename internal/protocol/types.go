package protocol

import "fmt"

const (
	Magic      uint16 = 0xC0E1
	Version    uint8  = 1
	HeaderSize        = 16

	// MaxPayloadBytes bounds a single envelope payload.
	MaxPayloadBytes = 16 * 1024 * 1024
)

// Kind distinguishes data envelopes from acknowledgments.
type Kind uint8

const (
	KindData Kind = 1
	KindAck  Kind = 2
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindAck:
		return "ack"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

func (k Kind) valid() bool {
	return k == KindData || k == KindAck
}

// Envelope is the sequence-tagged unit exchanged between numbered peers.
type Envelope struct {
	Sequence uint64
	Kind     Kind
	Payload  []byte
}

// Data builds a data envelope.
func Data(seq uint64, payload []byte) Envelope {
	return Envelope{Sequence: seq, Kind: KindData, Payload: payload}
}

// Ack builds an acknowledgment for seq.
func Ack(seq uint64) Envelope {
	return Envelope{Sequence: seq, Kind: KindAck}
}

func (e Envelope) String() string {
	return fmt.Sprintf("%s seq=%d len=%d", e.Kind, e.Sequence, len(e.Payload))
}
