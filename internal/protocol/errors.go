package protocol

import (
	"errors"
	"fmt"
)

// ErrProtocol is the root of every envelope parse failure.
var ErrProtocol = errors.New("protocol: malformed envelope")

var (
	ErrInvalidMagic       = fmt.Errorf("%w: invalid magic", ErrProtocol)
	ErrUnsupportedVersion = fmt.Errorf("%w: unsupported version", ErrProtocol)
	ErrUnknownKind        = fmt.Errorf("%w: unknown kind", ErrProtocol)
	ErrTruncated          = fmt.Errorf("%w: truncated data", ErrProtocol)
	ErrInvalidLength      = fmt.Errorf("%w: invalid length", ErrProtocol)
	ErrPayloadTooLarge    = fmt.Errorf("%w: payload too large", ErrProtocol)
	ErrAckPayload         = fmt.Errorf("%w: ack carries payload", ErrProtocol)
)
