package channel

import (
	"context"
	"errors"
)

var (
	ErrClosed     = errors.New("channel: closed")
	ErrFailed     = errors.New("channel: failed")
	ErrUnknownTag = errors.New("channel: unknown split tag")
)

// Sender transmits one message.
type Sender interface {
	Send(ctx context.Context, payload []byte) error
}

// Receiver blocks until one message arrives, the channel closes, or ctx ends.
type Receiver interface {
	Receive(ctx context.Context) ([]byte, error)
}

// Channel is a bidirectional, message-oriented, point-to-point primitive.
// Implementations may lose, duplicate or reorder messages unless documented
// otherwise.
type Channel interface {
	Sender
	Receiver
	Close() error
}

// Error reports a failure of the underlying binding. It matches ErrFailed.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return "channel: " + e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() []error {
	return []error{ErrFailed, e.Err}
}

// Wrap tags err as a binding failure for op. Closure and context errors pass
// through unchanged.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrClosed) || errors.Is(err, ErrFailed) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &Error{Op: op, Err: err}
}

// IsClosed reports whether err signals an orderly close.
func IsClosed(err error) bool {
	return errors.Is(err, ErrClosed)
}
