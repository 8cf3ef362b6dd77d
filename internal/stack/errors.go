package stack

import (
	"errors"
	"fmt"
)

var (
	ErrDeliveryFailed = errors.New("stack: delivery failed")
	ErrInvalidLayers  = errors.New("stack: invalid layer combination")
)

// DeliveryError reports that one sequence exhausted its retry budget. It
// matches ErrDeliveryFailed and affects no other sequence.
type DeliveryError struct {
	Sequence uint64
	Retries  int
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("stack: delivery failed: seq=%d retries=%d", e.Sequence, e.Retries)
}

func (e *DeliveryError) Is(target error) bool {
	return target == ErrDeliveryFailed
}
