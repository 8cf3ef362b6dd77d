package channel

import (
	"context"
	"iter"
)

// Messages yields received payloads until r closes. Any other receive error
// is yielded once and ends the sequence.
func Messages(ctx context.Context, r Receiver) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		for {
			msg, err := r.Receive(ctx)
			if err != nil {
				if !IsClosed(err) {
					yield(nil, err)
				}
				return
			}
			if !yield(msg, nil) {
				return
			}
		}
	}
}
