// Package codec turns typed application values into channel payloads.
//
// Ownership boundary:
// - Codec contract and the JSON/CBOR implementations
// - content-type registry
// - Typed channel adapter
package codec

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	ErrFormat             = errors.New("codec: malformed payload")
	ErrUnknownContentType = errors.New("codec: unknown content type")
)

// Codec marshals values for cross-peer exchange. Implementations must be
// deterministic.
type Codec interface {
	ContentType() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// Registry maps content types to codecs.
type Registry struct {
	mu     sync.RWMutex
	byType map[string]Codec
}

// NewRegistry returns a registry holding the built-in JSON and CBOR codecs.
func NewRegistry() *Registry {
	r := &Registry{byType: make(map[string]Codec)}
	r.Register(JSON())
	r.Register(CBOR())
	return r
}

// Register adds c, replacing any codec with the same content type.
func (r *Registry) Register(c Codec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byType[normalize(c.ContentType())] = c
}

// Get returns the codec for contentType, or nil.
func (r *Registry) Get(contentType string) Codec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byType[normalize(contentType)]
}

// Lookup is Get with an error for unknown types.
func (r *Registry) Lookup(contentType string) (Codec, error) {
	if c := r.Get(contentType); c != nil {
		return c, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownContentType, contentType)
}

// ContentTypes lists the registered types in sorted order.
func (r *Registry) ContentTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byType))
	for ct := range r.byType {
		out = append(out, ct)
	}
	sort.Strings(out)
	return out
}

func normalize(contentType string) string {
	return strings.ToLower(strings.TrimSpace(contentType))
}
