package stack

import (
	"fmt"
	"slices"
	"strings"

	"github.com/danmuck/courier/internal/channel"
	logs "github.com/danmuck/courier/internal/logging"
)

// Layer names one middleware wrapper.
type Layer string

const (
	LayerNumbered Layer = "numbered"
	LayerLastOnly Layer = "lastonly"
	LayerReliable Layer = "reliable"
	LayerOrdered  Layer = "ordered"
)

// Layers lists every known layer, innermost first.
func Layers() []Layer {
	return []Layer{LayerNumbered, LayerLastOnly, LayerReliable, LayerOrdered}
}

// ParseLayers converts configured names into layers. Names are matched case
// insensitively; blanks are skipped.
func ParseLayers(names []string) ([]Layer, error) {
	out := make([]Layer, 0, len(names))
	for _, raw := range names {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" {
			continue
		}
		l := Layer(name)
		if !slices.Contains(Layers(), l) {
			return nil, fmt.Errorf("%w: unknown layer %q", ErrInvalidLayers, raw)
		}
		out = append(out, l)
	}
	return out, nil
}

// Stack is the outermost wrapper returned by Build together with every layer
// it contains.
type Stack struct {
	channel.Channel
	layers []Layer
	stats  []StatsProvider
}

// Layers reports the composed layers, innermost first.
func (s *Stack) Layers() []Layer {
	return slices.Clone(s.layers)
}

// Stats returns one snapshot per layer, innermost first.
func (s *Stack) Stats() []Stats {
	out := make([]Stats, 0, len(s.stats))
	for _, p := range s.stats {
		out = append(out, p.Stats())
	}
	return out
}

// Build wraps ch with the requested layers. Numbered is always present.
// LastOnly cannot be combined with Reliable or Ordered, and Ordered requires
// Reliable.
func Build(ch channel.Channel, cfg Config, layers ...Layer) (*Stack, error) {
	if ch == nil {
		return nil, fmt.Errorf("%w: nil channel", ErrInvalidLayers)
	}
	want, err := normalizeLayers(layers)
	if err != nil {
		return nil, err
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Stack{layers: []Layer{LayerNumbered}}
	numbered := NewNumbered(ch, cfg)
	s.Channel = numbered
	s.stats = append(s.stats, numbered)

	switch {
	case want[LayerLastOnly]:
		last := NewLastOnly(numbered, cfg)
		s.Channel = last
		s.layers = append(s.layers, LayerLastOnly)
		s.stats = append(s.stats, last)
	case want[LayerReliable]:
		reliable := NewReliable(numbered, cfg)
		s.Channel = reliable
		s.layers = append(s.layers, LayerReliable)
		s.stats = append(s.stats, reliable)
		if want[LayerOrdered] {
			ordered := NewOrdered(reliable, cfg)
			s.Channel = ordered
			s.layers = append(s.layers, LayerOrdered)
			s.stats = append(s.stats, ordered)
		}
	}

	logs.Debugf("stack.Build name=%s layers=%v", cfg.Name, s.layers)
	return s, nil
}

// ValidateLayers reports whether layers form a buildable stack.
func ValidateLayers(layers ...Layer) error {
	_, err := normalizeLayers(layers)
	return err
}

func normalizeLayers(layers []Layer) (map[Layer]bool, error) {
	want := make(map[Layer]bool, len(layers))
	for _, l := range layers {
		if !slices.Contains(Layers(), l) {
			return nil, fmt.Errorf("%w: unknown layer %q", ErrInvalidLayers, l)
		}
		if want[l] {
			return nil, fmt.Errorf("%w: duplicate layer %q", ErrInvalidLayers, l)
		}
		want[l] = true
	}
	if want[LayerLastOnly] && (want[LayerReliable] || want[LayerOrdered]) {
		return nil, fmt.Errorf("%w: lastonly cannot be combined with reliable or ordered", ErrInvalidLayers)
	}
	if want[LayerOrdered] && !want[LayerReliable] {
		return nil, fmt.Errorf("%w: ordered requires reliable", ErrInvalidLayers)
	}
	return want, nil
}
