package stack

import (
	"sync/atomic"

	"github.com/danmuck/courier/internal/observability"
)

// Stats is a point-in-time snapshot of one layer's counters.
type Stats struct {
	Name             string `json:"name"`
	Layer            Layer  `json:"layer"`
	Sent             uint64 `json:"sent"`
	Received         uint64 `json:"received"`
	Retransmits      uint64 `json:"retransmits,omitempty"`
	AcksSent         uint64 `json:"acks_sent,omitempty"`
	AcksReceived     uint64 `json:"acks_received,omitempty"`
	DeliveryFailures uint64 `json:"delivery_failures,omitempty"`
	Duplicates       uint64 `json:"duplicates,omitempty"`
	StaleDropped     uint64 `json:"stale_dropped,omitempty"`
	ProtocolErrors   uint64 `json:"protocol_errors,omitempty"`
	Window           int    `json:"window,omitempty"`
	Buffered         int    `json:"buffered,omitempty"`
}

// StatsProvider is implemented by every layer.
type StatsProvider interface {
	Stats() Stats
}

type counters struct {
	name  string
	layer Layer
	rec   observability.StackRecorder

	sent             atomic.Uint64
	received         atomic.Uint64
	retransmits      atomic.Uint64
	acksSent         atomic.Uint64
	acksReceived     atomic.Uint64
	deliveryFailures atomic.Uint64
	duplicates       atomic.Uint64
	staleDropped     atomic.Uint64
	protocolErrors   atomic.Uint64
}

func newCounters(name string, layer Layer) *counters {
	return &counters{
		name:  name,
		layer: layer,
		rec:   observability.ForStack(name, string(layer)),
	}
}

func (c *counters) add(v *atomic.Uint64, event string) {
	v.Add(1)
	c.rec.Event(event)
}

func (c *counters) snapshot() Stats {
	return Stats{
		Name:             c.name,
		Layer:            c.layer,
		Sent:             c.sent.Load(),
		Received:         c.received.Load(),
		Retransmits:      c.retransmits.Load(),
		AcksSent:         c.acksSent.Load(),
		AcksReceived:     c.acksReceived.Load(),
		DeliveryFailures: c.deliveryFailures.Load(),
		Duplicates:       c.duplicates.Load(),
		StaleDropped:     c.staleDropped.Load(),
		ProtocolErrors:   c.protocolErrors.Load(),
	}
}
