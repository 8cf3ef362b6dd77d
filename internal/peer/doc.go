// Package peer runs one interactive courier endpoint: it opens the configured
// binding, wraps it in the configured layer stack and exchanges chat lines
// with the remote peer.
//
// Ownership boundary:
// - binding selection (udp, tcp, websocket, nats, mem)
// - stack and codec wiring
// - admin surface lifecycle
package peer
