// Package protocol owns the envelope wire contract.
//
// Ownership boundary:
// - envelope header layout and kinds
// - encode/decode primitives
// - protocol error sentinels
package protocol
