// Package channel defines the message channel capability every binding and
// middleware layer implements, plus small compositional utilities.
//
// Ownership boundary:
// - Channel/Sender/Receiver contracts
// - channel-layer error taxonomy (closed, failed)
// - inspection, merge, split and loopback helpers
package channel
