// Package stack owns the delivery-guarantee middleware layered over a
// channel.Channel.
//
// Ownership boundary:
// - sequence numbering (Numbered)
// - staleness-discarding delivery (LastOnly)
// - acknowledged, retransmitted, deduplicated delivery (Reliable)
// - gap-filling ordered delivery (Ordered)
// - layer composition (Build)
//
// Send path: Ordered -> Reliable -> Numbered -> channel. Receive mirrors it.
package stack
