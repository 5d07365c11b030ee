// Package rb implements the Reliable Broadcast primitive (spec §4.5) used
// by Report, PC_Set, Reset_ViewChange, and Reset_NewView: Bracha's
// three-message broadcast (Init/Echo/Ready) keyed by (sender, view, seq),
// delivering once 2f+k+1 matching Readys are collected, with the
// Echo-then-Ready and f+k+1-Ready amplification shortcuts.
//
// Dedup-by-digest bookkeeping grounded on other_examples'
// drand-drand core/dkg/broadcast.go, whose echoBroadcast tracks an
// already-retransmitted set keyed by packet hash to rebroadcast each
// message exactly once; this package keeps that one-shot-per-digest shape
// but layers Bracha's quorum thresholds on top, since spec §4.5 requires
// genuine Byzantine resilience the drand echo-broadcast does not attempt.
package rb

import (
	"github.com/spire-resilient-systems/spire-sub003/internal/membership"
	"github.com/spire-resilient-systems/spire-sub003/internal/wire"
)

// Slot is one Reliable Broadcast instance's state, keyed by its Tag.
type Slot struct {
	Tag wire.RBTag

	HaveInit bool
	Payload  []byte
	Digest   [32]byte

	Echoes map[membership.ReplicaID][32]byte
	Readys map[membership.ReplicaID][32]byte

	EchoSent  bool
	ReadySent bool
	Delivered bool
}

func newSlot(tag wire.RBTag) *Slot {
	return &Slot{
		Tag:    tag,
		Echoes: make(map[membership.ReplicaID][32]byte),
		Readys: make(map[membership.ReplicaID][32]byte),
	}
}

// majorityDigest returns the digest with at least quorum distinct votes in
// votes, if any.
func majorityDigest(votes map[membership.ReplicaID][32]byte, quorum int) ([32]byte, bool) {
	counts := make(map[[32]byte]int, len(votes))
	for _, d := range votes {
		counts[d]++
	}
	for d, n := range counts {
		if n >= quorum {
			return d, true
		}
	}
	return [32]byte{}, false
}
