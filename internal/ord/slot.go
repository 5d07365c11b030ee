// Package ord implements the Global-Order layer (spec §4.3): the leader-
// driven Pre-Prepare/Prepare/Commit three-phase protocol over Proof-Matrix
// summaries, and execution of ordered slots against the application.
//
// State-machine shape grounded on the same mirbft sequence.go progression
// internal/po borrows (Preprepared→Prepared→Committed), generalized with
// other_examples' postgres gpac.go (a replicated three-phase coordinator:
// pre-write/vote collection → agreement → commit, with a handler struct
// tracking per-phase message pools and a transit() state change) for the
// certificate-assembly bookkeeping shape.
package ord

import (
	"github.com/spire-resilient-systems/spire-sub003/internal/crypto"
	"github.com/spire-resilient-systems/spire-sub003/internal/membership"
	"github.com/spire-resilient-systems/spire-sub003/internal/wire"
)

// Kind distinguishes how an ORD slot's content was ultimately decided —
// spec §3's ORD slot "kind ∈ {COMMIT, PC_SET, NO_OP, NO_OP_PLUS}".
type Kind int

const (
	KindCommit Kind = iota
	KindPCSet
	KindNoOp
	KindNoOpPlus
)

func (k Kind) String() string {
	switch k {
	case KindCommit:
		return "COMMIT"
	case KindPCSet:
		return "PC_SET"
	case KindNoOp:
		return "NO_OP"
	case KindNoOpPlus:
		return "NO_OP_PLUS"
	default:
		return "UNKNOWN"
	}
}

// Slot is spec §3's ORD slot state object, keyed by OrdSeq.
type Slot struct {
	Seq  wire.OrdSeq
	View uint64
	Kind Kind

	PrePrepare *wire.PrePrepare
	Prepares   map[membership.ReplicaID]wire.Prepare
	Commits    map[membership.ReplicaID]wire.Commit

	PrepareCert *crypto.CombinedCertificate
	CommitCert  *crypto.CombinedCertificate

	// MadeEligible is the per-originator seq this slot's Proof_Matrix made
	// executable, computed once (spec §4.3 "produces the per-replica
	// made_eligible vector").
	MadeEligible map[membership.ReplicaID]uint64

	Ordered  bool
	Executed bool
}

func newSlot(seq wire.OrdSeq) *Slot {
	return &Slot{
		Seq:      seq,
		Prepares: make(map[membership.ReplicaID]wire.Prepare),
		Commits:  make(map[membership.ReplicaID]wire.Commit),
	}
}
