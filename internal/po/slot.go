// Package po implements the Pre-Order layer (spec §4.2): per-originator
// sequencing of client updates, PO_Ack/PO_ARU witnessing, and the
// eligibility computation a Global-Order Pre_Prepare relies on.
//
// State-machine shape grounded on other_examples' mirbft sequence.go
// (Uninitialized→Allocated→PendingRequests→Ready→Preprepared→Prepared→
// Committed), renamed to the five PO states spec §4.2 names; the
// SethuRamanOmanakuttan-mirbft actions.go pattern of returning emitted
// outputs from a state transition informed Table's Record*/BuildPOAck
// methods, which return the messages to emit rather than sending directly.
package po

import (
	"github.com/spire-resilient-systems/spire-sub003/internal/crypto"
	"github.com/spire-resilient-systems/spire-sub003/internal/membership"
	"github.com/spire-resilient-systems/spire-sub003/internal/wire"
)

// State is one PO slot's position in spec §4.2's lifecycle.
type State int

const (
	Absent State = iota
	Stored
	Acked
	Witnessed
	Executed
)

func (s State) String() string {
	switch s {
	case Absent:
		return "ABSENT"
	case Stored:
		return "STORED"
	case Acked:
		return "ACKED"
	case Witnessed:
		return "WITNESSED"
	case Executed:
		return "EXECUTED"
	default:
		return "UNKNOWN"
	}
}

// Key identifies a PO slot by (originator, PoSeqPair) — spec §3.
type Key struct {
	Originator membership.ReplicaID
	Seq        wire.PoSeqPair
}

// Slot is the PO_Request, its digest, and the acks collected for it — spec
// §3's "PO slot" state object.
type Slot struct {
	Key     Key
	Request wire.PORequest
	Digest  [32]byte
	State   State
	Acks    map[membership.ReplicaID]wire.AckPart
	Cert    *crypto.CombinedCertificate // set once Witnessed (2f+k+1 acks)
}

func newSlot(key Key, req wire.PORequest, digest [32]byte) *Slot {
	return &Slot{
		Key:     key,
		Request: req,
		Digest:  digest,
		State:   Stored,
		Acks:    make(map[membership.ReplicaID]wire.AckPart),
	}
}
