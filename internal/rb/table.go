package rb

import (
	"github.com/spire-resilient-systems/spire-sub003/internal/apperrors"
	"github.com/spire-resilient-systems/spire-sub003/internal/crypto"
	"github.com/spire-resilient-systems/spire-sub003/internal/membership"
	"github.com/spire-resilient-systems/spire-sub003/internal/wire"
)

// Table tracks every in-flight Reliable Broadcast instance this replica
// participates in, one Slot per Tag.
type Table struct {
	self   membership.ReplicaID
	quorum membership.Table
	slots  map[wire.RBTag]*Slot
}

// NewTable constructs an empty Reliable Broadcast table for self within
// quorum.
func NewTable(self membership.ReplicaID, quorum membership.Table) *Table {
	return &Table{self: self, quorum: quorum, slots: make(map[wire.RBTag]*Slot)}
}

func (t *Table) slotFor(tag wire.RBTag) *Slot {
	s, ok := t.slots[tag]
	if !ok {
		s = newSlot(tag)
		t.slots[tag] = s
	}
	return s
}

// Start originates a new broadcast for payload under tag — only the
// instance's sender calls this, building the RB_Init to disseminate.
func (t *Table) Start(tag wire.RBTag, payload []byte) wire.RBInit {
	s := t.slotFor(tag)
	s.HaveInit = true
	s.Payload = payload
	s.Digest = crypto.DigestBytes(payload)
	return wire.RBInit{Tag: tag, Payload: payload}
}

// OnInit applies a received RB_Init, returning the RB_Echo to broadcast in
// response. internal/validate is responsible for rejecting an Init whose
// tag.Sender does not match the message's actual signer; this package only
// enforces digest consistency across repeated Inits for the same tag.
func (t *Table) OnInit(init wire.RBInit) (*Slot, wire.RBEcho, error) {
	s := t.slotFor(init.Tag)
	digest := crypto.DigestBytes(init.Payload)
	if s.HaveInit && s.Digest != digest {
		return nil, wire.RBEcho{}, apperrors.New(apperrors.KindEquivocation,
			"conflicting RB_Init for tag %+v", init.Tag)
	}
	if !s.HaveInit {
		s.HaveInit = true
		s.Payload = init.Payload
		s.Digest = digest
	}
	echo := wire.RBEcho{Tag: init.Tag, Sender: t.self, Digest: s.Digest}
	s.EchoSent = true
	return s, echo, nil
}

// OnEcho applies a received RB_Echo. Once 2f+k+1 matching echoes are
// collected, and this replica has not yet sent a Ready for the tag, it
// returns the RB_Ready to broadcast (spec §4.5: "Readys are also sent upon
// 2f+k+1 Echos").
func (t *Table) OnEcho(echo wire.RBEcho) (*Slot, *wire.RBReady, error) {
	s := t.slotFor(echo.Tag)
	s.Echoes[echo.Sender] = echo.Digest
	return s, t.maybeReadyFromQuorum(s, s.Echoes, t.quorum.LargeQuorum()), nil
}

// OnReady applies a received RB_Ready. f+k+1 matching Readys (and no Ready
// sent yet) triggers Bracha amplification: this replica also sends Ready.
// 2f+k+1 matching Readys delivers the payload, provided this replica also
// locally knows a matching Init; otherwise delivery stalls pending Catchup
// (spec §4.7), signaled via a KindMissingState error.
func (t *Table) OnReady(ready wire.RBReady) (*Slot, *wire.RBReady, []byte, error) {
	s := t.slotFor(ready.Tag)
	s.Readys[ready.Sender] = ready.Digest

	if s.Delivered {
		return s, nil, nil, nil
	}

	amplify := t.maybeReadyFromQuorum(s, s.Readys, t.quorum.FPlusKPlusOne())

	digest, ok := majorityDigest(s.Readys, t.quorum.LargeQuorum())
	if !ok {
		return s, amplify, nil, nil
	}
	if !s.HaveInit || s.Digest != digest {
		return s, amplify, nil, apperrors.ErrPOMissing.WithMessage("RB delivery reached quorum but payload not yet locally known")
	}
	s.Delivered = true
	return s, amplify, s.Payload, nil
}

// maybeReadyFromQuorum returns the RB_Ready this replica should broadcast
// once votes reaches quorum distinct matching entries and no Ready has
// been sent yet for s; nil otherwise.
func (t *Table) maybeReadyFromQuorum(s *Slot, votes map[membership.ReplicaID][32]byte, quorum int) *wire.RBReady {
	if s.ReadySent {
		return nil
	}
	digest, ok := majorityDigest(votes, quorum)
	if !ok {
		return nil
	}
	s.ReadySent = true
	ready := wire.RBReady{Tag: s.Tag, Sender: t.self, Digest: digest}
	return &ready
}

// Slot returns the stored RB slot for tag, if any.
func (t *Table) Slot(tag wire.RBTag) (*Slot, bool) {
	s, ok := t.slots[tag]
	return s, ok
}
