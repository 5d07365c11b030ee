package po

import (
	"fmt"
	"sort"

	"github.com/spire-resilient-systems/spire-sub003/internal/apperrors"
	"github.com/spire-resilient-systems/spire-sub003/internal/crypto"
	"github.com/spire-resilient-systems/spire-sub003/internal/membership"
	"github.com/spire-resilient-systems/spire-sub003/internal/wire"
)

// Table is the per-replica PO state spec §3 describes:
// intro_client_seq, last_executed_po_reqs, max_acked, aru, cum_aru,
// cum_acks, white_line, and Pending_Execution, plus the slot store itself.
// One Table exists per running replica; indices below are by
// membership.ReplicaID (the originator whose sequence the entry tracks),
// not by the owning replica.
type Table struct {
	quorum membership.Table

	slots map[Key]*Slot

	// aru[r] is this replica's own contiguous reception high-water mark
	// for originator r (spec §3 "own contiguous reception").
	aru map[membership.ReplicaID]uint64

	// cumAru[r] is the (2f+k+1)-witnessed contiguous high-water mark for
	// originator r, derived from this table's own Witnessed slots
	// (advanceCumAru).
	cumAru map[membership.ReplicaID]wire.PoSeqPair

	// maxAcked[r] is the highest seq for originator r this replica has
	// sent a PO_Ack_Part for.
	maxAcked map[membership.ReplicaID]uint64

	// cumAcksDirty marks that cum_aru advanced since the last PO_ARU
	// broadcast (spec §4.2 duplicate suppression).
	cumAcksDirty bool

	// whiteLine[r] is the highest seq for originator r that has been
	// executed.
	whiteLine map[membership.ReplicaID]uint64

	pendingAckParts []wire.AckPart
}

// NewTable constructs an empty PO table for the given membership.
func NewTable(quorum membership.Table) *Table {
	return &Table{
		quorum:    quorum,
		slots:     make(map[Key]*Slot),
		aru:       make(map[membership.ReplicaID]uint64),
		cumAru:    make(map[membership.ReplicaID]wire.PoSeqPair),
		maxAcked:  make(map[membership.ReplicaID]uint64),
		whiteLine: make(map[membership.ReplicaID]uint64),
	}
}

// StoreRequest stores a new PO_Request, enforcing invariant I1 (at most one
// PO_Request stored per (originator, seq)). If a slot already exists for
// key with a different digest, ErrEquivocatingPrePrepare-shaped evidence is
// returned instead — not fatal, fed to Suspect-Leader.
func (t *Table) StoreRequest(req wire.PORequest, digest [32]byte) (*Slot, error) {
	key := Key{Originator: req.Originator, Seq: req.Seq}
	if existing, ok := t.slots[key]; ok {
		if existing.Digest != digest {
			return nil, apperrors.New(apperrors.KindEquivocation,
				"conflicting PO_Request stored for originator %d seq %+v", req.Originator, req.Seq)
		}
		return existing, nil
	}

	slot := newSlot(key, req, digest)
	t.slots[key] = slot

	if req.Seq.SeqNum == t.aru[req.Originator]+1 {
		t.advanceAru(req.Originator)
	}
	return slot, nil
}

// advanceAru walks forward from aru[originator]+1 while contiguous slots
// are present, updating aru[originator] to the new contiguous high-water
// mark.
func (t *Table) advanceAru(originator membership.ReplicaID) {
	next := t.aru[originator] + 1
	for {
		key := Key{Originator: originator, Seq: wire.PoSeqPair{Incarnation: t.currentIncarnation(originator), SeqNum: next}}
		if _, ok := t.slots[key]; !ok {
			break
		}
		t.aru[originator] = next
		next++
	}
}

// currentIncarnation returns the incarnation component tracked for
// originator's most recently stored slot, defaulting to 0 for a replica
// with no stored slots yet. Real incarnation tracking lives in
// internal/recovery; PO only needs it to form lookup keys contiguously
// within a single incarnation.
func (t *Table) currentIncarnation(originator membership.ReplicaID) uint64 {
	var inc uint64
	for k := range t.slots {
		if k.Originator == originator && k.Seq.Incarnation >= inc {
			inc = k.Seq.Incarnation
		}
	}
	return inc
}

// CurrentIncarnation exports currentIncarnation for callers outside this
// package that need to form a Key for originator the same way this table
// does internally (internal/replica's executeEligible, which must match a
// ProofMatrix-eligible (originator, seq) against the incarnation the PO
// table actually stored it under, not the executing replica's own).
func (t *Table) CurrentIncarnation(originator membership.ReplicaID) uint64 {
	return t.currentIncarnation(originator)
}

// AckPartFor returns the PO_Ack_Part to emit for a newly stored slot and
// marks it Acked, advancing maxAcked. Spec §4.2: "On storing a new
// PO_Request from r at seq s (contiguously extending aru[r]), the replica
// enqueues a PO_Ack_Part."
func (t *Table) AckPartFor(key Key) (wire.AckPart, error) {
	slot, ok := t.slots[key]
	if !ok {
		return wire.AckPart{}, fmt.Errorf("po: no slot stored for %+v", key)
	}
	if slot.State == Stored {
		slot.State = Acked
	}
	if key.Seq.SeqNum > t.maxAcked[key.Originator] {
		t.maxAcked[key.Originator] = key.Seq.SeqNum
	}
	part := wire.AckPart{Originator: key.Originator, Seq: key.Seq, Digest: slot.Digest}
	t.pendingAckParts = append(t.pendingAckParts, part)
	return part, nil
}

// DrainAckParts returns and clears the ack parts accumulated since the
// last drain, for aggregation into an outbound PO_Ack (spec §4.2: "Parts
// are aggregated into PO_Ack messages").
func (t *Table) DrainAckParts() []wire.AckPart {
	parts := t.pendingAckParts
	t.pendingAckParts = nil
	return parts
}

// RecordAck applies a received PO_Ack_Part toward a slot's witness count.
// Once 2f+k+1 distinct replicas have acked matching digests, the slot
// becomes Witnessed and cert is populated from shares (supplied by the
// caller, which has already verified each share via internal/crypto).
func (t *Table) RecordAck(sender membership.ReplicaID, part wire.AckPart, share crypto.ThresholdShare) (*Slot, error) {
	key := Key{Originator: part.Originator, Seq: part.Seq}
	s, ok := t.slots[key]
	if !ok {
		return nil, apperrors.ErrPOMissing.WithMessage(fmt.Sprintf("ack for unknown slot %+v", key))
	}
	if s.Digest != part.Digest {
		return nil, apperrors.New(apperrors.KindEquivocation, "ack digest mismatch for slot %+v from replica %d", key, sender)
	}
	s.Acks[sender] = part

	if s.State == Witnessed {
		return s, nil
	}
	if len(s.Acks) < t.quorum.LargeQuorum() {
		return s, nil
	}

	shares := make([]crypto.ThresholdShare, 0, len(s.Acks))
	for r := range s.Acks {
		shares = append(shares, crypto.ThresholdShare{ReplicaIndex: int(r), Digest: part.Digest, Share: share.Share})
	}
	cert, err := crypto.Combine(shares, t.quorum.LargeQuorum())
	if err != nil {
		return s, nil // not yet combinable; stay Acked until enough verified shares arrive
	}
	s.Cert = &cert
	s.State = Witnessed
	if key.Seq.SeqNum == t.cumAru[key.Originator].SeqNum+1 || t.cumAru[key.Originator].SeqNum == 0 {
		t.advanceCumAru(key.Originator)
	}
	return s, nil
}

// advanceCumAru walks forward from cum_aru[originator] while a Witnessed
// slot exists at the next seq, matching aru's contiguous-advance shape.
func (t *Table) advanceCumAru(originator membership.ReplicaID) {
	cur := t.cumAru[originator]
	for {
		next := cur.SeqNum + 1
		key := Key{Originator: originator, Seq: wire.PoSeqPair{Incarnation: cur.Incarnation, SeqNum: next}}
		slot, ok := t.slots[key]
		if !ok || slot.State != Witnessed && slot.State != Executed {
			break
		}
		cur = key.Seq
	}
	if cur != t.cumAru[originator] {
		t.cumAru[originator] = cur
		t.cumAcksDirty = true
	}
}

// BuildPOARU emits the cumulative per-origin acknowledgement vector if it
// has changed since the last broadcast (spec §4.2 duplicate suppression),
// clearing the dirty flag.
func (t *Table) BuildPOARU(sender membership.ReplicaID, replicas []membership.ReplicaID) (wire.POARU, bool) {
	if !t.cumAcksDirty {
		return wire.POARU{}, false
	}
	t.cumAcksDirty = false
	vec := make([]wire.PoSeqPair, len(replicas))
	for i, r := range replicas {
		vec[i] = t.cumAru[r]
	}
	return wire.POARU{Sender: sender, AckForServer: vec}, true
}

// Slot returns the stored slot for key, if any.
func (t *Table) Slot(key Key) (*Slot, bool) {
	s, ok := t.slots[key]
	return s, ok
}

// MarkExecuted transitions a Witnessed slot to Executed once the owning
// ORD slot has executed it (spec §4.2: "Executed (made eligible by ORD
// slot)").
func (t *Table) MarkExecuted(key Key) error {
	s, ok := t.slots[key]
	if !ok {
		return fmt.Errorf("po: no slot stored for %+v", key)
	}
	s.State = Executed
	if key.Seq.SeqNum > t.whiteLine[key.Originator] {
		t.whiteLine[key.Originator] = key.Seq.SeqNum
	}
	return nil
}

// GarbageCollect removes Executed slots for originator with seq <= through,
// called once the owning ORD slot has itself been garbage-collected (spec
// §4.2: "garbage-collected only after the eligible-within ORD slot is
// itself garbage-collected").
func (t *Table) GarbageCollect(originator membership.ReplicaID, through uint64) {
	for key, slot := range t.slots {
		if key.Originator != originator || key.Seq.SeqNum > through {
			continue
		}
		if slot.State == Executed {
			delete(t.slots, key)
		}
	}
}

// Reset reinitializes this table to fresh-table state, the PO-side half of
// spec §4.8 step 3's founding-a-new-global-incarnation reset: every
// originator's PO_Request history, ack/witness state, and white_line belongs
// to the prior incarnation and must not leak into the new one (spec
// invariant 5, scenario S5).
func (t *Table) Reset() {
	t.slots = make(map[Key]*Slot)
	t.aru = make(map[membership.ReplicaID]uint64)
	t.cumAru = make(map[membership.ReplicaID]wire.PoSeqPair)
	t.maxAcked = make(map[membership.ReplicaID]uint64)
	t.cumAcksDirty = false
	t.whiteLine = make(map[membership.ReplicaID]uint64)
	t.pendingAckParts = nil
}

// WhiteLine reports the executed-through seq for originator.
func (t *Table) WhiteLine(originator membership.ReplicaID) uint64 {
	return t.whiteLine[originator]
}

// Aru reports this replica's own contiguous-reception high-water mark for
// originator.
func (t *Table) Aru(originator membership.ReplicaID) uint64 {
	return t.aru[originator]
}

// CumAru reports the (2f+k+1)-witnessed high-water PoSeqPair for
// originator.
func (t *Table) CumAru(originator membership.ReplicaID) wire.PoSeqPair {
	return t.cumAru[originator]
}

// sortedReplicas is a small helper used by callers building a stable
// per-replica vector from a map-backed Table.
func sortedReplicas(replicas []membership.ReplicaID) []membership.ReplicaID {
	out := append([]membership.ReplicaID(nil), replicas...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
