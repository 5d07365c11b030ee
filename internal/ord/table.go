package ord

import (
	"fmt"

	"github.com/spire-resilient-systems/spire-sub003/internal/apperrors"
	"github.com/spire-resilient-systems/spire-sub003/internal/crypto"
	"github.com/spire-resilient-systems/spire-sub003/internal/membership"
	"github.com/spire-resilient-systems/spire-sub003/internal/po"
	"github.com/spire-resilient-systems/spire-sub003/internal/wire"
)

// Table is the per-replica Global-Order state: the ORD slot store plus the
// high-water marks spec §3 tracks (ord_aru, high_prepared, high_committed,
// pp_aru, and the leader-side next-seq counter).
//
// Bookkeeping shape grounded on other_examples' postgres gpac.go: a
// coordinator handler tracking per-phase vote pools (pre-write, pre-commit)
// keyed by a round identifier, transitioning state once each phase's quorum
// is reached, generalized here from its two phases to the Pre-Prepare /
// Prepare / Commit progression spec §4.3 defines.
type Table struct {
	quorum membership.Table

	slots map[wire.OrdSeq]*Slot

	// ppAru is the highest OrdSeq for which a validated Pre_Prepare chain
	// is contiguous from 0 (spec §3 pp_aru). ppNext is the next seq not
	// yet known to carry a Pre_Prepare.
	ppAru  wire.OrdSeq
	ppNext wire.OrdSeq

	// highPrepared/highCommitted are the highest OrdSeq with an assembled
	// prepare-/commit-certificate (not necessarily contiguous).
	highPrepared  wire.OrdSeq
	highCommitted wire.OrdSeq

	// aru is the contiguous executed high-water mark (spec §3 ord_aru /
	// exec_aru). nextExec is the next seq not yet known executed; aru is
	// only meaningful once nextExec > 0.
	aru      wire.OrdSeq
	nextExec wire.OrdSeq

	// nextSeq is the next OrdSeq this replica will propose, valid only
	// while it is leader of the current view.
	nextSeq wire.OrdSeq
}

// NewTable constructs an empty Global-Order table.
func NewTable(quorum membership.Table) *Table {
	return &Table{
		quorum: quorum,
		slots:  make(map[wire.OrdSeq]*Slot),
	}
}

// AcceptPrePrepare stores a leader-proposed ordinal assignment, enforcing
// invariant I2 (at most one Pre_Prepare per (view, seq)) and advancing
// pp_aru when seq fills the next gap. It does not check the
// ARU <= high_committed <= high_prepared <= pp_aru <= seq ordering chain
// (invariant I3).
func (t *Table) AcceptPrePrepare(pp wire.PrePrepare) (*Slot, error) {
	existing, ok := t.slots[pp.Seq]
	if ok && existing.PrePrepare != nil {
		if existing.View == pp.View && existing.PrePrepare.ProposalDigest != pp.ProposalDigest {
			return nil, apperrors.New(apperrors.KindEquivocation,
				"conflicting Pre_Prepare for view %d seq %d", pp.View, pp.Seq)
		}
		if existing.View == pp.View {
			return existing, nil
		}
	}

	s := existing
	if s == nil {
		s = newSlot(pp.Seq)
		t.slots[pp.Seq] = s
	}
	s.View = pp.View
	cp := pp
	s.PrePrepare = &cp

	if pp.Seq == t.ppNext {
		t.advancePPAru()
	}
	return s, nil
}

// advancePPAru walks forward from ppNext while a stored Pre_Prepare is
// present, extending pp_aru and ppNext together.
func (t *Table) advancePPAru() {
	for {
		s, ok := t.slots[t.ppNext]
		if !ok || s.PrePrepare == nil {
			break
		}
		t.ppAru = t.ppNext
		t.ppNext++
	}
}

// RecordPrepare applies a Prepare vote. Once SmallQuorum (2f+k) matching
// votes (excluding the Pre_Prepare's own originator, per spec §4.3) are
// collected, the slot's prepare-certificate is assembled and high_prepared
// advances.
func (t *Table) RecordPrepare(sender membership.ReplicaID, prepare wire.Prepare, share crypto.ThresholdShare) (*Slot, error) {
	s, ok := t.slots[prepare.Seq]
	if !ok || s.PrePrepare == nil {
		return nil, apperrors.ErrPOMissing.WithMessage(fmt.Sprintf("prepare for unknown Pre_Prepare at seq %d", prepare.Seq))
	}
	if s.PrePrepare.ProposalDigest != prepare.Digest {
		return nil, apperrors.New(apperrors.KindEquivocation, "prepare digest mismatch at seq %d from replica %d", prepare.Seq, sender)
	}
	if sender == t.quorum.Leader(prepare.View) {
		return nil, apperrors.New(apperrors.KindValidation, "leader %d may not contribute a Prepare vote for its own Pre_Prepare", sender)
	}
	s.Prepares[sender] = prepare

	if s.PrepareCert != nil {
		return s, nil
	}
	if len(s.Prepares) < t.quorum.SmallQuorum() {
		return s, nil
	}
	shares := collectShares(s.Prepares, prepare.Digest, share)
	cert, err := crypto.Combine(shares, t.quorum.SmallQuorum())
	if err != nil {
		return s, nil
	}
	s.PrepareCert = &cert
	if prepare.Seq > t.highPrepared {
		t.highPrepared = prepare.Seq
	}
	return s, nil
}

// RecordCommit applies a Commit vote. Once LargeQuorum (2f+k+1) matching
// votes are collected, the slot's commit-certificate is assembled, the slot
// becomes Ordered, and high_committed advances.
func (t *Table) RecordCommit(sender membership.ReplicaID, commit wire.Commit, share crypto.ThresholdShare) (*Slot, error) {
	s, ok := t.slots[commit.Seq]
	if !ok || s.PrePrepare == nil {
		return nil, apperrors.ErrPOMissing.WithMessage(fmt.Sprintf("commit for unknown Pre_Prepare at seq %d", commit.Seq))
	}
	if s.PrePrepare.ProposalDigest != commit.Digest {
		return nil, apperrors.New(apperrors.KindEquivocation, "commit digest mismatch at seq %d from replica %d", commit.Seq, sender)
	}
	s.Commits[sender] = commit

	if s.CommitCert != nil {
		return s, nil
	}
	if len(s.Commits) < t.quorum.LargeQuorum() {
		return s, nil
	}
	shares := collectCommitShares(s.Commits, commit.Digest, share)
	cert, err := crypto.Combine(shares, t.quorum.LargeQuorum())
	if err != nil {
		return s, nil
	}
	s.CommitCert = &cert
	s.Ordered = true
	if commit.Seq > t.highCommitted {
		t.highCommitted = commit.Seq
	}
	return s, nil
}

func collectShares(prepares map[membership.ReplicaID]wire.Prepare, digest [32]byte, share crypto.ThresholdShare) []crypto.ThresholdShare {
	out := make([]crypto.ThresholdShare, 0, len(prepares))
	for r := range prepares {
		out = append(out, crypto.ThresholdShare{ReplicaIndex: int(r), Digest: digest, Share: share.Share})
	}
	return out
}

func collectCommitShares(commits map[membership.ReplicaID]wire.Commit, digest [32]byte, share crypto.ThresholdShare) []crypto.ThresholdShare {
	out := make([]crypto.ThresholdShare, 0, len(commits))
	for r := range commits {
		out = append(out, crypto.ThresholdShare{ReplicaIndex: int(r), Digest: digest, Share: share.Share})
	}
	return out
}

// SetMadeEligible records the per-originator execution ceiling this slot's
// Proof_Matrix granted (spec §4.2/§4.3's eligibility hand-off), computed by
// the caller via po.Eligible over the slot's Pre_Prepare.CumAcks.
func (t *Table) SetMadeEligible(seq wire.OrdSeq, eligible map[membership.ReplicaID]uint64) error {
	s, ok := t.slots[seq]
	if !ok {
		return fmt.Errorf("ord: no slot stored at seq %d", seq)
	}
	s.MadeEligible = eligible
	return nil
}

// Execute marks an Ordered slot Executed, setting its Kind from whether it
// carried a real commit or was filled as NO_OP/NO_OP_PLUS during a view
// change (spec §3), and advances the contiguous execution high-water mark.
func (t *Table) Execute(seq wire.OrdSeq, kind Kind) error {
	s, ok := t.slots[seq]
	if !ok || !s.Ordered {
		return fmt.Errorf("ord: seq %d is not ordered, cannot execute", seq)
	}
	s.Kind = kind
	s.Executed = true

	if seq == t.nextExec {
		t.advanceAru()
	}
	return nil
}

// advanceAru walks forward from nextExec while an Executed slot is present,
// extending aru (the contiguous executed high-water mark) and nextExec
// together. The first call, with nextExec still at its zero value, checks
// seq 0 — the first ordinal this replica ever orders.
func (t *Table) advanceAru() {
	for {
		s, ok := t.slots[t.nextExec]
		if !ok || !s.Executed {
			break
		}
		t.aru = t.nextExec
		t.nextExec++
	}
}

// Reset reinitializes this table to fresh-table state, the ORD-side half of
// spec §4.8 step 3's "ordering begins at ordinal 1, view 1" on a completed
// System Reset. This table already numbers OrdSeq from 0 (NewTable's zero
// value), so "begins at ordinal 1" translates here to discarding every slot
// and high-water mark exactly as NewTable would construct them — there is no
// seq 0 carried over from the prior global incarnation.
func (t *Table) Reset() {
	t.slots = make(map[wire.OrdSeq]*Slot)
	t.ppAru = 0
	t.ppNext = 0
	t.highPrepared = 0
	t.highCommitted = 0
	t.aru = 0
	t.nextExec = 0
	t.nextSeq = 0
}

// Slot returns the stored ORD slot at seq, if any.
func (t *Table) Slot(seq wire.OrdSeq) (*Slot, bool) {
	s, ok := t.slots[seq]
	return s, ok
}

// Aru reports the contiguous executed high-water mark.
func (t *Table) Aru() wire.OrdSeq { return t.aru }

// PPAru reports the contiguous validated-Pre_Prepare high-water mark.
func (t *Table) PPAru() wire.OrdSeq { return t.ppAru }

// HighPrepared reports the highest seq with an assembled prepare-certificate.
func (t *Table) HighPrepared() wire.OrdSeq { return t.highPrepared }

// HighCommitted reports the highest seq with an assembled commit-certificate.
func (t *Table) HighCommitted() wire.OrdSeq { return t.highCommitted }

// NextSeq returns and consumes the next OrdSeq for this replica to propose
// as leader, spec §4.3's "Pre_Prepare is issued for the ordinal immediately
// following the leader's own highest issued seq."
func (t *Table) NextSeq() wire.OrdSeq {
	seq := t.nextSeq
	t.nextSeq++
	return seq
}

// BuildPrePrepare assembles a leader proposal over a batch of eligible PO
// keys (already in spec §4.2 execution order), embedding the current
// Proof_Matrix (cumAcks) and last_executed vector po.Table exposes. Spec §3:
// proposal_digest is not a digest over this particular batch — it is the
// digest of the Reset_Certificate's Reset_Proposal that founded the current
// global incarnation, carried unchanged on every Pre_Prepare until the next
// reset (spec §4.3, §4.8 step 3); the caller supplies it as foundingDigest.
func BuildPrePrepare(seq wire.OrdSeq, view uint64, batch []po.Key, foundingDigest [32]byte, cumAcks wire.ProofMatrix, lastExecuted []wire.PoSeqPair) (wire.PrePrepare, error) {
	return wire.PrePrepare{
		Seq:            seq,
		View:           view,
		ProposalDigest: foundingDigest,
		LastExecuted:   lastExecuted,
		CumAcks:        cumAcks,
	}, nil
}
