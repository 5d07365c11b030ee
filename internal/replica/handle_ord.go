package replica

import (
	"time"

	"github.com/spire-resilient-systems/spire-sub003/internal/membership"
	"github.com/spire-resilient-systems/spire-sub003/internal/ord"
	"github.com/spire-resilient-systems/spire-sub003/internal/po"
	"github.com/spire-resilient-systems/spire-sub003/internal/transport"
	"github.com/spire-resilient-systems/spire-sub003/internal/wire"
)

// onPrePrepare accepts a leader-proposed ordinal assignment, binds its
// eligibility vector, and — unless this replica is itself the leader who
// proposed it — casts a Prepare vote.
func (r *Replica) onPrePrepare(from membership.ReplicaID, pp wire.PrePrepare) {
	if from != r.quorum.Leader(pp.View) {
		r.logger.Warn("replica: Pre_Prepare from non-leader", "from", from, "view", pp.View)
		return
	}
	if pp.ProposalDigest != r.foundingDigest {
		r.logger.Warn("replica: Pre_Prepare proposal_digest does not match founding reset proposal",
			"view", pp.View, "seq", pp.Seq)
		return
	}
	if _, err := r.ord.AcceptPrePrepare(pp); err != nil {
		r.logger.Warn("replica: Pre_Prepare rejected", "view", pp.View, "seq", pp.Seq, "err", err)
		return
	}

	eligible := po.Eligible(pp.CumAcks, r.quorum.Replicas(), r.quorum)
	if err := r.ord.SetMadeEligible(pp.Seq, eligible); err != nil {
		r.logger.Error("replica: binding eligibility", "err", err)
	}

	if tm, ok := r.suspect.RecordPrePrepareAccepted(r.self, time.Now()); ok {
		r.broadcast(wire.KindTATMeasure, tm, transport.Bounded)
	}

	if from == r.self {
		return // leader does not vote on its own proposal (ord.RecordPrepare forbids it)
	}
	prepare := wire.Prepare{
		Seq:                      pp.Seq,
		View:                     pp.View,
		Digest:                   pp.ProposalDigest,
		PreinstalledIncarnations: r.incarn.InstalledVector(),
		Sender:                   r.self,
	}
	r.broadcast(wire.KindPrepare, prepare, transport.Bounded)
}

// onPrepare applies a Prepare vote, casting this replica's Commit vote once
// a prepare-certificate assembles.
func (r *Replica) onPrepare(from membership.ReplicaID, prepare wire.Prepare) {
	share, err := r.thresh.Share(prepare.Digest)
	if err != nil {
		r.logger.Error("replica: share Prepare digest", "err", err)
		return
	}
	slot, err := r.ord.RecordPrepare(from, prepare, share)
	if err != nil {
		r.logger.Warn("replica: Prepare rejected", "from", from, "err", err)
		return
	}
	if slot.PrepareCert == nil || r.sentCommit[prepare.Seq] {
		return
	}
	r.sentCommit[prepare.Seq] = true
	commit := wire.Commit{
		Seq:                      prepare.Seq,
		View:                     prepare.View,
		Digest:                   prepare.Digest,
		PreinstalledIncarnations: r.incarn.InstalledVector(),
		Sender:                   r.self,
	}
	r.broadcast(wire.KindCommit, commit, transport.Bounded)
}

// onCommit applies a Commit vote, executing the ORD slot once a
// commit-certificate assembles.
func (r *Replica) onCommit(from membership.ReplicaID, commit wire.Commit) {
	share, err := r.thresh.Share(commit.Digest)
	if err != nil {
		r.logger.Error("replica: share Commit digest", "err", err)
		return
	}
	slot, err := r.ord.RecordCommit(from, commit, share)
	if err != nil {
		r.logger.Warn("replica: Commit rejected", "from", from, "err", err)
		return
	}
	if !slot.Ordered || r.executed[commit.Seq] {
		return
	}
	r.executed[commit.Seq] = true
	if err := r.ord.Execute(commit.Seq, ord.KindCommit); err != nil {
		r.logger.Error("replica: executing ordered slot", "seq", commit.Seq, "err", err)
		return
	}
	r.executeEligible(slot.MadeEligible, commit.Seq)
}

// proposePrePrepare is the leader's own action at an armed propose timer
// (see timers.go): it takes every PO slot the current matrix makes
// eligible and not yet batched into a proposal, and issues the next
// Pre_Prepare.
func (r *Replica) proposePrePrepare() {
	if r.quorum.Leader(r.view) != r.self {
		return
	}
	matrix := r.currentMatrix()
	seq := r.ord.NextSeq()
	lastExecuted := make([]wire.PoSeqPair, r.quorum.N)
	for _, rep := range r.quorum.Replicas() {
		lastExecuted[rep-1] = r.po.CumAru(rep)
	}
	batch := make([]po.Key, 0)
	pp, err := ord.BuildPrePrepare(seq, r.view, batch, r.foundingDigest, matrix, lastExecuted)
	if err != nil {
		r.logger.Error("replica: building Pre_Prepare", "err", err)
		return
	}
	r.broadcast(wire.KindPrePrepare, pp, transport.Bounded)
	if r.attack.InconsistentPP {
		r.sendEquivocatingPrePrepare(pp)
	}
	r.suspect.RecordProofMatrixSent(time.Now())
}

// sendEquivocatingPrePrepare is a boundary-scenario fault injection (spec §6
// attack.inconsistent_pp, modeled on driver.c's INCONSISTENT_PP): it gives
// the lowest-indexed non-self replica a Pre_Prepare for the same (seq, view)
// but a different ProposalDigest than everyone else received, so a harness
// can exercise Prepare-certificate conflict detection and the Suspect-Leader
// path without a genuinely malicious second process.
func (r *Replica) sendEquivocatingPrePrepare(pp wire.PrePrepare) {
	var target membership.ReplicaID
	for _, rep := range r.quorum.Replicas() {
		if rep != r.self {
			target = rep
			break
		}
	}
	if target == 0 {
		return
	}
	forged := pp
	forged.ProposalDigest = r.digestOf(forged.LastExecuted)
	r.sendTo(target, wire.KindPrePrepare, forged, transport.Bounded)
}
