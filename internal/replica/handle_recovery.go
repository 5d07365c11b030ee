package replica

import (
	"fmt"

	"github.com/spire-resilient-systems/spire-sub003/internal/membership"
	"github.com/spire-resilient-systems/spire-sub003/internal/pkg/ulid"
	"github.com/spire-resilient-systems/spire-sub003/internal/po"
	"github.com/spire-resilient-systems/spire-sub003/internal/recovery"
	"github.com/spire-resilient-systems/spire-sub003/internal/transport"
	"github.com/spire-resilient-systems/spire-sub003/internal/wire"
)

// onNewIncarnation acks a peer's restart-time New_Incarnation.
func (r *Replica) onNewIncarnation(from membership.ReplicaID, ni wire.NewIncarnation) {
	ack, err := r.incarn.AckOther(ni)
	if err != nil {
		r.logger.Error("replica: acking New_Incarnation", "from", from, "err", err)
		return
	}
	r.sendTo(from, wire.KindIncarnationAck, ack, transport.Bounded)
}

// onIncarnationAck applies a received Incarnation_Ack toward this
// replica's own New_Incarnation certificate.
func (r *Replica) onIncarnationAck(from membership.ReplicaID, ack wire.IncarnationAck) {
	cert, ok, err := r.incarn.RecordAck(ack)
	if err != nil {
		r.logger.Warn("replica: Incarnation_Ack rejected", "from", from, "err", err)
		return
	}
	if !ok {
		return
	}
	r.broadcast(wire.KindIncarnationCert, cert, transport.Bounded)
	r.status = recovery.StatusNormal
}

// onIncarnationCert observes a peer announcing its own assembled
// Incarnation_Cert. This replica's own installed_incarnations vector only
// advances via BumpInstalled once a PO_Request executes under the new
// incarnation (spec §4.8); a peer's cert carries no actionable state here
// beyond that observation.
func (r *Replica) onIncarnationCert(cert wire.IncarnationCert) {
	r.logger.Debug("replica: peer incarnation certified", "sender", cert.NewInc.Sender)
}

// onPendingState and onPendingShare are the recovering-replica side of
// restart replay (spec §9 Open Question (b)); streaming the outstanding
// share set itself is left to internal/catchup's certificate stream, so
// these are presently observational only.
func (r *Replica) onPendingState(from membership.ReplicaID, ps wire.PendingState) {
	r.logger.Debug("replica: pending state announced", "from", from, "total", ps.TotalShares)
}

func (r *Replica) onPendingShare(from membership.ReplicaID, share wire.PendingShare) {
	r.logger.Debug("replica: pending share received", "from", from, "seq", share.SeqNum)
}

// ensureResetTable lazily arms reset-round state the first time this
// replica sees Reset_Vote traffic for the current view.
func (r *Replica) ensureResetTable() {
	if r.resetTbl == nil {
		r.resetTbl = recovery.NewResetTable(r.self, r.quorum, r.view)
	}
	if r.resetLdr == nil {
		r.resetLdr = recovery.NewResetLeaderTable(r.quorum)
	}
}

func (r *Replica) onResetVote(from membership.ReplicaID, vote wire.ResetVote) {
	r.ensureResetTable()
	if !r.resetTbl.RecordVote(vote) {
		return
	}
	share, err := r.thresh.Share(vote.ReferencedIncDigest)
	if err != nil {
		r.logger.Error("replica: sharing Reset_Vote digest", "err", err)
		return
	}
	rs := wire.ResetShare{Sender: r.self, View: r.view, Nonce: ulid.New(), SessionKey: share.Share}
	r.broadcast(wire.KindResetShare, rs, transport.Reconciliation)
}

func (r *Replica) onResetShare(from membership.ReplicaID, share wire.ResetShare) {
	r.ensureResetTable()
	r.resetTbl.RecordShare(share)
	if r.quorum.Leader(r.view) != r.self {
		return
	}
	proposal, ok := r.resetTbl.BuildProposal()
	if !ok {
		return
	}
	r.broadcast(wire.KindResetProposal, proposal, transport.Reconciliation)
}

func (r *Replica) onResetProposal(from membership.ReplicaID, proposal wire.ResetProposal) {
	r.ensureResetTable()
	prepare, err := r.resetTbl.OnProposal(proposal)
	if err != nil {
		r.logger.Error("replica: accepting Reset_Proposal", "err", err)
		return
	}
	r.broadcast(wire.KindResetPrepare, prepare, transport.Reconciliation)
}

func (r *Replica) onResetPrepare(from membership.ReplicaID, rp wire.ResetPrepare) {
	r.ensureResetTable()
	commit, ok, err := r.resetTbl.RecordPrepare(rp)
	if err != nil {
		r.logger.Warn("replica: Reset_Prepare rejected", "from", from, "err", err)
		return
	}
	if !ok {
		return
	}
	r.broadcast(wire.KindResetCommit, commit, transport.Reconciliation)
}

func (r *Replica) onResetCommit(from membership.ReplicaID, rc wire.ResetCommit) {
	r.ensureResetTable()
	newGCN := r.gcn + 1
	cert, ok, err := r.resetTbl.RecordCommit(rc, newGCN)
	if err != nil {
		r.logger.Warn("replica: Reset_Commit rejected", "from", from, "err", err)
		return
	}
	if !ok {
		return
	}
	r.broadcast(wire.KindResetCertificate, cert, transport.Reconciliation)
	if err := r.installResetCertificate(cert); err != nil {
		r.logger.Error("replica: installing own Reset_Certificate", "err", err)
	}
}

func (r *Replica) onResetNewLeader(from membership.ReplicaID, vote wire.ResetNewLeader) {
	r.ensureResetTable()
	proof, ok := r.resetLdr.RecordVote(vote)
	if !ok {
		return
	}
	r.broadcast(wire.KindResetNewLeaderProof, proof, transport.Reconciliation)
}

// onResetNewLeaderProof restarts the reset round's proposal phase under a
// fresh reset-leader once the stalled round's escalation quorum assembles.
func (r *Replica) onResetNewLeaderProof(proof wire.ResetNewLeaderProof) {
	r.logger.Info("replica: reset round escalated to new leader", "view", proof.View)
	r.resetTbl = recovery.NewResetTable(r.self, r.quorum, proof.View)
}

// onResetCertificate observes a peer's assembled Reset_Certificate,
// installing the same fresh global incarnation this replica's own
// RecordCommit path installs when it assembles the certificate locally.
func (r *Replica) onResetCertificate(cert wire.ResetCertificate) {
	if cert.GCN <= r.gcn {
		return
	}
	if err := r.installResetCertificate(cert); err != nil {
		r.logger.Error("replica: installing peer Reset_Certificate", "err", err)
	}
}

// installResetCertificate is spec §4.8 step 3: on 2f+k+1 Reset_Commits, the
// digest of the Reset_Proposal becomes the system's proposal_digest, GCN
// advances, and ordering begins at ordinal 1, view 1 (spec invariant 5,
// scenario S5) — so the ORD and PO tables from the prior global incarnation
// must not survive into the new one.
func (r *Replica) installResetCertificate(cert wire.ResetCertificate) error {
	digest, err := wire.Sha256Of(cert.Proposal)
	if err != nil {
		return fmt.Errorf("replica: digesting Reset_Proposal: %w", err)
	}
	r.foundingDigest = digest
	r.gcn = cert.GCN
	r.view = 1
	r.ord.Reset()
	r.po.Reset()
	r.status = recovery.StatusNormal
	r.resetTbl = nil
	r.resetLdr = nil
	r.sentCommit = make(map[wire.OrdSeq]bool)
	r.executed = make(map[wire.OrdSeq]bool)
	r.pendingClients = make(map[po.Key][]clientUpdate)
	r.catchup.ResetMismatchEvidence()
	return nil
}
