package replica

import (
	"github.com/spire-resilient-systems/spire-sub003/internal/membership"
	"github.com/spire-resilient-systems/spire-sub003/internal/po"
	"github.com/spire-resilient-systems/spire-sub003/internal/transport"
	"github.com/spire-resilient-systems/spire-sub003/internal/viewchange"
	"github.com/spire-resilient-systems/spire-sub003/internal/wire"
)

// startViewChange arms view-change state targeting target and reliably
// broadcasts this replica's Report, followed by one PC_Set per
// prepare-certificate it holds above its execARU. A RBTag's Seq
// disambiguates the two: Seq == 0 carries a Report, Seq == seq carries the
// PC_Set for that ordinal (see onRBDelivered).
func (r *Replica) startViewChange(target uint64) {
	if target <= r.view || r.vc != nil {
		return
	}
	r.vc = viewchange.NewTable(r.self, r.quorum, target)
	r.vcTarget = target

	execARU := r.ord.Aru()
	highPrepared := r.ord.HighPrepared()

	var pcSets []wire.PCSet
	for seq := execARU + 1; seq <= highPrepared; seq++ {
		slot, ok := r.ord.Slot(seq)
		if !ok || slot.PrePrepare == nil || slot.PrepareCert == nil {
			continue
		}
		prepares := make([]wire.Prepare, 0, len(slot.Prepares))
		for _, p := range slot.Prepares {
			prepares = append(prepares, p)
		}
		pcSets = append(pcSets, wire.PCSet{Sender: r.self, Seq: seq, PrePrepare: *slot.PrePrepare, Prepares: prepares})
	}

	report := r.vc.Start(execARU, len(pcSets))
	r.rbStart(wire.RBTag{Sender: r.self, View: target, Seq: 0}, report)
	for _, pc := range pcSets {
		r.rbStart(wire.RBTag{Sender: r.self, View: target, Seq: uint64(pc.Seq)}, pc)
	}
}

// rbStart originates an RB instance carrying payload under tag and
// broadcasts the resulting RB_Init.
func (r *Replica) rbStart(tag wire.RBTag, payload any) {
	buf, err := gobEncode(payload)
	if err != nil {
		r.logger.Error("replica: encoding RB payload", "tag", tag, "err", err)
		return
	}
	init := r.rb.Start(tag, buf)
	r.broadcast(wire.KindRBInit, init, transport.Reconciliation)
}

func (r *Replica) onRBInit(from membership.ReplicaID, init wire.RBInit) {
	_, echo, err := r.rb.OnInit(init)
	if err != nil {
		r.logger.Warn("replica: RB_Init rejected", "from", from, "tag", init.Tag, "err", err)
		return
	}
	r.broadcast(wire.KindRBEcho, echo, transport.Reconciliation)
}

func (r *Replica) onRBEcho(from membership.ReplicaID, echo wire.RBEcho) {
	_, ready, err := r.rb.OnEcho(echo)
	if err != nil {
		r.logger.Warn("replica: RB_Echo rejected", "from", from, "tag", echo.Tag, "err", err)
		return
	}
	if ready != nil {
		r.broadcast(wire.KindRBReady, *ready, transport.Reconciliation)
	}
}

func (r *Replica) onRBReady(from membership.ReplicaID, ready wire.RBReady) {
	_, amplify, payload, err := r.rb.OnReady(ready)
	if amplify != nil {
		r.broadcast(wire.KindRBReady, *amplify, transport.Reconciliation)
	}
	if err != nil {
		// Delivery reached quorum but this replica does not yet locally
		// know the Init; Catchup (internal/catchup) is responsible for
		// closing the gap, spec §4.7.
		return
	}
	if payload == nil {
		return
	}
	r.onRBDelivered(ready.Tag, payload)
}

// onRBDelivered applies a payload this replica's own Reliable Broadcast
// table has just delivered, routing it by tag into whichever exchange is
// using the tag's (sender, view) pair — currently only View Change's
// Report/PC_Set run.
func (r *Replica) onRBDelivered(tag wire.RBTag, payload []byte) {
	if r.vc == nil || tag.View != r.vcTarget {
		return
	}
	if tag.Seq == 0 {
		var report wire.Report
		if err := gobDecode(payload, &report); err != nil {
			r.logger.Error("replica: decoding delivered Report", "err", err)
			return
		}
		r.vc.RecordReport(report)
	} else {
		var pc wire.PCSet
		if err := gobDecode(payload, &pc); err != nil {
			r.logger.Error("replica: decoding delivered PC_Set", "err", err)
			return
		}
		if err := r.vc.RecordPCSet(pc); err != nil {
			r.logger.Warn("replica: PC_Set rejected", "err", err)
			return
		}
	}
	if list, ok := r.vc.BuildVCList(); ok {
		r.broadcast(wire.KindVCList, list, transport.Reconciliation)
	}
}

func (r *Replica) onVCList(from membership.ReplicaID, list wire.VCList) {
	if r.vc == nil {
		return
	}
	own, ok := r.vc.List()
	if !ok {
		return
	}
	if !sameVCList(own, list) {
		return
	}
	sig, err := r.vc.PartialSign(list, r.thresh)
	if err != nil {
		r.logger.Error("replica: partial-signing VC_List", "err", err)
		return
	}
	r.broadcast(wire.KindVCPartialSig, sig, transport.Reconciliation)
}

func sameVCList(a, b wire.VCList) bool {
	if a.StartSeq != b.StartSeq || len(a.Bitmask) != len(b.Bitmask) {
		return false
	}
	for i := range a.Bitmask {
		if a.Bitmask[i] != b.Bitmask[i] {
			return false
		}
	}
	return true
}

func (r *Replica) onVCPartialSig(from membership.ReplicaID, sig wire.VCPartialSig) {
	if r.vc == nil {
		return
	}
	proof, ok, err := r.vc.RecordVCPartialSig(sig)
	if err != nil {
		r.logger.Error("replica: combining VC_Partial_Sig", "err", err)
		return
	}
	if !ok {
		return
	}
	r.broadcast(wire.KindVCProof, proof, transport.Reconciliation)
	r.onVCProof(r.self, proof)
}

// onVCProof is the new view's leader's trigger to assemble and broadcast
// the Replay.
func (r *Replica) onVCProof(from membership.ReplicaID, proof wire.VCProof) {
	if r.vc == nil || r.quorum.Leader(r.vcTarget) != r.self {
		return
	}
	maxExecARU := r.ord.HighCommitted()
	replay := r.vc.BuildReplay(proof, maxExecARU)
	r.broadcast(wire.KindReplay, replay, transport.Reconciliation)
}

func (r *Replica) onReplay(from membership.ReplicaID, replay wire.Replay) {
	if r.vc == nil {
		r.logger.Warn("replica: Replay received without local view-change state", "from", from)
		return
	}
	prepares, err := r.vc.OnReplay(replay)
	if err != nil {
		r.logger.Error("replica: processing Replay", "err", err)
		return
	}
	for _, rp := range prepares {
		r.broadcast(wire.KindReplayPrepare, rp, transport.Reconciliation)
	}
}

func (r *Replica) onReplayPrepare(from membership.ReplicaID, rp wire.ReplayPrepare) {
	if r.vc == nil {
		return
	}
	commit, err := r.vc.RecordReplayPrepare(rp)
	if err != nil {
		r.logger.Warn("replica: Replay_Prepare rejected", "from", from, "err", err)
		return
	}
	if commit == nil {
		return
	}
	r.broadcast(wire.KindReplayCommit, *commit, transport.Reconciliation)
}

func (r *Replica) onReplayCommit(from membership.ReplicaID, rc wire.ReplayCommit) {
	if r.vc == nil {
		return
	}
	if err := r.vc.RecordReplayCommit(rc); err != nil {
		r.logger.Warn("replica: Replay_Commit rejected", "from", from, "err", err)
		return
	}
	if r.vc.Installed() {
		r.installNewView()
	}
}

// installNewView adopts every replayed slot (spec §4.6: the
// Replay/Replay_Commit 2f+k+1 agreement itself stands in for the
// per-slot Prepare/Commit certificate ord.Table otherwise requires, since
// a replayed PC_Set already carries one from the prior view) and installs
// vcTarget as the running view.
func (r *Replica) installNewView() {
	replay, ok := r.vc.Replay()
	if ok {
		for _, slot := range replay.Slots {
			if slot.Kind != wire.ReplayPCSet || slot.Cert == nil {
				continue
			}
			if _, err := r.ord.AcceptPrePrepare(slot.Cert.PrePrepare); err != nil {
				r.logger.Error("replica: adopting replayed Pre_Prepare", "seq", slot.Seq, "err", err)
				continue
			}
			eligible := po.Eligible(slot.Cert.PrePrepare.CumAcks, r.quorum.Replicas(), r.quorum)
			r.executeEligible(eligible, slot.Seq)
		}
	}

	r.view = r.vcTarget
	r.suspect.InstallView(r.view)
	r.vc = nil
	r.vcTarget = 0
}
