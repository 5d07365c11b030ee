// Package viewchange implements the View Change subprotocol (spec §4.6):
// Report/PC_Set collection via internal/rb, VC_List selection, threshold
// VC_Proof assembly, and the new leader's Replay of prepare-certificates
// (or NO_OP) into the fresh view, itself agreed via a PBFT-shaped two-phase
// Prepare/Commit over each replayed slot.
//
// Grounded directly on other_examples'
// sydneyli-distributePKI src/pbft/view_change.go: handleViewChange's
// f+1-higher-view escalation and 2f-vote NEW-VIEW trigger, and
// generatePrepreparesForNewView's min-s/max-s O-set construction (per seq,
// the unique prepared proof across collected view-change messages if any,
// else a no-op) — generalized here to 2f+k+1/f+k+1 quorums, a reliably
// broadcast Report+PC_Set exchange instead of one view-change payload, and
// a per-replayed-slot Prepare/Commit agreement reusing internal/ord's
// thresholds instead of installing O unilaterally.
package viewchange

import (
	"sort"

	"github.com/spire-resilient-systems/spire-sub003/internal/apperrors"
	"github.com/spire-resilient-systems/spire-sub003/internal/crypto"
	"github.com/spire-resilient-systems/spire-sub003/internal/membership"
	"github.com/spire-resilient-systems/spire-sub003/internal/wire"
)

// reportEntry is one source replica's Report plus the PC_Sets it has
// reliably broadcast so far.
type reportEntry struct {
	report wire.Report
	pcSets map[wire.OrdSeq]wire.PCSet
}

func (e *reportEntry) complete() bool {
	return len(e.pcSets) >= e.report.PCSetSize
}

// slotAgreement tracks per-replayed-seq Prepare/Commit votes during Replay.
type slotAgreement struct {
	prepares map[membership.ReplicaID][32]byte
	commits  map[membership.ReplicaID][32]byte
	prepared bool
	executed bool
}

func newSlotAgreement() *slotAgreement {
	return &slotAgreement{
		prepares: make(map[membership.ReplicaID][32]byte),
		commits:  make(map[membership.ReplicaID][32]byte),
	}
}

// Table is the per-replica View Change state for one target view.
type Table struct {
	self   membership.ReplicaID
	quorum membership.Table
	target uint64 // the view being changed to, i.e. V+1

	reports map[membership.ReplicaID]*reportEntry

	list          *wire.VCList
	partialSigs   map[membership.ReplicaID]wire.VCPartialSig
	proof         *wire.VCProof

	replay  *wire.Replay
	slots   map[wire.OrdSeq]*slotAgreement
	ordered []wire.OrdSeq

	installed bool
}

// NewTable constructs view-change state targeting view target.
func NewTable(self membership.ReplicaID, quorum membership.Table, target uint64) *Table {
	return &Table{
		self:    self,
		quorum:  quorum,
		target:  target,
		reports: make(map[membership.ReplicaID]*reportEntry),
		slots:   make(map[wire.OrdSeq]*slotAgreement),
	}
}

// Start builds this replica's own Report to reliably-broadcast first (spec
// §4.6: "reliably-broadcast Report(execARU, pc_set_size) then reliably-
// broadcast each PC_Set in ascending seq").
func (t *Table) Start(execARU wire.OrdSeq, pcSetSize int) wire.Report {
	return wire.Report{Sender: t.self, ExecARU: execARU, PCSetSize: pcSetSize}
}

// RecordReport applies a delivered Report (delivered via internal/rb).
func (t *Table) RecordReport(report wire.Report) {
	e, ok := t.reports[report.Sender]
	if !ok {
		e = &reportEntry{pcSets: make(map[wire.OrdSeq]wire.PCSet)}
		t.reports[report.Sender] = e
	}
	e.report = report
}

// RecordPCSet applies a delivered PC_Set.
func (t *Table) RecordPCSet(pcSet wire.PCSet) error {
	e, ok := t.reports[pcSet.Sender]
	if !ok {
		e = &reportEntry{pcSets: make(map[wire.OrdSeq]wire.PCSet)}
		t.reports[pcSet.Sender] = e
	}
	e.pcSets[pcSet.Seq] = pcSet
	return nil
}

// completeSources returns the replicas whose Report and full PC_Set run
// have both been delivered (spec's "complete_state" bitmask).
func (t *Table) completeSources() []membership.ReplicaID {
	out := make([]membership.ReplicaID, 0, len(t.reports))
	for r, e := range t.reports {
		if e.report.Sender == r && e.complete() {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// BuildVCList constructs the VC_List once LargeQuorum (2f+k+1) sources have
// reached complete state: the bitmask of those sources, and startSeq the
// lowest ExecARU+1 among them (the first seq at least one selected report
// may be missing a certificate for).
func (t *Table) BuildVCList() (wire.VCList, bool) {
	complete := t.completeSources()
	if len(complete) < t.quorum.LargeQuorum() {
		return wire.VCList{}, false
	}
	selected := complete[:t.quorum.LargeQuorum()]
	bitmask := make([]bool, t.quorum.N)
	minExecARU := t.reports[selected[0]].report.ExecARU
	for _, r := range selected {
		bitmask[r-1] = true
		if aru := t.reports[r].report.ExecARU; aru < minExecARU {
			minExecARU = aru
		}
	}
	list := wire.VCList{Sender: t.self, Bitmask: bitmask, StartSeq: minExecARU + 1}
	t.list = &list
	return list, true
}

// PartialSign produces this replica's threshold-signature share over list,
// to exchange once its own VC_List matches a peer's (spec §4.6).
func (t *Table) PartialSign(list wire.VCList, signer *crypto.ThresholdSigner) (wire.VCPartialSig, error) {
	digest, err := wire.Sha256Of(list)
	if err != nil {
		return wire.VCPartialSig{}, err
	}
	share, err := signer.Share(digest)
	if err != nil {
		return wire.VCPartialSig{}, err
	}
	return wire.VCPartialSig{Sender: t.self, List: list, Share: share.Share}, nil
}

// RecordVCPartialSig applies a received VC_Partial_Sig. Once f+k+1 shares
// over an identical (list, startSeq) are collected, returns the
// threshold-combined VC_Proof.
func (t *Table) RecordVCPartialSig(sig wire.VCPartialSig) (wire.VCProof, bool, error) {
	if t.partialSigs == nil {
		t.partialSigs = make(map[membership.ReplicaID]wire.VCPartialSig)
	}
	t.partialSigs[sig.Sender] = sig

	digest, err := wire.Sha256Of(sig.List)
	if err != nil {
		return wire.VCProof{}, false, err
	}
	shares := make([]crypto.ThresholdShare, 0, len(t.partialSigs))
	for r, s := range t.partialSigs {
		sd, err := wire.Sha256Of(s.List)
		if err != nil || sd != digest {
			continue
		}
		shares = append(shares, crypto.ThresholdShare{ReplicaIndex: int(r), Digest: digest, Share: s.Share})
	}
	if len(shares) < t.quorum.FPlusKPlusOne() {
		return wire.VCProof{}, false, nil
	}
	cert, err := crypto.Combine(shares, t.quorum.FPlusKPlusOne())
	if err != nil {
		return wire.VCProof{}, false, nil
	}
	proof := wire.VCProof{List: sig.List, Signature: flattenShares(cert)}
	t.proof = &proof
	return proof, true, nil
}

func flattenShares(cert crypto.CombinedCertificate) []byte {
	out := make([]byte, 0, len(cert.Shares)*32)
	for _, s := range cert.Shares {
		out = append(out, s.Share...)
	}
	return out
}

// BuildReplay is the leader of the target view's action on its first valid
// VC_Proof: for each seq in [list.StartSeq, maxExecARU], take the unique
// PC_Set seen at that seq across the selected (bitmasked) sources, or
// NO_OP if none reported one.
func (t *Table) BuildReplay(proof wire.VCProof, maxExecARU wire.OrdSeq) wire.Replay {
	slots := make([]wire.ReplaySlot, 0, int(maxExecARU-proof.List.StartSeq)+1)
	for seq := proof.List.StartSeq; seq <= maxExecARU; seq++ {
		if pc := t.uniquePCSetAt(proof.List, seq); pc != nil {
			cp := *pc
			slots = append(slots, wire.ReplaySlot{Seq: seq, Kind: wire.ReplayPCSet, Cert: &cp})
		} else {
			slots = append(slots, wire.ReplaySlot{Seq: seq, Kind: wire.ReplayNoOp})
		}
	}
	replay := wire.Replay{Proof: proof, Slots: slots}
	t.replay = &replay
	return replay
}

func (t *Table) uniquePCSetAt(list wire.VCList, seq wire.OrdSeq) *wire.PCSet {
	var found *wire.PCSet
	for r, e := range t.reports {
		if r < 1 || int(r) > len(list.Bitmask) || !list.Bitmask[r-1] {
			continue
		}
		pc, ok := e.pcSets[seq]
		if !ok {
			continue
		}
		if found == nil {
			cp := pc
			found = &cp
		}
	}
	return found
}

// OnReplay applies a leader-sent Replay (its threshold signature already
// verified by internal/validate before reaching this package): stores the
// per-slot agreement trackers and returns this replica's own
// Replay_Prepare for every slot.
func (t *Table) OnReplay(replay wire.Replay) ([]wire.ReplayPrepare, error) {
	t.replay = &replay
	out := make([]wire.ReplayPrepare, 0, len(replay.Slots))
	for _, slot := range replay.Slots {
		digest, err := wire.Sha256Of(slot)
		if err != nil {
			return nil, err
		}
		t.slots[slot.Seq] = newSlotAgreement()
		out = append(out, wire.ReplayPrepare{Seq: slot.Seq, Digest: digest, Sender: t.self})
	}
	return out, nil
}

// RecordReplayPrepare applies a received Replay_Prepare. Once SmallQuorum
// (2f+k) matching digests for seq are collected, returns this replica's own
// Replay_Commit for seq.
func (t *Table) RecordReplayPrepare(rp wire.ReplayPrepare) (*wire.ReplayCommit, error) {
	s, ok := t.slots[rp.Seq]
	if !ok {
		return nil, apperrors.ErrPOMissing.WithMessage("replay prepare for unreplayed seq")
	}
	s.prepares[rp.Sender] = rp.Digest
	if s.prepared {
		return nil, nil
	}
	if count := countMatching(s.prepares, rp.Digest); count < t.quorum.SmallQuorum() {
		return nil, nil
	}
	s.prepared = true
	return &wire.ReplayCommit{Seq: rp.Seq, Digest: rp.Digest, Sender: t.self}, nil
}

// RecordReplayCommit applies a received Replay_Commit. Once LargeQuorum
// (2f+k+1) matching digests for seq are collected, the slot is marked
// executed toward this view change's install. View installation completes
// once every replayed seq reaches that point; Installed reports it.
func (t *Table) RecordReplayCommit(rc wire.ReplayCommit) error {
	s, ok := t.slots[rc.Seq]
	if !ok {
		return apperrors.ErrPOMissing.WithMessage("replay commit for unreplayed seq")
	}
	s.commits[rc.Sender] = rc.Digest
	if count := countMatching(s.commits, rc.Digest); count >= t.quorum.LargeQuorum() {
		s.executed = true
	}
	return nil
}

func countMatching(votes map[membership.ReplicaID][32]byte, digest [32]byte) int {
	n := 0
	for _, d := range votes {
		if d == digest {
			n++
		}
	}
	return n
}

// Installed reports whether every replayed slot has reached its
// Replay_Commit quorum, i.e. the new view is ready to install.
func (t *Table) Installed() bool {
	if t.replay == nil || len(t.replay.Slots) == 0 {
		return false
	}
	for _, slot := range t.replay.Slots {
		s, ok := t.slots[slot.Seq]
		if !ok || !s.executed {
			return false
		}
	}
	return true
}

// List, Proof, and Replay expose the assembled artifacts, if any, for
// diagnostics and for internal/recovery's install step.
func (t *Table) List() (wire.VCList, bool) {
	if t.list == nil {
		return wire.VCList{}, false
	}
	return *t.list, true
}

func (t *Table) Proof() (wire.VCProof, bool) {
	if t.proof == nil {
		return wire.VCProof{}, false
	}
	return *t.proof, true
}

func (t *Table) Replay() (wire.Replay, bool) {
	if t.replay == nil {
		return wire.Replay{}, false
	}
	return *t.replay, true
}
