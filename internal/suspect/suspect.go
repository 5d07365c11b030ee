// Package suspect implements the Suspect-Leader subprotocol (spec §4.4):
// turn-around-time measurement of the current leader, peer-RTT-derived
// acceptable-TAT ceilings, and New-Leader voting once the leader is judged
// too slow.
//
// Vote-collection shape grounded on internal/ord and internal/po's
// map-keyed quorum counting, generalized here to per-view New_Leader votes;
// the RTT/TAT measurement idiom draws on other_examples'
// TTorgersen-Hotstuff hotstuff.go ViewSynchronizer concept (a
// leader-timeout detector that measures and reacts, decoupled from the
// core consensus state machine) without any of its gorums/QC machinery,
// since spec §4.4 pins its own wire format and thresholds.
package suspect

import (
	"time"

	"github.com/google/uuid"

	"github.com/spire-resilient-systems/spire-sub003/internal/membership"
	"github.com/spire-resilient-systems/spire-sub003/internal/wire"
)

// Config holds the tunables spec §4.4 names: K_Lat, PP_time, and the
// leader_duration_sw window a sustained tat_leader > tat_acceptable
// condition must persist before a suspicion is raised.
type Config struct {
	KLat            float64
	PPTime          int64 // nanoseconds
	LeaderDuration  time.Duration
	TATMeasureRate  time.Duration
	PingHistoryDepth int
}

// DefaultConfig returns reasonable defaults; every field is overridable via
// internal/config.
func DefaultConfig() Config {
	return Config{
		KLat:             2.0,
		PPTime:           int64(50 * time.Millisecond),
		LeaderDuration:   2 * time.Second,
		TATMeasureRate:   500 * time.Millisecond,
		PingHistoryDepth: 10,
	}
}

// Table is the per-replica Suspect-Leader state: TAT_Leader measurement,
// TAT_Acceptable computation, and New-Leader vote collection, scoped to the
// currently installed view.
type Table struct {
	quorum membership.Table
	cfg    Config

	currentView uint64

	maxTAT       *ring
	tatWindow    int64 // current sliding-window maximum
	lastTATBroadcast time.Time
	reportedTATs map[membership.ReplicaID]int64
	tatLeader    int64

	rttHistory  map[membership.ReplicaID]*ring
	pendingPing map[string]time.Time // nonce -> sent_at
	tatIfLeader map[membership.ReplicaID]int64
	reportedTatIfLeader map[membership.ReplicaID]map[membership.ReplicaID]int64
	alpha       int64

	tatUBs       map[membership.ReplicaID]int64
	tatAcceptable int64

	conditionSince time.Time
	conditionHeld  bool
	suspicionSent  map[uint64]bool // view -> already suspected (spec: "exactly one suspicion per view")

	newLeaderVotes map[uint64]map[membership.ReplicaID]wire.NewLeader

	pendingProofMatrixSentAt time.Time
}

// NewTable constructs Suspect-Leader state for the given membership, view,
// and tunables.
func NewTable(quorum membership.Table, cfg Config, startView uint64) *Table {
	return &Table{
		quorum:              quorum,
		cfg:                 cfg,
		currentView:         startView,
		maxTAT:              newRing(8),
		reportedTATs:        make(map[membership.ReplicaID]int64),
		rttHistory:          make(map[membership.ReplicaID]*ring),
		pendingPing:         make(map[string]time.Time),
		tatIfLeader:         make(map[membership.ReplicaID]int64),
		reportedTatIfLeader: make(map[membership.ReplicaID]map[membership.ReplicaID]int64),
		tatUBs:              make(map[membership.ReplicaID]int64),
		suspicionSent:       make(map[uint64]bool),
		newLeaderVotes:      make(map[uint64]map[membership.ReplicaID]wire.NewLeader),
	}
}

// RecordProofMatrixSent timestamps a just-sent Proof_Matrix — the start of
// one TAT measurement interval (spec §4.4: "I timestamp the instant I sent
// the Proof_Matrix").
func (t *Table) RecordProofMatrixSent(at time.Time) {
	t.pendingProofMatrixSentAt = at
}

// RecordPrePrepareAccepted closes the TAT measurement interval opened by the
// most recent RecordProofMatrixSent, updating the sliding-window maximum.
// Returns a TAT_Measure to broadcast if max_tat changed and the per-view
// rate limit allows it, per spec §4.4.
func (t *Table) RecordPrePrepareAccepted(self membership.ReplicaID, at time.Time) (wire.TATMeasure, bool) {
	if t.pendingProofMatrixSentAt.IsZero() {
		return wire.TATMeasure{}, false
	}
	tat := at.Sub(t.pendingProofMatrixSentAt).Nanoseconds()
	t.pendingProofMatrixSentAt = time.Time{}

	prevMax := t.maxTAT.max()
	t.maxTAT.push(tat)
	newMax := t.maxTAT.max()
	if newMax == prevMax {
		return wire.TATMeasure{}, false
	}
	t.tatWindow = newMax
	if time.Since(t.lastTATBroadcast) < t.cfg.TATMeasureRate {
		return wire.TATMeasure{}, false
	}
	t.lastTATBroadcast = at
	return wire.TATMeasure{Sender: self, View: t.currentView, MaxTAT: newMax}, true
}

// ReceiveTATMeasure applies a peer's reported max_tat and recomputes
// tat_leader as the (f+k+1)-th lowest across all reports.
func (t *Table) ReceiveTATMeasure(m wire.TATMeasure) {
	if m.View != t.currentView {
		return
	}
	t.reportedTATs[m.Sender] = m.MaxTAT
	vals := make([]int64, 0, len(t.reportedTATs)+1)
	vals = append(vals, t.tatWindow)
	for _, v := range t.reportedTATs {
		vals = append(vals, v)
	}
	t.tatLeader = fplusKplus1thLowest(vals, t.quorum.FPlusKPlusOne())
}

// BuildPing mints an RTT_Ping carrying a fresh UUID nonce — a one-shot,
// unordered exchange where ULID's rough time-ordering buys nothing, unlike
// the restart/catchup nonces internal/pkg/ulid covers elsewhere — and
// records its send time for the matching ReceivePong.
func (t *Table) BuildPing(self membership.ReplicaID, at time.Time) wire.RTTPing {
	nonce := uuid.New().String()
	t.pendingPing[nonce] = at
	return wire.RTTPing{Sender: self, Nonce: nonce, SentAt: at.UnixNano()}
}

// ReceivePong computes RTT for the replying peer, pushes it into that
// peer's depth-10 history, and derives tat_if_leader[peer].
func (t *Table) ReceivePong(peer membership.ReplicaID, nonce string, at time.Time) (int64, bool) {
	sentAt, ok := t.pendingPing[nonce]
	if !ok {
		return 0, false
	}
	delete(t.pendingPing, nonce)
	rtt := at.Sub(sentAt).Nanoseconds()

	hist, ok := t.rttHistory[peer]
	if !ok {
		hist = newRing(t.cfg.PingHistoryDepth)
		t.rttHistory[peer] = hist
	}
	hist.push(rtt)

	tatIfLeader := int64(t.cfg.KLat*float64(hist.max())) + t.cfg.PPTime
	t.tatIfLeader[peer] = tatIfLeader
	return tatIfLeader, true
}

// ComputeAlpha recomputes alpha, this replica's own TAT-UB: the
// (f+k+1)-th highest of tat_if_leader across every candidate leader it has
// measured (spec §4.4).
func (t *Table) ComputeAlpha(self membership.ReplicaID) int64 {
	vals := make([]int64, 0, len(t.tatIfLeader))
	for _, v := range t.tatIfLeader {
		vals = append(vals, v)
	}
	t.alpha = fplusKplus1thHighest(vals, t.quorum.FPlusKPlusOne())
	return t.alpha
}

// ReceiveRTTMeasure records a peer's reported tat_if_leader[candidate] —
// spec §4.4's cross-checking step before each replica computes its own
// alpha. Not currently folded into ComputeAlpha (each replica's alpha is
// defined over its own measurements), kept for Suspect-Leader evidence: a
// wildly divergent reported tat_if_leader is Suspect-Leader-relevant
// equivocation material, surfaced to callers via ReportedTatIfLeader.
func (t *Table) ReceiveRTTMeasure(m wire.RTTMeasure) {
	byCandidate, ok := t.reportedTatIfLeader[m.Sender]
	if !ok {
		byCandidate = make(map[membership.ReplicaID]int64)
		t.reportedTatIfLeader[m.Sender] = byCandidate
	}
	byCandidate[m.Peer] = m.TATIfLeader
}

// ReportedTatIfLeader returns what sender most recently reported measuring
// for candidate leader peer.
func (t *Table) ReportedTatIfLeader(sender, peer membership.ReplicaID) (int64, bool) {
	byCandidate, ok := t.reportedTatIfLeader[sender]
	if !ok {
		return 0, false
	}
	v, ok := byCandidate[peer]
	return v, ok
}

// ReceiveTATUB applies a peer's broadcast alpha and recomputes
// tat_acceptable as the (f+k+1)-th highest across all received TAT_UBs.
func (t *Table) ReceiveTATUB(m wire.TATUB) {
	if m.View != t.currentView {
		return
	}
	t.tatUBs[m.Sender] = m.Alpha
	vals := make([]int64, 0, len(t.tatUBs)+1)
	vals = append(vals, t.alpha)
	for _, v := range t.tatUBs {
		vals = append(vals, v)
	}
	t.tatAcceptable = fplusKplus1thHighest(vals, t.quorum.FPlusKPlusOne())
}

// TATLeader, TATAcceptable, and Alpha expose the three computed values for
// diagnostics/metrics.
func (t *Table) TATLeader() int64      { return t.tatLeader }
func (t *Table) TATAcceptable() int64  { return t.tatAcceptable }
func (t *Table) Alpha() int64          { return t.alpha }

// ShouldSuspect reports whether tat_leader has exceeded tat_acceptable
// continuously for at least leader_duration_sw, and this replica has not
// already suspected the current view (spec §4.4: "exactly one suspicion
// per view").
func (t *Table) ShouldSuspect(at time.Time) bool {
	if t.suspicionSent[t.currentView] {
		return false
	}
	if t.tatLeader <= t.tatAcceptable {
		t.conditionHeld = false
		return false
	}
	if !t.conditionHeld {
		t.conditionHeld = true
		t.conditionSince = at
		return false
	}
	return at.Sub(t.conditionSince) >= t.cfg.LeaderDuration
}

// Suspect raises the suspicion for the current view: marks it sent and
// returns the New_Leader(view+1) message to broadcast.
func (t *Table) Suspect(self membership.ReplicaID) wire.NewLeader {
	t.suspicionSent[t.currentView] = true
	return wire.NewLeader{Sender: self, View: t.currentView + 1}
}

// RecordNewLeaderVote applies a received New_Leader vote. Once LargeQuorum
// (2f+k+1) distinct votes for the same view are collected, returns the
// assembled New_Leader_Proof.
func (t *Table) RecordNewLeaderVote(vote wire.NewLeader) (wire.NewLeaderProof, bool) {
	votes, ok := t.newLeaderVotes[vote.View]
	if !ok {
		votes = make(map[membership.ReplicaID]wire.NewLeader)
		t.newLeaderVotes[vote.View] = votes
	}
	votes[vote.Sender] = vote

	if len(votes) < t.quorum.LargeQuorum() {
		return wire.NewLeaderProof{}, false
	}
	out := make([]wire.NewLeader, 0, len(votes))
	for _, v := range votes {
		out = append(out, v)
	}
	return wire.NewLeaderProof{View: vote.View, Votes: out}, true
}

// InstallView resets per-view state once a view change completes, spec
// §4.6: "Suspect-Leader machinery of the new view ... starts running
// immediately after install."
func (t *Table) InstallView(view uint64) {
	t.currentView = view
	t.reportedTATs = make(map[membership.ReplicaID]int64)
	t.tatUBs = make(map[membership.ReplicaID]int64)
	t.tatLeader = 0
	t.tatAcceptable = 0
	t.conditionHeld = false
}
