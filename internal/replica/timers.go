package replica

import (
	"context"
	"time"

	"github.com/spire-resilient-systems/spire-sub003/internal/dispatch"
	"github.com/spire-resilient-systems/spire-sub003/internal/transport"
	"github.com/spire-resilient-systems/spire-sub003/internal/wire"
)

const (
	tagRTTPing      = "rtt-ping"
	tagSuspectCheck = "suspect-check"
	tagPropose      = "propose"
	tagCatchupRetry = "catchup-retry"
)

// ArmTimers schedules every periodic obligation this replica owns. Call
// once after AttachLoop, before Loop.Run.
func (r *Replica) ArmTimers(now time.Time) {
	r.loop.Schedule(now.Add(r.timers.PingInterval), tagRTTPing)
	r.loop.Schedule(now.Add(r.timers.LeaderDurationSW), tagSuspectCheck)
	r.loop.Schedule(now.Add(r.timers.PrePrepareSW), tagPropose)
	r.loop.Schedule(now.Add(r.timers.CatchupRetry), tagCatchupRetry)
}

// HandleTimer implements dispatch.Handler, re-arming each periodic
// obligation it services before returning.
func (r *Replica) HandleTimer(ctx context.Context, id dispatch.TimerID, tag string) {
	now := time.Now()
	switch tag {
	case tagRTTPing:
		r.onRTTPingTimer(now)
		r.loop.Schedule(now.Add(r.timers.PingInterval), tagRTTPing)
	case tagSuspectCheck:
		r.checkSuspicion(now)
		r.loop.Schedule(now.Add(r.timers.LeaderDurationSW), tagSuspectCheck)
	case tagPropose:
		r.proposePrePrepare()
		r.loop.Schedule(now.Add(r.timers.PrePrepareSW), tagPropose)
	case tagCatchupRetry:
		r.onCatchupRetryTimer(now)
		r.loop.Schedule(now.Add(r.timers.CatchupRetry), tagCatchupRetry)
	}
}

// onRTTPingTimer probes the next helper in this replica's rotation — the
// same rotation internal/catchup already keeps for helper selection, reused
// here since both need "the next peer, round robin, skipping self".
func (r *Replica) onRTTPingTimer(now time.Time) {
	peer := r.catchup.NextHelper()
	if peer == r.self {
		return
	}
	ping := r.suspect.BuildPing(r.self, now)
	r.sendTo(peer, wire.KindRTTPing, ping, transport.Bounded)
}

func (r *Replica) onCatchupRetryTimer(now time.Time) {
	helper := r.catchup.NextHelper()
	if helper == r.self {
		return
	}
	req := r.catchup.BuildRequest(wire.CatchupFlagPeriodic, r.ord.Aru(), r.poAruVector(), r.localProposalDigest())
	r.sendTo(helper, wire.KindCatchupRequest, req, transport.Reconciliation)
}

func (r *Replica) poAruVector() []wire.PoSeqPair {
	out := make([]wire.PoSeqPair, r.quorum.N)
	for _, rep := range r.quorum.Replicas() {
		out[rep-1] = r.po.CumAru(rep)
	}
	return out
}

func (r *Replica) localProposalDigest() [32]byte {
	slot, ok := r.ord.Slot(r.ord.Aru())
	if !ok || slot.PrePrepare == nil {
		return [32]byte{}
	}
	return slot.PrePrepare.ProposalDigest
}
