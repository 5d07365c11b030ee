package replica

import (
	"time"

	"github.com/spire-resilient-systems/spire-sub003/internal/membership"
	"github.com/spire-resilient-systems/spire-sub003/internal/transport"
	"github.com/spire-resilient-systems/spire-sub003/internal/wire"
)

// onTATMeasure folds a peer's reported TAT window into tat_leader.
func (r *Replica) onTATMeasure(m wire.TATMeasure) {
	r.suspect.ReceiveTATMeasure(m)
}

// onRTTPing answers an RTT probe immediately, echoing the sender's nonce.
func (r *Replica) onRTTPing(from membership.ReplicaID, ping wire.RTTPing) {
	pong := wire.RTTPong{Sender: r.self, Nonce: ping.Nonce, EchoedAt: time.Now().UnixNano()}
	r.sendTo(from, wire.KindRTTPong, pong, transport.Bounded)
}

// onRTTPong completes an RTT measurement and, once alpha is recomputed,
// broadcasts the resulting TAT_UB.
func (r *Replica) onRTTPong(from membership.ReplicaID, pong wire.RTTPong) {
	if _, ok := r.suspect.ReceivePong(from, pong.Nonce, time.Now()); !ok {
		return
	}
	alpha := r.suspect.ComputeAlpha(r.self)
	tatub := wire.TATUB{Sender: r.self, View: r.view, Alpha: alpha}
	r.broadcast(wire.KindTATUB, tatub, transport.Bounded)
}

// onRTTMeasure records a peer's self-reported tat_if_leader for a
// candidate, used only as Suspect-Leader equivocation evidence.
func (r *Replica) onRTTMeasure(m wire.RTTMeasure) {
	r.suspect.ReceiveRTTMeasure(m)
}

// onTATUB folds a peer's alpha into tat_acceptable.
func (r *Replica) onTATUB(m wire.TATUB) {
	r.suspect.ReceiveTATUB(m)
}

// onNewLeader applies a received suspicion vote, triggering a view change
// once enough replicas have voted for the same target view.
func (r *Replica) onNewLeader(from membership.ReplicaID, vote wire.NewLeader) {
	proof, ok := r.suspect.RecordNewLeaderVote(vote)
	if !ok {
		return
	}
	r.broadcast(wire.KindNewLeaderProof, proof, transport.Bounded)
	r.startViewChange(proof.View)
}

// onNewLeaderProof is the follower path into the same view change a locally
// assembled New_Leader_Proof triggers directly.
func (r *Replica) onNewLeaderProof(proof wire.NewLeaderProof) {
	r.startViewChange(proof.View)
}

// checkSuspicion is invoked off the periodic suspicion timer (see
// timers.go): if the installed leader has been too slow for long enough,
// this replica casts its own New_Leader vote.
func (r *Replica) checkSuspicion(at time.Time) {
	if !r.suspect.ShouldSuspect(at) {
		return
	}
	vote := r.suspect.Suspect(r.self)
	r.broadcast(wire.KindNewLeader, vote, transport.Bounded)
}
