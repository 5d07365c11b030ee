package replica

import (
	"context"

	"github.com/spire-resilient-systems/spire-sub003/internal/apperrors"
	"github.com/spire-resilient-systems/spire-sub003/internal/membership"
	"github.com/spire-resilient-systems/spire-sub003/internal/po"
	"github.com/spire-resilient-systems/spire-sub003/internal/transport"
	"github.com/spire-resilient-systems/spire-sub003/internal/wire"
)

// onPORequest stores an inbound PO_Request and acks it (spec §4.2: "On
// storing a new PO_Request ... the replica enqueues a PO_Ack_Part").
func (r *Replica) onPORequest(from membership.ReplicaID, req wire.PORequest) {
	digest := r.digestOf(req)
	slot, err := r.po.StoreRequest(req, digest)
	if err != nil {
		r.logger.Warn("replica: PO_Request rejected", "from", from, "err", err)
		return
	}
	if _, err := r.po.AckPartFor(slot.Key); err != nil {
		r.logger.Error("replica: build PO_Ack_Part", "err", err)
		return
	}
	parts := r.po.DrainAckParts()
	if len(parts) == 0 {
		return
	}
	ack := wire.POAck{Sender: r.self, Parts: parts, PreinstalledIncarnations: r.incarn.InstalledVector()}
	r.broadcast(wire.KindPOAck, ack, transport.Timely)
}

// onPOAck applies every witnessed part of an inbound PO_Ack.
func (r *Replica) onPOAck(from membership.ReplicaID, ack wire.POAck) {
	for _, part := range ack.Parts {
		share, err := r.thresh.Share(part.Digest)
		if err != nil {
			r.logger.Error("replica: share PO_Ack digest", "err", err)
			continue
		}
		if _, err := r.po.RecordAck(from, part, share); err != nil {
			if !apperrors.Is(err, apperrors.KindMissingState) {
				r.logger.Warn("replica: PO_Ack rejected", "from", from, "err", err)
			}
			continue
		}
	}
	if aru, ok := r.po.BuildPOARU(r.self, r.quorum.Replicas()); ok {
		r.broadcast(wire.KindPOARU, aru, transport.Timely)
	}
}

// onPOARU folds a peer's cumulative ack vector into this replica's
// Proof_Matrix columns.
func (r *Replica) onPOARU(from membership.ReplicaID, aru wire.POARU) {
	r.matrixColumns[from] = aru
}

// onProofMatrix records a standalone Proof_Matrix (the composite,
// unsigned-at-this-layer summary spec §4.2 also allows broadcasting ahead
// of a Pre_Prepare, not only embedded inside one).
func (r *Replica) onProofMatrix(from membership.ReplicaID, pm wire.ProofMatrix) {
	for _, col := range pm.Columns {
		if col.Sender == 0 {
			continue // unseen placeholder column
		}
		r.matrixColumns[col.Sender] = col
	}
}

// currentMatrix assembles this replica's own Proof_Matrix from its most
// recently seen PO_ARU per replica, indexed by ReplicaID-1.
func (r *Replica) currentMatrix() wire.ProofMatrix {
	cols := make([]wire.POARU, r.quorum.N)
	for _, rep := range r.quorum.Replicas() {
		if col, ok := r.matrixColumns[rep]; ok {
			cols[rep-1] = col
		}
	}
	return wire.ProofMatrix{Columns: cols}
}

// onUpdate accepts a client request, dispatching spec §6's special client
// payload kinds to their own handling and batching an ordinary
// ClientPayloadData Update into a PO_Request this replica originates under
// its own sequence. Spec's batching window (multiple Updates per
// PO_Request) is simplified here to one Update per PO_Request — see
// DESIGN.md.
func (r *Replica) onUpdate(ctx context.Context, upd wire.Update) {
	switch upd.Kind {
	case wire.ClientPayloadSystemReset:
		r.onClientSystemReset(upd)
		return
	case wire.ClientPayloadStateTransfer, wire.ClientPayloadSystemReconf, wire.ClientPayloadOOBConfig:
		// CLIENT_STATE_TRANSFER/CLIENT_SYSTEM_RECONF/CLIENT_OOB_CONFIG_MSG
		// (spec §6) are the config-agent/config-manager glue's wire
		// formats — membership/key redistribution and out-of-band config
		// delivery spec §1 puts out of scope. Dropped explicitly rather
		// than silently ordered as plain application data.
		r.logger.Warn("replica: dropping out-of-scope special client payload",
			"client", string(upd.Client), "kind", int(upd.Kind))
		return
	}

	// (client, seq_num) dedup (spec §8.4, §3 intro_client_seq): a
	// retransmitted Update is a no-op, re-emitting the cached
	// Client_Response if this replica still has one (scenario S6).
	if last, seen := r.clientSeq[upd.Client]; seen && upd.SeqNum <= last {
		if cached, ok := r.clientCache[upd.Client]; ok && cached.SeqNum == upd.SeqNum {
			r.respondToClient(upd.Client, cached)
		}
		return
	}
	r.clientSeq[upd.Client] = upd.SeqNum

	r.nextClientSeq++
	seq := wire.PoSeqPair{Incarnation: uint64(r.incarnationNum), SeqNum: r.nextClientSeq}
	event := wire.Event{Client: upd.Client, SeqNum: upd.SeqNum, Data: upd.Data}
	req := wire.PORequest{Originator: r.self, Seq: seq, Events: []wire.Event{event}}

	digest := r.digestOf(req)
	slot, err := r.po.StoreRequest(req, digest)
	if err != nil {
		r.logger.Error("replica: storing own PO_Request", "err", err)
		return
	}
	r.pendingClients[slot.Key] = append(r.pendingClients[slot.Key], clientUpdate{Client: upd.Client, SeqNum: upd.SeqNum})

	if _, err := r.po.AckPartFor(slot.Key); err != nil {
		r.logger.Error("replica: ack own PO_Request", "err", err)
	}
	r.broadcast(wire.KindPORequest, req, transport.Timely)
	if parts := r.po.DrainAckParts(); len(parts) > 0 {
		ack := wire.POAck{Sender: r.self, Parts: parts, PreinstalledIncarnations: r.incarn.InstalledVector()}
		r.broadcast(wire.KindPOAck, ack, transport.Timely)
	}
}

// onClientSystemReset instigates this replica's own System Reset round
// (spec §4.8) the same way catchup's jump-mismatch evidence does, but
// triggered directly by a client's CLIENT_SYSTEM_RESET request (spec §6)
// rather than inferred from a Jump proposal_digest disagreement.
func (r *Replica) onClientSystemReset(upd wire.Update) {
	r.ensureResetTable()
	vote := r.resetTbl.Vote(r.incarn.OwnDigest())
	r.broadcast(wire.KindResetVote, vote, transport.Reconciliation)
}

// executeEligible marks every PO slot newly made eligible by an executed
// ORD slot as Executed, replying to any client Updates this replica
// originated among them.
func (r *Replica) executeEligible(eligible map[membership.ReplicaID]uint64, ordSeq wire.OrdSeq) {
	for originator, through := range eligible {
		start := r.po.WhiteLine(originator) + 1
		incarnation := r.po.CurrentIncarnation(originator)
		for seq := start; seq <= through; seq++ {
			key := po.Key{Originator: originator, Seq: wire.PoSeqPair{Incarnation: incarnation, SeqNum: seq}}
			slot, ok := r.po.Slot(key)
			if !ok {
				// Not yet locally present; Catchup (internal/catchup) is
				// responsible for closing this gap, spec §4.7.
				continue
			}
			if err := r.po.MarkExecuted(key); err != nil {
				continue
			}
			if originator != r.self {
				continue
			}
			clients := r.pendingClients[key]
			delete(r.pendingClients, key)
			for i, cu := range clients {
				var result []byte
				if i < len(slot.Request.Events) {
					result = slot.Request.Events[i].Data
				}
				resp := wire.ClientResponse{
					Client:      cu.Client,
					Incarnation: uint64(r.incarnationNum),
					SeqNum:      cu.SeqNum,
					OrdNum:      ordSeq,
					Result:      result,
				}
				r.clientCache[cu.Client] = resp
				r.respondToClient(cu.Client, resp)
			}
		}
	}
	if through, ok := eligible[r.self]; ok {
		r.incarn.BumpInstalled(through)
	}
}
