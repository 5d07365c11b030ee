package replica

import (
	"github.com/spire-resilient-systems/spire-sub003/internal/membership"
	"github.com/spire-resilient-systems/spire-sub003/internal/transport"
	"github.com/spire-resilient-systems/spire-sub003/internal/wire"
)

// header builds the fixed Header prefix for an outbound message of kind,
// stamped with this replica's current session identity.
func (r *Replica) header(kind wire.Kind) wire.Header {
	return wire.Header{
		SiteID:             uint32(r.self),
		Type:               kind,
		Incarnation:        r.incarnationNum,
		GlobalConfigNumber: r.gcn,
	}
}

// digestOf is a small wrapper logging and swallowing the (practically
// impossible, gob-encoding-only) digest error so every call site below
// doesn't repeat the same three-line check.
func (r *Replica) digestOf(payload any) [32]byte {
	d, err := wire.Sha256Of(payload)
	if err != nil {
		r.logger.Error("replica: digest outbound payload", "err", err)
	}
	return d
}

// broadcast queues payload for Merkle-batched signing and, once signed,
// sends it to every other replica over class.
func (r *Replica) broadcast(kind wire.Kind, payload any, class transport.PriorityClass) {
	msg := wire.Message{Header: r.header(kind), Payload: payload}
	env := outboundEnvelope{msg: msg, digest: r.digestOf(payload), dest: destBroadcast, class: class}
	r.out.submit(env, r.batcher)
}

// sendTo queues payload for Merkle-batched signing and, once signed, sends
// it to a single peer over class.
func (r *Replica) sendTo(to membership.ReplicaID, kind wire.Kind, payload any, class transport.PriorityClass) {
	msg := wire.Message{Header: r.header(kind), Payload: payload}
	env := outboundEnvelope{msg: msg, digest: r.digestOf(payload), dest: destReplica, to: to, class: class}
	r.out.submit(env, r.batcher)
}

// respondToClient queues payload for Merkle-batched signing and, once
// signed, hands it to the client IPC channel.
func (r *Replica) respondToClient(client membership.ClientID, payload wire.ClientResponse) {
	msg := wire.Message{Header: r.header(wire.KindClientResponse), Payload: payload}
	env := outboundEnvelope{msg: msg, digest: r.digestOf(payload), dest: destClient, client: client}
	r.out.submit(env, r.batcher)
}
