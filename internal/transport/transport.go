// Package transport defines the seams toward the two external collaborators
// spec §1/§6 name as out of scope: the overlay network (a priority-and-
// reliability-aware multi-path message bus sitting between replicas) and the
// client IPC channel (a Unix-domain datagram pair or TCP connection between
// one replica and its local application). Neither raw UDP/TCP I/O nor the
// overlay's own routing belongs in this package; only the interfaces a
// dispatcher needs to drive them do.
//
// Grounded on membership.Source's "seam, not implementation" shape for the
// same reason: a full overlay integration lives outside this repository,
// and this package gives internal/dispatch and internal/replica something
// concrete to compile against. internal/sockettransport implements these
// interfaces with a minimal UDP/Unix-socket binding for local runs.
package transport

import (
	"context"

	"github.com/spire-resilient-systems/spire-sub003/internal/membership"
)

// PriorityClass selects which of the overlay's per-traffic-class UDP ports
// a message travels over (spec §6: "Port assignments are a bank of
// per-traffic-class UDP ports (bounded / timely / reconciliation)").
type PriorityClass int

const (
	// Bounded carries messages with a hard per-view deadline: Pre_Prepare,
	// Prepare, Commit, and the Suspect-Leader RTT/TAT exchange.
	Bounded PriorityClass = iota
	// Timely carries messages that benefit from low latency but tolerate
	// occasional loss without forcing a view change: PO_Request, PO_Ack,
	// PO_ARU, Proof_Matrix.
	Timely
	// Reconciliation carries bulk recovery traffic that is large, latency-
	// insensitive, and already loss-tolerant by design: Catchup_Request,
	// Jump, ORD/PO certificate streams, Reset ceremony messages.
	Reconciliation
)

// RawInbound is one undecoded datagram as the overlay delivered it, still
// carrying the sender identity the overlay's own authentication resolved
// (spec §6 frames every message with signature + site id in its header, but
// Overlay implementations may authenticate the transport hop itself before
// handing bytes up).
type RawInbound struct {
	From    membership.ReplicaID
	Class   PriorityClass
	Payload []byte
}

// Overlay is the seam toward the priority-and-reliability-aware multi-path
// message bus spec §1 excludes from this repository's scope. Implementers
// own fragmentation of payloads over 1 KiB (spec §6: "Messages >1 KiB are
// fragmented by the overlay, never at this layer"), retransmission, and
// per-class port selection; this engine only ever calls SendTo/Broadcast
// and ranges over Recv.
type Overlay interface {
	// SendTo transmits payload to a single peer over the named class.
	SendTo(ctx context.Context, to membership.ReplicaID, class PriorityClass, payload []byte) error
	// Broadcast transmits payload to every other replica over the named
	// class. Implementations may fan this out as N-1 SendTo calls or use a
	// native multicast/gossip primitive; callers must not assume ordering
	// or atomicity across recipients (spec §5: "The transport is allowed to
	// reorder and duplicate").
	Broadcast(ctx context.Context, class PriorityClass, payload []byte) error
	// Recv returns the channel of inbound datagrams. Closed once the
	// overlay implementation shuts down.
	Recv() <-chan RawInbound
}

// RawClientInbound is one undecoded Update (or special client payload, spec
// §6: CLIENT_STATE_TRANSFER / CLIENT_SYSTEM_RESET / CLIENT_SYSTEM_RECONF /
// CLIENT_OOB_CONFIG_MSG) as received from the client IPC channel.
type RawClientInbound struct {
	Client  membership.ClientID
	Payload []byte
}

// ClientIPC is the seam toward the local application/client socket (spec §6:
// "Either a Unix-domain datagram pair... or a TCP connection"). Backpressure
// at this boundary is drop-oldest (spec §5); an implementation that queues
// inbound requests must enforce that itself, not this engine.
type ClientIPC interface {
	// Respond sends one Client_Response payload back to the client that
	// issued the matching (client_id, seq_num) Update.
	Respond(ctx context.Context, to membership.ClientID, payload []byte) error
	// Recv returns the channel of inbound client requests. Closed once the
	// IPC implementation shuts down.
	Recv() <-chan RawClientInbound
}
