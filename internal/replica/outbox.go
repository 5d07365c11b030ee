package replica

import (
	"context"
	"log/slog"
	"sync"

	"github.com/spire-resilient-systems/spire-sub003/internal/crypto"
	"github.com/spire-resilient-systems/spire-sub003/internal/membership"
	"github.com/spire-resilient-systems/spire-sub003/internal/transport"
	"github.com/spire-resilient-systems/spire-sub003/internal/wire"
)

// destKind distinguishes where an outboundEnvelope is headed once its
// Merkle-batched signature is ready.
type destKind int

const (
	destBroadcast destKind = iota
	destReplica
	destClient
)

// outboundEnvelope is one message waiting on its place in the current
// signing batch.
type outboundEnvelope struct {
	msg     wire.Message
	digest  [32]byte
	dest    destKind
	to      membership.ReplicaID
	client  membership.ClientID
	class   transport.PriorityClass
}

// outbox bridges crypto.BatchingSigner's onFlush callback back to outbound
// sends. onFlush can run on the dispatch loop's own goroutine — Submit
// closing a batch once it reaches MaxBatch — or on a goroutine
// time.AfterFunc spawned when MinLatency elapses first, so onFlush must
// not assume it is serialized with the loop's HandleMessage/HandleTimer
// calls the way every other piece of replica state can. A small FIFO queue
// under its own mutex, populated in lockstep with each Submit call (both
// always made from the single dispatch goroutine, so queue order always
// matches the batch's leaf order), is enough: onFlush only ever needs to
// pop the same number of envelopes as the batch carried signatures for.
type outbox struct {
	mu      sync.Mutex
	queue   []outboundEnvelope
	overlay transport.Overlay
	ipc     transport.ClientIPC
	logger  *slog.Logger
}

func newOutbox(overlay transport.Overlay, ipc transport.ClientIPC, logger *slog.Logger) *outbox {
	return &outbox{overlay: overlay, ipc: ipc, logger: logger}
}

// submit enqueues env and hands its digest to signer, to be signed as part
// of the next batch to close.
func (o *outbox) submit(env outboundEnvelope, signer *crypto.BatchingSigner) {
	o.mu.Lock()
	o.queue = append(o.queue, env)
	o.mu.Unlock()
	signer.Submit(env.digest)
}

// onFlush is crypto.BatchingSigner's onFlush callback: it attaches each
// flushed leaf's inclusion path and the batch's root signature to the
// matching queued envelope, then dispatches it.
func (o *outbox) onFlush(result crypto.BatchResult) {
	o.mu.Lock()
	n := len(result.Paths)
	if n > len(o.queue) {
		n = len(o.queue)
	}
	batch := o.queue[:n]
	o.queue = o.queue[n:]
	o.mu.Unlock()

	for i, env := range batch {
		sig := wire.SignatureBlock{
			Kind:          wire.SigMerkleBatched,
			Root:          result.Root,
			RootSignature: result.Signature,
			Path:          result.Paths[i],
		}
		o.deliver(env, sig)
	}
}

func (o *outbox) deliver(env outboundEnvelope, sig wire.SignatureBlock) {
	buf, err := wire.EncodeSigned(env.msg, sig, wire.MaxPacketSize)
	if err != nil {
		o.logger.Error("replica: encode outbound message", "kind", env.msg.Header.Type.String(), "err", err)
		return
	}

	ctx := context.Background()
	switch env.dest {
	case destBroadcast:
		if err := o.overlay.Broadcast(ctx, env.class, buf); err != nil {
			o.logger.Warn("replica: broadcast failed", "kind", env.msg.Header.Type.String(), "err", err)
		}
	case destReplica:
		if err := o.overlay.SendTo(ctx, env.to, env.class, buf); err != nil {
			o.logger.Warn("replica: send failed", "kind", env.msg.Header.Type.String(), "to", env.to, "err", err)
		}
	case destClient:
		if err := o.ipc.Respond(ctx, env.client, buf); err != nil {
			o.logger.Warn("replica: client respond failed", "client", env.client, "err", err)
		}
	}
}
