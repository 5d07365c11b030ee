// Package sockettransport is a minimal, explicitly non-production binding
// of internal/transport's Overlay and ClientIPC seams: plain UDP between
// replicas, one socket per priority class, and a Unix datagram socket
// toward the local client. It exists only so "replica run" is an actually
// runnable process in this repository's own test/demo deployments.
//
// This is NOT the overlay network spec §1 puts out of scope: it does no
// fragmentation of payloads over 1 KiB, no per-class reliability or
// retransmission, and no multi-path routing — a message either arrives
// whole over one UDP datagram or is dropped, exactly the lossy/reordering/
// duplicating transport the engine above it already assumes (spec §5). A
// deployment that needs the real priority-and-reliability-aware bus swaps
// this package out behind the same transport.Overlay/ClientIPC interfaces.
package sockettransport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/spire-resilient-systems/spire-sub003/internal/membership"
	"github.com/spire-resilient-systems/spire-sub003/internal/transport"
)

// numClasses is the width of the per-class UDP port bank (spec §6:
// "Port assignments are a bank of per-traffic-class UDP ports").
const numClasses = 3

// Overlay is a reference transport.Overlay over three UDP sockets, one per
// transport.PriorityClass, bound at portBase+int(class).
type Overlay struct {
	self   membership.ReplicaID
	logger *slog.Logger

	conns [numClasses]*net.UDPConn
	peers map[membership.ReplicaID][numClasses]*net.UDPAddr
	index map[string]membership.ReplicaID

	recvCh    chan transport.RawInbound
	closeOnce sync.Once
}

// NewOverlay binds one UDP socket per priority class on host:portBase+class.
// peerAddrs is indexed by ReplicaID-1 and holds "host:portBase" for that
// peer (its own port bank base, which may differ from this replica's),
// matching internal/config.MembershipConfig.Peers.
func NewOverlay(self membership.ReplicaID, quorum membership.Table, host string, portBase int, peerAddrs []string, logger *slog.Logger) (*Overlay, error) {
	if len(peerAddrs) != quorum.N {
		return nil, fmt.Errorf("sockettransport: %d peer addresses, want %d", len(peerAddrs), quorum.N)
	}

	o := &Overlay{
		self:   self,
		logger: logger,
		peers:  make(map[membership.ReplicaID][numClasses]*net.UDPAddr, quorum.N),
		index:  make(map[string]membership.ReplicaID, quorum.N*numClasses),
		recvCh: make(chan transport.RawInbound, 256),
	}

	for class := 0; class < numClasses; class++ {
		addr := &net.UDPAddr{IP: net.ParseIP(host), Port: portBase + class}
		conn, err := net.ListenUDP("udp", addr)
		if err != nil {
			return nil, fmt.Errorf("sockettransport: listening on %s: %w", addr, err)
		}
		o.conns[class] = conn
	}

	for _, r := range quorum.Replicas() {
		peerAddr, err := net.ResolveUDPAddr("udp", peerAddrs[r-1])
		if err != nil {
			return nil, fmt.Errorf("sockettransport: peer %d address %q: %w", r, peerAddrs[r-1], err)
		}
		var bank [numClasses]*net.UDPAddr
		for class := 0; class < numClasses; class++ {
			a := &net.UDPAddr{IP: peerAddr.IP, Port: peerAddr.Port + class}
			bank[class] = a
			o.index[a.String()] = r
		}
		o.peers[r] = bank
	}

	for class := 0; class < numClasses; class++ {
		go o.recvLoop(transport.PriorityClass(class))
	}

	return o, nil
}

func (o *Overlay) recvLoop(class transport.PriorityClass) {
	conn := o.conns[class]
	buf := make([]byte, 65536)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			o.closeOnce.Do(func() { close(o.recvCh) })
			return
		}
		sender, ok := o.index[from.String()]
		if !ok {
			o.logger.Warn("sockettransport: datagram from unrecognized peer address", "addr", from.String())
			continue
		}
		payload := make([]byte, n)
		copy(payload, buf[:n])
		o.recvCh <- transport.RawInbound{From: sender, Class: class, Payload: payload}
	}
}

// SendTo implements transport.Overlay.
func (o *Overlay) SendTo(_ context.Context, to membership.ReplicaID, class transport.PriorityClass, payload []byte) error {
	bank, ok := o.peers[to]
	if !ok {
		return fmt.Errorf("sockettransport: unknown peer %d", to)
	}
	_, err := o.conns[class].WriteToUDP(payload, bank[class])
	return err
}

// Broadcast implements transport.Overlay as N-1 SendTo calls; spec §5
// allows this ("callers must not assume ordering or atomicity across
// recipients").
func (o *Overlay) Broadcast(ctx context.Context, class transport.PriorityClass, payload []byte) error {
	var firstErr error
	for _, r := range sortedKeys(o.peers) {
		if r == o.self {
			continue
		}
		if err := o.SendTo(ctx, r, class, payload); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Recv implements transport.Overlay.
func (o *Overlay) Recv() <-chan transport.RawInbound { return o.recvCh }

// Close releases every bound socket.
func (o *Overlay) Close() {
	for _, conn := range o.conns {
		if conn != nil {
			conn.Close()
		}
	}
}

func sortedKeys(m map[membership.ReplicaID][numClasses]*net.UDPAddr) []membership.ReplicaID {
	out := make([]membership.ReplicaID, 0, len(m))
	for r := range m {
		out = append(out, r)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

var _ transport.Overlay = (*Overlay)(nil)
