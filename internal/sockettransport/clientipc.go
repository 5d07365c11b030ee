package sockettransport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/spire-resilient-systems/spire-sub003/internal/membership"
	"github.com/spire-resilient-systems/spire-sub003/internal/transport"
)

// ClientIPC is a reference transport.ClientIPC over a Unix datagram socket
// (spec §6's "Unix-domain datagram pair" option). Like Overlay, it is a
// bare conduit: no queueing discipline beyond what the kernel socket buffer
// already gives it, no framing beyond one payload per datagram. Backpressure
// is drop-oldest per spec §5; an overflowing kernel buffer already behaves
// that way for a datagram socket, so nothing further is implemented here.
type ClientIPC struct {
	conn   *net.UnixConn
	logger *slog.Logger

	mu      sync.Mutex
	clients map[membership.ClientID]*net.UnixAddr

	recvCh chan transport.RawClientInbound
}

// NewClientIPC binds a Unix datagram socket at path, removing any stale
// socket file left behind by a previous run.
func NewClientIPC(path string, logger *slog.Logger) (*ClientIPC, error) {
	_ = os.Remove(path)
	addr := &net.UnixAddr{Name: path, Net: "unixgram"}
	conn, err := net.ListenUnixgram("unixgram", addr)
	if err != nil {
		return nil, fmt.Errorf("sockettransport: listening on %s: %w", path, err)
	}
	c := &ClientIPC{
		conn:    conn,
		logger:  logger,
		clients: make(map[membership.ClientID]*net.UnixAddr),
		recvCh:  make(chan transport.RawClientInbound, 256),
	}
	go c.recvLoop()
	return c, nil
}

func (c *ClientIPC) recvLoop() {
	buf := make([]byte, 65536)
	for {
		n, from, err := c.conn.ReadFromUnix(buf)
		if err != nil {
			close(c.recvCh)
			return
		}
		payload := make([]byte, n)
		copy(payload, buf[:n])
		id, ok := sniffClientID(payload)
		if !ok {
			c.logger.Warn("sockettransport: client datagram without a recognizable client id, dropping")
			continue
		}
		c.mu.Lock()
		c.clients[id] = from
		c.mu.Unlock()
		c.recvCh <- transport.RawClientInbound{Client: id, Payload: payload}
	}
}

// Respond implements transport.ClientIPC, replying to the address this
// client last sent a datagram from.
func (c *ClientIPC) Respond(_ context.Context, to membership.ClientID, payload []byte) error {
	c.mu.Lock()
	addr, ok := c.clients[to]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("sockettransport: no known return address for client %q", to)
	}
	_, err := c.conn.WriteToUnix(payload, addr)
	return err
}

// Recv implements transport.ClientIPC.
func (c *ClientIPC) Recv() <-chan transport.RawClientInbound { return c.recvCh }

// Close releases the bound socket.
func (c *ClientIPC) Close() { c.conn.Close() }

var _ transport.ClientIPC = (*ClientIPC)(nil)
