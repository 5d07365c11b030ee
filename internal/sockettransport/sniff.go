package sockettransport

import (
	"github.com/spire-resilient-systems/spire-sub003/internal/membership"
	"github.com/spire-resilient-systems/spire-sub003/internal/wire"
)

// sniffMaxPacketSize bounds sniffClientID's own decode, independent of the
// engine's own configured MaxPacketSize (this runs before that config is
// reachable from a bare datagram).
const sniffMaxPacketSize = 1 << 20

// sniffClientID reads just enough of an inbound client datagram to learn
// which client it came from, so a return address can be recorded before
// the full Validate pass (internal/validate) runs on the dispatcher's own
// goroutine. It deliberately skips signature verification: recording a
// wrong return address for an unverified datagram costs nothing, since
// Validate still drops anything that doesn't check out before
// internal/replica ever acts on it.
func sniffClientID(payload []byte) (membership.ClientID, bool) {
	h, raw, _, err := wire.DecodeSigned(payload, sniffMaxPacketSize)
	if err != nil {
		return "", false
	}
	if h.Type != wire.KindUpdate {
		return "", false
	}
	var upd wire.Update
	if err := wire.DecodePayload(raw, &upd); err != nil {
		return "", false
	}
	return upd.Client, true
}
