package recovery

import (
	"fmt"
	"time"

	"github.com/spire-resilient-systems/spire-sub003/internal/membership"
	"github.com/spire-resilient-systems/spire-sub003/internal/pkg/ulid"
	"github.com/spire-resilient-systems/spire-sub003/internal/wire"
)

// IncarnationTable is the per-replica Proactive Recovery bootstrap state:
// this replica's own New_Incarnation (once per restart), the Incarnation_Acks
// collected toward its certificate, and the installed_incarnations vector
// every Merkle-batched message's incarnation check is validated against
// (internal/validate.IncarnationSource).
type IncarnationTable struct {
	self   membership.ReplicaID
	quorum membership.Table

	own       *wire.NewIncarnation
	ownDigest [32]byte
	acks      map[membership.ReplicaID]wire.IncarnationAck
	cert      *wire.IncarnationCert

	// installed is the system-wide installed_incarnations[N] vector
	// (indexed by ReplicaID-1); bumped for self once the first PO_Request
	// under the new incarnation executes (spec §4.8).
	installed []uint64
}

// NewIncarnationTable constructs incarnation-tracking state, seeding
// installed with the vector this replica last persisted (or all-zero on a
// completely fresh process).
func NewIncarnationTable(self membership.ReplicaID, quorum membership.Table, installed []uint64) *IncarnationTable {
	if installed == nil {
		installed = make([]uint64, quorum.N)
	}
	return &IncarnationTable{
		self:      self,
		quorum:    quorum,
		acks:      make(map[membership.ReplicaID]wire.IncarnationAck),
		installed: installed,
	}
}

// StartIncarnation TPM-signs a fresh New_Incarnation on restart (spec §4.8:
// "a replica TPM-signs New_Incarnation{nonce, timestamp, session-key
// share}"). The TPM binding itself happens at the transport/signing layer
// (internal/crypto's TPM-bound signature kind); this method only
// constructs the payload and tracks its digest for later ack matching. The
// nonce is a fresh ULID (monotonic, collision-resistant, sortable by the
// restart it names), matching internal/pkg/ulid's rationale for
// catchup-request nonces.
func (t *IncarnationTable) StartIncarnation(at time.Time, sessionKeyShare []byte) (wire.NewIncarnation, error) {
	ni := wire.NewIncarnation{Sender: t.self, Nonce: ulid.New(), Timestamp: at.UnixNano(), SessionKeyShare: sessionKeyShare}
	digest, err := wire.Sha256Of(ni)
	if err != nil {
		return wire.NewIncarnation{}, fmt.Errorf("recovery: digesting New_Incarnation: %w", err)
	}
	t.own = &ni
	t.ownDigest = digest
	t.acks = make(map[membership.ReplicaID]wire.IncarnationAck)
	t.cert = nil
	return ni, nil
}

// AckOther validates freshness (the caller is expected to have already
// checked the nonce/timestamp window before calling) and builds this
// replica's Incarnation_Ack for a peer's New_Incarnation.
func (t *IncarnationTable) AckOther(ni wire.NewIncarnation) (wire.IncarnationAck, error) {
	digest, err := wire.Sha256Of(ni)
	if err != nil {
		return wire.IncarnationAck{}, fmt.Errorf("recovery: digesting New_Incarnation: %w", err)
	}
	return wire.IncarnationAck{Sender: t.self, NewIncDigest: digest}, nil
}

// RecordAck applies a received Incarnation_Ack toward this replica's own
// New_Incarnation. Once LargeQuorum (2f+k+1) acks referencing the same
// digest are collected, returns the assembled Incarnation_Cert.
func (t *IncarnationTable) RecordAck(ack wire.IncarnationAck) (wire.IncarnationCert, bool, error) {
	if t.own == nil {
		return wire.IncarnationCert{}, false, fmt.Errorf("recovery: no New_Incarnation in flight")
	}
	if ack.NewIncDigest != t.ownDigest {
		return wire.IncarnationCert{}, false, fmt.Errorf("recovery: ack digest mismatch from replica %d", ack.Sender)
	}
	t.acks[ack.Sender] = ack
	if t.cert != nil {
		return *t.cert, true, nil
	}
	if len(t.acks) < t.quorum.LargeQuorum() {
		return wire.IncarnationCert{}, false, nil
	}
	acks := make([]wire.IncarnationAck, 0, len(t.acks))
	for _, a := range t.acks {
		acks = append(acks, a)
	}
	cert := wire.IncarnationCert{NewInc: *t.own, Acks: acks}
	t.cert = &cert
	return cert, true, nil
}

// Cert returns the assembled Incarnation_Cert, if any. Spec §4.8: attached
// to subsequent Merkle-batched ordinary messages until the first PO_Request
// is executed.
func (t *IncarnationTable) Cert() (wire.IncarnationCert, bool) {
	if t.cert == nil {
		return wire.IncarnationCert{}, false
	}
	return *t.cert, true
}

// BumpInstalled advances installed_incarnations[self], called once the
// first PO_Request under the new incarnation executes (spec §4.8), at
// which point the Incarnation_Cert no longer needs attaching.
func (t *IncarnationTable) BumpInstalled(inc uint64) {
	idx := int(t.self) - 1
	if idx < 0 || idx >= len(t.installed) {
		return
	}
	if inc > t.installed[idx] {
		t.installed[idx] = inc
	}
	t.cert = nil
}

// OwnDigest returns the digest of this replica's own in-flight (or most
// recently assembled) New_Incarnation, the value a Reset_Vote references
// when a reset round is instigated locally rather than by a peer's
// New_Incarnation.
func (t *IncarnationTable) OwnDigest() [32]byte {
	return t.ownDigest
}

// InstalledIncarnation implements internal/validate.IncarnationSource.
func (t *IncarnationTable) InstalledIncarnation(r membership.ReplicaID) uint64 {
	idx := int(r) - 1
	if idx < 0 || idx >= len(t.installed) {
		return 0
	}
	return t.installed[idx]
}

// InstalledVector returns the full installed_incarnations[N] vector, used
// when building a Jump response (internal/catchup) or a Reset_Certificate.
func (t *IncarnationTable) InstalledVector() []uint64 {
	return append([]uint64(nil), t.installed...)
}
