// Package keystore builds the static validate.KeyStore/replica.KeyStore a
// replica process needs from the key material internal/config.KeysConfig
// locates on disk: this replica's own private session key plus every
// peer's public key. Provisioning and distributing that material (the
// config-agent/config-manager glue spec §1 names) stays out of scope;
// this package only turns already-loaded keys into the lookup shape the
// engine wants.
package keystore

import (
	"fmt"

	"github.com/spire-resilient-systems/spire-sub003/internal/crypto"
	"github.com/spire-resilient-systems/spire-sub003/internal/membership"
	"github.com/spire-resilient-systems/spire-sub003/internal/validate"
)

// Static satisfies both validate.KeyStore and the identical replica.KeyStore
// alias (replica.KeyStore embeds validate.KeyStore with no added methods),
// so cmd/replica can hand the same *Static to both internal/validate and
// internal/replica.
var _ validate.KeyStore = (*Static)(nil)

// Static is a fixed, load-once KeyStore: one signing identity per replica
// in the membership table (this process's own full signer, every peer's
// verify-only signer), and no client key material — spec §1 puts the
// client driver out of scope, so Update signatures are only checked for
// presence (internal/validate), never against a known client public key.
type Static struct {
	self    membership.ReplicaID
	signers map[membership.ReplicaID]*crypto.Signer
}

// NewStatic builds a Static KeyStore. own is this replica's own full
// signer (private+public key); peers holds every other replica's
// verify-only signer, keyed by ReplicaID, including an entry for self
// (own is used for self regardless of what peers[self] holds, if anything).
func NewStatic(self membership.ReplicaID, own *crypto.Signer, peers map[membership.ReplicaID]*crypto.Signer) *Static {
	signers := make(map[membership.ReplicaID]*crypto.Signer, len(peers)+1)
	for id, s := range peers {
		signers[id] = s
	}
	signers[self] = own
	return &Static{self: self, signers: signers}
}

// ReplicaSigner implements validate.KeyStore/replica.KeyStore.
func (s *Static) ReplicaSigner(id membership.ReplicaID) (*crypto.Signer, bool) {
	signer, ok := s.signers[id]
	return signer, ok
}

// ClientSigner implements validate.KeyStore/replica.KeyStore. Client key
// provisioning is out of scope (spec §1); no client identity is ever
// resolvable here.
func (s *Static) ClientSigner(membership.ClientID) (*crypto.Signer, bool) {
	return nil, false
}

// ThresholdSigners implements validate.KeyStore/replica.KeyStore: the same
// per-replica RSA identity used for session signatures also backs each
// replica's threshold share verification, keyed by the 1-based replica
// index internal/crypto.CombinedCertificate uses.
func (s *Static) ThresholdSigners() map[int]*crypto.Signer {
	out := make(map[int]*crypto.Signer, len(s.signers))
	for id, signer := range s.signers {
		out[int(id)] = signer
	}
	return out
}

// BatchRootSigner implements validate.KeyStore/replica.KeyStore: the same
// per-replica identity signs both individual messages and Merkle batch
// roots (spec §4.1 describes one RSA keypair per replica, not a separate
// batch-signing key).
func (s *Static) BatchRootSigner(originator membership.ReplicaID) (*crypto.Signer, bool) {
	return s.ReplicaSigner(originator)
}

// Self returns this replica's own full signer, for outbound signing
// (BatchingSigner, ThresholdSigner) rather than verification.
func (s *Static) Self() (*crypto.Signer, error) {
	signer, ok := s.signers[s.self]
	if !ok {
		return nil, fmt.Errorf("keystore: own replica id %d has no signer loaded", s.self)
	}
	return signer, nil
}
