package crypto

import (
	"fmt"
)

// ThresholdShare is one replica's contribution toward a combined threshold
// signature over a quorum object (VC_Proof, ORD_Certificate, PO proof,
// Reset_Certificate — spec §4.1, §4.6, §4.8). Grounded on
// other_examples' luxfi-lamport threshold.Share/PartialSignature pair: each
// party holds a share and contributes a partial signature over an agreed
// digest, and an aggregator combines f+k+1 or 2f+k+1 of them (the object's
// required quorum size) into one certificate. This package models RSA
// digest shares rather than Lamport preimage shares, since spec §4.1 pins
// the signature scheme to RSA; the share/combine separation is what
// carries over, not the bit-level mechanics.
type ThresholdShare struct {
	ReplicaIndex int // 1-based, matching membership.ReplicaID
	Digest       [32]byte
	Share        []byte
}

// ThresholdSigner produces this replica's share of a threshold signature
// over digest. In a production deployment Share wraps a DKG-derived key
// split (as luxfi-lamport's GenerateShares does for Lamport keys); here it
// wraps a per-replica RSA signer, since full threshold-RSA key generation
// is outside this repository's scope (spec's Non-goals exclude
// cryptographic protocol design).
type ThresholdSigner struct {
	replicaIndex int
	signer       *Signer
}

func NewThresholdSigner(replicaIndex int, signer *Signer) *ThresholdSigner {
	return &ThresholdSigner{replicaIndex: replicaIndex, signer: signer}
}

// Share signs digest, returning this replica's contribution.
func (t *ThresholdSigner) Share(digest [32]byte) (ThresholdShare, error) {
	sig, err := t.signer.Sign(digest)
	if err != nil {
		return ThresholdShare{}, fmt.Errorf("crypto: threshold share: %w", err)
	}
	return ThresholdShare{ReplicaIndex: t.replicaIndex, Digest: digest, Share: sig}, nil
}

// CombinedCertificate is the result of combining enough shares over the
// same digest: the digest itself plus every contributing share, sufficient
// for a verifier to check each one independently.
type CombinedCertificate struct {
	Digest [32]byte
	Shares []ThresholdShare
}

// Combine aggregates shares into a certificate once at least quorum of them
// agree on the same digest. It does not verify any share's signature —
// callers verify each share against the contributing replica's public key
// before calling Combine, the same separation internal/validate uses for
// every other message kind.
func Combine(shares []ThresholdShare, quorum int) (CombinedCertificate, error) {
	if len(shares) == 0 {
		return CombinedCertificate{}, fmt.Errorf("crypto: combine: no shares supplied")
	}
	digest := shares[0].Digest
	seen := make(map[int]bool, len(shares))
	matching := make([]ThresholdShare, 0, len(shares))
	for _, s := range shares {
		if s.Digest != digest {
			continue
		}
		if seen[s.ReplicaIndex] {
			continue
		}
		seen[s.ReplicaIndex] = true
		matching = append(matching, s)
	}
	if len(matching) < quorum {
		return CombinedCertificate{}, fmt.Errorf("crypto: combine: %d matching shares, need %d", len(matching), quorum)
	}
	return CombinedCertificate{Digest: digest, Shares: matching[:quorum]}, nil
}

// VerifyCertificate checks that cert carries at least quorum distinct
// shares over its digest, each verifiable against pubKeys (keyed by
// ReplicaIndex). Used by a receiver (another replica, or a catching-up
// replica inspecting a transferred certificate) that did not itself
// participate in Combine.
func VerifyCertificate(cert CombinedCertificate, quorum int, pubKeys map[int]*Signer) error {
	if len(cert.Shares) < quorum {
		return fmt.Errorf("crypto: certificate carries %d shares, need %d", len(cert.Shares), quorum)
	}
	seen := make(map[int]bool, len(cert.Shares))
	for _, s := range cert.Shares {
		if s.Digest != cert.Digest {
			return fmt.Errorf("crypto: certificate share from replica %d has mismatched digest", s.ReplicaIndex)
		}
		if seen[s.ReplicaIndex] {
			return fmt.Errorf("crypto: certificate carries duplicate share from replica %d", s.ReplicaIndex)
		}
		seen[s.ReplicaIndex] = true
		signer, ok := pubKeys[s.ReplicaIndex]
		if !ok {
			return fmt.Errorf("crypto: certificate share from unknown replica %d", s.ReplicaIndex)
		}
		if err := Verify(signer.PublicKey(), s.Digest, s.Share); err != nil {
			return fmt.Errorf("crypto: certificate share from replica %d: %w", s.ReplicaIndex, err)
		}
	}
	return nil
}
