package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"
)

func newThresholdFixture(t *testing.T, n int) ([]*ThresholdSigner, map[int]*Signer) {
	t.Helper()
	signers := make([]*ThresholdSigner, n)
	pub := make(map[int]*Signer, n)
	for i := 1; i <= n; i++ {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			t.Fatalf("rsa.GenerateKey: %v", err)
		}
		s, err := NewSigner(key)
		if err != nil {
			t.Fatalf("NewSigner: %v", err)
		}
		signers[i-1] = NewThresholdSigner(i, s)
		pub[i] = s
	}
	return signers, pub
}

func TestCombineAndVerifyCertificate(t *testing.T) {
	signers, pub := newThresholdFixture(t, 4)
	digest := DigestBytes([]byte("quorum object"))

	var shares []ThresholdShare
	for _, s := range signers[:3] {
		share, err := s.Share(digest)
		if err != nil {
			t.Fatalf("Share: %v", err)
		}
		shares = append(shares, share)
	}

	cert, err := Combine(shares, 3)
	if err != nil {
		t.Fatalf("Combine: %v", err)
	}
	if err := VerifyCertificate(cert, 3, pub); err != nil {
		t.Fatalf("VerifyCertificate: %v", err)
	}
}

func TestCombineRejectsInsufficientShares(t *testing.T) {
	signers, _ := newThresholdFixture(t, 4)
	digest := DigestBytes([]byte("x"))
	share, err := signers[0].Share(digest)
	if err != nil {
		t.Fatalf("Share: %v", err)
	}
	if _, err := Combine([]ThresholdShare{share}, 3); err == nil {
		t.Fatal("expected error for insufficient shares")
	}
}

func TestCombineIgnoresMismatchedDigests(t *testing.T) {
	signers, _ := newThresholdFixture(t, 4)
	a, err := signers[0].Share(DigestBytes([]byte("a")))
	if err != nil {
		t.Fatalf("Share: %v", err)
	}
	b, err := signers[1].Share(DigestBytes([]byte("b")))
	if err != nil {
		t.Fatalf("Share: %v", err)
	}
	c, err := signers[2].Share(DigestBytes([]byte("a")))
	if err != nil {
		t.Fatalf("Share: %v", err)
	}
	cert, err := Combine([]ThresholdShare{a, b, c}, 2)
	if err != nil {
		t.Fatalf("Combine: %v", err)
	}
	if len(cert.Shares) != 2 {
		t.Fatalf("len(Shares) = %d, want 2", len(cert.Shares))
	}
}

func TestVerifyCertificateRejectsForgedShare(t *testing.T) {
	signers, pub := newThresholdFixture(t, 4)
	digest := DigestBytes([]byte("quorum object"))
	var shares []ThresholdShare
	for _, s := range signers[:3] {
		share, err := s.Share(digest)
		if err != nil {
			t.Fatalf("Share: %v", err)
		}
		shares = append(shares, share)
	}
	cert, err := Combine(shares, 3)
	if err != nil {
		t.Fatalf("Combine: %v", err)
	}
	// Tamper with one share's signature bytes.
	cert.Shares[0].Share = append([]byte(nil), cert.Shares[0].Share...)
	cert.Shares[0].Share[0] ^= 0xFF

	if err := VerifyCertificate(cert, 3, pub); err == nil {
		t.Fatal("expected verification failure for forged share")
	}
}

func TestVerifyCertificateRejectsDuplicateReplica(t *testing.T) {
	signers, pub := newThresholdFixture(t, 4)
	digest := DigestBytes([]byte("quorum object"))
	share, err := signers[0].Share(digest)
	if err != nil {
		t.Fatalf("Share: %v", err)
	}
	cert := CombinedCertificate{Digest: digest, Shares: []ThresholdShare{share, share}}
	if err := VerifyCertificate(cert, 2, pub); err == nil {
		t.Fatal("expected error for duplicate replica share")
	}
}
