package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"sync"
	"testing"
	"time"
)

func testKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa.GenerateKey: %v", err)
	}
	return key
}

func TestSignVerifyRoundTrip(t *testing.T) {
	signer, err := NewSigner(testKey(t))
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	digest := DigestBytes([]byte("hello"))
	sig, err := signer.Sign(digest)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := Verify(signer.PublicKey(), digest, sig); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if err := Verify(signer.PublicKey(), DigestBytes([]byte("other")), sig); err == nil {
		t.Fatal("expected verification failure for mismatched digest")
	}
}

func TestNewSignerRejectsNilKey(t *testing.T) {
	if _, err := NewSigner(nil); err == nil {
		t.Fatal("expected error for nil key")
	}
}

func TestVerifierSignerVerifiesButCannotSign(t *testing.T) {
	full, err := NewSigner(testKey(t))
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	digest := DigestBytes([]byte("hello"))
	sig, err := full.Sign(digest)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	verifier, err := NewVerifierSigner(full.PublicKey())
	if err != nil {
		t.Fatalf("NewVerifierSigner: %v", err)
	}
	if err := Verify(verifier.PublicKey(), digest, sig); err != nil {
		t.Fatalf("Verify via verifier's PublicKey(): %v", err)
	}
	if _, err := verifier.Sign(digest); err == nil {
		t.Fatal("expected Sign to fail on a verify-only Signer")
	}
}

func TestNewVerifierSignerRejectsNilKey(t *testing.T) {
	if _, err := NewVerifierSigner(nil); err == nil {
		t.Fatal("expected error for nil public key")
	}
}

func TestBatchingSignerFlushesOnMaxBatch(t *testing.T) {
	signer, err := NewSigner(testKey(t))
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}

	var mu sync.Mutex
	var results []BatchResult
	b := NewBatchingSigner(signer, 3, time.Hour, func(r BatchResult) {
		mu.Lock()
		results = append(results, r)
		mu.Unlock()
	})

	b.Submit(DigestBytes([]byte("a")))
	b.Submit(DigestBytes([]byte("b")))
	if b.Pending() != 2 {
		t.Fatalf("Pending = %d, want 2", b.Pending())
	}
	b.Submit(DigestBytes([]byte("c")))

	mu.Lock()
	defer mu.Unlock()
	if len(results) != 1 {
		t.Fatalf("len(results) = %d, want 1", len(results))
	}
	if len(results[0].Paths) != 3 {
		t.Fatalf("len(Paths) = %d, want 3", len(results[0].Paths))
	}
	if b.Pending() != 0 {
		t.Fatalf("Pending after flush = %d, want 0", b.Pending())
	}
}

func TestBatchingSignerFlushesOnTimeout(t *testing.T) {
	signer, err := NewSigner(testKey(t))
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}

	flushed := make(chan BatchResult, 1)
	b := NewBatchingSigner(signer, 100, 20*time.Millisecond, func(r BatchResult) {
		flushed <- r
	})
	b.Submit(DigestBytes([]byte("solo")))

	select {
	case r := <-flushed:
		if len(r.Paths) != 1 {
			t.Fatalf("len(Paths) = %d, want 1", len(r.Paths))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for min-latency flush")
	}
}
