package crypto

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"
	"sync"
	"time"
)

// Signer signs and verifies a 32-byte digest with RSA-PSS, the scheme used
// for every SigReplicaSession, SigMerkleBatched root, and SigClient check in
// this engine (spec §4.1). Grounded on the teacher's small, struct-based
// signer types (cmd/popsigner-lite/internal/signer) that wrap a stdlib
// crypto primitive behind two methods and nil-check their inputs, rather
// than on the teacher's domain (secp256k1/Ethereum) which this repository
// has no use for.
type Signer struct {
	key *rsa.PrivateKey
	pub *rsa.PublicKey
}

// NewSigner wraps an RSA private key. Key generation and storage are an
// operational concern (provisioning, TPM-backed key custody) outside this
// package's scope.
func NewSigner(key *rsa.PrivateKey) (*Signer, error) {
	if key == nil {
		return nil, fmt.Errorf("crypto: signing key is nil")
	}
	return &Signer{key: key, pub: &key.PublicKey}, nil
}

// NewVerifierSigner wraps a peer's RSA public key only. A replica never
// holds its peers' private keys; this constructor lets KeysConfig's
// per-peer PEM load produce the same *Signer type validate.KeyStore
// returns for every site id, verify-only calls (PublicKey/Verify) being
// the only ones a peer entry is ever used for.
func NewVerifierSigner(pub *rsa.PublicKey) (*Signer, error) {
	if pub == nil {
		return nil, fmt.Errorf("crypto: verifying key is nil")
	}
	return &Signer{pub: pub}, nil
}

// Sign signs a 32-byte digest, returning raw PSS signature bytes.
func (s *Signer) Sign(digest [32]byte) ([]byte, error) {
	if s.key == nil {
		return nil, fmt.Errorf("crypto: signer holds no private key")
	}
	sig, err := rsa.SignPSS(rand.Reader, s.key, crypto.SHA256, digest[:], nil)
	if err != nil {
		return nil, fmt.Errorf("crypto: sign: %w", err)
	}
	return sig, nil
}

// Verify checks sig against digest under pub.
func Verify(pub *rsa.PublicKey, digest [32]byte, sig []byte) error {
	if pub == nil {
		return fmt.Errorf("crypto: verify: public key is nil")
	}
	if err := rsa.VerifyPSS(pub, crypto.SHA256, digest[:], sig, nil); err != nil {
		return fmt.Errorf("crypto: verify: %w", err)
	}
	return nil
}

// PublicKey returns the signer's public half, for distribution to peers
// that must verify its signatures.
func (s *Signer) PublicKey() *rsa.PublicKey {
	return s.pub
}

// BatchResult is one signed batch: the Merkle root's signature plus every
// leaf's inclusion path, keyed by the order digests were submitted in.
type BatchResult struct {
	Root      [32]byte
	Signature []byte
	Paths     []InclusionPath
}

// BatchingSigner implements spec §4.1's signing pipeline: a FIFO queue of
// pending digests, flushed either when it reaches MaxBatch entries or when
// MinLatency has elapsed since the oldest still-queued digest, whichever
// comes first — bounding both signing latency (sig_max_time) and RSA-op
// rate (sig_min_time) under load.
type BatchingSigner struct {
	signer     *Signer
	maxBatch   int
	minLatency time.Duration

	mu      sync.Mutex
	pending [][32]byte
	oldest  time.Time
	timer   *time.Timer
	onFlush func(BatchResult)
}

// NewBatchingSigner constructs a pipeline around signer. onFlush is called
// synchronously, under no internal lock, whenever a batch closes; the
// caller is expected to dispatch its result onward (e.g. enqueue outbound
// messages) without blocking long.
func NewBatchingSigner(signer *Signer, maxBatch int, minLatency time.Duration, onFlush func(BatchResult)) *BatchingSigner {
	if maxBatch < 1 {
		maxBatch = 1
	}
	return &BatchingSigner{
		signer:     signer,
		maxBatch:   maxBatch,
		minLatency: minLatency,
		onFlush:    onFlush,
	}
}

// Submit enqueues digest for the next batch, flushing immediately if the
// batch is now full.
func (b *BatchingSigner) Submit(digest [32]byte) {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.oldest = time.Now()
		b.armTimerLocked()
	}
	b.pending = append(b.pending, digest)
	full := len(b.pending) >= b.maxBatch
	b.mu.Unlock()

	if full {
		b.Flush()
	}
}

func (b *BatchingSigner) armTimerLocked() {
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(b.minLatency, b.Flush)
}

// Flush closes the current batch early (on min-latency timeout, or when
// the dispatcher is winding down) and signs it regardless of size.
func (b *BatchingSigner) Flush() {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return
	}
	leaves := b.pending
	b.pending = nil
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.mu.Unlock()

	tree, err := BuildMerkleTree(leaves)
	if err != nil {
		return
	}
	root := tree.Root()
	sig, err := b.signer.Sign(root)
	if err != nil {
		return
	}

	paths := make([]InclusionPath, len(leaves))
	for i := range leaves {
		p, _ := tree.Path(i)
		paths[i] = p
	}

	if b.onFlush != nil {
		b.onFlush(BatchResult{Root: root, Signature: sig, Paths: paths})
	}
}

// Pending reports the number of digests currently queued, for metrics and
// tests.
func (b *BatchingSigner) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// DigestBytes is a convenience for hashing arbitrary payload bytes into the
// [32]byte form every signing and verification path in this package
// expects.
func DigestBytes(b []byte) [32]byte {
	return sha256.Sum256(b)
}
