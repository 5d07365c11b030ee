// Package catchup implements Catchup & Jump (spec §4.7): a lagging
// replica's periodic Catchup_Request to a rotating helper, the helper's
// rate-limited response (a stream of certificates within CATCHUP_HISTORY,
// or a Jump out-of-window), and the asker's jump-mismatch evidence
// accumulation toward a doomed global incarnation.
//
// Rotating-helper shape grounded on other_examples'
// mostafa-re-kiwi internal/replication/client.go's Manager, which holds a
// slice of per-slave clients and cycles sequence/transaction bookkeeping
// across them; this package keeps that rotating-helper idiom (NextHelper
// advances to the next helper on every call) but replaces 2PC/gRPC transport with the Catchup_Request/
// ORD_Certificate/PO_Certificate/Jump wire exchange spec §4.7 defines.
package catchup

import (
	"github.com/spire-resilient-systems/spire-sub003/internal/apperrors"
	"github.com/spire-resilient-systems/spire-sub003/internal/membership"
	"github.com/spire-resilient-systems/spire-sub003/internal/pkg/ulid"
	"github.com/spire-resilient-systems/spire-sub003/internal/wire"
)

// CatchupHistory bounds how far behind localARU a request may fall before
// the helper answers with a Jump instead of a certificate stream.
const CatchupHistory = 1000

// Asker is the per-replica state for issuing Catchup_Requests and
// processing jump-mismatch evidence.
type Asker struct {
	self    membership.ReplicaID
	quorum  membership.Table
	helpers []membership.ReplicaID
	nextIdx int

	jumpMismatch map[membership.ReplicaID]bool
}

// NewAsker constructs an Asker that rotates across every replica other
// than self.
func NewAsker(self membership.ReplicaID, quorum membership.Table) *Asker {
	helpers := make([]membership.ReplicaID, 0, quorum.N-1)
	for _, r := range quorum.Replicas() {
		if r != self {
			helpers = append(helpers, r)
		}
	}
	return &Asker{self: self, quorum: quorum, helpers: helpers, jumpMismatch: make(map[membership.ReplicaID]bool)}
}

// NextHelper rotates to (and returns) the next helper to target.
func (a *Asker) NextHelper() membership.ReplicaID {
	if len(a.helpers) == 0 {
		return a.self
	}
	h := a.helpers[a.nextIdx%len(a.helpers)]
	a.nextIdx++
	return h
}

// BuildRequest assembles a Catchup_Request for the given reason, stamping
// a fresh ULID nonce (internal/pkg/ulid).
func (a *Asker) BuildRequest(flag wire.CatchupFlag, aru wire.OrdSeq, poAru []wire.PoSeqPair, proposalDigest [32]byte) wire.CatchupRequest {
	return wire.CatchupRequest{
		Sender:         a.self,
		Flag:           flag,
		Nonce:          ulid.New(),
		ARU:            aru,
		PoAru:          poAru,
		ProposalDigest: proposalDigest,
	}
}

// OnJump applies a received Jump. If its proposal_digest disagrees with
// localDigest, it is jump-mismatch evidence from helper; once f+k+1
// distinct helpers have produced mismatching Jumps, the local global
// incarnation is doomed (spec §4.7).
func (a *Asker) OnJump(helper membership.ReplicaID, jump wire.Jump, localDigest [32]byte) error {
	if jump.ProposalDigest == localDigest {
		return nil
	}
	a.jumpMismatch[helper] = true
	if len(a.jumpMismatch) >= a.quorum.FPlusKPlusOne() {
		return apperrors.ErrGlobalIncarnationDoomed
	}
	return nil
}

// ResetMismatchEvidence clears accumulated jump-mismatch evidence, called
// once the replica re-enters PR_STARTUP/RESET (spec §4.7/§4.8) and a fresh
// global incarnation supersedes the old one.
func (a *Asker) ResetMismatchEvidence() {
	a.jumpMismatch = make(map[membership.ReplicaID]bool)
}

// CertificateBundle is what a helper streams back for ordinals within
// CATCHUP_HISTORY.
type CertificateBundle struct {
	ORD []wire.ORDCertificate
	PO  []wire.POCertificate
}

// ResponseKind distinguishes a helper's two possible answers.
type ResponseKind int

const (
	ResponseStream ResponseKind = iota
	ResponseJump
)

// Helper is the per-replica state for answering Catchup_Requests.
type Helper struct {
	self    membership.ReplicaID
	limiter *RateLimiter
}

// NewHelper constructs a Helper with the given rate limiter.
func NewHelper(self membership.ReplicaID, limiter *RateLimiter) *Helper {
	return &Helper{self: self, limiter: limiter}
}

// Classify decides how to answer req given this replica's own localARU and
// localProposalDigest, per spec §4.7's three response cases. The
// proposal-digest-mismatch case is folded into ResponseJump — the caller
// builds the Jump via BuildJump either way, and the asker's OnJump handles
// the mismatch distinction.
func (h *Helper) Classify(req wire.CatchupRequest, localARU wire.OrdSeq) ResponseKind {
	if req.ARU+CatchupHistory < localARU {
		return ResponseJump
	}
	return ResponseStream
}

// BuildJump assembles the Jump response for req, reflecting this helper's
// own view of the system (proposal digest, certificate, reset certificate,
// and installed-incarnations vector).
func BuildJump(localARU wire.OrdSeq, proposalDigest [32]byte, ordCert wire.ORDCertificate, resetCert *wire.ResetCertificate, installed []uint64) wire.Jump {
	return wire.Jump{
		SeqNum:                localARU,
		ProposalDigest:        proposalDigest,
		ORDCertificate:        ordCert,
		ResetCertificate:      resetCert,
		InstalledIncarnations: installed,
	}
}
