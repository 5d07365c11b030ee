package recovery

import (
	"fmt"

	"github.com/spire-resilient-systems/spire-sub003/internal/membership"
	"github.com/spire-resilient-systems/spire-sub003/internal/wire"
)

// ResetTable runs the System Reset subprotocol (spec §4.8) that rebuilds a
// fresh global incarnation once jump-mismatch evidence (internal/catchup)
// has doomed the old one. Shape follows internal/viewchange's
// vote-then-leader-proposal-then-prepare/commit pattern, specialized to
// Reset_Vote/Reset_Share/Reset_Proposal rather than Report/PC_Set: a
// reset-leader only collects Reset_Shares after FPlusKPlusOne replicas have
// voted to reference the same New_Incarnation digest, avoiding a reset
// being driven by less-than-certain evidence.
type ResetTable struct {
	self   membership.ReplicaID
	quorum membership.Table
	view   uint64

	votes        map[membership.ReplicaID]wire.ResetVote
	votedDigest  [32]byte
	haveVotes    bool
	shares       map[membership.ReplicaID]wire.ResetShare
	proposal     *wire.ResetProposal
	proposalDig  [32]byte
	prepares     map[membership.ReplicaID][32]byte
	commits      map[membership.ReplicaID][32]byte
	prepared     bool
	cert         *wire.ResetCertificate
}

// NewResetTable constructs reset state for the given reset-round view.
func NewResetTable(self membership.ReplicaID, quorum membership.Table, view uint64) *ResetTable {
	return &ResetTable{
		self:     self,
		quorum:   quorum,
		view:     view,
		votes:    make(map[membership.ReplicaID]wire.ResetVote),
		shares:   make(map[membership.ReplicaID]wire.ResetShare),
		prepares: make(map[membership.ReplicaID][32]byte),
		commits:  make(map[membership.ReplicaID][32]byte),
	}
}

// Vote builds this replica's Reset_Vote referencing ref, the digest of the
// New_Incarnation it believes the fresh global incarnation should build on
// (typically its own most recent one).
func (t *ResetTable) Vote(ref [32]byte) wire.ResetVote {
	return wire.ResetVote{Sender: t.self, ReferencedIncDigest: ref}
}

// RecordVote applies a received Reset_Vote. Once FPlusKPlusOne votes agree
// on the same referenced digest, reset proceeds to the share-collection
// phase and RecordVote reports readiness.
func (t *ResetTable) RecordVote(vote wire.ResetVote) bool {
	if t.haveVotes {
		return true
	}
	if len(t.votes) == 0 {
		t.votedDigest = vote.ReferencedIncDigest
	} else if vote.ReferencedIncDigest != t.votedDigest {
		// Disagreeing votes simply don't count toward this round's digest;
		// a replica observing persistent disagreement escalates via
		// Reset_ViewChange (handled by the caller, not this table).
		return false
	}
	t.votes[vote.Sender] = vote
	if len(t.votes) >= t.quorum.FPlusKPlusOne() {
		t.haveVotes = true
		return true
	}
	return false
}

// ReadyForShares reports whether enough Reset_Votes have accumulated to
// begin collecting Reset_Shares.
func (t *ResetTable) ReadyForShares() bool { return t.haveVotes }

// RecordShare applies a received Reset_Share toward the leader's
// Reset_Proposal.
func (t *ResetTable) RecordShare(share wire.ResetShare) {
	t.shares[share.Sender] = share
}

// BuildProposal assembles a Reset_Proposal once LargeQuorum shares have
// been collected; only the reset-leader for t.view calls this.
func (t *ResetTable) BuildProposal() (wire.ResetProposal, bool) {
	if len(t.shares) < t.quorum.LargeQuorum() {
		return wire.ResetProposal{}, false
	}
	shares := make([]wire.ResetShare, 0, len(t.shares))
	for _, s := range t.shares {
		shares = append(shares, s)
	}
	return wire.ResetProposal{View: t.view, Shares: shares}, true
}

// OnProposal accepts the leader's Reset_Proposal, returning this replica's
// Reset_Prepare vote.
func (t *ResetTable) OnProposal(proposal wire.ResetProposal) (wire.ResetPrepare, error) {
	digest, err := wire.Sha256Of(proposal)
	if err != nil {
		return wire.ResetPrepare{}, fmt.Errorf("recovery: digesting Reset_Proposal: %w", err)
	}
	t.proposal = &proposal
	t.proposalDig = digest
	return wire.ResetPrepare{View: t.view, Digest: digest, Sender: t.self}, nil
}

// RecordPrepare applies a received Reset_Prepare. Once SmallQuorum
// (2f+k) prepares referencing t.proposalDig accumulate, returns this
// replica's Reset_Commit.
func (t *ResetTable) RecordPrepare(rp wire.ResetPrepare) (wire.ResetCommit, bool, error) {
	if t.proposal == nil {
		return wire.ResetCommit{}, false, fmt.Errorf("recovery: no Reset_Proposal accepted yet")
	}
	if rp.Digest != t.proposalDig {
		return wire.ResetCommit{}, false, fmt.Errorf("recovery: Reset_Prepare digest mismatch from replica %d", rp.Sender)
	}
	t.prepares[rp.Sender] = rp.Digest
	if t.prepared {
		return wire.ResetCommit{}, false, nil
	}
	if countMatchingDigest(t.prepares, t.proposalDig) < t.quorum.SmallQuorum() {
		return wire.ResetCommit{}, false, nil
	}
	t.prepared = true
	return wire.ResetCommit{View: t.view, Digest: t.proposalDig, Sender: t.self}, true, nil
}

// RecordCommit applies a received Reset_Commit. Once LargeQuorum commits
// referencing t.proposalDig accumulate, returns the assembled
// Reset_Certificate whose digest becomes the fresh global incarnation's
// proposal_digest (spec §4.8).
func (t *ResetTable) RecordCommit(rc wire.ResetCommit, gcn membership.GlobalConfigNumber) (wire.ResetCertificate, bool, error) {
	if t.proposal == nil {
		return wire.ResetCertificate{}, false, fmt.Errorf("recovery: no Reset_Proposal accepted yet")
	}
	if rc.Digest != t.proposalDig {
		return wire.ResetCertificate{}, false, fmt.Errorf("recovery: Reset_Commit digest mismatch from replica %d", rc.Sender)
	}
	t.commits[rc.Sender] = rc.Digest
	if t.cert != nil {
		return *t.cert, true, nil
	}
	if countMatchingDigest(t.commits, t.proposalDig) < t.quorum.LargeQuorum() {
		return wire.ResetCertificate{}, false, nil
	}
	commits := make([]wire.ResetCommit, 0, len(t.commits))
	for sender := range t.commits {
		commits = append(commits, wire.ResetCommit{View: t.view, Digest: t.proposalDig, Sender: sender})
	}
	cert := wire.ResetCertificate{Proposal: *t.proposal, Commits: commits, GCN: gcn}
	t.cert = &cert
	return cert, true, nil
}

// Certificate returns the assembled Reset_Certificate, if any.
func (t *ResetTable) Certificate() (wire.ResetCertificate, bool) {
	if t.cert == nil {
		return wire.ResetCertificate{}, false
	}
	return *t.cert, true
}

func countMatchingDigest(votes map[membership.ReplicaID][32]byte, digest [32]byte) int {
	n := 0
	for _, d := range votes {
		if d == digest {
			n++
		}
	}
	return n
}

// ResetLeaderTable collects Reset_NewLeader votes for escalating a stalled
// reset round to a new reset-leader, mirroring internal/suspect's
// New_Leader vote-collection shape but scoped to the reset subprotocol.
type ResetLeaderTable struct {
	quorum membership.Table
	votes  map[uint64]map[membership.ReplicaID]wire.ResetNewLeader
}

// NewResetLeaderTable constructs empty Reset_NewLeader vote tracking.
func NewResetLeaderTable(quorum membership.Table) *ResetLeaderTable {
	return &ResetLeaderTable{quorum: quorum, votes: make(map[uint64]map[membership.ReplicaID]wire.ResetNewLeader)}
}

// RecordVote applies a received Reset_NewLeader vote, returning a
// Reset_NewLeaderProof once LargeQuorum votes for the same view accumulate.
func (r *ResetLeaderTable) RecordVote(vote wire.ResetNewLeader) (wire.ResetNewLeaderProof, bool) {
	byReplica, ok := r.votes[vote.View]
	if !ok {
		byReplica = make(map[membership.ReplicaID]wire.ResetNewLeader)
		r.votes[vote.View] = byReplica
	}
	byReplica[vote.Sender] = vote
	if len(byReplica) < r.quorum.LargeQuorum() {
		return wire.ResetNewLeaderProof{}, false
	}
	votes := make([]wire.ResetNewLeader, 0, len(byReplica))
	for _, v := range byReplica {
		votes = append(votes, v)
	}
	return wire.ResetNewLeaderProof{View: vote.View, Votes: votes}, true
}
