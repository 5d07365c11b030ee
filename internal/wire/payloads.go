package wire

import "github.com/spire-resilient-systems/spire-sub003/internal/membership"

// PoSeqPair is (incarnation, seq_num), totally ordered lexicographically —
// spec §3. Incarnation-major ordering means a replica's sequence numbers
// from an earlier incarnation always sort before any from a later one,
// regardless of the numeric seq value.
type PoSeqPair struct {
	Incarnation uint64
	SeqNum      uint64
}

// Less implements the lexicographic order of spec §3.
func (p PoSeqPair) Less(o PoSeqPair) bool {
	if p.Incarnation != o.Incarnation {
		return p.Incarnation < o.Incarnation
	}
	return p.SeqNum < o.SeqNum
}

// OrdSeq is the global ordinal index.
type OrdSeq uint64

// Event is one client update carried inside a PO_Request batch.
type Event struct {
	Client    membership.ClientID
	SeqNum    uint64
	Timestamp int64
	Data      []byte
}

// PORequest is a batch of one or more client updates from one originator,
// identified by (originator, PoSeqPair).
type PORequest struct {
	Originator membership.ReplicaID
	Seq        PoSeqPair
	Events     []Event
}

// AckPart witnesses receipt of one PO_Request: (originator, seq, digest).
type AckPart struct {
	Originator membership.ReplicaID
	Seq        PoSeqPair
	Digest     [32]byte
}

// POAck aggregates one or more AckParts plus the sender's full
// preinstalled_incarnations vector (spec §4.2).
type POAck struct {
	Sender                 membership.ReplicaID
	Parts                  []AckPart
	PreinstalledIncarnations []uint64 // indexed by ReplicaID-1
}

// POARU is the cumulative per-origin acknowledgement vector: for each
// replica r, the highest PoSeqPair that the sender's cum_aru reports as
// 2f+k+1-witnessed.
type POARU struct {
	Sender       membership.ReplicaID
	AckForServer []PoSeqPair // indexed by ReplicaID-1
}

// ProofMatrix is N most-recent PO_ARU messages, one per replica (some
// entries may be absent if a replica's POARU has never been seen).
type ProofMatrix struct {
	Columns []POARU // indexed by ReplicaID-1; len == N, zero value if unseen
}

// PrePrepare is the leader's proposed ordinal assignment.
type PrePrepare struct {
	Seq            OrdSeq
	View           uint64
	ProposalDigest [32]byte
	LastExecuted   []PoSeqPair // indexed by ReplicaID-1
	CumAcks        ProofMatrix
}

// Prepare/Commit are the two phases of agreement on a Pre_Prepare.
type Prepare struct {
	Seq                      OrdSeq
	View                     uint64
	Digest                   [32]byte
	PreinstalledIncarnations []uint64
	Sender                   membership.ReplicaID
}

type Commit struct {
	Seq                      OrdSeq
	View                     uint64
	Digest                   [32]byte
	PreinstalledIncarnations []uint64
	Sender                   membership.ReplicaID
}

// RBTag keys a reliable-broadcast instance.
type RBTag struct {
	Sender membership.ReplicaID
	View   uint64
	Seq    uint64
}

// RBInit/RBEcho/RBReady carry an opaque inner payload through Bracha
// broadcast (spec §4.5). The inner payload is validated by the consumer
// (Report, PC_Set, Reset_ViewChange, Reset_NewView), not by the RB layer
// itself.
type RBInit struct {
	Tag     RBTag
	Payload []byte
}

type RBEcho struct {
	Tag    RBTag
	Sender membership.ReplicaID
	Digest [32]byte
}

type RBReady struct {
	Tag    RBTag
	Sender membership.ReplicaID
	Digest [32]byte
}

// Report starts a view change: a replica's local execARU and the number of
// prepare-certificates it will replay.
type Report struct {
	Sender   membership.ReplicaID
	ExecARU  OrdSeq
	PCSetSize int
}

// PCSet is one prepare-certificate (a Pre_Prepare plus 2f+k matching
// Prepares) for a single replayed seq.
type PCSet struct {
	Sender     membership.ReplicaID
	Seq        OrdSeq
	PrePrepare PrePrepare
	Prepares   []Prepare
}

// VCList is the bitmask of the 2f+k+1 report sources a replica selected.
type VCList struct {
	Sender    membership.ReplicaID
	Bitmask   []bool // indexed by ReplicaID-1
	StartSeq  OrdSeq
}

// VCPartialSig is one replica's threshold-signature share over an agreed
// (list, startSeq) pair.
type VCPartialSig struct {
	Sender  membership.ReplicaID
	List    VCList
	Share   []byte
}

// VCProof is the threshold-combined signature over the chosen VCList.
type VCProof struct {
	List      VCList
	Signature []byte
}

// ReplayKind distinguishes how a replayed ordinal is resolved.
type ReplayKind int

const (
	ReplayPCSet ReplayKind = iota
	ReplayNoOp
	ReplayNoOpPlus
)

// ReplaySlot is one entry of the new leader's Replay set.
type ReplaySlot struct {
	Seq  OrdSeq
	Kind ReplayKind
	Cert *PCSet // non-nil iff Kind == ReplayPCSet
}

// Replay is the new leader's replayed Pre_Prepares for view V+1.
type Replay struct {
	Proof VCProof
	Slots []ReplaySlot
}

type ReplayPrepare struct {
	Seq    OrdSeq
	Digest [32]byte
	Sender membership.ReplicaID
}

type ReplayCommit struct {
	Seq    OrdSeq
	Digest [32]byte
	Sender membership.ReplicaID
}

// ORDCertificate is a signed commit-certificate for an executed ordinal,
// used by Catchup to transfer ordering state.
type ORDCertificate struct {
	Seq            OrdSeq
	View           uint64
	ProposalDigest [32]byte
	Commits        []Commit
}

// POCertificate is a PO proof (request + 2f+k+1 acks) transferred during
// Catchup.
type POCertificate struct {
	Request PORequest
	Acks    []AckPart
}

// CatchupFlag distinguishes the reason a Catchup_Request was sent.
type CatchupFlag int

const (
	CatchupFlagCatchup CatchupFlag = iota
	CatchupFlagJump
	CatchupFlagPeriodic
	CatchupFlagRecovery
)

// CatchupRequest asks a helper replica for missing state.
type CatchupRequest struct {
	Sender         membership.ReplicaID
	Flag           CatchupFlag
	Nonce          string // ULID
	ARU            OrdSeq
	PoAru          []PoSeqPair // indexed by ReplicaID-1
	ProposalDigest [32]byte
}

// Jump answers a Catchup_Request that falls outside CATCHUP_HISTORY or
// targets a different global incarnation.
type Jump struct {
	SeqNum               OrdSeq
	ProposalDigest        [32]byte
	ORDCertificate         ORDCertificate
	ResetCertificate       *ResetCertificate
	InstalledIncarnations []uint64 // indexed by ReplicaID-1
}

// NewIncarnation is TPM-signed on restart, establishing a fresh session.
type NewIncarnation struct {
	Sender         membership.ReplicaID
	Nonce          string
	Timestamp      int64
	SessionKeyShare []byte
}

// IncarnationAck witnesses a NewIncarnation, TPM-bound.
type IncarnationAck struct {
	Sender        membership.ReplicaID
	NewIncDigest  [32]byte
}

// IncarnationCert is 2f+k+1 IncarnationAcks.
type IncarnationCert struct {
	NewInc NewIncarnation
	Acks   []IncarnationAck
}

// PendingState announces the count of PendingShares a recovering replica
// must replay to match its previous incarnation's commitments.
type PendingState struct {
	SeqNum      uint64
	TotalShares int
}

// PendingShare is one outstanding PO_Request or Pre_Prepare a recovering
// replica must see replayed. Per spec §9 Open Question (b), validation of
// PendingShare bypasses the incarnation-equality check that sibling
// messages enforce — preserved here, not "fixed"; see DESIGN.md.
type PendingShare struct {
	SeqNum  uint64
	Payload []byte
}

// ResetVote references another replica's latest New_Incarnation as the
// basis for a fresh global incarnation.
type ResetVote struct {
	Sender          membership.ReplicaID
	ReferencedIncDigest [32]byte
}

// ResetShare carries a session-key share toward the reset-leader's
// Reset_Proposal.
type ResetShare struct {
	Sender    membership.ReplicaID
	View      uint64
	Nonce     string
	SessionKey []byte
}

// ResetProposal defines the new membership for the fresh global
// incarnation.
type ResetProposal struct {
	View   uint64
	Shares []ResetShare
}

type ResetPrepare struct {
	View   uint64
	Digest [32]byte
	Sender membership.ReplicaID
}

type ResetCommit struct {
	View   uint64
	Digest [32]byte
	Sender membership.ReplicaID
}

type ResetNewLeader struct {
	View   uint64
	Sender membership.ReplicaID
}

type ResetNewLeaderProof struct {
	View  uint64
	Votes []ResetNewLeader
}

type ResetViewChange struct {
	Sender      membership.ReplicaID
	View        uint64
	CarriedOver *ResetProposal // non-nil if a proposal reached prepared state
}

type ResetNewView struct {
	View      uint64
	Proposal  ResetProposal
}

// ResetCertificate is 2f+k+1 ResetCommits; its digest becomes the system's
// proposal_digest and GlobalConfigNumber advances.
type ResetCertificate struct {
	Proposal ResetProposal
	Commits  []ResetCommit
	GCN      membership.GlobalConfigNumber
}

// Suspect-Leader messages.

type TATMeasure struct {
	Sender membership.ReplicaID
	View   uint64
	MaxTAT int64 // nanoseconds
}

type RTTPing struct {
	Sender membership.ReplicaID
	Nonce  string
	SentAt int64
}

type RTTPong struct {
	Sender   membership.ReplicaID
	Nonce    string
	EchoedAt int64
}

type RTTMeasure struct {
	Sender  membership.ReplicaID
	Peer    membership.ReplicaID
	TATIfLeader int64
}

type TATUB struct {
	Sender membership.ReplicaID
	View   uint64
	Alpha  int64
}

type NewLeader struct {
	Sender membership.ReplicaID
	View   uint64 // the view being proposed, i.e. current view + 1
}

type NewLeaderProof struct {
	View  uint64
	Votes []NewLeader
}

// ClientPayloadKind distinguishes special client payload types (spec §6).
type ClientPayloadKind int

const (
	ClientPayloadNoOp ClientPayloadKind = iota
	ClientPayloadStateTransfer
	ClientPayloadSystemReset
	ClientPayloadSystemReconf
	ClientPayloadOOBConfig
	ClientPayloadData
)

// Update is a client-signed request.
type Update struct {
	Client  membership.ClientID
	SeqNum  uint64
	Kind    ClientPayloadKind
	Data    []byte
}

// ClientResponse replies to a client after execution.
type ClientResponse struct {
	Client      membership.ClientID
	Incarnation uint64
	SeqNum      uint64
	OrdNum      OrdSeq
	Result      []byte
}
