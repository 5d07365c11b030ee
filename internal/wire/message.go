// Package wire defines the replica-to-replica framed binary protocol of
// spec §6 and §3: a fixed header followed by a type-specific payload, an
// explicit endian flag instead of an assumed network byte order, and the
// tagged-union Kind used for dispatch throughout the engine.
//
// Field order and naming are grounded on original_source/prime/src/packets.h
// (the `signed_message` header and the packet_types enum), translated into
// an idiomatic Go tagged union rather than transliterated C structs.
package wire

import (
	"github.com/spire-resilient-systems/spire-sub003/internal/membership"
)

// Kind identifies a message type. Values mirror packets.h's packet_types
// enum ordering where it helps a reader cross-reference the original
// protocol, but the Go side dispatches on this named type, never on a raw
// integer.
type Kind int

const (
	KindDummy Kind = iota

	KindPORequest
	KindPOAck
	KindPOARU
	KindProofMatrix

	KindPrePrepare
	KindPrepare
	KindCommit

	KindTATMeasure
	KindRTTPing
	KindRTTPong
	KindRTTMeasure
	KindTATUB

	KindNewLeader
	KindNewLeaderProof

	KindRBInit
	KindRBEcho
	KindRBReady

	KindReport
	KindPCSet
	KindVCList
	KindVCPartialSig
	KindVCProof

	KindReplay
	KindReplayPrepare
	KindReplayCommit

	KindORDCertificate
	KindPOCertificate
	KindCatchupRequest
	KindJump

	KindNewIncarnation
	KindIncarnationAck
	KindIncarnationCert

	KindPendingState
	KindPendingShare

	KindResetVote
	KindResetShare
	KindResetProposal
	KindResetPrepare
	KindResetCommit
	KindResetNewLeader
	KindResetNewLeaderProof
	KindResetViewChange
	KindResetNewView
	KindResetCertificate

	KindUpdate
	KindClientResponse
)

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "UNKNOWN"
}

var kindNames = map[Kind]string{
	KindDummy:               "DUMMY",
	KindPORequest:           "PO_REQUEST",
	KindPOAck:               "PO_ACK",
	KindPOARU:               "PO_ARU",
	KindProofMatrix:         "PROOF_MATRIX",
	KindPrePrepare:          "PRE_PREPARE",
	KindPrepare:             "PREPARE",
	KindCommit:              "COMMIT",
	KindTATMeasure:          "TAT_MEASURE",
	KindRTTPing:             "RTT_PING",
	KindRTTPong:             "RTT_PONG",
	KindRTTMeasure:          "RTT_MEASURE",
	KindTATUB:               "TAT_UB",
	KindNewLeader:           "NEW_LEADER",
	KindNewLeaderProof:      "NEW_LEADER_PROOF",
	KindRBInit:              "RB_INIT",
	KindRBEcho:              "RB_ECHO",
	KindRBReady:             "RB_READY",
	KindReport:              "REPORT",
	KindPCSet:               "PC_SET",
	KindVCList:              "VC_LIST",
	KindVCPartialSig:        "VC_PARTIAL_SIG",
	KindVCProof:             "VC_PROOF",
	KindReplay:              "REPLAY",
	KindReplayPrepare:       "REPLAY_PREPARE",
	KindReplayCommit:        "REPLAY_COMMIT",
	KindORDCertificate:      "ORD_CERT",
	KindPOCertificate:       "PO_CERT",
	KindCatchupRequest:      "CATCHUP_REQUEST",
	KindJump:                "JUMP",
	KindNewIncarnation:      "NEW_INCARNATION",
	KindIncarnationAck:      "INCARNATION_ACK",
	KindIncarnationCert:     "INCARNATION_CERT",
	KindPendingState:        "PENDING_STATE",
	KindPendingShare:        "PENDING_SHARE",
	KindResetVote:           "RESET_VOTE",
	KindResetShare:          "RESET_SHARE",
	KindResetProposal:       "RESET_PROPOSAL",
	KindResetPrepare:        "RESET_PREPARE",
	KindResetCommit:         "RESET_COMMIT",
	KindResetNewLeader:      "RESET_NEWLEADER",
	KindResetNewLeaderProof: "RESET_NEWLEADERPROOF",
	KindResetViewChange:     "RESET_VIEWCHANGE",
	KindResetNewView:        "RESET_NEWVIEW",
	KindResetCertificate:    "RESET_CERT",
	KindUpdate:              "UPDATE",
	KindClientResponse:      "CLIENT_RESPONSE",
}

// SignatureKind classifies how a Kind must be authenticated, per spec §4.1
// and original_source's signature_type enum (RSA/Merkle/threshold/TPM).
type SignatureKind int

const (
	// SigNone applies to messages that carry no cryptographic signature
	// of their own (e.g. RTT_PING content nested inside a signed
	// envelope only at the transport layer — none exist among the Kinds
	// above; kept for completeness of the enum).
	SigNone SignatureKind = iota
	// SigClient is an RSA signature made directly with the client's key
	// (Update messages).
	SigClient
	// SigReplicaSession is an ordinary RSA signature made with the
	// replica's session (incarnation) key.
	SigReplicaSession
	// SigMerkleBatched is an RSA signature over a Merkle root covering a
	// batch of messages; the individual message carries (mt_num,
	// mt_index, path) rather than its own signature bytes.
	SigMerkleBatched
	// SigThreshold is a combined threshold signature witnessing a
	// cross-replica quorum (PO proofs, certificates, view-change
	// proofs, reset certificates).
	SigThreshold
	// SigTPM is a TPM-bound signature required on the first message of
	// a new incarnation (New_Incarnation, Incarnation_Ack).
	SigTPM
)

// signatureTable is the static table spec §4.1 describes: "computes the
// required signature type from a static table." Keyed by Kind.
var signatureTable = map[Kind]SignatureKind{
	KindUpdate:              SigClient,
	KindPORequest:           SigMerkleBatched,
	KindPOAck:               SigMerkleBatched,
	KindPOARU:               SigMerkleBatched,
	KindProofMatrix:         SigNone, // composite: validity follows from its PO_ARU parts
	KindPrePrepare:          SigMerkleBatched,
	KindPrepare:             SigMerkleBatched,
	KindCommit:              SigMerkleBatched,
	KindTATMeasure:          SigMerkleBatched,
	KindRTTPing:             SigMerkleBatched,
	KindRTTPong:             SigMerkleBatched,
	KindRTTMeasure:          SigMerkleBatched,
	KindTATUB:               SigMerkleBatched,
	KindNewLeader:           SigMerkleBatched,
	KindNewLeaderProof:      SigThreshold,
	KindRBInit:              SigMerkleBatched,
	KindRBEcho:              SigMerkleBatched,
	KindRBReady:             SigMerkleBatched,
	KindReport:              SigMerkleBatched,
	KindPCSet:               SigThreshold, // carries a prepare-certificate, itself a quorum object
	KindVCList:              SigMerkleBatched,
	KindVCPartialSig:        SigMerkleBatched,
	KindVCProof:             SigThreshold,
	KindReplay:              SigThreshold,
	KindReplayPrepare:       SigMerkleBatched,
	KindReplayCommit:        SigMerkleBatched,
	KindORDCertificate:      SigThreshold,
	KindPOCertificate:       SigThreshold,
	KindCatchupRequest:      SigMerkleBatched,
	KindJump:                SigThreshold,
	KindNewIncarnation:      SigTPM,
	KindIncarnationAck:      SigTPM,
	KindIncarnationCert:     SigThreshold,
	KindPendingState:        SigMerkleBatched,
	KindPendingShare:        SigMerkleBatched,
	KindResetVote:           SigMerkleBatched,
	KindResetShare:          SigMerkleBatched,
	KindResetProposal:       SigThreshold,
	KindResetPrepare:        SigMerkleBatched,
	KindResetCommit:         SigMerkleBatched,
	KindResetNewLeader:      SigMerkleBatched,
	KindResetNewLeaderProof: SigThreshold,
	KindResetViewChange:     SigMerkleBatched,
	KindResetNewView:        SigThreshold,
	KindResetCertificate:    SigThreshold,
	KindClientResponse:      SigMerkleBatched,
}

// SignatureKindFor returns the required SignatureKind for k, defaulting to
// SigMerkleBatched (the common case for ordinary replica traffic) when a
// Kind has no explicit entry.
func SignatureKindFor(k Kind) SignatureKind {
	if sk, ok := signatureTable[k]; ok {
		return sk
	}
	return SigMerkleBatched
}

// Header is the fixed, type-independent prefix of every wire message,
// modeled on packets.h's signed_message. Endian is an explicit bit rather
// than an assumption of network byte order (spec §6, §9): a receiver whose
// native endianness disagrees flips multi-byte fields on read.
type Header struct {
	SiteID      uint32
	MachineID   uint32
	Len         uint32
	Type        Kind
	Incarnation uint32
	MonotonicCounter uint32
	GlobalConfigNumber membership.GlobalConfigNumber
	LittleEndian bool

	// MerkleTreeNum/MerkleIndex locate this message's digest within the
	// signing batch that produced its signature, when SignatureKindFor
	// reports SigMerkleBatched.
	MerkleTreeNum uint16
	MerkleIndex   uint16
}

// Message is a decoded, validated, tagged-union message: a Header plus a
// typed Payload. Validate (internal/validate) is the only path that
// produces a Message from raw bytes; nothing else in the engine trusts an
// unvalidated buffer.
type Message struct {
	Header  Header
	Payload any
}

// MaxPacketSize is the default reject-if-oversize threshold from spec §6.
// Configurable per internal/config; messages larger than this are rejected
// at this layer, not fragmented (the overlay fragments transport-level
// datagrams, never this framing layer).
const MaxPacketSize = 64 * 1024
