package validate

import (
	"fmt"

	"github.com/spire-resilient-systems/spire-sub003/internal/wire"
)

// newPayload returns a freshly allocated pointer to the concrete payload
// type k decodes into. The returned value is always a pointer, suitable for
// wire.DecodePayload's dst parameter.
func newPayload(k wire.Kind) (any, error) {
	switch k {
	case wire.KindPORequest:
		return &wire.PORequest{}, nil
	case wire.KindPOAck:
		return &wire.POAck{}, nil
	case wire.KindPOARU:
		return &wire.POARU{}, nil
	case wire.KindProofMatrix:
		return &wire.ProofMatrix{}, nil
	case wire.KindPrePrepare:
		return &wire.PrePrepare{}, nil
	case wire.KindPrepare:
		return &wire.Prepare{}, nil
	case wire.KindCommit:
		return &wire.Commit{}, nil
	case wire.KindTATMeasure:
		return &wire.TATMeasure{}, nil
	case wire.KindRTTPing:
		return &wire.RTTPing{}, nil
	case wire.KindRTTPong:
		return &wire.RTTPong{}, nil
	case wire.KindRTTMeasure:
		return &wire.RTTMeasure{}, nil
	case wire.KindTATUB:
		return &wire.TATUB{}, nil
	case wire.KindNewLeader:
		return &wire.NewLeader{}, nil
	case wire.KindNewLeaderProof:
		return &wire.NewLeaderProof{}, nil
	case wire.KindRBInit:
		return &wire.RBInit{}, nil
	case wire.KindRBEcho:
		return &wire.RBEcho{}, nil
	case wire.KindRBReady:
		return &wire.RBReady{}, nil
	case wire.KindReport:
		return &wire.Report{}, nil
	case wire.KindPCSet:
		return &wire.PCSet{}, nil
	case wire.KindVCList:
		return &wire.VCList{}, nil
	case wire.KindVCPartialSig:
		return &wire.VCPartialSig{}, nil
	case wire.KindVCProof:
		return &wire.VCProof{}, nil
	case wire.KindReplay:
		return &wire.Replay{}, nil
	case wire.KindReplayPrepare:
		return &wire.ReplayPrepare{}, nil
	case wire.KindReplayCommit:
		return &wire.ReplayCommit{}, nil
	case wire.KindORDCertificate:
		return &wire.ORDCertificate{}, nil
	case wire.KindPOCertificate:
		return &wire.POCertificate{}, nil
	case wire.KindCatchupRequest:
		return &wire.CatchupRequest{}, nil
	case wire.KindJump:
		return &wire.Jump{}, nil
	case wire.KindNewIncarnation:
		return &wire.NewIncarnation{}, nil
	case wire.KindIncarnationAck:
		return &wire.IncarnationAck{}, nil
	case wire.KindIncarnationCert:
		return &wire.IncarnationCert{}, nil
	case wire.KindPendingState:
		return &wire.PendingState{}, nil
	case wire.KindPendingShare:
		return &wire.PendingShare{}, nil
	case wire.KindResetVote:
		return &wire.ResetVote{}, nil
	case wire.KindResetShare:
		return &wire.ResetShare{}, nil
	case wire.KindResetProposal:
		return &wire.ResetProposal{}, nil
	case wire.KindResetPrepare:
		return &wire.ResetPrepare{}, nil
	case wire.KindResetCommit:
		return &wire.ResetCommit{}, nil
	case wire.KindResetNewLeader:
		return &wire.ResetNewLeader{}, nil
	case wire.KindResetNewLeaderProof:
		return &wire.ResetNewLeaderProof{}, nil
	case wire.KindResetViewChange:
		return &wire.ResetViewChange{}, nil
	case wire.KindResetNewView:
		return &wire.ResetNewView{}, nil
	case wire.KindResetCertificate:
		return &wire.ResetCertificate{}, nil
	case wire.KindUpdate:
		return &wire.Update{}, nil
	case wire.KindClientResponse:
		return &wire.ClientResponse{}, nil
	default:
		return nil, fmt.Errorf("validate: unknown message kind %v", k)
	}
}

// derefPayload dereferences a pointer produced by newPayload back to the
// value type wire.Message.Payload stores, matching Encode's convention of
// gob-encoding msg.Payload by value.
func derefPayload(dst any) any {
	switch p := dst.(type) {
	case *wire.PORequest:
		return *p
	case *wire.POAck:
		return *p
	case *wire.POARU:
		return *p
	case *wire.ProofMatrix:
		return *p
	case *wire.PrePrepare:
		return *p
	case *wire.Prepare:
		return *p
	case *wire.Commit:
		return *p
	case *wire.TATMeasure:
		return *p
	case *wire.RTTPing:
		return *p
	case *wire.RTTPong:
		return *p
	case *wire.RTTMeasure:
		return *p
	case *wire.TATUB:
		return *p
	case *wire.NewLeader:
		return *p
	case *wire.NewLeaderProof:
		return *p
	case *wire.RBInit:
		return *p
	case *wire.RBEcho:
		return *p
	case *wire.RBReady:
		return *p
	case *wire.Report:
		return *p
	case *wire.PCSet:
		return *p
	case *wire.VCList:
		return *p
	case *wire.VCPartialSig:
		return *p
	case *wire.VCProof:
		return *p
	case *wire.Replay:
		return *p
	case *wire.ReplayPrepare:
		return *p
	case *wire.ReplayCommit:
		return *p
	case *wire.ORDCertificate:
		return *p
	case *wire.POCertificate:
		return *p
	case *wire.CatchupRequest:
		return *p
	case *wire.Jump:
		return *p
	case *wire.NewIncarnation:
		return *p
	case *wire.IncarnationAck:
		return *p
	case *wire.IncarnationCert:
		return *p
	case *wire.PendingState:
		return *p
	case *wire.PendingShare:
		return *p
	case *wire.ResetVote:
		return *p
	case *wire.ResetShare:
		return *p
	case *wire.ResetProposal:
		return *p
	case *wire.ResetPrepare:
		return *p
	case *wire.ResetCommit:
		return *p
	case *wire.ResetNewLeader:
		return *p
	case *wire.ResetNewLeaderProof:
		return *p
	case *wire.ResetViewChange:
		return *p
	case *wire.ResetNewView:
		return *p
	case *wire.ResetCertificate:
		return *p
	case *wire.Update:
		return *p
	case *wire.ClientResponse:
		return *p
	default:
		return dst
	}
}
