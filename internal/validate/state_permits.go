package validate

import (
	"github.com/spire-resilient-systems/spire-sub003/internal/apperrors"
	"github.com/spire-resilient-systems/spire-sub003/internal/recovery"
	"github.com/spire-resilient-systems/spire-sub003/internal/wire"
)

// StatePermits implements spec §4.1's State_Permits(message, recovery_status).
// Ordinary ordering traffic is only meaningful once a replica has a founding
// proposal_digest (status NORMAL or RECOVERY); reset and recovery traffic must flow
// regardless of status, since it is what gets a replica into NORMAL in the
// first place.
func StatePermits(msg wire.Message, status recovery.Status) bool {
	switch msg.Header.Type {
	case wire.KindResetVote, wire.KindResetShare, wire.KindResetProposal,
		wire.KindResetPrepare, wire.KindResetCommit, wire.KindResetNewLeader,
		wire.KindResetNewLeaderProof, wire.KindResetViewChange, wire.KindResetNewView,
		wire.KindResetCertificate:
		// Reset traffic is always permitted: it is how a replica leaves
		// STARTUP or RESET in the first place.
		return true

	case wire.KindNewIncarnation, wire.KindIncarnationAck, wire.KindIncarnationCert,
		wire.KindPendingState, wire.KindPendingShare,
		wire.KindCatchupRequest, wire.KindORDCertificate, wire.KindPOCertificate, wire.KindJump:
		// Session rotation and catchup/jump run in every status except a
		// freshly-booted replica that has not yet voted into a reset.
		return status != recovery.StatusStartup

	default:
		// Ordinary ordering, suspect-leader, reliable-broadcast, and
		// view-change traffic requires an established global incarnation.
		return status == recovery.StatusNormal || status == recovery.StatusRecovery
	}
}

// CheckStatePermits is a convenience wrapping StatePermits as an
// apperrors.Error for callers that want a uniform error return rather than
// a bool.
func CheckStatePermits(msg wire.Message, status recovery.Status) error {
	if !StatePermits(msg, status) {
		return apperrors.ErrStateForbidden.WithMessage(msg.Header.Type.String() + " not permitted in status " + status.String())
	}
	return nil
}
