// Package apperrors defines the typed error kinds the ordering engine uses
// to decide how a failure propagates: dropped silently, fed to Suspect-Leader
// as evidence, parked for Catchup, retried by a protocol timer, or fatal.
package apperrors

import "fmt"

// Kind classifies an error per spec §7.
type Kind string

const (
	// KindValidation covers structural, signature, and state-forbidden
	// failures. The offending message is dropped silently (only logged).
	KindValidation Kind = "validation"

	// KindEquivocation marks evidence of conflicting signed messages from
	// the same originator (e.g. two Pre_Prepares for the same view/seq).
	// Retained as Suspect-Leader input; never fatal on its own.
	KindEquivocation Kind = "equivocation"

	// KindMissingState means a PO_Request an ordinal depends on is not yet
	// locally present. Triggers Catchup; the ordinal is parked.
	KindMissingState Kind = "missing_state"

	// KindTransportTransient covers send failures and routing misses.
	// Recovered by periodic protocol timers, never by negative-ack.
	KindTransportTransient Kind = "transport_transient"

	// KindLocalFatal covers unreadable own keys, own id absent from
	// membership, or allocation failure. The process aborts.
	KindLocalFatal Kind = "local_fatal"

	// KindGlobalDoomed marks f+k+1 jump-mismatch witnesses collected:
	// the local global incarnation cannot be trusted and recovery must
	// enter RESET.
	KindGlobalDoomed Kind = "global_doomed"
)

// Error is the engine's single error type. Every subsystem returns *Error
// instead of ad-hoc errors so callers can switch on Kind without type
// assertions into package-private types.
type Error struct {
	Kind    Kind
	Message string
	Details any
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// WithDetails returns a copy of e carrying additional structured context
// (e.g. the message kind that failed validation, or the replica ids in an
// equivocation).
func (e *Error) WithDetails(details any) *Error {
	return &Error{Kind: e.Kind, Message: e.Message, Details: details}
}

// WithMessage returns a copy of e with a more specific message.
func (e *Error) WithMessage(message string) *Error {
	return &Error{Kind: e.Kind, Message: message, Details: e.Details}
}

// Standard error values, one representative per kind. Subsystems that need
// a more specific message should call WithMessage/WithDetails rather than
// constructing a bespoke *Error, so every error in the system still carries
// the canonical Kind.
var (
	ErrMalformed = &Error{Kind: KindValidation, Message: "message failed structural validation"}

	ErrBadSignature = &Error{Kind: KindValidation, Message: "signature did not verify"}

	ErrWrongIncarnation = &Error{Kind: KindValidation, Message: "incarnation does not match installed_incarnations"}

	ErrStateForbidden = &Error{Kind: KindValidation, Message: "message kind not permitted in current recovery_status"}

	ErrOversize = &Error{Kind: KindValidation, Message: "message exceeds maximum packet size"}

	ErrEquivocatingPrePrepare = &Error{Kind: KindEquivocation, Message: "conflicting Pre_Prepare for (view, seq)"}

	ErrPOMissing = &Error{Kind: KindMissingState, Message: "PO_Request referenced by an eligible ordinal is not present locally"}

	ErrSendFailed = &Error{Kind: KindTransportTransient, Message: "transport send failed"}

	ErrKeyUnreadable = &Error{Kind: KindLocalFatal, Message: "own private key unreadable"}

	ErrNotInMembership = &Error{Kind: KindLocalFatal, Message: "own replica id absent from membership table"}

	ErrGlobalIncarnationDoomed = &Error{Kind: KindGlobalDoomed, Message: "f+k+1 jump-mismatch evidences collected"}
)

// New constructs an *Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Is reports whether err is an *Error of the given kind. It does not use
// errors.Is/As semantics deliberately: Kind comparison is the only
// dispatch axis the dispatcher needs.
func Is(err error, kind Kind) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == kind
}

// AsError converts err to *Error, defaulting to a local-fatal wrapper if it
// is not already one of ours — an un-typed error reaching the dispatcher is
// itself a programming mistake worth surfacing as fatal rather than
// swallowing.
func AsError(err error) *Error {
	if e, ok := err.(*Error); ok {
		return e
	}
	return &Error{Kind: KindLocalFatal, Message: err.Error()}
}
