// Package chanerr defines the error taxonomy used across the update
// protocol engine (core/validator, core/sync, store/boltstore). Every
// sentinel is wrapped in a *CoreError carrying a Kind, so callers can
// `errors.Is` against the sentinel and also branch on Kind()/Retriable().
package chanerr

import "github.com/go-errors/errors"

// Kind tags a CoreError with one of the taxonomy entries from the
// protocol design.
type Kind uint8

const (
	// KindUnknown is the zero value; never returned by this package.
	KindUnknown Kind = iota

	// KindStaleUpdate means the proposed nonce is behind the replica's
	// current nonce. Carries the replica's latest update for sync.
	KindStaleUpdate

	// KindSyncSingleSigned means a StaleUpdate's sync target was not
	// double-signed. Fatal.
	KindSyncSingleSigned

	// KindCannotSyncSetup means sync would require replaying setup.
	// Fatal.
	KindCannotSyncSetup

	// KindRestoreNeeded means the nonce gap exceeds what a single sync
	// step can close. Fatal; signals an external restore path.
	KindRestoreNeeded

	// KindInvalidParams means validateOutbound rejected the caller's
	// parameters.
	KindInvalidParams

	// KindInvalidUpdate means validateInbound rejected a proposed
	// update.
	KindInvalidUpdate

	// KindExternalValidationFailed means the external validator hook
	// rejected the update.
	KindExternalValidationFailed

	// KindBadSignatures means signature recovery or verification
	// failed.
	KindBadSignatures

	// KindCounterpartyFailure is an opaque transport/remote error.
	// Retriable by the caller.
	KindCounterpartyFailure

	// KindStoreFailure wraps an error from the Store contract.
	KindStoreFailure

	// KindChainError wraps an error from the ChainReader contract.
	KindChainError
)

func (k Kind) String() string {
	switch k {
	case KindStaleUpdate:
		return "StaleUpdate"
	case KindSyncSingleSigned:
		return "SyncSingleSigned"
	case KindCannotSyncSetup:
		return "CannotSyncSetup"
	case KindRestoreNeeded:
		return "RestoreNeeded"
	case KindInvalidParams:
		return "InvalidParams"
	case KindInvalidUpdate:
		return "InvalidUpdate"
	case KindExternalValidationFailed:
		return "ExternalValidationFailed"
	case KindBadSignatures:
		return "BadSignatures"
	case KindCounterpartyFailure:
		return "CounterpartyFailure"
	case KindStoreFailure:
		return "StoreFailure"
	case KindChainError:
		return "ChainError"
	default:
		return "Unknown"
	}
}

// CoreError is the concrete error value returned by validator/sync;
// core/applier returns plain errors, which validator wraps as the cause of
// a CoreError. Context carries kind-specific payload, e.g. the latestUpdate accompanying
// a StaleUpdate.
type CoreError struct {
	kind    Kind
	msg     string
	cause   error
	Context interface{}
}

// New builds a CoreError of the given kind wrapping cause, which may be
// nil. Matches channeldb's flat Err* sentinel style but keeps a Kind so
// callers can branch without string comparison.
func New(kind Kind, msg string, cause error) *CoreError {
	return &CoreError{kind: kind, msg: msg, cause: cause}
}

// WithContext attaches kind-specific payload (e.g. the sync target update)
// and returns the same error for chaining.
func (e *CoreError) WithContext(ctx interface{}) *CoreError {
	e.Context = ctx
	return e
}

func (e *CoreError) Error() string {
	if e.cause != nil {
		return e.kind.String() + ": " + e.msg + ": " + e.cause.Error()
	}
	return e.kind.String() + ": " + e.msg
}

// Unwrap exposes the wrapped cause so errors.Is/errors.As keep working
// through this type.
func (e *CoreError) Unwrap() error {
	return e.cause
}

// Kind returns the taxonomy entry for this error.
func (e *CoreError) Kind() Kind {
	return e.kind
}

// Retriable reports whether the caller may retry the operation that
// produced this error. Per §7, only CounterpartyFailure is retriable;
// everything else is fatal for the current attempt.
func (e *CoreError) Retriable() bool {
	return e.kind == KindCounterpartyFailure
}

// Is lets errors.Is(err, chanerr.StaleUpdate) work against a *CoreError of
// the matching kind, without requiring exact sentinel identity.
func (e *CoreError) Is(target error) bool {
	other, ok := target.(*CoreError)
	if !ok {
		return false
	}
	return e.kind == other.kind
}

// Sentinel markers for errors.Is comparisons; these carry no message or
// cause and exist purely as Kind anchors.
var (
	StaleUpdate              = &CoreError{kind: KindStaleUpdate}
	SyncSingleSigned         = &CoreError{kind: KindSyncSingleSigned}
	CannotSyncSetup          = &CoreError{kind: KindCannotSyncSetup}
	RestoreNeeded            = &CoreError{kind: KindRestoreNeeded}
	InvalidParams            = &CoreError{kind: KindInvalidParams}
	InvalidUpdate            = &CoreError{kind: KindInvalidUpdate}
	ExternalValidationFailed = &CoreError{kind: KindExternalValidationFailed}
	BadSignatures            = &CoreError{kind: KindBadSignatures}
	CounterpartyFailure      = &CoreError{kind: KindCounterpartyFailure}
	StoreFailure             = &CoreError{kind: KindStoreFailure}
	ChainError               = &CoreError{kind: KindChainError}
)

// wrap adapts go-errors/errors so the wrapped cause keeps its stack trace
// across suspension points (messaging round trips, store writes), the way
// peer.go wraps wire-handling failures.
func wrap(err error) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, 1)
}

// Wrapf builds a CoreError of kind with a formatted message and a
// stack-preserving wrap of cause.
func Wrapf(kind Kind, cause error, format string, args ...interface{}) *CoreError {
	return New(kind, errors.Errorf(format, args...).Error(), wrap(cause))
}
