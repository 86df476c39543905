package server

import "fmt"

// ErrorKind is a stable, machine-checkable classification for every
// rejection this package produces. Kinds never change meaning; the
// human-readable reason may.
type ErrorKind string

const (
	KindNotFound          ErrorKind = "not_found"
	KindInvalidTransition ErrorKind = "invalid_transition"
	KindIdentityMismatch  ErrorKind = "identity_mismatch"
	KindChallengeRequired ErrorKind = "challenge_required"
	KindCheatDetected     ErrorKind = "cheat_detected"
)

// Error carries a kind plus a reason. All errors returned by the registry
// and validation pipeline are of this type.
type Error struct {
	Kind   ErrorKind
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

// Is matches errors by kind so callers can use errors.Is with the
// exported sentinels below.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return other.Kind == e.Kind
}

var (
	ErrNotFound          = &Error{Kind: KindNotFound, Reason: "unknown id"}
	ErrInvalidTransition = &Error{Kind: KindInvalidTransition, Reason: "operation not valid in current state"}
	ErrIdentityMismatch  = &Error{Kind: KindIdentityMismatch, Reason: "nickname or email does not match"}
	ErrChallengeRequired = &Error{Kind: KindChallengeRequired, Reason: "verification required before continuing"}
	ErrCheatDetected     = &Error{Kind: KindCheatDetected, Reason: "cheat detected"}
)

func errNotFound(what string) *Error {
	return &Error{Kind: KindNotFound, Reason: what}
}

func errInvalidTransition(reason string) *Error {
	return &Error{Kind: KindInvalidTransition, Reason: reason}
}

func errCheat(reason string) *Error {
	return &Error{Kind: KindCheatDetected, Reason: reason}
}

// KindOf extracts the kind from err, or "" when err is not a server error.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	if e, ok := err.(*Error); ok {
		return e.Kind
	}
	return ""
}
