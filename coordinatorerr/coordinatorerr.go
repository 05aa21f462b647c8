// Package coordinatorerr defines the small error taxonomy shared by every
// layer of the metadata coordinator: consensus adapter, topology state
// machine, leader lifecycle and command dispatcher all return one of these
// kinds so the dispatcher can map them onto a wire response code without
// knowing which layer produced them.
package coordinatorerr

import (
	"errors"
	"fmt"
)

// Kind is the coarse category an error belongs to.
type Kind int

const (
	// KindNotFound means the key is absent in the consensus store; often a
	// normal bootstrap condition (e.g. MT not written yet).
	KindNotFound Kind = iota
	// KindCorruption means a decode failure, an invariant breach, or an
	// operation that isn't applicable in the current state (already
	// initialized, etc).
	KindCorruption
	// KindUnavailable means the consensus write failed or no leader is
	// known.
	KindUnavailable
	// KindNotLeader means the operation must run on the leader.
	KindNotLeader
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindCorruption:
		return "Corruption"
	case KindUnavailable:
		return "Unavailable"
	case KindNotLeader:
		return "NotLeader"
	default:
		return "Unknown"
	}
}

// Error is a Kind plus context, wrapping an optional underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func newErr(k Kind, msg string, cause error) *Error {
	return &Error{Kind: k, Message: msg, Cause: cause}
}

func NotFound(msg string) error               { return newErr(KindNotFound, msg, nil) }
func Corruption(msg string) error             { return newErr(KindCorruption, msg, nil) }
func CorruptionWrap(msg string, c error) error { return newErr(KindCorruption, msg, c) }
func Unavailable(msg string) error            { return newErr(KindUnavailable, msg, nil) }
func UnavailableWrap(msg string, c error) error { return newErr(KindUnavailable, msg, c) }
func NotLeader(msg string) error              { return newErr(KindNotLeader, msg, nil) }

// KindOf extracts the Kind from err, defaulting to KindCorruption for
// errors this package didn't produce (decode bugs should fail loud, not
// silently pass through as NotFound).
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindCorruption
}

func Is(err error, k Kind) bool {
	return KindOf(err) == k
}
