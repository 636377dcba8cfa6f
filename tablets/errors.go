package tablets

import "fmt"

// ErrorKind identifies one of the error categories a caller can branch on
// without string-matching.
type ErrorKind int

const (
	// ErrInvalidRequest is a user-visible constraint violation, e.g.
	// altering a system keyspace's tablet flavor.
	ErrInvalidRequest ErrorKind = iota
	// ErrConfiguration indicates missing or contradictory replication
	// settings.
	ErrConfiguration
	// ErrNotEnoughNodes indicates the requested RF exceeds live hosts in
	// a DC. Reported per DC and per tablet; successful DCs still apply.
	ErrNotEnoughNodes
	// ErrRackConstraintViolation indicates no assignment satisfies rack
	// uniqueness. The whole plan is rejected.
	ErrRackConstraintViolation
	// ErrConcurrentModification indicates a log append lost a race; the
	// caller should recompute and retry.
	ErrConcurrentModification
	// ErrStreamingFailure is transient; the state machine retries from
	// the pre-read-switch stage with a fresh session, and is fatal after
	// N retries.
	ErrStreamingFailure
	// ErrCatalogIO indicates a read/write to the catalog failed. No
	// partial metadata update is ever observable.
	ErrCatalogIO
)

func (k ErrorKind) String() string {
	switch k {
	case ErrInvalidRequest:
		return "invalid_request"
	case ErrConfiguration:
		return "configuration"
	case ErrNotEnoughNodes:
		return "not_enough_nodes"
	case ErrRackConstraintViolation:
		return "rack_constraint_violation"
	case ErrConcurrentModification:
		return "concurrent_modification"
	case ErrStreamingFailure:
		return "streaming_failure"
	case ErrCatalogIO:
		return "catalog_io_failure"
	default:
		return "unknown"
	}
}

// Error is the single tagged error type returned by every operation in this
// module. Callers branch on Kind() rather than on error strings or wrapped
// sentinel identity, since several kinds (not_enough_nodes in particular)
// carry structured context that a plain sentinel can't.
type Error struct {
	kind    ErrorKind
	message string
	cause   error

	// DC is set for ErrNotEnoughNodes and ErrRackConstraintViolation.
	DC string
	// Tablet is set when the error pertains to one tablet.
	Tablet uint64
	// Retries is set for ErrStreamingFailure once the retry budget is
	// exhausted.
	Retries int
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.kind, e.message)

	if e.DC != "" {
		msg += fmt.Sprintf(" (dc=%s)", e.DC)
	}

	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}

	return msg
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Kind returns this error's category.
func (e *Error) Kind() ErrorKind {
	return e.kind
}

// NewError constructs a tagged Error of the given kind.
func NewError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{kind: kind, message: fmt.Sprintf(format, args...)}
}

// WrapError constructs a tagged Error of the given kind that wraps cause.
func WrapError(kind ErrorKind, cause error, format string, args ...interface{}) *Error {
	return &Error{kind: kind, message: fmt.Sprintf(format, args...), cause: cause}
}

// KindOf returns the Kind of err if it is, or wraps, a *Error, and false
// otherwise.
func KindOf(err error) (ErrorKind, bool) {
	var tabletErr *Error

	for err != nil {
		if te, ok := err.(*Error); ok {
			tabletErr = te

			break
		}

		unwrapper, ok := err.(interface{ Unwrap() error })

		if !ok {
			break
		}

		err = unwrapper.Unwrap()
	}

	if tabletErr == nil {
		return 0, false
	}

	return tabletErr.kind, true
}
