// Provides common flatstate error definitions.
package flatstate_errors

import "errors"

var (
	ErrTypeUnknown    = errors.New("flatstate: unknown type")
	ErrTypeDuplicated = errors.New("flatstate: type state already added")
	ErrPhaseViolation = errors.New("flatstate: wrong cycle phase")

	ErrRestoreRejected = errors.New("flatstate: read engine is not listening for all populated ordinals")
	ErrDeltaMismatch   = errors.New("flatstate: delta was not originated from the current state")

	ErrTruncatedStream    = errors.New("flatstate: truncated blob stream")
	ErrBadHeader          = errors.New("flatstate: bad blob header")
	ErrVersionUnsupported = errors.New("flatstate: unsupported blob format version")
	ErrBadRecord          = errors.New("flatstate: malformed record payload")
	ErrBadSchema          = errors.New("flatstate: malformed schema")

	ErrWorkerFailure = errors.New("flatstate: parallel task failed")

	ErrBlobMissing = errors.New("flatstate: no such blob")
)
