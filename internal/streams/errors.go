package streams

import "errors"

var (
	// ErrSessionNotFound means the session id does not exist.
	ErrSessionNotFound = errors.New("session not found")
	// ErrNotHost means the caller is not the session's host.
	ErrNotHost = errors.New("only the session host may do this")
	// ErrActiveSessionExists means the host already has a non-terminal session.
	ErrActiveSessionExists = errors.New("host already has an active session")
	// ErrInvalidTransition means the requested lifecycle transition is not
	// legal from the session's current state.
	ErrInvalidTransition = errors.New("invalid stream state transition")
)
