package call

import "errors"

// Precondition and state errors surfaced by the orchestrator.
var (
	// ErrMissingUser: no current user is known.
	ErrMissingUser = errors.New("no current user")
	// ErrMissingTarget: start call without a target user.
	ErrMissingTarget = errors.New("no call target")
	// ErrMissingCredential: no bearer credential is present.
	ErrMissingCredential = errors.New("no credential")
	// ErrCallInProgress: a local action collides with an existing session.
	ErrCallInProgress = errors.New("another call is in progress")
	// ErrDuplicateCall: the server-assigned id is already active elsewhere;
	// the attempt aborts without registering or navigating.
	ErrDuplicateCall = errors.New("call id already active")
	// ErrNoCall: accept/reject/end with no tracked session.
	ErrNoCall = errors.New("no call in progress")
	// ErrStopped: the orchestrator run loop is not running.
	ErrStopped = errors.New("call orchestrator stopped")
)
