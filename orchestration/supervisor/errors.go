package supervisor

import "errors"

var (
	// ErrEmptyArgs is returned by New when the command vector is empty.
	ErrEmptyArgs = errors.New("args must contain at least one element")
	// ErrPrincipalMismatch is returned by New when the principal belongs to
	// the other OS family.
	ErrPrincipalMismatch = errors.New("principal does not match host platform")
	// ErrUnknownEncoding is returned by New for an unrecognised codec name.
	ErrUnknownEncoding = errors.New("unknown output encoding")
	// ErrRelayUnavailable is returned by New when the default signal relay
	// cannot be installed.
	ErrRelayUnavailable = errors.New("signal relay unavailable")

	// ErrAlreadyRun is returned by a second call to Run. A Supervisor owns
	// exactly one process; create a new one to run the command again.
	ErrAlreadyRun = errors.New("supervisor: the process has already been run")
)

// ConstructionError reports an invalid Supervisor configuration. It wraps
// one of the Err* sentinels above; test with errors.Is.
//
//	_, err := supervisor.New(logger, nil, supervisor.Options{})
//	errors.Is(err, supervisor.ErrEmptyArgs) // true
type ConstructionError struct {
	Err error
}

func (e *ConstructionError) Error() string {
	return "supervisor: invalid configuration: " + e.Err.Error()
}

func (e *ConstructionError) Unwrap() error { return e.Err }
