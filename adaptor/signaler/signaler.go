// Package signaler delivers cancellation to a running job process.
//
// Two implementations share one shape: PosixRelay hands the work to an
// external relay script (optionally under sudo, so it runs as the job's
// account), and TreeKiller walks the Windows process tree in-process. ForHost
// picks one at composition time.
package signaler

import (
	"context"
	"log/slog"
	"runtime"

	"github.com/gurre/jobsession-go/state/principal"
)

// Signal is the kind of signal passed to the relay.
type Signal string

const (
	// Term asks the process to stop.
	Term Signal = "term"
	// Kill stops the process unconditionally.
	Kill Signal = "kill"
)

// Target identifies the process to signal.
type Target struct {
	// Pid is the tracked process id (sudo's pid for elevated jobs).
	Pid int
	// Account is the account the job runs as, empty for the caller's own.
	Account string
	// Elevated is true when the job runs as an account other than the
	// caller; only that account or a superuser may signal its group.
	Elevated bool
}

// Signaler implements graceful and forceful cancellation for one platform.
type Signaler interface {
	Notify(ctx context.Context, t Target) error
	Terminate(ctx context.Context, t Target) error
}

// ForHost returns the signaler for the running OS.
//
//	sig := signaler.ForHost(logger, relayPath)
func ForHost(logger *slog.Logger, relayPath string) Signaler {
	return ForPlatform(logger, principal.HostPlatform(runtime.GOOS), relayPath)
}

// ForPlatform returns the signaler for pl. relayPath is ignored on Windows.
func ForPlatform(logger *slog.Logger, pl principal.Platform, relayPath string) Signaler {
	if pl == principal.Windows {
		return NewTreeKiller(logger)
	}
	return NewPosixRelay(logger, relayPath, nil)
}
