package signaler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
)

// CommandRunner runs a relay command and returns its combined output and
// exit code. err is reserved for failures to run the command at all.
type CommandRunner interface {
	Run(ctx context.Context, argv []string) (output []byte, exitCode int, err error)
}

// PosixRelay signals jobs through the relay script.
type PosixRelay struct {
	logger    *slog.Logger
	relayPath string
	runner    CommandRunner
}

// NewPosixRelay creates a relay signaler. A nil runner executes commands
// with os/exec.
//
//	path, _ := signaler.InstallRelay("/var/lib/jobsession")
//	sig := signaler.NewPosixRelay(logger, path, nil)
func NewPosixRelay(logger *slog.Logger, relayPath string, runner CommandRunner) *PosixRelay {
	if runner == nil {
		runner = execRunner{}
	}
	return &PosixRelay{logger: logger, relayPath: relayPath, runner: runner}
}

// Notify sends SIGTERM to the tracked process only. Descendants are not
// signalled; Terminate is the only tree-wide operation.
func (r *PosixRelay) Notify(ctx context.Context, t Target) error {
	r.signal(ctx, t, Term, false)
	return nil
}

// Terminate sends SIGKILL to the tracked process's group. Processes that
// moved to another process group are not reached.
func (r *PosixRelay) Terminate(ctx context.Context, t Target) error {
	r.signal(ctx, t, Kill, true)
	return nil
}

// signal runs the relay and logs a warning on failure. Relay failures never
// propagate: the caller decides what to do when the process does not exit.
func (r *PosixRelay) signal(ctx context.Context, t Target, sig Signal, cascade bool) {
	argv := RelayArgs(r.relayPath, t, sig, cascade)
	r.logger.Info("Running: " + strings.Join(argv, " "))

	out, code, err := r.runner.Run(ctx, argv)
	if err != nil {
		r.logger.Warn(fmt.Sprintf("Failed to send signal '%s' to subprocess %d", sig, t.Pid),
			"error", err)
		return
	}
	if code != 0 {
		r.logger.Warn(fmt.Sprintf("Failed to send signal '%s' to subprocess %d: %s", sig, t.Pid, out),
			"exitCode", code)
	}
}

// RelayArgs builds the relay command line:
//
//	[sudo -u <account> -i] <relay> <pid> <term|kill> <escalate> <cascade>
//
// Booleans are rendered True/False, the form the relay script expects.
func RelayArgs(relayPath string, t Target, sig Signal, cascade bool) []string {
	argv := make([]string, 0, 9)
	if t.Elevated {
		argv = append(argv, "sudo", "-u", t.Account, "-i")
	}
	return append(argv,
		relayPath,
		strconv.Itoa(t.Pid),
		string(sig),
		boolArg(t.Elevated),
		boolArg(cascade),
	)
}

func boolArg(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, argv []string) ([]byte, int, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return out, exitErr.ExitCode(), nil
		}
		return out, -1, err
	}
	return out, 0, nil
}
