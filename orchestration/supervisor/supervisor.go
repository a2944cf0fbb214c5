// Package supervisor owns the full lifecycle of one job subprocess: it plans
// the launch (including privilege elevation), spawns the process, streams
// its merged output into a logger, reaps it, and exposes notify/terminate
// cancellation bound to the live process.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/text/encoding"

	"github.com/gurre/jobsession-go/adaptor/linestream"
	"github.com/gurre/jobsession-go/adaptor/procspawn"
	"github.com/gurre/jobsession-go/adaptor/signaler"
	"github.com/gurre/jobsession-go/logic/elevation"
	"github.com/gurre/jobsession-go/logic/pswrapper"
	"github.com/gurre/jobsession-go/state/principal"
)

// Process is a started child as seen by the supervisor.
type Process interface {
	Pid() int
	// Output is the merged stdout/stderr stream; it reaches EOF when every
	// holder of the write end has exited.
	Output() io.Reader
	// Wait reaps the process and returns its exit code.
	Wait() (int, error)
}

// SpawnFunc starts the process described by a plan.
type SpawnFunc func(plan elevation.Plan) (Process, error)

// ProcessSignaler delivers cancellation to a running process.
// signaler.PosixRelay and signaler.TreeKiller implement it.
type ProcessSignaler interface {
	Notify(ctx context.Context, t signaler.Target) error
	Terminate(ctx context.Context, t signaler.Target) error
}

// Options configures a Supervisor. Zero values select host defaults.
type Options struct {
	// Encoding is the codec of the child's output (default "utf-8").
	Encoding string
	// Principal is the account to run as; nil runs as the caller.
	Principal principal.Principal
	// Callback runs exactly once, after a failed start or after the process
	// has exited and its output is drained.
	Callback func()

	// Elevator plans the launch. Default: elevation.ForPlatform for GOOS.
	Elevator elevation.Elevator
	// Spawn starts the process. Default: procspawn.Spawn.
	Spawn SpawnFunc
	// Signaler delivers notify/terminate. Default: signaler.ForPlatform
	// using RelayPath.
	Signaler ProcessSignaler
	// RelayPath is the POSIX relay script. When empty and no Signaler is
	// given, the embedded relay is installed into a per-user temp directory.
	RelayPath string
	// MaxLineLength caps a single output read (default 64,000 bytes).
	MaxLineLength int
	// GOOS overrides the host OS used for validation and defaults.
	GOOS string
}

// Supervisor runs one command and owns its process.
//
// Concurrency: Run is called once, from a dedicated goroutine, and is the
// only writer. Every other method may be called from any goroutine at any
// time. State moves forward only; the fields describing the process (pid,
// signal target, exit code) are written before the atomic state store that
// publishes them, and readers load the state before reading them, so no
// further locking is needed. The start latch is a channel closed once.
type Supervisor struct {
	logger    *slog.Logger
	args      []string
	enc       encoding.Encoding
	principal principal.Principal
	platform  principal.Platform
	callback  func()
	elevator  elevation.Elevator
	spawn     SpawnFunc
	signaler  ProcessSignaler
	maxLine   int

	ran          atomic.Bool
	state        atomic.Int32
	started      chan struct{}
	startOnce    sync.Once
	callbackOnce sync.Once

	// Published by state.
	pid      int
	target   signaler.Target
	exitCode int
}

// New validates the configuration and returns a Supervisor ready to Run.
// Errors are *ConstructionError.
//
//	sup, err := supervisor.New(logger, []string{"render", "--frame", "12"}, supervisor.Options{
//	    Principal: principal.Posix{User: "render"},
//	    Callback:  func() { done <- struct{}{} },
//	})
//	go func() { _ = sup.Run() }()
func New(logger *slog.Logger, args []string, opts Options) (*Supervisor, error) {
	if len(args) < 1 {
		return nil, &ConstructionError{Err: ErrEmptyArgs}
	}

	goos := opts.GOOS
	if goos == "" {
		goos = runtime.GOOS
	}
	platform := principal.HostPlatform(goos)

	if !principal.Matches(opts.Principal, platform) {
		return nil, &ConstructionError{Err: fmt.Errorf("%w: %s principal on %s host",
			ErrPrincipalMismatch, opts.Principal.Platform(), platform)}
	}

	encName := opts.Encoding
	if encName == "" {
		encName = "utf-8"
	}
	enc, err := linestream.Decoder(encName)
	if err != nil {
		return nil, &ConstructionError{Err: fmt.Errorf("%w: %q", ErrUnknownEncoding, encName)}
	}

	s := &Supervisor{
		logger:    logger,
		args:      append([]string(nil), args...),
		enc:       enc,
		principal: opts.Principal,
		platform:  platform,
		callback:  opts.Callback,
		elevator:  opts.Elevator,
		spawn:     opts.Spawn,
		signaler:  opts.Signaler,
		maxLine:   opts.MaxLineLength,
		started:   make(chan struct{}),
	}

	if s.elevator == nil {
		s.elevator = elevation.ForPlatform(platform, elevation.CurrentAccount, pswrapper.Generator{}, pswrapper.EncodeCommand)
	}
	if s.spawn == nil {
		s.spawn = spawnProcess
	}
	if s.signaler == nil {
		relayPath := opts.RelayPath
		if relayPath == "" && platform == principal.POSIX {
			relayPath, err = installDefaultRelay(os.TempDir())
			if err != nil {
				return nil, &ConstructionError{Err: fmt.Errorf("%w: %v", ErrRelayUnavailable, err)}
			}
		}
		s.signaler = signaler.ForPlatform(logger, platform, relayPath)
	}
	return s, nil
}

func spawnProcess(plan elevation.Plan) (Process, error) {
	child, err := procspawn.Spawn(plan)
	if err != nil {
		return nil, err
	}
	return child, nil
}

// installDefaultRelay installs the relay into a per-user directory under
// base. When that directory is not private, for instance pre-created by
// another account, a fresh directory from os.MkdirTemp is used instead.
func installDefaultRelay(base string) (string, error) {
	path, err := signaler.InstallRelay(filepath.Join(base, "jobsession-"+strconv.Itoa(os.Geteuid())))
	if err == nil || !errors.Is(err, signaler.ErrUnsafeRelayDir) {
		return path, err
	}
	dir, mkErr := os.MkdirTemp(base, "jobsession-relay-")
	if mkErr != nil {
		return "", fmt.Errorf("%w (fallback: %v)", err, mkErr)
	}
	return signaler.InstallRelay(dir)
}

// Run starts the command and blocks until it has exited and its output has
// been fully forwarded. A start failure is not an error: it is reported by
// FailedToStart and the callback. Run returns ErrAlreadyRun when called a
// second time, and an error when output cannot be read or the process
// cannot be reaped.
func (s *Supervisor) Run() error {
	if !s.ran.CompareAndSwap(false, true) {
		return ErrAlreadyRun
	}
	s.state.Store(int32(Starting))

	proc, plan, err := s.start()
	if err != nil {
		s.logger.Info("Process failed to start: " + err.Error())
		s.state.Store(int32(StartFailed))
		s.releaseStart()
		s.invokeCallback()
		return nil
	}

	s.pid = proc.Pid()
	s.target = signaler.Target{Pid: s.pid, Account: plan.Account, Elevated: plan.Elevated}
	s.state.Store(int32(Running))
	s.releaseStart()

	s.logger.Info(fmt.Sprintf("Command started as pid: %d", s.pid))

	out := linestream.NewDecodingReader(proc.Output(), s.enc)
	streamErr := linestream.New(s.logger, s.maxLine).Stream(out)

	if streamErr != nil {
		// A child still writing would block on a full pipe and never exit.
		_, _ = io.Copy(io.Discard, proc.Output())
	}

	// Reap even when streaming failed so no zombie is left behind.
	code, err := proc.Wait()
	if err != nil {
		return fmt.Errorf("supervisor: reap pid %d: %w", s.pid, err)
	}

	s.exitCode = code
	s.state.Store(int32(Exited))
	s.logExit(code)
	s.invokeCallback()

	if streamErr != nil {
		return fmt.Errorf("supervisor: stream output of pid %d: %w", s.pid, streamErr)
	}
	return nil
}

func (s *Supervisor) start() (Process, elevation.Plan, error) {
	plan, err := s.elevator.Plan(s.args, s.principal)
	if err != nil {
		return nil, elevation.Plan{}, err
	}
	s.logger.Info("Running command " + elevation.DisplayLine(plan, s.platform))

	proc, err := s.spawn(plan)
	if err != nil {
		return nil, plan, err
	}
	return proc, plan, nil
}

func (s *Supervisor) logExit(code int) {
	if sig := procspawn.SignalName(code); sig != "" {
		s.logger.Info(fmt.Sprintf("Process pid %d exited with code: %d", s.pid, code), "signal", sig)
		return
	}
	s.logger.Info(fmt.Sprintf("Process pid %d exited with code: %d", s.pid, code))
}

func (s *Supervisor) releaseStart() {
	s.startOnce.Do(func() { close(s.started) })
}

func (s *Supervisor) invokeCallback() {
	if s.callback == nil {
		return
	}
	s.callbackOnce.Do(s.callback)
}

// Notify asks the process to stop gracefully. On POSIX it sends SIGTERM to
// the tracked process only; descendants are not signalled, Terminate is the
// only tree-wide operation. On Windows it returns an error wrapping
// errors.ErrUnsupported. It is a no-op unless the process is running.
func (s *Supervisor) Notify(ctx context.Context) error {
	if !s.IsRunning() {
		return nil
	}
	return s.signaler.Notify(ctx, s.target)
}

// Terminate forcibly stops the process and, best effort, its descendants.
// Signals to a job running as another account are themselves elevated to
// that account. It is a no-op unless the process is running.
func (s *Supervisor) Terminate(ctx context.Context) error {
	if !s.IsRunning() {
		return nil
	}
	return s.signaler.Terminate(ctx, s.target)
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State { return State(s.state.Load()) }

// Pid returns the process id once the process has been spawned.
func (s *Supervisor) Pid() (int, bool) {
	switch s.State() {
	case Running, Exited:
		return s.pid, true
	}
	return 0, false
}

// ExitCode returns the exit code once the process has been reaped and its
// output drained. On POSIX, death by signal N is reported as -N.
func (s *Supervisor) ExitCode() (int, bool) {
	if s.State() == Exited {
		return s.exitCode, true
	}
	return 0, false
}

// Target returns what Notify and Terminate signal: the pid plus the account
// the job runs as. It is available once the process has been spawned.
func (s *Supervisor) Target() (signaler.Target, bool) {
	switch s.State() {
	case Running, Exited:
		return s.target, true
	}
	return signaler.Target{}, false
}

// IsRunning reports whether the process was spawned and not yet reaped.
func (s *Supervisor) IsRunning() bool { return s.State() == Running }

// HasStarted reports whether Run got past the spawn attempt, successful or
// not.
func (s *Supervisor) HasStarted() bool {
	select {
	case <-s.started:
		return true
	default:
		return false
	}
}

// FailedToStart reports whether the spawn attempt failed.
func (s *Supervisor) FailedToStart() bool { return s.State() == StartFailed }

// Started returns a channel closed when HasStarted becomes true.
func (s *Supervisor) Started() <-chan struct{} { return s.started }

// WaitUntilStarted blocks until HasStarted is true or timeout elapses and
// reports which happened. A timeout <= 0 waits indefinitely.
func (s *Supervisor) WaitUntilStarted(timeout time.Duration) bool {
	if timeout <= 0 {
		<-s.started
		return true
	}
	select {
	case <-s.started:
		return true
	default:
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-s.started:
		return true
	case <-t.C:
		return false
	}
}

// Args returns a copy of the command vector.
func (s *Supervisor) Args() []string { return append([]string(nil), s.args...) }

// Principal returns the configured principal, nil when running as the
// caller.
func (s *Supervisor) Principal() principal.Principal { return s.principal }
