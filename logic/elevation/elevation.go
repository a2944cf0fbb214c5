// Package elevation computes how a job command is launched: the final argv
// and the spawn options, including the privilege switch needed to run it as
// another OS account. It performs no I/O; the current account is supplied by
// the caller so plans are deterministic.
package elevation

import (
	"errors"
	"fmt"
	"os/user"

	"github.com/gurre/jobsession-go/state/principal"
)

// SpawnOptions describe how the launcher wires the child process.
type SpawnOptions struct {
	// DiscardStdin connects stdin to the null device.
	DiscardStdin bool
	// PipeStdout captures stdout through a pipe.
	PipeStdout bool
	// MergeStderr sends stderr into the same pipe as stdout.
	MergeStderr bool
	// NewSession starts the child in a new POSIX session (setsid), making it
	// its own process-group leader.
	NewSession bool
	// NewProcessGroup sets CREATE_NEW_PROCESS_GROUP on Windows.
	NewProcessGroup bool
}

// Plan is a fully-formed launch description.
type Plan struct {
	// Argv is the command vector to exec; Argv[0] is the program.
	Argv []string
	// Args is the caller's original command, kept for display.
	Args []string
	// Spawn holds the process wiring.
	Spawn SpawnOptions
	// Elevated is true when the child runs as an account other than the
	// invoking one. Signals to an elevated child must also be elevated.
	Elevated bool
	// Account is the target account, empty when running as the caller.
	Account string
}

// CurrentAccountFunc returns the name of the account running this process.
type CurrentAccountFunc func() (string, error)

// ScriptGenerator produces the PowerShell wrapper for cross-account launches
// on Windows. logic/pswrapper.Generator satisfies it.
type ScriptGenerator interface {
	StartJobWrapper(args []string, w principal.WindowsUser) (string, error)
}

// Encoder turns a wrapper script into an -EncodedCommand payload.
type Encoder func(script string) (string, error)

// Elevator builds launch plans for one platform.
type Elevator interface {
	Plan(args []string, p principal.Principal) (Plan, error)
}

// ErrWrongPlatform is returned when a principal of the other OS family is
// handed to an elevator.
var ErrWrongPlatform = errors.New("elevation: principal does not match platform")

// ForPlatform returns the elevator for pl. The choice is made once, at
// composition time; the elevators themselves contain no platform branches.
//
//	el := elevation.ForPlatform(principal.HostPlatform(runtime.GOOS),
//	    elevation.CurrentAccount, pswrapper.Generator{}, pswrapper.EncodeCommand)
func ForPlatform(pl principal.Platform, whoami CurrentAccountFunc, gen ScriptGenerator, encode Encoder) Elevator {
	if pl == principal.Windows {
		return &windowsElevator{gen: gen, encode: encode}
	}
	return &posixElevator{whoami: whoami}
}

// CurrentAccount looks up the invoking account with os/user.
func CurrentAccount() (string, error) {
	u, err := user.Current()
	if err != nil {
		return "", fmt.Errorf("elevation: current user: %w", err)
	}
	return u.Username, nil
}

func baseOptions() SpawnOptions {
	return SpawnOptions{DiscardStdin: true, PipeStdout: true, MergeStderr: true}
}

func copyArgs(args []string) []string {
	out := make([]string, len(args))
	copy(out, args)
	return out
}

type posixElevator struct {
	whoami CurrentAccountFunc
}

// Plan runs the command directly in a new session, or under sudo when the
// target account differs from the caller. setsid -w puts the command in its
// own session so it is not in the root-owned sudo process group: the caller
// cannot signal sudo's group, and the target account cannot either.
func (e *posixElevator) Plan(args []string, p principal.Principal) (Plan, error) {
	if len(args) == 0 {
		return Plan{}, errors.New("elevation: empty command")
	}
	opts := baseOptions()
	opts.NewSession = true

	plan := Plan{Argv: copyArgs(args), Args: copyArgs(args), Spawn: opts}
	if p == nil {
		return plan, nil
	}
	pu, ok := p.(principal.Posix)
	if !ok {
		return Plan{}, ErrWrongPlatform
	}

	current, err := e.whoami()
	if err != nil {
		return Plan{}, err
	}
	if pu.User == current {
		return plan, nil
	}

	argv := make([]string, 0, len(args)+6)
	argv = append(argv, "sudo", "-u", pu.User, "-i", "setsid", "-w")
	argv = append(argv, args...)
	plan.Argv = argv
	plan.Elevated = true
	plan.Account = pu.User
	return plan, nil
}

type windowsElevator struct {
	gen    ScriptGenerator
	encode Encoder
}

// Plan runs the command directly in a new process group, or through a
// PowerShell Start-Job wrapper when a principal is given.
func (e *windowsElevator) Plan(args []string, p principal.Principal) (Plan, error) {
	if len(args) == 0 {
		return Plan{}, errors.New("elevation: empty command")
	}
	opts := baseOptions()
	opts.NewProcessGroup = true

	plan := Plan{Argv: copyArgs(args), Args: copyArgs(args), Spawn: opts}
	if p == nil {
		return plan, nil
	}
	pw, ok := p.(principal.WindowsUser)
	if !ok {
		return Plan{}, ErrWrongPlatform
	}

	script, err := e.gen.StartJobWrapper(args, pw)
	if err != nil {
		return Plan{}, err
	}
	payload, err := e.encode(script)
	if err != nil {
		return Plan{}, err
	}

	plan.Argv = []string{
		"powershell.exe",
		"-ExecutionPolicy", "Unrestricted",
		"-EncodedCommand", payload,
	}
	plan.Elevated = true
	plan.Account = pw.User
	return plan, nil
}
