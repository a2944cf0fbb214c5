//go:build !windows

package procspawn

import (
	"os"
	"os/exec"
	"syscall"

	"github.com/gurre/jobsession-go/logic/elevation"
	"golang.org/x/sys/unix"
)

// setSysProcAttr starts the child in its own session when asked, which also
// makes it the leader of a new process group so the whole group can be
// signalled later.
func setSysProcAttr(cmd *exec.Cmd, opts elevation.SpawnOptions) {
	if opts.NewSession {
		cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	}
}

// exitCode mirrors the convention of reporting death by signal N as -N.
func exitCode(state *os.ProcessState) int {
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return -int(ws.Signal())
	}
	return state.ExitCode()
}

// SignalName names the signal behind a negative exit code, e.g. -9 yields
// "SIGKILL". Non-negative codes yield "".
func SignalName(code int) string {
	if code >= 0 {
		return ""
	}
	return unix.SignalName(syscall.Signal(-code))
}

// Alive reports whether pid names an existing process. EPERM means the
// process exists but belongs to another account.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || err == unix.EPERM
}
