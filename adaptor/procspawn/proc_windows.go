//go:build windows

package procspawn

import (
	"os"
	"os/exec"
	"syscall"

	"github.com/gurre/jobsession-go/logic/elevation"
	"golang.org/x/sys/windows"
)

// setSysProcAttr requests CREATE_NEW_PROCESS_GROUP so console control
// events sent to the child do not reach this process.
func setSysProcAttr(cmd *exec.Cmd, opts elevation.SpawnOptions) {
	if opts.NewProcessGroup {
		cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: windows.CREATE_NEW_PROCESS_GROUP}
	}
}

func exitCode(state *os.ProcessState) int {
	return state.ExitCode()
}

// SignalName always returns "" on Windows; exit codes are never signals.
func SignalName(int) string { return "" }

// stillActive is the exit code GetExitCodeProcess reports for a live process.
const stillActive = 259

// Alive reports whether pid names a process that has not exited.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	h, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		return err == windows.ERROR_ACCESS_DENIED
	}
	defer func() { _ = windows.CloseHandle(h) }()
	var code uint32
	if err := windows.GetExitCodeProcess(h, &code); err != nil {
		return false
	}
	return code == stillActive
}
