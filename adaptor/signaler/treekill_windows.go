//go:build windows

package signaler

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

// snapshotProcesses lists every process via the Toolhelp32 API.
func snapshotProcesses() ([]ProcEntry, error) {
	snap, err := windows.CreateToolhelp32Snapshot(windows.TH32CS_SNAPPROCESS, 0)
	if err != nil {
		return nil, fmt.Errorf("signaler: CreateToolhelp32Snapshot: %w", err)
	}
	defer func() { _ = windows.CloseHandle(snap) }()

	var entry windows.ProcessEntry32
	entry.Size = uint32(unsafe.Sizeof(entry))

	var out []ProcEntry
	err = windows.Process32First(snap, &entry)
	for err == nil {
		out = append(out, ProcEntry{Pid: int(entry.ProcessID), ParentPid: int(entry.ParentProcessID)})
		err = windows.Process32Next(snap, &entry)
	}
	if !errors.Is(err, windows.ERROR_NO_MORE_FILES) {
		return nil, fmt.Errorf("signaler: Process32Next: %w", err)
	}
	return out, nil
}

// terminateProcess forcibly ends pid with exit code 1.
func terminateProcess(pid int) error {
	h, err := windows.OpenProcess(windows.PROCESS_TERMINATE, false, uint32(pid))
	if err != nil {
		return fmt.Errorf("signaler: OpenProcess %d: %w", pid, err)
	}
	defer func() { _ = windows.CloseHandle(h) }()

	if err := windows.TerminateProcess(h, 1); err != nil {
		return fmt.Errorf("signaler: TerminateProcess %d: %w", pid, err)
	}
	return nil
}
