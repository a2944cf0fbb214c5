package signaler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ProcEntry is one row of a process snapshot.
type ProcEntry struct {
	Pid       int
	ParentPid int
}

// TreeKiller terminates Windows process trees in-process. The snapshot and
// kill primitives are fields so the walk can be exercised on any OS.
type TreeKiller struct {
	logger   *slog.Logger
	snapshot func() ([]ProcEntry, error)
	kill     func(pid int) error
}

// NewTreeKiller creates a TreeKiller backed by the host's process table.
//
//	sig := signaler.NewTreeKiller(logger)
func NewTreeKiller(logger *slog.Logger) *TreeKiller {
	return &TreeKiller{logger: logger, snapshot: snapshotProcesses, kill: terminateProcess}
}

// Notify is not supported on Windows: there is no signal that asks an
// arbitrary process to shut down gracefully.
func (k *TreeKiller) Notify(context.Context, Target) error {
	return fmt.Errorf("signaler: notify on windows: %w", errors.ErrUnsupported)
}

// Terminate ends the tracked process and every live descendant.
func (k *TreeKiller) Terminate(_ context.Context, t Target) error {
	k.logger.Info(fmt.Sprintf("Start killing the process tree with the root pid: %d", t.Pid))
	k.KillTree(t.Pid, true)
	return nil
}

// KillTree terminates root and, when cascade is set, all of its descendants,
// children before parents so no parent can respawn a killed child. Failures
// are logged; processes that already exited are expected.
func (k *TreeKiller) KillTree(root int, cascade bool) {
	pids := []int{root}
	if cascade {
		entries, err := k.snapshot()
		if err != nil {
			k.logger.Warn("process snapshot failed, killing root only", "pid", root, "error", err)
		} else {
			pids = BuildTree(entries, root)
		}
	}

	for _, pid := range pids {
		if err := k.kill(pid); err != nil {
			k.logger.Warn(fmt.Sprintf("Failed to kill process %d", pid), "error", err)
			continue
		}
		k.logger.Info(fmt.Sprintf("Killed process %d", pid))
	}
}

// KillTree terminates the tree rooted at pid using the host process table.
//
//	signaler.KillTree(logger, pid, true)
func KillTree(logger *slog.Logger, pid int, cascade bool) {
	NewTreeKiller(logger).KillTree(pid, cascade)
}

// BuildTree returns root and its descendants in post-order (every child
// before its parent, root last). Each pid appears once even if the snapshot
// contains a parent cycle from pid reuse.
func BuildTree(entries []ProcEntry, root int) []int {
	children := make(map[int][]int, len(entries))
	for _, e := range entries {
		if e.Pid == e.ParentPid {
			continue
		}
		children[e.ParentPid] = append(children[e.ParentPid], e.Pid)
	}

	seen := map[int]bool{root: true}
	var out []int
	var walk func(pid int)
	walk = func(pid int) {
		for _, c := range children[pid] {
			if seen[c] {
				continue
			}
			seen[c] = true
			walk(c)
		}
		out = append(out, pid)
	}
	walk(root)
	return out
}
