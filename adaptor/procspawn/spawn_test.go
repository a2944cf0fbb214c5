//go:build !windows

package procspawn

import (
	"errors"
	"io"
	"os/exec"
	"strings"
	"syscall"
	"testing"

	"github.com/gurre/jobsession-go/logic/elevation"
)

func shPlan(script string) elevation.Plan {
	return elevation.Plan{
		Argv: []string{"/bin/sh", "-c", script},
		Spawn: elevation.SpawnOptions{
			DiscardStdin: true, PipeStdout: true, MergeStderr: true, NewSession: true,
		},
	}
}

// TestSpawn_MergesStdoutAndStderr verifies both streams arrive on the one
// pipe and the exit status is reported after draining.
func TestSpawn_MergesStdoutAndStderr(t *testing.T) {
	child, err := Spawn(shPlan("echo out; echo err >&2; exit 3"))
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	data, err := io.ReadAll(child.Output())
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	code, err := child.Wait()
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if code != 3 {
		t.Errorf("exit code = %d, want 3", code)
	}
	if got := string(data); got != "out\nerr\n" {
		t.Errorf("output = %q", got)
	}
}

// TestSpawn_StdinIsNull verifies the child sees EOF on stdin immediately
// instead of blocking on our terminal.
func TestSpawn_StdinIsNull(t *testing.T) {
	child, err := Spawn(shPlan("cat; echo done"))
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	data, _ := io.ReadAll(child.Output())
	if _, err := child.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if string(data) != "done\n" {
		t.Errorf("output = %q", data)
	}
}

// TestSpawn_NewSessionLeadsGroup verifies setsid made the child its own
// process-group leader, which group signalling relies on.
func TestSpawn_NewSessionLeadsGroup(t *testing.T) {
	child, err := Spawn(shPlan("sleep 5"))
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	pgid, err := syscall.Getpgid(child.Pid())
	if err != nil {
		t.Fatalf("Getpgid: %v", err)
	}
	if pgid != child.Pid() {
		t.Errorf("pgid = %d, want %d", pgid, child.Pid())
	}
	_ = syscall.Kill(-pgid, syscall.SIGKILL)
	_, _ = io.ReadAll(child.Output())
	_, _ = child.Wait()
}

// TestSpawn_KilledReportsNegativeSignal verifies death by SIGKILL is
// reported as -9 and named.
func TestSpawn_KilledReportsNegativeSignal(t *testing.T) {
	child, err := Spawn(shPlan("exec sleep 5"))
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if err := syscall.Kill(child.Pid(), syscall.SIGKILL); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	_, _ = io.ReadAll(child.Output())
	code, err := child.Wait()
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if code != -9 {
		t.Errorf("exit code = %d, want -9", code)
	}
	if name := SignalName(code); name != "SIGKILL" {
		t.Errorf("SignalName = %q, want SIGKILL", name)
	}
}

// TestSpawn_MissingExecutable verifies a start failure is returned as an
// error and no process is left behind.
func TestSpawn_MissingExecutable(t *testing.T) {
	plan := shPlan("")
	plan.Argv = []string{"/nonexistent/definitely-not-here"}
	_, err := Spawn(plan)
	if err == nil {
		t.Fatal("expected start error")
	}
	if !strings.Contains(err.Error(), "procspawn: start") {
		t.Errorf("error should be wrapped, got %v", err)
	}

	plan.Argv = []string{"definitely-not-on-path-xyz"}
	if _, err := Spawn(plan); !errors.Is(err, exec.ErrNotFound) {
		t.Errorf("err = %v, want exec.ErrNotFound", err)
	}
}

func TestSpawn_EmptyArgv(t *testing.T) {
	if _, err := Spawn(elevation.Plan{}); err == nil {
		t.Fatal("expected error for empty argv")
	}
}

// TestSpawn_WithoutPipe verifies Output is an empty stream when the plan
// did not request one.
func TestSpawn_WithoutPipe(t *testing.T) {
	child, err := Spawn(elevation.Plan{Argv: []string{"/bin/sh", "-c", "exit 0"}})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	data, err := io.ReadAll(child.Output())
	if err != nil || len(data) != 0 {
		t.Errorf("ReadAll = %q, %v", data, err)
	}
	if code, err := child.Wait(); err != nil || code != 0 {
		t.Errorf("Wait = %d, %v", code, err)
	}
}

func TestSignalName_NonNegative(t *testing.T) {
	if SignalName(0) != "" || SignalName(3) != "" {
		t.Error("non-negative codes should have no signal name")
	}
}

// TestAlive verifies the liveness probe before and after a child is reaped.
func TestAlive(t *testing.T) {
	child, err := Spawn(shPlan("exec sleep 5"))
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if !Alive(child.Pid()) {
		t.Error("running child reported dead")
	}
	_ = syscall.Kill(child.Pid(), syscall.SIGKILL)
	_, _ = io.ReadAll(child.Output())
	_, _ = child.Wait()
	if Alive(child.Pid()) {
		t.Error("reaped child reported alive")
	}
	if Alive(0) || Alive(-1) {
		t.Error("non-positive pids are never alive")
	}
}
