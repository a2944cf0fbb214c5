// Package procspawn starts child processes from an elevation.Plan. stdout
// and stderr share a single pipe so the reader sees them interleaved in the
// order the child wrote them; stdin is the null device.
package procspawn

import (
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/gurre/jobsession-go/logic/elevation"
)

// Child is a started process. The owner must drain Output to EOF before
// calling Wait, and must call Wait exactly once.
type Child struct {
	cmd *exec.Cmd
	out *os.File
}

// Spawn starts the process described by plan.
//
//	child, err := procspawn.Spawn(plan)
//	if err != nil { ... }           // executable missing, permission denied, ...
//	io.Copy(dst, child.Output())
//	code, err := child.Wait()
func Spawn(plan elevation.Plan) (*Child, error) {
	if len(plan.Argv) == 0 {
		return nil, fmt.Errorf("procspawn: empty argv")
	}

	cmd := exec.Command(plan.Argv[0], plan.Argv[1:]...)
	setSysProcAttr(cmd, plan.Spawn)

	// A nil Stdin is the null device; DiscardStdin is the only mode offered.
	var pr, pw *os.File
	if plan.Spawn.PipeStdout {
		var err error
		pr, pw, err = os.Pipe()
		if err != nil {
			return nil, fmt.Errorf("procspawn: pipe: %w", err)
		}
		cmd.Stdout = pw
		if plan.Spawn.MergeStderr {
			cmd.Stderr = pw
		}
	}

	if err := cmd.Start(); err != nil {
		if pr != nil {
			_ = pr.Close()
			_ = pw.Close()
		}
		return nil, fmt.Errorf("procspawn: start %s: %w", plan.Argv[0], err)
	}

	// The child holds its own copy of the write end; closing ours lets the
	// reader see EOF once every process sharing the pipe has exited.
	if pw != nil {
		_ = pw.Close()
	}

	return &Child{cmd: cmd, out: pr}, nil
}

// Pid returns the OS process id.
func (c *Child) Pid() int { return c.cmd.Process.Pid }

// Output returns the merged stdout/stderr stream. It is empty when the plan
// did not ask for a pipe.
func (c *Child) Output() io.Reader {
	if c.out == nil {
		return eofReader{}
	}
	return c.out
}

// Wait reaps the process and returns its exit code. On POSIX a process
// killed by signal N reports -N. The error is non-nil only when the OS could
// not report the process state.
func (c *Child) Wait() (int, error) {
	err := c.cmd.Wait()
	if c.out != nil {
		_ = c.out.Close()
	}
	if c.cmd.ProcessState == nil {
		return 0, fmt.Errorf("procspawn: wait %d: %w", c.cmd.Process.Pid, err)
	}
	if err != nil {
		if _, ok := err.(*exec.ExitError); !ok {
			return 0, fmt.Errorf("procspawn: wait %d: %w", c.cmd.Process.Pid, err)
		}
	}
	return exitCode(c.cmd.ProcessState), nil
}

type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }
