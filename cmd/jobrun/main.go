// Command jobrun supervises one job: it runs the command (optionally as
// another account), streams its output into the session log, and on
// SIGINT/SIGTERM asks the job to stop before killing its process tree.
//
// Usage:
//
//	jobrun run [flags] -- <command> [args...]   Run a command
//	jobrun run --job render.yml                 Run a job file
//	jobrun install-relay [--dir DIR]            Install the POSIX signal relay
//	jobrun stale [--kill]                       List or reap orphaned sessions
//
// The runner config defaults to /etc/jobsession/jobsession.yml; a ".toml"
// path selects TOML. jobrun exits with the job's exit code, 128+N when the
// job was killed by signal N, and 127 when it could not be started.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	err := root.ExecuteContext(ctx)
	stop()

	var exit *exitError
	switch {
	case errors.As(err, &exit):
		os.Exit(exit.code)
	case err != nil:
		fmt.Fprintf(os.Stderr, "jobrun: %s\n", err)
		os.Exit(1)
	}
}
