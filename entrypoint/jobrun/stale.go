package jobrun

import (
	"context"
	"log/slog"

	"github.com/gurre/jobsession-go/adaptor/procspawn"
	"github.com/gurre/jobsession-go/adaptor/signaler"
	"github.com/gurre/jobsession-go/orchestration/tracker"
)

// StaleSession is a record left by a runner that died without cleaning up,
// with a liveness probe of the job's pid taken when it was listed.
type StaleSession struct {
	tracker.Record
	Alive bool
}

// FindStale lists records whose runner is gone, oldest first. Sessions of
// runners that are still alive are never included.
func FindStale(ft *tracker.FileTracker) []StaleSession {
	recs := ft.Stale()
	out := make([]StaleSession, 0, len(recs))
	for _, r := range recs {
		out = append(out, StaleSession{Record: r, Alive: procspawn.Alive(r.Pid)})
	}
	return out
}

// ReapStale terminates the process tree of every orphaned session whose pid
// is still alive, then drops those records. The job pid may have been reused
// since its runner died; the account recorded with it limits what a relay
// running as that account can reach.
//
//	reaped := jobrun.ReapStale(ctx, logger, ft, signaler.ForHost(logger, relayPath))
func ReapStale(ctx context.Context, logger *slog.Logger, ft *tracker.FileTracker, sig signaler.Signaler) []StaleSession {
	stale := FindStale(ft)
	for _, s := range stale {
		if s.Alive {
			logger.Info("terminating orphaned job", "session", s.SessionID, "pid", s.Pid, "account", s.Account)
			t := signaler.Target{Pid: s.Pid, Account: s.Account, Elevated: s.Elevated}
			if err := sig.Terminate(ctx, t); err != nil {
				logger.Warn("cannot terminate orphaned job", "session", s.SessionID, "error", err)
				continue
			}
		}
		ft.Delete(s.SessionID)
	}
	return stale
}

// clearFinished drops records of orphans whose process has already exited
// and returns the ones still running.
func clearFinished(logger *slog.Logger, ft *tracker.FileTracker) []StaleSession {
	var running []StaleSession
	for _, s := range FindStale(ft) {
		if !s.Alive {
			logger.Info("clearing record of a finished orphan", "session", s.SessionID, "pid", s.Pid)
			ft.Delete(s.SessionID)
			continue
		}
		running = append(running, s)
	}
	return running
}
