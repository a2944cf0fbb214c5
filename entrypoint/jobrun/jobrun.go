// Package jobrun wires configuration, logging, session tracking, the
// process supervisor and artifact upload together to run one job session.
package jobrun

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/google/uuid"

	"github.com/gurre/jobsession-go/adaptor/configloader"
	"github.com/gurre/jobsession-go/adaptor/logfile"
	"github.com/gurre/jobsession-go/adaptor/procspawn"
	"github.com/gurre/jobsession-go/adaptor/s3upload"
	"github.com/gurre/jobsession-go/adaptor/signaler"
	"github.com/gurre/jobsession-go/logic/backoff"
	"github.com/gurre/jobsession-go/logic/report"
	"github.com/gurre/jobsession-go/orchestration/supervisor"
	"github.com/gurre/jobsession-go/orchestration/tracker"
	"github.com/gurre/jobsession-go/state/config"
	"github.com/gurre/jobsession-go/state/principal"
)

const uploadTimeout = 2 * time.Minute

var uploadPolicy = backoff.Upload

// ErrAmbiguousJob is returned when both a job file and inline args are given.
var ErrAmbiguousJob = errors.New("jobrun: give either a job file or a command, not both")

// Uploader ships a local file to object storage. s3upload.Uploader
// satisfies it.
type Uploader interface {
	Upload(ctx context.Context, bucket, key, localPath string) error
}

// Options describes one invocation.
type Options struct {
	// Runner is the runner configuration. When nil it is loaded from
	// ConfigPath.
	Runner     *config.Runner
	ConfigPath string

	// JobPath names a job file. Mutually exclusive with Job.Args.
	JobPath string
	// Job is the inline job; its Encoding overrides the runner default.
	Job config.Job

	// Stderr receives a copy of every log line (default os.Stderr).
	Stderr io.Writer
	// Uploader overrides the S3 uploader built from Runner.Upload.
	Uploader Uploader
	// OnStarted is called once the job's process exists.
	OnStarted func(sessionID string, pid int)
	// GOOS overrides the host OS.
	GOOS string
}

// Run executes one job session and blocks until the job has exited. When
// ctx is cancelled the job is asked to stop (notify), then forcibly stopped
// (terminate) after the configured grace period; on Windows it goes straight
// to terminate. A job that fails to start is reported, not returned as an
// error.
//
//	rep, err := jobrun.Run(ctx, jobrun.Options{ConfigPath: "/etc/jobsession/jobsession.yml",
//	    Job: config.Job{Args: []string{"render", "--frame", "12"}, User: "render"}})
func Run(ctx context.Context, opts Options) (report.Report, error) {
	cfg, job, err := resolve(opts)
	if err != nil {
		return report.Report{}, err
	}

	goos := opts.GOOS
	if goos == "" {
		goos = runtime.GOOS
	}
	platform := principal.HostPlatform(goos)
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	// Runner log: stderr plus the rotating runner file.
	runnerLog, err := logfile.Open(cfg.LogDir, cfg.ProgramName+".log", cfg.LogMaxBytes, cfg.LogMaxFiles)
	if err != nil {
		return report.Report{}, fmt.Errorf("jobrun: open log file: %w", err)
	}
	defer func() { _ = runnerLog.Close() }()
	logger := slog.New(slog.NewTextHandler(io.MultiWriter(stderr, runnerLog), nil))

	sessionID := uuid.NewString()
	sessionLog, err := logfile.Open(cfg.SessionLogDir, sessionID+".log", 0, 0)
	if err != nil {
		return report.Report{}, fmt.Errorf("jobrun: open session log: %w", err)
	}
	defer func() { _ = sessionLog.Close() }()
	sessionLogger := slog.New(slog.NewTextHandler(io.MultiWriter(stderr, runnerLog, sessionLog), nil)).
		With("session", sessionID)

	ft := tracker.NewFileTracker(cfg.TrackingDir, logger)
	for _, s := range clearFinished(logger, ft) {
		logger.Warn("orphaned job from a runner that exited is still running",
			"session", s.SessionID, "pid", s.Pid, "runner_pid", s.RunnerPid, "started", s.Started)
	}

	relayPath := ""
	if platform == principal.POSIX {
		relayPath, err = signaler.InstallRelay(cfg.RelayDir)
		if err != nil {
			logger.Warn("cannot install signal relay, using a temporary copy", "dir", cfg.RelayDir, "error", err)
			relayPath = ""
		}
	}

	encoding := job.Encoding
	if encoding == "" {
		encoding = cfg.Encoding
	}

	sup, err := supervisor.New(sessionLogger, job.Args, supervisor.Options{
		Encoding:      encoding,
		Principal:     job.Principal(platform),
		RelayPath:     relayPath,
		MaxLineLength: cfg.MaxLineLength,
		GOOS:          goos,
	})
	if err != nil {
		return report.Report{}, fmt.Errorf("jobrun: %w", err)
	}

	rep := report.Report{SessionID: sessionID, Args: job.Args, Account: job.User, Started: time.Now().UTC()}
	sess := &session{
		id:       sessionID,
		sup:      sup,
		tracker:  ft,
		logger:   logger,
		platform: platform,
		grace:    cfg.GracePeriod,
		onStart:  opts.OnStarted,
	}
	runErr := sess.supervise(ctx)

	rep.Pid, _ = sup.Pid()
	if code, ok := sup.ExitCode(); ok {
		rep.ExitCode = &code
		rep.Signal = procspawn.SignalName(code)
	}
	rep.FailedToStart = sup.FailedToStart()
	rep.Cancelled = sess.cancelled
	rep = rep.Finish(time.Now().UTC())

	logger.Info("session finished", "session", sessionID, "outcome", rep.Outcome, "duration_ms", rep.DurationMS)

	reportPath, err := writeReport(cfg.SessionLogDir, rep)
	if err != nil {
		logger.Warn("cannot write session report", "error", err)
	}
	_ = sessionLog.Sync()

	if cfg.Upload.Enabled() {
		uploadArtifacts(ctx, cfg.Upload, opts.Uploader, logger, sessionID, sessionLog.Path(), reportPath)
	}

	if runErr != nil {
		return rep, fmt.Errorf("jobrun: %w", runErr)
	}
	return rep, nil
}

// resolve loads the runner config and the job description.
func resolve(opts Options) (config.Runner, config.Job, error) {
	var cfg config.Runner
	if opts.Runner != nil {
		cfg = *opts.Runner
	} else {
		loaded, err := configloader.LoadRunner(opts.ConfigPath)
		if err != nil {
			return config.Runner{}, config.Job{}, fmt.Errorf("jobrun: load config: %w", err)
		}
		cfg = loaded
	}

	job := opts.Job
	if opts.JobPath != "" {
		if len(job.Args) > 0 {
			return config.Runner{}, config.Job{}, ErrAmbiguousJob
		}
		loaded, err := configloader.LoadJob(opts.JobPath)
		if err != nil {
			return config.Runner{}, config.Job{}, fmt.Errorf("jobrun: load job: %w", err)
		}
		job = loaded
	}
	return cfg, job, nil
}

// session drives one supervisor from start to exit and applies the
// cancellation policy.
type session struct {
	id       string
	sup      *supervisor.Supervisor
	tracker  *tracker.FileTracker
	logger   *slog.Logger
	platform principal.Platform
	grace    time.Duration
	onStart  func(string, int)

	cancelled bool
}

func (s *session) supervise(ctx context.Context) error {
	runDone := make(chan error, 1)
	go func() { runDone <- s.sup.Run() }()

	// Signals must still be delivered after ctx is cancelled.
	sigCtx := context.WithoutCancel(ctx)

	started := s.sup.Started()
	ctxDone := ctx.Done()
	var graceC <-chan time.Time
	var graceTimer *time.Timer
	defer func() {
		if graceTimer != nil {
			graceTimer.Stop()
		}
	}()

	escalate := func() {
		if s.platform == principal.Windows || s.grace <= 0 {
			s.logger.Info("terminating job", "session", s.id)
			_ = s.sup.Terminate(sigCtx)
			return
		}
		s.logger.Info("asking job to stop", "session", s.id, "grace", s.grace)
		if err := s.sup.Notify(sigCtx); err != nil {
			s.logger.Warn("notify failed, terminating", "session", s.id, "error", err)
			_ = s.sup.Terminate(sigCtx)
			return
		}
		graceTimer = time.NewTimer(s.grace)
		graceC = graceTimer.C
	}

	for {
		select {
		case <-started:
			started = nil
			s.trackStart()
			if s.cancelled {
				escalate()
			}
		case <-ctxDone:
			ctxDone = nil
			s.cancelled = true
			if started == nil {
				escalate()
			}
		case <-graceC:
			graceC = nil
			s.logger.Info("grace period elapsed, terminating job", "session", s.id)
			_ = s.sup.Terminate(sigCtx)
		case err := <-runDone:
			s.tracker.Delete(s.id)
			return err
		}
	}
}

func (s *session) trackStart() {
	target, ok := s.sup.Target()
	if !ok {
		return
	}
	rec := tracker.Record{
		SessionID: s.id,
		Pid:       target.Pid,
		Account:   target.Account,
		Elevated:  target.Elevated,
		Args:      s.sup.Args(),
		Started:   time.Now().UTC(),
	}
	if err := s.tracker.Create(rec); err != nil {
		s.logger.Warn("cannot record session", "session", s.id, "error", err)
	}
	if s.onStart != nil {
		s.onStart(s.id, target.Pid)
	}
}

func writeReport(dir string, rep report.Report) (string, error) {
	data, err := report.Marshal(rep)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, rep.SessionID+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("jobrun: write report: %w", err)
	}
	return path, nil
}

// uploadArtifacts ships the session log and report. Failures are logged;
// the job's own result is what the caller acts on.
func uploadArtifacts(ctx context.Context, up config.Upload, uploader Uploader, logger *slog.Logger, sessionID, logPath, reportPath string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), uploadTimeout)
	defer cancel()

	if uploader == nil {
		var err error
		uploader, err = newS3Uploader(ctx, up, logger)
		if err != nil {
			logger.Warn("cannot configure upload", "error", err)
			return
		}
	}

	artifacts := []struct{ name, path string }{
		{"session.log", logPath},
		{"report.json", reportPath},
	}
	for _, a := range artifacts {
		if a.path == "" {
			continue
		}
		key := s3upload.Key(up.Prefix, sessionID, a.name)
		if err := uploadWithRetry(ctx, uploader, up.Bucket, key, a.path); err != nil {
			logger.Warn("upload failed", "key", key, "error", err)
		}
	}
}

func uploadWithRetry(ctx context.Context, uploader Uploader, bucket, key, path string) error {
	var err error
	for attempt := range max(uploadPolicy.Attempts, 1) {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w (after %v)", err, ctx.Err())
			case <-time.After(uploadPolicy.Delay(attempt - 1)):
			}
		}
		if err = uploader.Upload(ctx, bucket, key, path); err == nil {
			return nil
		}
	}
	return err
}

func newS3Uploader(ctx context.Context, up config.Upload, logger *slog.Logger) (*s3upload.Uploader, error) {
	var awsOpts []func(*awsconfig.LoadOptions) error
	if up.Region != "" {
		awsOpts = append(awsOpts, awsconfig.WithRegion(up.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsOpts...)
	if err != nil {
		return nil, fmt.Errorf("jobrun: load AWS config: %w", err)
	}
	return s3upload.NewUploader(awsCfg, up.Region, up.Endpoint, nil, logger), nil
}
