// Package config defines the job runner's configuration structs and their
// defaults. These are pure data types with no I/O; loading is handled by
// adaptor/configloader.
package config

import (
	"time"

	"github.com/gurre/jobsession-go/state/principal"
)

// Runner holds the job runner configuration loaded from jobsession.yml or
// jobsession.toml.
type Runner struct {
	// ProgramName names the runner's own log file.
	ProgramName string
	// LogDir holds the runner's rotating log.
	LogDir string
	// SessionLogDir holds one log and one report per session.
	SessionLogDir string
	// RelayDir is where the POSIX signal relay is installed.
	RelayDir string
	// TrackingDir holds records of sessions still in flight.
	TrackingDir string
	// Encoding is the default codec of job output.
	Encoding string

	// Upload configures shipping session artifacts to S3.
	Upload Upload

	// GracePeriod is the wait between notify and terminate on cancellation.
	GracePeriod time.Duration
	// LogMaxBytes rotates a log file once it would exceed this size.
	LogMaxBytes int64

	// MaxLineLength caps a single forwarded output line.
	MaxLineLength int
	// LogMaxFiles is the number of rotated copies kept.
	LogMaxFiles int
}

// Upload names the S3 destination for session artifacts. An empty Bucket
// disables uploading.
type Upload struct {
	Bucket   string
	Prefix   string
	Region   string
	Endpoint string
}

// Enabled reports whether a bucket is configured.
func (u Upload) Enabled() bool { return u.Bucket != "" }

// Default returns a Runner config with the documented defaults.
//
//	cfg := config.Default()
//	cfg.GracePeriod = 30 * time.Second
func Default() Runner {
	return Runner{
		ProgramName:   "jobsession",
		LogDir:        "/var/log/jobsession",
		SessionLogDir: "/var/log/jobsession/sessions",
		RelayDir:      "/var/lib/jobsession/bin",
		TrackingDir:   "/var/lib/jobsession/sessions",
		Encoding:      "utf-8",
		GracePeriod:   10 * time.Second,
		LogMaxBytes:   64 * 1024 * 1024,
		MaxLineLength: 64 * 1000,
		LogMaxFiles:   8,
	}
}

// Job describes one command to supervise, as read from a job file.
type Job struct {
	// Args is the command vector; Args[0] is the program.
	Args []string
	// User is the account to run as; empty runs as the caller.
	User string
	// CredentialFile is the exported PSCredential used on Windows.
	CredentialFile string
	// Encoding overrides Runner.Encoding for this job.
	Encoding string
}

// Principal converts the job's identity into the principal for pl, or nil
// when the job runs as the caller.
//
//	p := job.Principal(principal.HostPlatform(runtime.GOOS))
func (j Job) Principal(pl principal.Platform) principal.Principal {
	if j.User == "" {
		return nil
	}
	if pl == principal.Windows {
		return principal.WindowsUser{User: j.User, CredentialFile: j.CredentialFile}
	}
	return principal.Posix{User: j.User}
}
