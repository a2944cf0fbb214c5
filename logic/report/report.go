// Package report defines the summary written when a job session ends: the
// command, who ran it, how it ended, and how long it took.
package report

import (
	"fmt"
	"time"

	json "github.com/goccy/go-json"
)

// Outcome classifies how a session ended.
type Outcome string

const (
	Succeeded   Outcome = "succeeded"
	Failed      Outcome = "failed"
	Killed      Outcome = "killed"
	StartFailed Outcome = "start_failed"
	// Unknown means the process was started but never reaped.
	Unknown Outcome = "unknown"
)

// Report is the JSON document describing one finished session.
type Report struct {
	SessionID     string    `json:"session_id"`
	Args          []string  `json:"args"`
	Account       string    `json:"account,omitempty"`
	Pid           int       `json:"pid,omitempty"`
	ExitCode      *int      `json:"exit_code"`
	Signal        string    `json:"signal,omitempty"`
	FailedToStart bool      `json:"failed_to_start"`
	Cancelled     bool      `json:"cancelled"`
	Outcome       Outcome   `json:"outcome"`
	Started       time.Time `json:"started"`
	Ended         time.Time `json:"ended"`
	DurationMS    int64     `json:"duration_ms"`
}

// Classify derives the outcome from the start result and exit code. On
// POSIX a negative exit code is death by signal.
//
//	outcome := report.Classify(false, &code)
func Classify(failedToStart bool, exitCode *int) Outcome {
	switch {
	case failedToStart:
		return StartFailed
	case exitCode == nil:
		return Unknown
	case *exitCode == 0:
		return Succeeded
	case *exitCode < 0:
		return Killed
	default:
		return Failed
	}
}

// Finish stamps the end time, duration and outcome.
//
//	r := report.Report{SessionID: id, Args: args, Started: start}
//	r = r.Finish(time.Now())
func (r Report) Finish(ended time.Time) Report {
	r.Ended = ended
	if !r.Started.IsZero() {
		r.DurationMS = ended.Sub(r.Started).Milliseconds()
	}
	r.Outcome = Classify(r.FailedToStart, r.ExitCode)
	return r
}

// Marshal encodes the report as indented JSON.
func Marshal(r Report) ([]byte, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("report: marshal: %w", err)
	}
	return data, nil
}

// Parse decodes a report previously produced by Marshal.
func Parse(data []byte) (Report, error) {
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return Report{}, fmt.Errorf("report: parse: %w", err)
	}
	return r, nil
}

// ExitStatus maps the report onto a status for the runner's own exit:
// the job's code when it exited, 128+N when killed by signal N, 127 when it
// never started, and 1 when the outcome is unknown.
func (r Report) ExitStatus() int {
	switch {
	case r.FailedToStart:
		return 127
	case r.ExitCode == nil:
		return 1
	case *r.ExitCode < 0:
		return 128 - *r.ExitCode
	default:
		return *r.ExitCode
	}
}
