package configloader

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// TestLoadRunnerOverridesDefaults verifies that YAML values override
// defaults while unset values retain defaults. This is the core config
// loading behavior.
func TestLoadRunnerOverridesDefaults(t *testing.T) {
	path := writeConfig(t, "jobsession.yml", `
log_dir: /custom/log
grace_period_seconds: 3
max_line_length: 1024
upload:
  bucket: job-logs
  prefix: render/
`)

	cfg, err := LoadRunner(path)
	if err != nil {
		t.Fatalf("LoadRunner: %v", err)
	}

	if cfg.LogDir != "/custom/log" {
		t.Errorf("LogDir = %q", cfg.LogDir)
	}
	if cfg.GracePeriod != 3*time.Second {
		t.Errorf("GracePeriod = %v", cfg.GracePeriod)
	}
	if cfg.MaxLineLength != 1024 {
		t.Errorf("MaxLineLength = %d", cfg.MaxLineLength)
	}
	if cfg.Upload.Bucket != "job-logs" || cfg.Upload.Prefix != "render/" {
		t.Errorf("Upload = %+v", cfg.Upload)
	}
	// Unset values should keep defaults
	if cfg.ProgramName != "jobsession" || cfg.Encoding != "utf-8" || cfg.LogMaxFiles != 8 {
		t.Errorf("defaults lost: %+v", cfg)
	}
}

// TestLoadRunnerTOML verifies the TOML variant is selected by extension and
// maps to the same fields.
func TestLoadRunnerTOML(t *testing.T) {
	path := writeConfig(t, "jobsession.toml", `
program_name = "render-runner"
session_log_dir = "/srv/sessions"
relay_dir = "/srv/bin"
tracking_dir = "/srv/track"
encoding = "latin1"
grace_period_seconds = 0
log_max_bytes = 1048576
log_max_files = 2

[upload]
bucket = "render-logs"
region = "eu-north-1"
endpoint = "http://127.0.0.1:9000"
`)

	cfg, err := LoadRunner(path)
	if err != nil {
		t.Fatalf("LoadRunner: %v", err)
	}
	if cfg.ProgramName != "render-runner" || cfg.SessionLogDir != "/srv/sessions" ||
		cfg.RelayDir != "/srv/bin" || cfg.TrackingDir != "/srv/track" || cfg.Encoding != "latin1" {
		t.Errorf("paths = %+v", cfg)
	}
	// An explicit zero is honoured, not replaced by the default.
	if cfg.GracePeriod != 0 {
		t.Errorf("GracePeriod = %v, want 0", cfg.GracePeriod)
	}
	if cfg.LogMaxBytes != 1<<20 || cfg.LogMaxFiles != 2 {
		t.Errorf("rotation = %d x %d", cfg.LogMaxBytes, cfg.LogMaxFiles)
	}
	if cfg.Upload.Region != "eu-north-1" || cfg.Upload.Endpoint != "http://127.0.0.1:9000" {
		t.Errorf("Upload = %+v", cfg.Upload)
	}
}

// TestLoadRunnerMissingFileReturnsDefaults verifies that a missing config
// file returns defaults rather than an error, so the runner works without
// any config on a fresh host.
func TestLoadRunnerMissingFileReturnsDefaults(t *testing.T) {
	for _, path := range []string{"", "/nonexistent/jobsession.yml"} {
		cfg, err := LoadRunner(path)
		if err != nil {
			t.Fatalf("LoadRunner(%q): %v", path, err)
		}
		if cfg.ProgramName != "jobsession" {
			t.Errorf("should return defaults, got ProgramName=%q", cfg.ProgramName)
		}
	}
}

// TestLoadRunnerInvalid rejects malformed files rather than silently using
// defaults, since a typo could cause unexpected behavior.
func TestLoadRunnerInvalid(t *testing.T) {
	for name, data := range map[string]string{
		"bad.yml":  "log_dir: [\ninvalid\n",
		"bad.toml": "log_dir = \n",
	} {
		if _, err := LoadRunner(writeConfig(t, name, data)); err == nil {
			t.Errorf("%s: expected parse error", name)
		}
	}
}

func TestLoadJobYAML(t *testing.T) {
	path := writeConfig(t, "render.yml", `
args: ["render", "--frame", "12"]
user: render
encoding: cp1252
`)
	job, err := LoadJob(path)
	if err != nil {
		t.Fatalf("LoadJob: %v", err)
	}
	if !reflect.DeepEqual(job.Args, []string{"render", "--frame", "12"}) {
		t.Errorf("Args = %q", job.Args)
	}
	if job.User != "render" || job.Encoding != "cp1252" {
		t.Errorf("job = %+v", job)
	}
}

func TestLoadJobTOML(t *testing.T) {
	path := writeConfig(t, "render.toml", `
args = ['C:\Tools\render.exe', "--frame", "12"]
user = 'CORP\render'
credential_file = 'C:\creds\render.xml'
`)
	job, err := LoadJob(path)
	if err != nil {
		t.Fatalf("LoadJob: %v", err)
	}
	if job.Args[0] != `C:\Tools\render.exe` || job.User != `CORP\render` || job.CredentialFile != `C:\creds\render.xml` {
		t.Errorf("job = %+v", job)
	}
}

// TestLoadJobRequiresCommand verifies a job without args is rejected here
// rather than failing later in the supervisor.
func TestLoadJobRequiresCommand(t *testing.T) {
	_, err := LoadJob(writeConfig(t, "empty.yml", "user: render\n"))
	if !errors.Is(err, ErrNoCommand) {
		t.Errorf("err = %v, want ErrNoCommand", err)
	}
}

// TestLoadJobMissingFile verifies a job file, unlike the runner config, is
// required.
func TestLoadJobMissingFile(t *testing.T) {
	if _, err := LoadJob("/nonexistent/job.yml"); err == nil {
		t.Fatal("expected error for missing job file")
	}
}
