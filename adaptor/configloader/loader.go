// Package configloader loads runner configuration and job files from YAML
// or TOML on disk. The format is chosen by file extension: ".toml" is TOML,
// everything else is YAML.
package configloader

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/gurre/jobsession-go/state/config"
)

// ErrNoCommand is returned for a job file without args.
var ErrNoCommand = errors.New("configloader: job has no command")

// rawRunner mirrors jobsession.yml / jobsession.toml. Pointers distinguish
// "unset" from the zero value so defaults survive.
type rawRunner struct {
	ProgramName        string    `yaml:"program_name" toml:"program_name"`
	LogDir             string    `yaml:"log_dir" toml:"log_dir"`
	SessionLogDir      string    `yaml:"session_log_dir" toml:"session_log_dir"`
	RelayDir           string    `yaml:"relay_dir" toml:"relay_dir"`
	TrackingDir        string    `yaml:"tracking_dir" toml:"tracking_dir"`
	Encoding           string    `yaml:"encoding" toml:"encoding"`
	Upload             rawUpload `yaml:"upload" toml:"upload"`
	GracePeriodSeconds *int      `yaml:"grace_period_seconds" toml:"grace_period_seconds"`
	LogMaxBytes        *int64    `yaml:"log_max_bytes" toml:"log_max_bytes"`
	MaxLineLength      *int      `yaml:"max_line_length" toml:"max_line_length"`
	LogMaxFiles        *int      `yaml:"log_max_files" toml:"log_max_files"`
}

type rawUpload struct {
	Bucket   string `yaml:"bucket" toml:"bucket"`
	Prefix   string `yaml:"prefix" toml:"prefix"`
	Region   string `yaml:"region" toml:"region"`
	Endpoint string `yaml:"endpoint" toml:"endpoint"`
}

// rawJob mirrors a job file.
type rawJob struct {
	Args           []string `yaml:"args" toml:"args"`
	User           string   `yaml:"user" toml:"user"`
	CredentialFile string   `yaml:"credential_file" toml:"credential_file"`
	Encoding       string   `yaml:"encoding" toml:"encoding"`
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// decode parses data into v using the format implied by path.
func decode(path string, data []byte, v any) error {
	if isTOML(path) {
		if _, err := toml.Decode(string(data), v); err != nil {
			return fmt.Errorf("configloader: parse %s: %w", path, err)
		}
		return nil
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("configloader: parse %s: %w", path, err)
	}
	return nil
}

// LoadRunner loads the runner config file, overlaying values onto defaults.
// Missing or empty fields retain their default values, and a missing file
// yields the defaults.
//
//	cfg, err := configloader.LoadRunner("/etc/jobsession/jobsession.yml")
func LoadRunner(path string) (config.Runner, error) {
	cfg := config.Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return config.Runner{}, fmt.Errorf("configloader: %w", err)
	}

	var raw rawRunner
	if err := decode(path, data, &raw); err != nil {
		return config.Runner{}, err
	}
	overlay(&cfg, raw)
	return cfg, nil
}

func overlay(cfg *config.Runner, raw rawRunner) {
	setString(&cfg.ProgramName, raw.ProgramName)
	setString(&cfg.LogDir, raw.LogDir)
	setString(&cfg.SessionLogDir, raw.SessionLogDir)
	setString(&cfg.RelayDir, raw.RelayDir)
	setString(&cfg.TrackingDir, raw.TrackingDir)
	setString(&cfg.Encoding, raw.Encoding)
	setString(&cfg.Upload.Bucket, raw.Upload.Bucket)
	setString(&cfg.Upload.Prefix, raw.Upload.Prefix)
	setString(&cfg.Upload.Region, raw.Upload.Region)
	setString(&cfg.Upload.Endpoint, raw.Upload.Endpoint)

	if raw.GracePeriodSeconds != nil {
		cfg.GracePeriod = time.Duration(*raw.GracePeriodSeconds) * time.Second
	}
	if raw.LogMaxBytes != nil {
		cfg.LogMaxBytes = *raw.LogMaxBytes
	}
	if raw.MaxLineLength != nil {
		cfg.MaxLineLength = *raw.MaxLineLength
	}
	if raw.LogMaxFiles != nil {
		cfg.LogMaxFiles = *raw.LogMaxFiles
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// LoadJob loads a job file. Unlike LoadRunner the file must exist and must
// name a command.
//
//	job, err := configloader.LoadJob("render.yml")
func LoadJob(path string) (config.Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return config.Job{}, fmt.Errorf("configloader: %w", err)
	}

	var raw rawJob
	if err := decode(path, data, &raw); err != nil {
		return config.Job{}, err
	}
	if len(raw.Args) == 0 {
		return config.Job{}, fmt.Errorf("%w: %s", ErrNoCommand, path)
	}

	return config.Job{
		Args:           raw.Args,
		User:           raw.User,
		CredentialFile: raw.CredentialFile,
		Encoding:       raw.Encoding,
	}, nil
}
