package main

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/gurre/jobsession-go/adaptor/configloader"
	"github.com/gurre/jobsession-go/adaptor/signaler"
	"github.com/gurre/jobsession-go/entrypoint/jobrun"
	"github.com/gurre/jobsession-go/logic/report"
	"github.com/gurre/jobsession-go/orchestration/tracker"
	"github.com/gurre/jobsession-go/state/config"
)

const defaultConfigPath = "/etc/jobsession/jobsession.yml"

// exitError carries the job's exit status out of cobra without printing.
type exitError struct{ code int }

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "jobrun",
		Short: "Run a job subprocess with output capture and two-stage cancellation",
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to jobsession.yml or jobsession.toml")

	root.AddCommand(newRunCmd(&configPath))
	root.AddCommand(newInstallRelayCmd(&configPath))
	root.AddCommand(newStaleCmd(&configPath))

	root.SilenceUsage = true
	root.SilenceErrors = true
	return root
}

// loadRunner reads the config and applies flags the user actually set.
func loadRunner(configPath string, apply func(*config.Runner)) (config.Runner, error) {
	cfg, err := configloader.LoadRunner(configPath)
	if err != nil {
		return config.Runner{}, err
	}
	if apply != nil {
		apply(&cfg)
	}
	return cfg, nil
}

func newRunCmd(configPath *string) *cobra.Command {
	var (
		jobPath        string
		user           string
		credentialFile string
		encoding       string
		grace          time.Duration
		maxLine        int
		printReport    bool
	)

	cmd := &cobra.Command{
		Use:   "run [flags] [-- command [args...]]",
		Short: "Run a command or job file as a supervised session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if jobPath == "" && len(args) == 0 {
				return fmt.Errorf("run: no command given")
			}
			cfg, err := loadRunner(*configPath, func(c *config.Runner) {
				if cmd.Flags().Changed("grace") {
					c.GracePeriod = grace
				}
				if cmd.Flags().Changed("max-line-length") {
					c.MaxLineLength = maxLine
				}
			})
			if err != nil {
				return err
			}

			rep, err := jobrun.Run(cmd.Context(), jobrun.Options{
				Runner:  &cfg,
				JobPath: jobPath,
				Job: config.Job{
					Args:           args,
					User:           user,
					CredentialFile: credentialFile,
					Encoding:       encoding,
				},
				Stderr: cmd.ErrOrStderr(),
			})
			if err != nil {
				return err
			}
			if printReport {
				if err := writeReport(cmd.OutOrStdout(), rep); err != nil {
					return err
				}
			}
			if status := rep.ExitStatus(); status != 0 {
				return &exitError{code: status}
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&jobPath, "job", "j", "", "Job file (YAML or TOML) instead of an inline command")
	f.StringVarP(&user, "user", "u", "", "Account to run the command as")
	f.StringVar(&credentialFile, "credential-file", "", "Exported PSCredential for --user (Windows)")
	f.StringVar(&encoding, "encoding", "", "Codec of the command's output (default from config)")
	f.DurationVar(&grace, "grace", 0, "Wait between notify and terminate on cancellation")
	f.IntVar(&maxLine, "max-line-length", 0, "Cap on a single forwarded output line")
	f.BoolVar(&printReport, "report", false, "Print the session report as JSON on stdout")
	return cmd
}

func writeReport(w io.Writer, rep report.Report) error {
	data, err := report.Marshal(rep)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func newInstallRelayCmd(configPath *string) *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "install-relay",
		Short: "Install the signal relay script used on POSIX hosts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if dir == "" {
				cfg, err := loadRunner(*configPath, nil)
				if err != nil {
					return err
				}
				dir = cfg.RelayDir
			}
			path, err := signaler.InstallRelay(dir)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), path)
			return err
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "Target directory (default from config)")
	return cmd
}

func newStaleCmd(configPath *string) *cobra.Command {
	var (
		trackingDir string
		kill        bool
	)

	cmd := &cobra.Command{
		Use:   "stale",
		Short: "List sessions left behind by a runner that did not exit cleanly",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadRunner(*configPath, func(c *config.Runner) {
				if trackingDir != "" {
					c.TrackingDir = trackingDir
				}
			})
			if err != nil {
				return err
			}

			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), nil))
			ft := tracker.NewFileTracker(cfg.TrackingDir, logger)

			var sessions []jobrun.StaleSession
			if kill {
				relayPath, err := signaler.InstallRelay(cfg.RelayDir)
				if err != nil {
					return err
				}
				sessions = jobrun.ReapStale(cmd.Context(), logger, ft, signaler.ForHost(logger, relayPath))
			} else {
				sessions = jobrun.FindStale(ft)
			}

			out := cmd.OutOrStdout()
			for _, s := range sessions {
				state := "gone"
				if s.Alive {
					state = "alive"
				}
				_, _ = fmt.Fprintf(out, "%s\tpid=%d\t%s\trunner=%d\tstarted=%s\t%s\n",
					s.SessionID, s.Pid, state, s.RunnerPid, s.Started.Format(time.RFC3339), s.Account)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&trackingDir, "tracking-dir", "", "Session tracking directory (default from config)")
	cmd.Flags().BoolVar(&kill, "kill", false, "Terminate live orphans and clear all stale records")
	return cmd
}
