package cli

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/AbdelazizMoustafa10m/regress/internal/artifact"
	"github.com/AbdelazizMoustafa10m/regress/internal/batch"
	"github.com/AbdelazizMoustafa10m/regress/internal/buildinfo"
	"github.com/AbdelazizMoustafa10m/regress/internal/config"
	"github.com/AbdelazizMoustafa10m/regress/internal/env"
	"github.com/AbdelazizMoustafa10m/regress/internal/git"
	"github.com/AbdelazizMoustafa10m/regress/internal/logging"
	"github.com/AbdelazizMoustafa10m/regress/internal/pipeline"
	"github.com/AbdelazizMoustafa10m/regress/internal/testrunner"
)

// runFlags holds the flag values for the run subcommand.
type runFlags struct {
	Batch          bool
	OnStageFailure string
	OnPipelineExit string
	Timeout        string
	Debugger       bool
	NoEcho         bool
	LogDir         string
	StateDir       string
	NoRecord       bool
}

var runOpts runFlags

// stdinIsTerminal is replaced in tests.
var stdinIsTerminal = func() bool {
	fd := os.Stdin.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the regression pipeline",
	Long: `Run every configured stage in order, each under its own environment.

With on_stage_failure = "halt" (the default) the first failing stage stops
the pipeline. With on_pipeline_exit = "always_success" (the default) the
command exits 0 whenever the pipeline itself ran, whatever the tests did;
read the per-stage reports and the run record for test outcomes.

Exit codes:
  0  pipeline ran (or all stages passed under reflect_worst_stage)
  1  a stage failed under reflect_worst_stage
  2  configuration error; no stage was started
  3  interrupted

The interactive debugger flag is only passed when stdin is a terminal, the
run is not inside a batch job, and --batch is not set.

Examples:
  regress run
  regress run --batch
  regress run --on-pipeline-exit reflect_worst_stage
  regress run --debugger --on-stage-failure continue`,
	Args: usageArgs(cobra.NoArgs),
	RunE: runRun,
}

func init() {
	f := runCmd.Flags()
	f.BoolVar(&runOpts.Batch, "batch", false, "Unattended mode: never pass the debugger flag")
	f.StringVar(&runOpts.OnStageFailure, "on-stage-failure", "", "Stage failure policy: halt or continue (env: REGRESS_ON_STAGE_FAILURE)")
	f.StringVar(&runOpts.OnPipelineExit, "on-pipeline-exit", "", "Exit policy: always_success or reflect_worst_stage (env: REGRESS_ON_PIPELINE_EXIT)")
	f.StringVar(&runOpts.Timeout, "timeout", "", "Default per-stage timeout, e.g. 45m (env: REGRESS_DEFAULT_TIMEOUT)")
	f.BoolVar(&runOpts.Debugger, "debugger", false, "Drop into the runner's debugger on failure (interactive runs only)")
	f.BoolVar(&runOpts.NoEcho, "no-echo", false, "Do not copy stage output to stdout")
	f.StringVar(&runOpts.LogDir, "log-dir", "", "Directory for per-stage log files (env: REGRESS_LOG_DIR)")
	f.StringVar(&runOpts.StateDir, "state-dir", "", "Directory for run records (env: REGRESS_STATE_DIR)")
	f.BoolVar(&runOpts.NoRecord, "no-record", false, "Do not write a run record")
	rootCmd.AddCommand(runCmd)
}

// runOverrides collects the run flags that were explicitly set.
func runOverrides(cmd *cobra.Command) *config.CLIOverrides {
	o := &config.CLIOverrides{}
	f := cmd.Flags()
	if f.Changed("on-stage-failure") {
		o.OnStageFailure = &runOpts.OnStageFailure
	}
	if f.Changed("on-pipeline-exit") {
		o.OnPipelineExit = &runOpts.OnPipelineExit
	}
	if f.Changed("timeout") {
		o.DefaultTimeout = &runOpts.Timeout
	}
	if f.Changed("debugger") {
		o.Debugger = &runOpts.Debugger
	}
	if f.Changed("no-echo") {
		echo := !runOpts.NoEcho
		o.Echo = &echo
	}
	if f.Changed("log-dir") {
		o.LogDir = &runOpts.LogDir
	}
	if f.Changed("state-dir") {
		o.StateDir = &runOpts.StateDir
	}
	return o
}

// interactiveSession reports whether a human is attached to this run.
func interactiveSession(batchFlag bool) bool {
	if batchFlag || batch.JobIDFromEnv() != "" {
		return false
	}
	return stdinIsTerminal()
}

func runRun(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	resolved, err := loadValidatedConfig(runOverrides(cmd))
	if err != nil {
		return err
	}
	base, err := configBaseDir(resolved)
	if err != nil {
		return err
	}
	settings, err := buildRunSettings(resolved.Config, base)
	if err != nil {
		return err
	}

	interactive := interactiveSession(runOpts.Batch)
	var echo io.Writer
	if resolved.Config.Pipeline.EchoEnabled() {
		echo = cmd.OutOrStdout()
	}

	logger := logging.New("run")
	table := env.NewTable(settings.Environments, env.WithShell(settings.Shell))
	driverOpts := []pipeline.Option{
		pipeline.WithFailurePolicy(settings.FailurePolicy),
		pipeline.WithInteractive(interactive),
		pipeline.WithWorkDir(settings.WorkDir),
		pipeline.WithLogDir(settings.LogDir),
		pipeline.WithDefaultTimeout(settings.DefaultTimeout),
		pipeline.WithEcho(echo),
	}

	if flagDryRun {
		driver := pipeline.NewDriver(table, testrunner.NewExecutor(nil), driverOpts...)
		planned, err := driver.Plan(ctx, settings.Stages)
		if err != nil {
			return err
		}
		printPlan(cmd.OutOrStdout(), planned, settings)
		return nil
	}

	if resolved.Config.Pipeline.Debugger && !interactive {
		logger.Info("debugger disabled for unattended run")
	}

	recorder := newRunRecorder(ctx, resolved.Config, settings)
	driverOpts = append(driverOpts, pipeline.WithObserver(recorder.Observe))

	driver := pipeline.NewDriver(table, testrunner.NewExecutor(nil), driverOpts...)
	results, runErr := driver.Run(ctx, settings.Stages)
	status := pipeline.ExitStatus(results, settings.ExitPolicy)
	if runErr != nil {
		status = exitCode(runErr)
	}

	rec, recErr := recorder.Finish(status, runErr)
	if recErr != nil {
		logger.Error("writing run record", "error", recErr)
	}
	if runErr == nil || len(results) > 0 {
		printRunSummary(cmd.ErrOrStderr(), rec)
	}

	if runErr != nil {
		return runErr
	}
	if status != 0 {
		return &exitError{code: status}
	}
	return nil
}

// newRunRecorder creates the run directory and a recorder writing into it.
// With --no-record, or when the state directory cannot be created, the
// recorder still checks artifacts but writes nothing.
func newRunRecorder(ctx context.Context, cfg *config.Config, settings *runSettings) *artifact.Recorder {
	now := time.Now()
	host, _ := os.Hostname()
	rec := artifact.Record{
		RunID:          artifact.NewRunID(now),
		Project:        cfg.Project.Name,
		Build:          buildinfo.GetInfo(),
		Host:           host,
		JobID:          batch.JobIDFromEnv(),
		Revision:       git.Probe(ctx, settings.WorkDir),
		StartedAt:      now,
		OnStageFailure: string(settings.FailurePolicy),
		OnPipelineExit: string(settings.ExitPolicy),
	}

	var store *artifact.Store
	if !runOpts.NoRecord {
		logger := logging.New("run")
		s, err := artifact.NewStore(settings.StateDir, rec.RunID)
		if err != nil {
			logger.Warn("run record disabled", "state_dir", settings.StateDir, "error", err)
		} else {
			store = s
			logger.Debug("run record", "path", store.Path())
		}
	}
	return artifact.NewRecorder(store, settings.WorkDir, rec, nil)
}
