package cli

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/AbdelazizMoustafa10m/regress/internal/config"
	"github.com/AbdelazizMoustafa10m/regress/internal/env"
	"github.com/AbdelazizMoustafa10m/regress/internal/pipeline"
	"github.com/AbdelazizMoustafa10m/regress/internal/testrunner"
)

// runSettings is everything a run or plan needs, derived from a validated
// configuration.
type runSettings struct {
	Stages         []pipeline.Stage
	Environments   map[string]env.Definition
	FailurePolicy  pipeline.FailurePolicy
	ExitPolicy     pipeline.ExitPolicy
	DefaultTimeout time.Duration
	WorkDir        string
	LogDir         string
	StateDir       string
	Shell          string
}

// buildRunSettings translates the resolved configuration into pipeline
// stages and environment definitions. Relative directories are resolved
// against base, the directory holding regress.toml.
func buildRunSettings(cfg *config.Config, base string) (*runSettings, error) {
	failure, err := pipeline.ParseFailurePolicy(cfg.Pipeline.OnStageFailure)
	if err != nil {
		return nil, err
	}
	exit, err := pipeline.ParseExitPolicy(cfg.Pipeline.OnPipelineExit)
	if err != nil {
		return nil, err
	}
	defaultTimeout, err := config.ParseTimeout(cfg.Runner.DefaultTimeout)
	if err != nil {
		return nil, &pipeline.ConfigurationError{StageIndex: -1, Err: fmt.Errorf("runner.default_timeout: %w", err)}
	}

	flags := testrunner.FlagSet{
		JUnit:     cfg.Runner.JUnitFlag,
		Cov:       cfg.Runner.CovFlag,
		CovReport: cfg.Runner.CovReportFlag,
		Debugger:  cfg.Runner.DebuggerFlag,
	}

	stages := make([]pipeline.Stage, 0, len(cfg.Stages))
	for i, sc := range cfg.Stages {
		timeout, err := config.ParseTimeout(sc.Timeout)
		if err != nil {
			return nil, &pipeline.ConfigurationError{StageIndex: i, Err: err}
		}
		extra := append(append([]string(nil), cfg.Runner.ExtraArgs...), sc.ExtraArgs...)
		stages = append(stages, pipeline.Stage{
			Name:          sc.Name,
			EnvironmentID: sc.Environment,
			Command: testrunner.Invocation{
				Command:      append([]string(nil), cfg.Runner.Command...),
				Target:       append([]string(nil), sc.Target...),
				JUnitXML:     sc.JUnitXML,
				CovTarget:    sc.CovTarget,
				CovReportDir: sc.CovReportDir,
				Debugger:     cfg.Pipeline.Debugger,
				ExtraArgs:    extra,
				Flags:        flags,
			},
			ReportPaths: append([]string(nil), sc.Artifacts...),
			Timeout:     timeout,
		})
	}

	defs := make(map[string]env.Definition, len(cfg.Environments))
	for id, ec := range cfg.Environments {
		defs[id] = env.Definition{
			Interpreter: ec.Interpreter,
			PathPrepend: ec.PathPrepend,
			Vars:        ec.Vars,
			Unset:       ec.Unset,
			Activate:    ec.Activate,
		}
	}

	workDir := resolveDir(base, cfg.Project.WorkDir)
	return &runSettings{
		Stages:         stages,
		Environments:   defs,
		FailurePolicy:  failure,
		ExitPolicy:     exit,
		DefaultTimeout: defaultTimeout,
		WorkDir:        workDir,
		LogDir:         resolveDir(workDir, cfg.Project.LogDir),
		StateDir:       resolveDir(workDir, cfg.Project.StateDir),
		Shell:          cfg.Batch.Shell,
	}, nil
}

// resolveDir joins a relative dir onto base. An empty dir yields base.
func resolveDir(base, dir string) string {
	switch {
	case dir == "":
		return base
	case filepath.IsAbs(dir) || base == "":
		return dir
	default:
		return filepath.Join(base, dir)
	}
}

// configBaseDir returns the directory relative paths in the configuration
// are resolved against: the config file's directory, else cwd.
func configBaseDir(rc *config.ResolvedConfig) (string, error) {
	if rc.Path != "" {
		abs, err := filepath.Abs(rc.Path)
		if err != nil {
			return "", fmt.Errorf("resolving config path: %w", err)
		}
		return filepath.Dir(abs), nil
	}
	return filepath.Abs(".")
}
