package config

// Pipeline policy values accepted in [pipeline].
const (
	FailureHalt     = "halt"
	FailureContinue = "continue"

	ExitAlwaysSuccess     = "always_success"
	ExitReflectWorstStage = "reflect_worst_stage"
)

// Scheduler values accepted in [batch].
const (
	SchedulerPBS   = "pbs"
	SchedulerSlurm = "slurm"
)

// InterpreterPlaceholder in runner.command is replaced by the stage
// environment's interpreter.
const InterpreterPlaceholder = "{interpreter}"

// NewDefaults returns a Config populated with all default values. The runner
// defaults drive pytest with pytest-cov; the pipeline defaults halt on the
// first failing stage and always exit successfully.
func NewDefaults() *Config {
	return &Config{
		Project: ProjectConfig{
			LogDir:   "regress/logs",
			StateDir: "regress/runs",
		},
		Runner: RunnerConfig{
			Command:       []string{InterpreterPlaceholder, "-m", "pytest"},
			JUnitFlag:     "--junitxml=",
			CovFlag:       "--cov=",
			CovReportFlag: "--cov-report=html:",
			DebuggerFlag:  "--pdb",
		},
		Pipeline: PipelineConfig{
			OnStageFailure: FailureHalt,
			OnPipelineExit: ExitAlwaysSuccess,
		},
		Environments: map[string]EnvironmentConfig{},
		Batch: BatchConfig{
			Scheduler:  SchedulerPBS,
			Shell:      "/bin/bash",
			JobName:    "regress",
			Walltime:   "2:00:00",
			Select:     1,
			NCPUs:      1,
			Rerun:      "n",
			Join:       "oe",
			ScriptPath: "regress.pbs",
			JobIDFile:  "jobID.dat",
		},
	}
}
