// Package config loads, resolves and validates regress.toml.
package config

// Config is the top-level configuration structure mapping to regress.toml.
type Config struct {
	Project      ProjectConfig                `toml:"project"`
	Runner       RunnerConfig                 `toml:"runner"`
	Pipeline     PipelineConfig               `toml:"pipeline"`
	Environments map[string]EnvironmentConfig `toml:"environments"`
	Stages       []StageConfig                `toml:"stages"`
	Batch        BatchConfig                  `toml:"batch"`
}

// ProjectConfig maps to the [project] section.
type ProjectConfig struct {
	Name     string `toml:"name"`
	WorkDir  string `toml:"work_dir"`
	LogDir   string `toml:"log_dir"`
	StateDir string `toml:"state_dir"`
}

// RunnerConfig maps to the [runner] section. It describes how the external
// test runner is invoked and how its reporting flags are spelled. A flag
// ending in "=" or ":" is joined to its value; any other flag is passed as a
// separate argument before the value.
type RunnerConfig struct {
	Command        []string `toml:"command"`
	JUnitFlag      string   `toml:"junit_flag"`
	CovFlag        string   `toml:"cov_flag"`
	CovReportFlag  string   `toml:"cov_report_flag"`
	DebuggerFlag   string   `toml:"debugger_flag"`
	ExtraArgs      []string `toml:"extra_args"`
	DefaultTimeout string   `toml:"default_timeout"`
}

// PipelineConfig maps to the [pipeline] section.
type PipelineConfig struct {
	// OnStageFailure is "halt" or "continue".
	OnStageFailure string `toml:"on_stage_failure"`
	// OnPipelineExit is "always_success" or "reflect_worst_stage".
	OnPipelineExit string `toml:"on_pipeline_exit"`
	// Debugger requests the runner's interactive-debugger-on-failure flag.
	// It only takes effect in an interactive, non-batch run.
	Debugger bool `toml:"debugger"`
	// Echo copies stage output to stdout in addition to the stage log file.
	Echo *bool `toml:"echo"`
}

// EnvironmentConfig maps to an [environments.<id>] section.
type EnvironmentConfig struct {
	Interpreter string            `toml:"interpreter"`
	PathPrepend []string          `toml:"path_prepend"`
	Vars        map[string]string `toml:"vars"`
	Unset       []string          `toml:"unset"`
	// Activate is a shell snippet (for example "module load python/3.9")
	// whose resulting environment is captured for the stage.
	Activate string `toml:"activate"`
}

// StageConfig maps to one [[stages]] entry. Order in the file is run order.
type StageConfig struct {
	Name         string   `toml:"name"`
	Environment  string   `toml:"environment"`
	Target       []string `toml:"target"`
	JUnitXML     string   `toml:"junit_xml"`
	CovTarget    string   `toml:"cov_target"`
	CovReportDir string   `toml:"cov_report_dir"`
	Timeout      string   `toml:"timeout"`
	ExtraArgs    []string `toml:"extra_args"`
	// Artifacts lists additional report paths (globs allowed) the stage is
	// expected to produce.
	Artifacts []string `toml:"artifacts"`
}

// BatchConfig maps to the [batch] section used to render and submit job
// scripts.
type BatchConfig struct {
	Scheduler     string   `toml:"scheduler"`
	Shell         string   `toml:"shell"`
	JobName       string   `toml:"job_name"`
	Queue         string   `toml:"queue"`
	Walltime      string   `toml:"walltime"`
	Select        int      `toml:"select"`
	NCPUs         int      `toml:"ncpus"`
	MPIProcs      int      `toml:"mpiprocs"`
	Model         string   `toml:"model"`
	Rerun         string   `toml:"rerun"`
	Join          string   `toml:"join"`
	GroupList     string   `toml:"group_list"`
	Account       string   `toml:"account"`
	Partition     string   `toml:"partition"`
	SetupCommands []string `toml:"setup_commands"`
	ScriptPath    string   `toml:"script_path"`
	JobIDFile     string   `toml:"job_id_file"`
}
