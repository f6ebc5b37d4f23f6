package config

import (
	"sort"
	"strconv"
)

// ConfigSource identifies where a configuration value came from.
type ConfigSource string

const (
	// SourceDefault indicates the value came from built-in defaults.
	SourceDefault ConfigSource = "default"
	// SourceFile indicates the value came from regress.toml.
	SourceFile ConfigSource = "file"
	// SourceEnv indicates the value came from an environment variable.
	SourceEnv ConfigSource = "env"
	// SourceCLI indicates the value came from a CLI flag.
	SourceCLI ConfigSource = "cli"
)

// ResolvedConfig holds the fully-resolved configuration with source tracking.
type ResolvedConfig struct {
	Config  *Config
	Sources map[string]ConfigSource // key is a dotted path, e.g. "pipeline.on_stage_failure"
	Path    string                  // config file used (empty if none)
}

// CLIOverrides captures flag values that can override configuration. A nil
// pointer means "not set"; a pointer to a zero value overrides to that value.
type CLIOverrides struct {
	WorkDir        *string
	LogDir         *string
	StateDir       *string
	OnStageFailure *string
	OnPipelineExit *string
	DefaultTimeout *string
	Debugger       *bool
	Echo           *bool
	Scheduler      *string
	Queue          *string
	Walltime       *string
}

// EnvFunc looks up environment variables. The default is os.LookupEnv.
type EnvFunc func(key string) (string, bool)

// Resolve merges configuration from all sources in priority order:
// CLI flags > environment variables > config file > defaults.
//
// Stages are never merged: a file that declares [[stages]] replaces the
// default (empty) list as a whole, because stage order is significant.
func Resolve(defaults *Config, fileConfig *Config, envFn EnvFunc, overrides *CLIOverrides) *ResolvedConfig {
	rc := &ResolvedConfig{
		Config:  &Config{},
		Sources: make(map[string]ConfigSource),
	}

	if defaults == nil {
		defaults = &Config{}
	}
	if envFn == nil {
		envFn = func(string) (string, bool) { return "", false }
	}
	if overrides == nil {
		overrides = &CLIOverrides{}
	}

	// Layer 1: defaults.
	applySection(rc, defaults, SourceDefault, setString, setStrings)

	// Layer 2: file (non-zero values override; environments merge by id).
	if fileConfig != nil {
		applySection(rc, fileConfig, SourceFile, mergeString, mergeStrings)
	}

	// Layer 3: environment.
	resolveFromEnv(rc, envFn)

	// Layer 4: CLI.
	resolveFromCLI(rc, overrides)

	return rc
}

type stringSetter func(target *string, value, path string, source ConfigSource, sources map[string]ConfigSource)
type sliceSetter func(target *[]string, value []string, path string, source ConfigSource, sources map[string]ConfigSource)

// applySection copies every field of src into rc using the given setters.
// Defaults use unconditional setters; the file layer uses merge setters that
// skip zero values.
func applySection(rc *ResolvedConfig, src *Config, source ConfigSource, str stringSetter, strs sliceSetter) {
	c := rc.Config
	s := rc.Sources
	unconditional := source == SourceDefault

	str(&c.Project.Name, src.Project.Name, "project.name", source, s)
	str(&c.Project.WorkDir, src.Project.WorkDir, "project.work_dir", source, s)
	str(&c.Project.LogDir, src.Project.LogDir, "project.log_dir", source, s)
	str(&c.Project.StateDir, src.Project.StateDir, "project.state_dir", source, s)

	strs(&c.Runner.Command, src.Runner.Command, "runner.command", source, s)
	str(&c.Runner.JUnitFlag, src.Runner.JUnitFlag, "runner.junit_flag", source, s)
	str(&c.Runner.CovFlag, src.Runner.CovFlag, "runner.cov_flag", source, s)
	str(&c.Runner.CovReportFlag, src.Runner.CovReportFlag, "runner.cov_report_flag", source, s)
	str(&c.Runner.DebuggerFlag, src.Runner.DebuggerFlag, "runner.debugger_flag", source, s)
	strs(&c.Runner.ExtraArgs, src.Runner.ExtraArgs, "runner.extra_args", source, s)
	str(&c.Runner.DefaultTimeout, src.Runner.DefaultTimeout, "runner.default_timeout", source, s)

	str(&c.Pipeline.OnStageFailure, src.Pipeline.OnStageFailure, "pipeline.on_stage_failure", source, s)
	str(&c.Pipeline.OnPipelineExit, src.Pipeline.OnPipelineExit, "pipeline.on_pipeline_exit", source, s)
	if unconditional || src.Pipeline.Debugger {
		c.Pipeline.Debugger = src.Pipeline.Debugger
		s["pipeline.debugger"] = source
	}
	if unconditional || src.Pipeline.Echo != nil {
		c.Pipeline.Echo = copyBoolPtr(src.Pipeline.Echo)
		s["pipeline.echo"] = source
	}

	if c.Environments == nil {
		c.Environments = make(map[string]EnvironmentConfig)
	}
	for id, env := range src.Environments {
		c.Environments[id] = copyEnvironmentConfig(env)
		s["environments."+id] = source
	}

	if unconditional || len(src.Stages) > 0 {
		c.Stages = make([]StageConfig, len(src.Stages))
		for i, st := range src.Stages {
			c.Stages[i] = copyStageConfig(st)
		}
		s["stages"] = source
	}

	b := &c.Batch
	sb := &src.Batch
	str(&b.Scheduler, sb.Scheduler, "batch.scheduler", source, s)
	str(&b.Shell, sb.Shell, "batch.shell", source, s)
	str(&b.JobName, sb.JobName, "batch.job_name", source, s)
	str(&b.Queue, sb.Queue, "batch.queue", source, s)
	str(&b.Walltime, sb.Walltime, "batch.walltime", source, s)
	setInt(&b.Select, sb.Select, "batch.select", source, s, unconditional)
	setInt(&b.NCPUs, sb.NCPUs, "batch.ncpus", source, s, unconditional)
	setInt(&b.MPIProcs, sb.MPIProcs, "batch.mpiprocs", source, s, unconditional)
	str(&b.Model, sb.Model, "batch.model", source, s)
	str(&b.Rerun, sb.Rerun, "batch.rerun", source, s)
	str(&b.Join, sb.Join, "batch.join", source, s)
	str(&b.GroupList, sb.GroupList, "batch.group_list", source, s)
	str(&b.Account, sb.Account, "batch.account", source, s)
	str(&b.Partition, sb.Partition, "batch.partition", source, s)
	strs(&b.SetupCommands, sb.SetupCommands, "batch.setup_commands", source, s)
	str(&b.ScriptPath, sb.ScriptPath, "batch.script_path", source, s)
	str(&b.JobIDFile, sb.JobIDFile, "batch.job_id_file", source, s)
}

// Environment variable mapping:
//
//	REGRESS_PROJECT_NAME      -> project.name
//	REGRESS_WORK_DIR          -> project.work_dir
//	REGRESS_LOG_DIR           -> project.log_dir
//	REGRESS_STATE_DIR         -> project.state_dir
//	REGRESS_ON_STAGE_FAILURE  -> pipeline.on_stage_failure
//	REGRESS_ON_PIPELINE_EXIT  -> pipeline.on_pipeline_exit
//	REGRESS_DEBUGGER          -> pipeline.debugger
//	REGRESS_DEFAULT_TIMEOUT   -> runner.default_timeout
//	REGRESS_SCHEDULER         -> batch.scheduler
//	REGRESS_QUEUE             -> batch.queue
//	REGRESS_WALLTIME          -> batch.walltime
var envStringVars = []struct {
	name string
	path string
	get  func(*Config) *string
}{
	{"REGRESS_PROJECT_NAME", "project.name", func(c *Config) *string { return &c.Project.Name }},
	{"REGRESS_WORK_DIR", "project.work_dir", func(c *Config) *string { return &c.Project.WorkDir }},
	{"REGRESS_LOG_DIR", "project.log_dir", func(c *Config) *string { return &c.Project.LogDir }},
	{"REGRESS_STATE_DIR", "project.state_dir", func(c *Config) *string { return &c.Project.StateDir }},
	{"REGRESS_ON_STAGE_FAILURE", "pipeline.on_stage_failure", func(c *Config) *string { return &c.Pipeline.OnStageFailure }},
	{"REGRESS_ON_PIPELINE_EXIT", "pipeline.on_pipeline_exit", func(c *Config) *string { return &c.Pipeline.OnPipelineExit }},
	{"REGRESS_DEFAULT_TIMEOUT", "runner.default_timeout", func(c *Config) *string { return &c.Runner.DefaultTimeout }},
	{"REGRESS_SCHEDULER", "batch.scheduler", func(c *Config) *string { return &c.Batch.Scheduler }},
	{"REGRESS_QUEUE", "batch.queue", func(c *Config) *string { return &c.Batch.Queue }},
	{"REGRESS_WALLTIME", "batch.walltime", func(c *Config) *string { return &c.Batch.Walltime }},
}

func resolveFromEnv(rc *ResolvedConfig, envFn EnvFunc) {
	for _, v := range envStringVars {
		if val, ok := envFn(v.name); ok {
			*v.get(rc.Config) = val
			rc.Sources[v.path] = SourceEnv
		}
	}

	// An unparseable REGRESS_DEBUGGER is ignored rather than guessed at;
	// the debugger must never be switched on by accident.
	if val, ok := envFn("REGRESS_DEBUGGER"); ok {
		if b, err := strconv.ParseBool(val); err == nil {
			rc.Config.Pipeline.Debugger = b
			rc.Sources["pipeline.debugger"] = SourceEnv
		}
	}
}

func resolveFromCLI(rc *ResolvedConfig, o *CLIOverrides) {
	c := rc.Config
	overrideString(&c.Project.WorkDir, o.WorkDir, "project.work_dir", rc.Sources)
	overrideString(&c.Project.LogDir, o.LogDir, "project.log_dir", rc.Sources)
	overrideString(&c.Project.StateDir, o.StateDir, "project.state_dir", rc.Sources)
	overrideString(&c.Pipeline.OnStageFailure, o.OnStageFailure, "pipeline.on_stage_failure", rc.Sources)
	overrideString(&c.Pipeline.OnPipelineExit, o.OnPipelineExit, "pipeline.on_pipeline_exit", rc.Sources)
	overrideString(&c.Runner.DefaultTimeout, o.DefaultTimeout, "runner.default_timeout", rc.Sources)
	overrideString(&c.Batch.Scheduler, o.Scheduler, "batch.scheduler", rc.Sources)
	overrideString(&c.Batch.Queue, o.Queue, "batch.queue", rc.Sources)
	overrideString(&c.Batch.Walltime, o.Walltime, "batch.walltime", rc.Sources)

	if o.Debugger != nil {
		c.Pipeline.Debugger = *o.Debugger
		rc.Sources["pipeline.debugger"] = SourceCLI
	}
	if o.Echo != nil {
		c.Pipeline.Echo = copyBoolPtr(o.Echo)
		rc.Sources["pipeline.echo"] = SourceCLI
	}
}

// SortedSourceKeys returns the keys of Sources in lexical order.
func (rc *ResolvedConfig) SortedSourceKeys() []string {
	keys := make([]string, 0, len(rc.Sources))
	for k := range rc.Sources {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// --- Helpers ---

// setString unconditionally sets the target to the given value and records the source.
func setString(target *string, value string, path string, source ConfigSource, sources map[string]ConfigSource) {
	*target = value
	sources[path] = source
}

// mergeString overwrites the target only if value is non-empty. An empty
// string in the file means "not set in file".
func mergeString(target *string, value string, path string, source ConfigSource, sources map[string]ConfigSource) {
	if value != "" {
		*target = value
		sources[path] = source
	}
}

func setStrings(target *[]string, value []string, path string, source ConfigSource, sources map[string]ConfigSource) {
	*target = copyStrings(value)
	sources[path] = source
}

func mergeStrings(target *[]string, value []string, path string, source ConfigSource, sources map[string]ConfigSource) {
	if len(value) > 0 {
		*target = copyStrings(value)
		sources[path] = source
	}
}

func setInt(target *int, value int, path string, source ConfigSource, sources map[string]ConfigSource, unconditional bool) {
	if unconditional || value != 0 {
		*target = value
		sources[path] = source
	}
}

func overrideString(target *string, value *string, path string, sources map[string]ConfigSource) {
	if value != nil {
		*target = *value
		sources[path] = SourceCLI
	}
}

func copyStrings(src []string) []string {
	if src == nil {
		return nil
	}
	out := make([]string, len(src))
	copy(out, src)
	return out
}

func copyBoolPtr(src *bool) *bool {
	if src == nil {
		return nil
	}
	v := *src
	return &v
}

// copyEnvironmentConfig returns a deep copy of an EnvironmentConfig.
func copyEnvironmentConfig(src EnvironmentConfig) EnvironmentConfig {
	env := EnvironmentConfig{
		Interpreter: src.Interpreter,
		PathPrepend: copyStrings(src.PathPrepend),
		Unset:       copyStrings(src.Unset),
		Activate:    src.Activate,
	}
	if src.Vars != nil {
		env.Vars = make(map[string]string, len(src.Vars))
		for k, v := range src.Vars {
			env.Vars[k] = v
		}
	}
	return env
}

// copyStageConfig returns a deep copy of a StageConfig.
func copyStageConfig(src StageConfig) StageConfig {
	return StageConfig{
		Name:         src.Name,
		Environment:  src.Environment,
		Target:       copyStrings(src.Target),
		JUnitXML:     src.JUnitXML,
		CovTarget:    src.CovTarget,
		CovReportDir: src.CovReportDir,
		Timeout:      src.Timeout,
		ExtraArgs:    copyStrings(src.ExtraArgs),
		Artifacts:    copyStrings(src.Artifacts),
	}
}
