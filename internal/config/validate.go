package config

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
)

// ValidationSeverity indicates whether a validation issue is an error or warning.
type ValidationSeverity string

const (
	// SeverityError indicates a fatal validation issue; the configuration is unusable.
	SeverityError ValidationSeverity = "error"
	// SeverityWarning indicates the configuration works but may not do what
	// the operator expects.
	SeverityWarning ValidationSeverity = "warning"
)

// ValidationIssue represents a single validation finding.
type ValidationIssue struct {
	Severity ValidationSeverity
	Field    string // dotted path, e.g., "stages[1].environment"
	Message  string
}

// String renders the issue as "field: message".
func (vi ValidationIssue) String() string {
	if vi.Field == "" {
		return vi.Message
	}
	return vi.Field + ": " + vi.Message
}

// ValidationResult holds all validation findings.
type ValidationResult struct {
	Issues []ValidationIssue
}

// HasErrors returns true if any issue has error severity.
func (vr *ValidationResult) HasErrors() bool {
	return len(vr.Errors()) > 0
}

// HasWarnings returns true if any issue has warning severity.
func (vr *ValidationResult) HasWarnings() bool {
	return len(vr.Warnings()) > 0
}

// Errors returns only error-severity issues.
func (vr *ValidationResult) Errors() []ValidationIssue {
	return vr.filter(SeverityError)
}

// Warnings returns only warning-severity issues.
func (vr *ValidationResult) Warnings() []ValidationIssue {
	return vr.filter(SeverityWarning)
}

func (vr *ValidationResult) filter(sev ValidationSeverity) []ValidationIssue {
	var out []ValidationIssue
	for _, issue := range vr.Issues {
		if issue.Severity == sev {
			out = append(out, issue)
		}
	}
	return out
}

var validFailurePolicies = map[string]bool{
	FailureHalt:     true,
	FailureContinue: true,
}

var validExitPolicies = map[string]bool{
	ExitAlwaysSuccess:     true,
	ExitReflectWorstStage: true,
}

var validSchedulers = map[string]bool{
	SchedulerPBS:   true,
	SchedulerSlurm: true,
}

// walltimeRE matches [[D-]HH:]MM:SS style walltimes accepted by PBS and Slurm.
var walltimeRE = regexp.MustCompile(`^(\d+-)?(\d+:)?\d+:\d{2}$`)

// envNameRE matches portable environment variable names.
var envNameRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate checks the configuration for correctness and completeness. meta
// may be nil when no file was loaded. Check HasErrors() to decide whether
// the config is usable.
func Validate(cfg *Config, meta *toml.MetaData) *ValidationResult {
	vr := &ValidationResult{}

	if cfg == nil {
		addError(vr, "", "configuration is nil")
		return vr
	}

	validateRunner(vr, &cfg.Runner)
	validatePipeline(vr, &cfg.Pipeline, &cfg.Runner)
	validateEnvironments(vr, cfg.Environments)
	validateStages(vr, cfg.Stages, cfg.Environments)
	validateBatch(vr, &cfg.Batch)
	validateUnknownKeys(vr, meta)

	return vr
}

func validateRunner(vr *ValidationResult, r *RunnerConfig) {
	if len(r.Command) == 0 || strings.TrimSpace(r.Command[0]) == "" {
		addError(vr, "runner.command", "must name the test runner executable")
	}
	if _, err := ParseTimeout(r.DefaultTimeout); err != nil {
		addError(vr, "runner.default_timeout", err.Error())
	}
	if r.JUnitFlag == "" {
		addWarning(vr, "runner.junit_flag", "empty; stages cannot request a machine-readable report")
	}
}

func validatePipeline(vr *ValidationResult, p *PipelineConfig, r *RunnerConfig) {
	if !validFailurePolicies[p.OnStageFailure] {
		addError(vr, "pipeline.on_stage_failure",
			fmt.Sprintf("unrecognized policy %q; must be one of: halt, continue", p.OnStageFailure))
	}
	if !validExitPolicies[p.OnPipelineExit] {
		addError(vr, "pipeline.on_pipeline_exit",
			fmt.Sprintf("unrecognized policy %q; must be one of: always_success, reflect_worst_stage", p.OnPipelineExit))
	}
	if p.Debugger && r.DebuggerFlag == "" {
		addWarning(vr, "pipeline.debugger", "enabled but runner.debugger_flag is empty")
	}
}

func validateEnvironments(vr *ValidationResult, envs map[string]EnvironmentConfig) {
	for id, env := range envs {
		prefix := "environments." + id
		for name := range env.Vars {
			if !envNameRE.MatchString(name) {
				addError(vr, prefix+".vars."+name, "not a valid environment variable name")
			}
		}
		for i, name := range env.Unset {
			if !envNameRE.MatchString(name) {
				addError(vr, fmt.Sprintf("%s.unset[%d]", prefix, i), fmt.Sprintf("%q is not a valid environment variable name", name))
			}
		}
		for i, dir := range env.PathPrepend {
			if strings.TrimSpace(dir) == "" {
				addError(vr, fmt.Sprintf("%s.path_prepend[%d]", prefix, i), "must not be empty")
			}
		}
	}
}

func validateStages(vr *ValidationResult, stages []StageConfig, envs map[string]EnvironmentConfig) {
	if len(stages) == 0 {
		addError(vr, "stages", "at least one stage must be configured")
		return
	}

	seen := make(map[string]int, len(stages))
	for i, st := range stages {
		prefix := fmt.Sprintf("stages[%d]", i)

		if st.Environment == "" {
			addError(vr, prefix+".environment", "must not be empty")
		} else if _, ok := envs[st.Environment]; !ok {
			addError(vr, prefix+".environment",
				fmt.Sprintf("references undefined environment %q", st.Environment))
		}

		if _, err := ParseTimeout(st.Timeout); err != nil {
			addError(vr, prefix+".timeout", err.Error())
		}

		if st.JUnitXML == "" && st.CovReportDir == "" && len(st.Artifacts) == 0 {
			addWarning(vr, prefix, "produces no report artifacts; its outcome is only visible in the logs")
		}

		if st.Name != "" {
			if first, dup := seen[st.Name]; dup {
				addWarning(vr, prefix+".name",
					fmt.Sprintf("duplicates the name of stages[%d]", first))
			} else {
				seen[st.Name] = i
			}
		}
	}
}

func validateBatch(vr *ValidationResult, b *BatchConfig) {
	if !validSchedulers[b.Scheduler] {
		addError(vr, "batch.scheduler",
			fmt.Sprintf("unrecognized scheduler %q; must be one of: pbs, slurm", b.Scheduler))
	}
	if b.Select < 0 {
		addError(vr, "batch.select", "must not be negative")
	}
	if b.NCPUs < 0 {
		addError(vr, "batch.ncpus", "must not be negative")
	}
	if b.MPIProcs < 0 {
		addError(vr, "batch.mpiprocs", "must not be negative")
	}
	if b.Walltime != "" && !walltimeRE.MatchString(b.Walltime) {
		addWarning(vr, "batch.walltime",
			fmt.Sprintf("%q does not look like HH:MM:SS", b.Walltime))
	}
}

// validateUnknownKeys checks for TOML keys that did not map to any config struct field.
func validateUnknownKeys(vr *ValidationResult, meta *toml.MetaData) {
	if meta == nil {
		return
	}
	for _, key := range meta.Undecoded() {
		addWarning(vr, strings.Join(key, "."), "unknown configuration key")
	}
}

func addError(vr *ValidationResult, field, message string) {
	vr.Issues = append(vr.Issues, ValidationIssue{Severity: SeverityError, Field: field, Message: message})
}

func addWarning(vr *ValidationResult, field, message string) {
	vr.Issues = append(vr.Issues, ValidationIssue{Severity: SeverityWarning, Field: field, Message: message})
}
