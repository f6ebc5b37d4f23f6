// Package testrunner builds and executes test-runner command lines.
//
// An Invocation describes what a stage asks of the runner (target, report
// paths, coverage, debugger); a FlagSet says how the runner spells those
// requests. Executor runs the resulting argv as a child process with an
// explicit environment.
package testrunner

import (
	"strings"
)

// InterpreterPlaceholder in a command is replaced by the stage interpreter.
const InterpreterPlaceholder = "{interpreter}"

// DefaultInterpreter is used when an environment does not name one.
const DefaultInterpreter = "python3"

// FlagSet holds the runner's spelling of each reporting flag. An empty
// spelling means the runner has no such flag and the request is dropped.
//
// A flag ending in "=" or ":" is joined to its value ("--junitxml=" becomes
// "--junitxml=out.xml"); any other flag is passed as its own argument
// followed by the value.
type FlagSet struct {
	JUnit     string
	Cov       string
	CovReport string
	Debugger  string
}

// PytestFlags is the FlagSet for pytest with pytest-cov.
var PytestFlags = FlagSet{
	JUnit:     "--junitxml=",
	Cov:       "--cov=",
	CovReport: "--cov-report=html:",
	Debugger:  "--pdb",
}

// withValue renders flag applied to value.
func withValue(flag, value string) []string {
	if strings.HasSuffix(flag, "=") || strings.HasSuffix(flag, ":") {
		return []string{flag + value}
	}
	return []string{flag, value}
}

// Invocation is one stage's request of the test runner.
type Invocation struct {
	// Command is the runner executable and its fixed leading arguments. It
	// may contain InterpreterPlaceholder.
	Command      []string
	Target       []string
	JUnitXML     string
	CovTarget    string
	CovReportDir string
	// Debugger requests the interactive-debugger-on-failure flag. Callers
	// must only set it for interactive runs.
	Debugger  bool
	ExtraArgs []string
	Flags     FlagSet
}

// Argv returns the full argument vector, with the interpreter substituted
// for the placeholder. Order: command, debugger, report flags, extra args,
// targets.
func (inv Invocation) Argv(interpreter string) []string {
	if interpreter == "" {
		interpreter = DefaultInterpreter
	}

	argv := make([]string, 0, len(inv.Command)+len(inv.ExtraArgs)+len(inv.Target)+5)
	for _, a := range inv.Command {
		argv = append(argv, strings.ReplaceAll(a, InterpreterPlaceholder, interpreter))
	}

	if inv.Debugger && inv.Flags.Debugger != "" {
		argv = append(argv, inv.Flags.Debugger)
	}
	if inv.JUnitXML != "" && inv.Flags.JUnit != "" {
		argv = append(argv, withValue(inv.Flags.JUnit, inv.JUnitXML)...)
	}
	if inv.CovTarget != "" && inv.Flags.Cov != "" {
		argv = append(argv, withValue(inv.Flags.Cov, inv.CovTarget)...)
	}
	if inv.CovReportDir != "" && inv.Flags.CovReport != "" {
		argv = append(argv, withValue(inv.Flags.CovReport, inv.CovReportDir)...)
	}

	argv = append(argv, inv.ExtraArgs...)
	argv = append(argv, inv.Target...)
	return argv
}

// ReportPaths returns the artifact locations the invocation asks the runner
// to produce: the results file and the coverage report directory, when the
// runner supports them.
func (inv Invocation) ReportPaths() []string {
	var paths []string
	if inv.JUnitXML != "" && inv.Flags.JUnit != "" {
		paths = append(paths, inv.JUnitXML)
	}
	if inv.CovReportDir != "" && inv.Flags.CovReport != "" {
		paths = append(paths, inv.CovReportDir)
	}
	return paths
}
