package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/AbdelazizMoustafa10m/regress/internal/testrunner"
)

// Stage is one step of a regression pipeline: a test invocation run under a
// named environment. Stages are built once from configuration and never
// mutated; the driver knows a stage only by its position.
type Stage struct {
	// Name is a human label used in logs. It may be empty.
	Name          string
	EnvironmentID string
	Command       testrunner.Invocation
	// ReportPaths lists artifacts the stage is expected to produce in
	// addition to those requested through Command (globs allowed).
	ReportPaths []string
	// Timeout overrides the driver default when positive.
	Timeout time.Duration
}

// Label renders the stage for humans as "stage N (name)", 1-based.
func (s Stage) Label(index int) string {
	name := s.Name
	if name == "" {
		name = s.EnvironmentID
	}
	if name == "" {
		return fmt.Sprintf("stage %d", index+1)
	}
	return fmt.Sprintf("stage %d (%s)", index+1, name)
}

// Artifacts returns every report path the stage is expected to produce.
func (s Stage) Artifacts() []string {
	paths := s.Command.ReportPaths()
	return append(paths, s.ReportPaths...)
}

// Result is the terminal record of one executed stage.
type Result struct {
	StageIndex    int           `json:"stage_index"`
	Name          string        `json:"name,omitempty"`
	EnvironmentID string        `json:"environment"`
	Argv          []string      `json:"argv,omitempty"`
	ExitStatus    int           `json:"exit_status"`
	Halted        bool          `json:"halted"`
	TimedOut      bool          `json:"timed_out,omitempty"`
	Duration      time.Duration `json:"duration"`
	LogFile       string        `json:"log_file,omitempty"`
	// Err is an EnvironmentActivationError or a runner start failure.
	Err   error  `json:"-"`
	Error string `json:"error,omitempty"`
}

// Failed reports whether the stage counts as a failure for policy decisions.
func (r Result) Failed() bool {
	return r.ExitStatus != 0
}

// Summary aggregates a run's results.
type Summary struct {
	Total    int `json:"total"`
	Executed int `json:"executed"`
	Passed   int `json:"passed"`
	Failed   int `json:"failed"`
	// HaltedAt is the 0-based index of the stage that stopped the run, or -1.
	HaltedAt int `json:"halted_at"`
}

// Summarize counts results against a pipeline of total stages.
func Summarize(total int, results []Result) Summary {
	s := Summary{Total: total, Executed: len(results), HaltedAt: -1}
	for _, r := range results {
		if r.Failed() {
			s.Failed++
		} else {
			s.Passed++
		}
		if r.Halted {
			s.HaltedAt = r.StageIndex
		}
	}
	return s
}

// String renders the summary as one log-friendly line.
func (s Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d/%d stages executed, %d passed, %d failed", s.Executed, s.Total, s.Passed, s.Failed)
	if s.HaltedAt >= 0 {
		fmt.Fprintf(&b, ", halted after stage %d", s.HaltedAt+1)
	}
	return b.String()
}
