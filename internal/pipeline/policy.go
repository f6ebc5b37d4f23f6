package pipeline

import (
	"fmt"

	"github.com/AbdelazizMoustafa10m/regress/internal/exitcodes"
)

// FailurePolicy decides what happens after a stage fails.
type FailurePolicy string

const (
	// HaltOnFailure stops the pipeline after the first failing stage.
	HaltOnFailure FailurePolicy = "halt"
	// ContinueOnFailure runs every stage regardless of earlier failures.
	ContinueOnFailure FailurePolicy = "continue"
)

// ExitPolicy decides the process exit status reported to the scheduler.
type ExitPolicy string

const (
	// AlwaysSuccess reports success whatever the test outcomes; results are
	// read from the report artifacts.
	AlwaysSuccess ExitPolicy = "always_success"
	// ReflectWorstStage reports a test failure when any executed stage failed.
	ReflectWorstStage ExitPolicy = "reflect_worst_stage"
)

// ParseFailurePolicy validates s as a FailurePolicy.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch p := FailurePolicy(s); p {
	case HaltOnFailure, ContinueOnFailure:
		return p, nil
	default:
		return "", &ConfigurationError{StageIndex: -1, Err: fmt.Errorf("unknown stage failure policy %q", s)}
	}
}

// ParseExitPolicy validates s as an ExitPolicy.
func ParseExitPolicy(s string) (ExitPolicy, error) {
	switch p := ExitPolicy(s); p {
	case AlwaysSuccess, ReflectWorstStage:
		return p, nil
	default:
		return "", &ConfigurationError{StageIndex: -1, Err: fmt.Errorf("unknown pipeline exit policy %q", s)}
	}
}

// ExitStatus computes the process exit status for a completed run.
func ExitStatus(results []Result, policy ExitPolicy) int {
	if policy != ReflectWorstStage {
		return exitcodes.Success
	}
	for _, r := range results {
		if r.Failed() {
			return exitcodes.TestFailure
		}
	}
	return exitcodes.Success
}
