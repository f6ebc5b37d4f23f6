package pipeline

import (
	"errors"
	"fmt"
)

// ErrNoStages is matched by the ConfigurationError returned for an empty
// stage list.
var ErrNoStages = errors.New("no stages configured")

// ConfigurationError reports a stage list that cannot be run. It is raised
// before any stage executes.
type ConfigurationError struct {
	// StageIndex is the offending stage, or -1 when the list as a whole is bad.
	StageIndex int
	Err        error
}

func (e *ConfigurationError) Error() string {
	if e.StageIndex < 0 {
		return fmt.Sprintf("configuration error: %v", e.Err)
	}
	return fmt.Sprintf("configuration error: stage %d: %v", e.StageIndex+1, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// EnvironmentActivationError reports that a stage's environment could not be
// activated. The stage is recorded with exit status -1.
type EnvironmentActivationError struct {
	EnvironmentID string
	Err           error
}

func (e *EnvironmentActivationError) Error() string {
	return fmt.Sprintf("activating environment %q: %v", e.EnvironmentID, e.Err)
}

func (e *EnvironmentActivationError) Unwrap() error { return e.Err }

// StartError reports that the test runner process never started.
type StartError struct {
	Argv []string
	Err  error
}

func (e *StartError) Error() string {
	name := ""
	if len(e.Argv) > 0 {
		name = e.Argv[0]
	}
	return fmt.Sprintf("starting test runner %q: %v", name, e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }
