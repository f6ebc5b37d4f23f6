package pipeline

import (
	"context"
	"path/filepath"
	"time"
)

// PlannedStage describes what Run would do for one stage.
type PlannedStage struct {
	Index         int           `json:"index"`
	Name          string        `json:"name,omitempty"`
	EnvironmentID string        `json:"environment"`
	Argv          []string      `json:"argv,omitempty"`
	Artifacts     []string      `json:"artifacts,omitempty"`
	Timeout       time.Duration `json:"timeout,omitempty"`
	LogFile       string        `json:"log_file,omitempty"`
	// Error is set when the environment could not be activated.
	Error string `json:"error,omitempty"`
}

// Plan activates each stage's environment and renders its command line
// without running anything. It fails with a *ConfigurationError exactly
// when Run would.
func (d *Driver) Plan(ctx context.Context, stages []Stage) ([]PlannedStage, error) {
	if err := CheckStages(stages); err != nil {
		return nil, err
	}

	planned := make([]PlannedStage, 0, len(stages))
	for i, st := range stages {
		p := PlannedStage{
			Index:         i,
			Name:          st.Name,
			EnvironmentID: st.EnvironmentID,
			Artifacts:     st.Artifacts(),
			Timeout:       st.Timeout,
		}
		if p.Timeout == 0 {
			p.Timeout = d.defaultTimeout
		}
		if d.logDir != "" {
			p.LogFile = filepath.Join(d.logDir, StageLogName(i, st))
		}

		desc, err := d.activator.Activate(ctx, st.EnvironmentID)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return planned, ctxErr
			}
			p.Error = (&EnvironmentActivationError{EnvironmentID: st.EnvironmentID, Err: err}).Error()
		} else {
			inv := st.Command
			inv.Debugger = inv.Debugger && d.interactive
			p.Argv = inv.Argv(desc.Interpreter)
		}
		planned = append(planned, p)
	}
	return planned, nil
}
