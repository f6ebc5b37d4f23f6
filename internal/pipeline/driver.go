// Package pipeline drives an ordered list of test stages, each under its own
// environment, and applies the halt and exit-status policies.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/AbdelazizMoustafa10m/regress/internal/env"
	"github.com/AbdelazizMoustafa10m/regress/internal/logging"
	"github.com/AbdelazizMoustafa10m/regress/internal/testrunner"
)

// Executor runs one test-runner process.
type Executor interface {
	Exec(ctx context.Context, req testrunner.Request) (testrunner.Outcome, error)
}

// Driver runs stages sequentially. A Driver holds no per-run state and may
// be reused.
type Driver struct {
	activator      env.Activator
	executor       Executor
	policy         FailurePolicy
	interactive    bool
	workDir        string
	logDir         string
	defaultTimeout time.Duration
	baseEnv        []string
	echo           io.Writer
	logger         *log.Logger
	observers      []Observer
}

// Option configures a Driver.
type Option func(*Driver)

// WithFailurePolicy sets the stage failure policy. The default is
// HaltOnFailure.
func WithFailurePolicy(p FailurePolicy) Option {
	return func(d *Driver) { d.policy = p }
}

// WithInteractive marks the run as attended. Only then is a stage's
// debugger request honoured.
func WithInteractive(interactive bool) Option {
	return func(d *Driver) { d.interactive = interactive }
}

// WithWorkDir sets the directory stages run in.
func WithWorkDir(dir string) Option {
	return func(d *Driver) { d.workDir = dir }
}

// WithLogDir writes one log file per stage into dir.
func WithLogDir(dir string) Option {
	return func(d *Driver) { d.logDir = dir }
}

// WithDefaultTimeout bounds stages that do not set their own timeout.
func WithDefaultTimeout(timeout time.Duration) Option {
	return func(d *Driver) { d.defaultTimeout = timeout }
}

// WithBaseEnv sets the environment descriptors are applied to. The default
// is the environment of this process at Run time.
func WithBaseEnv(environ []string) Option {
	return func(d *Driver) { d.baseEnv = append([]string(nil), environ...) }
}

// WithEcho copies stage output to w.
func WithEcho(w io.Writer) Option {
	return func(d *Driver) { d.echo = w }
}

// WithLogger sets the driver logger.
func WithLogger(logger *log.Logger) Option {
	return func(d *Driver) { d.logger = logger }
}

// WithObserver registers fn to receive run events.
func WithObserver(fn Observer) Option {
	return func(d *Driver) { d.observers = append(d.observers, fn) }
}

// NewDriver returns a Driver that activates environments with activator and
// runs stages with executor.
func NewDriver(activator env.Activator, executor Executor, opts ...Option) *Driver {
	d := &Driver{
		activator: activator,
		executor:  executor,
		policy:    HaltOnFailure,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = logging.New("pipeline")
	}
	return d
}

// Run executes stages in order and returns one Result per executed stage.
//
// An empty or malformed stage list yields a *ConfigurationError before any
// process is spawned. A failing stage never produces an error: under
// HaltOnFailure it is marked Halted and the loop stops. The returned error
// is otherwise non-nil only when ctx is cancelled, in which case the results
// gathered so far are returned with it.
func (d *Driver) Run(ctx context.Context, stages []Stage) ([]Result, error) {
	if err := CheckStages(stages); err != nil {
		return nil, err
	}
	if d.policy != HaltOnFailure && d.policy != ContinueOnFailure {
		return nil, &ConfigurationError{StageIndex: -1, Err: fmt.Errorf("unknown stage failure policy %q", d.policy)}
	}

	base := d.baseEnv
	if base == nil {
		base = os.Environ()
	}

	total := len(stages)
	d.emit(Event{Type: EventRunStarted, StageIndex: -1, Total: total})
	d.logger.Info("pipeline started", "stages", total, "on_stage_failure", d.policy)

	results := make([]Result, 0, total)
	for i := range stages {
		st := stages[i]
		if err := ctx.Err(); err != nil {
			return results, fmt.Errorf("pipeline cancelled before %s: %w", st.Label(i), err)
		}

		d.emit(Event{Type: EventStageStarted, StageIndex: i, Total: total, Stage: &st})
		res, err := d.runStage(ctx, i, st, base)
		if err != nil {
			res.Error = fmt.Sprintf("cancelled: %v", context.Cause(ctx))
			results = append(results, res)
			d.emit(Event{Type: EventStageFinished, StageIndex: i, Total: total, Stage: &st, Result: &res})
			d.logger.Warn("pipeline cancelled", "stage", i+1, "skipped", total-i-1)
			return results, fmt.Errorf("pipeline cancelled during %s: %w", st.Label(i), err)
		}

		res.Halted = res.Failed() && d.policy == HaltOnFailure
		results = append(results, res)
		d.emit(Event{Type: EventStageFinished, StageIndex: i, Total: total, Stage: &st, Result: &res})

		logArgs := []any{"stage", i + 1, "name", st.Name, "exit_status", res.ExitStatus, "duration", res.Duration.Round(time.Millisecond)}
		switch {
		case res.Err != nil:
			d.logger.Error("stage failed", append(logArgs, "error", res.Err)...)
		case res.TimedOut:
			d.logger.Warn("stage timed out", logArgs...)
		case res.Failed():
			d.logger.Warn("stage failed", logArgs...)
		default:
			d.logger.Info("stage passed", logArgs...)
		}

		if res.Halted {
			d.logger.Warn("halting pipeline", "stage", i+1, "skipped", total-i-1)
			break
		}
	}

	d.emit(Event{Type: EventRunFinished, StageIndex: -1, Total: total})
	d.logger.Info("pipeline finished", "summary", Summarize(total, results).String())
	return results, nil
}

// CheckStages reports a *ConfigurationError for a stage list that cannot be
// run.
func CheckStages(stages []Stage) error {
	if len(stages) == 0 {
		return &ConfigurationError{StageIndex: -1, Err: ErrNoStages}
	}
	for i, st := range stages {
		if strings.TrimSpace(st.EnvironmentID) == "" {
			return &ConfigurationError{StageIndex: i, Err: errors.New("no environment")}
		}
		if len(st.Command.Command) == 0 {
			return &ConfigurationError{StageIndex: i, Err: errors.New("no test runner command")}
		}
		if st.Timeout < 0 {
			return &ConfigurationError{StageIndex: i, Err: errors.New("negative timeout")}
		}
	}
	return nil
}

// runStage activates the stage environment and runs its command. The error
// is non-nil only for context cancellation.
func (d *Driver) runStage(ctx context.Context, i int, st Stage, base []string) (Result, error) {
	res := Result{
		StageIndex:    i,
		Name:          st.Name,
		EnvironmentID: st.EnvironmentID,
	}

	d.logger.Info("activating environment", "stage", i+1, "environment", st.EnvironmentID)
	desc, err := d.activator.Activate(ctx, st.EnvironmentID)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			res.ExitStatus = -1
			return res, ctxErr
		}
		res.ExitStatus = -1
		res.Err = &EnvironmentActivationError{EnvironmentID: st.EnvironmentID, Err: err}
		res.Error = res.Err.Error()
		return res, nil
	}

	inv := st.Command
	inv.Debugger = inv.Debugger && d.interactive
	res.Argv = inv.Argv(desc.Interpreter)

	timeout := st.Timeout
	if timeout == 0 {
		timeout = d.defaultTimeout
	}
	if d.logDir != "" {
		res.LogFile = filepath.Join(d.logDir, StageLogName(i, st))
	}

	out, err := d.executor.Exec(ctx, testrunner.Request{
		Name:        st.Label(i),
		Argv:        res.Argv,
		Env:         desc.Environ(base),
		Dir:         d.workDir,
		Timeout:     timeout,
		LogFile:     res.LogFile,
		Echo:        d.echo,
		Interactive: inv.Debugger,
	})
	res.ExitStatus = out.ExitStatus
	res.TimedOut = out.TimedOut
	res.Duration = out.Duration
	if err != nil {
		return res, err
	}
	if out.StartErr != nil {
		res.Err = &StartError{Argv: res.Argv, Err: out.StartErr}
		res.Error = res.Err.Error()
	}
	if out.TimedOut && res.Error == "" {
		res.Error = fmt.Sprintf("timed out after %s", timeout)
	}
	return res, nil
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// StageLogName returns the log file name used for stage i.
func StageLogName(i int, st Stage) string {
	name := st.Name
	if name == "" {
		name = st.EnvironmentID
	}
	name = strings.Trim(unsafeChars.ReplaceAllString(name, "-"), "-")
	if name == "" {
		return fmt.Sprintf("stage-%02d.log", i+1)
	}
	return fmt.Sprintf("stage-%02d-%s.log", i+1, name)
}

func (d *Driver) emit(ev Event) {
	if len(d.observers) == 0 {
		return
	}
	ev.Timestamp = time.Now()
	for _, fn := range d.observers {
		fn(ev)
	}
}
