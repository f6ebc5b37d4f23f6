package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AbdelazizMoustafa10m/regress/internal/env"
	"github.com/AbdelazizMoustafa10m/regress/internal/exitcodes"
	"github.com/AbdelazizMoustafa10m/regress/internal/logging"
	"github.com/AbdelazizMoustafa10m/regress/internal/testrunner"
)

// fakeExecutor returns scripted exit statuses in call order and records
// every request it receives.
type fakeExecutor struct {
	mu       sync.Mutex
	statuses []int
	requests []testrunner.Request
	hook     func(ctx context.Context, req testrunner.Request) (testrunner.Outcome, error)
}

func (f *fakeExecutor) Exec(ctx context.Context, req testrunner.Request) (testrunner.Outcome, error) {
	f.mu.Lock()
	n := len(f.requests)
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if f.hook != nil {
		return f.hook(ctx, req)
	}
	status := 0
	if n < len(f.statuses) {
		status = f.statuses[n]
	}
	return testrunner.Outcome{ExitStatus: status, Duration: time.Millisecond}, nil
}

func (f *fakeExecutor) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// fakeActivator serves descriptors from a map and fails for ids listed in
// broken.
type fakeActivator struct {
	broken map[string]error
}

func (a fakeActivator) Activate(_ context.Context, id string) (env.Descriptor, error) {
	if err, ok := a.broken[id]; ok {
		return env.Descriptor{}, err
	}
	return env.Descriptor{ID: id, Interpreter: "python-" + id}, nil
}

func pytestStage(name, envID string) Stage {
	return Stage{
		Name:          name,
		EnvironmentID: envID,
		Command: testrunner.Invocation{
			Command:      []string{testrunner.InterpreterPlaceholder, "-m", "pytest"},
			Target:       []string{"test"},
			JUnitXML:     "reports/" + name + ".xml",
			CovTarget:    "cape",
			CovReportDir: "reports/" + name + "-cov",
			Flags:        testrunner.PytestFlags,
		},
	}
}

func threeStages() []Stage {
	return []Stage{
		pytestStage("A", "py2"),
		pytestStage("B", "py3"),
		pytestStage("C", "py3"),
	}
}

func newTestDriver(exec Executor, opts ...Option) *Driver {
	opts = append([]Option{WithLogger(logging.Discard()), WithBaseEnv([]string{"PATH=/usr/bin"})}, opts...)
	return NewDriver(fakeActivator{}, exec, opts...)
}

func TestRun_HaltsAfterFailingStage(t *testing.T) {
	t.Parallel()
	exec := &fakeExecutor{statuses: []int{0, 1, 0}}
	d := newTestDriver(exec)

	results, err := d.Run(context.Background(), threeStages())
	require.NoError(t, err)

	require.Len(t, results, 2)
	assert.Equal(t, 0, results[0].StageIndex)
	assert.Equal(t, 0, results[0].ExitStatus)
	assert.False(t, results[0].Halted)
	assert.Equal(t, 1, results[1].StageIndex)
	assert.Equal(t, 1, results[1].ExitStatus)
	assert.True(t, results[1].Halted)
	assert.Equal(t, 2, exec.calls(), "stage C must not be spawned")

	assert.Equal(t, exitcodes.Success, ExitStatus(results, AlwaysSuccess))
	assert.Equal(t, exitcodes.TestFailure, ExitStatus(results, ReflectWorstStage))
}

func TestRun_HaltPointIsIdempotent(t *testing.T) {
	t.Parallel()
	var first []Result
	for i := 0; i < 3; i++ {
		results, err := newTestDriver(&fakeExecutor{statuses: []int{0, 2, 0}}).Run(context.Background(), threeStages())
		require.NoError(t, err)
		if first == nil {
			first = results
			continue
		}
		require.Len(t, results, len(first))
		for j := range results {
			assert.Equal(t, first[j].StageIndex, results[j].StageIndex)
			assert.Equal(t, first[j].Halted, results[j].Halted)
		}
	}
}

func TestRun_ContinuePolicyRunsEverything(t *testing.T) {
	t.Parallel()
	exec := &fakeExecutor{statuses: []int{3, 1, 0}}
	d := newTestDriver(exec, WithFailurePolicy(ContinueOnFailure))

	results, err := d.Run(context.Background(), threeStages())
	require.NoError(t, err)

	require.Len(t, results, 3)
	for _, r := range results {
		assert.False(t, r.Halted)
	}
	assert.Equal(t, []int{3, 1, 0}, []int{results[0].ExitStatus, results[1].ExitStatus, results[2].ExitStatus})
	assert.Equal(t, exitcodes.Success, ExitStatus(results, AlwaysSuccess))
	assert.Equal(t, exitcodes.TestFailure, ExitStatus(results, ReflectWorstStage))
}

func TestRun_AllPass(t *testing.T) {
	t.Parallel()
	exec := &fakeExecutor{}
	results, err := newTestDriver(exec).Run(context.Background(), threeStages())
	require.NoError(t, err)

	require.Len(t, results, 3)
	assert.Equal(t, exitcodes.Success, ExitStatus(results, ReflectWorstStage))
	s := Summarize(3, results)
	assert.Equal(t, Summary{Total: 3, Executed: 3, Passed: 3, HaltedAt: -1}, s)
}

func TestRun_PreservesOrder(t *testing.T) {
	t.Parallel()
	exec := &fakeExecutor{}
	stages := []Stage{pytestStage("z", "e1"), pytestStage("a", "e2"), pytestStage("m", "e3")}

	_, err := newTestDriver(exec).Run(context.Background(), stages)
	require.NoError(t, err)

	require.Len(t, exec.requests, 3)
	assert.Equal(t, "stage 1 (z)", exec.requests[0].Name)
	assert.Equal(t, "stage 2 (a)", exec.requests[1].Name)
	assert.Equal(t, "stage 3 (m)", exec.requests[2].Name)
}

func TestRun_EmptyStagesIsConfigurationError(t *testing.T) {
	t.Parallel()
	exec := &fakeExecutor{}
	var events []Event
	d := newTestDriver(exec, WithObserver(func(ev Event) { events = append(events, ev) }))

	results, err := d.Run(context.Background(), nil)
	require.Error(t, err)

	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.ErrorIs(t, err, ErrNoStages)
	assert.Nil(t, results)
	assert.Zero(t, exec.calls())
	assert.Empty(t, events)
}

func TestRun_MalformedStageIsConfigurationError(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*Stage)
	}{
		{name: "no environment", mutate: func(s *Stage) { s.EnvironmentID = " " }},
		{name: "no command", mutate: func(s *Stage) { s.Command.Command = nil }},
		{name: "negative timeout", mutate: func(s *Stage) { s.Timeout = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			stages := threeStages()
			tt.mutate(&stages[2])
			exec := &fakeExecutor{}

			_, err := newTestDriver(exec).Run(context.Background(), stages)
			var cfgErr *ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, 2, cfgErr.StageIndex)
			assert.Zero(t, exec.calls(), "no stage runs when any stage is malformed")
		})
	}
}

func TestRun_UnknownFailurePolicy(t *testing.T) {
	t.Parallel()
	exec := &fakeExecutor{}
	_, err := newTestDriver(exec, WithFailurePolicy("retry")).Run(context.Background(), threeStages())
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Zero(t, exec.calls())
}

func TestRun_ActivationFailureHalts(t *testing.T) {
	t.Parallel()
	boom := errors.New("module: python/9.9 not found")
	exec := &fakeExecutor{}
	d := NewDriver(fakeActivator{broken: map[string]error{"py3": boom}}, exec, WithLogger(logging.Discard()))

	results, err := d.Run(context.Background(), threeStages())
	require.NoError(t, err)

	require.Len(t, results, 2)
	assert.Equal(t, -1, results[1].ExitStatus)
	assert.True(t, results[1].Halted)
	var actErr *EnvironmentActivationError
	require.ErrorAs(t, results[1].Err, &actErr)
	assert.Equal(t, "py3", actErr.EnvironmentID)
	assert.ErrorIs(t, results[1].Err, boom)
	assert.Contains(t, results[1].Error, "py3")
	assert.Equal(t, 1, exec.calls(), "only stage A reaches the runner")
	assert.Equal(t, exitcodes.Success, ExitStatus(results, AlwaysSuccess))
}

func TestRun_ActivationFailureContinues(t *testing.T) {
	t.Parallel()
	exec := &fakeExecutor{}
	d := NewDriver(fakeActivator{broken: map[string]error{"py2": env.ErrUnknownEnvironment}}, exec,
		WithLogger(logging.Discard()), WithFailurePolicy(ContinueOnFailure))

	results, err := d.Run(context.Background(), threeStages())
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.ErrorIs(t, results[0].Err, env.ErrUnknownEnvironment)
	assert.Equal(t, 2, exec.calls())
}

func TestRun_DebuggerOnlyWhenInteractive(t *testing.T) {
	t.Parallel()
	stage := pytestStage("A", "py3")
	stage.Command.Debugger = true

	for _, interactive := range []bool{false, true} {
		exec := &fakeExecutor{}
		_, err := newTestDriver(exec, WithInteractive(interactive)).Run(context.Background(), []Stage{stage})
		require.NoError(t, err)

		require.Len(t, exec.requests, 1)
		req := exec.requests[0]
		if interactive {
			assert.Contains(t, req.Argv, "--pdb")
			assert.True(t, req.Interactive)
		} else {
			assert.NotContains(t, req.Argv, "--pdb")
			assert.False(t, req.Interactive)
		}
	}
}

func TestRun_BuildsRequest(t *testing.T) {
	t.Parallel()
	logDir := t.TempDir()
	exec := &fakeExecutor{}
	stages := []Stage{pytestStage("A", "py2"), pytestStage("B", "py3")}
	stages[1].Timeout = 5 * time.Minute

	d := newTestDriver(exec,
		WithWorkDir("/work"),
		WithLogDir(logDir),
		WithDefaultTimeout(time.Hour),
	)
	results, err := d.Run(context.Background(), stages)
	require.NoError(t, err)
	require.Len(t, exec.requests, 2)

	first := exec.requests[0]
	assert.Equal(t, []string{
		"python-py2", "-m", "pytest",
		"--junitxml=reports/A.xml", "--cov=cape", "--cov-report=html:reports/A-cov",
		"test",
	}, first.Argv)
	assert.Equal(t, "/work", first.Dir)
	assert.Equal(t, time.Hour, first.Timeout)
	assert.Equal(t, filepath.Join(logDir, "stage-01-A.log"), first.LogFile)
	assert.Contains(t, first.Env, "PATH=/usr/bin")
	assert.Contains(t, first.Env, env.IDVar+"=py2")

	assert.Equal(t, 5*time.Minute, exec.requests[1].Timeout)
	assert.Contains(t, exec.requests[1].Env, env.IDVar+"=py3")
	assert.Equal(t, first.Argv, results[0].Argv)
	assert.Equal(t, first.LogFile, results[0].LogFile)
}

func TestRun_DoesNotMutateProcessEnvironment(t *testing.T) {
	// Not parallel: inspects the process environment.
	before := os.Environ()
	exec := &fakeExecutor{}
	d := NewDriver(fakeActivator{}, exec, WithLogger(logging.Discard()))

	_, err := d.Run(context.Background(), threeStages())
	require.NoError(t, err)

	assert.Equal(t, before, os.Environ())
	_, set := os.LookupEnv(env.IDVar)
	assert.False(t, set)
}

func TestRun_TimeoutRecorded(t *testing.T) {
	t.Parallel()
	exec := &fakeExecutor{hook: func(_ context.Context, req testrunner.Request) (testrunner.Outcome, error) {
		return testrunner.Outcome{ExitStatus: -1, TimedOut: true, Duration: req.Timeout}, nil
	}}
	stages := threeStages()
	stages[0].Timeout = time.Second

	results, err := newTestDriver(exec).Run(context.Background(), stages)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].TimedOut)
	assert.True(t, results[0].Halted)
	assert.Equal(t, -1, results[0].ExitStatus)
	assert.Contains(t, results[0].Error, "timed out")
}

func TestRun_StartErrorRecorded(t *testing.T) {
	t.Parallel()
	notFound := errors.New("executable file not found in $PATH")
	exec := &fakeExecutor{hook: func(context.Context, testrunner.Request) (testrunner.Outcome, error) {
		return testrunner.Outcome{ExitStatus: -1, StartErr: notFound}, nil
	}}

	results, err := newTestDriver(exec).Run(context.Background(), threeStages())
	require.NoError(t, err)
	require.Len(t, results, 1)
	var startErr *StartError
	require.ErrorAs(t, results[0].Err, &startErr)
	assert.ErrorIs(t, results[0].Err, notFound)
	assert.True(t, results[0].Halted)
}

func TestRun_CancelledMidStage(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	exec := &fakeExecutor{hook: func(ctx context.Context, req testrunner.Request) (testrunner.Outcome, error) {
		cancel()
		return testrunner.Outcome{ExitStatus: -1}, ctx.Err()
	}}

	var finished []Result
	observer := func(ev Event) {
		if ev.Type == EventStageFinished {
			finished = append(finished, *ev.Result)
		}
	}

	results, err := newTestDriver(exec, WithObserver(observer)).Run(ctx, threeStages())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, results, 1)
	assert.Equal(t, 1, exec.calls())
	assert.Equal(t, -1, results[0].ExitStatus)
	assert.False(t, results[0].Halted)
	assert.Equal(t, "cancelled: context canceled", results[0].Error)
	assert.Equal(t, results, finished, "the interrupted stage is reported to observers")
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	exec := &fakeExecutor{}

	results, err := newTestDriver(exec).Run(ctx, threeStages())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, results)
	assert.Zero(t, exec.calls())
}

func TestRun_SinglePassingStageProducesArtifacts(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	stage := pytestStage("only", "py3")
	stage.Command.JUnitXML = filepath.Join(dir, "junit.xml")
	stage.Command.CovReportDir = filepath.Join(dir, "htmlcov")

	// Stands in for pytest: writes both reports and exits 0.
	exec := &fakeExecutor{hook: func(_ context.Context, req testrunner.Request) (testrunner.Outcome, error) {
		if err := os.WriteFile(stage.Command.JUnitXML, []byte("<testsuite/>"), 0o644); err != nil {
			return testrunner.Outcome{}, err
		}
		if err := os.MkdirAll(stage.Command.CovReportDir, 0o755); err != nil {
			return testrunner.Outcome{}, err
		}
		return testrunner.Outcome{ExitStatus: 0}, nil
	}}

	results, err := newTestDriver(exec).Run(context.Background(), []Stage{stage})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 0, results[0].ExitStatus)
	assert.False(t, results[0].Halted)
	require.Len(t, stage.Artifacts(), 2)
	for _, p := range stage.Artifacts() {
		_, statErr := os.Stat(p)
		assert.NoError(t, statErr, p)
	}
}

func TestRun_ObserverEvents(t *testing.T) {
	t.Parallel()
	var types []EventType
	var finished []int
	exec := &fakeExecutor{statuses: []int{0, 5}}
	d := newTestDriver(exec, WithObserver(func(ev Event) {
		types = append(types, ev.Type)
		assert.Equal(t, 3, ev.Total)
		assert.False(t, ev.Timestamp.IsZero())
		if ev.Type == EventStageFinished {
			require.NotNil(t, ev.Result)
			finished = append(finished, ev.Result.ExitStatus)
		}
	}))

	_, err := d.Run(context.Background(), threeStages())
	require.NoError(t, err)

	assert.Equal(t, []EventType{
		EventRunStarted,
		EventStageStarted, EventStageFinished,
		EventStageStarted, EventStageFinished,
		EventRunFinished,
	}, types)
	assert.Equal(t, []int{0, 5}, finished)
}

func TestStageLogName(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "stage-01-py3.log", StageLogName(0, Stage{EnvironmentID: "py3"}))
	assert.Equal(t, "stage-02-unit-tests.log", StageLogName(1, Stage{Name: "unit tests!"}))
	assert.Equal(t, "stage-10.log", StageLogName(9, Stage{Name: "///"}))
}
