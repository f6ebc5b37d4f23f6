package testrunner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/AbdelazizMoustafa10m/regress/internal/logging"
)

// maxLineBytes is the longest single output line the executor forwards in
// one piece. Longer lines are split into maxLineBytes chunks.
const maxLineBytes = 1024 * 1024

// Request describes one child process to run.
type Request struct {
	// Name identifies the stage in log lines.
	Name string
	Argv []string
	// Env is the complete environment of the child. A nil Env gives the
	// child an empty environment, not the parent's.
	Env []string
	Dir string
	// Timeout bounds the run; zero means no limit.
	Timeout time.Duration
	// LogFile, when set, receives a copy of all output.
	LogFile string
	// Echo, when non-nil, receives a copy of all output.
	Echo io.Writer
	// Interactive connects the child to the terminal's stdin and keeps it in
	// the foreground process group so a debugger can prompt.
	Interactive bool
}

// Outcome is the terminal state of a run.
type Outcome struct {
	// ExitStatus is the raw exit status. It is -1 when the process could not
	// be started, was killed by a signal, or timed out.
	ExitStatus int
	TimedOut   bool
	Duration   time.Duration
	// StartErr is set when the process never started (binary not found,
	// log file could not be created).
	StartErr error
}

// Executor runs test-runner processes.
type Executor struct {
	logger *log.Logger
}

// NewExecutor returns an Executor that logs through logger. A nil logger
// uses the "stage" component logger.
func NewExecutor(logger *log.Logger) *Executor {
	if logger == nil {
		logger = logging.New("stage")
	}
	return &Executor{logger: logger}
}

// Exec runs the request to completion and reports its outcome.
//
// Exec returns a non-nil error only when ctx is cancelled; a non-zero exit
// status, a timeout, or a failure to start is reported in the Outcome.
func (e *Executor) Exec(ctx context.Context, req Request) (Outcome, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return Outcome{ExitStatus: -1}, err
	}
	if len(req.Argv) == 0 {
		return Outcome{ExitStatus: -1, StartErr: errors.New("empty command")}, nil
	}

	bin, err := resolveBinary(req.Argv[0], req.Env)
	if err != nil {
		e.logger.Error("cannot start stage", "stage", req.Name, "error", err)
		return Outcome{ExitStatus: -1, StartErr: err, Duration: time.Since(start)}, nil
	}

	echo := req.Echo
	if req.Interactive && echo == nil {
		echo = os.Stdout
	}
	sink, err := newLineSink(req.LogFile, echo)
	if err != nil {
		return Outcome{ExitStatus: -1, StartErr: err, Duration: time.Since(start)}, nil
	}
	defer sink.Close()

	execCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(execCtx, bin, req.Argv[1:]...)
	cmd.Args[0] = req.Argv[0]
	cmd.Env = req.Env
	if cmd.Env == nil {
		cmd.Env = []string{}
	}
	cmd.Dir = req.Dir

	e.logger.Info("starting stage", "stage", req.Name, "argv", req.Argv, "dir", req.Dir)

	if req.Interactive {
		cmd.Stdin = os.Stdin
		cmd.Stdout = sink.Writer()
		cmd.Stderr = sink.Writer()
		cmd.WaitDelay = waitDelay
		err = cmd.Run()
	} else {
		setProcGroup(cmd)
		err = e.runStreaming(cmd, sink, req.Name)
	}

	out := Outcome{Duration: time.Since(start)}

	if ctxErr := ctx.Err(); ctxErr != nil {
		out.ExitStatus = -1
		return out, fmt.Errorf("%s: %w", req.Name, ctxErr)
	}
	if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
		e.logger.Warn("stage timed out", "stage", req.Name, "timeout", req.Timeout)
		out.ExitStatus = -1
		out.TimedOut = true
		return out, nil
	}

	out.ExitStatus = exitStatus(cmd, err)
	if out.ExitStatus == -1 && cmd.ProcessState == nil {
		out.StartErr = err
		e.logger.Error("cannot start stage", "stage", req.Name, "error", err)
	}
	return out, nil
}

// runStreaming starts cmd with its stdout and stderr drained concurrently,
// line by line, into sink and waits for it to exit.
func (e *Executor) runStreaming(cmd *exec.Cmd, sink *lineSink, name string) error {
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return err
	}

	var g errgroup.Group
	g.Go(func() error { return sink.drain(stdout, e.logger, name, "stdout") })
	g.Go(func() error { return sink.drain(stderr, e.logger, name, "stderr") })
	drainErr := g.Wait()

	waitErr := cmd.Wait()
	if waitErr != nil {
		return waitErr
	}
	if drainErr != nil {
		e.logger.Warn("stage output truncated", "stage", name, "error", drainErr)
	}
	return nil
}

// exitStatus extracts the raw exit status from the result of Run or Wait.
func exitStatus(cmd *exec.Cmd, err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	return -1
}

// lineSink fans child output out to a log file and an echo writer. Writes
// from the stdout and stderr drains are serialized so lines never interleave
// mid-line.
type lineSink struct {
	mu   sync.Mutex
	file *os.File
	out  io.Writer
}

func newLineSink(logFile string, echo io.Writer) (*lineSink, error) {
	s := &lineSink{}
	var writers []io.Writer
	if logFile != "" {
		if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
			return nil, fmt.Errorf("creating log directory: %w", err)
		}
		f, err := os.Create(logFile)
		if err != nil {
			return nil, fmt.Errorf("creating stage log: %w", err)
		}
		s.file = f
		writers = append(writers, f)
	}
	if echo != nil {
		writers = append(writers, echo)
	}
	s.out = io.MultiWriter(writers...)
	return s, nil
}

// Writer returns a goroutine-safe writer into the sink.
func (s *lineSink) Writer() io.Writer {
	return writerFunc(func(p []byte) (int, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.out.Write(p)
	})
}

func (s *lineSink) drain(r io.Reader, logger *log.Logger, name, stream string) error {
	br := bufio.NewReaderSize(r, 64*1024)
	w := s.Writer()
	emit := func(line []byte) error {
		logger.Debug(string(line), "stage", name, "stream", stream)
		_, err := w.Write(append(line, '\n'))
		return err
	}

	var line []byte
	split := false
	for {
		chunk, isPrefix, err := br.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				if len(line) > 0 {
					return emit(line)
				}
				return nil
			}
			return err
		}
		line = append(line, chunk...)
		for len(line) >= maxLineBytes {
			if err := emit(line[:maxLineBytes:maxLineBytes]); err != nil {
				return discard(br, err)
			}
			line = line[maxLineBytes:]
			split = true
		}
		if isPrefix {
			continue
		}
		if len(line) > 0 || !split {
			if err := emit(line); err != nil {
				return discard(br, err)
			}
		}
		line, split = nil, false
	}
}

// discard drains r so the child never blocks on a full pipe, then returns err.
func discard(r io.Reader, err error) error {
	_, _ = io.Copy(io.Discard, r)
	return err
}

func (s *lineSink) Close() error {
	if s.file == nil {
		return nil
	}
	return s.file.Close()
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }
