package batch

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/AbdelazizMoustafa10m/regress/internal/logging"
)

// ErrNoJobID is returned when scheduler output carries no job number.
var ErrNoJobID = errors.New("no job id in scheduler output")

// CommandRunner runs a scheduler command and returns its stdout.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Job is one line of queue status.
type Job struct {
	ID    int
	User  string
	Queue string
	Name  string
	State string
}

// Submitter talks to one scheduler's command-line tools.
type Submitter struct {
	scheduler string
	run       CommandRunner
	logger    *log.Logger
}

// SubmitterOption configures a Submitter.
type SubmitterOption func(*Submitter)

// WithRunner replaces the function used to invoke qsub, sbatch and friends.
func WithRunner(run CommandRunner) SubmitterOption {
	return func(s *Submitter) { s.run = run }
}

// WithSubmitLogger sets the logger.
func WithSubmitLogger(l *log.Logger) SubmitterOption {
	return func(s *Submitter) { s.logger = l }
}

// NewSubmitter returns a Submitter for scheduler ("pbs" or "slurm").
func NewSubmitter(scheduler string, opts ...SubmitterOption) (*Submitter, error) {
	switch scheduler {
	case PBS, Slurm:
	default:
		return nil, fmt.Errorf("unknown scheduler %q", scheduler)
	}
	s := &Submitter{
		scheduler: scheduler,
		run:       execRunner,
		logger:    logging.New("batch"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Submit queues the script and returns the job number.
func (s *Submitter) Submit(ctx context.Context, script string) (int, error) {
	tool, parse := "qsub", ParseQsubID
	if s.scheduler == Slurm {
		tool, parse = "sbatch", ParseSbatchID
	}

	out, err := s.run(ctx, tool, script)
	if err != nil {
		return 0, fmt.Errorf("submitting %s with %s: %w", script, tool, err)
	}
	id, err := parse(out)
	if err != nil {
		return 0, fmt.Errorf("submitting %s with %s: %w", script, tool, err)
	}
	s.logger.Info("job submitted", "scheduler", s.scheduler, "job_id", id, "script", script)
	return id, nil
}

// Cancel removes a job from the queue.
func (s *Submitter) Cancel(ctx context.Context, id int) error {
	tool := "qdel"
	if s.scheduler == Slurm {
		tool = "scancel"
	}
	if _, err := s.run(ctx, tool, strconv.Itoa(id)); err != nil {
		return fmt.Errorf("cancelling job %d with %s: %w", id, tool, err)
	}
	s.logger.Info("job cancelled", "scheduler", s.scheduler, "job_id", id)
	return nil
}

// Status looks job id up in the user's queue listing. The bool is false when
// the job is no longer queued.
func (s *Submitter) Status(ctx context.Context, id int, user string) (Job, bool, error) {
	tool, parse := "qstat", ParseQstat
	if s.scheduler == Slurm {
		tool, parse = "squeue", ParseSqueue
	}
	out, err := s.run(ctx, tool, "-u", user)
	if err != nil {
		return Job{}, false, fmt.Errorf("listing jobs with %s: %w", tool, err)
	}
	job, ok := parse(out)[id]
	return job, ok, nil
}

// ParseQsubID extracts the job number from qsub output such as
// "12345.pbspl1.nas.nasa.gov".
func ParseQsubID(out []byte) (int, error) {
	txt := strings.TrimSpace(string(out))
	head, _, _ := strings.Cut(txt, ".")
	id, err := strconv.Atoi(strings.TrimSpace(head))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrNoJobID, txt)
	}
	return id, nil
}

// ParseSbatchID extracts the job number from sbatch output such as
// "Submitted batch job 4242".
func ParseSbatchID(out []byte) (int, error) {
	fields := strings.Fields(string(out))
	if len(fields) == 0 {
		return 0, fmt.Errorf("%w: empty output", ErrNoJobID)
	}
	id, err := strconv.Atoi(fields[len(fields)-1])
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrNoJobID, strings.TrimSpace(string(out)))
	}
	return id, nil
}

var leadingDigit = regexp.MustCompile(`^[0-9]`)

// ParseQstat reads `qstat -u` output. Columns: id, user, queue, name, then
// the state in the eighth column.
func ParseQstat(out []byte) map[int]Job {
	return parseListing(out, func(v []string) (Job, bool) {
		if len(v) < 8 {
			return Job{}, false
		}
		return Job{User: v[1], Queue: v[2], Name: v[3], State: v[7]}, true
	})
}

// ParseSqueue reads `squeue -u` output. Columns: id, partition, name, user,
// state.
func ParseSqueue(out []byte) map[int]Job {
	return parseListing(out, func(v []string) (Job, bool) {
		if len(v) < 5 {
			return Job{}, false
		}
		return Job{Queue: v[1], Name: v[2], User: v[3], State: v[4]}, true
	})
}

func parseListing(out []byte, columns func([]string) (Job, bool)) map[int]Job {
	jobs := make(map[int]Job)
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !leadingDigit.MatchString(line) {
			continue
		}
		v := strings.Fields(line)
		head, _, _ := strings.Cut(v[0], ".")
		id, err := strconv.Atoi(head)
		if err != nil {
			continue
		}
		job, ok := columns(v)
		if !ok {
			continue
		}
		job.ID = id
		jobs[id] = job
	}
	return jobs
}

// WriteJobID records the job number in path.
func WriteJobID(path string, id int) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating job id directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(id)+"\n"), 0o644); err != nil {
		return fmt.Errorf("writing job id: %w", err)
	}
	return nil
}

// ReadJobID reads the job number from the first field of path.
func ReadJobID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading job id: %w", err)
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0, fmt.Errorf("reading job id from %s: %w", path, ErrNoJobID)
	}
	id, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, fmt.Errorf("reading job id from %s: %w", path, ErrNoJobID)
	}
	return id, nil
}

// JobIDFromEnv returns the id of the job this process runs in, if any.
func JobIDFromEnv() string {
	for _, key := range []string{"PBS_JOBID", "SLURM_JOB_ID"} {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return ""
}

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return out, fmt.Errorf("%w: %s", err, msg)
		}
		return out, err
	}
	return out, nil
}
