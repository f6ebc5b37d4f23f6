package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/AbdelazizMoustafa10m/regress/internal/buildinfo"
	"github.com/AbdelazizMoustafa10m/regress/internal/git"
	"github.com/AbdelazizMoustafa10m/regress/internal/pipeline"
)

// RecordFileName is the name of the run record inside a run directory.
const RecordFileName = "run.json"

// ErrNoRuns is returned by Latest when the state directory holds no record.
var ErrNoRuns = errors.New("no recorded runs")

// StageRecord is a stage result together with its artifact checks.
type StageRecord struct {
	pipeline.Result
	Artifacts []Check `json:"artifacts,omitempty"`
}

// Record is the persisted outcome of one `regress run`.
type Record struct {
	RunID          string           `json:"run_id"`
	Project        string           `json:"project,omitempty"`
	Build          buildinfo.Info   `json:"build"`
	Host           string           `json:"host,omitempty"`
	JobID          string           `json:"job_id,omitempty"`
	Revision       *git.Revision    `json:"revision,omitempty"`
	StartedAt      time.Time        `json:"started_at"`
	FinishedAt     time.Time        `json:"finished_at"`
	OnStageFailure string           `json:"on_stage_failure"`
	OnPipelineExit string           `json:"on_pipeline_exit"`
	Stages         []StageRecord    `json:"stages"`
	Summary        pipeline.Summary `json:"summary"`
	ExitStatus     int              `json:"exit_status"`
	Error          string           `json:"error,omitempty"`
}

// MissingArtifacts returns the patterns that matched nothing, by stage.
func (r *Record) MissingArtifacts() map[int][]string {
	missing := make(map[int][]string)
	for _, st := range r.Stages {
		for _, c := range st.Artifacts {
			if !c.Exists {
				missing[st.StageIndex] = append(missing[st.StageIndex], c.Pattern)
			}
		}
	}
	return missing
}

// Store writes records for one run under <stateDir>/<runID>/.
type Store struct {
	RunID   string
	BaseDir string
}

// NewRunID returns a run id that sorts chronologically.
func NewRunID(now time.Time) string {
	return fmt.Sprintf("%s-%d", now.UTC().Format("20060102T150405Z"), os.Getpid())
}

// NewStore creates the run directory.
func NewStore(stateDir, runID string) (*Store, error) {
	base := filepath.Join(stateDir, runID)
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("creating run directory: %w", err)
	}
	return &Store{RunID: runID, BaseDir: base}, nil
}

// Path returns the location of the run record.
func (s *Store) Path() string {
	return filepath.Join(s.BaseDir, RecordFileName)
}

// WriteRecord atomically replaces the run record. It is called after every
// stage so an interrupted job still leaves a readable record behind.
func (s *Store) WriteRecord(rec *Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding run record: %w", err)
	}
	data = append(data, '\n')

	path := s.Path()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing run record: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp) //nolint:errcheck
		return fmt.Errorf("renaming run record to %q: %w", path, err)
	}
	return nil
}

// Load reads a run record from path.
func Load(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading run record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decoding run record %s: %w", path, err)
	}
	return &rec, nil
}

// Latest returns the path of the most recent run record in stateDir.
func Latest(stateDir string) (string, error) {
	entries, err := os.ReadDir(stateDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrNoRuns
		}
		return "", fmt.Errorf("listing runs: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))

	for _, name := range names {
		path := filepath.Join(stateDir, name, RecordFileName)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", ErrNoRuns
}
