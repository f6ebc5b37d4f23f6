// Package batch renders PBS and Slurm job scripts that run the regression
// pipeline, and submits them to the scheduler.
package batch

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/template"
)

// Scheduler names.
const (
	PBS   = "pbs"
	Slurm = "slurm"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var scripts = template.Must(
	template.New("scripts").
		Funcs(template.FuncMap{"quote": Quote}).
		ParseFS(templateFS, "templates/*.tmpl"),
)

// Options describes one job script.
type Options struct {
	Scheduler string
	Shell     string
	JobName   string
	Queue     string
	Walltime  string
	Select    int
	NCPUs     int
	MPIProcs  int
	Model     string
	Rerun     string
	Join      string
	GroupList string
	Account   string
	Partition string
	// SetupCommands run before the pipeline, e.g. "module load python".
	SetupCommands []string
	// WorkDir is where the job changes directory before running.
	WorkDir string
	// Command is the argv the job runs, typically `regress run --batch`.
	Command []string
}

// scriptData is Options plus derived fields, as seen by the templates.
type scriptData struct {
	Options
	CommandLine string
}

// Render writes the job script for opts to w.
func Render(w io.Writer, opts Options) error {
	if err := opts.validate(); err != nil {
		return err
	}
	if opts.Shell == "" {
		opts.Shell = "/bin/bash"
	}
	if opts.Select == 0 {
		opts.Select = 1
	}
	if opts.NCPUs == 0 {
		opts.NCPUs = 1
	}
	if opts.Scheduler == Slurm && opts.Partition == "" {
		opts.Partition = opts.Queue
	}

	data := scriptData{Options: opts, CommandLine: QuoteArgs(opts.Command)}
	var buf bytes.Buffer
	if err := scripts.ExecuteTemplate(&buf, opts.Scheduler+".tmpl", data); err != nil {
		return fmt.Errorf("rendering %s script: %w", opts.Scheduler, err)
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// WriteScript renders the job script into path, creating parent
// directories, and marks it executable.
func WriteScript(path string, opts Options) error {
	var buf bytes.Buffer
	if err := Render(&buf, opts); err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating script directory: %w", err)
		}
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o755); err != nil {
		return fmt.Errorf("writing job script: %w", err)
	}
	return nil
}

func (o Options) validate() error {
	switch o.Scheduler {
	case PBS, Slurm:
	default:
		return fmt.Errorf("unknown scheduler %q", o.Scheduler)
	}
	if o.JobName == "" {
		return errors.New("job name is required")
	}
	if strings.ContainsAny(o.JobName, " \t\n") {
		return fmt.Errorf("job name %q must not contain whitespace", o.JobName)
	}
	if o.Walltime == "" {
		return errors.New("walltime is required")
	}
	if o.WorkDir == "" {
		return errors.New("working directory is required")
	}
	if len(o.Command) == 0 {
		return errors.New("command is required")
	}
	return nil
}

// QuoteArgs joins argv into a single POSIX shell command line.
func QuoteArgs(argv []string) string {
	quoted := make([]string, len(argv))
	for i, a := range argv {
		quoted[i] = Quote(a)
	}
	return strings.Join(quoted, " ")
}

// Quote returns s quoted for a POSIX shell. Strings made only of safe
// characters are returned unchanged.
func Quote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !isShellSafe(r) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func isShellSafe(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	}
	return strings.ContainsRune("-_./=:,+@%", r)
}
