package env

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/AbdelazizMoustafa10m/regress/internal/logging"
)

// ErrUnknownEnvironment is returned when an environment id has no definition.
var ErrUnknownEnvironment = errors.New("unknown environment")

// Activator resolves an environment id into a Descriptor.
type Activator interface {
	Activate(ctx context.Context, id string) (Descriptor, error)
}

// Definition is the configured shape of one environment.
type Definition struct {
	Interpreter string
	PathPrepend []string
	Vars        map[string]string
	Unset       []string
	// Activate is a shell snippet whose resulting environment becomes the
	// descriptor's Base, e.g. "module load python/3.9".
	Activate string
}

// CaptureFunc runs an activation snippet and returns the environment it
// leaves behind in KEY=VALUE form.
type CaptureFunc func(ctx context.Context, snippet string) ([]string, error)

// Table is an Activator backed by a fixed set of definitions. Snippet
// captures are performed once per id and reused.
type Table struct {
	defs    map[string]Definition
	capture CaptureFunc
	logger  *log.Logger

	mu       sync.Mutex
	captured map[string][]string
}

// TableOption configures a Table.
type TableOption func(*Table)

// WithCapture replaces the function used to evaluate activation snippets.
func WithCapture(fn CaptureFunc) TableOption {
	return func(t *Table) { t.capture = fn }
}

// WithShell evaluates activation snippets with the given shell.
func WithShell(shell string) TableOption {
	return func(t *Table) { t.capture = ShellCapture(shell) }
}

// WithLogger sets the logger used for activation messages.
func WithLogger(l *log.Logger) TableOption {
	return func(t *Table) { t.logger = l }
}

// NewTable returns a Table serving the given definitions. The map is copied.
func NewTable(defs map[string]Definition, opts ...TableOption) *Table {
	t := &Table{
		defs:     make(map[string]Definition, len(defs)),
		capture:  ShellCapture("/bin/sh"),
		logger:   logging.New("env"),
		captured: make(map[string][]string),
	}
	for id, d := range defs {
		t.defs[id] = d
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// IDs returns the ids the table knows about.
func (t *Table) IDs() []string {
	ids := make([]string, 0, len(t.defs))
	for id := range t.defs {
		ids = append(ids, id)
	}
	return ids
}

// Activate implements Activator.
func (t *Table) Activate(ctx context.Context, id string) (Descriptor, error) {
	def, ok := t.defs[id]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrUnknownEnvironment, id)
	}

	d := Descriptor{
		ID:          id,
		Interpreter: def.Interpreter,
		PathPrepend: def.PathPrepend,
		Vars:        def.Vars,
		Unset:       def.Unset,
	}

	if strings.TrimSpace(def.Activate) != "" {
		base, err := t.captureOnce(ctx, id, def.Activate)
		if err != nil {
			return Descriptor{}, fmt.Errorf("activating %q: %w", id, err)
		}
		d.Base = base
	}

	t.logger.Debug("environment activated", "id", id, "interpreter", d.Interpreter, "captured", d.Base != nil)
	return d.clone(), nil
}

func (t *Table) captureOnce(ctx context.Context, id, snippet string) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if base, ok := t.captured[id]; ok {
		return base, nil
	}
	t.logger.Info("running activation snippet", "id", id, "snippet", snippet)
	base, err := t.capture(ctx, snippet)
	if err != nil {
		return nil, err
	}
	t.captured[id] = base
	return base, nil
}

// ShellCapture returns a CaptureFunc that evaluates the snippet with
// `shell -c` in a child process and dumps the resulting environment with
// `env -0`. Anything the snippet prints goes to stderr of the child and is
// included in the error on failure.
func ShellCapture(shell string) CaptureFunc {
	return func(ctx context.Context, snippet string) ([]string, error) {
		script := "{ " + snippet + "\n} 1>&2 && env -0"
		cmd := exec.CommandContext(ctx, shell, "-c", script)
		cmd.Env = os.Environ()

		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		if err := cmd.Run(); err != nil {
			msg := strings.TrimSpace(stderr.String())
			if msg != "" {
				return nil, fmt.Errorf("snippet %q failed: %w: %s", snippet, err, msg)
			}
			return nil, fmt.Errorf("snippet %q failed: %w", snippet, err)
		}
		return ParseEnviron(stdout.Bytes()), nil
	}
}

// ParseEnviron splits the output of `env -0` (or plain `env` when no NUL
// separators are present) into KEY=VALUE entries.
func ParseEnviron(data []byte) []string {
	sep := []byte{0}
	if !bytes.Contains(data, sep) {
		sep = []byte{'\n'}
	}
	var out []string
	for _, field := range bytes.Split(data, sep) {
		entry := string(field)
		if entry == "" || !strings.Contains(entry, "=") {
			continue
		}
		out = append(out, entry)
	}
	return out
}
