// Package logging provides regress's logging infrastructure built on
// charmbracelet/log.
//
// All log output goes to stderr. Under a batch scheduler stderr is usually
// captured into the job's error file, so stdout stays reserved for stage output
// echo and structured command output (plan tables, JSON).
//
// Usage:
//
//	// During CLI initialization (PersistentPreRunE):
//	logging.Setup(logging.Options{Verbose: verbose, Timestamps: true})
//
//	// In each package:
//	logger := logging.New("pipeline")
//	logger.Info("stage finished", "stage", 1, "exit_status", 0)
//
// Setup must be called before New: charmbracelet/log copies the default
// logger's state into a child at creation time.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
)

// Level aliases so consumers do not need to import charmbracelet/log.
const (
	LevelDebug = log.DebugLevel
	LevelInfo  = log.InfoLevel
	LevelWarn  = log.WarnLevel
	LevelError = log.ErrorLevel
)

// timeFormat is used when timestamps are enabled. Batch job logs are read
// long after the fact, so the date is always included.
const timeFormat = time.DateTime

// Options configures the global logger.
type Options struct {
	// Verbose sets the level to Debug.
	Verbose bool
	// Quiet sets the level to Error. Quiet wins over Verbose.
	Quiet bool
	// JSON switches to the NDJSON formatter for log aggregation.
	JSON bool
	// Timestamps prefixes every line with the wall-clock time.
	Timestamps bool
}

// Setup configures the global logging defaults. Call once during CLI
// initialization.
func Setup(opts Options) {
	level := log.InfoLevel
	if opts.Verbose {
		level = log.DebugLevel
	}
	if opts.Quiet {
		level = log.ErrorLevel
	}

	log.SetLevel(level)
	log.SetOutput(os.Stderr)
	log.SetReportTimestamp(opts.Timestamps)
	log.SetTimeFormat(timeFormat)

	if opts.JSON {
		log.SetFormatter(log.JSONFormatter)
	} else {
		log.SetFormatter(log.TextFormatter)
	}
}

// New creates a logger with the given component prefix. An empty component
// produces a logger without a prefix.
func New(component string) *log.Logger {
	return log.WithPrefix(component)
}

// Discard returns a logger that drops everything. Packages accept a nil
// logger as "silent", but tests that exercise logging branches use this.
func Discard() *log.Logger {
	return log.New(io.Discard)
}

// SetOutput overrides the output writer for the default logger. Tests use it
// to capture output; restore with t.Cleanup.
func SetOutput(w io.Writer) {
	log.SetOutput(w)
}
