// Package cli implements the regress command tree.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"github.com/AbdelazizMoustafa10m/regress/internal/exitcodes"
	"github.com/AbdelazizMoustafa10m/regress/internal/logging"
	"github.com/AbdelazizMoustafa10m/regress/internal/pipeline"
)

// Global flag values accessible to all subcommands.
var (
	flagVerbose bool
	flagQuiet   bool
	flagConfig  string
	flagDir     string
	flagDryRun  bool
	flagNoColor bool
)

// rootCmd is the base command for regress.
var rootCmd = &cobra.Command{
	Use:   "regress",
	Short: "Sequential cross-environment regression driver",
	Long: `regress runs an ordered list of test stages, each under its own runtime
environment, from inside a batch job. A failing stage halts the pipeline;
test outcomes are reported through per-stage report artifacts while the
process exit status stays fixed for the scheduler.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: persistentPreRun,
}

// persistentPreRun applies env var fallbacks, initializes logging, and
// handles --no-color and --dir. Subcommands that override PersistentPreRunE
// call it directly.
func persistentPreRun(cmd *cobra.Command, _ []string) error {
	flags := cmd.Root().PersistentFlags()
	if !flags.Changed("verbose") && os.Getenv("REGRESS_VERBOSE") != "" {
		flagVerbose = true
	}
	if !flags.Changed("quiet") && os.Getenv("REGRESS_QUIET") != "" {
		flagQuiet = true
	}
	if !flags.Changed("no-color") && (os.Getenv("NO_COLOR") != "" || os.Getenv("REGRESS_NO_COLOR") != "") {
		flagNoColor = true
	}

	logging.Setup(logging.Options{
		Verbose:    flagVerbose,
		Quiet:      flagQuiet,
		JSON:       os.Getenv("REGRESS_LOG_FORMAT") == "json",
		Timestamps: true,
	})

	if flagNoColor {
		lipgloss.SetColorProfile(termenv.Ascii)
	}

	if flagDir != "" {
		if err := os.Chdir(flagDir); err != nil {
			return configErrorf("changing directory to %s: %w", flagDir, err)
		}
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Enable verbose (debug) output (env: REGRESS_VERBOSE)")
	rootCmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "Suppress all output except errors (env: REGRESS_QUIET)")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to regress.toml config file")
	rootCmd.PersistentFlags().StringVar(&flagDir, "dir", "", "Override working directory")
	rootCmd.PersistentFlags().BoolVar(&flagDryRun, "dry-run", false, "Show planned actions without executing")
	rootCmd.PersistentFlags().BoolVar(&flagNoColor, "no-color", false, "Disable colored output (env: REGRESS_NO_COLOR, NO_COLOR)")
	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &exitError{code: exitcodes.ConfigError, err: err}
	})
}

// exitError carries an explicit process exit code. A nil err means the
// status is the whole story and nothing is printed.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// configErrorf returns an error that exits with exitcodes.ConfigError.
func configErrorf(format string, args ...any) error {
	return &exitError{code: exitcodes.ConfigError, err: fmt.Errorf(format, args...)}
}

// exitCode maps an error returned by a command to a process exit code.
func exitCode(err error) int {
	if err == nil {
		return exitcodes.Success
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	var ce *pipeline.ConfigurationError
	if errors.As(err, &ce) {
		return exitcodes.ConfigError
	}
	if errors.Is(err, context.Canceled) {
		return exitcodes.Cancelled
	}
	return exitcodes.RuntimeErr
}

// Execute runs the root command and returns the exit code.
func Execute() int {
	cmd, err := rootCmd.ExecuteC()
	if err == nil {
		return exitcodes.Success
	}

	var ee *exitError
	if !errors.As(err, &ee) || ee.err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	// Unknown subcommands surface on the non-runnable root.
	if cmd != nil && !cmd.Runnable() {
		return exitcodes.ConfigError
	}
	return exitCode(err)
}

// usageArgs wraps a positional argument validator so its failures exit
// like configuration errors.
func usageArgs(validate cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := validate(cmd, args); err != nil {
			return &exitError{code: exitcodes.ConfigError, err: err}
		}
		return nil
	}
}

// NewRootCmd returns a new instance of the root command for use in external
// tools such as the shell completion generator and man page generator.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:               rootCmd.Use,
		Short:             rootCmd.Short,
		Long:              rootCmd.Long,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: rootCmd.PersistentPreRunE,
	}

	// Local variables keep generators independent of the package-level flags.
	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose (debug) output (env: REGRESS_VERBOSE)")
	cmd.PersistentFlags().BoolP("quiet", "q", false, "Suppress all output except errors (env: REGRESS_QUIET)")
	cmd.PersistentFlags().String("config", "", "Path to regress.toml config file")
	cmd.PersistentFlags().String("dir", "", "Override working directory")
	cmd.PersistentFlags().Bool("dry-run", false, "Show planned actions without executing")
	cmd.PersistentFlags().Bool("no-color", false, "Disable colored output (env: REGRESS_NO_COLOR, NO_COLOR)")

	for _, child := range rootCmd.Commands() {
		cmd.AddCommand(child)
	}
	return cmd
}
