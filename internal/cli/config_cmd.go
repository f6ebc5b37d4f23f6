package cli

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/AbdelazizMoustafa10m/regress/internal/config"
	"github.com/AbdelazizMoustafa10m/regress/internal/logging"
)

// configCmd is the parent "config" namespace command. It has no action of its
// own -- it groups debug and validate subcommands.
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  "Inspect, validate, and debug regress configuration.",
	// RunE shows help when invoked with no subcommand.
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// configDebugCmd implements "regress config debug".
// It prints the fully-resolved configuration with source annotations.
var configDebugCmd = &cobra.Command{
	Use:   "debug",
	Short: "Show resolved configuration with source annotations",
	Long: `Display the fully-resolved configuration showing each value and
the source where it came from (cli flag, environment variable, config file, or default).`,
	Args: usageArgs(cobra.NoArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		resolved, _, err := loadAndResolveConfig(nil)
		if err != nil {
			return err
		}
		printResolvedConfig(cmd, resolved)
		return nil
	},
}

// configValidateCmd implements "regress config validate".
// It validates the resolved configuration and reports all errors and warnings.
var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration and report issues",
	Long:  "Check the configuration for errors and warnings.",
	Args:  usageArgs(cobra.NoArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		resolved, meta, err := loadAndResolveConfig(nil)
		if err != nil {
			return err
		}
		result := config.Validate(resolved.Config, meta)
		printValidationResult(cmd, result)
		if result.HasErrors() {
			return configErrorf("configuration has %d error(s)", len(result.Errors()))
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configDebugCmd)
	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(configCmd)
}

// loadAndResolveConfig loads and resolves the configuration from all sources
// (file, env, CLI flags). It returns the resolved config, the TOML metadata
// (nil when no file was found), and any loading error.
//
// When flagConfig is set, that path is used directly. Otherwise,
// config.FindConfigFile searches upward from the current directory.
func loadAndResolveConfig(overrides *config.CLIOverrides) (*config.ResolvedConfig, *toml.MetaData, error) {
	var (
		fileCfg *config.Config
		meta    *toml.MetaData
		cfgPath string
	)

	if flagConfig != "" {
		cfgPath = flagConfig
	} else {
		found, err := config.FindConfigFile(".")
		if err != nil {
			return nil, nil, configErrorf("finding config file: %w", err)
		}
		cfgPath = found
	}

	if cfgPath != "" {
		fc, md, err := config.LoadFromFile(cfgPath)
		if err != nil {
			return nil, nil, configErrorf("loading config: %w", err)
		}
		fileCfg = fc
		meta = &md
	}

	resolved := config.Resolve(config.NewDefaults(), fileCfg, os.LookupEnv, overrides)
	resolved.Path = cfgPath

	return resolved, meta, nil
}

// loadValidatedConfig resolves the configuration and fails with a
// configuration error when validation reports errors. Warnings are logged.
func loadValidatedConfig(overrides *config.CLIOverrides) (*config.ResolvedConfig, error) {
	resolved, meta, err := loadAndResolveConfig(overrides)
	if err != nil {
		return nil, err
	}
	result := config.Validate(resolved.Config, meta)
	logger := logging.New("config")
	for _, w := range result.Warnings() {
		logger.Warn("config", "field", w.Field, "issue", w.Message)
	}
	if result.HasErrors() {
		for _, e := range result.Errors() {
			logger.Error("config", "field", e.Field, "issue", e.Message)
		}
		return nil, configErrorf("invalid configuration %s: %d error(s); run 'regress config validate' for details",
			displayPath(resolved.Path), len(result.Errors()))
	}
	return resolved, nil
}

func displayPath(path string) string {
	if path == "" {
		return "(defaults only)"
	}
	return path
}

// ---- Lipgloss styles --------------------------------------------------------

// sourceStyle returns a lipgloss style for a given ConfigSource.
// When --no-color is active, lipgloss automatically strips ANSI because
// the root PersistentPreRunE sets the color profile to Ascii.
func sourceStyle(src config.ConfigSource) lipgloss.Style {
	switch src {
	case config.SourceFile:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("12")) // bright blue
	case config.SourceEnv:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("11")) // bright yellow
	case config.SourceCLI:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("9")) // bright red
	default: // SourceDefault
		return lipgloss.NewStyle().Foreground(lipgloss.Color("10")) // bright green
	}
}

var (
	styleHeader    = lipgloss.NewStyle().Bold(true)
	styleSeparator = lipgloss.NewStyle()
	styleSection   = lipgloss.NewStyle().Bold(true)
	styleErrorLbl  = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)  // red
	styleWarnLbl   = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true) // yellow
	styleSuccess   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))            // green
)

// ---- printResolvedConfig ----------------------------------------------------

const fieldWidth = 24 // column width for field names

// printResolvedConfig writes the formatted resolved configuration to cmd's
// output writer (stdout by default).
func printResolvedConfig(cmd *cobra.Command, rc *config.ResolvedConfig) {
	out := cmd.OutOrStdout()

	header := styleHeader.Render("Configuration Debug")
	sep := styleSeparator.Render(strings.Repeat("=", len("Configuration Debug")))
	fmt.Fprintln(out, header)
	fmt.Fprintln(out, sep)
	fmt.Fprintln(out)

	if rc.Path != "" {
		fmt.Fprintf(out, "Config file: %s\n", rc.Path)
	} else {
		fmt.Fprintln(out, "Config file: none found")
	}
	fmt.Fprintln(out)

	c := rc.Config
	src := rc.Sources

	fmt.Fprintln(out, styleSection.Render("[project]"))
	printField(out, "name", fmtStr(c.Project.Name), src["project.name"])
	printField(out, "work_dir", fmtStr(c.Project.WorkDir), src["project.work_dir"])
	printField(out, "log_dir", fmtStr(c.Project.LogDir), src["project.log_dir"])
	printField(out, "state_dir", fmtStr(c.Project.StateDir), src["project.state_dir"])
	fmt.Fprintln(out)

	fmt.Fprintln(out, styleSection.Render("[runner]"))
	printField(out, "command", fmtSlice(c.Runner.Command), src["runner.command"])
	printField(out, "junit_flag", fmtStr(c.Runner.JUnitFlag), src["runner.junit_flag"])
	printField(out, "cov_flag", fmtStr(c.Runner.CovFlag), src["runner.cov_flag"])
	printField(out, "cov_report_flag", fmtStr(c.Runner.CovReportFlag), src["runner.cov_report_flag"])
	printField(out, "debugger_flag", fmtStr(c.Runner.DebuggerFlag), src["runner.debugger_flag"])
	printField(out, "extra_args", fmtSlice(c.Runner.ExtraArgs), src["runner.extra_args"])
	printField(out, "default_timeout", fmtStr(c.Runner.DefaultTimeout), src["runner.default_timeout"])
	fmt.Fprintln(out)

	fmt.Fprintln(out, styleSection.Render("[pipeline]"))
	printField(out, "on_stage_failure", fmtStr(c.Pipeline.OnStageFailure), src["pipeline.on_stage_failure"])
	printField(out, "on_pipeline_exit", fmtStr(c.Pipeline.OnPipelineExit), src["pipeline.on_pipeline_exit"])
	printField(out, "debugger", fmt.Sprint(c.Pipeline.Debugger), src["pipeline.debugger"])
	printField(out, "echo", fmt.Sprint(c.Pipeline.EchoEnabled()), src["pipeline.echo"])
	fmt.Fprintln(out)

	// Environments are sorted for determinism.
	ids := make([]string, 0, len(c.Environments))
	for id := range c.Environments {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		e := c.Environments[id]
		s := src["environments."+id]
		fmt.Fprintln(out, styleSection.Render(fmt.Sprintf("[environments.%s]", id)))
		printField(out, "interpreter", fmtStr(e.Interpreter), s)
		printField(out, "path_prepend", fmtSlice(e.PathPrepend), s)
		printField(out, "vars", fmtMap(e.Vars), s)
		printField(out, "unset", fmtSlice(e.Unset), s)
		printField(out, "activate", fmtStr(e.Activate), s)
		fmt.Fprintln(out)
	}

	for i, st := range c.Stages {
		s := src["stages"]
		fmt.Fprintln(out, styleSection.Render(fmt.Sprintf("[[stages]] # %d", i+1)))
		printField(out, "name", fmtStr(st.Name), s)
		printField(out, "environment", fmtStr(st.Environment), s)
		printField(out, "target", fmtSlice(st.Target), s)
		printField(out, "junit_xml", fmtStr(st.JUnitXML), s)
		printField(out, "cov_target", fmtStr(st.CovTarget), s)
		printField(out, "cov_report_dir", fmtStr(st.CovReportDir), s)
		printField(out, "timeout", fmtStr(st.Timeout), s)
		printField(out, "extra_args", fmtSlice(st.ExtraArgs), s)
		printField(out, "artifacts", fmtSlice(st.Artifacts), s)
		fmt.Fprintln(out)
	}

	fmt.Fprintln(out, styleSection.Render("[batch]"))
	b := c.Batch
	printField(out, "scheduler", fmtStr(b.Scheduler), src["batch.scheduler"])
	printField(out, "shell", fmtStr(b.Shell), src["batch.shell"])
	printField(out, "job_name", fmtStr(b.JobName), src["batch.job_name"])
	printField(out, "queue", fmtStr(b.Queue), src["batch.queue"])
	printField(out, "walltime", fmtStr(b.Walltime), src["batch.walltime"])
	printField(out, "select", fmt.Sprint(b.Select), src["batch.select"])
	printField(out, "ncpus", fmt.Sprint(b.NCPUs), src["batch.ncpus"])
	printField(out, "mpiprocs", fmt.Sprint(b.MPIProcs), src["batch.mpiprocs"])
	printField(out, "model", fmtStr(b.Model), src["batch.model"])
	printField(out, "rerun", fmtStr(b.Rerun), src["batch.rerun"])
	printField(out, "join", fmtStr(b.Join), src["batch.join"])
	printField(out, "group_list", fmtStr(b.GroupList), src["batch.group_list"])
	printField(out, "account", fmtStr(b.Account), src["batch.account"])
	printField(out, "partition", fmtStr(b.Partition), src["batch.partition"])
	printField(out, "setup_commands", fmtSlice(b.SetupCommands), src["batch.setup_commands"])
	printField(out, "script_path", fmtStr(b.ScriptPath), src["batch.script_path"])
	printField(out, "job_id_file", fmtStr(b.JobIDFile), src["batch.job_id_file"])
}

// printField writes a single key = value (source: ...) line.
func printField(out io.Writer, name, value string, src config.ConfigSource) {
	// Left-pad the field name to fieldWidth.
	padded := fmt.Sprintf("  %-*s", fieldWidth, name)
	srcLabel := sourceStyle(src).Render(fmt.Sprintf("(source: %s)", src))
	line := fmt.Sprintf("%s = %-40s %s\n", padded, value, srcLabel)
	fmt.Fprint(out, line)
}

// fmtStr formats a string value for display (quoted).
func fmtStr(s string) string {
	return fmt.Sprintf("%q", s)
}

// fmtSlice formats a string slice for display.
func fmtSlice(ss []string) string {
	if len(ss) == 0 {
		return "[]"
	}
	quoted := make([]string, len(ss))
	for i, s := range ss {
		quoted[i] = fmt.Sprintf("%q", s)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

// fmtMap formats a string map as an inline table with sorted keys.
func fmtMap(m map[string]string) string {
	if len(m) == 0 {
		return "{}"
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = fmt.Sprintf("%s = %q", k, m[k])
	}
	return "{ " + strings.Join(pairs, ", ") + " }"
}

// ---- printValidationResult --------------------------------------------------

// printValidationResult writes the formatted validation report to cmd's
// output writer.
func printValidationResult(cmd *cobra.Command, result *config.ValidationResult) {
	out := cmd.OutOrStdout()

	header := styleHeader.Render("Configuration Validation")
	sep := styleSeparator.Render(strings.Repeat("=", len("Configuration Validation")))
	fmt.Fprintln(out, header)
	fmt.Fprintln(out, sep)
	fmt.Fprintln(out)

	errs := result.Errors()
	warns := result.Warnings()

	if len(errs) == 0 && len(warns) == 0 {
		fmt.Fprintln(out, styleSuccess.Render("No issues found."))
		return
	}

	if len(errs) > 0 {
		fmt.Fprintln(out, styleErrorLbl.Render("Errors:"))
		for _, issue := range errs {
			fmt.Fprintf(out, "  [%s] %s\n", issue.Field, issue.Message)
		}
		fmt.Fprintln(out)
	}

	if len(warns) > 0 {
		fmt.Fprintln(out, styleWarnLbl.Render("Warnings:"))
		for _, issue := range warns {
			fmt.Fprintf(out, "  [%s] %s\n", issue.Field, issue.Message)
		}
		fmt.Fprintln(out)
	}

	fmt.Fprintf(out, "%d error(s), %d warning(s)\n", len(errs), len(warns))
}
