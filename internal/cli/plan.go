package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/AbdelazizMoustafa10m/regress/internal/artifact"
	"github.com/AbdelazizMoustafa10m/regress/internal/batch"
	"github.com/AbdelazizMoustafa10m/regress/internal/env"
	"github.com/AbdelazizMoustafa10m/regress/internal/pipeline"
	"github.com/AbdelazizMoustafa10m/regress/internal/testrunner"
)

var (
	planJSON  bool
	planBatch bool
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show the stages a run would execute",
	Long: `Resolve the configuration, activate each stage's environment, and print
the command line every stage would run. Nothing is executed. Equivalent to
"regress run --dry-run".`,
	Args: usageArgs(cobra.NoArgs),
	RunE: runPlan,
}

func init() {
	planCmd.Flags().BoolVar(&planJSON, "json", false, "Output the plan as JSON")
	planCmd.Flags().BoolVar(&planBatch, "batch", false, "Plan as an unattended run (no debugger flag)")
	rootCmd.AddCommand(planCmd)
}

func runPlan(cmd *cobra.Command, _ []string) error {
	resolved, err := loadValidatedConfig(nil)
	if err != nil {
		return err
	}
	base, err := configBaseDir(resolved)
	if err != nil {
		return err
	}
	settings, err := buildRunSettings(resolved.Config, base)
	if err != nil {
		return err
	}

	driver := pipeline.NewDriver(
		env.NewTable(settings.Environments, env.WithShell(settings.Shell)),
		testrunner.NewExecutor(nil),
		pipeline.WithInteractive(interactiveSession(planBatch)),
		pipeline.WithLogDir(settings.LogDir),
		pipeline.WithDefaultTimeout(settings.DefaultTimeout),
	)
	planned, err := driver.Plan(cmd.Context(), settings.Stages)
	if err != nil {
		return err
	}

	if planJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(planned)
	}
	printPlan(cmd.OutOrStdout(), planned, settings)
	return nil
}

var (
	styleCell    = lipgloss.NewStyle().Padding(0, 1)
	styleHeadRow = styleCell.Bold(true)
	styleFailed  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// printPlan renders planned stages as a table followed by the policies in
// effect.
func printPlan(out io.Writer, planned []pipeline.PlannedStage, settings *runSettings) {
	rows := make([][]string, 0, len(planned))
	for _, p := range planned {
		command := batch.QuoteArgs(p.Argv)
		if p.Error != "" {
			command = styleFailed.Render(p.Error)
		}
		timeout := "-"
		if p.Timeout > 0 {
			timeout = p.Timeout.String()
		}
		rows = append(rows, []string{
			fmt.Sprint(p.Index + 1),
			p.Name,
			p.EnvironmentID,
			timeout,
			command,
		})
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("#", "NAME", "ENVIRONMENT", "TIMEOUT", "COMMAND").
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return styleHeadRow
			}
			return styleCell
		})
	fmt.Fprintln(out, t.Render())

	fmt.Fprintf(out, "on_stage_failure: %s\n", settings.FailurePolicy)
	fmt.Fprintf(out, "on_pipeline_exit: %s\n", settings.ExitPolicy)
	fmt.Fprintf(out, "work_dir:         %s\n", settings.WorkDir)

	for _, p := range planned {
		if len(p.Artifacts) > 0 {
			fmt.Fprintf(out, "stage %d artifacts: %s\n", p.Index+1, strings.Join(p.Artifacts, ", "))
		}
	}
}

// printRunSummary writes a short human summary of a finished run.
func printRunSummary(out io.Writer, rec *artifact.Record) {
	if rec == nil {
		return
	}
	fmt.Fprintln(out, styleHeader.Render("Run summary"))
	for _, st := range rec.Stages {
		status := styleSuccess.Render("passed")
		switch {
		case st.TimedOut:
			status = styleErrorLbl.Render("timed out")
		case st.Err != nil || st.Error != "":
			status = styleErrorLbl.Render("error: " + st.Error)
		case st.Failed():
			status = styleErrorLbl.Render(fmt.Sprintf("failed (exit %d)", st.ExitStatus))
		}
		label := pipeline.Stage{Name: st.Name, EnvironmentID: st.EnvironmentID}.Label(st.StageIndex)
		fmt.Fprintf(out, "  %-32s %s\n", label, status)
		for _, c := range st.Artifacts {
			if !c.Exists {
				fmt.Fprintf(out, "    %s %s\n", styleWarnLbl.Render("missing"), c.Pattern)
			}
		}
	}
	fmt.Fprintln(out, rec.Summary.String())
}
