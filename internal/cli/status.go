package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/AbdelazizMoustafa10m/regress/internal/artifact"
	"github.com/AbdelazizMoustafa10m/regress/internal/batch"
	"github.com/AbdelazizMoustafa10m/regress/internal/logging"
)

// statusFlags holds the flag values for the status command.
type statusFlags struct {
	Run  string // --run <path to run.json>, empty means the latest run
	JSON bool   // --json for structured output
	Job  bool   // --job to query the scheduler for the recorded job
}

// statusOutput is the JSON output type for the status command.
type statusOutput struct {
	RecordPath string           `json:"record_path,omitempty"`
	Record     *artifact.Record `json:"record,omitempty"`
	Job        *jobStatus       `json:"job,omitempty"`
}

// jobStatus is the scheduler's view of the recorded job.
type jobStatus struct {
	ID     int    `json:"id"`
	Queued bool   `json:"queued"`
	State  string `json:"state,omitempty"`
	Queue  string `json:"queue,omitempty"`
}

const progressBarWidth = 30

// newStatusCmd creates the "regress status" command.
func newStatusCmd() *cobra.Command {
	var flags statusFlags

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the outcome of the latest run",
		Long: `Display the run record of the most recent "regress run": each stage's exit
status, whether it halted the pipeline, and which expected report
artifacts are missing.

Use --job to also ask the scheduler about the job recorded by
"regress submit".`,
		Example: `  # Latest run
  regress status

  # A specific run record
  regress status --run regress/runs/20260301T120000Z-4242/run.json

  # Include the queued job and print JSON
  regress status --job --json`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, args, flags)
		},
	}

	cmd.Flags().StringVar(&flags.Run, "run", "", "Path to a run.json record (default: latest run)")
	cmd.Flags().BoolVar(&flags.JSON, "json", false, "Output structured JSON to stdout")
	cmd.Flags().BoolVar(&flags.Job, "job", false, "Query the scheduler for the submitted job")

	return cmd
}

func init() {
	rootCmd.AddCommand(newStatusCmd())
}

func runStatus(cmd *cobra.Command, _ []string, flags statusFlags) error {
	resolved, _, err := loadAndResolveConfig(nil)
	if err != nil {
		return err
	}
	base, err := configBaseDir(resolved)
	if err != nil {
		return err
	}
	cfg := resolved.Config

	var out statusOutput
	out.RecordPath = flags.Run
	if out.RecordPath == "" {
		stateDir := resolveDir(resolveDir(base, cfg.Project.WorkDir), cfg.Project.StateDir)
		out.RecordPath, err = artifact.Latest(stateDir)
		if err != nil && !errors.Is(err, artifact.ErrNoRuns) {
			return err
		}
	}
	if out.RecordPath != "" {
		out.Record, err = artifact.Load(out.RecordPath)
		if err != nil {
			return err
		}
	}

	if flags.Job {
		out.Job, err = queryJob(cmd, cfg.Batch.Scheduler, resolveDir(base, cfg.Batch.JobIDFile))
		if err != nil {
			return err
		}
	}

	if flags.JSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	w := cmd.OutOrStdout()
	if out.Record == nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "No runs recorded.")
	} else {
		printRecord(w, out.RecordPath, out.Record)
	}
	if out.Job != nil {
		printJob(w, out.Job)
	}
	return nil
}

// queryJob reads the recorded job number and looks it up in the queue. A
// missing job id file is not an error.
func queryJob(cmd *cobra.Command, scheduler, idFile string) (*jobStatus, error) {
	id, err := batch.ReadJobID(idFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.New("batch").Debug("no job id file", "path", idFile)
			return nil, nil
		}
		return nil, err
	}
	sub, err := batch.NewSubmitter(scheduler, submitterOptions...)
	if err != nil {
		return nil, configErrorf("%w", err)
	}
	job, queued, err := sub.Status(cmd.Context(), id, currentUser())
	if err != nil {
		return nil, err
	}
	return &jobStatus{ID: id, Queued: queued, State: job.State, Queue: job.Queue}, nil
}

func printRecord(w io.Writer, path string, rec *artifact.Record) {
	fmt.Fprintln(w, styleHeader.Render("Run "+rec.RunID))
	fmt.Fprintf(w, "Record:   %s\n", path)
	if rec.Project != "" {
		fmt.Fprintf(w, "Project:  %s\n", rec.Project)
	}
	if rec.JobID != "" {
		fmt.Fprintf(w, "Job:      %s\n", rec.JobID)
	}
	if rec.Revision != nil {
		fmt.Fprintf(w, "Revision: %s\n", rec.Revision)
	}
	fmt.Fprintf(w, "Started:  %s\n", rec.StartedAt.Format("2006-01-02 15:04:05"))
	if !rec.FinishedAt.IsZero() {
		fmt.Fprintf(w, "Duration: %s\n", rec.FinishedAt.Sub(rec.StartedAt).Round(time.Second))
	} else {
		fmt.Fprintln(w, "Duration: still running or interrupted")
	}
	fmt.Fprintln(w)

	missing := rec.MissingArtifacts()
	rows := make([][]string, 0, len(rec.Stages))
	for _, st := range rec.Stages {
		outcome := fmt.Sprintf("exit %d", st.ExitStatus)
		switch {
		case st.TimedOut:
			outcome = "timed out"
		case st.Error != "":
			outcome = "error"
		}
		halted := ""
		if st.Halted {
			halted = "yes"
		}
		rows = append(rows, []string{
			fmt.Sprint(st.StageIndex + 1),
			st.Name,
			st.EnvironmentID,
			outcome,
			halted,
			st.Duration.Round(time.Second).String(),
			fmt.Sprint(len(missing[st.StageIndex])),
		})
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("#", "NAME", "ENVIRONMENT", "OUTCOME", "HALTED", "DURATION", "MISSING").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return styleHeadRow
			}
			if col == 3 && row >= 0 && row < len(rec.Stages) && rec.Stages[row].Failed() {
				return styleCell.Inherit(styleFailed)
			}
			return styleCell
		})
	fmt.Fprintln(w, t.Render())

	s := rec.Summary
	pct := 0.0
	if s.Total > 0 {
		pct = float64(s.Passed) / float64(s.Total)
	}
	bar := progress.New(
		progress.WithDefaultGradient(),
		progress.WithWidth(progressBarWidth),
		progress.WithoutPercentage(),
	)
	fmt.Fprintf(w, "%s  %d/%d passed\n", bar.ViewAs(pct), s.Passed, s.Total)
	fmt.Fprintln(w, s.String())
	fmt.Fprintf(w, "Exit status: %d (%s)\n", rec.ExitStatus, rec.OnPipelineExit)
	if rec.Error != "" {
		fmt.Fprintf(w, "%s %s\n", styleErrorLbl.Render("Error:"), rec.Error)
	}
}

func printJob(w io.Writer, job *jobStatus) {
	fmt.Fprintln(w)
	if !job.Queued {
		fmt.Fprintf(w, "Job %d: not in queue\n", job.ID)
		return
	}
	fmt.Fprintf(w, "Job %d: state %s, queue %s\n", job.ID, job.State, job.Queue)
}
