package cli

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/AbdelazizMoustafa10m/regress/internal/batch"
	"github.com/AbdelazizMoustafa10m/regress/internal/config"
	"github.com/AbdelazizMoustafa10m/regress/internal/logging"
)

// batchFlags holds the flag values shared by script, submit, and cancel.
type batchFlags struct {
	Scheduler string
	Queue     string
	Walltime  string
	Output    string
}

var batchOpts batchFlags

// submitterOptions is extended in tests to stub the scheduler tools.
var submitterOptions []batch.SubmitterOption

var scriptCmd = &cobra.Command{
	Use:   "script",
	Short: "Render a PBS or Slurm job script that runs the pipeline",
	Long: `Render a job script from the [batch] section. The script changes into the
project work directory, runs any setup commands, and then runs
"regress run --batch" against this configuration.

The script is written to batch.script_path unless --output is given;
"--output -" prints it to stdout.

Examples:
  regress script
  regress script --scheduler slurm --queue debug -o regress.slurm
  regress script -o -`,
	Args: usageArgs(cobra.NoArgs),
	RunE: runScript,
}

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Render the job script and submit it to the scheduler",
	Long: `Render the job script (see "regress script"), submit it with qsub or
sbatch, and record the job number in batch.job_id_file.

With --dry-run the script is written but not submitted.`,
	Args: usageArgs(cobra.NoArgs),
	RunE: runSubmit,
}

var cancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Cancel the job recorded in the job id file",
	Long:  `Read the job number from batch.job_id_file and remove it from the queue with qdel or scancel.`,
	Args:  usageArgs(cobra.NoArgs),
	RunE:  runCancel,
}

func init() {
	for _, c := range []*cobra.Command{scriptCmd, submitCmd, cancelCmd} {
		c.Flags().StringVar(&batchOpts.Scheduler, "scheduler", "", "Batch scheduler: pbs or slurm (env: REGRESS_SCHEDULER)")
	}
	for _, c := range []*cobra.Command{scriptCmd, submitCmd} {
		c.Flags().StringVar(&batchOpts.Queue, "queue", "", "Queue or partition (env: REGRESS_QUEUE)")
		c.Flags().StringVar(&batchOpts.Walltime, "walltime", "", "Job walltime, e.g. 2:00:00 (env: REGRESS_WALLTIME)")
		c.Flags().StringVarP(&batchOpts.Output, "output", "o", "", "Script path (default batch.script_path)")
	}
	rootCmd.AddCommand(scriptCmd, submitCmd, cancelCmd)
}

// batchOverrides collects the batch flags that were explicitly set.
func batchOverrides(cmd *cobra.Command) *config.CLIOverrides {
	o := &config.CLIOverrides{}
	f := cmd.Flags()
	if f.Changed("scheduler") {
		o.Scheduler = &batchOpts.Scheduler
	}
	if f.Changed("queue") {
		o.Queue = &batchOpts.Queue
	}
	if f.Changed("walltime") {
		o.Walltime = &batchOpts.Walltime
	}
	return o
}

// batchOptions builds job script options from the configuration. The job
// runs this binary against the same config file.
func batchOptions(rc *config.ResolvedConfig, workDir string) batch.Options {
	b := rc.Config.Batch
	self, err := os.Executable()
	if err != nil {
		self = "regress"
	}
	command := []string{self}
	if rc.Path != "" {
		if abs, err := filepath.Abs(rc.Path); err == nil {
			command = append(command, "--config", abs)
		}
	}
	command = append(command, "run", "--batch")

	return batch.Options{
		Scheduler:     b.Scheduler,
		Shell:         b.Shell,
		JobName:       b.JobName,
		Queue:         b.Queue,
		Walltime:      b.Walltime,
		Select:        b.Select,
		NCPUs:         b.NCPUs,
		MPIProcs:      b.MPIProcs,
		Model:         b.Model,
		Rerun:         b.Rerun,
		Join:          b.Join,
		GroupList:     b.GroupList,
		Account:       b.Account,
		Partition:     b.Partition,
		SetupCommands: b.SetupCommands,
		WorkDir:       workDir,
		Command:       command,
	}
}

// prepareScript resolves the configuration and writes the job script,
// returning its path. An output of "-" writes to stdout and returns "".
func prepareScript(cmd *cobra.Command) (*config.ResolvedConfig, string, error) {
	resolved, err := loadValidatedConfig(batchOverrides(cmd))
	if err != nil {
		return nil, "", err
	}
	base, err := configBaseDir(resolved)
	if err != nil {
		return nil, "", err
	}
	opts := batchOptions(resolved, resolveDir(base, resolved.Config.Project.WorkDir))

	out := batchOpts.Output
	if out == "-" {
		if err := batch.Render(cmd.OutOrStdout(), opts); err != nil {
			return nil, "", configErrorf("%w", err)
		}
		return resolved, "", nil
	}
	if out == "" {
		out = resolveDir(base, resolved.Config.Batch.ScriptPath)
	}
	if err := batch.WriteScript(out, opts); err != nil {
		return nil, "", err
	}
	return resolved, out, nil
}

func runScript(cmd *cobra.Command, _ []string) error {
	_, path, err := prepareScript(cmd)
	if err != nil {
		return err
	}
	if path != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s\n", path)
	}
	return nil
}

func runSubmit(cmd *cobra.Command, _ []string) error {
	if batchOpts.Output == "-" {
		return configErrorf("submit needs a script file; --output - is not supported")
	}
	resolved, path, err := prepareScript(cmd)
	if err != nil {
		return err
	}

	sub, err := batch.NewSubmitter(resolved.Config.Batch.Scheduler, submitterOptions...)
	if err != nil {
		return configErrorf("%w", err)
	}
	if flagDryRun {
		fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s (not submitted: --dry-run)\n", path)
		return nil
	}

	id, err := sub.Submit(cmd.Context(), path)
	if err != nil {
		return err
	}

	base, err := configBaseDir(resolved)
	if err != nil {
		return err
	}
	idFile := resolveDir(base, resolved.Config.Batch.JobIDFile)
	if err := batch.WriteJobID(idFile, id); err != nil {
		return err
	}
	logging.New("batch").Debug("job id recorded", "path", idFile)
	fmt.Fprintln(cmd.OutOrStdout(), id)
	return nil
}

func runCancel(cmd *cobra.Command, _ []string) error {
	resolved, err := loadValidatedConfig(batchOverrides(cmd))
	if err != nil {
		return err
	}
	base, err := configBaseDir(resolved)
	if err != nil {
		return err
	}
	id, err := batch.ReadJobID(resolveDir(base, resolved.Config.Batch.JobIDFile))
	if err != nil {
		return err
	}
	sub, err := batch.NewSubmitter(resolved.Config.Batch.Scheduler, submitterOptions...)
	if err != nil {
		return configErrorf("%w", err)
	}
	if flagDryRun {
		fmt.Fprintf(cmd.ErrOrStderr(), "Would cancel job %d\n", id)
		return nil
	}
	if err := sub.Cancel(cmd.Context(), id); err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Cancelled job %d\n", id)
	return nil
}

// currentUser returns the login name used to filter queue listings.
func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return os.Getenv("LOGNAME")
}
