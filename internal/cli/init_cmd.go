package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AbdelazizMoustafa10m/regress/internal/config"
)

// Flag values for the init subcommand.
var (
	initFlagName        string
	initFlagForce       bool
	initFlagInteractive bool
	initFlagScheduler   string
	initFlagQueue       string
)

// wizardRunner is replaced in tests.
var wizardRunner = runInitWizard

// initCmd implements "regress init [template]". It scaffolds a regress.toml
// without requiring an existing configuration, so it is safe to run in a
// fresh directory.
var initCmd = &cobra.Command{
	Use:   "init [template]",
	Short: "Create a regress.toml from a starter template",
	Long: `Create a regress.toml in the current directory from an embedded starter
template. Existing files are preserved unless --force is supplied.

Templates:
  pytest   pytest with pytest-cov, one stage per Python environment (default)
  gotest   go test through gotestsum

Examples:
  regress init
  regress init --name cape --queue devel
  regress init gotest --force
  regress init --interactive`,
	Args:      usageArgs(cobra.MaximumNArgs(1)),
	ValidArgs: []string{"pytest", "gotest"},
	RunE:      runInit,
}

func init() {
	initCmd.Flags().StringVarP(&initFlagName, "name", "n", "", "Project name (defaults to current directory name)")
	initCmd.Flags().BoolVar(&initFlagForce, "force", false, "Overwrite existing files")
	initCmd.Flags().BoolVarP(&initFlagInteractive, "interactive", "i", false, "Answer questions in a form instead of using defaults")
	initCmd.Flags().StringVar(&initFlagScheduler, "scheduler", config.SchedulerPBS, "Batch scheduler: pbs or slurm")
	initCmd.Flags().StringVar(&initFlagQueue, "queue", "", "Batch queue or partition")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	templateName := config.DefaultTemplate
	if len(args) > 0 {
		templateName = args[0]
	}
	if !config.TemplateExists(templateName) {
		available, listErr := config.ListTemplates()
		if listErr != nil {
			return fmt.Errorf("listing available templates: %w", listErr)
		}
		return configErrorf("template %q not found; available templates: %s",
			templateName, strings.Join(available, ", "))
	}

	destDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting current directory: %w", err)
	}

	projectName := initFlagName
	if projectName == "" {
		projectName = filepath.Base(destDir)
	}
	if err := validateProjectName(projectName); err != nil {
		return configErrorf("%w", err)
	}
	if initFlagScheduler != config.SchedulerPBS && initFlagScheduler != config.SchedulerSlurm {
		return configErrorf("unknown scheduler %q; use %q or %q", initFlagScheduler, config.SchedulerPBS, config.SchedulerSlurm)
	}

	target := filepath.Join(destDir, config.ConfigFileName)
	if _, statErr := os.Stat(target); statErr == nil && !initFlagForce {
		return configErrorf("%s already exists in %s; use --force to overwrite", config.ConfigFileName, destDir)
	}

	vars := config.DefaultTemplateVars(projectName)
	vars.Scheduler = initFlagScheduler
	vars.Queue = initFlagQueue

	if initFlagInteractive {
		if !stdinIsTerminal() {
			return configErrorf("--interactive needs a terminal on stdin")
		}
		templates, err := config.ListTemplates()
		if err != nil {
			return fmt.Errorf("listing available templates: %w", err)
		}
		if err := wizardRunner(templates, &templateName, &vars); err != nil {
			if errors.Is(err, errWizardCancelled) {
				fmt.Fprintln(cmd.ErrOrStderr(), "Nothing written.")
				return nil
			}
			return err
		}
	}

	created, err := config.RenderTemplate(templateName, destDir, vars, initFlagForce)
	if err != nil {
		return fmt.Errorf("rendering template %q: %w", templateName, err)
	}

	stderr := cmd.ErrOrStderr()
	fmt.Fprintf(stderr, "Initialized project %q from template %q\n\n", vars.ProjectName, templateName)
	if len(created) > 0 {
		fmt.Fprintln(stderr, "Created files:")
		for _, f := range created {
			rel, relErr := filepath.Rel(destDir, f)
			if relErr != nil {
				rel = f
			}
			fmt.Fprintf(stderr, "  %s\n", rel)
		}
		fmt.Fprintln(stderr)
	}

	fmt.Fprintln(stderr, "Next steps:")
	fmt.Fprintf(stderr, "  1. Edit %s: environments, stages, [batch]\n", config.ConfigFileName)
	fmt.Fprintln(stderr, "  2. Check it: regress config validate && regress plan")
	fmt.Fprintln(stderr, "  3. Submit:   regress submit")
	return nil
}
