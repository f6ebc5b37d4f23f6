package cli

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/AbdelazizMoustafa10m/regress/internal/config"
)

// errWizardCancelled is returned when the user aborts the init form or
// declines the confirmation.
var errWizardCancelled = errors.New("init cancelled by user")

const wizardWidth = 80

var envIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// initAnswers holds the raw form values before they become TemplateVars.
type initAnswers struct {
	Template     string
	ProjectName  string
	Environments string
	Target       string
	CovTarget    string
	Scheduler    string
	Queue        string
}

// runInitWizard asks for the starter configuration interactively. vars
// supplies the defaults and receives the answers.
//
// Pages:
//  1. Project: template and name
//  2. Environments and test selection
//  3. Batch scheduler
//  4. Confirmation
func runInitWizard(templates []string, template *string, vars *config.TemplateVars) error {
	ans := initAnswers{
		Template:     *template,
		ProjectName:  vars.ProjectName,
		Environments: formatEnvironmentSpecs(vars.Environments),
		Target:       vars.TestTarget,
		CovTarget:    vars.CovTarget,
		Scheduler:    vars.Scheduler,
		Queue:        vars.Queue,
	}

	if err := runProjectPage(templates, &ans); err != nil {
		return mapWizardErr(err)
	}
	if err := runEnvironmentPage(&ans); err != nil {
		return mapWizardErr(err)
	}
	if err := runSchedulerPage(&ans); err != nil {
		return mapWizardErr(err)
	}

	next, err := ans.templateVars()
	if err != nil {
		return err
	}

	confirmed := false
	if err := runInitConfirmPage(buildInitSummary(ans.Template, next), &confirmed); err != nil {
		return mapWizardErr(err)
	}
	if !confirmed {
		return errWizardCancelled
	}

	*template = ans.Template
	*vars = next
	return nil
}

func runProjectPage(templates []string, ans *initAnswers) error {
	options := make([]huh.Option[string], len(templates))
	for i, name := range templates {
		options[i] = huh.NewOption(name, name)
	}
	return huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Test runner template:").
				Options(options...).
				Value(&ans.Template),
			huh.NewInput().
				Title("Project name:").
				Value(&ans.ProjectName).
				Validate(validateProjectName),
		),
	).
		WithTheme(huh.ThemeCharm()).
		WithWidth(wizardWidth).
		Run()
}

func runEnvironmentPage(ans *initAnswers) error {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Environments (id=interpreter, comma separated):").
				Description("One stage is generated per environment, in this order. Example: py2=python2, py3=python3").
				Value(&ans.Environments).
				Validate(func(s string) error {
					_, err := parseEnvironmentSpecs(s)
					return err
				}),
			huh.NewInput().
				Title("Test target:").
				Description("Path or selector passed to the test runner.").
				Value(&ans.Target),
			huh.NewInput().
				Title("Coverage target (empty disables coverage):").
				Value(&ans.CovTarget),
		),
	).
		WithTheme(huh.ThemeCharm()).
		WithWidth(wizardWidth).
		Run()
}

func runSchedulerPage(ans *initAnswers) error {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Batch scheduler:").
				Options(
					huh.NewOption("PBS (qsub)", config.SchedulerPBS),
					huh.NewOption("Slurm (sbatch)", config.SchedulerSlurm),
				).
				Value(&ans.Scheduler),
			huh.NewInput().
				Title("Queue or partition (optional):").
				Value(&ans.Queue),
		),
	).
		WithTheme(huh.ThemeCharm()).
		WithWidth(wizardWidth).
		Run()
}

func runInitConfirmPage(summary string, confirmed *bool) error {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Write regress.toml?").
				Description(summary).
				Affirmative("Write").
				Negative("Cancel").
				Value(confirmed),
		),
	).
		WithTheme(huh.ThemeCharm()).
		WithWidth(wizardWidth).
		Run()
}

// templateVars converts the answers, trimming whitespace.
func (a initAnswers) templateVars() (config.TemplateVars, error) {
	envs, err := parseEnvironmentSpecs(a.Environments)
	if err != nil {
		return config.TemplateVars{}, err
	}
	return config.TemplateVars{
		ProjectName:  strings.TrimSpace(a.ProjectName),
		Environments: envs,
		TestTarget:   strings.TrimSpace(a.Target),
		CovTarget:    strings.TrimSpace(a.CovTarget),
		Scheduler:    a.Scheduler,
		Queue:        strings.TrimSpace(a.Queue),
	}, nil
}

// parseEnvironmentSpecs parses "py2=python2, py3=python3". An entry without
// "=" uses its id as the interpreter.
func parseEnvironmentSpecs(s string) ([]config.TemplateEnvironment, error) {
	var envs []config.TemplateEnvironment
	seen := make(map[string]bool)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, interp, found := strings.Cut(part, "=")
		id = strings.TrimSpace(id)
		interp = strings.TrimSpace(interp)
		if !found {
			interp = id
		}
		if !envIDPattern.MatchString(id) {
			return nil, fmt.Errorf("invalid environment id %q: use letters, digits, '-' or '_'", id)
		}
		if interp == "" {
			return nil, fmt.Errorf("environment %q has no interpreter", id)
		}
		if seen[id] {
			return nil, fmt.Errorf("environment %q listed twice", id)
		}
		seen[id] = true
		envs = append(envs, config.TemplateEnvironment{ID: id, Interpreter: interp})
	}
	if len(envs) == 0 {
		return nil, errors.New("at least one environment is required")
	}
	return envs, nil
}

func formatEnvironmentSpecs(envs []config.TemplateEnvironment) string {
	parts := make([]string, len(envs))
	for i, e := range envs {
		parts[i] = e.ID + "=" + e.Interpreter
	}
	return strings.Join(parts, ", ")
}

func validateProjectName(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return errors.New("project name is required")
	}
	if strings.ContainsAny(s, `/\`) || strings.Contains(s, "..") {
		return fmt.Errorf("invalid project name %q", s)
	}
	return nil
}

// buildInitSummary renders the confirmation text.
func buildInitSummary(template string, vars config.TemplateVars) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Template:     %s\n", template)
	fmt.Fprintf(&b, "Project:      %s\n", vars.ProjectName)
	for i, e := range vars.Environments {
		fmt.Fprintf(&b, "Stage %d:      %s (%s)\n", i+1, e.ID, e.Interpreter)
	}
	fmt.Fprintf(&b, "Target:       %s\n", vars.TestTarget)
	cov := vars.CovTarget
	if cov == "" {
		cov = "disabled"
	}
	fmt.Fprintf(&b, "Coverage:     %s\n", cov)
	fmt.Fprintf(&b, "Scheduler:    %s", vars.Scheduler)
	if vars.Queue != "" {
		fmt.Fprintf(&b, " (queue %s)", vars.Queue)
	}
	return b.String()
}

// mapWizardErr converts huh's abort error into errWizardCancelled.
func mapWizardErr(err error) error {
	if errors.Is(err, huh.ErrUserAborted) {
		return errWizardCancelled
	}
	return err
}
