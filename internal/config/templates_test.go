package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/BurntSushi/toml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListTemplates(t *testing.T) {
	names, err := ListTemplates()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"pytest", "gotest"}, names)
}

func TestTemplateExists(t *testing.T) {
	assert.True(t, TemplateExists(DefaultTemplate))
	assert.True(t, TemplateExists("gotest"))
	assert.False(t, TemplateExists("nonexistent"))
	assert.False(t, TemplateExists(""))
	assert.False(t, TemplateExists("../etc"))
}

func TestRenderTemplate_InvalidName(t *testing.T) {
	_, err := RenderTemplate("nonexistent", t.TempDir(), TemplateVars{}, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

// renderAndLoad renders a template into a temp dir and decodes the result,
// proving every starter is a loadable, valid configuration.
func renderAndLoad(t *testing.T, name string, vars TemplateVars) (*Config, toml.MetaData) {
	t.Helper()
	dir := t.TempDir()
	created, err := RenderTemplate(name, dir, vars, false)
	require.NoError(t, err)

	tomlPath := filepath.Join(dir, ConfigFileName)
	assert.Equal(t, []string{tomlPath}, created)
	assert.NoFileExists(t, tomlPath+".tmpl")

	cfg, md, err := LoadFromFile(tomlPath)
	require.NoError(t, err)
	return cfg, md
}

func TestRenderTemplate_PytestDefaults(t *testing.T) {
	cfg, md := renderAndLoad(t, DefaultTemplate, DefaultTemplateVars("cape"))

	assert.Equal(t, "cape", cfg.Project.Name)
	require.Len(t, cfg.Stages, 2)
	assert.Equal(t, "py2", cfg.Stages[0].Environment)
	assert.Equal(t, "py3", cfg.Stages[1].Environment)
	assert.Equal(t, "reports/py3/results.xml", cfg.Stages[1].JUnitXML)
	assert.Equal(t, "cape", cfg.Stages[1].CovTarget)
	assert.Equal(t, "reports/py3/htmlcov", cfg.Stages[1].CovReportDir)
	assert.Equal(t, "python2", cfg.Environments["py2"].Interpreter)

	merged := Resolve(NewDefaults(), cfg, noEnv, nil)
	vr := Validate(merged.Config, &md)
	assert.False(t, vr.HasErrors(), "rendered starter must validate: %v", vr.Errors())
	assert.Empty(t, vr.Warnings())
}

func TestRenderTemplate_ActivateAndQueue(t *testing.T) {
	vars := TemplateVars{
		ProjectName: "solver",
		Environments: []TemplateEnvironment{
			{ID: "intel", Interpreter: "python3", Activate: "module load comp-intel"},
		},
		TestTarget: "test/",
		Scheduler:  SchedulerSlurm,
		Queue:      "debug",
	}
	cfg, _ := renderAndLoad(t, DefaultTemplate, vars)

	assert.Equal(t, "module load comp-intel", cfg.Environments["intel"].Activate)
	assert.Equal(t, SchedulerSlurm, cfg.Batch.Scheduler)
	assert.Equal(t, "debug", cfg.Batch.Queue)
	require.Len(t, cfg.Stages, 1)
	assert.Empty(t, cfg.Stages[0].CovTarget, "coverage omitted when no target is given")
	assert.Equal(t, []string{"test/"}, cfg.Stages[0].Target)
}

func TestRenderTemplate_GoTest(t *testing.T) {
	cfg, md := renderAndLoad(t, "gotest", TemplateVars{
		ProjectName:  "svc",
		Environments: []TemplateEnvironment{{ID: "go122"}},
		TestTarget:   "./...",
		Scheduler:    SchedulerPBS,
	})

	assert.Equal(t, []string{"gotestsum", "--format", "standard-verbose"}, cfg.Runner.Command)
	assert.Equal(t, "--junitfile=", cfg.Runner.JUnitFlag)
	assert.Equal(t, "-count=1", cfg.Environments["go122"].Vars["GOFLAGS"])
	assert.Empty(t, md.Undecoded())
}

func TestRenderTemplate_SkipsExistingUnlessForced(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, ConfigFileName)
	require.NoError(t, os.WriteFile(dest, []byte("# keep\n"), 0o644))

	created, err := RenderTemplate(DefaultTemplate, dir, DefaultTemplateVars("x"), false)
	require.NoError(t, err)
	assert.Empty(t, created)
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "# keep\n", string(data))

	created, err = RenderTemplate(DefaultTemplate, dir, DefaultTemplateVars("x"), true)
	require.NoError(t, err)
	assert.Len(t, created, 1)
	data, err = os.ReadFile(dest)
	require.NoError(t, err)
	assert.Contains(t, string(data), `name = "x"`)
}

func TestRenderTemplate_CreatesDestDir(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "new", "project")
	_, err := RenderTemplate(DefaultTemplate, dest, DefaultTemplateVars("p"), false)
	require.NoError(t, err)
	assert.DirExists(t, dest)
}
