package config

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/charmbracelet/log"
)

//go:embed all:templates
var templateFS embed.FS

// templatesRoot is the top-level directory in the embedded FS that contains
// the starter configurations, one directory per test runner.
const templatesRoot = "templates"

// DefaultTemplate is the starter used by `regress init` when none is named.
const DefaultTemplate = "pytest"

// TemplateEnvironment describes one environment (and the stage that runs
// under it) in a rendered starter configuration.
type TemplateEnvironment struct {
	ID          string
	Interpreter string
	Activate    string
}

// TemplateVars holds variables available for text/template substitution when
// rendering .tmpl files. Non-template files are copied as-is.
type TemplateVars struct {
	ProjectName  string
	Environments []TemplateEnvironment
	// TestTarget is the selection target passed to every stage.
	TestTarget string
	// CovTarget is the package measured for coverage; empty disables coverage.
	CovTarget string
	Scheduler string
	Queue     string
}

// DefaultTemplateVars returns vars describing a two-environment project named
// name, which is what `regress init` renders without the interactive form.
func DefaultTemplateVars(name string) TemplateVars {
	return TemplateVars{
		ProjectName: name,
		Environments: []TemplateEnvironment{
			{ID: "py2", Interpreter: "python2"},
			{ID: "py3", Interpreter: "python3"},
		},
		TestTarget: "tests",
		CovTarget:  name,
		Scheduler:  SchedulerPBS,
	}
}

// ListTemplates returns the names of all embedded starter templates.
func ListTemplates() ([]string, error) {
	entries, err := templateFS.ReadDir(templatesRoot)
	if err != nil {
		return nil, fmt.Errorf("reading templates directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// TemplateExists reports whether a template with the given name exists in the
// embedded filesystem.
func TemplateExists(name string) bool {
	if name == "" || strings.ContainsAny(name, `/\.`) {
		return false
	}
	info, err := fs.Stat(templateFS, templatesRoot+"/"+name)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// RenderTemplate writes the named template's files into destDir. Files whose
// names end in ".tmpl" are processed with text/template using vars and the
// extension is stripped. Existing files are skipped unless force is set.
//
// Returns the paths of the files written.
func RenderTemplate(name string, destDir string, vars TemplateVars, force bool) ([]string, error) {
	if !TemplateExists(name) {
		return nil, fmt.Errorf("template %q not found", name)
	}

	templateDir := templatesRoot + "/" + name
	var created []string

	walkErr := fs.WalkDir(templateFS, templateDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("walking template %s: %w", path, err)
		}
		if d.IsDir() {
			return nil
		}

		relPath := strings.TrimPrefix(path, templateDir+"/")
		isTmpl := strings.HasSuffix(relPath, ".tmpl")
		destFile := filepath.Join(destDir, filepath.FromSlash(strings.TrimSuffix(relPath, ".tmpl")))

		if _, statErr := os.Stat(destFile); statErr == nil {
			if !force {
				log.Debug("skipping existing file", "path", destFile)
				return nil
			}
			log.Debug("overwriting existing file", "path", destFile)
		}

		if mkdirErr := os.MkdirAll(filepath.Dir(destFile), 0o755); mkdirErr != nil {
			return fmt.Errorf("creating directory for %s: %w", destFile, mkdirErr)
		}

		content, readErr := templateFS.ReadFile(path)
		if readErr != nil {
			return fmt.Errorf("reading embedded file %s: %w", path, readErr)
		}

		output := content
		if isTmpl {
			tmpl, parseErr := template.New(d.Name()).Parse(string(content))
			if parseErr != nil {
				return fmt.Errorf("parsing template %s: %w", path, parseErr)
			}
			var buf bytes.Buffer
			if execErr := tmpl.Execute(&buf, vars); execErr != nil {
				return fmt.Errorf("executing template %s: %w", path, execErr)
			}
			output = buf.Bytes()
		}

		if writeErr := os.WriteFile(destFile, output, 0o644); writeErr != nil {
			return fmt.Errorf("writing file %s: %w", destFile, writeErr)
		}

		log.Debug("created template file", "path", destFile)
		created = append(created, destFile)
		return nil
	})
	if walkErr != nil {
		return nil, walkErr
	}

	return created, nil
}
