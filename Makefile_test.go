package regress_test

import (
	"bufio"
	"encoding/json"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// makefile is the parsed subset of the Makefile the tests care about.
type makefile struct {
	vars    map[string]string
	recipes map[string][]string
	phony   []string
}

var (
	ruleLine   = regexp.MustCompile(`^([a-z][a-z-]*):`)
	assignLine = regexp.MustCompile(`^([A-Z_]+)\s*[:?]?=\s*(.*)$`)
	ldflagVar  = regexp.MustCompile(`-X \$\(MODULE\)/internal/buildinfo\.([A-Za-z]+)=\$\(([A-Z]+)\)`)
)

func projectRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	require.NoError(t, err)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("go.mod not found above the working directory")
		}
		dir = parent
	}
}

// parseMakefile reads variables, rule recipes and .PHONY names. Backslash
// continuations are joined before matching.
func parseMakefile(t *testing.T) makefile {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(projectRoot(t), "Makefile"))
	require.NoError(t, err)

	mf := makefile{vars: map[string]string{}, recipes: map[string][]string{}}
	var logical []string
	var pending strings.Builder
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasSuffix(line, `\`) {
			pending.WriteString(strings.TrimSuffix(line, `\`) + " ")
			continue
		}
		pending.WriteString(line)
		logical = append(logical, pending.String())
		pending.Reset()
	}

	current := ""
	for _, line := range logical {
		switch {
		case strings.HasPrefix(line, "\t") && current != "":
			mf.recipes[current] = append(mf.recipes[current], strings.TrimSpace(line))
		case strings.HasPrefix(line, ".PHONY:"):
			mf.phony = strings.Fields(strings.TrimPrefix(line, ".PHONY:"))
			current = ""
		case assignLine.MatchString(line):
			m := assignLine.FindStringSubmatch(line)
			mf.vars[m[1]] = strings.Join(strings.Fields(m[2]), " ")
			current = ""
		case ruleLine.MatchString(line):
			current = ruleLine.FindStringSubmatch(line)[1]
			mf.recipes[current] = nil
		default:
			current = ""
		}
	}
	return mf
}

// makeIn runs make with variable overrides in the project root.
func makeIn(t *testing.T, args ...string) string {
	t.Helper()
	if _, err := exec.LookPath("make"); err != nil {
		t.Skip("make not installed")
	}
	cmd := exec.Command("make", args...)
	cmd.Dir = projectRoot(t)
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "make %s:\n%s", strings.Join(args, " "), out)
	return string(out)
}

// buildinfoVars returns the package-level string variables of internal/buildinfo.
func buildinfoVars(t *testing.T) map[string]bool {
	t.Helper()
	pkgs, err := parser.ParseDir(token.NewFileSet(), filepath.Join(projectRoot(t), "internal", "buildinfo"),
		func(fi os.FileInfo) bool { return !strings.HasSuffix(fi.Name(), "_test.go") }, 0)
	require.NoError(t, err)

	vars := make(map[string]bool)
	for _, pkg := range pkgs {
		for _, f := range pkg.Files {
			for _, decl := range f.Decls {
				gen, ok := decl.(*ast.GenDecl)
				if !ok || gen.Tok != token.VAR {
					continue
				}
				for _, spec := range gen.Specs {
					for _, name := range spec.(*ast.ValueSpec).Names {
						vars[name.Name] = true
					}
				}
			}
		}
	}
	return vars
}

func TestMakefile_ModuleMatchesGoMod(t *testing.T) {
	t.Parallel()
	mf := parseMakefile(t)

	gomod, err := os.ReadFile(filepath.Join(projectRoot(t), "go.mod"))
	require.NoError(t, err)
	first, _, _ := strings.Cut(string(gomod), "\n")
	assert.Equal(t, "module "+mf.vars["MODULE"], first)
	assert.Equal(t, "regress", mf.vars["BINARY"])
}

// Every -X target must name a variable that exists, or the linker silently
// ignores it.
func TestMakefile_LdflagsNameBuildinfoVars(t *testing.T) {
	t.Parallel()
	mf := parseMakefile(t)
	declared := buildinfoVars(t)

	matches := ldflagVar.FindAllStringSubmatch(mf.vars["LDFLAGS"], -1)
	require.Len(t, matches, 3, "LDFLAGS = %q", mf.vars["LDFLAGS"])
	for _, m := range matches {
		assert.True(t, declared[m[1]], "buildinfo.%s is not declared", m[1])
		_, ok := mf.vars[m[2]]
		assert.True(t, ok, "make variable %s is not defined", m[2])
	}
}

func TestMakefile_PhonyListsEveryRule(t *testing.T) {
	t.Parallel()
	mf := parseMakefile(t)

	rules := make([]string, 0, len(mf.recipes))
	for name := range mf.recipes {
		rules = append(rules, name)
	}
	assert.ElementsMatch(t, rules, mf.phony)
}

func TestMakefile_Recipes(t *testing.T) {
	t.Parallel()
	mf := parseMakefile(t)

	tests := []struct {
		target  string
		want    []string
		exclude []string
	}{
		{target: "build", want: []string{"CGO_ENABLED=0", `-ldflags "$(LDFLAGS)"`, "-o $(DIST)/$(BINARY)", "./cmd/regress"}},
		{target: "install", want: []string{"CGO_ENABLED=0", "go install", `-ldflags "$(LDFLAGS)"`}},
		{target: "build-debug", want: []string{`-gcflags "all=-N -l"`, "$(BINARY)-debug"}, exclude: []string{"LDFLAGS"}},
		{target: "test", want: []string{"go test -race ./..."}},
		{target: "test-short", want: []string{"-short"}},
		{target: "bench", want: []string{"-bench", "-benchmem"}},
		{target: "completions", want: []string{"./scripts/gen-completions"}},
		{target: "manpages", want: []string{"./scripts/gen-manpages"}},
		{target: "clean", want: []string{"rm -rf $(DIST)"}},
	}

	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			t.Parallel()
			recipe, ok := mf.recipes[tt.target]
			require.True(t, ok, "no %s rule", tt.target)
			joined := strings.Join(recipe, "\n")
			for _, w := range tt.want {
				assert.Contains(t, joined, w)
			}
			for _, x := range tt.exclude {
				assert.NotContains(t, joined, x)
			}
		})
	}
}

// buildInfo is the subset of `regress version --json` the build stamps.
type buildInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

func versionOf(t *testing.T, bin string) buildInfo {
	t.Helper()
	out, err := exec.Command(bin, "version", "--json").Output()
	require.NoError(t, err)
	var info buildInfo
	require.NoError(t, json.Unmarshal(out, &info), "%s", out)
	return info
}

func TestMakeBuild_StampsBuildInfo(t *testing.T) {
	if testing.Short() {
		t.Skip("builds the binary")
	}
	dist := t.TempDir()

	makeIn(t, "build", "DIST="+dist, "VERSION=9.9.9-test", "COMMIT=c0ffee1", "DATE=2026-10-18T00:00:00Z")

	assert.Equal(t, buildInfo{Version: "9.9.9-test", Commit: "c0ffee1", Date: "2026-10-18T00:00:00Z"},
		versionOf(t, filepath.Join(dist, "regress")))
}

func TestMakeBuild_DefaultCommitFromGit(t *testing.T) {
	if testing.Short() {
		t.Skip("builds the binary")
	}
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	head, err := exec.Command("git", "-C", projectRoot(t), "rev-parse", "--short", "HEAD").Output()
	if err != nil {
		t.Skip("project is not a git checkout")
	}
	dist := t.TempDir()

	makeIn(t, "build", "DIST="+dist)

	info := versionOf(t, filepath.Join(dist, "regress"))
	assert.Equal(t, strings.TrimSpace(string(head)), info.Commit)
	assert.NotEqual(t, "dev", info.Version)
	assert.Regexp(t, `^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}Z$`, info.Date)
}

func TestMakeBuildDebug_Unstamped(t *testing.T) {
	if testing.Short() {
		t.Skip("builds the binary")
	}
	dist := t.TempDir()

	makeIn(t, "build-debug", "DIST="+dist)

	info := versionOf(t, filepath.Join(dist, "regress-debug"))
	assert.Equal(t, "dev", info.Version)
	assert.Equal(t, "unknown", info.Commit)
}

func TestMakeClean_RemovesDist(t *testing.T) {
	dist := filepath.Join(t.TempDir(), "dist")
	require.NoError(t, os.MkdirAll(dist, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dist, "regress"), []byte("stale"), 0o755))

	makeIn(t, "clean", "DIST="+dist)

	assert.NoDirExists(t, dist)
}
