package main_test

import (
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// projectRoot returns the absolute path to the project root directory.
func projectRoot(tb testing.TB) string {
	tb.Helper()

	dir, err := os.Getwd()
	require.NoError(tb, err, "failed to get working directory")

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			tb.Fatal("could not find project root (no go.mod found in any parent directory)")
		}
		dir = parent
	}
}

// buildBinary compiles cmd/regress into a temp dir and returns its path.
func buildBinary(tb testing.TB) string {
	tb.Helper()
	binPath := filepath.Join(tb.TempDir(), "regress")

	cmd := exec.Command("go", "build", "-o", binPath, "./cmd/regress/")
	cmd.Dir = projectRoot(tb)
	cmd.Env = append(os.Environ(), "CGO_ENABLED=0")

	output, err := cmd.CombinedOutput()
	require.NoError(tb, err, "go build failed: %s", string(output))
	return binPath
}

// exitCodeOf returns the process exit status carried by err.
func exitCodeOf(t *testing.T, err error) int {
	t.Helper()
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	require.True(t, errors.As(err, &exitErr), "unexpected error: %v", err)
	return exitErr.ExitCode()
}

func TestBuild_Compiles(t *testing.T) {
	binPath := buildBinary(t)

	info, err := os.Stat(binPath)
	require.NoError(t, err, "binary was not created at %s", binPath)
	assert.Greater(t, info.Size(), int64(0), "binary must not be empty")
}

func TestBinary_NoArgsPrintsHelp(t *testing.T) {
	binPath := buildBinary(t)

	output, err := exec.Command(binPath).CombinedOutput()
	require.NoError(t, err, "binary execution failed with output: %s", string(output))
	assert.Contains(t, string(output), "Sequential cross-environment regression driver")
}

func TestBinary_VersionJSON(t *testing.T) {
	binPath := buildBinary(t)

	output, err := exec.Command(binPath, "version", "--json").Output()
	require.NoError(t, err)

	var info map[string]string
	require.NoError(t, json.Unmarshal(output, &info))
	assert.Contains(t, info, "version")
	assert.Contains(t, info, "go_version")
}

func TestBinary_ExitCodes(t *testing.T) {
	binPath := buildBinary(t)

	tests := []struct {
		name   string
		config string
		args   []string
		want   int
	}{
		{
			name: "no stages is a configuration error",
			args: []string{"run"},
			want: 2,
		},
		{
			name: "failing stage still exits zero",
			config: `
[runner]
command = ["/bin/sh", "-c", "exit 7"]

[environments.a]
interpreter = "sh"

[[stages]]
environment = "a"
artifacts = ["none"]
`,
			args: []string{"run", "--no-echo"},
			want: 0,
		},
		{
			name: "failing stage reflected when asked",
			config: `
[runner]
command = ["/bin/sh", "-c", "exit 7"]

[pipeline]
on_pipeline_exit = "reflect_worst_stage"

[environments.a]
interpreter = "sh"

[[stages]]
environment = "a"
artifacts = ["none"]
`,
			args: []string{"run", "--no-echo"},
			want: 1,
		},
		{
			name: "unknown flag",
			args: []string{"run", "--bogus"},
			want: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			if tt.config != "" {
				require.NoError(t, os.WriteFile(filepath.Join(dir, "regress.toml"), []byte(tt.config), 0o644))
			}
			cmd := exec.Command(binPath, tt.args...)
			cmd.Dir = dir
			cmd.Env = append(os.Environ(), "PBS_JOBID=", "SLURM_JOB_ID=")

			output, err := cmd.CombinedOutput()
			assert.Equal(t, tt.want, exitCodeOf(t, err), string(output))
		})
	}
}

func TestGoVet_Passes(t *testing.T) {
	cmd := exec.Command("go", "vet", "./...")
	cmd.Dir = projectRoot(t)

	output, err := cmd.CombinedOutput()
	require.NoError(t, err, "go vet failed with output: %s", string(output))
}

func TestBinary_VersionLine(t *testing.T) {
	binPath := buildBinary(t)

	output, err := exec.Command(binPath, "version").CombinedOutput()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(output), "regress "), string(output))
}
