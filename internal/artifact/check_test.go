package artifact

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestCheckPaths_FileAndDirectory(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "test", "junit.xml"), "<testsuite/>")
	writeFile(t, filepath.Join(root, "test", "htmlcov", "index.html"), "<html/>")
	writeFile(t, filepath.Join(root, "test", "htmlcov", "style.css"), "body{}")

	checks := CheckPaths(root, []string{"test/junit.xml", "test/htmlcov", "test/missing.xml"}, time.Time{})
	require.Len(t, checks, 3)

	junit := checks[0]
	assert.True(t, junit.Exists)
	require.Len(t, junit.Matches, 1)
	assert.False(t, junit.Matches[0].IsDir)
	assert.Equal(t, int64(len("<testsuite/>")), junit.Matches[0].Size)
	assert.Len(t, junit.Matches[0].Fingerprint, 16)
	assert.True(t, junit.Matches[0].Fresh)

	cov := checks[1]
	assert.True(t, cov.Exists)
	require.Len(t, cov.Matches, 1)
	assert.True(t, cov.Matches[0].IsDir)
	assert.Equal(t, 2, cov.Matches[0].Files)

	assert.False(t, checks[2].Exists)
	assert.Empty(t, checks[2].Matches)
	assert.Empty(t, checks[2].Error)
}

func TestCheckPaths_Globs(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "reports", "py2", "run.log"), "a")
	writeFile(t, filepath.Join(root, "reports", "py3", "deep", "run.log"), "b")
	writeFile(t, filepath.Join(root, "reports", "py3", "other.txt"), "c")

	checks := CheckPaths(root, []string{"reports/**/*.log", "reports/*.none"}, time.Time{})
	require.Len(t, checks, 2)

	assert.True(t, checks[0].Exists)
	assert.Len(t, checks[0].Matches, 2)
	assert.False(t, checks[1].Exists)
}

func TestCheckPaths_BadPattern(t *testing.T) {
	t.Parallel()
	checks := CheckPaths(t.TempDir(), []string{"reports/[unclosed"}, time.Time{})
	require.Len(t, checks, 1)
	assert.False(t, checks[0].Exists)
	assert.Contains(t, checks[0].Error, "bad pattern")
}

func TestCheckPaths_AbsolutePattern(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	abs := filepath.Join(dir, "junit.xml")
	writeFile(t, abs, "x")

	checks := CheckPaths("/somewhere/else", []string{abs}, time.Time{})
	assert.True(t, checks[0].Exists)
}

func TestCheckPaths_Freshness(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	path := filepath.Join(root, "junit.xml")
	writeFile(t, path, "old")
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))

	since := time.Now().Add(-time.Minute)
	checks := CheckPaths(root, []string{"junit.xml"}, since)
	assert.True(t, checks[0].Exists)
	assert.False(t, checks[0].Matches[0].Fresh)
	assert.True(t, checks[0].Stale())

	writeFile(t, path, "new")
	checks = CheckPaths(root, []string{"junit.xml"}, since)
	assert.True(t, checks[0].Matches[0].Fresh)
	assert.False(t, checks[0].Stale())
}

func TestCheck_StaleMissing(t *testing.T) {
	t.Parallel()
	assert.False(t, Check{Exists: false}.Stale())
}

func TestFingerprint_DirectoryIsContentAddressed(t *testing.T) {
	t.Parallel()
	a := t.TempDir()
	b := t.TempDir()
	// Same tree, created in a different order.
	writeFile(t, filepath.Join(a, "x", "1.html"), "one")
	writeFile(t, filepath.Join(a, "2.html"), "two")
	writeFile(t, filepath.Join(b, "2.html"), "two")
	writeFile(t, filepath.Join(b, "x", "1.html"), "one")

	fa := CheckPaths("", []string{a}, time.Time{})[0].Matches[0].Fingerprint
	fb := CheckPaths("", []string{b}, time.Time{})[0].Matches[0].Fingerprint
	assert.Equal(t, fa, fb)

	writeFile(t, filepath.Join(b, "x", "1.html"), "changed")
	fc := CheckPaths("", []string{b}, time.Time{})[0].Matches[0].Fingerprint
	assert.NotEqual(t, fa, fc)
}

func TestFingerprint_FileChangesWithContent(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	path := filepath.Join(root, "r.xml")
	writeFile(t, path, "a")
	first := CheckPaths(root, []string{"r.xml"}, time.Time{})[0].Matches[0].Fingerprint
	writeFile(t, path, "b")
	second := CheckPaths(root, []string{"r.xml"}, time.Time{})[0].Matches[0].Fingerprint
	assert.NotEqual(t, first, second)
}
