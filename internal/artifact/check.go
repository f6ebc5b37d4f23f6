// Package artifact verifies stage report artifacts and persists run records.
package artifact

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/cespare/xxhash/v2"
)

// File describes one artifact found on disk.
type File struct {
	Path  string `json:"path"`
	IsDir bool   `json:"is_dir,omitempty"`
	Size  int64  `json:"size"`
	// Files counts regular files under a directory artifact.
	Files   int       `json:"files,omitempty"`
	ModTime time.Time `json:"mod_time"`
	// Fingerprint is the xxhash64 of the file contents, or for a directory of
	// its sorted relative paths and per-file digests.
	Fingerprint string `json:"fingerprint"`
	// Fresh is true when the artifact was modified at or after the check's
	// reference time, i.e. it was written by this run.
	Fresh bool `json:"fresh"`
}

// Check is the outcome of resolving one expected report path.
type Check struct {
	Pattern string `json:"pattern"`
	Exists  bool   `json:"exists"`
	Matches []File `json:"matches,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Stale reports whether the pattern matched only artifacts older than the
// reference time.
func (c Check) Stale() bool {
	if !c.Exists {
		return false
	}
	for _, m := range c.Matches {
		if m.Fresh {
			return false
		}
	}
	return true
}

// CheckPaths resolves each pattern (doublestar globs allowed) relative to
// root and fingerprints what it finds. Artifacts modified before since are
// reported as not fresh; a zero since treats everything as fresh.
func CheckPaths(root string, patterns []string, since time.Time) []Check {
	checks := make([]Check, 0, len(patterns))
	for _, pattern := range patterns {
		checks = append(checks, checkOne(root, pattern, since))
	}
	return checks
}

func checkOne(root, pattern string, since time.Time) Check {
	c := Check{Pattern: pattern}

	full := pattern
	if !filepath.IsAbs(full) && root != "" {
		full = filepath.Join(root, full)
	}

	matches, err := doublestar.FilepathGlob(full)
	if err != nil {
		c.Error = fmt.Sprintf("bad pattern: %v", err)
		return c
	}

	for _, m := range matches {
		f, err := describe(m, since)
		if err != nil {
			c.Error = err.Error()
			continue
		}
		c.Matches = append(c.Matches, f)
	}
	c.Exists = len(c.Matches) > 0
	return c
}

func describe(path string, since time.Time) (File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return File{}, err
	}
	f := File{
		Path:    path,
		IsDir:   info.IsDir(),
		ModTime: info.ModTime(),
	}

	var sum uint64
	if info.IsDir() {
		sum, f.Files, f.Size, f.ModTime, err = hashDir(path, f.ModTime)
	} else {
		f.Size = info.Size()
		sum, err = hashFile(path)
	}
	if err != nil {
		return File{}, fmt.Errorf("fingerprinting %s: %w", path, err)
	}
	f.Fingerprint = fmt.Sprintf("%016x", sum)
	f.Fresh = since.IsZero() || !f.ModTime.Before(since)
	return f, nil
}

func hashFile(path string) (uint64, error) {
	fh, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer fh.Close()

	d := xxhash.New()
	if _, err := io.Copy(d, fh); err != nil {
		return 0, err
	}
	return d.Sum64(), nil
}

// hashDir digests a directory tree. WalkDir visits entries in lexical order,
// so the digest is independent of creation order. The newest modification
// time in the tree is returned so a regenerated report counts as fresh.
func hashDir(root string, modTime time.Time) (sum uint64, files int, size int64, newest time.Time, err error) {
	d := xxhash.New()
	newest = modTime
	err = filepath.WalkDir(root, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !entry.Type().IsRegular() {
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		fileSum, err := hashFile(path)
		if err != nil {
			return err
		}
		fmt.Fprintf(d, "%s\x00%016x\n", filepath.ToSlash(rel), fileSum)

		files++
		size += info.Size()
		if info.ModTime().After(newest) {
			newest = info.ModTime()
		}
		return nil
	})
	return d.Sum64(), files, size, newest, err
}
