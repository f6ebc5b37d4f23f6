package testrunner

import (
	"errors"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/AbdelazizMoustafa10m/regress/internal/env"
)

// resolveBinary finds name on the PATH of the child environment rather than
// the PATH of this process, so an environment's path_prepend decides which
// interpreter runs. Names containing a separator are returned unchanged.
func resolveBinary(name string, environ []string) (string, error) {
	if strings.ContainsRune(name, os.PathSeparator) || strings.ContainsRune(name, '/') {
		return name, nil
	}

	path, ok := env.Lookup(environ, "PATH")
	if !ok {
		path = os.Getenv("PATH")
	}

	exts := []string{""}
	if runtime.GOOS == "windows" {
		exts = windowsExts(environ)
	}

	for _, dir := range filepath.SplitList(path) {
		if dir == "" {
			continue
		}
		for _, ext := range exts {
			candidate := filepath.Join(dir, name+ext)
			if isExecutable(candidate) {
				return candidate, nil
			}
		}
	}
	return "", &exec.Error{Name: name, Err: exec.ErrNotFound}
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	if info.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode()&0o111 != 0
}

func windowsExts(environ []string) []string {
	pathext, ok := env.Lookup(environ, "PATHEXT")
	if !ok || pathext == "" {
		pathext = ".com;.exe;.bat;.cmd"
	}
	exts := []string{""}
	for _, e := range strings.Split(strings.ToLower(pathext), ";") {
		if e != "" {
			exts = append(exts, e)
		}
	}
	return exts
}

// IsNotFound reports whether err means the runner binary could not be found.
func IsNotFound(err error) bool {
	return errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist)
}
