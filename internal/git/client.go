// Package git reads the source revision a regression run was executed
// against. It shells out to the git binary and never modifies the work tree.
package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Revision identifies the checked-out source under test.
type Revision struct {
	Commit string `json:"commit"`
	Branch string `json:"branch,omitempty"`
	Dirty  bool   `json:"dirty,omitempty"`
}

// String renders the revision as "branch@commit", with a "+dirty" suffix
// when the work tree has uncommitted changes.
func (r Revision) String() string {
	s := r.Commit
	if r.Branch != "" {
		s = r.Branch + "@" + s
	}
	if r.Dirty {
		s += "+dirty"
	}
	return s
}

// ErrNotRepository is returned when the work directory is not inside a git
// repository, or git is not installed.
var ErrNotRepository = errors.New("git: not a git repository")

// Client runs read-only git queries in WorkDir.
type Client struct {
	// WorkDir is the directory git runs in. Empty means the current directory.
	WorkDir string

	// GitBin is the git executable. Defaults to "git".
	GitBin string
}

// NewClient returns a client for workDir. It fails with ErrNotRepository
// when workDir is not part of a repository.
func NewClient(ctx context.Context, workDir string) (*Client, error) {
	c := &Client{WorkDir: workDir, GitBin: "git"}
	if _, err := c.run(ctx, "rev-parse", "--git-dir"); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotRepository, err)
	}
	return c, nil
}

// CurrentBranch returns the checked-out branch, or "" on a detached HEAD.
func (c *Client) CurrentBranch(ctx context.Context) (string, error) {
	out, err := c.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("git: current branch: %w", err)
	}
	branch := strings.TrimSpace(out)
	if branch == "HEAD" {
		return "", nil
	}
	return branch, nil
}

// HeadCommit returns the short SHA of HEAD.
func (c *Client) HeadCommit(ctx context.Context) (string, error) {
	out, err := c.run(ctx, "rev-parse", "--short", "HEAD")
	if err != nil {
		return "", fmt.Errorf("git: head commit: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// HasUncommittedChanges reports whether tracked or untracked files differ
// from HEAD.
func (c *Client) HasUncommittedChanges(ctx context.Context) (bool, error) {
	out, err := c.run(ctx, "status", "--porcelain")
	if err != nil {
		return false, fmt.Errorf("git: status: %w", err)
	}
	return strings.TrimSpace(out) != "", nil
}

// Revision collects commit, branch and dirty state in one call.
func (c *Client) Revision(ctx context.Context) (Revision, error) {
	commit, err := c.HeadCommit(ctx)
	if err != nil {
		return Revision{}, err
	}
	branch, err := c.CurrentBranch(ctx)
	if err != nil {
		return Revision{}, err
	}
	dirty, err := c.HasUncommittedChanges(ctx)
	if err != nil {
		return Revision{}, err
	}
	return Revision{Commit: commit, Branch: branch, Dirty: dirty}, nil
}

// Probe returns the revision of the repository containing dir, or nil when
// dir is not under version control. Any git failure is reported as nil.
func Probe(ctx context.Context, dir string) *Revision {
	c, err := NewClient(ctx, dir)
	if err != nil {
		return nil
	}
	rev, err := c.Revision(ctx)
	if err != nil {
		return nil
	}
	return &rev
}

// run executes git and returns stdout. A non-zero exit is returned as an
// error carrying git's stderr.
func (c *Client) run(ctx context.Context, args ...string) (string, error) {
	bin := c.GitBin
	if bin == "" {
		bin = "git"
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = c.WorkDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("exit status %d: %s", exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
		}
		return "", err
	}
	return stdout.String(), nil
}
