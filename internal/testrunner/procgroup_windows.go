//go:build windows

package testrunner

import (
	"os/exec"
	"time"
)

// setProcGroup only sets WaitDelay on Windows; there are no Unix-style
// process groups and exec.CommandContext already kills the direct child.
func setProcGroup(cmd *exec.Cmd) {
	cmd.WaitDelay = waitDelay
}

const waitDelay = 3 * time.Second
