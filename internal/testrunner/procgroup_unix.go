//go:build !windows

package testrunner

import (
	"os/exec"
	"syscall"
	"time"
)

// setProcGroup runs cmd in its own process group so that cancellation and
// timeouts kill the runner together with every worker it forked.
func setProcGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	cmd.WaitDelay = waitDelay
}

// waitDelay bounds how long Wait blocks on output pipes after the group
// has been killed.
const waitDelay = 3 * time.Second
