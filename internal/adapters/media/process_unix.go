//go:build !windows

package media

import (
	"os/exec"
	"syscall"
	"time"
)

// configureProcAttr puts the child in its own process group and makes
// cancellation kill the whole group, so ffmpeg helpers never outlive a node.
func configureProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		pgid, err := syscall.Getpgid(cmd.Process.Pid)
		if err != nil {
			// Process may have already exited
			return cmd.Process.Kill()
		}
		if err := syscall.Kill(-pgid, syscall.SIGKILL); err != nil && err != syscall.ESRCH {
			return err
		}
		return nil
	}
	cmd.WaitDelay = 2 * time.Second
}
