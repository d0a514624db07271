//go:build windows

package media

import (
	"os/exec"
	"time"
)

// configureProcAttr only bounds the wait on Windows (Setpgid not supported).
func configureProcAttr(cmd *exec.Cmd) {
	cmd.WaitDelay = 2 * time.Second
}
