//go:build unix

package task

import (
	"os/exec"
	"syscall"
)

// setProcessGroup puts the worker in its own process group so terminal
// signals aimed at the parent do not reach it.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
