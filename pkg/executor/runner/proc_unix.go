//go:build !windows

package runner

import (
	"os"
	"os/exec"
	"syscall"
)

var defaultShell = []string{"/bin/sh", "-c"}

// configureProcessGroup places the child in a new process group and makes
// cancellation kill the whole group rather than only the direct child.
func configureProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		// A negative pid addresses the process group.
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}

// exitStatus reports -N for a child killed by signal N.
func exitStatus(state *os.ProcessState) int {
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return -int(ws.Signal())
	}
	return state.ExitCode()
}
