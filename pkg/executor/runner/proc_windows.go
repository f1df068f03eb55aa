//go:build windows

package runner

import (
	"os"
	"os/exec"
)

var defaultShell = []string{"cmd", "/C"}

func configureProcessGroup(cmd *exec.Cmd) {}

func exitStatus(state *os.ProcessState) int {
	return state.ExitCode()
}
