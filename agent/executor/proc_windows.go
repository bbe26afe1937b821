package executor

import (
	"os"
	"os/exec"
)

// Windows has no process groups to signal, so only the child itself is killed.
func setProcessGroup(cmd *exec.Cmd) {}

func killProcessGroup(p *os.Process) error {
	return p.Kill()
}
