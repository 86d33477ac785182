//go:build !unix

package procmgr

import (
	"os"
	"os/exec"
)

func setProcessGroup(cmd *exec.Cmd) {}

func requestStop(p *os.Process) error {
	if p == nil {
		return os.ErrProcessDone
	}
	return p.Kill()
}

func forceKill(p *os.Process) error {
	if p == nil {
		return os.ErrProcessDone
	}
	return p.Kill()
}

// ConfigureGroup prepares cmd so that Cancel kills the process it starts.
func ConfigureGroup(cmd *exec.Cmd) {
	cmd.Cancel = func() error {
		return forceKill(cmd.Process)
	}
}
