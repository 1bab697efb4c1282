//go:build !windows

package worker

import (
	"os/exec"
	"syscall"
)

func setProcAttr(cmd *exec.Cmd) {
	// run the worker in its own process group, so signals
	// reach any helper processes it spawned
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func (p *proc) signal(force bool) error {
	signal := syscall.SIGTERM
	if force {
		signal = syscall.SIGKILL
	}

	if pgid, err := syscall.Getpgid(p.pid); err == nil {
		// Negative pid sends signal to all in process group
		return syscall.Kill(-pgid, signal)
	}

	return syscall.Kill(p.pid, signal)
}
