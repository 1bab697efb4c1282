package worker

import "os/exec"

func setProcAttr(cmd *exec.Cmd) {
	// No-op on Windows.
}

// signal kills the process. Windows has no graceful termination signal
// for console processes without a window.
func (p *proc) signal(_ bool) error {
	return p.cmd.Process.Kill()
}
