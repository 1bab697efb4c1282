package worker

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"go.uber.org/zap"
)

type proc struct {
	pid int
	cmd *exec.Cmd

	stdin  io.WriteCloser
	stdout *os.File
	stderr *os.File

	// done is closed once the process has been reaped, err holds
	// the result of cmd.Wait afterwards
	done chan struct{}
	err  error

	closeStdin sync.Once

	log *zap.Logger
}

func startProc(config StartConfig, log *zap.Logger) (*proc, error) {
	if config.Cmd == "" {
		return nil, ErrEmptyCommand
	}

	cmd := exec.Command(config.Cmd, config.Args...)
	cmd.Env = mergeEnv(os.Environ(), config.Env)

	if config.Cwd != "" {
		cmd.Dir = config.Cwd
	}

	setProcAttr(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}

	// use plain os pipes rather than cmd.StdoutPipe, which is closed by
	// cmd.Wait and would race with the reader draining buffered output
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, err
	}

	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		closeAll(stdoutR, stdoutW)
		return nil, err
	}

	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		closeAll(stdoutR, stdoutW, stderrR, stderrW)
		return nil, err
	}

	// the child holds its own copies of the write ends
	closeAll(stdoutW, stderrW)

	process := &proc{
		pid:    cmd.Process.Pid,
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdoutR,
		stderr: stderrR,
		done:   make(chan struct{}),
		log:    log.Named("proc").With(zap.Int("pid", cmd.Process.Pid)),
	}

	go func() {
		// block until the process exits
		process.err = cmd.Wait()
		close(process.done)
	}()

	return process, nil
}

func (p *proc) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Terminate asks the process to stop. It returns immediately.
func (p *proc) Terminate() error {
	return p.stop(false)
}

// Kill stops the process without further ado. It returns immediately.
func (p *proc) Kill() error {
	return p.stop(true)
}

func (p *proc) stop(force bool) error {
	// report success if the process terminated by the time the request arrives
	if p.exited() {
		p.log.Debug("process already terminated")
		return nil
	}

	log := p.log.With(zap.Bool("force", force))

	// close stdin before signalling, to
	// avoid the process hanging on input
	if err := p.CloseStdin(); err != nil {
		log.Debug("close stdin failed", zap.Error(err))
	}

	log.Info("sending stop signal")

	if err := p.signal(force); err != nil && !p.exited() {
		log.Error("stop failed", zap.Error(err))
		return err
	}

	return nil
}

// CloseStdin closes the stdin pipe of the process. It is safe to call
// more than once.
func (p *proc) CloseStdin() error {
	var err error
	p.closeStdin.Do(func() {
		err = p.stdin.Close()
	})

	return err
}

func mergeEnv(base []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return base
	}

	env := make([]string, 0, len(base)+len(overrides))
	for _, kv := range base {
		key, _, _ := cut(kv)
		if _, ok := overrides[key]; ok {
			continue
		}
		env = append(env, kv)
	}

	for k, v := range overrides {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	return env
}

func cut(kv string) (string, string, bool) {
	for i := 0; i < len(kv); i++ {
		// windows keeps per-drive cwd entries such as "=C:=C:\"
		if kv[i] == '=' && i > 0 {
			return kv[:i], kv[i+1:], true
		}
	}

	return kv, "", false
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}

func getExitEvent(err error, stderr string) ExitEvent {
	var cell int
	var exitStatus *int
	var signo *int

	var exitError *exec.ExitError

	if err == nil {
		// the process exited successfully, set the exit code to 0
		exitStatus = &cell
	} else if errors.As(err, &exitError) {
		if status, ok := exitError.Sys().(syscall.WaitStatus); ok {
			if status.Signaled() {
				// the process was terminated by a signal
				cell = int(status.Signal())
				signo = &cell
			} else {
				// the process exited with an exit code
				cell = status.ExitStatus()
				exitStatus = &cell
			}
		}
	}

	if signo == nil && exitStatus == nil {
		// could not determine the exit status or signal,
		// set exit status to 1
		cell = 1
		exitStatus = &cell
	}

	return ExitEvent{
		Code:   exitStatus,
		Signal: signo,
		Stderr: stderr,
	}
}
