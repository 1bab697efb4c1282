package worker_test

import (
	"bufio"
	"context"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/touchline-analytics/touchline-host/internal/execution/worker"
	"github.com/touchline-analytics/touchline-host/util"
)

func TestWorker_Start_IsAlive(t *testing.T) {
	w := worker.NewProcessWorker(context.Background(), worker.StartConfig{Cmd: "cat"}, zap.NewNop())

	err := w.Start(context.Background())
	assert.NoError(t, err)

	defer w.Kill()

	pid := w.Pid()
	require.NotZero(t, pid, "pid should be set after Start")

	require.Eventually(t, func() bool {
		return util.IsProcessAlive(pid)
	}, 2*time.Second, 10*time.Millisecond, "process never reported alive")
}

func TestWorker_Start_FailsIfStarted(t *testing.T) {
	w := worker.NewProcessWorker(context.Background(), worker.StartConfig{Cmd: "cat"}, zap.NewNop())

	err := w.Start(context.Background())
	assert.NoError(t, err)

	defer w.Kill()

	err = w.Start(context.Background())
	require.ErrorIs(t, err, worker.ErrWorkerAlreadyStarted)
}

func TestWorker_Start_ReturnsErrorIfInvalidCommand(t *testing.T) {
	w := worker.NewProcessWorker(context.Background(), worker.StartConfig{Cmd: ""}, zap.NewNop())

	err := w.Start(context.Background())
	assert.ErrorIs(t, err, worker.ErrEmptyCommand)
}

func TestWorker_Start_ReturnsErrorIfMissingExecutable(t *testing.T) {
	w := worker.NewProcessWorker(context.Background(), worker.StartConfig{
		Cmd: "/nonexistent/touchline_cli",
	}, zap.NewNop())

	err := w.Start(context.Background())
	assert.Error(t, err)
	assert.Zero(t, w.Pid())
}

func TestWorker_Start_FailsIfContextCancelled(t *testing.T) {
	w := worker.NewProcessWorker(context.Background(), worker.StartConfig{Cmd: "cat"}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := w.Start(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWorker_KillsIfLifetimeCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	w := worker.NewProcessWorker(ctx, worker.StartConfig{Cmd: "cat"}, zap.NewNop())

	err := w.Start(context.Background())
	require.NoError(t, err)

	// cancel the worker lifetime
	cancel()

	evt, err := w.WaitFor(context.Background(), 5*time.Second)
	require.NoError(t, err)

	require.NotNil(t, evt.Signal)
	assert.Equal(t, syscall.SIGKILL, syscall.Signal(*evt.Signal))
	assert.Nil(t, evt.Code)
}

func TestWorker_CapturesStderr(t *testing.T) {
	w := worker.NewProcessWorker(context.Background(), worker.StartConfig{
		Cmd:  "sh",
		Args: []string{"-c", ">&2 echo \"error\""},
	}, zap.NewNop())

	err := w.Start(context.Background())
	assert.NoError(t, err)

	evt, err := w.Wait(context.Background())
	assert.NoError(t, err)

	assert.Equal(t, 0, *evt.Code)
	assert.True(t, evt.Success())
	assert.Equal(t, "error\n", evt.Stderr)
}

func TestWorker_StderrTailIsBounded(t *testing.T) {
	w := worker.NewProcessWorker(context.Background(), worker.StartConfig{
		Cmd:  "sh",
		Args: []string{"-c", "head -c 200000 /dev/zero | tr '\\0' 'x' >&2; echo end >&2"},
	}, zap.NewNop())

	require.NoError(t, w.Start(context.Background()))

	evt, err := w.WaitFor(context.Background(), 5*time.Second)
	require.NoError(t, err)

	assert.Len(t, evt.Stderr, worker.StderrTailSize)
	assert.True(t, strings.HasSuffix(evt.Stderr, "xend\n"))
}

func TestWorker_Wait_ReturnsExitEvent(t *testing.T) {
	w := worker.NewProcessWorker(context.Background(), worker.StartConfig{
		Cmd:  "sh",
		Args: []string{"-c", "exit 3"},
	}, zap.NewNop())

	err := w.Start(context.Background())
	assert.NoError(t, err)

	evt, err := w.Wait(context.Background())
	assert.NoError(t, err)

	assert.Equal(t, 3, *evt.Code)
	assert.Nil(t, evt.Signal)
	assert.Equal(t, "exit code 3", evt.String())
}

func TestWorker_Wait_ReturnsErrorIfNotStarted(t *testing.T) {
	w := worker.NewProcessWorker(context.Background(), worker.StartConfig{Cmd: "cat"}, zap.NewNop())

	_, err := w.Wait(context.Background())
	assert.ErrorIs(t, err, worker.ErrWorkerNotStarted)
}

func TestWorker_Wait_ReturnsErrorIfContextCancelled(t *testing.T) {
	w := worker.NewProcessWorker(context.Background(), worker.StartConfig{Cmd: "cat"}, zap.NewNop())

	err := w.Start(context.Background())
	assert.NoError(t, err)

	defer w.Kill()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = w.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWorker_Wait_ReturnsSameEventIfCalledMultiple(t *testing.T) {
	w := worker.NewProcessWorker(context.Background(), worker.StartConfig{Cmd: "echo"}, zap.NewNop())

	err := w.Start(context.Background())
	assert.NoError(t, err)

	first, err := w.Wait(context.Background())
	assert.NoError(t, err)

	second, err := w.Wait(context.Background())
	assert.NoError(t, err)

	assert.Equal(t, first, second)

	select {
	case <-w.Done():
	default:
		t.Fatal("done channel should be closed after exit")
	}
}

func TestWorker_WaitFor_ReturnsErrorIfTimeout(t *testing.T) {
	w := worker.NewProcessWorker(context.Background(), worker.StartConfig{
		Cmd:  "sleep",
		Args: []string{"1"},
	}, zap.NewNop())

	err := w.Start(context.Background())
	assert.NoError(t, err)

	defer w.Kill()

	_, err = w.WaitFor(context.Background(), 100*time.Millisecond)
	assert.ErrorIs(t, err, worker.ErrKillTimeout)
}

func TestWorker_Kill_KillsProcess(t *testing.T) {
	w := worker.NewProcessWorker(context.Background(), worker.StartConfig{Cmd: "sleep", Args: []string{"10"}}, zap.NewNop())

	err := w.Start(context.Background())
	assert.NoError(t, err)

	require.NoError(t, w.Kill())

	evt, err := w.WaitFor(context.Background(), 2*time.Second)
	require.NoError(t, err)
	require.NotNil(t, evt.Signal)
	assert.Equal(t, syscall.SIGKILL, syscall.Signal(*evt.Signal))
}

func TestWorker_Terminate_TerminatesProcess(t *testing.T) {
	w := worker.NewProcessWorker(context.Background(), worker.StartConfig{Cmd: "sleep", Args: []string{"10"}}, zap.NewNop())

	err := w.Start(context.Background())
	assert.NoError(t, err)

	require.NoError(t, w.Terminate())

	evt, err := w.WaitFor(context.Background(), 2*time.Second)
	require.NoError(t, err)

	// the process should have been terminated w/ a sigterm
	require.NotNil(t, evt.Signal)
	assert.Equal(t, syscall.SIGTERM, syscall.Signal(*evt.Signal))
	assert.Nil(t, evt.Code)

	// the process should not be alive
	assert.Equal(t, false, util.IsProcessAlive(w.Pid()))
}

func TestWorker_Terminate_ReturnsErrorIfNotStarted(t *testing.T) {
	w := worker.NewProcessWorker(context.Background(), worker.StartConfig{Cmd: "cat"}, zap.NewNop())

	assert.ErrorIs(t, w.Terminate(), worker.ErrWorkerNotStarted)
	assert.ErrorIs(t, w.Kill(), worker.ErrWorkerNotStarted)
	assert.ErrorIs(t, w.Write([]byte("x\n")), worker.ErrWorkerNotStarted)
	assert.Nil(t, w.Stdout())
}

func TestWorker_Write_EchoesThroughStdout(t *testing.T) {
	w := worker.NewProcessWorker(context.Background(), worker.StartConfig{Cmd: "cat"}, zap.NewNop())

	err := w.Start(context.Background())
	require.NoError(t, err)

	defer w.Kill()

	require.NoError(t, w.Write([]byte("foobar\n")))

	line, err := bufio.NewReader(w.Stdout()).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "foobar\n", line)
}

func TestWorker_Write_ReturnsErrorAfterExit(t *testing.T) {
	w := worker.NewProcessWorker(context.Background(), worker.StartConfig{Cmd: "true"}, zap.NewNop())

	require.NoError(t, w.Start(context.Background()))

	_, err := w.Wait(context.Background())
	require.NoError(t, err)

	assert.Error(t, w.Write([]byte("late\n")))
}

func TestWorker_Stdout_DeliversOutputAfterExit(t *testing.T) {
	w := worker.NewProcessWorker(context.Background(), worker.StartConfig{
		Cmd:  "echo",
		Args: []string{"foobar"},
	}, zap.NewNop())

	require.NoError(t, w.Start(context.Background()))

	_, err := w.Wait(context.Background())
	require.NoError(t, err)

	// buffered output stays readable once the process is gone
	line, err := bufio.NewReader(w.Stdout()).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "foobar\n", line)
}

func TestWorker_Env_MergesWithHostEnvironment(t *testing.T) {
	t.Setenv("TOUCHLINE_HOST_MARKER", "host")

	w := worker.NewProcessWorker(context.Background(), worker.StartConfig{
		Cmd:  "sh",
		Args: []string{"-c", "echo $TOUCHLINE_HOST_MARKER-$PYTHONUNBUFFERED"},
		Env:  map[string]string{"PYTHONUNBUFFERED": "1"},
	}, zap.NewNop())

	require.NoError(t, w.Start(context.Background()))

	line, err := bufio.NewReader(w.Stdout()).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "host-1\n", line)
}

func TestWorker_Cwd(t *testing.T) {
	dir := t.TempDir()

	w := worker.NewProcessWorker(context.Background(), worker.StartConfig{
		Cmd: "pwd",
		Cwd: dir,
	}, zap.NewNop())

	require.NoError(t, w.Start(context.Background()))

	line, err := bufio.NewReader(w.Stdout()).ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, line, dir[strings.LastIndex(dir, "/")+1:])
}
