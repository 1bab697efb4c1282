package runtime_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/touchline-analytics/touchline-host/internal/execution/models"
	"github.com/touchline-analytics/touchline-host/internal/execution/supervisor"
	"github.com/touchline-analytics/touchline-host/internal/execution/worker"
	"github.com/touchline-analytics/touchline-host/internal/execution/worker/workertest"
	"github.com/touchline-analytics/touchline-host/runtime"
)

// newRuntime returns a runtime whose workers become ready and echo requests.
func newRuntime(t *testing.T, launch supervisor.LaunchConfig) (*runtime.WorkerRuntime, *atomic.Int32) {
	t.Helper()

	var spawned atomic.Int32

	config := supervisor.DefaultConfig()
	config.StartTimeout = 2 * time.Second
	config.DrainTimeout = 10 * time.Millisecond

	sup := supervisor.New(supervisor.Params{
		Config: config,
		Launcher: supervisor.LauncherFunc(func() (worker.StartConfig, error) {
			return worker.StartConfig{Cmd: "touchline_cli"}, nil
		}),
		WorkerFactory: func(context.Context, worker.StartConfig, *zap.Logger) worker.Worker {
			spawned.Add(1)

			w := workertest.New()
			w.Serve(workertest.Echo)
			go w.Ready()

			return w
		},
		Log: zap.NewNop(),
	})

	r := runtime.NewWithSupervisor(sup, supervisor.NewLauncher(launch), zap.NewNop())

	t.Cleanup(func() {
		_ = r.Cleanup(context.Background())
	})

	return r, &spawned
}

func TestRuntime_InitializeThenCommand(t *testing.T) {
	r, _ := newRuntime(t, supervisor.LaunchConfig{})

	require.NoError(t, r.Initialize(context.Background()))

	data, err := r.Command(context.Background(), "sponsors.get_all", map[string]any{"limit": 5})
	require.NoError(t, err)
	assert.Equal(t, 5.0, data["limit"])

	status := r.Status()
	assert.Equal(t, supervisor.StateReady, status.State)
	assert.Equal(t, map[string]any{"status": "ready"}, status.Ready)
	assert.NotZero(t, status.Pid)
}

func TestRuntime_InitializeIsIdempotent(t *testing.T) {
	r, spawned := newRuntime(t, supervisor.LaunchConfig{})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, r.Initialize(context.Background()))
		}()
	}
	wg.Wait()

	require.NoError(t, r.Initialize(context.Background()))
	assert.EqualValues(t, 1, spawned.Load())
}

func TestRuntime_InitializeAfterCleanupRestarts(t *testing.T) {
	r, spawned := newRuntime(t, supervisor.LaunchConfig{})

	require.NoError(t, r.Initialize(context.Background()))
	require.NoError(t, r.Cleanup(context.Background()))
	assert.Equal(t, supervisor.StateTerminated, r.Status().State)

	require.NoError(t, r.Initialize(context.Background()))
	assert.EqualValues(t, 2, spawned.Load())
}

func TestRuntime_CommandBeforeInitialize(t *testing.T) {
	r, _ := newRuntime(t, supervisor.LaunchConfig{})

	_, err := r.Command(context.Background(), "echo", nil)

	var notReady *supervisor.NotReadyError
	assert.ErrorAs(t, err, &notReady)
}

func TestRuntime_InitializeFailureIsRetryable(t *testing.T) {
	attempts := 0

	sup := supervisor.New(supervisor.Params{
		Launcher: supervisor.LauncherFunc(func() (worker.StartConfig, error) {
			attempts++
			if attempts == 1 {
				return worker.StartConfig{}, errors.New("not installed")
			}
			return worker.StartConfig{Cmd: "touchline_cli"}, nil
		}),
		WorkerFactory: func(context.Context, worker.StartConfig, *zap.Logger) worker.Worker {
			w := workertest.New()
			go w.Ready()
			return w
		},
		Log: zap.NewNop(),
	})

	r := runtime.NewWithSupervisor(sup, supervisor.NewLauncher(supervisor.LaunchConfig{}), zap.NewNop())
	t.Cleanup(func() { _ = r.Cleanup(context.Background()) })

	err := r.Initialize(context.Background())

	var spawnErr *supervisor.SpawnError
	require.ErrorAs(t, err, &spawnErr)

	status := r.Status()
	assert.Equal(t, supervisor.StateFailed, status.State)
	assert.Contains(t, status.Error, "not installed")

	require.NoError(t, r.Initialize(context.Background()))
	assert.Equal(t, supervisor.StateReady, r.Status().State)
}

func TestRuntime_SubscribeReceivesEvents(t *testing.T) {
	var fake *workertest.Worker

	sup := supervisor.New(supervisor.Params{
		Launcher: supervisor.LauncherFunc(func() (worker.StartConfig, error) {
			return worker.StartConfig{Cmd: "touchline_cli"}, nil
		}),
		WorkerFactory: func(context.Context, worker.StartConfig, *zap.Logger) worker.Worker {
			fake = workertest.New()
			go fake.Ready()
			return fake
		},
		Log: zap.NewNop(),
	})

	r := runtime.NewWithSupervisor(sup, supervisor.NewLauncher(supervisor.LaunchConfig{}), zap.NewNop())
	t.Cleanup(func() { _ = r.Cleanup(context.Background()) })

	received := make(chan models.Event, 1)
	sub := r.Subscribe("training.progress", func(evt models.Event) error {
		received <- evt
		return nil
	})
	defer sub.Unsubscribe()

	require.NoError(t, r.Initialize(context.Background()))
	require.NoError(t, fake.EmitEnvelope(models.NewEvent("training.progress", map[string]any{"epoch": 3}, time.Now())))

	select {
	case evt := <-received:
		assert.Equal(t, 3.0, evt.Data["epoch"])
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestRuntime_Paths(t *testing.T) {
	root := t.TempDir()

	r, _ := newRuntime(t, supervisor.LaunchConfig{
		AppRoot:  root,
		DataPath: root + "/data/admin.db",
	})

	paths, err := r.Paths()
	require.NoError(t, err)

	assert.Contains(t, paths.CLI, "touchline_cli")
	assert.Equal(t, root+"/data/admin.db", paths.DB)
}
