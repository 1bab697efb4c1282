package supervisor

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"strings"

	"github.com/touchline-analytics/touchline-host/internal/execution/worker"
)

const (
	DefaultExecutable = "touchline_cli"
	DefaultDataEnv    = "TOUCHLINE_DB_PATH"

	dataDirName  = "Touchline"
	dataFileName = "admin.db"
)

var ErrNotExecutable = errors.New("not an executable file")

// LaunchConfig describes where the worker executable lives and which
// environment it runs in.
type LaunchConfig struct {
	// Command overrides executable resolution. It is looked up in PATH
	// if it doesn't contain a path separator.
	Command string `conf:"command"`

	// Args is the list of arguments to pass to the worker
	Args []string `conf:"args"`

	// Packaged selects the packaged layout below ResourcesPath instead
	// of the development layout below AppRoot
	Packaged bool `conf:"packaged"`

	// AppRoot is the development checkout. Defaults to the working directory.
	AppRoot string `conf:"app_root"`

	// ResourcesPath is the packaged resources directory. Defaults to the
	// directory of the host executable.
	ResourcesPath string `conf:"resources_path"`

	// Executable is the base name of the worker binary. ".exe" is
	// appended on Windows.
	Executable string `conf:"executable"`

	// DataPath is the worker's data store. Its parent directory is
	// the worker's working directory.
	DataPath string `conf:"data_path"`

	// DataEnv is the environment variable pointing the worker at DataPath
	DataEnv string `conf:"data_env"`

	// Env holds extra environment variables for the worker
	Env map[string]string `conf:"env"`
}

func DefaultLaunchConfig() LaunchConfig {
	return LaunchConfig{
		Executable: DefaultExecutable,
		DataEnv:    DefaultDataEnv,
	}
}

// Launcher resolves how to start a worker. It is consulted on every start.
type Launcher interface {
	Resolve() (worker.StartConfig, error)
}

// Paths are the resolved locations of the worker executable and its data.
type Paths struct {
	CLI string `json:"cliPath"`
	DB  string `json:"dbPath"`
}

type DefaultLauncher struct {
	config LaunchConfig
	goos   string
}

var _ Launcher = (*DefaultLauncher)(nil)

func NewLauncher(config LaunchConfig) *DefaultLauncher {
	return &DefaultLauncher{
		config: config,
		goos:   goruntime.GOOS,
	}
}

// Paths resolves the executable and data paths without checking that
// they exist.
func (l *DefaultLauncher) Paths() (Paths, error) {
	cli, err := l.executablePath()
	if err != nil {
		return Paths{}, err
	}

	db, err := l.dataPath()
	if err != nil {
		return Paths{}, err
	}

	return Paths{CLI: cli, DB: db}, nil
}

// Resolve returns the start configuration for the worker. A missing
// executable yields a SpawnError. The data directory is created.
func (l *DefaultLauncher) Resolve() (worker.StartConfig, error) {
	paths, err := l.Paths()
	if err != nil {
		return worker.StartConfig{}, &SpawnError{Err: err}
	}

	info, err := os.Stat(paths.CLI)
	if err != nil {
		return worker.StartConfig{}, &SpawnError{Path: paths.CLI, Err: err}
	}

	if info.IsDir() {
		return worker.StartConfig{}, &SpawnError{Path: paths.CLI, Err: ErrNotExecutable}
	}

	dataDir := filepath.Dir(paths.DB)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return worker.StartConfig{}, &SpawnError{
			Path: paths.CLI,
			Err:  fmt.Errorf("create data directory: %w", err),
		}
	}

	env := make(map[string]string, len(l.config.Env)+2)
	maps.Copy(env, l.config.Env)
	env["PYTHONUNBUFFERED"] = "1"
	env[l.dataEnv()] = paths.DB

	return worker.StartConfig{
		Cmd:  paths.CLI,
		Args: l.config.Args,
		Cwd:  dataDir,
		Env:  env,
	}, nil
}

func (l *DefaultLauncher) executablePath() (string, error) {
	if cmd := l.config.Command; cmd != "" {
		path, err := exec.LookPath(cmd)
		if err != nil {
			return "", err
		}

		return filepath.Abs(path)
	}

	name := l.config.Executable
	if name == "" {
		name = DefaultExecutable
	}

	if l.goos == "windows" && !strings.HasSuffix(strings.ToLower(name), ".exe") {
		name += ".exe"
	}

	if l.config.Packaged {
		root := l.config.ResourcesPath
		if root == "" {
			exe, err := os.Executable()
			if err != nil {
				return "", fmt.Errorf("resolve resources path: %w", err)
			}
			root = filepath.Dir(exe)
		}

		return filepath.Join(root, "python", DefaultExecutable, name), nil
	}

	root := l.config.AppRoot
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("resolve app root: %w", err)
		}
		root = wd
	}

	return filepath.Join(root, "resources", "python", DefaultExecutable, name), nil
}

func (l *DefaultLauncher) dataPath() (string, error) {
	if l.config.DataPath != "" {
		return filepath.Abs(l.config.DataPath)
	}

	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve data path: %w", err)
	}

	return filepath.Join(dir, dataDirName, dataFileName), nil
}

func (l *DefaultLauncher) dataEnv() string {
	if l.config.DataEnv == "" {
		return DefaultDataEnv
	}

	return l.config.DataEnv
}

// LauncherFunc adapts a function to the Launcher interface.
type LauncherFunc func() (worker.StartConfig, error)

func (f LauncherFunc) Resolve() (worker.StartConfig, error) {
	return f()
}
