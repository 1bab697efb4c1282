package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCaptured(t *testing.T, args ...string) (int, []byte) {
	t.Helper()

	var out bytes.Buffer

	writer := rootApp.Writer
	rootApp.Writer = &out
	t.Cleanup(func() {
		rootApp.Writer = writer
	})

	code := run(context.Background(), append([]string{appName}, args...))

	return code, out.Bytes()
}

func TestPaths_Flags(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "admin.db")

	code, out := runCaptured(t, "--worker-command", "sh", "--data-path", dbPath, "paths")
	require.Equal(t, 0, code)

	var paths map[string]string
	require.NoError(t, json.Unmarshal(out, &paths))

	assert.Equal(t, dbPath, paths["dbPath"])
	assert.True(t, filepath.IsAbs(paths["cliPath"]))
	assert.Equal(t, "sh", filepath.Base(paths["cliPath"]))
}

func TestPaths_Env(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "env.db")

	t.Setenv("TOUCHLINE_WORKER__LAUNCH__COMMAND", "sh")
	t.Setenv("TOUCHLINE_WORKER__LAUNCH__DATA_PATH", dbPath)

	code, out := runCaptured(t, "paths")
	require.Equal(t, 0, code)

	var paths map[string]string
	require.NoError(t, json.Unmarshal(out, &paths))

	assert.Equal(t, dbPath, paths["dbPath"])
}

func TestPaths_UnsupportedConfigFile(t *testing.T) {
	code, out := runCaptured(t, "--config", "host.toml", "paths")

	assert.Equal(t, 1, code)
	assert.Empty(t, out)
}
