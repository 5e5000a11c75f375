package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) error {
	t.Helper()
	rootCmd.SetArgs(args)
	rootCmd.SetOut(&bytes.Buffer{})
	rootCmd.SetErr(&bytes.Buffer{})
	return rootCmd.Execute()
}

// writeConfig はモックドライバーを使う設定ファイルを作る
func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, execute(t, "config", "init", path))

	t.Setenv("CAMKEEPER_CAMERA_DRIVER", "mock")
	t.Setenv("CAMKEEPER_RECORDER_DIR", filepath.Join(dir, "recordings"))
	return path
}

func TestConfigInit(t *testing.T) {
	path := writeConfig(t)
	_, err := os.Stat(path)
	require.NoError(t, err)

	// 2回目は上書きしない
	assert.Error(t, execute(t, "config", "init", path))
	assert.NoError(t, execute(t, "config", "init", "--force", path))
}

func TestSnapshot(t *testing.T) {
	path := writeConfig(t)
	out := filepath.Join(t.TempDir(), "frame.jpg")

	require.NoError(t, execute(t, "--config", path, "snapshot", "--out", out))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Greater(t, len(data), 2)
	assert.Equal(t, []byte{0xFF, 0xD8}, data[:2])
}

func TestDevices(t *testing.T) {
	path := writeConfig(t)
	assert.NoError(t, execute(t, "--config", path, "devices"))
	assert.Equal(t, "mock", cfg.Camera.Driver)
}
