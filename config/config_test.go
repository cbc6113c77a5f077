package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "memory", cfg.Realtime.Backend)
	assert.Equal(t, int64(5<<20), cfg.Storage.MaxUploadBytes)
	assert.Equal(t, []string{"image/jpeg", "image/png", "image/gif"}, cfg.Storage.AllowedTypes)
	assert.Equal(t, 50, cfg.Wall.FeedLimit)
	assert.Equal(t, 280, cfg.Wall.MaxContentLength)
	assert.Equal(t, "wall-photos", cfg.Wall.Bucket)
	assert.Equal(t, 30*time.Second, cfg.Client.SubmitTimeout)
}

func TestLoadFileEnvAndFlags(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wall.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9000
realtime:
  relay_poll: 200ms
client:
  author: From File
`), 0o644))

	t.Setenv("WALL_CLIENT_AUTHOR", "From Env")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("server-url", "", "")
	require.NoError(t, fs.Parse([]string{"--server-url", "http://wall.test"}))

	cfg, err := Load(path, fs)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 200*time.Millisecond, cfg.Realtime.RelayPoll)
	assert.Equal(t, "From Env", cfg.Client.Author)
	assert.Equal(t, "http://wall.test", cfg.Client.ServerURL)
}

func TestValidate(t *testing.T) {
	chdir(t, t.TempDir())

	t.Setenv("WALL_REALTIME_BACKEND", "redis")
	_, err := Load("", nil)
	require.Error(t, err)

	t.Setenv("WALL_REALTIME_BACKEND", "postgres")
	_, err = Load("", nil)
	require.Error(t, err)

	t.Setenv("WALL_REALTIME_BACKEND", "carrier-pigeon")
	_, err = Load("", nil)
	require.Error(t, err)
}

func TestValidateRelayWorkersOnSQLite(t *testing.T) {
	chdir(t, t.TempDir())

	t.Setenv("WALL_REALTIME_RELAY_WORKERS", "4")
	_, err := Load("", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "relay_workers")

	t.Setenv("WALL_DATABASE_DRIVER", "postgres")
	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Realtime.RelayWorkers)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	require.Error(t, err)
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}
