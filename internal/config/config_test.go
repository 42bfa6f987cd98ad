package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 10*time.Second, cfg.Poll.Delay)
	assert.Equal(t, 30, cfg.Poll.MaxPolls)
	assert.Equal(t, "./aeolis.sh {}", cfg.Publish.Command)
	assert.Equal(t, []string{`\.nc$`}, cfg.Publish.StorePatterns)
	assert.Equal(t, []string{`\.log$`, `\.nc$`, `\.pyc$`}, cfg.Publish.ExcludePatterns)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
runner: 6c1f0f5e-runner
storage:
  endpoint: minio.internal:9000
  use_ssl: true
queue:
  addr: redis.internal:6379
  prefix: test
poll:
  delay: 2s
  max_polls: 5
worker:
  work_dir: /scratch
  stop_on_empty: true
publish:
  command: "model {}"
  store_patterns:
    - \.out$
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "6c1f0f5e-runner", cfg.Runner)
	assert.Equal(t, "minio.internal:9000", cfg.Storage.Endpoint)
	assert.True(t, cfg.Storage.UseSSL)
	assert.Equal(t, "test", cfg.Queue.Prefix)
	assert.Equal(t, 2*time.Second, cfg.Poll.Delay)
	assert.Equal(t, 5, cfg.Poll.MaxPolls)
	assert.True(t, cfg.Worker.StopOnEmpty)
	assert.Equal(t, "model {}", cfg.Publish.Command)
	assert.Equal(t, []string{`\.out$`}, cfg.Publish.StorePatterns)
	// untouched sections keep their defaults
	assert.Equal(t, []string{`\.log$`, `\.nc$`, `\.pyc$`}, cfg.Publish.ExcludePatterns)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Poll, cfg.Poll)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("poll: [unterminated"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ADR_RUNNER", "env-runner")
	t.Setenv("ADR_POLL_DELAY", "250ms")
	t.Setenv("ADR_POLL_MAX", "3")
	t.Setenv("ADR_MINIO_USE_SSL", "yes")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "env-runner", cfg.Runner)
	assert.Equal(t, 250*time.Millisecond, cfg.Poll.Delay)
	assert.Equal(t, 3, cfg.Poll.MaxPolls)
	assert.True(t, cfg.Storage.UseSSL)
}

func TestSaveRoundTripAndPermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := Default()
	cfg.Runner = "saved-runner"
	cfg.Storage.SecretKey = "secret"

	require.NoError(t, Save(path, cfg))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "saved-runner", loaded.Runner)
	assert.Equal(t, "secret", loaded.Storage.SecretKey)
	assert.Equal(t, cfg.Poll, loaded.Poll)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Publish.StorePatterns = []string{"("}
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Poll.MaxPolls = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Queue.Addr = " "
	assert.Error(t, cfg.Validate())
}

func TestResolveRunner(t *testing.T) {
	cfg := Default()

	_, err := cfg.ResolveRunner("")
	assert.ErrorIs(t, err, ErrNoRunner)

	cfg.Runner = "default"
	r, err := cfg.ResolveRunner("")
	require.NoError(t, err)
	assert.Equal(t, "default", r)

	r, err = cfg.ResolveRunner("explicit")
	require.NoError(t, err)
	assert.Equal(t, "explicit", r)
}

func TestSetKey(t *testing.T) {
	cfg := Default()

	require.NoError(t, SetKey(&cfg, "poll.max_polls", "7"))
	require.NoError(t, SetKey(&cfg, "poll.delay", "3s"))
	require.NoError(t, SetKey(&cfg, "worker.stop_on_empty", "true"))
	require.NoError(t, SetKey(&cfg, "publish.store_patterns", `['\.nc$', '\.out$']`))
	require.NoError(t, SetKey(&cfg, "runner", "abc"))

	assert.Equal(t, 7, cfg.Poll.MaxPolls)
	assert.Equal(t, 3*time.Second, cfg.Poll.Delay)
	assert.True(t, cfg.Worker.StopOnEmpty)
	assert.Equal(t, []string{`\.nc$`, `\.out$`}, cfg.Publish.StorePatterns)
	assert.Equal(t, "abc", cfg.Runner)

	assert.Error(t, SetKey(&cfg, "poll.unknown", "1"))
	assert.Error(t, SetKey(&cfg, "nope.max_polls", "1"))
}

func TestMasked(t *testing.T) {
	cfg := Default()
	cfg.Storage.SecretKey = "ABCDEFGHIJ"

	m := Masked(cfg)
	assert.Equal(t, "********IJ", m.Storage.SecretKey)
	assert.Equal(t, "ABCDEFGHIJ", cfg.Storage.SecretKey)
	assert.Equal(t, "", m.Queue.Password)
}
