package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/adr/internal/config"
	"github.com/example/adr/internal/objstore"
	"github.com/example/adr/internal/queue"
)

type cliEnv struct {
	t      *testing.T
	config string
	store  *objstore.Memory
	broker *queue.MemoryBroker
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Log.Output = "stdout"
	cfg.Poll.Delay = time.Millisecond
	cfg.Poll.MaxPolls = 1
	cfg.Worker.WorkDir = filepath.Join(dir, "work")
	cfg.Worker.Address = "worker-1"
	cfg.Publish.TempDir = dir
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, config.Save(path, cfg))

	env := &cliEnv{
		t:      t,
		config: path,
		store:  objstore.NewMemory(),
		broker: queue.NewMemoryBroker(nil, time.Minute),
	}
	previous := backendFactory
	backendFactory = func(context.Context, config.Config) (objstore.Store, queue.Broker, error) {
		return env.store, env.broker, nil
	}
	t.Cleanup(func() { backendFactory = previous })
	return env
}

// run executes one CLI invocation. Flag values are package globals, so they
// are reset before every run.
func (e *cliEnv) run(args ...string) (string, error) {
	e.t.Helper()
	resetFlags(rootCmd)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append([]string{"--config", e.config}, args...))
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func (e *cliEnv) defaultRunner() string {
	cfg, err := config.LoadFile(e.config)
	require.NoError(e.t, err)
	return cfg.Runner
}

func TestCLIRoundTrip(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run("create")
	require.NoError(t, err)
	runner := strings.TrimSpace(out)
	require.NotEmpty(t, runner)
	assert.Equal(t, runner, env.defaultRunner())

	out, err = env.run("list")
	require.NoError(t, err)
	assert.Equal(t, "* "+runner+"\n", out)

	inputs := filepath.Join(t.TempDir(), "inputs")
	for _, rel := range []string{"a/one.txt", "b/two.txt"} {
		p := filepath.Join(inputs, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(rel), 0o644))
	}

	out, err = env.run("queue", filepath.Join(inputs, "*", "*.txt"),
		"--command", "cp {} {}.out", "--store", `\.out$`)
	require.NoError(t, err)
	assert.Contains(t, out, "2 jobs queued")
	pending, _ := env.broker.Depth(runner)
	assert.Equal(t, 2, pending)

	_, err = env.run("process", "--stop-on-empty")
	require.NoError(t, err)
	pending, inflight := env.broker.Depth(runner)
	assert.Zero(t, pending)
	assert.Zero(t, inflight)

	out, err = env.run("workers")
	require.NoError(t, err)
	assert.Empty(t, out, "worker deregisters on exit")

	dest := t.TempDir()
	out, err = env.run("download", dest)
	require.NoError(t, err)
	assert.Equal(t, "downloaded 2 files, skipped 0 existing\n", out)

	out, err = env.run("download", dest)
	require.NoError(t, err)
	assert.Equal(t, "downloaded 0 files, skipped 2 existing\n", out)

	out, err = env.run("destroy")
	require.NoError(t, err)
	assert.Equal(t, "destroyed "+runner+"\n", out)
	assert.Empty(t, env.defaultRunner())

	_, err = env.run("process")
	assert.ErrorIs(t, err, config.ErrNoRunner)
}

func TestCLISetDefaultRunner(t *testing.T) {
	env := newCLIEnv(t)

	first, err := env.run("create")
	require.NoError(t, err)
	second, err := env.run("create")
	require.NoError(t, err)
	first, second = strings.TrimSpace(first), strings.TrimSpace(second)
	assert.Equal(t, second, env.defaultRunner())

	_, err = env.run("set", first)
	require.NoError(t, err)
	assert.Equal(t, first, env.defaultRunner())

	_, err = env.run("set", "no-such-runner")
	assert.Error(t, err)
	assert.Equal(t, first, env.defaultRunner())

	_, err = env.run("destroy")
	require.NoError(t, err)
	assert.Equal(t, second, env.defaultRunner())
}

func TestCLIConfigCommands(t *testing.T) {
	env := newCLIEnv(t)

	_, err := env.run("config", "set", "storage.secret_key", "supersecretvalue")
	require.NoError(t, err)
	_, err = env.run("config", "set", "poll.delay", "5s")
	require.NoError(t, err)

	cfg, err := config.LoadFile(env.config)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.Poll.Delay)
	assert.Equal(t, "supersecretvalue", cfg.Storage.SecretKey)

	out, err := env.run("config", "show")
	require.NoError(t, err)
	assert.NotContains(t, out, "supersecretvalue")
	assert.Contains(t, out, "delay: 5s")

	_, err = env.run("config", "set", "no.such.key", "1")
	assert.Error(t, err)

	_, err = env.run("config", "init")
	assert.Error(t, err, "existing file is kept without --force")
	_, err = env.run("config", "init", "--force")
	require.NoError(t, err)
	cfg, err = config.LoadFile(env.config)
	require.NoError(t, err)
	assert.Equal(t, config.Default().Poll.Delay, cfg.Poll.Delay)
}

func TestExpandInputs(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.txt", "b.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}

	files, err := expandInputs([]string{filepath.Join(dir, "*.txt"), filepath.Join(dir, "a.txt"), "missing.txt"})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.txt"), filepath.Join(dir, "b.txt"), "missing.txt"}, files)
}
