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

func TestDefaults(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "http://127.0.0.1:23700", cfg.Directory.Address)
	assert.Equal(t, "get_pose", cfg.Readiness.Service)
	assert.Equal(t, "r1", cfg.Readiness.ObjectID)
	assert.Equal(t, 50, cfg.Readiness.MinLength)
	assert.Equal(t, 100*time.Millisecond, cfg.Readiness.Interval)
	assert.Equal(t, time.Duration(0), cfg.Readiness.Ceiling)
	assert.Equal(t, "/r1/laser1_scan", cfg.Scan.Topic)
	assert.Equal(t, 181, cfg.Scan.ExpectedRanges)
	assert.InDelta(t, 9.96, cfg.Scan.FirstRange, 1e-9)
	assert.InDelta(t, 0.2, cfg.Scan.Tolerance, 1e-9)
	assert.Equal(t, 100, cfg.Wait.Iterations)
	assert.Equal(t, 100*time.Millisecond, cfg.Wait.Interval)
	assert.Equal(t, "WARN", cfg.Simulator.Verbosity)
	assert.InDelta(t, 0.1, cfg.Simulator.RealtimeFactor, 1e-9)
	assert.Equal(t, []string{"r1"}, cfg.Fakesim.Objects)
}

func TestLoadFile(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "mvsim.yaml")
	content := `
log_level: debug
directory:
  address: "http://127.0.0.1:24000"
readiness:
  ceiling: 30s
wait:
  iterations: 20
  interval: 50ms
simulator:
  extra_args: ["--full-profiler"]
`
	require.NoError(t, os.WriteFile(configFile, []byte(content), 0644))

	cfg, err := Load(configFile, nil)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "http://127.0.0.1:24000", cfg.Directory.Address)
	assert.Equal(t, 30*time.Second, cfg.Readiness.Ceiling)
	assert.Equal(t, 20, cfg.Wait.Iterations)
	assert.Equal(t, 50*time.Millisecond, cfg.Wait.Interval)
	assert.Equal(t, []string{"--full-profiler"}, cfg.Simulator.ExtraArgs)
	// Untouched keys keep their defaults.
	assert.Equal(t, 181, cfg.Scan.ExpectedRanges)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, err)
}

func TestEnvironment(t *testing.T) {
	t.Setenv("MVSIM_DIRECTORY_ADDRESS", "http://10.0.0.2:23700")
	t.Setenv("MVSIM_WAIT_ITERATIONS", "7")
	t.Setenv("MVSIM_CLI_EXE_PATH", "/opt/mvsim/bin/mvsim")
	t.Setenv("TESTS_DIR", "/opt/mvsim/tests")

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.2:23700", cfg.Directory.Address)
	assert.Equal(t, 7, cfg.Wait.Iterations)
	assert.Equal(t, "/opt/mvsim/bin/mvsim", cfg.Simulator.ExePath)
	assert.Equal(t, "/opt/mvsim/tests/test-still-lidar2d.world.xml", cfg.WorldPath())
}

func TestFlags(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--directory.address", "http://127.0.0.1:25000", "--log_level", "warn"}))

	cfg, err := Load("", fs)
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:25000", cfg.Directory.Address)
	assert.Equal(t, "warn", cfg.LogLevel)
	// Flags left unset do not override defaults.
	assert.Equal(t, "mvsim", cfg.Simulator.ExePath)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Wait.Iterations = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Readiness.Interval = 0
	assert.Error(t, cfg.Validate())

	t.Setenv("MVSIM_SCAN_TOLERANCE", "-1")
	_, err := Load("", nil)
	assert.Error(t, err)
}

func TestWorldPath(t *testing.T) {
	cfg := Default()
	cfg.Simulator.World = "/abs/world.xml"
	assert.Equal(t, "/abs/world.xml", cfg.WorldPath())
}
