// Package config loads the settings shared by the commands.
package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override: directory.address is
// read from MVSIM_DIRECTORY_ADDRESS.
const EnvPrefix = "MVSIM"

type DirectoryConfig struct {
	Address         string        `mapstructure:"address"`
	ConnectAttempts int           `mapstructure:"connect_attempts"`
	ConnectInterval time.Duration `mapstructure:"connect_interval"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

type SimulatorConfig struct {
	// Launch starts ExePath before connecting. Disable it to attach to a
	// simulator that is already running.
	Launch         bool          `mapstructure:"launch"`
	ExePath        string        `mapstructure:"exe_path"`
	TestsDir       string        `mapstructure:"tests_dir"`
	World          string        `mapstructure:"world"`
	Verbosity      string        `mapstructure:"verbosity"`
	RealtimeFactor float64       `mapstructure:"realtime_factor"`
	ExtraArgs      []string      `mapstructure:"extra_args"`
	StopTimeout    time.Duration `mapstructure:"stop_timeout"`
}

type ReadinessConfig struct {
	Service        string        `mapstructure:"service"`
	ObjectID       string        `mapstructure:"object_id"`
	MinLength      int           `mapstructure:"min_length"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
	Interval       time.Duration `mapstructure:"interval"`
	// Ceiling of zero waits for as long as the run's context allows.
	Ceiling time.Duration `mapstructure:"ceiling"`
	// Probe checks only that the service is served, skipping MinLength.
	Probe bool `mapstructure:"probe"`
}

type ScanConfig struct {
	Topic          string  `mapstructure:"topic"`
	ExpectedRanges int     `mapstructure:"expected_ranges"`
	FirstRange     float64 `mapstructure:"first_range"`
	Tolerance      float64 `mapstructure:"tolerance"`
	// Fixture, when set, is a JSON file overriding the values above.
	Fixture string `mapstructure:"fixture"`
}

type WaitConfig struct {
	Iterations int           `mapstructure:"iterations"`
	Interval   time.Duration `mapstructure:"interval"`
}

type ShutdownConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"` // empty disables the endpoint
}

// FakesimConfig drives the stand-in simulator.
type FakesimConfig struct {
	StartupDelay time.Duration `mapstructure:"startup_delay"`
	Period       time.Duration `mapstructure:"period"`
	FirstRange   float64       `mapstructure:"first_range"`
	Ranges       int           `mapstructure:"ranges"`
	Objects      []string      `mapstructure:"objects"`
}

type Config struct {
	LogLevel  string          `mapstructure:"log_level"`
	Directory DirectoryConfig `mapstructure:"directory"`
	Simulator SimulatorConfig `mapstructure:"simulator"`
	Readiness ReadinessConfig `mapstructure:"readiness"`
	Scan      ScanConfig      `mapstructure:"scan"`
	Wait      WaitConfig      `mapstructure:"wait"`
	Shutdown  ShutdownConfig  `mapstructure:"shutdown"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Fakesim   FakesimConfig   `mapstructure:"fakesim"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")

	v.SetDefault("directory.address", "http://127.0.0.1:23700")
	v.SetDefault("directory.connect_attempts", 50)
	v.SetDefault("directory.connect_interval", 100*time.Millisecond)
	v.SetDefault("directory.timeout", 2*time.Second)

	v.SetDefault("simulator.launch", true)
	v.SetDefault("simulator.exe_path", "mvsim")
	v.SetDefault("simulator.tests_dir", ".")
	v.SetDefault("simulator.world", "test-still-lidar2d.world.xml")
	v.SetDefault("simulator.verbosity", "WARN")
	v.SetDefault("simulator.realtime_factor", 0.1)
	v.SetDefault("simulator.extra_args", []string{})
	v.SetDefault("simulator.stop_timeout", 5*time.Second)

	v.SetDefault("readiness.service", "get_pose")
	v.SetDefault("readiness.object_id", "r1")
	v.SetDefault("readiness.min_length", 50)
	v.SetDefault("readiness.attempt_timeout", time.Second)
	v.SetDefault("readiness.interval", 100*time.Millisecond)
	v.SetDefault("readiness.ceiling", time.Duration(0))
	v.SetDefault("readiness.probe", false)

	v.SetDefault("scan.topic", "/r1/laser1_scan")
	v.SetDefault("scan.expected_ranges", 181)
	v.SetDefault("scan.first_range", 9.96)
	v.SetDefault("scan.tolerance", 0.2)
	v.SetDefault("scan.fixture", "")

	v.SetDefault("wait.iterations", 100)
	v.SetDefault("wait.interval", 100*time.Millisecond)

	v.SetDefault("shutdown.timeout", 2*time.Second)

	v.SetDefault("metrics.listen_addr", "")

	v.SetDefault("fakesim.startup_delay", 500*time.Millisecond)
	v.SetDefault("fakesim.period", 50*time.Millisecond)
	v.SetDefault("fakesim.first_range", 9.96)
	v.SetDefault("fakesim.ranges", 181)
	v.SetDefault("fakesim.objects", []string{"r1"})
}

// RegisterFlags defines the command line overrides understood by Load.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "YAML configuration file")
	fs.String("log_level", "info", "log level (debug, info, warn, error)")
	fs.String("directory.address", "http://127.0.0.1:23700", "bus directory address")
	fs.Bool("simulator.launch", true, "launch the simulator before connecting")
	fs.String("simulator.exe_path", "mvsim", "simulator executable")
	fs.String("simulator.world", "test-still-lidar2d.world.xml", "world file, relative to simulator.tests_dir")
	fs.String("metrics.listen_addr", "", "serve prometheus metrics on this address")
}

// Load reads defaults, then the optional YAML file at path, then MVSIM_*
// environment variables, then any flags in fs that were set explicitly.
// The simulator's executable and tests directory also honor the
// MVSIM_CLI_EXE_PATH and TESTS_DIR variables used by the upstream tests.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("simulator.exe_path", "MVSIM_SIMULATOR_EXE_PATH", "MVSIM_CLI_EXE_PATH"); err != nil {
		return nil, err
	}
	if err := v.BindEnv("simulator.tests_dir", "MVSIM_SIMULATOR_TESTS_DIR", "TESTS_DIR"); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
	}
	if fs != nil {
		var bindErr error
		fs.VisitAll(func(f *pflag.Flag) {
			if f.Name == "config" || bindErr != nil {
				return
			}
			bindErr = v.BindPFlag(f.Name, f)
		})
		if bindErr != nil {
			return nil, bindErr
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	return &cfg, nil
}

// Default returns the built-in configuration, ignoring the environment.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg, err := decode(v)
	if err != nil {
		panic(err)
	}
	return cfg
}

// Validate rejects settings the harness cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Directory.Address == "":
		return errors.New("directory.address is empty")
	case c.Directory.ConnectAttempts <= 0:
		return errors.New("directory.connect_attempts must be positive")
	case c.Readiness.Service == "":
		return errors.New("readiness.service is empty")
	case c.Readiness.MinLength < 0:
		return errors.New("readiness.min_length must not be negative")
	case c.Readiness.Interval <= 0:
		return errors.New("readiness.interval must be positive")
	case c.Scan.Topic == "":
		return errors.New("scan.topic is empty")
	case c.Scan.Tolerance < 0:
		return errors.New("scan.tolerance must not be negative")
	case c.Wait.Iterations <= 0:
		return errors.New("wait.iterations must be positive")
	case c.Wait.Interval <= 0:
		return errors.New("wait.interval must be positive")
	case c.Fakesim.Ranges <= 0:
		return errors.New("fakesim.ranges must be positive")
	}
	return nil
}

// WorldPath is the world file the simulator is launched with.
func (c *Config) WorldPath() string {
	if filepath.IsAbs(c.Simulator.World) {
		return c.Simulator.World
	}
	return filepath.Join(c.Simulator.TestsDir, c.Simulator.World)
}
