package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const (
	envConfigPath     = "REACHCHECK_CONFIG"
	DefaultConfigPath = "/etc/reachcheck/reachcheck.yaml"
)

// Probe modes.
const (
	ModeRaw          = "raw"
	ModeUnprivileged = "unprivileged"
)

type Config struct {
	Ping       PingConfig       `yaml:"ping" toml:"ping"`
	Mtr        MtrConfig        `yaml:"mtr" toml:"mtr"`
	Run        RunConfig        `yaml:"run" toml:"run"`
	Log        LogConfig        `yaml:"log" toml:"log"`
	Monitoring MonitoringConfig `yaml:"monitoring" toml:"monitoring"`
	Sinks      SinksConfig      `yaml:"sinks" toml:"sinks"`
}

// PingConfig holds the probe cycle parameters. Wait is in milliseconds and
// Timeout in seconds.
type PingConfig struct {
	Count       int    `yaml:"count" toml:"count"`
	WaitMS      int    `yaml:"wait" toml:"wait"`
	TimeoutSec  int    `yaml:"timeout" toml:"timeout"`
	PayloadSize int    `yaml:"payload_size" toml:"payload_size"`
	Mode        string `yaml:"mode" toml:"mode"`
	PPSCap      int    `yaml:"pps_cap" toml:"pps_cap"`
}

func (p PingConfig) Wait() time.Duration    { return time.Duration(p.WaitMS) * time.Millisecond }
func (p PingConfig) Timeout() time.Duration { return time.Duration(p.TimeoutSec) * time.Second }

type MtrConfig struct {
	Path       string `yaml:"path" toml:"path"`
	Paras      string `yaml:"paras" toml:"paras"`
	TimeoutSec int    `yaml:"timeout" toml:"timeout"`
}

func (m MtrConfig) Timeout() time.Duration { return time.Duration(m.TimeoutSec) * time.Second }

// RunConfig controls scheduling. DurationSec of zero means a single pass.
type RunConfig struct {
	Workers      int    `yaml:"workers" toml:"workers"`
	DurationSec  int    `yaml:"duration" toml:"duration"`
	BatchDelayMS int    `yaml:"batch_delay" toml:"batch_delay"`
	HostsFile    string `yaml:"hosts_file" toml:"hosts_file"`
	RecordDir    string `yaml:"record_dir" toml:"record_dir"`
	Summary      bool   `yaml:"summary" toml:"summary"`
	WatchHosts   bool   `yaml:"watch_hosts" toml:"watch_hosts"`
}

func (r RunConfig) Duration() time.Duration   { return time.Duration(r.DurationSec) * time.Second }
func (r RunConfig) BatchDelay() time.Duration { return time.Duration(r.BatchDelayMS) * time.Millisecond }

// Continuous reports whether the run repeats batches until its duration ends.
func (r RunConfig) Continuous() bool { return r.DurationSec > 0 }

type LogConfig struct {
	Level string `yaml:"level" toml:"level"`
	File  string `yaml:"file" toml:"file"`
}

type MonitoringConfig struct {
	Addr string `yaml:"addr" toml:"addr"`
}

// SinksConfig enables the optional external result sinks. Each one is fed
// through its own bounded queue of QueueCapacity results.
type SinksConfig struct {
	PostgresDSN   string `yaml:"postgres_dsn" toml:"postgres_dsn"`
	InfluxURL     string `yaml:"influx_url" toml:"influx_url"`
	InfluxToken   string `yaml:"influx_token" toml:"influx_token"`
	InfluxOrg     string `yaml:"influx_org" toml:"influx_org"`
	InfluxBucket  string `yaml:"influx_bucket" toml:"influx_bucket"`
	QueueCapacity int    `yaml:"queue_capacity" toml:"queue_capacity"`
}

func Default() Config {
	return Config{
		Ping: PingConfig{
			Count:       5,
			WaitMS:      200,
			TimeoutSec:  1,
			PayloadSize: 192,
			Mode:        ModeRaw,
		},
		Mtr: MtrConfig{
			Path:       "mtr",
			Paras:      "-c 3 -r --no-dns",
			TimeoutSec: 60,
		},
		Run: RunConfig{
			Workers:      32,
			BatchDelayMS: 1000,
			HostsFile:    "iplist",
			RecordDir:    ".",
			WatchHosts:   true,
		},
		Log: LogConfig{
			Level: "info",
		},
		Sinks: SinksConfig{
			QueueCapacity: 4096,
		},
	}
}

// Load reads the file at path over the defaults. The format follows the
// extension: .toml is TOML, anything else YAML.
func Load(ctx context.Context, path string) (Config, error) {
	cfg := Default()

	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return cfg, fmt.Errorf("open config %q: %w", path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return cfg, fmt.Errorf("read config %q: %w", path, err)
	}

	if isTOML(path) {
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return cfg, &ValidationError{Path: path, Problems: []string{err.Error()}}
		}
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, &ValidationError{Path: path, Problems: []string{err.Error()}}
	}

	if err := cfg.Validate(); err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			verr.Path = path
		}
		return cfg, err
	}
	return cfg, nil
}

// LoadOrDefault behaves like Load but falls back to the defaults when the
// file does not exist. found reports whether a file was read.
func LoadOrDefault(ctx context.Context, path string) (cfg Config, found bool, err error) {
	cfg, err = Load(ctx, path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), false, nil
	}
	if err != nil {
		return cfg, true, err
	}
	return cfg, true, nil
}

// Path returns the config path from the environment, or the default.
func Path() string {
	if path := os.Getenv(envConfigPath); path != "" {
		return path
	}
	return DefaultConfigPath
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}
