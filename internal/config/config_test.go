package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
ping:
  count: 3
  wait: 500
  timeout: 2
mtr:
  paras: "-c 5 -r"
run:
  workers: 8
  duration: 600
  hosts_file: /etc/reachcheck/hosts
log:
  level: debug
`

const sampleTOML = `
[ping]
count = 4
mode = "unprivileged"

[run]
workers = 16
summary = true
`

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	cfg, err := Load(context.Background(), writeConfig(t, "reachcheck.yaml", sampleYAML))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Ping.Count != 3 || cfg.Ping.Wait() != 500*time.Millisecond || cfg.Ping.Timeout() != 2*time.Second {
		t.Fatalf("unexpected ping config: %+v", cfg.Ping)
	}
	if cfg.Ping.PayloadSize != 192 || cfg.Ping.Mode != ModeRaw {
		t.Fatalf("expected defaults to survive partial file, got %+v", cfg.Ping)
	}
	if cfg.Mtr.Path != "mtr" || cfg.Mtr.Paras != "-c 5 -r" || cfg.Mtr.Timeout() != time.Minute {
		t.Fatalf("unexpected mtr config: %+v", cfg.Mtr)
	}
	if cfg.Run.Workers != 8 || !cfg.Run.Continuous() || cfg.Run.Duration() != 10*time.Minute {
		t.Fatalf("unexpected run config: %+v", cfg.Run)
	}
	if cfg.Run.HostsFile != "/etc/reachcheck/hosts" {
		t.Fatalf("unexpected hosts file: %s", cfg.Run.HostsFile)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("unexpected log level: %s", cfg.Log.Level)
	}
}

func TestLoadTOML(t *testing.T) {
	cfg, err := Load(context.Background(), writeConfig(t, "reachcheck.toml", sampleTOML))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Ping.Count != 4 || cfg.Ping.Mode != ModeUnprivileged {
		t.Fatalf("unexpected ping config: %+v", cfg.Ping)
	}
	if cfg.Run.Workers != 16 || !cfg.Run.Summary || cfg.Run.Continuous() {
		t.Fatalf("unexpected run config: %+v", cfg.Run)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	body := "ping:\n  count: 0\n  mode: tcp\nrun:\n  workers: -1\n"
	_, err := Load(context.Background(), writeConfig(t, "bad.yaml", body))
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if len(verr.Problems) != 3 {
		t.Fatalf("expected 3 problems, got %v", verr.Problems)
	}
	if !strings.Contains(err.Error(), "bad.yaml") {
		t.Fatalf("error should name the file: %v", err)
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	_, err := Load(context.Background(), writeConfig(t, "broken.yaml", "ping: [\n"))
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestLoadOrDefaultMissingFile(t *testing.T) {
	cfg, found, err := LoadOrDefault(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadOrDefault returned error: %v", err)
	}
	if found {
		t.Fatal("expected found to be false")
	}
	if cfg != Default() {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestValidateInfluxSettingsTogether(t *testing.T) {
	cfg := Default()
	cfg.Sinks.InfluxURL = "http://localhost:8086"
	if err := cfg.Validate(); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected partial influx settings to be rejected, got %v", err)
	}
	cfg.Sinks.InfluxOrg = "ops"
	cfg.Sinks.InfluxBucket = "reach"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateUnprivilegedPayloadMinimum(t *testing.T) {
	cfg := Default()
	cfg.Ping.Mode = ModeUnprivileged
	cfg.Ping.PayloadSize = 16
	err := cfg.Validate()
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(verr.Problems) != 1 || !strings.Contains(verr.Problems[0], "at least 24") {
		t.Fatalf("unexpected problems: %v", verr.Problems)
	}

	cfg.Ping.PayloadSize = MinUnprivilegedPayload
	if err := cfg.Validate(); err != nil {
		t.Fatalf("minimum payload should be accepted: %v", err)
	}

	cfg.Ping.Mode = ModeRaw
	cfg.Ping.PayloadSize = 16
	if err := cfg.Validate(); err != nil {
		t.Fatalf("raw mode accepts small payloads: %v", err)
	}
}

func TestPathFromEnv(t *testing.T) {
	t.Setenv(envConfigPath, "")
	if Path() != DefaultConfigPath {
		t.Fatalf("expected default path, got %s", Path())
	}
	path := writeConfig(t, "reachcheck.yaml", sampleYAML)
	t.Setenv(envConfigPath, path)
	if Path() != path {
		t.Fatalf("expected env path %s, got %s", path, Path())
	}
}

func TestWriteDefaultRoundTrips(t *testing.T) {
	for _, name := range []string{"reachcheck.yaml", "reachcheck.toml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "etc", name)
			if err := WriteDefault(path); err != nil {
				t.Fatalf("WriteDefault returned error: %v", err)
			}
			info, err := os.Stat(path)
			if err != nil {
				t.Fatalf("stat config: %v", err)
			}
			if perm := info.Mode().Perm(); perm != 0o640 {
				t.Fatalf("expected perms 0640 got %v", perm)
			}
			cfg, err := Load(context.Background(), path)
			if err != nil {
				t.Fatalf("Load returned error: %v", err)
			}
			if cfg != Default() {
				t.Fatalf("default file does not load as defaults: %+v", cfg)
			}
		})
	}
}

func TestWriteDefaultKeepsExistingFile(t *testing.T) {
	path := writeConfig(t, "reachcheck.yaml", sampleYAML)
	if err := WriteDefault(path); !errors.Is(err, ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	if string(data) != sampleYAML {
		t.Fatal("existing config was modified")
	}
}
