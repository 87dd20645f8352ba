package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pingsantohq/reachcheck/internal/config"
)

func TestApplyFlagsOverridesOnlyGivenFlags(t *testing.T) {
	var out bytes.Buffer
	fs, f, err := parseRunFlags([]string{"-n", "8", "--duration=600", "-s", "-f", "/tmp/hosts"}, &out)
	if err != nil {
		t.Fatalf("parseRunFlags returned error: %v", err)
	}
	cfg := config.Default()
	cfg.Run.RecordDir = "/var/lib/reachcheck"
	applyFlags(fs, f, &cfg)

	if cfg.Run.Workers != 8 || cfg.Run.DurationSec != 600 || !cfg.Run.Summary {
		t.Fatalf("flags not applied: %+v", cfg.Run)
	}
	if cfg.Run.HostsFile != "/tmp/hosts" {
		t.Fatalf("unexpected hosts file %q", cfg.Run.HostsFile)
	}
	if cfg.Run.RecordDir != "/var/lib/reachcheck" {
		t.Fatalf("record dir overridden without flag: %q", cfg.Run.RecordDir)
	}
}

func TestParseRunFlagsRejectsPositional(t *testing.T) {
	var out bytes.Buffer
	if _, _, err := parseRunFlags([]string{"extra"}, &out); err == nil {
		t.Fatal("expected error for positional argument")
	}
}

func TestRunMainUnknownCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := runMain(context.Background(), []string{"bogus"}, &stdout, &stderr); code != exitUsage {
		t.Fatalf("expected exit %d, got %d", exitUsage, code)
	}
	if !strings.Contains(stderr.String(), "unknown command: bogus") {
		t.Fatalf("unexpected stderr: %s", stderr.String())
	}
}

func TestRunMainInvalidConfigExitsOne(t *testing.T) {
	var stdout, stderr bytes.Buffer
	path := filepath.Join(t.TempDir(), "missing.yaml")
	code := runMain(context.Background(), []string{"-c", path, "-n", "0"}, &stdout, &stderr)
	if code != exitError {
		t.Fatalf("expected exit %d, got %d", exitError, code)
	}
	if !strings.Contains(stderr.String(), "configuration error") || !strings.Contains(stderr.String(), "run.workers") {
		t.Fatalf("unexpected stderr: %s", stderr.String())
	}
}

func TestRunMainInitConfig(t *testing.T) {
	var stdout, stderr bytes.Buffer
	path := filepath.Join(t.TempDir(), "reachcheck.toml")
	if code := runMain(context.Background(), []string{"init-config", path}, &stdout, &stderr); code != exitOK {
		t.Fatalf("expected exit 0, got %d: %s", code, stderr.String())
	}
	cfg, err := config.Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg != config.Default() {
		t.Fatalf("generated config differs from defaults: %+v", cfg)
	}
	if code := runMain(context.Background(), []string{"init-config", path}, &stdout, &stderr); code != exitError {
		t.Fatalf("expected existing file to be refused, got %d", code)
	}
}

func TestRunMainSummarize(t *testing.T) {
	dir := t.TempDir()
	recordPath := filepath.Join(dir, "check-ip-record.csv")
	body := "Time,IP,Sent,Rcvd,Loss\n" +
		"2024-03-01 12:00:00.000000,A,5,5,0.00%\n" +
		"2024-03-01 12:00:01.000000,B,5,0,100.00%\n" +
		"2024-03-01 12:00:02.000000,A,5,3,40.00%\n"
	if err := os.WriteFile(recordPath, []byte(body), 0o600); err != nil {
		t.Fatalf("write record: %v", err)
	}

	var stdout, stderr bytes.Buffer
	if code := runMain(context.Background(), []string{"summarize", recordPath}, &stdout, &stderr); code != exitOK {
		t.Fatalf("expected exit 0, got %d: %s", code, stderr.String())
	}
	want := "IP,Sent,Rcvd,Loss\nA,10,8,20.00%\nB,5,0,100.00%\n"
	if stdout.String() != want {
		t.Fatalf("unexpected stdout:\n%s", stdout.String())
	}
	data, err := os.ReadFile(filepath.Join(dir, "check-ip-sum.csv"))
	if err != nil {
		t.Fatalf("read summary: %v", err)
	}
	if string(data) != want {
		t.Fatalf("unexpected summary file:\n%s", data)
	}
}

func TestRunMainSummarizeNeedsFile(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := runMain(context.Background(), []string{"summarize"}, &stdout, &stderr); code != exitUsage {
		t.Fatalf("expected exit %d, got %d", exitUsage, code)
	}
}
