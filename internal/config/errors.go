package config

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalid is matched by every configuration error.
var ErrInvalid = errors.New("invalid configuration")

// MinUnprivilegedPayload is the smallest payload pro-bing accepts; it
// carries its own timestamp and tracker in the echo data.
const MinUnprivilegedPayload = 24

type ValidationError struct {
	Path     string
	Problems []string
}

func (e *ValidationError) Error() string {
	where := "config"
	if e.Path != "" {
		where = fmt.Sprintf("config %q", e.Path)
	}
	return fmt.Sprintf("%s: %s", where, strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrInvalid }

// Validate checks every field and reports all problems at once.
func (c Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.Ping.Count < 1 {
		add("ping.count must be at least 1, got %d", c.Ping.Count)
	}
	if c.Ping.WaitMS < 0 {
		add("ping.wait must not be negative, got %d", c.Ping.WaitMS)
	}
	if c.Ping.TimeoutSec < 1 {
		add("ping.timeout must be at least 1 second, got %d", c.Ping.TimeoutSec)
	}
	if c.Ping.PayloadSize < 8 || c.Ping.PayloadSize > 65507-8 {
		add("ping.payload_size must be between 8 and 65499, got %d", c.Ping.PayloadSize)
	}
	switch c.Ping.Mode {
	case ModeRaw:
	case ModeUnprivileged:
		if c.Ping.PayloadSize < MinUnprivilegedPayload {
			add("ping.payload_size must be at least %d in %s mode, got %d", MinUnprivilegedPayload, ModeUnprivileged, c.Ping.PayloadSize)
		}
	default:
		add("ping.mode must be %q or %q, got %q", ModeRaw, ModeUnprivileged, c.Ping.Mode)
	}
	if c.Ping.PPSCap < 0 {
		add("ping.pps_cap must not be negative, got %d", c.Ping.PPSCap)
	}
	if strings.TrimSpace(c.Mtr.Path) == "" {
		add("mtr.path must not be empty")
	}
	if c.Mtr.TimeoutSec < 1 {
		add("mtr.timeout must be at least 1 second, got %d", c.Mtr.TimeoutSec)
	}
	if c.Run.Workers < 1 {
		add("run.workers must be at least 1, got %d", c.Run.Workers)
	}
	if c.Run.DurationSec < 0 {
		add("run.duration must not be negative, got %d", c.Run.DurationSec)
	}
	if c.Run.BatchDelayMS < 0 {
		add("run.batch_delay must not be negative, got %d", c.Run.BatchDelayMS)
	}
	if strings.TrimSpace(c.Run.HostsFile) == "" {
		add("run.hosts_file must not be empty")
	}
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		add("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	if c.Sinks.QueueCapacity < 1 {
		add("sinks.queue_capacity must be at least 1, got %d", c.Sinks.QueueCapacity)
	}
	influx := []string{c.Sinks.InfluxURL, c.Sinks.InfluxOrg, c.Sinks.InfluxBucket}
	set := 0
	for _, v := range influx {
		if v != "" {
			set++
		}
	}
	if set > 0 && set < len(influx) {
		add("sinks.influx_url, sinks.influx_org and sinks.influx_bucket must be set together")
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}
