// Package diag runs the external path-diagnostic tool (mtr by default)
// against hosts whose probe cycle was not fully successful.
package diag

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const defaultTimeout = 60 * time.Second

type Config struct {
	// Path is the tool executable, absolute or looked up in PATH.
	Path string
	// Args follow the host on the command line.
	Args []string
	// Timeout bounds a single invocation.
	Timeout time.Duration
}

// DefaultConfig mirrors "mtr <host> -c 3 -r --no-dns".
func DefaultConfig() Config {
	return Config{Path: "mtr", Args: []string{"-c", "3", "-r", "--no-dns"}, Timeout: defaultTimeout}
}

// ParseArgs splits a space separated parameter string.
func ParseArgs(paras string) []string {
	return strings.Fields(paras)
}

// CommandResult is what a finished process left behind. Output is kept as
// raw bytes; the tool's encoding is not interpreted.
type CommandResult struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Dependencies provides optional overrides for testing.
type Dependencies struct {
	Now        func() time.Time
	RunCommand func(ctx context.Context, name string, args ...string) (CommandResult, error)
}

// InvocationError reports that the tool could not be run to completion:
// missing executable, start failure or timeout.
type InvocationError struct {
	Host string
	Path string
	Err  error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("run %s for %s: %v", e.Path, e.Host, e.Err)
}

func (e *InvocationError) Unwrap() error { return e.Err }

// Output is the captured result of one diagnostic run.
type Output struct {
	Host     string
	ExitCode int
	Stdout   string
	Stderr   string
	Started  time.Time
	Duration time.Duration
}

// Succeeded reports a zero exit status.
func (o Output) Succeeded() bool {
	return o.ExitCode == 0
}

// Lines returns stdout then stderr with trailing newlines removed, skipping
// empty streams.
func (o Output) Lines() []string {
	lines := make([]string, 0, 2)
	for _, stream := range []string{o.Stdout, o.Stderr} {
		if s := strings.TrimRight(stream, "\r\n"); s != "" {
			lines = append(lines, s)
		}
	}
	return lines
}

type Runner struct {
	cfg  Config
	deps Dependencies
}

func NewRunner(cfg Config, deps Dependencies) *Runner {
	if cfg.Path == "" {
		cfg.Path = DefaultConfig().Path
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.RunCommand == nil {
		deps.RunCommand = execCommand
	}
	return &Runner{cfg: cfg, deps: deps}
}

// Tool is the base name of the configured executable.
func (r *Runner) Tool() string {
	return filepath.Base(r.cfg.Path)
}

// Available reports whether the executable can be found.
func (r *Runner) Available() error {
	if _, err := exec.LookPath(r.cfg.Path); err != nil {
		return &InvocationError{Path: r.cfg.Path, Err: err}
	}
	return nil
}

// Run invokes "<path> <host> <args...>" and captures its output. A non-zero
// exit status is not an error; it is reported in Output.ExitCode.
func (r *Runner) Run(ctx context.Context, host string) (Output, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	args := append([]string{host}, r.cfg.Args...)
	started := r.deps.Now()
	res, err := r.deps.RunCommand(ctx, r.cfg.Path, args...)
	out := Output{
		Host:     host,
		ExitCode: res.ExitCode,
		Stdout:   string(res.Stdout),
		Stderr:   string(res.Stderr),
		Started:  started,
		Duration: r.deps.Now().Sub(started),
	}
	if err != nil {
		return out, &InvocationError{Host: host, Path: r.cfg.Path, Err: err}
	}
	return out, nil
}

func execCommand(ctx context.Context, name string, args ...string) (CommandResult, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	res := CommandResult{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if ctxErr := ctx.Err(); ctxErr != nil {
		res.ExitCode = -1
		return res, ctxErr
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	if err != nil {
		res.ExitCode = -1
		return res, err
	}
	return res, nil
}
