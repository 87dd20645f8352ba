package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/pingsantohq/reachcheck/internal/config"
	"github.com/pingsantohq/reachcheck/internal/logging"
	"github.com/pingsantohq/reachcheck/internal/probe"
	"github.com/pingsantohq/reachcheck/internal/record"
	"github.com/pingsantohq/reachcheck/internal/runtime"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

func main() {
	os.Exit(runMain(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func runMain(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := "run"
	if len(args) > 0 && len(args[0]) > 0 && args[0][0] != '-' {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "run":
		err = run(ctx, args, stdout)
	case "summarize":
		err = summarize(args, stdout)
	case "init-config":
		err = initConfig(args, stdout)
	case "help":
		printUsage(stdout)
		return exitOK
	default:
		fmt.Fprintf(stderr, "unknown command: %s\n", cmd)
		printUsage(stderr)
		return exitUsage
	}

	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, pflag.ErrHelp):
		return exitOK
	case errors.Is(err, errUsage):
		fmt.Fprintf(stderr, "%v\n", err)
		printUsage(stderr)
		return exitUsage
	case errors.Is(err, config.ErrInvalid):
		fmt.Fprintf(stderr, "configuration error: %v\n", err)
	case probe.IsPermission(err):
		fmt.Fprintf(stderr, "%v\nraw ICMP sockets need root or CAP_NET_RAW; set ping.mode: unprivileged to use datagram sockets instead\n", err)
	default:
		fmt.Fprintf(stderr, "command %s failed: %v\n", cmd, err)
	}
	return exitError
}

var errUsage = errors.New("usage error")

type runFlags struct {
	configPath string
	workers    int
	duration   int
	summary    bool
	hostsFile  string
	recordDir  string
	logLevel   string
	initConfig bool
}

func parseRunFlags(args []string, out io.Writer) (*pflag.FlagSet, runFlags, error) {
	var f runFlags
	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	fs.SetOutput(out)
	fs.StringVarP(&f.configPath, "config", "c", config.Path(), "path to the configuration file (YAML or TOML)")
	fs.IntVarP(&f.workers, "workers", "n", 0, "number of hosts probed concurrently")
	fs.IntVarP(&f.duration, "duration", "t", 0, "run batches for this many seconds; 0 probes every host once")
	fs.BoolVarP(&f.summary, "summary", "s", false, "write a per-host summary when the run ends")
	fs.StringVarP(&f.hostsFile, "hosts", "f", "", "host list file, one address per line")
	fs.StringVarP(&f.recordDir, "record-dir", "o", "", "directory that receives the per-run record directory")
	fs.StringVar(&f.logLevel, "log-level", "", "log level: debug, info, warn, error")
	fs.BoolVar(&f.initConfig, "init-config", false, "write a default configuration file when none exists")
	if err := fs.Parse(args); err != nil {
		return fs, f, err
	}
	if fs.NArg() > 0 {
		return fs, f, fmt.Errorf("%w: unexpected argument %q", errUsage, fs.Arg(0))
	}
	return fs, f, nil
}

// applyFlags lets explicitly given flags override file values.
func applyFlags(fs *pflag.FlagSet, f runFlags, cfg *config.Config) {
	if fs.Changed("workers") {
		cfg.Run.Workers = f.workers
	}
	if fs.Changed("duration") {
		cfg.Run.DurationSec = f.duration
	}
	if fs.Changed("summary") {
		cfg.Run.Summary = f.summary
	}
	if fs.Changed("hosts") {
		cfg.Run.HostsFile = f.hostsFile
	}
	if fs.Changed("record-dir") {
		cfg.Run.RecordDir = f.recordDir
	}
	if fs.Changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
}

func loadConfig(ctx context.Context, args []string, out io.Writer) (config.Config, runFlags, bool, error) {
	fs, f, err := parseRunFlags(args, out)
	if err != nil {
		return config.Config{}, f, false, err
	}
	cfg, found, err := config.LoadOrDefault(ctx, f.configPath)
	if err != nil {
		return cfg, f, found, err
	}
	if !found && f.initConfig {
		if err := config.WriteDefault(f.configPath); err != nil {
			return cfg, f, found, err
		}
		fmt.Fprintf(out, "wrote default configuration to %s\n", f.configPath)
	}
	applyFlags(fs, f, &cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, f, found, err
	}
	return cfg, f, found, nil
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	cfg, f, found, err := loadConfig(ctx, args, stdout)
	if err != nil {
		return err
	}

	logger, closer, err := logging.New(logging.Options{Level: cfg.Log.Level, File: cfg.Log.File, Out: stdout})
	if err != nil {
		return fmt.Errorf("%w: %v", config.ErrInvalid, err)
	}
	defer closer.Close()
	if !found {
		logger.WithField("config", f.configPath).Info("no configuration file; using defaults")
	}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := runtime.New(runCtx, cfg, runtime.WithLogger(logger), runtime.WithConfigPath(f.configPath))
	if err != nil {
		return err
	}
	defer rt.Close()

	logger.WithFields(logrus.Fields{
		"workers":    cfg.Run.Workers,
		"duration":   cfg.Run.Duration(),
		"hosts_file": cfg.Run.HostsFile,
		"record_dir": rt.Dir(),
		"mode":       cfg.Ping.Mode,
	}).Info("reachcheck starting")

	return rt.Run(runCtx)
}

func summarize(args []string, stdout io.Writer) error {
	fs := pflag.NewFlagSet("summarize", pflag.ContinueOnError)
	fs.SetOutput(stdout)
	output := fs.StringP("output", "o", "", "summary file; defaults to "+record.SummaryFile+" next to the record file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("%w: summarize needs exactly one record file", errUsage)
	}
	recordPath := fs.Arg(0)
	summaryPath := *output
	if summaryPath == "" {
		summaryPath = summaryPathFor(recordPath)
	}
	rows, err := record.SummarizeFile(recordPath, summaryPath)
	if err != nil {
		return err
	}
	return record.WriteSummary(stdout, rows)
}

func summaryPathFor(recordPath string) string {
	return filepath.Join(filepath.Dir(recordPath), record.SummaryFile)
}

func initConfig(args []string, stdout io.Writer) error {
	fs := pflag.NewFlagSet("init-config", pflag.ContinueOnError)
	fs.SetOutput(stdout)
	if err := fs.Parse(args); err != nil {
		return err
	}
	path := config.Path()
	if fs.NArg() > 0 {
		path = fs.Arg(0)
	}
	if err := config.WriteDefault(path); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "wrote default configuration to %s\n", path)
	return nil
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `Usage:
  reachcheck [run] [flags]            probe every host in the host list
  reachcheck summarize <record.csv>   rebuild the per-host summary of a run
  reachcheck init-config [path]       write a default configuration file

Run flags:
  -c, --config string       configuration file (env REACHCHECK_CONFIG)
  -n, --workers int         hosts probed concurrently
  -t, --duration int        seconds to keep probing; 0 probes once
  -s, --summary             write a summary when the run ends
  -f, --hosts string        host list file
  -o, --record-dir string   parent directory for run records
      --log-level string    debug, info, warn or error
      --init-config         write a default configuration when none exists
`)
}
