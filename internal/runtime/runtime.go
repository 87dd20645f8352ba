// Package runtime assembles a run from its configuration: prober, probe
// cycle, diagnostics, recorders, scheduler and the optional monitoring
// server.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/pingsantohq/reachcheck/internal/config"
	"github.com/pingsantohq/reachcheck/internal/diag"
	"github.com/pingsantohq/reachcheck/internal/health"
	"github.com/pingsantohq/reachcheck/internal/hosts"
	"github.com/pingsantohq/reachcheck/internal/logging"
	"github.com/pingsantohq/reachcheck/internal/metrics"
	"github.com/pingsantohq/reachcheck/internal/pinger"
	"github.com/pingsantohq/reachcheck/internal/probe"
	"github.com/pingsantohq/reachcheck/internal/queue"
	"github.com/pingsantohq/reachcheck/internal/record"
	"github.com/pingsantohq/reachcheck/internal/scheduler"
	"github.com/pingsantohq/reachcheck/internal/server"
	"github.com/pingsantohq/reachcheck/internal/store"
	"github.com/pingsantohq/reachcheck/internal/transmit"
	"github.com/pingsantohq/reachcheck/internal/worker"
	"github.com/pingsantohq/reachcheck/pkg/types"
)

type Option func(*settings)

type settings struct {
	logger     logrus.FieldLogger
	now        func() time.Time
	prober     probe.Prober
	runCommand func(ctx context.Context, name string, args ...string) (diag.CommandResult, error)
	configPath string
}

func WithLogger(logger logrus.FieldLogger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithNow(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

// WithProber replaces the prober the configured mode would build.
func WithProber(p probe.Prober) Option {
	return func(s *settings) {
		s.prober = p
	}
}

// WithRunCommand replaces process execution for the diagnostic tool.
func WithRunCommand(fn func(ctx context.Context, name string, args ...string) (diag.CommandResult, error)) Option {
	return func(s *settings) {
		s.runCommand = fn
	}
}

// WithConfigPath records where the configuration came from in the manifest.
func WithConfigPath(path string) Option {
	return func(s *settings) {
		s.configPath = path
	}
}

type Runtime struct {
	cfg    config.Config
	logger logrus.FieldLogger
	now    func() time.Time

	dir      string
	manifest record.Manifest

	csv     *record.CSVRecorder
	diagLog *record.DiagnosticLog
	influx  *record.InfluxRecorder
	pg      *store.PostgresStore

	store        store.Store
	transmitters []*transmit.Transmitter
	metrics      *metrics.Store
	checker      *health.Checker
	scheduler    *scheduler.Scheduler
	hosts        scheduler.HostSource
	watcher      *hosts.Watcher
	server       *server.Server

	batches int
}

// New validates cfg and builds every component of the run. The record
// directory is created here; nothing is probed until Run.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := settings{logger: logging.Discard(), now: time.Now}
	for _, opt := range opts {
		opt(&s)
	}

	r := &Runtime{
		cfg:     cfg,
		logger:  s.logger,
		now:     s.now,
		metrics: metrics.NewStore(),
	}
	r.checker = health.NewChecker(r.metrics, staleWindow(cfg))

	ok := false
	defer func() {
		if !ok {
			r.Close()
		}
	}()

	prober, err := r.buildProber(s.prober)
	if err != nil {
		return nil, err
	}
	cycles := pinger.New(prober, pinger.Config{
		Count:   cfg.Ping.Count,
		Wait:    cfg.Ping.Wait(),
		Timeout: cfg.Ping.Timeout(),
	}, pinger.Dependencies{Logger: r.logger, Metrics: r.metrics, Now: r.now})

	started := r.now()
	r.dir = filepath.Join(cfg.Run.RecordDir, RecordDirName(started))
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create record dir %q: %w", r.dir, err)
	}
	if r.csv, err = record.OpenCSV(filepath.Join(r.dir, record.RecordFile)); err != nil {
		return nil, err
	}
	if r.diagLog, err = record.OpenDiagnosticLog(filepath.Join(r.dir, record.DiagLogFile)); err != nil {
		return nil, err
	}

	runner := diag.NewRunner(diag.Config{
		Path:    cfg.Mtr.Path,
		Args:    diag.ParseArgs(cfg.Mtr.Paras),
		Timeout: cfg.Mtr.Timeout(),
	}, diag.Dependencies{Now: r.now, RunCommand: s.runCommand})
	if s.runCommand == nil {
		if err := runner.Available(); err != nil {
			r.logger.WithError(err).Warnf("%s unavailable; escalations will be logged as failures", runner.Tool())
			r.checker.SetDiagnosticError(err)
		}
	}
	escalator := diag.NewEscalator(runner, r.diagLog, diag.EscalatorDependencies{
		Logger:  r.logger,
		Metrics: r.metrics,
		Now:     r.now,
	})

	r.manifest = record.Manifest{
		RunID:      newRunID(),
		StartedAt:  started,
		ConfigPath: s.configPath,
		HostsFile:  cfg.Run.HostsFile,
		Workers:    cfg.Run.Workers,
		Duration:   cfg.Run.Duration().String(),
	}

	sinks, err := r.buildSinks(ctx)
	if err != nil {
		return nil, err
	}

	handler := worker.NewHandler(cycles,
		worker.WithResultSink(record.NewMulti(sinks...)),
		worker.WithEscalator(escalator),
		worker.WithLogger(r.logger),
		worker.WithCycleMetrics(r.metrics),
		worker.WithNow(r.now),
	)
	r.scheduler = scheduler.New(handler,
		scheduler.WithWorkers(cfg.Run.Workers),
		scheduler.WithBatchDelay(cfg.Run.BatchDelay()),
		scheduler.WithRunDuration(cfg.Run.Duration()),
		scheduler.WithLogger(r.logger),
		scheduler.WithWorkerMetrics(r.metrics),
		scheduler.WithBatchMetrics(r.metrics),
		scheduler.WithBatchObserver(r.observeBatch),
		scheduler.WithNow(r.now),
	)

	if cfg.Run.Continuous() && cfg.Run.WatchHosts {
		if r.watcher, err = hosts.NewWatcher(cfg.Run.HostsFile, r.logger); err != nil {
			return nil, err
		}
		r.hosts = r.watcher
	} else {
		r.hosts = hosts.File(cfg.Run.HostsFile)
	}

	if cfg.Monitoring.Addr != "" {
		r.server = server.New(server.Config{Addr: cfg.Monitoring.Addr}, server.Dependencies{
			Logger:  r.logger,
			Store:   r.store,
			Metrics: r.metrics,
			Health:  r.checker,
			Now:     r.now,
		})
	}

	if err := record.CreateManifest(r.dir, r.manifest); err != nil {
		return nil, err
	}

	ok = true
	return r, nil
}

func (r *Runtime) buildProber(override probe.Prober) (probe.Prober, error) {
	p := override
	if p == nil {
		resolver := probe.NewResolver(0)
		switch r.cfg.Ping.Mode {
		case config.ModeUnprivileged:
			p = probe.NewUnprivilegedProber(r.cfg.Ping.PayloadSize, resolver)
		default:
			if err := probe.CheckPrivileges(); err != nil {
				return nil, err
			}
			p = probe.NewRawProber(probe.WithPayloadSize(r.cfg.Ping.PayloadSize), probe.WithResolver(resolver))
		}
	}
	if r.cfg.Ping.PPSCap > 0 {
		p = probe.RateLimited(p, probe.NewLimiter(r.cfg.Ping.PPSCap))
	}
	return p, nil
}

// buildSinks returns the recorders every result is written to. The CSV
// record and the in-memory store are written synchronously; PostgreSQL and
// InfluxDB are fed through queues drained by transmitters.
func (r *Runtime) buildSinks(ctx context.Context) ([]record.Recorder, error) {
	sinks := []record.Recorder{r.csv}

	if dsn := r.cfg.Sinks.PostgresDSN; dsn != "" {
		pg, err := store.NewPostgresStore(ctx, dsn, r.manifest.RunID)
		if err != nil {
			return nil, fmt.Errorf("connect result store: %w", err)
		}
		r.pg = pg
		r.store = pg
		sinks = append(sinks, r.queued("postgres", pg))
	} else {
		r.store = store.NewMemoryStore()
		sinks = append(sinks, r.store)
	}

	influxCfg := record.InfluxConfig{
		URL:    r.cfg.Sinks.InfluxURL,
		Token:  r.cfg.Sinks.InfluxToken,
		Org:    r.cfg.Sinks.InfluxOrg,
		Bucket: r.cfg.Sinks.InfluxBucket,
	}
	if influxCfg.Enabled() {
		r.influx = record.NewInfluxRecorder(influxCfg)
		if err := r.influx.Ping(ctx); err != nil {
			r.logger.WithError(err).Warn("influxdb not healthy; writes may fail")
		}
		sinks = append(sinks, r.queued("influxdb", r.influx))
	}
	return sinks, nil
}

// queued puts a bounded queue in front of rec and registers the transmitter
// that drains it.
func (r *Runtime) queued(name string, rec transmit.Recorder) record.Recorder {
	rm := r.metrics.QueueRecorder(name)
	q := queue.NewResultQueue(r.cfg.Sinks.QueueCapacity)
	q.SetMetricsRecorder(rm)
	r.transmitters = append(r.transmitters, transmit.New(name, q, transmit.RecorderSink{Recorder: rec},
		transmit.WithLogger(r.logger),
		transmit.WithMetrics(rm),
	))
	return q
}

func (r *Runtime) observeBatch(run types.BatchRun, err error) {
	r.checker.ObserveBatch(run, err)
	r.batches++
}

// Dir is the record directory of this run.
func (r *Runtime) Dir() string {
	return r.dir
}

func (r *Runtime) Store() store.Store {
	return r.store
}

func (r *Runtime) Metrics() *metrics.Store {
	return r.metrics
}

// Run probes the host list once, or in batches until the configured
// duration ends, and then writes the summary when enabled. An interrupt
// through ctx is a normal ending: admitted cycles finish and are recorded.
// The returned error is a fatal condition such as missing privileges or an
// unreadable host list.
func (r *Runtime) Run(ctx context.Context) error {
	started := r.now()
	log := r.logger.WithField("record_dir", r.dir)

	// Transmitters outlive an interrupt so drained cycles still reach the
	// external sinks.
	txCtx, stopTx := context.WithCancel(context.WithoutCancel(ctx))
	defer stopTx()
	var tx errgroup.Group
	for _, t := range r.transmitters {
		t := t
		tx.Go(func() error { return t.Run(txCtx) })
	}

	auxCtx, stopAux := context.WithCancel(ctx)
	defer stopAux()
	aux, auxCtx := errgroup.WithContext(auxCtx)
	if r.server != nil {
		aux.Go(func() error { return r.server.Run(auxCtx) })
	}
	if r.watcher != nil {
		aux.Go(func() error { return r.watcher.Run(auxCtx) })
	}

	var runErr error
	if r.cfg.Run.Continuous() {
		runErr = r.scheduler.RunContinuous(ctx, r.hosts)
	} else {
		list, err := r.hosts.Hosts()
		if err != nil {
			runErr = err
		} else {
			runErr = r.scheduler.RunOnce(ctx, list)
		}
	}
	stopAux()
	if err := aux.Wait(); err != nil {
		log.WithError(err).Warn("monitoring stopped with error")
	}
	stopTx()
	if err := tx.Wait(); err != nil {
		log.WithError(err).Warn("external sink incomplete")
	}

	interrupted := errors.Is(ctx.Err(), context.Canceled)
	if interrupted {
		log.Warn("interrupted; admitted cycles were drained")
	}

	if r.cfg.Run.Summary {
		if err := r.writeSummary(log); err != nil {
			log.WithError(err).Error("write summary")
		}
	}

	r.manifest.EndedAt = r.now()
	r.manifest.Batches = r.batches
	r.manifest.Interrupted = interrupted
	if runErr != nil {
		r.manifest.LastError = runErr.Error()
	}
	if err := record.UpdateManifest(r.dir, r.manifest); err != nil {
		log.WithError(err).Warn("update run manifest")
	}

	log.WithFields(logrus.Fields{
		"batches": r.batches,
		"elapsed": r.now().Sub(started).Round(time.Millisecond),
	}).Info("run finished")
	return runErr
}

func (r *Runtime) writeSummary(log logrus.FieldLogger) error {
	rows, err := record.SummarizeFile(r.csv.Path(), filepath.Join(r.dir, record.SummaryFile))
	if err != nil {
		return err
	}
	for _, row := range rows {
		log.WithFields(logrus.Fields{
			"host":     row.Host,
			"sent":     row.Sent,
			"received": row.Received,
			"loss":     row.Loss(),
		}).Info("summary")
	}
	return nil
}

// Close releases files and connections. It is safe to call more than once.
func (r *Runtime) Close() error {
	var errs []error
	if r.csv != nil {
		errs = append(errs, r.csv.Close())
		r.csv = nil
	}
	if r.diagLog != nil {
		errs = append(errs, r.diagLog.Close())
		r.diagLog = nil
	}
	if r.influx != nil {
		errs = append(errs, r.influx.Close())
		r.influx = nil
	}
	if r.watcher != nil {
		errs = append(errs, r.watcher.Close())
	}
	if r.pg != nil {
		r.pg.Close()
		r.pg = nil
	}
	return errors.Join(errs...)
}

// RecordDirName names a run's record directory after its start time with
// microsecond precision.
func RecordDirName(ts time.Time) string {
	return ts.Format("20060102150405") + fmt.Sprintf("%06d", ts.Nanosecond()/int(time.Microsecond))
}

// staleWindow is how long readiness survives without a finished batch.
func staleWindow(cfg config.Config) time.Duration {
	cycle := time.Duration(cfg.Ping.Count) * (cfg.Ping.Timeout() + cfg.Ping.Wait())
	return 3 * (cycle + cfg.Run.BatchDelay() + cfg.Mtr.Timeout())
}

func newRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
