package metrics

import (
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pingsantohq/reachcheck/pkg/types"
)

const namespace = "reachcheck"

// Store owns a private Prometheus registry with the run's probe, cycle,
// escalation, worker and readiness metrics. It satisfies every recorder
// interface in this package.
type Store struct {
	registry *prometheus.Registry

	probesSent      prometheus.Counter
	probesReceived  prometheus.Counter
	probeRTT        prometheus.Histogram
	cycles          *prometheus.CounterVec
	escalations     *prometheus.CounterVec
	inflight        prometheus.Gauge
	batches         prometheus.Counter
	batchDuration   prometheus.Gauge
	ready           prometheus.Gauge
	readyCategories *prometheus.GaugeVec
	readyChanges    *prometheus.CounterVec
	queueDepth      *prometheus.GaugeVec
	queueDrops      *prometheus.CounterVec
	sendFailures    *prometheus.CounterVec

	sent          atomic.Uint64
	received      atomic.Uint64
	inflightCount atomic.Int64
	batchCount    atomic.Uint64
	readyState    atomic.Int64 // -1 unknown, 0 not ready, 1 ready

	mu           sync.Mutex
	cycleTotals  map[types.Status]uint64
	readyReason  string
	lastCategory []ReadinessCategory
}

// ReadinessCategory captures a categorized readiness reason with severity.
type ReadinessCategory struct {
	Name     string
	Severity string
}

// NewStore constructs a Store with zeroed metrics registered on a fresh
// registry.
func NewStore() *Store {
	s := &Store{
		registry: prometheus.NewRegistry(),
		probesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probes_sent_total",
			Help:      "Total ICMP echo requests sent.",
		}),
		probesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probes_received_total",
			Help:      "Total matching ICMP echo replies received.",
		}),
		probeRTT: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "probe_rtt_seconds",
			Help:      "Round-trip time of answered probes.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Completed probe cycles by status.",
		}, []string{"status"}),
		escalations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escalations_total",
			Help:      "Diagnostic runs by outcome.",
		}, []string{"outcome"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "inflight_workers",
			Help:      "Workers currently admitted by the scheduler.",
		}),
		batches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Completed passes over the host list.",
		}),
		batchDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_batch_duration_seconds",
			Help:      "Wall time of the most recent batch.",
		}),
		ready: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ready",
			Help:      "1 when the checker reports ready.",
		}),
		readyCategories: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ready_categories_info",
			Help:      "Active not-ready categories.",
		}, []string{"category", "severity"}),
		readyChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ready_transitions_total",
			Help:      "Readiness state changes.",
		}, []string{"state"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sink_queue_depth",
			Help:      "Results waiting for an external sink.",
		}, []string{"sink"}),
		queueDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_queue_dropped_total",
			Help:      "Results discarded because a sink queue was full.",
		}, []string{"sink"}),
		sendFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_send_failures_total",
			Help:      "Failed deliveries to an external sink.",
		}, []string{"sink"}),
		cycleTotals: make(map[types.Status]uint64),
	}
	s.readyState.Store(-1)
	s.registry.MustRegister(
		s.probesSent, s.probesReceived, s.probeRTT, s.cycles, s.escalations,
		s.inflight, s.batches, s.batchDuration, s.ready, s.readyCategories, s.readyChanges,
		s.queueDepth, s.queueDrops, s.sendFailures,
	)
	for _, st := range []types.Status{types.StatusSuccess, types.StatusPartialLoss, types.StatusFailed, types.StatusError} {
		s.cycles.WithLabelValues(string(st))
	}
	s.readyChanges.WithLabelValues("ready")
	s.readyChanges.WithLabelValues("not_ready")
	return s
}

// Registry exposes the underlying registry, e.g. for extra collectors.
func (s *Store) Registry() *prometheus.Registry {
	return s.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (s *Store) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

func (s *Store) ObserveProbe(received bool, rtt time.Duration) {
	s.probesSent.Inc()
	s.sent.Add(1)
	if !received {
		return
	}
	s.probesReceived.Inc()
	s.received.Add(1)
	s.probeRTT.Observe(rtt.Seconds())
}

func (s *Store) ObserveCycle(status types.Status) {
	s.cycles.WithLabelValues(string(status)).Inc()
	s.mu.Lock()
	s.cycleTotals[status]++
	s.mu.Unlock()
}

func (s *Store) ObserveEscalation(outcome string) {
	s.escalations.WithLabelValues(outcome).Inc()
}

func (s *Store) WorkerStarted() {
	s.inflight.Inc()
	s.inflightCount.Add(1)
}

func (s *Store) WorkerFinished() {
	s.inflight.Dec()
	s.inflightCount.Add(-1)
}

func (s *Store) ObserveBatch(hosts int, elapsed time.Duration) {
	s.batches.Inc()
	s.batchCount.Add(1)
	s.batchDuration.Set(elapsed.Seconds())
}

// QueueRecorder returns the recorder for the queue feeding the named sink.
func (s *Store) QueueRecorder(sink string) QueueRecorder {
	return queueRecorder{
		depth:    s.queueDepth.WithLabelValues(sink),
		drops:    s.queueDrops.WithLabelValues(sink),
		failures: s.sendFailures.WithLabelValues(sink),
	}
}

type queueRecorder struct {
	depth    prometheus.Gauge
	drops    prometheus.Counter
	failures prometheus.Counter
}

func (q queueRecorder) ObserveQueueDepth(n int) { q.depth.Set(float64(n)) }
func (q queueRecorder) IncQueueDrops()          { q.drops.Inc() }
func (q queueRecorder) IncSendFailures()        { q.failures.Inc() }

// ObserveReadiness publishes the checker's verdict. Category gauges are reset
// on every call so only the active reasons are exported.
func (s *Store) ObserveReadiness(ready bool, reason string, categories []ReadinessCategory) {
	next := int64(0)
	if ready {
		next = 1
	}
	prev := s.readyState.Swap(next)
	if prev != next {
		if ready {
			s.readyChanges.WithLabelValues("ready").Inc()
		} else if prev == 1 {
			s.readyChanges.WithLabelValues("not_ready").Inc()
		}
	}
	s.ready.Set(float64(next))

	deduped := dedupeCategories(categories)
	s.readyCategories.Reset()
	for _, c := range deduped {
		s.readyCategories.WithLabelValues(c.Name, c.Severity).Set(1)
	}

	s.mu.Lock()
	s.readyReason = reason
	s.lastCategory = deduped
	s.mu.Unlock()
}

// Snapshot is a plain copy of the counters, used by the status API.
type Snapshot struct {
	ProbesSent      uint64                  `json:"probes_sent"`
	ProbesReceived  uint64                  `json:"probes_received"`
	InflightWorkers int64                   `json:"inflight_workers"`
	Batches         uint64                  `json:"batches"`
	Cycles          map[types.Status]uint64 `json:"cycles"`
	Ready           bool                    `json:"ready"`
	ReadyReason     string                  `json:"ready_reason,omitempty"`
	ReadyCategories []ReadinessCategory     `json:"ready_categories,omitempty"`
}

func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	cycles := make(map[types.Status]uint64, len(s.cycleTotals))
	for k, v := range s.cycleTotals {
		cycles[k] = v
	}
	reason := s.readyReason
	categories := append([]ReadinessCategory(nil), s.lastCategory...)
	s.mu.Unlock()
	return Snapshot{
		ProbesSent:      s.sent.Load(),
		ProbesReceived:  s.received.Load(),
		InflightWorkers: s.inflightCount.Load(),
		Batches:         s.batchCount.Load(),
		Cycles:          cycles,
		Ready:           s.readyState.Load() == 1,
		ReadyReason:     reason,
		ReadyCategories: categories,
	}
}

func dedupeCategories(categories []ReadinessCategory) []ReadinessCategory {
	if len(categories) == 0 {
		return nil
	}
	seen := make(map[ReadinessCategory]struct{}, len(categories))
	result := make([]ReadinessCategory, 0, len(categories))
	for _, c := range categories {
		if strings.TrimSpace(c.Name) == "" {
			continue
		}
		c = ReadinessCategory{
			Name:     strings.TrimSpace(c.Name),
			Severity: normalizeSeverity(c.Severity),
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		result = append(result, c)
	}
	return result
}

func normalizeSeverity(severity string) string {
	switch s := strings.TrimSpace(strings.ToLower(severity)); s {
	case "":
		return "unknown"
	case "info", "informational":
		return "info"
	case "warn", "warning":
		return "warning"
	case "critical", "crit":
		return "critical"
	default:
		return s
	}
}
