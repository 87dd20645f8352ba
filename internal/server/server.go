// Package server exposes health, readiness, metrics and the running summary
// over HTTP while a run is in progress.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/pingsantohq/reachcheck/internal/health"
	"github.com/pingsantohq/reachcheck/internal/logging"
	"github.com/pingsantohq/reachcheck/internal/metrics"
	"github.com/pingsantohq/reachcheck/internal/store"
	"github.com/pingsantohq/reachcheck/pkg/types"
)

const shutdownGrace = 5 * time.Second

// Config controls HTTP server settings.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Dependencies holds external collaborators required by the server.
type Dependencies struct {
	Logger  logrus.FieldLogger
	Store   store.Store
	Metrics *metrics.Store
	Health  *health.Checker
	Now     func() time.Time
}

// Server wraps http.Server for convenience.
type Server struct {
	*http.Server
	cfg  Config
	deps Dependencies
}

// New constructs the monitoring server.
func New(cfg Config, deps Dependencies) *Server {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:9464"
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if deps.Logger == nil {
		deps.Logger = logging.Discard()
	}
	if deps.Store == nil {
		deps.Store = store.NewMemoryStore()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewStore()
	}
	if deps.Health == nil {
		deps.Health = health.NewChecker(deps.Metrics, 0)
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }).Methods(http.MethodGet)
	r.HandleFunc("/readyz", readyHandler(deps)).Methods(http.MethodGet)
	r.Handle("/metrics", deps.Metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/status", statusHandler(deps)).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/summary", summaryHandler(deps)).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/summary/{host}", hostSummaryHandler(deps)).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/hosts/{host}/recent", recentHandler(deps)).Methods(http.MethodGet)

	s := &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return &Server{Server: s, cfg: cfg, deps: deps}
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.deps.Logger.WithField("addr", s.Addr).Info("monitoring server listening")
		errCh <- s.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func readyHandler(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		ready, reasons := deps.Health.Ready(deps.Now())
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, struct {
			Ready   bool     `json:"ready"`
			Reasons []string `json:"reasons,omitempty"`
		}{Ready: ready, Reasons: reasons})
	}
}

func statusHandler(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, struct {
			Metrics   metrics.Snapshot `json:"metrics"`
			LastBatch types.BatchRun   `json:"last_batch"`
		}{Metrics: deps.Metrics.Snapshot(), LastBatch: deps.Health.LastBatch()})
	}
}

func summaryHandler(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rows, err := deps.Store.Summary(r.Context())
		if err != nil {
			deps.Logger.WithError(err).Error("summary query failed")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		items := make([]summaryItem, 0, len(rows))
		for _, row := range rows {
			items = append(items, newSummaryItem(row))
		}
		writeJSON(w, http.StatusOK, struct {
			Items []summaryItem `json:"items"`
		}{Items: items})
	}
}

func hostSummaryHandler(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		host := mux.Vars(r)["host"]
		row, err := deps.Store.HostSummary(r.Context(), host)
		if err != nil {
			if errors.Is(err, store.ErrHostNotFound) {
				http.Error(w, "host not found", http.StatusNotFound)
			} else {
				deps.Logger.WithError(err).WithField("host", host).Error("host summary query failed")
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
			return
		}
		writeJSON(w, http.StatusOK, newSummaryItem(row))
	}
}

func recentHandler(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		host := mux.Vars(r)["host"]
		limit := 20
		if raw := r.URL.Query().Get("limit"); raw != "" {
			if v, err := strconv.Atoi(raw); err == nil && v > 0 {
				limit = v
			}
		}
		items, err := deps.Store.Recent(r.Context(), host, limit)
		if err != nil {
			if errors.Is(err, store.ErrHostNotFound) {
				http.Error(w, "host not found", http.StatusNotFound)
			} else {
				deps.Logger.WithError(err).WithField("host", host).Error("recent query failed")
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
			return
		}
		writeJSON(w, http.StatusOK, struct {
			Host  string              `json:"host"`
			Items []types.CycleResult `json:"items"`
		}{Host: host, Items: items})
	}
}

type summaryItem struct {
	types.SummaryRow
	Loss string `json:"loss"`
}

func newSummaryItem(row types.SummaryRow) summaryItem {
	return summaryItem{SummaryRow: row, Loss: row.Loss()}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
