// Package metrics exposes Prometheus metrics and the /healthz probe of the
// indicator service.
package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the indicator engine.
type Metrics struct {
	// Engine
	StepDur      prometheus.Histogram   // engine latency per bar, all indicators
	StepsTotal   *prometheus.CounterVec // labels: kind=closed|live
	ResultsTotal prometheus.Counter
	BarsDropped  prometheus.Counter // stale bars and unconfigured TFs

	// Parity shadow mode
	ParityMismatches *prometheus.CounterVec // labels: indicator

	// Snapshots
	SnapshotDur    prometheus.Histogram
	SnapshotTokens prometheus.Gauge

	// Redis
	PELMessagesReclaimed     prometheus.Counter
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	RedisBufferedWrites      prometheus.Counter

	// Live feed
	WSClients prometheus.Gauge
}

// NewMetrics creates all metrics and registers them with reg. A nil reg
// means the default Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		StepDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "indengine_step_duration_seconds",
			Help:    "Indicator engine latency per bar across all configured indicators",
			Buckets: []float64{0.000001, 0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005},
		}),
		StepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "indengine_steps_total",
			Help: "Bars applied to indicator states, by closed or live (forming) bar",
		}, []string{"kind"}),
		ResultsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indengine_results_total",
			Help: "Total indicator values computed",
		}),
		BarsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indengine_bars_dropped_total",
			Help: "Bars producing no results (stale, or TF not configured)",
		}),
		ParityMismatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "indengine_parity_mismatches_total",
			Help: "Steps where the shadow backend disagreed beyond tolerance",
		}, []string{"indicator"}),
		SnapshotDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "indengine_snapshot_duration_seconds",
			Help:    "Time to capture and persist an engine snapshot",
			Buckets: prometheus.DefBuckets,
		}),
		SnapshotTokens: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "indengine_snapshot_tokens",
			Help: "Token streams in the last snapshot",
		}),
		PELMessagesReclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indengine_pel_messages_reclaimed_total",
			Help: "Messages reclaimed from dead consumers via XCLAIM",
		}),
		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "indengine_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indengine_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		RedisBufferedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indengine_redis_buffered_writes_total",
			Help: "Results buffered locally while the Redis circuit breaker was open",
		}),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "indengine_ws_clients",
			Help: "Connected live feed WebSocket clients",
		}),
	}

	reg.MustRegister(
		m.StepDur,
		m.StepsTotal,
		m.ResultsTotal,
		m.BarsDropped,
		m.ParityMismatches,
		m.SnapshotDur,
		m.SnapshotTokens,
		m.PELMessagesReclaimed,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.RedisBufferedWrites,
		m.WSClients,
	)

	return m
}

// HealthStatus represents the service health.
type HealthStatus struct {
	mu sync.RWMutex

	Backend        string
	LastBarTime    time.Time
	RedisConnected bool
	SQLiteOK       bool
	IndicatorOK    bool
	EnabledTFs     []int

	// Liveness probe results
	RedisLatencyMs  float64
	SQLiteLatencyMs float64
	LastCheckAt     time.Time
	StartedAt       time.Time
}

// NewHealthStatus returns a default health status.
func NewHealthStatus(backend string) *HealthStatus {
	return &HealthStatus{
		Backend:   backend,
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetLastBarTime(t time.Time) {
	h.mu.Lock()
	h.LastBarTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisConnected(v bool) {
	h.mu.Lock()
	h.RedisConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSQLiteOK(v bool) {
	h.mu.Lock()
	h.SQLiteOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetIndicatorOK(v bool) {
	h.mu.Lock()
	h.IndicatorOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetEnabledTFs(tfs []int) {
	h.mu.Lock()
	h.EnabledTFs = tfs
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// RunLivenessChecker runs periodic dependency checks until ctx is done.
// Nil clients are skipped.
func (h *HealthStatus) RunLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			if rdb != nil {
				h.CheckRedis(probeCtx, rdb)
			}
			if sqlDB != nil {
				h.CheckSQLite(probeCtx, sqlDB)
			}
			cancel()
		}
	}
}

// ServeHTTP handles the /healthz endpoint. The service is degraded without
// Redis or before the engine is ready; SQLite is optional.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK
	if !h.RedisConnected || !h.IndicatorOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}

	barAge := ""
	if !h.LastBarTime.IsZero() {
		barAge = time.Since(h.LastBarTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string  `json:"status"`
		Backend         string  `json:"backend"`
		Uptime          string  `json:"uptime"`
		LastBarTime     string  `json:"last_bar_time"`
		BarAge          string  `json:"bar_age"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		IndicatorOK     bool    `json:"indicator_ok"`
		EnabledTFs      []int   `json:"enabled_tfs"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Backend:         h.Backend,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		LastBarTime:     h.LastBarTime.Format(time.RFC3339),
		BarAge:          barAge,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		IndicatorOK:     h.IndicatorOK,
		EnabledTFs:      h.EnabledTFs,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpCode)
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	addr string
	srv  *http.Server
}

// NewServer creates a metrics and health server. gatherer defaults to the
// default Prometheus registry.
func NewServer(addr string, health *HealthStatus, gatherer prometheus.Gatherer) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.Handle("/healthz", health)

	return &Server{
		addr: addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Handler returns the server's mux.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// ListenAndServe serves until Shutdown; a clean shutdown returns nil.
func (s *Server) ListenAndServe() error {
	slog.Info("metrics server listening", "component", "metrics", "addr", s.addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
