package observability

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/yungbote/nort-backend/internal/pkg/logger"
)

type Metrics struct {
	registry *prometheus.Registry

	apiRequests *prometheus.CounterVec
	apiLatency  *prometheus.HistogramVec
	apiInflight prometheus.Gauge

	completionRequests *prometheus.CounterVec
	completionLatency  *prometheus.HistogramVec
	completionRetries  *prometheus.CounterVec

	generationOutcomes *prometheus.CounterVec

	jobTransitions *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	jobsActive     prometheus.Gauge

	liveSinks    prometheus.Gauge
	liveEvents   *prometheus.CounterVec
	liveDropped  prometheus.Counter
	busMessages  *prometheus.CounterVec
	dbStats      *prometheus.GaugeVec
	redisUp      prometheus.Gauge
	redisPingSec prometheus.Gauge
}

var (
	initOnce sync.Once
	instance *Metrics
)

// Current returns the process-wide metrics, or nil when Init was never called. Every method
// is nil-safe so callers never need to check.
func Current() *Metrics {
	return instance
}

func Init(log *logger.Logger) *Metrics {
	initOnce.Do(func() {
		instance = New()
		if log != nil {
			log.Info("metrics initialized")
		}
	})
	return instance
}

// New builds an isolated metrics set on its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		apiRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "nort_api_requests_total",
			Help: "Total API requests by method/route/status.",
		}, []string{"method", "route", "status"}),
		apiLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nort_api_request_duration_seconds",
			Help:    "API request latency in seconds by method/route/status.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"method", "route", "status"}),
		apiInflight: f.NewGauge(prometheus.GaugeOpts{
			Name: "nort_api_inflight_requests",
			Help: "In-flight API requests.",
		}),
		completionRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "nort_completion_requests_total",
			Help: "Completion provider calls by model/status.",
		}, []string{"model", "status"}),
		completionLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nort_completion_request_duration_seconds",
			Help:    "Completion provider latency including retries.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}, []string{"model", "status"}),
		completionRetries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "nort_completion_retries_total",
			Help: "Completion attempts that were retried, by reason.",
		}, []string{"reason"}),
		generationOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "nort_generation_outcomes_total",
			Help: "Generate-reply outcomes by protocol and result.",
		}, []string{"protocol", "result"}),
		jobTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "nort_generation_jobs_total",
			Help: "Generation job state transitions.",
		}, []string{"status"}),
		jobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nort_generation_job_duration_seconds",
			Help:    "Generation job wall time by terminal status.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"status"}),
		jobsActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "nort_generation_jobs_active",
			Help: "Generation jobs currently queued or running.",
		}),
		liveSinks: f.NewGauge(prometheus.GaugeOpts{
			Name: "nort_live_sinks",
			Help: "Connected live viewers across all conversations.",
		}),
		liveEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "nort_live_events_total",
			Help: "Events published to live viewers by type.",
		}, []string{"type"}),
		liveDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "nort_live_sinks_dropped_total",
			Help: "Live viewers dropped after a failed write.",
		}),
		busMessages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "nort_bus_messages_total",
			Help: "Cross-node bus messages by direction.",
		}, []string{"direction"}),
		dbStats: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "nort_db_pool",
			Help: "database/sql pool statistics.",
		}, []string{"stat"}),
		redisUp: f.NewGauge(prometheus.GaugeOpts{
			Name: "nort_redis_up",
			Help: "1 when the last redis ping succeeded.",
		}),
		redisPingSec: f.NewGauge(prometheus.GaugeOpts{
			Name: "nort_redis_ping_seconds",
			Help: "Latency of the last redis ping.",
		}),
	}
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveAPI(method, route, status string, dur time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "UNKNOWN"
	}
	if route == "" {
		route = "unknown"
	}
	if status == "" {
		status = "0"
	}
	m.apiRequests.WithLabelValues(method, route, status).Inc()
	m.apiLatency.WithLabelValues(method, route, status).Observe(dur.Seconds())
}

func (m *Metrics) ApiInflightInc() {
	if m == nil {
		return
	}
	m.apiInflight.Inc()
}

func (m *Metrics) ApiInflightDec() {
	if m == nil {
		return
	}
	m.apiInflight.Dec()
}

func (m *Metrics) ObserveCompletion(model, status string, dur time.Duration) {
	if m == nil {
		return
	}
	model = strings.TrimSpace(model)
	if model == "" {
		model = "unknown"
	}
	if status == "" {
		status = "0"
	}
	m.completionRequests.WithLabelValues(model, status).Inc()
	if dur > 0 {
		m.completionLatency.WithLabelValues(model, status).Observe(dur.Seconds())
	}
}

func (m *Metrics) IncCompletionRetry(reason string) {
	if m == nil {
		return
	}
	m.completionRetries.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncGeneration(protocol, result string) {
	if m == nil {
		return
	}
	m.generationOutcomes.WithLabelValues(protocol, result).Inc()
}

// ObserveJob records a job transition; dur is only observed for terminal statuses.
func (m *Metrics) ObserveJob(status string, dur time.Duration, terminal bool) {
	if m == nil {
		return
	}
	m.jobTransitions.WithLabelValues(status).Inc()
	if terminal {
		m.jobDuration.WithLabelValues(status).Observe(dur.Seconds())
	}
}

func (m *Metrics) JobsActiveAdd(delta float64) {
	if m == nil {
		return
	}
	m.jobsActive.Add(delta)
}

func (m *Metrics) LiveSinksAdd(delta float64) {
	if m == nil {
		return
	}
	m.liveSinks.Add(delta)
}

func (m *Metrics) IncLiveEvent(eventType string) {
	if m == nil {
		return
	}
	m.liveEvents.WithLabelValues(eventType).Inc()
}

func (m *Metrics) IncLiveDropped() {
	if m == nil {
		return
	}
	m.liveDropped.Inc()
}

func (m *Metrics) IncBus(direction string) {
	if m == nil {
		return
	}
	m.busMessages.WithLabelValues(direction).Inc()
}

func (m *Metrics) StartDBCollector(ctx context.Context, log *logger.Logger, db *gorm.DB, interval time.Duration) {
	if m == nil || db == nil {
		return
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sqlDB, err := db.DB()
				if err != nil {
					if log != nil {
						log.Warn("metrics: db stats unavailable", "error", err)
					}
					continue
				}
				stats := sqlDB.Stats()
				m.dbStats.WithLabelValues("open_connections").Set(float64(stats.OpenConnections))
				m.dbStats.WithLabelValues("in_use").Set(float64(stats.InUse))
				m.dbStats.WithLabelValues("idle").Set(float64(stats.Idle))
				m.dbStats.WithLabelValues("wait_count").Set(float64(stats.WaitCount))
				m.dbStats.WithLabelValues("wait_duration_seconds").Set(stats.WaitDuration.Seconds())
				m.dbStats.WithLabelValues("max_open_connections").Set(float64(stats.MaxOpenConnections))
			}
		}
	}()
}

func (m *Metrics) StartRedisCollector(ctx context.Context, log *logger.Logger, rdb redis.UniversalClient, interval time.Duration) {
	if m == nil || rdb == nil {
		return
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				start := time.Now()
				if err := rdb.Ping(ctx).Err(); err != nil {
					m.redisUp.Set(0)
					if log != nil {
						log.Warn("metrics: redis ping failed", "error", err)
					}
					continue
				}
				m.redisUp.Set(1)
				m.redisPingSec.Set(time.Since(start).Seconds())
			}
		}
	}()
}

func StatusLabel(code int) string {
	if code <= 0 {
		return "error"
	}
	return strconv.Itoa(code)
}
