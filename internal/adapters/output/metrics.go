package output

import (
	"errors"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/HolyFlex-tecjh/axion/internal/domain"
)

// PrometheusMetrics implements ports.MetricsCollector, ports.ProcessingObserver
// and ports.AlertSubscriber on a private registry.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	events         *prometheus.CounterVec
	results        *prometheus.CounterVec
	decisions      *prometheus.CounterVec
	ruleTriggers   *prometheus.CounterVec
	raids          *prometheus.CounterVec
	patterns       *prometheus.CounterVec
	alerts         *prometheus.CounterVec
	evaluationTime prometheus.Histogram
	activeWorkers  prometheus.Gauge

	server *http.Server
	mu     sync.Mutex
}

// GaugeSources feeds the gauge funcs. Nil sources report zero.
type GaugeSources struct {
	QueueLength func() int
	Profiles    func() int
	KnownSpam   func() int
}

type MetricsConfig struct {
	Addr string
	Path string
}

func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Addr: ":9090",
		Path: "/metrics",
	}
}

func NewPrometheusMetrics(namespace string, sources GaugeSources) *PrometheusMetrics {
	if namespace == "" {
		namespace = "axion"
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	factory := promauto.With(reg)

	m := &PrometheusMetrics{registry: reg}

	m.events = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_processed_total",
		Help:      "Platform events processed by kind",
	}, []string{"kind"})

	m.results = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_by_result_total",
		Help:      "Processed events by outcome",
	}, []string{"result"})

	m.decisions = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "decisions_total",
		Help:      "Moderation decisions by action",
	}, []string{"action"})

	m.ruleTriggers = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rule_triggers_total",
		Help:      "Rule firings by rule ID",
	}, []string{"rule"})

	m.raids = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "raids_detected_total",
		Help:      "Raid detections by response",
	}, []string{"response"})

	m.patterns = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "coordinated_patterns_total",
		Help:      "Coordinated behavior patterns by type",
	}, []string{"type"})

	m.alerts = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "alerts_total",
		Help:      "Alerts dispatched by kind and level",
	}, []string{"kind", "level"})

	m.evaluationTime = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "evaluation_duration_seconds",
		Help:      "Time spent in one Evaluate call",
		Buckets:   prometheus.ExponentialBuckets(0.00001, 2, 14),
	})

	m.activeWorkers = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_workers",
		Help:      "Number of active worker goroutines",
	})

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_length",
		Help:      "Events waiting in the worker pool queue",
	}, intSource(sources.QueueLength))

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "profile_cache_size",
		Help:      "Behavior profiles held in memory",
	}, intSource(sources.Profiles))

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "known_spam_fingerprints",
		Help:      "Fingerprints in the known-spam store",
	}, intSource(sources.KnownSpam))

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "memory_bytes",
		Help:      "Current heap allocation in bytes",
	}, func() float64 {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		return float64(ms.Alloc)
	})

	return m
}

func intSource(f func() int) func() float64 {
	return func() float64 {
		if f == nil {
			return 0
		}
		return float64(f())
	}
}

func (m *PrometheusMetrics) IncrementEvents(kind domain.EventKind) {
	m.events.WithLabelValues(kind.String()).Inc()
}

func (m *PrometheusMetrics) IncrementEventsByResult(result string) {
	m.results.WithLabelValues(result).Inc()
}

func (m *PrometheusMetrics) IncrementDecisions(action domain.Action) {
	m.decisions.WithLabelValues(action.String()).Inc()
}

func (m *PrometheusMetrics) IncrementRuleTriggers(ruleID string) {
	m.ruleTriggers.WithLabelValues(ruleID).Inc()
}

func (m *PrometheusMetrics) IncrementRaids(response domain.RaidResponse) {
	m.raids.WithLabelValues(response.String()).Inc()
}

func (m *PrometheusMetrics) IncrementPatterns(pattern domain.PatternType) {
	m.patterns.WithLabelValues(pattern.String()).Inc()
}

func (m *PrometheusMetrics) ObserveEvaluationTime(seconds float64) {
	m.evaluationTime.Observe(seconds)
}

func (m *PrometheusMetrics) SetActiveWorkers(count int) {
	m.activeWorkers.Set(float64(count))
}

// OnAlert implements ports.AlertSubscriber.
func (m *PrometheusMetrics) OnAlert(alert *domain.Alert) {
	m.alerts.WithLabelValues(string(alert.Kind), string(alert.Level)).Inc()
}

// Registry exposes the private registry, mainly for tests.
func (m *PrometheusMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// StartServer serves metrics on config.Path and, when ready is not nil, the
// readiness probe on /ready.
func (m *PrometheusMetrics) StartServer(config MetricsConfig, ready http.Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.server != nil {
		return errors.New("metrics server already running")
	}
	if config.Path == "" {
		config.Path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(config.Path, m.Handler())
	if ready != nil {
		mux.Handle("/ready", ready)
	}

	m.server = &http.Server{
		Addr:              config.Addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	srv := m.server
	go func() {
		log.Info().Str("addr", config.Addr).Str("path", config.Path).Msg("Starting Prometheus metrics server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Metrics server error")
		}
	}()

	return nil
}

func (m *PrometheusMetrics) StopServer() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.server == nil {
		return nil
	}
	err := m.server.Close()
	m.server = nil
	return err
}
