package output

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// PoolStatus is the view of the worker pool the readiness probe needs.
// *app.WorkerPool satisfies it.
type PoolStatus interface {
	IsRunning() bool
	QueueLength() int
	QueueCapacity() int
	QueueUtilization() float64
	OverflowEvents() int64
	OverflowAlerts() int64
}

type HealthStatus struct {
	Healthy         bool    `json:"healthy"`
	Status          string  `json:"status"`
	QueueLength     int     `json:"queue_length"`
	QueueCapacity   int     `json:"queue_capacity"`
	Utilization     float64 `json:"utilization_percent"`
	OverflowedItems int64   `json:"overflowed_items"`
	OverflowGrowth  int64   `json:"overflow_growth"`
	UptimeSeconds   float64 `json:"uptime_seconds"`
	Reason          string  `json:"reason,omitempty"`
}

// HealthChecker reports whether the pipeline keeps up with its input.
// Results are cached for CheckInterval so probes cannot add load.
type HealthChecker struct {
	pool      PoolStatus
	startTime time.Time
	now       func() time.Time

	saturated float64
	degraded  float64

	lastCheck     HealthStatus
	lastCheckTime time.Time
	lastOverflow  int64
	lastCheckMu   sync.Mutex
	checkInterval time.Duration
}

type HealthCheckerConfig struct {
	CheckInterval time.Duration
	Saturated     float64 // Utilization percent reported unhealthy (default: 95)
	Degraded      float64 // Utilization percent reported degraded (default: 80)
}

func DefaultHealthCheckerConfig() HealthCheckerConfig {
	return HealthCheckerConfig{
		CheckInterval: 5 * time.Second,
		Saturated:     95,
		Degraded:      80,
	}
}

func NewHealthChecker(pool PoolStatus, config HealthCheckerConfig) *HealthChecker {
	if config.Saturated <= 0 {
		config.Saturated = 95
	}
	if config.Degraded <= 0 {
		config.Degraded = 80
	}
	config.Degraded = min(config.Degraded, config.Saturated)
	return &HealthChecker{
		pool:          pool,
		saturated:     config.Saturated,
		degraded:      config.Degraded,
		checkInterval: config.CheckInterval,
		startTime:     time.Now(),
		now:           time.Now,
	}
}

func (h *HealthChecker) Check(_ context.Context) HealthStatus {
	h.lastCheckMu.Lock()
	defer h.lastCheckMu.Unlock()

	now := h.now()
	if !h.lastCheckTime.IsZero() && now.Sub(h.lastCheckTime) < h.checkInterval {
		return h.lastCheck
	}

	status := h.performCheck(now)
	h.lastCheck = status
	h.lastCheckTime = now
	return status
}

func (h *HealthChecker) performCheck(now time.Time) HealthStatus {
	status := HealthStatus{
		UptimeSeconds: now.Sub(h.startTime).Seconds(),
	}
	if h.pool == nil || !h.pool.IsRunning() {
		status.Status = "OFFLINE"
		status.Reason = "worker pool not running"
		return status
	}

	status.QueueLength = h.pool.QueueLength()
	status.QueueCapacity = h.pool.QueueCapacity()
	status.Utilization = h.pool.QueueUtilization()
	status.OverflowedItems = h.pool.OverflowEvents() + h.pool.OverflowAlerts()
	status.OverflowGrowth = status.OverflowedItems - h.lastOverflow
	h.lastOverflow = status.OverflowedItems

	switch {
	case status.Utilization >= h.saturated:
		status.Status = "SATURATED"
		status.Reason = fmt.Sprintf("queue utilization at %.1f%%", status.Utilization)
	case status.OverflowGrowth > 0:
		status.Status = "OVERFLOWING"
		status.Reason = fmt.Sprintf("%d items spilled since last check", status.OverflowGrowth)
	case status.Utilization >= h.degraded:
		status.Healthy = true
		status.Status = "DEGRADED"
		status.Reason = fmt.Sprintf("queue utilization elevated at %.1f%%", status.Utilization)
	default:
		status.Healthy = true
		status.Status = "HEALTHY"
	}
	return status
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status := h.Check(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if status.Healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(status)
}
