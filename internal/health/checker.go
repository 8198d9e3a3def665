package health

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// CheckResult represents the health of a single dependency.
type CheckResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// HealthResult is the top-level health response.
type HealthResult struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// Checker verifies that all dependencies are reachable and reports host
// resource gauges alongside them.
type Checker struct {
	db       Pinger
	logger   *slog.Logger
	gauge    *prometheus.GaugeVec
	cpuGauge prometheus.Gauge
	memGauge prometheus.Gauge
}

// NewChecker creates a health checker and registers its Prometheus gauges.
func NewChecker(db Pinger, logger *slog.Logger, reg prometheus.Registerer) *Checker {
	gauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "runner",
		Name:      "health_check_up",
		Help:      "Whether a dependency is reachable. 1 = up, 0 = down.",
	}, []string{"dependency"})
	reg.MustRegister(gauge)

	cpuGauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "runner",
		Name:      "host_cpu_percent",
		Help:      "Host-wide CPU utilization percentage, sampled on readiness checks.",
	})
	reg.MustRegister(cpuGauge)

	memGauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "runner",
		Name:      "host_memory_used_percent",
		Help:      "Host-wide memory utilization percentage, sampled on readiness checks.",
	})
	reg.MustRegister(memGauge)

	return &Checker{
		db:       db,
		logger:   logger.With("component", "health"),
		gauge:    gauge,
		cpuGauge: cpuGauge,
		memGauge: memGauge,
	}
}

// Liveness returns a simple "up" response if the process is running.
func (c *Checker) Liveness(_ context.Context) HealthResult {
	return HealthResult{Status: "up"}
}

// Readiness pings every dependency, samples host CPU/memory, and reports
// per-check status.
func (c *Checker) Readiness(ctx context.Context) HealthResult {
	checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	result := HealthResult{
		Status: "up",
		Checks: make(map[string]CheckResult),
	}

	if err := c.db.Ping(checkCtx); err != nil {
		c.logger.Warn("postgres health check failed", "error", err)
		result.Status = "down"
		result.Checks["postgres"] = CheckResult{Status: "down", Error: err.Error()}
		c.gauge.WithLabelValues("postgres").Set(0)
	} else {
		result.Checks["postgres"] = CheckResult{Status: "up"}
		c.gauge.WithLabelValues("postgres").Set(1)
	}

	c.sampleHostResources()

	return result
}

func (c *Checker) sampleHostResources() {
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		c.cpuGauge.Set(percents[0])
	} else if err != nil {
		c.logger.Warn("cpu sample failed", "error", err)
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		c.memGauge.Set(vm.UsedPercent)
	} else {
		c.logger.Warn("memory sample failed", "error", err)
	}
}
