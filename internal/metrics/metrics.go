package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Queue / admission metrics

	JobPickupLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "runner",
		Name:      "job_pickup_latency_seconds",
		Help:      "Time from job creation to a runner popping it off the queue.",
		Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	})

	JobExecutionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "runner",
		Name:      "job_execution_duration_seconds",
		Help:      "Duration of a job's execute() phase.",
		Buckets:   []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600, 7200},
	}, []string{"status"})

	JobsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "runner",
		Name:      "jobs_in_flight",
		Help:      "Number of jobs currently being executed on this host.",
	})

	JobsCompletedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "runner",
		Name:      "jobs_completed_total",
		Help:      "Total jobs finished, by outcome.",
	}, []string{"outcome"})

	// GPU ledger metrics

	GPUsReserved = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "runner",
		Name:      "gpus_reserved",
		Help:      "Number of free GPUs reserved by the most recent admission attempt on this host.",
	})

	GPUReservationFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "runner",
		Name:      "gpu_reservation_failures_total",
		Help:      "Total times a tick's GPU ledger reservation returned an error.",
	})

	// Manager tick metrics

	TickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "runner",
		Name:      "tick_duration_seconds",
		Help:      "Time taken for one ExecutorManager tick.",
		Buckets:   prometheus.DefBuckets,
	})

	RunnerStartTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "runner",
		Name:      "start_time_seconds",
		Help:      "Unix timestamp when this runner process started.",
	})

	RunnerShutdownsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "runner",
		Name:      "shutdowns_total",
		Help:      "Number of times this runner has shut down cleanly.",
	})

	// Admin HTTP API metrics

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "runner",
		Name:      "http_request_duration_seconds",
		Help:      "Admin API request latency.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "runner",
		Name:      "http_requests_total",
		Help:      "Total admin API requests.",
	}, []string{"method", "path", "status"})
)

func Register() {
	prometheus.MustRegister(
		JobPickupLatency,
		JobExecutionDuration,
		JobsInFlight,
		JobsCompletedTotal,
		GPUsReserved,
		GPUReservationFailuresTotal,
		TickDuration,
		RunnerStartTime,
		RunnerShutdownsTotal,
		HTTPRequestDuration,
		HTTPRequestsTotal,
	)
}

func NewServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &http.Server{Addr: addr, Handler: mux}
}
