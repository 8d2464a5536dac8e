package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// mycontrol metrics collectors
var (
	// HTTP

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mycontrol_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mycontrol_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "endpoint"},
	)

	// Power

	PowerOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mycontrol_power_operations_total",
			Help: "Total number of IPMI power operations",
		},
		[]string{"driver", "operation", "status"},
	)

	PowerOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mycontrol_power_operation_duration_seconds",
			Help:    "IPMI power operation latency in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"driver", "operation"},
	)

	// Remote commands

	RemoteCommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mycontrol_remote_commands_total",
			Help: "Total number of commands run on managed hosts",
		},
		[]string{"kind", "status"},
	)

	RemoteCommandDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mycontrol_remote_command_duration_seconds",
			Help:    "Remote command latency in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 15, 30},
		},
		[]string{"kind"},
	)

	// Probes

	ProbeResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mycontrol_probe_results_total",
			Help: "Total number of liveness probe results",
		},
		[]string{"status"},
	)

	ProbeCacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mycontrol_probe_cache_hits_total",
			Help: "Total number of probe results served from cache",
		},
	)

	// Terminal sessions

	TerminalSessionsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mycontrol_terminal_sessions_active",
			Help: "Number of active terminal sessions",
		},
		[]string{"kind"},
	)

	TerminalSessionsStartedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mycontrol_terminal_sessions_started_total",
			Help: "Total number of terminal session start attempts",
		},
		[]string{"kind", "status"},
	)

	TerminalSessionsClosedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mycontrol_terminal_sessions_closed_total",
			Help: "Total number of terminal sessions closed",
		},
		[]string{"kind", "reason"},
	)

	TerminalBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mycontrol_terminal_bytes_total",
			Help: "Total number of terminal bytes transferred",
		},
		[]string{"kind", "direction"},
	)

	// Inventory

	ConfiguredHosts = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mycontrol_configured_hosts",
			Help: "Number of hosts in the registry",
		},
	)
)
