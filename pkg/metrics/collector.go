package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/psantana5/zinitctl/pkg/zinit"
)

const namespace = "zinitctl"

// Result labels
const (
	ResultSuccess = "success"
	ResultRemote  = "remote_error"
	ResultError   = "error"
)

// Collector records zinit command outcomes in its own Prometheus registry
type Collector struct {
	registry *prometheus.Registry
	started  time.Time

	commands  *prometheus.CounterVec
	durations *prometheus.HistogramVec
	retries   *prometheus.CounterVec
	inflight  prometheus.Gauge
}

// NewCollector creates a collector with Go runtime and process metrics registered
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		started:  time.Now(),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "zinit_commands_total",
			Help:      "zinit commands issued, by command and result",
		}, []string{"command", "result"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "zinit_command_duration_seconds",
			Help:      "Wall time of zinit commands",
			Buckets:   []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"command"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registration_retries_total",
			Help:      "Registration attempts that were retried",
		}, []string{"service"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registrations_inflight",
			Help:      "Registrations currently running",
		}),
	}

	uptime := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "uptime_seconds",
		Help:      "Seconds since the collector was created",
	}, func() float64 { return time.Since(c.started).Seconds() })

	c.registry.MustRegister(
		c.commands,
		c.durations,
		c.retries,
		c.inflight,
		uptime,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return c
}

// Registry returns the underlying registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in Prometheus exposition format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveCommand records one zinit command; its signature matches zinit.Observer
func (c *Collector) ObserveCommand(command, service string, took time.Duration, err error) {
	c.commands.WithLabelValues(command, ResultLabel(err)).Inc()
	c.durations.WithLabelValues(command).Observe(took.Seconds())
}

// ObserveRetry counts a retried registration
func (c *Collector) ObserveRetry(service string) {
	c.retries.WithLabelValues(service).Inc()
}

// TrackInflight increments the in-flight gauge and returns the matching decrement
func (c *Collector) TrackInflight() func() {
	c.inflight.Inc()
	return c.inflight.Dec
}

// ResultLabel maps an error to a bounded label value
func ResultLabel(err error) string {
	if err == nil {
		return ResultSuccess
	}
	if kind := zinit.KindOf(err); kind != zinit.KindUnknown {
		return kind.String()
	}
	if zinit.IsRemoteError(err) {
		return ResultRemote
	}
	return ResultError
}
