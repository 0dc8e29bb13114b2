// Package metrics exposes agent counters in Prometheus format and tracks
// link connectivity.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "serversnitch"

// Collector owns a Prometheus registry with the agent's metrics.
type Collector struct {
	registry *prometheus.Registry
	factory  promauto.Factory

	commands      *prometheus.CounterVec
	deliveries    *prometheus.CounterVec
	drainPasses   *prometheus.CounterVec
	deviceWrites  *prometheus.CounterVec
	probes        *prometheus.CounterVec
	cycleDuration *prometheus.HistogramVec

	connectivity *ConnectivityTracker
}

// NewCollector creates a collector on a fresh registry, including the Go
// runtime and process collectors.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	c := &Collector{
		registry:     reg,
		factory:      factory,
		connectivity: NewConnectivityTracker(),
	}

	c.commands = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Device commands dispatched, by command",
		},
		[]string{"command"},
	)
	c.deliveries = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Record submissions to the monitoring API, by source and result",
		},
		[]string{"source", "result"},
	)
	c.drainPasses = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "drain_passes_total",
			Help:      "Buffer drain passes, by outcome",
		},
		[]string{"outcome"},
	)
	c.deviceWrites = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "device_writes_total",
			Help:      "Messages written to the device, by kind and result",
		},
		[]string{"kind", "result"},
	)
	c.probes = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probes_total",
			Help:      "Connectivity probes, by link and result",
		},
		[]string{"link", "result"},
	)
	c.cycleDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of one dispatch cycle",
			Buckets:   []float64{.01, .05, .1, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"command"},
	)

	for _, link := range []Link{LinkWAN, LinkLAN} {
		link := link
		factory.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace:   namespace,
				Name:        "link_up",
				Help:        "1 when the last probe of the link succeeded",
				ConstLabels: prometheus.Labels{"link": string(link)},
			},
			func() float64 {
				if c.connectivity.Status(link).Up {
					return 1
				}
				return 0
			},
		)
		factory.NewCounterFunc(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Name:        "link_outages_total",
				Help:        "Transitions of the link from up to down",
				ConstLabels: prometheus.Labels{"link": string(link)},
			},
			func() float64 {
				return float64(c.connectivity.Status(link).Outages)
			},
		)
	}

	return c
}

// ObserveBufferDepth exposes fn as the buffer depth gauge. Call it once.
func (c *Collector) ObserveBufferDepth(fn func() int) {
	c.factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "buffer_depth",
			Help:      "Records waiting in the store-and-forward buffer",
		},
		func() float64 { return float64(fn()) },
	)
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// RecordCommand counts one dispatched command.
func (c *Collector) RecordCommand(command string) {
	c.commands.WithLabelValues(command).Inc()
}

// RecordDelivery counts one submission attempt.
func (c *Collector) RecordDelivery(source string, ok bool) {
	c.deliveries.WithLabelValues(source, result(ok)).Inc()
}

// RecordDrainPass counts one drain pass. The outcome is "emptied" when the
// buffer was fully delivered, "offline" when a probe stopped it and "failed"
// when a delivery did.
func (c *Collector) RecordDrainPass(remaining int, offline bool) {
	outcome := "emptied"
	switch {
	case offline:
		outcome = "offline"
	case remaining > 0:
		outcome = "failed"
	}
	c.drainPasses.WithLabelValues(outcome).Inc()
}

// RecordDeviceWrite counts one message written to the device.
func (c *Collector) RecordDeviceWrite(kind string, ok bool) {
	c.deviceWrites.WithLabelValues(kind, result(ok)).Inc()
}

// RecordProbe counts one connectivity probe and feeds the tracker.
func (c *Collector) RecordProbe(link Link, up bool) {
	c.probes.WithLabelValues(string(link), result(up)).Inc()
	c.connectivity.RecordProbe(link, up)
}

// RecordCycle observes the duration of one dispatch cycle.
func (c *Collector) RecordCycle(command string, d time.Duration) {
	c.cycleDuration.WithLabelValues(command).Observe(d.Seconds())
}

// Connectivity returns the link tracker.
func (c *Collector) Connectivity() *ConnectivityTracker {
	return c.connectivity
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
