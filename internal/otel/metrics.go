package otel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MetricsConfig configures OpenTelemetry metrics export.
type MetricsConfig struct {
	// Enabled turns export on. Disabled metrics record into a reader-less
	// provider.
	Enabled bool

	ServiceVersion string

	ExporterType ExporterType

	OTLPEndpoint string
	OTLPInsecure bool

	// ExportInterval is the push period. Zero uses the SDK default (60s).
	ExportInterval time.Duration

	// AgentID and Port label the metric resource.
	AgentID string
	Port    string
}

// DefaultMetricsConfig returns a default configuration with metrics disabled.
func DefaultMetricsConfig() *MetricsConfig {
	return &MetricsConfig{
		ExporterType: ExporterNone,
	}
}

// Delivery sources for RecordDelivery.
const (
	DeliverySourceDirect = "direct"
	DeliverySourceBuffer = "buffer"
)

// Metrics holds the agent's OpenTelemetry instruments.
type Metrics struct {
	config        *MetricsConfig
	meterProvider *sdkmetric.MeterProvider
	meter         metric.Meter
	shutdown      func(context.Context) error
	mu            sync.Mutex

	depthGauge    metric.Int64ObservableGauge
	depthReg      metric.Registration
	depthFunc     func() int
	depthFuncLock sync.RWMutex

	commandCounter  metric.Int64Counter
	deliveryCounter metric.Int64Counter
	writeCounter    metric.Int64Counter
	cycleDuration   metric.Float64Histogram
}

// NewMetrics creates the meter provider and instruments.
func NewMetrics(ctx context.Context, cfg *MetricsConfig) (*Metrics, error) {
	if cfg == nil {
		cfg = DefaultMetricsConfig()
	}

	m := &Metrics{config: cfg}

	if !cfg.Enabled || cfg.ExporterType == ExporterNone {
		m.meterProvider = sdkmetric.NewMeterProvider()
		m.meter = m.meterProvider.Meter(instrumentationName)
		m.shutdown = func(context.Context) error { return nil }
		return m, nil
	}

	exporter, err := m.createExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics exporter: %w", err)
	}

	res, err := agentResource(cfg.ServiceVersion, cfg.AgentID, cfg.Port)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics resource: %w", err)
	}

	var readerOpts []sdkmetric.PeriodicReaderOption
	if cfg.ExportInterval > 0 {
		readerOpts = append(readerOpts, sdkmetric.WithInterval(cfg.ExportInterval))
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, readerOpts...)),
		sdkmetric.WithResource(res),
	)

	m.meterProvider = mp
	m.meter = mp.Meter(instrumentationName)
	m.shutdown = mp.Shutdown

	if err := m.registerInstruments(); err != nil {
		return nil, fmt.Errorf("failed to register metric instruments: %w", err)
	}

	return m, nil
}

func (m *Metrics) createExporter(ctx context.Context, cfg *MetricsConfig) (sdkmetric.Exporter, error) {
	switch cfg.ExporterType {
	case ExporterStdout:
		return stdoutmetric.New()

	case ExporterOTLPGRPC:
		opts := []otlpmetricgrpc.Option{}
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint))
		}
		if cfg.OTLPInsecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		return otlpmetricgrpc.New(ctx, opts...)

	case ExporterOTLPHTTP:
		opts := []otlpmetrichttp.Option{}
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(cfg.OTLPEndpoint))
		}
		if cfg.OTLPInsecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		return otlpmetrichttp.New(ctx, opts...)

	default:
		return nil, fmt.Errorf("unknown exporter type: %s", cfg.ExporterType)
	}
}

func (m *Metrics) registerInstruments() error {
	var err error

	m.commandCounter, err = m.meter.Int64Counter(
		"serversnitch.commands",
		metric.WithDescription("Device commands dispatched, by command"),
	)
	if err != nil {
		return fmt.Errorf("failed to create command counter: %w", err)
	}

	m.deliveryCounter, err = m.meter.Int64Counter(
		"serversnitch.deliveries",
		metric.WithDescription("Telemetry submissions to the monitoring API, by source and outcome"),
	)
	if err != nil {
		return fmt.Errorf("failed to create delivery counter: %w", err)
	}

	m.writeCounter, err = m.meter.Int64Counter(
		"serversnitch.device_writes",
		metric.WithDescription("Lines written to the device, by kind and outcome"),
	)
	if err != nil {
		return fmt.Errorf("failed to create device write counter: %w", err)
	}

	m.cycleDuration, err = m.meter.Float64Histogram(
		"serversnitch.cycle.duration",
		metric.WithDescription("Time spent acting on one device command"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return fmt.Errorf("failed to create cycle duration histogram: %w", err)
	}

	m.depthGauge, err = m.meter.Int64ObservableGauge(
		"serversnitch.buffer.depth",
		metric.WithDescription("Telemetry records waiting for delivery"),
	)
	if err != nil {
		return fmt.Errorf("failed to create buffer depth gauge: %w", err)
	}

	m.depthReg, err = m.meter.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			m.depthFuncLock.RLock()
			fn := m.depthFunc
			m.depthFuncLock.RUnlock()
			if fn != nil {
				o.ObserveInt64(m.depthGauge, int64(fn()))
			}
			return nil
		},
		m.depthGauge,
	)
	if err != nil {
		return fmt.Errorf("failed to register buffer depth callback: %w", err)
	}

	return nil
}

// ObserveBufferDepth sets the function read by the buffer depth gauge.
func (m *Metrics) ObserveBufferDepth(fn func() int) {
	m.depthFuncLock.Lock()
	m.depthFunc = fn
	m.depthFuncLock.Unlock()
}

// RecordCommand counts one dispatched device command.
func (m *Metrics) RecordCommand(ctx context.Context, command string) {
	if m.commandCounter == nil {
		return
	}
	m.commandCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("command", command)))
}

// RecordDelivery counts one submission attempt.
func (m *Metrics) RecordDelivery(ctx context.Context, source string, success bool) {
	if m.deliveryCounter == nil {
		return
	}
	m.deliveryCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", source),
		attribute.Bool("success", success),
	))
}

// RecordDeviceWrite counts one line written to the device.
func (m *Metrics) RecordDeviceWrite(ctx context.Context, kind string, success bool) {
	if m.writeCounter == nil {
		return
	}
	m.writeCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.Bool("success", success),
	))
}

// RecordCycleDuration records how long one command took to handle.
func (m *Metrics) RecordCycleDuration(ctx context.Context, command string, ms float64) {
	if m.cycleDuration == nil {
		return
	}
	m.cycleDuration.Record(ctx, ms, metric.WithAttributes(attribute.String("command", command)))
}

// Shutdown flushes pending metrics and stops the exporter.
func (m *Metrics) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.depthReg != nil {
		if err := m.depthReg.Unregister(); err != nil {
			return fmt.Errorf("failed to unregister buffer depth callback: %w", err)
		}
		m.depthReg = nil
	}

	if m.shutdown != nil {
		return m.shutdown(ctx)
	}
	return nil
}

// Enabled returns whether metrics are exported.
func (m *Metrics) Enabled() bool {
	return m.config.Enabled && m.config.ExporterType != ExporterNone
}

// SetGlobalMetrics installs m's provider as the process-wide meter provider.
func SetGlobalMetrics(m *Metrics) {
	if m != nil && m.Enabled() {
		otel.SetMeterProvider(m.meterProvider)
	}
}

// NoopMetrics returns metrics that record nothing.
func NoopMetrics() *Metrics {
	cfg := DefaultMetricsConfig()
	mp := sdkmetric.NewMeterProvider()
	return &Metrics{
		config:        cfg,
		meterProvider: mp,
		meter:         mp.Meter(instrumentationName),
		shutdown:      func(context.Context) error { return nil },
	}
}
