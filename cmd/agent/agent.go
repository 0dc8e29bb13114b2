package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/bc-dunia/serversnitch/internal/api"
	"github.com/bc-dunia/serversnitch/internal/buffer"
	"github.com/bc-dunia/serversnitch/internal/collector"
	"github.com/bc-dunia/serversnitch/internal/config"
	"github.com/bc-dunia/serversnitch/internal/events"
	"github.com/bc-dunia/serversnitch/internal/metrics"
	"github.com/bc-dunia/serversnitch/internal/netprobe"
	"github.com/bc-dunia/serversnitch/internal/otel"
	"github.com/bc-dunia/serversnitch/internal/protocol"
	"github.com/bc-dunia/serversnitch/internal/relay"
	"github.com/bc-dunia/serversnitch/internal/serialline"
	"github.com/bc-dunia/serversnitch/internal/session"
)

// deps are the process-level seams replaced in tests.
type deps struct {
	logOutput io.Writer
	openPort  serialline.OpenFunc
}

// agentProcess holds everything wired together for one agent run.
type agentProcess struct {
	cfg *config.Config

	logger      *events.EventLogger
	tracer      *otel.Tracer
	otelMetrics *otel.Metrics
	prom        *metrics.Collector
	server      *http.Server

	store    buffer.Store
	queue    *buffer.Queue
	critical *relay.CriticalList
	restored int

	ctrl *session.Controller
}

func newAgent(ctx context.Context, cfg *config.Config, d deps) (*agentProcess, error) {
	if d.logOutput == nil {
		d.logOutput = os.Stderr
	}

	level, err := events.ParseLevel(cfg.Observability.LogLevel)
	if err != nil {
		return nil, err
	}

	a := &agentProcess{
		cfg:    cfg,
		logger: events.NewEventLoggerWithWriter(cfg.AgentID, cfg.Serial.Port, level, d.logOutput),
		prom:   metrics.NewCollector(),
	}

	if err := a.setupTelemetry(ctx); err != nil {
		a.close(context.Background())
		return nil, err
	}

	if err := a.setupBuffer(ctx); err != nil {
		a.close(context.Background())
		return nil, err
	}

	line := serialline.New(serialline.Options{
		Port:        cfg.Serial.Port,
		BaudRate:    cfg.Serial.BaudRate,
		ReadTimeout: cfg.Serial.ReadTimeout,
		Open:        d.openPort,
	})
	if err := line.Check(); err != nil {
		a.close(context.Background())
		return nil, fmt.Errorf("device not reachable: %w%s", err, portHint())
	}

	tokens, err := tokenSource(cfg)
	if err != nil {
		a.close(context.Background())
		return nil, err
	}

	a.critical = relay.NewCriticalList(cfg.CriticalServices, a.logger)

	ctrl, err := session.New(session.Config{
		Source: protocol.NewDecoder(line, protocol.DecoderOptions{
			Marker:    cfg.Protocol.Marker,
			MaxWait:   cfg.Protocol.MaxWait,
			OnDiscard: a.logger.LogLineDiscarded,
		}),
		Stats: collector.New(cfg.Collector.DiskPath),
		Prober: netprobe.New(netprobe.Options{
			WANURL:  cfg.Probe.WANURL,
			LANURL:  cfg.Probe.LANURL,
			Timeout: cfg.Probe.Timeout,
		}),
		API: api.NewClient(api.Options{
			URL:     cfg.API.URL,
			Timeout: cfg.API.Timeout,
			Retry: api.RetryConfig{
				MaxRetries: cfg.API.Retries,
				Backoff:    cfg.API.RetryBackoff,
				MaxBackoff: 8 * cfg.API.RetryBackoff,
			},
			Tokens: tokens,
			Tracer: a.tracer,
		}),
		Device:     line,
		Services:   cfg.Services,
		Buffer:     a.queue,
		Critical:   a.critical,
		Logger:     a.logger,
		Tracer:     a.tracer,
		Metrics:    a.otelMetrics,
		Recorder:   a.prom,
		ErrorPause: cfg.Protocol.ErrorPause,
	})
	if err != nil {
		a.close(context.Background())
		return nil, err
	}
	a.ctrl = ctrl

	if cfg.Observability.MetricsAddr != "" {
		a.server = metrics.NewServer(cfg.Observability.MetricsAddr, a.prom)
	}

	return a, nil
}

func (a *agentProcess) setupTelemetry(ctx context.Context) error {
	obs := a.cfg.Observability
	tcfg := otel.DefaultConfig()
	tcfg.Enabled = obs.Tracing.Exporter != "none"
	tcfg.ServiceVersion = version
	tcfg.ExporterType = otel.ExporterType(obs.Tracing.Exporter)
	tcfg.OTLPEndpoint = obs.Tracing.Endpoint
	tcfg.OTLPInsecure = obs.Tracing.Insecure
	tcfg.SampleRate = obs.Tracing.SampleRate
	tcfg.AgentID = a.cfg.AgentID
	tcfg.Port = a.cfg.Serial.Port

	tracer, err := otel.NewTracer(ctx, tcfg)
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	a.tracer = tracer
	otel.SetGlobalTracer(tracer)

	mcfg := otel.DefaultMetricsConfig()
	mcfg.Enabled = obs.Metrics.Exporter != "none"
	mcfg.ServiceVersion = version
	mcfg.ExporterType = otel.ExporterType(obs.Metrics.Exporter)
	mcfg.OTLPEndpoint = obs.Metrics.Endpoint
	mcfg.OTLPInsecure = obs.Metrics.Insecure
	mcfg.ExportInterval = obs.Metrics.Interval
	mcfg.AgentID = a.cfg.AgentID
	mcfg.Port = a.cfg.Serial.Port

	m, err := otel.NewMetrics(ctx, mcfg)
	if err != nil {
		return fmt.Errorf("failed to set up metrics: %w", err)
	}
	a.otelMetrics = m
	otel.SetGlobalMetrics(m)
	return nil
}

func (a *agentProcess) setupBuffer(ctx context.Context) error {
	store, err := openStore(ctx, a.cfg.Buffer)
	if err != nil {
		return err
	}
	a.store = store

	policy, err := buffer.ParseRequeuePolicy(a.cfg.Buffer.Requeue)
	if err != nil {
		return err
	}

	a.queue = buffer.NewQueue(buffer.Options{
		Requeue:      policy,
		Store:        store,
		OnStoreError: a.logger.LogStoreError,
	})

	restored, err := a.queue.Restore(ctx)
	if err != nil {
		a.logger.LogStoreError("restore", err)
	}
	a.restored = restored

	a.prom.ObserveBufferDepth(a.queue.Len)
	a.otelMetrics.ObserveBufferDepth(a.queue.Len)
	return nil
}

// openStore returns the configured buffer store, or nil for memory.
func openStore(ctx context.Context, cfg config.BufferConfig) (buffer.Store, error) {
	switch cfg.Store {
	case buffer.StoreMemory, "":
		return nil, nil
	case buffer.StoreFile:
		s, err := buffer.NewFileStore(cfg.FilePath)
		if err != nil {
			return nil, fmt.Errorf("open buffer file: %w", err)
		}
		return s, nil
	case buffer.StoreRedis:
		s, err := buffer.NewRedisStore(ctx, buffer.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Key:      cfg.Redis.Key,
		})
		if err != nil {
			return nil, fmt.Errorf("open buffer redis store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown buffer store %q", cfg.Store)
	}
}

// tokenSource picks JWT signing over a static token; nil sends no
// Authorization header.
func tokenSource(cfg *config.Config) (api.TokenSource, error) {
	if cfg.API.JWTSecret != "" {
		return api.NewJWTSigner([]byte(cfg.API.JWTSecret), cfg.AgentID, cfg.API.JWTTTL)
	}
	if cfg.API.Token != "" {
		return api.StaticToken(cfg.API.Token), nil
	}
	return nil, nil
}

func portHint() string {
	ports, err := serialline.AvailablePorts()
	if err != nil || len(ports) == 0 {
		return ""
	}
	return " (available ports: " + strings.Join(ports, ", ") + ")"
}

// run serves metrics in the background and drives the control loop until
// ctx is done. A failing metrics server stops the loop; run returns only
// after the loop has exited.
func (a *agentProcess) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	serverErr := make(chan error, 1)
	if a.server != nil {
		go func() {
			if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- err
			}
		}()
	}

	a.logger.LogAgentStarted(a.cfg.Services, a.critical.Names(), a.restored)

	loopErr := make(chan error, 1)
	go func() { loopErr <- a.ctrl.Run(ctx) }()

	select {
	case err := <-loopErr:
		return err
	case err := <-serverErr:
		cancel()
		<-loopErr
		return fmt.Errorf("metrics server: %w", err)
	}
}

// close releases everything newAgent acquired. Safe on a partially built
// agent.
func (a *agentProcess) close(ctx context.Context) {
	if a.server != nil {
		_ = a.server.Shutdown(ctx)
	}
	if a.otelMetrics != nil {
		_ = a.otelMetrics.Shutdown(ctx)
	}
	if a.tracer != nil {
		_ = a.tracer.Shutdown(ctx)
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.LogStoreError("close", err)
		}
	}
}
