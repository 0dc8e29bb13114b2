package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bc-dunia/serversnitch/internal/agent"
	"github.com/bc-dunia/serversnitch/internal/buffer"
	"github.com/bc-dunia/serversnitch/internal/events"
	"github.com/bc-dunia/serversnitch/internal/metrics"
	"github.com/bc-dunia/serversnitch/internal/otel"
	"github.com/bc-dunia/serversnitch/internal/protocol"
	"github.com/bc-dunia/serversnitch/internal/relay"
)

// Device message kinds, used in logs and metrics.
const (
	WriteKindRelay        = "relay"
	WriteKindConnectivity = "connectivity"
)

// Reasons a record is buffered.
const (
	bufferReasonCommand = "buffer_command"
	bufferReasonOffline = "offline"
	bufferReasonFailed  = "delivery_failed"
)

// Config wires a Controller to its collaborators.
type Config struct {
	Source CommandSource
	Stats  SystemStats
	Prober Prober
	API    Submitter
	Device DeviceWriter

	// Services are the process names reported in every record.
	Services []string

	// Buffer holds undelivered records. Default: an in-memory queue.
	Buffer *buffer.Queue
	// Critical selects the services relayed to the device. Default: none.
	Critical *relay.CriticalList

	Logger   *events.EventLogger
	Tracer   *otel.Tracer
	Metrics  *otel.Metrics
	Recorder Recorder

	// ErrorPause is slept after a transport failure while waiting for a
	// command, so a missing device does not spin the loop.
	ErrorPause time.Duration

	// Now stamps captured records. Default: time.Now.
	Now func() time.Time
}

// Controller is the command dispatcher. It owns the buffer and the critical
// service list and is driven by a single goroutine.
type Controller struct {
	source CommandSource
	stats  SystemStats
	prober Prober
	api    Submitter
	device DeviceWriter

	services []string
	buffer   *buffer.Queue
	critical *relay.CriticalList

	logger   *events.EventLogger
	tracer   *otel.Tracer
	metrics  *otel.Metrics
	recorder Recorder

	errorPause time.Duration
	now        func() time.Time
}

// New validates cfg and creates a Controller.
func New(cfg Config) (*Controller, error) {
	switch {
	case cfg.Source == nil:
		return nil, errors.New("session: command source is required")
	case cfg.Stats == nil:
		return nil, errors.New("session: system stats provider is required")
	case cfg.Prober == nil:
		return nil, errors.New("session: connectivity prober is required")
	case cfg.API == nil:
		return nil, errors.New("session: API submitter is required")
	case cfg.Device == nil:
		return nil, errors.New("session: device writer is required")
	}

	c := &Controller{
		source:     cfg.Source,
		stats:      cfg.Stats,
		prober:     cfg.Prober,
		api:        cfg.API,
		device:     cfg.Device,
		services:   append([]string(nil), cfg.Services...),
		buffer:     cfg.Buffer,
		critical:   cfg.Critical,
		logger:     cfg.Logger,
		tracer:     cfg.Tracer,
		metrics:    cfg.Metrics,
		recorder:   cfg.Recorder,
		errorPause: cfg.ErrorPause,
		now:        cfg.Now,
	}
	if c.logger == nil {
		c.logger = events.NoopEventLogger()
	}
	if c.buffer == nil {
		c.buffer = buffer.NewQueue(buffer.Options{})
	}
	if c.critical == nil {
		c.critical = relay.NewCriticalList(nil, c.logger)
	}
	if c.tracer == nil {
		c.tracer = otel.NoopTracer()
	}
	if c.metrics == nil {
		c.metrics = otel.NoopMetrics()
	}
	if c.recorder == nil {
		c.recorder = nopRecorder{}
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c, nil
}

// Buffer returns the store-and-forward queue.
func (c *Controller) Buffer() *buffer.Queue {
	return c.buffer
}

// Run waits for commands and dispatches them until ctx is done. Decode
// timeouts, malformed lines and failed cycles are logged and skipped; a
// transport failure, while decoding or inside a cycle, is followed by the
// error pause. Run returns nil once ctx is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	for {
		msg, err := c.source.Next(ctx)
		if ctx.Err() != nil {
			c.logger.LogAgentStopped(c.buffer.Len(), c.buffer.Durable())
			return nil
		}
		if err != nil {
			c.skipDecode(ctx, err)
			continue
		}

		if err := c.Dispatch(ctx, msg); err != nil {
			c.pause(ctx)
		}
	}
}

func (c *Controller) skipDecode(ctx context.Context, err error) {
	var malformed *protocol.MalformedLineError
	switch {
	case errors.Is(err, protocol.ErrWaitTimeout):
		c.logger.LogDecodeSkipped("timeout", err)
	case errors.As(err, &malformed):
		c.logger.LogDecodeSkipped("malformed", err)
	default:
		c.logger.LogDecodeSkipped("transport", err)
		c.pause(ctx)
	}
}

func (c *Controller) pause(ctx context.Context) {
	if c.errorPause <= 0 {
		return
	}
	timer := time.NewTimer(c.errorPause)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Dispatch handles one decoded command. It returns the transport error that
// abandoned the cycle, if any; the error has already been logged.
func (c *Controller) Dispatch(ctx context.Context, msg protocol.DeviceMessage) error {
	cycleID := uuid.NewString()
	command := msg.Command.String()
	start := time.Now()

	ctx, span := c.tracer.StartCycleSpan(ctx, otel.CycleSpanOptions{
		CycleID: cycleID,
		Command: command,
		Code:    msg.Code,
		EUI:     msg.EUI,
	})
	defer span.End()

	c.logger.LogCommandReceived(ctx, cycleID, command, msg.Code, msg.EUI)
	c.metrics.RecordCommand(ctx, command)
	c.recorder.RecordCommand(command)

	var err error
	switch msg.Command {
	case protocol.CommandBufferUntilInternet:
		err = c.bufferUntilInternet(ctx, cycleID, msg.EUI)
	case protocol.CommandSendToAPI:
		c.sendToAPI(ctx, cycleID, msg.EUI)
	case protocol.CommandCheckInternet:
		err = c.checkInternet(ctx, cycleID)
	default:
		c.logger.LogUnrecognizedCommand(ctx, cycleID, msg.Code, msg.EUI)
	}

	if err != nil {
		otel.RecordError(span, err, otel.ErrorTransport)
		c.logger.LogCycleAbandoned(ctx, cycleID, command, err)
	}

	elapsed := time.Since(start)
	c.metrics.RecordCycleDuration(ctx, command, float64(elapsed.Microseconds())/1000)
	c.recorder.RecordCycle(command, elapsed)
	return err
}

func (c *Controller) bufferUntilInternet(ctx context.Context, cycleID, eui string) error {
	rec := c.gather(ctx, cycleID, eui)
	c.hold(ctx, cycleID, rec, bufferReasonCommand)
	return c.write(ctx, cycleID, WriteKindRelay, c.critical.Encode(rec))
}

// sendToAPI flushes the backlog first, then delivers the current record if
// the WAN is still up. A record that cannot be delivered is buffered.
func (c *Controller) sendToAPI(ctx context.Context, cycleID, eui string) {
	rec := c.gather(ctx, cycleID, eui)

	res := c.buffer.Drain(ctx, c.probeWAN, func(ctx context.Context, r agent.TelemetryRecord) error {
		return c.deliver(ctx, cycleID, otel.DeliverySourceBuffer, r)
	})
	c.logger.LogDrain(ctx, cycleID, res.Delivered, res.Remaining, res.Offline, res.Err)
	c.recorder.RecordDrainPass(res.Remaining, res.Offline)

	if !c.probeWAN(ctx) {
		c.hold(ctx, cycleID, rec, bufferReasonOffline)
		return
	}
	if err := c.deliver(ctx, cycleID, otel.DeliverySourceDirect, rec); err != nil {
		c.hold(ctx, cycleID, rec, bufferReasonFailed)
	}
}

func (c *Controller) checkInternet(ctx context.Context, cycleID string) error {
	wan := c.probeWAN(ctx)
	lan := c.probeLAN(ctx)
	return c.write(ctx, cycleID, WriteKindConnectivity, protocol.FormatConnectivity(wan, lan))
}

// gather builds the telemetry record for one cycle. A statistic that cannot
// be read is logged and reported as zero.
func (c *Controller) gather(ctx context.Context, cycleID, eui string) agent.TelemetryRecord {
	services := make(map[string]agent.ServiceStatus, len(c.services))
	for _, name := range c.services {
		st, err := c.stats.ProcessInfo(ctx, name)
		if err != nil {
			c.logger.LogCollectorError(ctx, cycleID, "process:"+name, err)
			st = agent.NotRunning(name)
		}
		services[name] = st
	}

	var host agent.HostStats
	var err error
	if host.LoadAvg, err = c.stats.LoadAverage(ctx); err != nil {
		c.logger.LogCollectorError(ctx, cycleID, "load_avg", err)
	}
	if host.DiskPercent, err = c.stats.DiskUsedPercent(ctx); err != nil {
		c.logger.LogCollectorError(ctx, cycleID, "disk", err)
	}
	if host.MemPercent, err = c.stats.MemUsedPercent(ctx); err != nil {
		c.logger.LogCollectorError(ctx, cycleID, "mem", err)
	}

	wan := c.probeWAN(ctx)
	lan := c.probeLAN(ctx)

	return agent.NewTelemetryRecord(eui, services, host, wan, lan, c.now())
}

func (c *Controller) hold(ctx context.Context, cycleID string, rec agent.TelemetryRecord, reason string) {
	c.buffer.Push(ctx, rec)
	c.logger.LogRecordBuffered(ctx, cycleID, rec.EUI, reason, c.buffer.Len())
}

func (c *Controller) deliver(ctx context.Context, cycleID, source string, rec agent.TelemetryRecord) error {
	start := time.Now()
	err := c.api.Submit(ctx, rec)
	ok := err == nil

	c.logger.LogDelivery(ctx, cycleID, source, ok, time.Since(start).Milliseconds(), err)
	c.metrics.RecordDelivery(ctx, source, ok)
	c.recorder.RecordDelivery(source, ok)
	return err
}

func (c *Controller) write(ctx context.Context, cycleID, kind, msg string) error {
	err := c.device.Write(ctx, msg)
	ok := err == nil

	c.logger.LogDeviceWrite(ctx, cycleID, kind, msg, err)
	c.metrics.RecordDeviceWrite(ctx, kind, ok)
	c.recorder.RecordDeviceWrite(kind, ok)
	if err != nil {
		return fmt.Errorf("write %s message: %w", kind, err)
	}
	return nil
}

func (c *Controller) probeWAN(ctx context.Context) bool {
	up := c.prober.WAN(ctx)
	c.recorder.RecordProbe(metrics.LinkWAN, up)
	return up
}

func (c *Controller) probeLAN(ctx context.Context) bool {
	up := c.prober.LAN(ctx)
	c.recorder.RecordProbe(metrics.LinkLAN, up)
	return up
}
