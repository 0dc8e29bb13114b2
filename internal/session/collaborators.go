package session

import (
	"context"
	"time"

	"github.com/bc-dunia/serversnitch/internal/agent"
	"github.com/bc-dunia/serversnitch/internal/metrics"
	"github.com/bc-dunia/serversnitch/internal/protocol"
)

// CommandSource yields decoded device commands. protocol.Decoder implements it.
type CommandSource interface {
	Next(ctx context.Context) (protocol.DeviceMessage, error)
}

// SystemStats reads process and host statistics. collector.Collector
// implements it.
type SystemStats interface {
	ProcessInfo(ctx context.Context, name string) (agent.ServiceStatus, error)
	LoadAverage(ctx context.Context) (float64, error)
	DiskUsedPercent(ctx context.Context) (float64, error)
	MemUsedPercent(ctx context.Context) (float64, error)
}

// Prober reports network reachability. netprobe.Prober implements it.
type Prober interface {
	WAN(ctx context.Context) bool
	LAN(ctx context.Context) bool
}

// Submitter delivers one record to the monitoring API. api.Client
// implements it.
type Submitter interface {
	Submit(ctx context.Context, rec agent.TelemetryRecord) error
}

// DeviceWriter sends one message to the device. serialline.Line implements it.
type DeviceWriter interface {
	Write(ctx context.Context, msg string) error
}

// Recorder receives per-cycle counters. metrics.Collector implements it.
type Recorder interface {
	RecordCommand(command string)
	RecordDelivery(source string, ok bool)
	RecordDrainPass(remaining int, offline bool)
	RecordDeviceWrite(kind string, ok bool)
	RecordProbe(link metrics.Link, up bool)
	RecordCycle(command string, d time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) RecordCommand(string) {}
func (nopRecorder) RecordDelivery(string, bool) {}
func (nopRecorder) RecordDrainPass(int, bool) {}
func (nopRecorder) RecordDeviceWrite(string, bool) {}
func (nopRecorder) RecordProbe(metrics.Link, bool) {}
func (nopRecorder) RecordCycle(string, time.Duration) {}
