// Package events provides structured logging of agent events.
package events

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/bc-dunia/serversnitch/internal/otel"
)

// EventLogger writes one JSON line per agent event.
type EventLogger struct {
	logger *slog.Logger
}

// ParseLevel maps a level name (debug, info, warn, error) to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}

// NewEventLogger creates a logger writing JSON to stdout.
// Every event carries agent_id and port.
func NewEventLogger(agentID, port string, level slog.Level) *EventLogger {
	return NewEventLoggerWithWriter(agentID, port, level, os.Stdout)
}

// NewEventLoggerWithWriter creates a logger writing JSON to w.
func NewEventLoggerWithWriter(agentID, port string, level slog.Level, w io.Writer) *EventLogger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	logger := slog.New(handler).With(
		"agent_id", agentID,
		"port", port,
	)
	return &EventLogger{logger: logger}
}

// NoopEventLogger returns a logger that discards all events.
func NoopEventLogger() *EventLogger {
	return &EventLogger{logger: slog.New(slog.NewJSONHandler(io.Discard, nil))}
}

// Logger exposes the underlying slog logger for ad-hoc messages.
func (el *EventLogger) Logger() *slog.Logger {
	return el.logger
}

// withTrace appends the trace id of ctx, when there is one.
func withTrace(ctx context.Context, args []any) []any {
	if traceID := otel.TraceID(ctx); traceID != "" {
		args = append(args, "trace_id", traceID)
	}
	return args
}

// LogAgentStarted logs startup.
// event: "agent_started"
func (el *EventLogger) LogAgentStarted(services, critical []string, restored int) {
	el.logger.Info("agent_started",
		"services", services,
		"critical_services", critical,
		"restored_records", restored,
	)
}

// LogAgentStopped logs a graceful shutdown and how many records are left
// unsent.
// event: "agent_stopped"
func (el *EventLogger) LogAgentStopped(buffered int, persisted bool) {
	el.logger.Info("agent_stopped",
		"buffered_records", buffered,
		"persisted", persisted,
	)
}

// LogCriticalListTruncated logs that more critical services were configured
// than the device can show.
// event: "critical_list_truncated"
func (el *EventLogger) LogCriticalListTruncated(configured, kept []string) {
	el.logger.Warn("critical_list_truncated",
		"configured", configured,
		"kept", kept,
	)
}

// LogLineDiscarded logs a device line without the trigger marker.
// event: "line_discarded"
func (el *EventLogger) LogLineDiscarded(line string) {
	el.logger.Debug("line_discarded", "line", line)
}

// LogDecodeSkipped logs a decode attempt that produced no command.
// event: "decode_skipped"
// Attributes: reason, error
func (el *EventLogger) LogDecodeSkipped(reason string, err error) {
	level := slog.LevelWarn
	if reason == "timeout" {
		level = slog.LevelDebug
	}
	el.logger.Log(context.Background(), level, "decode_skipped",
		"reason", reason,
		"error", errString(err),
	)
}

// LogCommandReceived logs a decoded command.
// event: "command_received"
// Attributes: cycle_id, command, code, eui
func (el *EventLogger) LogCommandReceived(ctx context.Context, cycleID, command string, code int, eui string) {
	el.logger.InfoContext(ctx, "command_received", withTrace(ctx, []any{
		"cycle_id", cycleID,
		"command", command,
		"code", code,
		"eui", eui,
	})...)
}

// LogCollectorError logs a statistic that could not be read; the record
// carries a zero value instead.
// event: "collector_error"
func (el *EventLogger) LogCollectorError(ctx context.Context, cycleID, stat string, err error) {
	el.logger.WarnContext(ctx, "collector_error", withTrace(ctx, []any{
		"cycle_id", cycleID,
		"stat", stat,
		"error", errString(err),
	})...)
}

// LogRecordBuffered logs a record held for later delivery.
// event: "record_buffered"
// Attributes: cycle_id, eui, reason, depth
func (el *EventLogger) LogRecordBuffered(ctx context.Context, cycleID, eui, reason string, depth int) {
	el.logger.InfoContext(ctx, "record_buffered", withTrace(ctx, []any{
		"cycle_id", cycleID,
		"eui", eui,
		"reason", reason,
		"depth", depth,
	})...)
}

// LogDelivery logs one submission to the monitoring API.
// event: "delivery"
// Attributes: cycle_id, source, success, duration_ms, error
func (el *EventLogger) LogDelivery(ctx context.Context, cycleID, source string, success bool, durationMs int64, err error) {
	args := []any{
		"cycle_id", cycleID,
		"source", source,
		"success", success,
		"duration_ms", durationMs,
	}
	if err != nil {
		args = append(args, "error", err.Error())
		el.logger.WarnContext(ctx, "delivery", withTrace(ctx, args)...)
		return
	}
	el.logger.InfoContext(ctx, "delivery", withTrace(ctx, args)...)
}

// LogDrain logs the outcome of a drain pass.
// event: "drain_completed" when the buffer emptied, "drain_stopped" otherwise
// Attributes: cycle_id, delivered, remaining, offline, error
func (el *EventLogger) LogDrain(ctx context.Context, cycleID string, delivered, remaining int, offline bool, err error) {
	event := "drain_completed"
	if remaining > 0 {
		event = "drain_stopped"
	}
	el.logger.InfoContext(ctx, event, withTrace(ctx, []any{
		"cycle_id", cycleID,
		"delivered", delivered,
		"remaining", remaining,
		"offline", offline,
		"error", errString(err),
	})...)
}

// LogDeviceWrite logs a line sent to the device.
// event: "device_write"
// Attributes: cycle_id, kind, message, error
func (el *EventLogger) LogDeviceWrite(ctx context.Context, cycleID, kind, message string, err error) {
	args := []any{
		"cycle_id", cycleID,
		"kind", kind,
		"message", message,
	}
	if err != nil {
		args = append(args, "error", err.Error())
		el.logger.ErrorContext(ctx, "device_write", withTrace(ctx, args)...)
		return
	}
	el.logger.InfoContext(ctx, "device_write", withTrace(ctx, args)...)
}

// LogUnrecognizedCommand logs a command code outside the known set.
// event: "unrecognized_command"
func (el *EventLogger) LogUnrecognizedCommand(ctx context.Context, cycleID string, code int, eui string) {
	el.logger.WarnContext(ctx, "unrecognized_command", withTrace(ctx, []any{
		"cycle_id", cycleID,
		"code", code,
		"eui", eui,
	})...)
}

// LogCycleAbandoned logs a cycle given up because of a transport failure.
// event: "cycle_abandoned"
func (el *EventLogger) LogCycleAbandoned(ctx context.Context, cycleID, command string, err error) {
	el.logger.ErrorContext(ctx, "cycle_abandoned", withTrace(ctx, []any{
		"cycle_id", cycleID,
		"command", command,
		"error", errString(err),
	})...)
}

// LogStoreError logs a failure to persist the buffer.
// event: "buffer_store_error"
func (el *EventLogger) LogStoreError(op string, err error) {
	el.logger.Error("buffer_store_error",
		"op", op,
		"error", errString(err),
	)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
