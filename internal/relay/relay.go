// Package relay encodes the running state of the host's critical services
// into the compact line written back to the device.
package relay

import (
	"strings"

	"github.com/bc-dunia/serversnitch/internal/agent"
	"github.com/bc-dunia/serversnitch/internal/protocol"
)

// MaxCriticalServices is how many services the device has room to display.
const MaxCriticalServices = 3

// NoneMessage is sent when none of the critical services appear in a record.
const NoneMessage = "criticalconfig!none"

const segmentPrefix = "criticalconfig"

// segmentSeparator terminates every segment but the last.
const segmentSeparator = "!|"

// TruncationReporter is told when a configured list had to be cut down.
type TruncationReporter interface {
	LogCriticalListTruncated(configured, kept []string)
}

// CriticalList is the ordered set of critical service names.
type CriticalList struct {
	names []string
}

// NewCriticalList keeps at most MaxCriticalServices names, in order. When
// names is longer the rest are dropped and reporter (if non-nil) is told.
func NewCriticalList(names []string, reporter TruncationReporter) *CriticalList {
	kept := names
	if len(kept) > MaxCriticalServices {
		kept = kept[:MaxCriticalServices]
		if reporter != nil {
			reporter.LogCriticalListTruncated(names, kept)
		}
	}
	return &CriticalList{names: append([]string(nil), kept...)}
}

// Names returns a copy of the critical service names.
func (l *CriticalList) Names() []string {
	return append([]string(nil), l.names...)
}

// Len returns the number of critical services.
func (l *CriticalList) Len() int {
	return len(l.names)
}

// Encode builds the device message for rec: one "criticalconfig!<name>!<status>"
// segment per critical service present in the record, in list order, joined
// by "!|".
func (l *CriticalList) Encode(rec agent.TelemetryRecord) string {
	segments := make([]string, 0, len(l.names))
	for _, name := range l.names {
		svc, ok := rec.Service(name)
		if !ok {
			continue
		}
		segments = append(segments, strings.Join([]string{
			segmentPrefix,
			svc.Name,
			protocol.FormatBool(svc.Running),
		}, protocol.FieldDelimiter))
	}
	if len(segments) == 0 {
		return NoneMessage
	}
	return strings.Join(segments, segmentSeparator)
}
