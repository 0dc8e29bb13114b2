// Package agent defines the telemetry types the edge agent gathers on the host
// and forwards to the monitoring API.
package agent

import (
	"encoding/json"
	"fmt"
	"maps"
	"time"
)

// CaptureTimeLayout is the timestamp layout the monitoring API expects in the
// "datetime" field of a submitted record.
const CaptureTimeLayout = "02/01/2006 15:04:05"

// ServiceStatus describes one monitored process on the host.
type ServiceStatus struct {
	// Name is the process name the status was looked up by.
	Name string `json:"name"`

	// CPUPercent is the process CPU usage in hundredths of a percent
	// (12.5% is sent as 1250).
	CPUPercent float64 `json:"cpu_percent"`

	// MemoryRSSMB is the resident set size in megabytes (10^6 bytes).
	MemoryRSSMB float64 `json:"memory_rss"`

	// Running reports whether a process with this name was found.
	Running bool `json:"status"`
}

// NotRunning returns the status reported for a process that could not be found.
func NotRunning(name string) ServiceStatus {
	return ServiceStatus{Name: name}
}

// HostStats is the host-wide part of a telemetry record.
type HostStats struct {
	// LoadAvg is the 1-minute load average multiplied by 100.
	LoadAvg float64

	// DiskPercent is the used percentage of the root partition (0-100).
	DiskPercent float64

	// MemPercent is the used percentage of physical memory (0-100).
	MemPercent float64
}

// TelemetryRecord is one snapshot of host telemetry tied to the device that
// requested it. Records are values; once built by NewTelemetryRecord they are
// never mutated, and the capture time travels with the record unchanged
// through buffering and delivery.
type TelemetryRecord struct {
	Services    map[string]ServiceStatus `json:"services" cbor:"services"`
	LoadAvg     float64                  `json:"load_avg" cbor:"load_avg"`
	DiskPercent float64                  `json:"disk" cbor:"disk"`
	MemPercent  float64                  `json:"mem" cbor:"mem"`
	WANOk       bool                     `json:"wan" cbor:"wan"`
	LANOk       bool                     `json:"lan" cbor:"lan"`
	EUI         string                   `json:"eui" cbor:"eui"`
	CapturedAt  time.Time                `json:"datetime" cbor:"captured_at"`
}

// NewTelemetryRecord builds a record. The services map is copied so later
// changes by the caller cannot leak into a buffered record.
func NewTelemetryRecord(eui string, services map[string]ServiceStatus, host HostStats, wanOK, lanOK bool, capturedAt time.Time) TelemetryRecord {
	svc := make(map[string]ServiceStatus, len(services))
	maps.Copy(svc, services)
	return TelemetryRecord{
		Services:    svc,
		LoadAvg:     host.LoadAvg,
		DiskPercent: host.DiskPercent,
		MemPercent:  host.MemPercent,
		WANOk:       wanOK,
		LANOk:       lanOK,
		EUI:         eui,
		CapturedAt:  capturedAt,
	}
}

// Service returns the status of the named service and whether the record
// contains it.
func (r TelemetryRecord) Service(name string) (ServiceStatus, bool) {
	s, ok := r.Services[name]
	return s, ok
}

type recordJSON struct {
	Services    map[string]ServiceStatus `json:"services"`
	LoadAvg     float64                  `json:"load_avg"`
	DiskPercent float64                  `json:"disk"`
	MemPercent  float64                  `json:"mem"`
	WANOk       bool                     `json:"wan"`
	LANOk       bool                     `json:"lan"`
	EUI         string                   `json:"eui"`
	Datetime    string                   `json:"datetime"`
}

// MarshalJSON encodes the record in the monitoring API's wire format.
func (r TelemetryRecord) MarshalJSON() ([]byte, error) {
	services := r.Services
	if services == nil {
		services = map[string]ServiceStatus{}
	}
	return json.Marshal(recordJSON{
		Services:    services,
		LoadAvg:     r.LoadAvg,
		DiskPercent: r.DiskPercent,
		MemPercent:  r.MemPercent,
		WANOk:       r.WANOk,
		LANOk:       r.LANOk,
		EUI:         r.EUI,
		Datetime:    r.CapturedAt.Format(CaptureTimeLayout),
	})
}

// UnmarshalJSON decodes the API wire format. The datetime field carries no
// zone and is interpreted in local time.
func (r *TelemetryRecord) UnmarshalJSON(data []byte) error {
	var raw recordJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var capturedAt time.Time
	if raw.Datetime != "" {
		t, err := time.ParseInLocation(CaptureTimeLayout, raw.Datetime, time.Local)
		if err != nil {
			return fmt.Errorf("invalid datetime %q: %w", raw.Datetime, err)
		}
		capturedAt = t
	}
	*r = TelemetryRecord{
		Services:    raw.Services,
		LoadAvg:     raw.LoadAvg,
		DiskPercent: raw.DiskPercent,
		MemPercent:  raw.MemPercent,
		WANOk:       raw.WANOk,
		LANOk:       raw.LANOk,
		EUI:         raw.EUI,
		CapturedAt:  capturedAt,
	}
	return nil
}
