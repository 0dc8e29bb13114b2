package relay

import (
	"testing"
	"time"

	"github.com/bc-dunia/serversnitch/internal/agent"
)

type recordingReporter struct {
	configured []string
	kept       []string
	calls      int
}

func (r *recordingReporter) LogCriticalListTruncated(configured, kept []string) {
	r.calls++
	r.configured = configured
	r.kept = kept
}

func record(services ...agent.ServiceStatus) agent.TelemetryRecord {
	m := make(map[string]agent.ServiceStatus, len(services))
	for _, s := range services {
		m[s.Name] = s
	}
	return agent.NewTelemetryRecord("EUI", m, agent.HostStats{}, true, true, time.Now())
}

func TestNewCriticalListTruncatesToThree(t *testing.T) {
	rep := &recordingReporter{}
	l := NewCriticalList([]string{"a", "b", "c", "d", "e"}, rep)

	got := l.Names()
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Errorf("Names = %v, want [a b c]", got)
	}
	if rep.calls != 1 {
		t.Fatalf("reporter called %d times, want 1", rep.calls)
	}
	if len(rep.configured) != 5 || len(rep.kept) != 3 {
		t.Errorf("reporter got configured=%v kept=%v", rep.configured, rep.kept)
	}
}

func TestNewCriticalListWithinLimit(t *testing.T) {
	rep := &recordingReporter{}
	l := NewCriticalList([]string{"a", "b", "c"}, rep)
	if l.Len() != 3 {
		t.Errorf("Len = %d, want 3", l.Len())
	}
	if rep.calls != 0 {
		t.Error("reporter should not be called for a list within the limit")
	}

	if NewCriticalList(nil, nil).Len() != 0 {
		t.Error("nil list should be empty")
	}
}

func TestNewCriticalListDoesNotAliasInput(t *testing.T) {
	names := []string{"a", "b"}
	l := NewCriticalList(names, nil)
	names[0] = "z"
	if l.Names()[0] != "a" {
		t.Error("list should not share storage with the caller's slice")
	}
}

func TestEncode(t *testing.T) {
	tests := []struct {
		name     string
		critical []string
		rec      agent.TelemetryRecord
		want     string
	}{
		{
			name:     "single running",
			critical: []string{"svcA"},
			rec:      record(agent.ServiceStatus{Name: "svcA", Running: true}),
			want:     "criticalconfig!svcA!True",
		},
		{
			name:     "none present",
			critical: []string{"svcA", "svcB"},
			rec:      record(agent.ServiceStatus{Name: "other", Running: true}),
			want:     NoneMessage,
		},
		{
			name:     "no critical list",
			critical: nil,
			rec:      record(agent.ServiceStatus{Name: "svcA", Running: true}),
			want:     NoneMessage,
		},
		{
			name:     "list order and stopped service",
			critical: []string{"db", "missing", "web"},
			rec: record(
				agent.ServiceStatus{Name: "web", Running: true},
				agent.NotRunning("db"),
			),
			want: "criticalconfig!db!False!|criticalconfig!web!True",
		},
		{
			name:     "truncated entries ignored",
			critical: []string{"a", "b", "c", "d"},
			rec: record(
				agent.ServiceStatus{Name: "d", Running: true},
			),
			want: NoneMessage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewCriticalList(tt.critical, nil)
			if got := l.Encode(tt.rec); got != tt.want {
				t.Errorf("Encode = %q, want %q", got, tt.want)
			}
		})
	}
}
