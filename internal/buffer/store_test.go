package buffer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bc-dunia/serversnitch/internal/agent"
)

func sampleRecords() []agent.TelemetryRecord {
	zone := time.FixedZone("CET", 3600)
	return []agent.TelemetryRecord{
		agent.NewTelemetryRecord("AA",
			map[string]agent.ServiceStatus{"sshd": {Name: "sshd", CPUPercent: 0.25, MemoryRSSMB: 7.5, Running: true}},
			agent.HostStats{LoadAvg: 12.5, DiskPercent: 40, MemPercent: 55.5},
			true, false, time.Date(2024, 5, 6, 7, 8, 9, 123456789, zone)),
		agent.NewTelemetryRecord("BB", nil, agent.HostStats{}, false, false,
			time.Date(2024, 5, 6, 7, 9, 0, 0, time.UTC)),
	}
}

func checkRecords(t *testing.T, got, want []agent.TelemetryRecord) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d records, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].EUI != want[i].EUI {
			t.Errorf("record %d EUI = %q, want %q", i, got[i].EUI, want[i].EUI)
		}
		if !got[i].CapturedAt.Equal(want[i].CapturedAt) {
			t.Errorf("record %d CapturedAt = %v, want %v", i, got[i].CapturedAt, want[i].CapturedAt)
		}
		if got[i].LoadAvg != want[i].LoadAvg || got[i].WANOk != want[i].WANOk {
			t.Errorf("record %d = %+v, want %+v", i, got[i], want[i])
		}
		for name, svc := range want[i].Services {
			if got[i].Services[name] != svc {
				t.Errorf("record %d service %s = %+v, want %+v", i, name, got[i].Services[name], svc)
			}
		}
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "buffer.snap")

	s, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	defer s.Close()

	recs, err := s.Load(ctx)
	if err != nil || len(recs) != 0 {
		t.Fatalf("Load on missing file = %v, %v", recs, err)
	}

	want := sampleRecords()
	if err := s.Replace(ctx, want); err != nil {
		t.Fatalf("Replace failed: %v", err)
	}

	reopened, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	checkRecords(t, got, want)
}

func TestFileStoreReplaceWithEmpty(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(filepath.Join(t.TempDir(), "buffer.snap"))
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	defer s.Close()

	if err := s.Replace(ctx, sampleRecords()); err != nil {
		t.Fatalf("Replace failed: %v", err)
	}
	if err := s.Replace(ctx, nil); err != nil {
		t.Fatalf("Replace(nil) failed: %v", err)
	}
	got, err := s.Load(ctx)
	if err != nil || len(got) != 0 {
		t.Errorf("Load = %v, %v; want empty", got, err)
	}

	entries, _ := os.ReadDir(filepath.Dir(s.Path()))
	if len(entries) != 1 {
		t.Errorf("temporary files left behind: %d entries", len(entries))
	}
}

func TestFileStoreCorruptSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "buffer.snap")
	if err := os.WriteFile(path, []byte("not zstd"), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	defer s.Close()

	if _, err := s.Load(context.Background()); err == nil {
		t.Error("expected error for corrupt snapshot")
	}
}

func TestQueueWithFileStoreSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "buffer.snap")

	s1, err := NewFileStore(path)
	if err != nil {
		t.Fatal(err)
	}
	q1 := NewQueue(Options{Store: s1})
	for _, r := range sampleRecords() {
		q1.Push(ctx, r)
	}
	s1.Close()

	s2, err := NewFileStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()
	q2 := NewQueue(Options{Store: s2})
	n, err := q2.Restore(ctx)
	if err != nil || n != 2 {
		t.Fatalf("Restore = %d, %v", n, err)
	}
	checkRecords(t, q2.Snapshot(), sampleRecords())
}

func TestNewFileStoreEmptyPath(t *testing.T) {
	if _, err := NewFileStore(""); err == nil {
		t.Error("expected error for empty path")
	}
}

func TestRedisStoreRoundTrip(t *testing.T) {
	addr := os.Getenv("SNITCH_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("SNITCH_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()

	s, err := NewRedisStore(ctx, RedisOptions{Addr: addr, Key: "serversnitch:test:" + t.Name()})
	if err != nil {
		t.Fatalf("NewRedisStore failed: %v", err)
	}
	defer s.Close()
	defer s.Replace(ctx, nil)

	want := sampleRecords()
	if err := s.Replace(ctx, want); err != nil {
		t.Fatalf("Replace failed: %v", err)
	}
	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	checkRecords(t, got, want)
}

func TestNewRedisStoreUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := NewRedisStore(ctx, RedisOptions{Addr: "127.0.0.1:1"}); err == nil {
		t.Error("expected connection error")
	}
}
