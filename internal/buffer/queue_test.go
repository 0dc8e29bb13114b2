package buffer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bc-dunia/serversnitch/internal/agent"
)

func rec(eui string) agent.TelemetryRecord {
	return agent.NewTelemetryRecord(eui, nil, agent.HostStats{}, true, true,
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
}

func alwaysReachable(context.Context) bool { return true }

type recordingDeliverer struct {
	delivered []string
	fail      map[string]error
	calls     int
}

func (d *recordingDeliverer) deliver(_ context.Context, r agent.TelemetryRecord) error {
	d.calls++
	if err := d.fail[r.EUI]; err != nil {
		return err
	}
	d.delivered = append(d.delivered, r.EUI)
	return nil
}

func euis(recs []agent.TelemetryRecord) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.EUI
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestQueueDrainDeliversInFIFOOrder(t *testing.T) {
	ctx := context.Background()
	q := NewQueue(Options{})
	var want []string
	for i := 1; i <= 5; i++ {
		eui := fmt.Sprintf("R%d", i)
		want = append(want, eui)
		q.Push(ctx, rec(eui))
	}

	d := &recordingDeliverer{}
	res := q.Drain(ctx, alwaysReachable, d.deliver)

	if !equal(d.delivered, want) {
		t.Errorf("delivered %v, want %v", d.delivered, want)
	}
	if res.Delivered != 5 || res.Remaining != 0 || res.Err != nil || res.Offline {
		t.Errorf("unexpected result: %+v", res)
	}
	if q.Len() != 0 {
		t.Errorf("queue should be empty, Len = %d", q.Len())
	}
}

func TestQueueDrainStopsOnFirstFailure(t *testing.T) {
	ctx := context.Background()
	q := NewQueue(Options{})
	q.Push(ctx, rec("R1"))
	q.Push(ctx, rec("R2"))

	deliveryErr := errors.New("503 Service Unavailable")
	d := &recordingDeliverer{fail: map[string]error{"R2": deliveryErr}}
	res := q.Drain(ctx, alwaysReachable, d.deliver)

	if got := euis(q.Snapshot()); !equal(got, []string{"R2"}) {
		t.Errorf("queue = %v, want [R2]", got)
	}
	if d.calls != 2 {
		t.Errorf("delivery attempts = %d, want 2", d.calls)
	}
	if !errors.Is(res.Err, deliveryErr) || res.Delivered != 1 || res.Remaining != 1 {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestQueueDrainFailureDoesNotTouchBacklog(t *testing.T) {
	ctx := context.Background()
	q := NewQueue(Options{})
	for _, e := range []string{"R1", "R2", "R3"} {
		q.Push(ctx, rec(e))
	}

	probes := 0
	reachable := func(context.Context) bool {
		probes++
		return true
	}
	d := &recordingDeliverer{fail: map[string]error{"R1": errors.New("boom")}}
	q.Drain(ctx, reachable, d.deliver)

	if d.calls != 1 || probes != 1 {
		t.Errorf("calls=%d probes=%d, want 1 and 1", d.calls, probes)
	}
	if got := euis(q.Snapshot()); !equal(got, []string{"R2", "R3", "R1"}) {
		t.Errorf("tail requeue order = %v, want [R2 R3 R1]", got)
	}
}

func TestQueueDrainRequeueHead(t *testing.T) {
	ctx := context.Background()
	q := NewQueue(Options{Requeue: RequeueHead})
	for _, e := range []string{"R1", "R2", "R3"} {
		q.Push(ctx, rec(e))
	}

	d := &recordingDeliverer{fail: map[string]error{"R1": errors.New("boom")}}
	q.Drain(ctx, alwaysReachable, d.deliver)

	if got := euis(q.Snapshot()); !equal(got, []string{"R1", "R2", "R3"}) {
		t.Errorf("head requeue order = %v, want [R1 R2 R3]", got)
	}
}

func TestQueueDrainOffline(t *testing.T) {
	ctx := context.Background()
	q := NewQueue(Options{})
	q.Push(ctx, rec("R1"))

	d := &recordingDeliverer{}
	res := q.Drain(ctx, func(context.Context) bool { return false }, d.deliver)

	if !res.Offline || res.Delivered != 0 || res.Remaining != 1 {
		t.Errorf("unexpected result: %+v", res)
	}
	if d.calls != 0 {
		t.Error("no delivery should be attempted while offline")
	}
}

func TestQueueDrainReachabilityRecheckedPerRecord(t *testing.T) {
	ctx := context.Background()
	q := NewQueue(Options{})
	for _, e := range []string{"R1", "R2", "R3"} {
		q.Push(ctx, rec(e))
	}

	probes := 0
	reachable := func(context.Context) bool {
		probes++
		return probes <= 2
	}
	d := &recordingDeliverer{}
	res := q.Drain(ctx, reachable, d.deliver)

	if !equal(d.delivered, []string{"R1", "R2"}) || !res.Offline {
		t.Errorf("delivered %v offline=%v", d.delivered, res.Offline)
	}
	if got := euis(q.Snapshot()); !equal(got, []string{"R3"}) {
		t.Errorf("queue = %v, want [R3]", got)
	}
}

func TestQueueDrainEmptyDoesNotProbe(t *testing.T) {
	q := NewQueue(Options{})
	probed := false
	q.Drain(context.Background(), func(context.Context) bool {
		probed = true
		return true
	}, (&recordingDeliverer{}).deliver)
	if probed {
		t.Error("empty queue should not probe connectivity")
	}
}

func TestQueueDrainCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	q := NewQueue(Options{})
	q.Push(ctx, rec("R1"))
	cancel()

	d := &recordingDeliverer{}
	res := q.Drain(ctx, alwaysReachable, d.deliver)
	if d.calls != 0 || res.Remaining != 1 {
		t.Errorf("cancelled drain should not deliver: calls=%d result=%+v", d.calls, res)
	}
}

func TestQueuePreservesCaptureTime(t *testing.T) {
	ctx := context.Background()
	q := NewQueue(Options{})
	r := rec("R1")
	q.Push(ctx, r)

	var got agent.TelemetryRecord
	q.Drain(ctx, alwaysReachable, func(_ context.Context, d agent.TelemetryRecord) error {
		got = d
		return nil
	})
	if !got.CapturedAt.Equal(r.CapturedAt) {
		t.Errorf("CapturedAt = %v, want %v", got.CapturedAt, r.CapturedAt)
	}
}

func TestQueueStats(t *testing.T) {
	ctx := context.Background()
	q := NewQueue(Options{})
	q.Push(ctx, rec("R1"))
	q.Push(ctx, rec("R2"))
	q.Drain(ctx, alwaysReachable, (&recordingDeliverer{fail: map[string]error{"R2": errors.New("x")}}).deliver)

	s := q.Stats()
	if s.Depth != 1 || s.TotalEnqueued != 2 || s.TotalDelivered != 1 || s.TotalRequeued != 1 || s.DrainPasses != 1 {
		t.Errorf("unexpected stats: %+v", s)
	}
}

func TestQueueConcurrentReaders(t *testing.T) {
	ctx := context.Background()
	q := NewQueue(Options{})

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					_ = q.Stats()
					_ = q.Snapshot()
				}
			}
		}()
	}

	for i := 0; i < 200; i++ {
		q.Push(ctx, rec(fmt.Sprintf("R%d", i)))
	}
	q.Drain(ctx, alwaysReachable, (&recordingDeliverer{}).deliver)
	close(stop)
	wg.Wait()

	if q.Len() != 0 {
		t.Errorf("Len = %d, want 0", q.Len())
	}
}

func TestParseRequeuePolicy(t *testing.T) {
	for in, want := range map[string]RequeuePolicy{"": RequeueTail, "tail": RequeueTail, "head": RequeueHead} {
		got, err := ParseRequeuePolicy(in)
		if err != nil || got != want {
			t.Errorf("ParseRequeuePolicy(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseRequeuePolicy("middle"); err == nil {
		t.Error("expected error for unknown policy")
	}
}

type failingStore struct {
	memStore
	err error
}

func (s *failingStore) Replace(context.Context, []agent.TelemetryRecord) error { return s.err }

type memStore struct {
	recs     []agent.TelemetryRecord
	replaces int
}

func (s *memStore) Load(context.Context) ([]agent.TelemetryRecord, error) {
	return append([]agent.TelemetryRecord(nil), s.recs...), nil
}

func (s *memStore) Replace(_ context.Context, recs []agent.TelemetryRecord) error {
	s.replaces++
	s.recs = append([]agent.TelemetryRecord(nil), recs...)
	return nil
}

func (s *memStore) Close() error { return nil }

func TestQueuePersistsEveryChange(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	q := NewQueue(Options{Store: store})

	q.Push(ctx, rec("R1"))
	q.Push(ctx, rec("R2"))
	if got := euis(store.recs); !equal(got, []string{"R1", "R2"}) {
		t.Fatalf("store = %v after pushes", got)
	}

	q.Drain(ctx, alwaysReachable, (&recordingDeliverer{fail: map[string]error{"R2": errors.New("x")}}).deliver)
	if got := euis(store.recs); !equal(got, []string{"R2"}) {
		t.Errorf("store = %v after drain, want [R2]", got)
	}
}

func TestQueueRestore(t *testing.T) {
	ctx := context.Background()
	store := &memStore{recs: []agent.TelemetryRecord{rec("OLD1"), rec("OLD2")}}
	q := NewQueue(Options{Store: store})

	n, err := q.Restore(ctx)
	if err != nil || n != 2 {
		t.Fatalf("Restore = %d, %v", n, err)
	}
	q.Push(ctx, rec("NEW"))
	if got := euis(q.Snapshot()); !equal(got, []string{"OLD1", "OLD2", "NEW"}) {
		t.Errorf("queue = %v", got)
	}

	if n, err := NewQueue(Options{}).Restore(ctx); n != 0 || err != nil {
		t.Errorf("Restore without store = %d, %v", n, err)
	}
}

func TestQueueStoreErrorsAreReported(t *testing.T) {
	storeErr := errors.New("disk full")
	var ops []string
	q := NewQueue(Options{
		Store: &failingStore{err: storeErr},
		OnStoreError: func(op string, err error) {
			if !errors.Is(err, storeErr) {
				t.Errorf("unexpected error %v", err)
			}
			ops = append(ops, op)
		},
	})

	q.Push(context.Background(), rec("R1"))
	if len(ops) != 1 || ops[0] != "push" {
		t.Errorf("reported ops = %v, want [push]", ops)
	}
	if q.Len() != 1 {
		t.Error("store failure must not drop the in-memory record")
	}
}
