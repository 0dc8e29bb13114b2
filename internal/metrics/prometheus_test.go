package metrics

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func scrape(t *testing.T, h http.Handler) string {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("scrape status = %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	return string(body)
}

func TestCollectorExposition(t *testing.T) {
	c := NewCollector()
	depth := 3
	c.ObserveBufferDepth(func() int { return depth })

	c.RecordCommand("send_to_api")
	c.RecordCommand("send_to_api")
	c.RecordCommand("check_internet")
	c.RecordDelivery("buffer", true)
	c.RecordDelivery("direct", false)
	c.RecordDrainPass(0, false)
	c.RecordDrainPass(2, true)
	c.RecordDrainPass(1, false)
	c.RecordDeviceWrite("relay", true)
	c.RecordProbe(LinkWAN, true)
	c.RecordProbe(LinkWAN, false)
	c.RecordProbe(LinkLAN, true)
	c.RecordCycle("send_to_api", 150*time.Millisecond)

	out := scrape(t, c.Handler())

	want := []string{
		`serversnitch_commands_total{command="send_to_api"} 2`,
		`serversnitch_commands_total{command="check_internet"} 1`,
		`serversnitch_deliveries_total{result="success",source="buffer"} 1`,
		`serversnitch_deliveries_total{result="failure",source="direct"} 1`,
		`serversnitch_drain_passes_total{outcome="emptied"} 1`,
		`serversnitch_drain_passes_total{outcome="offline"} 1`,
		`serversnitch_drain_passes_total{outcome="failed"} 1`,
		`serversnitch_device_writes_total{kind="relay",result="success"} 1`,
		`serversnitch_probes_total{link="wan",result="failure"} 1`,
		`serversnitch_link_up{link="wan"} 0`,
		`serversnitch_link_up{link="lan"} 1`,
		`serversnitch_link_outages_total{link="wan"} 1`,
		`serversnitch_buffer_depth 3`,
		`serversnitch_cycle_duration_seconds_count{command="send_to_api"} 1`,
		`go_goroutines`,
	}
	for _, w := range want {
		if !strings.Contains(out, w) {
			t.Errorf("exposition missing %q", w)
		}
	}

	depth = 0
	if out := scrape(t, c.Handler()); !strings.Contains(out, "serversnitch_buffer_depth 0") {
		t.Error("buffer depth gauge not re-evaluated on scrape")
	}
}

func TestServerEndpoints(t *testing.T) {
	c := NewCollector()
	c.RecordProbe(LinkWAN, false)
	srv := httptest.NewServer(NewServer("", c).Handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/healthz status = %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/connectivity")
	if err != nil {
		t.Fatalf("GET /connectivity: %v", err)
	}
	defer resp.Body.Close()
	var body struct {
		Links []LinkStatus `json:"links"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Links) != 2 || body.Links[0].Link != LinkWAN || body.Links[0].Up {
		t.Errorf("links = %+v", body.Links)
	}

	resp, err = http.Post(srv.URL+"/connectivity", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /connectivity: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("POST status = %d", resp.StatusCode)
	}

	if out := scrape(t, srv.Config.Handler); !strings.Contains(out, "serversnitch_probes_total") {
		t.Error("/metrics not served")
	}
}
