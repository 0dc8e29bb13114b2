package netprobe

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestProberReachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	p := New(Options{WANURL: server.URL, LANURL: server.URL})
	if !p.WAN(context.Background()) {
		t.Error("WAN should be reachable")
	}
	if !p.LAN(context.Background()) {
		t.Error("LAN should be reachable")
	}
}

func TestProberErrorStatusIsUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	p := New(Options{WANURL: server.URL})
	if err := p.Probe(context.Background(), server.URL); err == nil {
		t.Error("expected error for 503")
	}
	if p.WAN(context.Background()) {
		t.Error("WAN should be unreachable on 503")
	}
}

func TestProberConnectionRefused(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	url := "http://" + l.Addr().String()
	l.Close()

	p := New(Options{LANURL: url})
	if p.LAN(context.Background()) {
		t.Error("LAN should be unreachable when nothing listens")
	}
}

func TestProberTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	p := New(Options{WANURL: server.URL, Timeout: 100 * time.Millisecond})
	start := time.Now()
	if p.WAN(context.Background()) {
		t.Error("slow host should be unreachable")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("probe took %v, timeout not applied", elapsed)
	}
}

func TestNewDefaults(t *testing.T) {
	p := New(Options{})
	if p.wanURL != DefaultWANURL || p.lanURL != DefaultLANURL {
		t.Errorf("defaults not applied: %q %q", p.wanURL, p.lanURL)
	}
	if p.client.Timeout != DefaultTimeout {
		t.Errorf("Timeout = %v, want %v", p.client.Timeout, DefaultTimeout)
	}
}
