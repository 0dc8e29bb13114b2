// Package netprobe checks whether the agent can reach the internet and the
// local network.
package netprobe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	// DefaultWANURL is probed to decide whether the internet is reachable.
	DefaultWANURL = "https://google.com"
	// DefaultLANURL is the local gateway probed for LAN reachability.
	DefaultLANURL = "http://192.168.1.1"
	// DefaultTimeout bounds every probe.
	DefaultTimeout = time.Second
)

// Options configures a Prober.
type Options struct {
	WANURL  string
	LANURL  string
	Timeout time.Duration

	// Client overrides the HTTP client. Its Timeout is replaced by Timeout.
	Client *http.Client
}

// Prober issues HTTP GET requests to decide reachability.
type Prober struct {
	client *http.Client
	wanURL string
	lanURL string
}

// New creates a prober with defaults filled in.
func New(opts Options) *Prober {
	if opts.WANURL == "" {
		opts.WANURL = DefaultWANURL
	}
	if opts.LANURL == "" {
		opts.LANURL = DefaultLANURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	client := &http.Client{}
	if opts.Client != nil {
		c := *opts.Client
		client = &c
	}
	client.Timeout = opts.Timeout

	return &Prober{client: client, wanURL: opts.WANURL, lanURL: opts.LANURL}
}

// Probe fetches url and returns why it is unreachable, or nil. Redirects are
// followed; a final status of 400 or above counts as unreachable.
func (p *Prober) Probe(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build probe request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("probe %s: %s", url, resp.Status)
	}
	return nil
}

// Reachable reports whether url answered.
func (p *Prober) Reachable(ctx context.Context, url string) bool {
	return p.Probe(ctx, url) == nil
}

// WAN reports internet reachability.
func (p *Prober) WAN(ctx context.Context) bool {
	return p.Reachable(ctx, p.wanURL)
}

// LAN reports local network reachability.
func (p *Prober) LAN(ctx context.Context) bool {
	return p.Reachable(ctx, p.lanURL)
}
