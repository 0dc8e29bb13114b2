// Package api submits telemetry records to the monitoring API.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bc-dunia/serversnitch/internal/agent"
	"github.com/bc-dunia/serversnitch/internal/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultURL is the production ingestion endpoint.
	DefaultURL = "http://serversnitch.westeurope.cloudapp.azure.com/monitor/data"
	// DefaultTimeout bounds one HTTP attempt.
	DefaultTimeout = 10 * time.Second

	maxResponseBodyBytes = 64 * 1024
)

// RetryConfig controls retries of a single submission. The zero value makes
// exactly one attempt.
type RetryConfig struct {
	MaxRetries int
	Backoff    time.Duration
	MaxBackoff time.Duration
}

// Options configures a Client.
type Options struct {
	URL        string
	Timeout    time.Duration
	Retry      RetryConfig
	Tokens     TokenSource
	HTTPClient *http.Client
	Tracer     *otel.Tracer
}

// Client posts records as JSON to the ingestion endpoint.
type Client struct {
	url        string
	httpClient *http.Client
	retry      RetryConfig
	tokens     TokenSource
	tracer     *otel.Tracer
}

// NewClient creates a client with defaults filled in.
func NewClient(opts Options) *Client {
	if opts.URL == "" {
		opts.URL = DefaultURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	if opts.Retry.MaxBackoff < opts.Retry.Backoff {
		opts.Retry.MaxBackoff = opts.Retry.Backoff
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.NoopTracer()
	}
	return &Client{
		url:        opts.URL,
		httpClient: httpClient,
		retry:      opts.Retry,
		tokens:     opts.Tokens,
		tracer:     tracer,
	}
}

// URL returns the ingestion endpoint.
func (c *Client) URL() string {
	return c.url
}

// Submit delivers rec. It succeeds only on "200 OK"; any other answer is a
// *DeliveryError and a transport failure is returned as is.
func (c *Client) Submit(ctx context.Context, rec agent.TelemetryRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	ctx, span := c.tracer.StartSubmitSpan(ctx, c.url, rec.EUI)
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	if c.tokens != nil {
		token, err := c.tokens.Token(rec.EUI)
		if err != nil {
			return fmt.Errorf("mint bearer token: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	c.tracer.Inject(ctx, req.Header)

	resp, err := c.do(req)
	if err != nil {
		otel.RecordError(span, err, otel.ErrorTransport)
		return err
	}
	defer resp.Body.Close()

	reason := reasonPhrase(resp)
	if resp.StatusCode == http.StatusOK && reason == "OK" {
		return nil
	}

	respBody, _ := ReadResponseBody(resp)
	derr := &DeliveryError{
		StatusCode: resp.StatusCode,
		Reason:     reason,
		Body:       strings.TrimSpace(string(respBody)),
	}
	otel.RecordError(span, derr, otel.ErrorRejected)
	return derr
}

// do sends req, retrying transport errors and 5xx answers with exponential
// backoff.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	var lastErr error
	backoff := c.retry.Backoff

	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			otel.RecordSubmitRetry(trace.SpanFromContext(ctx), attempt, backoff, lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
				backoff *= 2
				if backoff > c.retry.MaxBackoff {
					backoff = c.retry.MaxBackoff
				}
			}
			body, err := req.GetBody()
			if err != nil {
				lastErr = err
				continue
			}
			req.Body = body
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode >= 500 && attempt < c.retry.MaxRetries {
			lastErr = &RetryableError{StatusCode: resp.StatusCode}
			resp.Body.Close()
			continue
		}

		return resp, nil
	}

	if lastErr == nil {
		lastErr = errors.New("no attempt made")
	}
	return nil, lastErr
}

// reasonPhrase extracts the reason phrase from the status line, e.g. "OK"
// from "200 OK".
func reasonPhrase(resp *http.Response) string {
	return strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
}

// ReadResponseBody reads at most 64 KiB of the response body and closes it.
// Anything beyond is dropped.
func ReadResponseBody(resp *http.Response) ([]byte, error) {
	if resp == nil || resp.Body == nil {
		return nil, nil
	}
	defer resp.Body.Close()
	limited := io.LimitReader(resp.Body, maxResponseBodyBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if len(body) > maxResponseBodyBytes {
		body = body[:maxResponseBodyBytes]
	}
	return body, nil
}
