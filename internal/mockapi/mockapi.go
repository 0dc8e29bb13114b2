// Package mockapi is a local stand-in for the monitoring API. It accepts
// telemetry records on POST /monitor/data and can be scripted to fail.
package mockapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/bc-dunia/serversnitch/internal/agent"
	"github.com/bc-dunia/serversnitch/internal/otel"
)

// DataPath is the ingestion endpoint.
const DataPath = "/monitor/data"

const maxBodyBytes = 1 << 20

// Config configures the mock API.
type Config struct {
	Addr string

	// Token, when set, is the only bearer token accepted.
	Token string
	// JWTSecret, when set, requires an HS256 bearer token signed with it.
	JWTSecret []byte

	// Latency delays every ingestion response.
	Latency time.Duration
	// RateLimit caps accepted submissions per second. Zero disables it.
	RateLimit int

	Tracer *otel.Tracer
}

// DefaultConfig listens on a random loopback port with no auth.
func DefaultConfig() *Config {
	return &Config{Addr: "127.0.0.1:0"}
}

// Received is one accepted submission.
type Received struct {
	Record     agent.TelemetryRecord `json:"record"`
	Subject    string                `json:"subject,omitempty"`
	ReceivedAt time.Time             `json:"received_at"`
}

// Server is the mock API.
type Server interface {
	Start() error
	Stop(ctx context.Context)
	Addr() string
	DataURL() string
	Handler() http.Handler

	// FailNext answers the next n submissions with status.
	FailNext(n, status int)
	// SetReason answers successful submissions with "200 <reason>". Empty
	// restores "OK".
	SetReason(reason string)
	Received() []Received
	Reset()
}

// New creates a mock API server.
func New(config *Config) Server {
	if config == nil {
		config = DefaultConfig()
	}
	s := &mockServer{cfg: config}
	if config.RateLimit > 0 {
		s.rateLimiter = newRateLimiter(config.RateLimit, time.Second)
	}
	return s
}

// StartTestServer starts a server with cfg and returns a cleanup func.
func StartTestServer(cfg *Config) (server Server, cleanup func(), err error) {
	srv := New(cfg)
	if err := srv.Start(); err != nil {
		return nil, func() {}, err
	}
	cleanup = func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Stop(ctx)
	}
	return srv, cleanup, nil
}

type mockServer struct {
	cfg        *Config
	httpServer *http.Server
	addr       string

	mu          sync.Mutex
	received    []Received
	failLeft    int
	failStatus  int
	reason      string
	rateLimiter *tokenBucket
}

func (s *mockServer) Handler() http.Handler {
	mux := http.NewServeMux()
	route := func(path string, h http.HandlerFunc) {
		mux.Handle(path, otel.Route(s.cfg.Tracer, path, h))
	}
	route(DataPath, s.handleData)
	route("/admin/fail", s.handleFail)
	route("/admin/reset", s.handleReset)
	return mux
}

func (s *mockServer) Start() error {
	ln, err := net.Listen("tcp", normalizeAddr(s.cfg.Addr))
	if err != nil {
		return err
	}
	s.addr = ln.Addr().String()

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		_ = s.httpServer.Serve(ln)
	}()

	return nil
}

func (s *mockServer) Stop(ctx context.Context) {
	if s.httpServer == nil {
		return
	}
	_ = s.httpServer.Shutdown(ctx)
}

func (s *mockServer) Addr() string {
	return s.addr
}

func (s *mockServer) DataURL() string {
	if s.addr == "" {
		return ""
	}
	return "http://" + s.addr + DataPath
}

func (s *mockServer) FailNext(n, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failLeft = n
	s.failStatus = status
}

func (s *mockServer) SetReason(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reason = reason
}

func (s *mockServer) Received() []Received {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Received(nil), s.received...)
}

func (s *mockServer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received = nil
	s.failLeft = 0
	s.reason = ""
}

func (s *mockServer) handleData(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.Received())
		return
	case http.MethodPost:
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if !sleepWithContext(r.Context(), s.cfg.Latency) {
		return
	}

	subject, err := s.authorize(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	if s.rateLimiter != nil && !s.rateLimiter.Allow() {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
		return
	}

	if status, fail := s.takeFailure(); fail {
		http.Error(w, "scripted failure", status)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	var rec agent.TelemetryRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		http.Error(w, "invalid record: "+err.Error(), http.StatusBadRequest)
		return
	}
	if rec.EUI == "" {
		http.Error(w, "record has no eui", http.StatusBadRequest)
		return
	}
	otel.AnnotateIngest(r.Context(), rec.EUI)

	s.mu.Lock()
	s.received = append(s.received, Received{Record: rec, Subject: subject, ReceivedAt: time.Now()})
	reason := s.reason
	s.mu.Unlock()

	if reason != "" {
		writeStatusLine(w, reason)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *mockServer) takeFailure() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failLeft <= 0 {
		return 0, false
	}
	s.failLeft--
	return s.failStatus, true
}

// authorize checks the bearer token and returns the JWT subject, if any.
func (s *mockServer) authorize(r *http.Request) (string, error) {
	if s.cfg.Token == "" && len(s.cfg.JWTSecret) == 0 {
		return "", nil
	}

	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || raw == "" {
		return "", errors.New("missing bearer token")
	}

	if len(s.cfg.JWTSecret) == 0 {
		if raw != s.cfg.Token {
			return "", errors.New("invalid token")
		}
		return "", nil
	}

	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return s.cfg.JWTSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}
	return claims.Subject, nil
}

// handleFail scripts failures: POST /admin/fail?count=3&status=503.
func (s *mockServer) handleFail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	count, err := strconv.Atoi(r.URL.Query().Get("count"))
	if err != nil || count < 0 {
		http.Error(w, "count must be a non-negative integer", http.StatusBadRequest)
		return
	}
	status := http.StatusServiceUnavailable
	if v := r.URL.Query().Get("status"); v != "" {
		status, err = strconv.Atoi(v)
		if err != nil || status < 100 || status > 599 {
			http.Error(w, "status must be an HTTP status code", http.StatusBadRequest)
			return
		}
	}
	s.FailNext(count, status)
	s.SetReason(r.URL.Query().Get("reason"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *mockServer) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	s.Reset()
	w.WriteHeader(http.StatusNoContent)
}

// writeStatusLine answers with a 200 status carrying a custom reason phrase,
// which net/http cannot produce through WriteHeader.
func writeStatusLine(w http.ResponseWriter, reason string) {
	conn, buf, err := http.NewResponseController(w).Hijack()
	if err != nil {
		http.Error(w, "custom reason unsupported", http.StatusInternalServerError)
		return
	}
	defer conn.Close()
	fmt.Fprintf(buf, "HTTP/1.1 200 %s\r\nContent-Length: 0\r\nConnection: close\r\n\r\n", reason)
	buf.Flush()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func normalizeAddr(addr string) string {
	if addr == "" {
		return "127.0.0.1:0"
	}
	if strings.HasPrefix(addr, ":") {
		return "127.0.0.1" + addr
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	if host == "" {
		return "127.0.0.1:" + port
	}
	return addr
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

type tokenBucket struct {
	capacity int
	tokens   int
	lastFill time.Time
	mu       sync.Mutex
	window   time.Duration
}

func newRateLimiter(capacity int, window time.Duration) *tokenBucket {
	return &tokenBucket{
		capacity: capacity,
		tokens:   capacity,
		lastFill: time.Now(),
		window:   window,
	}
}

func (t *tokenBucket) Allow() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	if now.Sub(t.lastFill) >= t.window {
		t.tokens = t.capacity
		t.lastFill = now
	}

	if t.tokens <= 0 {
		return false
	}
	t.tokens--
	return true
}
