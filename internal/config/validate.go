package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var validExporters = map[string]bool{
	"none":      true,
	"stdout":    true,
	"otlp-grpc": true,
	"otlp-http": true,
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config cannot be nil")
	}

	var errs []error

	if strings.TrimSpace(c.Serial.Port) == "" {
		errs = append(errs, errors.New("serial.port is required"))
	}
	if c.Serial.BaudRate <= 0 {
		errs = append(errs, fmt.Errorf("serial.baud must be positive, got %d", c.Serial.BaudRate))
	}
	if c.Serial.ReadTimeout <= 0 {
		errs = append(errs, fmt.Errorf("serial.read_timeout must be positive, got %v", c.Serial.ReadTimeout))
	}

	if c.Protocol.Marker == "" || strings.Contains(c.Protocol.Marker, "!") {
		errs = append(errs, fmt.Errorf("protocol.marker must be non-empty and must not contain '!', got %q", c.Protocol.Marker))
	}
	if c.Protocol.MaxWait < 0 {
		errs = append(errs, fmt.Errorf("protocol.max_wait must be non-negative, got %v", c.Protocol.MaxWait))
	}
	if c.Protocol.ErrorPause < 0 {
		errs = append(errs, fmt.Errorf("protocol.error_pause must be non-negative, got %v", c.Protocol.ErrorPause))
	}

	for i, name := range c.Services {
		if strings.TrimSpace(name) == "" {
			errs = append(errs, fmt.Errorf("services[%d] is empty", i))
		}
	}
	for i, name := range c.CriticalServices {
		if strings.TrimSpace(name) == "" {
			errs = append(errs, fmt.Errorf("critical_services[%d] is empty", i))
		}
	}

	if err := validateURL("probe.wan_url", c.Probe.WANURL); err != nil {
		errs = append(errs, err)
	}
	if err := validateURL("probe.lan_url", c.Probe.LANURL); err != nil {
		errs = append(errs, err)
	}
	if c.Probe.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("probe.timeout must be positive, got %v", c.Probe.Timeout))
	}

	if err := validateURL("api.url", c.API.URL); err != nil {
		errs = append(errs, err)
	}
	if c.API.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("api.timeout must be positive, got %v", c.API.Timeout))
	}
	if c.API.Retries < 0 {
		errs = append(errs, fmt.Errorf("api.retries must be non-negative, got %d", c.API.Retries))
	}
	if c.API.Retries > 0 && c.API.RetryBackoff <= 0 {
		errs = append(errs, fmt.Errorf("api.retry_backoff must be positive when retries are enabled, got %v", c.API.RetryBackoff))
	}
	if c.API.JWTSecret != "" && c.API.JWTTTL <= 0 {
		errs = append(errs, fmt.Errorf("api.jwt_ttl must be positive, got %v", c.API.JWTTTL))
	}

	switch c.Buffer.Store {
	case "memory":
	case "file":
		if c.Buffer.FilePath == "" {
			errs = append(errs, errors.New("buffer.file_path is required for the file store"))
		}
	case "redis":
		if c.Buffer.Redis.Addr == "" {
			errs = append(errs, errors.New("buffer.redis.addr is required for the redis store"))
		}
		if c.Buffer.Redis.DB < 0 {
			errs = append(errs, fmt.Errorf("buffer.redis.db must be non-negative, got %d", c.Buffer.Redis.DB))
		}
	default:
		errs = append(errs, fmt.Errorf("buffer.store must be memory, file or redis, got %q", c.Buffer.Store))
	}
	if c.Buffer.Requeue != "tail" && c.Buffer.Requeue != "head" {
		errs = append(errs, fmt.Errorf("buffer.requeue must be tail or head, got %q", c.Buffer.Requeue))
	}

	switch strings.ToLower(strings.TrimSpace(c.Observability.LogLevel)) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("observability.log_level must be debug, info, warn or error, got %q", c.Observability.LogLevel))
	}
	if !validExporters[c.Observability.Tracing.Exporter] {
		errs = append(errs, fmt.Errorf("observability.tracing.exporter %q is not supported", c.Observability.Tracing.Exporter))
	}
	if r := c.Observability.Tracing.SampleRate; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("observability.tracing.sample_rate must be within [0, 1], got %v", r))
	}
	if !validExporters[c.Observability.Metrics.Exporter] {
		errs = append(errs, fmt.Errorf("observability.metrics.exporter %q is not supported", c.Observability.Metrics.Exporter))
	}
	if c.Observability.Metrics.Exporter != "none" && c.Observability.Metrics.Interval <= 0 {
		errs = append(errs, fmt.Errorf("observability.metrics.interval must be positive, got %v", c.Observability.Metrics.Interval))
	}

	return errors.Join(errs...)
}

func validateURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must be an http or https URL, got %q", field, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%s has no host: %q", field, raw)
	}
	return nil
}
