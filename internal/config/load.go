package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SNITCH_"

// Load builds the configuration: defaults, then the YAML file at path (if
// path is non-empty), then SNITCH_* environment overrides. It does not
// validate; callers apply flag overrides first and then call Validate.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := decodeYAML(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg, os.LookupEnv); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if cfg.AgentID == "" {
		if host, err := os.Hostname(); err == nil {
			cfg.AgentID = host
		}
	}

	return cfg, nil
}

// decodeYAML decodes data over cfg, rejecting unknown keys. An empty document
// leaves cfg unchanged.
func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

type lookupFunc func(key string) (string, bool)

// applyEnvOverrides applies SNITCH_* variables. Malformed values are errors
// rather than silently ignored.
func applyEnvOverrides(cfg *Config, lookup lookupFunc) error {
	var errs []error

	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	list := func(name string, dst *[]string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = splitList(v)
		}
	}
	integer := func(name string, dst *int) {
		if v, ok := lookup(EnvPrefix + name); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	duration := func(name string, dst *time.Duration) {
		if v, ok := lookup(EnvPrefix + name); ok {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = d
		}
	}
	float := func(name string, dst *float64) {
		if v, ok := lookup(EnvPrefix + name); ok {
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = f
		}
	}
	boolean := func(name string, dst *bool) {
		if v, ok := lookup(EnvPrefix + name); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = b
		}
	}

	str("AGENT_ID", &cfg.AgentID)

	str("SERIAL_PORT", &cfg.Serial.Port)
	integer("SERIAL_BAUD", &cfg.Serial.BaudRate)
	duration("SERIAL_READ_TIMEOUT", &cfg.Serial.ReadTimeout)

	str("PROTOCOL_MARKER", &cfg.Protocol.Marker)
	duration("PROTOCOL_MAX_WAIT", &cfg.Protocol.MaxWait)
	duration("PROTOCOL_ERROR_PAUSE", &cfg.Protocol.ErrorPause)

	list("SERVICES", &cfg.Services)
	list("CRITICAL_SERVICES", &cfg.CriticalServices)
	str("DISK_PATH", &cfg.Collector.DiskPath)

	str("PROBE_WAN_URL", &cfg.Probe.WANURL)
	str("PROBE_LAN_URL", &cfg.Probe.LANURL)
	duration("PROBE_TIMEOUT", &cfg.Probe.Timeout)

	str("API_URL", &cfg.API.URL)
	duration("API_TIMEOUT", &cfg.API.Timeout)
	str("API_TOKEN", &cfg.API.Token)
	str("API_JWT_SECRET", &cfg.API.JWTSecret)
	duration("API_JWT_TTL", &cfg.API.JWTTTL)
	integer("API_RETRIES", &cfg.API.Retries)
	duration("API_RETRY_BACKOFF", &cfg.API.RetryBackoff)

	str("BUFFER_STORE", &cfg.Buffer.Store)
	str("BUFFER_REQUEUE", &cfg.Buffer.Requeue)
	str("BUFFER_FILE_PATH", &cfg.Buffer.FilePath)
	str("REDIS_ADDR", &cfg.Buffer.Redis.Addr)
	str("REDIS_PASSWORD", &cfg.Buffer.Redis.Password)
	integer("REDIS_DB", &cfg.Buffer.Redis.DB)
	str("REDIS_KEY", &cfg.Buffer.Redis.Key)

	str("LOG_LEVEL", &cfg.Observability.LogLevel)
	str("METRICS_ADDR", &cfg.Observability.MetricsAddr)
	str("TRACING_EXPORTER", &cfg.Observability.Tracing.Exporter)
	str("TRACING_ENDPOINT", &cfg.Observability.Tracing.Endpoint)
	boolean("TRACING_INSECURE", &cfg.Observability.Tracing.Insecure)
	float("TRACING_SAMPLE_RATE", &cfg.Observability.Tracing.SampleRate)
	str("OTEL_METRICS_EXPORTER", &cfg.Observability.Metrics.Exporter)
	str("OTEL_METRICS_ENDPOINT", &cfg.Observability.Metrics.Endpoint)
	boolean("OTEL_METRICS_INSECURE", &cfg.Observability.Metrics.Insecure)
	duration("OTEL_METRICS_INTERVAL", &cfg.Observability.Metrics.Interval)

	return errors.Join(errs...)
}

// splitList splits a comma separated list, dropping empty entries.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
