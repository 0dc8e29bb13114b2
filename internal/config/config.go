// Package config loads the agent configuration from defaults, an optional
// YAML file and SNITCH_* environment variables.
package config

import "time"

// Config is the complete agent configuration.
type Config struct {
	// AgentID identifies this agent in logs, traces and minted tokens.
	// Defaults to the host name.
	AgentID string `yaml:"agent_id"`

	Serial   SerialConfig   `yaml:"serial"`
	Protocol ProtocolConfig `yaml:"protocol"`

	// Services are the process names reported in every record.
	Services []string `yaml:"services"`
	// CriticalServices are relayed to the device; at most three are kept.
	CriticalServices []string `yaml:"critical_services"`

	Collector     CollectorConfig     `yaml:"collector"`
	Probe         ProbeConfig         `yaml:"probe"`
	API           APIConfig           `yaml:"api"`
	Buffer        BufferConfig        `yaml:"buffer"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// SerialConfig describes the device port.
type SerialConfig struct {
	Port        string        `yaml:"port"`
	BaudRate    int           `yaml:"baud"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

// ProtocolConfig tunes the command decoder.
type ProtocolConfig struct {
	Marker string `yaml:"marker"`
	// MaxWait bounds one wait for a command. Zero waits forever.
	MaxWait time.Duration `yaml:"max_wait"`
	// ErrorPause is slept after a transport failure before reopening the port.
	ErrorPause time.Duration `yaml:"error_pause"`
}

// CollectorConfig tunes host telemetry collection.
type CollectorConfig struct {
	// DiskPath is the mount point whose usage is reported.
	DiskPath string `yaml:"disk_path"`
}

// ProbeConfig configures the connectivity prober.
type ProbeConfig struct {
	WANURL  string        `yaml:"wan_url"`
	LANURL  string        `yaml:"lan_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// APIConfig configures delivery to the monitoring API.
type APIConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`

	// Token is a static bearer token. Ignored when JWTSecret is set.
	Token string `yaml:"token"`
	// JWTSecret enables HS256 tokens minted per submission.
	JWTSecret string        `yaml:"jwt_secret"`
	JWTTTL    time.Duration `yaml:"jwt_ttl"`

	Retries      int           `yaml:"retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// BufferConfig selects where undelivered records are kept.
type BufferConfig struct {
	// Store is one of "memory", "file" or "redis".
	Store string `yaml:"store"`
	// Requeue is "tail" or "head": where a record that failed delivery
	// during a drain goes back.
	Requeue  string      `yaml:"requeue"`
	FilePath string      `yaml:"file_path"`
	Redis    RedisConfig `yaml:"redis"`
}

// RedisConfig locates the Redis buffer store.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key"`
}

// ObservabilityConfig configures logging, metrics and tracing.
type ObservabilityConfig struct {
	LogLevel string `yaml:"log_level"`
	// MetricsAddr serves Prometheus /metrics when non-empty, e.g. ":9464".
	MetricsAddr string `yaml:"metrics_addr"`

	Tracing TracingConfig     `yaml:"tracing"`
	Metrics OTelMetricsConfig `yaml:"metrics"`
}

// TracingConfig configures the OpenTelemetry trace exporter.
type TracingConfig struct {
	// Exporter is one of "none", "stdout", "otlp-grpc" or "otlp-http".
	Exporter   string  `yaml:"exporter"`
	Endpoint   string  `yaml:"endpoint"`
	Insecure   bool    `yaml:"insecure"`
	SampleRate float64 `yaml:"sample_rate"`
}

// OTelMetricsConfig configures the OpenTelemetry metric exporter.
type OTelMetricsConfig struct {
	Exporter string        `yaml:"exporter"`
	Endpoint string        `yaml:"endpoint"`
	Insecure bool          `yaml:"insecure"`
	Interval time.Duration `yaml:"interval"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Serial: SerialConfig{
			BaudRate:    DefaultSerialBaudRate,
			ReadTimeout: DefaultSerialReadTimeout,
		},
		Protocol: ProtocolConfig{
			Marker:     DefaultMarker,
			ErrorPause: DefaultErrorPause,
		},
		Collector: CollectorConfig{
			DiskPath: DefaultDiskPath,
		},
		Probe: ProbeConfig{
			WANURL:  DefaultWANURL,
			LANURL:  DefaultLANURL,
			Timeout: DefaultProbeTimeout,
		},
		API: APIConfig{
			URL:          DefaultAPIURL,
			Timeout:      DefaultAPITimeout,
			JWTTTL:       DefaultJWTTTL,
			RetryBackoff: DefaultAPIRetryBackoff,
		},
		Buffer: BufferConfig{
			Store:    DefaultBufferStore,
			Requeue:  DefaultBufferRequeue,
			FilePath: DefaultBufferFilePath,
			Redis: RedisConfig{
				Addr: DefaultRedisAddr,
				Key:  DefaultRedisKey,
			},
		},
		Observability: ObservabilityConfig{
			LogLevel: DefaultLogLevel,
			Tracing: TracingConfig{
				Exporter:   "none",
				SampleRate: 1.0,
			},
			Metrics: OTelMetricsConfig{
				Exporter: "none",
				Interval: DefaultMetricsInterval,
			},
		},
	}
}
