package config

import "time"

// Default configuration constants for the agent
const (
	DefaultSerialBaudRate    = 115200
	DefaultSerialReadTimeout = 5 * time.Second
	DefaultMarker            = "configsnitch"
	DefaultErrorPause        = time.Second

	DefaultWANURL       = "https://google.com"
	DefaultLANURL       = "http://192.168.1.1"
	DefaultProbeTimeout = time.Second

	DefaultAPIURL          = "http://serversnitch.westeurope.cloudapp.azure.com/monitor/data"
	DefaultAPITimeout      = 10 * time.Second
	DefaultAPIRetryBackoff = 500 * time.Millisecond
	DefaultJWTTTL          = 5 * time.Minute

	DefaultBufferStore    = "memory"
	DefaultBufferRequeue  = "tail"
	DefaultBufferFilePath = "serversnitch-buffer.cbor.zst"
	DefaultRedisAddr      = "localhost:6379"
	DefaultRedisKey       = "serversnitch:buffer"

	DefaultDiskPath        = "/"
	DefaultLogLevel        = "info"
	DefaultMetricsInterval = 30 * time.Second
)
