// Package main provides the serversnitch agent binary. It bridges a device on
// a serial line and the monitoring API.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/bc-dunia/serversnitch/internal/config"
	"github.com/bc-dunia/serversnitch/internal/serialline"
)

var version = "dev"

type cliFlags struct {
	fs *pflag.FlagSet

	configPath  string
	port        string
	baud        int
	services    []string
	critical    []string
	apiURL      string
	apiToken    string
	logLevel    string
	metricsAddr string
	bufferStore string
	requeue     string
	maxWait     time.Duration
	listPorts   bool
	showVersion bool
}

func newFlags() *cliFlags {
	f := &cliFlags{fs: pflag.NewFlagSet("serversnitch", pflag.ContinueOnError)}
	f.fs.StringVarP(&f.configPath, "config", "c", "", "Path to YAML configuration file")
	f.fs.StringVarP(&f.port, "port", "p", "", "Serial port of the device, e.g. /dev/ttyUSB0 or COM3")
	f.fs.IntVar(&f.baud, "baud", config.DefaultSerialBaudRate, "Serial baud rate")
	f.fs.StringSliceVar(&f.services, "services", nil, "Process names reported in every record")
	f.fs.StringSliceVar(&f.critical, "critical", nil, "Services relayed to the device (at most 3)")
	f.fs.StringVar(&f.apiURL, "api-url", config.DefaultAPIURL, "Monitoring API ingestion URL")
	f.fs.StringVar(&f.apiToken, "api-token", "", "Static bearer token for the monitoring API")
	f.fs.StringVar(&f.logLevel, "log-level", config.DefaultLogLevel, "Log level: debug, info, warn, error")
	f.fs.StringVar(&f.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9464")
	f.fs.StringVar(&f.bufferStore, "buffer-store", config.DefaultBufferStore, "Buffer store: memory, file or redis")
	f.fs.StringVar(&f.requeue, "requeue", config.DefaultBufferRequeue, "Where failed drain deliveries go back: tail or head")
	f.fs.DurationVar(&f.maxWait, "max-wait", 0, "Maximum wait for one device command (0 = unbounded)")
	f.fs.BoolVar(&f.listPorts, "list-ports", false, "List serial ports and exit")
	f.fs.BoolVar(&f.showVersion, "version", false, "Print version and exit")
	return f
}

// apply overrides cfg with the flags given on the command line.
func (f *cliFlags) apply(cfg *config.Config) {
	if f.fs.Changed("port") {
		cfg.Serial.Port = f.port
	}
	if f.fs.Changed("baud") {
		cfg.Serial.BaudRate = f.baud
	}
	if f.fs.Changed("services") {
		cfg.Services = f.services
	}
	if f.fs.Changed("critical") {
		cfg.CriticalServices = f.critical
	}
	if f.fs.Changed("api-url") {
		cfg.API.URL = f.apiURL
	}
	if f.fs.Changed("api-token") {
		cfg.API.Token = f.apiToken
	}
	if f.fs.Changed("log-level") {
		cfg.Observability.LogLevel = f.logLevel
	}
	if f.fs.Changed("metrics-addr") {
		cfg.Observability.MetricsAddr = f.metricsAddr
	}
	if f.fs.Changed("buffer-store") {
		cfg.Buffer.Store = f.bufferStore
	}
	if f.fs.Changed("requeue") {
		cfg.Buffer.Requeue = f.requeue
	}
	if f.fs.Changed("max-wait") {
		cfg.Protocol.MaxWait = f.maxWait
	}
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	flags := newFlags()
	flags.fs.SetOutput(stderr)
	if err := flags.fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}

	if flags.showVersion {
		fmt.Fprintf(stdout, "serversnitch %s\n", version)
		return 0
	}

	if flags.listPorts {
		ports, err := serialline.AvailablePorts()
		if err != nil {
			fmt.Fprintf(stderr, "Error: failed to list serial ports: %v\n", err)
			return 1
		}
		for _, p := range ports {
			fmt.Fprintln(stdout, p)
		}
		return 0
	}

	cfg, err := config.Load(flags.configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	flags.apply(cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "Error: invalid configuration: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newAgent(ctx, cfg, deps{logOutput: stderr})
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "serversnitch %s started\n", version)
	fmt.Fprintf(stdout, "Serial port: %s\n", cfg.Serial.Port)
	fmt.Fprintf(stdout, "API endpoint: %s\n", cfg.API.URL)
	if cfg.Observability.MetricsAddr != "" {
		fmt.Fprintf(stdout, "Metrics: http://%s/metrics\n", cfg.Observability.MetricsAddr)
	}

	err = a.run(ctx)

	fmt.Fprintln(stdout, "\nShutting down agent...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	a.close(shutdownCtx)

	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, "Agent stopped")
	return 0
}
