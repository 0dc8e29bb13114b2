// Package main provides the serversnitch-mockapi binary: a local monitoring
// API that accepts and records telemetry submissions.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/bc-dunia/serversnitch/internal/mockapi"
)

func main() {
	addr := pflag.String("addr", ":8080", "HTTP server address")
	token := pflag.String("token", "", "Require this static bearer token")
	jwtSecret := pflag.String("jwt-secret", "", "Require HS256 bearer tokens signed with this secret")
	latency := pflag.Duration("latency", 0, "Delay every ingestion response")
	rateLimit := pflag.Int("rate-limit", 0, "Maximum accepted submissions per second (0 = unlimited)")
	failNext := pflag.Int("fail-next", 0, "Answer the first N submissions with --fail-status")
	failStatus := pflag.Int("fail-status", 503, "Status code for scripted failures")
	reason := pflag.String("reason", "", "Reason phrase for successful answers instead of OK")
	pflag.Parse()

	config := mockapi.DefaultConfig()
	config.Addr = *addr
	config.Token = *token
	if *jwtSecret != "" {
		config.JWTSecret = []byte(*jwtSecret)
	}
	config.Latency = *latency
	config.RateLimit = *rateLimit

	server := mockapi.New(config)
	server.FailNext(*failNext, *failStatus)
	server.SetReason(*reason)

	if err := server.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error starting mock API: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Mock monitoring API listening on %s\n", server.Addr())
	fmt.Printf("Ingestion endpoint: %s\n", server.DataURL())
	fmt.Println("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\nShutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	server.Stop(ctx)
	fmt.Printf("Mock API stopped after %d submissions\n", len(server.Received()))
}
