// Command brokerd runs the session broker daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/sessionworks/broker/broker"
	"github.com/sessionworks/broker/observability"
)

func main() {
	var (
		configFile = flag.String("config", "", "Path to broker config JSON file (required)")
		addr       = flag.String("addr", "", "Listen address (overrides config)")
		workDir    = flag.String("work-dir", "", "Session working tree root (overrides config)")
		verbose    = flag.Bool("verbose", false, "Enable verbose logging to stderr")
	)
	flag.Parse()

	if *configFile == "" {
		fmt.Fprintln(os.Stderr, "Usage: brokerd -config <file>")
		flag.PrintDefaults()
		os.Exit(1)
	}

	cfg, err := broker.LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Secrets may come from the environment instead of the config file.
	if secret := os.Getenv("BROKER_SIGNING_SECRET"); secret != "" {
		cfg.Auth.SigningSecret = secret
	}
	if token := os.Getenv("BROKER_SERVICE_TOKEN"); token != "" {
		cfg.Auth.ServiceToken = token
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *workDir != "" {
		cfg.Session.WorkDir = *workDir
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	observability.RegisterObserver(observability.ObserverSlog, observability.NewSlogObserver(logger))

	b, err := broker.New(cfg, broker.WithLogger(logger))
	if err != nil {
		log.Fatalf("Failed to create broker: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := b.Run(ctx); err != nil {
		log.Fatalf("Broker exited: %v", err)
	}
}
