package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dray-io/dray-rest/internal/config"
	"github.com/dray-io/dray-rest/internal/logging"
	"github.com/dray-io/dray-rest/internal/server"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// shutdownTimeout bounds the drain of in-flight produce requests.
const shutdownTimeout = 30 * time.Second

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "--version" || os.Args[1] == "-version") {
		fmt.Printf("drayrest version %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	subcommand := os.Args[1]
	switch subcommand {
	case "gateway":
		runGateway(os.Args[2:])
	case "version":
		fmt.Printf("drayrest version %s (built %s, commit %s)\n", version, buildTime, gitCommit)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", subcommand)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Usage: drayrest <command> [options]

Commands:
  gateway     Start the HTTP produce gateway
  version     Print version information

Run 'drayrest <command> --help' for more information on a command.`)
}

func runGateway(args []string) {
	fs := flag.NewFlagSet("gateway", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	listenAddr := fs.String("listen", "", "Override API listen address (e.g., :8082)")
	healthAddr := fs.String("health-addr", "", "Override health endpoint address (e.g., :9090)")
	metricsAddr := fs.String("metrics-addr", "", "Serve /metrics on its own address instead of the health server")
	backend := fs.String("backend", "", "Override broker backend (kafka or memory)")
	brokers := fs.String("brokers", "", "Override comma-separated Kafka seed brokers")
	logLevel := fs.String("log-level", "", "Override log level (debug, info, warn, error)")

	fs.Usage = func() {
		fmt.Println(`Usage: drayrest gateway [options]

Start the HTTP produce gateway.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.LoadFromPath(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	overrides := flagOverrides{
		ListenAddr:  *listenAddr,
		HealthAddr:  *healthAddr,
		MetricsAddr: *metricsAddr,
		Backend:     *backend,
		Brokers:     *brokers,
		LogLevel:    *logLevel,
	}
	if err := overrides.apply(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "invalid options: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Configure(cfg.Observability.LogLevel, cfg.Observability.LogFormat)

	gw, err := NewGateway(GatewayOptions{
		Config:    cfg,
		Logger:    logger,
		Version:   version,
		GitCommit: gitCommit,
	})
	if err != nil {
		logger.Errorf("failed to create gateway", map[string]any{"error": err.Error()})
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- gw.Start()
	}()

	select {
	case sig := <-sigCh:
		logger.Infof("received shutdown signal", map[string]any{"signal": sig.String()})
	case err := <-errCh:
		if err != nil && err != server.ErrServerClosed {
			logger.Errorf("gateway error", map[string]any{"error": err.Error()})
			os.Exit(1)
		}
	}

	logger.Info("initiating graceful shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := gw.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("shutdown error", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
}
