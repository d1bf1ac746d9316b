package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kversion"

	"github.com/dray-io/dray-rest/internal/broker"
	"github.com/dray-io/dray-rest/internal/config"
	"github.com/dray-io/dray-rest/internal/logging"
	"github.com/dray-io/dray-rest/internal/metrics"
	"github.com/dray-io/dray-rest/internal/produce"
	"github.com/dray-io/dray-rest/internal/server"
	"github.com/dray-io/dray-rest/internal/topics"
)

// componentAPI is the liveness component name of the API listener.
const componentAPI = "api"

// flagOverrides holds command-line values that win over the config file.
type flagOverrides struct {
	ListenAddr  string
	HealthAddr  string
	MetricsAddr string
	Backend     string
	Brokers     string
	LogLevel    string
}

func (o flagOverrides) apply(cfg *config.Config) error {
	if o.ListenAddr != "" {
		cfg.Server.ListenAddr = o.ListenAddr
	}
	if o.HealthAddr != "" {
		cfg.Observability.HealthAddr = o.HealthAddr
	}
	if o.MetricsAddr != "" {
		cfg.Observability.MetricsAddr = o.MetricsAddr
	}
	if o.Backend != "" {
		cfg.Kafka.Backend = o.Backend
	}
	if o.Brokers != "" {
		var seeds []string
		for _, b := range strings.Split(o.Brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				seeds = append(seeds, b)
			}
		}
		cfg.Kafka.SeedBrokers = seeds
	}
	if o.LogLevel != "" {
		cfg.Observability.LogLevel = o.LogLevel
	}
	return cfg.Validate()
}

// GatewayOptions contains the configuration for creating a gateway.
type GatewayOptions struct {
	Config    *config.Config
	Logger    *logging.Logger
	Version   string
	GitCommit string
}

// Gateway wires the broker transport, the metadata source, the producer and
// the HTTP servers of one process.
type Gateway struct {
	opts   GatewayOptions
	logger *logging.Logger

	registry      *prometheus.Registry
	appender      broker.Appender
	closeAppender func()
	meta          topics.Source
	producer      *produce.Producer

	apiServer     *server.Server
	healthServer  *server.HealthServer
	metricsServer *metrics.Server

	mu      sync.Mutex
	started bool
}

// NewGateway builds every component but opens no listeners.
func NewGateway(opts GatewayOptions) (*Gateway, error) {
	if opts.Config == nil {
		return nil, errors.New("gateway: config is required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.DefaultLogger()
	}
	cfg := opts.Config

	g := &Gateway{
		opts:     opts,
		logger:   opts.Logger,
		registry: prometheus.NewRegistry(),
	}
	g.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	src, err := g.buildBackend(cfg)
	if err != nil {
		return nil, err
	}
	g.meta = topics.NewCache(src, cfg.Metadata.CacheTTL)

	g.producer = produce.New(produce.Config{
		DefaultTimeout:        cfg.Produce.Timeout,
		MaxInFlightPartitions: cfg.Produce.MaxInFlightPartitions,
		MaxRecordBytes:        cfg.Produce.MaxRecordBytes,
	}, g.meta, g.appender,
		produce.WithMetrics(metrics.NewProduceMetricsWithRegistry(g.registry)),
		produce.WithLogger(g.logger),
	)

	api := server.NewAPI(g.producer, cfg.Server.MaxRequestBytes, g.logger).
		WithMetrics(metrics.NewHTTPMetricsWithRegistry(g.registry))

	g.apiServer = server.New(server.Config{
		ListenAddr:      cfg.Server.ListenAddr,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		MaxRequestBytes: cfg.Server.MaxRequestBytes,
		TLS: server.TLSConfig{
			Enabled:  cfg.Server.TLS.Enabled,
			CertFile: cfg.Server.TLS.CertFile,
			KeyFile:  cfg.Server.TLS.KeyFile,
		},
	}, api.Handler(), g.logger)

	g.healthServer = server.NewHealthServer(cfg.Observability.HealthAddr, g.logger)
	if p, ok := g.appender.(broker.Pinger); ok {
		g.healthServer.RegisterReadinessCheck(server.NewBrokerChecker(p))
	}
	g.healthServer.RegisterReadinessCheck(server.NewMetadataChecker(g.meta, ""))

	if cfg.Observability.MetricsAddr != "" {
		g.metricsServer = metrics.NewServerWithRegistry(cfg.Observability.MetricsAddr, g.registry).
			WithLogger(g.logger)
	} else {
		g.healthServer.RegisterHandler("/metrics", metrics.Handler(g.registry))
	}

	return g, nil
}

// buildBackend creates the appender for the configured backend and returns
// the metadata source that goes with it.
func (g *Gateway) buildBackend(cfg *config.Config) (topics.Source, error) {
	switch cfg.Kafka.Backend {
	case config.BackendMemory:
		log := broker.NewMemoryLog(cfg.Kafka.MemoryTopics)
		g.appender = log
		g.closeAppender = func() {}
		return log, nil

	case config.BackendKafka:
		appender, err := broker.NewKafkaAppender(broker.KafkaConfig{
			SeedBrokers:    cfg.Kafka.SeedBrokers,
			ClientID:       cfg.Kafka.ClientID,
			Compression:    cfg.Kafka.Compression,
			Linger:         cfg.Kafka.Linger,
			RequestTimeout: cfg.Kafka.RequestTimeout,
			DialTimeout:    cfg.Kafka.DialTimeout,
			MaxVersions:    kversion.FromString(cfg.Kafka.MaxVersion),
			Registerer:     g.registry,
			Logger:         g.logger,
		})
		if err != nil {
			return nil, err
		}
		g.appender = appender
		g.closeAppender = appender.Close
		return topics.NewKafkaSource(kadm.NewClient(appender.Client())), nil

	default:
		return nil, fmt.Errorf("gateway: unknown backend %q", cfg.Kafka.Backend)
	}
}

// Start starts the health and metrics servers, then serves the API until
// Shutdown. It returns server.ErrServerClosed after a clean shutdown.
func (g *Gateway) Start() error {
	g.mu.Lock()
	if g.started {
		g.mu.Unlock()
		return errors.New("gateway already started")
	}
	g.started = true
	g.mu.Unlock()

	cfg := g.opts.Config
	g.logger.Infof("starting gateway", map[string]any{
		"listenAddr": cfg.Server.ListenAddr,
		"backend":    cfg.Kafka.Backend,
		"version":    g.opts.Version,
		"commit":     g.opts.GitCommit,
	})

	if err := g.healthServer.Start(); err != nil {
		return fmt.Errorf("failed to start health server: %w", err)
	}
	if g.metricsServer != nil {
		if err := g.metricsServer.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		g.logger.Infof("metrics server listening", map[string]any{"addr": g.metricsServer.Addr()})
	}

	g.healthServer.SetComponent(componentAPI, true)
	err := g.apiServer.ListenAndServe()
	g.healthServer.SetComponent(componentAPI, false)
	return err
}

// Shutdown fails readiness, drains in-flight requests until ctx is done,
// then releases the broker transport and observability servers.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	if !g.started {
		g.mu.Unlock()
		return nil
	}
	g.mu.Unlock()

	g.logger.Info("shutting down gateway")
	g.healthServer.SetShuttingDown()

	var errs []error
	if err := g.apiServer.Shutdown(ctx); err != nil && !errors.Is(err, server.ErrServerClosed) {
		errs = append(errs, fmt.Errorf("api server: %w", err))
	}

	g.closeAppender()

	if err := g.healthServer.Close(); err != nil {
		g.logger.Warnf("error closing health server", map[string]any{"error": err.Error()})
	}
	if g.metricsServer != nil {
		if err := g.metricsServer.Close(); err != nil {
			g.logger.Warnf("error closing metrics server", map[string]any{"error": err.Error()})
		}
	}

	g.logger.Info("gateway shutdown complete")
	return errors.Join(errs...)
}
