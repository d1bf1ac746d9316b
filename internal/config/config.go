// Package config provides configuration loading and validation for the gateway.
// Supports YAML files with DRAYREST_* environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kversion"
)

// Backend names accepted in kafka.backend.
const (
	BackendKafka  = "kafka"
	BackendMemory = "memory"
)

// Config holds all configuration for a gateway process.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	Produce       ProduceConfig       `yaml:"produce"`
	Metadata      MetadataConfig      `yaml:"metadata"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type ServerConfig struct {
	ListenAddr      string        `yaml:"listenAddr" env:"DRAYREST_LISTEN_ADDR"`
	ReadTimeout     time.Duration `yaml:"readTimeout" env:"DRAYREST_READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"writeTimeout" env:"DRAYREST_WRITE_TIMEOUT"`
	MaxRequestBytes int64         `yaml:"maxRequestBytes" env:"DRAYREST_MAX_REQUEST_BYTES"`
	TLS             TLSConfig     `yaml:"tls"`
}

type TLSConfig struct {
	Enabled  bool   `yaml:"enabled" env:"DRAYREST_TLS_ENABLED"`
	CertFile string `yaml:"certFile" env:"DRAYREST_TLS_CERT_FILE"`
	KeyFile  string `yaml:"keyFile" env:"DRAYREST_TLS_KEY_FILE"`
}

// KafkaConfig selects and configures the broker transport.
type KafkaConfig struct {
	Backend        string        `yaml:"backend" env:"DRAYREST_KAFKA_BACKEND"`
	SeedBrokers    []string      `yaml:"seedBrokers" env:"DRAYREST_KAFKA_SEED_BROKERS"`
	ClientID       string        `yaml:"clientId" env:"DRAYREST_KAFKA_CLIENT_ID"`
	Compression    string        `yaml:"compression" env:"DRAYREST_KAFKA_COMPRESSION"`
	Linger         time.Duration `yaml:"linger" env:"DRAYREST_KAFKA_LINGER"`
	RequestTimeout time.Duration `yaml:"requestTimeout" env:"DRAYREST_KAFKA_REQUEST_TIMEOUT"`
	DialTimeout    time.Duration `yaml:"dialTimeout" env:"DRAYREST_KAFKA_DIAL_TIMEOUT"`
	// MaxVersion pins the newest Kafka release whose protocol the client
	// may negotiate, e.g. "3.7.0". Empty negotiates the latest.
	MaxVersion string `yaml:"maxVersion" env:"DRAYREST_KAFKA_MAX_VERSION"`

	// MemoryTopics maps topic name to partition count for the memory backend.
	MemoryTopics map[string]int32 `yaml:"memoryTopics"`
}

type ProduceConfig struct {
	Timeout               time.Duration `yaml:"timeout" env:"DRAYREST_PRODUCE_TIMEOUT"`
	MaxInFlightPartitions int           `yaml:"maxInFlightPartitions" env:"DRAYREST_PRODUCE_MAX_INFLIGHT_PARTITIONS"`
	MaxRecordBytes        int           `yaml:"maxRecordBytes" env:"DRAYREST_PRODUCE_MAX_RECORD_BYTES"`
}

type MetadataConfig struct {
	CacheTTL time.Duration `yaml:"cacheTTL" env:"DRAYREST_METADATA_CACHE_TTL"`
}

type ObservabilityConfig struct {
	HealthAddr  string `yaml:"healthAddr" env:"DRAYREST_HEALTH_ADDR"`
	// MetricsAddr serves /metrics on its own listener when set. Empty mounts
	// /metrics on the health server.
	MetricsAddr string `yaml:"metricsAddr" env:"DRAYREST_METRICS_ADDR"`
	LogLevel    string `yaml:"logLevel" env:"DRAYREST_LOG_LEVEL"`
	LogFormat   string `yaml:"logFormat" env:"DRAYREST_LOG_FORMAT"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:      ":8082",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			MaxRequestBytes: 16 * 1024 * 1024, // 16MB
		},
		Kafka: KafkaConfig{
			Backend:        BackendKafka,
			SeedBrokers:    []string{"localhost:9092"},
			ClientID:       "drayrest",
			Compression:    "none",
			Linger:         5 * time.Millisecond,
			RequestTimeout: 10 * time.Second,
			DialTimeout:    10 * time.Second,
		},
		Produce: ProduceConfig{
			Timeout:               30 * time.Second,
			MaxInFlightPartitions: 16,
			MaxRecordBytes:        1024 * 1024, // 1MB
		},
		Metadata: MetadataConfig{
			CacheTTL: 30 * time.Second,
		},
		Observability: ObservabilityConfig{
			HealthAddr: ":9090",
			LogLevel:   "info",
			LogFormat:  "json",
		},
	}
}

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Validate checks the configuration for values the gateway cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listenAddr is required"))
	}
	if c.Server.MaxRequestBytes <= 0 {
		errs = append(errs, errors.New("server.maxRequestBytes must be positive"))
	}
	if c.Server.TLS.Enabled && (c.Server.TLS.CertFile == "" || c.Server.TLS.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires certFile and keyFile"))
	}

	switch c.Kafka.Backend {
	case BackendKafka:
		if len(c.Kafka.SeedBrokers) == 0 {
			errs = append(errs, errors.New("kafka.seedBrokers is required for the kafka backend"))
		}
	case BackendMemory:
		for name, n := range c.Kafka.MemoryTopics {
			if n <= 0 {
				errs = append(errs, fmt.Errorf("kafka.memoryTopics[%s] must have at least one partition", name))
			}
		}
	default:
		errs = append(errs, fmt.Errorf("kafka.backend %q is not one of kafka, memory", c.Kafka.Backend))
	}

	if c.Kafka.MaxVersion != "" && kversion.FromString(c.Kafka.MaxVersion) == nil {
		errs = append(errs, fmt.Errorf("kafka.maxVersion %q is not a known Kafka release", c.Kafka.MaxVersion))
	}

	switch c.Kafka.Compression {
	case "", "none", "gzip", "snappy", "lz4", "zstd":
	default:
		errs = append(errs, fmt.Errorf("kafka.compression %q is not supported", c.Kafka.Compression))
	}

	if c.Produce.Timeout <= 0 {
		errs = append(errs, errors.New("produce.timeout must be positive"))
	}
	if c.Produce.MaxInFlightPartitions <= 0 {
		errs = append(errs, errors.New("produce.maxInFlightPartitions must be positive"))
	}
	if c.Produce.MaxRecordBytes <= 0 {
		errs = append(errs, errors.New("produce.maxRecordBytes must be positive"))
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}
