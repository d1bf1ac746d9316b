package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/dray-io/dray-rest/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"
	"github.com/twmb/franz-go/pkg/kversion"
	"github.com/twmb/franz-go/plugin/kprom"
)

// KafkaConfig configures the franz-go client behind a KafkaAppender.
type KafkaConfig struct {
	SeedBrokers    []string
	ClientID       string
	Compression    string
	Linger         time.Duration
	RequestTimeout time.Duration
	DialTimeout    time.Duration

	// MaxVersions caps the request versions the client negotiates. Nil uses
	// the client's latest.
	MaxVersions *kversion.Versions

	// Registerer receives kgo client metrics. Nil disables them.
	Registerer prometheus.Registerer
	Logger     *logging.Logger
}

// KafkaAppender appends records to Kafka partitions with acks=all.
type KafkaAppender struct {
	client *kgo.Client
	logger *logging.Logger
}

// NewKafkaAppender creates a franz-go client and wraps it as an Appender.
func NewKafkaAppender(cfg KafkaConfig) (*KafkaAppender, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Global()
	}

	compression, err := compressionCodec(cfg.Compression)
	if err != nil {
		return nil, err
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.SeedBrokers...),
		kgo.ClientID(cfg.ClientID),
		kgo.WithLogger(newKgoLogger(logger)),

		// Partitions are chosen by the gateway, never by the client.
		kgo.RecordPartitioner(kgo.ManualPartitioner()),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerBatchCompression(compression),
		kgo.ProducerLinger(cfg.Linger),
	}
	if cfg.DialTimeout > 0 {
		opts = append(opts, kgo.DialTimeout(cfg.DialTimeout))
	}
	if cfg.MaxVersions != nil {
		opts = append(opts, kgo.MaxVersions(cfg.MaxVersions))
	}
	if cfg.RequestTimeout > 0 {
		opts = append(opts,
			kgo.RecordDeliveryTimeout(cfg.RequestTimeout),
			kgo.ProduceRequestTimeout(cfg.RequestTimeout),
		)
	}
	if cfg.Registerer != nil {
		metrics := kprom.NewMetrics("drayrest_kafka_client",
			kprom.Registerer(cfg.Registerer),
			kprom.FetchAndProduceDetail(kprom.Batches, kprom.Records, kprom.CompressedBytes, kprom.UncompressedBytes))
		opts = append(opts, kgo.WithHooks(metrics))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("broker: create kafka client: %w", err)
	}
	return &KafkaAppender{client: client, logger: logger}, nil
}

func compressionCodec(name string) (kgo.CompressionCodec, error) {
	switch name {
	case "", "none":
		return kgo.NoCompression(), nil
	case "gzip":
		return kgo.GzipCompression(), nil
	case "snappy":
		return kgo.SnappyCompression(), nil
	case "lz4":
		return kgo.Lz4Compression(), nil
	case "zstd":
		return kgo.ZstdCompression(), nil
	default:
		return kgo.CompressionCodec{}, fmt.Errorf("broker: unsupported compression %q", name)
	}
}

// Client returns the underlying franz-go client, shared with the metadata source.
func (a *KafkaAppender) Client() *kgo.Client {
	return a.client
}

// Append produces records to topic/partition and waits for every ack.
func (a *KafkaAppender) Append(ctx context.Context, topic string, partition int32, records []Record) (Ack, error) {
	if len(records) == 0 {
		return Ack{}, nil
	}

	krs := make([]*kgo.Record, len(records))
	for i, r := range records {
		krs[i] = &kgo.Record{
			Topic:     topic,
			Partition: partition,
			Key:       r.Key,
			Value:     r.Value,
		}
	}

	results := a.client.ProduceSync(ctx, krs...)
	if err := results.FirstErr(); err != nil {
		return Ack{}, classifyKafkaError(err)
	}

	base := krs[0].Offset
	for i, r := range krs {
		if r.Offset != base+int64(i) {
			a.logger.Warnf("non-contiguous offsets in partition append", map[string]any{
				"topic":     topic,
				"partition": partition,
				"base":      base,
				"index":     i,
				"offset":    r.Offset,
			})
			break
		}
	}
	return Ack{BaseOffset: base, Count: len(krs)}, nil
}

// Ping issues an ApiVersions request to any broker.
func (a *KafkaAppender) Ping(ctx context.Context) error {
	req := kmsg.NewPtrApiVersionsRequest()
	resp, err := req.RequestWith(ctx, a.client)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if err := kerr.ErrorForCode(resp.ErrorCode); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

// Close flushes nothing and closes the client; in-flight produces fail.
func (a *KafkaAppender) Close() {
	a.client.Close()
}

// classifyKafkaError maps franz-go and broker errors onto the transport errors.
func classifyKafkaError(err error) error {
	switch {
	case errors.Is(err, kgo.ErrRecordTimeout),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, kerr.RequestTimedOut):
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	case errors.Is(err, kerr.MessageTooLarge),
		errors.Is(err, kerr.RecordListTooLarge),
		errors.Is(err, kerr.InvalidRecord),
		errors.Is(err, kerr.CorruptMessage):
		return fmt.Errorf("%w: %w", ErrRecordRejected, err)
	case errors.Is(err, kerr.UnknownTopicOrPartition):
		return fmt.Errorf("%w: %w", ErrUnknownPartition, err)
	case errors.Is(err, kgo.ErrMaxBuffered),
		errors.Is(err, kgo.ErrClientClosed),
		kerr.IsRetriable(err):
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return err
}
