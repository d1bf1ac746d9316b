package produce

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dray-io/dray-rest/internal/broker"
	"github.com/dray-io/dray-rest/internal/logging"
	"github.com/dray-io/dray-rest/internal/metrics"
	"github.com/dray-io/dray-rest/internal/topics"
)

// Config holds producer limits.
type Config struct {
	// DefaultTimeout bounds each partition append when a request sets none.
	DefaultTimeout time.Duration

	// MaxInFlightPartitions bounds concurrent appends within one request.
	MaxInFlightPartitions int

	// MaxRecordBytes bounds key+value size of a single record.
	MaxRecordBytes int
}

// DefaultConfig returns the default producer limits.
func DefaultConfig() Config {
	return Config{
		DefaultTimeout:        30 * time.Second,
		MaxInFlightPartitions: 16,
		MaxRecordBytes:        1024 * 1024,
	}
}

// Option configures a Producer.
type Option func(*Producer)

// WithMetrics records request, append and error metrics.
func WithMetrics(m *metrics.ProduceMetrics) Option {
	return func(p *Producer) { p.metrics = m }
}

// WithLogger sets the logger used when a request context carries none.
func WithLogger(l *logging.Logger) Option {
	return func(p *Producer) { p.logger = l }
}

// WithResolver replaces the partition resolver, e.g. to share its
// round-robin position between producers.
func WithResolver(r *Resolver) Option {
	return func(p *Producer) { p.resolver = r }
}

// Producer accepts batches of records for a topic and reports the offsets
// they were appended at. It is safe for concurrent use.
type Producer struct {
	cfg        Config
	meta       topics.Source
	resolver   *Resolver
	dispatcher *Dispatcher
	metrics    *metrics.ProduceMetrics
	logger     *logging.Logger
}

// New creates a producer reading topic layouts from meta and appending
// through appender.
func New(cfg Config, meta topics.Source, appender broker.Appender, opts ...Option) *Producer {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultConfig().DefaultTimeout
	}

	p := &Producer{
		cfg:  cfg,
		meta: meta,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.resolver == nil {
		p.resolver = NewResolver()
	}
	if p.logger == nil {
		p.logger = logging.Global()
	}
	p.dispatcher = NewDispatcher(appender, cfg.MaxInFlightPartitions, cfg.MaxRecordBytes).
		WithMetrics(p.metrics).
		WithLogger(p.logger)
	return p
}

// ProduceToTopic resolves a partition for every record, appends them and
// returns the last offset written to each partition, ascending. Errors are
// always *Error.
func (p *Producer) ProduceToTopic(ctx context.Context, topic string, req Request) ([]OffsetSummary, error) {
	start := time.Now()
	offsets, err := p.produceToTopic(ctx, topic, req)
	p.observe(ctx, metrics.EndpointTopic, topic, len(req.Records), start, err)
	if err != nil {
		return nil, Classify(err)
	}
	return offsets, nil
}

func (p *Producer) produceToTopic(ctx context.Context, topic string, req Request) ([]OffsetSummary, error) {
	md, err := p.lookup(ctx, topic)
	if err != nil {
		return nil, err
	}
	if len(req.Records) == 0 {
		return nil, ErrEmptyRequest
	}

	batches, err := Assemble(req.Records, p.resolver, md)
	if err != nil {
		return nil, err
	}

	results, err := p.dispatcher.Dispatch(ctx, topic, batches, p.timeout(req))
	if err != nil {
		return nil, err
	}
	return AggregateTopic(results)
}

// ProduceToPartition appends every record to partition and returns the last
// offset written. Records may not name a different partition. Errors are
// always *Error.
func (p *Producer) ProduceToPartition(ctx context.Context, topic string, partition int32, req Request) (OffsetSummary, error) {
	start := time.Now()
	offset, err := p.produceToPartition(ctx, topic, partition, req)
	p.observe(ctx, metrics.EndpointPartition, topic, len(req.Records), start, err)
	if err != nil {
		return OffsetSummary{}, Classify(err)
	}
	return offset, nil
}

func (p *Producer) produceToPartition(ctx context.Context, topic string, partition int32, req Request) (OffsetSummary, error) {
	md, err := p.lookup(ctx, topic)
	if err != nil {
		return OffsetSummary{}, err
	}
	if !md.Has(partition) {
		return OffsetSummary{}, fmt.Errorf("%w: %d", topics.ErrPartitionNotFound, partition)
	}
	if len(req.Records) == 0 {
		return OffsetSummary{}, ErrEmptyRequest
	}

	batches, err := AssemblePinned(req.Records, partition, md)
	if err != nil {
		return OffsetSummary{}, err
	}

	results, err := p.dispatcher.Dispatch(ctx, topic, batches, p.timeout(req))
	if err != nil {
		return OffsetSummary{}, err
	}
	return AggregatePartition(results, partition)
}

// lookup validates the topic name and fetches a metadata snapshot. Metadata
// failures other than not-found count as broker unavailability.
func (p *Producer) lookup(ctx context.Context, topic string) (*topics.Metadata, error) {
	if err := topics.ValidateName(topic); err != nil {
		return nil, err
	}
	md, err := p.meta.TopicMetadata(ctx, topic)
	if err != nil {
		if errors.Is(err, topics.ErrTopicNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: metadata for %s: %w", broker.ErrUnavailable, topic, err)
	}
	if err := p.resolver.CheckTopic(md); err != nil {
		return nil, err
	}
	return md, nil
}

func (p *Producer) timeout(req Request) time.Duration {
	if req.Timeout > 0 {
		return req.Timeout
	}
	return p.cfg.DefaultTimeout
}

func (p *Producer) observe(ctx context.Context, endpoint, topic string, records int, start time.Time, err error) {
	elapsed := time.Since(start)
	p.metrics.RecordLatency(endpoint, elapsed.Seconds(), err == nil)

	log := logging.ContextLogger(ctx, p.logger)
	fields := map[string]any{
		"endpoint":  endpoint,
		"topic":     topic,
		"records":   records,
		"elapsedMs": elapsed.Milliseconds(),
	}

	if err == nil {
		p.metrics.RecordRecords(records)
		log.Debugf("produce succeeded", fields)
		return
	}

	perr := Classify(err)
	p.metrics.RecordError(perr.Kind.String())
	fields["kind"] = perr.Kind.String()
	fields["code"] = perr.Code
	fields["error"] = err.Error()
	if perr.Partition != NoPartition {
		fields["partition"] = perr.Partition
	}

	switch perr.Kind {
	case KindUnknown:
		log.Errorf("produce failed", fields)
	case KindBrokerUnavailable:
		log.Warnf("produce failed", fields)
	default:
		log.Debugf("produce rejected", fields)
	}
}
