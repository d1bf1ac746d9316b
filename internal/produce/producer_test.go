package produce

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dray-io/dray-rest/internal/broker"
	"github.com/dray-io/dray-rest/internal/logging"
	"github.com/dray-io/dray-rest/internal/metrics"
	"github.com/dray-io/dray-rest/internal/topics"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingAppender forwards to a MemoryLog and counts calls.
type countingAppender struct {
	log   *broker.MemoryLog
	calls atomic.Int32
}

func (a *countingAppender) Append(ctx context.Context, topic string, p int32, recs []broker.Record) (broker.Ack, error) {
	a.calls.Add(1)
	return a.log.Append(ctx, topic, p, recs)
}

type testProducer struct {
	*Producer
	log      *broker.MemoryLog
	appender *countingAppender
	metrics  *metrics.ProduceMetrics
}

func newTestProducer(t *testing.T, cfg Config) *testProducer {
	t.Helper()
	log := broker.NewMemoryLog(map[string]int32{"topic1": 3})
	appender := &countingAppender{log: log}
	m := metrics.NewProduceMetricsWithRegistry(prometheus.NewRegistry())
	p := New(cfg, log, appender, WithMetrics(m), WithLogger(logging.Nop()))
	return &testProducer{Producer: p, log: log, appender: appender, metrics: m}
}

func keyed(key string, n int) []Record {
	recs := make([]Record, n)
	for i := range recs {
		recs[i] = Record{Key: []byte(key), Value: []byte("value")}
	}
	return recs
}

func requireProduceError(t *testing.T, err error, kind Kind, code int) *Error {
	t.Helper()
	var perr *Error
	require.True(t, errors.As(err, &perr), "error %v is not *Error", err)
	assert.Equal(t, kind, perr.Kind)
	assert.Equal(t, code, perr.Code)
	return perr
}

func TestProduceToTopicSameKey(t *testing.T) {
	p := newTestProducer(t, DefaultConfig())

	got, err := p.ProduceToTopic(context.Background(), "topic1", Request{Records: keyed("key", 4)})
	require.NoError(t, err)
	assert.Equal(t, []OffsetSummary{{Partition: 1, Offset: 3}}, got)
	assert.Equal(t, int32(1), p.appender.calls.Load())
}

func TestProduceToTopicExplicitPartitions(t *testing.T) {
	p := newTestProducer(t, DefaultConfig())

	records := []Record{
		{Value: []byte("v0"), Partition: ExplicitPartition(0)},
		{Value: []byte("v1"), Partition: ExplicitPartition(1)},
		{Value: []byte("v2"), Partition: ExplicitPartition(0)},
		{Value: []byte("v3"), Partition: ExplicitPartition(2)},
	}

	got, err := p.ProduceToTopic(context.Background(), "topic1", Request{Records: records})
	require.NoError(t, err)
	assert.Equal(t, []OffsetSummary{{0, 1}, {1, 0}, {2, 0}}, got)

	stored := p.log.Records("topic1", 0)
	require.Len(t, stored, 2)
	assert.Equal(t, "v0", string(stored[0].Value))
	assert.Equal(t, "v2", string(stored[1].Value))
}

func TestProduceToTopicKeysAndPartitions(t *testing.T) {
	p := newTestProducer(t, DefaultConfig())

	records := []Record{
		{Key: []byte("key1"), Value: []byte("v"), Partition: ExplicitPartition(0)},
		{Key: []byte("key2"), Value: []byte("v"), Partition: ExplicitPartition(1)},
		{Key: []byte("key3"), Value: []byte("v"), Partition: ExplicitPartition(1)},
		{Key: []byte("key4"), Value: []byte("v"), Partition: ExplicitPartition(2)},
	}

	got, err := p.ProduceToTopic(context.Background(), "topic1", Request{Records: records})
	require.NoError(t, err)
	assert.Equal(t, []OffsetSummary{{0, 0}, {1, 1}, {2, 0}}, got)
}

func TestProduceToTopicNullValues(t *testing.T) {
	p := newTestProducer(t, DefaultConfig())

	records := make([]Record, 4)
	for i := range records {
		records[i] = Record{Key: []byte("key"), Value: nil}
	}

	got, err := p.ProduceToTopic(context.Background(), "topic1", Request{Records: records})
	require.NoError(t, err)
	assert.Equal(t, []OffsetSummary{{1, 3}}, got)

	for _, r := range p.log.Records("topic1", 1) {
		assert.Nil(t, r.Value)
	}
}

func TestProduceToTopicUnknownTopic(t *testing.T) {
	p := newTestProducer(t, DefaultConfig())

	_, err := p.ProduceToTopic(context.Background(), "no-such-topic", Request{Records: keyed("key", 2)})
	perr := requireProduceError(t, err, KindTopicNotFound, CodeTopicNotFound)
	assert.Equal(t, "Topic not found.", perr.Message)
	assert.Equal(t, int32(0), p.appender.calls.Load())
}

func TestProduceToTopicInvalidTopicName(t *testing.T) {
	p := newTestProducer(t, DefaultConfig())

	_, err := p.ProduceToTopic(context.Background(), "bad/name", Request{Records: keyed("key", 1)})
	requireProduceError(t, err, KindTopicNotFound, CodeTopicNotFound)
	assert.Equal(t, int32(0), p.appender.calls.Load())
}

func TestProduceToTopicValidationNeverAppends(t *testing.T) {
	tests := []struct {
		name    string
		records []Record
		kind    Kind
		code    int
	}{
		{"empty request", nil, KindSerializationFailure, CodeEmptyRequest},
		{"unknown partition in middle", []Record{
			{Partition: ExplicitPartition(0)},
			{Partition: ExplicitPartition(7)},
		}, KindPartitionNotFound, CodePartitionNotFound},
		{"record too large", []Record{
			{Value: []byte("small")},
			{Value: make([]byte, 64)},
		}, KindSerializationFailure, CodeRecordTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.MaxRecordBytes = 32
			p := newTestProducer(t, cfg)

			_, err := p.ProduceToTopic(context.Background(), "topic1", Request{Records: tt.records})
			requireProduceError(t, err, tt.kind, tt.code)
			assert.Equal(t, int32(0), p.appender.calls.Load())
		})
	}
}

func TestProduceToTopicOffsetsAccumulate(t *testing.T) {
	p := newTestProducer(t, DefaultConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		got, err := p.ProduceToTopic(ctx, "topic1", Request{Records: keyed("key", 2)})
		require.NoError(t, err)
		assert.Equal(t, []OffsetSummary{{1, int64(2*i + 1)}}, got)
	}
}

func TestProduceToTopicRoundRobin(t *testing.T) {
	p := newTestProducer(t, DefaultConfig())

	records := make([]Record, 6)
	for i := range records {
		records[i] = Record{Value: []byte{byte(i)}}
	}

	got, err := p.ProduceToTopic(context.Background(), "topic1", Request{Records: records})
	require.NoError(t, err)
	assert.Equal(t, []OffsetSummary{{0, 1}, {1, 1}, {2, 1}}, got)
}

func TestProduceToTopicBrokerFailure(t *testing.T) {
	p := newTestProducer(t, DefaultConfig())
	p.log.FailPartition("topic1", 2, broker.ErrUnavailable)
	p.log.FailPartition("topic1", 1, broker.ErrTimeout)

	records := []Record{
		{Partition: ExplicitPartition(0)},
		{Partition: ExplicitPartition(1)},
		{Partition: ExplicitPartition(2)},
	}

	_, err := p.ProduceToTopic(context.Background(), "topic1", Request{Records: records})
	perr := requireProduceError(t, err, KindBrokerUnavailable, CodeBrokerUnavailable)
	assert.Equal(t, int32(1), perr.Partition, "lowest failed partition is reported")
	assert.True(t, perr.Kind.Transient())

	// Partition 0 landed and stays landed.
	assert.Equal(t, int64(1), p.log.HighWatermark("topic1", 0))
}

func TestProduceToTopicTimeout(t *testing.T) {
	log := broker.NewMemoryLog(map[string]int32{"topic1": 1})
	slow := broker.AppenderFunc(func(ctx context.Context, _ string, _ int32, _ []broker.Record) (broker.Ack, error) {
		<-ctx.Done()
		return broker.Ack{}, ctx.Err()
	})
	p := New(DefaultConfig(), log, slow, WithLogger(logging.Nop()))

	_, err := p.ProduceToTopic(context.Background(), "topic1", Request{
		Records: []Record{{Value: []byte("v")}},
		Timeout: 20 * time.Millisecond,
	})
	requireProduceError(t, err, KindBrokerUnavailable, CodeBrokerUnavailable)
}

func TestProduceMetadataUnavailable(t *testing.T) {
	failing := &failingSource{err: errors.New("connection refused")}
	p := New(DefaultConfig(), failing, broker.NewMemoryLog(nil), WithLogger(logging.Nop()))

	_, err := p.ProduceToTopic(context.Background(), "topic1", Request{Records: keyed("k", 1)})
	requireProduceError(t, err, KindBrokerUnavailable, CodeBrokerUnavailable)
}

type failingSource struct{ err error }

func (s *failingSource) TopicMetadata(context.Context, string) (*topics.Metadata, error) {
	return nil, s.err
}

func TestProduceToPartition(t *testing.T) {
	p := newTestProducer(t, DefaultConfig())

	records := []Record{
		{Key: []byte("a"), Value: []byte("1")},
		{Key: []byte("b"), Value: []byte("2")},
		{Value: []byte("3")},
		{Value: nil},
	}

	got, err := p.ProduceToPartition(context.Background(), "topic1", 0, Request{Records: records})
	require.NoError(t, err)
	assert.Equal(t, OffsetSummary{Partition: 0, Offset: 3}, got)

	stored := p.log.Records("topic1", 0)
	require.Len(t, stored, 4)
	for i, r := range stored {
		if records[i].Value == nil {
			assert.Nil(t, r.Value)
			continue
		}
		assert.True(t, bytes.Equal(records[i].Value, r.Value), "record %d", i)
	}
}

func TestProduceToPartitionErrors(t *testing.T) {
	tests := []struct {
		name      string
		topic     string
		partition int32
		records   []Record
		kind      Kind
		code      int
	}{
		{"unknown topic", "missing", 0, keyed("k", 1), KindTopicNotFound, CodeTopicNotFound},
		{"unknown partition", "topic1", 3, keyed("k", 1), KindPartitionNotFound, CodePartitionNotFound},
		{"empty", "topic1", 0, nil, KindSerializationFailure, CodeEmptyRequest},
		{"conflicting", "topic1", 0, []Record{{Partition: ExplicitPartition(1)}}, KindSerializationFailure, CodeConflictingPartition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProducer(t, DefaultConfig())
			_, err := p.ProduceToPartition(context.Background(), tt.topic, tt.partition, Request{Records: tt.records})
			requireProduceError(t, err, tt.kind, tt.code)
			assert.Equal(t, int32(0), p.appender.calls.Load())
		})
	}
}

func TestProduceRecordsMetrics(t *testing.T) {
	p := newTestProducer(t, DefaultConfig())
	ctx := context.Background()

	_, err := p.ProduceToTopic(ctx, "topic1", Request{Records: keyed("key", 4)})
	require.NoError(t, err)
	_, err = p.ProduceToTopic(ctx, "missing", Request{Records: keyed("key", 1)})
	require.Error(t, err)

	value := func(c prometheus.Counter) float64 {
		m := &dto.Metric{}
		require.NoError(t, c.Write(m))
		return m.Counter.GetValue()
	}

	assert.Equal(t, 4.0, value(p.metrics.RecordsTotal))
	assert.Equal(t, 1.0, value(p.metrics.RequestsTotal.WithLabelValues(metrics.EndpointTopic, metrics.StatusSuccess)))
	assert.Equal(t, 1.0, value(p.metrics.RequestsTotal.WithLabelValues(metrics.EndpointTopic, metrics.StatusFailure)))
	assert.Equal(t, 1.0, value(p.metrics.ErrorsTotal.WithLabelValues("TopicNotFound")))
	assert.Equal(t, 1.0, value(p.metrics.PartitionAppendsTotal.WithLabelValues(metrics.StatusSuccess)))
}

func TestProduceLogsWithRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New(logging.Config{Level: logging.LevelDebug, Output: &buf})
	log := broker.NewMemoryLog(map[string]int32{"topic1": 1})
	p := New(DefaultConfig(), log, log, WithLogger(logger))

	ctx := logging.WithRequestIDCtx(context.Background(), "req-42")
	_, err := p.ProduceToTopic(ctx, "missing", Request{Records: keyed("k", 1)})
	require.Error(t, err)

	assert.Contains(t, buf.String(), `"requestId":"req-42"`)
	assert.Contains(t, buf.String(), `"kind":"TopicNotFound"`)
}

func TestProducerSharedResolver(t *testing.T) {
	log := broker.NewMemoryLog(map[string]int32{"topic1": 3})
	r := NewResolver()
	p1 := New(DefaultConfig(), log, log, WithResolver(r), WithLogger(logging.Nop()))
	p2 := New(DefaultConfig(), log, log, WithResolver(r), WithLogger(logging.Nop()))
	ctx := context.Background()

	got1, err := p1.ProduceToTopic(ctx, "topic1", Request{Records: []Record{{}}})
	require.NoError(t, err)
	got2, err := p2.ProduceToTopic(ctx, "topic1", Request{Records: []Record{{}}})
	require.NoError(t, err)

	assert.Equal(t, int32(0), got1[0].Partition)
	assert.Equal(t, int32(1), got2[0].Partition)
}
