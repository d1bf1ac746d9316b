package broker

import (
	"context"
	"fmt"
	"sync"

	"github.com/dray-io/dray-rest/internal/topics"
)

// MemoryLog is an in-process partitioned append-only log. It serves both as
// an Appender and as the topics.Source describing its own layout.
type MemoryLog struct {
	layout *topics.StaticSource

	mu   sync.Mutex
	logs map[partitionKey][]Record
	fail map[partitionKey]error
}

type partitionKey struct {
	topic     string
	partition int32
}

// NewMemoryLog creates a log with the given topic -> partition count layout.
func NewMemoryLog(partitions map[string]int32) *MemoryLog {
	return &MemoryLog{
		layout: topics.NewStaticSource(partitions),
		logs:   make(map[partitionKey][]Record),
		fail:   make(map[partitionKey]error),
	}
}

// AddTopic creates or resizes a topic. Existing records are kept.
func (m *MemoryLog) AddTopic(name string, partitions int32) {
	m.layout.AddTopic(name, partitions)
}

// TopicMetadata implements topics.Source.
func (m *MemoryLog) TopicMetadata(ctx context.Context, name string) (*topics.Metadata, error) {
	return m.layout.TopicMetadata(ctx, name)
}

// Append implements Appender.
func (m *MemoryLog) Append(ctx context.Context, topic string, partition int32, records []Record) (Ack, error) {
	if err := ctx.Err(); err != nil {
		return Ack{}, fmt.Errorf("%w: %w", ErrTimeout, err)
	}

	md, err := m.layout.TopicMetadata(ctx, topic)
	if err != nil || !md.Has(partition) {
		return Ack{}, fmt.Errorf("%w: %s/%d", ErrUnknownPartition, topic, partition)
	}

	key := partitionKey{topic, partition}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fail[key]; err != nil {
		return Ack{}, err
	}

	base := int64(len(m.logs[key]))
	for _, r := range records {
		m.logs[key] = append(m.logs[key], Record{Key: cloneBytes(r.Key), Value: cloneBytes(r.Value)})
	}
	return Ack{BaseOffset: base, Count: len(records)}, nil
}

// Records returns a copy of everything appended to topic/partition, in offset order.
func (m *MemoryLog) Records(topic string, partition int32) []Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	src := m.logs[partitionKey{topic, partition}]
	out := make([]Record, len(src))
	for i, r := range src {
		out[i] = Record{Key: cloneBytes(r.Key), Value: cloneBytes(r.Value)}
	}
	return out
}

// HighWatermark returns the next offset to be assigned in topic/partition.
func (m *MemoryLog) HighWatermark(topic string, partition int32) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.logs[partitionKey{topic, partition}]))
}

// FailPartition makes every later append to topic/partition return err.
// A nil err clears the failure.
func (m *MemoryLog) FailPartition(topic string, partition int32, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := partitionKey{topic, partition}
	if err == nil {
		delete(m.fail, key)
		return
	}
	m.fail[key] = err
}

// Ping implements Pinger. The in-process log is always reachable.
func (m *MemoryLog) Ping(context.Context) error {
	return nil
}

// cloneBytes copies b, keeping nil distinct from empty.
func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte{}, b...)
}
