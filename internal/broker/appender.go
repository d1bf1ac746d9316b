// Package broker appends record batches to topic partitions. It holds the
// transport used by the produce path: a franz-go backed Kafka appender and an
// in-process log for single-node and test deployments.
package broker

import (
	"context"
	"errors"
)

// Transport errors. Appenders wrap the underlying cause with one of these so
// callers can classify failures without knowing the transport.
var (
	ErrUnavailable      = errors.New("broker: unavailable")
	ErrTimeout          = errors.New("broker: request timed out")
	ErrRecordRejected   = errors.New("broker: record rejected")
	ErrUnknownPartition = errors.New("broker: unknown topic or partition")
)

// Record is a single key/value pair handed to the broker. A nil Value is
// a null value and is kept distinct from an empty one.
type Record struct {
	Key   []byte
	Value []byte
}

// Size returns the payload size of the record.
func (r Record) Size() int {
	return len(r.Key) + len(r.Value)
}

// Ack acknowledges an append: records were assigned the contiguous offsets
// BaseOffset through BaseOffset+Count-1.
type Ack struct {
	BaseOffset int64
	Count      int
}

// Appender appends records to a single partition, in order.
type Appender interface {
	Append(ctx context.Context, topic string, partition int32, records []Record) (Ack, error)
}

// AppenderFunc adapts a function to the Appender interface.
type AppenderFunc func(ctx context.Context, topic string, partition int32, records []Record) (Ack, error)

// Append calls f.
func (f AppenderFunc) Append(ctx context.Context, topic string, partition int32, records []Record) (Ack, error) {
	return f(ctx, topic, partition, records)
}

// Pinger is implemented by appenders that can probe broker reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}
