package produce

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dray-io/dray-rest/internal/broker"
	"github.com/dray-io/dray-rest/internal/logging"
	"github.com/dray-io/dray-rest/internal/metrics"
	"golang.org/x/sync/errgroup"
)

var errShortAck = errors.New("produce: broker acknowledged fewer records than sent")

// Dispatcher issues one append per partition, concurrently, and collects the
// results. Appends are never retried or rolled back.
type Dispatcher struct {
	appender       broker.Appender
	maxInFlight    int
	maxRecordBytes int
	metrics        *metrics.ProduceMetrics
	logger         *logging.Logger
}

// NewDispatcher creates a dispatcher. maxInFlight bounds concurrent appends
// per request and maxRecordBytes bounds key+value size; zero disables either.
func NewDispatcher(appender broker.Appender, maxInFlight, maxRecordBytes int) *Dispatcher {
	return &Dispatcher{
		appender:       appender,
		maxInFlight:    maxInFlight,
		maxRecordBytes: maxRecordBytes,
	}
}

// WithMetrics sets the metrics collector for partition appends.
func (d *Dispatcher) WithMetrics(m *metrics.ProduceMetrics) *Dispatcher {
	d.metrics = m
	return d
}

// WithLogger sets the logger used when ctx carries none.
func (d *Dispatcher) WithLogger(l *logging.Logger) *Dispatcher {
	d.logger = l
	return d
}

// Dispatch appends every non-empty batch of topic and returns one result per
// partition. Each append runs under its own timeout and is detached from
// ctx cancellation: if ctx ends first, Dispatch returns ctx.Err(), the
// appends already issued still run to completion and no further partition
// is appended.
//
// Records are checked against the size limit before any append is issued.
func (d *Dispatcher) Dispatch(ctx context.Context, topic string, batches Batches, timeout time.Duration) (map[int32]AppendResult, error) {
	partitions := batches.Partitions()
	encoded, err := d.encode(batches, partitions)
	if err != nil {
		return nil, err
	}

	var (
		mu      sync.Mutex
		results = make(map[int32]AppendResult, len(partitions))
		g       errgroup.Group
		done    = make(chan struct{})
	)
	if d.maxInFlight > 0 {
		g.SetLimit(d.maxInFlight)
	}

	// g.Go blocks once the limit is reached, so scheduling happens off the
	// caller's goroutine to keep ctx.Done observable.
	go func() {
		defer close(done)
		for _, p := range partitions {
			records := encoded[p]
			g.Go(func() error {
				var res AppendResult
				if err := ctx.Err(); err != nil {
					// The caller is gone; only appends already issued may land.
					res = AppendResult{Partition: p, Err: err}
				} else {
					res = d.appendPartition(ctx, topic, p, records, timeout)
				}
				mu.Lock()
				results[p] = res
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()
	}()

	log := logging.ContextLogger(ctx, d.logger)

	select {
	case <-done:
	case <-ctx.Done():
		log.Warnf("produce abandoned by caller; issued appends continue", map[string]any{
			"topic":      topic,
			"partitions": partitions,
			"error":      ctx.Err().Error(),
		})
		return nil, ctx.Err()
	}

	d.logPartialDurability(log, topic, partitions, results)
	return results, nil
}

func (d *Dispatcher) appendPartition(ctx context.Context, topic string, p int32, records []broker.Record, timeout time.Duration) AppendResult {
	callCtx := context.WithoutCancel(ctx)
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(callCtx, timeout)
		defer cancel()
	}

	res := AppendResult{Partition: p}
	ack, err := d.appender.Append(callCtx, topic, p, records)
	switch {
	case err != nil:
		res.Err = err
	case ack.Count != len(records):
		res.Err = fmt.Errorf("%w: %d of %d", errShortAck, ack.Count, len(records))
	default:
		res.BaseOffset = ack.BaseOffset
		res.Count = ack.Count
	}
	d.metrics.RecordPartitionAppend(res.Err == nil)
	return res
}

// encode converts targets into broker records, preserving order and the
// nil/empty distinction of keys and values.
func (d *Dispatcher) encode(batches Batches, partitions []int32) (map[int32][]broker.Record, error) {
	out := make(map[int32][]broker.Record, len(partitions))
	for _, p := range partitions {
		targets := batches[p]
		records := make([]broker.Record, len(targets))
		for i, t := range targets {
			r := broker.Record{Key: t.Record.Key, Value: t.Record.Value}
			if d.maxRecordBytes > 0 && r.Size() > d.maxRecordBytes {
				return nil, fmt.Errorf("%w: record %d is %d bytes, limit %d",
					ErrRecordTooLarge, t.Index, r.Size(), d.maxRecordBytes)
			}
			records[i] = r
		}
		out[p] = records
	}
	return out, nil
}

// logPartialDurability warns when some partitions were appended and others
// failed; the appended records stay in the log.
func (d *Dispatcher) logPartialDurability(log *logging.Logger, topic string, partitions []int32, results map[int32]AppendResult) {
	var landed, failed []int32
	for _, p := range partitions {
		if results[p].Err != nil {
			failed = append(failed, p)
		} else {
			landed = append(landed, p)
		}
	}
	if len(failed) == 0 || len(landed) == 0 {
		return
	}
	log.Warnf("produce partially applied", map[string]any{
		"topic":   topic,
		"landed":  landed,
		"failed":  failed,
		"summary": fmt.Sprintf("%d of %d partitions appended", len(landed), len(partitions)),
	})
}
