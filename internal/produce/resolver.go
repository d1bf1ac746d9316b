package produce

import (
	"fmt"
	"sync/atomic"

	"github.com/dray-io/dray-rest/internal/topics"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Resolver picks the partition for each record: the explicit partition if
// set, else a hash of the key, else the next partition in a process-wide
// round-robin.
type Resolver struct {
	next  atomic.Uint64
	keyed kgo.TopicPartitioner
}

// NewResolver creates a resolver whose key hashing matches the Java client's
// default partitioner (murmur2, sign bit masked, modulo partition count).
func NewResolver() *Resolver {
	return &Resolver{
		// Keyed records never touch the partitioner's sticky state, so one
		// instance is shared across goroutines.
		keyed: kgo.StickyKeyPartitioner(nil).ForTopic(""),
	}
}

// CheckTopic fails with topics.ErrTopicNotFound unless md has partitions.
func (r *Resolver) CheckTopic(md *topics.Metadata) error {
	if md.Len() == 0 {
		return topics.ErrTopicNotFound
	}
	return nil
}

// Resolve returns the partition for rec. Explicit and keyed records always
// resolve to the same partition for the same snapshot.
func (r *Resolver) Resolve(rec Record, md *topics.Metadata) (int32, error) {
	if err := r.CheckTopic(md); err != nil {
		return 0, err
	}

	if rec.Partition != nil {
		if !md.Has(*rec.Partition) {
			return 0, fmt.Errorf("%w: %d", topics.ErrPartitionNotFound, *rec.Partition)
		}
		return *rec.Partition, nil
	}

	n := md.Len()
	if rec.Key != nil {
		return md.Partitions[r.HashKey(rec.Key, n)].ID, nil
	}

	i := r.next.Add(1) - 1
	return md.Partitions[i%uint64(n)].ID, nil
}

// HashKey maps key onto [0, n).
func (r *Resolver) HashKey(key []byte, n int) int {
	return r.keyed.Partition(&kgo.Record{Key: key}, n)
}
