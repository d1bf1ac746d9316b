package produce

import (
	"fmt"

	"github.com/dray-io/dray-rest/internal/topics"
)

// Assemble resolves every record and groups them into per-partition batches.
// The first resolution failure aborts assembly and nothing is returned.
func Assemble(records []Record, r *Resolver, md *topics.Metadata) (Batches, error) {
	if err := r.CheckTopic(md); err != nil {
		return nil, err
	}

	batches := make(Batches)
	for i, rec := range records {
		p, err := r.Resolve(rec, md)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		batches[p] = append(batches[p], Target{Index: i, Partition: p, Record: rec})
	}
	return batches, nil
}

// AssemblePinned places every record on partition. A record carrying a
// different explicit partition fails with ErrConflictingPartition.
func AssemblePinned(records []Record, partition int32, md *topics.Metadata) (Batches, error) {
	if md.Len() == 0 {
		return nil, topics.ErrTopicNotFound
	}
	if !md.Has(partition) {
		return nil, fmt.Errorf("%w: %d", topics.ErrPartitionNotFound, partition)
	}

	targets := make([]Target, 0, len(records))
	for i, rec := range records {
		if rec.Partition != nil && *rec.Partition != partition {
			return nil, fmt.Errorf("record %d: %w: %d != %d", i, ErrConflictingPartition, *rec.Partition, partition)
		}
		targets = append(targets, Target{Index: i, Partition: partition, Record: rec})
	}
	return Batches{partition: targets}, nil
}
