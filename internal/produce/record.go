// Package produce implements the produce path of the gateway: partition
// resolution, per-partition batch assembly, concurrent dispatch to the
// broker and aggregation of per-partition acknowledgements.
package produce

import (
	"sort"
	"time"
)

// Record is a single record submitted by a client. A nil Key means no key.
// A nil Value is an absent value and is kept distinct from an empty one.
// A nil Partition means the client did not pin the record.
type Record struct {
	Key       []byte
	Value     []byte
	Partition *int32
}

// ExplicitPartition returns a pointer suitable for Record.Partition.
func ExplicitPartition(p int32) *int32 {
	return &p
}

// Request is an ordered list of records for one topic. A zero Timeout uses
// the producer default.
type Request struct {
	Records []Record
	Timeout time.Duration
}

// Target pairs a record with its resolved partition and its position in the
// original request.
type Target struct {
	Index     int
	Partition int32
	Record    Record
}

// Batches holds per-partition sub-batches. Within a partition, targets keep
// the order in which they appeared in the request.
type Batches map[int32][]Target

// Partitions returns the partitions with at least one target, ascending.
func (b Batches) Partitions() []int32 {
	ps := make([]int32, 0, len(b))
	for p, ts := range b {
		if len(ts) > 0 {
			ps = append(ps, p)
		}
	}
	sort.Slice(ps, func(i, j int) bool { return ps[i] < ps[j] })
	return ps
}

// Len returns the total number of targets.
func (b Batches) Len() int {
	n := 0
	for _, ts := range b {
		n += len(ts)
	}
	return n
}

// Flatten returns every target ordered by its original request index.
func (b Batches) Flatten() []Target {
	out := make([]Target, 0, b.Len())
	for _, ts := range b {
		out = append(out, ts...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// AppendResult is the outcome of one partition append. Either Err is set,
// or BaseOffset and Count describe the appended range.
type AppendResult struct {
	Partition  int32
	BaseOffset int64
	Count      int
	Err        error
}

// OffsetSummary reports the offset of the last record appended to Partition.
type OffsetSummary struct {
	Partition int32
	Offset    int64
}
