package produce

import (
	"fmt"
	"sort"
)

// AggregateTopic turns per-partition results into one summary per partition,
// ascending. If any partition failed, the error of the lowest failed
// partition is returned instead.
func AggregateTopic(results map[int32]AppendResult) ([]OffsetSummary, error) {
	partitions := make([]int32, 0, len(results))
	for p := range results {
		partitions = append(partitions, p)
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	for _, p := range partitions {
		if err := results[p].Err; err != nil {
			return nil, Classify(err).withPartition(p)
		}
	}

	out := make([]OffsetSummary, 0, len(partitions))
	for _, p := range partitions {
		res := results[p]
		if res.Count <= 0 {
			continue
		}
		out = append(out, summarize(p, res))
	}
	return out, nil
}

// AggregatePartition returns the summary for the single partition a request
// was pinned to.
func AggregatePartition(results map[int32]AppendResult, partition int32) (OffsetSummary, error) {
	res, ok := results[partition]
	if !ok || (res.Err == nil && res.Count <= 0) {
		return OffsetSummary{}, NewError(KindUnknown, CodeUnknown,
			fmt.Errorf("produce: no append result for partition %d", partition)).withPartition(partition)
	}
	if res.Err != nil {
		return OffsetSummary{}, Classify(res.Err).withPartition(partition)
	}
	return summarize(partition, res), nil
}

func summarize(p int32, res AppendResult) OffsetSummary {
	return OffsetSummary{
		Partition: p,
		Offset:    res.BaseOffset + int64(res.Count) - 1,
	}
}
