package produce

import (
	"errors"
	"sync"
	"testing"

	"github.com/dray-io/dray-rest/internal/topics"
)

func threePartitions() *topics.Metadata {
	return topics.NewMetadata("topic1", []topics.PartitionInfo{{ID: 0}, {ID: 1}, {ID: 2}})
}

func TestResolverExplicitPartition(t *testing.T) {
	r := NewResolver()
	md := threePartitions()

	for _, p := range []int32{0, 1, 2} {
		// An explicit partition wins over the key.
		got, err := r.Resolve(Record{Key: []byte("key"), Partition: ExplicitPartition(p)}, md)
		if err != nil {
			t.Fatalf("Resolve(partition=%d) failed: %v", p, err)
		}
		if got != p {
			t.Errorf("Resolve(partition=%d) = %d", p, got)
		}
	}
}

func TestResolverUnknownPartition(t *testing.T) {
	r := NewResolver()
	md := threePartitions()

	for _, p := range []int32{-1, 3, 100} {
		_, err := r.Resolve(Record{Partition: ExplicitPartition(p)}, md)
		if !errors.Is(err, topics.ErrPartitionNotFound) {
			t.Errorf("Resolve(partition=%d) error = %v, want ErrPartitionNotFound", p, err)
		}
	}
}

func TestResolverKeyHashMatchesKafka(t *testing.T) {
	r := NewResolver()
	md := threePartitions()

	tests := []struct {
		key  string
		want int32
	}{
		{"key", 1},
		{"key1", 2},
		{"key2", 2},
		{"key3", 1},
		{"key4", 0},
	}
	for _, tt := range tests {
		got, err := r.Resolve(Record{Key: []byte(tt.key)}, md)
		if err != nil {
			t.Fatalf("Resolve(key=%q) failed: %v", tt.key, err)
		}
		if got != tt.want {
			t.Errorf("Resolve(key=%q) = %d, want %d", tt.key, got, tt.want)
		}
	}
}

func TestResolverIdempotent(t *testing.T) {
	r := NewResolver()
	md := threePartitions()

	recs := []Record{
		{Key: []byte("a")},
		{Key: []byte("b")},
		{Key: []byte{}},
		{Partition: ExplicitPartition(2)},
	}
	for _, rec := range recs {
		first, err := r.Resolve(rec, md)
		if err != nil {
			t.Fatal(err)
		}
		for i := 0; i < 10; i++ {
			if got, _ := r.Resolve(rec, md); got != first {
				t.Fatalf("Resolve(%+v) changed from %d to %d", rec, first, got)
			}
		}
	}
}

func TestResolverEmptyKeyIsHashed(t *testing.T) {
	r := NewResolver()
	md := threePartitions()

	want := int32(r.HashKey([]byte{}, 3))
	for i := 0; i < 5; i++ {
		got, err := r.Resolve(Record{Key: []byte{}}, md)
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Fatalf("empty key resolved to %d, want %d every time", got, want)
		}
	}
}

func TestResolverRoundRobin(t *testing.T) {
	r := NewResolver()
	md := threePartitions()

	want := []int32{0, 1, 2, 0, 1, 2, 0}
	for i, w := range want {
		got, err := r.Resolve(Record{Value: []byte("v")}, md)
		if err != nil {
			t.Fatal(err)
		}
		if got != w {
			t.Errorf("record %d resolved to %d, want %d", i, got, w)
		}
	}
}

func TestResolverRoundRobinNonContiguousIDs(t *testing.T) {
	r := NewResolver()
	md := topics.NewMetadata("t", []topics.PartitionInfo{{ID: 7}, {ID: 3}})

	want := []int32{3, 7, 3}
	for i, w := range want {
		got, _ := r.Resolve(Record{}, md)
		if got != w {
			t.Errorf("record %d resolved to %d, want %d", i, got, w)
		}
	}
}

func TestResolverRoundRobinConcurrent(t *testing.T) {
	r := NewResolver()
	md := threePartitions()

	const goroutines, perG = 6, 100
	var mu sync.Mutex
	counts := make(map[int32]int)

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make(map[int32]int)
			for i := 0; i < perG; i++ {
				p, _ := r.Resolve(Record{}, md)
				local[p]++
			}
			mu.Lock()
			for p, n := range local {
				counts[p] += n
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	// The shared counter spreads records exactly evenly.
	for _, p := range []int32{0, 1, 2} {
		if counts[p] != goroutines*perG/3 {
			t.Errorf("partition %d got %d records, want %d", p, counts[p], goroutines*perG/3)
		}
	}
}

func TestResolverCheckTopic(t *testing.T) {
	r := NewResolver()

	if err := r.CheckTopic(nil); !errors.Is(err, topics.ErrTopicNotFound) {
		t.Errorf("CheckTopic(nil) = %v", err)
	}
	if err := r.CheckTopic(topics.NewMetadata("t", nil)); !errors.Is(err, topics.ErrTopicNotFound) {
		t.Errorf("CheckTopic(empty) = %v", err)
	}
	if err := r.CheckTopic(threePartitions()); err != nil {
		t.Errorf("CheckTopic(3 partitions) = %v", err)
	}
	if _, err := r.Resolve(Record{}, nil); !errors.Is(err, topics.ErrTopicNotFound) {
		t.Errorf("Resolve with nil metadata = %v", err)
	}
}
