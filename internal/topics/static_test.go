package topics

import (
	"context"
	"errors"
	"testing"
)

func TestStaticSource(t *testing.T) {
	src := NewStaticSource(map[string]int32{"topic1": 3})
	ctx := context.Background()

	md, err := src.TopicMetadata(ctx, "topic1")
	if err != nil {
		t.Fatalf("TopicMetadata failed: %v", err)
	}
	if md.Name != "topic1" || md.Len() != 3 {
		t.Fatalf("got %s with %d partitions, want topic1 with 3", md.Name, md.Len())
	}

	if _, err := src.TopicMetadata(ctx, "missing"); !errors.Is(err, ErrTopicNotFound) {
		t.Errorf("missing topic error = %v, want ErrTopicNotFound", err)
	}

	src.AddTopic("topic2", 1)
	if md, err := src.TopicMetadata(ctx, "topic2"); err != nil || md.Len() != 1 {
		t.Errorf("topic2 = %v, %v", md, err)
	}

	src.RemoveTopic("topic1")
	if _, err := src.TopicMetadata(ctx, "topic1"); !errors.Is(err, ErrTopicNotFound) {
		t.Errorf("removed topic error = %v, want ErrTopicNotFound", err)
	}
}

func TestStaticSourceZeroPartitions(t *testing.T) {
	src := NewStaticSource(map[string]int32{"empty": 0})
	if _, err := src.TopicMetadata(context.Background(), "empty"); !errors.Is(err, ErrTopicNotFound) {
		t.Errorf("error = %v, want ErrTopicNotFound", err)
	}
}
