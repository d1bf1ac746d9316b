package topics

import (
	"context"
	"errors"
	"fmt"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
)

// KafkaSource discovers topic metadata from a Kafka cluster.
type KafkaSource struct {
	adm *kadm.Client
}

// NewKafkaSource creates a source backed by adm.
func NewKafkaSource(adm *kadm.Client) *KafkaSource {
	return &KafkaSource{adm: adm}
}

// TopicMetadata implements Source.
func (s *KafkaSource) TopicMetadata(ctx context.Context, name string) (*Metadata, error) {
	details, err := s.adm.ListTopics(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("topics: list topics: %w", err)
	}

	td, ok := details[name]
	if !ok {
		return nil, ErrTopicNotFound
	}
	if td.Err != nil {
		if errors.Is(td.Err, kerr.UnknownTopicOrPartition) {
			return nil, ErrTopicNotFound
		}
		return nil, fmt.Errorf("topics: describe %s: %w", name, td.Err)
	}
	if len(td.Partitions) == 0 {
		return nil, ErrTopicNotFound
	}

	ps := make([]PartitionInfo, 0, len(td.Partitions))
	for _, pd := range td.Partitions {
		ps = append(ps, PartitionInfo{
			ID:       pd.Partition,
			Leader:   pd.Leader,
			Replicas: pd.Replicas,
			ISR:      pd.ISR,
		})
	}
	return NewMetadata(name, ps), nil
}
