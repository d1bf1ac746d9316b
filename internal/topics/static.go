package topics

import (
	"context"
	"sync"
)

// StaticSource serves metadata from a fixed topic -> partition count table.
// It backs the in-memory broker and tests.
type StaticSource struct {
	mu     sync.RWMutex
	topics map[string]*Metadata
}

// NewStaticSource creates a source from a topic -> partition count map.
func NewStaticSource(partitions map[string]int32) *StaticSource {
	s := &StaticSource{topics: make(map[string]*Metadata, len(partitions))}
	for name, n := range partitions {
		s.AddTopic(name, n)
	}
	return s
}

// AddTopic registers or replaces name with partitions 0..n-1, all led by node 0.
func (s *StaticSource) AddTopic(name string, n int32) {
	ps := make([]PartitionInfo, n)
	for i := range ps {
		ps[i] = PartitionInfo{ID: int32(i), Leader: 0, Replicas: []int32{0}, ISR: []int32{0}}
	}
	md := NewMetadata(name, ps)

	s.mu.Lock()
	s.topics[name] = md
	s.mu.Unlock()
}

// RemoveTopic forgets name.
func (s *StaticSource) RemoveTopic(name string) {
	s.mu.Lock()
	delete(s.topics, name)
	s.mu.Unlock()
}

// TopicMetadata implements Source.
func (s *StaticSource) TopicMetadata(_ context.Context, name string) (*Metadata, error) {
	s.mu.RLock()
	md, ok := s.topics[name]
	s.mu.RUnlock()
	if !ok || md.Len() == 0 {
		return nil, ErrTopicNotFound
	}
	return md, nil
}
