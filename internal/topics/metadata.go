// Package topics provides topic metadata snapshots and the sources that
// discover them.
package topics

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// Common errors.
var (
	ErrTopicNotFound     = errors.New("topics: topic not found")
	ErrPartitionNotFound = errors.New("topics: partition not found")
	ErrInvalidTopicName  = errors.New("topics: invalid topic name")
)

// maxTopicNameLength matches the broker's limit.
const maxTopicNameLength = 249

// Source discovers the partition layout of a topic.
type Source interface {
	// TopicMetadata returns a snapshot for name, or ErrTopicNotFound.
	TopicMetadata(ctx context.Context, name string) (*Metadata, error)
}

// PartitionInfo describes a single partition of a topic.
type PartitionInfo struct {
	ID       int32
	Leader   int32
	Replicas []int32
	ISR      []int32
}

// Metadata is an immutable snapshot of a topic's partitions, sorted by ID.
// Callers must not modify a snapshot once it has been handed out; use Clone.
type Metadata struct {
	Name       string
	Partitions []PartitionInfo
}

// NewMetadata builds a snapshot from partitions, copying and sorting them by ID.
func NewMetadata(name string, partitions []PartitionInfo) *Metadata {
	ps := make([]PartitionInfo, len(partitions))
	for i, p := range partitions {
		ps[i] = clonePartition(p)
	}
	sort.Slice(ps, func(i, j int) bool { return ps[i].ID < ps[j].ID })
	return &Metadata{Name: name, Partitions: ps}
}

// Len returns the number of partitions.
func (m *Metadata) Len() int {
	if m == nil {
		return 0
	}
	return len(m.Partitions)
}

// Has reports whether id is one of the topic's partitions.
func (m *Metadata) Has(id int32) bool {
	if m == nil {
		return false
	}
	i := sort.Search(len(m.Partitions), func(i int) bool { return m.Partitions[i].ID >= id })
	return i < len(m.Partitions) && m.Partitions[i].ID == id
}

// IDs returns the partition IDs in ascending order.
func (m *Metadata) IDs() []int32 {
	if m == nil {
		return nil
	}
	ids := make([]int32, len(m.Partitions))
	for i, p := range m.Partitions {
		ids[i] = p.ID
	}
	return ids
}

// Clone returns a deep copy of the snapshot.
func (m *Metadata) Clone() *Metadata {
	if m == nil {
		return nil
	}
	return NewMetadata(m.Name, m.Partitions)
}

func clonePartition(p PartitionInfo) PartitionInfo {
	out := PartitionInfo{ID: p.ID, Leader: p.Leader}
	if p.Replicas != nil {
		out.Replicas = append([]int32(nil), p.Replicas...)
	}
	if p.ISR != nil {
		out.ISR = append([]int32(nil), p.ISR...)
	}
	return out
}

// ValidateName checks name against the broker's topic naming rules.
func ValidateName(name string) error {
	if name == "" || name == "." || name == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidTopicName, name)
	}
	if len(name) > maxTopicNameLength {
		return fmt.Errorf("%w: longer than %d characters", ErrInvalidTopicName, maxTopicNameLength)
	}
	for _, c := range name {
		if !isValidTopicChar(c) {
			return fmt.Errorf("%w: %q contains %q", ErrInvalidTopicName, name, c)
		}
	}
	return nil
}

func isValidTopicChar(c rune) bool {
	return (c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9') ||
		c == '.' || c == '_' || c == '-'
}
