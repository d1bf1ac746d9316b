package server

import (
	"context"
	"errors"

	"github.com/dray-io/dray-rest/internal/broker"
	"github.com/dray-io/dray-rest/internal/topics"
)

// BrokerChecker implements ReadinessChecker for the broker transport.
type BrokerChecker struct {
	pinger broker.Pinger
}

// NewBrokerChecker creates a new BrokerChecker.
func NewBrokerChecker(p broker.Pinger) *BrokerChecker {
	return &BrokerChecker{pinger: p}
}

// Name returns the name of this component for health status display.
func (c *BrokerChecker) Name() string {
	return "broker"
}

// CheckReady verifies at least one broker answers.
func (c *BrokerChecker) CheckReady(ctx context.Context) error {
	if c.pinger == nil {
		return errors.New("broker transport not configured")
	}
	return c.pinger.Ping(ctx)
}

// MetadataChecker implements ReadinessChecker for the topic metadata source.
// It looks up a probe topic; a not-found answer still proves the source
// responds.
type MetadataChecker struct {
	source topics.Source
	probe  string
}

// DefaultProbeTopic is looked up by MetadataChecker when no probe is given.
const DefaultProbeTopic = "__drayrest_readiness_probe"

// NewMetadataChecker creates a new MetadataChecker. An empty probe uses
// DefaultProbeTopic.
func NewMetadataChecker(src topics.Source, probe string) *MetadataChecker {
	if probe == "" {
		probe = DefaultProbeTopic
	}
	return &MetadataChecker{source: src, probe: probe}
}

// Name returns the name of this component for health status display.
func (c *MetadataChecker) Name() string {
	return "metadata"
}

// CheckReady verifies the metadata source is reachable.
func (c *MetadataChecker) CheckReady(ctx context.Context) error {
	if c.source == nil {
		return errors.New("metadata source not configured")
	}
	_, err := c.source.TopicMetadata(ctx, c.probe)
	if err != nil && !errors.Is(err, topics.ErrTopicNotFound) {
		return err
	}
	return nil
}

// FuncChecker is a simple ReadinessChecker that wraps a function.
// Useful for ad-hoc checks or testing.
type FuncChecker struct {
	name  string
	check func(context.Context) error
}

// NewFuncChecker creates a new FuncChecker with the given name and check function.
func NewFuncChecker(name string, check func(context.Context) error) *FuncChecker {
	return &FuncChecker{name: name, check: check}
}

// Name returns the name of this component.
func (c *FuncChecker) Name() string {
	return c.name
}

// CheckReady calls the wrapped function.
func (c *FuncChecker) CheckReady(ctx context.Context) error {
	if c.check == nil {
		return nil
	}
	return c.check(ctx)
}
