package nats

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/telhawk-systems/causeway/internal/engine"
	"github.com/telhawk-systems/causeway/internal/messaging"
	natsclient "github.com/telhawk-systems/causeway/internal/messaging/nats"
	"github.com/telhawk-systems/causeway/internal/models"
)

// Publisher publishes finalized findings to the hub's correlation subjects.
// It satisfies the engine's Publisher contract.
type Publisher struct {
	client *natsclient.Client
}

// NewPublisher creates a NATS publisher.
func NewPublisher(client *natsclient.Client) *Publisher {
	return &Publisher{client: client}
}

// PublishEventFinding publishes a finalized event correlation with its
// analysis.
func (p *Publisher) PublishEventFinding(ctx context.Context, f *engine.EventFinding) error {
	return p.publish(ctx, messaging.SubjectCorrelationFoundEvent, f)
}

// PublishAnomaly publishes a finalized anomaly correlation.
func (p *Publisher) PublishAnomaly(ctx context.Context, ac *models.AnomalyCorrelation) error {
	return p.publish(ctx, messaging.SubjectCorrelationFoundAnomaly, ac)
}

// PublishEvent publishes a normalized event on its per-source subject.
// Producers and the seeder use this to feed the engine's consumer.
func (p *Publisher) PublishEvent(ctx context.Context, ev *models.NormalizedEvent) error {
	return p.publish(ctx, messaging.EventSubject(ev.Source), ev)
}

// publish marshals data to JSON and publishes to the given subject.
func (p *Publisher) publish(ctx context.Context, subject string, data interface{}) error {
	bytes, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return p.client.Publish(ctx, subject, bytes)
}
