// Package nats bridges the message bus and the engine: the handler consumes
// normalized events from the hub, the publisher pushes finalized findings
// back out.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/telhawk-systems/causeway/internal/logging"
	"github.com/telhawk-systems/causeway/internal/messaging"
	natsclient "github.com/telhawk-systems/causeway/internal/messaging/nats"
	"github.com/telhawk-systems/causeway/internal/models"
)

// defaultRetryWait paces admission retries while the engine reports
// capacity.
const defaultRetryWait = 50 * time.Millisecond

// Admitter is the slice of the engine the handler needs.
type Admitter interface {
	Admit(ev *models.NormalizedEvent) error
}

// Handler consumes normalized events and admits them into the engine.
// Capacity pushback pauses consumption instead of dropping events; the
// message is retried until the backlog clears or the context ends.
type Handler struct {
	client    *natsclient.Client
	engine    Admitter
	log       *logging.Logger
	retryWait time.Duration
	subs      []messaging.Subscription
}

// NewHandler creates a NATS handler feeding the given engine.
func NewHandler(client *natsclient.Client, eng Admitter, log *logging.Logger) *Handler {
	if log == nil {
		log = logging.Default()
	}
	return &Handler{
		client:    client,
		engine:    eng,
		log:       log,
		retryWait: defaultRetryWait,
		subs:      make([]messaging.Subscription, 0),
	}
}

// Start subscribes to the normalized event stream. Instances share the
// worker queue group, so each event is admitted by exactly one of them.
func (h *Handler) Start(ctx context.Context) error {
	sub, err := h.client.QueueSubscribe(
		messaging.SubjectEventsNormalizedAll,
		messaging.QueueEngineWorkers,
		h.handleNormalizedEvent,
	)
	if err != nil {
		return fmt.Errorf("failed to subscribe to normalized events: %w", err)
	}
	h.subs = append(h.subs, sub)

	h.log.Info("nats handler started", "subject", messaging.SubjectEventsNormalizedAll)
	return nil
}

// Stop unsubscribes from all subjects.
func (h *Handler) Stop() error {
	for _, sub := range h.subs {
		if err := sub.Unsubscribe(); err != nil {
			h.log.Warn("failed to unsubscribe", "subject", sub.Subject(), "error", err)
		}
	}
	h.subs = nil
	h.log.Info("nats handler stopped")
	return nil
}

func (h *Handler) handleNormalizedEvent(ctx context.Context, msg *messaging.Message) error {
	var ev models.NormalizedEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		h.log.Warn("dropping undecodable event", "subject", msg.Subject, "error", err)
		return nil
	}
	return h.admit(ctx, &ev)
}

// admit pushes one event into the engine. Malformed events are logged and
// dropped; a halted partition or stopped engine surfaces the error so the
// subscription layer records it.
func (h *Handler) admit(ctx context.Context, ev *models.NormalizedEvent) error {
	for {
		err := h.engine.Admit(ev)
		switch {
		case err == nil:
			return nil
		case models.IsValidation(err):
			h.log.Warn("rejected malformed event", "event_id", ev.ID, "error", err)
			return nil
		case models.IsCapacity(err):
			select {
			case <-time.After(h.retryWait):
			case <-ctx.Done():
				return ctx.Err()
			}
		default:
			return err
		}
	}
}
