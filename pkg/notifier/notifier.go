// Package notifier fans transaction lifecycle events out to local subscribers
// and to the other orchestrator instances listening on the broker.
package notifier

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/cenkalti/backoff/v4"

	"github.com/dukex/sagabus/pkg/events"
	"github.com/dukex/sagabus/pkg/registry"
)

// Guarantee selects how hard the notifier tries to get an event onto the
// broker. Local delivery is unaffected either way.
type Guarantee string

const (
	// BestEffort publishes fire-and-forget: a failed publish is logged and
	// dropped, and remote instances silently miss the event. This is the
	// documented availability/consistency trade-off of the default mode.
	BestEffort Guarantee = "best-effort"

	// AtLeastOnce retries failed publishes with exponential backoff until the
	// retry budget is exhausted, and reports the final error to the caller.
	AtLeastOnce Guarantee = "at-least-once"
)

const defaultPublishBudget = 30 * time.Second

// Config tunes cross-instance delivery.
type Config struct {
	Guarantee     Guarantee
	PublishBudget time.Duration
}

// Notifier delivers events synchronously to the local registry and broadcasts
// them on the per-workflow broker channel, tagged with the local instance
// identity so the echo from the broker can be recognized and dropped.
type Notifier struct {
	instanceID    string
	registry      *registry.Registry
	publisher     message.Publisher
	guarantee     Guarantee
	publishBudget time.Duration
	logger        *slog.Logger
}

func New(instanceID string, reg *registry.Registry, publisher message.Publisher, cfg Config, logger *slog.Logger) *Notifier {
	if cfg.Guarantee == "" {
		cfg.Guarantee = BestEffort
	}

	if cfg.PublishBudget <= 0 {
		cfg.PublishBudget = defaultPublishBudget
	}

	return &Notifier{
		instanceID:    instanceID,
		registry:      reg,
		publisher:     publisher,
		guarantee:     cfg.Guarantee,
		publishBudget: cfg.PublishBudget,
		logger:        logger.With("instance_id", instanceID),
	}
}

// InstanceID returns the process identity the notifier stamps on envelopes.
func (n *Notifier) InstanceID() string {
	return n.instanceID
}

// Notify delivers a locally-originated event. Local subscribers are always
// invoked synchronously, regardless of broker availability; the broadcast to
// other instances happens afterwards under the configured guarantee. The
// returned error concerns the broadcast only and is nil under BestEffort.
func (n *Notifier) Notify(ctx context.Context, event events.Event) error {
	n.deliverLocal(ctx, event)

	return n.publish(ctx, event)
}

// DispatchInbound handles an envelope received from the broker. Every instance
// subscribed to the channel receives every publish, including its own; the
// origin check is what keeps an instance from double-notifying the subscribers
// it already served synchronously at publish time.
func (n *Notifier) DispatchInbound(ctx context.Context, envelope events.Envelope) {
	if envelope.InstanceID == n.instanceID {
		return
	}

	n.deliverLocal(ctx, envelope.Data)
}

func (n *Notifier) deliverLocal(ctx context.Context, event events.Event) {
	for _, reg := range n.registry.Lookup(event.WorkflowID, event.TransactionID) {
		n.invoke(ctx, reg, event)
	}
}

// invoke isolates subscriber failures: a panicking or erroring callback must
// not stop delivery to the remaining subscribers or abort the surrounding
// facade operation.
func (n *Notifier) invoke(ctx context.Context, reg registry.Registration, event events.Event) {
	defer func() {
		if recovered := recover(); recovered != nil {
			n.logger.Error("subscriber panicked",
				"subscriber_id", reg.ID,
				"workflow_id", event.WorkflowID,
				"transaction_id", event.TransactionID,
				"event_type", event.Type,
				"panic", recovered)
		}
	}()

	if err := reg.Handler(ctx, event); err != nil {
		n.logger.Error("subscriber returned error",
			"subscriber_id", reg.ID,
			"workflow_id", event.WorkflowID,
			"event_type", event.Type,
			"error", err)
	}
}

func (n *Notifier) publish(ctx context.Context, event events.Event) error {
	payload, err := json.Marshal(events.Envelope{
		InstanceID: n.instanceID,
		Data:       event,
	})
	if err != nil {
		n.logger.Error("failed to marshal envelope", "event_type", event.Type, "error", err)

		return nil
	}

	channel := events.ChannelFor(event.WorkflowID)

	send := func() error {
		msg := message.NewMessage(watermill.NewULID(), payload)
		msg.Metadata.Set(events.EventTypeMetadataKey, string(event.Type))
		msg.SetContext(ctx)

		return n.publisher.Publish(channel, msg)
	}

	if n.guarantee == BestEffort {
		if err := send(); err != nil {
			n.logger.Warn("dropping event broadcast",
				"channel", channel,
				"event_type", event.Type,
				"error", err)
		}

		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = n.publishBudget

	if err := backoff.Retry(send, backoff.WithContext(policy, ctx)); err != nil {
		n.logger.Error("event broadcast failed after retries",
			"channel", channel,
			"event_type", event.Type,
			"error", err)

		return err
	}

	return nil
}
