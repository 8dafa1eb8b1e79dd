package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/marina-backend/pkg/enums"
	"github.com/angelmondragon/marina-backend/pkg/logger"
	"github.com/angelmondragon/marina-backend/pkg/outbox"
)

const consumerName = "notification-worker"

type processedTracker interface {
	CheckAndMarkProcessed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error)
	Delete(ctx context.Context, consumer string, eventID uuid.UUID) error
}

// Consumer turns marina domain events into member and admin notifications.
type Consumer struct {
	admins       adminDirectory
	subscription *pubsub.Subscriber
	idempotency  processedTracker
	sender       Sender
	logg         *logger.Logger
}

// ConsumerParams wires a Consumer.
type ConsumerParams struct {
	Admins       adminDirectory
	Subscription *pubsub.Subscriber
	Idempotency  processedTracker
	Sender       Sender
	Logger       *logger.Logger
}

// NewConsumer builds the notification consumer. Subscription may be nil in
// tests that drive process directly.
func NewConsumer(params ConsumerParams) (*Consumer, error) {
	switch {
	case params.Admins == nil:
		return nil, fmt.Errorf("admin directory required")
	case params.Idempotency == nil:
		return nil, fmt.Errorf("idempotency manager required")
	case params.Sender == nil:
		return nil, fmt.Errorf("sender required")
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		admins:       params.Admins,
		subscription: params.Subscription,
		idempotency:  params.Idempotency,
		sender:       params.Sender,
		logg:         params.Logger,
	}, nil
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	if c.subscription == nil {
		return fmt.Errorf("notification subscription required")
	}
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		result := c.process(ctx, msg)
		if result.nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	ack  bool
	nack bool
	sent bool
}

func (c *Consumer) process(ctx context.Context, msg *pubsub.Message) processResult {
	eventType := enums.OutboxEventType(msg.Attributes["event_type"])
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": msg.ID,
		"event_type": string(eventType),
	})

	if !eventType.IsValid() {
		c.logg.Info(logCtx, "skipping unknown event type")
		return processResult{ack: true}
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(msg.Data, &envelope); err != nil {
		c.logg.Error(logCtx, "failed to decode envelope", err)
		return processResult{ack: true}
	}
	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		c.logg.Error(logCtx, "invalid event id", err)
		return processResult{ack: true}
	}
	logCtx = c.logg.WithField(logCtx, "event_id", eventID.String())

	already, err := c.idempotency.CheckAndMarkProcessed(ctx, consumerName, eventID)
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return processResult{nack: true}
	}
	if already {
		c.logg.Info(logCtx, "event already processed")
		return processResult{ack: true}
	}

	message, ok, err := compose(ctx, c.admins, eventType, envelope.Data)
	if err != nil {
		var malformed malformedError
		if errors.As(err, &malformed) {
			c.logg.Error(logCtx, "dropping malformed payload", err)
			return processResult{ack: true}
		}
		c.logg.Error(logCtx, "notification composition failed", err)
		if delErr := c.idempotency.Delete(ctx, consumerName, eventID); delErr != nil {
			c.logg.Warn(logCtx, "failed to release idempotency key")
		}
		return processResult{nack: true}
	}
	if !ok {
		c.logg.Debug(logCtx, "event has no recipients")
		return processResult{ack: true}
	}

	if err := c.sender.Send(ctx, message); err != nil {
		c.logg.Error(logCtx, "notification delivery failed", err)
		return processResult{ack: true}
	}
	c.logg.Info(c.logg.WithField(logCtx, "recipients", len(message.TargetUserIDs)), "notification sent")
	return processResult{ack: true, sent: true}
}
