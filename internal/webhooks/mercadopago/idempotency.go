package mercadopagowebhook

import (
	"context"
	"errors"
	"fmt"
)

const deliveryConsumer = "mercadopago-webhook"

type deliveryTracker interface {
	CheckAndMarkDelivery(ctx context.Context, consumer, deliveryID string) (bool, error)
	ReleaseDelivery(ctx context.Context, consumer, deliveryID string) error
}

// IdempotencyGuard de-duplicates provider deliveries by their x-request-id.
type IdempotencyGuard struct {
	tracker deliveryTracker
}

func NewIdempotencyGuard(tracker deliveryTracker) (*IdempotencyGuard, error) {
	if tracker == nil {
		return nil, errors.New("idempotency tracker is required")
	}
	return &IdempotencyGuard{tracker: tracker}, nil
}

func (g *IdempotencyGuard) CheckAndMark(ctx context.Context, requestID string) (bool, error) {
	if requestID == "" {
		return false, errors.New("request id is required")
	}
	seen, err := g.tracker.CheckAndMarkDelivery(ctx, deliveryConsumer, requestID)
	if err != nil {
		return false, fmt.Errorf("mark delivery: %w", err)
	}
	return seen, nil
}

func (g *IdempotencyGuard) Delete(ctx context.Context, requestID string) error {
	if requestID == "" {
		return errors.New("request id is required")
	}
	return g.tracker.ReleaseDelivery(ctx, deliveryConsumer, requestID)
}
