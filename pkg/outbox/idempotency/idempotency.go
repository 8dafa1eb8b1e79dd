package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marina-backend/pkg/redis"
)

// Manager tracks processed deliveries per consumer using Redis SETNX with a TTL.
// Keys follow the `marina:idempotency:<kind>:<consumer>:<id>` pattern, where
// kind is `evt:processed` for bus events and `delivery` for provider webhooks.
type Manager struct {
	store redis.IdempotencyStore
	ttl   time.Duration
}

// NewManager builds an idempotency guard that marks deliveries as processed for the given TTL.
func NewManager(store redis.IdempotencyStore, ttl time.Duration) (*Manager, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &Manager{store: store, ttl: ttl}, nil
}

// CheckAndMarkProcessed returns true if the bus event has already been handled
// by consumer and otherwise marks it as processed.
func (m *Manager) CheckAndMarkProcessed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error) {
	if eventID == uuid.Nil {
		return false, errors.New("event id is required")
	}
	return m.checkAndMark(ctx, "evt:processed", consumer, eventID.String())
}

// Delete forgets a processed bus event so a redelivery is handled again.
func (m *Manager) Delete(ctx context.Context, consumer string, eventID uuid.UUID) error {
	if eventID == uuid.Nil {
		return errors.New("event id is required")
	}
	return m.release(ctx, "evt:processed", consumer, eventID.String())
}

// CheckAndMarkDelivery is the string-keyed variant used for provider
// notifications, which identify deliveries with opaque request ids.
func (m *Manager) CheckAndMarkDelivery(ctx context.Context, consumer, deliveryID string) (bool, error) {
	return m.checkAndMark(ctx, "delivery", consumer, deliveryID)
}

// ReleaseDelivery forgets a delivery whose handling failed.
func (m *Manager) ReleaseDelivery(ctx context.Context, consumer, deliveryID string) error {
	return m.release(ctx, "delivery", consumer, deliveryID)
}

func (m *Manager) checkAndMark(ctx context.Context, kind, consumer, id string) (bool, error) {
	key, err := m.key(kind, consumer, id)
	if err != nil {
		return false, err
	}
	set, err := m.store.SetNX(ctx, key, "1", m.ttl)
	if err != nil {
		return false, err
	}
	return !set, nil
}

func (m *Manager) release(ctx context.Context, kind, consumer, id string) error {
	key, err := m.key(kind, consumer, id)
	if err != nil {
		return err
	}
	return m.store.Del(ctx, key)
}

func (m *Manager) key(kind, consumer, id string) (string, error) {
	if consumer == "" {
		return "", errors.New("consumer name is required")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return "", errors.New("delivery id is required")
	}
	return m.store.IdempotencyKey(fmt.Sprintf("%s:%s", kind, consumer), id), nil
}
