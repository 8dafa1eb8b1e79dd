package notifications

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/marina-backend/pkg/enums"
	"github.com/angelmondragon/marina-backend/pkg/outbox/payloads"
)

type adminDirectory interface {
	ListAdminIDs(ctx context.Context) ([]uuid.UUID, error)
}

// malformedError marks payloads that will never decode; they are dropped.
type malformedError struct {
	err error
}

func (e malformedError) Error() string { return "malformed payload: " + e.err.Error() }
func (e malformedError) Unwrap() error { return e.err }

func decode(data json.RawMessage, into any) error {
	if err := json.Unmarshal(data, into); err != nil {
		return malformedError{err: err}
	}
	return nil
}

// compose maps an event to its message. ok is false for events that notify
// nobody.
func compose(ctx context.Context, admins adminDirectory, eventType enums.OutboxEventType, data json.RawMessage) (Message, bool, error) {
	switch eventType {
	case enums.EventBookingCreated:
		var p payloads.BookingCreatedEvent
		if err := decode(data, &p); err != nil {
			return Message{}, false, err
		}
		targets := []uuid.UUID{p.UserID}
		adminIDs, err := admins.ListAdminIDs(ctx)
		if err != nil {
			return Message{}, false, fmt.Errorf("list admins: %w", err)
		}
		targets = appendUnique(targets, adminIDs...)
		return Message{
			Title:         "Booking confirmed",
			Message:       fmt.Sprintf("%s is reserved for %s.", vesselLabel(p.VesselName), p.BookingDate),
			TargetUserIDs: targets,
			URL:           "/bookings/" + p.BookingID.String(),
			Data:          map[string]any{"booking_id": p.BookingID.String(), "vessel_id": p.VesselID.String(), "booking_date": p.BookingDate},
		}, true, nil

	case enums.EventBookingCancelled:
		var p payloads.BookingCancelledEvent
		if err := decode(data, &p); err != nil {
			return Message{}, false, err
		}
		text := fmt.Sprintf("Your booking for %s was cancelled.", p.BookingDate)
		if p.Reason != "" {
			text = fmt.Sprintf("Your booking for %s was cancelled: %s", p.BookingDate, p.Reason)
		}
		return Message{
			Title:         "Booking cancelled",
			Message:       text,
			TargetUserIDs: []uuid.UUID{p.UserID},
			URL:           "/bookings/" + p.BookingID.String(),
			Data:          map[string]any{"booking_id": p.BookingID.String(), "booking_date": p.BookingDate},
		}, true, nil

	case enums.EventPaymentRegistered:
		var p payloads.PaymentRegisteredEvent
		if err := decode(data, &p); err != nil {
			return Message{}, false, err
		}
		return Message{
			Title:         "Payment received",
			Message:       fmt.Sprintf("We received your payment of R$ %s.", p.Amount),
			TargetUserIDs: []uuid.UUID{p.UserID},
			URL:           "/finance",
			Data:          map[string]any{"obligation_kind": string(p.ObligationKind), "obligation_id": p.ObligationID.String()},
		}, true, nil

	case enums.EventPaymentReversed:
		var p payloads.PaymentReversedEvent
		if err := decode(data, &p); err != nil {
			return Message{}, false, err
		}
		return Message{
			Title:         "Payment reversed",
			Message:       fmt.Sprintf("Your payment of R$ %s was %s and is due again.", p.Amount, p.ProviderStatus),
			TargetUserIDs: []uuid.UUID{p.UserID},
			URL:           "/finance",
			Data:          map[string]any{"obligation_kind": string(p.ObligationKind), "obligation_id": p.ObligationID.String()},
		}, true, nil

	case enums.EventStandingChanged:
		var p payloads.StandingChangedEvent
		if err := decode(data, &p); err != nil {
			return Message{}, false, err
		}
		if p.Current == enums.UserStatusActive {
			return Message{
				Title:         "Account in good standing",
				Message:       "Your account is up to date and bookings are open again.",
				TargetUserIDs: []uuid.UUID{p.UserID},
				URL:           "/finance",
			}, true, nil
		}
		return Message{
			Title:         "Payment overdue",
			Message:       "You have overdue payments. New bookings are paused until they are settled.",
			TargetUserIDs: []uuid.UUID{p.UserID},
			URL:           "/finance",
			Data:          map[string]any{"status": string(p.Current)},
		}, true, nil

	case enums.EventSubscriptionChargeIssued:
		var p payloads.SubscriptionChargeIssuedEvent
		if err := decode(data, &p); err != nil {
			return Message{}, false, err
		}
		return Message{
			Title:         "New subscription charge",
			Message:       fmt.Sprintf("A PIX charge of R$ %s is waiting for payment.", p.Amount),
			TargetUserIDs: []uuid.UUID{p.UserID},
			URL:           "/subscriptions/" + p.SubscriptionID.String(),
			Data:          map[string]any{"subscription_id": p.SubscriptionID.String(), "provider_payment_id": p.ProviderPaymentID},
		}, true, nil

	case enums.EventSubscriptionChargeClosed:
		var p payloads.SubscriptionChargeClosedEvent
		if err := decode(data, &p); err != nil {
			return Message{}, false, err
		}
		if p.Status != enums.ChargeStatusPaid && p.Status != enums.ChargeStatusRejected {
			return Message{}, false, nil
		}
		title, text := "Subscription paid", fmt.Sprintf("Your subscription payment of R$ %s was confirmed.", p.Amount)
		if p.Status == enums.ChargeStatusRejected {
			title, text = "Subscription payment failed", fmt.Sprintf("Your subscription payment of R$ %s was rejected.", p.Amount)
		}
		return Message{
			Title:         title,
			Message:       text,
			TargetUserIDs: []uuid.UUID{p.UserID},
			URL:           "/subscriptions/" + p.SubscriptionID.String(),
			Data:          map[string]any{"subscription_id": p.SubscriptionID.String(), "status": string(p.Status)},
		}, true, nil
	}
	return Message{}, false, nil
}

func vesselLabel(name string) string {
	if name == "" {
		return "The vessel"
	}
	return name
}

func appendUnique(ids []uuid.UUID, more ...uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids)+len(more))
	out := make([]uuid.UUID, 0, len(ids)+len(more))
	for _, id := range append(ids, more...) {
		if id == uuid.Nil {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
