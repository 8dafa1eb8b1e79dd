package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateBooking      OutboxAggregateType = "booking"
	AggregateObligation   OutboxAggregateType = "obligation"
	AggregateUser         OutboxAggregateType = "user"
	AggregateSubscription OutboxAggregateType = "subscription"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateBooking,
	AggregateObligation,
	AggregateUser,
	AggregateSubscription,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventBookingCreated           OutboxEventType = "booking_created"
	EventBookingCancelled         OutboxEventType = "booking_cancelled"
	EventPaymentRegistered        OutboxEventType = "payment_registered"
	EventPaymentReversed          OutboxEventType = "payment_reversed"
	EventStandingChanged          OutboxEventType = "standing_changed"
	EventSubscriptionChargeIssued OutboxEventType = "subscription_charge_issued"
	EventSubscriptionChargeClosed OutboxEventType = "subscription_charge_closed"
)

var validOutboxEventTypes = []OutboxEventType{
	EventBookingCreated,
	EventBookingCancelled,
	EventPaymentRegistered,
	EventPaymentReversed,
	EventStandingChanged,
	EventSubscriptionChargeIssued,
	EventSubscriptionChargeClosed,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
