package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marina-backend/pkg/enums"
)

// BookingCreatedEvent is emitted when a reservation is admitted.
type BookingCreatedEvent struct {
	BookingID    uuid.UUID `json:"booking_id"`
	VesselID     uuid.UUID `json:"vessel_id"`
	VesselName   string    `json:"vessel_name"`
	UserID       uuid.UUID `json:"user_id"`
	BookingDate  string    `json:"booking_date"`
	ActorIsAdmin bool      `json:"actor_is_admin"`
}

// BookingCancelledEvent is emitted when a reservation releases its slot.
type BookingCancelledEvent struct {
	BookingID   uuid.UUID `json:"booking_id"`
	VesselID    uuid.UUID `json:"vessel_id"`
	UserID      uuid.UUID `json:"user_id"`
	BookingDate string    `json:"booking_date"`
	Reason      string    `json:"reason,omitempty"`
	CancelledBy uuid.UUID `json:"cancelled_by"`
}

// PaymentRegisteredEvent is emitted when an obligation transitions to paid.
type PaymentRegisteredEvent struct {
	ObligationKind enums.ObligationKind `json:"obligation_kind"`
	ObligationID   uuid.UUID            `json:"obligation_id"`
	UserVesselID   uuid.UUID            `json:"user_vessel_id"`
	UserID         uuid.UUID            `json:"user_id"`
	Amount         string               `json:"amount"`
	Source         string               `json:"source"`
	PaidAt         time.Time            `json:"paid_at"`
}

// PaymentReversedEvent is emitted when a paid obligation is refunded or charged back.
type PaymentReversedEvent struct {
	ObligationKind enums.ObligationKind `json:"obligation_kind"`
	ObligationID   uuid.UUID            `json:"obligation_id"`
	UserVesselID   uuid.UUID            `json:"user_vessel_id"`
	UserID         uuid.UUID            `json:"user_id"`
	Amount         string               `json:"amount"`
	ProviderStatus string               `json:"provider_status"`
}

// StandingChangedEvent is emitted when a member's derived standing moves.
type StandingChangedEvent struct {
	UserID   uuid.UUID        `json:"user_id"`
	Previous enums.UserStatus `json:"previous"`
	Current  enums.UserStatus `json:"current"`
}

// SubscriptionChargeIssuedEvent is emitted after a subscription PIX charge is created.
type SubscriptionChargeIssuedEvent struct {
	SubscriptionID    uuid.UUID  `json:"subscription_id"`
	UserID            uuid.UUID  `json:"user_id"`
	Amount            string     `json:"amount"`
	ProviderPaymentID string     `json:"provider_payment_id"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
}

// SubscriptionChargeClosedEvent is emitted when a subscription charge is paid, rejected or cancelled.
type SubscriptionChargeClosedEvent struct {
	SubscriptionID uuid.UUID          `json:"subscription_id"`
	UserID         uuid.UUID          `json:"user_id"`
	Status         enums.ChargeStatus `json:"status"`
	Amount         string             `json:"amount"`
}
