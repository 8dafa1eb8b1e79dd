package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marina-backend/pkg/enums"
)

// Booking reserves one vessel for one calendar date.
type Booking struct {
	ID                 uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	VesselID           uuid.UUID           `gorm:"column:vessel_id;type:uuid;not null"`
	UserID             uuid.UUID           `gorm:"column:user_id;type:uuid;not null"`
	BookingDate        time.Time           `gorm:"column:booking_date;type:date;not null"`
	Status             enums.BookingStatus `gorm:"column:status;type:booking_status;not null;default:'pending'"`
	Notes              *string             `gorm:"column:notes"`
	CancellationReason *string             `gorm:"column:cancellation_reason"`
	CancelledAt        *time.Time          `gorm:"column:cancelled_at"`
	ApprovedAt         *time.Time          `gorm:"column:approved_at"`
	CreatedAt          time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
