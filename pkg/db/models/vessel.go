package models

import (
	"time"

	"github.com/google/uuid"
)

// Vessel is a shared boat whose calendar members reserve by the day.
type Vessel struct {
	ID                uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Name              string    `gorm:"column:name;not null"`
	Registration      *string   `gorm:"column:registration"`
	Capacity          int       `gorm:"column:capacity;not null;default:0"`
	Location          *string   `gorm:"column:location"`
	MaxAdvanceDays    int       `gorm:"column:max_advance_days;not null;default:62"`
	MaxActiveBookings int       `gorm:"column:max_active_bookings;not null;default:2"`
	CreatedAt         time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
