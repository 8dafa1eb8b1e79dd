package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marina-backend/pkg/enums"
)

// BlockedDateRange closes an inclusive span of dates on one vessel.
type BlockedDateRange struct {
	ID        uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	VesselID  uuid.UUID         `gorm:"column:vessel_id;type:uuid;not null"`
	StartDate time.Time         `gorm:"column:start_date;type:date;not null"`
	EndDate   time.Time         `gorm:"column:end_date;type:date;not null"`
	Reason    enums.BlockReason `gorm:"column:reason;type:block_reason;not null"`
	Notes     *string           `gorm:"column:notes"`
	CreatedAt time.Time         `gorm:"column:created_at;autoCreateTime"`
}

// Contains reports whether the date falls inside the range, bounds included.
func (b BlockedDateRange) Contains(date time.Time) bool {
	return !date.Before(b.StartDate) && !date.After(b.EndDate)
}

// WeeklyBlock closes a weekday on every vessel for non-admin members.
type WeeklyBlock struct {
	ID        uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	DayOfWeek int               `gorm:"column:day_of_week;not null"`
	Reason    enums.BlockReason `gorm:"column:reason;type:block_reason;not null"`
	Notes     *string           `gorm:"column:notes"`
	IsActive  bool              `gorm:"column:is_active;not null;default:true"`
	CreatedAt time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}
