package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marina-backend/pkg/enums"
)

// UserVessel links a member to a vessel share together with its financing terms.
type UserVessel struct {
	ID                uuid.UUID              `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID            uuid.UUID              `gorm:"column:user_id;type:uuid;not null"`
	VesselID          uuid.UUID              `gorm:"column:vessel_id;type:uuid;not null"`
	TotalValue        decimal.Decimal        `gorm:"column:total_value;type:numeric(12,2);not null"`
	DownPayment       decimal.Decimal        `gorm:"column:down_payment;type:numeric(12,2);not null"`
	RemainingAmount   decimal.Decimal        `gorm:"column:remaining_amount;type:numeric(12,2);not null"`
	TotalInstallments int                    `gorm:"column:total_installments;not null;default:0"`
	MarinaFeeAmount   decimal.Decimal        `gorm:"column:marina_fee_amount;type:numeric(12,2);not null"`
	MarinaDueDay      int                    `gorm:"column:marina_due_day;not null;default:10"`
	Status            enums.AssignmentStatus `gorm:"column:status;type:assignment_status;not null;default:'active'"`
	CreatedAt         time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}

// FinancedAmount is the portion of the share value not covered by the down payment.
func (u UserVessel) FinancedAmount() decimal.Decimal {
	return u.TotalValue.Sub(u.DownPayment)
}
