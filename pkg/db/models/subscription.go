package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marina-backend/pkg/enums"
)

// SubscriptionPlan describes a recurring membership charge.
type SubscriptionPlan struct {
	ID                  uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Name                string              `gorm:"column:name;not null"`
	Amount              decimal.Decimal     `gorm:"column:amount;type:numeric(12,2);not null"`
	Frequency           int                 `gorm:"column:frequency;not null;default:1"`
	FrequencyType       enums.FrequencyType `gorm:"column:frequency_type;type:frequency_type;not null;default:'months'"`
	TrialDays           int                 `gorm:"column:trial_days;not null;default:0"`
	BillingDay          *int                `gorm:"column:billing_day"`
	LateInterestPercent decimal.Decimal     `gorm:"column:late_interest_percent;type:numeric(6,3);not null;default:0"`
	PenaltyPercent      decimal.Decimal     `gorm:"column:penalty_percent;type:numeric(6,3);not null;default:0"`
	IsActive            bool                `gorm:"column:is_active;not null;default:true"`
	CreatedAt           time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

// Subscription enrolls a member in a plan. Metadata carries the current
// charge breakdown and the bounded charge history.
type Subscription struct {
	ID                       uuid.UUID                `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID                   uuid.UUID                `gorm:"column:user_id;type:uuid;not null"`
	PlanID                   uuid.UUID                `gorm:"column:plan_id;type:uuid;not null"`
	Plan                     *SubscriptionPlan        `gorm:"foreignKey:PlanID;references:ID"`
	Status                   enums.SubscriptionStatus `gorm:"column:status;type:subscription_status;not null;default:'pending'"`
	NextChargeDate           *time.Time               `gorm:"column:next_charge_date"`
	LastChargedAt            *time.Time               `gorm:"column:last_charged_at"`
	ProviderPaymentID        *string                  `gorm:"column:provider_payment_id"`
	ProviderPaymentStatus    *string                  `gorm:"column:provider_payment_status"`
	ProviderPaymentExpiresAt *time.Time               `gorm:"column:provider_payment_expires_at"`
	Metadata                 json.RawMessage          `gorm:"column:metadata;type:jsonb"`
	CreatedAt                time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt                time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}
