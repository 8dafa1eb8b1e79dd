package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marina-backend/pkg/enums"
)

// ProviderLinkage holds the external payment references shared by every
// obligation table.
type ProviderLinkage struct {
	PaymentProvider      *string         `gorm:"column:payment_provider"`
	ProviderPaymentID    *string         `gorm:"column:provider_payment_id"`
	ProviderPreferenceID *string         `gorm:"column:provider_preference_id"`
	ProviderStatus       *string         `gorm:"column:provider_status"`
	ProviderStatusDetail *string         `gorm:"column:provider_status_detail"`
	ProviderCheckoutURL  *string         `gorm:"column:provider_checkout_url"`
	ProviderMetadata     json.RawMessage `gorm:"column:provider_metadata;type:jsonb"`
}

// Installment is one scheduled repayment of a vessel share.
type Installment struct {
	ID                uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserVesselID      uuid.UUID           `gorm:"column:user_vessel_id;type:uuid;not null"`
	InstallmentNumber int                 `gorm:"column:installment_number;not null"`
	Amount            decimal.Decimal     `gorm:"column:amount;type:numeric(12,2);not null"`
	DueDate           time.Time           `gorm:"column:due_date;type:date;not null"`
	Status            enums.PaymentStatus `gorm:"column:status;type:payment_status;not null;default:'pending'"`
	PaymentDate       *time.Time          `gorm:"column:payment_date"`
	Notes             *string             `gorm:"column:notes"`
	ProviderLinkage   `gorm:"embedded"`
	CreatedAt         time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// MarinaPayment is a monthly marina fee owed for a vessel share.
type MarinaPayment struct {
	ID              uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserVesselID    uuid.UUID           `gorm:"column:user_vessel_id;type:uuid;not null"`
	Amount          decimal.Decimal     `gorm:"column:amount;type:numeric(12,2);not null"`
	DueDate         time.Time           `gorm:"column:due_date;type:date;not null"`
	Status          enums.PaymentStatus `gorm:"column:status;type:payment_status;not null;default:'pending'"`
	PaymentDate     *time.Time          `gorm:"column:payment_date"`
	Notes           *string             `gorm:"column:notes"`
	ProviderLinkage `gorm:"embedded"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// AdHocCharge is a one-off charge such as a repair or fuel refill.
type AdHocCharge struct {
	ID              uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserVesselID    uuid.UUID           `gorm:"column:user_vessel_id;type:uuid;not null"`
	Description     string              `gorm:"column:description;not null"`
	Amount          decimal.Decimal     `gorm:"column:amount;type:numeric(12,2);not null"`
	DueDate         time.Time           `gorm:"column:due_date;type:date;not null"`
	Status          enums.PaymentStatus `gorm:"column:status;type:payment_status;not null;default:'pending'"`
	PaymentDate     *time.Time          `gorm:"column:payment_date"`
	Notes           *string             `gorm:"column:notes"`
	ProviderLinkage `gorm:"embedded"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (AdHocCharge) TableName() string {
	return "ad_hoc_charges"
}
