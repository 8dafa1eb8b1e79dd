package ledger

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marina-backend/pkg/db/models"
	"github.com/angelmondragon/marina-backend/pkg/enums"
)

const providerName = "mercadopago"

// Obligation is the kind-agnostic view of an installment, marina fee or ad-hoc
// charge. Every status transition goes through this view.
type Obligation struct {
	Kind              enums.ObligationKind
	ID                uuid.UUID
	UserVesselID      uuid.UUID
	Amount            decimal.Decimal
	DueDate           time.Time
	Status            enums.PaymentStatus
	PaymentDate       *time.Time
	Notes             *string
	InstallmentNumber int
	Description       string
	models.ProviderLinkage
}

// Title is the human label used on checkouts and notifications.
func (o Obligation) Title() string {
	switch o.Kind {
	case enums.ObligationInstallment:
		return fmt.Sprintf("Installment #%d", o.InstallmentNumber)
	case enums.ObligationMarinaFee:
		return fmt.Sprintf("Marina fee %s", o.DueDate.Format("01/2006"))
	default:
		if o.Description != "" {
			return o.Description
		}
		return "Charge"
	}
}

// HasLiveCheckout reports whether a provider checkout is still payable.
func (o Obligation) HasLiveCheckout() bool {
	if o.ProviderStatus == nil {
		return false
	}
	if o.ProviderPreferenceID == nil && o.ProviderPaymentID == nil {
		return false
	}
	return enums.ProviderPaymentStatus(*o.ProviderStatus).IsLive()
}

func fromInstallment(m models.Installment) *Obligation {
	return &Obligation{
		Kind:              enums.ObligationInstallment,
		ID:                m.ID,
		UserVesselID:      m.UserVesselID,
		Amount:            m.Amount,
		DueDate:           m.DueDate,
		Status:            m.Status,
		PaymentDate:       m.PaymentDate,
		Notes:             m.Notes,
		InstallmentNumber: m.InstallmentNumber,
		ProviderLinkage:   m.ProviderLinkage,
	}
}

func fromMarinaPayment(m models.MarinaPayment) *Obligation {
	return &Obligation{
		Kind:            enums.ObligationMarinaFee,
		ID:              m.ID,
		UserVesselID:    m.UserVesselID,
		Amount:          m.Amount,
		DueDate:         m.DueDate,
		Status:          m.Status,
		PaymentDate:     m.PaymentDate,
		Notes:           m.Notes,
		ProviderLinkage: m.ProviderLinkage,
	}
}

func fromAdHocCharge(m models.AdHocCharge) *Obligation {
	return &Obligation{
		Kind:            enums.ObligationAdHoc,
		ID:              m.ID,
		UserVesselID:    m.UserVesselID,
		Amount:          m.Amount,
		DueDate:         m.DueDate,
		Status:          m.Status,
		PaymentDate:     m.PaymentDate,
		Notes:           m.Notes,
		Description:     m.Description,
		ProviderLinkage: m.ProviderLinkage,
	}
}

// Effect is the outcome of a status transition.
type Effect string

const (
	EffectNone     Effect = "none"
	EffectPaid     Effect = "paid"
	EffectReversed Effect = "reversed"
	EffectNoted    Effect = "noted"
)

// ProviderStatusUpdate is an authoritative payment state reported by the provider.
type ProviderStatusUpdate struct {
	Kind              enums.ObligationKind
	ObligationID      uuid.UUID
	ProviderPaymentID string
	Status            enums.ProviderPaymentStatus
	StatusDetail      string
	PaidAt            *time.Time
	Metadata          json.RawMessage
}

// transition is the set of column writes derived from one provider update.
type transition struct {
	effect  Effect
	changes map[string]any
}

// applyTransition maps a provider status onto an obligation. It is the only
// place that decides obligation status from provider input.
func applyTransition(current *Obligation, update ProviderStatusUpdate, now time.Time) transition {
	if replayed(current, update) {
		return transition{effect: EffectNone}
	}

	changes := map[string]any{
		"payment_provider":       providerName,
		"provider_payment_id":    update.ProviderPaymentID,
		"provider_status":        string(update.Status),
		"provider_status_detail": nullable(update.StatusDetail),
		"updated_at":             now,
	}
	if len(update.Metadata) > 0 {
		changes["provider_metadata"] = []byte(update.Metadata)
	}

	switch {
	case update.Status.IsApproved():
		if current.Status == enums.PaymentStatusPaid {
			return transition{effect: EffectNone, changes: changes}
		}
		paidAt := now
		if update.PaidAt != nil && !update.PaidAt.IsZero() {
			paidAt = update.PaidAt.UTC()
		}
		changes["status"] = enums.PaymentStatusPaid
		changes["payment_date"] = paidAt
		changes["notes"] = appendNote(current.Notes, auditNote(update, now))
		return transition{effect: EffectPaid, changes: changes}
	case update.Status.IsReversal():
		changes["notes"] = appendNote(current.Notes, auditNote(update, now))
		if current.Status != enums.PaymentStatusPaid {
			return transition{effect: EffectNoted, changes: changes}
		}
		changes["status"] = enums.PaymentStatusPending
		changes["payment_date"] = nil
		return transition{effect: EffectReversed, changes: changes}
	default:
		changes["notes"] = appendNote(current.Notes, auditNote(update, now))
		return transition{effect: EffectNoted, changes: changes}
	}
}

// replayed reports whether the update repeats what is already stored.
func replayed(current *Obligation, update ProviderStatusUpdate) bool {
	return deref(current.ProviderPaymentID) == update.ProviderPaymentID &&
		deref(current.ProviderStatus) == string(update.Status) &&
		deref(current.ProviderStatusDetail) == update.StatusDetail
}

func auditNote(update ProviderStatusUpdate, now time.Time) string {
	note := fmt.Sprintf("[%s] %s payment %s: %s", now.UTC().Format(time.RFC3339), providerName, update.ProviderPaymentID, update.Status)
	if update.StatusDetail != "" {
		note += " (" + update.StatusDetail + ")"
	}
	return note
}

func appendNote(existing *string, note string) string {
	note = strings.TrimSpace(note)
	if existing == nil || strings.TrimSpace(*existing) == "" {
		return note
	}
	if note == "" {
		return *existing
	}
	return *existing + "\n" + note
}

// clearedLinkage drops every provider reference. A manual payment supersedes
// any checkout or charge still in flight.
func clearedLinkage() map[string]any {
	return map[string]any{
		"payment_provider":       nil,
		"provider_payment_id":    nil,
		"provider_preference_id": nil,
		"provider_status":        nil,
		"provider_status_detail": nil,
		"provider_checkout_url":  nil,
		"provider_metadata":      nil,
	}
}

func nullable(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
