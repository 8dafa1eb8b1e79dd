package subscriptions

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marina-backend/pkg/dates"
	"github.com/angelmondragon/marina-backend/pkg/db/models"
	"github.com/angelmondragon/marina-backend/pkg/enums"
)

const historyLimit = 50

var hundred = decimal.NewFromInt(100)

// ChargeBreakdown is the amount requested for one subscription period.
type ChargeBreakdown struct {
	Base              decimal.Decimal `json:"base"`
	Penalty           decimal.Decimal `json:"penalty"`
	Interest          decimal.Decimal `json:"interest"`
	DaysLate          int             `json:"days_late"`
	Total             decimal.Decimal `json:"total"`
	GeneratedAt       time.Time       `json:"generated_at"`
	DueDate           *time.Time      `json:"due_date,omitempty"`
	ProviderPaymentID string          `json:"provider_payment_id,omitempty"`
}

// ChargeRecord is a resolved charge kept in the subscription history.
type ChargeRecord struct {
	ChargeBreakdown
	Status   enums.ChargeStatus `json:"status"`
	ClosedAt time.Time          `json:"closed_at"`
}

type chargeMetadata struct {
	CurrentCharge *ChargeBreakdown `json:"current_charge"`
	ChargeHistory []ChargeRecord   `json:"charge_history"`
}

// ComputeCharge prices a period. A charge becomes late one whole day after
// nextChargeDate; late charges add the plan's one-time penalty and its
// per-day interest, both as percentages of the base amount.
func ComputeCharge(plan models.SubscriptionPlan, nextChargeDate, now time.Time) ChargeBreakdown {
	base := plan.Amount.Round(2)
	breakdown := ChargeBreakdown{
		Base:        base,
		Penalty:     decimal.Zero,
		Interest:    decimal.Zero,
		Total:       base,
		GeneratedAt: now.UTC(),
	}
	if !nextChargeDate.IsZero() {
		due := nextChargeDate.UTC()
		breakdown.DueDate = &due
	}

	daysLate := 0
	if !nextChargeDate.IsZero() && now.After(nextChargeDate) {
		daysLate = int(now.Sub(nextChargeDate).Hours() / 24)
	}
	if daysLate < 1 {
		return breakdown
	}

	breakdown.DaysLate = daysLate
	breakdown.Penalty = base.Mul(plan.PenaltyPercent).Div(hundred).Round(2)
	breakdown.Interest = base.Mul(plan.LateInterestPercent).Div(hundred).Mul(decimal.NewFromInt(int64(daysLate))).Round(2)
	breakdown.Total = base.Add(breakdown.Penalty).Add(breakdown.Interest)
	return breakdown
}

// NextChargeDate advances from by one plan period.
func NextChargeDate(plan models.SubscriptionPlan, from time.Time) time.Time {
	frequency := plan.Frequency
	if frequency <= 0 {
		frequency = 1
	}
	if plan.FrequencyType == enums.FrequencyDays {
		return from.AddDate(0, 0, frequency)
	}
	day := from.Day()
	if plan.BillingDay != nil {
		day = *plan.BillingDay
	}
	return dates.AddMonthsClamped(from, frequency, day)
}

// firstChargeDate is the end of the trial, moved forward to the plan's
// billing day when one is configured.
func firstChargeDate(plan models.SubscriptionPlan, today time.Time) time.Time {
	start := today.AddDate(0, 0, plan.TrialDays)
	if plan.BillingDay == nil {
		return start
	}
	day := *plan.BillingDay
	candidate := dates.AddMonthsClamped(start, 0, day)
	if candidate.Before(start) {
		candidate = dates.AddMonthsClamped(start, 1, day)
	}
	return candidate
}

func decodeMetadata(raw json.RawMessage) chargeMetadata {
	var meta chargeMetadata
	if len(raw) == 0 {
		return meta
	}
	_ = json.Unmarshal(raw, &meta)
	return meta
}

func (m chargeMetadata) encode() ([]byte, error) {
	if m.ChargeHistory == nil {
		m.ChargeHistory = []ChargeRecord{}
	}
	return json.Marshal(m)
}

// close moves the current charge into the history, keeping the most recent
// entries only.
func (m *chargeMetadata) close(status enums.ChargeStatus, providerPaymentID string, closedAt time.Time) ChargeRecord {
	record := ChargeRecord{Status: status, ClosedAt: closedAt.UTC()}
	if m.CurrentCharge != nil {
		record.ChargeBreakdown = *m.CurrentCharge
	}
	if record.ProviderPaymentID == "" {
		record.ProviderPaymentID = providerPaymentID
	}
	m.ChargeHistory = append(m.ChargeHistory, record)
	if len(m.ChargeHistory) > historyLimit {
		m.ChargeHistory = m.ChargeHistory[len(m.ChargeHistory)-historyLimit:]
	}
	m.CurrentCharge = nil
	return record
}

func (m chargeMetadata) closed(providerPaymentID string) bool {
	if providerPaymentID == "" {
		return false
	}
	for _, record := range m.ChargeHistory {
		if record.ProviderPaymentID == providerPaymentID {
			return true
		}
	}
	return false
}
