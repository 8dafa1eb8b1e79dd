package ledger

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/marina-backend/pkg/config"
	"github.com/angelmondragon/marina-backend/pkg/db/dbtest"
	"github.com/angelmondragon/marina-backend/pkg/db/models"
	"github.com/angelmondragon/marina-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marina-backend/pkg/errors"
	"github.com/angelmondragon/marina-backend/pkg/outbox"
)

type fixture struct {
	db     *gorm.DB
	svc    *Service
	user   models.User
	vessel models.Vessel
	clock  time.Time
}

func newFixture(t *testing.T, clock time.Time) *fixture {
	t.Helper()
	db := dbtest.New(t)
	f := &fixture{db: db, clock: clock}
	f.user = models.User{ID: uuid.New(), Name: "Member", Email: "member@example.com", Role: enums.UserRoleMember, Status: enums.UserStatusActive}
	f.vessel = models.Vessel{ID: uuid.New(), Name: "Aurora", MaxAdvanceDays: 62, MaxActiveBookings: 2}
	require.NoError(t, db.Create(&f.user).Error)
	require.NoError(t, db.Create(&f.vessel).Error)

	svc, err := NewService(ServiceParams{
		Repo:     NewRepository(db),
		Tx:       dbtest.TxRunner{DB: db},
		Outbox:   outbox.NewService(outbox.NewRepository(db), nil),
		Ledger:   config.LedgerConfig{MarinaFeeHorizonMonths: 12},
		Calendar: config.CalendarConfig{Timezone: "America/Sao_Paulo"},
		Clock:    func() time.Time { return f.clock },
	})
	require.NoError(t, err)
	f.svc = svc
	return f
}

func at(t *testing.T, date string) time.Time {
	t.Helper()
	loc, err := time.LoadLocation("America/Sao_Paulo")
	require.NoError(t, err)
	d, err := time.ParseInLocation("2006-01-02", date, loc)
	require.NoError(t, err)
	return d.Add(12 * time.Hour)
}

func day(value string) time.Time {
	d, err := time.Parse("2006-01-02", value)
	if err != nil {
		panic(err)
	}
	return d
}

func (f *fixture) assign(t *testing.T, installments int, marinaFee int64) *models.UserVessel {
	t.Helper()
	uv, err := f.svc.CreateAssignment(context.Background(), AssignmentInput{
		UserID:            f.user.ID,
		VesselID:          f.vessel.ID,
		TotalValue:        decimal.NewFromInt(10000),
		DownPayment:       decimal.NewFromInt(4000),
		TotalInstallments: installments,
		MarinaFeeAmount:   decimal.NewFromInt(marinaFee),
		MarinaDueDay:      10,
	})
	require.NoError(t, err)
	return uv
}

func (f *fixture) reloadAssignment(t *testing.T, id uuid.UUID) models.UserVessel {
	t.Helper()
	var uv models.UserVessel
	require.NoError(t, f.db.Where("id = ?", id).First(&uv).Error)
	return uv
}

func (f *fixture) reloadUser(t *testing.T) models.User {
	t.Helper()
	var user models.User
	require.NoError(t, f.db.Where("id = ?", f.user.ID).First(&user).Error)
	return user
}

func (f *fixture) installments(t *testing.T, uvID uuid.UUID) []models.Installment {
	t.Helper()
	var rows []models.Installment
	require.NoError(t, f.db.Where("user_vessel_id = ?", uvID).Order("installment_number ASC").Find(&rows).Error)
	return rows
}

func (f *fixture) countEvents(t *testing.T, eventType enums.OutboxEventType) int64 {
	t.Helper()
	var count int64
	require.NoError(t, f.db.Model(&models.OutboxEvent{}).Where("event_type = ?", eventType).Count(&count).Error)
	return count
}

func TestManualInstallmentPaymentPaysOffAssignment(t *testing.T) {
	f := newFixture(t, at(t, "2024-01-15"))
	uv := f.assign(t, 0, 0)
	assert.True(t, uv.RemainingAmount.Equal(decimal.NewFromInt(6000)))
	assert.Equal(t, enums.AssignmentStatusActive, uv.Status)

	paid, err := f.svc.RegisterManualPayment(context.Background(), ManualPaymentInput{
		UserVesselID: uv.ID,
		Kind:         enums.ObligationInstallment,
		Amount:       decimal.NewFromInt(6000),
	})
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusPaid, paid.Status)
	assert.Equal(t, 1, paid.InstallmentNumber)

	reloaded := f.reloadAssignment(t, uv.ID)
	assert.True(t, reloaded.RemainingAmount.IsZero(), "remaining=%s", reloaded.RemainingAmount)
	assert.Equal(t, enums.AssignmentStatusPaidOff, reloaded.Status)
	assert.Equal(t, int64(1), f.countEvents(t, enums.EventPaymentRegistered))

	// A zero balance pays off a defaulted assignment even with a fee still overdue.
	defaulted := newFixture(t, at(t, "2024-01-15"))
	duv := defaulted.assign(t, 0, 500)
	defaulted.clock = at(t, "2024-03-01")
	_, err = defaulted.svc.SweepOverdue(context.Background())
	require.NoError(t, err)
	require.Equal(t, enums.AssignmentStatusDefaulted, defaulted.reloadAssignment(t, duv.ID).Status)

	_, err = defaulted.svc.RegisterManualPayment(context.Background(), ManualPaymentInput{
		UserVesselID: duv.ID,
		Kind:         enums.ObligationInstallment,
		Amount:       decimal.NewFromInt(6000),
	})
	require.NoError(t, err)
	settled := defaulted.reloadAssignment(t, duv.ID)
	assert.True(t, settled.RemainingAmount.IsZero(), "remaining=%s", settled.RemainingAmount)
	assert.Equal(t, enums.AssignmentStatusPaidOff, settled.Status)
	assert.Equal(t, enums.UserStatusOverdue, defaulted.reloadUser(t).Status)
}

func TestManualPaymentValidation(t *testing.T) {
	f := newFixture(t, at(t, "2024-01-15"))
	uv := f.assign(t, 0, 0)
	ctx := context.Background()

	_, err := f.svc.RegisterManualPayment(ctx, ManualPaymentInput{UserVesselID: uv.ID, Kind: enums.ObligationInstallment, Amount: decimal.NewFromInt(-5)})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = f.svc.RegisterManualPayment(ctx, ManualPaymentInput{UserVesselID: uv.ID, Kind: enums.ObligationAdHoc, Amount: decimal.NewFromInt(5)})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = f.svc.RegisterManualPayment(ctx, ManualPaymentInput{UserVesselID: uuid.New(), Kind: enums.ObligationInstallment, Amount: decimal.NewFromInt(5)})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	assert.True(t, f.reloadAssignment(t, uv.ID).RemainingAmount.Equal(decimal.NewFromInt(6000)))
}

func TestManualPaymentFloorsBalanceAtZero(t *testing.T) {
	f := newFixture(t, at(t, "2024-01-15"))
	uv := f.assign(t, 0, 0)

	_, err := f.svc.RegisterManualPayment(context.Background(), ManualPaymentInput{
		UserVesselID: uv.ID,
		Kind:         enums.ObligationInstallment,
		Amount:       decimal.NewFromInt(9000),
	})
	require.NoError(t, err)
	reloaded := f.reloadAssignment(t, uv.ID)
	assert.True(t, reloaded.RemainingAmount.IsZero())
	assert.Equal(t, enums.AssignmentStatusPaidOff, reloaded.Status)
}

func TestGenerateScheduleSplitsExactly(t *testing.T) {
	f := newFixture(t, at(t, "2024-01-31"))
	uv := f.assign(t, 0, 0)

	rows, err := f.svc.GenerateSchedule(context.Background(), uv.ID, decimal.NewFromInt(1200), 12)
	require.NoError(t, err)
	require.Len(t, rows, 12)

	stored := f.installments(t, uv.ID)
	require.Len(t, stored, 12)
	sum := decimal.Zero
	for i, row := range stored {
		assert.Equal(t, i+1, row.InstallmentNumber)
		assert.True(t, row.Amount.Equal(decimal.NewFromInt(100)))
		sum = sum.Add(row.Amount)
		if i > 0 {
			assert.True(t, row.DueDate.After(stored[i-1].DueDate))
		}
	}
	assert.True(t, sum.Equal(decimal.NewFromInt(1200)))
	// Jan 31 + 1 month clamps to the end of February.
	assert.True(t, stored[0].DueDate.Equal(day("2024-02-29")), "first due %s", stored[0].DueDate)
	assert.True(t, stored[2].DueDate.Equal(day("2024-04-30")))
	assert.Equal(t, 12, f.reloadAssignment(t, uv.ID).TotalInstallments)
}

func TestGenerateScheduleReplacesAndCarriesRemainder(t *testing.T) {
	f := newFixture(t, at(t, "2024-01-15"))
	uv := f.assign(t, 12, 0)
	require.Len(t, f.installments(t, uv.ID), 12)

	_, err := f.svc.GenerateSchedule(context.Background(), uv.ID, decimal.NewFromInt(1000), 3)
	require.NoError(t, err)

	stored := f.installments(t, uv.ID)
	require.Len(t, stored, 3)
	assert.Equal(t, "333.33", stored[0].Amount.StringFixed(2))
	assert.Equal(t, "333.33", stored[1].Amount.StringFixed(2))
	assert.Equal(t, "333.34", stored[2].Amount.StringFixed(2))

	_, err = f.svc.GenerateSchedule(context.Background(), uv.ID, decimal.NewFromInt(1000), 0)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestSplitEvenly(t *testing.T) {
	parts := splitEvenly(decimal.RequireFromString("100.00"), 7)
	sum := decimal.Zero
	for _, p := range parts {
		sum = sum.Add(p)
	}
	assert.Equal(t, "14.28", parts[0].StringFixed(2))
	assert.Equal(t, "14.32", parts[6].StringFixed(2))
	assert.True(t, sum.Equal(decimal.NewFromInt(100)))
}

func TestGenerateMarinaFeesSkipsExistingMonths(t *testing.T) {
	f := newFixture(t, at(t, "2024-01-15"))
	uv := f.assign(t, 0, 500)

	var fees []models.MarinaPayment
	require.NoError(t, f.db.Where("user_vessel_id = ?", uv.ID).Order("due_date ASC").Find(&fees).Error)
	require.Len(t, fees, 12)
	assert.True(t, fees[0].DueDate.Equal(day("2024-02-10")))
	assert.True(t, fees[11].DueDate.Equal(day("2025-01-10")))

	created, err := f.svc.GenerateMarinaFees(context.Background(), uv.ID)
	require.NoError(t, err)
	assert.Empty(t, created)

	f.clock = at(t, "2024-03-01")
	n, err := f.svc.RolloverMarinaFees(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestApprovedAfterManualPaymentIsNoop(t *testing.T) {
	f := newFixture(t, at(t, "2024-01-15"))
	uv := f.assign(t, 3, 0)
	ctx := context.Background()
	first := f.installments(t, uv.ID)[0]

	_, err := f.svc.RegisterManualPayment(ctx, ManualPaymentInput{
		UserVesselID: uv.ID,
		Kind:         enums.ObligationInstallment,
		Amount:       first.Amount,
		Notes:        strPtr("paid at the desk"),
	})
	require.NoError(t, err)
	balance := f.reloadAssignment(t, uv.ID).RemainingAmount
	assert.True(t, balance.Equal(decimal.NewFromInt(4000)), "balance=%s", balance)

	update := ProviderStatusUpdate{
		Kind:              enums.ObligationInstallment,
		ObligationID:      first.ID,
		ProviderPaymentID: "mp-1",
		Status:            enums.ProviderStatusApproved,
		StatusDetail:      "accredited",
	}
	effect, err := f.svc.ApplyProviderStatus(ctx, update)
	require.NoError(t, err)
	assert.Equal(t, EffectNone, effect)

	effect, err = f.svc.ApplyProviderStatus(ctx, update)
	require.NoError(t, err)
	assert.Equal(t, EffectNone, effect)

	assert.True(t, f.reloadAssignment(t, uv.ID).RemainingAmount.Equal(balance))
	stored := f.installments(t, uv.ID)[0]
	assert.Equal(t, enums.PaymentStatusPaid, stored.Status)
	require.NotNil(t, stored.Notes)
	assert.Equal(t, "paid at the desk", *stored.Notes)
	assert.Equal(t, int64(1), f.countEvents(t, enums.EventPaymentRegistered))
}

func TestApprovedTwiceDecrementsOnce(t *testing.T) {
	f := newFixture(t, at(t, "2024-01-15"))
	uv := f.assign(t, 3, 0)
	ctx := context.Background()
	first := f.installments(t, uv.ID)[0]

	update := ProviderStatusUpdate{
		Kind:              enums.ObligationInstallment,
		ObligationID:      first.ID,
		ProviderPaymentID: "mp-2",
		Status:            enums.ProviderStatusApproved,
	}
	effect, err := f.svc.ApplyProviderStatus(ctx, update)
	require.NoError(t, err)
	assert.Equal(t, EffectPaid, effect)

	effect, err = f.svc.ApplyProviderStatus(ctx, update)
	require.NoError(t, err)
	assert.Equal(t, EffectNone, effect)

	assert.True(t, f.reloadAssignment(t, uv.ID).RemainingAmount.Equal(decimal.NewFromInt(4000)))
	stored := f.installments(t, uv.ID)[0]
	assert.Equal(t, enums.PaymentStatusPaid, stored.Status)
	require.NotNil(t, stored.Notes)
	assert.Equal(t, 1, strings.Count(*stored.Notes, "mp-2"))
	assert.Equal(t, int64(1), f.countEvents(t, enums.EventPaymentRegistered))
}

func TestRefundReversesPayment(t *testing.T) {
	f := newFixture(t, at(t, "2024-01-15"))
	uv := f.assign(t, 1, 0)
	ctx := context.Background()
	only := f.installments(t, uv.ID)[0]

	_, err := f.svc.ApplyProviderStatus(ctx, ProviderStatusUpdate{
		Kind:              enums.ObligationInstallment,
		ObligationID:      only.ID,
		ProviderPaymentID: "mp-3",
		Status:            enums.ProviderStatusApproved,
	})
	require.NoError(t, err)
	assert.Equal(t, enums.AssignmentStatusPaidOff, f.reloadAssignment(t, uv.ID).Status)

	effect, err := f.svc.ApplyProviderStatus(ctx, ProviderStatusUpdate{
		Kind:              enums.ObligationInstallment,
		ObligationID:      only.ID,
		ProviderPaymentID: "mp-3",
		Status:            enums.ProviderStatusRefunded,
		StatusDetail:      "refunded",
	})
	require.NoError(t, err)
	assert.Equal(t, EffectReversed, effect)

	stored := f.installments(t, uv.ID)[0]
	assert.Equal(t, enums.PaymentStatusPending, stored.Status)
	assert.Nil(t, stored.PaymentDate)
	reloaded := f.reloadAssignment(t, uv.ID)
	assert.True(t, reloaded.RemainingAmount.Equal(decimal.NewFromInt(6000)))
	assert.Equal(t, enums.AssignmentStatusActive, reloaded.Status)
	assert.Equal(t, int64(1), f.countEvents(t, enums.EventPaymentReversed))
}

func TestInformationalStatusOnlyAddsNote(t *testing.T) {
	f := newFixture(t, at(t, "2024-01-15"))
	uv := f.assign(t, 1, 0)
	only := f.installments(t, uv.ID)[0]

	effect, err := f.svc.ApplyProviderStatus(context.Background(), ProviderStatusUpdate{
		Kind:              enums.ObligationInstallment,
		ObligationID:      only.ID,
		ProviderPaymentID: "mp-4",
		Status:            enums.ProviderStatusInProcess,
		StatusDetail:      "pending_review_manual",
	})
	require.NoError(t, err)
	assert.Equal(t, EffectNoted, effect)

	stored := f.installments(t, uv.ID)[0]
	assert.Equal(t, enums.PaymentStatusPending, stored.Status)
	require.NotNil(t, stored.ProviderStatus)
	assert.Equal(t, "in_process", *stored.ProviderStatus)
	require.NotNil(t, stored.Notes)
	assert.Contains(t, *stored.Notes, "pending_review_manual")
}

func TestReplayedStatusStillRecomputesStanding(t *testing.T) {
	f := newFixture(t, at(t, "2024-01-15"))
	uv := f.assign(t, 3, 0)
	ctx := context.Background()

	f.clock = at(t, "2024-03-01")
	_, err := f.svc.SweepOverdue(ctx)
	require.NoError(t, err)
	require.Equal(t, enums.UserStatusOverduePayment, f.reloadUser(t).Status)

	update := ProviderStatusUpdate{
		Kind:              enums.ObligationInstallment,
		ObligationID:      f.installments(t, uv.ID)[0].ID,
		ProviderPaymentID: "mp-6",
		Status:            enums.ProviderStatusInProcess,
	}
	effect, err := f.svc.ApplyProviderStatus(ctx, update)
	require.NoError(t, err)
	assert.Equal(t, EffectNoted, effect)

	require.NoError(t, f.db.Model(&models.User{}).Where("id = ?", f.user.ID).Update("status", enums.UserStatusActive).Error)
	effect, err = f.svc.ApplyProviderStatus(ctx, update)
	require.NoError(t, err)
	assert.Equal(t, EffectNone, effect)
	assert.Equal(t, enums.UserStatusOverduePayment, f.reloadUser(t).Status)
}

func TestApplyProviderStatusUnknownObligation(t *testing.T) {
	f := newFixture(t, at(t, "2024-01-15"))
	_, err := f.svc.ApplyProviderStatus(context.Background(), ProviderStatusUpdate{
		Kind:              enums.ObligationMarinaFee,
		ObligationID:      uuid.New(),
		ProviderPaymentID: "mp-5",
		Status:            enums.ProviderStatusApproved,
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestSweepOverdueAndRecovery(t *testing.T) {
	f := newFixture(t, at(t, "2024-01-15"))
	uv := f.assign(t, 3, 500)
	ctx := context.Background()

	f.clock = at(t, "2024-03-01")
	result, err := f.svc.SweepOverdue(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.InstallmentsFlipped)
	assert.Equal(t, int64(1), result.FeesFlipped)
	assert.Equal(t, 1, result.AssignmentsDefaulted)
	assert.Equal(t, 1, result.UsersRecomputed)

	assert.Equal(t, enums.AssignmentStatusDefaulted, f.reloadAssignment(t, uv.ID).Status)
	// Overdue installments take precedence over overdue marina fees.
	assert.Equal(t, enums.UserStatusOverduePayment, f.reloadUser(t).Status)

	again, err := f.svc.SweepOverdue(ctx)
	require.NoError(t, err)
	assert.Zero(t, again.InstallmentsFlipped)
	assert.Zero(t, again.AssignmentsDefaulted)

	_, err = f.svc.RegisterManualPayment(ctx, ManualPaymentInput{UserVesselID: uv.ID, Kind: enums.ObligationInstallment, Amount: decimal.NewFromInt(2000)})
	require.NoError(t, err)
	assert.Equal(t, enums.UserStatusOverdue, f.reloadUser(t).Status)

	_, err = f.svc.RegisterManualPayment(ctx, ManualPaymentInput{UserVesselID: uv.ID, Kind: enums.ObligationMarinaFee, Amount: decimal.NewFromInt(500)})
	require.NoError(t, err)
	assert.Equal(t, enums.UserStatusActive, f.reloadUser(t).Status)
	assert.Equal(t, enums.AssignmentStatusActive, f.reloadAssignment(t, uv.ID).Status)
	assert.Equal(t, int64(3), f.countEvents(t, enums.EventStandingChanged))
}

func TestBlockedStandingIsSticky(t *testing.T) {
	f := newFixture(t, at(t, "2024-01-15"))
	f.assign(t, 0, 0)
	require.NoError(t, f.db.Model(&models.User{}).Where("id = ?", f.user.ID).Update("status", enums.UserStatusBlocked).Error)

	status, err := f.svc.RecomputeUserStanding(context.Background(), f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.UserStatusBlocked, status)
	assert.Equal(t, enums.UserStatusBlocked, f.reloadUser(t).Status)
}

func TestCreateAssignmentValidation(t *testing.T) {
	f := newFixture(t, at(t, "2024-01-15"))
	ctx := context.Background()

	_, err := f.svc.CreateAssignment(ctx, AssignmentInput{
		UserID:       f.user.ID,
		VesselID:     f.vessel.ID,
		TotalValue:   decimal.NewFromInt(1000),
		DownPayment:  decimal.NewFromInt(2000),
		MarinaDueDay: 10,
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = f.svc.CreateAssignment(ctx, AssignmentInput{
		UserID:       f.user.ID,
		VesselID:     f.vessel.ID,
		TotalValue:   decimal.NewFromInt(1000),
		MarinaDueDay: 31,
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	f.assign(t, 0, 0)
	_, err = f.svc.CreateAssignment(ctx, AssignmentInput{
		UserID:       f.user.ID,
		VesselID:     f.vessel.ID,
		TotalValue:   decimal.NewFromInt(1000),
		MarinaDueDay: 10,
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
}

func TestAdHocChargeAndRecordCheckout(t *testing.T) {
	f := newFixture(t, at(t, "2024-01-15"))
	uv := f.assign(t, 0, 0)
	ctx := context.Background()

	charge, err := f.svc.CreateAdHocCharge(ctx, AdHocChargeInput{
		UserVesselID: uv.ID,
		Description:  "  Fuel refill ",
		Amount:       decimal.RequireFromString("350.50"),
		DueDate:      day("2024-01-30"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Fuel refill", charge.Description)

	require.NoError(t, f.svc.RecordCheckout(ctx, enums.ObligationAdHoc, charge.ID, CheckoutLink{
		PreferenceID: "pref-1",
		CheckoutURL:  "https://mp.example/checkout/pref-1",
	}))
	detail, err := f.svc.Describe(ctx, enums.ObligationAdHoc, charge.ID)
	require.NoError(t, err)
	assert.True(t, detail.Obligation.HasLiveCheckout())
	assert.Equal(t, "Fuel refill", detail.Obligation.Title())
	assert.Equal(t, f.user.ID, detail.User.ID)

	paid, err := f.svc.RegisterManualPayment(ctx, ManualPaymentInput{
		UserVesselID: uv.ID,
		Kind:         enums.ObligationAdHoc,
		Amount:       charge.Amount,
		ObligationID: &charge.ID,
	})
	require.NoError(t, err)
	assert.Nil(t, paid.ProviderPreferenceID)

	detail, err = f.svc.Describe(ctx, enums.ObligationAdHoc, charge.ID)
	require.NoError(t, err)
	assert.False(t, detail.Obligation.HasLiveCheckout())
	assert.Nil(t, detail.Obligation.ProviderCheckoutURL)
	// Ad-hoc charges never touch the share balance.
	assert.True(t, f.reloadAssignment(t, uv.ID).RemainingAmount.Equal(decimal.NewFromInt(6000)))

	err = f.svc.RecordCheckout(ctx, enums.ObligationAdHoc, charge.ID, CheckoutLink{PreferenceID: "pref-2"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
}

func strPtr(v string) *string { return &v }
