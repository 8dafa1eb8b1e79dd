package booking

import (
	"context"
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
	repo   Repository
	vessel models.Vessel
	member models.User
	admin  models.User
	clock  time.Time
}

func newFixture(t *testing.T, clock time.Time) *fixture {
	t.Helper()
	db := dbtest.New(t)

	f := &fixture{db: db, clock: clock}
	f.vessel = models.Vessel{ID: uuid.New(), Name: "Aurora", MaxAdvanceDays: 62, MaxActiveBookings: 2}
	f.member = models.User{ID: uuid.New(), Name: "Member", Email: "member@example.com", Role: enums.UserRoleMember, Status: enums.UserStatusActive}
	f.admin = models.User{ID: uuid.New(), Name: "Admin", Email: "admin@example.com", Role: enums.UserRoleAdmin, Status: enums.UserStatusActive}
	require.NoError(t, db.Create(&f.vessel).Error)
	require.NoError(t, db.Create(&f.member).Error)
	require.NoError(t, db.Create(&f.admin).Error)
	require.NoError(t, db.Create(&models.UserVessel{
		ID:              uuid.New(),
		UserID:          f.member.ID,
		VesselID:        f.vessel.ID,
		TotalValue:      decimal.NewFromInt(10000),
		DownPayment:     decimal.NewFromInt(4000),
		RemainingAmount: decimal.NewFromInt(6000),
		MarinaFeeAmount: decimal.NewFromInt(500),
		MarinaDueDay:    10,
		Status:          enums.AssignmentStatusActive,
	}).Error)

	f.repo = NewRepository(db)
	f.svc = f.newService(t, f.repo)
	return f
}

func (f *fixture) newService(t *testing.T, repo Repository) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Repo:   repo,
		Tx:     dbtest.TxRunner{DB: f.db},
		Outbox: outbox.NewService(outbox.NewRepository(f.db), nil),
		Calendar: config.CalendarConfig{
			Timezone:                 "America/Sao_Paulo",
			LeadTime:                 24 * time.Hour,
			DefaultMaxAdvanceDays:    62,
			DefaultMaxActiveBookings: 2,
		},
		Clock: func() time.Time { return f.clock },
	})
	require.NoError(t, err)
	return svc
}

func (f *fixture) memberActor() Actor { return Actor{UserID: f.member.ID} }
func (f *fixture) adminActor() Actor  { return Actor{UserID: f.admin.ID, IsAdmin: true} }

func (f *fixture) admit(date string, actor Actor) (*models.Booking, error) {
	return f.svc.Admit(context.Background(), AdmitInput{
		VesselID: f.vessel.ID,
		UserID:   f.member.ID,
		Date:     mustDate(date),
		Actor:    actor,
	})
}

func mustDate(value string) time.Time {
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		panic(err)
	}
	return t
}

func noonSaoPaulo(t *testing.T, date string) time.Time {
	t.Helper()
	loc, err := time.LoadLocation("America/Sao_Paulo")
	require.NoError(t, err)
	d := mustDate(date)
	return time.Date(d.Year(), d.Month(), d.Day(), 12, 0, 0, 0, loc)
}

func assertRejected(t *testing.T, err error, reason RejectionReason, code pkgerrors.Code) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, reason, RejectionReasonOf(err))
	assert.True(t, pkgerrors.IsCode(err, code), "expected code %s, got %v", code, err)
}

func TestAdmitHorizon(t *testing.T) {
	f := newFixture(t, noonSaoPaulo(t, "2024-01-01"))

	_, err := f.admit("2024-03-10", f.memberActor())
	assertRejected(t, err, ReasonHorizon, pkgerrors.CodeValidation)

	booking, err := f.admit("2024-02-15", f.memberActor())
	require.NoError(t, err)
	assert.Equal(t, enums.BookingStatusApproved, booking.Status)
	assert.NotNil(t, booking.ApprovedAt)
	assert.True(t, booking.BookingDate.Equal(mustDate("2024-02-15")))

	var events int64
	require.NoError(t, f.db.Model(&models.OutboxEvent{}).Where("event_type = ?", enums.EventBookingCreated).Count(&events).Error)
	assert.Equal(t, int64(1), events)
}

func TestAdmitHorizonBoundaryIsInclusive(t *testing.T) {
	f := newFixture(t, noonSaoPaulo(t, "2024-01-01"))

	_, err := f.admit("2024-03-03", f.memberActor())
	require.NoError(t, err)

	_, err = f.admit("2024-03-04", f.memberActor())
	assertRejected(t, err, ReasonHorizon, pkgerrors.CodeValidation)
}

func TestAdmitWeeklyBlock(t *testing.T) {
	f := newFixture(t, noonSaoPaulo(t, "2024-01-01"))
	_, err := f.svc.CreateWeeklyBlock(context.Background(), WeeklyBlockInput{DayOfWeek: 1, Reason: enums.BlockReasonMaintenance})
	require.NoError(t, err)

	// 2024-01-15 is a Monday.
	_, err = f.admit("2024-01-15", f.memberActor())
	assertRejected(t, err, ReasonWeeklyBlock, pkgerrors.CodeConflict)

	booking, err := f.admit("2024-01-15", f.adminActor())
	require.NoError(t, err)
	assert.Equal(t, enums.BookingStatusApproved, booking.Status)
}

func TestAdmitLeadTime(t *testing.T) {
	f := newFixture(t, noonSaoPaulo(t, "2024-01-01"))

	_, err := f.admit("2024-01-02", f.memberActor())
	assertRejected(t, err, ReasonLeadTime, pkgerrors.CodeValidation)

	_, err = f.admit("2024-01-03", f.memberActor())
	require.NoError(t, err)
}

func TestAdmitRejectsUnassignedMember(t *testing.T) {
	f := newFixture(t, noonSaoPaulo(t, "2024-01-01"))
	stranger := models.User{ID: uuid.New(), Name: "Stranger", Email: "stranger@example.com", Role: enums.UserRoleMember, Status: enums.UserStatusActive}
	require.NoError(t, f.db.Create(&stranger).Error)

	_, err := f.svc.Admit(context.Background(), AdmitInput{
		VesselID: f.vessel.ID,
		UserID:   stranger.ID,
		Date:     mustDate("2024-01-20"),
		Actor:    Actor{UserID: stranger.ID},
	})
	assertRejected(t, err, ReasonNotAssigned, pkgerrors.CodeForbidden)
}

func TestAdmitRejectsPoorStanding(t *testing.T) {
	for _, status := range []enums.UserStatus{enums.UserStatusOverdue, enums.UserStatusOverduePayment, enums.UserStatusBlocked} {
		t.Run(string(status), func(t *testing.T) {
			f := newFixture(t, noonSaoPaulo(t, "2024-01-01"))
			require.NoError(t, f.db.Model(&models.User{}).Where("id = ?", f.member.ID).Update("status", status).Error)

			_, err := f.admit("2024-01-20", f.memberActor())
			assertRejected(t, err, ReasonStanding, pkgerrors.CodeStandingRejected)

			_, err = f.admit("2024-01-20", f.adminActor())
			require.NoError(t, err)
		})
	}
}

func TestAdmitBlockedRangeAppliesToAdmins(t *testing.T) {
	f := newFixture(t, noonSaoPaulo(t, "2024-01-01"))
	_, err := f.svc.CreateBlockedRange(context.Background(), BlockedRangeInput{
		VesselID:  f.vessel.ID,
		StartDate: mustDate("2024-01-10"),
		EndDate:   mustDate("2024-01-12"),
		Reason:    enums.BlockReasonLottery,
	})
	require.NoError(t, err)

	for _, date := range []string{"2024-01-10", "2024-01-12"} {
		_, err := f.admit(date, f.adminActor())
		assertRejected(t, err, ReasonBlockedDate, pkgerrors.CodeConflict)
	}
	_, err = f.admit("2024-01-13", f.memberActor())
	require.NoError(t, err)
}

func TestAdmitSlotTaken(t *testing.T) {
	f := newFixture(t, noonSaoPaulo(t, "2024-01-01"))
	_, err := f.admit("2024-01-20", f.memberActor())
	require.NoError(t, err)

	_, err = f.admit("2024-01-20", f.adminActor())
	assertRejected(t, err, ReasonSlotTaken, pkgerrors.CodeConflict)
}

type racingRepo struct {
	Repository
}

func (r racingRepo) WithTx(tx *gorm.DB) Repository {
	return racingRepo{Repository: r.Repository.WithTx(tx)}
}

func (racingRepo) HasActiveBooking(context.Context, uuid.UUID, time.Time) (bool, error) {
	return false, nil
}

func TestAdmitUniqueIndexCatchesLostRace(t *testing.T) {
	f := newFixture(t, noonSaoPaulo(t, "2024-01-01"))
	_, err := f.admit("2024-01-20", f.adminActor())
	require.NoError(t, err)

	racing := f.newService(t, racingRepo{Repository: f.repo})
	_, err = racing.Admit(context.Background(), AdmitInput{
		VesselID: f.vessel.ID,
		UserID:   f.admin.ID,
		Date:     mustDate("2024-01-20"),
		Actor:    f.adminActor(),
	})
	assertRejected(t, err, ReasonSlotTaken, pkgerrors.CodeConflict)
}

func (racingRepo) FindActiveWeeklyBlock(context.Context, int) (*models.WeeklyBlock, error) {
	return nil, nil
}

func TestCreateWeeklyBlockLostRaceIsConflict(t *testing.T) {
	f := newFixture(t, noonSaoPaulo(t, "2024-01-01"))
	_, err := f.svc.CreateWeeklyBlock(context.Background(), WeeklyBlockInput{DayOfWeek: 3, Reason: enums.BlockReasonMaintenance})
	require.NoError(t, err)

	racing := f.newService(t, racingRepo{Repository: f.repo})
	_, err = racing.CreateWeeklyBlock(context.Background(), WeeklyBlockInput{DayOfWeek: 3, Reason: enums.BlockReasonEvent})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict), "got %v", err)
}

func TestAdmitQuotaAndRollover(t *testing.T) {
	f := newFixture(t, noonSaoPaulo(t, "2024-01-01"))
	_, err := f.admit("2024-01-05", f.memberActor())
	require.NoError(t, err)
	_, err = f.admit("2024-01-20", f.memberActor())
	require.NoError(t, err)

	_, err = f.admit("2024-01-25", f.memberActor())
	assertRejected(t, err, ReasonQuota, pkgerrors.CodeConflict)

	// Once the earliest booking's date has passed the slot frees up.
	f.clock = noonSaoPaulo(t, "2024-01-06")
	_, err = f.admit("2024-01-25", f.memberActor())
	require.NoError(t, err)
}

func TestAdmitQuotaRollsOverBookingDatedToday(t *testing.T) {
	f := newFixture(t, noonSaoPaulo(t, "2024-01-01"))
	_, err := f.admit("2024-01-06", f.memberActor())
	require.NoError(t, err)
	_, err = f.admit("2024-01-20", f.memberActor())
	require.NoError(t, err)

	f.clock = noonSaoPaulo(t, "2024-01-06")
	_, err = f.admit("2024-01-25", f.memberActor())
	require.NoError(t, err)

	// Only the booking already under way rolls over.
	_, err = f.admit("2024-01-27", f.memberActor())
	assertRejected(t, err, ReasonQuota, pkgerrors.CodeConflict)
}

func TestAdmitCancelledBookingsDoNotCount(t *testing.T) {
	f := newFixture(t, noonSaoPaulo(t, "2024-01-01"))
	first, err := f.admit("2024-01-05", f.memberActor())
	require.NoError(t, err)
	_, err = f.admit("2024-01-20", f.memberActor())
	require.NoError(t, err)

	_, err = f.svc.Cancel(context.Background(), CancelInput{BookingID: first.ID, Actor: f.memberActor()})
	require.NoError(t, err)

	_, err = f.admit("2024-01-25", f.memberActor())
	require.NoError(t, err)
	// The cancelled date is free again.
	_, err = f.svc.Admit(context.Background(), AdmitInput{
		VesselID: f.vessel.ID,
		UserID:   f.admin.ID,
		Date:     mustDate("2024-01-05"),
		Actor:    f.adminActor(),
	})
	require.NoError(t, err)
}

func TestCancel(t *testing.T) {
	f := newFixture(t, noonSaoPaulo(t, "2024-01-01"))
	booking, err := f.admit("2024-01-20", f.memberActor())
	require.NoError(t, err)

	_, err = f.svc.Cancel(context.Background(), CancelInput{BookingID: booking.ID, Actor: Actor{UserID: uuid.New()}})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	reason := "  weather  "
	cancelled, err := f.svc.Cancel(context.Background(), CancelInput{BookingID: booking.ID, Actor: f.memberActor(), Reason: &reason})
	require.NoError(t, err)
	assert.Equal(t, enums.BookingStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancellationReason)
	assert.Equal(t, "weather", *cancelled.CancellationReason)
	assert.NotNil(t, cancelled.CancelledAt)

	_, err = f.svc.Cancel(context.Background(), CancelInput{BookingID: booking.ID, Actor: f.adminActor()})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))

	_, err = f.svc.Cancel(context.Background(), CancelInput{BookingID: uuid.New(), Actor: f.adminActor()})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestCancelCompletedBooking(t *testing.T) {
	f := newFixture(t, noonSaoPaulo(t, "2024-01-01"))
	booking, err := f.admit("2024-01-20", f.memberActor())
	require.NoError(t, err)
	require.NoError(t, f.db.Model(&models.Booking{}).Where("id = ?", booking.ID).Update("status", enums.BookingStatusCompleted).Error)

	_, err = f.svc.Cancel(context.Background(), CancelInput{BookingID: booking.ID, Actor: f.adminActor()})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
}

func TestQueryCalendar(t *testing.T) {
	f := newFixture(t, noonSaoPaulo(t, "2024-01-01"))
	ctx := context.Background()
	_, err := f.admit("2024-01-10", f.memberActor())
	require.NoError(t, err)
	cancelled, err := f.admit("2024-01-11", f.adminActor())
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, CancelInput{BookingID: cancelled.ID, Actor: f.adminActor()})
	require.NoError(t, err)
	_, err = f.admit("2024-02-20", f.adminActor())
	require.NoError(t, err)

	_, err = f.svc.CreateBlockedRange(ctx, BlockedRangeInput{
		VesselID:  f.vessel.ID,
		StartDate: mustDate("2023-12-28"),
		EndDate:   mustDate("2024-01-02"),
		Reason:    enums.BlockReasonMaintenance,
	})
	require.NoError(t, err)
	_, err = f.svc.CreateWeeklyBlock(ctx, WeeklyBlockInput{DayOfWeek: 2, Reason: enums.BlockReasonEvent})
	require.NoError(t, err)

	view, err := f.svc.QueryCalendar(ctx, CalendarQuery{VesselID: f.vessel.ID, Start: mustDate("2024-01-01"), End: mustDate("2024-01-31")})
	require.NoError(t, err)
	require.Len(t, view.Bookings, 1)
	assert.True(t, view.Bookings[0].BookingDate.Equal(mustDate("2024-01-10")))
	assert.Len(t, view.BlockedRanges, 1)
	require.Len(t, view.WeeklyBlocks, 1)
	assert.Equal(t, 2, view.WeeklyBlocks[0].DayOfWeek)

	_, err = f.svc.QueryCalendar(ctx, CalendarQuery{VesselID: f.vessel.ID, Start: mustDate("2024-02-01"), End: mustDate("2024-01-01")})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = f.svc.QueryCalendar(ctx, CalendarQuery{VesselID: f.vessel.ID, Start: mustDate("2024-01-01"), End: mustDate("2025-06-01")})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(ServiceParams{})
	require.Error(t, err)
}
