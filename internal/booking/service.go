package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marina-backend/pkg/config"
	"github.com/angelmondragon/marina-backend/pkg/dates"
	dbpkg "github.com/angelmondragon/marina-backend/pkg/db"
	"github.com/angelmondragon/marina-backend/pkg/db/models"
	"github.com/angelmondragon/marina-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marina-backend/pkg/errors"
	"github.com/angelmondragon/marina-backend/pkg/logger"
	"github.com/angelmondragon/marina-backend/pkg/outbox"
	"github.com/angelmondragon/marina-backend/pkg/outbox/payloads"
)

const (
	activeBookingIndex     = "ux_bookings_vessel_date_active"
	activeWeeklyBlockIndex = "ux_weekly_blocks_active_day"
	maxCalendarWindow      = 366
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Actor identifies who is performing a calendar operation.
type Actor struct {
	UserID  uuid.UUID
	IsAdmin bool
}

// AdmitInput is a request to reserve a vessel for one calendar date.
type AdmitInput struct {
	VesselID uuid.UUID
	UserID   uuid.UUID
	Date     time.Time
	Notes    *string
	Actor    Actor
}

// CancelInput releases a booking's slot.
type CancelInput struct {
	BookingID uuid.UUID
	Reason    *string
	Actor     Actor
}

// CalendarQuery selects an inclusive window of a vessel's calendar.
type CalendarQuery struct {
	VesselID uuid.UUID
	Start    time.Time
	End      time.Time
}

// CalendarView is everything a client needs to render availability.
type CalendarView struct {
	VesselID      uuid.UUID
	Start         time.Time
	End           time.Time
	Bookings      []models.Booking
	BlockedRanges []models.BlockedDateRange
	WeeklyBlocks  []models.WeeklyBlock
}

// ServiceParams groups dependencies for the booking service.
type ServiceParams struct {
	Repo     Repository
	Tx       txRunner
	Outbox   outbox.Emitter
	Logger   *logger.Logger
	Calendar config.CalendarConfig
	Clock    func() time.Time
}

// Service admits, cancels and lists vessel bookings.
type Service struct {
	repo     Repository
	tx       txRunner
	outbox   outbox.Emitter
	logg     *logger.Logger
	loc      *time.Location
	calendar config.CalendarConfig
	now      func() time.Time
}

// NewService builds a booking service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, errors.New("booking repository required")
	}
	if params.Tx == nil {
		return nil, errors.New("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, errors.New("outbox emitter required")
	}
	loc, err := params.Calendar.Location()
	if err != nil {
		return nil, err
	}
	calendar := params.Calendar
	if calendar.LeadTime <= 0 {
		calendar.LeadTime = 24 * time.Hour
	}
	if calendar.DefaultMaxAdvanceDays <= 0 {
		calendar.DefaultMaxAdvanceDays = 62
	}
	if calendar.DefaultMaxActiveBookings <= 0 {
		calendar.DefaultMaxActiveBookings = 2
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		repo:     params.Repo,
		tx:       params.Tx,
		outbox:   params.Outbox,
		logg:     params.Logger,
		loc:      loc,
		calendar: calendar,
		now:      clock,
	}, nil
}

// Admit evaluates the admission rules in order and, when all pass, records the
// booking as approved. The first failing rule determines the error.
func (s *Service) Admit(ctx context.Context, input AdmitInput) (*models.Booking, error) {
	if input.VesselID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "vessel id required")
	}
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if input.Date.IsZero() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "booking date required")
	}

	vessel, err := s.repo.FindVessel(ctx, input.VesselID)
	if err != nil {
		return nil, notFoundOr(err, "vessel not found", "load vessel")
	}
	user, err := s.repo.FindUser(ctx, input.UserID)
	if err != nil {
		return nil, notFoundOr(err, "user not found", "load user")
	}

	now := s.now()
	today := dates.Today(now, s.loc)
	date := calendarDate(input.Date)
	admin := input.Actor.IsAdmin

	if !admin {
		assigned, err := s.repo.HasAssignment(ctx, user.ID, vessel.ID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check vessel assignment")
		}
		if !assigned {
			return nil, reject(ReasonNotAssigned, "user is not assigned to this vessel", nil)
		}
		if !user.Status.AllowsBooking() {
			return nil, reject(ReasonStanding, standingMessage(user.Status), map[string]any{"standing": string(user.Status)})
		}
	}

	if dates.MidnightIn(date, s.loc).Sub(now) < s.calendar.LeadTime {
		return nil, reject(ReasonLeadTime, fmt.Sprintf("bookings require at least %s of notice", formatLead(s.calendar.LeadTime)), nil)
	}
	if date.Before(today) {
		return nil, reject(ReasonPastDate, "booking date is in the past", nil)
	}
	maxAdvance := vessel.MaxAdvanceDays
	if maxAdvance <= 0 {
		maxAdvance = s.calendar.DefaultMaxAdvanceDays
	}
	if dates.DaysBetween(today, date) > maxAdvance {
		return nil, reject(ReasonHorizon, fmt.Sprintf("bookings open at most %d days in advance", maxAdvance), map[string]any{"max_advance_days": maxAdvance})
	}

	blocked, err := s.repo.FindBlockingRange(ctx, vessel.ID, date)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check blocked dates")
	}
	if blocked != nil {
		return nil, reject(ReasonBlockedDate, "vessel is unavailable on this date", map[string]any{"block_reason": string(blocked.Reason)})
	}

	if !admin {
		weekly, err := s.repo.FindActiveWeeklyBlock(ctx, dates.Weekday(date))
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check weekly blocks")
		}
		if weekly != nil {
			return nil, reject(ReasonWeeklyBlock, "bookings are closed on this weekday", map[string]any{"day_of_week": weekly.DayOfWeek})
		}
	}

	maxActive := vessel.MaxActiveBookings
	if maxActive <= 0 {
		maxActive = s.calendar.DefaultMaxActiveBookings
	}

	approvedAt := now.UTC()
	booking := &models.Booking{
		ID:          uuid.New(),
		VesselID:    vessel.ID,
		UserID:      user.ID,
		BookingDate: date,
		Status:      enums.BookingStatusApproved,
		Notes:       trimNotes(input.Notes),
		ApprovedAt:  &approvedAt,
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.LockUser(ctx, user.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock user")
		}

		taken, err := repo.HasActiveBooking(ctx, vessel.ID, date)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check existing booking")
		}
		if taken {
			return reject(ReasonSlotTaken, "date already booked", nil)
		}

		upcoming, err := repo.CountUpcomingActive(ctx, user.ID, vessel.ID, today)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count active bookings")
		}
		if upcoming >= int64(maxActive) {
			// The earliest booking rolls over once its day has started.
			earliest, err := repo.EarliestUpcomingActive(ctx, user.ID, vessel.ID, today)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load earliest active booking")
			}
			if earliest != nil && !dates.MidnightIn(earliest.BookingDate, s.loc).After(now) {
				upcoming--
			}
		}
		if upcoming >= int64(maxActive) {
			return reject(ReasonQuota, fmt.Sprintf("limit of %d active bookings reached", maxActive), map[string]any{"max_active_bookings": maxActive})
		}

		if err := repo.CreateBooking(ctx, booking); err != nil {
			if dbpkg.IsUniqueViolation(err, activeBookingIndex) {
				return reject(ReasonSlotTaken, "date already booked", nil)
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create booking")
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventBookingCreated,
			AggregateType: enums.AggregateBooking,
			AggregateID:   booking.ID,
			Actor:         actorRef(input.Actor),
			Data: payloads.BookingCreatedEvent{
				BookingID:    booking.ID,
				VesselID:     vessel.ID,
				VesselName:   vessel.Name,
				UserID:       user.ID,
				BookingDate:  dates.Format(date),
				ActorIsAdmin: admin,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"booking_id":   booking.ID.String(),
			"vessel_id":    vessel.ID.String(),
			"user_id":      user.ID.String(),
			"booking_date": dates.Format(date),
		})
		s.logg.Info(logCtx, "booking admitted")
	}
	return booking, nil
}

// Cancel releases a booking's slot. Only the owner or an admin may cancel.
func (s *Service) Cancel(ctx context.Context, input CancelInput) (*models.Booking, error) {
	if input.BookingID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "booking id required")
	}

	var cancelled *models.Booking
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		booking, err := repo.FindBooking(ctx, input.BookingID)
		if err != nil {
			return notFoundOr(err, "booking not found", "load booking")
		}
		if !input.Actor.IsAdmin && booking.UserID != input.Actor.UserID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "only the booking owner or an admin may cancel")
		}
		switch booking.Status {
		case enums.BookingStatusCancelled:
			return pkgerrors.New(pkgerrors.CodeConflict, "booking already cancelled")
		case enums.BookingStatusCompleted:
			return pkgerrors.New(pkgerrors.CodeConflict, "completed bookings cannot be cancelled")
		}

		at := s.now().UTC()
		reason := trimNotes(input.Reason)
		if err := repo.MarkCancelled(ctx, booking.ID, reason, at); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel booking")
		}
		booking.Status = enums.BookingStatusCancelled
		booking.CancellationReason = reason
		booking.CancelledAt = &at
		cancelled = booking

		data := payloads.BookingCancelledEvent{
			BookingID:   booking.ID,
			VesselID:    booking.VesselID,
			UserID:      booking.UserID,
			BookingDate: dates.Format(booking.BookingDate),
			CancelledBy: input.Actor.UserID,
		}
		if reason != nil {
			data.Reason = *reason
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventBookingCancelled,
			AggregateType: enums.AggregateBooking,
			AggregateID:   booking.ID,
			Actor:         actorRef(input.Actor),
			Data:          data,
		})
	})
	if err != nil {
		return nil, err
	}
	return cancelled, nil
}

// QueryCalendar returns the non-cancelled bookings, overlapping blocked ranges
// and active weekly blocks for the window.
func (s *Service) QueryCalendar(ctx context.Context, query CalendarQuery) (*CalendarView, error) {
	if query.VesselID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "vessel id required")
	}
	start := calendarDate(query.Start)
	end := calendarDate(query.End)
	if end.Before(start) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "end date must not precede start date")
	}
	if dates.DaysBetween(start, end) > maxCalendarWindow {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("calendar window is limited to %d days", maxCalendarWindow))
	}
	if _, err := s.repo.FindVessel(ctx, query.VesselID); err != nil {
		return nil, notFoundOr(err, "vessel not found", "load vessel")
	}

	bookings, err := s.repo.ListBookings(ctx, query.VesselID, start, end)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list bookings")
	}
	ranges, err := s.repo.ListBlockedRanges(ctx, query.VesselID, start, end)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list blocked ranges")
	}
	weekly, err := s.repo.ListActiveWeeklyBlocks(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list weekly blocks")
	}
	return &CalendarView{
		VesselID:      query.VesselID,
		Start:         start,
		End:           end,
		Bookings:      bookings,
		BlockedRanges: ranges,
		WeeklyBlocks:  weekly,
	}, nil
}

func standingMessage(status enums.UserStatus) string {
	switch status {
	case enums.UserStatusBlocked:
		return "account is blocked"
	case enums.UserStatusOverduePayment:
		return "account has overdue installments"
	case enums.UserStatusOverdue:
		return "account has overdue marina fees"
	default:
		return "account standing does not allow bookings"
	}
}

func formatLead(d time.Duration) string {
	if d%time.Hour == 0 {
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
	return d.String()
}

func trimNotes(notes *string) *string {
	if notes == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*notes)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func actorRef(actor Actor) *outbox.ActorRef {
	if actor.UserID == uuid.Nil {
		return nil
	}
	role := string(enums.UserRoleMember)
	if actor.IsAdmin {
		role = string(enums.UserRoleAdmin)
	}
	return &outbox.ActorRef{UserID: actor.UserID, Role: role}
}

func notFoundOr(err error, notFound, op string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, notFound)
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, op)
}
