package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/marina-backend/pkg/config"
	"github.com/angelmondragon/marina-backend/pkg/dates"
	dbpkg "github.com/angelmondragon/marina-backend/pkg/db"
	"github.com/angelmondragon/marina-backend/pkg/db/models"
	"github.com/angelmondragon/marina-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marina-backend/pkg/errors"
	"github.com/angelmondragon/marina-backend/pkg/logger"
	"github.com/angelmondragon/marina-backend/pkg/outbox"
	"github.com/angelmondragon/marina-backend/pkg/validation"
)

const defaultFeeHorizonMonths = 12

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ServiceParams groups dependencies for the ledger service.
type ServiceParams struct {
	Repo     Repository
	Tx       txRunner
	Outbox   outbox.Emitter
	Logger   *logger.Logger
	Ledger   config.LedgerConfig
	Calendar config.CalendarConfig
	Clock    func() time.Time
}

// Service owns obligations, balances and member standing.
type Service struct {
	repo          Repository
	tx            txRunner
	outbox        outbox.Emitter
	logg          *logger.Logger
	loc           *time.Location
	horizonMonths int
	now           func() time.Time
}

// NewService builds a ledger service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, errors.New("ledger repository required")
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
	horizon := params.Ledger.MarinaFeeHorizonMonths
	if horizon <= 0 {
		horizon = defaultFeeHorizonMonths
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		repo:          params.Repo,
		tx:            params.Tx,
		outbox:        params.Outbox,
		logg:          params.Logger,
		loc:           loc,
		horizonMonths: horizon,
		now:           clock,
	}, nil
}

// AssignmentInput links a member to a vessel share.
type AssignmentInput struct {
	UserID            uuid.UUID       `json:"user_id" validate:"required"`
	VesselID          uuid.UUID       `json:"vessel_id" validate:"required"`
	TotalValue        decimal.Decimal `json:"total_value" validate:"money_positive"`
	DownPayment       decimal.Decimal `json:"down_payment" validate:"money_nonnegative"`
	TotalInstallments int             `json:"total_installments" validate:"gte=0,lte=360"`
	MarinaFeeAmount   decimal.Decimal `json:"marina_fee_amount" validate:"money_nonnegative"`
	MarinaDueDay      int             `json:"marina_due_day" validate:"gte=1,lte=28"`
}

// CreateAssignment stores the share terms, generates the installment schedule
// for the financed amount and materializes the marina fee horizon.
func (s *Service) CreateAssignment(ctx context.Context, input AssignmentInput) (*models.UserVessel, error) {
	if err := validation.Struct(input); err != nil {
		return nil, err
	}
	if input.DownPayment.GreaterThan(input.TotalValue) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "down payment cannot exceed total value")
	}
	if _, err := s.repo.FindUser(ctx, input.UserID); err != nil {
		return nil, notFoundOr(err, "user not found", "load user")
	}
	if _, err := s.repo.FindVessel(ctx, input.VesselID); err != nil {
		return nil, notFoundOr(err, "vessel not found", "load vessel")
	}

	financed := input.TotalValue.Sub(input.DownPayment)
	status := enums.AssignmentStatusActive
	if financed.IsZero() {
		status = enums.AssignmentStatusPaidOff
	}
	uv := &models.UserVessel{
		UserID:            input.UserID,
		VesselID:          input.VesselID,
		TotalValue:        input.TotalValue.Round(2),
		DownPayment:       input.DownPayment.Round(2),
		RemainingAmount:   financed.Round(2),
		TotalInstallments: input.TotalInstallments,
		MarinaFeeAmount:   input.MarinaFeeAmount.Round(2),
		MarinaDueDay:      input.MarinaDueDay,
		Status:            status,
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.CreateUserVessel(ctx, uv); err != nil {
			if dbpkg.IsUniqueViolation(err, "") {
				return pkgerrors.New(pkgerrors.CodeConflict, "user is already assigned to this vessel")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create assignment")
		}
		if input.TotalInstallments > 0 && financed.IsPositive() {
			if _, err := s.replaceSchedule(ctx, repo, uv, financed, input.TotalInstallments); err != nil {
				return err
			}
		}
		if uv.MarinaFeeAmount.IsPositive() {
			if _, err := s.materializeMarinaFees(ctx, repo, uv); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return uv, nil
}

// GenerateSchedule replaces every installment of the assignment with count
// monthly installments summing exactly to total. The first falls due one month
// after generation.
func (s *Service) GenerateSchedule(ctx context.Context, userVesselID uuid.UUID, total decimal.Decimal, count int) ([]models.Installment, error) {
	if !total.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "total amount must be greater than zero")
	}
	if count <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "installment count must be at least 1")
	}
	var rows []models.Installment
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		uv, err := repo.LockUserVessel(ctx, userVesselID)
		if err != nil {
			return notFoundOr(err, "assignment not found", "load assignment")
		}
		rows, err = s.replaceSchedule(ctx, repo, uv, total, count)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *Service) replaceSchedule(ctx context.Context, repo Repository, uv *models.UserVessel, total decimal.Decimal, count int) ([]models.Installment, error) {
	today := dates.Today(s.now(), s.loc)
	amounts := splitEvenly(total, count)
	rows := make([]models.Installment, count)
	for i := range rows {
		rows[i] = models.Installment{
			UserVesselID:      uv.ID,
			InstallmentNumber: i + 1,
			Amount:            amounts[i],
			DueDate:           dates.AddMonthsClamped(today, i+1, today.Day()),
			Status:            enums.PaymentStatusPending,
		}
	}
	if err := repo.ReplaceInstallments(ctx, uv.ID, rows); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "replace installments")
	}
	if uv.TotalInstallments != count {
		if err := repo.UpdateUserVessel(ctx, uv.ID, map[string]any{"total_installments": count}); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update installment count")
		}
		uv.TotalInstallments = count
	}
	return rows, nil
}

// splitEvenly divides total into count cent amounts; the last absorbs the
// rounding remainder so the parts always sum to total.
func splitEvenly(total decimal.Decimal, count int) []decimal.Decimal {
	total = total.Round(2)
	share := total.Div(decimal.NewFromInt(int64(count))).RoundDown(2)
	parts := make([]decimal.Decimal, count)
	allocated := decimal.Zero
	for i := 0; i < count-1; i++ {
		parts[i] = share
		allocated = allocated.Add(share)
	}
	parts[count-1] = total.Sub(allocated)
	return parts
}

// GenerateMarinaFees materializes the configured horizon of monthly marina
// fees, skipping months that already have a row. It returns the rows created.
func (s *Service) GenerateMarinaFees(ctx context.Context, userVesselID uuid.UUID) ([]models.MarinaPayment, error) {
	var created []models.MarinaPayment
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		uv, err := repo.FindUserVessel(ctx, userVesselID)
		if err != nil {
			return notFoundOr(err, "assignment not found", "load assignment")
		}
		created, err = s.materializeMarinaFees(ctx, repo, uv)
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *Service) materializeMarinaFees(ctx context.Context, repo Repository, uv *models.UserVessel) ([]models.MarinaPayment, error) {
	if !uv.MarinaFeeAmount.IsPositive() {
		return nil, nil
	}
	dueDay := uv.MarinaDueDay
	if dueDay <= 0 {
		dueDay = 10
	}
	today := dates.Today(s.now(), s.loc)
	first := dates.AddMonthsClamped(today, 0, dueDay)
	if first.Before(today) {
		first = dates.AddMonthsClamped(today, 1, dueDay)
	}
	last := dates.AddMonthsClamped(first, s.horizonMonths-1, dueDay)

	existing, err := repo.MarinaDueDates(ctx, uv.ID, first, last)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load marina fees")
	}

	var created []models.MarinaPayment
	for i := 0; i < s.horizonMonths; i++ {
		due := dates.AddMonthsClamped(first, i, dueDay)
		if _, ok := existing[dates.Format(due)]; ok {
			continue
		}
		row := models.MarinaPayment{
			UserVesselID: uv.ID,
			Amount:       uv.MarinaFeeAmount,
			DueDate:      due,
			Status:       enums.PaymentStatusPending,
		}
		if err := repo.CreateMarinaPayment(ctx, &row); err != nil {
			if dbpkg.IsUniqueViolation(err, "ux_marina_payments_due") {
				continue
			}
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create marina fee")
		}
		created = append(created, row)
	}
	return created, nil
}

// AdHocChargeInput describes a one-off charge against an assignment.
type AdHocChargeInput struct {
	UserVesselID uuid.UUID       `json:"user_vessel_id" validate:"required"`
	Description  string          `json:"description" validate:"required,max=255"`
	Amount       decimal.Decimal `json:"amount" validate:"money_positive"`
	DueDate      time.Time       `json:"due_date" validate:"required"`
	Notes        *string         `json:"notes"`
}

// CreateAdHocCharge records a repair, fuel or similar one-off charge.
func (s *Service) CreateAdHocCharge(ctx context.Context, input AdHocChargeInput) (*models.AdHocCharge, error) {
	input.Description = strings.TrimSpace(input.Description)
	if err := validation.Struct(input); err != nil {
		return nil, err
	}
	if _, err := s.repo.FindUserVessel(ctx, input.UserVesselID); err != nil {
		return nil, notFoundOr(err, "assignment not found", "load assignment")
	}
	row := &models.AdHocCharge{
		UserVesselID: input.UserVesselID,
		Description:  input.Description,
		Amount:       input.Amount.Round(2),
		DueDate:      calendarDate(input.DueDate),
		Status:       enums.PaymentStatusPending,
		Notes:        input.Notes,
	}
	if err := s.repo.CreateAdHocCharge(ctx, row); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create charge")
	}
	return row, nil
}

// ObligationDetail bundles an obligation with the assignment and member it
// belongs to.
type ObligationDetail struct {
	Obligation *Obligation
	Assignment *models.UserVessel
	User       *models.User
}

// Describe loads an obligation together with its owner.
func (s *Service) Describe(ctx context.Context, kind enums.ObligationKind, id uuid.UUID) (*ObligationDetail, error) {
	if !kind.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid obligation kind")
	}
	obligation, err := s.repo.FindObligation(ctx, kind, id)
	if err != nil {
		return nil, notFoundOr(err, "obligation not found", "load obligation")
	}
	uv, err := s.repo.FindUserVessel(ctx, obligation.UserVesselID)
	if err != nil {
		return nil, notFoundOr(err, "assignment not found", "load assignment")
	}
	user, err := s.repo.FindUser(ctx, uv.UserID)
	if err != nil {
		return nil, notFoundOr(err, "user not found", "load user")
	}
	return &ObligationDetail{Obligation: obligation, Assignment: uv, User: user}, nil
}

// CheckoutLink is what the provider returned for a new checkout or charge.
type CheckoutLink struct {
	PreferenceID string
	PaymentID    string
	CheckoutURL  string
	Status       enums.ProviderPaymentStatus
	Metadata     json.RawMessage
}

// RecordCheckout stores the provider references of a checkout created for an
// obligation. The obligation status is untouched until the provider reports.
func (s *Service) RecordCheckout(ctx context.Context, kind enums.ObligationKind, id uuid.UUID, link CheckoutLink) error {
	if !kind.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid obligation kind")
	}
	status := link.Status
	if status == "" {
		status = enums.ProviderStatusPending
	}
	changes := map[string]any{
		"payment_provider":       providerName,
		"provider_preference_id": nullable(link.PreferenceID),
		"provider_payment_id":    nullable(link.PaymentID),
		"provider_checkout_url":  nullable(link.CheckoutURL),
		"provider_status":        string(status),
		"provider_status_detail": nil,
	}
	if len(link.Metadata) > 0 {
		changes["provider_metadata"] = []byte(link.Metadata)
	}
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		obligation, err := repo.FindObligation(ctx, kind, id)
		if err != nil {
			return notFoundOr(err, "obligation not found", "load obligation")
		}
		if obligation.Status == enums.PaymentStatusPaid {
			return pkgerrors.New(pkgerrors.CodeConflict, "obligation already paid")
		}
		if err := repo.UpdateObligation(ctx, kind, id, changes); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store checkout")
		}
		return nil
	})
}

func calendarDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func notFoundOr(err error, notFound, op string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, notFound)
	}
	if typed := pkgerrors.As(err); typed != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, op)
}
