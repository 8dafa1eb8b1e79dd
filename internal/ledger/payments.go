package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/marina-backend/pkg/dates"
	"github.com/angelmondragon/marina-backend/pkg/db/models"
	"github.com/angelmondragon/marina-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marina-backend/pkg/errors"
	"github.com/angelmondragon/marina-backend/pkg/outbox"
	"github.com/angelmondragon/marina-backend/pkg/outbox/payloads"
)

const sourceManual = "manual"

// ManualPaymentInput registers money received outside the payment provider.
// ObligationID is optional for installments and marina fees; ad-hoc charges
// must name the charge being paid.
type ManualPaymentInput struct {
	UserVesselID uuid.UUID            `json:"user_vessel_id" validate:"required"`
	Kind         enums.ObligationKind `json:"kind" validate:"required"`
	Amount       decimal.Decimal      `json:"amount" validate:"money_positive"`
	Date         time.Time            `json:"date"`
	Notes        *string              `json:"notes"`
	ObligationID *uuid.UUID           `json:"obligation_id"`
}

// RegisterManualPayment marks the targeted (or earliest outstanding)
// obligation paid and, for installments, decrements the remaining balance.
func (s *Service) RegisterManualPayment(ctx context.Context, input ManualPaymentInput) (*Obligation, error) {
	if !input.Amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be greater than zero")
	}
	if !input.Kind.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid obligation kind")
	}
	if input.UserVesselID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "assignment id required")
	}
	if input.Kind == enums.ObligationAdHoc && input.ObligationID == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "ad-hoc payments must reference a charge")
	}

	now := s.now().UTC()
	paidAt := now
	if !input.Date.IsZero() {
		paidAt = input.Date.UTC()
	}
	amount := input.Amount.Round(2)

	var result *Obligation
	var uv *models.UserVessel
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		var err error
		uv, err = repo.LockUserVessel(ctx, input.UserVesselID)
		if err != nil {
			return notFoundOr(err, "assignment not found", "load assignment")
		}

		obligation, err := s.targetObligation(ctx, repo, uv, input, paidAt)
		if err != nil {
			return err
		}
		if obligation.Status == enums.PaymentStatusPaid {
			return pkgerrors.New(pkgerrors.CodeConflict, "obligation already paid")
		}

		changes := clearedLinkage()
		changes["status"] = enums.PaymentStatusPaid
		changes["payment_date"] = paidAt
		if input.Notes != nil {
			changes["notes"] = appendNote(obligation.Notes, *input.Notes)
		}
		if err := repo.UpdateObligation(ctx, obligation.Kind, obligation.ID, changes); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark obligation paid")
		}
		obligation.Status = enums.PaymentStatusPaid
		obligation.PaymentDate = &paidAt
		obligation.ProviderLinkage = models.ProviderLinkage{}
		if note, ok := changes["notes"].(string); ok {
			obligation.Notes = &note
		}

		if obligation.Kind == enums.ObligationInstallment {
			if err := s.applyBalance(ctx, repo, uv, amount.Neg()); err != nil {
				return err
			}
		} else if err := s.settleAssignment(ctx, repo, uv); err != nil {
			return err
		}

		if err := s.emitPayment(ctx, tx, uv, obligation, amount, sourceManual, paidAt); err != nil {
			return err
		}
		if _, err := s.recomputeStanding(ctx, tx, repo, uv.UserID); err != nil {
			return err
		}
		result = obligation
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"obligation_kind": string(result.Kind),
			"obligation_id":   result.ID.String(),
			"user_vessel_id":  uv.ID.String(),
			"amount":          amount.StringFixed(2),
		})
		s.logg.Info(logCtx, "manual payment registered")
	}
	return result, nil
}

// targetObligation resolves which obligation a manual payment settles,
// synthesizing the next installment or marina fee when nothing is outstanding.
func (s *Service) targetObligation(ctx context.Context, repo Repository, uv *models.UserVessel, input ManualPaymentInput, paidAt time.Time) (*Obligation, error) {
	if input.ObligationID != nil {
		obligation, err := repo.FindObligation(ctx, input.Kind, *input.ObligationID)
		if err != nil {
			return nil, notFoundOr(err, "obligation not found", "load obligation")
		}
		if obligation.UserVesselID != uv.ID {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "obligation not found")
		}
		return obligation, nil
	}

	obligation, err := repo.EarliestOutstanding(ctx, input.Kind, uv.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load outstanding obligation")
	}
	if obligation != nil {
		return obligation, nil
	}

	switch input.Kind {
	case enums.ObligationInstallment:
		next, err := repo.MaxInstallmentNumber(ctx, uv.ID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load installment sequence")
		}
		amount := uv.RemainingAmount
		if uv.TotalInstallments > 0 {
			amount = amount.Div(decimal.NewFromInt(int64(uv.TotalInstallments)))
		}
		row := models.Installment{
			UserVesselID:      uv.ID,
			InstallmentNumber: next + 1,
			Amount:            amount.Round(2),
			DueDate:           dates.Normalize(paidAt, s.loc),
			Status:            enums.PaymentStatusPending,
		}
		if err := repo.CreateInstallment(ctx, &row); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create installment")
		}
		return fromInstallment(row), nil
	case enums.ObligationMarinaFee:
		latest, err := repo.LatestMarinaDueDate(ctx, uv.ID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load marina fees")
		}
		dueDay := uv.MarinaDueDay
		if dueDay <= 0 {
			dueDay = 10
		}
		due := dates.AddMonthsClamped(dates.Normalize(paidAt, s.loc), 0, dueDay)
		if latest != nil {
			due = dates.AddMonthsClamped(latest.UTC(), 1, dueDay)
		}
		row := models.MarinaPayment{
			UserVesselID: uv.ID,
			Amount:       uv.MarinaFeeAmount,
			DueDate:      due,
			Status:       enums.PaymentStatusPending,
		}
		if err := repo.CreateMarinaPayment(ctx, &row); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create marina fee")
		}
		return fromMarinaPayment(row), nil
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "ad-hoc payments must reference a charge")
	}
}

// ApplyProviderStatus reconciles an obligation with the provider's view of a
// payment. Replays of an already-applied status are no-ops.
func (s *Service) ApplyProviderStatus(ctx context.Context, update ProviderStatusUpdate) (Effect, error) {
	if !update.Kind.IsValid() {
		return EffectNone, pkgerrors.New(pkgerrors.CodeValidation, "invalid obligation kind")
	}
	if update.ObligationID == uuid.Nil {
		return EffectNone, pkgerrors.New(pkgerrors.CodeValidation, "obligation id required")
	}
	if update.ProviderPaymentID == "" || update.Status == "" {
		return EffectNone, pkgerrors.New(pkgerrors.CodeValidation, "provider payment id and status required")
	}

	effect := EffectNone
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		located, err := repo.FindObligation(ctx, update.Kind, update.ObligationID)
		if err != nil {
			return notFoundOr(err, "obligation not found", "load obligation")
		}
		uv, err := repo.LockUserVessel(ctx, located.UserVesselID)
		if err != nil {
			return notFoundOr(err, "assignment not found", "load assignment")
		}
		// Re-read under the assignment lock.
		current, err := repo.FindObligation(ctx, update.Kind, update.ObligationID)
		if err != nil {
			return notFoundOr(err, "obligation not found", "load obligation")
		}

		now := s.now().UTC()
		step := applyTransition(current, update, now)
		effect = step.effect
		if step.changes == nil {
			_, err = s.recomputeStanding(ctx, tx, repo, uv.UserID)
			return err
		}
		if err := repo.UpdateObligation(ctx, current.Kind, current.ID, step.changes); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "apply provider status")
		}

		switch step.effect {
		case EffectPaid:
			paidAt, _ := step.changes["payment_date"].(time.Time)
			if current.Kind == enums.ObligationInstallment {
				if err := s.applyBalance(ctx, repo, uv, current.Amount.Neg()); err != nil {
					return err
				}
			} else if err := s.settleAssignment(ctx, repo, uv); err != nil {
				return err
			}
			if err := s.emitPayment(ctx, tx, uv, current, current.Amount, providerName, paidAt); err != nil {
				return err
			}
		case EffectReversed:
			if current.Kind == enums.ObligationInstallment {
				if err := s.applyBalance(ctx, repo, uv, current.Amount); err != nil {
					return err
				}
			}
			if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventPaymentReversed,
				AggregateType: enums.AggregateObligation,
				AggregateID:   current.ID,
				Data: payloads.PaymentReversedEvent{
					ObligationKind: current.Kind,
					ObligationID:   current.ID,
					UserVesselID:   uv.ID,
					UserID:         uv.UserID,
					Amount:         current.Amount.StringFixed(2),
					ProviderStatus: string(update.Status),
				},
			}); err != nil {
				return err
			}
		}

		_, err = s.recomputeStanding(ctx, tx, repo, uv.UserID)
		return err
	})
	if err != nil {
		return EffectNone, err
	}

	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"obligation_kind":     string(update.Kind),
			"obligation_id":       update.ObligationID.String(),
			"provider_payment_id": update.ProviderPaymentID,
			"provider_status":     string(update.Status),
			"effect":              string(effect),
		})
		s.logg.Info(logCtx, "provider status applied")
	}
	return effect, nil
}

// applyBalance moves the remaining amount by delta, keeping it within
// [0, total - down], and derives the assignment status from the result.
func (s *Service) applyBalance(ctx context.Context, repo Repository, uv *models.UserVessel, delta decimal.Decimal) error {
	remaining := uv.RemainingAmount.Add(delta)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	if financed := uv.FinancedAmount(); remaining.GreaterThan(financed) {
		remaining = financed
	}
	uv.RemainingAmount = remaining.Round(2)

	status, err := s.assignmentStatus(ctx, repo, uv)
	if err != nil {
		return err
	}
	changes := map[string]any{"remaining_amount": uv.RemainingAmount}
	if status != uv.Status {
		changes["status"] = status
	}
	if err := repo.UpdateUserVessel(ctx, uv.ID, changes); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update assignment balance")
	}
	uv.Status = status
	return nil
}

// settleAssignment re-derives the assignment status after a non-installment
// payment, which may have cleared the last overdue obligation.
func (s *Service) settleAssignment(ctx context.Context, repo Repository, uv *models.UserVessel) error {
	status, err := s.assignmentStatus(ctx, repo, uv)
	if err != nil {
		return err
	}
	if status == uv.Status {
		return nil
	}
	if err := repo.UpdateUserVessel(ctx, uv.ID, map[string]any{"status": status}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update assignment status")
	}
	uv.Status = status
	return nil
}

func (s *Service) assignmentStatus(ctx context.Context, repo Repository, uv *models.UserVessel) (enums.AssignmentStatus, error) {
	if uv.RemainingAmount.IsZero() {
		return enums.AssignmentStatusPaidOff, nil
	}
	if uv.Status == enums.AssignmentStatusDefaulted {
		overdue, err := s.countOverdue(ctx, repo, []uuid.UUID{uv.ID})
		if err != nil {
			return uv.Status, err
		}
		if overdue > 0 {
			return enums.AssignmentStatusDefaulted, nil
		}
	}
	return enums.AssignmentStatusActive, nil
}

func (s *Service) countOverdue(ctx context.Context, repo Repository, ids []uuid.UUID) (int64, error) {
	var total int64
	for _, kind := range []enums.ObligationKind{enums.ObligationInstallment, enums.ObligationMarinaFee} {
		n, err := repo.CountOverdue(ctx, kind, ids)
		if err != nil {
			return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count overdue obligations")
		}
		total += n
	}
	return total, nil
}

func (s *Service) emitPayment(ctx context.Context, tx *gorm.DB, uv *models.UserVessel, obligation *Obligation, amount decimal.Decimal, source string, paidAt time.Time) error {
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventPaymentRegistered,
		AggregateType: enums.AggregateObligation,
		AggregateID:   obligation.ID,
		Data: payloads.PaymentRegisteredEvent{
			ObligationKind: obligation.Kind,
			ObligationID:   obligation.ID,
			UserVesselID:   uv.ID,
			UserID:         uv.UserID,
			Amount:         amount.StringFixed(2),
			Source:         source,
			PaidAt:         paidAt,
		},
	})
}
