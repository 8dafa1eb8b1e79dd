package ledger

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/marina-backend/pkg/dates"
	"github.com/angelmondragon/marina-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marina-backend/pkg/errors"
	"github.com/angelmondragon/marina-backend/pkg/outbox"
	"github.com/angelmondragon/marina-backend/pkg/outbox/payloads"
)

// RecomputeUserStanding derives the member's standing from their overdue
// obligations. Blocked is never cleared here.
func (s *Service) RecomputeUserStanding(ctx context.Context, userID uuid.UUID) (enums.UserStatus, error) {
	var status enums.UserStatus
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		status, err = s.recomputeStanding(ctx, tx, s.repo.WithTx(tx), userID)
		return err
	})
	return status, err
}

func (s *Service) recomputeStanding(ctx context.Context, tx *gorm.DB, repo Repository, userID uuid.UUID) (enums.UserStatus, error) {
	user, err := repo.FindUser(ctx, userID)
	if err != nil {
		return "", notFoundOr(err, "user not found", "load user")
	}
	if user.Status == enums.UserStatusBlocked {
		return user.Status, nil
	}

	assignments, err := repo.ListUserVesselsByUser(ctx, userID)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list assignments")
	}
	ids := make([]uuid.UUID, 0, len(assignments))
	for _, uv := range assignments {
		ids = append(ids, uv.ID)
	}

	next := enums.UserStatusActive
	installments, err := repo.CountOverdue(ctx, enums.ObligationInstallment, ids)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count overdue installments")
	}
	if installments > 0 {
		next = enums.UserStatusOverduePayment
	} else {
		fees, err := repo.CountOverdue(ctx, enums.ObligationMarinaFee, ids)
		if err != nil {
			return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count overdue marina fees")
		}
		if fees > 0 {
			next = enums.UserStatusOverdue
		}
	}

	if next == user.Status {
		return next, nil
	}
	if err := repo.SetUserStatus(ctx, userID, next); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update standing")
	}
	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventStandingChanged,
		AggregateType: enums.AggregateUser,
		AggregateID:   userID,
		Data: payloads.StandingChangedEvent{
			UserID:   userID,
			Previous: user.Status,
			Current:  next,
		},
	}); err != nil {
		return "", err
	}
	return next, nil
}

// SweepResult summarizes one overdue sweep.
type SweepResult struct {
	InstallmentsFlipped  int64
	FeesFlipped          int64
	AssignmentsDefaulted int
	UsersRecomputed      int
	Failures             int
}

// SweepOverdue flips past-due pending installments and marina fees to overdue,
// defaults the assignments holding them and recomputes their members'
// standing. A failure on one member does not stop the others.
func (s *Service) SweepOverdue(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	today := dates.Today(s.now(), s.loc)

	var userIDs []uuid.UUID
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		var err error
		if result.InstallmentsFlipped, err = repo.MarkOverdue(ctx, enums.ObligationInstallment, today); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "flip overdue installments")
		}
		if result.FeesFlipped, err = repo.MarkOverdue(ctx, enums.ObligationMarinaFee, today); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "flip overdue marina fees")
		}

		ids, err := repo.UserVesselsWithOverdue(ctx)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list overdue assignments")
		}
		seen := map[uuid.UUID]struct{}{}
		for _, id := range ids {
			uv, err := repo.FindUserVessel(ctx, id)
			if err != nil {
				return notFoundOr(err, "assignment not found", "load assignment")
			}
			if uv.Status != enums.AssignmentStatusDefaulted {
				if err := repo.UpdateUserVessel(ctx, uv.ID, map[string]any{"status": enums.AssignmentStatusDefaulted}); err != nil {
					return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "default assignment")
				}
				result.AssignmentsDefaulted++
			}
			if _, ok := seen[uv.UserID]; !ok {
				seen[uv.UserID] = struct{}{}
				userIDs = append(userIDs, uv.UserID)
			}
		}
		return nil
	})
	if err != nil {
		return result, err
	}

	var errs error
	for _, userID := range userIDs {
		if _, err := s.RecomputeUserStanding(ctx, userID); err != nil {
			result.Failures++
			errs = multierr.Append(errs, err)
			if s.logg != nil {
				s.logg.Error(s.logg.WithUserID(ctx, userID.String()), "recompute standing failed", err)
			}
			continue
		}
		result.UsersRecomputed++
	}

	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"installments_flipped":  result.InstallmentsFlipped,
			"fees_flipped":          result.FeesFlipped,
			"assignments_defaulted": result.AssignmentsDefaulted,
			"users_recomputed":      result.UsersRecomputed,
			"failures":              result.Failures,
		})
		s.logg.Info(logCtx, "overdue sweep completed")
	}
	return result, errs
}

// RolloverMarinaFees keeps the marina fee horizon materialized for every
// assignment that carries a fee. Paying off the share does not end the fee.
func (s *Service) RolloverMarinaFees(ctx context.Context) (int, error) {
	assignments, err := s.repo.ListUserVesselsByStatus(ctx, nil)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list assignments")
	}
	created := 0
	var errs error
	for _, uv := range assignments {
		if !uv.MarinaFeeAmount.IsPositive() {
			continue
		}
		rows, err := s.GenerateMarinaFees(ctx, uv.ID)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		created += len(rows)
	}
	return created, errs
}
