package booking

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/marina-backend/pkg/db"
	"github.com/angelmondragon/marina-backend/pkg/db/models"
	"github.com/angelmondragon/marina-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marina-backend/pkg/errors"
	"github.com/angelmondragon/marina-backend/pkg/validation"
)

// BlockedRangeInput closes an inclusive span of dates on one vessel.
type BlockedRangeInput struct {
	VesselID  uuid.UUID         `json:"vessel_id" validate:"required"`
	StartDate time.Time         `json:"start_date" validate:"required"`
	EndDate   time.Time         `json:"end_date" validate:"required"`
	Reason    enums.BlockReason `json:"reason" validate:"required"`
	Notes     *string           `json:"notes"`
}

// WeeklyBlockInput closes a weekday for non-admin members.
type WeeklyBlockInput struct {
	DayOfWeek int               `json:"day_of_week" validate:"gte=0,lte=6"`
	Reason    enums.BlockReason `json:"reason" validate:"required"`
	Notes     *string           `json:"notes"`
}

// CreateBlockedRange stores a maintenance, lottery or event block. Existing
// bookings inside the range are left untouched.
func (s *Service) CreateBlockedRange(ctx context.Context, input BlockedRangeInput) (*models.BlockedDateRange, error) {
	if err := validation.Struct(input); err != nil {
		return nil, err
	}
	if !input.Reason.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid block reason")
	}
	start := calendarDate(input.StartDate)
	end := calendarDate(input.EndDate)
	if end.Before(start) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "end date must not precede start date")
	}
	if _, err := s.repo.FindVessel(ctx, input.VesselID); err != nil {
		return nil, notFoundOr(err, "vessel not found", "load vessel")
	}

	block := &models.BlockedDateRange{
		VesselID:  input.VesselID,
		StartDate: start,
		EndDate:   end,
		Reason:    input.Reason,
		Notes:     trimNotes(input.Notes),
	}
	if err := s.repo.CreateBlockedRange(ctx, block); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create blocked range")
	}
	return block, nil
}

// DeleteBlockedRange reopens the dates covered by a block.
func (s *Service) DeleteBlockedRange(ctx context.Context, id uuid.UUID) error {
	deleted, err := s.repo.DeleteBlockedRange(ctx, id)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete blocked range")
	}
	if !deleted {
		return pkgerrors.New(pkgerrors.CodeNotFound, "blocked range not found")
	}
	return nil
}

// CreateWeeklyBlock adds an active block for a weekday. At most one active
// block may exist per weekday.
func (s *Service) CreateWeeklyBlock(ctx context.Context, input WeeklyBlockInput) (*models.WeeklyBlock, error) {
	if err := validation.Struct(input); err != nil {
		return nil, err
	}
	if !input.Reason.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid block reason")
	}

	block := &models.WeeklyBlock{
		DayOfWeek: input.DayOfWeek,
		Reason:    input.Reason,
		Notes:     trimNotes(input.Notes),
		IsActive:  true,
	}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		existing, err := repo.FindActiveWeeklyBlock(ctx, input.DayOfWeek)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check weekly blocks")
		}
		if existing != nil {
			return pkgerrors.New(pkgerrors.CodeConflict, "weekday already has an active block").
				WithDetails(map[string]any{"weekly_block_id": existing.ID.String()})
		}
		if err := repo.CreateWeeklyBlock(ctx, block); err != nil {
			if dbpkg.IsUniqueViolation(err, activeWeeklyBlockIndex) {
				return pkgerrors.New(pkgerrors.CodeConflict, "weekday already has an active block")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create weekly block")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return block, nil
}

// SetWeeklyBlockActive toggles a weekly block without deleting it.
func (s *Service) SetWeeklyBlockActive(ctx context.Context, id uuid.UUID, active bool) (*models.WeeklyBlock, error) {
	var updated *models.WeeklyBlock
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		block, err := repo.FindWeeklyBlock(ctx, id)
		if err != nil {
			return notFoundOr(err, "weekly block not found", "load weekly block")
		}
		if block.IsActive == active {
			updated = block
			return nil
		}
		if active {
			existing, err := repo.FindActiveWeeklyBlock(ctx, block.DayOfWeek)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check weekly blocks")
			}
			if existing != nil {
				return pkgerrors.New(pkgerrors.CodeConflict, "weekday already has an active block")
			}
		}
		if err := repo.SetWeeklyBlockActive(ctx, id, active); err != nil {
			if dbpkg.IsUniqueViolation(err, activeWeeklyBlockIndex) {
				return pkgerrors.New(pkgerrors.CodeConflict, "weekday already has an active block")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update weekly block")
		}
		block.IsActive = active
		updated = block
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteWeeklyBlock removes a weekly block permanently.
func (s *Service) DeleteWeeklyBlock(ctx context.Context, id uuid.UUID) error {
	deleted, err := s.repo.DeleteWeeklyBlock(ctx, id)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete weekly block")
	}
	if !deleted {
		return pkgerrors.New(pkgerrors.CodeNotFound, "weekly block not found")
	}
	return nil
}

func calendarDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

