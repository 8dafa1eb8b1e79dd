package billing

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/marina-backend/pkg/db/models"
	"github.com/angelmondragon/marina-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marina-backend/pkg/errors"
	"github.com/angelmondragon/marina-backend/pkg/validation"
)

// ServiceParams groups dependencies for the billing service.
type ServiceParams struct {
	Repo Repository
}

// Service manages subscription plans.
type Service struct {
	repo Repository
}

// NewService builds a billing service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, errors.New("repo is required")
	}
	return &Service{repo: params.Repo}, nil
}

// PlanInput describes a recurring membership charge.
type PlanInput struct {
	Name                string              `json:"name" validate:"required,max=120"`
	Amount              decimal.Decimal     `json:"amount" validate:"money_positive"`
	Frequency           int                 `json:"frequency" validate:"min=1,max=365"`
	FrequencyType       enums.FrequencyType `json:"frequency_type" validate:"required"`
	TrialDays           int                 `json:"trial_days" validate:"min=0,max=365"`
	BillingDay          *int                `json:"billing_day" validate:"omitempty,min=1,max=28"`
	LateInterestPercent decimal.Decimal     `json:"late_interest_percent" validate:"money_nonnegative"`
	PenaltyPercent      decimal.Decimal     `json:"penalty_percent" validate:"money_nonnegative"`
}

// CreatePlan validates and stores a new active plan.
func (s *Service) CreatePlan(ctx context.Context, input PlanInput) (*models.SubscriptionPlan, error) {
	if err := validation.Struct(input); err != nil {
		return nil, err
	}
	if !input.FrequencyType.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid frequency type")
	}
	plan := &models.SubscriptionPlan{
		Name:                strings.TrimSpace(input.Name),
		Amount:              input.Amount.Round(2),
		Frequency:           input.Frequency,
		FrequencyType:       input.FrequencyType,
		TrialDays:           input.TrialDays,
		BillingDay:          input.BillingDay,
		LateInterestPercent: input.LateInterestPercent,
		PenaltyPercent:      input.PenaltyPercent,
		IsActive:            true,
	}
	if err := s.repo.CreatePlan(ctx, plan); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create plan")
	}
	return plan, nil
}

// ListPlans returns plans ordered by name.
func (s *Service) ListPlans(ctx context.Context, activeOnly bool) ([]models.SubscriptionPlan, error) {
	plans, err := s.repo.ListPlans(ctx, ListPlansQuery{ActiveOnly: activeOnly})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list plans")
	}
	return plans, nil
}

// SetPlanActive toggles whether a plan is billed. Inactive plans keep their
// subscriptions but the scheduler skips them.
func (s *Service) SetPlanActive(ctx context.Context, id uuid.UUID, active bool) error {
	if id == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "plan id is required")
	}
	if err := s.repo.SetPlanActive(ctx, id, active); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "plan not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update plan")
	}
	return nil
}
