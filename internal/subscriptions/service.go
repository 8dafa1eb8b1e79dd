package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marina-backend/internal/billing"
	"github.com/angelmondragon/marina-backend/pkg/config"
	"github.com/angelmondragon/marina-backend/pkg/dates"
	"github.com/angelmondragon/marina-backend/pkg/db/models"
	"github.com/angelmondragon/marina-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marina-backend/pkg/errors"
	"github.com/angelmondragon/marina-backend/pkg/logger"
	"github.com/angelmondragon/marina-backend/pkg/mercadopago"
	"github.com/angelmondragon/marina-backend/pkg/outbox"
	"github.com/angelmondragon/marina-backend/pkg/outbox/payloads"
)

const defaultPixExpiry = 72 * time.Hour

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type chargeProvider interface {
	CreatePixPayment(ctx context.Context, req mercadopago.PixRequest) (*mercadopago.PixCharge, error)
}

// Service defines the subscription lifecycle surface.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.Subscription, bool, error)
	Cancel(ctx context.Context, id uuid.UUID) error
	Get(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Subscription, error)
	ApplyChargeStatus(ctx context.Context, id uuid.UUID, update ChargeStatusUpdate) (bool, error)
	RunBilling(ctx context.Context) (BillingResult, error)
}

// ServiceParams groups dependencies for the subscription service.
type ServiceParams struct {
	Repo        billing.Repository
	Tx          txRunner
	Outbox      outbox.Emitter
	Provider    chargeProvider
	Logger      *logger.Logger
	MercadoPago config.MercadoPagoConfig
	Calendar    config.CalendarConfig
	BatchLimit  int
	Clock       func() time.Time
}

// CreateInput enrolls a member in a plan.
type CreateInput struct {
	UserID uuid.UUID
	PlanID uuid.UUID
}

// ChargeStatusUpdate is the provider state of a subscription charge.
type ChargeStatusUpdate struct {
	ProviderPaymentID string
	Status            enums.ProviderPaymentStatus
	StatusDetail      string
	PaidAt            *time.Time
}

type service struct {
	repo            billing.Repository
	tx              txRunner
	outbox          outbox.Emitter
	provider        chargeProvider
	logg            *logger.Logger
	loc             *time.Location
	pixExpiry       time.Duration
	notificationURL string
	batchLimit      int
	now             func() time.Time
}

// NewService builds a subscription service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("billing repo required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if params.Provider == nil {
		return nil, fmt.Errorf("charge provider required")
	}
	loc, err := params.Calendar.Location()
	if err != nil {
		return nil, err
	}
	expiry := params.MercadoPago.PixExpiry
	if expiry <= 0 {
		expiry = defaultPixExpiry
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &service{
		repo:            params.Repo,
		tx:              params.Tx,
		outbox:          params.Outbox,
		provider:        params.Provider,
		logg:            params.Logger,
		loc:             loc,
		pixExpiry:       expiry,
		notificationURL: strings.TrimSpace(params.MercadoPago.NotificationURL),
		batchLimit:      params.BatchLimit,
		now:             clock,
	}, nil
}

// Create returns the member's open subscription to the plan or starts a new
// one whose first charge falls after the trial.
func (s *service) Create(ctx context.Context, input CreateInput) (*models.Subscription, bool, error) {
	if input.UserID == uuid.Nil {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if input.PlanID == uuid.Nil {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "plan id is required")
	}

	var (
		created *models.Subscription
		fresh   bool
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		plan, err := repo.FindPlan(ctx, input.PlanID)
		if err != nil {
			return notFoundOr(err, "plan not found", "load plan")
		}
		if !plan.IsActive {
			return pkgerrors.New(pkgerrors.CodeConflict, "plan is not active")
		}
		if _, err := repo.FindUser(ctx, input.UserID); err != nil {
			return notFoundOr(err, "user not found", "load user")
		}

		existing, err := repo.FindOpenSubscription(ctx, input.UserID, input.PlanID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
		}
		if existing != nil {
			existing.Plan = plan
			created = existing
			return nil
		}

		today := dates.Today(s.now(), s.loc)
		next := dates.MidnightIn(firstChargeDate(*plan, today), s.loc).UTC()
		metadata, err := chargeMetadata{}.encode()
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode subscription metadata")
		}
		sub := &models.Subscription{
			ID:             uuid.New(),
			UserID:         input.UserID,
			PlanID:         plan.ID,
			Status:         enums.SubscriptionStatusPending,
			NextChargeDate: &next,
			Metadata:       metadata,
		}
		if err := repo.CreateSubscription(ctx, sub); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create subscription")
		}
		sub.Plan = plan
		created = sub
		fresh = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	if fresh && s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"subscription_id":  created.ID.String(),
			"user_id":          created.UserID.String(),
			"next_charge_date": created.NextChargeDate.Format(time.RFC3339),
		})
		s.logg.Info(logCtx, "subscription created")
	}
	return created, fresh, nil
}

// Cancel stops future billing. Cancelling twice is a no-op.
func (s *service) Cancel(ctx context.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "subscription id is required")
	}
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		sub, err := repo.LockSubscription(ctx, id)
		if err != nil {
			return notFoundOr(err, "subscription not found", "load subscription")
		}
		if sub.Status == enums.SubscriptionStatusCancelled {
			return nil
		}
		if err := repo.UpdateSubscription(ctx, id, map[string]any{
			"status":           enums.SubscriptionStatusCancelled,
			"next_charge_date": nil,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel subscription")
		}
		return nil
	})
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	sub, err := s.repo.FindSubscription(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, "subscription not found", "load subscription")
	}
	return sub, nil
}

func (s *service) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Subscription, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	subs, err := s.repo.ListSubscriptionsByUser(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list subscriptions")
	}
	return subs, nil
}

// ApplyChargeStatus records the provider outcome of the current charge. It
// reports whether anything changed; replays and notifications for charges
// that were already closed are no-ops.
func (s *service) ApplyChargeStatus(ctx context.Context, id uuid.UUID, update ChargeStatusUpdate) (bool, error) {
	if update.Status == "" {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "provider status required")
	}
	now := s.now().UTC()
	changed := false
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		sub, err := repo.LockSubscription(ctx, id)
		if err != nil {
			return notFoundOr(err, "subscription not found", "load subscription")
		}
		meta := decodeMetadata(sub.Metadata)
		current := deref(sub.ProviderPaymentID)

		if update.ProviderPaymentID != "" && current != update.ProviderPaymentID {
			if !meta.closed(update.ProviderPaymentID) && s.logg != nil {
				logCtx := s.logg.WithFields(ctx, map[string]any{
					"subscription_id":     id.String(),
					"provider_payment_id": update.ProviderPaymentID,
				})
				s.logg.Warn(logCtx, "ignoring status for a charge that is not current")
			}
			return nil
		}
		if deref(sub.ProviderPaymentStatus) == string(update.Status) {
			return nil
		}

		changes := map[string]any{"provider_payment_status": string(update.Status)}
		var (
			record *ChargeRecord
			closed enums.ChargeStatus
		)
		switch {
		case update.Status.IsApproved():
			closed = enums.ChargeStatusPaid
			paidAt := now
			if update.PaidAt != nil {
				paidAt = update.PaidAt.UTC()
			}
			changes["last_charged_at"] = paidAt
			if sub.NextChargeDate != nil && sub.Plan != nil {
				next := NextChargeDate(*sub.Plan, sub.NextChargeDate.In(s.loc)).UTC()
				changes["next_charge_date"] = next
			}
			if sub.Status != enums.SubscriptionStatusCancelled && sub.Status != enums.SubscriptionStatusPaused {
				changes["status"] = enums.SubscriptionStatusAuthorized
			}
		case update.Status == enums.ProviderStatusRejected:
			closed = enums.ChargeStatusRejected
		case update.Status == enums.ProviderStatusCancelled:
			closed = enums.ChargeStatusCancelled
		}
		if closed != "" && meta.CurrentCharge != nil {
			entry := meta.close(closed, current, now)
			record = &entry
		}
		encoded, err := meta.encode()
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode subscription metadata")
		}
		changes["metadata"] = encoded

		if err := repo.UpdateSubscription(ctx, id, changes); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update subscription")
		}
		changed = true

		if record == nil {
			return nil
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventSubscriptionChargeClosed,
			AggregateType: enums.AggregateSubscription,
			AggregateID:   id,
			Data: payloads.SubscriptionChargeClosedEvent{
				SubscriptionID: id,
				UserID:         sub.UserID,
				Status:         record.Status,
				Amount:         record.Total.StringFixed(2),
			},
		})
	})
	if err != nil {
		return false, err
	}
	if changed && s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"subscription_id":     id.String(),
			"provider_payment_id": update.ProviderPaymentID,
			"provider_status":     string(update.Status),
		})
		s.logg.Info(logCtx, "subscription charge status applied")
	}
	return changed, nil
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

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
