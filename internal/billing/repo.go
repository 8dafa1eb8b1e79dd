package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/marina-backend/pkg/db/models"
	"github.com/angelmondragon/marina-backend/pkg/enums"
)

const defaultDueLimit = 200

// Repository handles subscription plan and enrollment persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreatePlan(ctx context.Context, plan *models.SubscriptionPlan) error
	FindPlan(ctx context.Context, id uuid.UUID) (*models.SubscriptionPlan, error)
	ListPlans(ctx context.Context, params ListPlansQuery) ([]models.SubscriptionPlan, error)
	SetPlanActive(ctx context.Context, id uuid.UUID, active bool) error
	CreateSubscription(ctx context.Context, subscription *models.Subscription) error
	FindSubscription(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	LockSubscription(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	FindOpenSubscription(ctx context.Context, userID, planID uuid.UUID) (*models.Subscription, error)
	ListSubscriptionsByUser(ctx context.Context, userID uuid.UUID) ([]models.Subscription, error)
	ListDueSubscriptions(ctx context.Context, asOf time.Time, limit int) ([]models.Subscription, error)
	UpdateSubscription(ctx context.Context, id uuid.UUID, changes map[string]any) error
	FindUser(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type repository struct {
	db *gorm.DB
}

// ListPlansQuery configures plan list queries.
type ListPlansQuery struct {
	ActiveOnly bool
}

// NewRepository returns a billing repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreatePlan(ctx context.Context, plan *models.SubscriptionPlan) error {
	if plan.ID == uuid.Nil {
		plan.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(plan).Error
}

func (r *repository) FindPlan(ctx context.Context, id uuid.UUID) (*models.SubscriptionPlan, error) {
	var plan models.SubscriptionPlan
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&plan).Error; err != nil {
		return nil, err
	}
	return &plan, nil
}

func (r *repository) ListPlans(ctx context.Context, params ListPlansQuery) ([]models.SubscriptionPlan, error) {
	query := r.db.WithContext(ctx).Model(&models.SubscriptionPlan{})
	if params.ActiveOnly {
		query = query.Where("is_active = ?", true)
	}
	var plans []models.SubscriptionPlan
	if err := query.Order("name ASC").Find(&plans).Error; err != nil {
		return nil, err
	}
	return plans, nil
}

func (r *repository) SetPlanActive(ctx context.Context, id uuid.UUID, active bool) error {
	res := r.db.WithContext(ctx).
		Model(&models.SubscriptionPlan{}).
		Where("id = ?", id).
		Updates(map[string]any{"is_active": active, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *repository) CreateSubscription(ctx context.Context, subscription *models.Subscription) error {
	if subscription.ID == uuid.Nil {
		subscription.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Omit("Plan").Create(subscription).Error
}

func (r *repository) FindSubscription(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.WithContext(ctx).
		Preload("Plan").
		Where("id = ?", id).
		First(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *repository) LockSubscription(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&sub).Error; err != nil {
		return nil, err
	}
	plan, err := r.FindPlan(ctx, sub.PlanID)
	if err != nil {
		return nil, err
	}
	sub.Plan = plan
	return &sub, nil
}

func (r *repository) FindOpenSubscription(ctx context.Context, userID, planID uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND plan_id = ? AND status <> ?", userID, planID, enums.SubscriptionStatusCancelled).
		Order("created_at DESC").
		First(&sub).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repository) ListSubscriptionsByUser(ctx context.Context, userID uuid.UUID) ([]models.Subscription, error) {
	var subs []models.Subscription
	if err := r.db.WithContext(ctx).
		Preload("Plan").
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *repository) ListDueSubscriptions(ctx context.Context, asOf time.Time, limit int) ([]models.Subscription, error) {
	if limit <= 0 {
		limit = defaultDueLimit
	}
	var subs []models.Subscription
	if err := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Preload("Plan").
		Joins("JOIN subscription_plans ON subscription_plans.id = subscriptions.plan_id").
		Where("subscriptions.status IN ?", enums.BillableSubscriptionStatuses).
		Where("subscription_plans.is_active = ?", true).
		Where("subscriptions.next_charge_date IS NOT NULL AND subscriptions.next_charge_date <= ?", asOf.UTC()).
		Where("(subscriptions.provider_payment_id IS NULL OR subscriptions.provider_payment_status IS NULL OR subscriptions.provider_payment_status NOT IN ? OR subscriptions.provider_payment_expires_at IS NULL OR subscriptions.provider_payment_expires_at <= ?)",
			enums.LiveProviderStatuses, asOf.UTC()).
		Order("subscriptions.next_charge_date ASC").
		Limit(limit).
		Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *repository) UpdateSubscription(ctx context.Context, id uuid.UUID, changes map[string]any) error {
	if len(changes) == 0 {
		return nil
	}
	changes["updated_at"] = time.Now().UTC()
	return r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("id = ?", id).
		Updates(changes).Error
}

func (r *repository) FindUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}
