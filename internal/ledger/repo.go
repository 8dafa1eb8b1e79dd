package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/marina-backend/pkg/db/models"
	"github.com/angelmondragon/marina-backend/pkg/enums"
)

// Repository manages persistence for assignments and their obligations.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	FindUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	SetUserStatus(ctx context.Context, id uuid.UUID, status enums.UserStatus) error
	FindVessel(ctx context.Context, id uuid.UUID) (*models.Vessel, error)

	CreateUserVessel(ctx context.Context, uv *models.UserVessel) error
	FindUserVessel(ctx context.Context, id uuid.UUID) (*models.UserVessel, error)
	LockUserVessel(ctx context.Context, id uuid.UUID) (*models.UserVessel, error)
	UpdateUserVessel(ctx context.Context, id uuid.UUID, changes map[string]any) error
	ListUserVesselsByUser(ctx context.Context, userID uuid.UUID) ([]models.UserVessel, error)
	ListUserVesselsByStatus(ctx context.Context, statuses []enums.AssignmentStatus) ([]models.UserVessel, error)

	FindObligation(ctx context.Context, kind enums.ObligationKind, id uuid.UUID) (*Obligation, error)
	EarliestOutstanding(ctx context.Context, kind enums.ObligationKind, userVesselID uuid.UUID) (*Obligation, error)
	UpdateObligation(ctx context.Context, kind enums.ObligationKind, id uuid.UUID, changes map[string]any) error
	CountOverdue(ctx context.Context, kind enums.ObligationKind, userVesselIDs []uuid.UUID) (int64, error)
	MarkOverdue(ctx context.Context, kind enums.ObligationKind, before time.Time) (int64, error)
	UserVesselsWithOverdue(ctx context.Context) ([]uuid.UUID, error)

	ReplaceInstallments(ctx context.Context, userVesselID uuid.UUID, rows []models.Installment) error
	CreateInstallment(ctx context.Context, row *models.Installment) error
	MaxInstallmentNumber(ctx context.Context, userVesselID uuid.UUID) (int, error)

	CreateMarinaPayment(ctx context.Context, row *models.MarinaPayment) error
	MarinaDueDates(ctx context.Context, userVesselID uuid.UUID, from, to time.Time) (map[string]struct{}, error)
	LatestMarinaDueDate(ctx context.Context, userVesselID uuid.UUID) (*time.Time, error)

	CreateAdHocCharge(ctx context.Context, row *models.AdHocCharge) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *repository) SetUserStatus(ctx context.Context, id uuid.UUID, status enums.UserStatus) error {
	return r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": status, "updated_at": time.Now().UTC()}).Error
}

func (r *repository) FindVessel(ctx context.Context, id uuid.UUID) (*models.Vessel, error) {
	var vessel models.Vessel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&vessel).Error; err != nil {
		return nil, err
	}
	return &vessel, nil
}

func (r *repository) CreateUserVessel(ctx context.Context, uv *models.UserVessel) error {
	if uv.ID == uuid.Nil {
		uv.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(uv).Error
}

func (r *repository) FindUserVessel(ctx context.Context, id uuid.UUID) (*models.UserVessel, error) {
	var uv models.UserVessel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&uv).Error; err != nil {
		return nil, err
	}
	return &uv, nil
}

// LockUserVessel loads the assignment under a row lock. Balance updates must
// hold it so manual and provider payments cannot lose each other's writes.
func (r *repository) LockUserVessel(ctx context.Context, id uuid.UUID) (*models.UserVessel, error) {
	var uv models.UserVessel
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&uv).Error; err != nil {
		return nil, err
	}
	return &uv, nil
}

func (r *repository) UpdateUserVessel(ctx context.Context, id uuid.UUID, changes map[string]any) error {
	if _, ok := changes["updated_at"]; !ok {
		changes["updated_at"] = time.Now().UTC()
	}
	return r.db.WithContext(ctx).
		Model(&models.UserVessel{}).
		Where("id = ?", id).
		Updates(changes).Error
}

func (r *repository) ListUserVesselsByUser(ctx context.Context, userID uuid.UUID) ([]models.UserVessel, error) {
	var rows []models.UserVessel
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repository) ListUserVesselsByStatus(ctx context.Context, statuses []enums.AssignmentStatus) ([]models.UserVessel, error) {
	var rows []models.UserVessel
	query := r.db.WithContext(ctx).Model(&models.UserVessel{})
	if len(statuses) > 0 {
		query = query.Where("status IN ?", statuses)
	}
	err := query.Order("created_at ASC").Find(&rows).Error
	return rows, err
}

func (r *repository) FindObligation(ctx context.Context, kind enums.ObligationKind, id uuid.UUID) (*Obligation, error) {
	return r.firstObligation(ctx, kind, r.db.WithContext(ctx).Where("id = ?", id))
}

// EarliestOutstanding returns the oldest pending or overdue obligation, or nil
// when everything is paid.
func (r *repository) EarliestOutstanding(ctx context.Context, kind enums.ObligationKind, userVesselID uuid.UUID) (*Obligation, error) {
	query := r.db.WithContext(ctx).
		Where("user_vessel_id = ? AND status IN ?", userVesselID, []enums.PaymentStatus{enums.PaymentStatusPending, enums.PaymentStatusOverdue})
	if kind == enums.ObligationInstallment {
		query = query.Order("installment_number ASC")
	}
	obligation, err := r.firstObligation(ctx, kind, query.Order("due_date ASC"))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return obligation, err
}

func (r *repository) firstObligation(ctx context.Context, kind enums.ObligationKind, query *gorm.DB) (*Obligation, error) {
	switch kind {
	case enums.ObligationInstallment:
		var row models.Installment
		if err := query.First(&row).Error; err != nil {
			return nil, err
		}
		return fromInstallment(row), nil
	case enums.ObligationMarinaFee:
		var row models.MarinaPayment
		if err := query.First(&row).Error; err != nil {
			return nil, err
		}
		return fromMarinaPayment(row), nil
	case enums.ObligationAdHoc:
		var row models.AdHocCharge
		if err := query.First(&row).Error; err != nil {
			return nil, err
		}
		return fromAdHocCharge(row), nil
	default:
		return nil, fmt.Errorf("unknown obligation kind %q", kind)
	}
}

func (r *repository) UpdateObligation(ctx context.Context, kind enums.ObligationKind, id uuid.UUID, changes map[string]any) error {
	if !kind.IsValid() {
		return fmt.Errorf("unknown obligation kind %q", kind)
	}
	if _, ok := changes["updated_at"]; !ok {
		changes["updated_at"] = time.Now().UTC()
	}
	return r.db.WithContext(ctx).
		Table(kind.TableName()).
		Where("id = ?", id).
		Updates(changes).Error
}

func (r *repository) CountOverdue(ctx context.Context, kind enums.ObligationKind, userVesselIDs []uuid.UUID) (int64, error) {
	if len(userVesselIDs) == 0 {
		return 0, nil
	}
	var count int64
	err := r.db.WithContext(ctx).
		Table(kind.TableName()).
		Where("user_vessel_id IN ? AND status = ?", userVesselIDs, enums.PaymentStatusOverdue).
		Count(&count).Error
	return count, err
}

// MarkOverdue flips pending obligations due strictly before the given date.
func (r *repository) MarkOverdue(ctx context.Context, kind enums.ObligationKind, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Table(kind.TableName()).
		Where("status = ? AND due_date < ?", enums.PaymentStatusPending, before).
		Updates(map[string]any{"status": enums.PaymentStatusOverdue, "updated_at": time.Now().UTC()})
	return res.RowsAffected, res.Error
}

// UserVesselsWithOverdue lists assignments holding at least one overdue
// installment or marina fee.
func (r *repository) UserVesselsWithOverdue(ctx context.Context) ([]uuid.UUID, error) {
	seen := map[uuid.UUID]struct{}{}
	var ids []uuid.UUID
	for _, kind := range []enums.ObligationKind{enums.ObligationInstallment, enums.ObligationMarinaFee} {
		var batch []uuid.UUID
		if err := r.db.WithContext(ctx).
			Table(kind.TableName()).
			Distinct("user_vessel_id").
			Where("status = ?", enums.PaymentStatusOverdue).
			Pluck("user_vessel_id", &batch).Error; err != nil {
			return nil, err
		}
		for _, id := range batch {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (r *repository) ReplaceInstallments(ctx context.Context, userVesselID uuid.UUID, rows []models.Installment) error {
	if err := r.db.WithContext(ctx).
		Where("user_vessel_id = ?", userVesselID).
		Delete(&models.Installment{}).Error; err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	for i := range rows {
		if rows[i].ID == uuid.Nil {
			rows[i].ID = uuid.New()
		}
	}
	return r.db.WithContext(ctx).Create(&rows).Error
}

func (r *repository) CreateInstallment(ctx context.Context, row *models.Installment) error {
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(row).Error
}

func (r *repository) MaxInstallmentNumber(ctx context.Context, userVesselID uuid.UUID) (int, error) {
	var max int64
	row := r.db.WithContext(ctx).
		Model(&models.Installment{}).
		Where("user_vessel_id = ?", userVesselID).
		Select("COALESCE(MAX(installment_number), 0)").
		Row()
	if err := row.Scan(&max); err != nil {
		return 0, err
	}
	return int(max), nil
}

func (r *repository) CreateMarinaPayment(ctx context.Context, row *models.MarinaPayment) error {
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(row).Error
}

// MarinaDueDates returns the YYYY-MM-DD keys of existing marina fees in the
// inclusive window.
func (r *repository) MarinaDueDates(ctx context.Context, userVesselID uuid.UUID, from, to time.Time) (map[string]struct{}, error) {
	var rows []models.MarinaPayment
	if err := r.db.WithContext(ctx).
		Select("id", "due_date").
		Where("user_vessel_id = ? AND due_date >= ? AND due_date <= ?", userVesselID, from, to).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		out[row.DueDate.UTC().Format("2006-01-02")] = struct{}{}
	}
	return out, nil
}

func (r *repository) LatestMarinaDueDate(ctx context.Context, userVesselID uuid.UUID) (*time.Time, error) {
	var row models.MarinaPayment
	err := r.db.WithContext(ctx).
		Select("id", "due_date").
		Where("user_vessel_id = ?", userVesselID).
		Order("due_date DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row.DueDate, nil
}

func (r *repository) CreateAdHocCharge(ctx context.Context, row *models.AdHocCharge) error {
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(row).Error
}
