package booking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/marina-backend/pkg/db/models"
	"github.com/angelmondragon/marina-backend/pkg/enums"
)

// Repository is the calendar store: vessels, bookings and date blocks.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindVessel(ctx context.Context, id uuid.UUID) (*models.Vessel, error)
	FindUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	LockUser(ctx context.Context, id uuid.UUID) error
	HasAssignment(ctx context.Context, userID, vesselID uuid.UUID) (bool, error)
	FindBlockingRange(ctx context.Context, vesselID uuid.UUID, date time.Time) (*models.BlockedDateRange, error)
	FindActiveWeeklyBlock(ctx context.Context, dayOfWeek int) (*models.WeeklyBlock, error)
	HasActiveBooking(ctx context.Context, vesselID uuid.UUID, date time.Time) (bool, error)
	CountUpcomingActive(ctx context.Context, userID, vesselID uuid.UUID, from time.Time) (int64, error)
	EarliestUpcomingActive(ctx context.Context, userID, vesselID uuid.UUID, from time.Time) (*models.Booking, error)
	CreateBooking(ctx context.Context, booking *models.Booking) error
	FindBooking(ctx context.Context, id uuid.UUID) (*models.Booking, error)
	MarkCancelled(ctx context.Context, id uuid.UUID, reason *string, at time.Time) error
	ListBookings(ctx context.Context, vesselID uuid.UUID, start, end time.Time) ([]models.Booking, error)
	ListBlockedRanges(ctx context.Context, vesselID uuid.UUID, start, end time.Time) ([]models.BlockedDateRange, error)
	ListActiveWeeklyBlocks(ctx context.Context) ([]models.WeeklyBlock, error)
	CreateBlockedRange(ctx context.Context, block *models.BlockedDateRange) error
	DeleteBlockedRange(ctx context.Context, id uuid.UUID) (bool, error)
	FindWeeklyBlock(ctx context.Context, id uuid.UUID) (*models.WeeklyBlock, error)
	CreateWeeklyBlock(ctx context.Context, block *models.WeeklyBlock) error
	SetWeeklyBlockActive(ctx context.Context, id uuid.UUID, active bool) error
	DeleteWeeklyBlock(ctx context.Context, id uuid.UUID) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a calendar repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindVessel(ctx context.Context, id uuid.UUID) (*models.Vessel, error) {
	var vessel models.Vessel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&vessel).Error; err != nil {
		return nil, err
	}
	return &vessel, nil
}

func (r *repository) FindUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// LockUser takes a row lock on the user so concurrent admissions for the same
// member serialize their quota checks.
func (r *repository) LockUser(ctx context.Context, id uuid.UUID) error {
	var user models.User
	return r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("id").
		Where("id = ?", id).
		First(&user).Error
}

func (r *repository) HasAssignment(ctx context.Context, userID, vesselID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.UserVessel{}).
		Where("user_id = ? AND vessel_id = ?", userID, vesselID).
		Count(&count).Error
	return count > 0, err
}

func (r *repository) FindBlockingRange(ctx context.Context, vesselID uuid.UUID, date time.Time) (*models.BlockedDateRange, error) {
	var block models.BlockedDateRange
	err := r.db.WithContext(ctx).
		Where("vessel_id = ? AND start_date <= ? AND end_date >= ?", vesselID, date, date).
		Order("start_date ASC").
		First(&block).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &block, nil
}

func (r *repository) FindActiveWeeklyBlock(ctx context.Context, dayOfWeek int) (*models.WeeklyBlock, error) {
	var block models.WeeklyBlock
	err := r.db.WithContext(ctx).
		Where("day_of_week = ? AND is_active = ?", dayOfWeek, true).
		First(&block).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &block, nil
}

func (r *repository) HasActiveBooking(ctx context.Context, vesselID uuid.UUID, date time.Time) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Booking{}).
		Where("vessel_id = ? AND booking_date = ? AND status <> ?", vesselID, date, enums.BookingStatusCancelled).
		Count(&count).Error
	return count > 0, err
}

func (r *repository) CountUpcomingActive(ctx context.Context, userID, vesselID uuid.UUID, from time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Booking{}).
		Where("user_id = ? AND vessel_id = ?", userID, vesselID).
		Where("status IN ?", enums.ActiveBookingStatuses).
		Where("booking_date >= ?", from).
		Count(&count).Error
	return count, err
}

func (r *repository) EarliestUpcomingActive(ctx context.Context, userID, vesselID uuid.UUID, from time.Time) (*models.Booking, error) {
	var booking models.Booking
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND vessel_id = ?", userID, vesselID).
		Where("status IN ?", enums.ActiveBookingStatuses).
		Where("booking_date >= ?", from).
		Order("booking_date ASC").
		First(&booking).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &booking, nil
}

func (r *repository) CreateBooking(ctx context.Context, booking *models.Booking) error {
	if booking.ID == uuid.Nil {
		booking.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(booking).Error
}

func (r *repository) FindBooking(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	var booking models.Booking
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&booking).Error; err != nil {
		return nil, err
	}
	return &booking, nil
}

func (r *repository) MarkCancelled(ctx context.Context, id uuid.UUID, reason *string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Booking{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":              enums.BookingStatusCancelled,
			"cancellation_reason": reason,
			"cancelled_at":        at,
			"updated_at":          at,
		}).Error
}

func (r *repository) ListBookings(ctx context.Context, vesselID uuid.UUID, start, end time.Time) ([]models.Booking, error) {
	var bookings []models.Booking
	err := r.db.WithContext(ctx).
		Where("vessel_id = ? AND booking_date >= ? AND booking_date <= ?", vesselID, start, end).
		Where("status <> ?", enums.BookingStatusCancelled).
		Order("booking_date ASC").
		Find(&bookings).Error
	return bookings, err
}

func (r *repository) ListBlockedRanges(ctx context.Context, vesselID uuid.UUID, start, end time.Time) ([]models.BlockedDateRange, error) {
	var blocks []models.BlockedDateRange
	err := r.db.WithContext(ctx).
		Where("vessel_id = ? AND start_date <= ? AND end_date >= ?", vesselID, end, start).
		Order("start_date ASC").
		Find(&blocks).Error
	return blocks, err
}

func (r *repository) ListActiveWeeklyBlocks(ctx context.Context) ([]models.WeeklyBlock, error) {
	var blocks []models.WeeklyBlock
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("day_of_week ASC").
		Find(&blocks).Error
	return blocks, err
}

func (r *repository) CreateBlockedRange(ctx context.Context, block *models.BlockedDateRange) error {
	if block.ID == uuid.Nil {
		block.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(block).Error
}

func (r *repository) DeleteBlockedRange(ctx context.Context, id uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.BlockedDateRange{})
	return res.RowsAffected > 0, res.Error
}

func (r *repository) FindWeeklyBlock(ctx context.Context, id uuid.UUID) (*models.WeeklyBlock, error) {
	var block models.WeeklyBlock
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&block).Error; err != nil {
		return nil, err
	}
	return &block, nil
}

func (r *repository) CreateWeeklyBlock(ctx context.Context, block *models.WeeklyBlock) error {
	if block.ID == uuid.Nil {
		block.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(block).Error
}

func (r *repository) SetWeeklyBlockActive(ctx context.Context, id uuid.UUID, active bool) error {
	return r.db.WithContext(ctx).
		Model(&models.WeeklyBlock{}).
		Where("id = ?", id).
		Updates(map[string]any{"is_active": active, "updated_at": time.Now().UTC()}).Error
}

func (r *repository) DeleteWeeklyBlock(ctx context.Context, id uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.WeeklyBlock{})
	return res.RowsAffected > 0, res.Error
}
