package reservations

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/planwright/planwright-backend/internal/repo"
	"github.com/planwright/planwright-backend/pkg/db/models"
	"github.com/planwright/planwright-backend/pkg/enums"
	pkgerrors "github.com/planwright/planwright-backend/pkg/errors"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Repository persists reservations and their lines as normalized records. The
// interval index is derived from these rows and never the other way around.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	Create(ctx context.Context, reservation *models.Reservation) error
	Find(ctx context.Context, id uuid.UUID) (*models.Reservation, error)
	List(ctx context.Context, filters ListFilters) ([]models.Reservation, error)
	UpdateReservation(ctx context.Context, id uuid.UUID, updates map[string]any) error
	UpdateMaterialLineReserved(ctx context.Context, lineID uuid.UUID, reserved decimal.Decimal) error

	FindCommitted(ctx context.Context) ([]models.Reservation, error)
	FindPendingCreatedBefore(ctx context.Context, cutoff time.Time) ([]models.Reservation, error)
	FindConfirmedStartingBy(ctx context.Context, now time.Time) ([]models.Reservation, error)
	FindActiveEndingBy(ctx context.Context, now time.Time) ([]models.Reservation, error)
}

type repository struct {
	repo.Base
}

// NewRepository builds a reservation repository over the given GORM connection.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(tx)}
}

func (r *repository) Create(ctx context.Context, reservation *models.Reservation) error {
	return r.DB(ctx).Create(reservation).Error
}

func (r *repository) Find(ctx context.Context, id uuid.UUID) (*models.Reservation, error) {
	var reservation models.Reservation
	err := r.DB(ctx).
		Preload("MaterialLines").
		Preload("ResourceLines").
		First(&reservation, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "reservation not found").WithDetails(map[string]any{"id": id})
		}
		return nil, err
	}
	return &reservation, nil
}

func (r *repository) List(ctx context.Context, filters ListFilters) ([]models.Reservation, error) {
	query := r.DB(ctx).
		Preload("MaterialLines").
		Preload("ResourceLines").
		Order("created_at desc")
	if filters.Status != nil {
		query = query.Where("status = ?", *filters.Status)
	}
	if filters.Type != nil {
		query = query.Where("type = ?", *filters.Type)
	}

	var reservations []models.Reservation
	if err := query.Find(&reservations).Error; err != nil {
		return nil, err
	}
	return reservations, nil
}

func (r *repository) UpdateReservation(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	result := r.DB(ctx).Model(&models.Reservation{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "reservation not found").WithDetails(map[string]any{"id": id})
	}
	return nil
}

func (r *repository) UpdateMaterialLineReserved(ctx context.Context, lineID uuid.UUID, reserved decimal.Decimal) error {
	return r.DB(ctx).
		Model(&models.MaterialReservationLine{}).
		Where("id = ?", lineID).
		Update("reserved_quantity", reserved).Error
}

func (r *repository) FindCommitted(ctx context.Context) ([]models.Reservation, error) {
	var reservations []models.Reservation
	err := r.DB(ctx).
		Preload("MaterialLines").
		Preload("ResourceLines").
		Where("status IN ?", []enums.ReservationStatus{
			enums.ReservationStatusConfirmed,
			enums.ReservationStatusActive,
		}).
		Find(&reservations).Error
	if err != nil {
		return nil, err
	}
	return reservations, nil
}

func (r *repository) FindPendingCreatedBefore(ctx context.Context, cutoff time.Time) ([]models.Reservation, error) {
	var reservations []models.Reservation
	err := r.DB(ctx).
		Preload("MaterialLines").
		Preload("ResourceLines").
		Where("status = ? AND created_at < ?", enums.ReservationStatusPending, cutoff).
		Find(&reservations).Error
	if err != nil {
		return nil, err
	}
	return reservations, nil
}

func (r *repository) FindConfirmedStartingBy(ctx context.Context, now time.Time) ([]models.Reservation, error) {
	var reservations []models.Reservation
	err := r.DB(ctx).
		Where("status = ? AND start_date <= ?", enums.ReservationStatusConfirmed, now).
		Find(&reservations).Error
	if err != nil {
		return nil, err
	}
	return reservations, nil
}

func (r *repository) FindActiveEndingBy(ctx context.Context, now time.Time) ([]models.Reservation, error) {
	var reservations []models.Reservation
	err := r.DB(ctx).
		Preload("MaterialLines").
		Preload("ResourceLines").
		Where("status = ? AND end_date <= ?", enums.ReservationStatusActive, now).
		Find(&reservations).Error
	if err != nil {
		return nil, err
	}
	return reservations, nil
}
