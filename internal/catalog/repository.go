package catalog

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/planwright/planwright-backend/internal/repo"
	"github.com/planwright/planwright-backend/pkg/db/models"
	pkgerrors "github.com/planwright/planwright-backend/pkg/errors"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Repository reads the item and resource master catalogs. The reservation
// engine only consumes snapshots from here; it never writes master data.
type Repository interface {
	FindItem(ctx context.Context, itemID uuid.UUID) (*models.Item, error)
	FindResource(ctx context.Context, resourceID uuid.UUID) (*models.Resource, error)
	ListItems(ctx context.Context) ([]models.Item, error)
	ListResources(ctx context.Context) ([]models.Resource, error)

	ItemOnHand(ctx context.Context, itemID uuid.UUID) (decimal.Decimal, error)
	ResourceMaxCapacity(ctx context.Context, resourceID uuid.UUID) (decimal.Decimal, error)
}

type repository struct {
	repo.Base
}

// NewRepository builds a catalog repository over the given GORM connection.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) FindItem(ctx context.Context, itemID uuid.UUID) (*models.Item, error) {
	var item models.Item
	if err := r.DB(ctx).First(&item, "id = ?", itemID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "item not found").WithDetails(map[string]any{"itemId": itemID})
		}
		return nil, err
	}
	return &item, nil
}

func (r *repository) FindResource(ctx context.Context, resourceID uuid.UUID) (*models.Resource, error) {
	var resource models.Resource
	if err := r.DB(ctx).First(&resource, "id = ?", resourceID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "resource not found").WithDetails(map[string]any{"resourceId": resourceID})
		}
		return nil, err
	}
	return &resource, nil
}

func (r *repository) ListItems(ctx context.Context) ([]models.Item, error) {
	var items []models.Item
	if err := r.DB(ctx).Order("item_number asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repository) ListResources(ctx context.Context) ([]models.Resource, error) {
	var resources []models.Resource
	if err := r.DB(ctx).Order("name asc").Find(&resources).Error; err != nil {
		return nil, err
	}
	return resources, nil
}

func (r *repository) ItemOnHand(ctx context.Context, itemID uuid.UUID) (decimal.Decimal, error) {
	item, err := r.FindItem(ctx, itemID)
	if err != nil {
		return decimal.Zero, err
	}
	return item.OnHandQuantity, nil
}

func (r *repository) ResourceMaxCapacity(ctx context.Context, resourceID uuid.UUID) (decimal.Decimal, error) {
	resource, err := r.FindResource(ctx, resourceID)
	if err != nil {
		return decimal.Zero, err
	}
	return resource.MaxCapacity, nil
}
