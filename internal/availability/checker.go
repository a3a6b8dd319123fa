package availability

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/planwright/planwright-backend/pkg/types"
	"github.com/shopspring/decimal"
)

// QuantityScale is the fixed decimal scale for quantities and capacities.
// Everything is rounded to this scale before comparison so that floating
// artifacts can never produce a false availability verdict.
const QuantityScale = 4

// CatalogReader supplies master-data snapshots. The values are not
// reserved-aware; committed demand always comes from the index.
type CatalogReader interface {
	ItemOnHand(ctx context.Context, itemID uuid.UUID) (decimal.Decimal, error)
	ResourceMaxCapacity(ctx context.Context, resourceID uuid.UUID) (decimal.Decimal, error)
}

// MaterialCheck is the outcome of a material availability check.
type MaterialCheck struct {
	Available bool            `json:"available"`
	Shortfall decimal.Decimal `json:"shortfall"`
	OnHand    decimal.Decimal `json:"onHandQuantity"`
	Committed decimal.Decimal `json:"committedQuantity"`
}

// ResourceCheck is the outcome of a resource capacity check.
type ResourceCheck struct {
	Available        bool            `json:"available"`
	MaxCapacity      decimal.Decimal `json:"maxCapacity"`
	Committed        decimal.Decimal `json:"committedCapacity"`
	ConflictingLines []LineRef       `json:"-"`
}

// Checker answers ATP (material) and CTP (resource) questions against the
// interval index plus catalog snapshots.
type Checker struct {
	index   *Index
	catalog CatalogReader
}

// NewChecker wires a checker to the shared index and the read-only catalogs.
func NewChecker(index *Index, catalog CatalogReader) (*Checker, error) {
	if index == nil {
		return nil, fmt.Errorf("interval index required")
	}
	if catalog == nil {
		return nil, fmt.Errorf("catalog reader required")
	}
	return &Checker{index: index, catalog: catalog}, nil
}

// CheckMaterial reports whether uncommitted stock covers the required
// quantity over the window. excludeLineID skips one committed line so a
// reservation can re-check itself.
func (c *Checker) CheckMaterial(ctx context.Context, itemID uuid.UUID, window types.Window, required decimal.Decimal, excludeLineID uuid.UUID) (MaterialCheck, error) {
	onHand, err := c.catalog.ItemOnHand(ctx, itemID)
	if err != nil {
		return MaterialCheck{}, err
	}
	return c.CheckMaterialSnapshot(onHand, itemID, window, required, excludeLineID), nil
}

// CheckMaterialSnapshot runs the material check against a pre-fetched on-hand
// snapshot. Confirm uses this form so no catalog I/O happens while entity
// locks are held.
func (c *Checker) CheckMaterialSnapshot(onHand decimal.Decimal, itemID uuid.UUID, window types.Window, required decimal.Decimal, excludeLineID uuid.UUID) MaterialCheck {
	committed := c.index.SumOverlapping(ItemKey(itemID), window, excludeLineID).Round(QuantityScale)
	uncommitted := onHand.Round(QuantityScale).Sub(committed)
	required = required.Round(QuantityScale)

	check := MaterialCheck{
		OnHand:    onHand,
		Committed: committed,
		Shortfall: decimal.Zero,
	}
	if uncommitted.GreaterThanOrEqual(required) {
		check.Available = true
		return check
	}
	check.Shortfall = required.Sub(uncommitted)
	return check
}

// CheckResource reports whether committed capacity plus the request stays
// within the resource's maximum over the window.
func (c *Checker) CheckResource(ctx context.Context, resourceID uuid.UUID, window types.Window, required decimal.Decimal, excludeLineID uuid.UUID) (ResourceCheck, error) {
	maxCapacity, err := c.catalog.ResourceMaxCapacity(ctx, resourceID)
	if err != nil {
		return ResourceCheck{}, err
	}
	return c.CheckResourceSnapshot(maxCapacity, resourceID, window, required, excludeLineID), nil
}

// CheckResourceSnapshot runs the capacity check against a pre-fetched
// max-capacity snapshot.
func (c *Checker) CheckResourceSnapshot(maxCapacity decimal.Decimal, resourceID uuid.UUID, window types.Window, required decimal.Decimal, excludeLineID uuid.UUID) ResourceCheck {
	key := ResourceKey(resourceID)
	committed := c.index.SumOverlapping(key, window, excludeLineID).Round(QuantityScale)
	required = required.Round(QuantityScale)
	maxCapacity = maxCapacity.Round(QuantityScale)

	check := ResourceCheck{
		MaxCapacity: maxCapacity,
		Committed:   committed,
	}

	// A unit-capacity resource is an exclusive lock: any overlap conflicts,
	// whatever the requested capacity.
	exclusive := maxCapacity.Equal(decimal.NewFromInt(1)) && committed.GreaterThan(decimal.Zero)
	if !exclusive && committed.Add(required).LessThanOrEqual(maxCapacity) {
		check.Available = true
		return check
	}

	check.ConflictingLines = c.index.OverlappingLines(key, window, excludeLineID)
	return check
}
