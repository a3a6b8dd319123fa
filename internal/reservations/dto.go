package reservations

import (
	"time"

	"github.com/google/uuid"
	"github.com/planwright/planwright-backend/pkg/enums"
	"github.com/shopspring/decimal"
)

// CreateInput carries a new reservation request. Shape validation happens in
// the service before any state changes.
type CreateInput struct {
	Type        enums.ReservationType
	Priority    enums.ReservationPriority
	StartDate   time.Time
	EndDate     time.Time
	OrderNumber *string
	Description *string
	Notes       *string
	Materials   []MaterialLineInput
	Resources   []ResourceLineInput
}

// MaterialLineInput claims item quantity over the parent window.
type MaterialLineInput struct {
	ItemID           uuid.UUID
	RequiredQuantity decimal.Decimal
	UnitOfMeasure    string
}

// ResourceLineInput claims resource capacity over its own window. A zero
// StartTime/EndTime inherits the parent window.
type ResourceLineInput struct {
	ResourceID       uuid.UUID
	StartTime        time.Time
	EndTime          time.Time
	RequiredCapacity decimal.Decimal
}

// UpdateMetadataInput covers the only fields mutable after creation. Line and
// window edits require cancel-and-recreate once confirmed.
type UpdateMetadataInput struct {
	Notes    *string
	Priority *enums.ReservationPriority
}

// ListFilters narrows reservation listings.
type ListFilters struct {
	Status *enums.ReservationStatus
	Type   *enums.ReservationType
}

// LineFailure reports one line that failed its checker during confirm. The
// caller adjusts quantities or windows and resubmits.
type LineFailure struct {
	LineID     uuid.UUID        `json:"lineId"`
	EntityType enums.EntityType `json:"entityType"`
	EntityID   uuid.UUID        `json:"entityId"`
	Reason     string           `json:"reason"`
	Shortfall  *decimal.Decimal `json:"shortfall,omitempty"`

	// Conflicting committed lines, ordered by the owning reservation's
	// priority so callers can negotiate with the most urgent holders first.
	ConflictingLineIDs        []uuid.UUID `json:"conflictingLineIds,omitempty"`
	ConflictingReservationIDs []uuid.UUID `json:"conflictingReservationIds,omitempty"`
}

// MaterialLineView is a material line enriched with catalog fields and the
// derived availability flag.
type MaterialLineView struct {
	ID               uuid.UUID       `json:"id"`
	ItemID           uuid.UUID       `json:"itemId"`
	ItemNumber       string          `json:"itemNumber,omitempty"`
	ItemName         string          `json:"itemName,omitempty"`
	RequiredQuantity decimal.Decimal `json:"requiredQuantity"`
	ReservedQuantity decimal.Decimal `json:"reservedQuantity"`
	UnitOfMeasure    string          `json:"unitOfMeasure"`
	IsAvailable      bool            `json:"isAvailable"`
}

// ResourceLineView is a resource line enriched with catalog fields and the
// derived conflict flag.
type ResourceLineView struct {
	ID               uuid.UUID       `json:"id"`
	ResourceID       uuid.UUID       `json:"resourceId"`
	ResourceName     string          `json:"resourceName,omitempty"`
	ResourceType     *string         `json:"resourceType,omitempty"`
	StartTime        time.Time       `json:"startTime"`
	EndTime          time.Time       `json:"endTime"`
	RequiredCapacity decimal.Decimal `json:"requiredCapacity"`
	HasConflict      bool            `json:"hasConflict"`
}

// Detail is the full reservation view returned by the API.
type Detail struct {
	ID                uuid.UUID                 `json:"id"`
	ReservationNumber string                    `json:"reservationNumber"`
	Type              enums.ReservationType     `json:"type"`
	Status            enums.ReservationStatus   `json:"status"`
	Priority          enums.ReservationPriority `json:"priority"`
	OrderNumber       *string                   `json:"orderNumber,omitempty"`
	Description       *string                   `json:"description,omitempty"`
	Notes             *string                   `json:"notes,omitempty"`
	CancelReason      *string                   `json:"cancelReason,omitempty"`
	StartDate         time.Time                 `json:"startDate"`
	EndDate           time.Time                 `json:"endDate"`
	Materials         []MaterialLineView        `json:"materials"`
	Resources         []ResourceLineView        `json:"resources"`
	CreatedAt         time.Time                 `json:"createdAt"`
	UpdatedAt         time.Time                 `json:"updatedAt"`
}
