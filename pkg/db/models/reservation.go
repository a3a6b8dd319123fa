package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/planwright/planwright-backend/pkg/enums"
)

// Reservation is the aggregate root of the ATP/CTP engine. Lines carry the
// per-item and per-resource demand; the parent holds the overall window and
// lifecycle status.
type Reservation struct {
	ID                uuid.UUID                 `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	ReservationNumber string                    `gorm:"column:reservation_number;uniqueIndex;not null" json:"reservationNumber"`
	Type              enums.ReservationType     `gorm:"column:type;not null" json:"type"`
	Status            enums.ReservationStatus   `gorm:"column:status;not null;index" json:"status"`
	Priority          enums.ReservationPriority `gorm:"column:priority;not null;default:medium" json:"priority"`
	OrderNumber       *string                   `gorm:"column:order_number" json:"orderNumber,omitempty"`
	Description       *string                   `gorm:"column:description" json:"description,omitempty"`
	Notes             *string                   `gorm:"column:notes" json:"notes,omitempty"`
	CancelReason      *string                   `gorm:"column:cancel_reason" json:"cancelReason,omitempty"`
	StartDate         time.Time                 `gorm:"column:start_date;not null;index" json:"startDate"`
	EndDate           time.Time                 `gorm:"column:end_date;not null;index" json:"endDate"`

	MaterialLines []MaterialReservationLine `gorm:"foreignKey:ReservationID" json:"materials"`
	ResourceLines []ResourceReservationLine `gorm:"foreignKey:ReservationID" json:"resources"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}
