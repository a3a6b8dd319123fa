package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MaterialReservationLine claims a quantity of one item over the parent
// reservation's window. ReservedQuantity is written only when the reservation
// commits.
type MaterialReservationLine struct {
	ID               uuid.UUID       `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	ReservationID    uuid.UUID       `gorm:"column:reservation_id;type:uuid;not null;index" json:"reservationId"`
	ItemID           uuid.UUID       `gorm:"column:item_id;type:uuid;not null;index" json:"itemId"`
	RequiredQuantity decimal.Decimal `gorm:"column:required_quantity;type:numeric(18,4);not null" json:"requiredQuantity"`
	ReservedQuantity decimal.Decimal `gorm:"column:reserved_quantity;type:numeric(18,4);not null;default:0" json:"reservedQuantity"`
	UnitOfMeasure    string          `gorm:"column:unit_of_measure;not null;default:EA" json:"unitOfMeasure"`
	CreatedAt        time.Time       `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt        time.Time       `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}
