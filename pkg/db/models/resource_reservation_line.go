package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ResourceReservationLine claims capacity on one resource over its own window,
// which must be contained within the parent reservation's window.
type ResourceReservationLine struct {
	ID               uuid.UUID       `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	ReservationID    uuid.UUID       `gorm:"column:reservation_id;type:uuid;not null;index" json:"reservationId"`
	ResourceID       uuid.UUID       `gorm:"column:resource_id;type:uuid;not null;index" json:"resourceId"`
	StartTime        time.Time       `gorm:"column:start_time;not null" json:"startTime"`
	EndTime          time.Time       `gorm:"column:end_time;not null" json:"endTime"`
	RequiredCapacity decimal.Decimal `gorm:"column:required_capacity;type:numeric(18,4);not null" json:"requiredCapacity"`
	CreatedAt        time.Time       `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt        time.Time       `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}
