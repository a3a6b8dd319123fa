package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Resource is a read-only snapshot row from the resource master catalog.
// MaxCapacity bounds the sum of overlapping committed capacity claims; a
// resource with MaxCapacity 1 behaves as an exclusive lock.
type Resource struct {
	ID          uuid.UUID       `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	Name        string          `gorm:"column:name;uniqueIndex;not null" json:"name"`
	Type        *string         `gorm:"column:type" json:"type,omitempty"`
	Description *string         `gorm:"column:description" json:"description,omitempty"`
	MaxCapacity decimal.Decimal `gorm:"column:max_capacity;type:numeric(18,4);not null;default:1" json:"maxCapacity"`
	UpdatedAt   time.Time       `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}
