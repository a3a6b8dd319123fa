package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Item is a read-only snapshot row from the item master catalog. The engine
// consumes on-hand quantity and never writes it.
type Item struct {
	ID             uuid.UUID       `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	ItemNumber     string          `gorm:"column:item_number;uniqueIndex;not null" json:"itemNumber"`
	ItemName       string          `gorm:"column:item_name;not null" json:"itemName"`
	Description    *string         `gorm:"column:description" json:"description,omitempty"`
	OnHandQuantity decimal.Decimal `gorm:"column:on_hand_quantity;type:numeric(18,4);not null;default:0" json:"onHandQuantity"`
	UnitOfMeasure  string          `gorm:"column:unit_of_measure;not null;default:EA" json:"unitOfMeasure"`
	UpdatedAt      time.Time       `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}
