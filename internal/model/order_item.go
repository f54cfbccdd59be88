package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Item statuses. Forward-only: PLACED -> READY -> DELIVERED, with VOIDED
// reachable from PLACED or READY. Items are never deleted.
const (
	ItemPlaced    = "PLACED"
	ItemReady     = "READY"
	ItemDelivered = "DELIVERED"
	ItemVoided    = "VOIDED"
)

type OrderItem struct {
	ID          uint64          `gorm:"primaryKey"`
	TableID     uint64          `gorm:"not null;index"`
	ProductID   uint64          `gorm:"not null"`
	ProductName string          `gorm:"size:128;not null"`
	UnitPrice   decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	Station     string          `gorm:"size:16;not null"`
	Quantity    int             `gorm:"not null"`
	Notes       string          `gorm:"size:256"`
	Status      string          `gorm:"size:16;not null;index"`
	VoidReason  *string         `gorm:"size:256"`
	CreatedAt   time.Time       `gorm:"autoCreateTime"`
}

func (OrderItem) TableName() string { return "order_item" }

// Subtotal is unit price times quantity.
func (i OrderItem) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Open reports whether the item still blocks a close-out.
func (i OrderItem) Open() bool {
	return i.Status == ItemPlaced || i.Status == ItemReady
}
