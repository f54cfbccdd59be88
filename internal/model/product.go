package model

import "github.com/shopspring/decimal"

// Fulfillment destinations. StationReady items need no prep station and are
// created already READY (bottled drinks and the like).
const (
	StationKitchen = "KITCHEN"
	StationBar     = "BAR"
	StationReady   = "READY"
)

type Product struct {
	ID          uint64          `gorm:"primaryKey"`
	Name        string          `gorm:"size:128;not null"`
	Price       decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	Station     string          `gorm:"size:16;not null"`
	IsAvailable bool            `gorm:"not null;default:true"`
}

func (Product) TableName() string { return "product" }
