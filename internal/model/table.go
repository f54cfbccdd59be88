package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Table statuses.
const (
	TableAvailable = "AVAILABLE"
	TableOccupied  = "OCCUPIED"
	TableReserved  = "RESERVED"
)

// Table is the aggregate root: every command locks one table and bumps its
// version exactly once. CurrentTotal is derived from the non-voided items and
// rewritten on every mutation, never trusted as independent truth.
type Table struct {
	ID           uint64          `gorm:"primaryKey"`
	Number       int             `gorm:"not null;uniqueIndex"`
	Status       string          `gorm:"size:16;not null;default:'AVAILABLE'"`
	CurrentTotal decimal.Decimal `gorm:"type:numeric(12,2);not null;default:'0'"`
	Version      uint64          `gorm:"not null;default:0"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime"`
}

func (Table) TableName() string { return "restaurant_table" }
