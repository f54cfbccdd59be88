package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Payment methods accepted at close-out.
const (
	PayCredit = "CREDIT_CARD"
	PayDebit  = "DEBIT_CARD"
	PayPix    = "PIX"
	PayCash   = "CASH"
)

// Closure is the audit record stamped by a successful close-out.
type Closure struct {
	ID            uint64          `gorm:"primaryKey"`
	TableID       uint64          `gorm:"not null;index"`
	Subtotal      decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	ServiceFee    decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	Discount      decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	Total         decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	PaymentMethod string          `gorm:"size:32;not null"`
	ClosedAt      time.Time       `gorm:"autoCreateTime"`
}

func (Closure) TableName() string { return "table_closure" }
