package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Position represents an open holding of one symbol.
type Position struct {
	gorm.Model
	Symbol       string          `gorm:"uniqueIndex;not null"`
	Amount       decimal.Decimal `gorm:"type:text;not null"`
	EntryPrice   decimal.Decimal `gorm:"type:text;not null"`
	HighestPrice decimal.Decimal `gorm:"type:text"`
	OpenReason   string
	StopLoss     float64
	TakeProfit   float64
	TrailingPct  float64
	OpenedAt     time.Time
}
