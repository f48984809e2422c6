package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Transaction represents a booked trade in the database.
type Transaction struct {
	gorm.Model
	TxID        string              `gorm:"uniqueIndex;not null" json:"id"`
	Type        string              `json:"type"` // "BUY" or "SELL"
	Symbol      string              `gorm:"index" json:"symbol"`
	Amount      decimal.Decimal     `gorm:"type:text" json:"amount"`
	Price       decimal.Decimal     `gorm:"type:text" json:"price"`
	Fee         decimal.Decimal     `gorm:"type:text" json:"fee"`
	RealizedPnl decimal.NullDecimal `gorm:"type:text" json:"realized_pnl"`
	Timestamp   time.Time           `gorm:"index" json:"timestamp"`
	Venue       string              `json:"venue"`
	TxHash      string              `json:"tx_hash"`
	Reason      string              `json:"reason"`
	Source      string              `json:"source"`
	Feedback    string              `json:"feedback"`
}
