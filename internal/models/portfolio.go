package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// PortfolioID is the primary key of the single portfolio row.
const PortfolioID = 1

// Portfolio holds the cash balance. There should only ever be one row in this table.
type Portfolio struct {
	gorm.Model
	CashBalance decimal.Decimal `gorm:"type:text;not null"`
	SavedAt     time.Time
}
