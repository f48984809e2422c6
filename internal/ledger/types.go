package ledger

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount          = errors.New("amount and price must be positive")
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrInsufficientInventory  = errors.New("insufficient inventory")
	ErrInvariantViolation     = errors.New("ledger invariant violated")
	ErrTransactionNotFound    = errors.New("transaction not found")
	ErrFeedbackAlreadyApplied = errors.New("feedback already applied to transaction")
	ErrInvalidFeedback        = errors.New("feedback must be GOOD or BAD")
)

// Epsilon is the amount below which a position is considered closed.
var Epsilon = decimal.New(1, -9)

// Side is the direction of a trade.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Feedback is the post-hoc verdict a user attaches to a transaction.
type Feedback string

const (
	FeedbackGood Feedback = "GOOD"
	FeedbackBad  Feedback = "BAD"
)

// Valid reports whether f is GOOD or BAD.
func (f Feedback) Valid() bool {
	return f == FeedbackGood || f == FeedbackBad
}

// ExitPlan captures the exit thresholds in force when a position was opened.
// All values are fractions of the entry price.
type ExitPlan struct {
	StopLoss    float64 `json:"stop_loss"`
	TakeProfit  float64 `json:"take_profit"`
	TrailingPct float64 `json:"trailing_pct"`
}

// Position is an open holding of one symbol.
type Position struct {
	Symbol       string          `json:"symbol"`
	Amount       decimal.Decimal `json:"amount"`
	EntryPrice   decimal.Decimal `json:"entry_price"`
	HighestPrice decimal.Decimal `json:"highest_price"`
	OpenReason   string          `json:"open_reason"`
	ExitPlan     ExitPlan        `json:"exit_plan"`
	OpenedAt     time.Time       `json:"opened_at"`
}

// ReturnAt is (price - entry) / entry.
func (p Position) ReturnAt(price decimal.Decimal) decimal.Decimal {
	if p.EntryPrice.IsZero() {
		return decimal.Zero
	}
	return price.Sub(p.EntryPrice).Div(p.EntryPrice)
}

// Transaction is an immutable entry of the trade log. Only Feedback may be set later.
type Transaction struct {
	ID          string           `json:"id"`
	Type        Side             `json:"type"`
	Symbol      string           `json:"symbol"`
	Amount      decimal.Decimal  `json:"amount"`
	Price       decimal.Decimal  `json:"price"`
	Fee         decimal.Decimal  `json:"fee"`
	RealizedPnl *decimal.Decimal `json:"realized_pnl,omitempty"`
	Timestamp   time.Time        `json:"timestamp"`
	Venue       string           `json:"venue"`
	TxHash      string           `json:"tx_hash,omitempty"`
	Reason      string           `json:"reason"`
	Source      string           `json:"source"`
	Feedback    Feedback         `json:"feedback,omitempty"`
}

// Notional is amount * price.
func (t Transaction) Notional() decimal.Decimal {
	return t.Amount.Mul(t.Price)
}

// Mark is the latest market observation used to value a position.
type Mark struct {
	Price     decimal.Decimal
	Change24h float64 // percent
}

// Fill is a settled trade ready to be booked.
type Fill struct {
	ID       string
	Side     Side
	Symbol   string
	Amount   decimal.Decimal
	Price    decimal.Decimal
	Fee      decimal.Decimal
	Venue    string
	TxHash   string
	Reason   string
	Source   string
	ExitPlan ExitPlan
	Time     time.Time
}

// Portfolio is a consistent, detached view of the ledger. TotalValue and Pnl24h are
// derived when the view is taken and never stored.
type Portfolio struct {
	Cash       decimal.Decimal            `json:"cash_balance"`
	Positions  map[string]Position        `json:"positions"`
	Prices     map[string]decimal.Decimal `json:"prices"`
	TotalValue decimal.Decimal            `json:"total_value"`
	Pnl24h     decimal.Decimal            `json:"pnl_24h"`
	Version    uint64                     `json:"version"`
}

// PriceOf returns the marked price of a symbol, falling back to the entry price
// of a held position when no mark has been seen yet.
func (p Portfolio) PriceOf(symbol string) decimal.Decimal {
	if px, ok := p.Prices[symbol]; ok && px.IsPositive() {
		return px
	}
	if pos, ok := p.Positions[symbol]; ok {
		return pos.EntryPrice
	}
	return decimal.Zero
}

// PositionValue is amount * current price for a held symbol, zero otherwise.
func (p Portfolio) PositionValue(symbol string) decimal.Decimal {
	pos, ok := p.Positions[symbol]
	if !ok {
		return decimal.Zero
	}
	return pos.Amount.Mul(p.PriceOf(symbol))
}

// Account is the persisted form of the ledger's balances.
type Account struct {
	Cash      decimal.Decimal `json:"cash_balance"`
	Positions []Position      `json:"positions"`
}

// Bundle is everything restored or saved as one unit.
type Bundle struct {
	Account      Account        `json:"account"`
	Transactions []Transaction  `json:"transactions"`
	Params       LearningParams `json:"params"`
	SavedAt      time.Time      `json:"saved_at"`
}
