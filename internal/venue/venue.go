package venue

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"paper-trade-engine-go/internal/id"
	"paper-trade-engine-go/internal/ledger"
)

var (
	ErrVenueTimeout     = errors.New("venue settlement timed out")
	ErrVenueRejected    = errors.New("venue rejected order")
	ErrVenueUnavailable = errors.New("venue unavailable")
)

// Order is what the gate asks a venue to settle.
type Order struct {
	Symbol string          `json:"symbol"`
	Side   ledger.Side     `json:"side"`
	Amount decimal.Decimal `json:"amount"`
	Price  decimal.Decimal `json:"price"`
}

// Receipt confirms a settled order.
type Receipt struct {
	Venue     string
	TxHash    string
	SettledAt time.Time
}

// Venue settles orders. Settle may block; callers bound it with ctx.
type Venue interface {
	Name() string
	GasFee(symbol string) decimal.Decimal
	Settle(ctx context.Context, o Order) (Receipt, error)
}

// Simulated settles instantly with a synthetic hash.
type Simulated struct {
	gas decimal.Decimal
	now func() time.Time
}

var _ Venue = (*Simulated)(nil)

// NewSimulated creates a simulated venue charging a flat gas fee per order.
func NewSimulated(gas decimal.Decimal) *Simulated {
	return &Simulated{gas: gas, now: time.Now}
}

func (s *Simulated) Name() string { return "simulated" }

func (s *Simulated) GasFee(string) decimal.Decimal { return s.gas }

// Settle never fails unless ctx is already done.
func (s *Simulated) Settle(ctx context.Context, _ Order) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}
	at := s.now()
	return Receipt{Venue: s.Name(), TxHash: "sim-" + id.At(at), SettledAt: at}, nil
}
