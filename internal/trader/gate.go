package trader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"paper-trade-engine-go/internal/id"
	"paper-trade-engine-go/internal/ledger"
	"paper-trade-engine-go/internal/notify"
	"paper-trade-engine-go/internal/venue"
)

// Source identifies who asked for an order.
type Source string

const (
	SourceManual   Source = "manual"
	SourceStrategy Source = "strategy"
	SourceRisk     Source = "risk"
)

// Autonomous orders never wait for the execution lock.
func (s Source) Autonomous() bool { return s == SourceStrategy || s == SourceRisk }

// amountPrecision is the number of decimals a shrunk strategy BUY is truncated to.
const amountPrecision = 8

// Order is a request to trade through the gate.
type Order struct {
	Symbol   string
	Side     ledger.Side
	Amount   decimal.Decimal
	Price    decimal.Decimal
	Reason   string
	Source   Source
	ExitPlan ledger.ExitPlan
}

// PreTradeCheck vets a strategy BUY against the portfolio seen under the execution lock.
type PreTradeCheck func(o Order, pf ledger.Portfolio) error

// FeeSchedule is charged on every notional.
type FeeSchedule struct {
	SwapRate     decimal.Decimal
	SlippageRate decimal.Decimal
}

// Rate is the combined proportional fee.
func (f FeeSchedule) Rate() decimal.Decimal { return f.SwapRate.Add(f.SlippageRate) }

// Gate serializes every ledger mutation. At most one order is between validation
// and booking at any time.
type Gate struct {
	mu sync.Mutex // execution lock; guards every field below

	ledger         *ledger.Ledger
	venue          venue.Venue
	fees           FeeSchedule
	cooldown       time.Duration
	lastAutonomous time.Time
	checks         []PreTradeCheck
	haltErr        error

	sink   notify.Sink
	logger *zap.Logger
	now    func() time.Time
}

// NewGate creates a gate booking into l and settling on v.
func NewGate(l *ledger.Ledger, v venue.Venue, fees FeeSchedule, sink notify.Sink, logger *zap.Logger) *Gate {
	return &Gate{
		ledger: l,
		venue:  v,
		fees:   fees,
		sink:   sink,
		logger: logger.Named("gate"),
		now:    time.Now,
	}
}

// SetClock replaces the time source.
func (g *Gate) SetClock(now func() time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.now = now
}

// SetCooldown sets the minimum spacing between strategy executions.
func (g *Gate) SetCooldown(d time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cooldown = d
}

// SetVenue swaps the settlement venue once in-flight executions have finished.
func (g *Gate) SetVenue(v venue.Venue) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.venue = v
}

// Venue returns the current settlement venue.
func (g *Gate) Venue() venue.Venue {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.venue
}

// AddCheck registers a pre-trade check.
func (g *Gate) AddCheck(c PreTradeCheck) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.checks = append(g.checks, c)
}

// Drain blocks until no execution is in flight.
func (g *Gate) Drain() {
	g.mu.Lock()
	defer g.mu.Unlock()
}

// Halted returns the invariant violation that stopped the gate, or nil.
func (g *Gate) Halted() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.haltErr
}

// Halt stops every further execution until Reset. The first reason wins.
func (g *Gate) Halt(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.haltLocked(err)
}

func (g *Gate) haltLocked(err error) {
	if g.haltErr != nil {
		return
	}
	g.haltErr = err
	g.logger.Error("Invariant violated, halting executions", zap.Error(err))
	g.publish(notify.KindSystem, "", "trading halted: "+err.Error())
}

// Reset runs restore under the execution lock and, when it succeeds, clears the
// halt and the cooldown timestamp.
func (g *Gate) Reset(restore func() error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := restore(); err != nil {
		return err
	}
	g.haltErr = nil
	g.lastAutonomous = time.Time{}
	return nil
}

// LastAutonomous is the time of the last strategy or risk execution.
func (g *Gate) LastAutonomous() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastAutonomous
}

// CooldownRemaining is how long strategy orders will still be refused.
func (g *Gate) CooldownRemaining() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.lastAutonomous.IsZero() {
		return 0
	}
	if left := g.cooldown - g.now().Sub(g.lastAutonomous); left > 0 {
		return left
	}
	return 0
}

// Fee is the total fee for trading amount at price on the current venue.
func (g *Gate) Fee(symbol string, amount, price decimal.Decimal) decimal.Decimal {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.feeLocked(symbol, amount, price)
}

func (g *Gate) feeLocked(symbol string, amount, price decimal.Decimal) decimal.Decimal {
	return amount.Mul(price).Mul(g.fees.Rate()).Add(g.venue.GasFee(symbol))
}

// Execute validates, settles and books one order. Strategy and risk orders fail
// fast with ErrLocked when another execution holds the lock; manual orders wait.
func (g *Gate) Execute(ctx context.Context, o Order) (ledger.Transaction, error) {
	if !o.Amount.IsPositive() || !o.Price.IsPositive() {
		return ledger.Transaction{}, g.reject(o, ledger.ErrInvalidAmount)
	}

	if o.Source.Autonomous() {
		if !g.mu.TryLock() {
			return ledger.Transaction{}, g.reject(o, ErrLocked)
		}
	} else {
		g.mu.Lock()
	}
	defer g.mu.Unlock()

	if g.haltErr != nil {
		return ledger.Transaction{}, g.reject(o, ErrHalted)
	}

	now := g.now()
	if o.Source == SourceStrategy && !g.lastAutonomous.IsZero() && now.Sub(g.lastAutonomous) < g.cooldown {
		left := g.cooldown - now.Sub(g.lastAutonomous)
		return ledger.Transaction{}, g.reject(o, fmt.Errorf("%w: %s left", ErrCooldown, left.Round(time.Second)))
	}

	pf := g.ledger.Snapshot()
	if o.Source == SourceStrategy && o.Side == ledger.Buy {
		for _, check := range g.checks {
			if err := check(o, pf); err != nil {
				return ledger.Transaction{}, g.reject(o, err)
			}
		}
	}

	amount, fee := g.sizeLocked(o, pf.Cash)
	fill := ledger.Fill{
		ID:       id.At(now),
		Side:     o.Side,
		Symbol:   o.Symbol,
		Amount:   amount,
		Price:    o.Price,
		Fee:      fee,
		Venue:    g.venue.Name(),
		Reason:   o.Reason,
		Source:   string(o.Source),
		ExitPlan: o.ExitPlan,
		Time:     now,
	}
	if err := g.ledger.Validate(fill); err != nil {
		return ledger.Transaction{}, g.reject(o, err)
	}

	receipt, err := g.venue.Settle(ctx, venue.Order{Symbol: o.Symbol, Side: o.Side, Amount: amount, Price: o.Price})
	if err != nil {
		return ledger.Transaction{}, g.reject(o, err)
	}
	fill.Venue = receipt.Venue
	fill.TxHash = receipt.TxHash

	tx, err := g.ledger.Apply(fill)
	if err != nil {
		if receipt.TxHash != "" {
			g.logger.Error("Settled on venue but not booked",
				zap.String("venue", receipt.Venue),
				zap.String("tx_hash", receipt.TxHash),
				zap.String("symbol", o.Symbol),
				zap.String("side", string(o.Side)),
				zap.String("amount", amount.String()),
				zap.Error(err),
			)
		}
		if errors.Is(err, ledger.ErrInvariantViolation) {
			reason := err
			if receipt.TxHash != "" {
				reason = fmt.Errorf("%w (unbooked %s settlement %s)", err, receipt.Venue, receipt.TxHash)
			}
			g.haltLocked(reason)
		}
		return ledger.Transaction{}, g.reject(o, err)
	}

	if o.Source.Autonomous() {
		g.lastAutonomous = now
	}

	g.logger.Info("Order filled",
		zap.String("symbol", tx.Symbol),
		zap.String("side", string(tx.Type)),
		zap.String("amount", tx.Amount.String()),
		zap.String("price", tx.Price.String()),
		zap.String("fee", tx.Fee.String()),
		zap.String("source", tx.Source),
		zap.String("tx_hash", tx.TxHash),
	)
	g.publish(notify.KindFill, tx.Symbol, fmt.Sprintf("%s %s %s @ %s (fee %s, %s)",
		tx.Type, tx.Amount.String(), tx.Symbol, tx.Price.String(), tx.Fee.StringFixed(4), o.Reason))
	return tx, nil
}

// sizeLocked returns the amount to trade and its fee. A strategy BUY whose notional
// fits the cash but whose fee does not is shrunk to the largest affordable amount.
// Every other order is taken as requested and must cover amount×price plus fees.
func (g *Gate) sizeLocked(o Order, cash decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	amount := o.Amount
	fee := g.feeLocked(o.Symbol, amount, o.Price)
	if o.Side != ledger.Buy || o.Source != SourceStrategy {
		return amount, fee
	}

	notional := amount.Mul(o.Price)
	if notional.GreaterThan(cash) || notional.Add(fee).LessThanOrEqual(cash) {
		return amount, fee
	}

	budget := cash.Sub(g.venue.GasFee(o.Symbol))
	unit := o.Price.Mul(decimal.NewFromInt(1).Add(g.fees.Rate()))
	shrunk := budget.Div(unit).Truncate(amountPrecision)
	if !shrunk.IsPositive() {
		return amount, fee
	}
	g.logger.Debug("Shrinking buy to fit fees",
		zap.String("symbol", o.Symbol),
		zap.String("requested", amount.String()),
		zap.String("amount", shrunk.String()),
	)
	return shrunk, g.feeLocked(o.Symbol, shrunk, o.Price)
}

func (g *Gate) reject(o Order, err error) error {
	execErr := &ExecutionError{Op: "execute", Symbol: o.Symbol, Side: o.Side, Err: err}
	g.logger.Warn("Order rejected",
		zap.String("symbol", o.Symbol),
		zap.String("side", string(o.Side)),
		zap.String("source", string(o.Source)),
		zap.String("class", string(Classify(err))),
		zap.Error(err),
	)
	g.publish(notify.KindAlert, o.Symbol, fmt.Sprintf("%s %s rejected: %v", o.Side, o.Symbol, err))
	return execErr
}

func (g *Gate) publish(kind notify.Kind, symbol, msg string) {
	if g.sink == nil {
		return
	}
	g.sink.Publish(notify.Event{Kind: kind, Symbol: symbol, Message: msg, Timestamp: g.now()})
}
