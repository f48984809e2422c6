package ledger

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// Ledger owns cash, positions and the transaction log. Every method is safe for
// concurrent use; mutations happen under one write lock so readers never observe
// a half-applied trade.
type Ledger struct {
	mu        sync.RWMutex
	cash      decimal.Decimal
	positions map[string]*Position
	marks     map[string]Mark
	txs       []Transaction
	maxTxs    int
	version   uint64
}

// New creates a ledger holding only cash. maxTxs bounds the in-memory log (0 means unbounded).
func New(cash decimal.Decimal, maxTxs int) *Ledger {
	return &Ledger{
		cash:      cash,
		positions: make(map[string]*Position),
		marks:     make(map[string]Mark),
		maxTxs:    maxTxs,
	}
}

// Restore builds a ledger from a persisted bundle, refusing states that break the invariants.
func Restore(b Bundle, maxTxs int) (*Ledger, error) {
	l := New(decimal.Zero, maxTxs)
	if err := l.Replace(b); err != nil {
		return nil, err
	}
	return l, nil
}

// Replace swaps the whole state for the bundle's in one step. Marks survive so the
// portfolio keeps its valuation across a reset.
func (l *Ledger) Replace(b Bundle) error {
	positions := make(map[string]*Position, len(b.Account.Positions))
	for _, p := range b.Account.Positions {
		p := p
		if p.Amount.LessThan(Epsilon) {
			continue
		}
		if p.HighestPrice.LessThan(p.EntryPrice) {
			p.HighestPrice = p.EntryPrice
		}
		positions[p.Symbol] = &p
	}
	if err := checkState(b.Account.Cash, positions); err != nil {
		return err
	}

	txs := append([]Transaction(nil), b.Transactions...)
	sort.SliceStable(txs, func(i, j int) bool { return txs[i].Timestamp.Before(txs[j].Timestamp) })

	l.mu.Lock()
	defer l.mu.Unlock()
	l.cash = b.Account.Cash
	l.positions = positions
	l.txs = txs
	l.trimLocked()
	l.version++
	return nil
}

// Version increases every time cash or inventory changes.
func (l *Ledger) Version() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.version
}

// Cash returns the current cash balance.
func (l *Ledger) Cash() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cash
}

// Position returns a copy of the position for symbol.
func (l *Ledger) Position(symbol string) (Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.positions[symbol]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// Snapshot returns a consistent view with derived totals.
func (l *Ledger) Snapshot() Portfolio {
	l.mu.RLock()
	defer l.mu.RUnlock()

	pf := Portfolio{
		Cash:      l.cash,
		Positions: make(map[string]Position, len(l.positions)),
		Prices:    make(map[string]decimal.Decimal, len(l.marks)),
		Version:   l.version,
	}
	for sym, m := range l.marks {
		pf.Prices[sym] = m.Price
	}

	total := l.cash
	pnl := decimal.Zero
	for sym, p := range l.positions {
		pf.Positions[sym] = *p
		price := pf.PriceOf(sym)
		value := p.Amount.Mul(price)
		total = total.Add(value)
		if m, ok := l.marks[sym]; ok && m.Change24h > -100 {
			// value * chg / (100 + chg) is the move since the 24h reference price.
			chg := decimal.NewFromFloat(m.Change24h)
			pnl = pnl.Add(value.Mul(chg).Div(chg.Add(decimal.NewFromInt(100))))
		}
	}
	pf.TotalValue = total
	pf.Pnl24h = pnl
	return pf
}

// Account returns the persistable balances.
func (l *Ledger) Account() Account {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.accountLocked()
}

func (l *Ledger) accountLocked() Account {
	positions := lo.MapToSlice(l.positions, func(_ string, p *Position) Position { return *p })
	sort.Slice(positions, func(i, j int) bool { return positions[i].Symbol < positions[j].Symbol })
	return Account{Cash: l.cash, Positions: positions}
}

// Export returns the account and the transaction log read under a single lock.
func (l *Ledger) Export() (Account, []Transaction) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.accountLocked(), append([]Transaction(nil), l.txs...)
}

// MarkToMarket records the latest prices and raises high-watermarks of held
// positions. It reports whether any high-watermark moved.
func (l *Ledger) MarkToMarket(marks map[string]Mark) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	moved := false
	for sym, m := range marks {
		if !m.Price.IsPositive() {
			continue
		}
		l.marks[sym] = m
		if p, ok := l.positions[sym]; ok && m.Price.GreaterThan(p.HighestPrice) {
			p.HighestPrice = m.Price
			moved = true
		}
	}
	return moved
}

// Validate checks that a fill could be applied right now without mutating anything.
func (l *Ledger) Validate(f Fill) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, _, err := l.planLocked(f)
	return err
}

// Apply books a fill: cash, position and log entry change together or not at all.
func (l *Ledger) Apply(f Fill) (Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cash, pos, err := l.planLocked(f)
	if err != nil {
		return Transaction{}, err
	}

	positions := map[string]*Position{}
	if pos != nil {
		positions[pos.Symbol] = pos
	}
	if err := checkState(cash, positions); err != nil {
		return Transaction{}, err
	}

	tx := Transaction{
		ID:        f.ID,
		Type:      f.Side,
		Symbol:    f.Symbol,
		Amount:    f.Amount,
		Price:     f.Price,
		Fee:       f.Fee,
		Timestamp: f.Time,
		Venue:     f.Venue,
		TxHash:    f.TxHash,
		Reason:    f.Reason,
		Source:    f.Source,
	}
	if tx.Timestamp.IsZero() {
		tx.Timestamp = time.Now()
	}
	if f.Side == Sell {
		prev := l.positions[f.Symbol]
		realized := f.Price.Sub(prev.EntryPrice).Mul(f.Amount)
		tx.RealizedPnl = &realized
	}

	l.cash = cash
	if pos == nil || pos.Amount.LessThan(Epsilon) {
		delete(l.positions, f.Symbol)
	} else {
		l.positions[f.Symbol] = pos
	}
	l.txs = append(l.txs, tx)
	l.trimLocked()
	l.version++
	return tx, nil
}

// planLocked computes the post-trade cash and position without committing them.
func (l *Ledger) planLocked(f Fill) (decimal.Decimal, *Position, error) {
	if !f.Amount.IsPositive() || !f.Price.IsPositive() || f.Fee.IsNegative() {
		return decimal.Zero, nil, ErrInvalidAmount
	}
	notional := f.Amount.Mul(f.Price)

	switch f.Side {
	case Buy:
		cost := notional.Add(f.Fee)
		if cost.GreaterThan(l.cash) {
			return decimal.Zero, nil, fmt.Errorf("%w: need %s, have %s", ErrInsufficientFunds,
				cost.StringFixed(8), l.cash.StringFixed(8))
		}
		var next Position
		if cur, ok := l.positions[f.Symbol]; ok {
			next = *cur
			total := cur.Amount.Add(f.Amount)
			next.EntryPrice = cur.Amount.Mul(cur.EntryPrice).Add(notional).Div(total)
			next.Amount = total
			if f.Price.GreaterThan(next.HighestPrice) {
				next.HighestPrice = f.Price
			}
		} else {
			next = Position{
				Symbol:       f.Symbol,
				Amount:       f.Amount,
				EntryPrice:   f.Price,
				HighestPrice: f.Price,
				OpenReason:   f.Reason,
				ExitPlan:     f.ExitPlan,
				OpenedAt:     f.Time,
			}
		}
		return l.cash.Sub(cost), &next, nil

	case Sell:
		cur, ok := l.positions[f.Symbol]
		if !ok {
			return decimal.Zero, nil, fmt.Errorf("%w: no %s position", ErrInsufficientInventory, f.Symbol)
		}
		if f.Amount.GreaterThan(cur.Amount.Add(Epsilon)) {
			return decimal.Zero, nil, fmt.Errorf("%w: have %s %s, want %s", ErrInsufficientInventory,
				cur.Amount.String(), f.Symbol, f.Amount.String())
		}
		next := *cur
		next.Amount = decimal.Max(cur.Amount.Sub(f.Amount), decimal.Zero)
		return l.cash.Add(notional).Sub(f.Fee), &next, nil
	}
	return decimal.Zero, nil, fmt.Errorf("%w: unknown side %q", ErrInvalidAmount, f.Side)
}

func checkState(cash decimal.Decimal, positions map[string]*Position) error {
	if cash.IsNegative() {
		return fmt.Errorf("%w: cash balance %s is negative", ErrInvariantViolation, cash.String())
	}
	for sym, p := range positions {
		if p.Amount.IsNegative() {
			return fmt.Errorf("%w: %s amount %s is negative", ErrInvariantViolation, sym, p.Amount.String())
		}
		if p.Amount.GreaterThan(Epsilon) && !p.EntryPrice.IsPositive() {
			return fmt.Errorf("%w: %s entry price %s is not positive", ErrInvariantViolation, sym, p.EntryPrice.String())
		}
	}
	return nil
}

// CheckInvariants verifies the current state.
func (l *Ledger) CheckInvariants() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return checkState(l.cash, l.positions)
}

// Transactions returns a copy of the log, oldest first.
func (l *Ledger) Transactions() []Transaction {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Transaction(nil), l.txs...)
}

// Transaction looks up one log entry.
func (l *Ledger) Transaction(txID string) (Transaction, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	tx, _, ok := lo.FindIndexOf(l.txs, func(t Transaction) bool { return t.ID == txID })
	return tx, ok
}

// AttachFeedback sets the feedback of a transaction exactly once.
func (l *Ledger) AttachFeedback(txID string, fb Feedback) (Transaction, error) {
	if !fb.Valid() {
		return Transaction{}, ErrInvalidFeedback
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := range l.txs {
		if l.txs[i].ID != txID {
			continue
		}
		if l.txs[i].Feedback != "" {
			return l.txs[i], fmt.Errorf("%w: %s already marked %s", ErrFeedbackAlreadyApplied, txID, l.txs[i].Feedback)
		}
		l.txs[i].Feedback = fb
		return l.txs[i], nil
	}
	return Transaction{}, fmt.Errorf("%w: %s", ErrTransactionNotFound, txID)
}

func (l *Ledger) trimLocked() {
	if l.maxTxs > 0 && len(l.txs) > l.maxTxs {
		l.txs = append([]Transaction(nil), l.txs[len(l.txs)-l.maxTxs:]...)
	}
}
