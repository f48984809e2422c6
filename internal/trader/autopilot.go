package trader

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"paper-trade-engine-go/internal/ledger"
)

// Autopilot runs a strategy once per tick and enforces the session bootstrap rule:
// until the first trade of the session only allow-listed assets are considered, and
// when none of them is tradable scouting is deferred until the ledger changes.
type Autopilot struct {
	strategy Strategy
	gate     *Gate
	ledger   *ledger.Ledger
	logger   *zap.Logger

	mu             sync.Mutex
	sessionVersion uint64
	bootstrapped   bool
	deferred       bool
	deferredAt     uint64
}

// NewAutopilot starts a session at the ledger's current version.
func NewAutopilot(s Strategy, gate *Gate, l *ledger.Ledger, logger *zap.Logger) *Autopilot {
	return &Autopilot{
		strategy:       s,
		gate:           gate,
		ledger:         l,
		logger:         logger.Named("autopilot"),
		sessionVersion: l.Version(),
	}
}

// Reset starts a new session.
func (a *Autopilot) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessionVersion = a.ledger.Version()
	a.bootstrapped = false
	a.deferred = false
}

// Bootstrapped reports whether the session has traded yet.
func (a *Autopilot) Bootstrapped() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.bootstrapped
}

// Deferred reports whether scouting is parked waiting for a ledger change.
func (a *Autopilot) Deferred() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.deferred
}

// Strategy returns the strategy being run.
func (a *Autopilot) Strategy() Strategy { return a.strategy }

// Step scouts and executes at most one order. It returns the booked transaction,
// or nil when the strategy held.
func (a *Autopilot) Step(ctx context.Context, sc StrategyContext) (*ledger.Transaction, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	v := a.ledger.Version()
	if a.deferred && v == a.deferredAt {
		return nil, nil
	}
	a.deferred = false
	if v != a.sessionVersion {
		a.bootstrapped = true
	}

	sc.Bootstrapped = a.bootstrapped
	sc.Logger = a.logger
	order, err := a.strategy.Scout(sc)
	if errors.Is(err, ErrNothingTradable) {
		if !a.bootstrapped {
			a.deferred = true
			a.deferredAt = v
			a.logger.Info("No bootstrap asset is tradable, deferring until the portfolio changes",
				zap.Uint64("version", v))
		}
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, nil
	}

	tx, err := a.gate.Execute(ctx, *order)
	if err != nil {
		return nil, err
	}
	a.bootstrapped = true
	return &tx, nil
}
