package trader

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"paper-trade-engine-go/internal/config"
	"paper-trade-engine-go/internal/ledger"
	"paper-trade-engine-go/internal/market"
)

// ErrNothingTradable is returned by a strategy when no symbol is eligible at all.
var ErrNothingTradable = errors.New("no tradable symbol")

// StrategyContext is the read-only view a strategy decides on.
type StrategyContext struct {
	Logger       *zap.Logger
	Portfolio    ledger.Portfolio
	Market       []market.State
	ProfileName  string
	Profile      config.Profile
	Params       ledger.LearningParams
	ExitPlan     ledger.ExitPlan
	Now          time.Time
	LastEntry    time.Time
	Bootstrapped bool
}

// Strategy defines the interface for a trading strategy.
type Strategy interface {
	// Name returns the unique name of the strategy.
	Name() string

	// Scout proposes at most one order for this tick. A nil order means hold.
	Scout(sc StrategyContext) (*Order, error)
}
