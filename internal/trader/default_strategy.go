package trader

import (
	"go.uber.org/zap"

	"paper-trade-engine-go/internal/config"
)

// DefaultStrategy trades the single symbol with the largest recent move.
type DefaultStrategy struct {
	cfg config.Strategy
}

// NewDefaultStrategy creates the default strategy.
func NewDefaultStrategy(cfg config.Strategy) *DefaultStrategy {
	return &DefaultStrategy{cfg: cfg}
}

func (s *DefaultStrategy) Name() string {
	return "Default"
}

func (s *DefaultStrategy) Scout(sc StrategyContext) (*Order, error) {
	if !cooledDown(sc) {
		return nil, nil
	}

	candidates := eligible(s.cfg, sc)
	if len(candidates) == 0 {
		return nil, ErrNothingTradable
	}

	target := candidates[0]
	sc.Logger.Debug("Scouting target", zap.String("strategy", s.Name()), zap.String("symbol", target.Symbol),
		zap.Float64("last_move", target.LastMove()))
	return proposeFor(s.cfg, sc, target), nil
}
