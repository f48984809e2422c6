package trader

import (
	"go.uber.org/zap"

	"paper-trade-engine-go/internal/config"
)

// MultipleCoinsStrategy walks every eligible symbol, largest move first, and takes
// the first one that produces an order.
type MultipleCoinsStrategy struct {
	cfg config.Strategy
}

// NewMultipleCoinsStrategy creates the multi-symbol strategy.
func NewMultipleCoinsStrategy(cfg config.Strategy) *MultipleCoinsStrategy {
	return &MultipleCoinsStrategy{cfg: cfg}
}

func (s *MultipleCoinsStrategy) Name() string {
	return "MultipleCoins"
}

func (s *MultipleCoinsStrategy) Scout(sc StrategyContext) (*Order, error) {
	if !cooledDown(sc) {
		return nil, nil
	}

	candidates := eligible(s.cfg, sc)
	if len(candidates) == 0 {
		return nil, ErrNothingTradable
	}

	for _, st := range candidates {
		if order := proposeFor(s.cfg, sc, st); order != nil {
			return order, nil
		}
	}
	sc.Logger.Debug("No candidate produced an order", zap.String("strategy", s.Name()), zap.Int("candidates", len(candidates)))
	return nil, nil
}

// NewStrategy returns the strategy registered under name.
func NewStrategy(name string, cfg config.Strategy) Strategy {
	switch name {
	case "multiple_coins", "MultipleCoins":
		return NewMultipleCoinsStrategy(cfg)
	}
	return NewDefaultStrategy(cfg)
}
