package feed

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"paper-trade-engine-go/internal/market"
)

// Simulated is a PriceFeed backed by the random-walk simulator. Every call advances
// each requested symbol by one tick.
type Simulated struct {
	mu     sync.Mutex
	sim    *market.Simulator
	states map[string]market.State
}

var _ PriceFeed = (*Simulated)(nil)

// NewSimulated seeds one state per symbol. Symbols without a price in initial are
// skipped.
func NewSimulated(sim *market.Simulator, initial map[string]decimal.Decimal, volume decimal.Decimal) *Simulated {
	s := &Simulated{sim: sim, states: make(map[string]market.State, len(initial))}
	for sym, price := range initial {
		if price.IsPositive() {
			s.states[sym] = sim.Seed(sym, price, volume)
		}
	}
	return s
}

// Initial returns the current state of every seeded symbol without advancing.
func (s *Simulated) Initial() map[string]market.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]market.State, len(s.states))
	for sym, st := range s.states {
		out[sym] = st
	}
	return out
}

// GetPrices advances and returns the requested symbols. It never fails.
func (s *Simulated) GetPrices(ctx context.Context, symbols []string) (map[string]market.Quote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]market.Quote, len(symbols))
	for _, sym := range symbols {
		st, ok := s.states[sym]
		if !ok {
			continue
		}
		st = s.sim.Advance(st)
		s.states[sym] = st
		out[sym] = market.Quote{Price: st.Price, Volume: st.Volume}
	}
	return out, nil
}
