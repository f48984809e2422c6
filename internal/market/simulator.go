package market

import (
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// ToleranceMultiplier scales the base volatility by the configured risk tolerance.
func ToleranceMultiplier(tolerance string) float64 {
	switch strings.ToLower(tolerance) {
	case "low":
		return 0.5
	case "high":
		return 2
	}
	return 1
}

// SimulatorConfig configures the random walk.
type SimulatorConfig struct {
	BaseVolatility float64 // fraction of price, before tolerance scaling
	RiskTolerance  string  // low, medium or high
	MaxStepPct     float64 // hard cap on one tick's relative move
	Windows        Windows
	Seed           int64 // 0 seeds from the clock
}

// Simulator produces a bounded random walk. It is synchronous and never fails.
type Simulator struct {
	mu      sync.Mutex
	rng     *rand.Rand
	factor  float64
	maxStep float64
	windows Windows
	bounds  map[string][2]float64
}

// NewSimulator creates a simulator.
func NewSimulator(cfg SimulatorConfig) *Simulator {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	maxStep := cfg.MaxStepPct
	if maxStep <= 0 || maxStep >= 1 {
		maxStep = 0.05
	}
	return &Simulator{
		rng:     rand.New(rand.NewSource(seed)),
		factor:  cfg.BaseVolatility * ToleranceMultiplier(cfg.RiskTolerance),
		maxStep: maxStep,
		windows: cfg.Windows.normalized(),
		bounds:  make(map[string][2]float64),
	}
}

// VolatilityFactor is the effective per-tick perturbation scale.
func (s *Simulator) VolatilityFactor() float64 { return s.factor }

// Windows returns the trailing window sizes applied by Advance.
func (s *Simulator) Windows() Windows { return s.windows }

// Seed registers a symbol's starting state and fixes its price band to
// [initial/100, initial*100].
func (s *Simulator) Seed(symbol string, price, volume decimal.Decimal) State {
	p := price.InexactFloat64()
	s.mu.Lock()
	s.bounds[symbol] = [2]float64{p / 100, p * 100}
	s.mu.Unlock()
	return NewState(symbol, price, volume)
}

// Advance applies one perturbation Δ = U(-1,1) × price × factor and returns the new state.
func (s *Simulator) Advance(st State) State {
	s.mu.Lock()
	u := s.rng.Float64()*2 - 1
	v := s.rng.Float64()*2 - 1
	band, ok := s.bounds[st.Symbol]
	s.mu.Unlock()

	price := st.Price.InexactFloat64()
	if !ok {
		band = [2]float64{price / 100, price * 100}
	}

	step := u * s.factor
	if step > s.maxStep {
		step = s.maxStep
	} else if step < -s.maxStep {
		step = -s.maxStep
	}
	next := clamp(price*(1+step), band[0], band[1])
	if next <= 0 {
		next = price
	}

	vol := st.Volume.InexactFloat64() * (1 + 0.05*v)
	if vol < 0 {
		vol = 0
	}

	return st.Observe(decimal.NewFromFloat(next).Round(8), decimal.NewFromFloat(vol).Round(4), s.windows)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
