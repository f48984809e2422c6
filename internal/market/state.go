package market

import (
	"math"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// Regime is a coarse classification of recent price behaviour.
type Regime string

const (
	TrendUp   Regime = "TREND_UP"
	TrendDown Regime = "TREND_DOWN"
	Range     Regime = "RANGE"
	Volatile  Regime = "VOLATILE"
)

const (
	volatileDeviation = 0.03
	trendThreshold    = 0.01
)

// Windows sizes the trailing series kept per symbol.
type Windows struct {
	Regime    int // prices used for regime classification
	Signal    int // prices kept for indicators
	Reference int // ticks back to the 24h reference price
}

// DefaultWindows are used when a zero Windows is passed.
var DefaultWindows = Windows{Regime: 20, Signal: 64, Reference: 288}

func (w Windows) normalized() Windows {
	if w.Regime < 2 {
		w.Regime = DefaultWindows.Regime
	}
	if w.Signal < w.Regime {
		w.Signal = w.Regime
	}
	if w.Reference < 1 {
		w.Reference = DefaultWindows.Reference
	}
	return w
}

// State is the market view of one symbol.
type State struct {
	Symbol        string          `json:"symbol"`
	Price         decimal.Decimal `json:"price"`
	PreviousPrice decimal.Decimal `json:"previous_price"`
	Change24h     float64         `json:"change_24h"` // percent
	Volume        decimal.Decimal `json:"volume"`
	Regime        Regime          `json:"regime"`

	// History holds the most recent prices, oldest first; the last entry is Price.
	History []float64 `json:"-"`
	// refs holds the prices of the reference window, oldest first.
	refs []float64
}

// NewState seeds a symbol at a starting price.
func NewState(symbol string, price, volume decimal.Decimal) State {
	p := price.InexactFloat64()
	return State{
		Symbol:        symbol,
		Price:         price,
		PreviousPrice: price,
		Volume:        volume,
		Regime:        Range,
		History:       []float64{p},
		refs:          []float64{p},
	}
}

// Observe returns the state after a new price/volume observation. The receiver is not modified.
func (s State) Observe(price, volume decimal.Decimal, w Windows) State {
	w = w.normalized()
	p := price.InexactFloat64()

	next := s
	next.PreviousPrice = s.Price
	if next.PreviousPrice.IsZero() {
		next.PreviousPrice = price
	}
	next.Price = price
	if !volume.IsNegative() {
		next.Volume = volume
	}

	next.History = appendWindow(s.History, p, w.Signal)
	next.refs = appendWindow(s.refs, p, w.Reference+1)

	ref := next.refs[0]
	if ref > 0 {
		next.Change24h = (p - ref) / ref * 100
	}
	next.Regime = Classify(lo.Subset(next.History, -w.Regime, uint(w.Regime)))
	return next
}

// appendWindow appends v and keeps at most n values, never aliasing the input slice.
func appendWindow(series []float64, v float64, n int) []float64 {
	out := make([]float64, 0, n)
	if len(series) >= n {
		series = series[len(series)-n+1:]
	}
	out = append(out, series...)
	return append(out, v)
}

// Classify derives the regime of a trailing window of prices.
func Classify(window []float64) Regime {
	if len(window) < 2 {
		return Range
	}
	lowest, highest := lo.Min(window), lo.Max(window)
	if lowest > 0 && (highest-lowest)/lowest > volatileDeviation {
		return Volatile
	}
	first, last := window[0], window[len(window)-1]
	if first <= 0 {
		return Range
	}
	switch change := (last - first) / first; {
	case change > trendThreshold:
		return TrendUp
	case change < -trendThreshold:
		return TrendDown
	}
	return Range
}

// RealizedVolatility is the sample standard deviation of tick returns, in percent.
func (s State) RealizedVolatility() float64 {
	if len(s.History) < 3 {
		return 0
	}
	returns := make([]float64, 0, len(s.History)-1)
	for i := 1; i < len(s.History); i++ {
		if prev := s.History[i-1]; prev > 0 {
			returns = append(returns, (s.History[i]-prev)/prev*100)
		}
	}
	if len(returns) < 2 {
		return 0
	}
	mean := lo.Sum(returns) / float64(len(returns))
	var sq float64
	for _, r := range returns {
		sq += (r - mean) * (r - mean)
	}
	return math.Sqrt(sq / float64(len(returns)-1))
}

// LastMove is |price - previous| / previous.
func (s State) LastMove() float64 {
	prev := s.PreviousPrice.InexactFloat64()
	if prev <= 0 {
		return 0
	}
	return math.Abs(s.Price.InexactFloat64()-prev) / prev
}

// Quote is one price feed observation.
type Quote struct {
	Price  decimal.Decimal `json:"price"`
	Volume decimal.Decimal `json:"volume"`
}
