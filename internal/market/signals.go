package market

import (
	"fmt"
	"math"

	"github.com/cinar/indicator"
	"github.com/samber/lo"
)

const (
	rsiPeriod     = 14
	minRsiHistory = rsiPeriod + 1
	// MACD uses the 26-period EMA; give it room to settle.
	minMacdHistory = 35

	oversold   = 30
	overbought = 70
)

// Signals are the indicator readings of one symbol.
type Signals struct {
	RSI           float64 `json:"rsi"`
	MACD          float64 `json:"macd"`
	MACDSignal    float64 `json:"macd_signal"`
	HasRSI        bool    `json:"has_rsi"`
	HasMACD       bool    `json:"has_macd"`
	RsiVote       float64 `json:"rsi_vote"`  // +1 oversold, -1 overbought, 0 otherwise
	MacdVote      float64 `json:"macd_vote"` // +1 histogram above zero, -1 below
	WeightedScore float64 `json:"weighted_score"`
}

// ComputeSignals derives RSI(14) and MACD(12,26,9) from the state's history and
// combines their votes with the given weights. Positive scores favour buying.
func ComputeSignals(st State, rsiWeight, macdWeight float64) Signals {
	var s Signals
	closing := st.History

	if len(closing) >= minRsiHistory {
		_, rsi := indicator.RsiPeriod(rsiPeriod, closing)
		s.RSI = lo.LastOrEmpty(rsi)
		// A flat series has no losses and yields NaN.
		s.HasRSI = !math.IsNaN(s.RSI)
		switch {
		case s.RSI < oversold:
			s.RsiVote = 1
		case s.RSI > overbought:
			s.RsiVote = -1
		}
	}

	if len(closing) >= minMacdHistory {
		macd, signal := indicator.Macd(closing)
		s.MACD = lo.LastOrEmpty(macd)
		s.MACDSignal = lo.LastOrEmpty(signal)
		s.HasMACD = !math.IsNaN(s.MACD) && !math.IsNaN(s.MACDSignal)
		switch hist := s.MACD - s.MACDSignal; {
		case !s.HasMACD:
		case hist > 0:
			s.MacdVote = 1
		case hist < 0:
			s.MacdVote = -1
		}
	}

	s.WeightedScore = rsiWeight*s.RsiVote + macdWeight*s.MacdVote
	return s
}

// String renders the readings for open reasons and logs.
func (s Signals) String() string {
	switch {
	case s.HasRSI && s.HasMACD:
		return fmt.Sprintf("rsi=%.1f macd=%.4f score=%.2f", s.RSI, s.MACD-s.MACDSignal, s.WeightedScore)
	case s.HasRSI:
		return fmt.Sprintf("rsi=%.1f score=%.2f", s.RSI, s.WeightedScore)
	}
	return "signals warming up"
}
