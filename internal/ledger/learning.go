package ledger

const (
	MinWeight = 0.1
	MaxWeight = 2.0

	goodFactor = 1.05
	badFactor  = 0.95
)

// LearningParams are the scalar weights nudged by trade feedback.
type LearningParams struct {
	RsiWeight         float64 `json:"rsi_weight"`
	MacdWeight        float64 `json:"macd_weight"`
	SentimentWeight   float64 `json:"sentiment_weight"`
	SecurityWeight    float64 `json:"security_weight"`
	FundamentalWeight float64 `json:"fundamental_weight"`
	WinRate           float64 `json:"win_rate"`
	TotalTrades       int     `json:"total_trades"`
	Wins              int     `json:"wins"`
}

// DefaultLearningParams starts every weight at 1.
func DefaultLearningParams() LearningParams {
	return LearningParams{
		RsiWeight:         1,
		MacdWeight:        1,
		SentimentWeight:   1,
		SecurityWeight:    1,
		FundamentalWeight: 1,
	}
}

// Adjusted returns the params after one feedback: weights scaled by 1.05 (GOOD)
// or 0.95 (BAD) and clamped, counters advanced.
func (p LearningParams) Adjusted(fb Feedback) LearningParams {
	factor := badFactor
	if fb == FeedbackGood {
		factor = goodFactor
		p.Wins++
	}
	for _, w := range p.weights() {
		*w = ClampWeight(*w * factor)
	}
	p.TotalTrades++
	p.WinRate = float64(p.Wins) / float64(p.TotalTrades)
	return p
}

// Normalized clamps weights into range, replacing unset (zero) weights with 1.
func (p LearningParams) Normalized() LearningParams {
	for _, w := range p.weights() {
		if *w == 0 {
			*w = 1
		}
		*w = ClampWeight(*w)
	}
	if p.Wins > p.TotalTrades {
		p.Wins = p.TotalTrades
	}
	return p
}

func (p *LearningParams) weights() []*float64 {
	return []*float64{&p.RsiWeight, &p.MacdWeight, &p.SentimentWeight, &p.SecurityWeight, &p.FundamentalWeight}
}

// ClampWeight bounds w to [MinWeight, MaxWeight].
func ClampWeight(w float64) float64 {
	switch {
	case w < MinWeight:
		return MinWeight
	case w > MaxWeight:
		return MaxWeight
	}
	return w
}
