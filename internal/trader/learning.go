package trader

import (
	"sync"

	"go.uber.org/zap"

	"paper-trade-engine-go/internal/ledger"
)

// Learner turns user feedback on transactions into weight adjustments.
type Learner struct {
	mu     sync.RWMutex
	params ledger.LearningParams
	ledger *ledger.Ledger
	logger *zap.Logger
}

// NewLearner creates a learner starting from params.
func NewLearner(params ledger.LearningParams, l *ledger.Ledger, logger *zap.Logger) *Learner {
	return &Learner{params: params.Normalized(), ledger: l, logger: logger.Named("learner")}
}

// Params returns the current weights.
func (l *Learner) Params() ledger.LearningParams {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.params
}

// SetParams replaces the weights, e.g. after a reset.
func (l *Learner) SetParams(p ledger.LearningParams) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.params = p.Normalized()
}

// ApplyFeedback records fb on the transaction and adjusts the weights. Each
// transaction accepts feedback once; later attempts fail with
// ledger.ErrFeedbackAlreadyApplied and leave the weights untouched.
func (l *Learner) ApplyFeedback(txID string, fb ledger.Feedback) (ledger.LearningParams, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.ledger.AttachFeedback(txID, fb); err != nil {
		return l.params, err
	}
	l.params = l.params.Adjusted(fb)
	l.logger.Info("Feedback applied",
		zap.String("tx_id", txID),
		zap.String("feedback", string(fb)),
		zap.Float64("rsi_weight", l.params.RsiWeight),
		zap.Float64("macd_weight", l.params.MacdWeight),
		zap.Float64("win_rate", l.params.WinRate),
	)
	return l.params, nil
}
