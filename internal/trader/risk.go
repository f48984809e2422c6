package trader

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"paper-trade-engine-go/internal/config"
	"paper-trade-engine-go/internal/ledger"
	"paper-trade-engine-go/internal/market"
)

// Exit triggers, in the order they are evaluated.
const (
	TriggerEmergency  = "emergency_derisk"
	TriggerStopLoss   = "stop_loss"
	TriggerTakeProfit = "take_profit"
	TriggerTrailing   = "trailing_stop"
)

// ExitResult is the outcome of one triggered exit.
type ExitResult struct {
	Symbol  string
	Trigger string
	Return  float64
	Tx      *ledger.Transaction
	Err     error
}

// RiskManager closes positions that breach their exit thresholds and vets strategy
// entries against portfolio caps.
type RiskManager struct {
	mu     sync.RWMutex
	cfg    config.Risk
	gate   *Gate
	logger *zap.Logger
}

// NewRiskManager creates a risk manager and registers its entry check on the gate.
func NewRiskManager(cfg config.Risk, gate *Gate, logger *zap.Logger) (*RiskManager, error) {
	if err := ValidateThresholds(cfg); err != nil {
		return nil, err
	}
	r := &RiskManager{cfg: cfg, gate: gate, logger: logger.Named("risk")}
	gate.AddCheck(r.CheckEntry)
	return r, nil
}

// ValidateThresholds rejects nonsensical settings.
func ValidateThresholds(cfg config.Risk) error {
	switch {
	case cfg.StopLoss >= 0:
		return fmt.Errorf("%w: stop_loss must be negative, got %v", ErrInvalidThresholds, cfg.StopLoss)
	case cfg.TakeProfit <= 0:
		return fmt.Errorf("%w: take_profit must be positive, got %v", ErrInvalidThresholds, cfg.TakeProfit)
	case cfg.TrailingPct < 0 || cfg.TrailingPct >= 1:
		return fmt.Errorf("%w: trailing_pct must be in [0, 1), got %v", ErrInvalidThresholds, cfg.TrailingPct)
	case cfg.EmergencyTolerance < 0:
		return fmt.Errorf("%w: emergency_tolerance must not be negative", ErrInvalidThresholds)
	case cfg.MaxConcentration < 0 || cfg.MaxConcentration > 1:
		return fmt.Errorf("%w: max_concentration must be in [0, 1], got %v", ErrInvalidThresholds, cfg.MaxConcentration)
	case cfg.MaxPositions < 0:
		return fmt.Errorf("%w: max_positions must not be negative", ErrInvalidThresholds)
	}
	return nil
}

// Thresholds returns the settings in force.
func (r *RiskManager) Thresholds() config.Risk {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

// SetThresholds replaces the settings. Open positions keep their exit plan.
func (r *RiskManager) SetThresholds(cfg config.Risk) error {
	if err := ValidateThresholds(cfg); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg = cfg
	return nil
}

// ExitPlan is stamped on positions opened now.
func (r *RiskManager) ExitPlan() ledger.ExitPlan {
	cfg := r.Thresholds()
	return ledger.ExitPlan{StopLoss: cfg.StopLoss, TakeProfit: cfg.TakeProfit, TrailingPct: cfg.TrailingPct}
}

// Evaluate returns the first exit trigger that fires for pos at st, if any.
func (r *RiskManager) Evaluate(pos ledger.Position, st market.State) (string, float64, bool) {
	cfg := r.Thresholds()
	stop, take, trail := cfg.StopLoss, cfg.TakeProfit, cfg.TrailingPct
	if pos.ExitPlan.StopLoss != 0 {
		stop = pos.ExitPlan.StopLoss
	}
	if pos.ExitPlan.TakeProfit != 0 {
		take = pos.ExitPlan.TakeProfit
	}
	if pos.ExitPlan.TrailingPct != 0 {
		trail = pos.ExitPlan.TrailingPct
	}

	ratio := pos.ReturnAt(st.Price).InexactFloat64()
	switch {
	case st.Regime == market.Volatile && ratio < -cfg.EmergencyTolerance:
		return TriggerEmergency, ratio, true
	case ratio <= stop:
		return TriggerStopLoss, ratio, true
	case ratio >= take:
		return TriggerTakeProfit, ratio, true
	case trail > 0 && ratio >= cfg.TrailingFloor &&
		st.Price.LessThan(pos.HighestPrice.Mul(decimal.NewFromFloat(1-trail))):
		return TriggerTrailing, ratio, true
	}
	return "", ratio, false
}

// Sweep checks every open position, in symbol order, and sells those that trigger.
// Failures are reported in the results and not retried within the sweep.
func (r *RiskManager) Sweep(ctx context.Context, pf ledger.Portfolio, book *market.Book) []ExitResult {
	symbols := make([]string, 0, len(pf.Positions))
	for sym := range pf.Positions {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	var results []ExitResult
	for _, sym := range symbols {
		pos := pf.Positions[sym]
		st, ok := book.Get(sym)
		if !ok || !st.Price.IsPositive() {
			continue
		}
		trigger, ratio, fire := r.Evaluate(pos, st)
		if !fire {
			continue
		}

		logger := r.logger.With(zap.String("symbol", sym), zap.String("trigger", trigger), zap.Float64("return", ratio))
		logger.Info("Exit triggered")

		res := ExitResult{Symbol: sym, Trigger: trigger, Return: ratio}
		tx, err := r.gate.Execute(ctx, Order{
			Symbol: sym,
			Side:   ledger.Sell,
			Amount: pos.Amount,
			Price:  st.Price,
			Reason: fmt.Sprintf("%s at %.2f%%", trigger, ratio*100),
			Source: SourceRisk,
		})
		if err != nil {
			logger.Error("Exit failed", zap.Error(err))
			res.Err = err
		} else {
			res.Tx = &tx
		}
		results = append(results, res)
	}
	return results
}

// CheckEntry rejects a BUY that would open too many positions or concentrate too
// much of the portfolio in one symbol.
func (r *RiskManager) CheckEntry(o Order, pf ledger.Portfolio) error {
	if o.Side != ledger.Buy {
		return nil
	}
	cfg := r.Thresholds()

	if _, held := pf.Positions[o.Symbol]; !held && cfg.MaxPositions > 0 && len(pf.Positions) >= cfg.MaxPositions {
		return fmt.Errorf("%w: %d open", ErrPositionLimit, len(pf.Positions))
	}

	if cfg.MaxConcentration > 0 {
		resulting := pf.PositionValue(o.Symbol).Add(o.Amount.Mul(o.Price))
		limit := pf.TotalValue.Mul(decimal.NewFromFloat(cfg.MaxConcentration))
		if resulting.GreaterThan(limit) {
			return fmt.Errorf("%w: %s would be %s of %s (cap %s)", ErrConcentrationLimit, o.Symbol,
				resulting.StringFixed(2), pf.TotalValue.StringFixed(2), limit.StringFixed(2))
		}
	}
	return nil
}
