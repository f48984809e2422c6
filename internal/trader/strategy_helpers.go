package trader

import (
	"fmt"
	"sort"
	"strings"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"paper-trade-engine-go/internal/config"
	"paper-trade-engine-go/internal/ledger"
	"paper-trade-engine-go/internal/market"
)

// minNotional is the smallest order worth sending.
var minNotional = decimal.New(1, -2)

// eligible returns the states a strategy may trade, largest last move first.
// Reserve assets are never traded; before the session's first trade only the
// bootstrap allow-list is considered.
func eligible(cfg config.Strategy, sc StrategyContext) []market.State {
	reserve := lo.SliceToMap(config.Upper(cfg.ReserveAssets), func(s string) (string, bool) { return s, true })
	allow := lo.SliceToMap(config.Upper(cfg.BootstrapAssets), func(s string) (string, bool) { return s, true })
	selected := strings.ToUpper(cfg.SelectedSymbol)

	out := lo.Filter(sc.Market, func(st market.State, _ int) bool {
		if !st.Price.IsPositive() || reserve[st.Symbol] {
			return false
		}
		if selected != "" && st.Symbol != selected {
			return false
		}
		if !sc.Bootstrapped && len(allow) > 0 && !allow[st.Symbol] {
			return false
		}
		return true
	})
	sort.SliceStable(out, func(i, j int) bool {
		mi, mj := out[i].LastMove(), out[j].LastMove()
		if mi != mj {
			return mi > mj
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out
}

// proposeFor applies the mean-reversion rule to one symbol: buy after a down tick,
// sell after an up tick, only when realized volatility clears the profile threshold.
func proposeFor(cfg config.Strategy, sc StrategyContext, st market.State) *Order {
	l := sc.Logger.With(zap.String("symbol", st.Symbol))

	vol := st.RealizedVolatility()
	if vol <= sc.Profile.VolatilityEntryThreshold {
		l.Debug("Volatility below entry threshold", zap.Float64("volatility", vol),
			zap.Float64("threshold", sc.Profile.VolatilityEntryThreshold))
		return nil
	}

	var side ledger.Side
	switch st.Price.Cmp(st.PreviousPrice) {
	case -1:
		side = ledger.Buy
	case 1:
		side = ledger.Sell
	default:
		return nil
	}

	fraction := decimal.NewFromFloat(sc.Profile.PositionSizeFraction)
	var amount decimal.Decimal
	if side == ledger.Buy {
		amount = sc.Portfolio.Cash.Mul(fraction).Div(st.Price).Truncate(amountPrecision)
	} else {
		pos, ok := sc.Portfolio.Positions[st.Symbol]
		if !ok {
			return nil
		}
		amount = pos.Amount.Mul(fraction).Truncate(amountPrecision)
	}
	if amount.Mul(st.Price).LessThan(minNotional) {
		l.Debug("Order too small", zap.String("side", string(side)), zap.String("amount", amount.String()))
		return nil
	}

	signals := market.ComputeSignals(st, sc.Params.RsiWeight, sc.Params.MacdWeight)
	if cfg.RequireSignalConfirmation && contradicts(side, signals.WeightedScore) {
		l.Info("Signals contradict entry, holding",
			zap.String("side", string(side)), zap.Float64("score", signals.WeightedScore))
		return nil
	}

	move := st.Price.Sub(st.PreviousPrice).Div(st.PreviousPrice).InexactFloat64() * 100
	return &Order{
		Symbol: st.Symbol,
		Side:   side,
		Amount: amount,
		Price:  st.Price,
		Reason: fmt.Sprintf("%s reversion after %+.2f%% (vol %.3f, %s, regime %s, %s)",
			sc.ProfileName, move, vol, signals, st.Regime, sideVerb(side)),
		Source:   SourceStrategy,
		ExitPlan: sc.ExitPlan,
	}
}

func contradicts(side ledger.Side, score float64) bool {
	return (side == ledger.Buy && score < 0) || (side == ledger.Sell && score > 0)
}

func sideVerb(side ledger.Side) string {
	if side == ledger.Buy {
		return "buying the dip"
	}
	return "trimming into strength"
}

// cooledDown reports whether the profile cooldown has elapsed since the last entry.
func cooledDown(sc StrategyContext) bool {
	return sc.LastEntry.IsZero() || sc.Now.Sub(sc.LastEntry) >= sc.Profile.Cooldown
}
