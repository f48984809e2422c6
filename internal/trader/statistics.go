package trader

import (
	"time"

	"github.com/shopspring/decimal"

	"paper-trade-engine-go/internal/ledger"
)

// StatsDetail holds calculated statistics for a given period.
type StatsDetail struct {
	TotalTrades      int64           `json:"total_trades"`
	ClosingTrades    int64           `json:"closing_trades"`
	ProfitableTrades int64           `json:"profitable_trades"`
	WinRate          float64         `json:"win_rate"`
	TotalProfit      decimal.Decimal `json:"total_profit"`
	TotalFees        decimal.Decimal `json:"total_fees"`
	Volume           decimal.Decimal `json:"volume"`
}

// Statistics summarizes the transaction log.
type Statistics struct {
	Since24h StatsDetail `json:"since_24h"`
	AllTime  StatsDetail `json:"all_time"`
}

func (d *StatsDetail) add(tx ledger.Transaction) {
	d.TotalTrades++
	d.TotalFees = d.TotalFees.Add(tx.Fee)
	d.Volume = d.Volume.Add(tx.Notional())
	if tx.RealizedPnl == nil {
		return
	}
	d.ClosingTrades++
	if tx.RealizedPnl.IsPositive() {
		d.ProfitableTrades++
	}
	d.TotalProfit = d.TotalProfit.Add(*tx.RealizedPnl)
}

func (d *StatsDetail) finish() {
	if d.ClosingTrades > 0 {
		d.WinRate = float64(d.ProfitableTrades) / float64(d.ClosingTrades)
	}
}

// ComputeStatistics calculates trade statistics as of now. Only SELLs carry a
// realized profit, so win rate is measured over closing trades.
func ComputeStatistics(txs []ledger.Transaction, now time.Time) Statistics {
	var stats Statistics
	since24h := now.Add(-24 * time.Hour)
	for _, tx := range txs {
		stats.AllTime.add(tx)
		if tx.Timestamp.After(since24h) {
			stats.Since24h.add(tx)
		}
	}
	stats.AllTime.finish()
	stats.Since24h.finish()
	return stats
}

// Statistics returns trade statistics over the in-memory log.
func (e *Engine) Statistics() Statistics {
	return ComputeStatistics(e.ledger.Transactions(), e.now())
}
