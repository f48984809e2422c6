package database

import (
	"github.com/shopspring/decimal"

	"paper-trade-engine-go/internal/ledger"
	"paper-trade-engine-go/internal/models"
)

func toPositionRecord(p ledger.Position) models.Position {
	return models.Position{
		Symbol:       p.Symbol,
		Amount:       p.Amount,
		EntryPrice:   p.EntryPrice,
		HighestPrice: p.HighestPrice,
		OpenReason:   p.OpenReason,
		StopLoss:     p.ExitPlan.StopLoss,
		TakeProfit:   p.ExitPlan.TakeProfit,
		TrailingPct:  p.ExitPlan.TrailingPct,
		OpenedAt:     p.OpenedAt,
	}
}

func fromPositionRecord(r models.Position) ledger.Position {
	return ledger.Position{
		Symbol:       r.Symbol,
		Amount:       r.Amount,
		EntryPrice:   r.EntryPrice,
		HighestPrice: r.HighestPrice,
		OpenReason:   r.OpenReason,
		ExitPlan: ledger.ExitPlan{
			StopLoss:    r.StopLoss,
			TakeProfit:  r.TakeProfit,
			TrailingPct: r.TrailingPct,
		},
		OpenedAt: r.OpenedAt,
	}
}

func toTransactionRecord(t ledger.Transaction) models.Transaction {
	rec := models.Transaction{
		TxID:      t.ID,
		Type:      string(t.Type),
		Symbol:    t.Symbol,
		Amount:    t.Amount,
		Price:     t.Price,
		Fee:       t.Fee,
		Timestamp: t.Timestamp,
		Venue:     t.Venue,
		TxHash:    t.TxHash,
		Reason:    t.Reason,
		Source:    t.Source,
		Feedback:  string(t.Feedback),
	}
	if t.RealizedPnl != nil {
		rec.RealizedPnl = decimal.NewNullDecimal(*t.RealizedPnl)
	}
	return rec
}

func fromTransactionRecord(r models.Transaction) ledger.Transaction {
	tx := ledger.Transaction{
		ID:        r.TxID,
		Type:      ledger.Side(r.Type),
		Symbol:    r.Symbol,
		Amount:    r.Amount,
		Price:     r.Price,
		Fee:       r.Fee,
		Timestamp: r.Timestamp,
		Venue:     r.Venue,
		TxHash:    r.TxHash,
		Reason:    r.Reason,
		Source:    r.Source,
		Feedback:  ledger.Feedback(r.Feedback),
	}
	if r.RealizedPnl.Valid {
		pnl := r.RealizedPnl.Decimal
		tx.RealizedPnl = &pnl
	}
	return tx
}

func toParamsRecord(p ledger.LearningParams) models.LearningParams {
	return models.LearningParams{
		RsiWeight:         p.RsiWeight,
		MacdWeight:        p.MacdWeight,
		SentimentWeight:   p.SentimentWeight,
		SecurityWeight:    p.SecurityWeight,
		FundamentalWeight: p.FundamentalWeight,
		WinRate:           p.WinRate,
		TotalTrades:       p.TotalTrades,
		Wins:              p.Wins,
	}
}

func fromParamsRecord(r models.LearningParams) ledger.LearningParams {
	return ledger.LearningParams{
		RsiWeight:         r.RsiWeight,
		MacdWeight:        r.MacdWeight,
		SentimentWeight:   r.SentimentWeight,
		SecurityWeight:    r.SecurityWeight,
		FundamentalWeight: r.FundamentalWeight,
		WinRate:           r.WinRate,
		TotalTrades:       r.TotalTrades,
		Wins:              r.Wins,
	}.Normalized()
}
