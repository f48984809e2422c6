package models

import "gorm.io/gorm"

// LearningParams stores the feedback-adjusted weights. There should only ever be
// one row in this table.
type LearningParams struct {
	gorm.Model
	RsiWeight         float64
	MacdWeight        float64
	SentimentWeight   float64
	SecurityWeight    float64
	FundamentalWeight float64
	WinRate           float64
	TotalTrades       int
	Wins              int
}
