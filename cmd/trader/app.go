package main

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"paper-trade-engine-go/internal/config"
	"paper-trade-engine-go/internal/database"
	"paper-trade-engine-go/internal/feed"
	"paper-trade-engine-go/internal/logger"
	"paper-trade-engine-go/internal/market"
	"paper-trade-engine-go/internal/notify"
	"paper-trade-engine-go/internal/trader"
	"paper-trade-engine-go/internal/venue"
)

// app is the fully wired engine with its collaborators.
type app struct {
	cfg    config.Config
	log    *zap.Logger
	db     *gorm.DB
	store  *database.Store
	events *notify.Buffer
	hub    *notify.Hub
	engine *trader.Engine
}

func loadConfig(rc *rootConfig) (config.Config, *zap.Logger, error) {
	cfg, err := config.LoadConfig(rc.configPath)
	if err != nil {
		return cfg, nil, fmt.Errorf("could not load config: %w", err)
	}
	log, err := logger.NewLogger(cfg.Logger, cfg.Engine.Name)
	if err != nil {
		return cfg, nil, fmt.Errorf("could not initialize logger: %w", err)
	}
	return cfg, log, nil
}

func newApp(ctx context.Context, rc *rootConfig) (*app, error) {
	cfg, log, err := loadConfig(rc)
	if err != nil {
		return nil, err
	}
	log.Info("Configuration loaded", zap.String("mode", cfg.Engine.Mode), zap.String("feed", cfg.Feed.Source))

	db, err := database.NewDatabase(cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	log.Info("Database connection successful and schema migrated.")

	a := &app{
		cfg:    cfg,
		log:    log,
		db:     db,
		store:  database.NewStore(db, cfg.Database.TransactionsLimit),
		events: notify.NewBuffer(cfg.Notify.BufferSize),
		hub:    notify.NewHub(log),
	}

	priceFeed, err := a.newFeed(ctx)
	if err != nil {
		a.close()
		return nil, err
	}

	sinks := notify.Multi{notify.NewLogSink(log), a.events, a.hub}
	if cfg.Notify.WebhookURL != "" {
		sinks = append(sinks, notify.NewWebhook(cfg.Notify.WebhookURL, cfg.Notify.WebhookKinds, log))
	}

	deps := trader.Deps{
		Feed:     priceFeed,
		SimVenue: venue.NewSimulated(decimal.NewFromFloat(cfg.Fees.SimulatedGas)),
		Store:    a.store,
		Sink:     sinks,
	}
	if cfg.Venue.BaseURL != "" {
		deps.LiveVenue = venue.NewLive(cfg.Venue, decimal.NewFromFloat(cfg.Fees.LiveGas), log)
	}

	a.engine, err = trader.NewEngine(ctx, cfg, deps, log)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	return a, nil
}

func (a *app) newFeed(ctx context.Context) (feed.PriceFeed, error) {
	if a.cfg.Feed.Source == "binance" {
		b := feed.NewBinance(a.cfg.Feed, a.log)
		serverTime, err := b.GetServerTime(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Binance API: %w", err)
		}
		a.log.Info("Successfully connected to Binance API.", zap.Time("server_time", serverTime))
		return b, nil
	}

	sim := market.NewSimulator(market.SimulatorConfig{
		BaseVolatility: a.cfg.Market.BaseVolatility,
		RiskTolerance:  a.cfg.Market.RiskTolerance,
		MaxStepPct:     a.cfg.Market.MaxStepPct,
		Windows: market.Windows{
			Regime:    a.cfg.Market.RegimeWindow,
			Signal:    a.cfg.Market.SignalWindow,
			Reference: a.cfg.Market.ReferenceWindow,
		},
		Seed: a.cfg.Market.Seed,
	})
	initial := make(map[string]decimal.Decimal)
	for _, sym := range config.Upper(a.cfg.Market.Symbols) {
		if p, ok := a.cfg.Market.InitialPrice(sym); ok {
			initial[sym] = decimal.NewFromFloat(p)
		} else {
			a.log.Warn("No initial price for symbol, it will not be simulated", zap.String("symbol", sym))
		}
	}
	return feed.NewSimulated(sim, initial, decimal.NewFromFloat(a.cfg.Market.InitialVolume)), nil
}

func (a *app) close() {
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	_ = a.log.Sync()
}
