package trader

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"paper-trade-engine-go/internal/config"
	"paper-trade-engine-go/internal/database"
	"paper-trade-engine-go/internal/feed"
	"paper-trade-engine-go/internal/ledger"
	"paper-trade-engine-go/internal/market"
	"paper-trade-engine-go/internal/notify"
	"paper-trade-engine-go/internal/venue"
)

// Keys of the persisted settings.
const (
	SettingRiskThresholds  = "risk_thresholds"
	SettingBootstrapAssets = "bootstrap_assets"
	SettingProfile         = "strategy_profile"
)

// Store persists the ledger and user settings. A missing bundle or setting is
// reported with database.ErrNotFound.
type Store interface {
	LoadBundle(ctx context.Context) (ledger.Bundle, error)
	SaveBundle(ctx context.Context, b ledger.Bundle) error
	LoadSetting(ctx context.Context, key string, v any) error
	SaveSetting(ctx context.Context, key string, v any) error
	Clear(ctx context.Context) error
}

// Deps are the engine's collaborators. Only Feed and SimVenue are required.
type Deps struct {
	Feed      feed.PriceFeed
	SimVenue  venue.Venue
	LiveVenue venue.Venue
	Store     Store
	Sink      notify.Sink
	Now       func() time.Time
}

// seeder is implemented by feeds that know their starting prices.
type seeder interface {
	Initial() map[string]market.State
}

// TickReport summarizes one tick.
type TickReport struct {
	At       time.Time
	Degraded bool
	Exits    []ExitResult
	Entry    *ledger.Transaction
	EntryErr error
}

// Engine drives ticks: refresh prices, run risk exits, then let the strategy act.
type Engine struct {
	UUID      string
	Name      string
	StartTime time.Time

	logger    *zap.Logger
	cfg       config.Config
	ledger    *ledger.Ledger
	book      *market.Book
	gate      *Gate
	risk      *RiskManager
	learner   *Learner
	autopilot *Autopilot
	feed      feed.PriceFeed
	simVenue  venue.Venue
	liveVenue venue.Venue
	store     Store
	sink      notify.Sink
	now       func() time.Time

	// invariants verifies the ledger after every mark to market.
	invariants func() error

	// tickMu is held for a whole tick, and by mode switches and resets.
	tickMu sync.Mutex

	stateMu     sync.RWMutex
	mode        Mode
	profileName string
	profile     config.Profile
	symbols     []string
	degraded    bool
	feedErr     string
	lastTick    time.Time
	ticks       uint64

	persistMu    sync.Mutex
	saved        bool
	savedVersion uint64
}

// NewEngine restores the ledger from the store (or starts from the configured cash)
// and wires the gate, risk manager, learner and strategy.
func NewEngine(ctx context.Context, cfg config.Config, deps Deps, logger *zap.Logger) (*Engine, error) {
	if deps.Feed == nil || deps.SimVenue == nil {
		return nil, errors.New("engine needs a price feed and a simulated venue")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Sink == nil {
		deps.Sink = notify.Multi(nil)
	}

	e := &Engine{
		UUID:      uuid.New().String(),
		Name:      cfg.Engine.Name,
		StartTime: deps.Now(),
		logger:    logger.Named("engine"),
		cfg:       cfg,
		feed:      deps.Feed,
		simVenue:  deps.SimVenue,
		liveVenue: deps.LiveVenue,
		store:     deps.Store,
		sink:      deps.Sink,
		now:       deps.Now,
	}

	mode, err := ParseMode(cfg.Engine.Mode)
	if err != nil {
		return nil, err
	}
	e.mode = mode

	bundle, restored, err := e.loadBundle(ctx)
	if err != nil {
		return nil, err
	}
	l, err := ledger.Restore(bundle, cfg.Engine.MaxTransactions)
	if err != nil {
		return nil, fmt.Errorf("failed to restore ledger: %w", err)
	}
	e.ledger = l
	e.invariants = l.CheckInvariants
	if restored {
		e.saved, e.savedVersion = true, l.Version()
	}

	riskCfg := cfg.Risk
	e.loadSetting(ctx, SettingRiskThresholds, &riskCfg, cfg.Risk, func() error { return ValidateThresholds(riskCfg) })
	e.loadSetting(ctx, SettingBootstrapAssets, &e.cfg.Strategy.BootstrapAssets, cfg.Strategy.BootstrapAssets, nil)
	profileName := cfg.Strategy.Profile
	e.loadSetting(ctx, SettingProfile, &profileName, cfg.Strategy.Profile, nil)

	fees := FeeSchedule{
		SwapRate:     decimal.NewFromFloat(cfg.Fees.SwapRate),
		SlippageRate: decimal.NewFromFloat(cfg.Fees.SlippageRate),
	}
	e.gate = NewGate(l, e.venueFor(mode), fees, e.sink, logger)
	e.gate.SetClock(e.now)

	if e.risk, err = NewRiskManager(riskCfg, e.gate, logger); err != nil {
		return nil, err
	}
	if err := e.applyProfile(profileName); err != nil {
		return nil, err
	}

	e.learner = NewLearner(bundle.Params, l, logger)
	e.autopilot = NewAutopilot(NewStrategy(cfg.Strategy.Name, e.cfg.Strategy), e.gate, l, logger)

	e.book = market.NewBook(market.Windows{
		Regime:    cfg.Market.RegimeWindow,
		Signal:    cfg.Market.SignalWindow,
		Reference: cfg.Market.ReferenceWindow,
	})
	if s, ok := deps.Feed.(seeder); ok {
		for _, st := range s.Initial() {
			e.book.Seed(st)
		}
	}
	e.symbols = config.Upper(cfg.Market.Symbols)
	for sym := range l.Snapshot().Positions {
		e.track(sym)
	}
	l.MarkToMarket(e.marks())

	e.logger.Info("Engine initialized",
		zap.String("uuid", e.UUID),
		zap.String("mode", string(mode)),
		zap.String("profile", e.profileName),
		zap.String("strategy", e.autopilot.Strategy().Name()),
		zap.Bool("restored", restored),
		zap.String("cash", l.Cash().String()),
	)
	return e, nil
}

func (e *Engine) freshBundle() ledger.Bundle {
	return ledger.Bundle{
		Account: ledger.Account{Cash: decimal.NewFromFloat(e.cfg.Engine.StartingCash)},
		Params:  ledger.DefaultLearningParams(),
	}
}

func (e *Engine) loadBundle(ctx context.Context) (ledger.Bundle, bool, error) {
	if e.store == nil {
		return e.freshBundle(), false, nil
	}
	b, err := e.store.LoadBundle(ctx)
	if errors.Is(err, database.ErrNotFound) {
		e.logger.Info("No saved portfolio, starting fresh", zap.Float64("cash", e.cfg.Engine.StartingCash))
		return e.freshBundle(), false, nil
	}
	if err != nil {
		return ledger.Bundle{}, false, fmt.Errorf("failed to load portfolio: %w", err)
	}
	return b, true, nil
}

// loadSetting overrides *dst with the persisted value when there is a valid one,
// and seeds the store with fallback when nothing was saved yet.
func (e *Engine) loadSetting(ctx context.Context, key string, dst, fallback any, validate func() error) {
	if e.store == nil {
		return
	}
	err := e.store.LoadSetting(ctx, key, dst)
	switch {
	case errors.Is(err, database.ErrNotFound):
		if err := e.store.SaveSetting(ctx, key, fallback); err != nil {
			e.logger.Warn("Failed to seed setting", zap.String("key", key), zap.Error(err))
		}
		return
	case err != nil:
		e.logger.Warn("Failed to load setting, using config", zap.String("key", key), zap.Error(err))
	case validate != nil:
		if err = validate(); err != nil {
			e.logger.Warn("Ignoring invalid saved setting", zap.String("key", key), zap.Error(err))
		}
	}
	if err != nil {
		restore(dst, fallback)
	}
}

// restore copies fallback into dst for the setting types the engine persists.
func restore(dst, fallback any) {
	switch d := dst.(type) {
	case *config.Risk:
		*d = fallback.(config.Risk)
	case *[]string:
		*d = fallback.([]string)
	case *string:
		*d = fallback.(string)
	}
}

func (e *Engine) venueFor(m Mode) venue.Venue {
	if m.Live() && e.liveVenue != nil {
		return e.liveVenue
	}
	if m.Live() {
		e.logger.Warn("No live venue configured, settling live orders on the simulated venue")
	}
	return e.simVenue
}

func (e *Engine) applyProfile(name string) error {
	p, ok := e.cfg.Strategy.ProfileFor(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProfile, name)
	}
	e.stateMu.Lock()
	e.profileName = strings.ToUpper(name)
	e.profile = p
	e.stateMu.Unlock()
	e.gate.SetCooldown(p.Cooldown)
	return nil
}

func (e *Engine) track(symbol string) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	if !lo.Contains(e.symbols, symbol) {
		e.symbols = append(e.symbols, symbol)
	}
}

func (e *Engine) marks() map[string]ledger.Mark {
	states := e.book.All()
	marks := make(map[string]ledger.Mark, len(states))
	for _, st := range states {
		marks[st.Symbol] = ledger.Mark{Price: st.Price, Change24h: st.Change24h}
	}
	return marks
}

// Run ticks until ctx is done or an invariant violation halts the engine.
func (e *Engine) Run(ctx context.Context) error {
	interval := e.cfg.Engine.TickInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.logger.Info("Starting tick loop", zap.Duration("interval", interval))
	e.publish(notify.KindSystem, "", fmt.Sprintf("engine %s started in %s mode", e.Name, e.Mode()))

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Stopping trading engine...")
			e.persist(context.WithoutCancel(ctx), true)
			return nil
		case <-ticker.C:
			if _, err := e.Tick(ctx); err != nil {
				if errors.Is(err, ledger.ErrInvariantViolation) {
					e.logger.Error("Engine halted", zap.Error(err))
					return err
				}
				e.logger.Error("Tick failed", zap.Error(err))
			}
		}
	}
}

// Tick runs one full cycle. Feed failures are absorbed by reusing the last known
// prices; only a halt is returned as an error. A ledger that fails its invariant
// check after mark to market halts the gate before any order is placed.
func (e *Engine) Tick(ctx context.Context) (*TickReport, error) {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	if err := e.gate.Halted(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHalted, err)
	}

	mode := e.Mode()
	report := &TickReport{At: e.now()}
	if !mode.Connected() {
		return report, nil
	}

	quotes, err := e.feed.GetPrices(ctx, e.Symbols())
	if err != nil {
		e.setDegraded(err)
	} else {
		e.setDegraded(nil)
		e.book.Apply(quotes)
	}
	report.Degraded = e.Degraded()
	hwmMoved := e.ledger.MarkToMarket(e.marks())
	if err := e.invariants(); err != nil {
		e.gate.Halt(err)
		e.publish(notify.KindSystem, "", "engine halted: "+err.Error())
		return report, fmt.Errorf("tick halted: %w", err)
	}

	report.Exits = e.risk.Sweep(ctx, e.ledger.Snapshot(), e.book)
	for _, x := range report.Exits {
		if x.Err != nil {
			e.publish(notify.KindAlert, x.Symbol, fmt.Sprintf("%s exit failed: %v", x.Trigger, x.Err))
		}
	}

	if mode.Autonomous() {
		e.stateMu.RLock()
		sc := StrategyContext{
			ProfileName: e.profileName,
			Profile:     e.profile,
		}
		e.stateMu.RUnlock()
		sc.Portfolio = e.ledger.Snapshot()
		sc.Market = e.book.All()
		sc.Params = e.learner.Params()
		sc.ExitPlan = e.risk.ExitPlan()
		sc.Now = e.now()
		sc.LastEntry = e.gate.LastAutonomous()

		report.Entry, report.EntryErr = e.autopilot.Step(ctx, sc)
		if report.EntryErr != nil && Classify(report.EntryErr) != ClassConcurrency {
			e.logger.Warn("Strategy order failed", zap.Error(report.EntryErr))
		}
	}

	e.stateMu.Lock()
	e.lastTick = report.At
	e.ticks++
	e.stateMu.Unlock()

	e.persist(ctx, hwmMoved)

	if err := e.gate.Halted(); err != nil {
		e.publish(notify.KindSystem, "", "engine halted: "+err.Error())
		return report, fmt.Errorf("tick halted: %w", err)
	}
	return report, nil
}

func (e *Engine) setDegraded(err error) {
	e.stateMu.Lock()
	was := e.degraded
	e.degraded = err != nil
	e.feedErr = ""
	if err != nil {
		e.feedErr = err.Error()
	}
	e.stateMu.Unlock()

	switch {
	case err != nil && !was:
		e.logger.Warn("Price feed unavailable, reusing last known prices", zap.Error(err))
		e.publish(notify.KindSystem, "", "price feed degraded: "+err.Error())
	case err == nil && was:
		e.logger.Info("Price feed recovered")
		e.publish(notify.KindSystem, "", "price feed recovered")
	}
}

// persist saves the ledger when it changed since the last save, or always when force is set.
func (e *Engine) persist(ctx context.Context, force bool) {
	if e.store == nil {
		return
	}
	e.persistMu.Lock()
	defer e.persistMu.Unlock()

	v := e.ledger.Version()
	if !force && e.saved && v == e.savedVersion {
		return
	}
	acct, txs := e.ledger.Export()
	b := ledger.Bundle{Account: acct, Transactions: txs, Params: e.learner.Params(), SavedAt: e.now()}
	if err := e.store.SaveBundle(ctx, b); err != nil {
		e.logger.Error("Failed to save portfolio", zap.Error(err))
		e.publish(notify.KindSystem, "", "failed to save portfolio: "+err.Error())
		return
	}
	e.saved, e.savedVersion = true, v
}

// ManualOrder is a user-initiated trade. A zero Price trades at the last known price.
type ManualOrder struct {
	Symbol string          `json:"symbol"`
	Side   ledger.Side     `json:"side"`
	Amount decimal.Decimal `json:"amount"`
	Price  decimal.Decimal `json:"price"`
	Reason string          `json:"reason"`
}

// ManualTrade routes a user order through the gate. It waits for the execution
// lock and is never subject to the autonomous cooldown.
func (e *Engine) ManualTrade(ctx context.Context, req ManualOrder) (ledger.Transaction, error) {
	sym := strings.ToUpper(strings.TrimSpace(req.Symbol))
	side := ledger.Side(strings.ToUpper(string(req.Side)))
	fail := func(err error) (ledger.Transaction, error) {
		return ledger.Transaction{}, &ExecutionError{Op: "manual", Symbol: sym, Side: side, Err: err}
	}

	if !e.Mode().Connected() {
		return fail(ErrDisconnected)
	}
	if side != ledger.Buy && side != ledger.Sell {
		return fail(fmt.Errorf("%w: side must be BUY or SELL", ledger.ErrInvalidAmount))
	}
	price := req.Price
	if !price.IsPositive() {
		price = e.book.Price(sym)
	}
	if !price.IsPositive() {
		return fail(fmt.Errorf("%w: %s", ErrUnknownSymbol, sym))
	}
	reason := req.Reason
	if reason == "" {
		reason = "manual"
	}

	tx, err := e.gate.Execute(ctx, Order{
		Symbol:   sym,
		Side:     side,
		Amount:   req.Amount,
		Price:    price,
		Reason:   reason,
		Source:   SourceManual,
		ExitPlan: e.risk.ExitPlan(),
	})
	if err != nil {
		return tx, err
	}
	e.track(sym)
	e.persist(ctx, false)
	return tx, nil
}

// SetMode switches modes between ticks, after in-flight executions have drained.
func (e *Engine) SetMode(ctx context.Context, to Mode) error {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	from := e.Mode()
	if from == to {
		return nil
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	e.gate.SetVenue(e.venueFor(to))
	e.stateMu.Lock()
	e.mode = to
	e.stateMu.Unlock()

	e.logger.Info("Mode changed", zap.String("from", string(from)), zap.String("to", string(to)))
	e.publish(notify.KindSystem, "", fmt.Sprintf("mode changed from %s to %s", from, to))
	if to == ModeDisconnected {
		e.persist(ctx, true)
	}
	return nil
}

// SetProfile switches the strategy profile at runtime.
func (e *Engine) SetProfile(ctx context.Context, name string) error {
	if err := e.applyProfile(name); err != nil {
		return err
	}
	if e.store != nil {
		if err := e.store.SaveSetting(ctx, SettingProfile, strings.ToUpper(name)); err != nil {
			e.logger.Warn("Failed to save profile", zap.Error(err))
		}
	}
	e.publish(notify.KindSystem, "", "strategy profile set to "+strings.ToUpper(name))
	return nil
}

// UpdateRisk replaces the risk thresholds and persists them.
func (e *Engine) UpdateRisk(ctx context.Context, cfg config.Risk) error {
	if err := e.risk.SetThresholds(cfg); err != nil {
		return err
	}
	if e.store != nil {
		if err := e.store.SaveSetting(ctx, SettingRiskThresholds, cfg); err != nil {
			return fmt.Errorf("failed to save risk thresholds: %w", err)
		}
	}
	return nil
}

// Feedback attaches a verdict to a transaction and nudges the learning weights.
func (e *Engine) Feedback(ctx context.Context, txID string, fb ledger.Feedback) (ledger.LearningParams, error) {
	params, err := e.learner.ApplyFeedback(txID, fb)
	if err != nil {
		return params, err
	}
	e.persist(ctx, true)
	return params, nil
}

// Reset reloads the ledger from the store (or the starting cash when nothing is
// saved, or when wipe clears the store first) and clears any halt.
func (e *Engine) Reset(ctx context.Context, wipe bool) error {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	if wipe && e.store != nil {
		if err := e.store.Clear(ctx); err != nil {
			return fmt.Errorf("failed to clear store: %w", err)
		}
	}
	bundle, restored, err := e.loadBundle(ctx)
	if err != nil {
		return err
	}

	err = e.gate.Reset(func() error { return e.ledger.Replace(bundle) })
	if err != nil {
		return fmt.Errorf("failed to reset ledger: %w", err)
	}
	e.learner.SetParams(bundle.Params)
	e.autopilot.Reset()
	e.ledger.MarkToMarket(e.marks())

	e.persistMu.Lock()
	e.saved, e.savedVersion = restored, e.ledger.Version()
	e.persistMu.Unlock()
	if !restored {
		e.persist(ctx, true)
	}

	e.logger.Info("Engine reset", zap.Bool("restored", restored), zap.String("cash", e.ledger.Cash().String()))
	e.publish(notify.KindSystem, "", "engine reset")
	return nil
}

func (e *Engine) publish(kind notify.Kind, symbol, msg string) {
	e.sink.Publish(notify.Event{Kind: kind, Symbol: symbol, Message: msg, Timestamp: e.now()})
}

// Mode returns the current mode.
func (e *Engine) Mode() Mode {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.mode
}

// Degraded reports whether the last feed refresh failed.
func (e *Engine) Degraded() bool {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.degraded
}

// Symbols returns the tracked symbols.
func (e *Engine) Symbols() []string {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return append([]string(nil), e.symbols...)
}

// Portfolio returns a consistent snapshot of the ledger.
func (e *Engine) Portfolio() ledger.Portfolio { return e.ledger.Snapshot() }

// Transactions returns the in-memory transaction log, oldest first.
func (e *Engine) Transactions() []ledger.Transaction { return e.ledger.Transactions() }

// Market returns the latest market states, sorted by symbol.
func (e *Engine) Market() []market.State { return e.book.All() }

// LearningParams returns the current weights.
func (e *Engine) LearningParams() ledger.LearningParams { return e.learner.Params() }

// RiskThresholds returns the risk settings in force.
func (e *Engine) RiskThresholds() config.Risk { return e.risk.Thresholds() }

// Status describes the engine for the API and CLI.
type Status struct {
	UUID              string `json:"uuid"`
	Name              string `json:"name"`
	Mode              Mode   `json:"mode"`
	Strategy          string `json:"strategy"`
	Profile           string `json:"profile"`
	Venue             string `json:"venue"`
	Degraded          bool   `json:"degraded"`
	FeedError         string `json:"feed_error,omitempty"`
	Halted            bool   `json:"halted"`
	HaltReason        string `json:"halt_reason,omitempty"`
	Bootstrapped      bool   `json:"bootstrapped"`
	Deferred          bool   `json:"deferred"`
	CooldownRemaining string `json:"cooldown_remaining"`
	Ticks             uint64 `json:"ticks"`
	LastTick          string `json:"last_tick,omitempty"`
	StartTime         string `json:"start_time"`
	Uptime            string `json:"uptime"`
	Version           uint64 `json:"version"`
}

// Status returns the current engine status.
func (e *Engine) Status() Status {
	e.stateMu.RLock()
	st := Status{
		UUID:      e.UUID,
		Name:      e.Name,
		Mode:      e.mode,
		Profile:   e.profileName,
		Degraded:  e.degraded,
		FeedError: e.feedErr,
		Ticks:     e.ticks,
		StartTime: e.StartTime.Format(time.RFC3339),
		Uptime:    e.now().Sub(e.StartTime).Round(time.Second).String(),
	}
	if !e.lastTick.IsZero() {
		st.LastTick = e.lastTick.Format(time.RFC3339)
	}
	e.stateMu.RUnlock()

	st.Strategy = e.autopilot.Strategy().Name()
	st.Venue = e.gate.Venue().Name()
	if err := e.gate.Halted(); err != nil {
		st.Halted, st.HaltReason = true, err.Error()
	}
	st.Bootstrapped = e.autopilot.Bootstrapped()
	st.Deferred = e.autopilot.Deferred()
	st.CooldownRemaining = e.gate.CooldownRemaining().Round(time.Second).String()
	st.Version = e.ledger.Version()
	return st
}
