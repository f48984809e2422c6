package trader

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"paper-trade-engine-go/internal/config"
	"paper-trade-engine-go/internal/ledger"
	"paper-trade-engine-go/internal/market"
	"paper-trade-engine-go/internal/venue"
)

// MockPriceFeed is a mock implementation of feed.PriceFeed.
type MockPriceFeed struct {
	mock.Mock
}

func (m *MockPriceFeed) GetPrices(ctx context.Context, symbols []string) (map[string]market.Quote, error) {
	args := m.Called(ctx, symbols)
	quotes, _ := args.Get(0).(map[string]market.Quote)
	return quotes, args.Error(1)
}

// MockVenue is a mock implementation of venue.Venue.
type MockVenue struct {
	mock.Mock
}

func (m *MockVenue) Name() string { return "mock" }

func (m *MockVenue) GasFee(string) decimal.Decimal { return decimal.Zero }

func (m *MockVenue) Settle(ctx context.Context, o venue.Order) (venue.Receipt, error) {
	args := m.Called(ctx, o)
	return args.Get(0).(venue.Receipt), args.Error(1)
}

func dec(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func quote(price float64) market.Quote {
	return market.Quote{Price: dec(price), Volume: dec(1000)}
}

// stateFrom builds a market state that observed prices in order.
func stateFrom(symbol string, prices ...float64) market.State {
	w := market.Windows{Regime: 5, Signal: 64, Reference: 10}
	st := market.NewState(symbol, dec(prices[0]), dec(1000))
	for _, p := range prices[1:] {
		st = st.Observe(dec(p), dec(1000), w)
	}
	return st
}

func testProfile() config.Profile {
	return config.Profile{Cooldown: time.Minute, PositionSizeFraction: 0.1, VolatilityEntryThreshold: 0.05}
}

// strategyContext returns a context over a cash-only portfolio.
func strategyContext(cash float64, states ...market.State) StrategyContext {
	return StrategyContext{
		Logger:       zap.NewNop(),
		Portfolio:    ledger.Portfolio{Cash: dec(cash), Positions: map[string]ledger.Position{}, TotalValue: dec(cash)},
		Market:       states,
		ProfileName:  "BALANCED",
		Profile:      testProfile(),
		Params:       ledger.DefaultLearningParams(),
		Now:          time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Bootstrapped: true,
	}
}

func TestDefaultStrategy_Scout_NoOpportunity(t *testing.T) {
	// Arrange
	strategy := NewDefaultStrategy(config.Strategy{})
	flat := stateFrom("BNB", 100, 100, 100, 100)
	sc := strategyContext(1000, flat)

	// Act
	order, err := strategy.Scout(sc)

	// Assert
	assert.NoError(t, err)
	assert.Nil(t, order)
}

func TestDefaultStrategy_Scout_BuysTheDip(t *testing.T) {
	// Arrange
	strategy := NewDefaultStrategy(config.Strategy{})
	bnb := stateFrom("BNB", 100, 104, 98, 103, 95)
	sc := strategyContext(1000, bnb)

	// Act
	order, err := strategy.Scout(sc)

	// Assert
	require.NoError(t, err)
	require.NotNil(t, order)
	assert.Equal(t, "BNB", order.Symbol)
	assert.Equal(t, ledger.Buy, order.Side)
	assert.Equal(t, SourceStrategy, order.Source)
	assert.True(t, order.Price.Equal(dec(95)))
	// 10% of 1000 cash at 95
	assert.InDelta(t, 100.0/95, order.Amount.InexactFloat64(), 1e-6)
	assert.Contains(t, order.Reason, "BALANCED")
}

func TestDefaultStrategy_Scout_SellsIntoStrength(t *testing.T) {
	// Arrange
	strategy := NewDefaultStrategy(config.Strategy{})
	bnb := stateFrom("BNB", 100, 96, 103, 97, 105)
	sc := strategyContext(1000, bnb)
	sc.Portfolio.Positions["BNB"] = ledger.Position{Symbol: "BNB", Amount: dec(2), EntryPrice: dec(100)}

	// Act
	order, err := strategy.Scout(sc)

	// Assert
	require.NoError(t, err)
	require.NotNil(t, order)
	assert.Equal(t, ledger.Sell, order.Side)
	assert.True(t, order.Amount.Equal(dec(0.2)), "amount %s", order.Amount)
}

func TestDefaultStrategy_Scout_PicksLargestMove(t *testing.T) {
	// Arrange
	strategy := NewDefaultStrategy(config.Strategy{})
	small := stateFrom("ETH", 100, 104, 98, 103, 101)
	large := stateFrom("BNB", 100, 104, 98, 103, 90)
	sc := strategyContext(1000, small, large)

	// Act
	order, err := strategy.Scout(sc)

	// Assert
	require.NoError(t, err)
	require.NotNil(t, order)
	assert.Equal(t, "BNB", order.Symbol)
}

func TestDefaultStrategy_Scout_RespectsCooldown(t *testing.T) {
	// Arrange
	strategy := NewDefaultStrategy(config.Strategy{})
	sc := strategyContext(1000, stateFrom("BNB", 100, 104, 98, 103, 95))
	sc.LastEntry = sc.Now.Add(-30 * time.Second)

	// Act
	order, err := strategy.Scout(sc)

	// Assert
	assert.NoError(t, err)
	assert.Nil(t, order)
}

func TestDefaultStrategy_Scout_NothingTradable(t *testing.T) {
	// Arrange
	strategy := NewDefaultStrategy(config.Strategy{ReserveAssets: []string{"usdt"}})
	sc := strategyContext(1000, stateFrom("USDT", 1, 1, 1))

	// Act
	order, err := strategy.Scout(sc)

	// Assert
	assert.True(t, errors.Is(err, ErrNothingTradable))
	assert.Nil(t, order)
}
