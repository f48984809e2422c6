package trader

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"paper-trade-engine-go/internal/ledger"
	"paper-trade-engine-go/internal/notify"
	"paper-trade-engine-go/internal/venue"
)

// blockingVenue holds every settlement until release is closed.
type blockingVenue struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newBlockingVenue() *blockingVenue {
	return &blockingVenue{started: make(chan struct{}), release: make(chan struct{})}
}

func (v *blockingVenue) Name() string                  { return "blocking" }
func (v *blockingVenue) GasFee(string) decimal.Decimal { return decimal.Zero }

func (v *blockingVenue) Settle(ctx context.Context, _ venue.Order) (venue.Receipt, error) {
	v.once.Do(func() { close(v.started) })
	select {
	case <-v.release:
		return venue.Receipt{Venue: v.Name(), TxHash: "blocked"}, nil
	case <-ctx.Done():
		return venue.Receipt{}, ctx.Err()
	}
}

type gateFixture struct {
	ledger *ledger.Ledger
	gate   *Gate
	events *notify.Buffer
	now    time.Time
}

func setupGate(t *testing.T, cash float64, fees FeeSchedule, v venue.Venue) *gateFixture {
	t.Helper()
	f := &gateFixture{
		ledger: ledger.New(dec(cash), 0),
		events: notify.NewBuffer(50),
		now:    time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	if v == nil {
		v = venue.NewSimulated(decimal.Zero)
	}
	f.gate = NewGate(f.ledger, v, fees, f.events, zap.NewNop())
	f.gate.SetClock(func() time.Time { return f.now })
	return f
}

func order(symbol string, side ledger.Side, amount, price float64, src Source) Order {
	return Order{Symbol: symbol, Side: side, Amount: dec(amount), Price: dec(price), Reason: "test", Source: src}
}

func TestGate_Execute_BuyThenSellScenario(t *testing.T) {
	fees := FeeSchedule{SwapRate: dec(0.004)}
	ctx := context.Background()

	t.Run("buy that cannot cover its fee is rejected", func(t *testing.T) {
		// Arrange
		f := setupGate(t, 200, fees, nil)

		// Act
		_, err := f.gate.Execute(ctx, order("BNB", ledger.Buy, 1, 200, SourceManual))

		// Assert
		assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)
		assert.True(t, f.ledger.Cash().Equal(dec(200)))
		assert.Empty(t, f.ledger.Transactions())
		events := f.events.Recent(1)
		require.Len(t, events, 1)
		assert.Equal(t, notify.KindAlert, events[0].Kind)
	})

	t.Run("round trip", func(t *testing.T) {
		// Arrange
		f := setupGate(t, 200.8, fees, nil)

		// Act
		buy, err := f.gate.Execute(ctx, order("BNB", ledger.Buy, 1, 200, SourceManual))
		require.NoError(t, err)
		cashAfterBuy := f.ledger.Cash()
		pos, held := f.ledger.Position("BNB")
		sell, err := f.gate.Execute(ctx, order("BNB", ledger.Sell, 1, 210, SourceManual))
		require.NoError(t, err)

		// Assert
		assert.True(t, buy.Amount.Equal(dec(1)))
		assert.True(t, buy.Fee.Equal(dec(0.8)), "fee %s", buy.Fee)
		assert.True(t, cashAfterBuy.IsZero(), "cash %s", cashAfterBuy)
		require.True(t, held)
		assert.True(t, pos.EntryPrice.Equal(dec(200)))

		assert.True(t, sell.Fee.Equal(dec(0.84)), "fee %s", sell.Fee)
		assert.True(t, f.ledger.Cash().Equal(dec(209.16)), "cash %s", f.ledger.Cash())
		_, held = f.ledger.Position("BNB")
		assert.False(t, held)
		require.NotNil(t, sell.RealizedPnl)
		assert.True(t, sell.RealizedPnl.Equal(dec(10)), "pnl %s", sell.RealizedPnl)
		assert.Len(t, f.ledger.Transactions(), 2)

		fills := 0
		for _, e := range f.events.Recent(10) {
			if e.Kind == notify.KindFill {
				fills++
			}
		}
		assert.Equal(t, 2, fills)
	})
}

func TestGate_Execute_ShrinksStrategyBuyToFitFees(t *testing.T) {
	// Arrange
	f := setupGate(t, 200, FeeSchedule{SwapRate: dec(0.004)}, nil)

	// Act
	tx, err := f.gate.Execute(context.Background(), order("BNB", ledger.Buy, 1, 200, SourceStrategy))

	// Assert
	require.NoError(t, err)
	// 200 / (200 * 1.004) truncated to 8 decimals
	assert.True(t, tx.Amount.Equal(decimal.RequireFromString("0.99601593")), "amount %s", tx.Amount)
	assert.False(t, tx.Amount.Mul(tx.Price).Add(tx.Fee).GreaterThan(dec(200)))
	assert.False(t, f.ledger.Cash().IsNegative())
}

func TestGate_Execute_Validation(t *testing.T) {
	f := setupGate(t, 100, FeeSchedule{}, nil)
	ctx := context.Background()

	t.Run("non-positive amount", func(t *testing.T) {
		_, err := f.gate.Execute(ctx, order("BNB", ledger.Buy, 0, 10, SourceManual))
		assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
		assert.Equal(t, ClassValidation, Classify(err))
	})

	t.Run("insufficient funds", func(t *testing.T) {
		_, err := f.gate.Execute(ctx, order("BNB", ledger.Buy, 20, 10, SourceManual))
		assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)
	})

	t.Run("insufficient inventory", func(t *testing.T) {
		_, err := f.gate.Execute(ctx, order("BNB", ledger.Sell, 1, 10, SourceManual))
		assert.ErrorIs(t, err, ledger.ErrInsufficientInventory)
	})

	t.Run("rejection publishes an alert", func(t *testing.T) {
		events := f.events.Recent(1)
		require.Len(t, events, 1)
		assert.Equal(t, notify.KindAlert, events[0].Kind)
	})

	assert.True(t, f.ledger.Cash().Equal(dec(100)))
	assert.Empty(t, f.ledger.Transactions())
}

func TestGate_Execute_Cooldown(t *testing.T) {
	// Arrange
	f := setupGate(t, 1000, FeeSchedule{}, nil)
	f.gate.SetCooldown(time.Minute)
	ctx := context.Background()

	// Act
	_, first := f.gate.Execute(ctx, order("BNB", ledger.Buy, 1, 10, SourceStrategy))
	f.now = f.now.Add(10 * time.Second)
	_, second := f.gate.Execute(ctx, order("ETH", ledger.Buy, 1, 10, SourceStrategy))

	// Assert
	require.NoError(t, first)
	assert.ErrorIs(t, second, ErrCooldown)
	assert.Equal(t, ClassConcurrency, Classify(second))
	assert.Len(t, f.ledger.Transactions(), 1)
	assert.Equal(t, 50*time.Second, f.gate.CooldownRemaining())

	t.Run("manual orders bypass the cooldown", func(t *testing.T) {
		_, err := f.gate.Execute(ctx, order("ETH", ledger.Buy, 1, 10, SourceManual))
		assert.NoError(t, err)
	})

	t.Run("risk exits bypass the cooldown", func(t *testing.T) {
		_, err := f.gate.Execute(ctx, order("BNB", ledger.Sell, 1, 10, SourceRisk))
		assert.NoError(t, err)
		assert.Equal(t, f.now, f.gate.LastAutonomous())
	})

	t.Run("allowed once the window elapsed", func(t *testing.T) {
		f.now = f.now.Add(time.Minute)
		_, err := f.gate.Execute(ctx, order("ETH", ledger.Buy, 1, 10, SourceStrategy))
		assert.NoError(t, err)
	})
}

func TestGate_Execute_AutonomousFailsFastWhenLocked(t *testing.T) {
	// Arrange
	v := newBlockingVenue()
	f := setupGate(t, 1000, FeeSchedule{}, v)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := f.gate.Execute(ctx, order("BNB", ledger.Buy, 1, 10, SourceManual))
		done <- err
	}()
	<-v.started

	// Act
	_, err := f.gate.Execute(ctx, order("ETH", ledger.Buy, 1, 10, SourceStrategy))

	// Assert
	assert.ErrorIs(t, err, ErrLocked)
	close(v.release)
	require.NoError(t, <-done)
	assert.Len(t, f.ledger.Transactions(), 1)
}

func TestGate_Execute_ConcurrentManualOrdersAreSerialized(t *testing.T) {
	// Arrange
	f := setupGate(t, 100, FeeSchedule{}, nil)
	var g errgroup.Group
	var mu sync.Mutex
	filled, rejected := 0, 0

	// Act
	for i := 0; i < 25; i++ {
		g.Go(func() error {
			_, err := f.gate.Execute(context.Background(), order("BNB", ledger.Buy, 1, 10, SourceManual))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				filled++
			case errors.Is(err, ledger.ErrInsufficientFunds):
				rejected++
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	// Assert
	assert.Equal(t, 10, filled)
	assert.Equal(t, 15, rejected)
	assert.True(t, f.ledger.Cash().IsZero(), "cash %s", f.ledger.Cash())
	pos, ok := f.ledger.Position("BNB")
	require.True(t, ok)
	assert.True(t, pos.Amount.Equal(dec(10)))
}

func TestGate_Execute_InvariantViolationHalts(t *testing.T) {
	// Arrange
	f := setupGate(t, 10, FeeSchedule{}, nil)
	ctx := context.Background()
	_, err := f.gate.Execute(ctx, order("BNB", ledger.Buy, 1, 10, SourceManual))
	require.NoError(t, err)
	// Gas larger than the sale proceeds would drive cash negative.
	f.gate.SetVenue(venue.NewSimulated(dec(25)))

	// Act
	_, err = f.gate.Execute(ctx, order("BNB", ledger.Sell, 1, 10, SourceManual))

	// Assert
	assert.ErrorIs(t, err, ledger.ErrInvariantViolation)
	assert.Equal(t, ClassInvariant, Classify(err))
	assert.ErrorIs(t, f.gate.Halted(), ledger.ErrInvariantViolation)
	assert.True(t, f.ledger.Cash().IsZero())
	// The venue already settled, so the halt names the settlement that was not booked.
	assert.Contains(t, f.gate.Halted().Error(), "unbooked simulated settlement sim-")
	var halt *notify.Event
	for _, e := range f.events.Recent(0) {
		if e.Kind == notify.KindSystem {
			e := e
			halt = &e
		}
	}
	require.NotNil(t, halt)
	assert.Contains(t, halt.Message, "unbooked simulated settlement")

	t.Run("further orders are refused", func(t *testing.T) {
		_, err := f.gate.Execute(ctx, order("BNB", ledger.Buy, 0.1, 10, SourceManual))
		assert.ErrorIs(t, err, ErrHalted)
	})

	t.Run("reset clears the halt", func(t *testing.T) {
		err := f.gate.Reset(func() error {
			return f.ledger.Replace(ledger.Bundle{Account: ledger.Account{Cash: dec(50)}})
		})
		require.NoError(t, err)
		assert.NoError(t, f.gate.Halted())
		assert.True(t, f.ledger.Cash().Equal(dec(50)))
	})
}

func TestGate_Execute_VenueFailureLeavesLedgerUntouched(t *testing.T) {
	// Arrange
	v := new(MockVenue)
	v.On("Settle", mock.Anything, mock.Anything).Return(venue.Receipt{}, venue.ErrVenueTimeout)
	f := setupGate(t, 100, FeeSchedule{}, v)

	// Act
	_, err := f.gate.Execute(context.Background(), order("BNB", ledger.Buy, 1, 10, SourceManual))

	// Assert
	assert.ErrorIs(t, err, venue.ErrVenueTimeout)
	assert.Equal(t, ClassExternal, Classify(err))
	assert.True(t, f.ledger.Cash().Equal(dec(100)))
	assert.Empty(t, f.ledger.Transactions())
	v.AssertExpectations(t)
}

func TestGate_Execute_ChecksOnlyStrategyBuys(t *testing.T) {
	// Arrange
	f := setupGate(t, 100, FeeSchedule{}, nil)
	f.gate.AddCheck(func(o Order, pf ledger.Portfolio) error { return ErrPositionLimit })
	ctx := context.Background()

	// Act
	_, strategyErr := f.gate.Execute(ctx, order("BNB", ledger.Buy, 1, 10, SourceStrategy))
	_, manualErr := f.gate.Execute(ctx, order("BNB", ledger.Buy, 1, 10, SourceManual))

	// Assert
	assert.ErrorIs(t, strategyErr, ErrPositionLimit)
	assert.NoError(t, manualErr)
}

func TestGate_Fee(t *testing.T) {
	f := setupGate(t, 100, FeeSchedule{SwapRate: dec(0.003), SlippageRate: dec(0.001)}, venue.NewSimulated(dec(0.5)))

	fee := f.gate.Fee("BNB", dec(2), dec(100))

	// 200 * 0.004 + 0.5
	assert.True(t, fee.Equal(dec(1.3)), "fee %s", fee)
}
