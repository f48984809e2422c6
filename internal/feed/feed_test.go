package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"paper-trade-engine-go/internal/market"
	"paper-trade-engine-go/internal/restclient"
)

// setupTestServer creates a new test server and a Binance feed configured to use it.
func setupTestServer(handler http.Handler) (*Binance, *httptest.Server) {
	server := httptest.NewServer(handler)
	client := restclient.New(restclient.Options{BaseURL: server.URL, MaxRetries: 1, Backoff: time.Millisecond}, zap.NewNop())
	return newBinance(client, "usdt", zap.NewNop()), server
}

func TestBinance_GetPrices(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		// Arrange
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/ticker/24hr", r.URL.Path)
			pair := r.URL.Query().Get("symbol")
			prices := map[string]string{"BNBUSDT": "612.5", "ETHUSDT": "3010.25"}
			price, ok := prices[pair]
			if !ok {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"code": -1121, "msg": "Invalid symbol."}`))
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = fmt.Fprintf(w, `{"symbol":%q,"lastPrice":%q,"quoteVolume":"12345.6"}`, pair, price)
		})
		b, server := setupTestServer(handler)
		defer server.Close()

		// Act
		quotes, err := b.GetPrices(context.Background(), []string{"BNB", "ETH", "NOPE", "USDT"})

		// Assert
		require.NoError(t, err)
		assert.Len(t, quotes, 3)
		assert.True(t, quotes["BNB"].Price.Equal(decimal.RequireFromString("612.5")))
		assert.True(t, quotes["ETH"].Volume.Equal(decimal.RequireFromString("12345.6")))
		assert.True(t, quotes["USDT"].Price.Equal(decimal.NewFromInt(1)))
		assert.NotContains(t, quotes, "NOPE")
	})

	t.Run("QuoteAssetBetweenPricedSymbols", func(t *testing.T) {
		// Arrange
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = fmt.Fprintf(w, `{"symbol":%q,"lastPrice":"10","quoteVolume":"1"}`, r.URL.Query().Get("symbol"))
		})
		b, server := setupTestServer(handler)
		defer server.Close()
		var symbols []string
		for i := 0; i < 8; i++ {
			symbols = append(symbols, fmt.Sprintf("C%d", i), "USDT")
		}

		for i := 0; i < 50; i++ {
			// Act
			quotes, err := b.GetPrices(context.Background(), symbols)

			// Assert
			require.NoError(t, err)
			require.Len(t, quotes, 9)
			assert.True(t, quotes["USDT"].Price.Equal(decimal.NewFromInt(1)))
			assert.True(t, quotes["C7"].Price.Equal(decimal.NewFromInt(10)))
		}
	})

	t.Run("Unavailable", func(t *testing.T) {
		// Arrange
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		})
		b, server := setupTestServer(handler)
		defer server.Close()

		// Act
		quotes, err := b.GetPrices(context.Background(), []string{"BNB"})

		// Assert
		assert.Nil(t, quotes)
		assert.True(t, errors.Is(err, ErrFeedUnavailable))
	})

	t.Run("InvalidPrice", func(t *testing.T) {
		// Arrange
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"symbol":"BNBUSDT","lastPrice":"0","quoteVolume":"1"}`))
		})
		b, server := setupTestServer(handler)
		defer server.Close()

		// Act
		_, err := b.GetPrices(context.Background(), []string{"BNB"})

		// Assert
		assert.True(t, errors.Is(err, ErrFeedUnavailable))
	})
}

func TestBinance_GetServerTime(t *testing.T) {
	// Arrange
	expected := time.Now().UnixMilli()
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/time", r.URL.Path)
		_, _ = fmt.Fprintf(w, `{"serverTime": %d}`, expected)
	})
	b, server := setupTestServer(handler)
	defer server.Close()

	// Act
	got, err := b.GetServerTime(context.Background())

	// Assert
	require.NoError(t, err)
	assert.Equal(t, expected, got.UnixMilli())
}

func TestSimulated_GetPrices(t *testing.T) {
	sim := market.NewSimulator(market.SimulatorConfig{BaseVolatility: 0.01, Seed: 3})
	f := NewSimulated(sim, map[string]decimal.Decimal{
		"BNB": decimal.NewFromInt(600),
		"ETH": decimal.NewFromInt(3000),
		"BAD": decimal.Zero,
	}, decimal.NewFromInt(100))

	assert.Len(t, f.Initial(), 2)

	quotes, err := f.GetPrices(context.Background(), []string{"BNB", "ETH", "XRP"})
	require.NoError(t, err)
	require.Len(t, quotes, 2)
	for sym, q := range quotes {
		assert.True(t, q.Price.IsPositive(), sym)
	}

	// Each call advances from the previous state.
	again, err := f.GetPrices(context.Background(), []string{"BNB"})
	require.NoError(t, err)
	assert.True(t, f.Initial()["BNB"].Price.Equal(again["BNB"].Price))
	assert.Equal(t, quotes["BNB"].Price.String(), f.Initial()["BNB"].PreviousPrice.String())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.GetPrices(ctx, []string{"BNB"})
	assert.Error(t, err)
}
