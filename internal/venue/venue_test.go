package venue

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"paper-trade-engine-go/internal/config"
	"paper-trade-engine-go/internal/ledger"
	"paper-trade-engine-go/internal/restclient"
)

var testOrder = Order{Symbol: "BNB", Side: ledger.Buy, Amount: decimal.NewFromInt(1), Price: decimal.NewFromInt(600)}

// setupTestServer creates a new test server and a Live venue configured to use it.
func setupTestServer(handler http.Handler, timeout time.Duration) (*Live, *httptest.Server) {
	server := httptest.NewServer(handler)
	client := restclient.New(restclient.Options{BaseURL: server.URL, MaxRetries: 1}, zap.NewNop())
	cfg := config.Venue{
		ApiKey:         "test_api_key",
		ApiSecret:      "test_secret_key",
		ConfirmTimeout: timeout,
		PollInterval:   5 * time.Millisecond,
	}
	return newLive(client, cfg, decimal.RequireFromString("0.25"), zap.NewNop()), server
}

func TestSimulated_Settle(t *testing.T) {
	v := NewSimulated(decimal.Zero)

	r, err := v.Settle(context.Background(), testOrder)
	require.NoError(t, err)
	assert.Equal(t, "simulated", r.Venue)
	assert.True(t, strings.HasPrefix(r.TxHash, "sim-"))
	assert.True(t, v.GasFee("BNB").IsZero())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = v.Settle(ctx, testOrder)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLive_Settle(t *testing.T) {
	t.Run("Confirmed", func(t *testing.T) {
		// Arrange
		var polls atomic.Int32
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "test_api_key", r.Header.Get("X-API-KEY"))
			switch {
			case r.Method == http.MethodPost && r.URL.Path == "/swaps":
				body, _ := io.ReadAll(r.Body)
				assert.Contains(t, string(body), `"symbol":"BNB"`)
				assert.NotEmpty(t, r.Header.Get("X-SIGNATURE"))
				_, _ = w.Write([]byte(`{"txHash":"0xabc"}`))
			case r.Method == http.MethodGet && r.URL.Path == "/swaps/0xabc":
				if polls.Add(1) < 3 {
					_, _ = w.Write([]byte(`{"txHash":"0xabc","status":"pending"}`))
					return
				}
				_, _ = w.Write([]byte(`{"txHash":"0xabc","status":"confirmed"}`))
			default:
				w.WriteHeader(http.StatusNotFound)
			}
		})
		v, server := setupTestServer(handler, time.Second)
		defer server.Close()

		// Act
		r, err := v.Settle(context.Background(), testOrder)

		// Assert
		require.NoError(t, err)
		assert.Equal(t, "0xabc", r.TxHash)
		assert.Equal(t, "live", r.Venue)
		assert.Equal(t, int32(3), polls.Load())
		assert.Equal(t, "0.25", v.GasFee("BNB").String())
	})

	t.Run("Failed", func(t *testing.T) {
		// Arrange
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost {
				_, _ = w.Write([]byte(`{"txHash":"0xdef"}`))
				return
			}
			_, _ = w.Write([]byte(`{"txHash":"0xdef","status":"failed","reason":"slippage exceeded"}`))
		})
		v, server := setupTestServer(handler, time.Second)
		defer server.Close()

		// Act
		_, err := v.Settle(context.Background(), testOrder)

		// Assert
		assert.True(t, errors.Is(err, ErrVenueRejected))
		assert.Contains(t, err.Error(), "slippage exceeded")
	})

	t.Run("Rejected", func(t *testing.T) {
		// Arrange
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"insufficient liquidity"}`))
		})
		v, server := setupTestServer(handler, time.Second)
		defer server.Close()

		// Act
		_, err := v.Settle(context.Background(), testOrder)

		// Assert
		assert.True(t, errors.Is(err, ErrVenueRejected))
	})

	t.Run("Timeout", func(t *testing.T) {
		// Arrange
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost {
				_, _ = w.Write([]byte(`{"txHash":"0x123"}`))
				return
			}
			_, _ = w.Write([]byte(`{"txHash":"0x123","status":"pending"}`))
		})
		v, server := setupTestServer(handler, 50*time.Millisecond)
		defer server.Close()

		// Act
		_, err := v.Settle(context.Background(), testOrder)

		// Assert
		assert.True(t, errors.Is(err, ErrVenueTimeout), "got %v", err)
	})

	t.Run("Unavailable", func(t *testing.T) {
		// Arrange
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		})
		v, server := setupTestServer(handler, time.Second)
		defer server.Close()

		// Act
		_, err := v.Settle(context.Background(), testOrder)

		// Assert
		assert.True(t, errors.Is(err, ErrVenueUnavailable), "got %v", err)
	})
}
