package feed

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"paper-trade-engine-go/internal/config"
	"paper-trade-engine-go/internal/market"
	"paper-trade-engine-go/internal/restclient"
)

const maxConcurrentTickers = 4

// Ticker24hr is the subset of the /ticker/24hr response the feed uses.
type Ticker24hr struct {
	Symbol      string `json:"symbol"`
	LastPrice   string `json:"lastPrice"`
	QuoteVolume string `json:"quoteVolume"`
}

// Binance is a PriceFeed reading public Binance spot tickers.
type Binance struct {
	client *restclient.Client
	quote  string
	logger *zap.Logger
}

var _ PriceFeed = (*Binance)(nil)

// NewBinance creates a Binance feed.
func NewBinance(cfg config.Feed, logger *zap.Logger) *Binance {
	client := restclient.New(restclient.Options{
		BaseURL:        cfg.BaseURL,
		Timeout:        cfg.Timeout,
		RateLimit:      cfg.RateLimit,
		RateLimitBurst: cfg.RateLimitBurst,
		MaxRetries:     cfg.MaxRetries,
	}, logger)
	logger.Info("Using Binance price feed", zap.String("base_url", cfg.BaseURL))
	return newBinance(client, cfg.Quote, logger)
}

func newBinance(client *restclient.Client, quote string, logger *zap.Logger) *Binance {
	if quote == "" {
		quote = "USDT"
	}
	return &Binance{client: client, quote: strings.ToUpper(quote), logger: logger}
}

// GetServerTime fetches the exchange time; it is used as a connectivity check.
func (b *Binance) GetServerTime(ctx context.Context) (time.Time, error) {
	var result struct {
		ServerTime int64 `json:"serverTime"`
	}
	if _, err := b.client.Do(ctx, http.MethodGet, "/time", b.client.R(ctx).SetResult(&result)); err != nil {
		return time.Time{}, fmt.Errorf("failed to get server time: %w", err)
	}
	return time.UnixMilli(result.ServerTime), nil
}

// GetTicker fetches the 24h ticker of one pair.
func (b *Binance) GetTicker(ctx context.Context, pair string) (*Ticker24hr, error) {
	var ticker Ticker24hr
	req := b.client.R(ctx).
		SetQueryParam("symbol", pair).
		SetResult(&ticker)
	if _, err := b.client.Do(ctx, http.MethodGet, "/ticker/24hr", req); err != nil {
		return nil, fmt.Errorf("failed to get ticker %s: %w", pair, err)
	}
	return &ticker, nil
}

// GetPrices queries every symbol concurrently. The quote asset itself is priced at 1.
// Individual failures are logged and skipped; ErrFeedUnavailable is returned only when
// nothing could be priced.
func (b *Binance) GetPrices(ctx context.Context, symbols []string) (map[string]market.Quote, error) {
	var mu sync.Mutex
	out := make(map[string]market.Quote, len(symbols))
	var lastErr error

	var quoted []string
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentTickers)
	for _, sym := range symbols {
		sym := sym
		if strings.EqualFold(sym, b.quote) {
			quoted = append(quoted, sym)
			continue
		}
		g.Go(func() error {
			ticker, err := b.GetTicker(gctx, sym+b.quote)
			if err == nil {
				var q market.Quote
				q, err = ticker.quote()
				if err == nil {
					mu.Lock()
					out[sym] = q
					mu.Unlock()
					return nil
				}
			}
			b.logger.Warn("Skipping symbol", zap.String("symbol", sym), zap.Error(err))
			mu.Lock()
			lastErr = err
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	// Written after Wait so the ticker goroutines own out until then.
	for _, sym := range quoted {
		out[sym] = market.Quote{Price: decimal.NewFromInt(1)}
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFeedUnavailable, err)
	}
	if len(out) == 0 && len(symbols) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrFeedUnavailable, lastErr)
	}
	return out, nil
}

func (t *Ticker24hr) quote() (market.Quote, error) {
	price, err := decimal.NewFromString(t.LastPrice)
	if err != nil || !price.IsPositive() {
		return market.Quote{}, fmt.Errorf("invalid price %q for %s", t.LastPrice, t.Symbol)
	}
	volume, err := decimal.NewFromString(t.QuoteVolume)
	if err != nil {
		volume = decimal.Zero
	}
	return market.Quote{Price: price, Volume: volume}, nil
}
