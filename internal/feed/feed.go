package feed

import (
	"context"
	"errors"

	"paper-trade-engine-go/internal/market"
)

// ErrFeedUnavailable is returned when no usable prices could be fetched.
var ErrFeedUnavailable = errors.New("price feed unavailable")

// PriceFeed supplies the latest quote of each requested symbol. Symbols the feed
// cannot price are omitted from the result.
type PriceFeed interface {
	GetPrices(ctx context.Context, symbols []string) (map[string]market.Quote, error)
}
