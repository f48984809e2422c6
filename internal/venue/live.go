package venue

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	json "github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"paper-trade-engine-go/internal/config"
	"paper-trade-engine-go/internal/restclient"
)

const (
	statusPending   = "pending"
	statusConfirmed = "confirmed"
	statusFailed    = "failed"
)

type swapResponse struct {
	TxHash string `json:"txHash"`
}

type swapStatus struct {
	TxHash string `json:"txHash"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// Live submits swaps to a remote settlement API and polls until they confirm.
type Live struct {
	client         *restclient.Client
	apiKey         string
	apiSecret      string
	gas            decimal.Decimal
	confirmTimeout time.Duration
	pollInterval   time.Duration
	logger         *zap.Logger
}

var _ Venue = (*Live)(nil)

// NewLive creates a live venue.
func NewLive(cfg config.Venue, gas decimal.Decimal, logger *zap.Logger) *Live {
	client := restclient.New(restclient.Options{
		BaseURL:        cfg.BaseURL,
		RateLimit:      cfg.RateLimit,
		RateLimitBurst: cfg.RateLimitBurst,
		// Submissions are not idempotent.
		MaxRetries: 1,
	}, logger)
	return newLive(client, cfg, gas, logger)
}

func newLive(client *restclient.Client, cfg config.Venue, gas decimal.Decimal, logger *zap.Logger) *Live {
	timeout := cfg.ConfirmTimeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 2 * time.Second
	}
	return &Live{
		client:         client,
		apiKey:         cfg.ApiKey,
		apiSecret:      cfg.ApiSecret,
		gas:            gas,
		confirmTimeout: timeout,
		pollInterval:   poll,
		logger:         logger,
	}
}

func (l *Live) Name() string { return "live" }

func (l *Live) GasFee(string) decimal.Decimal { return l.gas }

// sign creates a HMAC-SHA256 signature of the request body.
func (l *Live) sign(data []byte) string {
	h := hmac.New(sha256.New, []byte(l.apiSecret))
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Settle submits the order and waits for confirmation within the confirm timeout.
func (l *Live) Settle(ctx context.Context, o Order) (Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, l.confirmTimeout)
	defer cancel()

	hash, err := l.submit(ctx, o)
	if err != nil {
		return Receipt{}, l.classify(ctx, err)
	}

	logger := l.logger.With(zap.String("symbol", o.Symbol), zap.String("tx_hash", hash))
	logger.Info("Swap submitted, awaiting confirmation")

	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()
	for {
		st, err := l.status(ctx, hash)
		if err != nil {
			return Receipt{}, l.classify(ctx, err)
		}
		switch strings.ToLower(st.Status) {
		case statusConfirmed:
			logger.Info("Swap confirmed")
			return Receipt{Venue: l.Name(), TxHash: hash, SettledAt: time.Now()}, nil
		case statusFailed:
			return Receipt{}, fmt.Errorf("%w: %s %s", ErrVenueRejected, hash, st.Reason)
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return Receipt{}, l.classify(ctx, ctx.Err())
		}
	}
}

func (l *Live) submit(ctx context.Context, o Order) (string, error) {
	body, err := json.Marshal(o)
	if err != nil {
		return "", fmt.Errorf("failed to encode order: %w", err)
	}

	var result swapResponse
	req := l.client.R(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("X-API-KEY", l.apiKey).
		SetHeader("X-SIGNATURE", l.sign(body)).
		SetBody(body).
		SetResult(&result)
	if _, err := l.client.Do(ctx, http.MethodPost, "/swaps", req); err != nil {
		return "", fmt.Errorf("failed to submit swap: %w", err)
	}
	if result.TxHash == "" {
		return "", fmt.Errorf("%w: empty transaction hash", ErrVenueRejected)
	}
	return result.TxHash, nil
}

func (l *Live) status(ctx context.Context, hash string) (swapStatus, error) {
	var result swapStatus
	req := l.client.R(ctx).
		SetHeader("X-API-KEY", l.apiKey).
		SetPathParam("hash", hash).
		SetResult(&result)
	if _, err := l.client.Do(ctx, http.MethodGet, "/swaps/{hash}", req); err != nil {
		return swapStatus{}, fmt.Errorf("failed to get swap status: %w", err)
	}
	if result.Status == "" {
		result.Status = statusPending
	}
	return result, nil
}

// classify maps transport failures onto the venue sentinels.
func (l *Live) classify(ctx context.Context, err error) error {
	if errors.Is(err, ErrVenueRejected) {
		return err
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s: %w", ErrVenueTimeout, l.confirmTimeout, err)
	}
	var statusErr *restclient.StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode < 500 && statusErr.StatusCode != http.StatusTooManyRequests {
		return fmt.Errorf("%w: %w", ErrVenueRejected, err)
	}
	return fmt.Errorf("%w: %w", ErrVenueUnavailable, err)
}
