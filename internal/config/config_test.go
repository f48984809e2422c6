package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_DefaultsWithoutFile(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.Engine.TickInterval)
	assert.Equal(t, "demo", cfg.Engine.Mode)
	assert.InDelta(t, -0.05, cfg.Risk.StopLoss, 1e-9)
	assert.InDelta(t, 0.40, cfg.Risk.MaxConcentration, 1e-9)
	assert.Equal(t, 5, cfg.Risk.MaxPositions)
	assert.Equal(t, 100, cfg.Database.TransactionsLimit)

	p, ok := cfg.Strategy.ProfileFor("moderate")
	require.True(t, ok)
	assert.Equal(t, 2*time.Minute, p.Cooldown)
	assert.InDelta(t, 0.15, p.PositionSizeFraction, 1e-9)
}

func TestLoadConfig_FileOverrides(t *testing.T) {
	dir := t.TempDir()
	content := `
engine:
  tick_interval: 250ms
  starting_cash: 200
market:
  symbols: [bnb, eth]
  initial_prices:
    BNB: 200
risk:
  stop_loss: -0.08
strategy:
  profile: AGGRESSIVE
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yml"), []byte(content), 0o644))

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, 250*time.Millisecond, cfg.Engine.TickInterval)
	assert.InDelta(t, 200.0, cfg.Engine.StartingCash, 1e-9)
	assert.Equal(t, []string{"BNB", "ETH"}, Upper(cfg.Market.Symbols))
	assert.InDelta(t, -0.08, cfg.Risk.StopLoss, 1e-9)
	assert.Equal(t, "AGGRESSIVE", cfg.Strategy.Profile)

	price, ok := cfg.Market.InitialPrice("BNB")
	assert.True(t, ok)
	assert.InDelta(t, 200.0, price, 1e-9)
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("RISK_MAX_POSITIONS", "3")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Risk.MaxPositions)
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "simulated", cfg.Feed.Source)
	_, ok := cfg.Strategy.ProfileFor("CONSERVATIVE")
	assert.True(t, ok)
}
