package trader

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paper-trade-engine-go/internal/feed"
	"paper-trade-engine-go/internal/ledger"
	"paper-trade-engine-go/internal/venue"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"demo", ModeDemo, false},
		{"LIVE-MANUAL", ModeLiveManual, false},
		{" live_autopilot ", ModeLiveAutopilot, false},
		{"Disconnected", ModeDisconnected, false},
		{"paper", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMode(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCanTransition(t *testing.T) {
	allowed := [][2]Mode{
		{ModeDisconnected, ModeDemo},
		{ModeDisconnected, ModeLiveManual},
		{ModeLiveManual, ModeLiveAutopilot},
		{ModeLiveAutopilot, ModeLiveManual},
		{ModeDemo, ModeDisconnected},
		{ModeLiveAutopilot, ModeDisconnected},
	}
	for _, tr := range allowed {
		assert.True(t, CanTransition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}

	refused := [][2]Mode{
		{ModeDemo, ModeLiveManual},
		{ModeDemo, ModeLiveAutopilot},
		{ModeDisconnected, ModeLiveAutopilot},
		{ModeLiveManual, ModeDemo},
	}
	for _, tr := range refused {
		assert.False(t, CanTransition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}
}

func TestModePredicates(t *testing.T) {
	assert.False(t, ModeDisconnected.Connected())
	assert.True(t, ModeDemo.Autonomous())
	assert.True(t, ModeLiveAutopilot.Autonomous())
	assert.False(t, ModeLiveManual.Autonomous())
	assert.True(t, ModeLiveManual.Live())
	assert.False(t, ModeDemo.Live())
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorClass
	}{
		{nil, ""},
		{ledger.ErrInsufficientFunds, ClassValidation},
		{fmt.Errorf("wrapped: %w", ErrConcentrationLimit), ClassValidation},
		{ErrLocked, ClassConcurrency},
		{ErrCooldown, ClassConcurrency},
		{feed.ErrFeedUnavailable, ClassExternal},
		{venue.ErrVenueRejected, ClassExternal},
		{&ExecutionError{Op: "execute", Err: ledger.ErrInvariantViolation}, ClassInvariant},
		{errors.New("boom"), ClassUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.err), "%v", tt.err)
	}
}

func TestExecutionError(t *testing.T) {
	err := &ExecutionError{Op: "manual", Symbol: "BNB", Side: ledger.Buy, Err: ErrDisconnected}

	assert.Equal(t, "manual BUY BNB: engine is disconnected", err.Error())
	assert.ErrorIs(t, err, ErrDisconnected)
}
