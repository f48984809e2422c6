package trader

import (
	"fmt"
	"strings"
)

// Mode is the engine's connection and autonomy state.
type Mode string

const (
	ModeDisconnected  Mode = "disconnected"
	ModeDemo          Mode = "demo"
	ModeLiveManual    Mode = "live_manual"
	ModeLiveAutopilot Mode = "live_autopilot"
)

var transitions = map[Mode][]Mode{
	ModeDisconnected:  {ModeDemo, ModeLiveManual},
	ModeDemo:          {ModeDisconnected},
	ModeLiveManual:    {ModeLiveAutopilot, ModeDisconnected},
	ModeLiveAutopilot: {ModeLiveManual, ModeDisconnected},
}

// ParseMode accepts the mode names case-insensitively, with '-' or '_'.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	if _, ok := transitions[m]; !ok {
		return "", fmt.Errorf("unknown mode %q", s)
	}
	return m, nil
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to Mode) bool {
	for _, m := range transitions[from] {
		if m == to {
			return true
		}
	}
	return false
}

// Connected reports whether ticks are processed at all.
func (m Mode) Connected() bool { return m != ModeDisconnected }

// Autonomous reports whether the strategy may open and close positions on its own.
func (m Mode) Autonomous() bool { return m == ModeDemo || m == ModeLiveAutopilot }

// Live reports whether orders go to the live venue.
func (m Mode) Live() bool { return m == ModeLiveManual || m == ModeLiveAutopilot }
