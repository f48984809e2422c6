package trader

import (
	"errors"
	"fmt"

	"paper-trade-engine-go/internal/feed"
	"paper-trade-engine-go/internal/ledger"
	"paper-trade-engine-go/internal/venue"
)

var (
	ErrLocked             = errors.New("another execution is in progress")
	ErrCooldown           = errors.New("autonomous cooldown active")
	ErrConcentrationLimit = errors.New("position would exceed concentration limit")
	ErrPositionLimit      = errors.New("maximum number of positions reached")
	ErrHalted             = errors.New("execution halted after invariant violation")
	ErrInvalidTransition  = errors.New("invalid mode transition")
	ErrDisconnected       = errors.New("engine is disconnected")
	ErrUnknownProfile     = errors.New("unknown strategy profile")
	ErrUnknownSymbol      = errors.New("no price for symbol")
	ErrInvalidThresholds  = errors.New("invalid risk thresholds")
)

// ErrorClass groups failures by how callers should react to them.
type ErrorClass string

const (
	ClassValidation  ErrorClass = "ValidationError"
	ClassConcurrency ErrorClass = "ConcurrencyError"
	ClassExternal    ErrorClass = "ExternalError"
	ClassInvariant   ErrorClass = "InvariantViolation"
	ClassUnknown     ErrorClass = "Unknown"
)

var classes = []struct {
	class ErrorClass
	errs  []error
}{
	{ClassInvariant, []error{ledger.ErrInvariantViolation, ErrHalted}},
	{ClassValidation, []error{
		ledger.ErrInsufficientFunds, ledger.ErrInsufficientInventory, ledger.ErrInvalidAmount,
		ErrConcentrationLimit, ErrPositionLimit, ErrUnknownSymbol, ErrDisconnected,
		ErrInvalidTransition, ErrUnknownProfile, ErrInvalidThresholds,
		ledger.ErrTransactionNotFound, ledger.ErrFeedbackAlreadyApplied, ledger.ErrInvalidFeedback,
	}},
	{ClassConcurrency, []error{ErrLocked, ErrCooldown}},
	{ClassExternal, []error{feed.ErrFeedUnavailable, venue.ErrVenueTimeout, venue.ErrVenueRejected, venue.ErrVenueUnavailable}},
}

// Classify maps an error to its class.
func Classify(err error) ErrorClass {
	if err == nil {
		return ""
	}
	for _, c := range classes {
		for _, target := range c.errs {
			if errors.Is(err, target) {
				return c.class
			}
		}
	}
	return ClassUnknown
}

// ExecutionError describes a rejected or failed order.
type ExecutionError struct {
	Op     string
	Symbol string
	Side   ledger.Side
	Err    error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s %s %s: %v", e.Op, e.Side, e.Symbol, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }
