package exchange

import "errors"

// Error kinds surfaced to callers. All are user-recoverable except
// ErrInternal: the enclosing transaction is rolled back and nothing is
// mutated. Retries are the caller's decision.
var (
	ErrInvalidParameters   = errors.New("exchange: invalid parameters")
	ErrMarketClosed        = errors.New("exchange: market is not open")
	ErrInvalidOutcome      = errors.New("exchange: outcome does not belong to market")
	ErrOrderAlreadyExists  = errors.New("exchange: user already has an order in this market")
	ErrInsufficientBalance = errors.New("exchange: insufficient available balance")
	ErrNoSuchOrder         = errors.New("exchange: no such order")
	ErrNoSuchMarket        = errors.New("exchange: no such market")
	ErrAlreadyResolved     = errors.New("exchange: market already resolved")
	ErrNotOracle           = errors.New("exchange: caller is not the market oracle")
	ErrInternal            = errors.New("exchange: internal error")
)
