// Package store defines the persistence interface for the exchange engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/predix/exchange-engine/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer. All mutations of one market go
// through Update, which serialises them per market.
type Store interface {
	// --- Market lifecycle ---

	// CreateMarket persists a market and its outcomes in one transaction,
	// assigning the market's monotone number.
	CreateMarket(ctx context.Context, m *model.Market, outcomes []model.Outcome) error

	// GetMarket retrieves a market by its id.
	GetMarket(ctx context.Context, id string) (*model.Market, error)

	// GetOutcomes returns a market's outcomes ordered by number.
	GetOutcomes(ctx context.Context, marketID string) ([]model.Outcome, error)

	// ListMarkets returns markets with the given status, newest first.
	ListMarkets(ctx context.Context, status model.MarketStatus, limit, offset int) ([]model.Market, error)

	// --- Account and book reads ---

	// GetUser retrieves a user, ErrNotFound if never referenced.
	GetUser(ctx context.Context, id string) (*model.User, error)

	// CreditUser adds to a user's balance, creating the account if needed.
	CreditUser(ctx context.Context, id string, amount decimal.Decimal) error

	// GetOrders returns all resting orders of a market.
	GetOrders(ctx context.Context, marketID string) ([]model.Order, error)

	// GetUserOrders returns a user's resting orders across markets.
	GetUserOrders(ctx context.Context, userID string) ([]model.Order, error)

	// GetPositions returns all positions of a market.
	GetPositions(ctx context.Context, marketID string) ([]model.Position, error)

	// GetUserPositions returns a user's positions across markets.
	GetUserPositions(ctx context.Context, userID string) ([]model.Position, error)

	// GetExecutions returns a market's executions, oldest first.
	GetExecutions(ctx context.Context, marketID string, limit, offset int) ([]model.Execution, error)

	// --- Serialised mutation ---

	// Update runs fn inside a transaction holding the per-market lock.
	// Any error from fn rolls the whole transaction back; no partial state
	// is ever observable. Returns ErrNotFound if the market does not exist.
	Update(ctx context.Context, marketID string, fn func(tx MarketTx) error) error
}

// MarketTx is the write surface available inside Update. All reads see the
// transaction's own uncommitted writes. Implementations apply balance
// adjustments with atomic arithmetic, never read-modify-write.
type MarketTx interface {
	Market() *model.Market
	Outcomes() ([]model.Outcome, error)
	Orders() ([]model.Order, error)
	Positions() ([]model.Position, error)

	// User loads an account, creating it on first reference.
	User(id string) (*model.User, error)

	// AdjustUser adds the deltas to balance and locked.
	AdjustUser(id string, balanceDelta, lockedDelta decimal.Decimal) error

	InsertOrder(o *model.Order) error
	UpdateOrder(id string, quantity int64, escrow decimal.Decimal) error
	DeleteOrder(id string) error

	// ApplyPositionDelta adds delta to holdings[outcomeID] of the (user,
	// market) position, creating the position lazily and pruning zero
	// entries.
	ApplyPositionDelta(userID, outcomeID string, delta decimal.Decimal) error

	// DeletePosition removes the user's position in this market.
	DeletePosition(userID string) error

	InsertExecution(e *model.Execution) error

	// SetResolved transitions the market open → resolved.
	SetResolved(winningOutcomeID string, resolvedAt time.Time) error
}
