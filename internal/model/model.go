// Package model defines the core domain types shared across the exchange
// engine. All monetary values and contract holdings use shopspring/decimal —
// never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction is the side of a limit order.
type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
)

// Valid reports whether d is one of the two known directions.
func (d Direction) Valid() bool {
	return d == DirectionBuy || d == DirectionSell
}

// MarketStatus is the lifecycle state of a market. A market transitions
// exactly once: open → resolved.
type MarketStatus string

const (
	MarketOpen     MarketStatus = "open"
	MarketResolved MarketStatus = "resolved"
)

// User is a trading account. Locked is the portion of Balance escrowed
// behind resting orders; Available is what can back a new order.
// Users are created on first reference and never destroyed.
type User struct {
	ID        string          `json:"id" db:"id"`
	Balance   decimal.Decimal `json:"balance" db:"balance"`
	Locked    decimal.Decimal `json:"locked" db:"locked"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// Available returns balance minus locked escrow.
func (u *User) Available() decimal.Decimal {
	return u.Balance.Sub(u.Locked)
}

// Market is one question with N mutually exclusive outcomes. A complete set
// of outcome contracts (one basket) is always redeemable for exactly 1.00.
type Market struct {
	ID               string       `json:"id" db:"id"`
	Number           int64        `json:"number" db:"number"` // human-visible, monotone per exchange
	GuildID          string       `json:"guild_id" db:"guild_id"`
	CreatorID        string       `json:"creator_id" db:"creator_id"`
	Description      string       `json:"description" db:"description"`
	OracleUserID     string       `json:"oracle_user_id" db:"oracle_user_id"`
	Status           MarketStatus `json:"status" db:"status"`
	WinningOutcomeID string       `json:"winning_outcome_id,omitempty" db:"winning_outcome_id"`
	CreatedAt        time.Time    `json:"created_at" db:"created_at"`
	ResolvedAt       *time.Time   `json:"resolved_at,omitempty" db:"resolved_at"`
}

// Outcome is one of a market's mutually exclusive results. Created with the
// market, immutable thereafter.
type Outcome struct {
	ID          string `json:"id" db:"id"`
	MarketID    string `json:"market_id" db:"market_id"`
	Number      int    `json:"number" db:"number"` // 1-indexed within the market
	Description string `json:"description" db:"description"`
}

// Order is a resting limit order. Quantity is the remaining unfilled amount;
// EscrowAmount is the cash currently locked behind it. At most one order
// exists per (UserID, MarketID).
type Order struct {
	ID           string          `json:"id" db:"id"`
	UserID       string          `json:"user_id" db:"user_id"`
	MarketID     string          `json:"market_id" db:"market_id"`
	OutcomeID    string          `json:"outcome_id" db:"outcome_id"`
	Direction    Direction       `json:"direction" db:"direction"`
	Quantity     int64           `json:"quantity" db:"quantity"`
	Price        decimal.Decimal `json:"price" db:"price"` // strictly inside (0, 1)
	EscrowAmount decimal.Decimal `json:"escrow_amount" db:"escrow_amount"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// Position holds a user's contracts in one market, keyed by outcome id.
// Quantities go fractional when basket surplus is distributed pro-rata, and
// negative when the user is short. Zero entries are pruned.
type Position struct {
	ID        string                     `json:"id" db:"id"`
	UserID    string                     `json:"user_id" db:"user_id"`
	MarketID  string                     `json:"market_id" db:"market_id"`
	Holdings  map[string]decimal.Decimal `json:"holdings" db:"holdings"`
	CreatedAt time.Time                  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time                  `json:"updated_at" db:"updated_at"`
}

// Holding returns the quantity held of one outcome, zero if none.
func (p *Position) Holding(outcomeID string) decimal.Decimal {
	if p == nil || p.Holdings == nil {
		return decimal.Zero
	}
	return p.Holdings[outcomeID]
}

// Participant is one user's leg of an execution. Quantity is signed:
// positive for buys, negative for sells.
type Participant struct {
	UserID         string          `json:"user_id"`
	OutcomeID      string          `json:"outcome_id"`
	Quantity       decimal.Decimal `json:"quantity"`
	EffectivePrice decimal.Decimal `json:"effective_price"`
}

// Execution is an immutable record of one match event. Append-only audit
// trail; never modified or deleted.
type Execution struct {
	ID           string        `json:"id" db:"id"`
	MarketID     string        `json:"market_id" db:"market_id"`
	Timestamp    time.Time     `json:"timestamp" db:"timestamp"`
	Participants []Participant `json:"participants" db:"participants"`
}
