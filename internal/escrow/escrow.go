// Package escrow computes the cash that must be locked to back a limit
// order so the exchange stays fully collateralised at every instant.
//
// All monetary values use shopspring/decimal — never float64 for money.
package escrow

import (
	"github.com/shopspring/decimal"

	"github.com/predix/exchange-engine/internal/model"
)

var one = decimal.NewFromInt(1)

// Required returns the escrow for an order of the given direction, quantity
// and price, where owned is the submitter's current holding of the targeted
// outcome (zero if none, negative if already short).
//
// Buy: q·p — the bid is the cap on the buyer's outlay.
//
// Sell: max(0, q − owned)·(1 − p). Contracts the seller already owns are
// delivered, not collateralised. Anything beyond that is a short: the
// exchange co-mints a basket, the seller receives p per contract at match
// time, and the escrowed (1 − p) covers the complementary outcomes. Cover
// applies to the positive part of holdings only: fractional holdings count,
// an existing short counts as zero.
//
// The result is never negative. Pure function.
func Required(direction model.Direction, quantity int64, price, owned decimal.Decimal) decimal.Decimal {
	q := decimal.NewFromInt(quantity)

	if direction == model.DirectionBuy {
		return q.Mul(price)
	}

	cover := owned
	if cover.IsNegative() {
		cover = decimal.Zero
	}
	short := q.Sub(cover)
	if short.IsNegative() {
		short = decimal.Zero
	}
	return short.Mul(one.Sub(price))
}
