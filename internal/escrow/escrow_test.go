package escrow

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/predix/exchange-engine/internal/model"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestRequired_Buy(t *testing.T) {
	got := Required(model.DirectionBuy, 10, d(0.70), decimal.Zero)
	if !got.Equal(d(7)) {
		t.Errorf("expected escrow 7 for buy 10 @ 0.70, got %s", got)
	}
}

func TestRequired_BuyIgnoresHoldings(t *testing.T) {
	// Existing holdings never reduce a buyer's escrow.
	got := Required(model.DirectionBuy, 10, d(0.70), d(100))
	if !got.Equal(d(7)) {
		t.Errorf("expected escrow 7, got %s", got)
	}
}

func TestRequired_SellFullyCovered(t *testing.T) {
	// Selling exactly as many as owned requires zero escrow.
	got := Required(model.DirectionSell, 10, d(0.30), d(10))
	if !got.Equal(decimal.Zero) {
		t.Errorf("expected zero escrow for covered sell, got %s", got)
	}
}

func TestRequired_SellOvercovered(t *testing.T) {
	got := Required(model.DirectionSell, 10, d(0.30), d(25))
	if !got.Equal(decimal.Zero) {
		t.Errorf("expected zero escrow, got %s", got)
	}
}

func TestRequired_SellNakedShort(t *testing.T) {
	// No holdings: all 10 contracts are shorts costing (1 - 0.30) each.
	got := Required(model.DirectionSell, 10, d(0.30), decimal.Zero)
	if !got.Equal(d(7)) {
		t.Errorf("expected escrow 7 for naked short, got %s", got)
	}
}

func TestRequired_SellPartialCover(t *testing.T) {
	// 4 delivered, 6 shorted at (1 - 0.25) = 0.75 each.
	got := Required(model.DirectionSell, 10, d(0.25), d(4))
	if !got.Equal(d(4.5)) {
		t.Errorf("expected escrow 4.5, got %s", got)
	}
}

func TestRequired_SellNegativeHoldingsNoCover(t *testing.T) {
	// An existing short gives no cover; escrow as if owned were zero.
	got := Required(model.DirectionSell, 10, d(0.40), d(-5))
	if !got.Equal(d(6)) {
		t.Errorf("expected escrow 6, got %s", got)
	}
}

func TestRequired_SellFractionalCover(t *testing.T) {
	// Surplus distribution leaves fractional holdings; they still cover.
	got := Required(model.DirectionSell, 10, d(0.50), d(2.5))
	if !got.Equal(d(3.75)) {
		t.Errorf("expected escrow 3.75, got %s", got)
	}
}

func TestRequired_NeverNegative(t *testing.T) {
	cases := []struct {
		dir   model.Direction
		qty   int64
		price float64
		owned float64
	}{
		{model.DirectionBuy, 1, 0.01, 0},
		{model.DirectionBuy, 1000, 0.99, -50},
		{model.DirectionSell, 1, 0.99, 1000},
		{model.DirectionSell, 1000, 0.01, -1000},
	}
	for _, c := range cases {
		got := Required(c.dir, c.qty, d(c.price), d(c.owned))
		if got.IsNegative() {
			t.Errorf("escrow must never be negative: %s %d @ %v owned %v → %s",
				c.dir, c.qty, c.price, c.owned, got)
		}
	}
}
