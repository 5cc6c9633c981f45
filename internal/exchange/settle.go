package exchange

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/predix/exchange-engine/internal/matching"
	"github.com/predix/exchange-engine/internal/store"
)

// applyResult applies a match result through the market transaction:
// balance/locked deltas, position deltas, order rewrites and deletions,
// execution appends. The caller's transaction makes it all-or-nothing.
func applyResult(tx store.MarketTx, res *matching.Result) error {
	for _, bu := range res.BalanceUpdates {
		if err := tx.AdjustUser(bu.UserID, bu.BalanceDelta, bu.LockedDelta); err != nil {
			return fmt.Errorf("adjust user %s: %w", bu.UserID, err)
		}
	}
	for _, pu := range res.PositionUpdates {
		if err := tx.ApplyPositionDelta(pu.UserID, pu.OutcomeID, pu.Delta); err != nil {
			return fmt.Errorf("apply position delta %s/%s: %w", pu.UserID, pu.OutcomeID, err)
		}
	}
	for _, ou := range res.OrderUpdates {
		if ou.NewQuantity == 0 {
			if err := tx.DeleteOrder(ou.OrderID); err != nil {
				return fmt.Errorf("delete order %s: %w", ou.OrderID, err)
			}
			continue
		}
		if err := tx.UpdateOrder(ou.OrderID, ou.NewQuantity, ou.NewEscrow); err != nil {
			return fmt.Errorf("update order %s: %w", ou.OrderID, err)
		}
	}
	for i := range res.Executions {
		if err := tx.InsertExecution(&res.Executions[i]); err != nil {
			return fmt.Errorf("insert execution %s: %w", res.Executions[i].ID, err)
		}
	}
	return nil
}

// auditInvariants re-reads the transaction's state and verifies what must
// hold after every settlement:
//
//   - every resting order has positive quantity and non-negative escrow
//   - every user touching this market has 0 ≤ locked ≤ balance
//   - basket conservation: the per-outcome holding totals are identical
//     across all of the market's outcomes
//
// A failure means a matching or settlement bug; the caller rolls the
// transaction back and surfaces ErrInternal, so the committed state never
// regresses.
func auditInvariants(tx store.MarketTx) error {
	orders, err := tx.Orders()
	if err != nil {
		return err
	}
	positions, err := tx.Positions()
	if err != nil {
		return err
	}
	outcomes, err := tx.Outcomes()
	if err != nil {
		return err
	}

	users := make(map[string]bool)
	for _, o := range orders {
		if o.Quantity <= 0 {
			return fmt.Errorf("%w: order %s persisted with quantity %d", ErrInternal, o.ID, o.Quantity)
		}
		if o.EscrowAmount.IsNegative() {
			return fmt.Errorf("%w: order %s has negative escrow %s", ErrInternal, o.ID, o.EscrowAmount)
		}
		users[o.UserID] = true
	}
	for _, p := range positions {
		users[p.UserID] = true
	}

	for id := range users {
		u, err := tx.User(id)
		if err != nil {
			return err
		}
		if u.Locked.IsNegative() || u.Balance.LessThan(u.Locked) {
			return fmt.Errorf("%w: user %s violates balance ≥ locked ≥ 0 (balance=%s locked=%s)",
				ErrInternal, id, u.Balance, u.Locked)
		}
	}

	totals := make(map[string]decimal.Decimal, len(outcomes))
	for _, oc := range outcomes {
		totals[oc.ID] = decimal.Zero
	}
	for _, p := range positions {
		for outcomeID, qty := range p.Holdings {
			totals[outcomeID] = totals[outcomeID].Add(qty)
		}
	}
	var baskets decimal.Decimal
	for i, oc := range outcomes {
		if i == 0 {
			baskets = totals[oc.ID]
			continue
		}
		if !totals[oc.ID].Equal(baskets) {
			return fmt.Errorf("%w: basket conservation broken (outcome %s total %s, expected %s)",
				ErrInternal, oc.ID, totals[oc.ID], baskets)
		}
	}
	return nil
}
