// Package matching implements the order matching engine for peer-to-peer
// outcome markets: direct buy/sell crosses at the midpoint price, and
// synthetic basket mints when bids across outcomes sum to at least 1.00.
//
// Match is a pure function. It never touches storage; it emits the full set
// of deltas for the settlement layer to apply in one transaction.
//
// All monetary values use shopspring/decimal — never float64 for money.
package matching

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/predix/exchange-engine/internal/model"
)

var (
	one = decimal.NewFromInt(1)
	two = decimal.NewFromInt(2)
)

// surplusScale is the rounding scale for pro-rata surplus shares and
// proportional escrow release. The final participant absorbs the rounding
// remainder so per-outcome totals stay exactly equal.
const surplusScale = 8

// OrderUpdate rewrites one order's remaining quantity and escrow.
// NewQuantity 0 means delete.
type OrderUpdate struct {
	OrderID     string
	NewQuantity int64
	NewEscrow   decimal.Decimal
}

// PositionUpdate is a contract-quantity delta for one (user, outcome) pair.
type PositionUpdate struct {
	UserID    string
	OutcomeID string
	Delta     decimal.Decimal
}

// BalanceUpdate is a cash delta for one user. LockedDelta tracks escrow
// release; locked stays within balance at all times.
type BalanceUpdate struct {
	UserID       string
	BalanceDelta decimal.Decimal
	LockedDelta  decimal.Decimal
}

// Result is everything a round of matching changed, ready for transactional
// application.
type Result struct {
	Executions      []model.Execution
	OrderUpdates    []OrderUpdate
	PositionUpdates []PositionUpdate
	BalanceUpdates  []BalanceUpdate
}

// Empty reports whether the round matched nothing.
func (r *Result) Empty() bool {
	return len(r.Executions) == 0
}

// workOrder is the engine's mutable copy of a resting order.
type workOrder struct {
	id        string
	userID    string
	outcomeID string
	direction model.Direction
	remaining int64
	price     decimal.Decimal
	escrow    decimal.Decimal
	createdAt time.Time
}

type cashDelta struct {
	balance decimal.Decimal
	locked  decimal.Decimal
}

// book is the engine's working state for one market.
type book struct {
	marketID   string
	outcomeIDs []string
	orders     []*workOrder
	now        time.Time
	newID      func() string

	balances  map[string]*cashDelta
	positions map[string]map[string]decimal.Decimal // userID → outcomeID → delta
	touched   map[string]bool
	execs     []model.Execution
}

// Match runs the matching algorithm over the full resting-order state of one
// market and returns the deltas to apply. Orders and positions are read-only
// inputs; now stamps the executions and newID mints their ids.
//
// Direct matches are preferred: in each outer iteration every outcome is
// swept for price crosses first, and only a quiescent book is considered for
// a synthetic basket mint. The loop terminates because every fired match
// removes at least one contract of open quantity.
func Match(orders []model.Order, _ []model.Position, outcomeIDs []string, marketID string, now time.Time, newID func() string) *Result {
	b := &book{
		marketID:   marketID,
		outcomeIDs: outcomeIDs,
		now:        now,
		newID:      newID,
		balances:   make(map[string]*cashDelta),
		positions:  make(map[string]map[string]decimal.Decimal),
		touched:    make(map[string]bool),
	}

	b.orders = make([]*workOrder, 0, len(orders))
	for _, o := range orders {
		b.orders = append(b.orders, &workOrder{
			id:        o.ID,
			userID:    o.UserID,
			outcomeID: o.OutcomeID,
			direction: o.Direction,
			remaining: o.Quantity,
			price:     o.Price,
			escrow:    o.EscrowAmount,
			createdAt: o.CreatedAt,
		})
	}

	for {
		if b.directPass() {
			continue
		}
		if b.syntheticMatch() {
			continue
		}
		break
	}

	return b.result()
}

// --- Direct matching ---

// directPass sweeps every outcome for price crosses until none fire.
func (b *book) directPass() bool {
	fired := false
	for _, outcomeID := range b.outcomeIDs {
		for b.directMatchOutcome(outcomeID) {
			fired = true
		}
	}
	return fired
}

// directMatchOutcome matches the best bid level against the best ask level
// of one outcome. Price is the midpoint. When one side's level quantity
// exceeds the other's, the longer side fills pro-rata (floored; residual
// units rest on the book). Returns true if any quantity matched.
func (b *book) directMatchOutcome(outcomeID string) bool {
	buys := b.liveOrders(outcomeID, model.DirectionBuy)
	sells := b.liveOrders(outcomeID, model.DirectionSell)
	if len(buys) == 0 || len(sells) == 0 {
		return false
	}

	bestBid := buys[0].price
	bestAsk := sells[0].price
	if bestBid.LessThan(bestAsk) {
		return false
	}
	matchPrice := bestBid.Add(bestAsk).Div(two)

	bidLevel := levelAt(buys, bestBid)
	askLevel := levelAt(sells, bestAsk)
	bidQty := levelQuantity(bidLevel)
	askQty := levelQuantity(askLevel)
	available := min(bidQty, askQty)

	var buyFills, sellFills []fill
	switch {
	case bidQty <= askQty:
		sellFills = proRata(askLevel, available, askQty)
		buyFills = fifo(bidLevel, totalFilled(sellFills))
	default:
		buyFills = proRata(bidLevel, available, bidQty)
		sellFills = fifo(askLevel, totalFilled(buyFills))
	}

	matched := totalFilled(buyFills)
	if matched == 0 {
		// Cross exists but the available quantity is indivisible across
		// the level; the residual units rest.
		return false
	}

	exec := model.Execution{
		ID:        b.newID(),
		MarketID:  b.marketID,
		Timestamp: b.now,
	}

	for _, f := range buyFills {
		q := decimal.NewFromInt(f.qty)
		cost := q.Mul(matchPrice)
		released := q.Mul(f.order.price) // buy escrow is exactly remaining·price
		b.addBalance(f.order.userID, cost.Neg(), released.Neg())
		b.addPosition(f.order.userID, outcomeID, q)
		b.consume(f.order, f.qty, released)
		exec.Participants = append(exec.Participants, model.Participant{
			UserID:         f.order.userID,
			OutcomeID:      outcomeID,
			Quantity:       q,
			EffectivePrice: matchPrice,
		})
	}

	for _, f := range sellFills {
		q := decimal.NewFromInt(f.qty)
		proceeds := q.Mul(matchPrice)
		escrowUsed := releaseProportional(f.order, f.qty)
		b.addBalance(f.order.userID, proceeds, escrowUsed.Neg())
		b.addPosition(f.order.userID, outcomeID, q.Neg())
		b.consume(f.order, f.qty, escrowUsed)
		exec.Participants = append(exec.Participants, model.Participant{
			UserID:         f.order.userID,
			OutcomeID:      outcomeID,
			Quantity:       q.Neg(),
			EffectivePrice: matchPrice,
		})
	}

	b.execs = append(b.execs, exec)
	return true
}

// --- Synthetic (basket-mint) matching ---

// syntheticMatch mints complete baskets when the best bids across distinct
// outcomes sum to at least 1.00. The greedy descending-bid prefix is the
// participant set; contracts of outcomes nobody in the set bid on are
// distributed pro-rata by bid price. Returns true if a mint fired.
func (b *book) syntheticMatch() bool {
	var candidates []*workOrder
	for _, outcomeID := range b.outcomeIDs {
		if buys := b.liveOrders(outcomeID, model.DirectionBuy); len(buys) > 0 {
			candidates = append(candidates, buys[0])
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if !candidates[i].price.Equal(candidates[j].price) {
			return candidates[i].price.GreaterThan(candidates[j].price)
		}
		return candidates[i].createdAt.Before(candidates[j].createdAt)
	})

	var set []*workOrder
	sum := decimal.Zero
	for _, c := range candidates {
		set = append(set, c)
		sum = sum.Add(c.price)
		if sum.GreaterThanOrEqual(one) {
			break
		}
	}
	if sum.LessThan(one) {
		return false
	}

	quantity := set[0].remaining
	for _, c := range set[1:] {
		quantity = min(quantity, c.remaining)
	}
	q := decimal.NewFromInt(quantity)

	sumBids := decimal.Zero
	inSet := make(map[string]bool, len(set))
	for _, c := range set {
		sumBids = sumBids.Add(c.price)
		inSet[c.outcomeID] = true
	}

	exec := model.Execution{
		ID:        b.newID(),
		MarketID:  b.marketID,
		Timestamp: b.now,
	}

	for _, c := range set {
		cost := q.Mul(c.price)
		b.addBalance(c.userID, cost.Neg(), cost.Neg())
		b.addPosition(c.userID, c.outcomeID, q)
		b.consume(c, quantity, cost)
		exec.Participants = append(exec.Participants, model.Participant{
			UserID:         c.userID,
			OutcomeID:      c.outcomeID,
			Quantity:       q,
			EffectivePrice: c.price,
		})
	}

	// Outcomes nobody in the set wanted: the minted contracts go to the
	// participants pro-rata by bid price. The last participant takes the
	// rounding remainder so every outcome's total is exactly q.
	for _, outcomeID := range b.outcomeIDs {
		if inSet[outcomeID] {
			continue
		}
		distributed := decimal.Zero
		for i, c := range set {
			var share decimal.Decimal
			if i == len(set)-1 {
				share = q.Sub(distributed)
			} else {
				share = q.Mul(c.price).DivRound(sumBids, surplusScale)
				distributed = distributed.Add(share)
			}
			b.addPosition(c.userID, outcomeID, share)
		}
	}

	b.execs = append(b.execs, exec)
	return true
}

// --- Book helpers ---

// liveOrders returns the open orders for one outcome and direction, best
// price first, ties broken by earlier createdAt then id.
func (b *book) liveOrders(outcomeID string, direction model.Direction) []*workOrder {
	var out []*workOrder
	for _, o := range b.orders {
		if o.remaining > 0 && o.outcomeID == outcomeID && o.direction == direction {
			out = append(out, o)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].price.Equal(out[j].price) {
			if direction == model.DirectionBuy {
				return out[i].price.GreaterThan(out[j].price)
			}
			return out[i].price.LessThan(out[j].price)
		}
		if !out[i].createdAt.Equal(out[j].createdAt) {
			return out[i].createdAt.Before(out[j].createdAt)
		}
		return out[i].id < out[j].id
	})
	return out
}

type fill struct {
	order *workOrder
	qty   int64
}

// levelAt returns the prefix of sorted orders sharing the given price.
func levelAt(sorted []*workOrder, price decimal.Decimal) []*workOrder {
	var level []*workOrder
	for _, o := range sorted {
		if !o.price.Equal(price) {
			break
		}
		level = append(level, o)
	}
	return level
}

func levelQuantity(level []*workOrder) int64 {
	var total int64
	for _, o := range level {
		total += o.remaining
	}
	return total
}

// proRata allocates available quantity across a level in proportion to each
// order's remaining size, floored. Residual units stay unfilled.
func proRata(level []*workOrder, available, levelQty int64) []fill {
	var fills []fill
	for _, o := range level {
		alloc := o.remaining * available / levelQty
		if alloc > 0 {
			fills = append(fills, fill{order: o, qty: alloc})
		}
	}
	return fills
}

// fifo consumes a level in priority order up to the given quantity.
func fifo(level []*workOrder, quantity int64) []fill {
	var fills []fill
	for _, o := range level {
		if quantity == 0 {
			break
		}
		take := min(o.remaining, quantity)
		fills = append(fills, fill{order: o, qty: take})
		quantity -= take
	}
	return fills
}

func totalFilled(fills []fill) int64 {
	var total int64
	for _, f := range fills {
		total += f.qty
	}
	return total
}

// releaseProportional returns the slice of a sell order's escrow backing qty
// contracts. A full fill releases the entire remainder exactly.
func releaseProportional(o *workOrder, qty int64) decimal.Decimal {
	if qty == o.remaining {
		return o.escrow
	}
	return o.escrow.Mul(decimal.NewFromInt(qty)).
		DivRound(decimal.NewFromInt(o.remaining), surplusScale)
}

func (b *book) consume(o *workOrder, qty int64, escrowUsed decimal.Decimal) {
	o.remaining -= qty
	o.escrow = o.escrow.Sub(escrowUsed)
	if o.remaining == 0 {
		o.escrow = decimal.Zero
	}
	b.touched[o.id] = true
}

func (b *book) addBalance(userID string, balanceDelta, lockedDelta decimal.Decimal) {
	cd, ok := b.balances[userID]
	if !ok {
		cd = &cashDelta{balance: decimal.Zero, locked: decimal.Zero}
		b.balances[userID] = cd
	}
	cd.balance = cd.balance.Add(balanceDelta)
	cd.locked = cd.locked.Add(lockedDelta)
}

func (b *book) addPosition(userID, outcomeID string, delta decimal.Decimal) {
	byOutcome, ok := b.positions[userID]
	if !ok {
		byOutcome = make(map[string]decimal.Decimal)
		b.positions[userID] = byOutcome
	}
	byOutcome[outcomeID] = byOutcome[outcomeID].Add(delta)
}

// result assembles the deltas in deterministic order: orders in book order,
// balances and positions sorted by id.
func (b *book) result() *Result {
	res := &Result{Executions: b.execs}

	for _, o := range b.orders {
		if b.touched[o.id] {
			res.OrderUpdates = append(res.OrderUpdates, OrderUpdate{
				OrderID:     o.id,
				NewQuantity: o.remaining,
				NewEscrow:   o.escrow,
			})
		}
	}

	userIDs := make([]string, 0, len(b.balances))
	for userID := range b.balances {
		userIDs = append(userIDs, userID)
	}
	sort.Strings(userIDs)
	for _, userID := range userIDs {
		cd := b.balances[userID]
		if cd.balance.IsZero() && cd.locked.IsZero() {
			continue
		}
		res.BalanceUpdates = append(res.BalanceUpdates, BalanceUpdate{
			UserID:       userID,
			BalanceDelta: cd.balance,
			LockedDelta:  cd.locked,
		})
	}

	posUsers := make([]string, 0, len(b.positions))
	for userID := range b.positions {
		posUsers = append(posUsers, userID)
	}
	sort.Strings(posUsers)
	for _, userID := range posUsers {
		byOutcome := b.positions[userID]
		outcomeIDs := make([]string, 0, len(byOutcome))
		for outcomeID := range byOutcome {
			outcomeIDs = append(outcomeIDs, outcomeID)
		}
		sort.Strings(outcomeIDs)
		for _, outcomeID := range outcomeIDs {
			delta := byOutcome[outcomeID]
			if delta.IsZero() {
				continue
			}
			res.PositionUpdates = append(res.PositionUpdates, PositionUpdate{
				UserID:    userID,
				OutcomeID: outcomeID,
				Delta:     delta,
			})
		}
	}

	return res
}
