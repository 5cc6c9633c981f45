package exchange_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/predix/exchange-engine/internal/exchange"
	"github.com/predix/exchange-engine/internal/model"
	"github.com/predix/exchange-engine/internal/store"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// newTestEnv creates an exchange service over an in-memory store seeded
// with a 100-unit starting balance per account.
func newTestEnv(t *testing.T) (*exchange.Service, *store.MemoryStore) {
	t.Helper()
	ms := store.NewMemoryStore()
	ms.StartingBalance = d(100)
	return exchange.NewService(ms, 0), ms
}

// seedMarket creates a market with the given outcomes (Yes/No when none are
// given) and returns it with its outcomes.
func seedMarket(t *testing.T, svc *exchange.Service, outcomes ...string) *exchange.MarketWithOutcomes {
	t.Helper()
	if len(outcomes) == 0 {
		outcomes = []string{"Yes", "No"}
	}
	mwo, err := svc.CreateMarket(context.Background(), "guild-1", "creator", "oracle", "Will it happen?", outcomes)
	if err != nil {
		t.Fatalf("failed to seed market: %v", err)
	}
	return mwo
}

func mustUser(t *testing.T, ms *store.MemoryStore, id string) *model.User {
	t.Helper()
	u, err := ms.GetUser(context.Background(), id)
	if err != nil {
		t.Fatalf("get user %s: %v", id, err)
	}
	return u
}

func holdings(t *testing.T, ms *store.MemoryStore, userID, marketID, outcomeID string) decimal.Decimal {
	t.Helper()
	positions, err := ms.GetUserPositions(context.Background(), userID)
	if err != nil {
		t.Fatalf("get positions: %v", err)
	}
	for i := range positions {
		if positions[i].MarketID == marketID {
			return positions[i].Holding(outcomeID)
		}
	}
	return decimal.Zero
}

// --- Market lifecycle ---

func TestCreateMarket_AssignsNumbersAndOutcomes(t *testing.T) {
	svc, _ := newTestEnv(t)

	first := seedMarket(t, svc)
	second := seedMarket(t, svc, "A", "B", "C")

	if first.Market.Number != 1 || second.Market.Number != 2 {
		t.Errorf("market numbers should be monotone: %d, %d", first.Market.Number, second.Market.Number)
	}
	if len(second.Outcomes) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(second.Outcomes))
	}
	for i, oc := range second.Outcomes {
		if oc.Number != i+1 {
			t.Errorf("outcome %d should be numbered %d, got %d", i, i+1, oc.Number)
		}
	}
	if first.Market.Status != model.MarketOpen {
		t.Errorf("new market should be open, got %s", first.Market.Status)
	}
}

func TestCreateMarket_RejectsSingleOutcome(t *testing.T) {
	svc, _ := newTestEnv(t)
	_, err := svc.CreateMarket(context.Background(), "g", "c", "o", "desc", []string{"only"})
	if !errors.Is(err, exchange.ErrInvalidParameters) {
		t.Errorf("expected ErrInvalidParameters, got %v", err)
	}
}

// --- Admission checks ---

func TestPlaceOrder_AdmissionLocksEscrow(t *testing.T) {
	svc, ms := newTestEnv(t)
	m := seedMarket(t, svc)
	yes := m.Outcomes[0].ID

	order, execs, err := svc.PlaceOrder(context.Background(), "alice", m.Market.ID, yes,
		model.DirectionBuy, 10, d(0.70))
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	if len(execs) != 0 {
		t.Fatalf("a lone order must not execute, got %d executions", len(execs))
	}
	if order.Quantity != 10 || !order.EscrowAmount.Equal(d(7)) {
		t.Errorf("unexpected order state: qty=%d escrow=%s", order.Quantity, order.EscrowAmount)
	}

	alice := mustUser(t, ms, "alice")
	if !alice.Balance.Equal(d(100)) {
		t.Errorf("admission must not change balance, got %s", alice.Balance)
	}
	if !alice.Locked.Equal(d(7)) {
		t.Errorf("escrow should be locked, got %s", alice.Locked)
	}
}

func TestPlaceOrder_ParameterValidation(t *testing.T) {
	svc, _ := newTestEnv(t)
	m := seedMarket(t, svc)
	yes := m.Outcomes[0].ID
	ctx := context.Background()

	cases := []struct {
		name     string
		dir      model.Direction
		quantity int64
		price    decimal.Decimal
	}{
		{"zero price", model.DirectionBuy, 10, decimal.Zero},
		{"price one", model.DirectionBuy, 10, d(1)},
		{"negative price", model.DirectionBuy, 10, d(-0.5)},
		{"zero quantity", model.DirectionBuy, 0, d(0.5)},
		{"negative quantity", model.DirectionBuy, -5, d(0.5)},
		{"over cap", model.DirectionBuy, 1001, d(0.5)},
		{"bad direction", model.Direction("hold"), 10, d(0.5)},
	}
	for _, c := range cases {
		_, _, err := svc.PlaceOrder(ctx, "alice", m.Market.ID, yes, c.dir, c.quantity, c.price)
		if !errors.Is(err, exchange.ErrInvalidParameters) {
			t.Errorf("%s: expected ErrInvalidParameters, got %v", c.name, err)
		}
	}

	// Boundary prices just inside (0, 1) are accepted.
	if _, _, err := svc.PlaceOrder(ctx, "alice", m.Market.ID, yes, model.DirectionBuy, 1, d(0.01)); err != nil {
		t.Errorf("price 0.01 should be accepted: %v", err)
	}
	if err := svc.CancelOrder(ctx, "alice", m.Market.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, _, err := svc.PlaceOrder(ctx, "alice", m.Market.ID, yes, model.DirectionBuy, 1, d(0.99)); err != nil {
		t.Errorf("price 0.99 should be accepted: %v", err)
	}
}

func TestPlaceOrder_UnknownMarket(t *testing.T) {
	svc, _ := newTestEnv(t)
	_, _, err := svc.PlaceOrder(context.Background(), "alice", "nope", "out",
		model.DirectionBuy, 10, d(0.5))
	if !errors.Is(err, exchange.ErrNoSuchMarket) {
		t.Errorf("expected ErrNoSuchMarket, got %v", err)
	}
}

func TestPlaceOrder_InvalidOutcome(t *testing.T) {
	svc, _ := newTestEnv(t)
	m := seedMarket(t, svc)
	other := seedMarket(t, svc)

	_, _, err := svc.PlaceOrder(context.Background(), "alice", m.Market.ID,
		other.Outcomes[0].ID, model.DirectionBuy, 10, d(0.5))
	if !errors.Is(err, exchange.ErrInvalidOutcome) {
		t.Errorf("expected ErrInvalidOutcome, got %v", err)
	}
}

func TestPlaceOrder_SecondOrderRejected(t *testing.T) {
	svc, _ := newTestEnv(t)
	m := seedMarket(t, svc)
	ctx := context.Background()

	if _, _, err := svc.PlaceOrder(ctx, "alice", m.Market.ID, m.Outcomes[0].ID,
		model.DirectionBuy, 5, d(0.40)); err != nil {
		t.Fatalf("first order: %v", err)
	}
	_, _, err := svc.PlaceOrder(ctx, "alice", m.Market.ID, m.Outcomes[1].ID,
		model.DirectionBuy, 5, d(0.40))
	if !errors.Is(err, exchange.ErrOrderAlreadyExists) {
		t.Errorf("expected ErrOrderAlreadyExists, got %v", err)
	}
}

func TestPlaceOrder_InsufficientBalance(t *testing.T) {
	svc, _ := newTestEnv(t)
	m := seedMarket(t, svc)

	// 1000 · 0.50 = 500 > 100 starting balance.
	_, _, err := svc.PlaceOrder(context.Background(), "alice", m.Market.ID,
		m.Outcomes[0].ID, model.DirectionBuy, 1000, d(0.50))
	if !errors.Is(err, exchange.ErrInsufficientBalance) {
		t.Errorf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestPlaceOrder_ClosedMarket(t *testing.T) {
	svc, _ := newTestEnv(t)
	m := seedMarket(t, svc)
	ctx := context.Background()

	if _, err := svc.ResolveMarket(ctx, m.Market.ID, m.Outcomes[0].ID, "oracle"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	_, _, err := svc.PlaceOrder(ctx, "alice", m.Market.ID, m.Outcomes[0].ID,
		model.DirectionBuy, 10, d(0.5))
	if !errors.Is(err, exchange.ErrMarketClosed) {
		t.Errorf("expected ErrMarketClosed, got %v", err)
	}
}

func TestPlaceOrder_CoveredSellNeedsNoBalance(t *testing.T) {
	svc, ms := newTestEnv(t)
	m := seedMarket(t, svc)
	yes := m.Outcomes[0].ID
	no := m.Outcomes[1].ID
	ctx := context.Background()

	// Mint via synthetic match so poor holds 10 Yes outright.
	if _, _, err := svc.PlaceOrder(ctx, "poor", m.Market.ID, yes, model.DirectionBuy, 10, d(0.60)); err != nil {
		t.Fatalf("buy yes: %v", err)
	}
	if _, _, err := svc.PlaceOrder(ctx, "rich", m.Market.ID, no, model.DirectionBuy, 10, d(0.55)); err != nil {
		t.Fatalf("buy no: %v", err)
	}

	// Selling exactly as many contracts as owned locks nothing.
	order, _, err := svc.PlaceOrder(ctx, "poor", m.Market.ID, yes, model.DirectionSell, 10, d(0.90))
	if err != nil {
		t.Fatalf("covered sell should be admitted: %v", err)
	}
	if !order.EscrowAmount.IsZero() {
		t.Errorf("covered sell should lock nothing, got %s", order.EscrowAmount)
	}
	poor := mustUser(t, ms, "poor")
	if !poor.Locked.IsZero() {
		t.Errorf("no escrow should be locked, got %s", poor.Locked)
	}
}

// --- Matching end to end ---

func TestPlaceOrder_DirectFillScenario(t *testing.T) {
	svc, ms := newTestEnv(t)
	m := seedMarket(t, svc)
	yes := m.Outcomes[0].ID
	ctx := context.Background()

	if _, _, err := svc.PlaceOrder(ctx, "alice", m.Market.ID, yes, model.DirectionBuy, 10, d(0.70)); err != nil {
		t.Fatalf("alice buy: %v", err)
	}
	order, execs, err := svc.PlaceOrder(ctx, "bob", m.Market.ID, yes, model.DirectionSell, 10, d(0.30))
	if err != nil {
		t.Fatalf("bob sell: %v", err)
	}

	if len(execs) != 1 {
		t.Fatalf("expected 1 execution, got %d", len(execs))
	}
	if order.Quantity != 0 {
		t.Errorf("bob's order should be fully filled, got %d", order.Quantity)
	}
	for _, p := range execs[0].Participants {
		if !p.EffectivePrice.Equal(d(0.50)) {
			t.Errorf("effective price should be 0.50, got %s", p.EffectivePrice)
		}
	}

	alice := mustUser(t, ms, "alice")
	if !alice.Balance.Equal(d(95)) || !alice.Locked.IsZero() {
		t.Errorf("alice should be at 95/0, got %s/%s", alice.Balance, alice.Locked)
	}
	bob := mustUser(t, ms, "bob")
	if !bob.Balance.Equal(d(105)) || !bob.Locked.IsZero() {
		t.Errorf("bob should be at 105/0, got %s/%s", bob.Balance, bob.Locked)
	}

	if !holdings(t, ms, "alice", m.Market.ID, yes).Equal(d(10)) {
		t.Errorf("alice should hold 10 yes")
	}
	if !holdings(t, ms, "bob", m.Market.ID, yes).Equal(d(-10)) {
		t.Errorf("bob should be short 10 yes")
	}

	// Currency conservation across both accounts.
	total := alice.Balance.Add(bob.Balance)
	if !total.Equal(d(200)) {
		t.Errorf("currency not conserved: %s", total)
	}

	orders, _ := ms.GetOrders(ctx, m.Market.ID)
	if len(orders) != 0 {
		t.Errorf("filled orders must be deleted, %d remain", len(orders))
	}
}

func TestPlaceOrder_SyntheticMintScenario(t *testing.T) {
	svc, ms := newTestEnv(t)
	m := seedMarket(t, svc)
	yes, no := m.Outcomes[0].ID, m.Outcomes[1].ID
	ctx := context.Background()

	if _, _, err := svc.PlaceOrder(ctx, "carol", m.Market.ID, yes, model.DirectionBuy, 10, d(0.60)); err != nil {
		t.Fatalf("carol buy: %v", err)
	}
	carol := mustUser(t, ms, "carol")
	if !carol.Locked.Equal(d(6)) {
		t.Fatalf("carol should have 6 locked, got %s", carol.Locked)
	}

	_, execs, err := svc.PlaceOrder(ctx, "dave", m.Market.ID, no, model.DirectionBuy, 10, d(0.55))
	if err != nil {
		t.Fatalf("dave buy: %v", err)
	}
	if len(execs) != 1 {
		t.Fatalf("expected synthetic execution, got %d", len(execs))
	}

	carol = mustUser(t, ms, "carol")
	if !carol.Balance.Equal(d(94)) || !carol.Locked.IsZero() {
		t.Errorf("carol should be at 94/0, got %s/%s", carol.Balance, carol.Locked)
	}
	dave := mustUser(t, ms, "dave")
	if !dave.Balance.Equal(d(94.5)) || !dave.Locked.IsZero() {
		t.Errorf("dave should be at 94.5/0, got %s/%s", dave.Balance, dave.Locked)
	}

	if !holdings(t, ms, "carol", m.Market.ID, yes).Equal(d(10)) {
		t.Error("carol should hold 10 yes")
	}
	if !holdings(t, ms, "dave", m.Market.ID, no).Equal(d(10)) {
		t.Error("dave should hold 10 no")
	}
}

func TestPlaceOrder_RestingBelowOne(t *testing.T) {
	svc, ms := newTestEnv(t)
	m := seedMarket(t, svc)
	ctx := context.Background()

	if _, _, err := svc.PlaceOrder(ctx, "eve", m.Market.ID, m.Outcomes[0].ID, model.DirectionBuy, 10, d(0.40)); err != nil {
		t.Fatalf("eve buy: %v", err)
	}
	_, execs, err := svc.PlaceOrder(ctx, "frank", m.Market.ID, m.Outcomes[1].ID, model.DirectionBuy, 10, d(0.45))
	if err != nil {
		t.Fatalf("frank buy: %v", err)
	}
	if len(execs) != 0 {
		t.Fatalf("0.85 < 1.00 must not mint, got %d executions", len(execs))
	}

	eve := mustUser(t, ms, "eve")
	frank := mustUser(t, ms, "frank")
	if !eve.Locked.Equal(d(4)) || !frank.Locked.Equal(d(4.5)) {
		t.Errorf("expected locked 4 and 4.5, got %s and %s", eve.Locked, frank.Locked)
	}
	orders, _ := ms.GetOrders(ctx, m.Market.ID)
	if len(orders) != 2 {
		t.Errorf("both orders should rest, got %d", len(orders))
	}
}

// --- Cancellation ---

func TestCancelOrder_RoundTrip(t *testing.T) {
	svc, ms := newTestEnv(t)
	m := seedMarket(t, svc)
	ctx := context.Background()

	if _, _, err := svc.PlaceOrder(ctx, "alice", m.Market.ID, m.Outcomes[0].ID,
		model.DirectionBuy, 10, d(0.70)); err != nil {
		t.Fatalf("place: %v", err)
	}
	if err := svc.CancelOrder(ctx, "alice", m.Market.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	// Admitting then cancelling restores the pre-admission state exactly.
	alice := mustUser(t, ms, "alice")
	if !alice.Balance.Equal(d(100)) || !alice.Locked.IsZero() {
		t.Errorf("expected 100/0 after round trip, got %s/%s", alice.Balance, alice.Locked)
	}
	orders, _ := ms.GetOrders(ctx, m.Market.ID)
	if len(orders) != 0 {
		t.Errorf("order should be gone, %d remain", len(orders))
	}
	positions, _ := ms.GetPositions(ctx, m.Market.ID)
	if len(positions) != 0 {
		t.Errorf("no positions expected, got %d", len(positions))
	}

	// Idempotence: the second cancel reports no such order.
	if err := svc.CancelOrder(ctx, "alice", m.Market.ID); !errors.Is(err, exchange.ErrNoSuchOrder) {
		t.Errorf("expected ErrNoSuchOrder, got %v", err)
	}
}

func TestCancelOrder_UnknownMarket(t *testing.T) {
	svc, _ := newTestEnv(t)
	if err := svc.CancelOrder(context.Background(), "alice", "nope"); !errors.Is(err, exchange.ErrNoSuchOrder) {
		t.Errorf("expected ErrNoSuchOrder, got %v", err)
	}
}

// --- Resolution ---

func TestResolveMarket_PaysWinnersOnly(t *testing.T) {
	svc, ms := newTestEnv(t)
	m := seedMarket(t, svc)
	yes := m.Outcomes[0].ID
	ctx := context.Background()

	// Direct fill: alice long 10 yes at 95, bob short 10 yes at 105.
	if _, _, err := svc.PlaceOrder(ctx, "alice", m.Market.ID, yes, model.DirectionBuy, 10, d(0.70)); err != nil {
		t.Fatalf("alice buy: %v", err)
	}
	if _, _, err := svc.PlaceOrder(ctx, "bob", m.Market.ID, yes, model.DirectionSell, 10, d(0.30)); err != nil {
		t.Fatalf("bob sell: %v", err)
	}

	summary, err := svc.ResolveMarket(ctx, m.Market.ID, yes, "oracle")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	if summary.WinnerCount != 1 {
		t.Errorf("expected 1 winner, got %d", summary.WinnerCount)
	}
	if !summary.TotalPayout.Equal(d(10)) {
		t.Errorf("expected total payout 10, got %s", summary.TotalPayout)
	}

	alice := mustUser(t, ms, "alice")
	if !alice.Balance.Equal(d(105)) {
		t.Errorf("alice should be paid to 105, got %s", alice.Balance)
	}
	bob := mustUser(t, ms, "bob")
	if !bob.Balance.Equal(d(95)) {
		t.Errorf("bob's short settles to 95, got %s", bob.Balance)
	}
	if !alice.Balance.Add(bob.Balance).Equal(d(200)) {
		t.Errorf("currency not conserved through resolution")
	}

	market, _ := ms.GetMarket(ctx, m.Market.ID)
	if market.Status != model.MarketResolved || market.WinningOutcomeID != yes {
		t.Errorf("market should be resolved with winner %s", yes)
	}
	if market.ResolvedAt == nil {
		t.Error("resolved_at should be set")
	}

	// A resolved market holds no orders and no positions.
	orders, _ := ms.GetOrders(ctx, m.Market.ID)
	positions, _ := ms.GetPositions(ctx, m.Market.ID)
	if len(orders) != 0 || len(positions) != 0 {
		t.Errorf("resolved market must be empty, got %d orders %d positions", len(orders), len(positions))
	}
}

func TestResolveMarket_RefundsRestingOrders(t *testing.T) {
	svc, ms := newTestEnv(t)
	m := seedMarket(t, svc)
	ctx := context.Background()

	if _, _, err := svc.PlaceOrder(ctx, "alice", m.Market.ID, m.Outcomes[0].ID,
		model.DirectionBuy, 10, d(0.40)); err != nil {
		t.Fatalf("place: %v", err)
	}
	if _, err := svc.ResolveMarket(ctx, m.Market.ID, m.Outcomes[1].ID, "oracle"); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	alice := mustUser(t, ms, "alice")
	if !alice.Balance.Equal(d(100)) || !alice.Locked.IsZero() {
		t.Errorf("resting escrow should be refunded, got %s/%s", alice.Balance, alice.Locked)
	}
}

func TestResolveMarket_Authorization(t *testing.T) {
	svc, _ := newTestEnv(t)
	m := seedMarket(t, svc)
	ctx := context.Background()

	if _, err := svc.ResolveMarket(ctx, m.Market.ID, m.Outcomes[0].ID, "impostor"); !errors.Is(err, exchange.ErrNotOracle) {
		t.Errorf("expected ErrNotOracle, got %v", err)
	}

	other := seedMarket(t, svc)
	if _, err := svc.ResolveMarket(ctx, m.Market.ID, other.Outcomes[0].ID, "oracle"); !errors.Is(err, exchange.ErrInvalidOutcome) {
		t.Errorf("expected ErrInvalidOutcome, got %v", err)
	}

	if _, err := svc.ResolveMarket(ctx, m.Market.ID, m.Outcomes[0].ID, "oracle"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, err := svc.ResolveMarket(ctx, m.Market.ID, m.Outcomes[0].ID, "oracle"); !errors.Is(err, exchange.ErrAlreadyResolved) {
		t.Errorf("expected ErrAlreadyResolved, got %v", err)
	}
}

// --- Invariants over an operation sequence ---

func TestInvariants_AfterMixedOperations(t *testing.T) {
	svc, ms := newTestEnv(t)
	m := seedMarket(t, svc, "A", "B", "C")
	a, b, c := m.Outcomes[0].ID, m.Outcomes[1].ID, m.Outcomes[2].ID
	ctx := context.Background()

	ops := []struct {
		user    string
		outcome string
		dir     model.Direction
		qty     int64
		price   float64
	}{
		{"u1", a, model.DirectionBuy, 10, 0.55},
		{"u2", b, model.DirectionBuy, 10, 0.50},
		{"u3", c, model.DirectionBuy, 10, 0.30},
		{"u4", a, model.DirectionSell, 5, 0.20},
		{"u5", b, model.DirectionBuy, 7, 0.45},
		{"u6", c, model.DirectionSell, 3, 0.25},
	}
	for _, op := range ops {
		_, _, err := svc.PlaceOrder(ctx, op.user, m.Market.ID, op.outcome, op.dir, op.qty, d(op.price))
		if err != nil && !errors.Is(err, exchange.ErrOrderAlreadyExists) {
			t.Fatalf("op %+v: %v", op, err)
		}
	}

	// Invariant: locked equals the sum of escrow over each user's orders.
	orders, _ := ms.GetOrders(ctx, m.Market.ID)
	lockedByUser := make(map[string]decimal.Decimal)
	for _, o := range orders {
		lockedByUser[o.UserID] = lockedByUser[o.UserID].Add(o.EscrowAmount)
		if o.Quantity <= 0 {
			t.Errorf("order %s persisted with quantity %d", o.ID, o.Quantity)
		}
	}
	for _, u := range []string{"u1", "u2", "u3", "u4", "u5", "u6"} {
		user := mustUser(t, ms, u)
		want := lockedByUser[u]
		if !user.Locked.Equal(want) {
			t.Errorf("%s locked %s != escrow sum %s", u, user.Locked, want)
		}
		if user.Locked.IsNegative() || user.Balance.LessThan(user.Locked) {
			t.Errorf("%s violates 0 ≤ locked ≤ balance: %s/%s", u, user.Locked, user.Balance)
		}
	}

	// Invariant: basket conservation across the market's outcomes.
	positions, _ := ms.GetPositions(ctx, m.Market.ID)
	totals := make(map[string]decimal.Decimal)
	for i := range positions {
		for outcomeID, qty := range positions[i].Holdings {
			totals[outcomeID] = totals[outcomeID].Add(qty)
		}
	}
	if !totals[a].Equal(totals[b]) || !totals[b].Equal(totals[c]) {
		t.Errorf("basket conservation broken: A=%s B=%s C=%s", totals[a], totals[b], totals[c])
	}
}

// --- Deposits ---

func TestDeposit(t *testing.T) {
	svc, ms := newTestEnv(t)
	ctx := context.Background()

	if err := svc.Deposit(ctx, "alice", d(25)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	alice := mustUser(t, ms, "alice")
	if !alice.Balance.Equal(d(125)) { // starting balance + deposit
		t.Errorf("expected 125, got %s", alice.Balance)
	}

	if err := svc.Deposit(ctx, "alice", d(-5)); !errors.Is(err, exchange.ErrInvalidParameters) {
		t.Errorf("negative deposit must be rejected, got %v", err)
	}
}
