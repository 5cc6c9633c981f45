package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/predix/exchange-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu sync.RWMutex

	// StartingBalance is credited to accounts on first reference. Zero by
	// default; tests and dev setups raise it to skip explicit funding.
	StartingBalance decimal.Decimal

	markets    map[string]*model.Market
	outcomes   map[string][]model.Outcome
	users      map[string]*model.User
	orders     map[string]*model.Order
	positions  map[string]*model.Position // userID + "|" + marketID
	executions map[string][]model.Execution
	nextNumber int64
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		StartingBalance: decimal.Zero,
		markets:         make(map[string]*model.Market),
		outcomes:        make(map[string][]model.Outcome),
		users:           make(map[string]*model.User),
		orders:          make(map[string]*model.Order),
		positions:       make(map[string]*model.Position),
		executions:      make(map[string][]model.Execution),
	}
}

func positionKey(userID, marketID string) string {
	return userID + "|" + marketID
}

func (s *MemoryStore) CreateMarket(_ context.Context, m *model.Market, outcomes []model.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextNumber++
	m.Number = s.nextNumber

	cp := *m
	s.markets[m.ID] = &cp
	s.outcomes[m.ID] = append([]model.Outcome(nil), outcomes...)
	return nil
}

func (s *MemoryStore) GetMarket(_ context.Context, id string) (*model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) GetOutcomes(_ context.Context, marketID string) ([]model.Outcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.markets[marketID]; !ok {
		return nil, ErrNotFound
	}
	return append([]model.Outcome(nil), s.outcomes[marketID]...), nil
}

func (s *MemoryStore) ListMarkets(_ context.Context, status model.MarketStatus, limit, offset int) ([]model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var markets []model.Market
	for _, m := range s.markets {
		if status == "" || m.Status == status {
			markets = append(markets, *m)
		}
	}
	sort.Slice(markets, func(i, j int) bool {
		return markets[i].Number > markets[j].Number
	})
	return page(markets, limit, offset), nil
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) CreditUser(_ context.Context, id string, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.ensureUser(id)
	u.Balance = u.Balance.Add(amount)
	return nil
}

func (s *MemoryStore) GetOrders(_ context.Context, marketID string) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ordersLocked(marketID), nil
}

func (s *MemoryStore) GetUserOrders(_ context.Context, userID string) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var orders []model.Order
	for _, o := range s.orders {
		if o.UserID == userID {
			orders = append(orders, *o)
		}
	}
	sortOrders(orders)
	return orders, nil
}

func (s *MemoryStore) GetPositions(_ context.Context, marketID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.positionsLocked(marketID), nil
}

func (s *MemoryStore) GetUserPositions(_ context.Context, userID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var positions []model.Position
	for _, p := range s.positions {
		if p.UserID == userID {
			positions = append(positions, *copyPosition(p))
		}
	}
	sort.Slice(positions, func(i, j int) bool {
		return positions[i].CreatedAt.Before(positions[j].CreatedAt)
	})
	return positions, nil
}

func (s *MemoryStore) GetExecutions(_ context.Context, marketID string, limit, offset int) ([]model.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return page(append([]model.Execution(nil), s.executions[marketID]...), limit, offset), nil
}

// Update serialises all market mutations behind the store lock. The state is
// snapshotted first and restored wholesale if fn fails, so a failed
// operation leaves nothing behind — same all-or-nothing contract as the
// Postgres transaction.
func (s *MemoryStore) Update(_ context.Context, marketID string, fn func(tx MarketTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.markets[marketID]; !ok {
		return ErrNotFound
	}

	snap := s.snapshot()
	if err := fn(&memTx{s: s, marketID: marketID}); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

// --- Internal helpers (caller holds the lock) ---

func (s *MemoryStore) ensureUser(id string) *model.User {
	u, ok := s.users[id]
	if !ok {
		u = &model.User{
			ID:        id,
			Balance:   s.StartingBalance,
			Locked:    decimal.Zero,
			CreatedAt: time.Now().UTC(),
		}
		s.users[id] = u
	}
	return u
}

func (s *MemoryStore) ordersLocked(marketID string) []model.Order {
	var orders []model.Order
	for _, o := range s.orders {
		if o.MarketID == marketID {
			orders = append(orders, *o)
		}
	}
	sortOrders(orders)
	return orders
}

func (s *MemoryStore) positionsLocked(marketID string) []model.Position {
	var positions []model.Position
	for _, p := range s.positions {
		if p.MarketID == marketID {
			positions = append(positions, *copyPosition(p))
		}
	}
	sort.Slice(positions, func(i, j int) bool {
		return positions[i].CreatedAt.Before(positions[j].CreatedAt)
	})
	return positions
}

func sortOrders(orders []model.Order) {
	sort.Slice(orders, func(i, j int) bool {
		if !orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].CreatedAt.Before(orders[j].CreatedAt)
		}
		return orders[i].ID < orders[j].ID
	})
}

func copyPosition(p *model.Position) *model.Position {
	cp := *p
	cp.Holdings = make(map[string]decimal.Decimal, len(p.Holdings))
	for k, v := range p.Holdings {
		cp.Holdings[k] = v
	}
	return &cp
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

type memSnapshot struct {
	markets    map[string]*model.Market
	users      map[string]*model.User
	orders     map[string]*model.Order
	positions  map[string]*model.Position
	executions map[string][]model.Execution
}

func (s *MemoryStore) snapshot() *memSnapshot {
	snap := &memSnapshot{
		markets:    make(map[string]*model.Market, len(s.markets)),
		users:      make(map[string]*model.User, len(s.users)),
		orders:     make(map[string]*model.Order, len(s.orders)),
		positions:  make(map[string]*model.Position, len(s.positions)),
		executions: make(map[string][]model.Execution, len(s.executions)),
	}
	for k, v := range s.markets {
		cp := *v
		snap.markets[k] = &cp
	}
	for k, v := range s.users {
		cp := *v
		snap.users[k] = &cp
	}
	for k, v := range s.orders {
		cp := *v
		snap.orders[k] = &cp
	}
	for k, v := range s.positions {
		snap.positions[k] = copyPosition(v)
	}
	for k, v := range s.executions {
		snap.executions[k] = append([]model.Execution(nil), v...)
	}
	return snap
}

func (s *MemoryStore) restore(snap *memSnapshot) {
	s.markets = snap.markets
	s.users = snap.users
	s.orders = snap.orders
	s.positions = snap.positions
	s.executions = snap.executions
}

// memTx implements MarketTx against the live maps; rollback is handled by
// Update's snapshot.
type memTx struct {
	s        *MemoryStore
	marketID string
}

func (t *memTx) Market() *model.Market {
	cp := *t.s.markets[t.marketID]
	return &cp
}

func (t *memTx) Outcomes() ([]model.Outcome, error) {
	return append([]model.Outcome(nil), t.s.outcomes[t.marketID]...), nil
}

func (t *memTx) Orders() ([]model.Order, error) {
	return t.s.ordersLocked(t.marketID), nil
}

func (t *memTx) Positions() ([]model.Position, error) {
	return t.s.positionsLocked(t.marketID), nil
}

func (t *memTx) User(id string) (*model.User, error) {
	u := t.s.ensureUser(id)
	cp := *u
	return &cp, nil
}

func (t *memTx) AdjustUser(id string, balanceDelta, lockedDelta decimal.Decimal) error {
	u := t.s.ensureUser(id)
	u.Balance = u.Balance.Add(balanceDelta)
	u.Locked = u.Locked.Add(lockedDelta)
	return nil
}

func (t *memTx) InsertOrder(o *model.Order) error {
	cp := *o
	t.s.orders[o.ID] = &cp
	return nil
}

func (t *memTx) UpdateOrder(id string, quantity int64, escrow decimal.Decimal) error {
	o, ok := t.s.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.Quantity = quantity
	o.EscrowAmount = escrow
	return nil
}

func (t *memTx) DeleteOrder(id string) error {
	if _, ok := t.s.orders[id]; !ok {
		return ErrNotFound
	}
	delete(t.s.orders, id)
	return nil
}

func (t *memTx) ApplyPositionDelta(userID, outcomeID string, delta decimal.Decimal) error {
	key := positionKey(userID, t.marketID)
	p, ok := t.s.positions[key]
	if !ok {
		now := time.Now().UTC()
		p = &model.Position{
			ID:        key,
			UserID:    userID,
			MarketID:  t.marketID,
			Holdings:  make(map[string]decimal.Decimal),
			CreatedAt: now,
			UpdatedAt: now,
		}
		t.s.positions[key] = p
	}
	next := p.Holdings[outcomeID].Add(delta)
	if next.IsZero() {
		delete(p.Holdings, outcomeID)
	} else {
		p.Holdings[outcomeID] = next
	}
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (t *memTx) DeletePosition(userID string) error {
	delete(t.s.positions, positionKey(userID, t.marketID))
	return nil
}

func (t *memTx) InsertExecution(e *model.Execution) error {
	t.s.executions[t.marketID] = append(t.s.executions[t.marketID], *e)
	return nil
}

func (t *memTx) SetResolved(winningOutcomeID string, resolvedAt time.Time) error {
	m := t.s.markets[t.marketID]
	m.Status = model.MarketResolved
	m.WinningOutcomeID = winningOutcomeID
	at := resolvedAt
	m.ResolvedAt = &at
	return nil
}
