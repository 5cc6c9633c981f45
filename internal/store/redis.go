package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/predix/exchange-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for the hot read paths: market records, outcome lists, and user
// positions. Writes go to the primary store; every market mutation
// invalidates that market's cache entry. Position entries rely on their
// short TTL because a market transaction does not know which users it
// touched until after commit.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write paths (write to primary, invalidate cache) ---

func (s *CachedStore) CreateMarket(ctx context.Context, m *model.Market, outcomes []model.Outcome) error {
	if err := s.primary.CreateMarket(ctx, m, outcomes); err != nil {
		return err
	}
	s.cacheJSON(ctx, marketKey(m.ID), m)
	s.cacheJSON(ctx, outcomesKey(m.ID), outcomes)
	return nil
}

func (s *CachedStore) CreditUser(ctx context.Context, id string, amount decimal.Decimal) error {
	return s.primary.CreditUser(ctx, id, amount)
}

func (s *CachedStore) Update(ctx context.Context, marketID string, fn func(tx MarketTx) error) error {
	if err := s.primary.Update(ctx, marketID, fn); err != nil {
		return err
	}
	// Invalidate; next read re-populates.
	s.rdb.Del(ctx, marketKey(marketID))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	data, err := s.rdb.Get(ctx, marketKey(id)).Bytes()
	if err == nil {
		var m model.Market
		if json.Unmarshal(data, &m) == nil {
			return &m, nil
		}
	}

	m, err := s.primary.GetMarket(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheJSON(ctx, marketKey(id), m)
	return m, nil
}

func (s *CachedStore) GetOutcomes(ctx context.Context, marketID string) ([]model.Outcome, error) {
	data, err := s.rdb.Get(ctx, outcomesKey(marketID)).Bytes()
	if err == nil {
		var outcomes []model.Outcome
		if json.Unmarshal(data, &outcomes) == nil {
			return outcomes, nil
		}
	}

	outcomes, err := s.primary.GetOutcomes(ctx, marketID)
	if err != nil {
		return nil, err
	}
	s.cacheJSON(ctx, outcomesKey(marketID), outcomes)
	return outcomes, nil
}

func (s *CachedStore) GetUserPositions(ctx context.Context, userID string) ([]model.Position, error) {
	data, err := s.rdb.Get(ctx, positionsKey(userID)).Bytes()
	if err == nil {
		var positions []model.Position
		if json.Unmarshal(data, &positions) == nil {
			return positions, nil
		}
	}

	positions, err := s.primary.GetUserPositions(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.cacheJSON(ctx, positionsKey(userID), positions)
	return positions, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListMarkets(ctx context.Context, status model.MarketStatus, limit, offset int) ([]model.Market, error) {
	return s.primary.ListMarkets(ctx, status, limit, offset)
}

func (s *CachedStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	return s.primary.GetUser(ctx, id)
}

func (s *CachedStore) GetOrders(ctx context.Context, marketID string) ([]model.Order, error) {
	return s.primary.GetOrders(ctx, marketID)
}

func (s *CachedStore) GetUserOrders(ctx context.Context, userID string) ([]model.Order, error) {
	return s.primary.GetUserOrders(ctx, userID)
}

func (s *CachedStore) GetPositions(ctx context.Context, marketID string) ([]model.Position, error) {
	return s.primary.GetPositions(ctx, marketID)
}

func (s *CachedStore) GetExecutions(ctx context.Context, marketID string, limit, offset int) ([]model.Execution, error) {
	return s.primary.GetExecutions(ctx, marketID, limit, offset)
}

// --- Cache helpers ---

func (s *CachedStore) cacheJSON(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func marketKey(id string) string     { return fmt.Sprintf("market:%s", id) }
func outcomesKey(id string) string   { return fmt.Sprintf("outcomes:%s", id) }
func positionsKey(uid string) string { return fmt.Sprintf("positions:%s", uid) }
