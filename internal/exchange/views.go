package exchange

import (
	"context"
	"errors"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/predix/exchange-engine/internal/model"
	"github.com/predix/exchange-engine/internal/store"
)

// Read queries. These are plain reads outside the matching transaction and
// never block order flow.

// PriceLevel aggregates resting quantity at one price.
type PriceLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity int64           `json:"quantity"`
}

// OutcomeBook is the order-book view of one outcome.
type OutcomeBook struct {
	OutcomeID   string       `json:"outcome_id"`
	Number      int          `json:"number"`
	Description string       `json:"description"`
	Bids        []PriceLevel `json:"bids"` // best (highest) first
	Asks        []PriceLevel `json:"asks"` // best (lowest) first
}

// BookView is the aggregated order book of a market.
type BookView struct {
	MarketID string        `json:"market_id"`
	Outcomes []OutcomeBook `json:"outcomes"`
}

// AccountView is a user's account snapshot across markets.
type AccountView struct {
	User      model.User       `json:"user"`
	Available decimal.Decimal  `json:"available"`
	Orders    []model.Order    `json:"orders"`
	Positions []model.Position `json:"positions"`
}

// GetMarket returns one market with its outcomes.
func (s *Service) GetMarket(ctx context.Context, marketID string) (*MarketWithOutcomes, error) {
	m, err := s.store.GetMarket(ctx, marketID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNoSuchMarket
		}
		return nil, err
	}
	outcomes, err := s.store.GetOutcomes(ctx, marketID)
	if err != nil {
		return nil, err
	}
	return &MarketWithOutcomes{Market: *m, Outcomes: outcomes}, nil
}

// ListMarkets returns markets with the given status ("" for all), newest
// first.
func (s *Service) ListMarkets(ctx context.Context, status model.MarketStatus, limit, offset int) ([]model.Market, error) {
	return s.store.ListMarkets(ctx, status, limit, offset)
}

// MarketBook returns the aggregated order book per outcome.
func (s *Service) MarketBook(ctx context.Context, marketID string) (*BookView, error) {
	outcomes, err := s.store.GetOutcomes(ctx, marketID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNoSuchMarket
		}
		return nil, err
	}
	orders, err := s.store.GetOrders(ctx, marketID)
	if err != nil {
		return nil, err
	}

	view := &BookView{MarketID: marketID}
	for _, oc := range outcomes {
		book := OutcomeBook{
			OutcomeID:   oc.ID,
			Number:      oc.Number,
			Description: oc.Description,
		}
		book.Bids = aggregateLevels(orders, oc.ID, model.DirectionBuy)
		book.Asks = aggregateLevels(orders, oc.ID, model.DirectionSell)
		view.Outcomes = append(view.Outcomes, book)
	}
	return view, nil
}

// MarketExecutions returns a market's execution history, oldest first.
func (s *Service) MarketExecutions(ctx context.Context, marketID string, limit, offset int) ([]model.Execution, error) {
	if _, err := s.store.GetMarket(ctx, marketID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNoSuchMarket
		}
		return nil, err
	}
	return s.store.GetExecutions(ctx, marketID, limit, offset)
}

// Account returns a user's balances, resting orders, and positions. A user
// never referenced before reads as an empty account.
func (s *Service) Account(ctx context.Context, userID string) (*AccountView, error) {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		u = &model.User{ID: userID, Balance: decimal.Zero, Locked: decimal.Zero}
	}
	orders, err := s.store.GetUserOrders(ctx, userID)
	if err != nil {
		return nil, err
	}
	positions, err := s.store.GetUserPositions(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &AccountView{
		User:      *u,
		Available: u.Available(),
		Orders:    orders,
		Positions: positions,
	}, nil
}

func aggregateLevels(orders []model.Order, outcomeID string, direction model.Direction) []PriceLevel {
	byPrice := make(map[string]*PriceLevel)
	for _, o := range orders {
		if o.OutcomeID != outcomeID || o.Direction != direction {
			continue
		}
		key := o.Price.String()
		lvl, ok := byPrice[key]
		if !ok {
			lvl = &PriceLevel{Price: o.Price}
			byPrice[key] = lvl
		}
		lvl.Quantity += o.Quantity
	}

	levels := make([]PriceLevel, 0, len(byPrice))
	for _, lvl := range byPrice {
		levels = append(levels, *lvl)
	}
	sort.Slice(levels, func(i, j int) bool {
		if direction == model.DirectionBuy {
			return levels[i].Price.GreaterThan(levels[j].Price)
		}
		return levels[i].Price.LessThan(levels[j].Price)
	})
	return levels
}
