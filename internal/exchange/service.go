// Package exchange implements the core of the prediction-market exchange:
// order admission with escrow locking, invocation of the matching engine,
// transactional settlement, market lifecycle, and oracle resolution.
//
// Every mutation of one market runs inside a single store transaction that
// holds the per-market lock, so committed operations are totally ordered
// within a market and fully parallel across markets.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/predix/exchange-engine/internal/escrow"
	"github.com/predix/exchange-engine/internal/matching"
	"github.com/predix/exchange-engine/internal/model"
	"github.com/predix/exchange-engine/internal/store"
)

var one = decimal.NewFromInt(1)

// DefaultMaxOrderQuantity caps order size when the config does not.
const DefaultMaxOrderQuantity = 1000

// Service is the transactional core of the exchange.
type Service struct {
	store            store.Store
	maxOrderQuantity int64
	now              func() time.Time
	newID            func() string
}

// NewService creates the exchange service. maxOrderQuantity ≤ 0 selects the
// default cap.
func NewService(st store.Store, maxOrderQuantity int64) *Service {
	if maxOrderQuantity <= 0 {
		maxOrderQuantity = DefaultMaxOrderQuantity
	}
	return &Service{
		store:            st,
		maxOrderQuantity: maxOrderQuantity,
		now:              func() time.Time { return time.Now().UTC() },
		newID:            uuid.NewString,
	}
}

// MarketWithOutcomes bundles a market with its outcome list.
type MarketWithOutcomes struct {
	Market   model.Market    `json:"market"`
	Outcomes []model.Outcome `json:"outcomes"`
}

// CreateMarket validates and persists a new market with its outcomes,
// numbered 1..N. The market receives a fresh opaque id and the exchange's
// next human-visible number.
func (s *Service) CreateMarket(ctx context.Context, guildID, creatorID, oracleUserID, description string, outcomeDescriptions []string) (*MarketWithOutcomes, error) {
	if creatorID == "" || oracleUserID == "" || strings.TrimSpace(description) == "" {
		return nil, ErrInvalidParameters
	}
	if len(outcomeDescriptions) < 2 {
		return nil, fmt.Errorf("%w: a market needs at least two outcomes", ErrInvalidParameters)
	}
	for _, od := range outcomeDescriptions {
		if strings.TrimSpace(od) == "" {
			return nil, fmt.Errorf("%w: empty outcome description", ErrInvalidParameters)
		}
	}

	m := &model.Market{
		ID:           s.newID(),
		GuildID:      guildID,
		CreatorID:    creatorID,
		Description:  description,
		OracleUserID: oracleUserID,
		Status:       model.MarketOpen,
		CreatedAt:    s.now(),
	}
	outcomes := make([]model.Outcome, len(outcomeDescriptions))
	for i, od := range outcomeDescriptions {
		outcomes[i] = model.Outcome{
			ID:          s.newID(),
			MarketID:    m.ID,
			Number:      i + 1,
			Description: od,
		}
	}

	if err := s.store.CreateMarket(ctx, m, outcomes); err != nil {
		return nil, fmt.Errorf("create market: %w", err)
	}

	slog.Info("market created",
		"market_id", m.ID,
		"number", m.Number,
		"oracle", oracleUserID,
		"outcomes", len(outcomes),
	)
	return &MarketWithOutcomes{Market: *m, Outcomes: outcomes}, nil
}

// PlaceOrder admits a limit order and immediately runs matching and
// settlement for the market, all inside one serialised transaction.
// The returned order reflects the post-match state (quantity 0 when the
// order filled completely and was deleted).
func (s *Service) PlaceOrder(ctx context.Context, userID, marketID, outcomeID string, direction model.Direction, quantity int64, price decimal.Decimal) (*model.Order, []model.Execution, error) {
	if userID == "" {
		return nil, nil, ErrInvalidParameters
	}

	var (
		placed model.Order
		execs  []model.Execution
	)
	err := s.store.Update(ctx, marketID, func(tx store.MarketTx) error {
		m := tx.Market()
		if m.Status != model.MarketOpen {
			return ErrMarketClosed
		}

		outcomes, err := tx.Outcomes()
		if err != nil {
			return err
		}
		if !containsOutcome(outcomes, outcomeID) {
			return ErrInvalidOutcome
		}

		if !direction.Valid() {
			return fmt.Errorf("%w: direction must be buy or sell", ErrInvalidParameters)
		}
		if quantity <= 0 || quantity > s.maxOrderQuantity {
			return fmt.Errorf("%w: quantity must be in [1, %d]", ErrInvalidParameters, s.maxOrderQuantity)
		}
		if !price.IsPositive() || !price.LessThan(one) {
			return fmt.Errorf("%w: price must be strictly between 0 and 1", ErrInvalidParameters)
		}

		orders, err := tx.Orders()
		if err != nil {
			return err
		}
		for _, o := range orders {
			if o.UserID == userID {
				return ErrOrderAlreadyExists
			}
		}

		user, err := tx.User(userID)
		if err != nil {
			return err
		}
		positions, err := tx.Positions()
		if err != nil {
			return err
		}
		owned := decimal.Zero
		for i := range positions {
			if positions[i].UserID == userID {
				owned = positions[i].Holding(outcomeID)
				break
			}
		}

		esc := escrow.Required(direction, quantity, price, owned)
		if user.Available().LessThan(esc) {
			return ErrInsufficientBalance
		}

		order := model.Order{
			ID:           s.newID(),
			UserID:       userID,
			MarketID:     marketID,
			OutcomeID:    outcomeID,
			Direction:    direction,
			Quantity:     quantity,
			Price:        price,
			EscrowAmount: esc,
			CreatedAt:    s.now(),
		}
		if err := tx.InsertOrder(&order); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		if err := tx.AdjustUser(userID, decimal.Zero, esc); err != nil {
			return fmt.Errorf("lock escrow: %w", err)
		}

		res := matching.Match(append(orders, order), positions, outcomeIDs(outcomes), marketID, s.now(), s.newID)
		if err := applyResult(tx, res); err != nil {
			return err
		}
		if err := auditInvariants(tx); err != nil {
			return err
		}

		placed = order
		for _, ou := range res.OrderUpdates {
			if ou.OrderID == order.ID {
				placed.Quantity = ou.NewQuantity
				placed.EscrowAmount = ou.NewEscrow
			}
		}
		execs = res.Executions
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, ErrNoSuchMarket
		}
		if errors.Is(err, ErrInternal) {
			slog.Error("settlement audit failed, transaction rolled back",
				"market_id", marketID, "user_id", userID, "err", err)
		}
		return nil, nil, err
	}

	slog.Info("order placed",
		"order_id", placed.ID,
		"market_id", marketID,
		"user_id", userID,
		"direction", direction,
		"quantity", quantity,
		"price", price.String(),
		"remaining", placed.Quantity,
		"executions", len(execs),
	)
	return &placed, execs, nil
}

// CancelOrder removes the user's resting order in the market and refunds its
// escrow. Admitting then cancelling leaves every balance, order, and
// position exactly as before admission.
func (s *Service) CancelOrder(ctx context.Context, userID, marketID string) error {
	err := s.store.Update(ctx, marketID, func(tx store.MarketTx) error {
		orders, err := tx.Orders()
		if err != nil {
			return err
		}
		for _, o := range orders {
			if o.UserID != userID {
				continue
			}
			if err := tx.AdjustUser(userID, decimal.Zero, o.EscrowAmount.Neg()); err != nil {
				return fmt.Errorf("release escrow: %w", err)
			}
			if err := tx.DeleteOrder(o.ID); err != nil {
				return fmt.Errorf("delete order: %w", err)
			}
			slog.Info("order cancelled", "order_id", o.ID, "market_id", marketID, "user_id", userID)
			return nil
		}
		return ErrNoSuchOrder
	})
	if errors.Is(err, store.ErrNotFound) {
		return ErrNoSuchOrder
	}
	return err
}

// Payout is one user's resolution credit. Negative for settled shorts.
type Payout struct {
	UserID string          `json:"user_id"`
	Amount decimal.Decimal `json:"amount"`
}

// ResolveSummary reports what a resolution paid out.
type ResolveSummary struct {
	MarketID    string          `json:"market_id"`
	Payouts     []Payout        `json:"payouts"`
	TotalPayout decimal.Decimal `json:"total_payout"`
	WinnerCount int             `json:"winner_count"`
}

// ResolveMarket settles a market on the oracle's decision: every contract of
// the winning outcome pays 1.00, every other outcome pays 0. Outstanding
// orders are cancelled with their escrow refunded, positions are deleted,
// and the market transitions open → resolved.
func (s *Service) ResolveMarket(ctx context.Context, marketID, winningOutcomeID, callerUserID string) (*ResolveSummary, error) {
	summary := &ResolveSummary{MarketID: marketID, TotalPayout: decimal.Zero}

	err := s.store.Update(ctx, marketID, func(tx store.MarketTx) error {
		m := tx.Market()
		if callerUserID != m.OracleUserID {
			return ErrNotOracle
		}
		if m.Status != model.MarketOpen {
			return ErrAlreadyResolved
		}
		outcomes, err := tx.Outcomes()
		if err != nil {
			return err
		}
		if !containsOutcome(outcomes, winningOutcomeID) {
			return ErrInvalidOutcome
		}

		orders, err := tx.Orders()
		if err != nil {
			return err
		}
		for _, o := range orders {
			if err := tx.AdjustUser(o.UserID, decimal.Zero, o.EscrowAmount.Neg()); err != nil {
				return fmt.Errorf("refund escrow for order %s: %w", o.ID, err)
			}
			if err := tx.DeleteOrder(o.ID); err != nil {
				return fmt.Errorf("delete order %s: %w", o.ID, err)
			}
		}

		positions, err := tx.Positions()
		if err != nil {
			return err
		}
		for i := range positions {
			p := &positions[i]
			payout := p.Holding(winningOutcomeID)
			if !payout.IsZero() {
				if err := tx.AdjustUser(p.UserID, payout, decimal.Zero); err != nil {
					return fmt.Errorf("pay out %s to %s: %w", payout, p.UserID, err)
				}
				summary.Payouts = append(summary.Payouts, Payout{UserID: p.UserID, Amount: payout})
				if payout.IsPositive() {
					summary.TotalPayout = summary.TotalPayout.Add(payout)
					summary.WinnerCount++
				}
			}
			if err := tx.DeletePosition(p.UserID); err != nil {
				return fmt.Errorf("delete position of %s: %w", p.UserID, err)
			}
		}

		return tx.SetResolved(winningOutcomeID, s.now())
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNoSuchMarket
		}
		return nil, err
	}

	sort.Slice(summary.Payouts, func(i, j int) bool {
		if !summary.Payouts[i].Amount.Equal(summary.Payouts[j].Amount) {
			return summary.Payouts[i].Amount.GreaterThan(summary.Payouts[j].Amount)
		}
		return summary.Payouts[i].UserID < summary.Payouts[j].UserID
	})

	slog.Info("market resolved",
		"market_id", marketID,
		"winning_outcome_id", winningOutcomeID,
		"winners", summary.WinnerCount,
		"total_payout", summary.TotalPayout.String(),
	)
	return summary, nil
}

// Deposit credits a user's balance. Stands in for the host platform's
// balance-seeding subsystem.
func (s *Service) Deposit(ctx context.Context, userID string, amount decimal.Decimal) error {
	if userID == "" || !amount.IsPositive() {
		return ErrInvalidParameters
	}
	return s.store.CreditUser(ctx, userID, amount)
}

func containsOutcome(outcomes []model.Outcome, id string) bool {
	for _, oc := range outcomes {
		if oc.ID == id {
			return true
		}
	}
	return false
}

func outcomeIDs(outcomes []model.Outcome) []string {
	ids := make([]string, len(outcomes))
	for i, oc := range outcomes {
		ids[i] = oc.ID
	}
	return ids
}
