package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/predix/exchange-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision;
// holdings and execution participants are JSONB. Schema in schema.sql.
type PostgresStore struct {
	pool *pgxpool.Pool

	// StartingBalance is credited to accounts on first reference.
	StartingBalance decimal.Decimal
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, StartingBalance: decimal.Zero}
}

func (s *PostgresStore) CreateMarket(ctx context.Context, m *model.Market, outcomes []model.Outcome) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create market: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx,
		`INSERT INTO markets (id, guild_id, creator_id, description, oracle_user_id, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING number`,
		m.ID, m.GuildID, m.CreatorID, m.Description, m.OracleUserID, string(m.Status), m.CreatedAt,
	).Scan(&m.Number)
	if err != nil {
		return fmt.Errorf("insert market: %w", err)
	}

	for _, oc := range outcomes {
		if _, err := tx.Exec(ctx,
			`INSERT INTO outcomes (id, market_id, number, description)
			 VALUES ($1, $2, $3, $4)`,
			oc.ID, oc.MarketID, oc.Number, oc.Description,
		); err != nil {
			return fmt.Errorf("insert outcome %d: %w", oc.Number, err)
		}
	}

	return tx.Commit(ctx)
}

const marketColumns = `id, number, guild_id, creator_id, description, oracle_user_id,
       status, COALESCE(winning_outcome_id, ''), created_at, resolved_at`

func scanMarket(row pgx.Row) (*model.Market, error) {
	var m model.Market
	var status string
	err := row.Scan(&m.ID, &m.Number, &m.GuildID, &m.CreatorID, &m.Description,
		&m.OracleUserID, &status, &m.WinningOutcomeID, &m.CreatedAt, &m.ResolvedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	m.Status = model.MarketStatus(status)
	return &m, nil
}

func (s *PostgresStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	return scanMarket(s.pool.QueryRow(ctx,
		`SELECT `+marketColumns+` FROM markets WHERE id = $1`, id))
}

func (s *PostgresStore) GetOutcomes(ctx context.Context, marketID string) ([]model.Outcome, error) {
	if _, err := s.GetMarket(ctx, marketID); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, market_id, number, description
		 FROM outcomes WHERE market_id = $1 ORDER BY number`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var outcomes []model.Outcome
	for rows.Next() {
		var oc model.Outcome
		if err := rows.Scan(&oc.ID, &oc.MarketID, &oc.Number, &oc.Description); err != nil {
			return nil, err
		}
		outcomes = append(outcomes, oc)
	}
	return outcomes, rows.Err()
}

func (s *PostgresStore) ListMarkets(ctx context.Context, status model.MarketStatus, limit, offset int) ([]model.Market, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+marketColumns+`
		 FROM markets
		 WHERE ($1 = '' OR status = $1)
		 ORDER BY number DESC
		 LIMIT $2 OFFSET $3`,
		string(status), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var markets []model.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		markets = append(markets, *m)
	}
	return markets, rows.Err()
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	var balance, locked string
	err := s.pool.QueryRow(ctx,
		`SELECT id, balance::TEXT, locked::TEXT, created_at FROM users WHERE id = $1`, id).
		Scan(&u.ID, &balance, &locked, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	u.Balance, _ = decimal.NewFromString(balance)
	u.Locked, _ = decimal.NewFromString(locked)
	return &u, nil
}

func (s *PostgresStore) CreditUser(ctx context.Context, id string, amount decimal.Decimal) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, balance, locked, created_at)
		 VALUES ($1, $2::NUMERIC, 0, $3)
		 ON CONFLICT (id) DO UPDATE SET balance = users.balance + $4::NUMERIC`,
		id, s.StartingBalance.Add(amount).String(), time.Now().UTC(), amount.String())
	return err
}

const orderColumns = `id, user_id, market_id, outcome_id, direction, quantity,
       price::TEXT, escrow_amount::TEXT, created_at`

func scanOrders(rows pgx.Rows) ([]model.Order, error) {
	var orders []model.Order
	for rows.Next() {
		var o model.Order
		var direction, price, escrowAmount string
		if err := rows.Scan(&o.ID, &o.UserID, &o.MarketID, &o.OutcomeID, &direction,
			&o.Quantity, &price, &escrowAmount, &o.CreatedAt); err != nil {
			return nil, err
		}
		o.Direction = model.Direction(direction)
		o.Price, _ = decimal.NewFromString(price)
		o.EscrowAmount, _ = decimal.NewFromString(escrowAmount)
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (s *PostgresStore) GetOrders(ctx context.Context, marketID string) ([]model.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE market_id = $1 ORDER BY created_at, id`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrders(rows)
}

func (s *PostgresStore) GetUserOrders(ctx context.Context, userID string) ([]model.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrders(rows)
}

func scanPositions(rows pgx.Rows) ([]model.Position, error) {
	var positions []model.Position
	for rows.Next() {
		var p model.Position
		var holdings []byte
		if err := rows.Scan(&p.ID, &p.UserID, &p.MarketID, &holdings, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(holdings, &p.Holdings); err != nil {
			return nil, fmt.Errorf("decode holdings of position %s: %w", p.ID, err)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func (s *PostgresStore) GetPositions(ctx context.Context, marketID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, market_id, holdings, created_at, updated_at
		 FROM positions WHERE market_id = $1 ORDER BY created_at, id`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPositions(rows)
}

func (s *PostgresStore) GetUserPositions(ctx context.Context, userID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, market_id, holdings, created_at, updated_at
		 FROM positions WHERE user_id = $1 ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPositions(rows)
}

func (s *PostgresStore) GetExecutions(ctx context.Context, marketID string, limit, offset int) ([]model.Execution, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, market_id, timestamp, participants
		 FROM executions WHERE market_id = $1
		 ORDER BY timestamp, id LIMIT $2 OFFSET $3`,
		marketID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var executions []model.Execution
	for rows.Next() {
		var e model.Execution
		var participants []byte
		if err := rows.Scan(&e.ID, &e.MarketID, &e.Timestamp, &participants); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(participants, &e.Participants); err != nil {
			return nil, fmt.Errorf("decode participants of execution %s: %w", e.ID, err)
		}
		executions = append(executions, e)
	}
	return executions, rows.Err()
}

// Update opens a transaction and takes the market's row lock as its first
// statement, serialising every mutation of the market. Any error rolls the
// whole transaction back.
func (s *PostgresStore) Update(ctx context.Context, marketID string, fn func(tx MarketTx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin update: %w", err)
	}
	defer tx.Rollback(ctx)

	m, err := scanMarket(tx.QueryRow(ctx,
		`SELECT `+marketColumns+` FROM markets WHERE id = $1 FOR UPDATE`, marketID))
	if err != nil {
		return err
	}

	if err := fn(&pgTx{ctx: ctx, tx: tx, store: s, market: m}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// pgTx implements MarketTx on a pgx transaction holding the market lock.
type pgTx struct {
	ctx    context.Context
	tx     pgx.Tx
	store  *PostgresStore
	market *model.Market
}

func (t *pgTx) Market() *model.Market {
	cp := *t.market
	return &cp
}

func (t *pgTx) Outcomes() ([]model.Outcome, error) {
	rows, err := t.tx.Query(t.ctx,
		`SELECT id, market_id, number, description
		 FROM outcomes WHERE market_id = $1 ORDER BY number`, t.market.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var outcomes []model.Outcome
	for rows.Next() {
		var oc model.Outcome
		if err := rows.Scan(&oc.ID, &oc.MarketID, &oc.Number, &oc.Description); err != nil {
			return nil, err
		}
		outcomes = append(outcomes, oc)
	}
	return outcomes, rows.Err()
}

func (t *pgTx) Orders() ([]model.Order, error) {
	rows, err := t.tx.Query(t.ctx,
		`SELECT `+orderColumns+` FROM orders WHERE market_id = $1 ORDER BY created_at, id`, t.market.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrders(rows)
}

func (t *pgTx) Positions() ([]model.Position, error) {
	rows, err := t.tx.Query(t.ctx,
		`SELECT id, user_id, market_id, holdings, created_at, updated_at
		 FROM positions WHERE market_id = $1 ORDER BY created_at, id`, t.market.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPositions(rows)
}

func (t *pgTx) User(id string) (*model.User, error) {
	if _, err := t.tx.Exec(t.ctx,
		`INSERT INTO users (id, balance, locked, created_at)
		 VALUES ($1, $2::NUMERIC, 0, $3)
		 ON CONFLICT (id) DO NOTHING`,
		id, t.store.StartingBalance.String(), time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("ensure user %s: %w", id, err)
	}

	var u model.User
	var balance, locked string
	err := t.tx.QueryRow(t.ctx,
		`SELECT id, balance::TEXT, locked::TEXT, created_at FROM users WHERE id = $1`, id).
		Scan(&u.ID, &balance, &locked, &u.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	u.Balance, _ = decimal.NewFromString(balance)
	u.Locked, _ = decimal.NewFromString(locked)
	return &u, nil
}

func (t *pgTx) AdjustUser(id string, balanceDelta, lockedDelta decimal.Decimal) error {
	// Atomic arithmetic: the user row is contended across markets.
	tag, err := t.tx.Exec(t.ctx,
		`UPDATE users
		 SET balance = balance + $2::NUMERIC, locked = locked + $3::NUMERIC
		 WHERE id = $1`,
		id, balanceDelta.String(), lockedDelta.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("adjust user %s: %w", id, ErrNotFound)
	}
	return nil
}

func (t *pgTx) InsertOrder(o *model.Order) error {
	_, err := t.tx.Exec(t.ctx,
		`INSERT INTO orders (id, user_id, market_id, outcome_id, direction, quantity, price, escrow_amount, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8::NUMERIC, $9)`,
		o.ID, o.UserID, o.MarketID, o.OutcomeID, string(o.Direction),
		o.Quantity, o.Price.String(), o.EscrowAmount.String(), o.CreatedAt)
	return err
}

func (t *pgTx) UpdateOrder(id string, quantity int64, escrow decimal.Decimal) error {
	tag, err := t.tx.Exec(t.ctx,
		`UPDATE orders SET quantity = $2, escrow_amount = $3::NUMERIC WHERE id = $1`,
		id, quantity, escrow.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) DeleteOrder(id string) error {
	tag, err := t.tx.Exec(t.ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) ApplyPositionDelta(userID, outcomeID string, delta decimal.Decimal) error {
	// The position row is only contended within this market, and we hold
	// the market lock, so read-modify-write is safe here.
	var id string
	var holdings []byte
	err := t.tx.QueryRow(t.ctx,
		`SELECT id, holdings FROM positions WHERE user_id = $1 AND market_id = $2`,
		userID, t.market.ID).Scan(&id, &holdings)

	now := time.Now().UTC()
	m := make(map[string]decimal.Decimal)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		id = uuid.NewString()
	case err != nil:
		return err
	default:
		if err := json.Unmarshal(holdings, &m); err != nil {
			return fmt.Errorf("decode holdings of position %s: %w", id, err)
		}
	}

	next := m[outcomeID].Add(delta)
	if next.IsZero() {
		delete(m, outcomeID)
	} else {
		m[outcomeID] = next
	}
	encoded, err := json.Marshal(m)
	if err != nil {
		return err
	}

	_, err = t.tx.Exec(t.ctx,
		`INSERT INTO positions (id, user_id, market_id, holdings, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $5)
		 ON CONFLICT (user_id, market_id) DO UPDATE SET holdings = $4, updated_at = $5`,
		id, userID, t.market.ID, encoded, now)
	return err
}

func (t *pgTx) DeletePosition(userID string) error {
	_, err := t.tx.Exec(t.ctx,
		`DELETE FROM positions WHERE user_id = $1 AND market_id = $2`, userID, t.market.ID)
	return err
}

func (t *pgTx) InsertExecution(e *model.Execution) error {
	participants, err := json.Marshal(e.Participants)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(t.ctx,
		`INSERT INTO executions (id, market_id, timestamp, participants)
		 VALUES ($1, $2, $3, $4)`,
		e.ID, e.MarketID, e.Timestamp, participants)
	return err
}

func (t *pgTx) SetResolved(winningOutcomeID string, resolvedAt time.Time) error {
	tag, err := t.tx.Exec(t.ctx,
		`UPDATE markets
		 SET status = $2, winning_outcome_id = $3, resolved_at = $4
		 WHERE id = $1 AND status = $5`,
		t.market.ID, string(model.MarketResolved), winningOutcomeID, resolvedAt, string(model.MarketOpen))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
