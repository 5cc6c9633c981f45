// Package trade provides the HTTP surface of the exchange: market creation,
// order placement and cancellation, oracle resolution, and read queries.
//
// All monetary values use shopspring/decimal — never float64 for money.
package trade

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/predix/exchange-engine/internal/exchange"
	"github.com/predix/exchange-engine/internal/metrics"
	"github.com/predix/exchange-engine/internal/model"
)

// Service wires HTTP handlers to the exchange core.
type Service struct {
	exchange   *exchange.Service
	adminToken string
	wsHub      *WSHub // optional; nil disables broadcasting
}

// NewService creates the HTTP service. An empty adminToken disables the
// deposit endpoint. Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(ex *exchange.Service, adminToken string, hub *WSHub) *Service {
	return &Service{
		exchange:   ex,
		adminToken: adminToken,
		wsHub:      hub,
	}
}

// Routes mounts all handlers on r.
func (s *Service) Routes(r chi.Router) {
	r.Get("/markets", s.ListMarkets)
	r.Post("/markets", s.CreateMarket)
	r.Get("/markets/{marketID}", s.GetMarket)
	r.Get("/markets/{marketID}/book", s.GetBook)
	r.Get("/markets/{marketID}/executions", s.GetExecutions)
	r.Post("/markets/{marketID}/resolve", s.ResolveMarket)
	r.Delete("/markets/{marketID}/orders/{userID}", s.CancelOrder)

	r.Post("/orders", s.PlaceOrder)

	r.Get("/accounts/{userID}", s.GetAccount)
	r.Post("/accounts/{userID}/deposit", s.Deposit)
}

// --- Request/Response types ---

// CreateMarketRequest is the JSON body for POST /markets.
type CreateMarketRequest struct {
	GuildID      string   `json:"guild_id"`
	CreatorID    string   `json:"creator_id"`
	OracleUserID string   `json:"oracle_user_id"`
	Description  string   `json:"description"`
	Outcomes     []string `json:"outcomes"`
}

// OrderRequest is the JSON body for POST /orders.
type OrderRequest struct {
	UserID    string          `json:"user_id"`
	MarketID  string          `json:"market_id"`
	OutcomeID string          `json:"outcome_id"`
	Direction model.Direction `json:"direction"`
	Quantity  int64           `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

// OrderResponse is returned from POST /orders. Order reflects the
// post-match state; quantity 0 means the order filled completely.
type OrderResponse struct {
	Order      model.Order       `json:"order"`
	Executions []model.Execution `json:"executions"`
}

// ResolveRequest is the JSON body for POST /markets/{marketID}/resolve.
type ResolveRequest struct {
	WinningOutcomeID string `json:"winning_outcome_id"`
	CallerUserID     string `json:"caller_user_id"`
}

// DepositRequest is the JSON body for POST /accounts/{userID}/deposit.
type DepositRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// --- Handlers ---

// CreateMarket handles POST /api/v1/markets
func (s *Service) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req CreateMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	mwo, err := s.exchange.CreateMarket(r.Context(), req.GuildID, req.CreatorID,
		req.OracleUserID, req.Description, req.Outcomes)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	metrics.MarketsCreated.Inc()
	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{Type: "market_created", MarketID: mwo.Market.ID})
	}

	writeJSON(w, http.StatusCreated, mwo)
}

// GetMarket handles GET /api/v1/markets/{marketID}
func (s *Service) GetMarket(w http.ResponseWriter, r *http.Request) {
	mwo, err := s.exchange.GetMarket(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mwo)
}

// ListMarkets handles GET /api/v1/markets
// Optional ?status=open|resolved, ?limit=, ?offset=.
func (s *Service) ListMarkets(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	status := model.MarketStatus(r.URL.Query().Get("status"))

	markets, err := s.exchange.ListMarkets(r.Context(), status, limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if markets == nil {
		markets = []model.Market{}
	}
	writeJSON(w, http.StatusOK, markets)
}

// GetBook handles GET /api/v1/markets/{marketID}/book
func (s *Service) GetBook(w http.ResponseWriter, r *http.Request) {
	book, err := s.exchange.MarketBook(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

// GetExecutions handles GET /api/v1/markets/{marketID}/executions
func (s *Service) GetExecutions(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	execs, err := s.exchange.MarketExecutions(r.Context(), chi.URLParam(r, "marketID"), limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if execs == nil {
		execs = []model.Execution{}
	}
	writeJSON(w, http.StatusOK, execs)
}

// PlaceOrder handles POST /api/v1/orders
// Admits the order and runs matching and settlement in one transaction.
func (s *Service) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	start := time.Now()
	order, execs, err := s.exchange.PlaceOrder(r.Context(), req.UserID, req.MarketID,
		req.OutcomeID, req.Direction, req.Quantity, req.Price)
	metrics.OrderLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.OrderRejections.WithLabelValues(rejectionReason(err)).Inc()
		writeServiceError(w, err)
		return
	}

	metrics.OrdersTotal.WithLabelValues(string(req.Direction)).Inc()
	metrics.ExecutionsTotal.Add(float64(len(execs)))

	if s.wsHub != nil {
		for _, e := range execs {
			s.wsHub.Broadcast(WSMessage{
				Type:         "execution",
				MarketID:     e.MarketID,
				ExecutionID:  e.ID,
				Participants: e.Participants,
			})
		}
	}

	if execs == nil {
		execs = []model.Execution{}
	}
	writeJSON(w, http.StatusCreated, OrderResponse{Order: *order, Executions: execs})
}

// CancelOrder handles DELETE /api/v1/markets/{marketID}/orders/{userID}
func (s *Service) CancelOrder(w http.ResponseWriter, r *http.Request) {
	err := s.exchange.CancelOrder(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "marketID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ResolveMarket handles POST /api/v1/markets/{marketID}/resolve
func (s *Service) ResolveMarket(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	marketID := chi.URLParam(r, "marketID")
	summary, err := s.exchange.ResolveMarket(r.Context(), marketID, req.WinningOutcomeID, req.CallerUserID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	metrics.MarketsResolved.Inc()
	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:             "market_resolved",
			MarketID:         marketID,
			WinningOutcomeID: req.WinningOutcomeID,
		})
	}

	writeJSON(w, http.StatusOK, summary)
}

// GetAccount handles GET /api/v1/accounts/{userID}
func (s *Service) GetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := s.exchange.Account(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if account.Orders == nil {
		account.Orders = []model.Order{}
	}
	if account.Positions == nil {
		account.Positions = []model.Position{}
	}
	writeJSON(w, http.StatusOK, account)
}

// Deposit handles POST /api/v1/accounts/{userID}/deposit
// Guarded by the admin token; stands in for the host's balance seeding.
func (s *Service) Deposit(w http.ResponseWriter, r *http.Request) {
	if s.adminToken == "" || r.Header.Get("X-Admin-Token") != s.adminToken {
		writeError(w, "forbidden", http.StatusForbidden)
		return
	}

	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	userID := chi.URLParam(r, "userID")
	if err := s.exchange.Deposit(r.Context(), userID, req.Amount); err != nil {
		writeServiceError(w, err)
		return
	}

	slog.Info("balance credited", "user_id", userID, "amount", req.Amount.String())
	w.WriteHeader(http.StatusNoContent)
}

// --- Helpers ---

func pagination(r *http.Request) (limit, offset int) {
	limit = 50
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 200 {
		limit = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeServiceError maps exchange error kinds to HTTP status codes.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, exchange.ErrInvalidParameters),
		errors.Is(err, exchange.ErrInvalidOutcome):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, exchange.ErrNoSuchMarket),
		errors.Is(err, exchange.ErrNoSuchOrder):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, exchange.ErrMarketClosed),
		errors.Is(err, exchange.ErrAlreadyResolved),
		errors.Is(err, exchange.ErrOrderAlreadyExists),
		errors.Is(err, exchange.ErrInsufficientBalance):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, exchange.ErrNotOracle):
		writeError(w, err.Error(), http.StatusForbidden)
	default:
		slog.Error("request failed", "err", err)
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, exchange.ErrInvalidParameters):
		return "invalid_parameters"
	case errors.Is(err, exchange.ErrMarketClosed):
		return "market_closed"
	case errors.Is(err, exchange.ErrInvalidOutcome):
		return "invalid_outcome"
	case errors.Is(err, exchange.ErrOrderAlreadyExists):
		return "order_exists"
	case errors.Is(err, exchange.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, exchange.ErrNoSuchMarket):
		return "no_such_market"
	default:
		return "internal"
	}
}
