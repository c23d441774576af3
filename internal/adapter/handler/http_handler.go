package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/rl1809/lot-shop/internal/core/domain"
	"github.com/rl1809/lot-shop/internal/core/service"
)

// Shop is the part of the reservation service exposed over HTTP and gRPC.
type Shop interface {
	Reserve(ctx context.Context, buyerID int64, lotType string, quantity int) (service.ReserveResult, error)
	Confirm(ctx context.Context, buyer domain.Requester) (service.ConfirmResult, error)
	Release(ctx context.Context, buyerID int64) error
	StockView(ctx context.Context) ([]domain.StockLine, error)
	Restock(ctx context.Context, lots []domain.Lot) (int, error)
}

type Accounts interface {
	TopUp(ctx context.Context, telegramID int64, amount decimal.Decimal) (decimal.Decimal, error)
}

type HTTPHandler struct {
	shop Shop
	log  zerolog.Logger
}

type ReserveHTTPRequest struct {
	BuyerID  int64  `json:"buyer_id"`
	Type     string `json:"type"`
	Quantity int    `json:"quantity"`
}

type ConfirmHTTPRequest struct {
	BuyerID  int64  `json:"buyer_id"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

type ReleaseHTTPRequest struct {
	BuyerID int64 `json:"buyer_id"`
}

type ClaimResponse struct {
	Type      string    `json:"type"`
	LotIDs    []int64   `json:"lot_ids"`
	Total     string    `json:"total"`
	ExpiresAt time.Time `json:"expires_at"`
}

type SaleResponse struct {
	ID     string  `json:"id"`
	Type   string  `json:"type"`
	LotIDs []int64 `json:"lot_ids"`
	Total  string  `json:"total"`
}

type ShopHTTPResponse struct {
	Success bool           `json:"success"`
	Outcome string         `json:"outcome,omitempty"`
	Message string         `json:"message"`
	Claim   *ClaimResponse `json:"claim,omitempty"`
	Sale    *SaleResponse  `json:"sale,omitempty"`
}

type StockLineResponse struct {
	Type      string `json:"type"`
	MinPrice  string `json:"min_price"`
	Available int    `json:"available"`
}

type StockResponse struct {
	Stock []StockLineResponse `json:"stock"`
}

func NewHTTPHandler(shop Shop, log zerolog.Logger) *HTTPHandler {
	return &HTTPHandler{shop: shop, log: log}
}

// NewRouter wires the shop API, health check and metrics endpoint. The buyer
// endpoints that change claims require token as a bearer credential.
func NewRouter(h *HTTPHandler, gatherer prometheus.Gatherer, timeout time.Duration, token string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))

	r.Get("/health", h.HealthCheck)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/stock", h.Stock)

		r.Group(func(r chi.Router) {
			r.Use(RequireToken(token))
			r.Post("/reserve", h.Reserve)
			r.Post("/confirm", h.Confirm)
			r.Post("/release", h.Release)
		})
	})

	return r
}

// RequireToken rejects requests without "Authorization: Bearer <token>".
// An empty token closes the wrapped routes.
func RequireToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				writeJSON(w, http.StatusForbidden, ShopHTTPResponse{Message: "endpoint disabled"})
				return
			}
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || !validToken(got, token) {
				writeJSON(w, http.StatusUnauthorized, ShopHTTPResponse{Message: "invalid token"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (h *HTTPHandler) Reserve(w http.ResponseWriter, r *http.Request) {
	var req ReserveHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ShopHTTPResponse{Message: "invalid request body"})
		return
	}

	if req.BuyerID == 0 || req.Type == "" {
		writeJSON(w, http.StatusBadRequest, ShopHTTPResponse{Message: "missing required fields"})
		return
	}

	res, err := h.shop.Reserve(r.Context(), req.BuyerID, req.Type, req.Quantity)
	if err != nil {
		h.writeError(w, "reserve", err)
		return
	}

	switch res.Outcome {
	case service.OutcomeOK:
		writeJSON(w, http.StatusOK, ShopHTTPResponse{
			Success: true,
			Outcome: res.Outcome.String(),
			Message: "lots reserved",
			Claim:   claimResponse(res.Claim),
		})
	default:
		writeJSON(w, http.StatusGone, ShopHTTPResponse{
			Outcome: res.Outcome.String(),
			Message: "not enough lots in stock",
		})
	}
}

func (h *HTTPHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	var req ConfirmHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ShopHTTPResponse{Message: "invalid request body"})
		return
	}
	if req.BuyerID == 0 {
		writeJSON(w, http.StatusBadRequest, ShopHTTPResponse{Message: "missing required fields"})
		return
	}

	res, err := h.shop.Confirm(r.Context(), domain.Requester{ID: req.BuyerID, Username: req.Username, Name: req.Name})
	if err != nil {
		h.writeError(w, "confirm", err)
		return
	}

	switch res.Outcome {
	case service.OutcomeOK:
		writeJSON(w, http.StatusOK, ShopHTTPResponse{
			Success: true,
			Outcome: res.Outcome.String(),
			Message: "purchase completed",
			Sale:    saleResponse(res.Sale),
		})
	case service.OutcomeInsufficientBalance:
		writeJSON(w, http.StatusPaymentRequired, ShopHTTPResponse{
			Outcome: res.Outcome.String(),
			Message: "insufficient balance",
			Claim:   claimResponse(res.Claim),
		})
	default:
		writeJSON(w, http.StatusConflict, ShopHTTPResponse{
			Outcome: res.Outcome.String(),
			Message: "no active reservation",
		})
	}
}

func (h *HTTPHandler) Release(w http.ResponseWriter, r *http.Request) {
	var req ReleaseHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.BuyerID == 0 {
		writeJSON(w, http.StatusBadRequest, ShopHTTPResponse{Message: "invalid request body"})
		return
	}

	if err := h.shop.Release(r.Context(), req.BuyerID); err != nil {
		h.writeError(w, "release", err)
		return
	}
	writeJSON(w, http.StatusOK, ShopHTTPResponse{Success: true, Message: "reservation released"})
}

func (h *HTTPHandler) Stock(w http.ResponseWriter, r *http.Request) {
	lines, err := h.shop.StockView(r.Context())
	if err != nil {
		h.writeError(w, "stock", err)
		return
	}

	resp := StockResponse{Stock: make([]StockLineResponse, len(lines))}
	for i, line := range lines {
		resp.Stock[i] = StockLineResponse{
			Type:      line.Type,
			MinPrice:  line.MinPrice.StringFixed(2),
			Available: line.Available,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidQuantity):
		writeJSON(w, http.StatusBadRequest, ShopHTTPResponse{Message: "quantity must be between 1 and 20"})
	case errors.Is(err, service.ErrStoreUnavailable):
		h.log.Error().Err(err).Str("op", op).Msg("store unavailable")
		writeJSON(w, http.StatusServiceUnavailable, ShopHTTPResponse{Message: "service temporarily unavailable"})
	default:
		h.log.Error().Err(err).Str("op", op).Msg("request failed")
		writeJSON(w, http.StatusInternalServerError, ShopHTTPResponse{Message: "internal error"})
	}
}

func claimResponse(c *domain.Claim) *ClaimResponse {
	if c == nil {
		return nil
	}
	return &ClaimResponse{
		Type:      c.Type,
		LotIDs:    domain.LotIDs(c.Items),
		Total:     domain.TotalPrice(c.Items).StringFixed(2),
		ExpiresAt: c.ExpiresAt,
	}
}

func saleResponse(s *domain.Sale) *SaleResponse {
	if s == nil {
		return nil
	}
	return &SaleResponse{
		ID:     s.ID,
		Type:   s.Type,
		LotIDs: domain.LotIDs(s.Items),
		Total:  s.Total.StringFixed(2),
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
